package brookctl

import (
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/rzbill/brook/internal/reader"
	"github.com/rzbill/brook/internal/runtime"
)

// newReadCommand constructs the `read` subcommand.
func newReadCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "read",
		Short: "Read a range of a brook as JSON lines",
		RunE: func(cmd *cobra.Command, _ []string) error {
			key, err := keyFromFlags(cmd)
			if err != nil {
				return err
			}
			expr, _ := cmd.Flags().GetString("filter")
			filter, err := reader.NewFilter(expr)
			if err != nil {
				return err
			}
			limit, _ := cmd.Flags().GetInt("limit")
			from, to := optionalPosition(cmd, "from"), optionalPosition(cmd, "to")

			return withRuntime(cmd, func(rt *runtime.Runtime) error {
				n := 0
				for pe, err := range rt.ReadRange(cmd.Context(), key, from, to, reader.WithFilter(filter)) {
					if err != nil {
						return err
					}
					if err := writeJSON(cmd, decodedEvent(pe)); err != nil {
						return err
					}
					n++
					if limit > 0 && n >= limit {
						break
					}
				}
				return nil
			})
		},
	}
	addKeyFlags(cmd)
	cmd.Flags().Int64("from", 0, "First position (default 0)")
	cmd.Flags().Int64("to", 0, "Last position, inclusive (default head-1)")
	cmd.Flags().String("filter", "", "CEL filter, e.g. 'event_type == \"order.placed\" && json.total > 10.0'")
	cmd.Flags().Int("limit", 0, "Stop after N events (0 = no limit)")
	return cmd
}

// newHeadCommand constructs the `head` subcommand.
func newHeadCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "head",
		Short: "Print the head position of a brook",
		RunE: func(cmd *cobra.Command, _ []string) error {
			key, err := keyFromFlags(cmd)
			if err != nil {
				return err
			}
			return withRuntime(cmd, func(rt *runtime.Runtime) error {
				head, err := rt.ReadHeadPosition(cmd.Context(), key)
				if err != nil {
					return err
				}
				return writeJSON(cmd, map[string]any{"brook": key.String(), "head": int64(head)})
			})
		},
	}
	addKeyFlags(cmd)
	return cmd
}

// newRecoverCommand constructs the `recover` subcommand.
func newRecoverCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "recover",
		Short: "Resolve an unfinished append and print the resulting head",
		RunE: func(cmd *cobra.Command, _ []string) error {
			key, err := keyFromFlags(cmd)
			if err != nil {
				return err
			}
			return withRuntime(cmd, func(rt *runtime.Runtime) error {
				head, err := rt.Recover(cmd.Context(), key)
				if err != nil {
					return err
				}
				return writeJSON(cmd, map[string]any{"brook": key.String(), "head": int64(head), "recovered": true})
			})
		},
	}
	addKeyFlags(cmd)
	return cmd
}

// newConfigCommand constructs the `config` subcommand.
func newConfigCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as YAML",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(cfg); err != nil {
				return err
			}
			return enc.Close()
		},
	}
}
