package brookctl

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/rzbill/brook/internal/brook"
	"github.com/rzbill/brook/internal/runtime"
)

// newAppendCommand constructs the `append` subcommand.
func newAppendCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "append",
		Short: "Append events to a brook",
		Long:  "Append one event per --data value, or per line of --file, after the current head of the brook.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			key, err := keyFromFlags(cmd)
			if err != nil {
				return err
			}
			payloads, _ := cmd.Flags().GetStringArray("data")
			file, _ := cmd.Flags().GetString("file")
			if file != "" {
				lines, err := readLines(file)
				if err != nil {
					return err
				}
				payloads = append(payloads, lines...)
			}
			if len(payloads) == 0 {
				return fmt.Errorf("nothing to append; use --data or --file")
			}
			source, _ := cmd.Flags().GetString("source")
			eventType, _ := cmd.Flags().GetString("event-type")
			if eventType == "" {
				eventType = key.Type
			}
			events := buildEvents(payloads, source, eventType, time.Now().UTC())
			expected := optionalPosition(cmd, "expected")

			return withRuntime(cmd, func(rt *runtime.Runtime) error {
				head, err := rt.AppendEvents(cmd.Context(), key, events, expected)
				if err != nil {
					return err
				}
				return writeJSON(cmd, map[string]any{"brook": key.String(), "appended": len(events), "head": int64(head)})
			})
		},
	}
	addKeyFlags(cmd)
	cmd.Flags().StringArray("data", nil, "Event payload (repeatable)")
	cmd.Flags().String("file", "", "File with one event payload per line")
	cmd.Flags().String("source", "brook-cli", "Event source")
	cmd.Flags().String("event-type", "", "Event type (defaults to the brook type)")
	cmd.Flags().Int64("expected", 0, "Expected head before the append (optimistic concurrency)")
	return cmd
}

func buildEvents(payloads []string, source, eventType string, now time.Time) []brook.Event {
	events := make([]brook.Event, len(payloads))
	for i, p := range payloads {
		ct := "text/plain"
		if json.Valid([]byte(p)) {
			ct = "application/json"
		}
		events[i] = brook.Event{
			ID:              uuid.NewString(),
			Source:          source,
			EventType:       eventType,
			DataContentType: ct,
			Data:            []byte(p),
			Time:            now,
		}
	}
	return events
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var out []string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 16<<20)
	for sc.Scan() {
		if line := sc.Text(); line != "" {
			out = append(out, line)
		}
	}
	return out, sc.Err()
}
