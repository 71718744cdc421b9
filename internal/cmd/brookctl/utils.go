package brookctl

import (
	"encoding/base64"
	"encoding/json"
	"time"
	"unicode/utf8"

	"github.com/spf13/cobra"

	"github.com/rzbill/brook/internal/brook"
)

// keyFromFlags builds the brook key from --type and --id.
func keyFromFlags(cmd *cobra.Command) (brook.Key, error) {
	typ, _ := cmd.Flags().GetString("type")
	id, _ := cmd.Flags().GetString("id")
	return brook.NewKey(typ, id)
}

func addKeyFlags(cmd *cobra.Command) {
	cmd.Flags().String("type", "", "Brook type")
	cmd.Flags().String("id", "", "Brook id")
	_ = cmd.MarkFlagRequired("type")
	_ = cmd.MarkFlagRequired("id")
}

// optionalPosition returns nil when the flag was not set.
func optionalPosition(cmd *cobra.Command, name string) *brook.Position {
	if !cmd.Flags().Changed(name) {
		return nil
	}
	v, _ := cmd.Flags().GetInt64(name)
	p := brook.Position(v)
	return &p
}

// decodedEvent renders pe with the payload under one of data_json,
// data_text or data_b64.
func decodedEvent(pe brook.PositionedEvent) map[string]any {
	out := map[string]any{
		"position": int64(pe.Position),
		"id":       pe.Event.ID,
		"source":   pe.Event.Source,
		"type":     pe.Event.EventType,
		"time":     pe.Event.Time.UTC().Format(time.RFC3339Nano),
	}
	if pe.Event.DataContentType != "" {
		out["dataContentType"] = pe.Event.DataContentType
	}
	data := pe.Event.Data
	if len(data) == 0 {
		return out
	}
	if data[0] == '{' || data[0] == '[' {
		var v any
		if json.Unmarshal(data, &v) == nil {
			out["data_json"] = v
			return out
		}
	}
	if utf8.Valid(data) {
		out["data_text"] = string(data)
		return out
	}
	out["data_b64"] = base64.StdEncoding.EncodeToString(data)
	return out
}

func writeJSON(cmd *cobra.Command, v any) error {
	return json.NewEncoder(cmd.OutOrStdout()).Encode(v)
}
