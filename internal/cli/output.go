package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// Output formats accepted by -o
const (
	formatText = "text"
	formatYAML = "yaml"
	formatJSON = "json"
)

// render writes v in format. text is used for the text format.
func render(w io.Writer, format string, v any, text func(io.Writer) error) error {
	switch format {
	case "", formatText:
		return text(w)
	case formatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	case formatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	default:
		return &ExitError{Code: ExitUsage, Err: fmt.Errorf("unknown output format %q (want text, yaml or json)", format)}
	}
}
