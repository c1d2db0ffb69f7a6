package submission

import (
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// RenderText formats a status view for terminals.
func RenderText(v *StatusView) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Submission: %s\n", v.SubmissionID)
	fmt.Fprintf(&b, "Language:   %s\n", v.Language)
	fmt.Fprintf(&b, "Status:     %s\n", v.Status)
	fmt.Fprintf(&b, "Created:    %s\n", v.CreatedAt.Format("2006-01-02 15:04:05"))
	if v.CompletedAt != nil {
		fmt.Fprintf(&b, "Completed:  %s\n", v.CompletedAt.Format("2006-01-02 15:04:05"))
	}
	if v.Output != nil {
		b.WriteString("\n--- output ---\n")
		b.WriteString(*v.Output)
		if !strings.HasSuffix(*v.Output, "\n") {
			b.WriteString("\n")
		}
	}
	return b.String()
}

// RenderJSON renders a status view as formatted JSON.
func RenderJSON(v *StatusView) ([]byte, error) {
	return json.MarshalIndent(v, "", "  ")
}

func RenderYAML(v *StatusView) ([]byte, error) {
	return yaml.Marshal(v)
}

// Render dispatches on format: text, json or yaml.
func Render(v *StatusView, format string) ([]byte, error) {
	switch format {
	case "", "text":
		return []byte(RenderText(v)), nil
	case "json":
		out, err := RenderJSON(v)
		if err != nil {
			return nil, err
		}
		return append(out, '\n'), nil
	case "yaml":
		return RenderYAML(v)
	default:
		return nil, fmt.Errorf("unknown output format %q", format)
	}
}
