package provider

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ExtractJSON pulls a JSON object out of free-form model output. Models wrap
// JSON in prose or markdown fences often enough that strict parsing alone
// loses usable responses.
func ExtractJSON(text string, out any) error {
	text = strings.TrimSpace(text)

	if err := json.Unmarshal([]byte(text), out); err == nil {
		return nil
	}

	// Try a ```json fenced block
	if idx := strings.Index(text, "```json"); idx >= 0 {
		start := idx + 7
		end := strings.Index(text[start:], "```")
		if end > 0 {
			candidate := strings.TrimSpace(text[start : start+end])
			if err := json.Unmarshal([]byte(candidate), out); err == nil {
				return nil
			}
		}
	}

	// Try the first balanced JSON object
	if idx := strings.Index(text, "{"); idx >= 0 {
		rest := text[idx:]
		depth := 0
		for i, ch := range rest {
			switch ch {
			case '{':
				depth++
			case '}':
				depth--
				if depth == 0 {
					if err := json.Unmarshal([]byte(rest[:i+1]), out); err == nil {
						return nil
					}
				}
			}
		}
	}

	return fmt.Errorf("no valid JSON object found in model output")
}
