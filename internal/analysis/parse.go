package analysis

import (
	"encoding/json"
	"strings"
)

// decodeJSON unmarshals a model reply into v, tolerating markdown code
// fences around the JSON object.
func decodeJSON(reply string, v any) error {
	s := strings.TrimSpace(reply)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if idx := strings.LastIndex(s, "```"); idx >= 0 {
			s = s[:idx]
		}
		s = strings.TrimSpace(s)
	}
	return json.Unmarshal([]byte(s), v)
}
