package oracle

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

var requiredKeys = []string{
	"condition", "confidence", "causes", "treatment",
	"foods_to_increase", "foods_to_avoid", "habits", "warnings",
}

// ParseDraft decodes a model reply. Markdown fences around the object are
// tolerated; a missing required key is not.
func ParseDraft(content string) (*Draft, error) {
	raw := stripFences(content)
	if raw == "" {
		return nil, fmt.Errorf("%w: empty reply", ErrMalformedResponse)
	}

	var keys map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &keys); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	var missing []string
	for _, k := range requiredKeys {
		if v, ok := keys[k]; !ok || string(v) == "null" {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing keys %s", ErrMalformedResponse, strings.Join(missing, ", "))
	}

	var d Draft
	if err := json.Unmarshal([]byte(raw), &d); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	d.Condition = strings.TrimSpace(d.Condition)
	if d.Condition == "" {
		return nil, fmt.Errorf("%w: empty condition", ErrMalformedResponse)
	}
	if math.IsNaN(d.Confidence) {
		d.Confidence = 0
	}
	d.Confidence = math.Min(math.Max(d.Confidence, 0), 1)
	return &d, nil
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```JSON")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
