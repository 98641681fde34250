package llm

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ExtractJSONArray locates the outermost [ ... ] in model output and
// unmarshals it into out. Models wrap JSON in prose and code fences more
// often than not, so this scans rather than unmarshalling the raw text.
func ExtractJSONArray(text string, out interface{}) error {
	start := strings.Index(text, "[")
	end := strings.LastIndex(text, "]")
	if start < 0 || end <= start {
		return fmt.Errorf("no JSON array found in output")
	}
	return json.Unmarshal([]byte(text[start:end+1]), out)
}

// ExtractJSONObject locates the outermost { ... } in model output and
// unmarshals it into out.
func ExtractJSONObject(text string, out interface{}) error {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return fmt.Errorf("no JSON object found in output")
	}
	return json.Unmarshal([]byte(text[start:end+1]), out)
}

// ExtractIndices parses a JSON array of integers from model output,
// dropping entries outside [0, max). Order is preserved; duplicates are
// removed keeping the first occurrence.
func ExtractIndices(text string, max int) ([]int, error) {
	var raw []int
	if err := ExtractJSONArray(text, &raw); err != nil {
		return nil, err
	}

	seen := make(map[int]bool, len(raw))
	indices := make([]int, 0, len(raw))
	for _, i := range raw {
		if i < 0 || i >= max || seen[i] {
			continue
		}
		seen[i] = true
		indices = append(indices, i)
	}
	return indices, nil
}

// StripCodeFences removes leading/trailing markdown code fences from model
// output.
func StripCodeFences(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		if idx := strings.Index(text, "\n"); idx >= 0 {
			text = text[idx+1:]
		}
	}
	text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	return strings.TrimSpace(text)
}
