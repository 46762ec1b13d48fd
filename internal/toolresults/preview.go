package toolresults

import (
	"fmt"
	"strings"
)

const defaultPreviewLength = 500

// TruncatedPreview renders a bounded preview of a tool result for envelope
// metadata. String content is cut on line boundaries with a trailing count of
// the lines dropped; structured results fall back to truncated JSON.
func TruncatedPreview(result map[string]any, maxLength int) string {
	if maxLength <= 0 {
		maxLength = defaultPreviewLength
	}

	if rtype, _ := result["type"].(string); rtype == "tool_error" {
		errText, _ := result["error"].(string)
		if errText == "" {
			errText = "Unknown error"
		}
		return "Error: " + errText
	}

	if content, ok := result["content"].(string); ok {
		if len(content) <= maxLength {
			return content
		}
		lines := strings.Split(content, "\n")
		var kept []string
		length := 0
		for _, line := range lines {
			if length+len(line)+1 > maxLength && len(kept) > 0 {
				break
			}
			kept = append(kept, line)
			length += len(line) + 1
		}
		if len(kept) > 0 {
			preview := strings.Join(kept, "\n")
			if len(lines) > len(kept) {
				preview += fmt.Sprintf("\n... (%d more lines)", len(lines)-len(kept))
			}
			return preview
		}
		return content[:maxLength] + "... (truncated)"
	}

	encoded, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		s := fmt.Sprint(result)
		if len(s) > maxLength {
			return s[:maxLength]
		}
		return s
	}
	if len(encoded) > maxLength {
		return string(encoded[:maxLength]) + "... (truncated)"
	}
	return string(encoded)
}
