package journal

import (
	"fmt"
	"strings"
)

// inQuery expands format (which must contain one %s for the placeholder list)
// into a query with one ? per index, and returns the full argument list with
// dialogID first.
func inQuery(format, dialogID string, indices []int) (string, []any) {
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(indices)), ",")
	args := make([]any, 0, len(indices)+1)
	args = append(args, dialogID)
	for _, idx := range indices {
		args = append(args, idx)
	}
	return fmt.Sprintf(format, placeholders), args
}
