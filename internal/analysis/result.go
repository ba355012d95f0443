package analysis

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/phrazzld/assay-api/internal/domain"
)

// ParseJSONResult turns raw model output into a Result. Models sometimes wrap
// JSON in a markdown fence even in JSON mode, so a single fence is stripped.
func ParseJSONResult(text string) (domain.Result, error) {
	s := strings.TrimSpace(text)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
		s = strings.TrimSpace(s)
	}
	if s == "" {
		return nil, fmt.Errorf("%w: empty response", ErrInvalidResponse)
	}

	var probe map[string]any
	if err := json.Unmarshal([]byte(s), &probe); err != nil {
		return nil, fmt.Errorf("%w: response is not a JSON object: %v", ErrInvalidResponse, err)
	}
	return domain.Result(s), nil
}
