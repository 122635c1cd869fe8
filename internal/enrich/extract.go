package enrich

import (
	"strconv"
	"strings"

	"github.com/goccy/go-json"
)

// extractNumber reads a numeric value out of the shapes providers use:
// plain numbers, numeric strings ("4.3", "4,3"), or objects like
// {"average": 4.3, "count": 120}.
func extractNumber(val any) (float64, bool) {
	switch v := val.(type) {
	case nil:
		return 0, false
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case string:
		s := strings.Replace(strings.TrimSpace(v), ",", ".", 1)
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f, true
		}
		return 0, false
	case map[string]any:
		for _, key := range []string{"average", "avg", "value", "score", "total"} {
			if inner, ok := v[key]; ok && inner != nil {
				return extractNumber(inner)
			}
		}
	}
	return 0, false
}

// extractCount reads a non-negative count.
func extractCount(val any) (int, bool) {
	f, ok := extractNumber(val)
	if !ok || f < 0 {
		return 0, false
	}
	return int(f), true
}
