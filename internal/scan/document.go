package scan

import (
	"strconv"
	"strings"
)

var (
	scanIDFields = []string{"scan_id", "scanId", "id", "job_id", "uuid"}
	statusFields = []string{"state", "status"}
)

// extractScanID looks for an identifier at the top level, then inside a
// nested "scan" object.
func extractScanID(doc any) (string, bool) {
	obj, ok := doc.(map[string]any)
	if !ok {
		return "", false
	}
	if id, ok := idFrom(obj); ok {
		return id, true
	}
	if nested, ok := obj["scan"].(map[string]any); ok {
		return idFrom(nested)
	}
	return "", false
}

func idFrom(obj map[string]any) (string, bool) {
	for _, field := range scanIDFields {
		switch v := obj[field].(type) {
		case string:
			if trimmed := strings.TrimSpace(v); trimmed != "" {
				return trimmed, true
			}
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64), true
		}
	}
	return "", false
}

// extractStatus returns the lowercased provider status, if any.
func extractStatus(doc any) string {
	obj, ok := doc.(map[string]any)
	if !ok {
		return ""
	}
	candidates := []map[string]any{obj}
	if nested, ok := obj["scan"].(map[string]any); ok {
		candidates = append(candidates, nested)
	}
	for _, candidate := range candidates {
		for _, field := range statusFields {
			if s, ok := candidate[field].(string); ok && s != "" {
				return strings.ToLower(strings.TrimSpace(s))
			}
		}
	}
	return ""
}

func isComplete(doc any) bool {
	return extractStatus(doc) == "finished" || hasGradeField(doc)
}

func isFailedStatus(status string) bool {
	return status == "failed" || status == "error"
}
