package scan

import (
	"encoding/json"
	"sort"

	"warden/internal/domain"
)

var (
	gradeFields = map[string]struct{}{"grade": {}, "overall_grade": {}}
	scoreFields = map[string]struct{}{"score": {}, "security_score": {}, "score_adjusted": {}}
)

// DeriveGrade grades a decoded result document. Letter fields win over
// numeric scores; object keys are visited in sorted order so the same
// document always yields the same grade.
func DeriveGrade(doc any) domain.Grade {
	if letter, ok := findString(doc, gradeFields); ok {
		if grade, valid := domain.ParseGradeLetter(letter); valid {
			return grade
		}
	}
	if score, ok := findNumber(doc, scoreFields); ok {
		return domain.GradeFromScore(score)
	}
	return domain.GradeUnknown
}

// DeriveGradeJSON decodes raw and grades it. Undecodable input is Unknown.
func DeriveGradeJSON(raw []byte) domain.Grade {
	doc, err := decodeDocument(raw)
	if err != nil {
		return domain.GradeUnknown
	}
	return DeriveGrade(doc)
}

// hasGradeField reports whether the document carries anything gradable.
func hasGradeField(doc any) bool {
	if _, ok := findString(doc, gradeFields); ok {
		return true
	}
	_, ok := findNumber(doc, scoreFields)
	return ok
}

func decodeDocument(raw []byte) (any, error) {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func findString(doc any, names map[string]struct{}) (string, bool) {
	switch v := doc.(type) {
	case map[string]any:
		for _, key := range sortedKeys(v) {
			if _, match := names[key]; match {
				if s, ok := v[key].(string); ok && s != "" {
					return s, true
				}
			}
			if s, ok := findString(v[key], names); ok {
				return s, true
			}
		}
	case []any:
		for _, item := range v {
			if s, ok := findString(item, names); ok {
				return s, true
			}
		}
	}
	return "", false
}

func findNumber(doc any, names map[string]struct{}) (float64, bool) {
	switch v := doc.(type) {
	case map[string]any:
		for _, key := range sortedKeys(v) {
			if _, match := names[key]; match {
				if n, ok := asNumber(v[key]); ok {
					return n, true
				}
			}
			if n, ok := findNumber(v[key], names); ok {
				return n, true
			}
		}
	case []any:
		for _, item := range v {
			if n, ok := findNumber(item, names); ok {
				return n, true
			}
		}
	}
	return 0, false
}

func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
