package scan

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"warden/internal/domain"
)

func TestDeriveGradeJSON(t *testing.T) {
	cases := []struct {
		name string
		doc  string
		want domain.Grade
	}{
		{"score bucket A", `{"score":92}`, domain.GradeA},
		{"score bucket boundary B", `{"score":80}`, domain.GradeB},
		{"score bucket C", `{"security_score":75.5}`, domain.GradeC},
		{"score bucket D", `{"score_adjusted":60}`, domain.GradeD},
		{"score bucket F", `{"score":12}`, domain.GradeF},
		{"letter with modifier", `{"grade":"b+"}`, domain.GradeB},
		{"letter with noise", `{"overall_grade":"F!!"}`, domain.GradeF},
		{"letter wins over score", `{"grade":"C","score":99}`, domain.GradeC},
		{"nested letter", `{"scan":{"result":{"grade":"A-"}}}`, domain.GradeA},
		{"letter inside array", `{"tests":[{"name":"csp"},{"grade":"D"}]}`, domain.GradeD},
		{"invalid letter falls back to score", `{"grade":"E","score":85}`, domain.GradeB},
		{"null grade ignored", `{"grade":null,"score":91}`, domain.GradeA},
		{"string score ignored", `{"score":"95"}`, domain.GradeUnknown},
		{"empty", `{}`, domain.GradeUnknown},
		{"not an object", `"A"`, domain.GradeUnknown},
		{"invalid json", `{"grade":`, domain.GradeUnknown},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, DeriveGradeJSON([]byte(tc.doc)))
		})
	}
}

func TestDeriveGradeIsDeterministic(t *testing.T) {
	doc := []byte(`{"zeta":{"grade":"F"},"alpha":{"grade":"A"},"mid":{"score":70}}`)

	first := DeriveGradeJSON(doc)
	for i := 0; i < 50; i++ {
		assert.Equal(t, first, DeriveGradeJSON(doc))
	}
	assert.Equal(t, domain.GradeA, first, "sorted traversal visits alpha first")
}

func TestExtractScanID(t *testing.T) {
	cases := []struct {
		doc    string
		want   string
		wantOK bool
	}{
		{`{"scan_id":"42"}`, "42", true},
		{`{"scanId":"abc"}`, "abc", true},
		{`{"id":77}`, "77", true},
		{`{"scan":{"job_id":"nested"}}`, "nested", true},
		{`{"uuid":"  u-1  "}`, "u-1", true},
		{`{"id":""}`, "", false},
		{`{"result":"done"}`, "", false},
		{`[1,2]`, "", false},
	}

	for _, tc := range cases {
		doc, err := decodeDocument([]byte(tc.doc))
		assert.NoError(t, err)
		got, ok := extractScanID(doc)
		assert.Equal(t, tc.wantOK, ok, tc.doc)
		assert.Equal(t, tc.want, got, tc.doc)
	}
}

func TestIsComplete(t *testing.T) {
	for raw, want := range map[string]bool{
		`{"state":"FINISHED"}`:          true,
		`{"status":"Finished"}`:         true,
		`{"state":"PENDING"}`:           false,
		`{"state":"RUNNING","score":0}`: true,
		`{"scan":{"state":"finished"}}`: true,
		`{}`:                            false,
	} {
		doc, err := decodeDocument([]byte(raw))
		assert.NoError(t, err)
		assert.Equal(t, want, isComplete(doc), raw)
	}
}
