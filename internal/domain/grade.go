package domain

type Grade string

const (
	GradeA       Grade = "A"
	GradeB       Grade = "B"
	GradeC       Grade = "C"
	GradeD       Grade = "D"
	GradeF       Grade = "F"
	GradeUnknown Grade = "Unknown"
)

// ParseGradeLetter maps the first character of s to a grade, case-insensitively.
func ParseGradeLetter(s string) (Grade, bool) {
	if s == "" {
		return GradeUnknown, false
	}
	switch s[0] {
	case 'A', 'a':
		return GradeA, true
	case 'B', 'b':
		return GradeB, true
	case 'C', 'c':
		return GradeC, true
	case 'D', 'd':
		return GradeD, true
	case 'F', 'f':
		return GradeF, true
	}
	return GradeUnknown, false
}

// GradeFromScore buckets a numeric score on a 0-100 scale.
func GradeFromScore(score float64) Grade {
	switch {
	case score >= 90:
		return GradeA
	case score >= 80:
		return GradeB
	case score >= 70:
		return GradeC
	case score >= 60:
		return GradeD
	default:
		return GradeF
	}
}

// Rank orders grades for display. Unknown has rank 0 and is not comparable.
func (g Grade) Rank() int {
	switch g {
	case GradeA:
		return 5
	case GradeB:
		return 4
	case GradeC:
		return 3
	case GradeD:
		return 2
	case GradeF:
		return 1
	}
	return 0
}

// Better reports whether g ranks above other. Always false when either is Unknown.
func (g Grade) Better(other Grade) bool {
	if g.Rank() == 0 || other.Rank() == 0 {
		return false
	}
	return g.Rank() > other.Rank()
}
