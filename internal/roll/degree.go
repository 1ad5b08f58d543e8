package roll

// Degree is the five-valued outcome of a check against a target number.
type Degree string

// Degrees of success.
const (
	DegreeUnknown         Degree = "unknown"
	DegreeCriticalFailure Degree = "criticalFailure"
	DegreeFailure         Degree = "failure"
	DegreeSuccess         Degree = "success"
	DegreeCriticalSuccess Degree = "criticalSuccess"
)

// degreeTable is indexed by 1 + the ruleset's raw value (-1 through 3).
var degreeTable = [...]Degree{
	DegreeUnknown,
	DegreeCriticalFailure,
	DegreeFailure,
	DegreeSuccess,
	DegreeCriticalSuccess,
}

// DegreeFromRaw maps a raw enumerated value to a Degree. Values outside
// -1..3 are not clamped: ok is false and the caller decides.
func DegreeFromRaw(raw int) (Degree, bool) {
	idx := raw + 1
	if idx < 0 || idx >= len(degreeTable) {
		return "", false
	}
	return degreeTable[idx], true
}

// ParseDegree parses a stored degree name.
func ParseDegree(s string) (Degree, bool) {
	d := Degree(s)
	return d, d.Valid()
}

// Valid reports whether d is one of the five known degrees.
func (d Degree) Valid() bool {
	for _, known := range degreeTable {
		if d == known {
			return true
		}
	}
	return false
}

// Degrees returns the degrees in presentation order, worst first.
func Degrees() []Degree {
	return []Degree{
		DegreeCriticalFailure,
		DegreeFailure,
		DegreeSuccess,
		DegreeCriticalSuccess,
		DegreeUnknown,
	}
}
