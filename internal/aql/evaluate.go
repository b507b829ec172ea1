package aql

// Verdict is the outcome of a lot evaluation.
type Verdict string

const (
	Pass         Verdict = "Pass"
	Fail         Verdict = "Fail"
	NotAvailable Verdict = "N/A"
)

// Limits are the maximum accepted defect counts per category.
type Limits struct {
	AcMajor int `json:"ac_major"`
	AcMinor int `json:"ac_minor"`
}

// Details describes which limits were applied to reach a verdict.
type Details struct {
	Code       string `json:"code,omitempty"`
	SampleSize int    `json:"sample_size,omitempty"`
	AcMajor    int    `json:"ac_major"`
	AcMinor    int    `json:"ac_minor"`
	Major      int    `json:"total_major"`
	Minor      int    `json:"total_minor"`
	Custom     bool   `json:"custom"`
}

// Evaluate decides whether a lot passes. Custom limits, when non-nil, take
// precedence over the standard table. Counts equal to the limit pass.
// When no standard matches and no custom limits are given the verdict is
// NotAvailable.
func Evaluate(lotSize, totalMajor, totalMinor int, custom *Limits) (Verdict, Details) {
	d := Details{Major: totalMajor, Minor: totalMinor}

	var lim Limits
	switch {
	case custom != nil:
		lim = *custom
		d.Custom = true
		if std, ok := Lookup(lotSize); ok {
			d.Code = std.Code
			d.SampleSize = std.SampleSize
		}
	default:
		std, ok := Lookup(lotSize)
		if !ok {
			return NotAvailable, d
		}
		lim = std.Limits()
		d.Code = std.Code
		d.SampleSize = std.SampleSize
	}

	d.AcMajor = lim.AcMajor
	d.AcMinor = lim.AcMinor
	if totalMajor <= lim.AcMajor && totalMinor <= lim.AcMinor {
		return Pass, d
	}
	return Fail, d
}
