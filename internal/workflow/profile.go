package workflow

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

var prefixRE = regexp.MustCompile(`^[A-Z][A-Z0-9]*$`)

// ProfileSpec is the configuration shape of a department as it appears in
// the catalog file. Pointers mark fields that must be present.
type ProfileSpec struct {
	Code                   string            `yaml:"code"`
	Name                   string            `yaml:"name"`
	Prefix                 string            `yaml:"prefix"`
	ClassificationPrefixes map[string]string `yaml:"classification_prefixes"`
	HasDeptHead            *bool             `yaml:"has_dept_head"`
	UsesAQL                *bool             `yaml:"uses_aql"`
	HasMeasurement         bool              `yaml:"has_measurement"`
	HasChecklist           bool              `yaml:"has_checklist"`
}

// Profile is a validated department capability profile. The zero value is
// not usable; build profiles with NewProfile.
type Profile struct {
	code           string
	name           string
	prefix         string
	byClass        map[string]string
	hasDeptHead    bool
	usesAQL        bool
	hasMeasurement bool
	hasChecklist   bool
}

// NewProfile validates spec and returns an immutable Profile. Code, name,
// prefix, has_dept_head and uses_aql are required.
func NewProfile(spec ProfileSpec) (Profile, error) {
	var errs []error
	code := strings.ToUpper(strings.TrimSpace(spec.Code))
	if code == "" {
		errs = append(errs, errors.New("code is required"))
	}
	if strings.TrimSpace(spec.Name) == "" {
		errs = append(errs, errors.New("name is required"))
	}
	prefix := strings.ToUpper(strings.TrimSpace(spec.Prefix))
	if !prefixRE.MatchString(prefix) {
		errs = append(errs, fmt.Errorf("prefix %q must be upper-case alphanumeric", spec.Prefix))
	}
	if prefix == PassPrefix {
		errs = append(errs, fmt.Errorf("prefix %q is reserved", PassPrefix))
	}
	if spec.HasDeptHead == nil {
		errs = append(errs, errors.New("has_dept_head is required"))
	}
	if spec.UsesAQL == nil {
		errs = append(errs, errors.New("uses_aql is required"))
	}
	byClass := make(map[string]string, len(spec.ClassificationPrefixes))
	for cls, p := range spec.ClassificationPrefixes {
		p = strings.ToUpper(strings.TrimSpace(p))
		if !prefixRE.MatchString(p) || p == PassPrefix {
			errs = append(errs, fmt.Errorf("classification %q: invalid prefix %q", cls, p))
			continue
		}
		byClass[normClass(cls)] = p
	}
	if len(errs) > 0 {
		return Profile{}, fmt.Errorf("department %q: %w", code, errors.Join(errs...))
	}
	return Profile{
		code:           code,
		name:           strings.TrimSpace(spec.Name),
		prefix:         prefix,
		byClass:        byClass,
		hasDeptHead:    *spec.HasDeptHead,
		usesAQL:        *spec.UsesAQL,
		hasMeasurement: spec.HasMeasurement,
		hasChecklist:   spec.HasChecklist,
	}, nil
}

func (p Profile) Code() string         { return p.code }
func (p Profile) Name() string         { return p.name }
func (p Profile) HasDeptHead() bool    { return p.hasDeptHead }
func (p Profile) UsesAQL() bool        { return p.usesAQL }
func (p Profile) HasMeasurement() bool { return p.hasMeasurement }
func (p Profile) HasChecklist() bool   { return p.hasChecklist }

// Prefix resolves the ticket prefix for a classification chosen at creation.
// Unknown or empty classifications use the department default.
func (p Profile) Prefix(classification string) string {
	if pfx, ok := p.byClass[normClass(classification)]; ok {
		return pfx
	}
	return p.prefix
}

// Prefixes returns every prefix owned by the department, sorted.
func (p Profile) Prefixes() []string {
	seen := map[string]struct{}{p.prefix: {}}
	for _, v := range p.byClass {
		seen[v] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// MarshalJSON exposes the profile to API clients.
func (p Profile) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Code           string   `json:"code"`
		Name           string   `json:"name"`
		Prefixes       []string `json:"prefixes"`
		HasDeptHead    bool     `json:"has_dept_head"`
		UsesAQL        bool     `json:"uses_aql"`
		HasMeasurement bool     `json:"has_measurement"`
		HasChecklist   bool     `json:"has_checklist"`
	}{p.code, p.name, p.Prefixes(), p.hasDeptHead, p.usesAQL, p.hasMeasurement, p.hasChecklist})
}

func normClass(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
