package workflow

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed departments.yaml
var defaultCatalogYAML []byte

// ErrUnknownDepartment is returned when a code or ticket prefix does not map
// to a configured department.
var ErrUnknownDepartment = errors.New("unknown department")

// Catalog is a versioned set of department profiles plus the prefix table
// used to derive a department from a ticket number.
type Catalog struct {
	version  string
	profiles map[string]Profile
	prefixes map[string]string // prefix -> department code
	ordered  []string          // prefixes, longest first
}

type catalogFile struct {
	Version     string        `yaml:"version"`
	Departments []ProfileSpec `yaml:"departments"`
}

// DefaultCatalog parses the embedded catalog. It panics on an invalid
// embedded file since that is a build defect.
func DefaultCatalog() *Catalog {
	c, err := ParseCatalog(defaultCatalogYAML)
	if err != nil {
		panic(fmt.Sprintf("embedded departments.yaml: %v", err))
	}
	return c
}

// LoadCatalog reads a catalog from path, or returns the embedded default when
// path is empty.
func LoadCatalog(path string) (*Catalog, error) {
	if strings.TrimSpace(path) == "" {
		return ParseCatalog(defaultCatalogYAML)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseCatalog(raw)
}

// ParseCatalog validates raw YAML. Every department must be valid and no two
// departments may share a prefix.
func ParseCatalog(raw []byte) (*Catalog, error) {
	var f catalogFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	if strings.TrimSpace(f.Version) == "" {
		return nil, errors.New("catalog version is required")
	}
	if len(f.Departments) == 0 {
		return nil, errors.New("catalog has no departments")
	}
	c := &Catalog{
		version:  f.Version,
		profiles: make(map[string]Profile, len(f.Departments)),
		prefixes: make(map[string]string),
	}
	for _, spec := range f.Departments {
		p, err := NewProfile(spec)
		if err != nil {
			return nil, err
		}
		if _, dup := c.profiles[p.Code()]; dup {
			return nil, fmt.Errorf("duplicate department code %q", p.Code())
		}
		c.profiles[p.Code()] = p
		for _, pfx := range p.Prefixes() {
			if owner, dup := c.prefixes[pfx]; dup {
				return nil, fmt.Errorf("prefix %q used by %q and %q", pfx, owner, p.Code())
			}
			c.prefixes[pfx] = p.Code()
			c.ordered = append(c.ordered, pfx)
		}
	}
	sort.Slice(c.ordered, func(i, j int) bool {
		if len(c.ordered[i]) != len(c.ordered[j]) {
			return len(c.ordered[i]) > len(c.ordered[j])
		}
		return c.ordered[i] < c.ordered[j]
	})
	return c, nil
}

// Version identifies the catalog revision.
func (c *Catalog) Version() string { return c.version }

// Profile returns the profile for a department code.
func (c *Catalog) Profile(code string) (Profile, error) {
	p, ok := c.profiles[strings.ToUpper(strings.TrimSpace(code))]
	if !ok {
		return Profile{}, fmt.Errorf("%w: %q", ErrUnknownDepartment, code)
	}
	return p, nil
}

// Profiles lists all profiles sorted by code.
func (c *Catalog) Profiles() []Profile {
	out := make([]Profile, 0, len(c.profiles))
	for _, p := range c.profiles {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code() < out[j].Code() })
	return out
}

// DeriveDepartment resolves the department that owns a ticket number using
// a longest-prefix match. Pass-series numbers are resolved on their inner
// number.
func (c *Catalog) DeriveDepartment(ticketNo string) (string, error) {
	s := strings.ToUpper(strings.TrimSpace(ticketNo))
	s = strings.TrimPrefix(s, PassPrefix+"-")
	for _, pfx := range c.ordered {
		if strings.HasPrefix(s, pfx+"-") {
			return c.prefixes[pfx], nil
		}
	}
	return "", fmt.Errorf("%w: no prefix matches %q", ErrUnknownDepartment, ticketNo)
}

// ProfileForTicket combines DeriveDepartment and Profile.
func (c *Catalog) ProfileForTicket(ticketNo string) (Profile, error) {
	code, err := c.DeriveDepartment(ticketNo)
	if err != nil {
		return Profile{}, err
	}
	return c.Profile(code)
}

// ResolvePrefix returns the ticket prefix for a new ticket of department code
// with the given classification.
func (c *Catalog) ResolvePrefix(code, classification string) (string, error) {
	p, err := c.Profile(code)
	if err != nil {
		return "", err
	}
	return p.Prefix(classification), nil
}
