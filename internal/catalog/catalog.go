package catalog

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Family is a two-letter code prefix with its inclusive range of valid set numbers.
type Family struct {
	Prefix string `yaml:"prefix"`
	Min    int    `yaml:"min"`
	Max    int    `yaml:"max"`
}

// Entry maps a free-text product name to its canonical code.
type Entry struct {
	Name string `yaml:"name"`
	Code string `yaml:"code"`
}

// Catalog is the set of trackable families plus the curated name dictionary.
type Catalog struct {
	Families   []Family `yaml:"families"`
	Dictionary []Entry  `yaml:"dictionary"`
}

// Default returns the built-in catalog.
func Default() *Catalog {
	return &Catalog{
		Families: []Family{
			{Prefix: "OP", Min: 1, Max: 13},
			{Prefix: "ST", Min: 1, Max: 28},
			{Prefix: "EB", Min: 1, Max: 2},
		},
		Dictionary: []Entry{
			{Name: "romance dawn", Code: "OP-01"},
			{Name: "paramount war", Code: "OP-02"},
			{Name: "pillars of strength", Code: "OP-03"},
			{Name: "kingdoms of intrigue", Code: "OP-04"},
			{Name: "awakening of the new era", Code: "OP-05"},
			{Name: "wings of the captain", Code: "OP-06"},
			{Name: "500 years in the future", Code: "OP-07"},
			{Name: "two legends", Code: "OP-08"},
			{Name: "emperors in the new world", Code: "OP-09"},
			{Name: "royal blood", Code: "OP-10"},
			{Name: "a fist of divine speed", Code: "OP-11"},
			{Name: "legacy of the master", Code: "OP-12"},
			{Name: "carrying on his will", Code: "OP-13"},
			{Name: "memorial collection", Code: "EB-01"},
			{Name: "anime 25th collection", Code: "EB-02"},
		},
	}
}

// Load reads a YAML catalog override. An empty path returns the default catalog.
func Load(path string) (*Catalog, error) {
	if strings.TrimSpace(path) == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: %w", err)
	}
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("catalog: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks family ranges and that every dictionary code is in range.
func (c *Catalog) Validate() error {
	if len(c.Families) == 0 {
		return fmt.Errorf("catalog: at least one family is required")
	}
	seen := make(map[string]bool, len(c.Families))
	for i, f := range c.Families {
		if len(f.Prefix) != 2 {
			return fmt.Errorf("catalog: families[%d] prefix %q must be two letters", i, f.Prefix)
		}
		p := strings.ToUpper(f.Prefix)
		if seen[p] {
			return fmt.Errorf("catalog: families[%d] duplicate prefix %q", i, p)
		}
		seen[p] = true
		if f.Min < 0 || f.Max > 99 || f.Min > f.Max {
			return fmt.Errorf("catalog: families[%d] (%s) invalid range %d..%d", i, p, f.Min, f.Max)
		}
		c.Families[i].Prefix = p
	}
	for i, e := range c.Dictionary {
		if strings.TrimSpace(e.Name) == "" {
			return fmt.Errorf("catalog: dictionary[%d] missing name", i)
		}
		code, ok := c.Canonical(e.Code)
		if !ok {
			return fmt.Errorf("catalog: dictionary[%d] (%s) code %q is not a valid code", i, e.Name, e.Code)
		}
		c.Dictionary[i].Code = code
	}
	return nil
}

// InRange reports whether number is a valid set number for the family prefix.
func (c *Catalog) InRange(prefix string, number int) bool {
	prefix = strings.ToUpper(prefix)
	for _, f := range c.Families {
		if f.Prefix == prefix {
			return number >= f.Min && number <= f.Max
		}
	}
	return false
}

// Format renders a canonical code such as "OP-01".
func Format(prefix string, number int) string {
	return fmt.Sprintf("%s-%02d", strings.ToUpper(prefix), number)
}

// Canonical parses "op01", "OP-1", "op_01" etc. and returns the canonical
// form when the pair is in range.
func (c *Catalog) Canonical(code string) (string, bool) {
	s := strings.ToUpper(strings.TrimSpace(code))
	if len(s) < 3 {
		return "", false
	}
	prefix := s[:2]
	rest := strings.TrimLeft(s[2:], "-_ ")
	if len(rest) == 0 || len(rest) > 2 {
		return "", false
	}
	n := 0
	for _, r := range rest {
		if r < '0' || r > '9' {
			return "", false
		}
		n = n*10 + int(r-'0')
	}
	if !c.InRange(prefix, n) {
		return "", false
	}
	return Format(prefix, n), true
}

// Prefixes returns the family prefixes, sorted.
func (c *Catalog) Prefixes() []string {
	out := make([]string, 0, len(c.Families))
	for _, f := range c.Families {
		out = append(out, strings.ToUpper(f.Prefix))
	}
	sort.Strings(out)
	return out
}
