package refdata

import (
	_ "embed"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"tapline/internal/domain"
)

//go:embed seed.yml
var defaultSeed []byte

type seedItem struct {
	Code        string `yaml:"code"`
	Description string `yaml:"description"`
	Next        string `yaml:"next"`
	Active      *bool  `yaml:"active"`
}

type seedLink struct {
	From string   `yaml:"from"`
	To   []string `yaml:"to"`
}

type seedFile struct {
	Domains map[string][]seedItem `yaml:"domains"`
	Links   []seedLink            `yaml:"links"`
}

// Seed is a parsed reference data file.
type Seed struct {
	Items []domain.ReferenceItem
	Links []domain.ReferenceLink
}

// DefaultSeed returns the bundled reference data.
func DefaultSeed() (Seed, error) {
	return ParseSeed(defaultSeed)
}

// ParseSeed reads a YAML reference data file. Links are written as
// DOMAIN/CODE pairs.
func ParseSeed(data []byte) (Seed, error) {
	var f seedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return Seed{}, fmt.Errorf("invalid reference data yaml: %w", err)
	}
	var s Seed
	for d, items := range f.Domains {
		for i, it := range items {
			if it.Code == "" {
				return Seed{}, fmt.Errorf("reference data domain %s has an item without a code", d)
			}
			active := true
			if it.Active != nil {
				active = *it.Active
			}
			s.Items = append(s.Items, domain.ReferenceItem{
				Domain:      d,
				Code:        it.Code,
				Description: it.Description,
				NextDomain:  it.Next,
				Active:      active,
				Sequence:    i + 1,
			})
		}
	}
	for _, l := range f.Links {
		fromDomain, fromCode, err := splitRef(l.From)
		if err != nil {
			return Seed{}, err
		}
		for _, to := range l.To {
			toDomain, toCode, err := splitRef(to)
			if err != nil {
				return Seed{}, err
			}
			s.Links = append(s.Links, domain.ReferenceLink{
				FromDomain: fromDomain,
				FromCode:   fromCode,
				ToDomain:   toDomain,
				ToCode:     toCode,
			})
		}
	}
	return s, nil
}

// Catalog builds an in-memory catalog from the seed.
func (s Seed) Catalog() (*MemoryCatalog, error) {
	return NewMemoryCatalog(s.Items, s.Links)
}

func splitRef(ref string) (string, string, error) {
	d, code, ok := strings.Cut(ref, "/")
	if !ok || d == "" || code == "" {
		return "", "", fmt.Errorf("invalid reference %q; expected DOMAIN/CODE", ref)
	}
	return d, code, nil
}
