// Package refdata holds the reference data catalog and the categorisation
// resolver that walks it.
package refdata

import (
	"errors"
	"fmt"
	"sort"

	"tapline/internal/domain"
)

var ErrMissingReferenceData = errors.New("reference data not found")

// MissingReferenceDataError names the code that could not be found.
type MissingReferenceDataError struct {
	Domain string
	Code   string
}

func (e MissingReferenceDataError) Error() string {
	return fmt.Sprintf("reference data %s/%s not found", e.Domain, e.Code)
}

func (e MissingReferenceDataError) Unwrap() error { return ErrMissingReferenceData }

// Catalog answers lookups over the categorisation graph.
type Catalog interface {
	Get(domain, code string) (domain.ReferenceItem, error)
	// LinksFrom returns the items in target linked from item.
	LinksFrom(item domain.ReferenceItem, target string) ([]domain.ReferenceItem, error)
	// LinksTo returns the items in source that link to item.
	LinksTo(item domain.ReferenceItem, source string) ([]domain.ReferenceItem, error)
}

type itemKey struct {
	domain string
	code   string
}

type edgeKey struct {
	from   itemKey
	domain string
}

// MemoryCatalog is a read-only catalog indexed by domain in both directions.
type MemoryCatalog struct {
	items    map[itemKey]domain.ReferenceItem
	byDomain map[string][]domain.ReferenceItem
	forward  map[edgeKey][]itemKey
	backward map[edgeKey][]itemKey
}

// NewMemoryCatalog indexes items and links. Links whose ends are unknown are
// rejected so a bad seed fails at load time rather than at resolution time.
func NewMemoryCatalog(items []domain.ReferenceItem, links []domain.ReferenceLink) (*MemoryCatalog, error) {
	c := &MemoryCatalog{
		items:    make(map[itemKey]domain.ReferenceItem, len(items)),
		byDomain: make(map[string][]domain.ReferenceItem),
		forward:  make(map[edgeKey][]itemKey),
		backward: make(map[edgeKey][]itemKey),
	}
	for _, it := range items {
		k := itemKey{it.Domain, it.Code}
		if _, dup := c.items[k]; dup {
			return nil, fmt.Errorf("duplicate reference data %s/%s", it.Domain, it.Code)
		}
		c.items[k] = it
		c.byDomain[it.Domain] = append(c.byDomain[it.Domain], it)
	}
	for d := range c.byDomain {
		list := c.byDomain[d]
		sort.SliceStable(list, func(i, j int) bool {
			if list[i].Sequence != list[j].Sequence {
				return list[i].Sequence < list[j].Sequence
			}
			return list[i].Code < list[j].Code
		})
	}
	for _, l := range links {
		from := itemKey{l.FromDomain, l.FromCode}
		to := itemKey{l.ToDomain, l.ToCode}
		if _, ok := c.items[from]; !ok {
			return nil, MissingReferenceDataError{Domain: l.FromDomain, Code: l.FromCode}
		}
		if _, ok := c.items[to]; !ok {
			return nil, MissingReferenceDataError{Domain: l.ToDomain, Code: l.ToCode}
		}
		fk := edgeKey{from: from, domain: l.ToDomain}
		c.forward[fk] = append(c.forward[fk], to)
		bk := edgeKey{from: to, domain: l.FromDomain}
		c.backward[bk] = append(c.backward[bk], from)
	}
	return c, nil
}

func (c *MemoryCatalog) Get(d, code string) (domain.ReferenceItem, error) {
	it, ok := c.items[itemKey{d, code}]
	if !ok {
		return domain.ReferenceItem{}, MissingReferenceDataError{Domain: d, Code: code}
	}
	return it, nil
}

func (c *MemoryCatalog) LinksFrom(item domain.ReferenceItem, target string) ([]domain.ReferenceItem, error) {
	return c.resolve(c.forward[edgeKey{from: itemKey{item.Domain, item.Code}, domain: target}]), nil
}

func (c *MemoryCatalog) LinksTo(item domain.ReferenceItem, source string) ([]domain.ReferenceItem, error) {
	return c.resolve(c.backward[edgeKey{from: itemKey{item.Domain, item.Code}, domain: source}]), nil
}

// Domain lists the items of a domain ordered by sequence.
func (c *MemoryCatalog) Domain(d string) []domain.ReferenceItem {
	return append([]domain.ReferenceItem(nil), c.byDomain[d]...)
}

func (c *MemoryCatalog) resolve(keys []itemKey) []domain.ReferenceItem {
	out := make([]domain.ReferenceItem, 0, len(keys))
	for _, k := range keys {
		if it, ok := c.items[k]; ok && it.Active {
			out = append(out, it)
		}
	}
	return out
}
