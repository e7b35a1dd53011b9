package refdata

import (
	"errors"
	"fmt"

	"tapline/internal/domain"
)

var (
	ErrAmbiguousCategorisation = errors.New("ambiguous categorisation")
	ErrInvalidCategorisation   = errors.New("invalid categorisation")
)

// AmbiguousCategorisationError is returned when more than one item is linked
// from Previous into the next level and no explicit code was given.
type AmbiguousCategorisationError struct {
	Previous domain.ReferenceItem
	Domain   string
	Count    int
}

func (e AmbiguousCategorisationError) Error() string {
	return fmt.Sprintf("%s/%s links to %d %s items; an explicit code is required",
		e.Previous.Domain, e.Previous.Code, e.Count, e.Domain)
}

func (e AmbiguousCategorisationError) Unwrap() error { return ErrAmbiguousCategorisation }

type Resolver struct {
	Catalog Catalog
}

// Resolve walks down from (startDomain, code), auto-selecting each level that
// has exactly one linked item. The walk stops at the first level with no
// links and fails on a level with several.
func (r Resolver) Resolve(startDomain, code string) (domain.ReasonPath, error) {
	item, err := r.Catalog.Get(startDomain, code)
	if err != nil {
		return nil, err
	}
	return r.descend(item, domain.Categorisation{})
}

func (r Resolver) descend(item domain.ReferenceItem, explicit domain.Categorisation) (domain.ReasonPath, error) {
	path := domain.ReasonPath{{Domain: item.Domain, Code: item.Code}}
	for item.NextDomain != "" {
		links, err := r.Catalog.LinksFrom(item, item.NextDomain)
		if err != nil {
			return nil, err
		}
		var next domain.ReferenceItem
		if code := explicit.Level(item.NextDomain); code != "" {
			found := false
			for _, l := range links {
				if l.Code == code {
					next, found = l, true
					break
				}
			}
			if !found {
				return nil, fmt.Errorf("%w: %s/%s is not linked from %s/%s",
					ErrInvalidCategorisation, item.NextDomain, code, item.Domain, item.Code)
			}
		} else {
			switch len(links) {
			case 0:
				return path, nil
			case 1:
				next = links[0]
			default:
				return nil, AmbiguousCategorisationError{Previous: item, Domain: item.NextDomain, Count: len(links)}
			}
		}
		path = append(path, domain.ReasonPathItem{Domain: next.Domain, Code: next.Code})
		item = next
	}
	return path, nil
}

// Categorise fills in the levels of c that the catalog determines and
// returns the path of levels that are meaningful for it.
//
// With an absence type the hierarchy is walked downwards, honouring any
// explicit codes. Without one it is walked upwards from the reason and a
// missing level is only inferred when exactly one parent exists.
func (r Resolver) Categorise(c domain.Categorisation) (domain.Categorisation, domain.ReasonPath, error) {
	if c.AbsenceReason == "" {
		return c, nil, fmt.Errorf("%w: absence reason is required", ErrInvalidCategorisation)
	}
	reason, err := r.Catalog.Get(domain.DomainAbsenceReason, c.AbsenceReason)
	if err != nil {
		return c, nil, err
	}
	var path domain.ReasonPath
	if c.AbsenceType != "" {
		start, err := r.Catalog.Get(domain.DomainAbsenceType, c.AbsenceType)
		if err != nil {
			return c, nil, err
		}
		path, err = r.descend(start, c)
		if err != nil {
			return c, nil, err
		}
		if !path.Has(domain.DomainAbsenceReason) {
			path = append(path, domain.ReasonPathItem{Domain: reason.Domain, Code: reason.Code})
		}
	} else {
		path, err = r.ascend(reason, c)
		if err != nil {
			return c, nil, err
		}
	}
	for _, item := range path {
		c = c.WithLevel(item.Domain, item.Code)
	}
	return c, path, nil
}

func (r Resolver) ascend(leaf domain.ReferenceItem, explicit domain.Categorisation) (domain.ReasonPath, error) {
	path := domain.ReasonPath{{Domain: leaf.Domain, Code: leaf.Code}}
	current := leaf
	levels := domain.CategorisationLevels
	for i := len(levels) - 2; i >= 0; i-- {
		level := levels[i]
		if code := explicit.Level(level); code != "" {
			item, err := r.Catalog.Get(level, code)
			if err != nil {
				return nil, err
			}
			if err := r.requirePath(item, current); err != nil {
				return nil, err
			}
			path = append(domain.ReasonPath{{Domain: item.Domain, Code: item.Code}}, path...)
			current = item
			continue
		}
		parents, err := r.Catalog.LinksTo(current, level)
		if err != nil {
			return nil, err
		}
		if len(parents) != 1 {
			continue
		}
		path = append(domain.ReasonPath{{Domain: parents[0].Domain, Code: parents[0].Code}}, path...)
		current = parents[0]
	}
	return path, nil
}

// requirePath checks that child sits somewhere below parent. A hierarchy
// that never reaches the domain of child places no constraint on it.
func (r Resolver) requirePath(parent, child domain.ReferenceItem) error {
	if parent.NextDomain == child.Domain {
		return r.requireLink(parent, child)
	}
	found, constrained, err := r.below(parent, child)
	if err != nil {
		return err
	}
	if constrained && !found {
		return fmt.Errorf("%w: %s/%s is not below %s/%s",
			ErrInvalidCategorisation, child.Domain, child.Code, parent.Domain, parent.Code)
	}
	return nil
}

func (r Resolver) below(parent, child domain.ReferenceItem) (found, constrained bool, err error) {
	if parent.NextDomain == "" {
		return false, false, nil
	}
	links, err := r.Catalog.LinksFrom(parent, parent.NextDomain)
	if err != nil {
		return false, false, err
	}
	for _, l := range links {
		if l.Domain == child.Domain {
			if l.Code == child.Code {
				return true, true, nil
			}
			constrained = true
			continue
		}
		f, c, err := r.below(l, child)
		if err != nil || f {
			return f, true, err
		}
		constrained = constrained || c
	}
	return false, constrained, nil
}

func (r Resolver) requireLink(parent, child domain.ReferenceItem) error {
	links, err := r.Catalog.LinksFrom(parent, child.Domain)
	if err != nil {
		return err
	}
	for _, l := range links {
		if l.Code == child.Code {
			return nil
		}
	}
	return fmt.Errorf("%w: %s/%s is not linked from %s/%s",
		ErrInvalidCategorisation, child.Domain, child.Code, parent.Domain, parent.Code)
}
