// Package lexicon holds the immutable, versioned keyword tables that drive
// deterministic classification of Bengali complaint text.
//
// A Lexicon maps literal terms to labels in three first-level domains
// (category, urgency, product) and, per category, to a second-level
// subcategory table. Declaration order is significant: when two labels score
// the same, the one declared first wins. Every category declares an "Other"
// subcategory that is used when no subcategory term matches.
//
// A Lexicon is built once at process start (Default, Load or New) and shared
// read-only by pointer. All methods are safe for concurrent use.
package lexicon

import (
	"errors"
	"fmt"
	"slices"

	"github.com/MrWong99/voxdesk/internal/textnorm"
)

// Domain identifies which table a lexicon entry belongs to.
type Domain int

const (
	DomainCategory Domain = iota
	DomainUrgency
	DomainProduct
	DomainSubcategory
)

// String implements fmt.Stringer.
func (d Domain) String() string {
	switch d {
	case DomainCategory:
		return "category"
	case DomainUrgency:
		return "urgency"
	case DomainProduct:
		return "product"
	case DomainSubcategory:
		return "subcategory"
	default:
		return fmt.Sprintf("Domain(%d)", int(d))
	}
}

// MarshalText implements encoding.TextMarshaler so domains render by name in
// JSON output.
func (d Domain) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

// Category is a registered complaint category id such as "technical".
type Category string

// Priority is a registered priority id such as "urgent".
type Priority string

// Product is a registered product id such as "internet".
type Product string

// Entry is one (domain, label, term, weight) row of a lexicon. Term is the
// text as declared; Match is its normalised form used for substring search.
type Entry struct {
	Domain Domain
	// Label is the category, priority or product id the term votes for. For
	// DomainSubcategory it is the subcategory name.
	Label  string
	Term   string
	Match  string
	Weight int
	// Order is the declaration index of Label within its domain (or within
	// its category for subcategories).
	Order int
}

// Lexicon is an immutable set of keyword tables. The zero value is not usable;
// construct one with New, Default or Load.
type Lexicon struct {
	version string

	categories []CategoryDef
	catIdx     map[Category]int
	priorities []PriorityDef
	prioIdx    map[Priority]int
	urgency    []UrgencyDef
	products   []ProductDef
	prodIdx    map[Product]int

	defaults Defaults

	entries    map[Domain][]Entry
	subEntries map[Category][]Entry
	weights    map[Domain]int
	subWeights map[Category]int
}

// New validates def and compiles it into a Lexicon. All validation problems
// are reported together.
func New(def Definition) (*Lexicon, error) {
	def = def.withDefaults()
	if err := def.Validate(); err != nil {
		return nil, fmt.Errorf("lexicon: %w", err)
	}

	l := &Lexicon{
		version:    def.Version,
		categories: slices.Clone(def.Categories),
		priorities: slices.Clone(def.Priorities),
		urgency:    slices.Clone(def.Urgency),
		products:   slices.Clone(def.Products),
		defaults:   def.Defaults,
		catIdx:     make(map[Category]int, len(def.Categories)),
		prioIdx:    make(map[Priority]int, len(def.Priorities)),
		prodIdx:    make(map[Product]int, len(def.Products)),
		entries:    make(map[Domain][]Entry, 3),
		subEntries: make(map[Category][]Entry, len(def.Categories)),
		weights:    make(map[Domain]int, 3),
		subWeights: make(map[Category]int, len(def.Categories)),
	}

	for i, p := range l.priorities {
		l.prioIdx[p.ID] = i
	}
	for i, c := range l.categories {
		l.catIdx[c.ID] = i
		l.addTerms(DomainCategory, string(c.ID), i, c.Terms)

		for j, sc := range c.Subcategories {
			for _, t := range sc.Terms {
				l.subEntries[c.ID] = append(l.subEntries[c.ID], compile(DomainSubcategory, sc.Name, j, t))
				l.subWeights[c.ID] += t.weight()
			}
		}
	}
	for i, u := range l.urgency {
		l.addTerms(DomainUrgency, string(u.Priority), i, u.Terms)
	}
	for i, p := range l.products {
		l.prodIdx[p.ID] = i
		l.addTerms(DomainProduct, string(p.ID), i, p.Terms)
	}
	return l, nil
}

// MustNew is like New but panics on an invalid definition. It is intended for
// built-in tables only.
func MustNew(def Definition) *Lexicon {
	l, err := New(def)
	if err != nil {
		panic(err)
	}
	return l
}

func (l *Lexicon) addTerms(d Domain, label string, order int, terms []Term) {
	for _, t := range terms {
		l.entries[d] = append(l.entries[d], compile(d, label, order, t))
		l.weights[d] += t.weight()
	}
}

func compile(d Domain, label string, order int, t Term) Entry {
	return Entry{
		Domain: d,
		Label:  label,
		Term:   t.Text,
		Match:  textnorm.Normalize(t.Text),
		Weight: t.weight(),
		Order:  order,
	}
}

// Version returns the lexicon version string.
func (l *Lexicon) Version() string { return l.version }

// Entries returns the compiled entries of a first-level domain in
// declaration order. The returned slice must not be modified.
func (l *Lexicon) Entries(d Domain) []Entry { return l.entries[d] }

// SubcategoryEntries returns the second-level entries of category c in
// declaration order. The returned slice must not be modified.
func (l *Lexicon) SubcategoryEntries(c Category) []Entry { return l.subEntries[c] }

// TotalWeight returns the summed weight of every term registered in domain
// d, across all labels. It is the denominator of keyword confidence. For
// DomainSubcategory use SubcategoryWeight.
func (l *Lexicon) TotalWeight(d Domain) int { return l.weights[d] }

// SubcategoryWeight returns the summed weight of every subcategory term
// registered under category c.
func (l *Lexicon) SubcategoryWeight(c Category) int { return l.subWeights[c] }

// Defaults returns the declared fallback values.
func (l *Lexicon) Defaults() Defaults { return l.defaults }

// ── Categories ───────────────────────────────────────────────────────────────

// Categories returns the category definitions in declaration order.
func (l *Lexicon) Categories() []CategoryDef { return slices.Clone(l.categories) }

// Category returns the definition of id.
func (l *Lexicon) Category(id Category) (CategoryDef, bool) {
	i, ok := l.catIdx[id]
	if !ok {
		return CategoryDef{}, false
	}
	return l.categories[i], true
}

// HasCategory reports whether id is registered.
func (l *Lexicon) HasCategory(id Category) bool {
	_, ok := l.catIdx[id]
	return ok
}

// CategoryOrder returns the declaration index of id, or -1.
func (l *Lexicon) CategoryOrder(id Category) int {
	if i, ok := l.catIdx[id]; ok {
		return i
	}
	return -1
}

// CategoryLabel returns the display label of id, or id itself when unknown.
func (l *Lexicon) CategoryLabel(id Category) string {
	if c, ok := l.Category(id); ok {
		return c.Label
	}
	return string(id)
}

// HasSubcategory reports whether name belongs to the fixed subcategory set of
// category c.
func (l *Lexicon) HasSubcategory(c Category, name string) bool {
	def, ok := l.Category(c)
	if !ok {
		return false
	}
	for _, sc := range def.Subcategories {
		if sc.Name == name {
			return true
		}
	}
	return false
}

// OtherSubcategory returns the declared catch-all subcategory of c.
func (l *Lexicon) OtherSubcategory(c Category) string {
	if def, ok := l.Category(c); ok {
		return def.Other
	}
	return DefaultOther
}

// DefaultPriority returns the registered default priority of c, falling back
// to the lexicon-wide default priority.
func (l *Lexicon) DefaultPriority(c Category) Priority {
	if def, ok := l.Category(c); ok && def.DefaultPriority != "" {
		return def.DefaultPriority
	}
	return l.defaults.Priority
}

// ── Priorities ───────────────────────────────────────────────────────────────

// Priorities returns the priority definitions from least to most severe.
func (l *Lexicon) Priorities() []PriorityDef { return slices.Clone(l.priorities) }

// HasPriority reports whether id is registered.
func (l *Lexicon) HasPriority(id Priority) bool {
	_, ok := l.prioIdx[id]
	return ok
}

// PriorityRank returns the severity rank of id (0 = least severe), or -1 for
// unknown priorities.
func (l *Lexicon) PriorityRank(id Priority) int {
	if i, ok := l.prioIdx[id]; ok {
		return i
	}
	return -1
}

// PriorityLabel returns the display label of id, or id itself when unknown.
func (l *Lexicon) PriorityLabel(id Priority) string {
	if i, ok := l.prioIdx[id]; ok {
		return l.priorities[i].Label
	}
	return string(id)
}

// Urgency returns the urgency tiers in declaration order.
func (l *Lexicon) Urgency() []UrgencyDef { return slices.Clone(l.urgency) }

// ── Products ─────────────────────────────────────────────────────────────────

// Products returns the product definitions in declaration order.
func (l *Lexicon) Products() []ProductDef { return slices.Clone(l.products) }

// HasProduct reports whether id is registered.
func (l *Lexicon) HasProduct(id Product) bool {
	_, ok := l.prodIdx[id]
	return ok
}

// ProductOrder returns the declaration index of id, or -1.
func (l *Lexicon) ProductOrder(id Product) int {
	if i, ok := l.prodIdx[id]; ok {
		return i
	}
	return -1
}

// ProductLabel returns the display label of id, or id itself when unknown.
func (l *Lexicon) ProductLabel(id Product) string {
	if i, ok := l.prodIdx[id]; ok {
		return l.products[i].Label
	}
	return string(id)
}

// errs collects validation errors; kept here so definition.go reads linearly.
type errs []error

func (e *errs) addf(format string, args ...any) {
	*e = append(*e, fmt.Errorf(format, args...))
}

func (e errs) join() error { return errors.Join(e...) }
