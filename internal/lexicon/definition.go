package lexicon

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultOther is the catch-all subcategory name used when a category does
// not declare its own.
const DefaultOther = "Other"

// Definition is the declarative form of a Lexicon, as written in a lexicon
// YAML file or built in code.
type Definition struct {
	Version  string   `yaml:"version"`
	Defaults Defaults `yaml:"defaults"`

	// Priorities are declared from least to most severe.
	Priorities []PriorityDef `yaml:"priorities"`

	// Categories are declared in tie-break order.
	Categories []CategoryDef `yaml:"categories"`

	// Urgency tiers are declared from most to least severe; when terms of
	// several tiers match, the first declared tier wins.
	Urgency []UrgencyDef `yaml:"urgency"`

	// Products are declared in tie-break order.
	Products []ProductDef `yaml:"products"`
}

// Defaults are the values the resolver falls back to when neither keyword
// evidence nor the AI signal supplies a field.
type Defaults struct {
	Category Category `yaml:"category"`
	Product  Product  `yaml:"product"`
	// Priority is used only for categories without a default priority.
	Priority Priority `yaml:"priority"`
}

// PriorityDef declares one priority level.
type PriorityDef struct {
	ID    Priority `yaml:"id"`
	Label string   `yaml:"label"`
}

// CategoryDef declares one category with its keyword terms and fixed
// subcategory set.
type CategoryDef struct {
	ID              Category         `yaml:"id"`
	Label           string           `yaml:"label"`
	DefaultPriority Priority         `yaml:"default_priority"`
	Terms           []Term           `yaml:"terms"`
	Subcategories   []SubcategoryDef `yaml:"subcategories"`
	// Other names the catch-all subcategory. It is appended to Subcategories
	// when not declared there.
	Other string `yaml:"other"`
}

// SubcategoryDef declares one subcategory and the terms that select it.
type SubcategoryDef struct {
	Name  string `yaml:"name"`
	Terms []Term `yaml:"terms"`
}

// UrgencyDef maps urgency terms to the priority they force.
type UrgencyDef struct {
	Priority Priority `yaml:"priority"`
	Terms    []Term   `yaml:"terms"`
}

// ProductDef declares one product with its keyword terms.
type ProductDef struct {
	ID    Product `yaml:"id"`
	Label string  `yaml:"label"`
	Terms []Term  `yaml:"terms"`
}

// Term is a literal keyword with its vote weight. A zero Weight counts as 1.
//
// In YAML a term is either a plain string or a mapping:
//
//	terms: [ইন্টারনেট, {term: কানেকশন, weight: 2}]
type Term struct {
	Text   string `yaml:"term"`
	Weight int    `yaml:"weight"`
}

// T is shorthand for a weight-1 term.
func T(text string) Term { return Term{Text: text, Weight: 1} }

// W is shorthand for a weighted term.
func W(text string, weight int) Term { return Term{Text: text, Weight: weight} }

func (t Term) weight() int {
	if t.Weight == 0 {
		return 1
	}
	return t.Weight
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (t *Term) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		t.Text = node.Value
		t.Weight = 1
		return nil
	}
	type plain Term
	var p plain
	if err := node.Decode(&p); err != nil {
		return err
	}
	*t = Term(p)
	return nil
}

// withDefaults fills in the Other subcategory of every category. It never
// mutates the receiver's slices.
func (d Definition) withDefaults() Definition {
	cats := make([]CategoryDef, len(d.Categories))
	for i, c := range d.Categories {
		if c.Other == "" {
			c.Other = DefaultOther
		}
		found := false
		for _, sc := range c.Subcategories {
			if sc.Name == c.Other {
				found = true
				break
			}
		}
		subs := make([]SubcategoryDef, len(c.Subcategories), len(c.Subcategories)+1)
		copy(subs, c.Subcategories)
		if !found {
			subs = append(subs, SubcategoryDef{Name: c.Other})
		}
		c.Subcategories = subs
		cats[i] = c
	}
	d.Categories = cats
	return d
}

// Validate reports every problem with d. It expects withDefaults to have run.
func (d Definition) Validate() error {
	var e errs

	if strings.TrimSpace(d.Version) == "" {
		e.addf("version must not be empty")
	}

	prios := make(map[Priority]bool, len(d.Priorities))
	if len(d.Priorities) == 0 {
		e.addf("at least one priority is required")
	}
	for i, p := range d.Priorities {
		if p.ID == "" {
			e.addf("priorities[%d]: id is required", i)
			continue
		}
		if prios[p.ID] {
			e.addf("priorities[%d]: duplicate id %q", i, p.ID)
		}
		prios[p.ID] = true
	}

	cats := make(map[Category]bool, len(d.Categories))
	if len(d.Categories) == 0 {
		e.addf("at least one category is required")
	}
	for i, c := range d.Categories {
		prefix := fmt.Sprintf("categories[%d]", i)
		if c.ID == "" {
			e.addf("%s: id is required", prefix)
		} else if cats[c.ID] {
			e.addf("%s: duplicate id %q", prefix, c.ID)
		}
		cats[c.ID] = true
		if c.DefaultPriority != "" && !prios[c.DefaultPriority] {
			e.addf("%s: default_priority %q is not a registered priority", prefix, c.DefaultPriority)
		}
		validateTerms(&e, prefix, c.Terms)

		subs := make(map[string]bool, len(c.Subcategories))
		for j, sc := range c.Subcategories {
			sp := fmt.Sprintf("%s.subcategories[%d]", prefix, j)
			if sc.Name == "" {
				e.addf("%s: name is required", sp)
			} else if subs[sc.Name] {
				e.addf("%s: duplicate name %q", sp, sc.Name)
			}
			subs[sc.Name] = true
			validateTerms(&e, sp, sc.Terms)
		}
	}

	tiers := make(map[Priority]bool, len(d.Urgency))
	for i, u := range d.Urgency {
		prefix := fmt.Sprintf("urgency[%d]", i)
		if !prios[u.Priority] {
			e.addf("%s: priority %q is not a registered priority", prefix, u.Priority)
		}
		if tiers[u.Priority] {
			e.addf("%s: duplicate tier %q", prefix, u.Priority)
		}
		tiers[u.Priority] = true
		validateTerms(&e, prefix, u.Terms)
	}

	prods := make(map[Product]bool, len(d.Products))
	for i, p := range d.Products {
		prefix := fmt.Sprintf("products[%d]", i)
		if p.ID == "" {
			e.addf("%s: id is required", prefix)
		} else if prods[p.ID] {
			e.addf("%s: duplicate id %q", prefix, p.ID)
		}
		prods[p.ID] = true
		validateTerms(&e, prefix, p.Terms)
	}

	if !cats[d.Defaults.Category] {
		e.addf("defaults.category %q is not a registered category", d.Defaults.Category)
	}
	if !prods[d.Defaults.Product] {
		e.addf("defaults.product %q is not a registered product", d.Defaults.Product)
	}
	if !prios[d.Defaults.Priority] {
		e.addf("defaults.priority %q is not a registered priority", d.Defaults.Priority)
	}

	return e.join()
}

func validateTerms(e *errs, prefix string, terms []Term) {
	seen := make(map[string]bool, len(terms))
	for i, t := range terms {
		if t.Weight < 0 {
			e.addf("%s.terms[%d]: weight must be >= 1, got %d", prefix, i, t.Weight)
		}
		if strings.TrimSpace(t.Text) == "" {
			e.addf("%s.terms[%d]: term must not be empty", prefix, i)
			continue
		}
		if seen[t.Text] {
			e.addf("%s.terms[%d]: duplicate term %q", prefix, i, t.Text)
		}
		seen[t.Text] = true
	}
}
