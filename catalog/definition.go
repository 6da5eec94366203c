package catalog

import (
	"context"
	"fmt"
	"io"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/xraph/paysync/bonus"
)

// Price is one currency a definition is sold in.
type Price struct {
	Amount   int64  `yaml:"amount" json:"amount"`
	Currency string `yaml:"currency" json:"currency"`
}

// Definition declares a plan or product.
type Definition struct {
	Key         string       `yaml:"key" json:"key"`
	Name        string       `yaml:"name" json:"name"`
	Description string       `yaml:"description,omitempty" json:"description,omitempty"`
	Mode        Mode         `yaml:"-" json:"mode"`
	Interval    Interval     `yaml:"interval,omitempty" json:"interval,omitempty"`
	TrialDays   int          `yaml:"trialDays,omitempty" json:"trial_days,omitempty"`
	Prices      []Price      `yaml:"prices" json:"prices"`
	Bonuses     []bonus.Rule `yaml:"bonuses,omitempty" json:"bonuses,omitempty"`
}

// file is the on-disk catalog layout.
type file struct {
	Plans    []Definition `yaml:"plans"`
	Products []Definition `yaml:"products"`
}

// Catalog is the set of declared plans and products.
type Catalog struct {
	defs  []Definition
	index map[Mode]map[string]int
}

// New builds a catalog. Keys must be unique per mode and every definition
// needs at least one price.
func New(defs ...Definition) (*Catalog, error) {
	c := &Catalog{
		index: map[Mode]map[string]int{
			ModeSubscription: {},
			ModeOneTime:      {},
		},
	}
	for _, d := range defs {
		if d.Key == "" {
			return nil, fmt.Errorf("catalog: definition without key")
		}
		byKey, ok := c.index[d.Mode]
		if !ok {
			return nil, fmt.Errorf("catalog: %s: unknown mode %q", d.Key, d.Mode)
		}
		if _, dup := byKey[d.Key]; dup {
			return nil, fmt.Errorf("catalog: duplicate %s key %q", d.Mode, d.Key)
		}
		if len(d.Prices) == 0 {
			return nil, fmt.Errorf("catalog: %s: no prices", d.Key)
		}
		switch {
		case d.Mode == ModeOneTime:
			d.Interval = ""
			d.TrialDays = 0
		case d.Interval == "":
			d.Interval = IntervalMonth
		}
		d.Prices = slices.Clone(d.Prices)
		for i := range d.Prices {
			d.Prices[i].Currency = strings.ToLower(d.Prices[i].Currency)
		}
		d.Bonuses = slices.Clone(d.Bonuses)
		for i := range d.Bonuses {
			if err := d.Bonuses[i].ApplyOn.UnmarshalText([]byte(d.Bonuses[i].ApplyOn)); err != nil {
				return nil, fmt.Errorf("catalog: %s: %w", d.Key, err)
			}
		}
		byKey[d.Key] = len(c.defs)
		c.defs = append(c.defs, d)
	}
	return c, nil
}

// Load reads a YAML catalog with top-level "plans" and "products" lists.
func Load(r io.Reader) (*Catalog, error) {
	var f file
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && err != io.EOF {
		return nil, fmt.Errorf("catalog: decode: %w", err)
	}

	defs := make([]Definition, 0, len(f.Plans)+len(f.Products))
	for _, d := range f.Plans {
		d.Mode = ModeSubscription
		defs = append(defs, d)
	}
	for _, d := range f.Products {
		d.Mode = ModeOneTime
		defs = append(defs, d)
	}
	return New(defs...)
}

// Definitions returns every definition in declaration order.
func (c *Catalog) Definitions() []Definition {
	out := make([]Definition, len(c.defs))
	copy(out, c.defs)
	return out
}

// Lookup returns the definition of key in mode.
func (c *Catalog) Lookup(mode Mode, key string) (Definition, bool) {
	i, ok := c.index[mode][key]
	if !ok {
		return Definition{}, false
	}
	return c.defs[i], true
}

// DisplayName returns the definition name, falling back to the key.
func (c *Catalog) DisplayName(mode Mode, key string) string {
	if d, ok := c.Lookup(mode, key); ok && d.Name != "" {
		return d.Name
	}
	return key
}

// BonusRules implements bonus.RuleSource.
func (c *Catalog) BonusRules(_ context.Context, sourceType bonus.SourceType, key string) ([]bonus.Rule, error) {
	mode := ModeOneTime
	if sourceType == bonus.SourceSubscription {
		mode = ModeSubscription
	}
	d, ok := c.Lookup(mode, key)
	if !ok {
		return nil, nil
	}
	return d.Bonuses, nil
}

var _ bonus.RuleSource = (*Catalog)(nil)
