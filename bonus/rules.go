package bonus

import (
	"context"
	"fmt"
	"strings"
)

// ApplyOn selects which payments a rule fires on.
type ApplyOn string

const (
	ApplyOnFirst     ApplyOn = "first"
	ApplyOnRecurring ApplyOn = "recurring"
	ApplyOnAlways    ApplyOn = "always"
)

// UnmarshalText accepts the upper-case spellings used in catalog files.
func (a *ApplyOn) UnmarshalText(text []byte) error {
	switch v := ApplyOn(strings.ToLower(strings.TrimSpace(string(text)))); v {
	case ApplyOnFirst, ApplyOnRecurring, ApplyOnAlways:
		*a = v
		return nil
	case "":
		*a = ApplyOnAlways
		return nil
	default:
		return fmt.Errorf("bonus: unknown applyOn %q", string(text))
	}
}

// Rule credits Fields when a payment matches ApplyOn.
type Rule struct {
	Name    string           `json:"name,omitempty" yaml:"name,omitempty"`
	ApplyOn ApplyOn          `json:"apply_on" yaml:"applyOn"`
	Fields  map[string]int64 `json:"fields" yaml:"fields"`
}

// Applies reports whether the rule fires for a payment.
func (r Rule) Applies(firstPayment bool) bool {
	switch r.ApplyOn {
	case ApplyOnFirst:
		return firstPayment
	case ApplyOnRecurring:
		return !firstPayment
	default:
		return true
	}
}

// RuleSource looks up the bonus rules attached to a plan or product.
type RuleSource interface {
	BonusRules(ctx context.Context, sourceType SourceType, key string) ([]Rule, error)
}

// RuleSourceFunc adapts a function to RuleSource.
type RuleSourceFunc func(ctx context.Context, sourceType SourceType, key string) ([]Rule, error)

// BonusRules implements RuleSource.
func (f RuleSourceFunc) BonusRules(ctx context.Context, sourceType SourceType, key string) ([]Rule, error) {
	return f(ctx, sourceType, key)
}

// StaticRules is a fixed RuleSource keyed by plan and product key.
type StaticRules struct {
	Plans    map[string][]Rule
	Products map[string][]Rule
}

// BonusRules implements RuleSource.
func (s StaticRules) BonusRules(_ context.Context, sourceType SourceType, key string) ([]Rule, error) {
	if sourceType == SourceSubscription {
		return s.Plans[key], nil
	}
	return s.Products[key], nil
}

// mergeDeltas sums the fields of every rule that applies.
func mergeDeltas(rules []Rule, firstPayment bool) map[string]int64 {
	delta := make(map[string]int64)
	for _, r := range rules {
		if !r.Applies(firstPayment) {
			continue
		}
		for field, v := range r.Fields {
			delta[field] += v
		}
	}
	for field, v := range delta {
		if v == 0 {
			delete(delta, field)
		}
	}
	return delta
}
