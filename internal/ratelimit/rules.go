package ratelimit

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
)

// DefaultType is the rule used for unknown limiter types.
const DefaultType = "default"

// Rule is the request allowance of one limiter type.
type Rule struct {
	Limit  int           `json:"limit" validate:"gt=0"`
	Window time.Duration `json:"window" validate:"gte=1s"`
}

var ruleValidator = validator.New()

// Validate reports whether the rule can be enforced.
func (r Rule) Validate() error {
	if err := ruleValidator.Struct(r); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("%w: %s failed %q (value %v)", ErrInvalidRule, fe.Field(), fe.Tag(), fe.Value())
		}
		return fmt.Errorf("%w: %v", ErrInvalidRule, err)
	}
	return nil
}

// Presets returns the built-in rules.
func Presets() map[string]Rule {
	return map[string]Rule{
		DefaultType: {Limit: 100, Window: 60 * time.Second},
		"login":     {Limit: 5, Window: 300 * time.Second},
		"api":       {Limit: 1000, Window: 3600 * time.Second},
		"strict":    {Limit: 10, Window: 60 * time.Second},
		"upload":    {Limit: 20, Window: 3600 * time.Second},
	}
}

// Rules is a concurrency-safe registry of rules keyed by limiter type.
type Rules struct {
	mu    sync.RWMutex
	rules map[string]Rule
}

// NewRules creates a registry holding the built-in presets.
func NewRules() *Rules {
	return &Rules{rules: Presets()}
}

// Get returns the rule for limiterType, falling back to the default rule.
func (r *Rules) Get(limiterType string) Rule {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if rule, ok := r.rules[limiterType]; ok {
		return rule
	}
	return r.rules[DefaultType]
}

// Has reports whether limiterType has its own rule.
func (r *Rules) Has(limiterType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.rules[limiterType]
	return ok
}

// Set installs rule for limiterType after validating it.
func (r *Rules) Set(limiterType string, rule Rule) error {
	if limiterType == "" {
		return fmt.Errorf("%w: empty type", ErrInvalidRule)
	}
	if err := rule.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.rules[limiterType] = rule
	return nil
}

// All returns a snapshot of every rule.
func (r *Rules) All() map[string]Rule {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]Rule, len(r.rules))
	for k, v := range r.rules {
		out[k] = v
	}
	return out
}

// Types returns the configured limiter types in sorted order.
func (r *Rules) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.rules))
	for k := range r.rules {
		types = append(types, k)
	}
	sort.Strings(types)
	return types
}
