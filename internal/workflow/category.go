package workflow

import (
	"fmt"
	"io"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// CategoryRule is one row of the expense category table. Rules are loaded once
// and never mutated.
type CategoryRule struct {
	Code              string `yaml:"code" json:"code"`
	Label             string `yaml:"label" json:"label"`
	Bucket            Bucket `yaml:"bucket" json:"bucket"`
	SpendingLimit     int64  `yaml:"limit" json:"spending_limit"`
	MandatoryApprover Role   `yaml:"approver" json:"mandatory_approver"`
}

// CategoryPolicy is an immutable lookup from category code to rule. It is
// passed explicitly to whoever needs it; there is no package-level table.
type CategoryPolicy struct {
	rules map[string]CategoryRule
	order []string
}

// NewCategoryPolicy validates rules and builds a policy. Codes must be unique,
// limits non-negative, buckets and roles from the fixed sets.
func NewCategoryPolicy(rules []CategoryRule) (*CategoryPolicy, error) {
	p := &CategoryPolicy{
		rules: make(map[string]CategoryRule, len(rules)),
		order: make([]string, 0, len(rules)),
	}
	for _, r := range rules {
		if r.Code == "" {
			return nil, fmt.Errorf("category rule without code")
		}
		if _, dup := p.rules[r.Code]; dup {
			return nil, fmt.Errorf("duplicate category code %q", r.Code)
		}
		if r.SpendingLimit < 0 {
			return nil, fmt.Errorf("category %s: negative spending limit", r.Code)
		}
		if !r.Bucket.IsValid() {
			return nil, fmt.Errorf("category %s: unknown bucket %q", r.Code, r.Bucket)
		}
		if !r.MandatoryApprover.IsValid() {
			return nil, fmt.Errorf("category %s: unknown approver role %q", r.Code, r.MandatoryApprover)
		}
		p.rules[r.Code] = r
		p.order = append(p.order, r.Code)
	}
	sort.Strings(p.order)
	return p, nil
}

type categoryFile struct {
	Categories []CategoryRule `yaml:"categories"`
}

// LoadCategoryPolicy decodes a YAML category table.
func LoadCategoryPolicy(r io.Reader) (*CategoryPolicy, error) {
	var f categoryFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("decode category table: %w", err)
	}
	return NewCategoryPolicy(f.Categories)
}

// LoadCategoryPolicyFile reads the category table from path.
func LoadCategoryPolicyFile(path string) (*CategoryPolicy, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return LoadCategoryPolicy(f)
}

// Lookup returns the rule for code, or ErrUnknownCategory.
func (p *CategoryPolicy) Lookup(code string) (CategoryRule, error) {
	r, ok := p.rules[code]
	if !ok {
		return CategoryRule{}, fmt.Errorf("%w: %s", ErrUnknownCategory, code)
	}
	return r, nil
}

// ExceedsLimit reports whether amount is above the category's spending limit.
// The limit only drives a warning; routing uses the fixed thresholds.
func (p *CategoryPolicy) ExceedsLimit(code string, amount int64) (bool, error) {
	r, err := p.Lookup(code)
	if err != nil {
		return false, err
	}
	return amount > r.SpendingLimit, nil
}

// Rules returns every rule ordered by code.
func (p *CategoryPolicy) Rules() []CategoryRule {
	out := make([]CategoryRule, 0, len(p.order))
	for _, code := range p.order {
		out = append(out, p.rules[code])
	}
	return out
}

// ByBucket returns the rules of one bucket ordered by code.
func (p *CategoryPolicy) ByBucket(b Bucket) []CategoryRule {
	var out []CategoryRule
	for _, code := range p.order {
		if r := p.rules[code]; r.Bucket == b {
			out = append(out, r)
		}
	}
	return out
}

// Len returns the number of rules.
func (p *CategoryPolicy) Len() int {
	return len(p.rules)
}
