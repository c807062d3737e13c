// Package capability maps (provider, model) pairs to the strength with which
// a model can be made to use its search tool.
package capability

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Tier is the tool-forcing capability of a model.
type Tier string

const (
	// TierHard models accept a mandatory tool-use directive.
	TierHard Tier = "HARD"
	// TierSoft models can be offered tools but not forced to use them.
	TierSoft Tier = "SOFT"
	// TierNone is reported for models the table does not know.
	TierNone Tier = "NONE"
)

// ParseTier parses a tier name case-insensitively.
func ParseTier(s string) (Tier, error) {
	switch Tier(strings.ToUpper(strings.TrimSpace(s))) {
	case TierHard:
		return TierHard, nil
	case TierSoft:
		return TierSoft, nil
	case TierNone:
		return TierNone, nil
	}
	return "", fmt.Errorf("unknown capability tier %q", s)
}

// regexPrefix marks a model pattern as a regular expression instead of a glob.
const regexPrefix = "re:"

// Rule binds a provider and model-name pattern to a tier.
//
// Model is a doublestar glob ("gpt-4o*") matched case-insensitively, or a
// regular expression when prefixed with "re:". Provider "*" matches any
// provider.
type Rule struct {
	Provider string `yaml:"provider" json:"provider"`
	Model    string `yaml:"model" json:"model"`
	Tier     Tier   `yaml:"tier" json:"tier"`
}

type compiledRule struct {
	Rule
	re *regexp.Regexp
}

func (r compiledRule) matches(provider, model string) bool {
	if r.Provider != "*" && !strings.EqualFold(r.Provider, provider) {
		return false
	}
	if r.re != nil {
		return r.re.MatchString(model)
	}
	ok, err := doublestar.Match(strings.ToLower(r.Model), strings.ToLower(model))
	return err == nil && ok
}

// Table is an immutable, ordered rule list. The first matching rule wins.
type Table struct {
	rules []compiledRule
}

// NewTable validates and compiles rules in order.
func NewTable(rules []Rule) (*Table, error) {
	t := &Table{rules: make([]compiledRule, 0, len(rules))}
	for i, r := range rules {
		if r.Provider == "" || r.Model == "" {
			return nil, fmt.Errorf("rule %d: provider and model are required", i)
		}
		tier, err := ParseTier(string(r.Tier))
		if err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
		r.Tier = tier

		cr := compiledRule{Rule: r}
		if expr, ok := strings.CutPrefix(r.Model, regexPrefix); ok {
			re, err := regexp.Compile("(?i)" + expr)
			if err != nil {
				return nil, fmt.Errorf("rule %d: compiling model pattern: %w", i, err)
			}
			cr.re = re
		} else if !doublestar.ValidatePattern(strings.ToLower(r.Model)) {
			return nil, fmt.Errorf("rule %d: invalid glob %q", i, r.Model)
		}
		t.rules = append(t.rules, cr)
	}
	return t, nil
}

// Lookup returns the tier for provider and model. Unknown pairs are TierNone.
func (t *Table) Lookup(provider, model string) Tier {
	if t == nil {
		return TierNone
	}
	for _, r := range t.rules {
		if r.matches(provider, model) {
			return r.Tier
		}
	}
	return TierNone
}

// Rules returns a copy of the rules in match order.
func (t *Table) Rules() []Rule {
	if t == nil {
		return nil
	}
	out := make([]Rule, len(t.rules))
	for i, r := range t.rules {
		out[i] = r.Rule
	}
	return out
}

// DefaultRules is the built-in table. Models missing here resolve to NONE and
// run the soft-required path.
func DefaultRules() []Rule {
	return []Rule{
		{Provider: "openai", Model: "gpt-4o*", Tier: TierHard},
		{Provider: "openai", Model: "gpt-4.1*", Tier: TierHard},
		{Provider: "openai", Model: "gpt-5*", Tier: TierSoft},
		{Provider: "openai", Model: "re:^o[34](-|$)", Tier: TierSoft},
		{Provider: "anthropic", Model: "claude-*", Tier: TierHard},
		{Provider: "gemini", Model: "gemini-*", Tier: TierSoft},
	}
}
