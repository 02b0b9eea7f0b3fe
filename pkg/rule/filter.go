package rule

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/praetorian-inc/augur/pkg/types"
)

// FilterConfig selects rules by ID. Include is applied first, then Exclude;
// an empty Include keeps every rule.
type FilterConfig struct {
	Include []string // regex patterns over rule IDs
	Exclude []string
}

// Empty reports whether the config filters nothing.
func (c FilterConfig) Empty() bool {
	return len(c.Include) == 0 && len(c.Exclude) == 0
}

// ParsePatterns splits a comma-separated string into trimmed patterns.
func ParsePatterns(patterns string) []string {
	result := []string{}
	for _, p := range strings.Split(patterns, ",") {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

// Filter applies include and exclude patterns to rules, preserving order.
// Returns error if any pattern is invalid regex.
func Filter(rules []*types.Rule, config FilterConfig) ([]*types.Rule, error) {
	include, err := compileAll(config.Include)
	if err != nil {
		return nil, err
	}
	exclude, err := compileAll(config.Exclude)
	if err != nil {
		return nil, err
	}
	if len(include) == 0 && len(exclude) == 0 {
		return rules, nil
	}

	result := make([]*types.Rule, 0, len(rules))
	for _, r := range rules {
		if len(include) > 0 && !matchesAny(r.ID, include) {
			continue
		}
		if matchesAny(r.ID, exclude) {
			continue
		}
		result = append(result, r)
	}
	return result, nil
}

// FilterRuleset applies Filter to the rules of rs. The atom table is shared
// with rs.
func FilterRuleset(rs *types.Ruleset, config FilterConfig) (*types.Ruleset, error) {
	if config.Empty() {
		return rs, nil
	}
	rules, err := Filter(rs.Rules, config)
	if err != nil {
		return nil, err
	}
	return rs.Subset(rules), nil
}

func compileAll(patterns []string) ([]*regexp.Regexp, error) {
	var out []*regexp.Regexp
	for _, pattern := range patterns {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid regex pattern %q: %w", pattern, err)
		}
		out = append(out, re)
	}
	return out, nil
}

func matchesAny(ruleID string, regexes []*regexp.Regexp) bool {
	for _, re := range regexes {
		if re.MatchString(ruleID) {
			return true
		}
	}
	return false
}
