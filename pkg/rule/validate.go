package rule

import (
	"fmt"

	"github.com/praetorian-inc/augur/pkg/condition"
	"github.com/praetorian-inc/augur/pkg/types"
)

// ValidateRule checks rule consistency against an atom table of size natoms.
// Returns error if rule is invalid.
func ValidateRule(r *types.Rule, natoms int) error {
	if r == nil {
		return types.Errorf(types.InvalidRuleSet, "rule.Validate", "rule is nil")
	}

	// Check required fields
	if r.ID == "" {
		return types.Errorf(types.InvalidRuleSet, "rule.Validate", "rule ID is required")
	}
	if r.Condition == nil {
		return types.Errorf(types.MalformedCondition, "rule.Validate", "rule %s has no condition", r.ID)
	}

	for _, idx := range r.Atoms {
		if idx < 0 || idx >= natoms {
			return types.Errorf(types.InvalidRuleSet, "rule.Validate",
				"rule %s references atom %d outside table of %d", r.ID, idx, natoms)
		}
	}

	if err := condition.Validate(r.Condition, natoms); err != nil {
		return fmt.Errorf("rule %s: %w", r.ID, err)
	}
	return nil
}

// ValidateRuleset checks every rule and rejects duplicate rule IDs.
func ValidateRuleset(rs *types.Ruleset) error {
	if rs == nil {
		return types.Errorf(types.InvalidRuleSet, "rule.Validate", "ruleset is nil")
	}

	seen := make(map[string]bool, len(rs.Rules))
	for _, r := range rs.Rules {
		if err := ValidateRule(r, len(rs.Atoms)); err != nil {
			return err
		}
		if seen[r.ID] {
			return types.Errorf(types.InvalidRuleSet, "rule.Validate", "duplicate rule ID: %s", r.ID)
		}
		seen[r.ID] = true
	}
	return nil
}
