package rule

import "github.com/praetorian-inc/augur/pkg/types"

// yamlString is one atom declaration of a rule. Exactly one of Text, Hex
// and Regex is set.
type yamlString struct {
	ID        string   `yaml:"id"`
	Text      *string  `yaml:"text,omitempty"`
	Hex       string   `yaml:"hex,omitempty"`
	Regex     string   `yaml:"regex,omitempty"`
	Keywords  []string `yaml:"keywords,omitempty"`
	Modifiers []string `yaml:"modifiers,omitempty"`
}

// yamlRule is the intermediate struct for parsing a compiled rule.
// Condition leaves index into the rule's own Strings list.
type yamlRule struct {
	ID        string            `yaml:"id"`
	Name      string            `yaml:"name"`
	Tags      []string          `yaml:"tags,omitempty"`
	Meta      map[string]string `yaml:"meta,omitempty"`
	Private   bool              `yaml:"private,omitempty"`
	Global    bool              `yaml:"global,omitempty"`
	Strings   []yamlString      `yaml:"strings,omitempty"`
	Condition *types.Condition  `yaml:"condition"`
}

// yamlRulesFile represents the top-level structure of a compiled rules file.
type yamlRulesFile struct {
	Name    string     `yaml:"name,omitempty"`
	Version string     `yaml:"version,omitempty"`
	Rules   []yamlRule `yaml:"rules"`
}
