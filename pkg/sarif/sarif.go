// Package sarif renders rule matches as a SARIF 2.1.0 log.
package sarif

import (
	"encoding/json"
	"path/filepath"
	"strings"

	"github.com/praetorian-inc/augur/pkg/types"
)

// SARIF 2.1.0 constants
const (
	SchemaURI   = "https://raw.githubusercontent.com/oasis-tcs/sarif-spec/master/Schemata/sarif-schema-2.1.0.json"
	Version     = "2.1.0"
	ToolName    = "augur"
	ToolVersion = "0.1.0"
)

// MaxLocationsPerResult caps the atom offsets listed for one rule match.
const MaxLocationsPerResult = 32

// Report is the top-level SARIF report structure
type Report struct {
	Schema  string `json:"$schema"`
	Version string `json:"version"`
	Runs    []Run  `json:"runs"`
}

// Run represents a single invocation of the tool
type Run struct {
	Tool    Tool     `json:"tool"`
	Results []Result `json:"results"`
}

// Tool describes the analysis tool
type Tool struct {
	Driver Driver `json:"driver"`
}

// Driver contains tool metadata
type Driver struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Rules   []Rule `json:"rules,omitempty"`
}

// Rule represents a detection rule
type Rule struct {
	ID               string          `json:"id"`
	Name             string          `json:"name,omitempty"`
	ShortDescription *Message        `json:"shortDescription,omitempty"`
	HelpURI          string          `json:"helpUri,omitempty"`
	Properties       *RuleProperties `json:"properties,omitempty"`
}

// RuleProperties carries rule tags.
type RuleProperties struct {
	Tags []string `json:"tags,omitempty"`
}

// Result represents a single rule match on one artifact
type Result struct {
	RuleID     string            `json:"ruleId"`
	RuleIndex  int               `json:"ruleIndex"`
	Level      string            `json:"level"`
	Message    Message           `json:"message"`
	Locations  []Location        `json:"locations"`
	Properties map[string]string `json:"properties,omitempty"`
}

// Message contains the result message
type Message struct {
	Text string `json:"text"`
}

// Location describes where a result was found
type Location struct {
	PhysicalLocation PhysicalLocation `json:"physicalLocation"`
}

// PhysicalLocation specifies file location
type PhysicalLocation struct {
	ArtifactLocation ArtifactLocation `json:"artifactLocation"`
	Region           *Region          `json:"region,omitempty"`
}

// ArtifactLocation identifies the file
type ArtifactLocation struct {
	URI string `json:"uri"`
}

// Region is a byte range within the artifact.
type Region struct {
	ByteOffset int64 `json:"byteOffset"`
	ByteLength int   `json:"byteLength,omitempty"`
}

// NewReport creates a new SARIF report with initialized structure
func NewReport() *Report {
	return &Report{
		Schema:  SchemaURI,
		Version: Version,
		Runs: []Run{
			{
				Tool: Tool{
					Driver: Driver{
						Name:    ToolName,
						Version: ToolVersion,
						Rules:   []Rule{},
					},
				},
				Results: []Result{},
			},
		},
	}
}

// AddRule adds a detection rule to the report. Adding a rule ID twice is
// a no-op.
func (r *Report) AddRule(rule *types.Rule) {
	if r.ruleIndex(rule.ID) >= 0 {
		return
	}

	sarifRule := Rule{
		ID:      rule.ID,
		Name:    rule.Name,
		HelpURI: rule.Meta["reference"],
	}
	if desc := rule.Meta["description"]; desc != "" {
		sarifRule.ShortDescription = &Message{Text: desc}
	}
	if len(rule.Tags) > 0 {
		sarifRule.Properties = &RuleProperties{Tags: rule.Tags}
	}

	r.Runs[0].Tool.Driver.Rules = append(r.Runs[0].Tool.Driver.Rules, sarifRule)
}

// AddRuleset adds every non-private rule of rs.
func (r *Report) AddRuleset(rs *types.Ruleset) {
	for _, rule := range rs.Rules {
		if !rule.Private {
			r.AddRule(rule)
		}
	}
}

// AddResult adds one rule match found in the artifact at filePath.
// Rules not yet in the report are added from the match.
func (r *Report) AddResult(match *types.RuleMatch, blobID types.BlobID, filePath string) {
	idx := r.ruleIndex(match.RuleID)
	if idx < 0 {
		r.AddRule(&types.Rule{ID: match.RuleID, Name: match.Name, Tags: match.Tags, Meta: match.Meta})
		idx = len(r.Runs[0].Tool.Driver.Rules) - 1
	}

	artifact := ArtifactLocation{URI: formatFileURI(filePath)}
	var locations []Location
	for _, am := range match.Atoms {
		for _, off := range am.Offsets {
			if len(locations) == MaxLocationsPerResult {
				break
			}
			locations = append(locations, Location{PhysicalLocation: PhysicalLocation{
				ArtifactLocation: artifact,
				Region:           &Region{ByteOffset: off, ByteLength: am.Length},
			}})
		}
	}
	if len(locations) == 0 {
		locations = []Location{{PhysicalLocation: PhysicalLocation{ArtifactLocation: artifact}}}
	}

	text := match.Name
	if text == "" {
		text = match.RuleID
	}

	result := Result{
		RuleID:     match.RuleID,
		RuleIndex:  idx,
		Level:      level(match.Meta["severity"]),
		Message:    Message{Text: text},
		Locations:  locations,
		Properties: map[string]string{"blobId": blobID.Hex()},
	}
	r.Runs[0].Results = append(r.Runs[0].Results, result)
}

// AddScanResult adds every match of res.
func (r *Report) AddScanResult(res *types.ScanResult, filePath string) {
	for i := range res.Matches {
		r.AddResult(&res.Matches[i], res.BlobID, filePath)
	}
}

// ToJSON serializes the report to JSON bytes
func (r *Report) ToJSON() ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}

func (r *Report) ruleIndex(id string) int {
	for i, rule := range r.Runs[0].Tool.Driver.Rules {
		if rule.ID == id {
			return i
		}
	}
	return -1
}

// level maps a rule's severity metadata to a SARIF level.
func level(severity string) string {
	switch strings.ToLower(severity) {
	case "critical", "high", "error":
		return "error"
	case "low", "info", "note":
		return "note"
	default:
		return "warning"
	}
}

// formatFileURI converts a file path to SARIF URI format
// Absolute paths get file:// prefix, relative paths stay as-is
func formatFileURI(path string) string {
	if filepath.IsAbs(path) {
		// Normalize path separators for URI format
		path = filepath.ToSlash(path)
		// Ensure path starts with /
		if !strings.HasPrefix(path, "/") {
			path = "/" + path
		}
		return "file://" + path
	}
	// Relative paths stay as-is
	return filepath.ToSlash(path)
}
