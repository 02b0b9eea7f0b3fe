package serve

import (
	"encoding/json"

	"github.com/praetorian-inc/augur/pkg/scanner"
)

// Request types.
const (
	TypeScan      = "scan"
	TypeScanBatch = "scan_batch"
	TypeRules     = "rules"
	TypeClose     = "close"
	TypeReady     = "ready"
)

// EncodingBase64 marks content sent base64-encoded, for binary buffers.
const EncodingBase64 = "base64"

// Request represents an incoming NDJSON request
type Request struct {
	Type    string          `json:"type"` // "scan" | "scan_batch" | "rules" | "close"
	Payload json.RawMessage `json:"payload"`
}

// ScanPayload is the payload for "scan" requests
type ScanPayload struct {
	Content  string `json:"content"`
	Encoding string `json:"encoding,omitempty"` // "" (raw string) or "base64"
	Source   string `json:"source"`
}

// ScanBatchPayload is the payload for "scan_batch" requests
type ScanBatchPayload struct {
	Items    []scanner.ContentItem `json:"items"`
	Encoding string                `json:"encoding,omitempty"` // applies to every item
}

// Response represents an outgoing NDJSON response
type Response struct {
	Success bool            `json:"success"`
	Type    string          `json:"type"` // "ready" | "scan" | "scan_batch" | "rules" | request type on error
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// ReadyData is the data field for "ready" responses
type ReadyData struct {
	Version     string `json:"version"`
	Ruleset     string `json:"ruleset"`
	Fingerprint string `json:"fingerprint"`
	Rules       int    `json:"rules"`
}

// RuleInfo describes one loaded rule in a "rules" response.
type RuleInfo struct {
	ID      string   `json:"id"`
	Name    string   `json:"name,omitempty"`
	Tags    []string `json:"tags,omitempty"`
	Private bool     `json:"private,omitempty"`
	Global  bool     `json:"global,omitempty"`
}

// RulesData is the data field for "rules" responses
type RulesData struct {
	Ruleset     string     `json:"ruleset"`
	Fingerprint string     `json:"fingerprint"`
	Rules       []RuleInfo `json:"rules"`
}
