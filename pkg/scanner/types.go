package scanner

import "github.com/praetorian-inc/augur/pkg/types"

// ContentItem represents a content item to scan
type ContentItem struct {
	Source   string            `json:"source"`   // e.g., "request:1", "/samples/a.bin"
	Content  string            `json:"content"`  // the actual content to scan
	Metadata map[string]string `json:"metadata"` // optional metadata
}

// ScanResult represents scan results for a single item
type ScanResult struct {
	Source  string            `json:"source"`
	BlobID  types.BlobID      `json:"blob_id"`
	Size    int64             `json:"size"`
	Matches []types.RuleMatch `json:"matches"`
	Error   string            `json:"error,omitempty"`
}

// BatchScanResult represents batch scan results
type BatchScanResult struct {
	Results []ScanResult `json:"results"`
	Total   int          `json:"total"`
}
