//go:build !cgo || !hyperscan

package matcher

import "errors"

// NewHyperscan stub for builds without Hyperscan (non-CGO or missing hyperscan tag).
func NewHyperscan(cfg Config) (Matcher, error) {
	return nil, errors.New("Hyperscan requires CGO (build with CGO_ENABLED=1 and -tags=hyperscan)")
}
