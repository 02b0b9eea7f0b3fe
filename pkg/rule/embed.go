package rule

import "embed"

// builtinRulesFS embeds the built-in compiled rules: file-format and script
// signatures.
//
//go:embed rules/*.yml
var builtinRulesFS embed.FS
