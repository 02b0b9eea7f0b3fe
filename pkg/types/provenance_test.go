package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFileProvenance(t *testing.T) {
	prov := FileProvenance{FilePath: "/samples/calc.exe"}

	assert.Equal(t, "file", prov.Kind())
	assert.Equal(t, "/samples/calc.exe", prov.Path())
}

func TestInlineProvenance(t *testing.T) {
	var prov Provenance = InlineProvenance{Source: "request:42"}

	assert.Equal(t, "inline", prov.Kind())
	assert.Equal(t, "request:42", prov.Path())
}
