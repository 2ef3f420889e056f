package masking

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMaskDocument(t *testing.T) {
	assert.Equal(t, "CC-****4050", MaskDocument("cc", "1020304050"))
	assert.Equal(t, "TI-****", MaskDocument("TI", "123"))
	assert.Equal(t, "****", MaskDocument("", ""))
}
