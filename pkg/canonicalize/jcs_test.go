package canonicalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJCSSortsKeys(t *testing.T) {
	out, err := JCSString(map[string]any{
		"zebra": 1,
		"alpha": 2,
		"mango": map[string]any{"b": true, "a": false},
	})
	require.NoError(t, err)
	assert.Equal(t, `{"alpha":2,"mango":{"a":false,"b":true},"zebra":1}`, out)
}

func TestJCSNumberForms(t *testing.T) {
	// ES6 number formatting: integral floats lose the fraction.
	out, err := JCSString(map[string]any{"a": 10.0, "b": 10.5, "c": 3})
	require.NoError(t, err)
	assert.Equal(t, `{"a":10,"b":10.5,"c":3}`, out)
}

func TestJCSNoHTMLEscaping(t *testing.T) {
	out, err := JCSString(map[string]any{"note": "a<b>&c"})
	require.NoError(t, err)
	assert.Equal(t, `{"note":"a<b>&c"}`, out)
}

func TestJCSStableAcrossEquivalentInputs(t *testing.T) {
	a, err := JCS(map[string]any{"x": 1, "y": "z"})
	require.NoError(t, err)
	b, err := JCS(map[string]any{"y": "z", "x": 1})
	require.NoError(t, err)
	assert.Equal(t, a, b)
}
