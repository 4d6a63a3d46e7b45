package expressions

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/flowkit/pkg/schema"
)

func TestInterpolate(t *testing.T) {
	data := map[string]any{
		"firstName": "Ana",
		"pricing":   map[string]any{"total": 55.5, "currency": "EUR"},
		"tags":      []any{"vip"},
	}

	got, err := Interpolate("Hi ${{ firstName }}, you owe ${{pricing.total}} ${{ pricing.currency }}", data)
	require.NoError(t, err)
	assert.Equal(t, "Hi Ana, you owe 55.5 EUR", got)

	got, err = Interpolate("tags=${{ tags }} missing=[${{ nope }}]", data)
	require.NoError(t, err)
	assert.Equal(t, `tags=["vip"] missing=[]`, got)

	got, err = Interpolate("no tokens", data)
	require.NoError(t, err)
	assert.Equal(t, "no tokens", got)
}

func TestInterpolate_Errors(t *testing.T) {
	for _, text := range []string{"${{ open", "${{ }}", "${{ a ${{ b }} }}", "${{ a + b }}"} {
		_, err := Interpolate(text, nil)
		require.Error(t, err, text)
		assert.Equal(t, schema.ErrCodeValidation, schema.CodeOf(err), text)
	}
}

func TestInterpolateMap(t *testing.T) {
	in := map[string]any{
		"subject": "Welcome ${{ name }}",
		"nested":  map[string]any{"body": "Order ${{ id }}"},
		"list":    []any{"${{ id }}", 3},
		"n":       1,
	}
	out, err := InterpolateMap(in, map[string]any{"name": "Ana", "id": "o-1"})
	require.NoError(t, err)
	assert.Equal(t, "Welcome Ana", out["subject"])
	assert.Equal(t, "Order o-1", out["nested"].(map[string]any)["body"])
	assert.Equal(t, []any{"o-1", 3}, out["list"])
	assert.Equal(t, 1, out["n"])
	assert.Equal(t, "Welcome ${{ name }}", in["subject"])
}
