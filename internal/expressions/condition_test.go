package expressions

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluateCondition_Forms(t *testing.T) {
	data := map[string]any{
		"status":  "paid",
		"count":   0.0,
		"flag":    true,
		"empty":   "",
		"payment": map[string]any{"method": "invoice"},
		"items":   []any{},
	}

	tests := []struct {
		condition string
		want      bool
	}{
		{"status === 'paid'", true},
		{"status === 'unpaid'", false},
		{`status === "paid"`, true},
		{"  status   ===   'paid'  ", true},
		{"status !== 'paid'", false},
		{"status !== 'refunded'", true},
		{"payment.method === 'invoice'", true},
		{"payment.method !== 'stripe'", true},
		{"missing === ''", false},
		{"missing !== 'x'", true},
		{"empty === ''", true},
		{"status", true},
		{"flag", true},
		{"count", false},
		{"empty", false},
		{"items", false},
		{"missing", false},
		{"payment.method", true},
		{"payment.missing.deeper", false},
	}
	for _, tt := range tests {
		got, err := EvaluateCondition(tt.condition, data)
		require.NoError(t, err, tt.condition)
		assert.Equal(t, tt.want, got, tt.condition)
	}
}

func TestEvaluateCondition_StrictEquality(t *testing.T) {
	data := map[string]any{"quantity": 1.0}
	got, err := EvaluateCondition("quantity === '1'", data)
	require.NoError(t, err)
	assert.False(t, got)
}

func TestEvaluateCondition_Unsupported(t *testing.T) {
	for _, cond := range []string{
		"status == 'paid'",
		"status === 'paid' && flag",
		"total > 10",
		"!flag",
		"status === paid",
		"",
		"a..b",
	} {
		got, err := EvaluateCondition(cond, map[string]any{"status": "paid", "flag": true})
		require.Error(t, err, cond)
		assert.True(t, errors.Is(err, ErrUnsupportedCondition), cond)
		assert.False(t, got, cond)
	}
}

func TestTruthy(t *testing.T) {
	assert.False(t, Truthy(nil))
	assert.False(t, Truthy(false))
	assert.False(t, Truthy(""))
	assert.False(t, Truthy(0))
	assert.False(t, Truthy(0.0))
	assert.False(t, Truthy(map[string]any{}))
	assert.False(t, Truthy([]string{}))

	assert.True(t, Truthy(true))
	assert.True(t, Truthy("x"))
	assert.True(t, Truthy(-1))
	assert.True(t, Truthy(map[string]any{"a": 1}))
	assert.True(t, Truthy([]any{nil}))
}

func TestLookup(t *testing.T) {
	data := map[string]any{
		"a": map[string]any{"b": map[string]any{"c": 3.0}},
		"s": map[string]string{"k": "v"},
	}

	v, ok := Lookup(data, "a.b.c")
	assert.True(t, ok)
	assert.Equal(t, 3.0, v)

	v, ok = Lookup(data, "s.k")
	assert.True(t, ok)
	assert.Equal(t, "v", v)

	_, ok = Lookup(data, "a.x")
	assert.False(t, ok)

	_, ok = Lookup(data, "a.b.c.d")
	assert.False(t, ok)
}
