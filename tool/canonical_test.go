package tool

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestArgHash_StableAcrossKeyOrder(t *testing.T) {
	a := map[string]interface{}{"x": 1, "y": "hello"}
	b := map[string]interface{}{"y": "hello", "x": 1}

	require.Equal(t, ArgHash("search", a, nil), ArgHash("search", b, nil))
}

func TestArgHash_NormalizesNumericRepresentation(t *testing.T) {
	a := map[string]interface{}{"n": 2}
	b := map[string]interface{}{"n": float64(2)}

	require.Equal(t, ArgHash("calc", a, nil), ArgHash("calc", b, nil))
}

func TestArgHash_DifferentArgsDifferentHash(t *testing.T) {
	a := map[string]interface{}{"q": "x"}
	b := map[string]interface{}{"q": "y"}

	require.NotEqual(t, ArgHash("search", a, nil), ArgHash("search", b, nil))
}

func TestArgHash_DifferentToolNameDifferentHash(t *testing.T) {
	args := map[string]interface{}{"q": "x"}
	require.NotEqual(t, ArgHash("search", args, nil), ArgHash("lookup", args, nil))
}

func TestArgHash_NestedStructures(t *testing.T) {
	a := map[string]interface{}{
		"filters": []interface{}{"a", "b"},
		"nested":  map[string]interface{}{"inner": 1},
	}
	b := map[string]interface{}{
		"nested":  map[string]interface{}{"inner": 1},
		"filters": []interface{}{"a", "b"},
	}
	require.Equal(t, ArgHash("search", a, nil), ArgHash("search", b, nil))
}
