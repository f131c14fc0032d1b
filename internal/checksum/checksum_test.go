package checksum

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOfIsStableAcrossCalls(t *testing.T) {
	t.Parallel()

	v := map[string]any{"a": 1, "b": []any{"x", "y"}}
	first, err := Of(v)
	require.NoError(t, err)
	second, err := Of(v)
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.Len(t, first, 64)
}

func TestOfIgnoresKeyInsertionOrder(t *testing.T) {
	t.Parallel()

	var left, right map[string]any
	require.NoError(t, json.Unmarshal([]byte(`{"a":1,"b":{"c":2,"d":3}}`), &left))
	require.NoError(t, json.Unmarshal([]byte(`{"b":{"d":3,"c":2},"a":1}`), &right))

	leftSum, err := Of(left)
	require.NoError(t, err)
	rightSum, err := Of(right)
	require.NoError(t, err)
	require.Equal(t, leftSum, rightSum)
}

func TestOfIgnoresStructFieldOrder(t *testing.T) {
	t.Parallel()

	type ab struct {
		A string `json:"a"`
		B string `json:"b"`
	}
	type ba struct {
		B string `json:"b"`
		A string `json:"a"`
	}

	abSum, err := Of(ab{A: "1", B: "2"})
	require.NoError(t, err)
	baSum, err := Of(ba{A: "1", B: "2"})
	require.NoError(t, err)
	require.Equal(t, abSum, baSum)
}

func TestOfDistinguishesValues(t *testing.T) {
	t.Parallel()

	one, err := Of(map[string]any{"a": 1})
	require.NoError(t, err)
	two, err := Of(map[string]any{"a": 2})
	require.NoError(t, err)
	require.NotEqual(t, one, two)
}
