package quadrature

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWeightsNormalized(t *testing.T) {
	cases := []struct {
		kind Type
		n    int
	}{
		{TabuchiYamamoto, 1},
		{TabuchiYamamoto, 2},
		{TabuchiYamamoto, 3},
		{Leonard, 2},
		{Leonard, 3},
	}
	for _, tc := range cases {
		q, err := NewPolar(tc.kind, tc.n)
		require.NoError(t, err)

		var sum float64
		for _, w := range q.Weights {
			sum += w
		}
		assert.InDeltaf(t, 1.0, sum, 1e-6, "%s n=%d weights", tc.kind, tc.n)

		for p := 0; p < tc.n; p++ {
			assert.Greater(t, q.SinThetas[p], 0.0)
			assert.Less(t, q.SinThetas[p], 1.0)
			assert.InDelta(t, q.Weights[p]*q.SinThetas[p], q.Multiples[p], 1e-15)
			if p > 0 {
				assert.Greater(t, q.SinThetas[p], q.SinThetas[p-1], "sines ascending")
			}
		}
	}
}

func TestUnsupportedOrders(t *testing.T) {
	_, err := NewPolar(TabuchiYamamoto, 4)
	assert.Error(t, err)
	_, err = NewPolar(Leonard, 1)
	assert.Error(t, err)
	_, err = NewPolar(TabuchiYamamoto, 0)
	assert.Error(t, err)
}
