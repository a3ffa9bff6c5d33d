package rating

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestUpdate(t *testing.T) {
	cases := []struct {
		name         string
		a, b         int
		score        float64
		wantA, wantB int
	}{
		{"equal win", 1200, 1200, 1, 1216, 1184},
		{"equal draw", 1200, 1200, 0.5, 1200, 1200},
		{"underdog win", 1000, 1400, 1, 1029, 1371},
		{"favourite loss", 1400, 1000, 0, 1371, 1029},
		{"floor", 100, 100, 0, 100, 116},
		{"floor holds", 100, 500, 0, 100, 503},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			a, b := Update(tc.a, tc.b, tc.score, K)
			require.Equal(t, tc.wantA, a)
			require.Equal(t, tc.wantB, b)
		})
	}
}

func TestExpectedSymmetric(t *testing.T) {
	require.InDelta(t, 1.0, Expected(1500, 1300)+Expected(1300, 1500), 1e-9)
	require.InDelta(t, 0.5, Expected(900, 900), 1e-9)
}
