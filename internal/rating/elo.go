// Package rating implements the Elo update used after rated games.
package rating

import "math"

const (
	K     = 32
	Floor = 100
)

// Expected is A's expected score against B.
func Expected(a, b int) float64 {
	return 1 / (1 + math.Pow(10, float64(b-a)/400))
}

// Update returns the new ratings of A and B after A scored scoreA (1, 0.5 or 0).
// Results round half up and never drop below Floor.
func Update(a, b int, scoreA float64, k int) (int, int) {
	expA := Expected(a, b)
	expB := 1 - expA
	newA := float64(a) + float64(k)*(scoreA-expA)
	newB := float64(b) + float64(k)*((1-scoreA)-expB)
	return clamp(newA), clamp(newB)
}

func clamp(x float64) int {
	return max(Floor, int(math.Floor(x+0.5)))
}
