package utils

import (
	"math"

	"shooting/server/domain"
)

func FiniteVector(v domain.Vector) bool {
	return IsFinite(v.X) && IsFinite(v.Y)
}

func IsFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
