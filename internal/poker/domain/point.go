package domain

import (
	"strconv"

	apperrors "github.com/louisbranch/pointing.space/internal/errors"
)

// Point is a story point estimate drawn from the Fibonacci deck.
type Point int

// deck is the full set of points a vote or final estimate may carry.
var deck = [...]Point{1, 2, 3, 5, 8, 13, 21}

// Deck returns the allowed story point values in ascending order.
func Deck() []Point {
	points := make([]Point, len(deck))
	copy(points, deck[:])
	return points
}

// IsValid reports whether the point is a member of the Fibonacci deck.
func (p Point) IsValid() bool {
	for _, allowed := range deck {
		if p == allowed {
			return true
		}
	}
	return false
}

// ParsePoint converts a client-supplied value into a deck point.
func ParsePoint(raw int) (Point, error) {
	point := Point(raw)
	if !point.IsValid() {
		return 0, apperrors.WithMetadata(apperrors.CodeEstimateInvalidPoint,
			"story point is not in the deck",
			map[string]string{"value": strconv.Itoa(raw)})
	}
	return point, nil
}
