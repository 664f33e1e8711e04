package simindex

import (
	"math"
	"strconv"
)

// unit returns v scaled to unit length, or ErrInvalidVector.
func unit(v []float32) ([]float32, error) {
	var sum float64
	for _, x := range v {
		f := float64(x)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, ErrInvalidVector
		}
		sum += f * f
	}
	norm := math.Sqrt(sum)
	if norm == 0 || math.IsInf(norm, 0) {
		return nil, ErrInvalidVector
	}
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out, nil
}

// unitSlack absorbs the float32 rounding of unit vectors, which leaves the
// dot product of identical directions a few ulps below 1.
const unitSlack = 1e-6

// score is the cosine similarity of two unit vectors clamped to [0,1].
// Opposed vectors score 0, never negative. Identical directions score
// exactly 1.
func score(a, b []float32) float64 {
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	if dot >= 1-unitSlack {
		return 1
	}
	return max(dot, 0)
}

// ticketKey orders ticket ids: numerically when both are decimal integers,
// lexicographically otherwise. Equal numbers fall back to the lexicographic
// order, so "007" sorts before "7".
type ticketKey struct {
	id    string
	num   int64
	isNum bool
}

func newTicketKey(id string) ticketKey {
	n, err := strconv.ParseInt(id, 10, 64)
	return ticketKey{id: id, num: n, isNum: err == nil}
}

func (k ticketKey) compare(o ticketKey) int {
	if k.isNum && o.isNum && k.num != o.num {
		if k.num < o.num {
			return -1
		}
		return 1
	}
	switch {
	case k.id < o.id:
		return -1
	case k.id > o.id:
		return 1
	}
	return 0
}

// CompareIDs orders ticket ids the way query results are ordered.
func CompareIDs(a, b string) int {
	return newTicketKey(a).compare(newTicketKey(b))
}
