package simindex

import (
	"container/heap"
	"slices"
)

type hit struct {
	e     *entry
	score float64
}

// better reports whether a ranks before b: higher score first, then
// ascending ticket id.
func better(a, b hit) bool {
	if a.score != b.score {
		return a.score > b.score
	}
	return a.e.key.compare(b.e.key) < 0
}

// topK keeps the k best hits seen so far. The root is the worst kept hit.
type topK struct {
	k    int
	hits []hit
}

func (t *topK) Len() int           { return len(t.hits) }
func (t *topK) Less(i, j int) bool { return better(t.hits[j], t.hits[i]) }
func (t *topK) Swap(i, j int)      { t.hits[i], t.hits[j] = t.hits[j], t.hits[i] }
func (t *topK) Push(x any)         { t.hits = append(t.hits, x.(hit)) }
func (t *topK) Pop() any {
	n := len(t.hits) - 1
	h := t.hits[n]
	t.hits = t.hits[:n]
	return h
}

func (t *topK) offer(h hit) {
	if len(t.hits) < t.k {
		heap.Push(t, h)
		return
	}
	if better(h, t.hits[0]) {
		t.hits[0] = h
		heap.Fix(t, 0)
	}
}

// results returns the kept hits in rank order.
func (t *topK) results() []Result {
	slices.SortFunc(t.hits, func(a, b hit) int {
		if better(a, b) {
			return -1
		}
		if better(b, a) {
			return 1
		}
		return 0
	})
	out := make([]Result, len(t.hits))
	for i, h := range t.hits {
		out[i] = Result{
			TicketID:  h.e.id,
			Score:     h.score,
			Rank:      i + 1,
			Text:      h.e.text,
			CreatedAt: h.e.createdAt,
		}
	}
	return out
}
