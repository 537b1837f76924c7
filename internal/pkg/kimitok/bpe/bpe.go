package bpe

import (
	"container/heap"
	"fmt"
)

// RankTable is the read-only merge-rank lookup the merger runs against.
type RankTable interface {
	Rank(piece []byte) (int, bool)
}

// InconsistencyError means a merge produced a piece that the rank table does
// not contain. The table guarantees every merge result is itself an entry, so
// this indicates a corrupted or mismatched vocabulary and is fatal.
type InconsistencyError struct {
	Piece []byte
}

func (e *InconsistencyError) Error() string {
	return fmt.Sprintf("bpe: piece %q missing from rank table", e.Piece)
}

type span struct {
	prev, next int
	start, end int
}

type candidate struct {
	left, right int
	rank        int
	// ends at push time, used to drop candidates staled by later merges
	leftEnd, rightEnd int
}

type candidateHeap []*candidate

func (h candidateHeap) Len() int { return len(h) }

// Lowest rank first; the leftmost pair wins ties, which fixes the merge order
// completely.
func (h candidateHeap) Less(i, j int) bool {
	return h[i].rank < h[j].rank || (h[i].rank == h[j].rank && h[i].left < h[j].left)
}

func (h candidateHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *candidateHeap) Push(x any) { *h = append(*h, x.(*candidate)) }

func (h *candidateHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Encode merges the bytes of one chunk into rank ids. The concatenated
// byte-strings of the returned ranks always equal piece exactly.
func Encode(piece []byte, ranks RankTable) ([]int, error) {
	if len(piece) == 0 {
		return nil, nil
	}
	if rank, ok := ranks.Rank(piece); ok {
		return []int{rank}, nil
	}

	spans := make([]span, len(piece))
	for i := range spans {
		spans[i] = span{prev: i - 1, next: i + 1, start: i, end: i + 1}
	}

	pairwise := func(left, right int) *candidate {
		if left < 0 || right >= len(spans) {
			return nil
		}
		l, r := spans[left], spans[right]
		rank, ok := ranks.Rank(piece[l.start:r.end])
		if !ok {
			return nil
		}
		return &candidate{left: left, right: right, rank: rank, leftEnd: l.end, rightEnd: r.end}
	}

	pairs := candidateHeap{}
	for i := 0; i < len(spans)-1; i++ {
		if c := pairwise(i, i+1); c != nil {
			pairs = append(pairs, c)
		}
	}
	heap.Init(&pairs)

	for pairs.Len() > 0 {
		c := heap.Pop(&pairs).(*candidate)

		left, right := spans[c.left], spans[c.right]
		if left.next != c.right || left.end != c.leftEnd || right.end != c.rightEnd {
			continue
		}

		spans[c.left].end = right.end
		spans[c.left].next = right.next
		if right.next < len(spans) {
			spans[right.next].prev = c.left
		}
		spans[c.right] = span{}

		if next := pairwise(spans[c.left].prev, c.left); next != nil {
			heap.Push(&pairs, next)
		}
		if next := pairwise(c.left, spans[c.left].next); next != nil {
			heap.Push(&pairs, next)
		}
	}

	var ids []int
	for i := 0; i < len(spans); i = spans[i].next {
		rank, ok := ranks.Rank(piece[spans[i].start:spans[i].end])
		if !ok {
			return nil, &InconsistencyError{Piece: append([]byte(nil), piece[spans[i].start:spans[i].end]...)}
		}
		ids = append(ids, rank)
	}
	return ids, nil
}
