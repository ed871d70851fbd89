package loader

import (
	"bytes"
	"container/heap"

	"go.viam.com/ooc/octree"
)

type candidate[P any] struct {
	octant        *octree.Octant[P]
	projectedSize float64
}

// candidateQueue is a max-heap on projected size. Equal sizes are ordered by octant ID so that no
// candidate is lost and the order is deterministic.
type candidateQueue[P any] []candidate[P]

func (q candidateQueue[P]) Len() int { return len(q) }

func (q candidateQueue[P]) Less(i, j int) bool {
	if q[i].projectedSize != q[j].projectedSize {
		return q[i].projectedSize > q[j].projectedSize
	}
	return bytes.Compare(q[i].octant.ID[:], q[j].octant.ID[:]) < 0
}

func (q candidateQueue[P]) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *candidateQueue[P]) Push(x any) {
	*q = append(*q, x.(candidate[P]))
}

func (q *candidateQueue[P]) Pop() any {
	old := *q
	n := len(old)
	c := old[n-1]
	old[n-1] = candidate[P]{}
	*q = old[:n-1]
	return c
}

func (q *candidateQueue[P]) push(c candidate[P]) {
	heap.Push(q, c)
}

func (q *candidateQueue[P]) pop() candidate[P] {
	return heap.Pop(q).(candidate[P])
}
