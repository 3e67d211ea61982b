package shapes

import "iter"

// Iter iterates over all possible indices of the given shape, in row-major order.
// To avoid allocating the slice of indices, the yielded indices is owned by the Iter() method:
// don't change it inside the loop.
//
// Shapes with a zero dimension yield nothing.
func (s Shape) Iter() iter.Seq[[]int] {
	return func(yield func([]int) bool) {
		if !s.Ok() {
			return
		}
		rank := s.Rank()
		if rank == 0 {
			_ = yield(make([]int, 0))
			return
		}
		if s.Size() == 0 {
			return
		}

		indices := make([]int, rank)
		for {
			if !yield(indices) {
				return
			}
			// Increment indices, the last axis changes fastest.
			axis := rank - 1
			for ; axis >= 0; axis-- {
				indices[axis]++
				if indices[axis] < s.Dimensions[axis] {
					break
				}
				indices[axis] = 0
			}
			if axis < 0 {
				return
			}
		}
	}
}

// IterFlatWithStrides iterates over the flat indices of the shape, and for each of them it yields
// also the flat index computed with the given strides. It's used to read broadcast or transposed
// operands: a stride of 0 repeats the same element along the axis.
func (s Shape) IterFlatWithStrides(strides []int) iter.Seq2[int, int] {
	return func(yield func(int, int) bool) {
		flatIdx := 0
		for indices := range s.Iter() {
			var stridedIdx int
			for axis, idx := range indices {
				stridedIdx += idx * strides[axis]
			}
			if !yield(flatIdx, stridedIdx) {
				return
			}
			flatIdx++
		}
	}
}
