// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package ops

import (
	"fmt"
	"math"
	"math/rand/v2"
	"slices"
	"sync"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/symbolic/graph"
	"github.com/gomlx/symbolic/types/shapes"
	"github.com/gomlx/symbolic/types/tensors"
	"github.com/pkg/errors"
	"github.com/x448/float16"
)

// Distribution of the values generated by RandomOp.
type Distribution int

const (
	// DistUniform generates values uniformly in [A, B).
	DistUniform Distribution = iota

	// DistNormal generates values with mean A and standard deviation B.
	DistNormal
)

// String implements fmt.Stringer.
func (d Distribution) String() string {
	switch d {
	case DistUniform:
		return "uniform"
	case DistNormal:
		return "normal"
	}
	return fmt.Sprintf("Distribution(%d)", int(d))
}

// RandomStateSize is the number of Int64 values in a random state: the two seeds of a PCG generator.
const RandomStateSize = 2

// RandomOp samples random values of the given Distribution. It's a pure function of its operands: the
// random state (an Int64 vector of RandomStateSize values) and the Int64 vector of output dimensions.
// Its outputs are the next random state and the sample.
//
// It's never constant folded.
type RandomOp struct {
	Distribution  Distribution
	DType         dtypes.DType
	Broadcastable []bool
	A, B          float64
}

var (
	_ graph.Op               = (*RandomOp)(nil)
	_ graph.ConstantFoldable = (*RandomOp)(nil)
	_ graph.Differentiable   = (*RandomOp)(nil)
)

func (r *RandomOp) Name() string {
	return fmt.Sprintf("Random{%s,%g,%g}", r.Distribution, r.A, r.B)
}

func (r *RandomOp) Equal(other graph.Op) bool {
	o, ok := other.(*RandomOp)
	return ok && r.Distribution == o.Distribution && r.DType == o.DType &&
		slices.Equal(r.Broadcastable, o.Broadcastable) && r.A == o.A && r.B == o.B
}

func (r *RandomOp) Hash() uint64 {
	return graph.HashOp("Random", r.Distribution, r.DType, r.Broadcastable, r.A, r.B)
}

// CanConstantFold implements graph.ConstantFoldable.
func (r *RandomOp) CanConstantFold(*graph.Apply) bool { return false }

func (r *RandomOp) MakeNode(inputs ...*graph.Variable) *graph.Apply {
	if len(inputs) != 2 {
		panic(errors.Wrapf(graph.ErrTypeMismatch, "%s takes 2 operands, got %d", r.Name(), len(inputs)))
	}
	state, shape := inputs[0], inputs[1]
	if state.DType() != dtypes.Int64 || state.Rank() != 1 || shape.Rank() != 1 || !shape.DType().IsInt() {
		panic(errors.Wrapf(graph.ErrTypeMismatch, "%s requires an Int64 state vector and an integer shape vector, got %s and %s",
			r.Name(), state.Type, shape.Type))
	}
	if !r.DType.IsFloat() {
		panic(errors.Wrapf(graph.ErrTypeMismatch, "%s: random values must be floats, got %s", r.Name(), r.DType))
	}
	return graph.NewApply(r, inputs, graph.Vector(dtypes.Int64), graph.NewTensorType(r.DType, r.Broadcastable...))
}

func (r *RandomOp) Perform(node *graph.Apply, inputs []*tensors.Tensor) ([]*tensors.Tensor, error) {
	seeds := inputs[0].AsInt64s()
	if len(seeds) != RandomStateSize {
		return nil, errors.Wrapf(graph.ErrShapeMismatch, "%s: random state has %d values, wanted %d", r.Name(), len(seeds), RandomStateSize)
	}
	requested := inputs[1].AsInt64s()
	dims := make([]int, len(requested))
	for ii, dim := range requested {
		if dim < 0 {
			return nil, errors.Wrapf(graph.ErrShapeMismatch, "%s: invalid dimensions %v", r.Name(), requested)
		}
		dims[ii] = int(dim)
	}
	shape := shapes.Make(r.DType, dims...)
	if err := node.Outputs[1].Type.CheckShape(shape); err != nil {
		return nil, errors.WithMessagef(err, "%s", r.Name())
	}

	rng := rand.New(rand.NewPCG(uint64(seeds[0]), uint64(seeds[1])))
	values := make([]float64, shape.Size())
	for ii := range values {
		switch r.Distribution {
		case DistNormal:
			values[ii] = r.A + r.B*rng.NormFloat64()
		default:
			values[ii] = uniformBelow(r.DType, r.A, r.B, r.A+(r.B-r.A)*rng.Float64())
		}
	}
	newState := tensors.FromFlatDataAndDimensions([]int64{int64(rng.Uint64()), int64(rng.Uint64())}, RandomStateSize)
	return []*tensors.Tensor{newState, tensors.FromFloat64s(r.DType, dims, values)}, nil
}

// uniformBelow keeps a uniform sample in [low, high) once rounded to dtype.
func uniformBelow(dtype dtypes.DType, low, high, value float64) float64 {
	if high <= low {
		return value
	}
	switch dtype {
	case dtypes.Float32:
		if float32(value) >= float32(high) {
			return float64(math.Nextafter32(float32(high), float32(low)))
		}
	case dtypes.Float16:
		h := float16.Fromfloat32(float32(high))
		if float16.Fromfloat32(float32(value)).Float32() >= h.Float32() {
			return float64(float16Below(h).Float32())
		}
	}
	return value
}

// float16Below returns the largest float16 smaller than h.
func float16Below(h float16.Float16) float16.Float16 {
	bits := h.Bits()
	switch {
	case bits == 0 || bits == 0x8000:
		return float16.Frombits(0x8001)
	case bits&0x8000 == 0:
		return float16.Frombits(bits - 1)
	default:
		return float16.Frombits(bits + 1)
	}
}

// Grad implements graph.Differentiable: samples don't depend differentiably on the state or shape.
func (r *RandomOp) Grad(*graph.Apply, []*graph.Variable) []*graph.Variable {
	return []*graph.Variable{nil, nil}
}

// RandomStreams creates random variables, each with its own shared random state, whose default
// update advances the state. So a function using the random variables generates new values at
// each call.
//
// It's safe for concurrent use.
type RandomStreams struct {
	mu     sync.Mutex
	rng    *rand.Rand
	states []*graph.Variable
}

// NewRandomStreams creates a RandomStreams whose states are derived from the seed.
func NewRandomStreams(seed uint64) *RandomStreams {
	return &RandomStreams{rng: rand.New(rand.NewPCG(seed, seed^0x9E3779B97F4A7C15))}
}

func (rs *RandomStreams) nextState() *tensors.Tensor {
	return tensors.FromFlatDataAndDimensions([]int64{int64(rs.rng.Uint64()), int64(rs.rng.Uint64())}, RandomStateSize)
}

// Seed resets the master generator and all the states created so far.
func (rs *RandomStreams) Seed(seed uint64) error {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.rng = rand.New(rand.NewPCG(seed, seed^0x9E3779B97F4A7C15))
	for _, state := range rs.states {
		if err := state.SetValue(rs.nextState(), true); err != nil {
			return err
		}
	}
	return nil
}

// States returns the shared random states created so far.
func (rs *RandomStreams) States() []*graph.Variable {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return slices.Clone(rs.states)
}

func (rs *RandomStreams) sample(dist Distribution, dtype dtypes.DType, dims []int, a, b float64) *graph.Variable {
	rs.mu.Lock()
	state := graph.NewShared(rs.nextState(), fmt.Sprintf("random_state_%d", len(rs.states)))
	rs.states = append(rs.states, state)
	rs.mu.Unlock()

	broadcastable := make([]bool, len(dims))
	values := make([]int64, len(dims))
	for ii, dim := range dims {
		broadcastable[ii] = dim == 1
		values[ii] = int64(dim)
	}
	shape := graph.NewConstantOfType(tensors.FromFlatDataAndDimensions(values, len(values)), graph.Vector(dtypes.Int64), "")
	op := &RandomOp{Distribution: dist, DType: dtype, Broadcastable: broadcastable, A: a, B: b}
	node := graph.ApplyOp(op, state, shape)
	state.SetDefaultUpdate(node.Outputs[0])
	return node.Outputs[1]
}

// Uniform returns a random variable with values uniformly distributed in [low, high).
func (rs *RandomStreams) Uniform(dtype dtypes.DType, dims []int, low, high float64) *graph.Variable {
	return rs.sample(DistUniform, dtype, dims, low, high)
}

// Normal returns a random variable with values normally distributed with the given mean and standard deviation.
func (rs *RandomStreams) Normal(dtype dtypes.DType, dims []int, mean, stddev float64) *graph.Variable {
	return rs.sample(DistNormal, dtype, dims, mean, stddev)
}
