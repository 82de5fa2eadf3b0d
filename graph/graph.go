// Package graph is a minimal symbolic expression graph: enough structure to
// build convolution expressions over tensors with partially-known shapes,
// differentiate them, and execute them directly for validation.
//
// Construction-time failures (rank or dtype mismatches, invalid parameters)
// panic with an error via the exceptions package; evaluation-time failures
// return errors.
package graph

import (
	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"

	"github.com/symconv/symconv/types/shapes"
	"github.com/symconv/symconv/types/tensor"
)

// Op defines one node kind: how its output shape follows from the input
// shapes, and how to compute its value from input values. Unknown input
// dimensions must propagate through InferShape, never fail it.
type Op interface {
	Name() string
	InferShape(inputs []shapes.Shape) (shapes.Shape, error)
	Perform(inputs []*tensor.Tensor) (*tensor.Tensor, error)
}

// Differentiable is implemented by ops that can backpropagate: VJP returns
// one gradient node per input (nil for non-differentiable inputs), given
// the node itself and the gradient flowing into its output.
type Differentiable interface {
	Op
	VJP(node *Node, outputGrad *Node) []*Node
}

// Node is one vertex of the expression graph. Nodes are immutable after
// construction and may be shared freely.
type Node struct {
	op     Op
	inputs []*Node
	shape  shapes.Shape
}

// NewNode builds a node, inferring its shape. It panics if the op rejects
// the input shapes.
func NewNode(op Op, inputs ...*Node) *Node {
	inputShapes := make([]shapes.Shape, len(inputs))
	for i, input := range inputs {
		inputShapes[i] = input.shape
	}
	shape, err := op.InferShape(inputShapes)
	if err != nil {
		panic(errors.WithMessagef(err, "graph: %s", op.Name()))
	}
	return &Node{op: op, inputs: inputs, shape: shape}
}

// Op returns the node's operation.
func (n *Node) Op() Op { return n.op }

// Inputs returns the node's inputs. The slice must not be modified.
func (n *Node) Inputs() []*Node { return n.inputs }

// Shape returns the inferred (possibly partially unknown) shape.
func (n *Node) Shape() shapes.Shape { return n.shape }

// variableOp is the leaf op of placeholders bound at Eval time.
type variableOp struct {
	name  string
	shape shapes.Shape
}

func (op *variableOp) Name() string { return "Variable(" + op.name + ")" }

func (op *variableOp) InferShape([]shapes.Shape) (shapes.Shape, error) {
	return op.shape, nil
}

func (op *variableOp) Perform([]*tensor.Tensor) (*tensor.Tensor, error) {
	return nil, errors.Errorf("variable %q has no binding", op.name)
}

// Variable creates a placeholder leaf with a (possibly partially unknown)
// shape, to be bound at Eval time.
func Variable(name string, shape shapes.Shape) *Node {
	return NewNode(&variableOp{name: name, shape: shape})
}

// constOp is the leaf op of embedded literal tensors.
type constOp struct {
	value *tensor.Tensor
}

func (op *constOp) Name() string { return "Const" }

func (op *constOp) InferShape([]shapes.Shape) (shapes.Shape, error) {
	return op.value.Shape(), nil
}

func (op *constOp) Perform([]*tensor.Tensor) (*tensor.Tensor, error) {
	return op.value, nil
}

// Const embeds a literal tensor into the graph.
func Const(value *tensor.Tensor) *Node {
	return NewNode(&constOp{value: value})
}

// ConstScalar embeds a scalar int64, used for dimension arithmetic in
// runtime assertions.
func ConstScalar(value int64) *Node {
	return Const(tensor.FromFlatAny([]int64{value}))
}

// ConstValue returns the embedded tensor if the node is a Const leaf, else
// nil. This is the "get this value if it is a compile-time constant"
// service used by the composition layer.
func ConstValue(n *Node) *tensor.Tensor {
	if op, ok := n.op.(*constOp); ok {
		return op.value
	}
	return nil
}

// Eval computes the value of root, binding variables (or overriding any
// node) from bindings. Each call memoizes independently; no state is shared
// across calls, so concurrent Evals of a shared graph are safe.
func Eval(root *Node, bindings map[*Node]*tensor.Tensor) (*tensor.Tensor, error) {
	memo := make(map[*Node]*tensor.Tensor)
	return eval(root, bindings, memo)
}

func eval(n *Node, bindings, memo map[*Node]*tensor.Tensor) (*tensor.Tensor, error) {
	if value, ok := memo[n]; ok {
		return value, nil
	}
	if value, ok := bindings[n]; ok {
		if !n.shape.MatchesKnown(value.Dims()) || n.shape.DType != value.DType() {
			return nil, errors.Errorf("graph: binding for %s has shape %s, node expects %s",
				n.op.Name(), value.Shape(), n.shape)
		}
		memo[n] = value
		return value, nil
	}
	inputs := make([]*tensor.Tensor, len(n.inputs))
	for i, input := range n.inputs {
		value, err := eval(input, bindings, memo)
		if err != nil {
			return nil, err
		}
		inputs[i] = value
	}
	value, err := evalPerform(n, inputs)
	if err != nil {
		return nil, err
	}
	if !n.shape.MatchesKnown(value.Dims()) {
		return nil, errors.Errorf("graph: %s produced shape %v, inferred %s",
			n.op.Name(), value.Dims(), n.shape)
	}
	memo[n] = value
	return value, nil
}

// evalPerform runs an op, converting panics from the tensor layer into
// errors so a bad binding cannot take down the caller.
func evalPerform(n *Node, inputs []*tensor.Tensor) (*tensor.Tensor, error) {
	var value *tensor.Tensor
	var performErr error
	if err := exceptions.TryCatch[error](func() {
		value, performErr = n.op.Perform(inputs)
	}); err != nil {
		return nil, errors.WithMessagef(err, "graph: %s failed", n.op.Name())
	}
	if performErr != nil {
		return nil, errors.WithMessagef(performErr, "graph: %s failed", n.op.Name())
	}
	return value, nil
}
