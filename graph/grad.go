package graph

import (
	"github.com/gomlx/exceptions"
)

// Gradient computes reverse-mode gradients of output with respect to each
// of the wrt nodes, seeding the accumulation with outputGrad (typically a
// tensor of ones, or the gradient flowing in from a larger graph). The
// result holds one node per wrt entry; entries that do not influence
// output are nil.
func Gradient(output, outputGrad *Node, wrt ...*Node) []*Node {
	var order []*Node
	visited := make(map[*Node]bool)
	var visit func(n *Node)
	visit = func(n *Node) {
		if visited[n] {
			return
		}
		visited[n] = true
		for _, input := range n.inputs {
			visit(input)
		}
		order = append(order, n)
	}
	visit(output)

	grads := map[*Node]*Node{output: outputGrad}
	for i := len(order) - 1; i >= 0; i-- {
		n := order[i]
		g := grads[n]
		if g == nil || len(n.inputs) == 0 {
			continue
		}
		diff, ok := n.op.(Differentiable)
		if !ok {
			continue
		}
		inputGrads := diff.VJP(n, g)
		if len(inputGrads) != len(n.inputs) {
			exceptions.Panicf("graph.Gradient: op %s returned %d gradients for %d inputs",
				n.op.Name(), len(inputGrads), len(n.inputs))
		}
		for j, inputGrad := range inputGrads {
			if inputGrad == nil {
				continue
			}
			input := n.inputs[j]
			if prev := grads[input]; prev != nil {
				grads[input] = Add(prev, inputGrad)
			} else {
				grads[input] = inputGrad
			}
		}
	}

	out := make([]*Node, len(wrt))
	for i, x := range wrt {
		out[i] = grads[x]
	}
	return out
}
