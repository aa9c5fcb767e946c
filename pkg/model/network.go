// Package model loads the signed neural-network package and serves
// predictions. A model that fails any integrity check is never installed;
// prediction then degrades to the uniform prior with the fallback flag set,
// leaving the rule engine and reasoning layers to carry the verdict.
package model

import (
	"fmt"
	"math"
)

type layer struct {
	weights [][]float64 // [out][in]
	biases  []float64
}

// Network is an immutable feed-forward classifier. Hidden layers use the
// configured activation; the output layer is always softmax.
type Network struct {
	layers     []layer
	activation string
}

// Predict runs the forward pass and returns a probability vector summing
// to 1.
func (n *Network) Predict(input []float64) []float64 {
	act := input
	for i, l := range n.layers {
		out := make([]float64, len(l.biases))
		for j := range out {
			sum := l.biases[j]
			row := l.weights[j]
			for k, v := range act {
				sum += row[k] * v
			}
			out[j] = sum
		}
		if i < len(n.layers)-1 {
			applyActivation(out, n.activation)
		}
		act = out
	}
	return softmax(act)
}

// Topology returns the layer widths including the input width.
func (n *Network) Topology() []int {
	if len(n.layers) == 0 {
		return nil
	}
	sizes := []int{len(n.layers[0].weights[0])}
	for _, l := range n.layers {
		sizes = append(sizes, len(l.biases))
	}
	return sizes
}

func applyActivation(v []float64, name string) {
	switch name {
	case "relu":
		for i, x := range v {
			if x < 0 {
				v[i] = 0
			}
		}
	case "sigmoid":
		for i, x := range v {
			// Clip the pre-activation so Exp never overflows.
			if x > 30 {
				x = 30
			} else if x < -30 {
				x = -30
			}
			v[i] = 1.0 / (1.0 + math.Exp(-x))
		}
	case "tanh":
		for i, x := range v {
			v[i] = math.Tanh(x)
		}
	default:
		// Unknown activation degrades to linear.
	}
}

func softmax(v []float64) []float64 {
	if len(v) == 0 {
		return v
	}
	max := v[0]
	for _, x := range v[1:] {
		if x > max {
			max = x
		}
	}
	out := make([]float64, len(v))
	sum := 0.0
	for i, x := range v {
		out[i] = math.Exp(x - max)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

// validateShape checks layer dimensional consistency against the configured
// topology (input width, hidden widths, output width).
func (n *Network) validateShape(sizes []int) error {
	if len(sizes) < 2 {
		return fmt.Errorf("topology needs at least input and output widths")
	}
	if len(n.layers) != len(sizes)-1 {
		return fmt.Errorf("%d layers, topology wants %d", len(n.layers), len(sizes)-1)
	}
	for i, l := range n.layers {
		if len(l.weights) != sizes[i+1] || len(l.biases) != sizes[i+1] {
			return fmt.Errorf("layer %d: %d rows / %d biases, want %d", i, len(l.weights), len(l.biases), sizes[i+1])
		}
		for j, row := range l.weights {
			if len(row) != sizes[i] {
				return fmt.Errorf("layer %d row %d: width %d, want %d", i, j, len(row), sizes[i])
			}
		}
	}
	return nil
}
