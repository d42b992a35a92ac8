// Package models defines the interface of GoMLX models that can be trained and verified by the trainer.
package models

import (
	"github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/janpfeifer/lazyamp/internal/amp"
)

// Model is a GoMLX supported model.
type Model interface {
	// Name of the model, used for logging.
	Name() string

	// Context used by the model: with both its weights and hyperparameters.
	Context() *context.Context

	// Clone returns a deep copy of the model: hyperparameters and weights.
	// The clone shares nothing with the original, so both can be trained independently.
	Clone() (Model, error)

	// ForwardGraph is the GoMLX model graph function with the forward path.
	// It must return the logits shaped [batch_size, num_classes], in Float32.
	//
	// The policy is resolved when the graph is traced: a graph traced with AMP enabled
	// computes selected operations in policy.DType.
	ForwardGraph(ctx *context.Context, policy amp.Policy, inputs []*graph.Node) *graph.Node

	// LossGraph calculates the loss given the inputs and the labels.
	// It must return a scalar with the loss value.
	LossGraph(ctx *context.Context, policy amp.Policy, inputs []*graph.Node, labels []*graph.Node) *graph.Node
}
