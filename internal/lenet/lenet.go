// Package lenet implements the LeNet convolutional network, used as the reference model to compare
// training runs across backends and mixed precision policies.
//
// The layer stack is fixed: two convolutions (with relu and average pooling) followed by three dense
// layers. Only the input size, number of channels and number of classes are configurable.
//
// Weights are initialized on the host from the "seed" hyperparameter, so two models created with the
// same hyperparameters have the same weights, regardless of the backend used later. Weights are
// always kept in Float32: when the AMP policy is enabled, they are converted to the reduced precision
// dtype only for the computation.
package lenet

import (
	"fmt"
	"github.com/chewxy/math32"
	"github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/ml/layers/activations"
	"github.com/gomlx/gomlx/ml/train/optimizers"
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/janpfeifer/lazyamp/internal/amp"
	"github.com/janpfeifer/lazyamp/internal/models"
	"github.com/janpfeifer/lazyamp/internal/parameters"
	"github.com/pkg/errors"
	"math/rand/v2"
	"strings"
)

// Hyperparameters keys.
const (
	ParamInputSize     = "input_size"
	ParamInputChannels = "input_channels"
	ParamNumClasses    = "num_classes"
	ParamSeed          = "seed"
)

// ModelName used for logging and in the variables scope.
const ModelName = "lenet"

const (
	conv1Filters, conv2Filters = 6, 16
	kernelSize                 = 5
	hidden1, hidden2           = 120, 84
)

// LeNet model. It implements models.Model.
type LeNet struct {
	ctx *context.Context
}

// Compile-time assert that LeNet implements models.Model.
var _ models.Model = &LeNet{}

// New creates a LeNet with a fresh context, with hyperparameters set to their defaults, overwritten
// by the ones given in params (it can be nil), and the weights initialized from the seed.
//
// If params has the key "help", it logs the hyperparameters and their defaults, and returns an error.
func New(params parameters.Params) (*LeNet, error) {
	m := &LeNet{ctx: newContext()}
	if models.HelpRequested(params) {
		models.WriteHyperparametersHelp(ModelName, m.ctx)
		return nil, errors.Errorf("model %s help requested", ModelName)
	}
	if err := models.ExtractParams(ModelName, params, m.ctx); err != nil {
		return nil, err
	}
	if err := m.validate(); err != nil {
		return nil, err
	}
	m.initWeights()
	return m, nil
}

// newContext with the default hyperparameters.
func newContext() *context.Context {
	ctx := context.New()
	ctx.SetParams(map[string]any{
		ParamInputSize:     28,
		ParamInputChannels: 1,
		ParamNumClasses:    10,
		ParamSeed:          42,

		optimizers.ParamOptimizer:    "sgd",
		optimizers.ParamLearningRate: 0.001,
	})
	return ctx.Checked(false)
}

// Name implements models.Model.
func (m *LeNet) Name() string { return ModelName }

// Context implements models.Model.
func (m *LeNet) Context() *context.Context { return m.ctx }

// String implements fmt.Stringer.
func (m *LeNet) String() string {
	return fmt.Sprintf("%s(input=%dx%dx%d, classes=%d)", ModelName,
		m.InputSize(), m.InputSize(), m.InputChannels(), m.NumClasses())
}

// InputSize is the height and width of the input images.
func (m *LeNet) InputSize() int { return context.GetParamOr(m.ctx, ParamInputSize, 28) }

// InputChannels is the number of channels of the input images.
func (m *LeNet) InputChannels() int { return context.GetParamOr(m.ctx, ParamInputChannels, 1) }

// NumClasses is the number of logits output by the model.
func (m *LeNet) NumClasses() int { return context.GetParamOr(m.ctx, ParamNumClasses, 10) }

// flattenedSize is the number of features after the last pooling.
func (m *LeNet) flattenedSize() int {
	spatial := (m.InputSize()/2 - (kernelSize - 1)) / 2
	return spatial * spatial * conv2Filters
}

func (m *LeNet) validate() error {
	if m.InputChannels() <= 0 || m.NumClasses() <= 0 {
		return errors.Errorf("model %s: %s and %s must be > 0, got %d and %d", ModelName,
			ParamInputChannels, ParamNumClasses, m.InputChannels(), m.NumClasses())
	}
	if m.InputSize()/2-(kernelSize-1) < 2 {
		return errors.Errorf("model %s: %s=%d is too small, it must be at least %d", ModelName,
			ParamInputSize, m.InputSize(), 2*(kernelSize+1))
	}
	return nil
}

// weightSpec describes one of the model weights.
type weightSpec struct {
	layer, name string
	dims        []int
	fanIn       int
}

// weightSpecs lists the model weights, in the order they are initialized.
func (m *LeNet) weightSpecs() []weightSpec {
	inChannels := m.InputChannels()
	flat := m.flattenedSize()
	return []weightSpec{
		{"conv1", "weights", []int{kernelSize, kernelSize, inChannels, conv1Filters}, kernelSize * kernelSize * inChannels},
		{"conv2", "weights", []int{kernelSize, kernelSize, conv1Filters, conv2Filters}, kernelSize * kernelSize * conv1Filters},
		{"dense1", "weights", []int{flat, hidden1}, flat},
		{"dense1", "biases", []int{hidden1}, flat},
		{"dense2", "weights", []int{hidden1, hidden2}, hidden1},
		{"dense2", "biases", []int{hidden2}, hidden1},
		{"dense3", "weights", []int{hidden2, m.NumClasses()}, hidden2},
		{"dense3", "biases", []int{m.NumClasses()}, hidden2},
	}
}

// initWeights creates all the variables with values sampled uniformly from ±1/sqrt(fanIn).
func (m *LeNet) initWeights() {
	seed := uint64(context.GetParamOr(m.ctx, ParamSeed, 42))
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	modelCtx := m.ctx.In(ModelName)
	for _, ls := range m.weightSpecs() {
		size := 1
		for _, dim := range ls.dims {
			size *= dim
		}
		bound := 1 / math32.Sqrt(float32(ls.fanIn))
		values := make([]float32, size)
		for ii := range values {
			values[ii] = (2*rng.Float32() - 1) * bound
		}
		modelCtx.In(ls.layer).VariableWithValue(ls.name, tensors.FromFlatDataAndDimensions(values, ls.dims...))
	}
}

// Clone implements models.Model.
func (m *LeNet) Clone() (models.Model, error) {
	newM := &LeNet{ctx: context.New().Checked(false)}
	models.CopyParams(m.ctx, newM.ctx)
	scopePrefix := context.RootScope + ModelName
	var err error
	m.ctx.EnumerateVariables(func(v *context.Variable) {
		if err != nil || !strings.HasPrefix(v.Scope(), scopePrefix) {
			return
		}
		value := v.Value()
		if value == nil {
			err = errors.Errorf("model %s: variable %s/%s has no value", ModelName, v.Scope(), v.Name())
			return
		}
		if value.DType() != dtypes.Float32 {
			err = errors.Errorf("model %s: variable %s/%s has dtype %s, expected Float32",
				ModelName, v.Scope(), v.Name(), value.DType())
			return
		}
		copied := tensors.FromFlatDataAndDimensions(tensors.CopyFlatData[float32](value), value.Shape().Dimensions...)
		newM.ctx.InAbsPath(v.Scope()).VariableWithValue(v.Name(), copied)
	})
	if err != nil {
		return nil, err
	}
	return newM, nil
}

// weightsGraph returns the node of the variable layer/name, converted to dtype.
func weightsGraph(ctx *context.Context, g *Graph, layer, name string, dtype dtypes.DType) *Node {
	layerCtx := ctx.In(ModelName).In(layer)
	v := layerCtx.GetVariableByScopeAndName(layerCtx.Scope(), name)
	if v == nil {
		exceptions.Panicf("model %s: variable %s/%s not found, was the model created with lenet.New ?",
			ModelName, layerCtx.Scope(), name)
	}
	w := v.ValueGraph(g)
	if w.DType() != dtype {
		w = ConvertDType(w, dtype)
	}
	return w
}

// dense layer: x @ weights + biases.
func dense(ctx *context.Context, x *Node, layer string) *Node {
	g := x.Graph()
	dtype := x.DType()
	w := weightsGraph(ctx, g, layer, "weights", dtype)
	b := weightsGraph(ctx, g, layer, "biases", dtype)
	return Add(Einsum("bi,io->bo", x, w), ExpandAxes(b, 0))
}

// conv layer without bias, channels last.
func conv(ctx *context.Context, x *Node, layer string, padSame bool) *Node {
	kernel := weightsGraph(ctx, x.Graph(), layer, "weights", x.DType())
	cfg := Convolve(x, kernel)
	if padSame {
		cfg = cfg.PadSame()
	} else {
		cfg = cfg.NoPadding()
	}
	return cfg.Done()
}

// ForwardGraph implements models.Model. inputs[0] are the images, shaped [batch, size, size, channels].
func (m *LeNet) ForwardGraph(ctx *context.Context, policy amp.Policy, inputs []*Node) *Node {
	images := inputs[0]
	batchSize := images.Shape().Dim(0)
	images.AssertDims(batchSize, m.InputSize(), m.InputSize(), m.InputChannels())

	x := images
	if computeDType := policy.ComputeDType(); x.DType() != computeDType {
		x = ConvertDType(x, computeDType)
	}
	x = conv(ctx, x, "conv1", true)
	x = activations.Relu(x)
	x = MeanPool(x).Window(2).Done()
	x = conv(ctx, x, "conv2", false)
	x = activations.Relu(x)
	x = MeanPool(x).Window(2).Done()
	x = Reshape(x, batchSize, m.flattenedSize())
	x = dense(ctx, x, "dense1")
	x = dense(ctx, x, "dense2")
	x = dense(ctx, x, "dense3")
	if x.DType() != dtypes.Float32 {
		x = ConvertDType(x, dtypes.Float32)
	}
	x.AssertDims(batchSize, m.NumClasses())
	return x
}

// LossGraph implements models.Model: -sum(logits * labels) / batch_size, where labels[0] are the one-hot
// encoded labels, shaped [batch, num_classes].
func (m *LeNet) LossGraph(ctx *context.Context, policy amp.Policy, inputs []*Node, labels []*Node) *Node {
	logits := m.ForwardGraph(ctx, policy, inputs)
	oneHot := labels[0]
	if oneHot.DType() != logits.DType() {
		oneHot = ConvertDType(oneHot, logits.DType())
	}
	batchSize := logits.Shape().Dim(0)
	return DivScalar(Neg(ReduceAllSum(Mul(logits, oneHot))), float64(batchSize))
}
