// Package trainer implements the supervised training loop used to compare models across backends and
// mixed precision policies.
//
// Every training step runs inside an amp.Autocast scope requesting Config.AMP, and the policy of the
// step is resolved inside that scope: from the AMP setting carried by the context.Context given to
// Train, if any, or otherwise from the backend flag the scope just set. Since GoMLX traces and compiles
// the graph lazily, on the first call with a given input shape, the trainer keeps one executor per
// policy.
//
// Concurrent trainings sharing the process-wide flag should each carry their setting with
// amp.NewContext.
package trainer

import (
	"context"
	"fmt"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/graph"
	mlctx "github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/ml/context/checkpoints"
	"github.com/gomlx/gomlx/ml/train"
	"github.com/gomlx/gomlx/ml/train/optimizers"
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/janpfeifer/lazyamp/internal/amp"
	"github.com/janpfeifer/lazyamp/internal/generics"
	"github.com/janpfeifer/lazyamp/internal/models"
	"github.com/pkg/errors"
	"io"
	"k8s.io/klog/v2"
	"os"
	"sync"
)

// Trainer trains a private copy of a model.
type Trainer struct {
	backend  backends.Backend
	model    models.Model
	cfg      Config
	autocast *amp.Autocast

	// optimizer used when training the model.
	optimizer optimizers.Interface

	// checkpoint handler, if model is being saved/loaded to/from disk.
	checkpoint *checkpoints.Handler

	// muExecs protects the executors maps and numInputs.
	muExecs                   sync.Mutex
	trainStepExecs, evalExecs map[amp.Policy]*mlctx.Exec

	// numInputs is the number of input tensors (the remaining are labels), defined by the first batch.
	// Before that it is -1.
	numInputs int

	// NumCompilations of computation graphs.
	NumCompilations int

	// OnEpoch, if set, is called at the end of each epoch with its average loss.
	OnEpoch func(epoch int, loss float64)

	// EpochWriter, if not nil, gets a line "Epoch %2d, Loss %.4f" at the end of each epoch.
	// It defaults to os.Stdout.
	EpochWriter io.Writer
}

// New creates a Trainer for a clone of model: the given model is not changed by training.
func New(backend backends.Backend, model models.Model, cfg Config) (*Trainer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cloned, err := model.Clone()
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to clone model %s for training", model.Name())
	}
	t := &Trainer{
		backend:        backend,
		model:          cloned,
		cfg:            cfg,
		autocast:       amp.New(cfg.AMP),
		trainStepExecs: make(map[amp.Policy]*mlctx.Exec),
		evalExecs:      make(map[amp.Policy]*mlctx.Exec),
		numInputs:      -1,
		EpochWriter:    os.Stdout,
	}
	if cfg.CheckpointDir != "" {
		t.checkpoint, err = checkpoints.
			Build(cloned.Context()).
			Dir(cfg.CheckpointDir).
			Keep(cfg.CheckpointsToKeep).
			Immediate().
			Done()
		if err != nil {
			return nil, errors.WithMessagef(err, "failed to build checkpoint for model %s in %s",
				model.Name(), cfg.CheckpointDir)
		}
	}
	t.optimizer = optimizers.FromContext(cloned.Context())
	return t, nil
}

// String implements fmt.Stringer.
func (t *Trainer) String() string {
	return fmt.Sprintf("trainer(%s@%s, %s)", t.model.Name(), t.backend.Name(), t.autocast)
}

// Model being trained. It's a clone of the model given to New.
func (t *Trainer) Model() models.Model {
	return t.model
}

// Train creates a Trainer for model and trains it over ds, returning the average loss of each epoch.
func Train(ctx context.Context, backend backends.Backend, model models.Model, ds train.Dataset, cfg Config) ([]float64, error) {
	t, err := New(backend, model, cfg)
	if err != nil {
		return nil, err
	}
	defer t.Finalize()
	return t.Train(ctx, ds)
}

// Train runs the configured number of epochs over ds, and returns the average loss of each epoch,
// weighted by the batch sizes.
//
// An AMP setting carried by ctx (see amp.NewContext) takes precedence over Config.AMP.
//
// If ctx is cancelled, it returns the losses of the completed epochs and the context error.
func (t *Trainer) Train(ctx context.Context, ds train.Dataset) (epochLosses []float64, err error) {
	backend := t.autocast.Registry().Backend()
	for epoch := range t.cfg.Epochs {
		ds.Reset()
		var runningLoss float64
		var numExamples int
		for {
			if ctx.Err() != nil {
				return epochLosses, errors.WithMessagef(ctx.Err(), "%s interrupted at epoch %d", t, epoch)
			}
			_, inputs, labels, yieldErr := ds.Yield()
			if yieldErr == io.EOF {
				break
			}
			if yieldErr != nil {
				return epochLosses, errors.WithMessagef(yieldErr, "%s: reading dataset %q", t, ds.Name())
			}
			var loss float32
			err = t.autocast.Do(func() error {
				var stepErr error
				loss, stepErr = t.TrainStep(amp.PolicyFor(ctx, backend), inputs, labels)
				return stepErr
			})
			if err != nil {
				return epochLosses, err
			}
			batchSize := inputs[0].Shape().Dim(0)
			runningLoss += float64(loss) * float64(batchSize)
			numExamples += batchSize
		}
		if numExamples == 0 {
			return epochLosses, errors.Errorf("%s: dataset %q yielded no examples", t, ds.Name())
		}
		epochLoss := runningLoss / float64(numExamples)
		klog.V(1).Infof("%s: Epoch %2d, Loss %.4f", t, epoch, epochLoss)
		if t.EpochWriter != nil {
			_, _ = fmt.Fprintf(t.EpochWriter, "Epoch %2d, Loss %.4f\n", epoch, epochLoss)
		}
		epochLosses = append(epochLosses, epochLoss)
		if t.OnEpoch != nil {
			t.OnEpoch(epoch, epochLoss)
		}
	}
	if t.checkpoint != nil {
		if err = t.checkpoint.Save(); err != nil {
			return epochLosses, errors.WithMessagef(err, "%s: failed to save checkpoint", t)
		}
	}
	return epochLosses, nil
}

// TrainStep performs one training step with the given batch, using the executor for policy.
// It returns the loss of the batch, before the update.
func (t *Trainer) TrainStep(policy amp.Policy, inputs, labels []*tensors.Tensor) (loss float32, err error) {
	exec, err := t.exec(policy, true, len(inputs))
	if err != nil {
		return 0, err
	}
	err = exceptions.TryCatch[error](func() {
		lossT := exec.Call(t.donate(inputs, labels)...)[0]
		loss = tensors.ToScalar[float32](lossT)
	})
	if err != nil {
		return 0, errors.WithMessagef(err, "%s: training step with %s failed", t, policy)
	}
	return loss, nil
}

// Evaluate returns the fraction of the examples of ds whose largest logit matches the label.
func (t *Trainer) Evaluate(policy amp.Policy, ds train.Dataset) (accuracy float64, err error) {
	ds.Reset()
	var numCorrect, numExamples int
	for {
		_, inputs, labels, yieldErr := ds.Yield()
		if yieldErr == io.EOF {
			break
		}
		if yieldErr != nil {
			return 0, errors.WithMessagef(yieldErr, "%s: reading dataset %q", t, ds.Name())
		}
		exec, err := t.exec(policy, false, len(inputs))
		if err != nil {
			return 0, err
		}
		err = exceptions.TryCatch[error](func() {
			correctT := exec.Call(t.donate(inputs, labels)...)[0]
			numCorrect += int(tensors.ToScalar[int32](correctT))
		})
		if err != nil {
			return 0, errors.WithMessagef(err, "%s: evaluation with %s failed", t, policy)
		}
		numExamples += inputs[0].Shape().Dim(0)
	}
	if numExamples == 0 {
		return 0, errors.Errorf("%s: dataset %q yielded no examples", t, ds.Name())
	}
	return float64(numCorrect) / float64(numExamples), nil
}

func (t *Trainer) donate(inputs, labels []*tensors.Tensor) []any {
	all := append(append([]*tensors.Tensor{}, inputs...), labels...)
	return generics.SliceMap(all, func(tensor *tensors.Tensor) any {
		return graph.DonateTensorBuffer(tensor, t.backend)
	})
}

// exec returns the train step (training=true) or evaluation executor for policy, creating it if needed.
func (t *Trainer) exec(policy amp.Policy, training bool, numInputs int) (*mlctx.Exec, error) {
	t.muExecs.Lock()
	defer t.muExecs.Unlock()
	if t.numInputs == -1 {
		t.numInputs = numInputs
	} else if t.numInputs != numInputs {
		return nil, errors.Errorf("%s: expected %d input tensors, got %d", t, t.numInputs, numInputs)
	}
	execs := t.evalExecs
	if training {
		execs = t.trainStepExecs
	}
	if exec, found := execs[policy]; found {
		return exec, nil
	}

	var exec *mlctx.Exec
	if training {
		exec = mlctx.NewExec(t.backend, t.model.Context(),
			func(ctx *mlctx.Context, inputsAndLabels []*graph.Node) *graph.Node {
				t.NumCompilations++
				g := inputsAndLabels[0].Graph()
				ctx.SetTraining(g, true)
				inputs := inputsAndLabels[:t.numInputs]
				labels := inputsAndLabels[t.numInputs:]
				loss := t.model.LossGraph(ctx, policy, inputs, labels)
				t.optimizer.UpdateGraph(ctx, g, loss)
				train.ExecPerStepUpdateGraphFn(ctx, g)
				return loss
			})
	} else {
		exec = mlctx.NewExec(t.backend, t.model.Context().Checked(false),
			func(ctx *mlctx.Context, inputsAndLabels []*graph.Node) *graph.Node {
				t.NumCompilations++
				inputs := inputsAndLabels[:t.numInputs]
				labels := inputsAndLabels[t.numInputs:]
				logits := t.model.ForwardGraph(ctx, policy, inputs)
				predictions := graph.ArgMax(logits, -1, dtypes.Int32)
				targets := graph.ArgMax(labels[0], -1, dtypes.Int32)
				return graph.ReduceAllSum(graph.ConvertDType(graph.Equal(predictions, targets), dtypes.Int32))
			})
	}
	klog.V(1).Infof("%s: created executor for %s (training=%v)", t, policy, training)
	execs[policy] = exec
	return exec, nil
}

// Finalize the executors, immediately freeing resources. The Trainer can't be used afterwards.
func (t *Trainer) Finalize() {
	t.muExecs.Lock()
	defer t.muExecs.Unlock()
	for _, exec := range t.trainStepExecs {
		exec.Finalize()
	}
	for _, exec := range t.evalExecs {
		exec.Finalize()
	}
	t.trainStepExecs = nil
	t.evalExecs = nil
}
