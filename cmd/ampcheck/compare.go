package main

import (
	"context"
	"fmt"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/backends"
	"github.com/janpfeifer/lazyamp/internal/amp"
	"github.com/janpfeifer/lazyamp/internal/fakedata"
	"github.com/janpfeifer/lazyamp/internal/lenet"
	"github.com/janpfeifer/lazyamp/internal/models"
	"github.com/janpfeifer/lazyamp/internal/modelstate"
	"github.com/janpfeifer/lazyamp/internal/parameters"
	"github.com/janpfeifer/lazyamp/internal/trainer"
	"github.com/janpfeifer/lazyamp/internal/ui/report"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"
	"k8s.io/klog/v2"
	"os"
	"time"
)

// runSpec describes one of the training runs being compared.
type runSpec struct {
	name, backendConfig string
	cfg                 trainer.Config
}

// newBackend converts the panic of an unknown or failing backend to an error.
func newBackend(config string) (backend backends.Backend, err error) {
	err = exceptions.TryCatch[error](func() { backend = backends.NewWithConfig(config) })
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to create backend %q", config)
	}
	return backend, nil
}

// newProgressBar returns a progress bar over the epochs of all runs, or nil if stdout is not a terminal.
func newProgressBar(numEpochs int) *progressbar.ProgressBar {
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		return nil
	}
	return progressbar.NewOptions(numEpochs,
		progressbar.OptionSetDescription("Training"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionClearOnFinish())
}

// compare parses the configuration, runs the reference and accelerator trainings concurrently and
// returns the report.
func compare(ctx context.Context) (*report.Report, error) {
	params := parameters.NewFromConfigString(*flagConfig)
	if models.HelpRequested(params) {
		_, err := lenet.New(params)
		return nil, err
	}
	cfg, err := trainer.ConfigFromParams(params)
	if err != nil {
		return nil, err
	}
	datasetSize, err := parameters.PopParamOr(params, "dataset_size", 256)
	if err != nil {
		return nil, err
	}
	dataSeed, err := parameters.PopParamOr(params, "data_seed", 0)
	if err != nil {
		return nil, err
	}
	model, err := lenet.New(params)
	if err != nil {
		return nil, err
	}
	if err = parameters.CheckAllUsed(params); err != nil {
		return nil, err
	}
	klog.V(1).Infof("Model %s, training config %+v", model, cfg)

	refSpec := runSpec{name: "reference", backendConfig: *flagReference, cfg: cfg}
	refSpec.cfg.AMP = false
	refSpec.cfg.CheckpointDir = ""
	accSpec := runSpec{name: "accelerator", backendConfig: *flagAccelerator, cfg: cfg}
	accSpec.cfg.AMP = accSpec.cfg.AMP || *flagAMP
	if *flagCheckpoint != "" {
		accSpec.cfg.CheckpointDir = *flagCheckpoint
	}
	if err = setupAMP(accSpec.cfg.AMP); err != nil {
		return nil, err
	}

	bar := newProgressBar(refSpec.cfg.Epochs + accSpec.cfg.Epochs)
	r := &report.Report{
		Tolerance: *flagTolerance,
		Color:     term.IsTerminal(int(os.Stdout.Fd())),
	}
	g, gCtx := errgroup.WithContext(ctx)
	for _, spec := range []struct {
		runSpec
		result *report.Run
	}{{refSpec, &r.Reference}, {accSpec, &r.Candidate}} {
		g.Go(func() error {
			// Each run uses its own dataset, since they are consumed concurrently.
			ds, err := fakedata.New("fake-"+spec.name, datasetSize, model.InputChannels(), model.InputSize(), model.NumClasses()).
				BatchSize(spec.cfg.BatchSize).
				Seed(uint64(dataSeed)).
				Done()
			if err != nil {
				return err
			}
			run, err := train(gCtx, spec.runSpec, model, ds, bar)
			if err != nil {
				return errors.WithMessagef(err, "%s run on %q", spec.name, spec.backendConfig)
			}
			*spec.result = run
			return nil
		})
	}
	if err = g.Wait(); err != nil {
		return nil, err
	}
	if bar != nil {
		_ = bar.Finish()
	}
	return r, nil
}

// train runs one training of model over ds, as described by spec.
func train(ctx context.Context, spec runSpec, model *lenet.LeNet, ds *fakedata.Images, bar *progressbar.ProgressBar) (report.Run, error) {
	run := report.Run{Name: spec.name, Backend: spec.backendConfig, Accuracy: -1}
	backend, err := newBackend(spec.backendConfig)
	if err != nil {
		return run, err
	}
	// Both runs share the process-wide AMP flag, so each one carries its own setting.
	ctx = amp.NewContext(ctx, spec.cfg.AMP)
	policy := amp.PolicyFor(ctx, modelstate.Get())
	run.Policy = policy.String()

	t, err := trainer.New(backend, model, spec.cfg)
	if err != nil {
		return run, err
	}
	defer t.Finalize()
	t.EpochWriter = nil
	t.OnEpoch = func(epoch int, loss float64) {
		if bar == nil {
			fmt.Printf("%s: Epoch %2d, Loss %.4f\n", spec.name, epoch, loss)
			return
		}
		bar.Describe(fmt.Sprintf("%s: epoch %d, loss %.4f", spec.name, epoch, loss))
		_ = bar.Add(1)
	}
	start := time.Now()
	run.Losses, err = t.Train(ctx, ds)
	run.Elapsed = time.Since(start)
	if err != nil {
		return run, err
	}
	klog.Infof("%s: %d epochs in %s, final loss %.4f", t, len(run.Losses), run.Elapsed, run.Losses[len(run.Losses)-1])
	if *flagEval {
		run.Accuracy, err = t.Evaluate(policy, ds)
		if err != nil {
			return run, err
		}
	}
	return run, nil
}
