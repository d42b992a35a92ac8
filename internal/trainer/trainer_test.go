package trainer

import (
	"bytes"
	"context"
	"fmt"
	"github.com/gomlx/gomlx/graph/graphtest"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/janpfeifer/lazyamp/internal/amp"
	"github.com/janpfeifer/lazyamp/internal/fakedata"
	"github.com/janpfeifer/lazyamp/internal/lenet"
	"github.com/janpfeifer/lazyamp/internal/modelstate"
	"github.com/janpfeifer/lazyamp/internal/parameters"
	"github.com/stretchr/testify/require"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	_ "github.com/gomlx/gomlx/backends/xla"
)

func TestConfigFromParams(t *testing.T) {
	cfg, err := ConfigFromParams(parameters.NewFromConfigString("epochs=3,batch_size=16,amp,model=lenet"))
	require.NoError(t, err)
	require.Equal(t, Config{Epochs: 3, BatchSize: 16, AMP: true, CheckpointsToKeep: 3}, cfg)

	params := parameters.NewFromConfigString("")
	cfg, err = ConfigFromParams(params)
	require.NoError(t, err)
	require.Equal(t, DefaultConfig(), cfg)

	_, err = ConfigFromParams(parameters.NewFromConfigString("epochs=0"))
	require.Error(t, err)
	_, err = ConfigFromParams(parameters.NewFromConfigString("batch_size=-1"))
	require.Error(t, err)
	_, err = ConfigFromParams(parameters.NewFromConfigString("amp=maybe"))
	require.Error(t, err)
}

// smallSetup returns a small LeNet and a matching fake dataset.
func smallSetup(t *testing.T) (*lenet.LeNet, *fakedata.Images) {
	m, err := lenet.New(parameters.NewFromConfigString("input_size=12,num_classes=3,learning_rate=0.01"))
	require.NoError(t, err)
	ds, err := fakedata.New("small", 12, 1, 12, 3).BatchSize(5).Seed(1).Done()
	require.NoError(t, err)
	return m, ds
}

func TestTrain(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	m, ds := smallSetup(t)
	cfg := DefaultConfig()
	cfg.Epochs = 3

	tr, err := New(backend, m, cfg)
	require.NoError(t, err)
	var epochLines bytes.Buffer
	tr.EpochWriter = &epochLines
	var epochs, compilations []int
	tr.OnEpoch = func(epoch int, loss float64) {
		epochs = append(epochs, epoch)
		compilations = append(compilations, tr.NumCompilations)
	}
	losses, err := tr.Train(context.Background(), ds)
	require.NoError(t, err)
	require.Len(t, losses, 3)
	require.Equal(t, []int{0, 1, 2}, epochs)
	lines := strings.Split(strings.TrimSpace(epochLines.String()), "\n")
	require.Len(t, lines, 3)
	for epoch, line := range lines {
		require.Equal(t, fmt.Sprintf("Epoch %2d, Loss %.4f", epoch, losses[epoch]), line)
	}
	for _, loss := range losses {
		require.False(t, math.IsNaN(loss) || math.IsInf(loss, 0))
	}
	// Batches of 5, 5 and 2 share the same policy, graphs are only compiled in the first epoch.
	require.GreaterOrEqual(t, compilations[0], 2)
	require.Equal(t, compilations[0], compilations[2])
	require.False(t, modelstate.Get().IsAMPEnabled())

	// The original model is not changed by training, so a second run gives the same losses.
	losses2, err := Train(context.Background(), backend, m, ds, cfg)
	require.NoError(t, err)
	require.Equal(t, losses, losses2)

	accuracy, err := tr.Evaluate(amp.Policy{DType: dtypes.BFloat16}, ds)
	require.NoError(t, err)
	require.GreaterOrEqual(t, accuracy, 0.0)
	require.LessOrEqual(t, accuracy, 1.0)
	tr.Finalize()
}

func TestTrain_AMP(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	m, ds := smallSetup(t)
	cfg := DefaultConfig()
	cfg.Epochs = 2

	lossesF32, err := Train(context.Background(), backend, m, ds, cfg)
	require.NoError(t, err)

	cfg.AMP = true
	tr, err := New(backend, m, cfg)
	require.NoError(t, err)
	defer tr.Finalize()
	lossesAMP, err := tr.Train(context.Background(), ds)
	require.NoError(t, err)
	// Without a setting in the context, the policy comes from the flag set by the trainer's scope.
	require.Len(t, tr.trainStepExecs, 1)
	for policy := range tr.trainStepExecs {
		require.True(t, policy.Enabled)
		require.Equal(t, modelstate.Get().AMPDType(), policy.DType)
	}
	require.InDeltaSlice(t, lossesF32, lossesAMP, 0.1)
	require.False(t, modelstate.Get().IsAMPEnabled(), "AMP must be disabled after training")
}

func TestTrain_Errors(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	m, ds := smallSetup(t)

	_, err := Train(context.Background(), backend, m, ds, Config{Epochs: 0, BatchSize: 1})
	require.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	losses, err := Train(ctx, backend, m, ds, DefaultConfig())
	require.ErrorIs(t, err, context.Canceled)
	require.Empty(t, losses)
}

func TestTrain_Checkpoint(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	m, ds := smallSetup(t)
	cfg := DefaultConfig()
	cfg.Epochs = 1
	cfg.CheckpointDir = filepath.Join(t.TempDir(), "lenet")
	_, err := Train(context.Background(), backend, m, ds, cfg)
	require.NoError(t, err)
	entries, err := os.ReadDir(cfg.CheckpointDir)
	require.NoError(t, err)
	require.NotEmpty(t, entries)
}

func TestTrain_ContextPolicy(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	m, ds := smallSetup(t)
	cfg := DefaultConfig()
	cfg.Epochs = 1
	cfg.AMP = true

	// A setting carried by the context takes precedence over the trainer's scope.
	tr, err := New(backend, m, cfg)
	require.NoError(t, err)
	defer tr.Finalize()
	_, err = tr.Train(amp.NewContext(context.Background(), false), ds)
	require.NoError(t, err)
	require.Len(t, tr.trainStepExecs, 1)
	for policy := range tr.trainStepExecs {
		require.False(t, policy.Enabled)
	}

	// Same trainer, now following the flag: a second executor is created for the enabled policy.
	_, err = tr.Train(context.Background(), ds)
	require.NoError(t, err)
	require.Len(t, tr.trainStepExecs, 2)
	require.Contains(t, tr.trainStepExecs, amp.Policy{Enabled: true, DType: modelstate.Get().AMPDType()})
	require.False(t, modelstate.Get().IsAMPEnabled())
}
