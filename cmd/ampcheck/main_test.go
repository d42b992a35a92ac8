package main

import (
	"context"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/janpfeifer/lazyamp/internal/modelstate"
	"github.com/stretchr/testify/require"
	"testing"
)

func TestParseAMPDType(t *testing.T) {
	dtype, err := parseAMPDType("bfloat16")
	require.NoError(t, err)
	require.Equal(t, dtypes.BFloat16, dtype)
	dtype, err = parseAMPDType("f16")
	require.NoError(t, err)
	require.Equal(t, dtypes.Float16, dtype)
	_, err = parseAMPDType("float32")
	require.Error(t, err)
}

func TestCompare(t *testing.T) {
	*flagConfig = "epochs=2,batch_size=8,dataset_size=16,input_size=12,num_classes=3,learning_rate=0.01"
	*flagAccelerator = "go"
	*flagTolerance = 1e-3
	r, err := compare(context.Background())
	require.NoError(t, err)
	require.Len(t, r.Reference.Losses, 2)
	require.Len(t, r.Candidate.Losses, 2)
	require.Equal(t, "amp:off", r.Candidate.Policy)
	require.NoError(t, r.Verify(), "same backend and policy must give the same losses")

	*flagConfig = "epochs=1,typo=3"
	_, err = compare(context.Background())
	require.ErrorContains(t, err, "typo")

	_, err = newBackend("unknown-backend")
	require.Error(t, err)
}

func TestSetupAMP(t *testing.T) {
	t.Cleanup(func() {
		*flagAMPDType = "bfloat16"
		require.NoError(t, modelstate.Get().SetAMPDType(modelstate.DefaultAMPDType))
	})
	*flagAMPDType = "float16"
	require.NoError(t, setupAMP(false))
	require.Equal(t, modelstate.DefaultAMPDType, modelstate.Get().AMPDType())
	require.NoError(t, setupAMP(true))
	require.Equal(t, dtypes.Float16, modelstate.Get().AMPDType())

	// AMP requested only through the configuration also applies -amp_dtype.
	*flagAMPDType = "int8"
	*flagAMP = false
	*flagConfig = "epochs=1,dataset_size=4,input_size=12,num_classes=3,amp"
	_, err := compare(context.Background())
	require.ErrorContains(t, err, "amp_dtype")
}
