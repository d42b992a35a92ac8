package models

import (
	"github.com/gomlx/gomlx/ml/context"
	"github.com/janpfeifer/lazyamp/internal/parameters"
	"github.com/stretchr/testify/require"
	"testing"
)

func newTestContext() *context.Context {
	ctx := context.New()
	ctx.SetParams(map[string]any{
		"size":  3,
		"rate":  0.1,
		"scale": float32(2),
		"name":  "x",
		"flag":  false,
	})
	return ctx
}

func TestExtractParams(t *testing.T) {
	ctx := newTestContext()
	params := parameters.NewFromConfigString("size=5,rate=0.5,flag,name=y,other=1")
	require.NoError(t, ExtractParams("test", params, ctx))
	require.Equal(t, parameters.Params{"other": "1"}, params)
	require.Equal(t, 5, context.GetParamOr(ctx, "size", 0))
	require.Equal(t, 0.5, context.GetParamOr(ctx, "rate", 0.0))
	require.Equal(t, float32(2), context.GetParamOr(ctx, "scale", float32(0)))
	require.Equal(t, "y", context.GetParamOr(ctx, "name", ""))
	require.True(t, context.GetParamOr(ctx, "flag", false))

	err := ExtractParams("test", parameters.NewFromConfigString("size=big"), newTestContext())
	require.ErrorContains(t, err, "size")
}

func TestCopyParams(t *testing.T) {
	src := newTestContext()
	dst := context.New()
	CopyParams(src, dst)
	require.Equal(t, 3, context.GetParamOr(dst, "size", 0))
	require.Equal(t, "x", context.GetParamOr(dst, "name", ""))
}

func TestHelpRequested(t *testing.T) {
	require.True(t, HelpRequested(parameters.NewFromConfigString("epochs=1,help")))
	require.True(t, HelpRequested(parameters.NewFromConfigString("-h")))
	require.False(t, HelpRequested(parameters.NewFromConfigString("epochs=1")))
	require.False(t, HelpRequested(nil))
}
