package models

import (
	"bytes"
	"fmt"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/janpfeifer/lazyamp/internal/parameters"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
	"slices"
)

// HelpRequested returns whether params has a key asking for help, e.g. "help" or "-h".
func HelpRequested(params parameters.Params) bool {
	for key := range params {
		if slices.Contains([]string{"help", "--help", "-help", "-h"}, key) {
			return true
		}
	}
	return false
}

// ExtractParams pops from params the keys matching hyperparameters in the root scope of ctx, and
// writes them as context hyperparameters. The type of each value is given by its default in ctx.
func ExtractParams(modelName string, params parameters.Params, ctx *context.Context) error {
	var err error
	ctx.EnumerateParams(func(scope, key string, valueAny any) {
		if err != nil {
			// If error happened skip the rest.
			return
		}
		if scope != context.RootScope {
			return
		}
		switch defaultValue := valueAny.(type) {
		case string:
			value, _ := parameters.PopParamOr(params, key, defaultValue)
			ctx.SetParam(key, value)
		case int:
			value, newErr := parameters.PopParamOr(params, key, defaultValue)
			if newErr != nil {
				err = errors.WithMessagef(newErr, "parsing %q (int) for model %s", key, modelName)
				return
			}
			ctx.SetParam(key, value)
		case float64:
			value, newErr := parameters.PopParamOr(params, key, defaultValue)
			if newErr != nil {
				err = errors.WithMessagef(newErr, "parsing %q (float64) for model %s", key, modelName)
				return
			}
			ctx.SetParam(key, value)
		case float32:
			value, newErr := parameters.PopParamOr(params, key, defaultValue)
			if newErr != nil {
				err = errors.WithMessagef(newErr, "parsing %q (float32) for model %s", key, modelName)
				return
			}
			ctx.SetParam(key, value)
		case bool:
			value, newErr := parameters.PopParamOr(params, key, defaultValue)
			if newErr != nil {
				err = errors.WithMessagef(newErr, "parsing %q (bool) for model %s", key, modelName)
				return
			}
			ctx.SetParam(key, value)
		default:
			err = errors.Errorf("model %s parameter %q is of unknown type %T", modelName, key, defaultValue)
		}
	})
	return err
}

// WriteHyperparametersHelp enumerates all the hyperparameters set in the root scope of ctx.
func WriteHyperparametersHelp(modelName string, ctx *context.Context) {
	buf := &bytes.Buffer{}
	_, _ = fmt.Fprintf(buf, "Model %s parameters:\n", modelName)
	ctx.EnumerateParams(func(scope, key string, value any) {
		if scope != context.RootScope {
			return
		}
		_, _ = fmt.Fprintf(buf, "\t%q: default value is %v\n", key, value)
	})
	klog.Info(buf)
}

// CopyParams copies the hyperparameters of the root scope of src to dst.
func CopyParams(src, dst *context.Context) {
	src.EnumerateParams(func(scope, key string, value any) {
		if scope != context.RootScope {
			return
		}
		dst.SetParam(key, value)
	})
}
