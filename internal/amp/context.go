package amp

import (
	"context"
	"fmt"
	"github.com/gomlx/gopjrt/dtypes"
)

type ctxKey struct{}

// NewContext returns a copy of ctx that carries its own AMP setting. Code that resolves its policy with
// EnabledFor or PolicyFor sees this value instead of the process-wide flag, so concurrent tasks
// don't interfere with each other.
func NewContext(ctx context.Context, enabled bool) context.Context {
	return context.WithValue(ctx, ctxKey{}, enabled)
}

// FromContext returns the AMP setting carried by ctx, if any.
func FromContext(ctx context.Context) (enabled, ok bool) {
	enabled, ok = ctx.Value(ctxKey{}).(bool)
	return
}

// Context returns a copy of parent carrying the setting of the Autocast. See NewContext.
func (a *Autocast) Context(parent context.Context) context.Context {
	return NewContext(parent, a.enabled)
}

// EnabledFor resolves whether AMP is enabled for ctx: the value set with NewContext, or the backend
// process-wide flag otherwise.
func EnabledFor(ctx context.Context, backend Backend) bool {
	if enabled, ok := FromContext(ctx); ok {
		return enabled
	}
	return backend.IsAMPEnabled()
}

// Policy is the resolved mixed precision policy handed to graph builders.
type Policy struct {
	Enabled bool

	// DType is the reduced precision used when Enabled.
	DType dtypes.DType
}

// PolicyFor resolves the Policy for ctx: the dtype always comes from the backend, and whether it is
// enabled from EnabledFor.
//
// Without a setting in ctx the policy follows the backend flag, so it must be resolved inside the scope
// it belongs to.
func PolicyFor(ctx context.Context, backend Backend) Policy {
	return Policy{
		Enabled: EnabledFor(ctx, backend),
		DType:   backend.AMPDType(),
	}
}

// ComputeDType returns the dtype in which selected operations (convolutions, matrix multiplications)
// should be computed: Policy.DType if enabled, Float32 otherwise.
func (p Policy) ComputeDType() dtypes.DType {
	if p.Enabled {
		return p.DType
	}
	return dtypes.Float32
}

// String implements fmt.Stringer.
func (p Policy) String() string {
	if !p.Enabled {
		return "amp:off"
	}
	return fmt.Sprintf("amp:%s", p.DType)
}
