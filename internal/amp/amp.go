// Package amp implements the automatic mixed precision (AMP) scope controller.
//
// An Autocast requests, for the dynamic extent of a scope, that the backend runtime enables (or disables)
// mixed precision. The typical use is:
//
//	func step() {
//		defer amp.New(true).Enter().Exit()
//		...
//	}
//
// Or wrapping a function with Autocast.Do, Wrap, Wrap1, Wrap1E or Wrap2E.
//
// Scopes are registered in a Registry (one per backend), and the backend flag is always set to the value
// requested by the most recently entered live scope, or to false when no scope is live. So exiting a
// scope always leaves the flag disabled unless it is nested in another live scope, in which case the
// outer scope's value is restored. Scopes from different goroutines may exit in any order: each one only
// removes itself.
//
// The controller never inspects, wraps or suppresses errors or panics from the wrapped code or from the
// backend: cleanup runs on every exit path and failures continue propagating unchanged.
package amp

import (
	"fmt"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/janpfeifer/lazyamp/internal/modelstate"
	"k8s.io/klog/v2"
	"slices"
	"sync"
)

// Backend is the runtime that owns the process-wide AMP flag. *modelstate.State implements it.
type Backend interface {
	SetAMPEnabled(enabled bool)
	IsAMPEnabled() bool

	// AMPDType is the reduced precision dtype used when AMP is enabled.
	AMPDType() dtypes.DType
}

var _ Backend = (*modelstate.State)(nil)

// Registry of live AMP scopes of one Backend.
type Registry struct {
	backend Backend

	mu     sync.Mutex
	scopes []*Scope
}

// NewRegistry creates a Registry that drives the flag of the given backend.
// There should be only one Registry per backend, otherwise their scopes will overwrite each other.
func NewRegistry(backend Backend) *Registry {
	return &Registry{backend: backend}
}

var defaultRegistry = sync.OnceValue(func() *Registry { return NewRegistry(modelstate.Get()) })

// DefaultRegistry returns the Registry for the process-wide modelstate.Get().
func DefaultRegistry() *Registry {
	return defaultRegistry()
}

// Backend driven by the registry.
func (r *Registry) Backend() Backend {
	return r.backend
}

// Depth returns the number of live scopes.
func (r *Registry) Depth() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.scopes)
}

// Autocast creates an Autocast in this registry.
func (r *Registry) Autocast(enabled bool) *Autocast {
	return &Autocast{registry: r, enabled: enabled}
}

// effectiveLocked returns the value requested by the innermost live scope. r.mu must be held.
func (r *Registry) effectiveLocked() bool {
	if len(r.scopes) == 0 {
		return false
	}
	return r.scopes[len(r.scopes)-1].autocast.enabled
}

func (r *Registry) enter(s *Scope) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scopes = append(r.scopes, s)
	registered := false
	defer func() {
		// Backend failed: the scope was never entered.
		if !registered {
			r.scopes = r.scopes[:len(r.scopes)-1]
		}
	}()
	r.backend.SetAMPEnabled(s.autocast.enabled)
	registered = true
}

func (r *Registry) exit(s *Scope) {
	r.mu.Lock()
	defer r.mu.Unlock()
	idx := slices.Index(r.scopes, s)
	if idx == -1 {
		// Already exited.
		return
	}
	r.scopes = slices.Delete(r.scopes, idx, idx+1)
	r.backend.SetAMPEnabled(r.effectiveLocked())
}

// Autocast requests a fixed AMP setting for the extent of its scopes.
// An Autocast can be entered any number of times, including concurrently.
type Autocast struct {
	registry *Registry
	enabled  bool
}

// New creates an Autocast on the DefaultRegistry, requesting AMP to be enabled or disabled.
func New(enabled bool) *Autocast {
	return DefaultRegistry().Autocast(enabled)
}

// Default is an Autocast that enables AMP, the most common use.
func Default() *Autocast {
	return New(true)
}

// Registry where the Autocast registers its scopes.
func (a *Autocast) Registry() *Registry {
	return a.registry
}

// Enabled returns the value requested by the Autocast, fixed at construction.
func (a *Autocast) Enabled() bool {
	return a.enabled
}

// String implements fmt.Stringer.
func (a *Autocast) String() string {
	return fmt.Sprintf("autocast(enabled=%v)", a.enabled)
}

// Enter a new scope: the backend flag is set to the requested value until the returned Scope exits.
// Any panic from the backend propagates, and in that case no scope is registered.
func (a *Autocast) Enter() *Scope {
	s := &Scope{autocast: a}
	a.registry.enter(s)
	klog.V(3).Infof("%s: entered scope", a)
	return s
}

// Scope is a live entry of an Autocast, returned by Autocast.Enter.
type Scope struct {
	autocast *Autocast
}

// Exit the scope, setting the backend flag to the value requested by the remaining innermost scope, or
// to false if there is none. It is meant to be deferred, and it is safe to call more than once.
func (s *Scope) Exit() {
	s.autocast.registry.exit(s)
	klog.V(3).Infof("%s: exited scope", s.autocast)
}
