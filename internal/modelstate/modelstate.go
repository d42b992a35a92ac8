// Package modelstate holds the process-wide state of the backend runtime that is shared by every
// model and executor: currently whether automatic mixed precision (AMP) is enabled, and which
// reduced precision dtype it uses.
//
// Graph builders consult this state when a computation graph is traced, so changing it only affects
// graphs traced afterwards.
package modelstate

import (
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"golang.org/x/sys/cpu"
	"k8s.io/klog/v2"
	"sync"
)

// State of the backend runtime. The zero value is not usable, use New or Get.
type State struct {
	mu         sync.Mutex
	ampEnabled bool
	ampDType   dtypes.DType

	// numToggles counts calls to SetAMPEnabled, for diagnostics.
	numToggles int
}

// DefaultAMPDType is the reduced precision used when AMP is enabled, unless changed with SetAMPDType.
const DefaultAMPDType = dtypes.BFloat16

var (
	// global is a singleton, the same for all models.
	global = sync.OnceValue(func() *State { return New() })
)

// Get returns the process-wide State.
func Get() *State {
	return global()
}

// New creates an isolated State, with AMP disabled.
// Most users want Get instead: New is useful for tests.
func New() *State {
	return &State{ampDType: DefaultAMPDType}
}

// IsAMPEnabled returns whether automatic mixed precision is currently requested.
func (s *State) IsAMPEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ampEnabled
}

// SetAMPEnabled sets the AMP flag. It is idempotent and safe to call concurrently.
func (s *State) SetAMPEnabled(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if klog.V(2).Enabled() && s.ampEnabled != enabled {
		klog.Infof("modelstate: AMP enabled %v -> %v", s.ampEnabled, enabled)
	}
	s.ampEnabled = enabled
	s.numToggles++
}

// NumToggles returns how many times SetAMPEnabled was called.
func (s *State) NumToggles() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.numToggles
}

// AMPDType returns the reduced precision dtype used when AMP is enabled.
func (s *State) AMPDType() dtypes.DType {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ampDType
}

// SetAMPDType configures the reduced precision dtype used when AMP is enabled.
// Only dtypes.BFloat16 and dtypes.Float16 are accepted.
func (s *State) SetAMPDType(dtype dtypes.DType) error {
	if dtype != dtypes.BFloat16 && dtype != dtypes.Float16 {
		return errors.Errorf("AMP dtype must be BFloat16 or Float16, got %s", dtype)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ampDType = dtype
	return nil
}

// HostHalfPrecision reports whether the host CPU has native half precision arithmetic.
// It is only informative: backends emulate reduced precision when it's not available.
func HostHalfPrecision() bool {
	return cpu.X86.HasAVX512BF16 || cpu.ARM64.HasFPHP || cpu.ARM64.HasASIMDHP
}
