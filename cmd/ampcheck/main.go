// ampcheck trains LeNet on fake data on a reference backend and on an accelerator backend, optionally
// with automatic mixed precision (AMP) on the accelerator, and verifies that the losses match.
//
// Example:
//
//	$ ampcheck -amp -tol=0.05 -config="epochs=5,batch_size=32,learning_rate=0.01"
//
// Use -config=help to list the model hyperparameters.
package main

import (
	"context"
	"flag"
	"fmt"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/janpfeifer/lazyamp/internal/modelstate"
	"github.com/janpfeifer/lazyamp/internal/profilers"
	"github.com/janpfeifer/lazyamp/internal/ui/interrupt"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
	"os"
	"time"
)

// Flags
var (
	flagReference   = flag.String("reference", "go", "Backend configuration of the reference run, always without AMP.")
	flagAccelerator = flag.String("accelerator", "xla:cpu", "Backend configuration of the accelerator run.")
	flagAMP         = flag.Bool("amp", false, "Enable automatic mixed precision on the accelerator run.")
	flagAMPDType    = flag.String("amp_dtype", "bfloat16", "Reduced precision dtype used by AMP: \"bfloat16\" or \"float16\".")
	flagTolerance   = flag.Float64("tol", 1e-3, "Tolerance when verifying the losses: |a-b| <= tol + tol*|b|.")
	flagConfig      = flag.String("config", "",
		"Comma separated configuration of model, training and dataset, e.g. \"epochs=5,batch_size=32\". "+
			"Training: epochs, batch_size, keep; dataset: dataset_size, data_seed; use \"help\" for the model ones.")
	flagCheckpoint = flag.String("checkpoint", "", "Directory where to save the model trained on the accelerator.")
	flagEval       = flag.Bool("eval", true, "Evaluate the accuracy of the trained models on the training data.")
)

func parseAMPDType(name string) (dtypes.DType, error) {
	switch name {
	case "bfloat16", "bf16":
		return dtypes.BFloat16, nil
	case "float16", "f16":
		return dtypes.Float16, nil
	}
	return dtypes.InvalidDType, errors.Errorf("invalid -amp_dtype=%q, valid values are \"bfloat16\" or \"float16\"", name)
}

// setupAMP configures the AMP dtype of the backend runtime (-amp_dtype), if the accelerator run uses AMP,
// whether requested with -amp or with the configuration.
func setupAMP(enabled bool) error {
	if !enabled {
		return nil
	}
	dtype, err := parseAMPDType(*flagAMPDType)
	if err != nil {
		return err
	}
	if err = modelstate.Get().SetAMPDType(dtype); err != nil {
		return err
	}
	if !modelstate.HostHalfPrecision() {
		klog.Warningf("Host has no native %s support, reduced precision may be emulated", dtype)
	}
	return nil
}

func main() {
	klog.InitFlags(nil)
	flag.Parse()

	// Capture Control+C
	ctx, cancel := context.WithCancel(context.Background())
	defer interrupt.SafeInterrupt(cancel, 5*time.Second)()
	defer cancel()

	// Profilers: HTTP profiler server and CPU profile.
	onQuit := must.M1(profilers.Setup(ctx))
	defer onQuit()

	r, err := compare(ctx)
	if err != nil {
		if ctx.Err() != nil {
			// Interrupted.
			klog.Errorf("Interrupted: %v", err)
			return
		}
		klog.Fatalf("Failed: %+v", err)
	}
	r.Print(os.Stdout)
	if err := r.Verify(); err != nil {
		klog.Flush()
		fmt.Fprintf(os.Stderr, "ampcheck: %v\n", err)
		os.Exit(1)
	}
}
