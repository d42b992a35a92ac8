// Package profilers sets up profiling for the command line tools.
//
// If linked, it installs the flags -prof (HTTP profiler port) and -cpu_profile (file).
package profilers

import (
	"context"
	"flag"
	"fmt"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
	"net/http"
	_ "net/http/pprof"
	"os"
	"runtime"
	"runtime/pprof"
)

var (
	flagProfiler   = flag.Int("prof", -1, "If set, runs the profile at the given port.")
	flagCPUProfile = flag.String("cpu_profile", "", "write cpu profile to `file`")
)

// Setup starts the HTTP (flag -prof) and CPU profilers (flag -cpu_profile), if they were configured.
//
// It returns the function to call before the program exits: it stops the CPU profile and, if the
// HTTP profiler is running, keeps the program alive until ctx is done.
func Setup(ctx context.Context) (onQuit func(), err error) {
	return setup(ctx, *flagProfiler, *flagCPUProfile)
}

func setup(ctx context.Context, port int, cpuProfile string) (onQuit func(), err error) {
	var stops []func()
	if cpuProfile != "" {
		f, err := os.Create(cpuProfile)
		if err != nil {
			return nil, errors.Wrapf(err, "could not create CPU profile %q", cpuProfile)
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			_ = f.Close()
			return nil, errors.Wrap(err, "could not start CPU profile")
		}
		klog.V(1).Infof("CPU profile being written to %s", cpuProfile)
		stops = append(stops, func() {
			pprof.StopCPUProfile()
			_ = f.Close()
		})
	}
	if port >= 0 {
		addr := fmt.Sprintf("localhost:%d", port)
		fmt.Printf("Starting profiler on %s/debug/pprof\n", addr)
		fmt.Printf("- You can access it with: $ go tool pprof %s/debug/pprof/heap\n", addr)
		fmt.Printf("- Program will be kept alive on end, you will have to interrupt it (Ctrl+C) to exit\n")
		go func() {
			klog.Fatal(http.ListenAndServe(addr, nil))
		}()
		stops = append(stops, func() { keepAlive(ctx, addr) })
	}
	return func() {
		for _, stop := range stops {
			stop()
		}
	}, nil
}

// keepAlive blocks until ctx is done, so the HTTP profiler can still be read.
func keepAlive(ctx context.Context, addr string) {
	if ctx.Err() != nil {
		// Already interrupted.
		return
	}

	// Garbage collect, to see if there is anything leaking.
	for range 10 {
		runtime.GC()
	}
	fmt.Printf("- Program finished: kept alive with profiler opened at %s/debug/pprof\n", addr)
	fmt.Printf("- Interrupt (Ctrl+C) to exit\n")
	<-ctx.Done()
	fmt.Printf("... exiting ...\n")
}
