package amp

import (
	"k8s.io/klog/v2"
	"reflect"
	"runtime"
)

// Do runs fn inside a scope of the Autocast and returns its error unchanged.
// The scope is exited even if fn panics, and the panic continues unchanged.
func (a *Autocast) Do(fn func() error) error {
	defer a.Enter().Exit()
	return fn()
}

// Wrap returns a function that calls fn inside a scope of the Autocast.
func Wrap[R any](a *Autocast, fn func() R) func() R {
	name := FuncName(fn)
	return func() R {
		klog.V(2).Infof("%s: calling %s", a, name)
		defer a.Enter().Exit()
		return fn()
	}
}

// Wrap1 returns a function with the same signature as fn, that calls it inside a scope of the Autocast.
func Wrap1[A, R any](a *Autocast, fn func(A) R) func(A) R {
	name := FuncName(fn)
	return func(arg A) R {
		klog.V(2).Infof("%s: calling %s", a, name)
		defer a.Enter().Exit()
		return fn(arg)
	}
}

// Wrap1E is like Wrap1, for functions that also return an error. The error is returned unchanged.
func Wrap1E[A, R any](a *Autocast, fn func(A) (R, error)) func(A) (R, error) {
	name := FuncName(fn)
	return func(arg A) (R, error) {
		klog.V(2).Infof("%s: calling %s", a, name)
		defer a.Enter().Exit()
		return fn(arg)
	}
}

// Wrap2 is like Wrap1, for functions with two arguments.
func Wrap2[A, B, R any](a *Autocast, fn func(A, B) R) func(A, B) R {
	name := FuncName(fn)
	return func(arg0 A, arg1 B) R {
		klog.V(2).Infof("%s: calling %s", a, name)
		defer a.Enter().Exit()
		return fn(arg0, arg1)
	}
}

// Wrap2E is like Wrap1E, for functions with two arguments.
func Wrap2E[A, B, R any](a *Autocast, fn func(A, B) (R, error)) func(A, B) (R, error) {
	name := FuncName(fn)
	return func(arg0 A, arg1 B) (R, error) {
		klog.V(2).Infof("%s: calling %s", a, name)
		defer a.Enter().Exit()
		return fn(arg0, arg1)
	}
}

// FuncName returns the fully qualified name of the function fn, or "<unknown>" if fn is not a function.
func FuncName(fn any) string {
	v := reflect.ValueOf(fn)
	if v.Kind() != reflect.Func || v.IsNil() {
		return "<unknown>"
	}
	f := runtime.FuncForPC(v.Pointer())
	if f == nil {
		return "<unknown>"
	}
	return f.Name()
}
