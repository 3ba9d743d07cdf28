// Package middleware provides the router.Handler-chain hooks adapted from
// the teacher's gases/ package: panic recovery, security headers, and the
// requestedWithHeader CSRF-style security check. Each is rebuilt against
// httpengine's RouteNode/SecurityCheck/Handler model instead of the
// teacher's GasFunc.
package middleware

import (
	"fmt"
	"runtime"

	"github.com/multiwiki/httpengine"
)

// RecoverConfig configures Recover's stack-trace capture.
type RecoverConfig struct {
	// StackSize is how many bytes of stack to capture. Defaults to 4KB.
	StackSize int
	// DisableStackAll omits other goroutines' stacks from the capture.
	DisableStackAll bool
	// OnPanic is invoked with the recovered value and captured stack
	// before the request is failed with INTERNAL_SERVER_ERROR. Typically
	// wired to the engine's logger.
	OnPanic func(recovered interface{}, stack []byte)
}

// DefaultRecoverConfig matches the teacher's gases/recover.go defaults.
var DefaultRecoverConfig = RecoverConfig{StackSize: 4 << 10}

// Recover wraps next so that a panic anywhere in the handler chain is
// turned into a 500 INTERNAL_SERVER_ERROR SendError instead of crashing the
// goroutine serving the request.
func Recover(next httpengine.Handler) httpengine.Handler {
	return RecoverWithConfig(DefaultRecoverConfig, next)
}

// RecoverWithConfig is Recover with an explicit RecoverConfig.
func RecoverWithConfig(config RecoverConfig, next httpengine.Handler) httpengine.Handler {
	if config.StackSize == 0 {
		config.StackSize = DefaultRecoverConfig.StackSize
	}

	return func(rs *httpengine.RequestState) (se httpengine.StreamEnded, err error) {
		defer func() {
			if r := recover(); r != nil {
				stack := make([]byte, config.StackSize)
				length := runtime.Stack(stack, !config.DisableStackAll)
				if config.OnPanic != nil {
					config.OnPanic(r, stack[:length])
				}
				err = httpengine.InternalServerError(fmt.Errorf("panic: %v", r))
			}
		}()
		return next(rs)
	}
}
