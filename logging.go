// Package-level configuration for structured logging.
//
// The runtime logs through logiface so callers can bridge to whatever
// logging framework they already use (zerolog, slog, logrus adapters all
// exist for logiface). A package-level global is appropriate here:
// logging is an infrastructure cross-cutting concern, loop instances
// share logging semantics, and a per-instance logger would bloat the
// configuration surface for no benefit.
//
// Misuse warnings (cross-goroutine destruction, coroutine primitives
// outside a coroutine) tend to repeat at high frequency once a bug
// exists, so they are rate limited per category.

package aparrow

import (
	"sync"
	"time"

	catrate "github.com/joeycumines/go-catrate"
	"github.com/joeycumines/logiface"
)

var globalLogger struct {
	sync.RWMutex
	logger *logiface.Logger[logiface.Event]
}

// SetLogger installs the package logger. A nil logger (the default)
// silences all diagnostics.
func SetLogger(logger *logiface.Logger[logiface.Event]) {
	globalLogger.Lock()
	defer globalLogger.Unlock()
	globalLogger.logger = logger
}

func getLogger() *logiface.Logger[logiface.Event] {
	globalLogger.RLock()
	defer globalLogger.RUnlock()
	return globalLogger.logger
}

// warnLimiter caps repeated misuse warnings at 10/minute per category.
var warnLimiter = catrate.NewLimiter(map[time.Duration]int{
	time.Minute: 10,
})

// warnCrossLoop reports an Object lifecycle operation performed off its
// affine Loop. The operation still proceeds; this is a user bug surfaced
// as a diagnostic, matching the runtime's documented behaviour.
func warnCrossLoop(op string, o *Object, affine *Loop) {
	logger := getLogger()
	if logger == nil {
		return
	}
	if _, ok := warnLimiter.Allow("cross-loop-" + op); !ok {
		return
	}
	b := logger.Warning().
		Str("category", "object").
		Str("op", op).
		Uint64("object", uint64(o.id)).
		Str("current", Current().Name())
	if affine != nil {
		b = b.Str("affine", affine.Name())
	}
	b.Log("object lifecycle operation on a foreign goroutine")
}

// warnCoroutineMisuse reports a coroutine primitive invoked outside any
// coroutine. The call degrades to a no-op.
func warnCoroutineMisuse(op string) {
	logger := getLogger()
	if logger == nil {
		return
	}
	if _, ok := warnLimiter.Allow("coroutine-" + op); !ok {
		return
	}
	logger.Warning().
		Str("category", "coroutine").
		Str("op", op).
		Log("coroutine primitive used outside a coroutine")
}

// logLoopEvent records loop lifecycle transitions at info level.
func logLoopEvent(l *Loop, msg string) {
	logger := getLogger()
	if logger == nil {
		return
	}
	logger.Info().
		Str("category", "loop").
		Str("loop", l.name).
		Log(msg)
}
