package shutdown

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/sprinkler-controller/internal/notifications"
	"github.com/thatsimonsguy/sprinkler-controller/internal/shiftreg"
)

// ExitFunc terminates the process. Tests replace it.
var ExitFunc = os.Exit

var (
	mu      sync.Mutex
	shutoff func() error
)

// Register installs the function that drives every output off. It must not
// depend on the supervisor's goroutines still running.
func Register(fn func() error) {
	mu.Lock()
	defer mu.Unlock()
	shutoff = fn
}

func runShutoff() error {
	mu.Lock()
	fn := shutoff
	mu.Unlock()

	if fn == nil {
		return fmt.Errorf("no shutoff registered")
	}
	return fn()
}

// ShutdownWithError is the fault path: one best-effort shutoff, an alert,
// then a non-zero exit. When err is itself a failed shutoff that write was
// the one attempt and nothing more is written.
func ShutdownWithError(err error, msg string) {
	log.Error().Err(err).Msg(msg)

	if errors.Is(err, shiftreg.ErrShutoffFailed) {
		log.Error().Msg("Shutoff already failed, not writing again; outputs may still be energised")
	} else if shutoffErr := runShutoff(); shutoffErr != nil {
		log.Error().Err(shutoffErr).Msg("Best-effort shutoff failed; outputs may still be energised")
	}

	if notifyErr := notifications.Send("Sprinkler hardware fault", fmt.Sprintf("%s: %v", msg, err)); notifyErr != nil {
		log.Warn().Err(notifyErr).Msg("Failed to send fault notification")
	}

	ExitFunc(1)
}

// Trap returns a context cancelled on SIGINT or SIGTERM.
func Trap(ctx context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
}

// Recover turns a panic in the calling goroutine into a fault shutdown.
// Use it as `defer shutdown.Recover()`.
func Recover() {
	if r := recover(); r != nil {
		ShutdownWithError(fmt.Errorf("panic: %v", r), "Controller panicked")
	}
}
