package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/trellisdev/trellis/internal/compiler"
	"github.com/trellisdev/trellis/internal/document"
	"github.com/trellisdev/trellis/internal/engine"
	"github.com/trellisdev/trellis/internal/registry"
)

// stopTimeout bounds the graceful drain when a command stops its session.
const stopTimeout = 5 * time.Second

// sessionHandle owns a session and its request loop for the duration of
// one command.
type sessionHandle struct {
	Session *engine.Session
	cancel  context.CancelFunc
	done    chan error
}

// startSession creates a session and starts its request loop.
func startSession(ctx context.Context, name string, opts ...engine.Option) *sessionHandle {
	return startLoop(ctx, engine.New(name, opts...))
}

// startLoop starts the request loop of an existing session, such as one
// reconstructed from a journal.
func startLoop(ctx context.Context, s *engine.Session) *sessionHandle {
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- s.Run(runCtx) }()
	return &sessionHandle{Session: s, cancel: cancel, done: done}
}

// Stop drains the session. Queued requests are still served; if the drain
// stalls past the timeout the loop is cancelled instead.
func (h *sessionHandle) Stop() {
	h.Session.Close()
	select {
	case <-h.done:
	case <-time.After(stopTimeout):
		h.cancel()
		<-h.done
	}
	h.cancel()
}

// loadAndApply loads a document file, validates it against the builtin
// catalog and applies it to a freshly started session. The caller owns the
// returned handle and must Stop it. A *LoadError or validation-findings
// error comes back before any session is started.
func loadAndApply(ctx context.Context, path string, opts ...engine.Option) (*sessionHandle, *document.File, error) {
	file, err := LoadDocument(path)
	if err != nil {
		return nil, nil, err
	}

	if findings := file.Validate(registry.Builtin()); len(findings) > 0 {
		return nil, nil, &validationFailure{Findings: findings}
	}

	h := startSession(ctx, documentName(path), opts...)
	if err := file.Apply(h.Session); err != nil {
		h.Stop()
		return nil, nil, fmt.Errorf("applying %s: %w", path, err)
	}
	return h, file, nil
}

// validationFailure wraps validator findings so command plumbing can carry
// them through an error return and render them as a list.
type validationFailure struct {
	Findings []compiler.ValidationError
}

func (e *validationFailure) Error() string {
	return fmt.Sprintf("validation failed with %d finding(s)", len(e.Findings))
}

// asValidationFailure unwraps a validation failure, if err is one.
func asValidationFailure(err error) (*validationFailure, bool) {
	var vf *validationFailure
	if errors.As(err, &vf) {
		return vf, true
	}
	return nil, false
}
