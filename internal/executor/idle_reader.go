package executor

import (
	"context"
	"io"
	"time"

	"github.com/routecodex/routecodex/internal/gwerrors"
)

// idleTimeoutReader wraps a stream so that a Read which sits silent for
// longer than idleTimeout surfaces as gwerrors.UpstreamIdleTimeout and
// cancels cancel, which the caller has tied to the provider call's
// context. Each successful Read resets the deadline, matching the
// specification's "no frame received within idleTimeoutMs" rule rather
// than an overall deadline on the whole stream.
type idleTimeoutReader struct {
	ctx         context.Context
	cancel      context.CancelFunc
	underlying  io.ReadCloser
	idleTimeout time.Duration
}

func newIdleTimeoutReader(ctx context.Context, cancel context.CancelFunc, underlying io.ReadCloser, idleTimeout time.Duration) *idleTimeoutReader {
	return &idleTimeoutReader{ctx: ctx, cancel: cancel, underlying: underlying, idleTimeout: idleTimeout}
}

type readResult struct {
	buf []byte
	err error
}

// Read reads into a scratch buffer on a background goroutine rather than p
// directly: if the idle timeout wins the race, that goroutine is
// abandoned but must not still be writing into the caller's buffer after
// Read has returned it for reuse.
func (r *idleTimeoutReader) Read(p []byte) (int, error) {
	if r.idleTimeout <= 0 {
		return r.underlying.Read(p)
	}

	done := make(chan readResult, 1)
	go func() {
		scratch := make([]byte, len(p))
		n, err := r.underlying.Read(scratch)
		done <- readResult{buf: scratch[:n], err: err}
	}()

	select {
	case res := <-done:
		n := copy(p, res.buf)
		return n, res.err
	case <-time.After(r.idleTimeout):
		r.cancel()
		return 0, gwerrors.New(gwerrors.UpstreamIdleTimeout, "no stream frame received within idle timeout", nil)
	case <-r.ctx.Done():
		return 0, r.ctx.Err()
	}
}

func (r *idleTimeoutReader) Close() error {
	r.cancel()
	return r.underlying.Close()
}
