package executor

import (
	"context"
	"io"

	"github.com/routecodex/routecodex/internal/router"
)

// Attempt is what Provider.Send returns for one outbound call: exactly one
// of Body or Stream is populated, mirroring the unary/SSE split the
// provider adapter layer exposes.
type Attempt struct {
	Body   []byte
	Stream io.ReadCloser
}

// Provider is the executor's sole dependency on the provider adapter
// layer: inject auth, serialize, send one HTTP request, and either return
// the unary body or a lazy frame reader for streaming. Implementations
// must honor ctx cancellation by aborting the underlying HTTP request.
type Provider interface {
	Send(ctx context.Context, target router.Target, payload []byte, stream bool) (Attempt, error)
}
