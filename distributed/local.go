package distributed

import "context"
import "sync/atomic"

import "github.com/pkg/errors"

// localBackend is one rank's view of an in-process group.
type localBackend struct {
	g      *group
	closed atomic.Bool
}

// NewLocalGroup returns one backend per rank, all sharing an in-process
// group. It backs multi-rank runs inside a single process.
func NewLocalGroup(world int) []Backend {
	g := newGroup(world)
	out := make([]Backend, world)
	for i := range out {
		out[i] = &localBackend{g: g}
	}
	return out
}

var errClosed = errors.New("distributed: backend closed")

func (b *localBackend) Join(ctx context.Context, req *JoinRequest) (*JoinResponse, error) {
	if b.closed.Load() {
		return nil, errClosed
	}
	return b.g.join(ctx, req)
}

func (b *localBackend) Exchange(ctx context.Context, req *Request) (*Response, error) {
	if b.closed.Load() {
		return nil, errClosed
	}
	return b.g.exchange(ctx, req)
}

func (b *localBackend) Abort(_ context.Context, req *AbortRequest) error {
	return b.g.fail(req)
}

func (b *localBackend) Close() error {
	b.closed.Store(true)
	return nil
}
