package distributed

import "context"
import "sync"

import "github.com/google/uuid"
import "github.com/pkg/errors"
import "gonum.org/v1/gonum/floats"

// round is one collective in flight, identified by its sequence number.
type round struct {
	kind   Kind
	root   int
	length int

	data    [][]float64
	arrived int
	left    int
	done    chan struct{}
	result  []float64
	err     error
}

// group is the collective engine hosted by rank 0. Ranks contribute to
// numbered rounds; a round completes when the whole world contributed.
type group struct {
	mu      sync.Mutex
	world   int
	session string
	joined  []bool
	count   int
	ready   chan struct{}
	rounds  map[uint64]*round
	aborted error
	abort   chan struct{}
}

func newGroup(world int) *group {
	return &group{
		world:   world,
		session: uuid.NewString(),
		joined:  make([]bool, world),
		ready:   make(chan struct{}),
		rounds:  make(map[uint64]*round),
		abort:   make(chan struct{}),
	}
}

func (g *group) join(ctx context.Context, req *JoinRequest) (*JoinResponse, error) {
	g.mu.Lock()
	switch {
	case g.aborted != nil:
		g.mu.Unlock()
		return nil, g.aborted
	case req.WorldSize != g.world:
		g.mu.Unlock()
		return nil, errors.Errorf("distributed: rank %d expects world size %d, group has %d", req.Rank, req.WorldSize, g.world)
	case req.Rank < 0 || req.Rank >= g.world:
		g.mu.Unlock()
		return nil, errors.Errorf("distributed: rank %d outside world of %d", req.Rank, g.world)
	}
	if !g.joined[req.Rank] {
		g.joined[req.Rank] = true
		g.count++
		if g.count == g.world {
			close(g.ready)
		}
	}
	g.mu.Unlock()

	select {
	case <-g.ready:
		return &JoinResponse{Session: g.session}, nil
	case <-g.abort:
		return nil, g.abortErr()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (g *group) abortErr() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.aborted
}

func (g *group) fail(req *AbortRequest) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if req.Session != "" && req.Session != g.session {
		return ErrStaleSession
	}
	if g.aborted == nil {
		g.aborted = errors.Wrapf(ErrGroupAborted, "rank %d: %s", req.Rank, req.Reason)
		close(g.abort)
	}
	return nil
}

// contribute registers req in its round and returns the round to wait on.
func (g *group) contribute(req *Request) (*round, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.aborted != nil {
		return nil, g.aborted
	}
	if req.Session != g.session {
		return nil, ErrStaleSession
	}
	if req.Rank < 0 || req.Rank >= g.world {
		return nil, errors.Errorf("distributed: rank %d outside world of %d", req.Rank, g.world)
	}
	if req.Kind == KindBroadcast && (req.Root < 0 || req.Root >= g.world) {
		return nil, errors.Errorf("distributed: broadcast root %d outside world of %d", req.Root, g.world)
	}

	r, ok := g.rounds[req.Seq]
	if !ok {
		r = &round{
			kind:   req.Kind,
			root:   req.Root,
			length: len(req.Data),
			data:   make([][]float64, g.world),
			left:   g.world,
			done:   make(chan struct{}),
		}
		g.rounds[req.Seq] = r
	}
	if r.arrived == g.world || r.data[req.Rank] != nil {
		return nil, errors.Errorf("distributed: rank %d contributed twice to round %d", req.Rank, req.Seq)
	}
	if r.kind != req.Kind || r.root != req.Root || r.length != len(req.Data) {
		r.err = errors.Wrapf(ErrCollectiveMismatch, "round %d: rank %d sent %s/%d/%d, expected %s/%d/%d",
			req.Seq, req.Rank, req.Kind, req.Root, len(req.Data), r.kind, r.root, r.length)
		close(r.done)
		g.aborted = errors.Wrapf(ErrGroupAborted, "rank %d: %v", req.Rank, r.err)
		close(g.abort)
		return r, nil
	}

	r.data[req.Rank] = append([]float64{}, req.Data...)
	r.arrived++
	if r.arrived == g.world {
		r.result = reduce(r.kind, r.root, r.data)
		r.data = nil
		close(r.done)
	}
	return r, nil
}

func reduce(kind Kind, root int, data [][]float64) []float64 {
	switch kind {
	case KindAllReduce:
		out := make([]float64, len(data[0]))
		for _, d := range data {
			floats.Add(out, d)
		}
		return out
	case KindBroadcast:
		return data[root]
	default:
		var out []float64
		for _, d := range data {
			out = append(out, d...)
		}
		return out
	}
}

// release marks that one rank finished waiting on r and reports its outcome.
func (g *group) release(seq uint64, r *round) ([]float64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	if r.arrived < g.world {
		return nil, g.aborted
	}
	r.left--
	if r.left == 0 {
		delete(g.rounds, seq)
	}
	return r.result, nil
}

func (g *group) exchange(ctx context.Context, req *Request) (*Response, error) {
	r, err := g.contribute(req)
	if err != nil {
		return nil, err
	}
	select {
	case <-r.done:
	case <-g.abort:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	result, err := g.release(req.Seq, r)
	if err != nil {
		return nil, err
	}
	return &Response{Data: append(Vector{}, result...)}, nil
}
