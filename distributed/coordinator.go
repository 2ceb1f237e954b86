// Package distributed manages the process group of a data parallel run:
// rendezvous, gradient averaging, and the per-epoch shard reseed.
package distributed

import "context"
import "sync"
import "time"

import "github.com/go-logr/logr"
import "github.com/pkg/errors"
import "gonum.org/v1/gonum/floats"

import "github.com/neurlang/finetune/metrics"
import "github.com/neurlang/finetune/model"

// State is the lifecycle position of a Coordinator.
type State int

const (
	Uninitialized State = iota
	Initialized
	TornDown
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Initialized:
		return "initialized"
	case TornDown:
		return "torn down"
	}
	return "unknown"
}

// BackendFunc constructs the backend of one rank.
type BackendFunc func(env Env, log logr.Logger) (Backend, error)

var backends = map[string]BackendFunc{
	"grpc": NewGRPCBackend,
}

// Available reports whether a backend of that name can be constructed.
func Available(name string) bool {
	_, ok := backends[name]
	return ok
}

// Options tune a Coordinator.
type Options struct {
	// Reduction is "mean" or "sum".
	Reduction         string
	RendezvousTimeout time.Duration
	Log               logr.Logger
	Metrics           *metrics.Recorder

	// Backend overrides the named backend, used for in-process groups.
	Backend Backend
}

// Reseeder is anything reshuffled per epoch.
type Reseeder interface {
	SetEpoch(epoch int)
}

// Coordinator owns the group membership of one rank.
type Coordinator struct {
	env     Env
	opts    Options
	backend Backend

	mu       sync.Mutex
	state    State
	session  string
	seq      uint64
	samplers []Reseeder
}

// New creates a coordinator for env using the named backend. An unknown
// backend yields *DependencyError.
func New(env Env, backend string, opts Options) (*Coordinator, error) {
	if opts.Backend == nil {
		ctor, ok := backends[backend]
		if !ok {
			return nil, &DependencyError{Backend: backend}
		}
		if ShouldDistribute(env, true) {
			b, err := ctor(env, opts.Log)
			if err != nil {
				return nil, err
			}
			opts.Backend = b
		}
	}
	if opts.Reduction == "" {
		opts.Reduction = "mean"
	}
	if opts.Reduction != "mean" && opts.Reduction != "sum" {
		return nil, errors.Errorf("distributed: unknown reduction %q", opts.Reduction)
	}
	if opts.RendezvousTimeout <= 0 {
		opts.RendezvousTimeout = 5 * time.Minute
	}
	if env.WorldSize < 1 || env.Rank < 0 || env.Rank >= env.WorldSize {
		return nil, errors.Errorf("distributed: rank %d outside world of %d", env.Rank, env.WorldSize)
	}
	return &Coordinator{env: env, opts: opts, backend: opts.Backend}, nil
}

// Rank returns the rank of this process.
func (c *Coordinator) Rank() int {
	return c.env.Rank
}

// WorldSize returns the number of ranks.
func (c *Coordinator) WorldSize() int {
	return c.env.WorldSize
}

// State returns the lifecycle state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsDistributed is true only between Init and Teardown.
func (c *Coordinator) IsDistributed() bool {
	return c.State() == Initialized
}

// Init joins the group and blocks until every rank joined or the
// rendezvous timeout passes.
func (c *Coordinator) Init(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Uninitialized {
		return errors.Errorf("distributed: init in state %s", c.state)
	}
	if c.backend == nil {
		return &InitError{Addr: c.env.Addr(), Rank: c.env.Rank, Err: errors.New("no backend for a single rank world")}
	}
	ctx, cancel := context.WithTimeout(ctx, c.opts.RendezvousTimeout)
	defer cancel()

	c.opts.Log.Info("joining process group", "rank", c.env.Rank, "world_size", c.env.WorldSize, "addr", c.env.Addr())
	resp, err := c.backend.Join(ctx, &JoinRequest{Rank: c.env.Rank, WorldSize: c.env.WorldSize})
	if err != nil {
		return &InitError{Addr: c.env.Addr(), Rank: c.env.Rank, Err: err}
	}
	c.session = resp.Session
	c.state = Initialized
	c.opts.Log.Info("process group ready", "rank", c.env.Rank, "session", c.session)
	return nil
}

func (c *Coordinator) collective(ctx context.Context, kind Kind, root int, data []float64) ([]float64, error) {
	c.mu.Lock()
	if c.state != Initialized {
		c.mu.Unlock()
		return nil, errors.Errorf("distributed: %s in state %s", kind, c.state)
	}
	c.seq++
	req := &Request{Session: c.session, Rank: c.env.Rank, Seq: c.seq, Kind: kind, Root: root, Data: data}
	c.mu.Unlock()

	resp, err := c.backend.Exchange(ctx, req)
	if err != nil {
		return nil, errors.Wrapf(err, "%s round %d", kind, req.Seq)
	}
	return resp.Data, nil
}

// AllReduce returns the element-wise sum of data over all ranks.
func (c *Coordinator) AllReduce(ctx context.Context, data []float64) ([]float64, error) {
	return c.collective(ctx, KindAllReduce, 0, data)
}

// Broadcast returns root's data on every rank. All ranks pass a buffer of
// the same length.
func (c *Coordinator) Broadcast(ctx context.Context, root int, data []float64) ([]float64, error) {
	return c.collective(ctx, KindBroadcast, root, data)
}

// AllGather returns the data of every rank concatenated in rank order.
func (c *Coordinator) AllGather(ctx context.Context, data []float64) ([]float64, error) {
	return c.collective(ctx, KindAllGather, 0, data)
}

// Register adds samplers to reseed every epoch.
func (c *Coordinator) Register(samplers ...Reseeder) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.samplers = append(c.samplers, samplers...)
}

// Reseed sets the epoch of every registered sampler. In a group it first
// checks that every rank reseeds for the same epoch.
func (c *Coordinator) Reseed(ctx context.Context, epoch int) error {
	if c.IsDistributed() {
		epochs, err := c.AllGather(ctx, []float64{float64(epoch)})
		if err != nil {
			return err
		}
		for _, e := range epochs {
			if int(e) != epoch {
				seen := make([]int, len(epochs))
				for i, e := range epochs {
					seen[i] = int(e)
				}
				return &AsymmetricEpochError{Rank: c.env.Rank, Epochs: seen}
			}
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range c.samplers {
		s.SetEpoch(epoch)
	}
	return nil
}

// AgreeSteps returns the largest local step count of the group.
func (c *Coordinator) AgreeSteps(ctx context.Context, local int) (int, error) {
	if !c.IsDistributed() {
		return local, nil
	}
	counts, err := c.AllGather(ctx, []float64{float64(local)})
	if err != nil {
		return 0, err
	}
	return int(floats.Max(counts)), nil
}

// ReduceSum sums values over the group. Outside a group it returns a copy.
func (c *Coordinator) ReduceSum(ctx context.Context, values []float64) ([]float64, error) {
	if !c.IsDistributed() {
		return append([]float64{}, values...), nil
	}
	return c.AllReduce(ctx, values)
}

// Abort fails the group for every rank. It is best effort and never blocks
// longer than a few seconds.
func (c *Coordinator) Abort(cause error) {
	if !c.IsDistributed() {
		return
	}
	c.opts.Log.Error(cause, "aborting process group", "rank", c.env.Rank)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c.mu.Lock()
	req := &AbortRequest{Session: c.session, Rank: c.env.Rank, Reason: cause.Error()}
	c.mu.Unlock()
	if err := c.backend.Abort(ctx, req); err != nil {
		c.opts.Log.Error(err, "abort not delivered", "rank", c.env.Rank)
	}
}

// Teardown leaves the group. It is a no-op unless initialized.
func (c *Coordinator) Teardown() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Initialized {
		return nil
	}
	c.state = TornDown
	return errors.Wrap(c.backend.Close(), "distributed: teardown")
}

// Replica is a model whose gradients are averaged across the group.
type Replica struct {
	model.Trainable
	c *Coordinator
}

// Wrap copies rank 0's weights to every rank and returns the replica.
func (c *Coordinator) Wrap(ctx context.Context, m model.Trainable) (*Replica, error) {
	r := &Replica{Trainable: m, c: c}
	if !c.IsDistributed() {
		return r, nil
	}
	params := m.Parameters()
	weights, err := c.Broadcast(ctx, 0, flatten(params, false))
	if err != nil {
		return nil, err
	}
	unflatten(params, weights, false)
	return r, nil
}

// AllReduceGradients replaces every local gradient with the group mean,
// or the group sum for reduction "sum".
func (r *Replica) AllReduceGradients(ctx context.Context) error {
	if !r.c.IsDistributed() {
		return nil
	}
	start := time.Now()
	params := r.Parameters()
	sum, err := r.c.AllReduce(ctx, flatten(params, true))
	if err != nil {
		return err
	}
	if r.c.opts.Reduction == "mean" {
		floats.Scale(1/float64(r.c.env.WorldSize), sum)
	}
	unflatten(params, sum, true)
	r.c.opts.Metrics.ObserveAllReduce(start)
	return nil
}

func flatten(params []*model.Param, grad bool) []float64 {
	out := make([]float64, 0, model.NumValues(params))
	for _, p := range params {
		if grad {
			out = append(out, p.Grad...)
		} else {
			out = append(out, p.Data...)
		}
	}
	return out
}

func unflatten(params []*model.Param, flat []float64, grad bool) {
	for _, p := range params {
		if grad {
			flat = flat[copy(p.Grad, flat):]
		} else {
			flat = flat[copy(p.Data, flat):]
		}
	}
}
