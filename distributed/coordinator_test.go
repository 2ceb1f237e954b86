package distributed

import "context"
import "encoding/json"
import "math"
import "time"

import . "github.com/onsi/ginkgo/v2"
import . "github.com/onsi/gomega"
import "github.com/go-logr/logr"
import "github.com/pkg/errors"
import "golang.org/x/sync/errgroup"

import "github.com/neurlang/finetune/model"

// stubModel is a trainable with one parameter vector.
type stubModel struct {
	p *model.Param
}

func newStub(values ...float64) *stubModel {
	p := model.NewParam("w", len(values))
	copy(p.Data, values)
	return &stubModel{p: p}
}

func (s *stubModel) Forward(in model.EncodedInput) ([][]float64, error) {
	return make([][]float64, in.Rows()), nil
}
func (s *stubModel) Parameters() []*model.Param { return []*model.Param{s.p} }
func (s *stubModel) State() ([]byte, error) { return json.Marshal(s.p.Data) }
func (s *stubModel) LoadState(b []byte) error { return json.Unmarshal(b, &s.p.Data) }
func (s *stubModel) Backward(dScores [][]float64) error { return nil }

type epochRecorder struct {
	epoch int
}

func (e *epochRecorder) SetEpoch(epoch int) {
	e.epoch = epoch
}

// localGroup returns initialized coordinators of an in-process group.
func localGroup(ctx context.Context, world int, reduction string) []*Coordinator {
	backends := NewLocalGroup(world)
	out := make([]*Coordinator, world)
	for rank := range out {
		c, err := New(Env{WorldSize: world, Rank: rank, MasterAddr: "local", MasterPort: 1}, "local",
			Options{Reduction: reduction, Backend: backends[rank], Log: logr.Discard(), RendezvousTimeout: 5 * time.Second})
		Expect(err).NotTo(HaveOccurred())
		out[rank] = c
	}
	eachRank(out, func(c *Coordinator) error {
		return c.Init(ctx)
	})
	return out
}

// eachRank runs fn concurrently on every coordinator and expects success.
func eachRank(cs []*Coordinator, fn func(c *Coordinator) error) {
	var g errgroup.Group
	for _, c := range cs {
		g.Go(func() error { return fn(c) })
	}
	Expect(g.Wait()).To(Succeed())
}

var _ = Describe("ShouldDistribute", func() {
	It("needs more than one rank and a backend", func() {
		Expect(ShouldDistribute(Env{WorldSize: 1}, true)).To(BeFalse())
		Expect(ShouldDistribute(Env{WorldSize: 2}, false)).To(BeFalse())
		Expect(ShouldDistribute(Env{WorldSize: 2}, true)).To(BeTrue())
	})
})

var _ = Describe("Coordinator", func() {
	var ctx context.Context

	BeforeEach(func() {
		ctx = context.Background()
	})

	Context("when constructed", func() {
		It("reports a missing backend as a dependency error", func() {
			_, err := New(Env{WorldSize: 2, Rank: 0}, "nccl", Options{})
			var dep *DependencyError
			Expect(errors.As(err, &dep)).To(BeTrue())
			Expect(dep.Backend).To(Equal("nccl"))
			Expect(Available("nccl")).To(BeFalse())
			Expect(Available("grpc")).To(BeTrue())
		})

		It("rejects an unknown reduction", func() {
			_, err := New(Env{WorldSize: 1}, "grpc", Options{Reduction: "max"})
			Expect(err).To(HaveOccurred())
		})

		It("is not distributed and tears down as a no-op", func() {
			c, err := New(Env{WorldSize: 1}, "grpc", Options{Log: logr.Discard()})
			Expect(err).NotTo(HaveOccurred())
			Expect(c.IsDistributed()).To(BeFalse())
			Expect(c.Teardown()).To(Succeed())
			Expect(c.State()).To(Equal(Uninitialized))
		})

		It("runs single rank helpers locally", func() {
			c, err := New(Env{WorldSize: 1}, "grpc", Options{Log: logr.Discard()})
			Expect(err).NotTo(HaveOccurred())
			steps, err := c.AgreeSteps(ctx, 3)
			Expect(err).NotTo(HaveOccurred())
			Expect(steps).To(Equal(3))
			sum, err := c.ReduceSum(ctx, []float64{1, 2})
			Expect(err).NotTo(HaveOccurred())
			Expect(sum).To(Equal([]float64{1, 2}))

			rec := &epochRecorder{}
			c.Register(rec)
			Expect(c.Reseed(ctx, 4)).To(Succeed())
			Expect(rec.epoch).To(Equal(4))

			stub := newStub(1, 2)
			stub.p.Grad[0] = 5
			r, err := c.Wrap(ctx, stub)
			Expect(err).NotTo(HaveOccurred())
			Expect(r.AllReduceGradients(ctx)).To(Succeed())
			Expect(stub.p.Grad[0]).To(Equal(5.0))
		})
	})

	Context("with an in-process group of three", func() {
		var cs []*Coordinator

		BeforeEach(func() {
			cs = localGroup(ctx, 3, "mean")
		})

		AfterEach(func() {
			for _, c := range cs {
				Expect(c.Teardown()).To(Succeed())
				Expect(c.Teardown()).To(Succeed())
				Expect(c.State()).To(Equal(TornDown))
			}
		})

		It("is initialized once", func() {
			for _, c := range cs {
				Expect(c.IsDistributed()).To(BeTrue())
				Expect(c.Init(ctx)).NotTo(Succeed())
			}
		})

		It("runs the collectives", func() {
			results := make([][][]float64, len(cs))
			eachRank(cs, func(c *Coordinator) error {
				r := float64(c.Rank())
				sum, err := c.AllReduce(ctx, []float64{r, 1})
				if err != nil {
					return err
				}
				bc, err := c.Broadcast(ctx, 1, []float64{r * 10})
				if err != nil {
					return err
				}
				all, err := c.AllGather(ctx, []float64{r})
				if err != nil {
					return err
				}
				results[c.Rank()] = [][]float64{sum, bc, all}
				return nil
			})
			for _, res := range results {
				Expect(res[0]).To(Equal([]float64{3, 3}))
				Expect(res[1]).To(Equal([]float64{10}))
				Expect(res[2]).To(Equal([]float64{0, 1, 2}))
			}
		})

		It("agrees on the largest step count", func() {
			steps := make([]int, len(cs))
			eachRank(cs, func(c *Coordinator) error {
				n, err := c.AgreeSteps(ctx, 2+c.Rank()%2)
				steps[c.Rank()] = n
				return err
			})
			Expect(steps).To(Equal([]int{3, 3, 3}))
		})

		It("copies rank 0 weights and averages gradients", func() {
			stubs := make([]*stubModel, len(cs))
			eachRank(cs, func(c *Coordinator) error {
				s := newStub(float64(c.Rank()), 7)
				s.p.Grad[0] = float64(3 * c.Rank())
				s.p.Grad[1] = 1
				stubs[c.Rank()] = s
				r, err := c.Wrap(ctx, s)
				if err != nil {
					return err
				}
				return r.AllReduceGradients(ctx)
			})
			for _, s := range stubs {
				Expect(s.p.Data).To(Equal([]float64{0, 7}))
				Expect(s.p.Grad).To(Equal([]float64{3, 1}))
			}
		})

		It("reseeds registered samplers", func() {
			recs := make([]*epochRecorder, len(cs))
			eachRank(cs, func(c *Coordinator) error {
				recs[c.Rank()] = &epochRecorder{}
				c.Register(recs[c.Rank()])
				return c.Reseed(ctx, 2)
			})
			for _, r := range recs {
				Expect(r.epoch).To(Equal(2))
			}
		})

		It("rejects asymmetric epochs", func() {
			errs := make([]error, len(cs))
			var g errgroup.Group
			for _, c := range cs {
						g.Go(func() error {
					epoch := 1
					if c.Rank() == 2 {
						epoch = 2
					}
					errs[c.Rank()] = c.Reseed(ctx, epoch)
					return nil
				})
			}
			Expect(g.Wait()).To(Succeed())
			for _, err := range errs {
				var asym *AsymmetricEpochError
				Expect(errors.As(err, &asym)).To(BeTrue())
				Expect(asym.Epochs).To(Equal([]int{1, 1, 2}))
			}
		})

		It("fails every pending collective when a rank aborts", func() {
			errs := make([]error, 2)
			var g errgroup.Group
			for _, c := range cs[:2] {
						g.Go(func() error {
					_, errs[c.Rank()] = c.AllReduce(ctx, []float64{1})
					return nil
				})
			}
			time.Sleep(50 * time.Millisecond)
			cs[2].Abort(errors.New("out of memory"))
			Expect(g.Wait()).To(Succeed())
			for _, err := range errs {
				Expect(errors.Is(err, ErrGroupAborted)).To(BeTrue())
			}

			_, err := cs[0].AllReduce(ctx, []float64{1})
			Expect(errors.Is(err, ErrGroupAborted)).To(BeTrue())
		})

		It("detects mismatched rounds", func() {
			errs := make([]error, len(cs))
			var g errgroup.Group
			for _, c := range cs {
						g.Go(func() error {
					_, errs[c.Rank()] = c.AllReduce(ctx, make([]float64, 1+c.Rank()))
					return nil
				})
			}
			Expect(g.Wait()).To(Succeed())
			var mismatched int
			for _, err := range errs {
				Expect(err).To(HaveOccurred())
				if errors.Is(err, ErrCollectiveMismatch) {
					mismatched++
				} else {
					Expect(errors.Is(err, ErrGroupAborted)).To(BeTrue())
				}
			}
			Expect(mismatched).To(BeNumerically(">=", 1))
		})
	})
})

var _ = Describe("group", func() {
	It("rejects a stale session", func() {
		g := newGroup(1)
		resp, err := g.join(context.Background(), &JoinRequest{Rank: 0, WorldSize: 1})
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.Session).NotTo(BeEmpty())

		_, err = g.exchange(context.Background(), &Request{Session: "other", Seq: 1, Kind: KindAllReduce})
		Expect(errors.Is(err, ErrStaleSession)).To(BeTrue())

		out, err := g.exchange(context.Background(), &Request{Session: resp.Session, Seq: 1, Kind: KindAllReduce, Data: Vector{2}})
		Expect(err).NotTo(HaveOccurred())
		Expect(out.Data).To(Equal(Vector{2}))
	})

	It("rejects a wrong world size", func() {
		g := newGroup(2)
		_, err := g.join(context.Background(), &JoinRequest{Rank: 0, WorldSize: 3})
		Expect(err).To(HaveOccurred())
	})

	It("keeps non-finite payloads on the wire", func() {
		data, err := json.Marshal(Vector{math.NaN(), math.Inf(1), 1.5})
		Expect(err).NotTo(HaveOccurred())
		var v Vector
		Expect(json.Unmarshal(data, &v)).To(Succeed())
		Expect(math.IsNaN(v[0])).To(BeTrue())
		Expect(math.IsInf(v[1], 1)).To(BeTrue())
		Expect(v[2]).To(Equal(1.5))
	})
})
