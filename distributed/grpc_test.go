package distributed

import "context"
import "net"
import "time"

import . "github.com/onsi/ginkgo/v2"
import . "github.com/onsi/gomega"
import "github.com/go-logr/logr"
import "github.com/pkg/errors"
import "golang.org/x/sync/errgroup"

func freePort() int {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	Expect(err).NotTo(HaveOccurred())
	defer lis.Close()
	return lis.Addr().(*net.TCPAddr).Port
}

func grpcGroup(world int, timeout time.Duration) []*Coordinator {
	port := freePort()
	out := make([]*Coordinator, world)
	for rank := range out {
		c, err := New(Env{WorldSize: world, Rank: rank, MasterAddr: "127.0.0.1", MasterPort: port}, "grpc",
			Options{Log: logr.Discard(), RendezvousTimeout: timeout})
		Expect(err).NotTo(HaveOccurred())
		out[rank] = c
	}
	return out
}

var _ = Describe("gRPC backend", func() {
	It("joins and runs collectives over loopback", func() {
		ctx := context.Background()
		cs := grpcGroup(2, 10*time.Second)

		// the client rank starts first and retries until the master listens
		var g errgroup.Group
		g.Go(func() error { return cs[1].Init(ctx) })
		time.Sleep(100 * time.Millisecond)
		g.Go(func() error { return cs[0].Init(ctx) })
		Expect(g.Wait()).To(Succeed())

		results := make([][][]float64, 2)
		eachRank(cs, func(c *Coordinator) error {
			r := float64(c.Rank())
			sum, err := c.AllReduce(ctx, []float64{r + 1, 0.5})
			if err != nil {
				return err
			}
			bc, err := c.Broadcast(ctx, 0, []float64{r + 7, r})
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
			Expect(res[0]).To(Equal([]float64{3, 1}))
			Expect(res[1]).To(Equal([]float64{7, 0}))
			Expect(res[2]).To(Equal([]float64{0, 1}))
		}

		// rank 1 leaves first so that rank 0 stops the service last
		Expect(cs[1].Teardown()).To(Succeed())
		Expect(cs[0].Teardown()).To(Succeed())
	})

	It("propagates an abort to the other rank", func() {
		ctx := context.Background()
		cs := grpcGroup(2, 10*time.Second)
		eachRank(cs, func(c *Coordinator) error { return c.Init(ctx) })

		done := make(chan error, 1)
		go func() {
			_, err := cs[0].AllReduce(ctx, []float64{1})
			done <- err
		}()
		time.Sleep(50 * time.Millisecond)
		cs[1].Abort(errors.New("disk full"))

		var err error
		Eventually(done, 5*time.Second).Should(Receive(&err))
		Expect(errors.Is(err, ErrGroupAborted)).To(BeTrue())

		Expect(cs[1].Teardown()).To(Succeed())
		Expect(cs[0].Teardown()).To(Succeed())
	})

	It("fails init when the master never shows up", func() {
		cs := grpcGroup(2, 300*time.Millisecond)
		err := cs[1].Init(context.Background())
		var initErr *InitError
		Expect(errors.As(err, &initErr)).To(BeTrue())
		Expect(initErr.Rank).To(Equal(1))
		Expect(cs[1].IsDistributed()).To(BeFalse())
	})
})
