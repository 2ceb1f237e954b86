// Package metrics exposes training progress as prometheus collectors.
package metrics

import "context"
import "net/http"
import "strconv"
import "time"

import "github.com/pkg/errors"
import "github.com/prometheus/client_golang/prometheus"
import "github.com/prometheus/client_golang/prometheus/promhttp"

// Recorder holds the collectors of one rank on a private registry.
type Recorder struct {
	Registry *prometheus.Registry

	Batches   prometheus.Counter
	Shadow    prometheus.Counter
	NonFinite prometheus.Counter
	Loss      prometheus.Gauge
	Epoch     prometheus.Gauge
	Accuracy  *prometheus.GaugeVec
	AllReduce prometheus.Histogram
}

// New registers the collectors labelled with the rank.
func New(rank int) *Recorder {
	labels := prometheus.Labels{"rank": strconv.Itoa(rank)}
	r := &Recorder{
		Registry: prometheus.NewRegistry(),
		Batches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "finetune_batches_total", Help: "Training batches processed.", ConstLabels: labels,
		}),
		Shadow: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "finetune_shadow_steps_total", Help: "Steps taken without local data to match the group.", ConstLabels: labels,
		}),
		NonFinite: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "finetune_non_finite_loss_total", Help: "Batches whose loss was NaN or infinite.", ConstLabels: labels,
		}),
		Loss: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "finetune_loss", Help: "Loss of the latest batch.", ConstLabels: labels,
		}),
		Epoch: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "finetune_epoch", Help: "Current epoch.", ConstLabels: labels,
		}),
		Accuracy: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "finetune_accuracy_ratio", Help: "Accuracy of the latest evaluation pass.", ConstLabels: labels,
		}, []string{"mode"}),
		AllReduce: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name: "finetune_allreduce_seconds", Help: "Gradient all-reduce latency.", ConstLabels: labels,
			Buckets: prometheus.ExponentialBuckets(0.0005, 4, 8),
		}),
	}
	r.Registry.MustRegister(r.Batches, r.Shadow, r.NonFinite, r.Loss, r.Epoch, r.Accuracy, r.AllReduce)
	return r
}

// ObserveAllReduce records the latency of one gradient all-reduce.
func (r *Recorder) ObserveAllReduce(start time.Time) {
	if r == nil {
		return
	}
	r.AllReduce.Observe(time.Since(start).Seconds())
}

// BatchDone records one trained batch and its loss.
func (r *Recorder) BatchDone(loss float64) {
	if r == nil {
		return
	}
	r.Batches.Inc()
	r.Loss.Set(loss)
}

// ShadowStep records a step taken without local data.
func (r *Recorder) ShadowStep() {
	if r == nil {
		return
	}
	r.Shadow.Inc()
}

// NonFiniteLoss records a NaN or infinite loss.
func (r *Recorder) NonFiniteLoss() {
	if r == nil {
		return
	}
	r.NonFinite.Inc()
}

// SetEpoch records the epoch being trained.
func (r *Recorder) SetEpoch(epoch int) {
	if r == nil {
		return
	}
	r.Epoch.Set(float64(epoch))
}

// SetAccuracy records the accuracy of an evaluation pass.
func (r *Recorder) SetAccuracy(mode string, accuracy float64) {
	if r == nil {
		return
	}
	r.Accuracy.WithLabelValues(mode).Set(accuracy)
}

// Handler serves the registry.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.Registry, promhttp.HandlerOpts{Registry: r.Registry})
}

// Serve exposes /metrics on addr until ctx is done.
func (r *Recorder) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", r.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdown, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrapf(err, "metrics: serving %s", addr)
	}
	return nil
}
