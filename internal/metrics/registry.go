// Package metrics records pipeline timings and network sizes on a
// dedicated prometheus registry that can be dumped as a node-exporter
// textfile after a batch run.
package metrics

import (
	"sort"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// Registry holds all cnmfsns metrics
type Registry struct {
	reg *prometheus.Registry

	StepDuration  *prometheus.HistogramVec
	PipelineSteps *prometheus.CounterVec
	PairsComputed *prometheus.CounterVec
	Edges         *prometheus.GaugeVec
	GEPs          prometheus.Gauge
	Datasets      prometheus.Gauge
	GenesSelected *prometheus.GaugeVec
}

// NewRegistry creates a new metrics registry with all cnmfsns metrics
func NewRegistry() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),

		StepDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cnmfsns_step_duration_seconds",
				Help:    "Duration of each pipeline step in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300, 900},
			},
			[]string{"step", "result"},
		),

		PipelineSteps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cnmfsns_pipeline_steps_total",
				Help: "Total number of pipeline steps executed",
			},
			[]string{"step", "status"},
		),

		PairsComputed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cnmfsns_pairs_computed_total",
				Help: "GEP pairs whose correlation was computed",
			},
			[]string{"method"},
		),

		Edges: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "cnmfsns_network_edges",
				Help: "Edges retained in the last built network",
			},
			[]string{"method"},
		),

		GEPs: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "cnmfsns_network_geps",
				Help: "Gene expression programs in the last built network",
			},
		),

		Datasets: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "cnmfsns_datasets",
				Help: "Datasets in the registry",
			},
		),

		GenesSelected: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "cnmfsns_genes_selected",
				Help: "Genes selected by the last selection per method",
			},
			[]string{"method"},
		),
	}

	r.reg.MustRegister(
		r.StepDuration,
		r.PipelineSteps,
		r.PairsComputed,
		r.Edges,
		r.GEPs,
		r.Datasets,
		r.GenesSelected,
	)
	return r
}

// Gatherer exposes the underlying registry.
func (r *Registry) Gatherer() prometheus.Gatherer { return r.reg }

// StepTimer tracks execution time for pipeline steps
type StepTimer struct {
	metrics *Registry
	step    string
	start   time.Time
}

// StartStepTimer begins timing a pipeline step
func (r *Registry) StartStepTimer(step string) *StepTimer {
	return &StepTimer{metrics: r, step: step, start: time.Now()}
}

// Stop completes the step timing and records the metric
func (st *StepTimer) Stop(result string) time.Duration {
	d := time.Since(st.start)
	st.metrics.observe(st.step, result, d)
	return d
}

// ObserveStep records a successful step; it matches the observer
// signature of log.StepLogger.
func (r *Registry) ObserveStep(step string, d time.Duration) {
	r.observe(step, ResultSuccess, d)
}

// RecordFailure counts a failed step.
func (r *Registry) RecordFailure(step string) {
	r.PipelineSteps.WithLabelValues(step, ResultError).Inc()
}

func (r *Registry) observe(step, result string, d time.Duration) {
	r.StepDuration.WithLabelValues(step, result).Observe(d.Seconds())
	r.PipelineSteps.WithLabelValues(step, result).Inc()
}

// RecordNetwork records the size of a built network.
func (r *Registry) RecordNetwork(method string, geps, edges int) {
	r.GEPs.Set(float64(geps))
	r.Edges.WithLabelValues(method).Set(float64(edges))
	r.PairsComputed.WithLabelValues(method).Add(float64(geps * (geps - 1) / 2))
}

// RecordSelection records the size of a gene selection.
func (r *Registry) RecordSelection(method string, genes int) {
	r.GenesSelected.WithLabelValues(method).Set(float64(genes))
}

// WriteTextfile dumps the registry in text exposition format, atomically.
func (r *Registry) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, r.reg)
}

// Snapshot flattens the registry into series name -> value. Histograms
// contribute their sample count and sum.
func (r *Registry) Snapshot() (map[string]float64, error) {
	families, err := r.reg.Gather()
	if err != nil {
		return nil, err
	}
	out := make(map[string]float64)
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			name := seriesName(mf.GetName(), m.GetLabel())
			switch mf.GetType() {
			case dto.MetricType_COUNTER:
				out[name] = m.GetCounter().GetValue()
			case dto.MetricType_GAUGE:
				out[name] = m.GetGauge().GetValue()
			case dto.MetricType_HISTOGRAM:
				h := m.GetHistogram()
				out[seriesName(mf.GetName()+"_count", m.GetLabel())] = float64(h.GetSampleCount())
				out[seriesName(mf.GetName()+"_sum", m.GetLabel())] = h.GetSampleSum()
			}
		}
	}
	return out, nil
}

func seriesName(name string, labels []*dto.LabelPair) string {
	if len(labels) == 0 {
		return name
	}
	pairs := make([]string, len(labels))
	for i, l := range labels {
		pairs[i] = l.GetName() + `="` + l.GetValue() + `"`
	}
	sort.Strings(pairs)
	return name + "{" + strings.Join(pairs, ",") + "}"
}

// Step results
const (
	ResultSuccess = "success"
	ResultError   = "error"
)
