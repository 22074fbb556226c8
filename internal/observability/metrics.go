package observability

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SimulatorCollector bundles Prometheus metrics for the sensor simulation
// and provides a ready-made /metrics handler.
type SimulatorCollector struct {
	gatherer prometheus.Gatherer

	Fits           prometheus.Counter
	Transforms     prometheus.Counter
	StageDurations *prometheus.HistogramVec

	SceneBands  prometheus.Gauge
	ScenePixels prometheus.Gauge
}

// NewSimulatorCollector registers simulation Prometheus metrics against the
// provided registerer, defaulting to the global Prometheus registry when nil.
func NewSimulatorCollector(reg prometheus.Registerer) (*SimulatorCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	fits, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sensor_fits_total",
		Help: "Total number of fixed-pattern fits performed.",
	}), "sensor_fits_total")
	if err != nil {
		return nil, err
	}

	transforms, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sensor_transforms_total",
		Help: "Total number of completed sensor transforms.",
	}), "sensor_transforms_total")
	if err != nil {
		return nil, err
	}

	stages := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sensor_stage_duration_seconds",
		Help:    "Wall time spent in each pipeline stage, labeled by stage name.",
		Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10},
	}, []string{"stage"})
	stages, err = registerHistogramVec(reg, stages, "sensor_stage_duration_seconds")
	if err != nil {
		return nil, err
	}

	bands, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "scene_bands",
		Help: "Number of spectral bands in the current scene.",
	}), "scene_bands")
	if err != nil {
		return nil, err
	}
	pixels, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "scene_pixels",
		Help: "Number of pixels per band in the current scene.",
	}), "scene_pixels")
	if err != nil {
		return nil, err
	}

	return &SimulatorCollector{
		gatherer:       gatherer,
		Fits:           fits,
		Transforms:     transforms,
		StageDurations: stages,
		SceneBands:     bands,
		ScenePixels:    pixels,
	}, nil
}

// ObserveStage satisfies the core.StageObserver interface so the sensor can
// drive the stage histogram directly from its pipeline loop.
func (c *SimulatorCollector) ObserveStage(stage string, d time.Duration) {
	if c == nil || c.StageDurations == nil {
		return
	}
	c.StageDurations.WithLabelValues(stage).Observe(d.Seconds())
}

// RecordFit increments the fit counter.
func (c *SimulatorCollector) RecordFit() {
	if c != nil && c.Fits != nil {
		c.Fits.Inc()
	}
}

// RecordTransform increments the transform counter.
func (c *SimulatorCollector) RecordTransform() {
	if c != nil && c.Transforms != nil {
		c.Transforms.Inc()
	}
}

// SetSceneSize publishes the working scene dimensions.
func (c *SimulatorCollector) SetSceneSize(bands, pixelsPerBand int) {
	if c == nil {
		return
	}
	if c.SceneBands != nil {
		c.SceneBands.Set(float64(bands))
	}
	if c.ScenePixels != nil {
		c.ScenePixels.Set(float64(pixelsPerBand))
	}
}

// Handler exposes a ready-to-use /metrics handler.
func (c *SimulatorCollector) Handler() http.Handler {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}

func registerHistogramVec(reg prometheus.Registerer, vec *prometheus.HistogramVec, name string) (*prometheus.HistogramVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}
