package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"math"
	"net/http"
	"os"
	"time"

	"github.com/signalsfoundry/pushbroom-simulator/core"
	"github.com/signalsfoundry/pushbroom-simulator/datasets"
	"github.com/signalsfoundry/pushbroom-simulator/internal/logging"
	"github.com/signalsfoundry/pushbroom-simulator/internal/observability"
	"github.com/signalsfoundry/pushbroom-simulator/model"
)

func main() {
	scenarioPath := flag.String("scenario", "configs/sensor_scenario.json", "path to the sensor scenario JSON")
	scenePath := flag.String("scene", "", "path to a radiance scene JSON; empty builds a synthetic scene")
	outPath := flag.String("out", "image.json", "path the simulated image summary is written to")
	metricsAddr := flag.String("metrics-addr", "", "HTTP address for Prometheus /metrics (empty disables)")
	storeSteps := flag.Bool("store-steps", false, "retain intermediate signal after each pipeline stage")
	flag.Parse()

	log := logging.NewFromEnv()
	ctx, log := logging.WithRunLogger(context.Background(), log)

	shutdownTracing, err := observability.InitTracing(ctx, observability.TracingConfigFromEnv(), log)
	if err != nil {
		log.Error(ctx, "failed to initialise tracing", logging.String("error", err.Error()))
		os.Exit(1)
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, log)

	collector, err := observability.NewSimulatorCollector(nil)
	if err != nil {
		log.Error(ctx, "failed to initialise metrics collector", logging.String("error", err.Error()))
		os.Exit(1)
	}
	metricsSrv := serveMetrics(*metricsAddr, collector, log)

	registry := datasets.Default()

	f, err := os.Open(*scenarioPath)
	if err != nil {
		log.Error(ctx, "failed to open sensor scenario", logging.String("path", *scenarioPath), logging.String("error", err.Error()))
		os.Exit(1)
	}
	sensor, scenario, err := core.LoadSensorScenario(f, registry)
	f.Close()
	if err != nil {
		log.Error(ctx, "failed to load sensor scenario", logging.String("path", *scenarioPath), logging.String("error", err.Error()))
		os.Exit(1)
	}
	sensor.Config.StoreSteps = *storeSteps
	sensor.Observer = collector

	log.Info(ctx, "sensor scenario loaded",
		logging.String("path", *scenarioPath),
		logging.Int("bands", len(scenario.BandNames)),
		logging.Any("from_tle", scenario.FromTLE),
	)

	scene, err := loadOrSynthesizeScene(*scenePath, sensor.Config)
	if err != nil {
		log.Error(ctx, "failed to build radiance scene", logging.String("error", err.Error()))
		os.Exit(1)
	}
	log.Info(ctx, "radiance scene ready",
		logging.Int("wavelengths", scene.NBands),
		logging.Int("rows", scene.NY),
		logging.Int("cols", scene.NX),
	)

	// The sensor consumes band-integrated radiance; collapse the
	// wavelength-resolved scene through the spectral response first.
	banded, err := sensor.Config.SpectralResponse.Transform(scene, false)
	if err != nil {
		log.Error(ctx, "spectral integration failed", logging.String("error", err.Error()))
		os.Exit(1)
	}
	collector.SetSceneSize(banded.NBands, banded.NY*banded.NX)

	start := time.Now()
	image, err := sensor.FitTransform(ctx, banded)
	if err != nil {
		log.Error(ctx, "simulation failed", logging.String("error", err.Error()))
		os.Exit(1)
	}
	collector.RecordFit()
	collector.RecordTransform()
	log.Info(ctx, "simulation complete",
		logging.String("elapsed", time.Since(start).String()),
		logging.Int("bands", image.NBands),
		logging.Int("rows", image.NY),
		logging.Int("cols", image.NX),
	)

	if err := writeImageSummary(*outPath, image, sensor); err != nil {
		log.Error(ctx, "failed to write output", logging.String("path", *outPath), logging.String("error", err.Error()))
		os.Exit(1)
	}
	log.Info(ctx, "wrote simulated image", logging.String("path", *outPath))

	if metricsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
}

func serveMetrics(addr string, collector *observability.SimulatorCollector, log logging.Logger) *http.Server {
	if addr == "" || collector == nil {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())

	srv := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn(context.Background(), "metrics server exited", logging.String("error", err.Error()))
		}
	}()

	log.Info(context.Background(), "serving Prometheus metrics", logging.String("addr", addr))
	return srv
}

// sceneJSON is the on-disk shape of a wavelength-resolved radiance scene.
type sceneJSON struct {
	Wavelengths []float64 `json:"wavelengths_nm"`
	Rows        int       `json:"rows"`
	Cols        int       `json:"cols"`
	ResolutionM float64   `json:"resolution_m"`
	// Data is band-major: wavelengths × rows × cols.
	Data []float64 `json:"data"`
}

func loadOrSynthesizeScene(path string, cfg core.SensorConfig) (*model.Cube, error) {
	if path == "" {
		return synthesizeScene(cfg), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scene %q: %w", path, err)
	}
	var js sceneJSON
	if err := json.Unmarshal(data, &js); err != nil {
		return nil, fmt.Errorf("parse scene %q: %w", path, err)
	}
	if len(js.Wavelengths) == 0 || js.Rows <= 0 || js.Cols <= 0 {
		return nil, fmt.Errorf("scene %q: wavelengths, rows and cols must all be positive", path)
	}
	if want := len(js.Wavelengths) * js.Rows * js.Cols; len(js.Data) != want {
		return nil, fmt.Errorf("scene %q: expected %d samples, got %d", path, want, len(js.Data))
	}

	scene := model.NewCube(len(js.Wavelengths), js.Rows, js.Cols)
	scene.Wavelengths = append([]float64(nil), js.Wavelengths...)
	scene.Res = js.ResolutionM
	copy(scene.Data, js.Data)
	return scene, nil
}

// synthesizeScene builds a smooth top-of-atmosphere radiance field on a 5 nm
// grid covering the sensor's spectral range, with a gentle spatial gradient so
// downsampling and noise structure are visible in the output.
func synthesizeScene(cfg core.SensorConfig) *model.Cube {
	const (
		minWavelength = 400.0
		maxWavelength = 1000.0
		stepNM        = 5.0
	)

	nw := int((maxWavelength-minWavelength)/stepNM) + 1
	rows, cols := 64, 64
	scene := model.NewCube(nw, rows, cols)
	scene.Wavelengths = make([]float64, nw)
	scene.Res = cfg.GSDM / 4

	for w := 0; w < nw; w++ {
		lambda := minWavelength + float64(w)*stepNM
		scene.Wavelengths[w] = lambda
		// Very rough solar-reflectance shape peaking near 550 nm,
		// in W m^-2 sr^-1 nm^-1.
		spectral := 0.08 * math.Exp(-math.Pow((lambda-550)/250, 2))
		for y := 0; y < rows; y++ {
			for x := 0; x < cols; x++ {
				gradient := 0.5 + 0.5*float64(x)/float64(cols-1)
				scene.Set(w, y, x, spectral*gradient)
			}
		}
	}
	return scene
}

// imageSummaryJSON is what the simulator writes out: full DN data plus
// per-band statistics so quick inspection does not need the whole cube.
type imageSummaryJSON struct {
	BandNames []string        `json:"band_names"`
	Rows      int             `json:"rows"`
	Cols      int             `json:"cols"`
	GSD       float64         `json:"gsd_m"`
	BitDepth  int             `json:"bit_depth"`
	Bands     []bandStatsJSON `json:"band_stats"`
	Data      []float64       `json:"data"`
}

type bandStatsJSON struct {
	Name string  `json:"name"`
	Min  float64 `json:"min"`
	Mean float64 `json:"mean"`
	Max  float64 `json:"max"`
}

func writeImageSummary(path string, image *model.Cube, sensor *core.TDICMOS) error {
	out := imageSummaryJSON{
		BandNames: append([]string(nil), image.BandNames...),
		Rows:      image.NY,
		Cols:      image.NX,
		GSD:       sensor.Config.GSDM,
		BitDepth:  sensor.Config.BitDepth,
		Data:      image.Data,
	}
	for b := 0; b < image.NBands; b++ {
		plane := image.Plane(b)
		minV, maxV := plane[0], plane[0]
		sum := 0.0
		for _, v := range plane {
			if v < minV {
				minV = v
			}
			if v > maxV {
				maxV = v
			}
			sum += v
		}
		name := fmt.Sprintf("band_%d", b)
		if b < len(image.BandNames) {
			name = image.BandNames[b]
		}
		out.Bands = append(out.Bands, bandStatsJSON{
			Name: name,
			Min:  minV,
			Mean: sum / float64(len(plane)),
			Max:  maxV,
		})
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
