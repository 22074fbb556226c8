package core

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/exp/rand"

	"github.com/signalsfoundry/pushbroom-simulator/datasets"
	"github.com/signalsfoundry/pushbroom-simulator/model"
)

// ErrNotFitted is returned by Transform when no fixed-pattern state exists.
var ErrNotFitted = errors.New("sensor model is not fitted; call Fit first")

// tracerName identifies this package's OTel tracer.
const tracerName = "github.com/signalsfoundry/pushbroom-simulator/core"

// QEKind tags the form a quantum-efficiency specification takes. The
// specification is resolved once, during derived-parameter computation, into
// a per-band value array; nothing re-dispatches on the kind at transform
// time.
type QEKind int

const (
	// QEScalar applies one efficiency to every band.
	QEScalar QEKind = iota
	// QECurve is an efficiency spectrum collapsed per band through the
	// spectral response.
	QECurve
	// QEPerBand lists one efficiency per sensor band.
	QEPerBand
	// QEDataset names a curve in the dataset registry.
	QEDataset
)

// QESpec is the tagged quantum-efficiency specification.
type QESpec struct {
	Kind    QEKind
	Scalar  float64
	Curve   model.Curve
	PerBand []float64
	Dataset string
}

// StageObserver receives the wall time spent in each pipeline stage.
// Implemented by the observability collector; nil disables observation.
type StageObserver interface {
	ObserveStage(stage string, d time.Duration)
}

// StepOutput is one retained intermediate result, in stage order.
type StepOutput struct {
	Name string
	Cube *model.Cube
}

// SensorConfig holds every physical parameter of the simulated instrument.
// Fields may be edited between runs; call UpdateDerivedParams afterwards so
// the derived values stay consistent (Fit does this automatically).
type SensorConfig struct {
	// Platform geometry.
	AltitudeM     float64 // sensor altitude above the scene, metres
	GroundSpeedMS float64 // relative ground speed, m/s
	GSDM          float64 // ground sample distance, metres

	// Optic.
	LensDiameterM float64
	PSFFWHMM      float64 // point spread function FWHM in ground metres

	// Sensor geometry.
	TDIRows          int     // rows integrated per channel
	PixPerRow        int     // pixels per row
	SensorWidthMM    float64 // width of the imaging area, millimetres
	PixelAreaMicron2 float64 // light-absorbing area per pixel, square microns

	// Photonic and electronic response.
	QE            QESpec
	FullWell      int     // electrons
	PRNUFactor    float64 // photo-response non-uniformity, [0,1)
	DarkCurrent   float64 // e-/s per physical pixel
	DarkFactor    float64 // dark-signal non-uniformity factor, [0,1)
	OffsetFactor  float64 // column offset factor, [0,1)
	SenseNodeVRef float64 // volts
	SenseNodeGain float64 // microvolts per electron
	ReadNoise     float64 // electrons
	ADCVRef       float64 // volts
	BitDepth      int

	// Simulation behaviour.
	SpatialResampling bool
	StoreSteps        bool
	// Seed pins both RNG lifetimes; zero draws from the clock, so each
	// Fit produces a fresh fixed pattern.
	Seed uint64

	// SpectralResponse binds the sensor's band definitions. Required for
	// curve and dataset quantum-efficiency forms and for spectral
	// downsampling.
	SpectralResponse *model.SpectralResponse
}

// DefaultConfig returns the reference TDI CMOS configuration: a 500 km
// pushbroom imager at 2 m GSD with a 14-bit ADC.
func DefaultConfig() SensorConfig {
	return SensorConfig{
		AltitudeM:         5e5,
		GroundSpeedMS:     7000,
		GSDM:              2,
		LensDiameterM:     0.1,
		PSFFWHMM:          4,
		TDIRows:           32,
		PixPerRow:         8000,
		SensorWidthMM:     82.2,
		PixelAreaMicron2:  100,
		QE:                QESpec{Kind: QEDataset, Dataset: "TDI_QE_BACK"},
		FullWell:          30000,
		PRNUFactor:        0.01,
		DarkCurrent:       570,
		DarkFactor:        0.01,
		OffsetFactor:      0.001,
		SenseNodeVRef:     3.1,
		SenseNodeGain:     5,
		ReadNoise:         20,
		ADCVRef:           0.5,
		BitDepth:          14,
		SpatialResampling: true,
	}
}

// Validate surfaces out-of-range parameters. Out-of-range values are
// rejected rather than clamped: silent clamping would make a configuration
// mean something other than what it says.
func (c *SensorConfig) Validate() error {
	checkFactor := func(name string, v float64) error {
		if v < 0 || v >= 1 {
			return fmt.Errorf("sensor config: %s %g outside [0,1)", name, v)
		}
		return nil
	}
	if err := checkFactor("PRNU factor", c.PRNUFactor); err != nil {
		return err
	}
	if err := checkFactor("dark factor", c.DarkFactor); err != nil {
		return err
	}
	if err := checkFactor("offset factor", c.OffsetFactor); err != nil {
		return err
	}
	if c.FullWell <= 0 {
		return fmt.Errorf("sensor config: full well %d must be positive", c.FullWell)
	}
	if c.BitDepth <= 0 || c.BitDepth > 32 {
		return fmt.Errorf("sensor config: bit depth %d out of range", c.BitDepth)
	}
	if c.TDIRows <= 0 || c.PixPerRow <= 0 {
		return fmt.Errorf("sensor config: TDI rows (%d) and pixels per row (%d) must be positive",
			c.TDIRows, c.PixPerRow)
	}
	if c.GroundSpeedMS <= 0 || c.GSDM <= 0 {
		return fmt.Errorf("sensor config: ground speed (%g) and GSD (%g) must be positive",
			c.GroundSpeedMS, c.GSDM)
	}
	if c.AltitudeM <= 0 || c.SensorWidthMM <= 0 || c.LensDiameterM <= 0 {
		return fmt.Errorf("sensor config: altitude, sensor width and lens diameter must be positive")
	}
	if c.PixelAreaMicron2 <= 0 {
		return fmt.Errorf("sensor config: pixel area %g must be positive", c.PixelAreaMicron2)
	}
	if c.ReadNoise < 0 || c.DarkCurrent < 0 {
		return fmt.Errorf("sensor config: read noise and dark current must be non-negative")
	}
	if c.QE.Kind == QEScalar && (c.QE.Scalar < 0 || c.QE.Scalar > 1) {
		return fmt.Errorf("sensor config: scalar quantum efficiency %g outside [0,1]", c.QE.Scalar)
	}
	for _, v := range c.QE.PerBand {
		if v < 0 || v > 1 {
			return fmt.Errorf("sensor config: per-band quantum efficiency %g outside [0,1]", v)
		}
	}
	return nil
}

// DerivedParams are the values computed deterministically from SensorConfig.
// They are recomputed as a whole by UpdateDerivedParams so they can never be
// partially stale.
type DerivedParams struct {
	// IntegrationTime is the total exposure per effective line:
	// TDIRows / lineRate, where lineRate = groundSpeed / GSD.
	IntegrationTime float64
	// SwathWidthM is the imaged ground width.
	SwathWidthM float64
	// AFOVRad is the full angular field of view.
	AFOVRad float64
	// FocalLengthM assumes a rectilinear optic focused at infinity.
	FocalLengthM float64
	// PixWidthM is the physical pixel pitch, assuming square pixels.
	PixWidthM float64
	// EffDarkCurrent is the dark current of one effective (TDI-summed)
	// pixel: per-pixel dark current times TDI rows.
	EffDarkCurrent float64
	// SenseNodeGainV is the sense node gain in volts per electron.
	SenseNodeGainV float64
	// BandQE is the resolved quantum efficiency: one value per band, or a
	// single value broadcast across bands.
	BandQE []float64
}

// TDICMOS simulates a time-delay-integration CMOS pushbroom sensor. It owns
// its configuration, the derived parameters, and the fixed-pattern state
// created by Fit. A TDICMOS must not be shared across concurrent transforms.
type TDICMOS struct {
	Config  SensorConfig
	Derived DerivedParams

	// StepOutputs holds each stage's intermediate cube from the most
	// recent Transform, when Config.StoreSteps is set. Diagnostic only.
	StepOutputs []StepOutput

	// Observer, when set, receives per-stage timings.
	Observer StageObserver

	registry *datasets.Registry

	fitted bool
	prnu   *model.Cube
	dsnu   *model.Cube
	conu   *model.Cube

	noiseSeq uint64
}

// NewTDICMOS builds a sensor around the given configuration. The registry
// resolves dataset-form quantum efficiency; nil is allowed when the
// configuration does not reference one.
func NewTDICMOS(cfg SensorConfig, reg *datasets.Registry) (*TDICMOS, error) {
	s := &TDICMOS{Config: cfg, registry: reg}
	if err := s.UpdateDerivedParams(); err != nil {
		return nil, err
	}
	return s, nil
}

// UpdateDerivedParams recomputes every derived value from the current
// configuration. Call it after editing Config; it is idempotent and cheap,
// and Fit always calls it, so a fit/transform cycle never runs on stale
// parameters.
func (s *TDICMOS) UpdateDerivedParams() error {
	cfg := &s.Config
	if err := cfg.Validate(); err != nil {
		return err
	}

	d := DerivedParams{}
	lineRate := cfg.GroundSpeedMS / cfg.GSDM
	d.IntegrationTime = float64(cfg.TDIRows) / lineRate
	d.SwathWidthM = cfg.GSDM * float64(cfg.PixPerRow)
	d.AFOVRad = 2 * math.Atan2(d.SwathWidthM*0.5, cfg.AltitudeM)
	d.FocalLengthM = cfg.SensorWidthMM / math.Tan(d.AFOVRad) / 1e3
	d.PixWidthM = math.Sqrt(cfg.PixelAreaMicron2) / 1e6
	d.EffDarkCurrent = cfg.DarkCurrent * float64(cfg.TDIRows)
	d.SenseNodeGainV = cfg.SenseNodeGain * 1e-6

	qe, err := s.resolveQE()
	if err != nil {
		return err
	}
	d.BandQE = qe

	s.Derived = d
	return nil
}

// resolveQE collapses the quantum-efficiency specification to per-band
// values.
func (s *TDICMOS) resolveQE() ([]float64, error) {
	cfg := &s.Config
	switch cfg.QE.Kind {
	case QEScalar:
		return []float64{cfg.QE.Scalar}, nil
	case QEPerBand:
		if len(cfg.QE.PerBand) == 0 {
			return nil, fmt.Errorf("sensor config: empty per-band quantum efficiency")
		}
		if cfg.SpectralResponse != nil && len(cfg.QE.PerBand) != len(cfg.SpectralResponse.Bands) {
			return nil, fmt.Errorf("sensor config: %d quantum efficiency values for %d bands",
				len(cfg.QE.PerBand), len(cfg.SpectralResponse.Bands))
		}
		return append([]float64(nil), cfg.QE.PerBand...), nil
	case QECurve:
		if cfg.SpectralResponse == nil {
			return nil, fmt.Errorf("sensor config: curve quantum efficiency requires a spectral response")
		}
		return cfg.SpectralResponse.BandQE(cfg.QE.Curve)
	case QEDataset:
		if s.registry == nil {
			return nil, fmt.Errorf("sensor config: dataset quantum efficiency %q requires a registry",
				cfg.QE.Dataset)
		}
		curve, ok := s.registry.QE(cfg.QE.Dataset)
		if !ok {
			return nil, fmt.Errorf("sensor config: unknown quantum efficiency dataset %q", cfg.QE.Dataset)
		}
		if cfg.SpectralResponse == nil {
			return nil, fmt.Errorf("sensor config: dataset quantum efficiency requires a spectral response")
		}
		return cfg.SpectralResponse.BandQE(curve)
	default:
		return nil, fmt.Errorf("sensor config: unknown quantum efficiency kind %d", cfg.QE.Kind)
	}
}

// Fitted reports whether fixed-pattern state exists.
func (s *TDICMOS) Fitted() bool { return s.fitted }

// Fit draws the sensor's fixed-pattern state from the shape of the given
// signal. The pattern is one line wide: a pushbroom sensor reuses the same
// physical columns for every image row, so per-column fields broadcast down
// the track. Fit fully replaces any prior state.
func (s *TDICMOS) Fit(signal *model.Cube) error {
	if err := s.UpdateDerivedParams(); err != nil {
		return err
	}

	work := signal
	if s.Config.SpatialResampling {
		resampled, err := GaussianIsotropic(signal, s.Config.PSFFWHMM, s.Config.GSDM)
		if err != nil {
			return fmt.Errorf("fit: %w", err)
		}
		work = resampled
	}

	ones := model.NewCube(work.NBands, 1, work.NX)
	ones.Fill(1)
	ones.Res = work.Res

	src := rand.NewSource(s.fitSeed())

	s.prnu, s.dsnu, s.conu = nil, nil, nil
	if s.Config.PRNUFactor > 0 {
		field, err := PRNU(ones, s.Config.PRNUFactor, src)
		if err != nil {
			return fmt.Errorf("fit: %w", err)
		}
		s.prnu = field
	}
	if s.Config.DarkFactor > 0 {
		// DSNU spread is quoted per physical pixel; the TDI summation is
		// carried by the effective dark current at transform time.
		field, err := DSNU(ones, s.Config.DarkCurrent, s.Derived.IntegrationTime, s.Config.DarkFactor, src)
		if err != nil {
			return fmt.Errorf("fit: %w", err)
		}
		s.dsnu = field
	}
	if s.Config.OffsetFactor > 0 {
		field, err := CONU(ones, s.Config.OffsetFactor, src)
		if err != nil {
			return fmt.Errorf("fit: %w", err)
		}
		s.conu = field
	}

	s.fitted = true
	return nil
}

// Transform runs the full signal chain on a top-of-atmosphere radiance cube
// and returns the quantized digital-number image. It requires a prior Fit
// and rejects negative radiance, since the photon model cannot represent
// negative rates.
func (s *TDICMOS) Transform(ctx context.Context, signal *model.Cube) (*model.Cube, error) {
	if !s.fitted {
		return nil, ErrNotFitted
	}
	if signal.Min() < 0 {
		return nil, fmt.Errorf("transform: input radiance contains negative values")
	}

	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "sensor.transform")
	defer span.End()
	span.SetAttributes(
		attribute.Int("signal.bands", signal.NBands),
		attribute.Int("signal.rows", signal.NY),
		attribute.Int("signal.cols", signal.NX),
	)

	if s.Config.StoreSteps {
		s.StepOutputs = s.StepOutputs[:0]
	}

	src := s.noiseSource()
	current := signal
	for _, st := range s.stages(src) {
		_, stageSpan := tracer.Start(ctx, st.name)
		start := time.Now()

		next, err := st.fn(current)

		elapsed := time.Since(start)
		stageSpan.End()
		if s.Observer != nil {
			s.Observer.ObserveStage(st.name, elapsed)
		}
		if err != nil {
			return nil, fmt.Errorf("transform stage %q: %w", st.name, err)
		}
		current = next

		if s.Config.StoreSteps {
			s.StepOutputs = append(s.StepOutputs, StepOutput{Name: st.name, Cube: current})
		}
	}
	return current, nil
}

// FitTransform fits the fixed-pattern state on the signal and immediately
// transforms it.
func (s *TDICMOS) FitTransform(ctx context.Context, signal *model.Cube) (*model.Cube, error) {
	if err := s.Fit(signal); err != nil {
		return nil, err
	}
	return s.Transform(ctx, signal)
}

type stage struct {
	name string
	fn   func(*model.Cube) (*model.Cube, error)
}

// stages assembles the ordered signal chain for one transform. The order is
// physical and not interchangeable: noise terms compose differently if any
// two stages swap.
func (s *TDICMOS) stages(src rand.Source) []stage {
	cfg := &s.Config
	d := &s.Derived

	list := []stage{
		{"radiant energy to quanta", func(c *model.Cube) (*model.Cube, error) {
			return EnergyToQuantity(c)
		}},
	}
	if cfg.SpatialResampling {
		list = append(list, stage{"spatial resampling", func(c *model.Cube) (*model.Cube, error) {
			return GaussianIsotropic(c, cfg.PSFFWHMM, cfg.GSDM)
		}})
	}
	list = append(list,
		stage{"radiance to irradiance", func(c *model.Cube) (*model.Cube, error) {
			return RadianceToIrradiance(c, cfg.LensDiameterM, d.FocalLengthM)
		}},
		stage{"irradiance to photon count", func(c *model.Cube) (*model.Cube, error) {
			return PhotonMean(c, cfg.PixelAreaMicron2, d.IntegrationTime)
		}},
		stage{"photon shot noise", func(c *model.Cube) (*model.Cube, error) {
			return AddPhotonNoise(c, src)
		}},
		stage{"photon to electron", func(c *model.Cube) (*model.Cube, error) {
			return PhotonToElectron(c, d.BandQE)
		}},
		stage{"photo-response non-uniformity", func(c *model.Cube) (*model.Cube, error) {
			return AddPRNU(c, s.prnu)
		}},
		stage{"dark signal", func(c *model.Cube) (*model.Cube, error) {
			return AddDarkSignal(c, d.EffDarkCurrent, d.IntegrationTime, s.dsnu, src)
		}},
		stage{"electron to voltage", func(c *model.Cube) (*model.Cube, error) {
			return ElectronToVoltage(c, cfg.SenseNodeVRef, d.SenseNodeGainV, cfg.FullWell, cfg.ReadNoise, src)
		}},
		stage{"column offset", func(c *model.Cube) (*model.Cube, error) {
			return AddColumnOffset(c, s.conu)
		}},
		stage{"voltage to DN", func(c *model.Cube) (*model.Cube, error) {
			return VoltageToDN(c, cfg.ADCVRef, cfg.BitDepth)
		}},
	)
	return list
}

// fitSeed is the fixed-pattern RNG seed: pinned by Config.Seed, otherwise
// drawn from the clock so independent fits produce independent patterns.
func (s *TDICMOS) fitSeed() uint64 {
	if s.Config.Seed != 0 {
		return s.Config.Seed
	}
	return uint64(time.Now().UnixNano())
}

// noiseSource returns a fresh source for one transform's stochastic noise.
// It advances a sequence counter so repeated transforms differ even under a
// pinned seed, while remaining reproducible run to run.
func (s *TDICMOS) noiseSource() rand.Source {
	s.noiseSeq++
	seed := s.Config.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return rand.NewSource(seed + s.noiseSeq*0x9e3779b97f4a7c15)
}
