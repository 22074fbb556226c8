package core

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/signalsfoundry/pushbroom-simulator/datasets"
	"github.com/signalsfoundry/pushbroom-simulator/model"
)

// quietConfig is the reference configuration with every noise term switched
// off except photon shot noise, which has no toggle: it is inherent to the
// photon model. The sense node and ADC share a reference so the full ADC
// range is usable.
func quietConfig() SensorConfig {
	cfg := DefaultConfig()
	cfg.QE = QESpec{Kind: QEScalar, Scalar: 1}
	cfg.PRNUFactor = 0
	cfg.DarkCurrent = 0
	cfg.DarkFactor = 0
	cfg.OffsetFactor = 0
	cfg.ReadNoise = 0
	cfg.SpatialResampling = false
	cfg.SenseNodeVRef = 0.5
	cfg.ADCVRef = 0.5
	cfg.Seed = 7
	return cfg
}

// radianceScene builds a single-band uniform radiance cube at 550 nm.
func radianceScene(ny, nx int, v float64) *model.Cube {
	c := model.NewCube(1, ny, nx)
	c.Fill(v)
	c.Wavelengths = []float64{550}
	c.Res = 1
	return c
}

func TestUpdateDerivedParams_ComputesGeometry(t *testing.T) {
	s, err := NewTDICMOS(quietConfig(), nil)
	if err != nil {
		t.Fatalf("NewTDICMOS: %v", err)
	}

	d := s.Derived
	// lineRate = 7000/2 = 3500 lines/s; 32 TDI rows integrate 32/3500 s.
	wantT := 32.0 / 3500.0
	if math.Abs(d.IntegrationTime-wantT)/wantT > 1e-12 {
		t.Errorf("integration time = %v, want %v", d.IntegrationTime, wantT)
	}
	if d.SwathWidthM != 2*8000 {
		t.Errorf("swath width = %v, want 16000", d.SwathWidthM)
	}
	wantAFOV := 2 * math.Atan2(8000, 5e5)
	if math.Abs(d.AFOVRad-wantAFOV) > 1e-12 {
		t.Errorf("AFOV = %v, want %v", d.AFOVRad, wantAFOV)
	}
	if d.EffDarkCurrent != 0 {
		t.Errorf("effective dark current = %v, want 0 with dark current off", d.EffDarkCurrent)
	}
	if math.Abs(d.SenseNodeGainV-5e-6) > 1e-18 {
		t.Errorf("sense node gain = %v V/e-, want 5e-6", d.SenseNodeGainV)
	}
	if len(d.BandQE) != 1 || d.BandQE[0] != 1 {
		t.Errorf("resolved QE = %v, want [1]", d.BandQE)
	}
}

func TestUpdateDerivedParams_TDIRowsScaleExposureAndDark(t *testing.T) {
	cfg := quietConfig()
	cfg.DarkCurrent = 570
	s, err := NewTDICMOS(cfg, nil)
	if err != nil {
		t.Fatalf("NewTDICMOS: %v", err)
	}
	t32 := s.Derived.IntegrationTime
	dark32 := s.Derived.EffDarkCurrent

	s.Config.TDIRows = 64
	if err := s.UpdateDerivedParams(); err != nil {
		t.Fatalf("UpdateDerivedParams: %v", err)
	}
	if got := s.Derived.IntegrationTime; math.Abs(got-2*t32)/t32 > 1e-12 {
		t.Errorf("integration time after doubling TDI rows = %v, want %v", got, 2*t32)
	}
	if got := s.Derived.EffDarkCurrent; got != 2*dark32 {
		t.Errorf("effective dark current after doubling TDI rows = %v, want %v", got, 2*dark32)
	}
}

func TestNewTDICMOS_RejectsOutOfRangeConfig(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*SensorConfig)
	}{
		{"prnu factor above 1", func(c *SensorConfig) { c.PRNUFactor = 1.5 }},
		{"negative dark factor", func(c *SensorConfig) { c.DarkFactor = -0.1 }},
		{"offset factor at 1", func(c *SensorConfig) { c.OffsetFactor = 1 }},
		{"zero full well", func(c *SensorConfig) { c.FullWell = 0 }},
		{"zero bit depth", func(c *SensorConfig) { c.BitDepth = 0 }},
		{"zero TDI rows", func(c *SensorConfig) { c.TDIRows = 0 }},
		{"zero ground speed", func(c *SensorConfig) { c.GroundSpeedMS = 0 }},
		{"negative read noise", func(c *SensorConfig) { c.ReadNoise = -1 }},
		{"scalar QE above 1", func(c *SensorConfig) { c.QE = QESpec{Kind: QEScalar, Scalar: 1.2} }},
	}
	for _, tc := range cases {
		cfg := quietConfig()
		tc.mutate(&cfg)
		if _, err := NewTDICMOS(cfg, nil); err == nil {
			t.Errorf("%s: expected configuration to be rejected", tc.name)
		}
	}
}

func TestResolveQE_Forms(t *testing.T) {
	bands := []model.Band{
		{Name: "green", Centre: 560, Width: 35},
		{Name: "red", Centre: 665, Width: 30},
	}
	sr, err := model.NewBoxcarResponse(bands, 400, 1000)
	if err != nil {
		t.Fatalf("NewBoxcarResponse: %v", err)
	}

	cfg := quietConfig()
	cfg.SpectralResponse = sr
	cfg.QE = QESpec{Kind: QEPerBand, PerBand: []float64{0.8, 0.7}}
	s, err := NewTDICMOS(cfg, nil)
	if err != nil {
		t.Fatalf("per-band QE: %v", err)
	}
	if got := s.Derived.BandQE; len(got) != 2 || got[0] != 0.8 || got[1] != 0.7 {
		t.Errorf("per-band QE resolved to %v", got)
	}

	cfg.QE = QESpec{Kind: QEPerBand, PerBand: []float64{0.8}}
	if _, err := NewTDICMOS(cfg, nil); err == nil {
		t.Errorf("expected error for per-band QE count mismatch")
	}

	cfg.QE = QESpec{Kind: QEDataset, Dataset: "TDI_QE_BACK"}
	if _, err := NewTDICMOS(cfg, nil); err == nil {
		t.Errorf("expected error for dataset QE without a registry")
	}

	s, err = NewTDICMOS(cfg, datasets.Default())
	if err != nil {
		t.Fatalf("dataset QE: %v", err)
	}
	for b, q := range s.Derived.BandQE {
		if q <= 0 || q > 1 {
			t.Errorf("band %d dataset QE = %v, want within (0,1]", b, q)
		}
	}

	cfg.QE = QESpec{Kind: QEDataset, Dataset: "NO_SUCH_CURVE"}
	if _, err := NewTDICMOS(cfg, datasets.Default()); err == nil {
		t.Errorf("expected error for unknown dataset name")
	}

	cfg.QE = QESpec{Kind: QECurve, Curve: model.Curve{
		Wavelengths: []float64{400, 1000},
		Values:      []float64{0.5, 0.5},
	}}
	cfg.SpectralResponse = nil
	if _, err := NewTDICMOS(cfg, nil); err == nil {
		t.Errorf("expected error for curve QE without a spectral response")
	}
}

func TestTransform_RequiresFit(t *testing.T) {
	s, err := NewTDICMOS(quietConfig(), nil)
	if err != nil {
		t.Fatalf("NewTDICMOS: %v", err)
	}
	_, err = s.Transform(context.Background(), radianceScene(4, 4, 1))
	if !errors.Is(err, ErrNotFitted) {
		t.Fatalf("Transform before Fit: err = %v, want ErrNotFitted", err)
	}
}

func TestTransform_RejectsNegativeRadiance(t *testing.T) {
	s, err := NewTDICMOS(quietConfig(), nil)
	if err != nil {
		t.Fatalf("NewTDICMOS: %v", err)
	}
	scene := radianceScene(4, 4, 1)
	if err := s.Fit(scene); err != nil {
		t.Fatalf("Fit: %v", err)
	}

	scene.Set(0, 2, 2, -0.5)
	if _, err := s.Transform(context.Background(), scene); err == nil {
		t.Errorf("expected negative radiance to be rejected")
	}
}

func TestFitTransform_DarkSceneReadsZero(t *testing.T) {
	s, err := NewTDICMOS(quietConfig(), nil)
	if err != nil {
		t.Fatalf("NewTDICMOS: %v", err)
	}
	out, err := s.FitTransform(context.Background(), radianceScene(8, 8, 0))
	if err != nil {
		t.Fatalf("FitTransform: %v", err)
	}
	for i, v := range out.Data {
		if v != 0 {
			t.Fatalf("element %d = %v, want 0 for a dark scene with noise off", i, v)
		}
	}
}

func TestFitTransform_BrightSceneSaturatesUniformly(t *testing.T) {
	cfg := quietConfig()
	s, err := NewTDICMOS(cfg, nil)
	if err != nil {
		t.Fatalf("NewTDICMOS: %v", err)
	}

	// Radiance far beyond full well: every pixel clips at the same level.
	out, err := s.FitTransform(context.Background(), radianceScene(8, 8, 1e5))
	if err != nil {
		t.Fatalf("FitTransform: %v", err)
	}

	maxDN := float64(int64(1)<<uint(cfg.BitDepth) - 1)
	drop := float64(cfg.FullWell) * s.Derived.SenseNodeGainV
	want := math.Round(maxDN * drop / cfg.ADCVRef)
	for i, v := range out.Data {
		if v != want {
			t.Fatalf("element %d = %v, want saturated DN %v", i, v, want)
		}
	}
}

func TestFitTransform_MeanDNTracksRadiance(t *testing.T) {
	cfg := quietConfig()
	s, err := NewTDICMOS(cfg, nil)
	if err != nil {
		t.Fatalf("NewTDICMOS: %v", err)
	}

	const radiance = 1.0
	out, err := s.FitTransform(context.Background(), radianceScene(32, 32, radiance))
	if err != nil {
		t.Fatalf("FitTransform: %v", err)
	}

	// Expected mean electron count from the multiplicative chain.
	d := s.Derived
	ratio := cfg.LensDiameterM / d.FocalLengthM
	photons := radiance * (550e-9 / hc) * (math.Pi / 4) * ratio * ratio *
		cfg.PixelAreaMicron2 * 1e-12 * d.IntegrationTime
	maxDN := float64(int64(1)<<uint(cfg.BitDepth) - 1)
	wantDN := maxDN * photons * d.SenseNodeGainV / cfg.ADCVRef

	got := out.Mean()
	if math.Abs(got-wantDN)/wantDN > 0.05 {
		t.Fatalf("mean DN = %v, want ~%v", got, wantDN)
	}
	if out.Min() <= 0 || out.Max() >= maxDN {
		t.Errorf("DN range [%v, %v] touches the rails for a mid-range scene", out.Min(), out.Max())
	}
}

func TestFitTransform_DoublingTDIRowsDoublesMeanDN(t *testing.T) {
	meanDN := func(tdiRows int) float64 {
		cfg := quietConfig()
		cfg.TDIRows = tdiRows
		s, err := NewTDICMOS(cfg, nil)
		if err != nil {
			t.Fatalf("NewTDICMOS: %v", err)
		}
		out, err := s.FitTransform(context.Background(), radianceScene(32, 32, 1))
		if err != nil {
			t.Fatalf("FitTransform: %v", err)
		}
		return out.Mean()
	}

	short, long := meanDN(32), meanDN(64)
	if long <= short {
		t.Fatalf("mean DN %v at 64 TDI rows not above %v at 32", long, short)
	}
	// Twice the integration time collects twice the photons, and a
	// mid-range scene stays clear of the rails at both settings.
	if ratio := long / short; math.Abs(ratio-2) > 0.05 {
		t.Errorf("mean DN ratio = %v, want ~2 for doubled exposure", ratio)
	}
}

func TestFitTransform_DeterministicUnderPinnedSeed(t *testing.T) {
	scene := radianceScene(8, 8, 1)

	run := func() *model.Cube {
		s, err := NewTDICMOS(quietConfig(), nil)
		if err != nil {
			t.Fatalf("NewTDICMOS: %v", err)
		}
		out, err := s.FitTransform(context.Background(), scene)
		if err != nil {
			t.Fatalf("FitTransform: %v", err)
		}
		return out
	}

	a, b := run(), run()
	for i := range a.Data {
		if a.Data[i] != b.Data[i] {
			t.Fatalf("element %d differs between identically seeded runs", i)
		}
	}
}

func TestTransform_RepeatedCallsDrawFreshNoise(t *testing.T) {
	s, err := NewTDICMOS(quietConfig(), nil)
	if err != nil {
		t.Fatalf("NewTDICMOS: %v", err)
	}
	scene := radianceScene(8, 8, 1)
	if err := s.Fit(scene); err != nil {
		t.Fatalf("Fit: %v", err)
	}

	a, err := s.Transform(context.Background(), scene)
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}
	b, err := s.Transform(context.Background(), scene)
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}

	same := true
	for i := range a.Data {
		if a.Data[i] != b.Data[i] {
			same = false
			break
		}
	}
	if same {
		t.Errorf("two transforms produced identical shot noise")
	}
}

func TestFit_FixedPatternHeldAcrossTransforms(t *testing.T) {
	cfg := quietConfig()
	cfg.OffsetFactor = 0.001
	cfg.PRNUFactor = 0.01
	s, err := NewTDICMOS(cfg, nil)
	if err != nil {
		t.Fatalf("NewTDICMOS: %v", err)
	}
	scene := radianceScene(8, 8, 1)
	if err := s.Fit(scene); err != nil {
		t.Fatalf("Fit: %v", err)
	}
	if s.prnu == nil || s.conu == nil {
		t.Fatalf("expected PRNU and CONU fields after fit")
	}
	prnu := append([]float64(nil), s.prnu.Data...)

	if _, err := s.Transform(context.Background(), scene); err != nil {
		t.Fatalf("Transform: %v", err)
	}
	if _, err := s.Transform(context.Background(), scene); err != nil {
		t.Fatalf("Transform: %v", err)
	}
	for i := range prnu {
		if s.prnu.Data[i] != prnu[i] {
			t.Fatalf("PRNU field changed across transforms at element %d", i)
		}
	}

	// Refit under the same pinned seed reproduces the same pattern.
	if err := s.Fit(scene); err != nil {
		t.Fatalf("refit: %v", err)
	}
	for i := range prnu {
		if s.prnu.Data[i] != prnu[i] {
			t.Fatalf("refit under pinned seed changed the PRNU field at element %d", i)
		}
	}
}

func TestFit_SkipsFieldsWithZeroFactors(t *testing.T) {
	s, err := NewTDICMOS(quietConfig(), nil)
	if err != nil {
		t.Fatalf("NewTDICMOS: %v", err)
	}
	if err := s.Fit(radianceScene(4, 4, 1)); err != nil {
		t.Fatalf("Fit: %v", err)
	}
	if s.prnu != nil || s.dsnu != nil || s.conu != nil {
		t.Errorf("zero-factor fit should hold no fixed-pattern fields")
	}
	if !s.Fitted() {
		t.Errorf("sensor should report fitted")
	}
}

func TestTransform_StoresIntermediateSteps(t *testing.T) {
	cfg := quietConfig()
	cfg.StoreSteps = true
	s, err := NewTDICMOS(cfg, nil)
	if err != nil {
		t.Fatalf("NewTDICMOS: %v", err)
	}
	out, err := s.FitTransform(context.Background(), radianceScene(4, 4, 1))
	if err != nil {
		t.Fatalf("FitTransform: %v", err)
	}

	if len(s.StepOutputs) != 10 {
		t.Fatalf("stored %d steps, want 10 without spatial resampling", len(s.StepOutputs))
	}
	if s.StepOutputs[0].Name != "radiant energy to quanta" {
		t.Errorf("first step = %q", s.StepOutputs[0].Name)
	}
	last := s.StepOutputs[len(s.StepOutputs)-1]
	if last.Name != "voltage to DN" {
		t.Errorf("last step = %q", last.Name)
	}
	for i := range last.Cube.Data {
		if last.Cube.Data[i] != out.Data[i] {
			t.Fatalf("last stored step differs from the returned image at element %d", i)
		}
	}
}

func TestTransform_SpatialResamplingShrinksOutput(t *testing.T) {
	cfg := quietConfig()
	cfg.SpatialResampling = true
	cfg.StoreSteps = true
	s, err := NewTDICMOS(cfg, nil)
	if err != nil {
		t.Fatalf("NewTDICMOS: %v", err)
	}

	scene := radianceScene(16, 16, 1) // Res 1 m against a 2 m GSD
	out, err := s.FitTransform(context.Background(), scene)
	if err != nil {
		t.Fatalf("FitTransform: %v", err)
	}
	if out.NY != 8 || out.NX != 8 {
		t.Fatalf("output shape (%d,%d), want (8,8)", out.NY, out.NX)
	}
	if len(s.StepOutputs) != 11 {
		t.Errorf("stored %d steps, want 11 with spatial resampling", len(s.StepOutputs))
	}
}

type recordingObserver struct {
	stages []string
}

func (r *recordingObserver) ObserveStage(stage string, _ time.Duration) {
	r.stages = append(r.stages, stage)
}

func TestTransform_NotifiesStageObserver(t *testing.T) {
	s, err := NewTDICMOS(quietConfig(), nil)
	if err != nil {
		t.Fatalf("NewTDICMOS: %v", err)
	}
	obs := &recordingObserver{}
	s.Observer = obs

	if _, err := s.FitTransform(context.Background(), radianceScene(4, 4, 1)); err != nil {
		t.Fatalf("FitTransform: %v", err)
	}
	if len(obs.stages) != 10 {
		t.Fatalf("observer saw %d stages, want 10", len(obs.stages))
	}
	if obs.stages[len(obs.stages)-1] != "voltage to DN" {
		t.Errorf("final observed stage = %q", obs.stages[len(obs.stages)-1])
	}
}
