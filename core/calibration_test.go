package core

import (
	"context"
	"math"
	"path/filepath"
	"testing"

	"github.com/signalsfoundry/pushbroom-simulator/model"
)

func TestApplyDownsampling_IdentityWhenDisabled(t *testing.T) {
	s, err := NewTDICMOS(quietConfig(), nil)
	if err != nil {
		t.Fatalf("NewTDICMOS: %v", err)
	}
	in := radianceScene(4, 4, 2)

	out, err := ApplyDownsampling(in, s, false, false, false)
	if err != nil {
		t.Fatalf("ApplyDownsampling: %v", err)
	}
	if out != in {
		t.Errorf("identity downsampling should return the input unchanged")
	}
}

func TestApplyDownsampling_SpectralRequiresResponse(t *testing.T) {
	s, err := NewTDICMOS(quietConfig(), nil)
	if err != nil {
		t.Fatalf("NewTDICMOS: %v", err)
	}
	if _, err := ApplyDownsampling(radianceScene(4, 4, 1), s, false, true, false); err == nil {
		t.Errorf("expected error when no spectral response is bound")
	}
}

func TestSensorCorrectionExperiment_RecoversLinearModel(t *testing.T) {
	s, err := NewTDICMOS(quietConfig(), nil)
	if err != nil {
		t.Fatalf("NewTDICMOS: %v", err)
	}

	// Radiance gradient across track, mid-range so the ADC stays linear.
	scene := radianceScene(32, 32, 0)
	for y := 0; y < scene.NY; y++ {
		for x := 0; x < scene.NX; x++ {
			scene.Set(0, y, x, 0.5+float64(x)/float64(scene.NX-1))
		}
	}

	cc, err := SensorCorrectionExperiment(context.Background(), scene, s, nil)
	if err != nil {
		t.Fatalf("SensorCorrectionExperiment: %v", err)
	}
	if len(cc.M) != 1 || len(cc.C) != 1 {
		t.Fatalf("got %d slope and %d intercept values, want 1 each", len(cc.M), len(cc.C))
	}
	if cc.M[0] <= 0 {
		t.Fatalf("slope = %v, want positive (radiance rises with DN)", cc.M[0])
	}

	corr, err := NewLinearRadiometricCorrection(cc)
	if err != nil {
		t.Fatalf("NewLinearRadiometricCorrection: %v", err)
	}
	dn, err := s.Transform(context.Background(), scene)
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}
	recovered, err := corr.Transform(dn)
	if err != nil {
		t.Fatalf("correction Transform: %v", err)
	}

	// Shot noise bounds how tight this can be; the scene mean should still
	// come back within a few percent.
	want := scene.Mean()
	if got := recovered.Mean(); math.Abs(got-want)/want > 0.05 {
		t.Fatalf("recovered mean radiance = %v, want ~%v", got, want)
	}
}

func TestSensorCorrectionExperiment_ValidatesMask(t *testing.T) {
	s, err := NewTDICMOS(quietConfig(), nil)
	if err != nil {
		t.Fatalf("NewTDICMOS: %v", err)
	}
	scene := radianceScene(4, 4, 1)
	if _, err := SensorCorrectionExperiment(context.Background(), scene, s, make([]bool, 3)); err == nil {
		t.Errorf("expected error for mask length mismatch")
	}

	mask := make([]bool, 16)
	mask[0] = true
	if _, err := SensorCorrectionExperiment(context.Background(), scene, s, mask); err == nil {
		t.Errorf("expected error when fewer than 2 pixels are usable")
	}
}

func TestCalibrationCoefficients_SaveLoadRoundTrip(t *testing.T) {
	cc := &CalibrationCoefficients{
		BandNames: []string{"red", "nir"},
		M:         []float64{0.0021, 0.0018},
		C:         []float64{-0.05, -0.04},
	}
	path := filepath.Join(t.TempDir(), "calibration.json")
	if err := cc.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := LoadCalibrationCoefficients(path)
	if err != nil {
		t.Fatalf("LoadCalibrationCoefficients: %v", err)
	}
	for b := range cc.M {
		if loaded.M[b] != cc.M[b] || loaded.C[b] != cc.C[b] {
			t.Fatalf("band %d coefficients changed across the round trip", b)
		}
	}
	if len(loaded.BandNames) != 2 || loaded.BandNames[1] != "nir" {
		t.Errorf("band names = %v", loaded.BandNames)
	}

	corr, err := LoadLinearRadiometricCorrection(path)
	if err != nil {
		t.Fatalf("LoadLinearRadiometricCorrection: %v", err)
	}
	dn := model.NewCube(2, 1, 1)
	dn.Set(0, 0, 0, 100)
	dn.Set(1, 0, 0, 200)
	out, err := corr.Transform(dn)
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}
	if got, want := out.At(0, 0, 0), 0.0021*100-0.05; math.Abs(got-want) > 1e-12 {
		t.Errorf("band 0 = %v, want %v", got, want)
	}
}

func TestLinearRadiometricCorrection_RejectsBandMismatch(t *testing.T) {
	corr, err := NewLinearRadiometricCorrection(&CalibrationCoefficients{M: []float64{1}, C: []float64{0}})
	if err != nil {
		t.Fatalf("NewLinearRadiometricCorrection: %v", err)
	}
	if _, err := corr.Transform(model.NewCube(2, 1, 1)); err == nil {
		t.Errorf("expected error for band count mismatch")
	}

	if _, err := NewLinearRadiometricCorrection(nil); err == nil {
		t.Errorf("expected error for nil coefficients")
	}
}
