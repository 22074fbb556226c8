package core

import (
	"context"
	"math"
	"testing"
)

func TestGenerateFlatField_RejectsBadRepeats(t *testing.T) {
	s, err := NewTDICMOS(quietConfig(), nil)
	if err != nil {
		t.Fatalf("NewTDICMOS: %v", err)
	}
	if err := s.Fit(radianceScene(4, 4, 1)); err != nil {
		t.Fatalf("Fit: %v", err)
	}
	if _, err := GenerateFlatField(context.Background(), radianceScene(4, 4, 1), s, 0); err == nil {
		t.Errorf("expected error for zero repeats")
	}
}

func TestGenerateFlatField_UniformSceneNearUnity(t *testing.T) {
	cfg := quietConfig()
	cfg.PRNUFactor = 0.01
	s, err := NewTDICMOS(cfg, nil)
	if err != nil {
		t.Fatalf("NewTDICMOS: %v", err)
	}
	ref := radianceScene(16, 16, 1)
	if err := s.Fit(ref); err != nil {
		t.Fatalf("Fit: %v", err)
	}

	ff, err := GenerateFlatField(context.Background(), ref, s, 5)
	if err != nil {
		t.Fatalf("GenerateFlatField: %v", err)
	}
	if !ff.SameShape(ref) {
		t.Fatalf("flat field shape (%d,%d,%d) differs from reference", ff.NBands, ff.NY, ff.NX)
	}

	// Per-band normalisation pins the mean at 1; individual pixels only
	// wander by shot noise and the small PRNU factor.
	if got := ff.Mean(); math.Abs(got-1) > 0.01 {
		t.Errorf("flat field mean = %v, want ~1", got)
	}
	if ff.Min() < 0.8 || ff.Max() > 1.2 {
		t.Errorf("flat field range [%v, %v] implausibly wide", ff.Min(), ff.Max())
	}
}

func TestNoiseCorrectedSignal_ValidatesFlatField(t *testing.T) {
	s, err := NewTDICMOS(quietConfig(), nil)
	if err != nil {
		t.Fatalf("NewTDICMOS: %v", err)
	}
	scene := radianceScene(8, 8, 1)
	if err := s.Fit(scene); err != nil {
		t.Fatalf("Fit: %v", err)
	}

	wrong := radianceScene(4, 4, 1).OnesLike()
	if _, err := NoiseCorrectedSignal(context.Background(), scene, s, s, wrong); err == nil {
		t.Errorf("expected error for flat-field shape mismatch")
	}

	zeroed := scene.OnesLike()
	zeroed.Set(0, 3, 3, 0)
	if _, err := NoiseCorrectedSignal(context.Background(), scene, s, s, zeroed); err == nil {
		t.Errorf("expected error for zero flat-field value")
	}
}

func TestNoiseCorrectedSignal_UnitFlatFieldMatchesDarkSubtraction(t *testing.T) {
	s, err := NewTDICMOS(quietConfig(), nil)
	if err != nil {
		t.Fatalf("NewTDICMOS: %v", err)
	}
	scene := radianceScene(16, 16, 1)
	if err := s.Fit(scene); err != nil {
		t.Fatalf("Fit: %v", err)
	}

	out, err := NoiseCorrectedSignal(context.Background(), scene, s, s, scene.OnesLike())
	if err != nil {
		t.Fatalf("NoiseCorrectedSignal: %v", err)
	}
	if !out.SameShape(scene) {
		t.Fatalf("output shape (%d,%d,%d) differs from scene", out.NBands, out.NY, out.NX)
	}

	// Dark level is zero with noise off, so the output is a straight
	// transform of the scene: positive and well below the ADC rail.
	if out.Min() <= 0 {
		t.Errorf("corrected image min = %v, want positive", out.Min())
	}
	maxDN := float64(int64(1)<<uint(s.Config.BitDepth) - 1)
	if out.Max() >= maxDN {
		t.Errorf("corrected image max = %v reaches the ADC rail", out.Max())
	}
}
