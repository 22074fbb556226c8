package core

import (
	"math"
	"testing"

	"github.com/signalsfoundry/pushbroom-simulator/model"
)

func TestGaussianIsotropic_RequiresResolution(t *testing.T) {
	in := model.NewCube(1, 4, 4)
	if _, err := GaussianIsotropic(in, 4, 2); err == nil {
		t.Errorf("expected error for cube without resolution attribute")
	}
}

func TestGaussianIsotropic_ConstantFieldIsInvariant(t *testing.T) {
	in := model.NewCube(1, 8, 8)
	in.Fill(7)
	in.Res = 1

	out, err := GaussianIsotropic(in, 4, 2)
	if err != nil {
		t.Fatalf("GaussianIsotropic: %v", err)
	}

	if out.NY != 4 || out.NX != 4 {
		t.Fatalf("output shape (%d,%d), want (4,4)", out.NY, out.NX)
	}
	if out.Res != 2 {
		t.Fatalf("output Res = %v, want 2", out.Res)
	}
	for i, v := range out.Data {
		if math.Abs(v-7) > 1e-9 {
			t.Fatalf("element %d = %v, want 7 (reflect boundary keeps constants)", i, v)
		}
	}
}

func TestGaussianIsotropic_SingleRowScene(t *testing.T) {
	// A one-line pushbroom acquisition is legal input; the column pass
	// must fold every kernel tap back onto the only row.
	in := model.NewCube(1, 1, 16)
	in.Fill(1)
	in.Res = 1

	out, err := GaussianIsotropic(in, 4, 2)
	if err != nil {
		t.Fatalf("GaussianIsotropic: %v", err)
	}
	if out.NY != 1 || out.NX != 8 {
		t.Fatalf("output shape (%d,%d), want (1,8)", out.NY, out.NX)
	}
	for i, v := range out.Data {
		if math.Abs(v-1) > 1e-9 {
			t.Fatalf("element %d = %v, want 1", i, v)
		}
	}
}

func TestGaussianIsotropic_SingleColumnScene(t *testing.T) {
	in := model.NewCube(1, 16, 1)
	in.Fill(3)
	in.Res = 1

	out, err := GaussianIsotropic(in, 4, 2)
	if err != nil {
		t.Fatalf("GaussianIsotropic: %v", err)
	}
	if out.NY != 8 || out.NX != 1 {
		t.Fatalf("output shape (%d,%d), want (8,1)", out.NY, out.NX)
	}
	for i, v := range out.Data {
		if math.Abs(v-3) > 1e-9 {
			t.Fatalf("element %d = %v, want 3", i, v)
		}
	}
}

func TestReflect_RepeatsEdgeSample(t *testing.T) {
	// Indices mirror about the edges with the edge sample repeated:
	// d c b a | a b c d | d c b a.
	cases := []struct {
		i, n, want int
	}{
		{0, 4, 0},
		{3, 4, 3},
		{-1, 4, 0},
		{-2, 4, 1},
		{-4, 4, 3},
		{4, 4, 3},
		{5, 4, 2},
		{7, 4, 0},
		{8, 4, 0},
		{-5, 4, 3},
		{0, 1, 0},
		{1, 1, 0},
		{-1, 1, 0},
		{7, 1, 0},
		{-6, 1, 0},
	}
	for _, c := range cases {
		if got := reflect(c.i, c.n); got != c.want {
			t.Errorf("reflect(%d, %d) = %d, want %d", c.i, c.n, got, c.want)
		}
	}
}

func TestGaussianIsotropic_ZeroFWHMIsPureBlockMean(t *testing.T) {
	in := model.NewCube(1, 2, 4)
	in.Res = 1
	copy(in.Plane(0), []float64{
		1, 3, 5, 7,
		2, 4, 6, 8,
	})

	out, err := GaussianIsotropic(in, 0, 2)
	if err != nil {
		t.Fatalf("GaussianIsotropic: %v", err)
	}
	if out.NY != 1 || out.NX != 2 {
		t.Fatalf("output shape (%d,%d), want (1,2)", out.NY, out.NX)
	}
	if got := out.At(0, 0, 0); got != 2.5 {
		t.Errorf("block 0 mean = %v, want 2.5", got)
	}
	if got := out.At(0, 0, 1); got != 6.5 {
		t.Errorf("block 1 mean = %v, want 6.5", got)
	}
}

func TestGaussianIsotropic_NoCoarseningWhenGSDBelowRes(t *testing.T) {
	in := model.NewCube(1, 4, 4)
	in.Fill(1)
	in.Res = 2

	out, err := GaussianIsotropic(in, 0, 1)
	if err != nil {
		t.Fatalf("GaussianIsotropic: %v", err)
	}
	if out.NY != 4 || out.NX != 4 {
		t.Fatalf("output shape (%d,%d), want (4,4) unchanged", out.NY, out.NX)
	}
}

func TestGaussianIsotropic_DoesNotMutateInput(t *testing.T) {
	in := model.NewCube(1, 4, 4)
	in.Res = 1
	in.Set(0, 1, 1, 100)
	before := append([]float64(nil), in.Data...)

	if _, err := GaussianIsotropic(in, 4, 2); err != nil {
		t.Fatalf("GaussianIsotropic: %v", err)
	}
	for i := range before {
		if in.Data[i] != before[i] {
			t.Fatalf("input element %d changed from %v to %v", i, before[i], in.Data[i])
		}
	}
}

func TestGaussianIsotropic_PartialBlocksAverageAvailableSamples(t *testing.T) {
	in := model.NewCube(1, 3, 3)
	in.Fill(4)
	in.Res = 1

	out, err := GaussianIsotropic(in, 0, 2)
	if err != nil {
		t.Fatalf("GaussianIsotropic: %v", err)
	}
	if out.NY != 2 || out.NX != 2 {
		t.Fatalf("output shape (%d,%d), want (2,2)", out.NY, out.NX)
	}
	// Edge blocks cover fewer samples but still average to the constant.
	for i, v := range out.Data {
		if v != 4 {
			t.Fatalf("element %d = %v, want 4", i, v)
		}
	}
}
