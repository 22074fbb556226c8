package core

import (
	"fmt"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/signalsfoundry/pushbroom-simulator/model"
)

// Fixed-pattern noise generators. Each takes an all-ones template cube that
// fixes the field's shape and labels: the draw depends only on shape and the
// configured factor, never on the observed signal. Randomness comes from the
// caller's source, so a pinned seed reproduces the same field.

// PRNU draws the photo-response non-uniformity field: per-pixel gain
// deviation from unity, Gaussian with zero mean and standard deviation
// prnuFactor. Apply as gain = 1 + field.
func PRNU(ones *model.Cube, prnuFactor float64, src rand.Source) (*model.Cube, error) {
	if err := requireOnes(ones, "PRNU"); err != nil {
		return nil, err
	}
	if prnuFactor < 0 {
		return nil, fmt.Errorf("PRNU: negative factor %g", prnuFactor)
	}
	n := distuv.Normal{Mu: 0, Sigma: prnuFactor, Src: src}
	out := ones.Clone()
	for i := range out.Data {
		out.Data[i] = n.Rand()
	}
	return out, nil
}

// DSNU draws the dark-signal non-uniformity field from a log-normal
// distribution with sigma = integrationTime * darkCurrent * darkFactor, then
// subtracts the field mean so it is zero-mean. The log-normal form is only
// valid for short integration times (under ~100 s).
func DSNU(ones *model.Cube, darkCurrent, integrationTime, darkFactor float64, src rand.Source) (*model.Cube, error) {
	if err := requireOnes(ones, "DSNU"); err != nil {
		return nil, err
	}
	if darkFactor < 0 || darkCurrent < 0 || integrationTime <= 0 {
		return nil, fmt.Errorf("DSNU: invalid parameters (dark=%g, t=%g, factor=%g)",
			darkCurrent, integrationTime, darkFactor)
	}

	sigma := integrationTime * darkCurrent * darkFactor
	out := ones.Clone()
	if sigma == 0 {
		out.Fill(0)
		return out, nil
	}
	ln := distuv.LogNormal{Mu: 0, Sigma: sigma, Src: src}
	for i := range out.Data {
		out.Data[i] = ln.Rand()
	}
	mean := out.Mean()
	for i := range out.Data {
		out.Data[i] -= mean
	}
	return out, nil
}

// CONU draws the column-offset non-uniformity field: one zero-mean Gaussian
// voltage offset per column, shared by every row and band, since all bands
// sit horizontally aligned on the same readout columns. The returned cube has
// a single band; consumers broadcast it across bands and rows.
func CONU(ones *model.Cube, offsetFactor float64, src rand.Source) (*model.Cube, error) {
	if err := requireOnes(ones, "CONU"); err != nil {
		return nil, err
	}
	if offsetFactor < 0 {
		return nil, fmt.Errorf("CONU: negative factor %g", offsetFactor)
	}

	n := distuv.Normal{Mu: 0, Sigma: offsetFactor, Src: src}
	out := model.NewCube(1, ones.NY, ones.NX)
	out.Res = ones.Res
	for x := 0; x < ones.NX; x++ {
		v := n.Rand()
		for y := 0; y < ones.NY; y++ {
			out.Set(0, y, x, v)
		}
	}
	return out, nil
}

// requireOnes rejects templates that carry signal values. The generators
// only ever accept an array of ones so a fixed pattern can never leak the
// magnitude of the scene it was fitted on.
func requireOnes(ones *model.Cube, name string) error {
	for _, v := range ones.Data {
		if v != 1 {
			return fmt.Errorf("%s: template must contain only ones", name)
		}
	}
	return nil
}
