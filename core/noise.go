package core

import (
	"fmt"
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/signalsfoundry/pushbroom-simulator/model"
)

// Stochastic noise injectors. These draw from the per-call noise source, in
// contrast to the fixed-pattern generators whose output is held across
// transforms.

// AddPhotonNoise redraws every element as a Poisson sample with the input as
// its rate, simulating photon shot noise. Negative rates are rejected; the
// caller must guarantee non-negative photon counts.
func AddPhotonNoise(photons *model.Cube, src rand.Source) (*model.Cube, error) {
	for _, v := range photons.Data {
		if v < 0 {
			return nil, fmt.Errorf("photon noise: negative photon count %g", v)
		}
	}
	out := photons.Clone()
	p := distuv.Poisson{Src: src}
	for i, v := range out.Data {
		if v == 0 {
			continue
		}
		p.Lambda = v
		out.Data[i] = p.Rand()
	}
	return out, nil
}

// AddGaussianNoise adds zero-mean Gaussian noise with the given standard
// deviation and rounds to whole counts.
func AddGaussianNoise(counts *model.Cube, sigma float64, src rand.Source) (*model.Cube, error) {
	if sigma < 0 {
		return nil, fmt.Errorf("gaussian noise: negative sigma %g", sigma)
	}
	if sigma == 0 {
		return counts.Clone(), nil
	}
	n := distuv.Normal{Mu: 0, Sigma: sigma, Src: src}
	out := counts.Clone()
	for i, v := range out.Data {
		out.Data[i] = math.Round(v + n.Rand())
	}
	return out, nil
}

// AddDarkSignal adds the dark current contribution to an electron cube.
// The nominal dark signal darkCurrent*integrationTime is drawn per element
// as a Poisson shot process, then modulated by the multiplicative DSNU
// fixed pattern: dark = shot + shot*dsnu. Results are rounded to whole
// electrons.
func AddDarkSignal(electrons *model.Cube, darkCurrent, integrationTime float64, dsnu *model.Cube, src rand.Source) (*model.Cube, error) {
	if darkCurrent < 0 || integrationTime <= 0 {
		return nil, fmt.Errorf("dark signal: invalid parameters (dark=%g, t=%g)", darkCurrent, integrationTime)
	}
	if dsnu != nil {
		if err := checkBroadcast(electrons, dsnu, "DSNU"); err != nil {
			return nil, err
		}
	}
	rate := darkCurrent * integrationTime
	out := electrons.Clone()
	if rate == 0 {
		return out, nil
	}

	p := distuv.Poisson{Lambda: rate, Src: src}
	for b := 0; b < out.NBands; b++ {
		for y := 0; y < out.NY; y++ {
			for x := 0; x < out.NX; x++ {
				shot := p.Rand()
				dark := shot
				if dsnu != nil {
					dark += shot * broadcastAt(dsnu, b, y, x)
				}
				i := out.Idx(b, y, x)
				out.Data[i] = math.Round(out.Data[i] + dark)
			}
		}
	}
	return out, nil
}

// AddPRNU applies the photo-response non-uniformity field to an electron
// cube: each element is multiplied by (1 + prnu), the field being the
// per-pixel gain deviation from unity.
func AddPRNU(electrons *model.Cube, prnu *model.Cube) (*model.Cube, error) {
	if prnu == nil {
		return electrons.Clone(), nil
	}
	if err := checkBroadcast(electrons, prnu, "PRNU"); err != nil {
		return nil, err
	}
	out := electrons.Clone()
	for b := 0; b < out.NBands; b++ {
		for y := 0; y < out.NY; y++ {
			for x := 0; x < out.NX; x++ {
				i := out.Idx(b, y, x)
				out.Data[i] = math.Round(out.Data[i] * (1 + broadcastAt(prnu, b, y, x)))
			}
		}
	}
	return out, nil
}

// AddColumnOffset adds the column-offset fixed pattern to a voltage cube.
func AddColumnOffset(voltage *model.Cube, offset *model.Cube) (*model.Cube, error) {
	if offset == nil {
		return voltage.Clone(), nil
	}
	if err := checkBroadcast(voltage, offset, "column offset"); err != nil {
		return nil, err
	}
	out := voltage.Clone()
	for b := 0; b < out.NBands; b++ {
		for y := 0; y < out.NY; y++ {
			for x := 0; x < out.NX; x++ {
				i := out.Idx(b, y, x)
				out.Data[i] += broadcastAt(offset, b, y, x)
			}
		}
	}
	return out, nil
}

// broadcastAt reads a fixed-pattern cube at (b, y, x), broadcasting
// singleton band and row axes. A pattern fitted on one line of a line
// scanner applies to every row; a single-band pattern applies to every band.
func broadcastAt(f *model.Cube, b, y, x int) float64 {
	if f.NBands == 1 {
		b = 0
	}
	if f.NY == 1 {
		y = 0
	}
	return f.At(b, y, x)
}

// checkBroadcast verifies a fixed-pattern cube can be broadcast over the
// signal: the column count must match, and any non-singleton axis must agree.
func checkBroadcast(signal, f *model.Cube, name string) error {
	if f.NX != signal.NX {
		return fmt.Errorf("%s: pattern has %d columns, signal has %d", name, f.NX, signal.NX)
	}
	if f.NY != 1 && f.NY != signal.NY {
		return fmt.Errorf("%s: pattern has %d rows, signal has %d", name, f.NY, signal.NY)
	}
	if f.NBands != 1 && f.NBands != signal.NBands {
		return fmt.Errorf("%s: pattern has %d bands, signal has %d", name, f.NBands, signal.NBands)
	}
	return nil
}
