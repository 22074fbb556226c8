package core

import (
	"fmt"
	"math"

	"github.com/signalsfoundry/pushbroom-simulator/model"
)

// RMSE returns the root-mean-square error between two cubes of the same
// shape. Elements where either cube holds NaN are excluded from the count.
func RMSE(a, b *model.Cube) (float64, error) {
	if err := a.CheckShape(b); err != nil {
		return 0, fmt.Errorf("rmse: %w", err)
	}
	sum, n := 0.0, 0
	for i, v := range a.Data {
		w := b.Data[i]
		if math.IsNaN(v) || math.IsNaN(w) {
			continue
		}
		d := v - w
		sum += d * d
		n++
	}
	if n == 0 {
		return 0, fmt.Errorf("rmse: no comparable elements")
	}
	return math.Sqrt(sum / float64(n)), nil
}

// NDVI ranges used for wavelength-resolved input.
const (
	ndviRedLoNM = 650
	ndviRedHiNM = 680
	ndviNIRLoNM = 790
	ndviNIRHiNM = 899
)

// NDVI computes the normalized difference vegetation index (nir-red)/(nir+red)
// per pixel and returns it as a single-band cube. A band-labeled cube selects
// the red and near-infrared bands by the given names; a wavelength-resolved
// cube without labels averages the 650-680 nm and 790-899 nm bands instead,
// and the names are ignored.
func NDVI(c *model.Cube, redBand, nirBand string) (*model.Cube, error) {
	var red, nir []float64
	var err error
	if len(c.BandNames) == c.NBands && c.NBands > 0 {
		red, err = bandPlane(c, redBand)
		if err != nil {
			return nil, err
		}
		nir, err = bandPlane(c, nirBand)
		if err != nil {
			return nil, err
		}
	} else if len(c.Wavelengths) == c.NBands && c.NBands > 0 {
		red, err = bandMeanInRange(c, ndviRedLoNM, ndviRedHiNM)
		if err != nil {
			return nil, err
		}
		nir, err = bandMeanInRange(c, ndviNIRLoNM, ndviNIRHiNM)
		if err != nil {
			return nil, err
		}
	} else {
		return nil, fmt.Errorf("ndvi: cube has neither band labels nor wavelengths")
	}

	out := model.NewCube(1, c.NY, c.NX)
	out.Res = c.Res
	out.BandNames = []string{"ndvi"}
	plane := out.Plane(0)
	for i := range plane {
		plane[i] = (nir[i] - red[i]) / (nir[i] + red[i])
	}
	return out, nil
}

func bandPlane(c *model.Cube, name string) ([]float64, error) {
	for b, n := range c.BandNames {
		if n == name {
			return c.Plane(b), nil
		}
	}
	return nil, fmt.Errorf("ndvi: no band named %q", name)
}

// bandMeanInRange averages the planes whose wavelength falls in [lo, hi] nm.
func bandMeanInRange(c *model.Cube, lo, hi float64) ([]float64, error) {
	mean := make([]float64, c.NY*c.NX)
	n := 0
	for b, wl := range c.Wavelengths {
		if wl < lo || wl > hi {
			continue
		}
		for i, v := range c.Plane(b) {
			mean[i] += v
		}
		n++
	}
	if n == 0 {
		return nil, fmt.Errorf("ndvi: no bands in %g-%g nm", lo, hi)
	}
	for i := range mean {
		mean[i] /= float64(n)
	}
	return mean, nil
}
