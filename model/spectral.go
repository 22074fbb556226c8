package model

import "fmt"

// Band describes one spectral channel of the sensor.
type Band struct {
	Name string
	// Centre is the band centre wavelength in nanometres.
	Centre float64
	// Width is the full bandwidth in nanometres.
	Width float64
	// Transmission is the in-band peak responsivity (0..1]. Zero is
	// treated as 1 so hand-written band lists stay short.
	Transmission float64
}

// Curve is a quantity sampled over wavelength (nanometres), e.g. a quantum
// efficiency spectrum or a measured responsivity.
type Curve struct {
	Wavelengths []float64
	Values      []float64
}

// ValueAt linearly interpolates the curve at wavelength w (nm). Outside the
// sampled range the curve is taken as zero.
func (c Curve) ValueAt(w float64) float64 {
	n := len(c.Wavelengths)
	if n == 0 || w < c.Wavelengths[0] || w > c.Wavelengths[n-1] {
		return 0
	}
	// Wavelengths are sorted ascending; find the bracketing pair.
	lo, hi := 0, n-1
	for hi-lo > 1 {
		mid := (lo + hi) / 2
		if c.Wavelengths[mid] <= w {
			lo = mid
		} else {
			hi = mid
		}
	}
	w0, w1 := c.Wavelengths[lo], c.Wavelengths[hi]
	if w1 == w0 {
		return c.Values[lo]
	}
	t := (w - w0) / (w1 - w0)
	return c.Values[lo]*(1-t) + c.Values[hi]*t
}

// SpectralResponse holds per-band responsivity curves sampled on a common
// wavelength grid. It is consumed two ways: resolving per-band quantum
// efficiency, and integrating a wavelength-resolved signal down to sensor
// bands.
type SpectralResponse struct {
	Bands []Band

	// grid is the shared wavelength sampling in nanometres, ascending.
	grid []float64
	// responses[b][i] is band b's responsivity at grid[i].
	responses [][]float64
}

// NewBoxcarResponse builds a SpectralResponse from band definitions using a
// rectangular (boxcar) responsivity: Transmission inside
// [Centre-Width/2, Centre+Width/2], zero outside. The grid is sampled at
// 1 nm between minWavelength and maxWavelength.
func NewBoxcarResponse(bands []Band, minWavelength, maxWavelength float64) (*SpectralResponse, error) {
	if len(bands) == 0 {
		return nil, fmt.Errorf("spectral response needs at least one band")
	}
	if maxWavelength <= minWavelength {
		return nil, fmt.Errorf("invalid wavelength range [%g, %g]", minWavelength, maxWavelength)
	}

	n := int(maxWavelength-minWavelength) + 1
	grid := make([]float64, n)
	for i := range grid {
		grid[i] = minWavelength + float64(i)
	}

	responses := make([][]float64, len(bands))
	for b, band := range bands {
		if band.Width <= 0 {
			return nil, fmt.Errorf("band %q: non-positive width %g", band.Name, band.Width)
		}
		trans := band.Transmission
		if trans == 0 {
			trans = 1
		}
		lo := band.Centre - band.Width/2
		hi := band.Centre + band.Width/2
		r := make([]float64, n)
		for i, w := range grid {
			if w >= lo && w <= hi {
				r[i] = trans
			}
		}
		responses[b] = r
	}

	return &SpectralResponse{Bands: bands, grid: grid, responses: responses}, nil
}

// BandCentres returns each band's centre wavelength in nanometres.
func (s *SpectralResponse) BandCentres() []float64 {
	out := make([]float64, len(s.Bands))
	for i, b := range s.Bands {
		out[i] = b.Centre
	}
	return out
}

// BandNames returns the band names in band order.
func (s *SpectralResponse) BandNames() []string {
	out := make([]string, len(s.Bands))
	for i, b := range s.Bands {
		out[i] = b.Name
	}
	return out
}

// Integral returns the integral of band b's responsivity over wavelength,
// by the trapezoid rule on the shared grid.
func (s *SpectralResponse) Integral(b int) float64 {
	return trapezoid(s.grid, s.responses[b])
}

// BandQE collapses a quantum-efficiency spectrum to one value per band:
// the responsivity-weighted mean of the curve over each band.
func (s *SpectralResponse) BandQE(qe Curve) ([]float64, error) {
	if len(qe.Wavelengths) == 0 {
		return nil, fmt.Errorf("empty quantum efficiency curve")
	}
	out := make([]float64, len(s.Bands))
	for b := range s.Bands {
		var wsum, qsum float64
		for i, w := range s.grid {
			r := s.responses[b][i]
			if r == 0 {
				continue
			}
			wsum += r
			qsum += r * qe.ValueAt(w)
		}
		if wsum == 0 {
			return nil, fmt.Errorf("band %q has zero responsivity integral", s.Bands[b].Name)
		}
		out[b] = qsum / wsum
	}
	return out, nil
}

// Transform integrates a wavelength-resolved signal down to sensor bands.
// The input cube's band axis must carry wavelength samples (Wavelengths set,
// ascending). Each output band is the integral over wavelength of
// signal * responsivity; with normalise it is divided by the integral of the
// responsivity alone, which converts a reflectance input into a band-mean
// reflectance instead of an absolute response.
func (s *SpectralResponse) Transform(signal *Cube, normalise bool) (*Cube, error) {
	if len(signal.Wavelengths) != signal.NBands {
		return nil, fmt.Errorf("spectral transform: signal has %d wavelength labels for %d bands",
			len(signal.Wavelengths), signal.NBands)
	}

	out := NewCube(len(s.Bands), signal.NY, signal.NX)
	out.Res = signal.Res
	out.BandNames = s.BandNames()
	out.Wavelengths = s.BandCentres()

	plane := signal.NY * signal.NX
	for b := range s.Bands {
		// Responsivity interpolated onto the signal's wavelength samples.
		resp := make([]float64, signal.NBands)
		covered := false
		srf := Curve{Wavelengths: s.grid, Values: s.responses[b]}
		for i, w := range signal.Wavelengths {
			resp[i] = srf.ValueAt(w)
			if resp[i] > 0 {
				covered = true
			}
		}
		if !covered {
			return nil, fmt.Errorf("band %q: signal wavelengths do not cover the band response",
				s.Bands[b].Name)
		}

		norm := 1.0
		if normalise {
			norm = trapezoid(signal.Wavelengths, resp)
			if norm == 0 {
				return nil, fmt.Errorf("band %q: zero responsivity integral over signal samples",
					s.Bands[b].Name)
			}
		}

		weighted := make([]float64, signal.NBands)
		dst := out.Plane(b)
		for p := 0; p < plane; p++ {
			for i := 0; i < signal.NBands; i++ {
				weighted[i] = signal.Data[i*plane+p] * resp[i]
			}
			dst[p] = trapezoid(signal.Wavelengths, weighted) / norm
		}
	}
	return out, nil
}

func trapezoid(xs, ys []float64) float64 {
	sum := 0.0
	for i := 1; i < len(xs); i++ {
		sum += (xs[i] - xs[i-1]) * (ys[i] + ys[i-1]) / 2
	}
	return sum
}
