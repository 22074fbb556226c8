package core

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/signalsfoundry/pushbroom-simulator/model"
)

// AtmosphereLUT converts surface reflectance to at-sensor radiance through a
// precomputed lookup table keyed by reflectance level and wavelength. The
// table itself comes from an external radiative-transfer run; this type only
// interpolates it.
type AtmosphereLUT struct {
	// Rhos are the tabulated reflectance levels, ascending in [0,1].
	Rhos []float64
	// Wavelengths are the tabulated wavelengths in nanometres, ascending.
	Wavelengths []float64
	// Radiance[i][j] is the at-sensor radiance for Rhos[i] at
	// Wavelengths[j].
	Radiance [][]float64
}

// internal JSON shape, kept unexported so the file format can evolve.
type atmosphereLUTJSON struct {
	Rhos        []float64   `json:"rhos"`
	Wavelengths []float64   `json:"wavelengths"`
	Radiance    [][]float64 `json:"radiance"`
}

// LoadAtmosphereLUT reads a lookup table from JSON.
func LoadAtmosphereLUT(r io.Reader) (*AtmosphereLUT, error) {
	var payload atmosphereLUTJSON
	if err := json.NewDecoder(r).Decode(&payload); err != nil {
		return nil, fmt.Errorf("atmosphere LUT: decode failed: %w", err)
	}
	lut := &AtmosphereLUT{
		Rhos:        payload.Rhos,
		Wavelengths: payload.Wavelengths,
		Radiance:    payload.Radiance,
	}
	if err := lut.validate(); err != nil {
		return nil, err
	}
	return lut, nil
}

func (l *AtmosphereLUT) validate() error {
	if len(l.Rhos) < 2 || len(l.Wavelengths) < 2 {
		return fmt.Errorf("atmosphere LUT: need at least 2 reflectance levels and 2 wavelengths")
	}
	if !sort.Float64sAreSorted(l.Rhos) || !sort.Float64sAreSorted(l.Wavelengths) {
		return fmt.Errorf("atmosphere LUT: axes must be ascending")
	}
	if len(l.Radiance) != len(l.Rhos) {
		return fmt.Errorf("atmosphere LUT: %d radiance rows for %d reflectance levels",
			len(l.Radiance), len(l.Rhos))
	}
	for i, row := range l.Radiance {
		if len(row) != len(l.Wavelengths) {
			return fmt.Errorf("atmosphere LUT: row %d has %d entries for %d wavelengths",
				i, len(row), len(l.Wavelengths))
		}
	}
	return nil
}

// Transform converts a surface-reflectance cube to top-of-atmosphere
// radiance by bilinear interpolation over (reflectance, wavelength).
// Band wavelengths outside the table are an error; interpolated radiance is
// clamped at zero.
func (l *AtmosphereLUT) Transform(reflectance *model.Cube) (*model.Cube, error) {
	cols, err := l.wavelengthColumns(reflectance)
	if err != nil {
		return nil, err
	}
	out := reflectance.MapBand(func(b int, rho float64) float64 {
		v := l.radianceAt(rho, cols[b])
		if v < 0 {
			return 0
		}
		return v
	})
	return out, nil
}

// InverseTransform converts top-of-atmosphere radiance back to surface
// reflectance by inverting the table along the reflectance axis, which is
// monotone for any physical atmosphere. Radiance outside the tabulated
// range clamps to the boundary reflectance levels.
func (l *AtmosphereLUT) InverseTransform(radiance *model.Cube) (*model.Cube, error) {
	cols, err := l.wavelengthColumns(radiance)
	if err != nil {
		return nil, err
	}
	out := radiance.MapBand(func(b int, rad float64) float64 {
		return l.reflectanceAt(rad, cols[b])
	})
	return out, nil
}

// wavelengthColumns resolves each band's interpolation position along the
// wavelength axis.
type wavelengthColumn struct {
	j int     // lower index
	t float64 // fraction towards j+1
}

func (l *AtmosphereLUT) wavelengthColumns(c *model.Cube) ([]wavelengthColumn, error) {
	if len(c.Wavelengths) != c.NBands {
		return nil, fmt.Errorf("atmosphere LUT: signal has %d wavelength labels for %d bands",
			len(c.Wavelengths), c.NBands)
	}
	n := len(l.Wavelengths)
	cols := make([]wavelengthColumn, c.NBands)
	for b, w := range c.Wavelengths {
		if w < l.Wavelengths[0] || w > l.Wavelengths[n-1] {
			return nil, fmt.Errorf("atmosphere LUT: band wavelength %g nm outside table range [%g, %g]",
				w, l.Wavelengths[0], l.Wavelengths[n-1])
		}
		j := sort.SearchFloat64s(l.Wavelengths, w)
		if j > 0 && (j == n || l.Wavelengths[j] != w) {
			j--
		}
		t := 0.0
		if j < n-1 && l.Wavelengths[j+1] != l.Wavelengths[j] {
			t = (w - l.Wavelengths[j]) / (l.Wavelengths[j+1] - l.Wavelengths[j])
		}
		cols[b] = wavelengthColumn{j: j, t: t}
	}
	return cols, nil
}

// sample returns the radiance at reflectance row i for the column position.
func (l *AtmosphereLUT) sample(i int, col wavelengthColumn) float64 {
	v := l.Radiance[i][col.j]
	if col.t > 0 {
		v = v*(1-col.t) + l.Radiance[i][col.j+1]*col.t
	}
	return v
}

// radianceAt bilinearly interpolates the table at (rho, column). Reflectance
// outside the tabulated range clamps to the end rows.
func (l *AtmosphereLUT) radianceAt(rho float64, col wavelengthColumn) float64 {
	n := len(l.Rhos)
	if rho <= l.Rhos[0] {
		return l.sample(0, col)
	}
	if rho >= l.Rhos[n-1] {
		return l.sample(n-1, col)
	}
	i := sort.SearchFloat64s(l.Rhos, rho)
	if l.Rhos[i] != rho {
		i--
	}
	t := 0.0
	if l.Rhos[i+1] != l.Rhos[i] {
		t = (rho - l.Rhos[i]) / (l.Rhos[i+1] - l.Rhos[i])
	}
	return l.sample(i, col)*(1-t) + l.sample(i+1, col)*t
}

// reflectanceAt inverts radianceAt along the reflectance axis.
func (l *AtmosphereLUT) reflectanceAt(rad float64, col wavelengthColumn) float64 {
	n := len(l.Rhos)
	lo := l.sample(0, col)
	hi := l.sample(n-1, col)
	if rad <= lo {
		return l.Rhos[0]
	}
	if rad >= hi {
		return l.Rhos[n-1]
	}
	for i := 0; i < n-1; i++ {
		a, b := l.sample(i, col), l.sample(i+1, col)
		if rad >= a && rad <= b {
			if b == a {
				return l.Rhos[i]
			}
			t := (rad - a) / (b - a)
			return l.Rhos[i]*(1-t) + l.Rhos[i+1]*t
		}
	}
	return l.Rhos[n-1]
}
