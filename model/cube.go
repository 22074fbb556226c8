package model

import "fmt"

// Cube is a labelled 3-D raster in fixed (band, y, x) dimension order.
// It is the unit of exchange for every pipeline stage: top-of-atmosphere
// radiance in, digital numbers out, and every intermediate in between.
//
// Data is a flat slice in band-major order: element (b, y, x) lives at
// index b*NY*NX + y*NX + x.
type Cube struct {
	NBands int
	NY     int
	NX     int

	Data []float64

	// BandNames labels the band axis. Optional; len NBands when set.
	BandNames []string

	// Wavelengths holds each band's centre wavelength in nanometres.
	// Required by stages that depend on photon energy.
	Wavelengths []float64

	// Res is the ground resolution in metres per pixel. Zero means
	// unknown; spatial resampling requires a positive value.
	Res float64
}

// NewCube allocates a zero-filled cube of the given shape.
func NewCube(nBands, ny, nx int) *Cube {
	return &Cube{
		NBands: nBands,
		NY:     ny,
		NX:     nx,
		Data:   make([]float64, nBands*ny*nx),
	}
}

// Idx returns the flat index of element (b, y, x).
func (c *Cube) Idx(b, y, x int) int {
	return b*c.NY*c.NX + y*c.NX + x
}

// At returns the value at (b, y, x).
func (c *Cube) At(b, y, x int) float64 {
	return c.Data[c.Idx(b, y, x)]
}

// Set stores v at (b, y, x).
func (c *Cube) Set(b, y, x int, v float64) {
	c.Data[c.Idx(b, y, x)] = v
}

// Plane returns the (y, x) plane of band b as a subslice of Data.
// Mutating the returned slice mutates the cube.
func (c *Cube) Plane(b int) []float64 {
	n := c.NY * c.NX
	return c.Data[b*n : (b+1)*n]
}

// Clone returns a deep copy, labels included.
func (c *Cube) Clone() *Cube {
	out := &Cube{
		NBands: c.NBands,
		NY:     c.NY,
		NX:     c.NX,
		Data:   append([]float64(nil), c.Data...),
		Res:    c.Res,
	}
	if c.BandNames != nil {
		out.BandNames = append([]string(nil), c.BandNames...)
	}
	if c.Wavelengths != nil {
		out.Wavelengths = append([]float64(nil), c.Wavelengths...)
	}
	return out
}

// EmptyLike returns a zero-filled cube with the same shape and labels as c.
func (c *Cube) EmptyLike() *Cube {
	out := c.Clone()
	for i := range out.Data {
		out.Data[i] = 0
	}
	return out
}

// OnesLike returns a cube of ones with the same shape and labels as c.
// Fixed-pattern generators take this as their shape template so the noise
// fields depend only on shape, never on the observed signal.
func (c *Cube) OnesLike() *Cube {
	out := c.EmptyLike()
	for i := range out.Data {
		out.Data[i] = 1
	}
	return out
}

// SameShape reports whether two cubes have identical dimensions.
func (c *Cube) SameShape(other *Cube) bool {
	return c.NBands == other.NBands && c.NY == other.NY && c.NX == other.NX
}

// Fill sets every element to v.
func (c *Cube) Fill(v float64) {
	for i := range c.Data {
		c.Data[i] = v
	}
}

// Map returns a new cube with fn applied to every element.
func (c *Cube) Map(fn func(float64) float64) *Cube {
	out := c.Clone()
	for i, v := range out.Data {
		out.Data[i] = fn(v)
	}
	return out
}

// MapBand returns a new cube with fn applied per element, where fn also
// receives the band index. Used by stages whose constants vary per band
// (photon energy, quantum efficiency).
func (c *Cube) MapBand(fn func(b int, v float64) float64) *Cube {
	out := c.Clone()
	for b := 0; b < out.NBands; b++ {
		plane := out.Plane(b)
		for i, v := range plane {
			plane[i] = fn(b, v)
		}
	}
	return out
}

// Mean returns the arithmetic mean over all elements.
func (c *Cube) Mean() float64 {
	if len(c.Data) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range c.Data {
		sum += v
	}
	return sum / float64(len(c.Data))
}

// Min and Max return the extreme values of the cube, or 0 for an empty one.
func (c *Cube) Min() float64 {
	if len(c.Data) == 0 {
		return 0
	}
	m := c.Data[0]
	for _, v := range c.Data[1:] {
		if v < m {
			m = v
		}
	}
	return m
}

func (c *Cube) Max() float64 {
	if len(c.Data) == 0 {
		return 0
	}
	m := c.Data[0]
	for _, v := range c.Data[1:] {
		if v > m {
			m = v
		}
	}
	return m
}

// CheckShape returns an error when the cubes disagree in any dimension.
func (c *Cube) CheckShape(other *Cube) error {
	if !c.SameShape(other) {
		return fmt.Errorf("shape mismatch: (%d,%d,%d) vs (%d,%d,%d)",
			c.NBands, c.NY, c.NX, other.NBands, other.NY, other.NX)
	}
	return nil
}
