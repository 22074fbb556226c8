package core

import (
	"fmt"
	"math"

	"github.com/signalsfoundry/pushbroom-simulator/model"
)

// fwhmToSigma converts a Gaussian full-width-half-maximum to its standard
// deviation (FWHM = 2 sqrt(2 ln 2) sigma).
const fwhmToSigma = 2.355

// GaussianIsotropic applies the sensor's spatial response: an isotropic
// Gaussian point-spread function of the given full-width-half-maximum
// (ground metres), followed by block-averaging down to the ground sample
// distance. The input must carry its ground resolution in Res.
//
// Pure function: the input cube is never modified.
func GaussianIsotropic(signal *model.Cube, psfFWHM, groundSampleDistance float64) (*model.Cube, error) {
	if signal.Res <= 0 {
		return nil, fmt.Errorf("spatial resampling: signal has no resolution attribute")
	}
	if psfFWHM < 0 || groundSampleDistance <= 0 {
		return nil, fmt.Errorf("spatial resampling: invalid PSF FWHM %g or GSD %g",
			psfFWHM, groundSampleDistance)
	}

	sigma := (psfFWHM / fwhmToSigma) / signal.Res
	blurred := signal.Clone()
	if sigma > 0 {
		kernel := gaussianKernel(sigma)
		for b := 0; b < blurred.NBands; b++ {
			plane := blurred.Plane(b)
			filterAxis(plane, blurred.NY, blurred.NX, kernel, true)
			filterAxis(plane, blurred.NY, blurred.NX, kernel, false)
		}
	}

	factor := int(groundSampleDistance / signal.Res)
	if factor < 1 {
		factor = 1
	}
	return coarsen(blurred, factor), nil
}

// gaussianKernel builds a normalised 1-D Gaussian kernel truncated at four
// standard deviations.
func gaussianKernel(sigma float64) []float64 {
	radius := int(math.Ceil(4 * sigma))
	if radius < 1 {
		radius = 1
	}
	kernel := make([]float64, 2*radius+1)
	sum := 0.0
	for i := range kernel {
		d := float64(i - radius)
		kernel[i] = math.Exp(-d * d / (2 * sigma * sigma))
		sum += kernel[i]
	}
	for i := range kernel {
		kernel[i] /= sum
	}
	return kernel
}

// filterAxis convolves one band plane with the kernel along rows (alongX)
// or columns, using reflect boundary handling. The plane is updated in
// place.
func filterAxis(plane []float64, ny, nx int, kernel []float64, alongX bool) {
	radius := len(kernel) / 2

	if alongX {
		row := make([]float64, nx)
		for y := 0; y < ny; y++ {
			base := y * nx
			copy(row, plane[base:base+nx])
			for x := 0; x < nx; x++ {
				acc := 0.0
				for k, w := range kernel {
					acc += w * row[reflect(x+k-radius, nx)]
				}
				plane[base+x] = acc
			}
		}
		return
	}

	col := make([]float64, ny)
	for x := 0; x < nx; x++ {
		for y := 0; y < ny; y++ {
			col[y] = plane[y*nx+x]
		}
		for y := 0; y < ny; y++ {
			acc := 0.0
			for k, w := range kernel {
				acc += w * col[reflect(y+k-radius, ny)]
			}
			plane[y*nx+x] = acc
		}
	}
}

// reflect folds an out-of-range index back into [0, n) by mirroring about
// the array edges with the edge sample repeated (d c b a | a b c d | d c b a).
func reflect(i, n int) int {
	period := 2 * n
	i %= period
	if i < 0 {
		i += period
	}
	if i >= n {
		i = period - 1 - i
	}
	return i
}

// coarsen block-averages the cube by an integer factor in both spatial axes.
// Partial blocks at the far edges average over the samples they have.
func coarsen(c *model.Cube, factor int) *model.Cube {
	if factor == 1 {
		return c
	}
	ny := (c.NY + factor - 1) / factor
	nx := (c.NX + factor - 1) / factor

	out := model.NewCube(c.NBands, ny, nx)
	out.Res = c.Res * float64(factor)
	if c.BandNames != nil {
		out.BandNames = append([]string(nil), c.BandNames...)
	}
	if c.Wavelengths != nil {
		out.Wavelengths = append([]float64(nil), c.Wavelengths...)
	}

	for b := 0; b < c.NBands; b++ {
		src := c.Plane(b)
		dst := out.Plane(b)
		for by := 0; by < ny; by++ {
			for bx := 0; bx < nx; bx++ {
				sum, n := 0.0, 0
				for y := by * factor; y < (by+1)*factor && y < c.NY; y++ {
					for x := bx * factor; x < (bx+1)*factor && x < c.NX; x++ {
						sum += src[y*c.NX+x]
						n++
					}
				}
				dst[by*nx+bx] = sum / float64(n)
			}
		}
	}
	return out
}
