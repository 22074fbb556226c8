package core

import (
	"fmt"
	"math"

	"golang.org/x/exp/rand"

	"github.com/signalsfoundry/pushbroom-simulator/model"
)

// hc is the Planck constant times the speed of light, in J m.
const hc = 1.98644586e-25

// RadianceToIrradiance converts at-sensor radiance (W m-2 sr-1) to focal
// plane irradiance through the optic's throughput, pi/4 (D/f)^2.
//
// This holds only near nadir: foreshortening and cos^4 roll-off are not
// modelled.
func RadianceToIrradiance(radiance *model.Cube, lensDiameter, focalLength float64) (*model.Cube, error) {
	if lensDiameter <= 0 || focalLength <= 0 {
		return nil, fmt.Errorf("radiance to irradiance: non-positive optic geometry (D=%g, f=%g)",
			lensDiameter, focalLength)
	}
	ratio := lensDiameter / focalLength
	k := (math.Pi / 4) * ratio * ratio
	return radiance.Map(func(v float64) float64 { return v * k }), nil
}

// EnergyToQuantity converts radiant energy (J) to photon counts using the
// Planck relation E = hc/lambda, with each band's centre wavelength.
func EnergyToQuantity(energy *model.Cube) (*model.Cube, error) {
	if len(energy.Wavelengths) != energy.NBands {
		return nil, fmt.Errorf("energy to quantity: %d wavelength labels for %d bands",
			len(energy.Wavelengths), energy.NBands)
	}
	factors := make([]float64, energy.NBands)
	for b, w := range energy.Wavelengths {
		if w <= 0 {
			return nil, fmt.Errorf("energy to quantity: band %d has non-positive wavelength %g nm", b, w)
		}
		factors[b] = nmToM(w) / hc
	}
	return energy.MapBand(func(b int, v float64) float64 { return v * factors[b] }), nil
}

// PhotonMean converts photon flux density (photons s-1 m-2) to the expected
// photon count per pixel per exposure. pixelArea is in square microns.
func PhotonMean(flux *model.Cube, pixelArea, integrationTime float64) (*model.Cube, error) {
	if pixelArea <= 0 || integrationTime <= 0 {
		return nil, fmt.Errorf("photon mean: non-positive pixel area (%g) or integration time (%g)",
			pixelArea, integrationTime)
	}
	k := integrationTime * micron2ToM2(pixelArea)
	return flux.Map(func(v float64) float64 { return v * k }), nil
}

// PhotonToElectron converts photon counts to electron counts via quantum
// efficiency. qe is one value per band, or a single value broadcast over all
// bands. Counts are rounded to whole electrons.
func PhotonToElectron(photons *model.Cube, qe []float64) (*model.Cube, error) {
	switch len(qe) {
	case 1:
		q := qe[0]
		return photons.Map(func(v float64) float64 { return math.Round(v * q) }), nil
	case photons.NBands:
		return photons.MapBand(func(b int, v float64) float64 { return math.Round(v * qe[b]) }), nil
	default:
		return nil, fmt.Errorf("photon to electron: %d quantum efficiency values for %d bands",
			len(qe), photons.NBands)
	}
}

// ElectronToVoltage simulates a sense node with reference voltage vRef and
// gain in V/e-. Electron counts are floored to the full-well capacity
// (saturation is modelled behaviour, not an error), Gaussian read noise is
// folded in, and the charge is subtracted from vRef following the sense-node
// polarity convention: more charge, lower voltage.
func ElectronToVoltage(electrons *model.Cube, vRef, senseNodeGain float64, fullWell int, readNoise float64, src rand.Source) (*model.Cube, error) {
	if fullWell <= 0 {
		return nil, fmt.Errorf("electron to voltage: non-positive full well %d", fullWell)
	}
	if readNoise < 0 {
		return nil, fmt.Errorf("electron to voltage: negative read noise %g", readNoise)
	}

	well := float64(fullWell)
	clipped := electrons.Map(func(v float64) float64 {
		if v > well {
			return well
		}
		return v
	})

	if readNoise > 0 {
		var err error
		clipped, err = AddGaussianNoise(clipped, readNoise, src)
		if err != nil {
			return nil, err
		}
	}

	return clipped.Map(func(v float64) float64 {
		return vRef - math.Round(v)*senseNodeGain
	}), nil
}

// VoltageToDN models a linear ADC digitising the voltage drop below vRef.
// The drop is scaled so a full-range drop (voltage at or below zero) maps to
// the top code 2^bitDepth-1; codes outside the range clip rather than wrap,
// matching real converter saturation.
func VoltageToDN(voltage *model.Cube, vRef float64, bitDepth int) (*model.Cube, error) {
	if vRef <= 0 {
		return nil, fmt.Errorf("voltage to DN: non-positive ADC reference %g", vRef)
	}
	if bitDepth <= 0 || bitDepth > 32 {
		return nil, fmt.Errorf("voltage to DN: bit depth %d out of range", bitDepth)
	}
	maxDN := float64(int64(1)<<uint(bitDepth) - 1)
	return voltage.Map(func(v float64) float64 {
		dn := math.Round(maxDN * (vRef - v) / vRef)
		if dn < 0 {
			return 0
		}
		if dn > maxDN {
			return maxDN
		}
		return dn
	}), nil
}

func nmToM(x float64) float64 { return x * 1e-9 }

func micron2ToM2(x float64) float64 { return x * 1e-12 }
