package core

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"gonum.org/v1/gonum/stat"

	"github.com/signalsfoundry/pushbroom-simulator/model"
)

// ApplyDownsampling applies only the spatial and/or spectral downsampling
// stages of a sensor, bypassing the radiometric and electronic chain. With
// both toggles false it is the identity. normalise divides each band by the
// integral of its spectral response curve; use it when the input is
// reflectance rather than radiance.
func ApplyDownsampling(arr *model.Cube, sensor *TDICMOS, spatial, spectral, normalise bool) (*model.Cube, error) {
	out := arr
	if spectral {
		sr := sensor.Config.SpectralResponse
		if sr == nil {
			return nil, fmt.Errorf("downsampling: sensor has no spectral response bound")
		}
		var err error
		out, err = sr.Transform(out, normalise)
		if err != nil {
			return nil, fmt.Errorf("downsampling: %w", err)
		}
	}
	if spatial {
		var err error
		out, err = GaussianIsotropic(out, sensor.Config.PSFFWHMM, sensor.Config.GSDM)
		if err != nil {
			return nil, fmt.Errorf("downsampling: %w", err)
		}
	}
	return out, nil
}

// CalibrationCoefficients is the persisted calibration artifact: per-band
// slope and intercept of the linear DN to radiance model.
type CalibrationCoefficients struct {
	BandNames []string  `json:"band_names,omitempty"`
	M         []float64 `json:"m"`
	C         []float64 `json:"c"`
}

// Save writes the coefficients to path as JSON.
func (cc *CalibrationCoefficients) Save(path string) error {
	data, err := json.MarshalIndent(cc, "", "  ")
	if err != nil {
		return fmt.Errorf("save calibration: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// LoadCalibrationCoefficients reads a calibration artifact from path.
func LoadCalibrationCoefficients(path string) (*CalibrationCoefficients, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load calibration: %w", err)
	}
	var cc CalibrationCoefficients
	if err := json.Unmarshal(data, &cc); err != nil {
		return nil, fmt.Errorf("load calibration: decode failed: %w", err)
	}
	if len(cc.M) == 0 || len(cc.M) != len(cc.C) {
		return nil, fmt.Errorf("load calibration: slope/intercept length mismatch (%d vs %d)",
			len(cc.M), len(cc.C))
	}
	return &cc, nil
}

// SensorCorrectionExperiment runs a calibration experiment: it transforms a
// reference top-of-atmosphere radiance through the sensor and fits, per
// band, a linear model mapping digital number back to the spatially
// downsampled input radiance. The linear assumption breaks down near
// saturation; calibrate with mid-range inputs.
//
// mask, when non-nil, selects which output pixels participate in the fit.
// Its length must equal the per-band pixel count of the sensor output.
func SensorCorrectionExperiment(ctx context.Context, toaRadiance *model.Cube, sensor *TDICMOS, mask []bool) (*CalibrationCoefficients, error) {
	dn, err := sensor.FitTransform(ctx, toaRadiance)
	if err != nil {
		return nil, fmt.Errorf("correction experiment: %w", err)
	}

	ref, err := ApplyDownsampling(toaRadiance, sensor, sensor.Config.SpatialResampling, false, false)
	if err != nil {
		return nil, fmt.Errorf("correction experiment: %w", err)
	}
	if err := dn.CheckShape(ref); err != nil {
		return nil, fmt.Errorf("correction experiment: %w", err)
	}

	plane := dn.NY * dn.NX
	if mask != nil && len(mask) != plane {
		return nil, fmt.Errorf("correction experiment: mask has %d entries for %d pixels", len(mask), plane)
	}

	cc := &CalibrationCoefficients{
		M: make([]float64, dn.NBands),
		C: make([]float64, dn.NBands),
	}
	if dn.BandNames != nil {
		cc.BandNames = append([]string(nil), dn.BandNames...)
	}

	for b := 0; b < dn.NBands; b++ {
		xs := dn.Plane(b)
		ys := ref.Plane(b)
		x, y := xs, ys
		if mask != nil {
			x = make([]float64, 0, plane)
			y = make([]float64, 0, plane)
			for i := 0; i < plane; i++ {
				if mask[i] {
					x = append(x, xs[i])
					y = append(y, ys[i])
				}
			}
		}
		if len(x) < 2 {
			return nil, fmt.Errorf("correction experiment: band %d has %d usable pixels, need at least 2", b, len(x))
		}
		c, m := stat.LinearRegression(x, y, nil, false)
		cc.C[b], cc.M[b] = c, m
	}
	return cc, nil
}

// LinearRadiometricCorrection inverts a digital-number cube back to radiance
// using precomputed per-band linear coefficients. It holds no fitting logic
// of its own.
type LinearRadiometricCorrection struct {
	Coefficients *CalibrationCoefficients
}

// NewLinearRadiometricCorrection wraps existing coefficients.
func NewLinearRadiometricCorrection(cc *CalibrationCoefficients) (*LinearRadiometricCorrection, error) {
	if cc == nil || len(cc.M) == 0 {
		return nil, fmt.Errorf("radiometric correction: no coefficients supplied")
	}
	return &LinearRadiometricCorrection{Coefficients: cc}, nil
}

// LoadLinearRadiometricCorrection reads the calibration artifact from path.
func LoadLinearRadiometricCorrection(path string) (*LinearRadiometricCorrection, error) {
	cc, err := LoadCalibrationCoefficients(path)
	if err != nil {
		return nil, err
	}
	return NewLinearRadiometricCorrection(cc)
}

// Transform applies radiance = m*DN + c per band.
func (l *LinearRadiometricCorrection) Transform(dn *model.Cube) (*model.Cube, error) {
	cc := l.Coefficients
	if dn.NBands != len(cc.M) {
		return nil, fmt.Errorf("radiometric correction: %d bands in signal, %d coefficient pairs",
			dn.NBands, len(cc.M))
	}
	return dn.MapBand(func(b int, v float64) float64 {
		return cc.M[b]*v + cc.C[b]
	}), nil
}
