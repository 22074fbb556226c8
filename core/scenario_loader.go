// core/scenario_loader.go
package core

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/signalsfoundry/pushbroom-simulator/datasets"
	"github.com/signalsfoundry/pushbroom-simulator/model"
)

// SensorScenario is a small summary of what was loaded from JSON.
// It's mainly useful for logging or debugging from main().
type SensorScenario struct {
	Config    SensorConfig
	BandNames []string
	FromTLE   bool
}

// internal JSON shapes – keep them unexported so we're free to evolve them.
// Numeric fields are pointers so omitted values fall back to the defaults
// in DefaultConfig.
type sensorScenarioJSON struct {
	Sensor sensorJSON `json:"sensor"`
	Bands  []bandJSON `json:"bands"`
	TLE    *tleJSON   `json:"tle"`
}

type sensorJSON struct {
	AltitudeM         *float64 `json:"altitude_m"`
	GroundSpeedMS     *float64 `json:"ground_speed_ms"`
	GSDM              *float64 `json:"gsd_m"`
	LensDiameterM     *float64 `json:"lens_diameter_m"`
	PSFFWHMM          *float64 `json:"psf_fwhm_m"`
	TDIRows           *int     `json:"tdi_rows"`
	PixPerRow         *int     `json:"pix_per_row"`
	SensorWidthMM     *float64 `json:"sensor_width_mm"`
	PixelAreaMicron2  *float64 `json:"pixel_area_um2"`
	QE                *qeJSON  `json:"quantum_efficiency"`
	FullWell          *int     `json:"full_well"`
	PRNUFactor        *float64 `json:"prnu_factor"`
	DarkCurrent       *float64 `json:"dark_current"`
	DarkFactor        *float64 `json:"dark_factor"`
	OffsetFactor      *float64 `json:"offset_factor"`
	SenseNodeVRef     *float64 `json:"sense_node_vref"`
	SenseNodeGain     *float64 `json:"sense_node_gain_uv"`
	ReadNoise         *float64 `json:"read_noise"`
	ADCVRef           *float64 `json:"adc_vref"`
	BitDepth          *int     `json:"bit_depth"`
	SpatialResampling *bool    `json:"spatial_resampling"`
	StoreSteps        *bool    `json:"store_steps"`
	Seed              *uint64  `json:"seed"`
}

// qeJSON accepts exactly one of the quantum-efficiency forms.
type qeJSON struct {
	Scalar  *float64  `json:"scalar"`
	PerBand []float64 `json:"per_band"`
	Dataset string    `json:"dataset"`
}

type bandJSON struct {
	Name         string  `json:"name"`
	CentreNM     float64 `json:"centre_nm"`
	WidthNM      float64 `json:"width_nm"`
	Transmission float64 `json:"transmission"`
}

type tleJSON struct {
	Line1 string `json:"line1"`
	Line2 string `json:"line2"`
}

// LoadSensorScenario reads a JSON sensor scenario from r and returns a
// ready-to-use sensor plus a summary. Omitted sensor parameters keep their
// defaults; band definitions are required. When a TLE block is present the
// altitude and ground speed are derived from the orbit, overriding any
// explicit values.
func LoadSensorScenario(r io.Reader, reg *datasets.Registry) (*TDICMOS, *SensorScenario, error) {
	var payload sensorScenarioJSON
	dec := json.NewDecoder(r)
	if err := dec.Decode(&payload); err != nil {
		return nil, nil, fmt.Errorf("LoadSensorScenario: decode failed: %w", err)
	}

	if len(payload.Bands) == 0 {
		return nil, nil, fmt.Errorf("LoadSensorScenario: no bands defined")
	}
	bands := make([]model.Band, len(payload.Bands))
	for i, b := range payload.Bands {
		if b.Name == "" {
			return nil, nil, fmt.Errorf("LoadSensorScenario: band %d has empty name", i)
		}
		bands[i] = model.Band{
			Name:         b.Name,
			Centre:       b.CentreNM,
			Width:        b.WidthNM,
			Transmission: b.Transmission,
		}
	}
	sr, err := model.NewBoxcarResponse(bands, 400, 1000)
	if err != nil {
		return nil, nil, fmt.Errorf("LoadSensorScenario: %w", err)
	}

	cfg := DefaultConfig()
	cfg.SpectralResponse = sr
	applySensorJSON(&cfg, &payload.Sensor)

	scenario := &SensorScenario{BandNames: sr.BandNames()}
	if payload.TLE != nil {
		geom, err := model.GeometryFromTLE(payload.TLE.Line1, payload.TLE.Line2, time.Now().UTC())
		if err != nil {
			return nil, nil, fmt.Errorf("LoadSensorScenario: %w", err)
		}
		cfg.AltitudeM = geom.AltitudeM
		cfg.GroundSpeedMS = geom.GroundSpeedMS
		scenario.FromTLE = true
	}

	sensor, err := NewTDICMOS(cfg, reg)
	if err != nil {
		return nil, nil, fmt.Errorf("LoadSensorScenario: %w", err)
	}
	scenario.Config = cfg
	return sensor, scenario, nil
}

func applySensorJSON(cfg *SensorConfig, js *sensorJSON) {
	setF := func(dst *float64, src *float64) {
		if src != nil {
			*dst = *src
		}
	}
	setI := func(dst *int, src *int) {
		if src != nil {
			*dst = *src
		}
	}
	setB := func(dst *bool, src *bool) {
		if src != nil {
			*dst = *src
		}
	}

	setF(&cfg.AltitudeM, js.AltitudeM)
	setF(&cfg.GroundSpeedMS, js.GroundSpeedMS)
	setF(&cfg.GSDM, js.GSDM)
	setF(&cfg.LensDiameterM, js.LensDiameterM)
	setF(&cfg.PSFFWHMM, js.PSFFWHMM)
	setI(&cfg.TDIRows, js.TDIRows)
	setI(&cfg.PixPerRow, js.PixPerRow)
	setF(&cfg.SensorWidthMM, js.SensorWidthMM)
	setF(&cfg.PixelAreaMicron2, js.PixelAreaMicron2)
	setI(&cfg.FullWell, js.FullWell)
	setF(&cfg.PRNUFactor, js.PRNUFactor)
	setF(&cfg.DarkCurrent, js.DarkCurrent)
	setF(&cfg.DarkFactor, js.DarkFactor)
	setF(&cfg.OffsetFactor, js.OffsetFactor)
	setF(&cfg.SenseNodeVRef, js.SenseNodeVRef)
	setF(&cfg.SenseNodeGain, js.SenseNodeGain)
	setF(&cfg.ReadNoise, js.ReadNoise)
	setF(&cfg.ADCVRef, js.ADCVRef)
	setI(&cfg.BitDepth, js.BitDepth)
	setB(&cfg.SpatialResampling, js.SpatialResampling)
	setB(&cfg.StoreSteps, js.StoreSteps)
	if js.Seed != nil {
		cfg.Seed = *js.Seed
	}

	if js.QE != nil {
		switch {
		case js.QE.Scalar != nil:
			cfg.QE = QESpec{Kind: QEScalar, Scalar: *js.QE.Scalar}
		case len(js.QE.PerBand) > 0:
			cfg.QE = QESpec{Kind: QEPerBand, PerBand: js.QE.PerBand}
		case js.QE.Dataset != "":
			cfg.QE = QESpec{Kind: QEDataset, Dataset: js.QE.Dataset}
		}
	}
}
