package model

import (
	"testing"
	"time"
)

const (
	issLine1 = "1 25544U 98067A   21275.59097222  .00000204  00000-0  10270-4 0  9990"
	issLine2 = "2 25544  51.6459 115.9059 0001817  61.3028  35.9198 15.49370953257760"
)

func TestGeometryFromTLE_PlausibleLEOValues(t *testing.T) {
	at := time.Date(2021, 10, 2, 12, 0, 0, 0, time.UTC)
	geom, err := GeometryFromTLE(issLine1, issLine2, at)
	if err != nil {
		t.Fatalf("GeometryFromTLE: %v", err)
	}

	if geom.AltitudeM < 300e3 || geom.AltitudeM > 500e3 {
		t.Errorf("ISS altitude = %v m, want within [300, 500] km", geom.AltitudeM)
	}
	if geom.GroundSpeedMS < 6500 || geom.GroundSpeedMS > 8000 {
		t.Errorf("ISS ground speed = %v m/s, want within [6500, 8000]", geom.GroundSpeedMS)
	}
}

func TestGeometryFromTLE_RejectsEmptyLines(t *testing.T) {
	at := time.Now().UTC()
	if _, err := GeometryFromTLE("", issLine2, at); err == nil {
		t.Errorf("expected error for empty first TLE line")
	}
	if _, err := GeometryFromTLE(issLine1, "", at); err == nil {
		t.Errorf("expected error for empty second TLE line")
	}
}
