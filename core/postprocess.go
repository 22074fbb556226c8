package core

import (
	"context"
	"fmt"
	"sort"

	"github.com/signalsfoundry/pushbroom-simulator/model"
)

// GenerateFlatField builds a per-pixel gain image from a fitted sensor: the
// reference signal is transformed `repeats` times, the mean dark level
// (from a zero-signal transform) is subtracted, each repeat is normalised by
// its per-band spatial mean, and the per-pixel median over repeats is
// returned. Dividing later images by this frame removes the fixed-pattern
// component of the sensor response.
func GenerateFlatField(ctx context.Context, refSignal *model.Cube, sensor *TDICMOS, repeats int) (*model.Cube, error) {
	if repeats < 1 {
		return nil, fmt.Errorf("flat field: repeats must be at least 1, got %d", repeats)
	}

	dark, err := sensor.Transform(ctx, refSignal.EmptyLike())
	if err != nil {
		return nil, fmt.Errorf("flat field: dark transform: %w", err)
	}
	darkLevel := dark.Mean()

	var stack []*model.Cube
	for r := 0; r < repeats; r++ {
		im, err := sensor.Transform(ctx, refSignal)
		if err != nil {
			return nil, fmt.Errorf("flat field: repeat %d: %w", r, err)
		}

		// Dark-subtract, then normalise each band by its spatial mean so
		// the frame carries relative gain only.
		for b := 0; b < im.NBands; b++ {
			plane := im.Plane(b)
			sum := 0.0
			for i, v := range plane {
				plane[i] = v - darkLevel
				sum += plane[i]
			}
			mean := sum / float64(len(plane))
			if mean == 0 {
				return nil, fmt.Errorf("flat field: band %d has zero mean after dark subtraction", b)
			}
			for i := range plane {
				plane[i] /= mean
			}
		}
		stack = append(stack, im)
	}

	out := stack[0].Clone()
	if repeats > 1 {
		vals := make([]float64, repeats)
		for i := range out.Data {
			for r, im := range stack {
				vals[r] = im.Data[i]
			}
			out.Data[i] = median(vals)
		}
	}
	return out, nil
}

// NoiseCorrectedSignal produces a dark-subtracted, flat-fielded image: the
// signal goes through the imaging sensor, the mean dark level comes from a
// separate dark-region sensor fed zeros, and the result is divided by the
// flat-field frame.
func NoiseCorrectedSignal(ctx context.Context, signal *model.Cube, imageSensor, darkSensor *TDICMOS, ffFrame *model.Cube) (*model.Cube, error) {
	darkFrame, err := darkSensor.Transform(ctx, signal.EmptyLike())
	if err != nil {
		return nil, fmt.Errorf("noise correction: dark transform: %w", err)
	}
	darkLevel := darkFrame.Mean()

	im, err := imageSensor.Transform(ctx, signal)
	if err != nil {
		return nil, fmt.Errorf("noise correction: %w", err)
	}
	if err := im.CheckShape(ffFrame); err != nil {
		return nil, fmt.Errorf("noise correction: flat field %w", err)
	}

	out := im.Clone()
	for i, v := range out.Data {
		ff := ffFrame.Data[i]
		if ff == 0 {
			return nil, fmt.Errorf("noise correction: zero flat-field value at index %d", i)
		}
		out.Data[i] = (v - darkLevel) / ff
	}
	return out, nil
}

func median(vals []float64) float64 {
	sorted := append([]float64(nil), vals...)
	sort.Float64s(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}
