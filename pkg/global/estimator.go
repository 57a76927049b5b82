// Package global estimates the global mean intensity of a volume: the mean
// of all voxels brighter than one eighth of the whole-volume mean. Voxels at
// or below that threshold are treated as background and discounted.
package global

import (
	"errors"
	"fmt"
	"math"
	"reflect"

	"spmglobal/pkg/logging"
	"spmglobal/pkg/volmap"
)

// DefaultThresholdDivisor splits object from background at mean/8.
const DefaultThresholdDivisor = 8.0

var (
	// ErrUsage is returned for a call with the wrong number of arguments
	// or results.
	ErrUsage = errors.New("global: inappropriate usage")

	// ErrInvalidInput is returned when the argument does not resolve to
	// exactly one valid volume.
	ErrInvalidInput = errors.New("global: invalid volume")

	// ErrDegenerate is returned when no voxel exceeds the threshold, so the
	// object mean is undefined.
	ErrDegenerate = errors.New("global: no voxels above threshold")
)

// Params controls the estimate.
type Params struct {
	// ThresholdDivisor divides the whole-volume mean to give the
	// object threshold.
	ThresholdDivisor float64

	// CacheBudget is the number of bytes the estimator may spend keeping
	// pass-one slices for pass two. When the whole volume does not fit,
	// every slice is extracted again in pass two.
	CacheBudget int64
}

// DefaultParams returns the standard mean/8, re-reading configuration.
func DefaultParams() Params {
	return Params{ThresholdDivisor: DefaultThresholdDivisor}
}

// Result holds the estimate and the intermediate sums it was built from.
type Result struct {
	// Mean is the global mean, NaN when Count is zero.
	Mean float64

	// Threshold is Sum / (ThresholdDivisor * Total).
	Threshold float64

	// Sum is the total intensity of all voxels.
	Sum float64

	// ObjectSum is the total intensity of voxels above Threshold.
	ObjectSum float64

	// Count is the number of voxels above Threshold.
	Count int

	// Total is the number of voxels in the volume.
	Total int
}

// ObjectFraction is the share of voxels classified as object.
func (r Result) ObjectFraction() float64 {
	if r.Total == 0 {
		return 0
	}
	return float64(r.Count) / float64(r.Total)
}

// Estimator computes global means. It holds no per-call state and may be
// shared between goroutines.
type Estimator struct {
	params Params
}

// NewEstimator returns an estimator, filling unset parameters with defaults.
func NewEstimator(params Params) (*Estimator, error) {
	if params.ThresholdDivisor == 0 {
		params.ThresholdDivisor = DefaultThresholdDivisor
	}
	if params.ThresholdDivisor < 0 || math.IsNaN(params.ThresholdDivisor) || math.IsInf(params.ThresholdDivisor, 0) {
		return nil, fmt.Errorf("threshold divisor must be positive, got %v", params.ThresholdDivisor)
	}
	if params.CacheBudget < 0 {
		return nil, fmt.Errorf("cache budget must not be negative, got %d", params.CacheBudget)
	}
	return &Estimator{params: params}, nil
}

// Estimate returns the global mean of v using default parameters.
func Estimate(v volmap.Volume) (float64, error) {
	e := &Estimator{params: DefaultParams()}
	r, err := e.Estimate(v)
	return r.Mean, err
}

// isNilVolume reports whether v is nil or holds a nil pointer, map, slice,
// func or chan.
func isNilVolume(v volmap.Volume) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		return rv.IsNil()
	}
	return false
}

// Estimate makes two passes over v. The first sums every voxel to set the
// threshold; the second averages the voxels strictly above it. Summation is
// plain float64 addition in slice-then-voxel order.
//
// If no voxel exceeds the threshold the returned Result carries a NaN Mean
// and the error is ErrDegenerate.
func (e *Estimator) Estimate(v volmap.Volume) (Result, error) {
	if isNilVolume(v) {
		return Result{}, fmt.Errorf("%w: nil volume", ErrInvalidInput)
	}
	d := volmap.Dims(v)
	if !d.Valid() {
		return Result{}, fmt.Errorf("%w: dims %s", ErrInvalidInput, d)
	}

	n := d.SliceLen()
	res := Result{Total: d.Len()}
	tlog := logging.NewTimeLog()

	// Slices are kept only if the whole volume fits in the budget.
	var cache [][]float64
	if int64(res.Total)*8 <= e.params.CacheBudget {
		cache = make([][]float64, d.NZ)
	}

	dat := make([]float64, n)
	for z := 0; z < d.NZ; z++ {
		if cache != nil {
			cache[z] = make([]float64, n)
			dat = cache[z]
		}
		if err := v.Slice(volmap.SliceTransform(z), dat, d.NX, d.NY); err != nil {
			return Result{}, fmt.Errorf("failed to read slice %d: %w", z, err)
		}
		for _, val := range dat {
			res.Sum += val
		}
	}
	res.Threshold = res.Sum / (e.params.ThresholdDivisor * float64(d.NZ) * float64(n))
	tlog.Debugf("Pass 1 over %s volume: sum %g, threshold %g", d, res.Sum, res.Threshold)

	if cache != nil {
		for _, dat := range cache {
			res.accumulate(dat)
		}
	} else {
		for z := 0; z < d.NZ; z++ {
			if err := v.Slice(volmap.SliceTransform(z), dat, d.NX, d.NY); err != nil {
				return Result{}, fmt.Errorf("failed to read slice %d: %w", z, err)
			}
			res.accumulate(dat)
		}
	}

	if res.Count == 0 {
		res.Mean = math.NaN()
		return res, fmt.Errorf("%w: threshold %g over %d voxels", ErrDegenerate, res.Threshold, res.Total)
	}
	res.Mean = res.ObjectSum / float64(res.Count)
	tlog.Debugf("Pass 2: %d of %d voxels above threshold, mean %g", res.Count, res.Total, res.Mean)

	return res, nil
}

func (r *Result) accumulate(dat []float64) {
	for _, val := range dat {
		if val > r.Threshold {
			r.Count++
			r.ObjectSum += val
		}
	}
}
