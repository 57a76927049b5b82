package global

import (
	"errors"
	"math"
	"testing"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"spmglobal/pkg/volmap"
)

// createTestVolume builds an in-memory volume from a voxel pattern
func createTestVolume(t *testing.T, nx, ny, nz int, pattern func(x, y, z int) float64) *volmap.ArrayVolume {
	t.Helper()
	data := make([]float64, nx*ny*nz)
	for z := 0; z < nz; z++ {
		for y := 0; y < ny; y++ {
			for x := 0; x < nx; x++ {
				data[z*nx*ny+y*nx+x] = pattern(x, y, z)
			}
		}
	}
	v, err := volmap.NewArrayVolume(data, nx, ny, nz)
	if err != nil {
		t.Fatalf("Failed to create test volume: %v", err)
	}
	return v
}

// spyVolume records every slice request made against the wrapped volume
type spyVolume struct {
	volmap.Volume
	transforms []*mat.Dense
	fail       int
}

func (s *spyVolume) Slice(m mat.Matrix, dst []float64, nx, ny int) error {
	s.transforms = append(s.transforms, mat.DenseCopyOf(m))
	if s.fail > 0 && len(s.transforms) == s.fail {
		return errors.New("read failed")
	}
	return s.Volume.Slice(m, dst, nx, ny)
}

func newEstimator(t *testing.T, params Params) *Estimator {
	t.Helper()
	e, err := NewEstimator(params)
	if err != nil {
		t.Fatalf("Failed to create estimator: %v", err)
	}
	return e
}

// TestConstantVolume verifies that every voxel of a constant volume is object
func TestConstantVolume(t *testing.T) {
	k := 2.5
	v := createTestVolume(t, 6, 5, 4, func(x, y, z int) float64 { return k })

	r, err := newEstimator(t, DefaultParams()).Estimate(v)
	if err != nil {
		t.Fatalf("Estimate failed: %v", err)
	}
	if r.Mean != k {
		t.Errorf("Expected mean %v, got %v", k, r.Mean)
	}
	if r.Threshold != k/8 {
		t.Errorf("Expected threshold %v, got %v", k/8, r.Threshold)
	}
	if r.Count != r.Total || r.Total != 6*5*4 {
		t.Errorf("Expected all %d voxels above threshold, got %d of %d", 6*5*4, r.Count, r.Total)
	}
	if r.ObjectFraction() != 1 {
		t.Errorf("Expected object fraction 1, got %v", r.ObjectFraction())
	}
}

// TestHemispheres verifies the threshold and mean for a two-valued volume
func TestHemispheres(t *testing.T) {
	a, b := 10.0, 0.5
	nx, ny, nz := 8, 4, 3
	v := createTestVolume(t, nx, ny, nz, func(x, y, z int) float64 {
		if x < nx/2 {
			return a
		}
		return b
	})

	r, err := newEstimator(t, DefaultParams()).Estimate(v)
	if err != nil {
		t.Fatalf("Estimate failed: %v", err)
	}
	if want := (a + b) / 16; r.Threshold != want {
		t.Errorf("Expected threshold %v, got %v", want, r.Threshold)
	}
	if r.Mean != a {
		t.Errorf("Expected mean %v, got %v", a, r.Mean)
	}
	if r.Count != nx*ny*nz/2 {
		t.Errorf("Expected %d object voxels, got %d", nx*ny*nz/2, r.Count)
	}
}

// TestStrictThreshold verifies that voxels equal to the threshold are background
func TestStrictThreshold(t *testing.T) {
	// 7 voxels of 0 and one of 8: sum 8, threshold 8/(8*8) = 0.125
	v := createTestVolume(t, 2, 2, 2, func(x, y, z int) float64 {
		if x == 0 && y == 0 && z == 0 {
			return 8
		}
		return 0
	})
	r, err := newEstimator(t, DefaultParams()).Estimate(v)
	if err != nil {
		t.Fatalf("Estimate failed: %v", err)
	}
	if r.Threshold != 0.125 || r.Count != 1 || r.Mean != 8 {
		t.Errorf("Expected threshold 0.125, 1 voxel, mean 8; got %v, %d, %v", r.Threshold, r.Count, r.Mean)
	}

	// 4 voxels: 1, 1, 2, 60. Sum 64, divisor 16 gives threshold exactly 1.
	edge := createTestVolume(t, 4, 1, 1, func(x, y, z int) float64 {
		return []float64{1, 1, 2, 60}[x]
	})
	r, err = newEstimator(t, Params{ThresholdDivisor: 16}).Estimate(edge)
	if err != nil {
		t.Fatalf("Estimate failed: %v", err)
	}
	if r.Threshold != 1 {
		t.Fatalf("Expected threshold 1, got %v", r.Threshold)
	}
	if r.Count != 2 || r.Mean != 31 {
		t.Errorf("Expected voxels at the threshold to be excluded, got %d voxels and mean %v", r.Count, r.Mean)
	}
}

// TestScaling verifies that scaling every voxel scales the result
func TestScaling(t *testing.T) {
	nx, ny, nz := 7, 6, 5
	pattern := func(x, y, z int) float64 {
		return float64((x*7+y*3+z*11)%13) + 0.5
	}
	base := createTestVolume(t, nx, ny, nz, pattern)

	c := 4.0
	data := append([]float64(nil), base.Data()...)
	floats.Scale(c, data)
	scaled, err := volmap.NewArrayVolume(data, nx, ny, nz)
	if err != nil {
		t.Fatalf("Failed to create scaled volume: %v", err)
	}

	e := newEstimator(t, DefaultParams())
	r1, err := e.Estimate(base)
	if err != nil {
		t.Fatalf("Estimate failed: %v", err)
	}
	r2, err := e.Estimate(scaled)
	if err != nil {
		t.Fatalf("Estimate failed: %v", err)
	}
	if r2.Mean != c*r1.Mean {
		t.Errorf("Expected scaled mean %v, got %v", c*r1.Mean, r2.Mean)
	}
	if r2.Count != r1.Count {
		t.Errorf("Expected the same partition, got %d and %d voxels", r1.Count, r2.Count)
	}
}

// TestAgainstReference compares the estimate with a direct computation
func TestAgainstReference(t *testing.T) {
	nx, ny, nz := 9, 8, 6
	v := createTestVolume(t, nx, ny, nz, func(x, y, z int) float64 {
		dx, dy, dz := float64(x)-4, float64(y)-3.5, float64(z)-2.5
		if dx*dx+dy*dy+dz*dz < 9 {
			return 100 + float64(x+y+z)
		}
		return float64((x + y) % 3)
	})

	r, err := newEstimator(t, DefaultParams()).Estimate(v)
	if err != nil {
		t.Fatalf("Estimate failed: %v", err)
	}

	data := v.Data()
	threshold := stat.Mean(data, nil) / 8
	var object []float64
	for _, val := range data {
		if val > threshold {
			object = append(object, val)
		}
	}
	want := stat.Mean(object, nil)
	if math.Abs(r.Mean-want) > 1e-9*want {
		t.Errorf("Expected mean %v, got %v", want, r.Mean)
	}
	if r.Count != len(object) {
		t.Errorf("Expected %d object voxels, got %d", len(object), r.Count)
	}
}

// TestIdempotent verifies that repeated calls agree exactly
func TestIdempotent(t *testing.T) {
	v := createTestVolume(t, 5, 5, 5, func(x, y, z int) float64 {
		return math.Sin(float64(x*y+z)) + 1.1
	})
	e := newEstimator(t, DefaultParams())
	r1, err := e.Estimate(v)
	if err != nil {
		t.Fatalf("Estimate failed: %v", err)
	}
	r2, err := e.Estimate(v)
	if err != nil {
		t.Fatalf("Estimate failed: %v", err)
	}
	if r1 != r2 {
		t.Errorf("Expected identical results, got %+v and %+v", r1, r2)
	}
}

// TestSingleSlice verifies that a one-slice volume still makes two passes
func TestSingleSlice(t *testing.T) {
	spy := &spyVolume{Volume: createTestVolume(t, 4, 4, 1, func(x, y, z int) float64 {
		return float64(x + 1)
	})}
	r, err := newEstimator(t, DefaultParams()).Estimate(spy)
	if err != nil {
		t.Fatalf("Estimate failed: %v", err)
	}
	if r.Mean != 2.5 {
		t.Errorf("Expected mean 2.5, got %v", r.Mean)
	}
	if len(spy.transforms) != 2 {
		t.Errorf("Expected 2 slice reads, got %d", len(spy.transforms))
	}
}

// TestDegenerateVolume verifies that an all-zero volume is flagged
func TestDegenerateVolume(t *testing.T) {
	v := createTestVolume(t, 3, 3, 3, func(x, y, z int) float64 { return 0 })

	r, err := newEstimator(t, DefaultParams()).Estimate(v)
	if !errors.Is(err, ErrDegenerate) {
		t.Fatalf("Expected ErrDegenerate, got %v", err)
	}
	if !math.IsNaN(r.Mean) {
		t.Errorf("Expected NaN mean, got %v", r.Mean)
	}
	if r.Count != 0 || r.Total != 27 {
		t.Errorf("Expected 0 of 27 voxels, got %d of %d", r.Count, r.Total)
	}

	if _, err := Estimate(v); !errors.Is(err, ErrDegenerate) {
		t.Errorf("Expected ErrDegenerate from Estimate, got %v", err)
	}
}

// TestPassStructure verifies the number and shape of slice extractions
func TestPassStructure(t *testing.T) {
	nx, ny, nz := 3, 2, 4
	pattern := func(x, y, z int) float64 { return float64(x + y + z + 1) }

	testCases := []struct {
		name      string
		budget    int64
		wantReads int
	}{
		{"re-read", 0, 2 * nz},
		{"budget too small", int64(nx*ny*nz*8 - 1), 2 * nz},
		{"cached", int64(nx * ny * nz * 8), nz},
	}

	var means []float64
	for _, tc := range testCases {
		spy := &spyVolume{Volume: createTestVolume(t, nx, ny, nz, pattern)}
		r, err := newEstimator(t, Params{CacheBudget: tc.budget}).Estimate(spy)
		if err != nil {
			t.Fatalf("%s: Estimate failed: %v", tc.name, err)
		}
		means = append(means, r.Mean)

		if len(spy.transforms) != tc.wantReads {
			t.Errorf("%s: expected %d slice reads, got %d", tc.name, tc.wantReads, len(spy.transforms))
		}
		for i, m := range spy.transforms {
			want := volmap.SliceTransform(i % nz)
			if !mat.Equal(m, want) {
				t.Errorf("%s: read %d used transform %v, want %v", tc.name, i, mat.Formatted(m), mat.Formatted(want))
			}
		}
	}

	for i := 1; i < len(means); i++ {
		if means[i] != means[0] {
			t.Errorf("Expected identical means across cache settings, got %v", means)
		}
	}
}

// TestSliceError verifies that read failures abort the estimate
func TestSliceError(t *testing.T) {
	for _, fail := range []int{1, 3} {
		spy := &spyVolume{
			Volume: createTestVolume(t, 2, 2, 2, func(x, y, z int) float64 { return 1 }),
			fail:   fail,
		}
		if _, err := newEstimator(t, DefaultParams()).Estimate(spy); err == nil {
			t.Errorf("Expected error when read %d fails", fail)
		}
	}
}

// TestInvalidVolume verifies rejection of nil and empty volumes
func TestInvalidVolume(t *testing.T) {
	e := newEstimator(t, DefaultParams())
	if _, err := e.Estimate(nil); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("Expected ErrInvalidInput for nil volume, got %v", err)
	}
	if _, err := e.Estimate(emptyVolume{}); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("Expected ErrInvalidInput for empty volume, got %v", err)
	}
	var mapped *volmap.MappedVolume
	if _, err := e.Estimate(mapped); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("Expected ErrInvalidInput for nil mapped volume, got %v", err)
	}
	if _, err := e.Estimate(hugeVolume{}); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("Expected ErrInvalidInput for overflowing dims, got %v", err)
	}
}

type emptyVolume struct{}

func (emptyVolume) Dimensions() (int, int, int) { return 4, 4, 0 }

func (emptyVolume) Slice(mat.Matrix, []float64, int, int) error { return nil }

type hugeVolume struct{ emptyVolume }

func (hugeVolume) Dimensions() (int, int, int) { return math.MaxInt, 2, 1 }

// TestNewEstimatorParams verifies parameter defaults and validation
func TestNewEstimatorParams(t *testing.T) {
	e, err := NewEstimator(Params{})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if e.params.ThresholdDivisor != DefaultThresholdDivisor {
		t.Errorf("Expected default divisor %v, got %v", DefaultThresholdDivisor, e.params.ThresholdDivisor)
	}

	for _, p := range []Params{
		{ThresholdDivisor: -1},
		{ThresholdDivisor: math.Inf(1)},
		{CacheBudget: -1},
	} {
		if _, err := NewEstimator(p); err == nil {
			t.Errorf("Expected error for params %+v", p)
		}
	}
}
