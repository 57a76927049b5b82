// Package volmap provides read access to 3D voxel volumes, one resampled
// plane at a time. Volumes may live in memory, in a memory-mapped raw file
// described by a YAML header, or in a directory of 2D slice images.
package volmap

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"spmglobal/internal/models"
)

var (
	// ErrBadHeader is returned when a header cannot be parsed or validated.
	ErrBadHeader = errors.New("volmap: bad header")

	// ErrShortData is returned when a raw file holds fewer bytes than its
	// header promises.
	ErrShortData = errors.New("volmap: data file too short")

	// ErrDimensionMismatch is returned when buffers, transforms or data do
	// not agree with the volume dimensions.
	ErrDimensionMismatch = errors.New("volmap: dimension mismatch")
)

// Volume is a read-only 3D intensity volume.
//
// Slice fills dst[:nx*ny] with the plane obtained by mapping output pixel
// (i, j) through the 4x4 affine transform m to voxel coordinates
// m*[i j 0 1]. Coordinates are rounded to the nearest voxel and samples that
// fall outside the volume read as zero.
type Volume interface {
	Dimensions() (nx, ny, nz int)
	Slice(m mat.Matrix, dst []float64, nx, ny int) error
}

// SliceTransform returns the identity transform translated to plane z.
func SliceTransform(z int) *mat.Dense {
	m := mat.NewDense(4, 4, nil)
	for i := 0; i < 4; i++ {
		m.Set(i, i, 1)
	}
	m.Set(2, 3, float64(z))
	return m
}

// Dims returns the dimensions of v as a models.Dims value.
func Dims(v Volume) models.Dims {
	nx, ny, nz := v.Dimensions()
	return models.Dims{NX: nx, NY: ny, NZ: nz}
}

// voxelSource is implemented by the concrete volumes so that the
// resampling logic lives in one place.
type voxelSource interface {
	dims() models.Dims
	voxel(x, y, z int) (float64, error)
	plane(z int, dst []float64) error
}

// sample implements Volume.Slice for a voxelSource.
func sample(src voxelSource, m mat.Matrix, dst []float64, nx, ny int) error {
	if m == nil {
		return fmt.Errorf("%w: nil transform", ErrDimensionMismatch)
	}
	if r, c := m.Dims(); r != 4 || c != 4 {
		return fmt.Errorf("%w: transform is %dx%d, want 4x4", ErrDimensionMismatch, r, c)
	}
	if nx < 1 || ny < 1 {
		return fmt.Errorf("%w: plane size %dx%d", ErrDimensionMismatch, nx, ny)
	}
	n := nx * ny
	if len(dst) < n {
		return fmt.Errorf("%w: buffer holds %d values, need %d", ErrDimensionMismatch, len(dst), n)
	}
	dst = dst[:n]

	d := src.dims()
	if z, ok := planeIndex(m); ok && nx == d.NX && ny == d.NY {
		if !(z >= 0 && z < float64(d.NZ)) {
			clear(dst)
			return nil
		}
		return src.plane(int(z), dst)
	}

	var (
		m00, m01, m03 = m.At(0, 0), m.At(0, 1), m.At(0, 3)
		m10, m11, m13 = m.At(1, 0), m.At(1, 1), m.At(1, 3)
		m20, m21, m23 = m.At(2, 0), m.At(2, 1), m.At(2, 3)
	)
	for j := 0; j < ny; j++ {
		fj := float64(j)
		for i := 0; i < nx; i++ {
			fi := float64(i)
			x, okx := voxelIndex(m00*fi+m01*fj+m03, d.NX)
			y, oky := voxelIndex(m10*fi+m11*fj+m13, d.NY)
			z, okz := voxelIndex(m20*fi+m21*fj+m23, d.NZ)
			if !okx || !oky || !okz {
				dst[j*nx+i] = 0
				continue
			}
			v, err := src.voxel(x, y, z)
			if err != nil {
				return err
			}
			dst[j*nx+i] = v
		}
	}
	return nil
}

// voxelIndex rounds a sampled coordinate and reports whether it falls
// inside [0, n). NaN and infinite coordinates are outside.
func voxelIndex(f float64, n int) (int, bool) {
	f = math.Round(f)
	if !(f >= 0 && f < float64(n)) {
		return 0, false
	}
	return int(f), true
}

// planeIndex reports whether m is an identity transform with only an
// integral z-translation, and returns that translation. The translation is
// left as a float so the caller can range check it before converting.
func planeIndex(m mat.Matrix) (float64, bool) {
	for r := 0; r < 4; r++ {
		for c := 0; c < 4; c++ {
			if r == 2 && c == 3 {
				continue
			}
			want := 0.0
			if r == c {
				want = 1
			}
			if m.At(r, c) != want {
				return 0, false
			}
		}
	}
	z := m.At(2, 3)
	if math.IsNaN(z) || z != math.Trunc(z) {
		return 0, false
	}
	return z, true
}
