package volmap

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"spmglobal/internal/models"
)

// ArrayVolume is an in-memory volume stored as a 1D array in row-major
// order: index = z*nx*ny + y*nx + x.
type ArrayVolume struct {
	data []float64
	d    models.Dims
}

// NewArrayVolume wraps data without copying it.
func NewArrayVolume(data []float64, nx, ny, nz int) (*ArrayVolume, error) {
	d := models.Dims{NX: nx, NY: ny, NZ: nz}
	if !d.Valid() {
		return nil, fmt.Errorf("%w: dims %s", ErrDimensionMismatch, d)
	}
	if len(data) != d.Len() {
		return nil, fmt.Errorf("%w: %d values for dims %s", ErrDimensionMismatch, len(data), d)
	}
	return &ArrayVolume{data: data, d: d}, nil
}

// Dimensions returns nx, ny, nz.
func (v *ArrayVolume) Dimensions() (int, int, int) {
	return v.d.NX, v.d.NY, v.d.NZ
}

// Slice resamples one plane through m.
func (v *ArrayVolume) Slice(m mat.Matrix, dst []float64, nx, ny int) error {
	return sample(v, m, dst, nx, ny)
}

// Data returns the backing array.
func (v *ArrayVolume) Data() []float64 {
	return v.data
}

func (v *ArrayVolume) dims() models.Dims {
	return v.d
}

func (v *ArrayVolume) voxel(x, y, z int) (float64, error) {
	return v.data[z*v.d.SliceLen()+y*v.d.NX+x], nil
}

func (v *ArrayVolume) plane(z int, dst []float64) error {
	n := v.d.SliceLen()
	copy(dst, v.data[z*n:(z+1)*n])
	return nil
}
