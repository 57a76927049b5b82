package visualization

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"

	"gonum.org/v1/gonum/mat"

	"spmglobal/pkg/volmap"
)

// Viewer renders planes of a volume and the object mask implied by a
// global-mean threshold.
type Viewer struct {
	vol volmap.Volume

	nx, ny, nz int

	// threshold separates object (above) from background
	threshold float64

	// window is the intensity displayed as full white
	window float64
}

// NewViewer creates a viewer. A non-positive window displays intensities
// in the 0-1 range.
func NewViewer(vol volmap.Volume, threshold, window float64) *Viewer {
	if window <= 0 {
		window = 1
	}
	nx, ny, nz := vol.Dimensions()
	return &Viewer{
		vol:       vol,
		nx:        nx,
		ny:        ny,
		nz:        nz,
		threshold: threshold,
		window:    window,
	}
}

// axisPlane returns the transform and plane size for a plane of constant
// coordinate along axis.
func (v *Viewer) axisPlane(axis string, position int) (*mat.Dense, int, int, error) {
	if position < 0 {
		return nil, 0, 0, fmt.Errorf("position must be non-negative")
	}

	p := float64(position)
	switch axis {
	case "x", "X":
		// Output (i, j) reads voxel (position, i, j)
		if position >= v.nx {
			return nil, 0, 0, fmt.Errorf("position %d exceeds width %d", position, v.nx)
		}
		return mat.NewDense(4, 4, []float64{
			0, 0, 0, p,
			1, 0, 0, 0,
			0, 1, 0, 0,
			0, 0, 0, 1,
		}), v.ny, v.nz, nil

	case "y", "Y":
		// Output (i, j) reads voxel (i, position, j)
		if position >= v.ny {
			return nil, 0, 0, fmt.Errorf("position %d exceeds height %d", position, v.ny)
		}
		return mat.NewDense(4, 4, []float64{
			1, 0, 0, 0,
			0, 0, 0, p,
			0, 1, 0, 0,
			0, 0, 0, 1,
		}), v.nx, v.nz, nil

	case "z", "Z":
		if position >= v.nz {
			return nil, 0, 0, fmt.Errorf("position %d exceeds depth %d", position, v.nz)
		}
		return volmap.SliceTransform(position), v.nx, v.ny, nil
	}

	return nil, 0, 0, fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
}

func (v *Viewer) plane(axis string, position int) ([]float64, int, int, error) {
	m, w, h, err := v.axisPlane(axis, position)
	if err != nil {
		return nil, 0, 0, err
	}
	dat := make([]float64, w*h)
	if err := v.vol.Slice(m, dat, w, h); err != nil {
		return nil, 0, 0, err
	}
	return dat, w, h, nil
}

// ExtractSlice extracts a 2D grayscale plane along the specified axis
func (v *Viewer) ExtractSlice(axis string, position int) (image.Image, error) {
	dat, w, h, err := v.plane(axis, position)
	if err != nil {
		return nil, err
	}

	img := image.NewGray16(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			value := uint16(math.Max(0, math.Min(65535, dat[y*w+x]/v.window*65535)))
			img.SetGray16(x, y, color.Gray16{Y: value})
		}
	}
	return img, nil
}

// ExtractMask returns the object mask of a plane: white where the voxel is
// strictly above the threshold, black elsewhere.
func (v *Viewer) ExtractMask(axis string, position int) (*image.Gray, error) {
	dat, w, h, err := v.plane(axis, position)
	if err != nil {
		return nil, err
	}

	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if dat[y*w+x] > v.threshold {
				img.SetGray(x, y, color.Gray{Y: 255})
			}
		}
	}
	return img, nil
}

// SaveImage saves an image as PNG
func SaveImage(img image.Image, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	if err := png.Encode(file, img); err != nil {
		return err
	}
	return file.Close()
}

// SaveMaskSequence writes the mask of every plane along axis to outputDir
// and returns the number of files written.
func (v *Viewer) SaveMaskSequence(axis string, outputDir string) (int, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return 0, err
	}

	var maxPos int
	switch axis {
	case "x", "X":
		maxPos = v.nx
	case "y", "Y":
		maxPos = v.ny
	case "z", "Z":
		maxPos = v.nz
	default:
		return 0, fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
	}

	for pos := 0; pos < maxPos; pos++ {
		img, err := v.ExtractMask(axis, pos)
		if err != nil {
			return pos, err
		}

		filename := filepath.Join(outputDir, fmt.Sprintf("mask_%s_%03d.png", axis, pos))
		if err := SaveImage(img, filename); err != nil {
			return pos, err
		}
	}

	return maxPos, nil
}
