package volmap

import (
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// LoadSliceStack loads a directory of 2D slice images as a volume. Files
// are ordered by the number embedded in their names, and each pixel's red
// channel is scaled to the 0-1 range. All slices must share dimensions.
func LoadSliceStack(dir string) (*ArrayVolume, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var imageFiles []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(entry.Name())) {
		case ".jpg", ".jpeg", ".png":
			imageFiles = append(imageFiles, entry.Name())
		}
	}
	if len(imageFiles) == 0 {
		return nil, fmt.Errorf("no slice images found in %s", dir)
	}

	sort.SliceStable(imageFiles, func(i, j int) bool {
		return extractNumber(imageFiles[i]) < extractNumber(imageFiles[j])
	})

	var (
		data          []float64
		width, height int
	)
	for i, filename := range imageFiles {
		img, err := loadImage(filepath.Join(dir, filename))
		if err != nil {
			return nil, fmt.Errorf("failed to load image %s: %w", filename, err)
		}

		bounds := img.Bounds()
		if i == 0 {
			width, height = bounds.Dx(), bounds.Dy()
			data = make([]float64, 0, width*height*len(imageFiles))
		} else if bounds.Dx() != width || bounds.Dy() != height {
			return nil, fmt.Errorf("%w: slice %s is %dx%d, want %dx%d",
				ErrDimensionMismatch, filename, bounds.Dx(), bounds.Dy(), width, height)
		}
		data = append(data, imageToFloat(img)...)
	}

	return NewArrayVolume(data, width, height, len(imageFiles))
}

// extractNumber extracts the numeric part from a filename
func extractNumber(filename string) int {
	base := filepath.Base(filename)
	var digits strings.Builder
	for _, c := range base {
		if c >= '0' && c <= '9' {
			digits.WriteRune(c)
		}
	}

	if digits.Len() > 0 {
		num, err := strconv.Atoi(digits.String())
		if err == nil {
			return num
		}
	}
	return 0
}

func loadImage(path string) (image.Image, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	if strings.EqualFold(filepath.Ext(path), ".png") {
		return png.Decode(file)
	}
	return jpeg.Decode(file)
}

// imageToFloat converts a single image to a float array
func imageToFloat(img image.Image) []float64 {
	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()
	result := make([]float64, width*height)

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			r, _, _, _ := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			// Convert 16-bit color to float64 (0-1 range)
			result[y*width+x] = float64(r) / 65535.0
		}
	}

	return result
}
