package visualization

import (
	"fmt"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"spmglobal/pkg/volmap"
)

// createTestViewer builds a viewer over a volume whose value is x+y+z
func createTestViewer(t *testing.T, width, height, depth int, threshold, window float64) *Viewer {
	t.Helper()
	data := make([]float64, width*height*depth)
	for z := 0; z < depth; z++ {
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				data[z*width*height+y*width+x] = float64(x + y + z)
			}
		}
	}
	vol, err := volmap.NewArrayVolume(data, width, height, depth)
	if err != nil {
		t.Fatalf("Failed to create volume: %v", err)
	}
	return NewViewer(vol, threshold, window)
}

// TestExtractSlice verifies plane sizes and intensities along each axis
func TestExtractSlice(t *testing.T) {
	width, height, depth := 4, 3, 2
	viewer := createTestViewer(t, width, height, depth, 0, 8)

	testCases := []struct {
		axis       string
		position   int
		w, h       int
		voxelValue func(i, j int) float64
	}{
		{"z", 1, width, height, func(i, j int) float64 { return float64(i + j + 1) }},
		{"x", 2, height, depth, func(i, j int) float64 { return float64(2 + i + j) }},
		{"Y", 1, width, depth, func(i, j int) float64 { return float64(i + 1 + j) }},
	}

	for _, tc := range testCases {
		img, err := viewer.ExtractSlice(tc.axis, tc.position)
		if err != nil {
			t.Fatalf("Failed to extract %s slice: %v", tc.axis, err)
		}
		b := img.Bounds()
		if b.Dx() != tc.w || b.Dy() != tc.h {
			t.Fatalf("%s slice: expected %dx%d, got %dx%d", tc.axis, tc.w, tc.h, b.Dx(), b.Dy())
		}
		for j := 0; j < tc.h; j++ {
			for i := 0; i < tc.w; i++ {
				want := uint16(tc.voxelValue(i, j) / 8 * 65535)
				got := img.At(i, j).(color.Gray16).Y
				if got != want {
					t.Errorf("%s slice at (%d,%d): expected %d, got %d", tc.axis, i, j, want, got)
				}
			}
		}
	}
}

// TestExtractSliceErrors verifies axis and position validation
func TestExtractSliceErrors(t *testing.T) {
	viewer := createTestViewer(t, 4, 3, 2, 0, 1)

	testCases := []struct {
		axis     string
		position int
	}{
		{"z", -1},
		{"x", 4},
		{"y", 3},
		{"z", 2},
		{"w", 0},
	}

	for _, tc := range testCases {
		if _, err := viewer.ExtractSlice(tc.axis, tc.position); err == nil {
			t.Errorf("Expected error for axis %s position %d", tc.axis, tc.position)
		}
	}
}

// TestExtractMask verifies the strict threshold in the mask
func TestExtractMask(t *testing.T) {
	viewer := createTestViewer(t, 4, 3, 2, 3, 1)

	mask, err := viewer.ExtractMask("z", 0)
	if err != nil {
		t.Fatalf("Failed to extract mask: %v", err)
	}
	for y := 0; y < 3; y++ {
		for x := 0; x < 4; x++ {
			want := uint8(0)
			if x+y > 3 {
				want = 255
			}
			if got := mask.GrayAt(x, y).Y; got != want {
				t.Errorf("Mask at (%d,%d): expected %d, got %d", x, y, want, got)
			}
		}
	}
}

// TestSaveMaskSequence verifies that one PNG is written per plane
func TestSaveMaskSequence(t *testing.T) {
	viewer := createTestViewer(t, 4, 3, 2, 3, 1)
	outputDir := filepath.Join(t.TempDir(), "masks")

	n, err := viewer.SaveMaskSequence("z", outputDir)
	if err != nil {
		t.Fatalf("Failed to save mask sequence: %v", err)
	}
	if n != 2 {
		t.Errorf("Expected 2 masks, got %d", n)
	}

	for z := 0; z < 2; z++ {
		filename := filepath.Join(outputDir, fmt.Sprintf("mask_z_%03d.png", z))
		f, err := os.Open(filename)
		if err != nil {
			t.Fatalf("Expected mask file %s: %v", filename, err)
		}
		img, err := png.Decode(f)
		f.Close()
		if err != nil {
			t.Fatalf("Failed to decode %s: %v", filename, err)
		}
		if b := img.Bounds(); b.Dx() != 4 || b.Dy() != 3 {
			t.Errorf("Mask %d: expected 4x3, got %dx%d", z, b.Dx(), b.Dy())
		}
	}

	if _, err := viewer.SaveMaskSequence("q", outputDir); err == nil {
		t.Error("Expected error for invalid axis")
	}
}
