package volmap

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/exp/mmap"
	"gonum.org/v1/gonum/mat"
	"gopkg.in/yaml.v3"

	"spmglobal/internal/models"
)

// MappedVolume reads voxels from a memory-mapped raw file. It is safe for
// concurrent reads.
type MappedVolume struct {
	hdr   models.Header
	d     models.Dims
	r     *mmap.ReaderAt
	order binary.ByteOrder
	size  int

	scale, intercept float64
}

// ReadHeader parses and validates a YAML header file.
func ReadHeader(headerPath string) (*models.Header, error) {
	data, err := os.ReadFile(headerPath)
	if err != nil {
		return nil, fmt.Errorf("error reading header: %w", err)
	}
	hdr := &models.Header{}
	if err := yaml.Unmarshal(data, hdr); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrBadHeader, headerPath, err)
	}
	if err := hdr.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrBadHeader, headerPath, err)
	}
	return hdr, nil
}

// Open maps the raw file named by the header at headerPath.
func Open(headerPath string) (*MappedVolume, error) {
	hdr, err := ReadHeader(headerPath)
	if err != nil {
		return nil, err
	}

	dataPath := hdr.Data
	if !filepath.IsAbs(dataPath) {
		dataPath = filepath.Join(filepath.Dir(headerPath), dataPath)
	}
	r, err := mmap.Open(dataPath)
	if err != nil {
		return nil, fmt.Errorf("error mapping %s: %w", dataPath, err)
	}

	v := &MappedVolume{
		hdr:       *hdr,
		d:         hdr.Dimensions(),
		r:         r,
		order:     hdr.ByteOrder.Binary(),
		size:      hdr.DataType.Size(),
		scale:     hdr.EffectiveScale(),
		intercept: hdr.Intercept,
	}
	need := hdr.Offset + int64(v.d.Len())*int64(v.size)
	if int64(r.Len()) < need {
		r.Close()
		return nil, fmt.Errorf("%w: %s holds %d bytes, need %d", ErrShortData, dataPath, r.Len(), need)
	}
	return v, nil
}

// Header returns a copy of the volume header.
func (v *MappedVolume) Header() models.Header {
	return v.hdr
}

// Dimensions returns nx, ny, nz.
func (v *MappedVolume) Dimensions() (int, int, int) {
	return v.d.NX, v.d.NY, v.d.NZ
}

// Slice resamples one plane through m.
func (v *MappedVolume) Slice(m mat.Matrix, dst []float64, nx, ny int) error {
	return sample(v, m, dst, nx, ny)
}

// Close unmaps the data file.
func (v *MappedVolume) Close() error {
	return v.r.Close()
}

func (v *MappedVolume) dims() models.Dims {
	return v.d
}

func (v *MappedVolume) voxel(x, y, z int) (float64, error) {
	var buf [8]byte
	idx := int64(z)*int64(v.d.SliceLen()) + int64(y)*int64(v.d.NX) + int64(x)
	b := buf[:v.size]
	if _, err := v.r.ReadAt(b, v.hdr.Offset+idx*int64(v.size)); err != nil {
		return 0, fmt.Errorf("error reading voxel (%d,%d,%d): %w", x, y, z, err)
	}
	return v.decode(b), nil
}

func (v *MappedVolume) plane(z int, dst []float64) error {
	n := v.d.SliceLen()
	buf := make([]byte, n*v.size)
	off := v.hdr.Offset + int64(z)*int64(len(buf))
	if _, err := v.r.ReadAt(buf, off); err != nil {
		return fmt.Errorf("error reading plane %d: %w", z, err)
	}
	for i := 0; i < n; i++ {
		dst[i] = v.decode(buf[i*v.size : (i+1)*v.size])
	}
	return nil
}

func (v *MappedVolume) decode(b []byte) float64 {
	var raw float64
	switch v.hdr.DataType {
	case models.Uint8:
		raw = float64(b[0])
	case models.Int16:
		raw = float64(int16(v.order.Uint16(b)))
	case models.Uint16:
		raw = float64(v.order.Uint16(b))
	case models.Int32:
		raw = float64(int32(v.order.Uint32(b)))
	case models.Float32:
		raw = float64(math.Float32frombits(v.order.Uint32(b)))
	case models.Float64:
		raw = math.Float64frombits(v.order.Uint64(b))
	}
	return raw*v.scale + v.intercept
}

// Create writes data as a raw file plus a YAML header at headerPath. If
// hdr.Data is empty the raw file is named after the header with a .raw
// extension. Integer datatypes are rounded after removing scale and
// intercept, then clamped to the range of the datatype. NaN is written as 0.
func Create(headerPath string, hdr models.Header, data []float64) error {
	if hdr.Data == "" {
		base := strings.TrimSuffix(filepath.Base(headerPath), filepath.Ext(headerPath))
		hdr.Data = base + ".raw"
	}
	if err := hdr.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrBadHeader, err)
	}
	d := hdr.Dimensions()
	if len(data) != d.Len() {
		return fmt.Errorf("%w: %d values for dims %s", ErrDimensionMismatch, len(data), d)
	}

	dir := filepath.Dir(headerPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating volume directory: %w", err)
	}

	dataPath := hdr.Data
	if !filepath.IsAbs(dataPath) {
		dataPath = filepath.Join(dir, dataPath)
	}
	if err := writeRaw(dataPath, &hdr, data); err != nil {
		return err
	}

	out, err := yaml.Marshal(&hdr)
	if err != nil {
		return fmt.Errorf("error marshaling header: %w", err)
	}
	if err := os.WriteFile(headerPath, out, 0644); err != nil {
		return fmt.Errorf("error writing header: %w", err)
	}
	return nil
}

func writeRaw(path string, hdr *models.Header, data []float64) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("error creating data file: %w", err)
	}
	defer file.Close()

	w := bufio.NewWriter(file)
	if hdr.Offset > 0 {
		if _, err := w.Write(make([]byte, hdr.Offset)); err != nil {
			return fmt.Errorf("error writing data offset: %w", err)
		}
	}

	order := hdr.ByteOrder.Binary()
	scale := hdr.EffectiveScale()
	buf := make([]byte, hdr.DataType.Size())
	for _, val := range data {
		raw := (val - hdr.Intercept) / scale
		switch hdr.DataType {
		case models.Uint8:
			buf[0] = uint8(clampRound(raw, 0, math.MaxUint8))
		case models.Int16:
			order.PutUint16(buf, uint16(int16(clampRound(raw, math.MinInt16, math.MaxInt16))))
		case models.Uint16:
			order.PutUint16(buf, uint16(clampRound(raw, 0, math.MaxUint16)))
		case models.Int32:
			order.PutUint32(buf, uint32(int32(clampRound(raw, math.MinInt32, math.MaxInt32))))
		case models.Float32:
			order.PutUint32(buf, math.Float32bits(float32(raw)))
		case models.Float64:
			order.PutUint64(buf, math.Float64bits(raw))
		}
		if _, err := w.Write(buf); err != nil {
			return fmt.Errorf("error writing voxel data: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("error writing voxel data: %w", err)
	}
	return file.Close()
}

// clampRound rounds raw to the nearest integer in [lo, hi].
func clampRound(raw, lo, hi float64) float64 {
	if math.IsNaN(raw) {
		return 0
	}
	return math.Max(lo, math.Min(hi, math.Round(raw)))
}
