package models

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Dims holds the voxel dimensions of a volume
type Dims struct {
	NX, NY, NZ int
}

// SliceLen is the number of voxels in one z-plane
func (d Dims) SliceLen() int {
	return d.NX * d.NY
}

// Len is the total number of voxels
func (d Dims) Len() int {
	return d.NX * d.NY * d.NZ
}

// Valid reports whether every dimension is at least one voxel and the
// voxel count fits in an int
func (d Dims) Valid() bool {
	if d.NX < 1 || d.NY < 1 || d.NZ < 1 {
		return false
	}
	return d.NX <= math.MaxInt/d.NY && d.NX*d.NY <= math.MaxInt/d.NZ
}

func (d Dims) String() string {
	return fmt.Sprintf("%dx%dx%d", d.NX, d.NY, d.NZ)
}

// DataType names the on-disk voxel encoding
type DataType string

const (
	Uint8   DataType = "uint8"
	Int16   DataType = "int16"
	Uint16  DataType = "uint16"
	Int32   DataType = "int32"
	Float32 DataType = "float32"
	Float64 DataType = "float64"
)

// Size returns the number of bytes per voxel, or 0 for an unknown type
func (t DataType) Size() int {
	switch t {
	case Uint8:
		return 1
	case Int16, Uint16:
		return 2
	case Int32, Float32:
		return 4
	case Float64:
		return 8
	}
	return 0
}

// ByteOrder names the on-disk byte order
type ByteOrder string

const (
	LittleEndian ByteOrder = "little"
	BigEndian    ByteOrder = "big"
)

// Binary returns the encoding/binary order, defaulting to little endian
func (o ByteOrder) Binary() binary.ByteOrder {
	if o == BigEndian {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

// Header describes a raw voxel file. It is stored as a YAML sidecar next to
// the data it describes.
type Header struct {
	// Dims is [nx, ny, nz]
	Dims [3]int `yaml:"dims"`

	DataType  DataType  `yaml:"datatype"`
	ByteOrder ByteOrder `yaml:"byteOrder,omitempty"`

	// Offset is the number of bytes before the first voxel
	Offset int64 `yaml:"offset,omitempty"`

	// Scale and Intercept map raw values to intensities: raw*Scale + Intercept.
	// A zero Scale is read as 1.
	Scale     float64 `yaml:"scale,omitempty"`
	Intercept float64 `yaml:"intercept,omitempty"`

	// VoxelSize is the physical voxel size in mm
	VoxelSize [3]float64 `yaml:"voxelSize,omitempty"`

	// Data is the raw file path, relative to the header's directory
	Data string `yaml:"data"`
}

// Dimensions returns the header dims as a Dims value
func (h *Header) Dimensions() Dims {
	return Dims{NX: h.Dims[0], NY: h.Dims[1], NZ: h.Dims[2]}
}

// EffectiveScale returns Scale, treating zero as one
func (h *Header) EffectiveScale() float64 {
	if h.Scale == 0 {
		return 1
	}
	return h.Scale
}

// Validate checks that the header describes a readable volume
func (h *Header) Validate() error {
	if !h.Dimensions().Valid() {
		return fmt.Errorf("invalid dims %v", h.Dims)
	}
	if h.DataType.Size() == 0 {
		return fmt.Errorf("unknown datatype %q", h.DataType)
	}
	switch h.ByteOrder {
	case "", LittleEndian, BigEndian:
	default:
		return fmt.Errorf("unknown byte order %q", h.ByteOrder)
	}
	if h.Offset < 0 {
		return fmt.Errorf("negative offset %d", h.Offset)
	}
	if n := int64(h.Dimensions().Len()); n > (math.MaxInt64-h.Offset)/int64(h.DataType.Size()) {
		return fmt.Errorf("dims %v at offset %d exceed the addressable file size", h.Dims, h.Offset)
	}
	if h.Data == "" {
		return fmt.Errorf("no data file named")
	}
	return nil
}
