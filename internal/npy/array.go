// Package npy reads and writes numeric arrays in the NumPy .npy container.
//
// Arrays are held in memory as little-endian, row-major (C order) element
// bytes together with their dtype and shape, so a decoded array can be
// written back byte-for-byte.
package npy

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// DType identifies the element type of an array.
type DType string

const (
	Bool    DType = "b1"
	Int8    DType = "i1"
	Uint8   DType = "u1"
	Int16   DType = "i2"
	Uint16  DType = "u2"
	Int32   DType = "i4"
	Uint32  DType = "u4"
	Int64   DType = "i8"
	Uint64  DType = "u8"
	Float32 DType = "f4"
	Float64 DType = "f8"
)

var dtypeSizes = map[DType]int{
	Bool: 1, Int8: 1, Uint8: 1,
	Int16: 2, Uint16: 2,
	Int32: 4, Uint32: 4, Float32: 4,
	Int64: 8, Uint64: 8, Float64: 8,
}

// ErrUnsupportedDType is returned for dtypes outside the supported set.
var ErrUnsupportedDType = errors.New("npy: unsupported dtype")

// ErrDTypeMismatch is returned by typed accessors called on the wrong dtype.
var ErrDTypeMismatch = errors.New("npy: dtype mismatch")

// Size returns the element size in bytes, or 0 for an unknown dtype.
func (d DType) Size() int {
	return dtypeSizes[d]
}

// Valid reports whether d is a supported dtype.
func (d DType) Valid() bool {
	return d.Size() > 0
}

// descr renders the dtype as a little-endian numpy type string.
func (d DType) descr() string {
	if d.Size() == 1 {
		return "|" + string(d)
	}
	return "<" + string(d)
}

// Array is an n-dimensional array stored in C order, little-endian.
type Array struct {
	DType DType
	Shape []int
	Data  []byte
}

// New validates the shape against the data length and returns an array that
// owns data.
func New(dtype DType, shape []int, data []byte) (*Array, error) {
	if !dtype.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDType, dtype)
	}
	n, err := elementCount(shape)
	if err != nil {
		return nil, err
	}
	if want := n * dtype.Size(); len(data) != want {
		return nil, fmt.Errorf("npy: shape %v of %s needs %d bytes, got %d", shape, dtype, want, len(data))
	}
	return &Array{DType: dtype, Shape: append([]int(nil), shape...), Data: data}, nil
}

// NewBool builds a bool array from values in row-major order.
func NewBool(shape []int, values []bool) (*Array, error) {
	data := make([]byte, len(values))
	for i, v := range values {
		if v {
			data[i] = 1
		}
	}
	return New(Bool, shape, data)
}

// NewUint8 builds a uint8 array from values in row-major order.
func NewUint8(shape []int, values []uint8) (*Array, error) {
	return New(Uint8, shape, append([]byte(nil), values...))
}

// NewInt32 builds an int32 array from values in row-major order.
func NewInt32(shape []int, values []int32) (*Array, error) {
	return New(Int32, shape, encodeLE(values))
}

// NewFloat32 builds a float32 array from values in row-major order.
func NewFloat32(shape []int, values []float32) (*Array, error) {
	return New(Float32, shape, encodeLE(values))
}

// NewFloat64 builds a float64 array from values in row-major order.
func NewFloat64(shape []int, values []float64) (*Array, error) {
	return New(Float64, shape, encodeLE(values))
}

func encodeLE(values any) []byte {
	var buf bytes.Buffer
	// Writes of fixed-size slices into a bytes.Buffer cannot fail.
	_ = binary.Write(&buf, binary.LittleEndian, values)
	return buf.Bytes()
}

// Len returns the number of elements.
func (a *Array) Len() int {
	n := 1
	for _, d := range a.Shape {
		n *= d
	}
	return n
}

// Bools returns the elements of a bool array.
func (a *Array) Bools() ([]bool, error) {
	if a.DType != Bool {
		return nil, fmt.Errorf("%w: have %s, want %s", ErrDTypeMismatch, a.DType, Bool)
	}
	out := make([]bool, len(a.Data))
	for i, b := range a.Data {
		out[i] = b != 0
	}
	return out, nil
}

// Uint8s returns a copy of the elements of a uint8 array.
func (a *Array) Uint8s() ([]uint8, error) {
	if a.DType != Uint8 {
		return nil, fmt.Errorf("%w: have %s, want %s", ErrDTypeMismatch, a.DType, Uint8)
	}
	return append([]uint8(nil), a.Data...), nil
}

// Float32s returns the elements of a float32 array.
func (a *Array) Float32s() ([]float32, error) {
	if a.DType != Float32 {
		return nil, fmt.Errorf("%w: have %s, want %s", ErrDTypeMismatch, a.DType, Float32)
	}
	out := make([]float32, a.Len())
	if err := binary.Read(bytes.NewReader(a.Data), binary.LittleEndian, out); err != nil {
		return nil, err
	}
	return out, nil
}

// Float64At returns the element at flat index i converted to float64,
// whatever the dtype.
func (a *Array) Float64At(i int) float64 {
	size := a.DType.Size()
	b := a.Data[i*size : (i+1)*size]
	switch a.DType {
	case Bool, Uint8:
		return float64(b[0])
	case Int8:
		return float64(int8(b[0]))
	case Int16:
		return float64(int16(binary.LittleEndian.Uint16(b)))
	case Uint16:
		return float64(binary.LittleEndian.Uint16(b))
	case Int32:
		return float64(int32(binary.LittleEndian.Uint32(b)))
	case Uint32:
		return float64(binary.LittleEndian.Uint32(b))
	case Int64:
		return float64(int64(binary.LittleEndian.Uint64(b)))
	case Uint64:
		return float64(binary.LittleEndian.Uint64(b))
	case Float32:
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(b)))
	case Float64:
		return math.Float64frombits(binary.LittleEndian.Uint64(b))
	}
	return math.NaN()
}

// Equal reports whether both arrays have the same dtype, shape and elements.
func (a *Array) Equal(b *Array) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.DType != b.DType || len(a.Shape) != len(b.Shape) {
		return false
	}
	for i := range a.Shape {
		if a.Shape[i] != b.Shape[i] {
			return false
		}
	}
	return bytes.Equal(a.Data, b.Data)
}

func elementCount(shape []int) (int, error) {
	n := 1
	for _, d := range shape {
		if d < 0 {
			return 0, fmt.Errorf("npy: negative dimension in shape %v", shape)
		}
		if d != 0 && n > math.MaxInt32/d {
			return 0, fmt.Errorf("npy: shape %v too large", shape)
		}
		n *= d
	}
	return n, nil
}
