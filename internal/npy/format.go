package npy

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

const (
	magic          = "\x93NUMPY"
	headerAlign    = 64
	maxHeaderBytes = 1 << 20
)

// ErrFormat is wrapped by every error caused by a malformed container.
var ErrFormat = errors.New("npy: malformed data")

// Marshal returns the .npy encoding of a.
func Marshal(a *Array) ([]byte, error) {
	var buf bytes.Buffer
	if err := Write(&buf, a); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Unmarshal parses a complete .npy payload.
func Unmarshal(data []byte) (*Array, error) {
	r := bytes.NewReader(data)
	a, err := Read(r)
	if err != nil {
		return nil, err
	}
	if r.Len() != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrFormat, r.Len())
	}
	return a, nil
}

// Write encodes a as format version 1.0, or 2.0 when the header does not fit
// in a 16-bit length.
func Write(w io.Writer, a *Array) error {
	if a == nil {
		return errors.New("npy: nil array")
	}
	if _, err := New(a.DType, a.Shape, a.Data); err != nil {
		return err
	}

	dict := fmt.Sprintf("{'descr': '%s', 'fortran_order': False, 'shape': %s, }", a.DType.descr(), shapeTuple(a.Shape))

	major, lenSize := byte(1), 2
	if len(dict)+1+headerAlign > 0xffff {
		major, lenSize = 2, 4
	}
	preamble := len(magic) + 2 + lenSize
	pad := (headerAlign - (preamble+len(dict)+1)%headerAlign) % headerAlign
	header := dict + strings.Repeat(" ", pad) + "\n"

	bw := bufio.NewWriter(w)
	bw.WriteString(magic)
	bw.WriteByte(major)
	bw.WriteByte(0)
	if lenSize == 2 {
		binary.Write(bw, binary.LittleEndian, uint16(len(header)))
	} else {
		binary.Write(bw, binary.LittleEndian, uint32(len(header)))
	}
	bw.WriteString(header)
	bw.Write(a.Data)
	return bw.Flush()
}

// Read decodes one array from r. Big-endian and Fortran-ordered inputs are
// normalized to little-endian C order.
func Read(r io.Reader) (*Array, error) {
	var pre [8]byte
	if _, err := io.ReadFull(r, pre[:]); err != nil {
		return nil, fmt.Errorf("%w: short preamble: %v", ErrFormat, err)
	}
	if string(pre[:6]) != magic {
		return nil, fmt.Errorf("%w: bad magic", ErrFormat)
	}

	var headerLen int
	switch major := pre[6]; major {
	case 1:
		var n uint16
		if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
			return nil, fmt.Errorf("%w: header length: %v", ErrFormat, err)
		}
		headerLen = int(n)
	case 2, 3:
		var n uint32
		if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
			return nil, fmt.Errorf("%w: header length: %v", ErrFormat, err)
		}
		if n > maxHeaderBytes {
			return nil, fmt.Errorf("%w: header of %d bytes", ErrFormat, n)
		}
		headerLen = int(n)
	default:
		return nil, fmt.Errorf("%w: unsupported version %d.%d", ErrFormat, major, pre[7])
	}

	raw := make([]byte, headerLen)
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, fmt.Errorf("%w: short header: %v", ErrFormat, err)
	}
	h, err := parseHeader(string(raw))
	if err != nil {
		return nil, err
	}

	n, err := elementCount(h.shape)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFormat, err)
	}
	size := h.dtype.Size()
	want := int64(n) * int64(size)
	if lr, ok := r.(interface{ Len() int }); ok && int64(lr.Len()) < want {
		return nil, fmt.Errorf("%w: shape %v needs %d bytes, %d left", ErrFormat, h.shape, want, lr.Len())
	}
	// The buffer grows with the bytes actually present, never with the
	// declared shape alone.
	data, err := io.ReadAll(io.LimitReader(r, want))
	if err != nil {
		return nil, fmt.Errorf("%w: data: %v", ErrFormat, err)
	}
	if int64(len(data)) != want {
		return nil, fmt.Errorf("%w: short data: %d of %d bytes", ErrFormat, len(data), want)
	}

	if h.bigEndian && size > 1 {
		swapBytes(data, size)
	}
	if h.fortran && len(h.shape) > 1 {
		data = fortranToC(data, h.shape, size)
	}
	return &Array{DType: h.dtype, Shape: h.shape, Data: data}, nil
}

type header struct {
	dtype     DType
	bigEndian bool
	fortran   bool
	shape     []int
}

// parseHeader reads the python dict literal written by numpy, e.g.
// {'descr': '<u1', 'fortran_order': False, 'shape': (2, 3), }
func parseHeader(s string) (*header, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "{") || !strings.HasSuffix(s, "}") {
		return nil, fmt.Errorf("%w: header is not a dict", ErrFormat)
	}
	p := &literalParser{src: s[1 : len(s)-1]}

	var (
		h                             header
		seenDescr, seenOrder, seenShp bool
	)
	for {
		p.skipSpace()
		if p.done() {
			break
		}
		key, err := p.quoted()
		if err != nil {
			return nil, err
		}
		if err := p.expect(':'); err != nil {
			return nil, err
		}
		switch key {
		case "descr":
			descr, err := p.quoted()
			if err != nil {
				return nil, err
			}
			if err := parseDescr(descr, &h); err != nil {
				return nil, err
			}
			seenDescr = true
		case "fortran_order":
			word := p.word()
			switch word {
			case "True":
				h.fortran = true
			case "False":
			default:
				return nil, fmt.Errorf("%w: fortran_order %q", ErrFormat, word)
			}
			seenOrder = true
		case "shape":
			shape, err := p.tuple()
			if err != nil {
				return nil, err
			}
			h.shape = shape
			seenShp = true
		default:
			return nil, fmt.Errorf("%w: unexpected header key %q", ErrFormat, key)
		}
		p.skipSpace()
		if !p.done() {
			if err := p.expect(','); err != nil {
				return nil, err
			}
		}
	}
	if !seenDescr || !seenOrder || !seenShp {
		return nil, fmt.Errorf("%w: header missing keys", ErrFormat)
	}
	return &h, nil
}

func parseDescr(descr string, h *header) error {
	if len(descr) < 2 {
		return fmt.Errorf("%w: %q", ErrUnsupportedDType, descr)
	}
	switch descr[0] {
	case '<', '|', '=':
		descr = descr[1:]
	case '>':
		h.bigEndian = true
		descr = descr[1:]
	}
	d := DType(descr)
	if !d.Valid() {
		return fmt.Errorf("%w: %q", ErrUnsupportedDType, descr)
	}
	h.dtype = d
	return nil
}

type literalParser struct {
	src string
	pos int
}

func (p *literalParser) done() bool { return p.pos >= len(p.src) }

func (p *literalParser) skipSpace() {
	for !p.done() && (p.src[p.pos] == ' ' || p.src[p.pos] == '\t' || p.src[p.pos] == '\n') {
		p.pos++
	}
}

func (p *literalParser) expect(c byte) error {
	p.skipSpace()
	if p.done() || p.src[p.pos] != c {
		return fmt.Errorf("%w: expected %q at offset %d", ErrFormat, c, p.pos)
	}
	p.pos++
	return nil
}

func (p *literalParser) quoted() (string, error) {
	p.skipSpace()
	if p.done() || (p.src[p.pos] != '\'' && p.src[p.pos] != '"') {
		return "", fmt.Errorf("%w: expected string at offset %d", ErrFormat, p.pos)
	}
	q := p.src[p.pos]
	end := strings.IndexByte(p.src[p.pos+1:], q)
	if end < 0 {
		return "", fmt.Errorf("%w: unterminated string", ErrFormat)
	}
	s := p.src[p.pos+1 : p.pos+1+end]
	p.pos += end + 2
	return s, nil
}

func (p *literalParser) word() string {
	p.skipSpace()
	start := p.pos
	for !p.done() && p.src[p.pos] != ',' && p.src[p.pos] != ' ' {
		p.pos++
	}
	return p.src[start:p.pos]
}

func (p *literalParser) tuple() ([]int, error) {
	if err := p.expect('('); err != nil {
		return nil, err
	}
	end := strings.IndexByte(p.src[p.pos:], ')')
	if end < 0 {
		return nil, fmt.Errorf("%w: unterminated shape", ErrFormat)
	}
	body := p.src[p.pos : p.pos+end]
	p.pos += end + 1

	shape := []int{}
	for _, part := range strings.Split(body, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		// numpy may emit python longs such as 3L.
		part = strings.TrimSuffix(part, "L")
		v, err := strconv.Atoi(part)
		if err != nil || v < 0 {
			return nil, fmt.Errorf("%w: bad dimension %q", ErrFormat, part)
		}
		shape = append(shape, v)
	}
	return shape, nil
}

func shapeTuple(shape []int) string {
	switch len(shape) {
	case 0:
		return "()"
	case 1:
		return "(" + strconv.Itoa(shape[0]) + ",)"
	}
	parts := make([]string, len(shape))
	for i, d := range shape {
		parts[i] = strconv.Itoa(d)
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

func swapBytes(data []byte, size int) {
	for off := 0; off+size <= len(data); off += size {
		el := data[off : off+size]
		for i, j := 0, size-1; i < j; i, j = i+1, j-1 {
			el[i], el[j] = el[j], el[i]
		}
	}
}

// fortranToC reorders column-major element bytes into row-major order.
func fortranToC(data []byte, shape []int, size int) []byte {
	out := make([]byte, len(data))
	fstride := make([]int, len(shape))
	stride := 1
	for k := range shape {
		fstride[k] = stride
		stride *= shape[k]
	}

	idx := make([]int, len(shape))
	n := len(data) / size
	for c := 0; c < n; c++ {
		f := 0
		for k := range idx {
			f += idx[k] * fstride[k]
		}
		copy(out[c*size:(c+1)*size], data[f*size:(f+1)*size])

		// advance the row-major multi-index
		for k := len(idx) - 1; k >= 0; k-- {
			idx[k]++
			if idx[k] < shape[k] {
				break
			}
			idx[k] = 0
		}
	}
	return out
}
