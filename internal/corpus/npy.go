package corpus

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// npyMagic prefixes every NumPy .npy file.
var npyMagic = []byte("\x93NUMPY")

const (
	// npyMaxCols bounds the vector length read from a header.
	npyMaxCols = 1 << 16
	// npyPrealloc caps the row slice capacity taken from a header.
	npyPrealloc = 1 << 12
)

var (
	descrRe   = regexp.MustCompile(`'descr'\s*:\s*'([^']*)'`)
	fortranRe = regexp.MustCompile(`'fortran_order'\s*:\s*(True|False)`)
	shapeRe   = regexp.MustCompile(`'shape'\s*:\s*\(([^)]*)\)`)
)

// ReadNPY decodes a two-dimensional little-endian float32 or float64 .npy
// array into one []float32 per row. A zero-length array (shape (0,) or
// (0, n)) decodes to an empty slice.
func ReadNPY(r io.Reader) ([][]float32, error) {
	br := bufio.NewReader(r)

	magic := make([]byte, len(npyMagic)+2)
	if _, err := io.ReadFull(br, magic); err != nil {
		return nil, fmt.Errorf("npy: read magic: %w", err)
	}
	if !bytes.Equal(magic[:len(npyMagic)], npyMagic) {
		return nil, errors.New("npy: not a .npy file")
	}

	var headerLen int
	switch major := magic[len(npyMagic)]; major {
	case 1:
		var n uint16
		if err := binary.Read(br, binary.LittleEndian, &n); err != nil {
			return nil, fmt.Errorf("npy: read header length: %w", err)
		}
		headerLen = int(n)
	case 2, 3:
		var n uint32
		if err := binary.Read(br, binary.LittleEndian, &n); err != nil {
			return nil, fmt.Errorf("npy: read header length: %w", err)
		}
		headerLen = int(n)
	default:
		return nil, fmt.Errorf("npy: unsupported format version %d", major)
	}

	header := make([]byte, headerLen)
	if _, err := io.ReadFull(br, header); err != nil {
		return nil, fmt.Errorf("npy: read header: %w", err)
	}

	descr, rows, cols, err := parseNPYHeader(string(header))
	if err != nil {
		return nil, err
	}

	var width int
	switch descr {
	case "<f4":
		width = 4
	case "<f8":
		width = 8
	default:
		return nil, fmt.Errorf("npy: unsupported dtype %q (want <f4 or <f8)", descr)
	}

	if err := checkShape(rows, cols, width); err != nil {
		return nil, err
	}

	// Rows grow as they are read, so a lying header fails on truncation
	// instead of allocating its claimed size up front.
	out := make([][]float32, 0, min(rows, npyPrealloc))
	buf := make([]byte, cols*width)
	for i := range rows {
		if _, err := io.ReadFull(br, buf); err != nil {
			return nil, fmt.Errorf("npy: row %d truncated: %w", i, err)
		}
		row := make([]float32, cols)
		for j := range cols {
			chunk := buf[j*width : (j+1)*width]
			if width == 4 {
				row[j] = math.Float32frombits(binary.LittleEndian.Uint32(chunk))
			} else {
				row[j] = float32(math.Float64frombits(binary.LittleEndian.Uint64(chunk)))
			}
		}
		out = append(out, row)
	}
	if _, err := br.ReadByte(); err != io.EOF {
		return nil, errors.New("npy: trailing data after array")
	}
	return out, nil
}

// checkShape rejects header shapes no embedding corpus can have.
func checkShape(rows, cols, width int) error {
	switch {
	case cols > npyMaxCols:
		return fmt.Errorf("npy: shape (%d, %d) exceeds %d columns", rows, cols, npyMaxCols)
	case rows > 0 && cols == 0:
		return fmt.Errorf("npy: shape (%d, 0) has rows without columns", rows)
	case rows > 0 && rows > math.MaxInt/(cols*width):
		return fmt.Errorf("npy: shape (%d, %d) overflows", rows, cols)
	}
	return nil
}

// parseNPYHeader extracts dtype and a 2-D shape from the header dict.
func parseNPYHeader(h string) (descr string, rows, cols int, err error) {
	m := descrRe.FindStringSubmatch(h)
	if m == nil {
		return "", 0, 0, errors.New("npy: header has no descr")
	}
	descr = m[1]

	if f := fortranRe.FindStringSubmatch(h); f != nil && f[1] == "True" {
		return "", 0, 0, errors.New("npy: fortran-ordered arrays are not supported")
	}

	s := shapeRe.FindStringSubmatch(h)
	if s == nil {
		return "", 0, 0, errors.New("npy: header has no shape")
	}
	var dims []int
	for _, part := range strings.Split(s[1], ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		d, convErr := strconv.Atoi(part)
		if convErr != nil || d < 0 {
			return "", 0, 0, fmt.Errorf("npy: bad shape dimension %q", part)
		}
		dims = append(dims, d)
	}

	switch {
	case len(dims) == 1 && dims[0] == 0:
		return descr, 0, 0, nil
	case len(dims) == 2:
		return descr, dims[0], dims[1], nil
	default:
		return "", 0, 0, fmt.Errorf("npy: expected a 2-D array, got shape (%s)", s[1])
	}
}

// WriteNPY encodes vectors as a version 1.0 little-endian float32 .npy array.
// All rows must share one length.
func WriteNPY(w io.Writer, vectors [][]float32) error {
	cols := 0
	if len(vectors) > 0 {
		cols = len(vectors[0])
	}
	for i, v := range vectors {
		if len(v) != cols {
			return fmt.Errorf("npy: row %d has length %d, want %d", i, len(v), cols)
		}
	}

	header := fmt.Sprintf("{'descr': '<f4', 'fortran_order': False, 'shape': (%d, %d), }", len(vectors), cols)
	// magic(6) + version(2) + length(2) + header + '\n' must be a multiple of 64.
	pad := 64 - (10+len(header)+1)%64
	if pad == 64 {
		pad = 0
	}
	header += strings.Repeat(" ", pad) + "\n"

	bw := bufio.NewWriter(w)
	bw.Write(npyMagic)
	bw.Write([]byte{1, 0})
	if err := binary.Write(bw, binary.LittleEndian, uint16(len(header))); err != nil {
		return fmt.Errorf("npy: write header length: %w", err)
	}
	bw.WriteString(header)

	var cell [4]byte
	for _, v := range vectors {
		for _, f := range v {
			binary.LittleEndian.PutUint32(cell[:], math.Float32bits(f))
			bw.Write(cell[:])
		}
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("npy: write: %w", err)
	}
	return nil
}
