package storage

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/knowledge-engine/recommender/internal/search"
)

const (
	matrixFormatVersion = 1
	maxMatrixPrealloc   = 1 << 20
)

var matrixMagic = [4]byte{'S', 'I', 'M', 'X'}

// matrix layout: magic, uint32 format, uint64 n, then the packed upper
// triangle as little-endian float64, row-major with the diagonal.

// EncodeMatrix writes m in the binary similarity format.
func EncodeMatrix(w io.Writer, m *search.SimilarityMatrix) error {
	bw := bufio.NewWriter(w)

	header := make([]byte, 16)
	copy(header, matrixMagic[:])
	binary.LittleEndian.PutUint32(header[4:], matrixFormatVersion)
	binary.LittleEndian.PutUint64(header[8:], uint64(m.Size()))
	if _, err := bw.Write(header); err != nil {
		return fmt.Errorf("failed to write matrix header: %w", err)
	}

	var buf [8]byte
	for _, v := range m.Upper() {
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v))
		if _, err := bw.Write(buf[:]); err != nil {
			return fmt.Errorf("failed to write matrix data: %w", err)
		}
	}
	return bw.Flush()
}

// DecodeMatrix reads a matrix written by EncodeMatrix.
func DecodeMatrix(r io.Reader) (*search.SimilarityMatrix, error) {
	br := bufio.NewReader(r)

	header := make([]byte, 16)
	if _, err := io.ReadFull(br, header); err != nil {
		return nil, fmt.Errorf("failed to read matrix header: %w", err)
	}
	if [4]byte(header[:4]) != matrixMagic {
		return nil, fmt.Errorf("bad matrix magic %q", header[:4])
	}
	if v := binary.LittleEndian.Uint32(header[4:]); v != matrixFormatVersion {
		return nil, fmt.Errorf("unsupported matrix format %d", v)
	}
	n := binary.LittleEndian.Uint64(header[8:])
	if n > math.MaxInt32 {
		return nil, fmt.Errorf("matrix size %d out of range", n)
	}

	// n comes from untrusted bytes: grow with the data actually read
	total := int(n) * (int(n) + 1) / 2
	upper := make([]float64, 0, min(total, maxMatrixPrealloc))
	var buf [8]byte
	for k := 0; k < total; k++ {
		if _, err := io.ReadFull(br, buf[:]); err != nil {
			return nil, fmt.Errorf("failed to read matrix data (%d of %d values for n=%d): %w", k, total, n, err)
		}
		upper = append(upper, math.Float64frombits(binary.LittleEndian.Uint64(buf[:])))
	}
	return search.NewSimilarityMatrixFromUpper(int(n), upper)
}
