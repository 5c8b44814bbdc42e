package kb

import (
	"encoding/binary"
	"fmt"
	"math"
)

// encodeVector stores float64 values little-endian so a reload is bit-identical.
func encodeVector(v []float64) []byte {
	buf := make([]byte, 8*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(x))
	}
	return buf
}

func decodeVector(b []byte, dim int) ([]float64, error) {
	if len(b) != dim*8 {
		return nil, fmt.Errorf("vector has %d bytes, want %d", len(b), dim*8)
	}
	out := make([]float64, dim)
	for i := range out {
		out[i] = math.Float64frombits(binary.LittleEndian.Uint64(b[i*8:]))
	}
	return out, nil
}
