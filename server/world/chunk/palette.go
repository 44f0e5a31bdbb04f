package chunk

import (
	"fmt"
	"math/bits"
)

// bitsPerIndex returns the amount of bits used per palette index for a
// palette of n entries. A palette of a single entry needs no data at all.
func bitsPerIndex(n, minBits int) int {
	if n <= 1 {
		return 0
	}
	return max(bits.Len(uint(n-1)), minBits)
}

// packIndices packs palette indices into longs the way vanilla does since
// 1.16: indices never span two longs and unused high bits stay zero.
func packIndices(indices []uint16, b int) []int64 {
	if b == 0 {
		return nil
	}
	perLong := 64 / b
	data := make([]int64, (len(indices)+perLong-1)/perLong)
	for i, v := range indices {
		data[i/perLong] |= int64(uint64(v) << (uint(i%perLong) * uint(b)))
	}
	return data
}

// unpackIndices reverses packIndices, producing n indices for a palette of
// paletteLen entries. The bits per index are derived from the palette length
// the same way packIndices was called.
func unpackIndices(data []int64, n, paletteLen, minBits int) ([]uint16, error) {
	indices := make([]uint16, n)
	b := bitsPerIndex(paletteLen, minBits)
	if b == 0 {
		return indices, nil
	}
	perLong := 64 / b
	if want := (n + perLong - 1) / perLong; len(data) != want {
		return nil, fmt.Errorf("expected %v longs of data for palette of %v entries, got %v", want, paletteLen, len(data))
	}
	mask := uint64(1)<<uint(b) - 1
	for i := range indices {
		v := uint64(data[i/perLong]) >> (uint(i%perLong) * uint(b)) & mask
		if v >= uint64(paletteLen) {
			return nil, fmt.Errorf("palette index %v out of range for palette of %v entries", v, paletteLen)
		}
		indices[i] = uint16(v)
	}
	return indices, nil
}
