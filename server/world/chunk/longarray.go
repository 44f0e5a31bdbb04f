package chunk

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
)

// The nbt package decodes TAG_Long_Array with the wrong byte order on little
// endian machines, so long arrays are read from the raw payload with
// longArrays instead.

const (
	tagEnd byte = iota
	tagByte
	tagShort
	tagInt
	tagLong
	tagFloat
	tagDouble
	tagByteArray
	tagString
	tagList
	tagCompound
	tagIntArray
	tagLongArray
)

const maxNBTDepth = 512

var errTruncated = errors.New("unexpected end of nbt data")

// longArrays walks a big endian NBT document and returns every
// TAG_Long_Array in it, keyed by its path. Paths join the names of compound
// entries and the indices of list elements with slashes, for example
// /sections/3/block_states/data.
func longArrays(data []byte) (map[string][]int64, error) {
	w := &nbtWalker{b: data, found: make(map[string][]int64)}
	id, err := w.u8()
	if err != nil {
		return nil, err
	}
	if id != tagCompound {
		return nil, fmt.Errorf("root tag %v is not a compound", id)
	}
	if _, err := w.name(); err != nil {
		return nil, err
	}
	if err := w.payload(tagCompound, "", 0); err != nil {
		return nil, err
	}
	return w.found, nil
}

type nbtWalker struct {
	b     []byte
	off   int
	found map[string][]int64
}

func (w *nbtWalker) take(n int) ([]byte, error) {
	if n < 0 || len(w.b)-w.off < n {
		return nil, errTruncated
	}
	b := w.b[w.off : w.off+n]
	w.off += n
	return b, nil
}

func (w *nbtWalker) u8() (byte, error) {
	b, err := w.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (w *nbtWalker) length() (int, error) {
	b, err := w.take(4)
	if err != nil {
		return 0, err
	}
	n := int32(binary.BigEndian.Uint32(b))
	if n < 0 {
		return 0, fmt.Errorf("negative length %v", n)
	}
	return int(n), nil
}

func (w *nbtWalker) name() (string, error) {
	b, err := w.take(2)
	if err != nil {
		return "", err
	}
	s, err := w.take(int(binary.BigEndian.Uint16(b)))
	return string(s), err
}

func (w *nbtWalker) payload(id byte, path string, depth int) error {
	if depth > maxNBTDepth {
		return fmt.Errorf("nbt nested deeper than %v", maxNBTDepth)
	}
	var err error
	switch id {
	case tagByte:
		_, err = w.take(1)
	case tagShort:
		_, err = w.take(2)
	case tagInt, tagFloat:
		_, err = w.take(4)
	case tagLong, tagDouble:
		_, err = w.take(8)
	case tagString:
		_, err = w.name()
	case tagByteArray, tagIntArray, tagLongArray:
		size := map[byte]int{tagByteArray: 1, tagIntArray: 4, tagLongArray: 8}[id]
		n, lerr := w.length()
		if lerr != nil {
			return lerr
		}
		b, terr := w.take(n * size)
		if terr != nil {
			return terr
		}
		if id == tagLongArray {
			longs := make([]int64, n)
			for i := range longs {
				longs[i] = int64(binary.BigEndian.Uint64(b[i*8:]))
			}
			w.found[path] = longs
		}
	case tagList:
		elem, uerr := w.u8()
		if uerr != nil {
			return uerr
		}
		n, lerr := w.length()
		if lerr != nil {
			return lerr
		}
		for i := range n {
			if err := w.payload(elem, path+"/"+strconv.Itoa(i), depth+1); err != nil {
				return err
			}
		}
	case tagCompound:
		for {
			child, uerr := w.u8()
			if uerr != nil {
				return uerr
			}
			if child == tagEnd {
				return nil
			}
			name, nerr := w.name()
			if nerr != nil {
				return nerr
			}
			if err := w.payload(child, path+"/"+name, depth+1); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("unknown tag type %v", id)
	}
	return err
}
