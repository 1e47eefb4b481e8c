package wasmmodule

import "errors"

var errLEB128Truncated = errors.New("wasmmodule: truncated LEB128 value")
var errLEB128Overflow = errors.New("wasmmodule: LEB128 value overflows 32 bits")

// decodeU32 decodes an unsigned LEB128-encoded uint32 from data starting at
// off, returning the value and the number of bytes consumed.
func decodeU32(data []byte, off int) (uint32, int, error) {
	var result uint32
	var shift uint
	n := off
	for {
		if n >= len(data) {
			return 0, 0, errLEB128Truncated
		}
		b := data[n]
		n++
		if shift >= 32 && (b&0x7f) != 0 {
			return 0, 0, errLEB128Overflow
		}
		result |= uint32(b&0x7f) << shift
		if b&0x80 == 0 {
			break
		}
		shift += 7
	}
	return result, n - off, nil
}

// decodeU64 decodes an unsigned LEB128-encoded uint64.
func decodeU64(data []byte, off int) (uint64, int, error) {
	var result uint64
	var shift uint
	n := off
	for {
		if n >= len(data) {
			return 0, 0, errLEB128Truncated
		}
		b := data[n]
		n++
		result |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			break
		}
		shift += 7
	}
	return result, n - off, nil
}

// decodeS32 decodes a signed LEB128-encoded int32.
func decodeS32(data []byte, off int) (int32, int, error) {
	v, n, err := decodeS64(data, off)
	return int32(v), n, err
}

// decodeS64 decodes a signed LEB128-encoded int64.
func decodeS64(data []byte, off int) (int64, int, error) {
	var result int64
	var shift uint
	n := off
	var b byte
	for {
		if n >= len(data) {
			return 0, 0, errLEB128Truncated
		}
		b = data[n]
		n++
		result |= int64(b&0x7f) << shift
		shift += 7
		if b&0x80 == 0 {
			break
		}
	}
	if shift < 64 && b&0x40 != 0 {
		result |= -1 << shift
	}
	return result, n - off, nil
}

// appendU32 appends v to buf as unsigned LEB128.
func appendU32(buf []byte, v uint32) []byte {
	return appendU64(buf, uint64(v))
}

// appendU64 appends v to buf as unsigned LEB128.
func appendU64(buf []byte, v uint64) []byte {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			buf = append(buf, b|0x80)
		} else {
			buf = append(buf, b)
			break
		}
	}
	return buf
}

// appendS32 appends v to buf as signed LEB128.
func appendS32(buf []byte, v int32) []byte {
	return appendS64(buf, int64(v))
}

// appendS64 appends v to buf as signed LEB128.
func appendS64(buf []byte, v int64) []byte {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		signBitSet := b&0x40 != 0
		if (v == 0 && !signBitSet) || (v == -1 && signBitSet) {
			buf = append(buf, b)
			break
		}
		buf = append(buf, b|0x80)
	}
	return buf
}
