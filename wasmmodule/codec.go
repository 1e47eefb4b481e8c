package wasmmodule

import (
	"encoding/binary"
	"errors"
	"math"
)

var errTruncatedInstruction = errors.New("wasmmodule: truncated instruction")
var errBadReservedByte = errors.New("wasmmodule: call_indirect/memory op reserved byte must be 0x00")

// DecodeInstructions decodes the full flat instruction stream of a function
// body (or any other const-expression byte range) from data. It returns
// every instruction in source order, including nested block/loop/if/else/end
// markers -- the analyzer walks this flat list itself rather than being
// handed a pre-structured tree.
func DecodeInstructions(data []byte) ([]Instruction, error) {
	var out []Instruction
	pos := 0
	for pos < len(data) {
		instr, n, err := decodeOne(data, pos)
		if err != nil {
			return nil, err
		}
		out = append(out, instr)
		pos += n
	}
	return out, nil
}

func decodeOne(data []byte, pos int) (Instruction, int, error) {
	if pos >= len(data) {
		return Instruction{}, 0, errTruncatedInstruction
	}
	op := Op(data[pos])
	n := 1
	instr := Instruction{Op: op}

	switch shapeOf(op) {
	case shapeNone:
		// no operand

	case shapeBlockType:
		if pos+n >= len(data) {
			return Instruction{}, 0, errTruncatedInstruction
		}
		bt := int8(data[pos+n])
		n++
		instr.BlockType = int64(bt)

	case shapeLEBU32:
		v, used, err := decodeU32(data, pos+n)
		if err != nil {
			return Instruction{}, 0, err
		}
		n += used
		switch op {
		case OpBr, OpBrIf:
			instr.Depth = v
		default:
			instr.Index = v
		}

	case shapeBrTable:
		count, used, err := decodeU32(data, pos+n)
		if err != nil {
			return Instruction{}, 0, err
		}
		n += used
		targets := make([]uint32, count)
		for i := uint32(0); i < count; i++ {
			t, used, err := decodeU32(data, pos+n)
			if err != nil {
				return Instruction{}, 0, err
			}
			n += used
			targets[i] = t
		}
		def, used, err := decodeU32(data, pos+n)
		if err != nil {
			return Instruction{}, 0, err
		}
		n += used
		instr.Targets = targets
		instr.Default = def

	case shapeCallIndirect:
		typeIdx, used, err := decodeU32(data, pos+n)
		if err != nil {
			return Instruction{}, 0, err
		}
		n += used
		if pos+n >= len(data) {
			return Instruction{}, 0, errTruncatedInstruction
		}
		if data[pos+n] != 0x00 {
			return Instruction{}, 0, errBadReservedByte
		}
		n++
		instr.Index = typeIdx

	case shapeMemReserved:
		if pos+n >= len(data) {
			return Instruction{}, 0, errTruncatedInstruction
		}
		if data[pos+n] != 0x00 {
			return Instruction{}, 0, errBadReservedByte
		}
		n++

	case shapeMemArg:
		align, used, err := decodeU32(data, pos+n)
		if err != nil {
			return Instruction{}, 0, err
		}
		n += used
		offset, used, err := decodeU32(data, pos+n)
		if err != nil {
			return Instruction{}, 0, err
		}
		n += used
		instr.MemAlign = align
		instr.MemOffset = offset

	case shapeI32Const:
		v, used, err := decodeS32(data, pos+n)
		if err != nil {
			return Instruction{}, 0, err
		}
		n += used
		instr.I32 = v

	case shapeI64Const:
		v, used, err := decodeS64(data, pos+n)
		if err != nil {
			return Instruction{}, 0, err
		}
		n += used
		instr.I64 = v

	case shapeF32Const:
		if pos+n+4 > len(data) {
			return Instruction{}, 0, errTruncatedInstruction
		}
		bits := binary.LittleEndian.Uint32(data[pos+n : pos+n+4])
		instr.F32 = math.Float32frombits(bits)
		n += 4

	case shapeF64Const:
		if pos+n+8 > len(data) {
			return Instruction{}, 0, errTruncatedInstruction
		}
		bits := binary.LittleEndian.Uint64(data[pos+n : pos+n+8])
		instr.F64 = math.Float64frombits(bits)
		n += 8
	}

	return instr, n, nil
}

// EncodeInstructions serializes instrs back into Wasm binary form.
func EncodeInstructions(instrs []Instruction) []byte {
	var buf []byte
	for _, instr := range instrs {
		buf = encodeOne(buf, instr)
	}
	return buf
}

func encodeOne(buf []byte, instr Instruction) []byte {
	buf = append(buf, byte(instr.Op))
	switch shapeOf(instr.Op) {
	case shapeNone:

	case shapeBlockType:
		buf = append(buf, byte(int8(instr.BlockType)))

	case shapeLEBU32:
		switch instr.Op {
		case OpBr, OpBrIf:
			buf = appendU32(buf, instr.Depth)
		default:
			buf = appendU32(buf, instr.Index)
		}

	case shapeBrTable:
		buf = appendU32(buf, uint32(len(instr.Targets)))
		for _, t := range instr.Targets {
			buf = appendU32(buf, t)
		}
		buf = appendU32(buf, instr.Default)

	case shapeCallIndirect:
		buf = appendU32(buf, instr.Index)
		buf = append(buf, 0x00)

	case shapeMemReserved:
		buf = append(buf, 0x00)

	case shapeMemArg:
		buf = appendU32(buf, instr.MemAlign)
		buf = appendU32(buf, instr.MemOffset)

	case shapeI32Const:
		buf = appendS32(buf, instr.I32)

	case shapeI64Const:
		buf = appendS64(buf, instr.I64)

	case shapeF32Const:
		var tmp [4]byte
		binary.LittleEndian.PutUint32(tmp[:], math.Float32bits(instr.F32))
		buf = append(buf, tmp[:]...)

	case shapeF64Const:
		var tmp [8]byte
		binary.LittleEndian.PutUint64(tmp[:], math.Float64bits(instr.F64))
		buf = append(buf, tmp[:]...)
	}
	return buf
}
