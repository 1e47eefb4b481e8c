package wasmmodule

import (
	"encoding/binary"
	"errors"
)

// Section IDs, per the Wasm 1.0 binary format.
const (
	SecCustom   byte = 0
	SecType     byte = 1
	SecImport   byte = 2
	SecFunction byte = 3
	SecTable    byte = 4
	SecMemory   byte = 5
	SecGlobal   byte = 6
	SecExport   byte = 7
	SecStart    byte = 8
	SecElement  byte = 9
	SecCode     byte = 10
	SecData     byte = 11
)

const (
	wasmMagic   uint32 = 0x6D736100
	wasmVersion uint32 = 1
)

var (
	ErrBadMagic       = errors.New("wasmmodule: bad magic number")
	ErrBadVersion     = errors.New("wasmmodule: unsupported version")
	ErrTruncated      = errors.New("wasmmodule: truncated module")
	errUnknownSection = errors.New("wasmmodule: unknown section id")
)

// ImportKind distinguishes the four kinds of importable/exportable entities.
type ImportKind byte

const (
	KindFunc   ImportKind = 0
	KindTable  ImportKind = 1
	KindMem    ImportKind = 2
	KindGlobal ImportKind = 3
)

// FuncType is a function signature: a vector of parameter types followed by
// a vector of result types.
type FuncType struct {
	Params  []ValType
	Results []ValType
}

// Import is one entry of the import section. For function imports,
// TypeIndex names the signature in Types. For table/memory/global imports
// the original encoded descriptor bytes are preserved verbatim in Raw,
// since the injector never needs to interpret them (it only ever appends a
// function import).
type Import struct {
	Module string
	Name   string
	Kind   ImportKind

	TypeIndex uint32 // valid when Kind == KindFunc
	Raw       []byte // valid when Kind != KindFunc
}

// Export is one entry of the export section.
type Export struct {
	Name  string
	Kind  ImportKind
	Index uint32
}

// ElementSegment is one table-initializer entry. Wasm 1.0 element segments
// always target funcref tables and carry an active offset expression; both
// the table index and the offset expression bytes are preserved verbatim,
// since only the function indices they initialize are ever rewritten.
type ElementSegment struct {
	TableIndex  uint32
	OffsetExpr  []byte
	FuncIndices []uint32
}

// LocalDecl is one run-length-encoded local declaration at the start of a
// function body.
type LocalDecl struct {
	Count uint32
	Type  ValType
}

// CodeBody is a function body: its local declarations and its flat decoded
// instruction stream (including the terminal End).
type CodeBody struct {
	Locals       []LocalDecl
	Instructions []Instruction
}

// Module is the in-memory representation of a Wasm 1.0 module: the subset
// of structure the injector can observe and mutate (ModuleView), plus raw
// pass-through storage for sections it never interprets.
type Module struct {
	Types           []FuncType
	Imports         []Import
	FuncTypeIndices []uint32 // function section: signature index per module-defined function
	Exports         []Export
	Elements        []ElementSegment
	HasStart        bool
	StartFuncIndex  uint32
	CodeBodies      []CodeBody

	// CustomSections preserves every custom section's raw payload, in
	// encounter order. Unlike the other raw-passthrough sections, custom
	// sections are not unique per module (a "name" section and a producer
	// metadata section can coexist), so they cannot be keyed by section id
	// the way rawSections keys table/memory/global/data.
	CustomSections [][]byte

	// rawSections preserves the encoded payload of sections this package
	// never semantically interprets (table, memory, global, data), keyed by
	// section id, so Encode can round-trip them byte for byte.
	rawSections map[byte][]byte
}

// ImportFuncCount returns the number of function imports -- the low end of
// the unified function index space.
func (m *Module) ImportFuncCount() int {
	n := 0
	for _, imp := range m.Imports {
		if imp.Kind == KindFunc {
			n++
		}
	}
	return n
}

// TotalFuncSpace returns the size of the unified function index space:
// function imports plus module-defined functions.
func (m *Module) TotalFuncSpace() int {
	return m.ImportFuncCount() + len(m.FuncTypeIndices)
}

// AppendSignature appends a new function type and returns its index.
func (m *Module) AppendSignature(ft FuncType) uint32 {
	m.Types = append(m.Types, ft)
	return uint32(len(m.Types) - 1)
}

// AppendImportFunc appends a new function import as the LAST entry of the
// import section, which makes it the last function import in function-index
// space regardless of how other import kinds are interleaved, and returns
// its function index.
func (m *Module) AppendImportFunc(module, name string, typeIdx uint32) uint32 {
	m.Imports = append(m.Imports, Import{Module: module, Name: name, Kind: KindFunc, TypeIndex: typeIdx})
	return uint32(m.ImportFuncCount() - 1)
}

// AppendFunction appends a module-defined function and returns its index in
// the unified function space.
func (m *Module) AppendFunction(typeIdx uint32, body CodeBody) uint32 {
	idx := uint32(m.TotalFuncSpace())
	m.FuncTypeIndices = append(m.FuncTypeIndices, typeIdx)
	m.CodeBodies = append(m.CodeBodies, body)
	return idx
}

// Clone makes a deep copy of m, so a transformer can build its output
// speculatively and discard the copy on failure without ever mutating the
// caller's input module.
func (m *Module) Clone() *Module {
	out := &Module{
		Types:           append([]FuncType(nil), m.Types...),
		Imports:         make([]Import, len(m.Imports)),
		FuncTypeIndices: append([]uint32(nil), m.FuncTypeIndices...),
		Exports:         append([]Export(nil), m.Exports...),
		Elements:        make([]ElementSegment, len(m.Elements)),
		HasStart:        m.HasStart,
		StartFuncIndex:  m.StartFuncIndex,
		CodeBodies:      make([]CodeBody, len(m.CodeBodies)),
		CustomSections:  make([][]byte, len(m.CustomSections)),
		rawSections:     make(map[byte][]byte, len(m.rawSections)),
	}
	for i, cs := range m.CustomSections {
		out.CustomSections[i] = append([]byte(nil), cs...)
	}
	for i, imp := range m.Imports {
		out.Imports[i] = imp
		out.Imports[i].Raw = append([]byte(nil), imp.Raw...)
	}
	for i, el := range m.Elements {
		out.Elements[i] = ElementSegment{
			TableIndex:  el.TableIndex,
			OffsetExpr:  append([]byte(nil), el.OffsetExpr...),
			FuncIndices: append([]uint32(nil), el.FuncIndices...),
		}
	}
	for i, body := range m.CodeBodies {
		out.CodeBodies[i] = CodeBody{
			Locals:       append([]LocalDecl(nil), body.Locals...),
			Instructions: append([]Instruction(nil), body.Instructions...),
		}
	}
	for id, raw := range m.rawSections {
		out.rawSections[id] = append([]byte(nil), raw...)
	}
	return out
}

func leb32(v uint32) []byte { return appendU32(nil, v) }

func readVarU32(data []byte, pos *int) (uint32, error) {
	v, n, err := decodeU32(data, *pos)
	if err != nil {
		return 0, err
	}
	*pos += n
	return v, nil
}

func readName(data []byte, pos *int) (string, error) {
	n, err := readVarU32(data, pos)
	if err != nil {
		return "", err
	}
	if *pos+int(n) > len(data) {
		return "", ErrTruncated
	}
	s := string(data[*pos : *pos+int(n)])
	*pos += int(n)
	return s, nil
}

func appendName(buf []byte, s string) []byte {
	buf = appendU32(buf, uint32(len(s)))
	return append(buf, s...)
}

// Parse decodes a full Wasm 1.0 binary module.
func Parse(data []byte) (*Module, error) {
	if len(data) < 8 {
		return nil, ErrTruncated
	}
	if binary.LittleEndian.Uint32(data[0:4]) != wasmMagic {
		return nil, ErrBadMagic
	}
	if binary.LittleEndian.Uint32(data[4:8]) != wasmVersion {
		return nil, ErrBadVersion
	}

	m := &Module{rawSections: make(map[byte][]byte)}
	pos := 8
	var funcTypeIdxForCode []uint32 // deferred: code section decoded after we know FuncTypeIndices

	for pos < len(data) {
		if pos >= len(data) {
			return nil, ErrTruncated
		}
		id := data[pos]
		pos++
		size, err := readVarU32(data, &pos)
		if err != nil {
			return nil, err
		}
		if pos+int(size) > len(data) {
			return nil, ErrTruncated
		}
		payload := data[pos : pos+int(size)]
		pos += int(size)

		switch id {
		case SecType:
			if err := parseTypeSection(m, payload); err != nil {
				return nil, err
			}
		case SecImport:
			if err := parseImportSection(m, payload); err != nil {
				return nil, err
			}
		case SecFunction:
			idxs, err := parseFunctionSection(payload)
			if err != nil {
				return nil, err
			}
			m.FuncTypeIndices = idxs
			funcTypeIdxForCode = idxs
		case SecExport:
			if err := parseExportSection(m, payload); err != nil {
				return nil, err
			}
		case SecStart:
			idx, _, err := decodeU32(payload, 0)
			if err != nil {
				return nil, err
			}
			m.HasStart = true
			m.StartFuncIndex = idx
		case SecElement:
			if err := parseElementSection(m, payload); err != nil {
				return nil, err
			}
		case SecCode:
			bodies, err := parseCodeSection(payload, len(funcTypeIdxForCode))
			if err != nil {
				return nil, err
			}
			m.CodeBodies = bodies
		case SecCustom:
			m.CustomSections = append(m.CustomSections, append([]byte(nil), payload...))
		case SecTable, SecMemory, SecGlobal, SecData:
			m.rawSections[id] = append(m.rawSections[id], payload...)
		default:
			return nil, errUnknownSection
		}
	}
	return m, nil
}

func parseTypeSection(m *Module, data []byte) error {
	pos := 0
	count, err := readVarU32(data, &pos)
	if err != nil {
		return err
	}
	for i := uint32(0); i < count; i++ {
		if pos >= len(data) || data[pos] != 0x60 {
			return errors.New("wasmmodule: expected func type tag 0x60")
		}
		pos++
		ft := FuncType{}
		nparams, err := readVarU32(data, &pos)
		if err != nil {
			return err
		}
		for j := uint32(0); j < nparams; j++ {
			if pos >= len(data) {
				return ErrTruncated
			}
			ft.Params = append(ft.Params, ValType(data[pos]))
			pos++
		}
		nresults, err := readVarU32(data, &pos)
		if err != nil {
			return err
		}
		for j := uint32(0); j < nresults; j++ {
			if pos >= len(data) {
				return ErrTruncated
			}
			ft.Results = append(ft.Results, ValType(data[pos]))
			pos++
		}
		m.Types = append(m.Types, ft)
	}
	return nil
}

func parseImportSection(m *Module, data []byte) error {
	pos := 0
	count, err := readVarU32(data, &pos)
	if err != nil {
		return err
	}
	for i := uint32(0); i < count; i++ {
		mod, err := readName(data, &pos)
		if err != nil {
			return err
		}
		name, err := readName(data, &pos)
		if err != nil {
			return err
		}
		if pos >= len(data) {
			return ErrTruncated
		}
		kind := ImportKind(data[pos])
		pos++
		imp := Import{Module: mod, Name: name, Kind: kind}
		switch kind {
		case KindFunc:
			idx, err := readVarU32(data, &pos)
			if err != nil {
				return err
			}
			imp.TypeIndex = idx
		case KindTable:
			start := pos
			if pos >= len(data) {
				return ErrTruncated
			}
			pos++ // elem type
			if err := skipLimits(data, &pos); err != nil {
				return err
			}
			imp.Raw = append([]byte(nil), data[start:pos]...)
		case KindMem:
			start := pos
			if err := skipLimits(data, &pos); err != nil {
				return err
			}
			imp.Raw = append([]byte(nil), data[start:pos]...)
		case KindGlobal:
			start := pos
			if pos+2 > len(data) {
				return ErrTruncated
			}
			pos += 2 // valtype + mutability
			imp.Raw = append([]byte(nil), data[start:pos]...)
		default:
			return errors.New("wasmmodule: unknown import kind")
		}
		m.Imports = append(m.Imports, imp)
	}
	return nil
}

func skipLimits(data []byte, pos *int) error {
	if *pos >= len(data) {
		return ErrTruncated
	}
	flag := data[*pos]
	*pos++
	if _, err := readVarU32(data, pos); err != nil {
		return err
	}
	if flag == 0x01 {
		if _, err := readVarU32(data, pos); err != nil {
			return err
		}
	}
	return nil
}

func parseFunctionSection(data []byte) ([]uint32, error) {
	pos := 0
	count, err := readVarU32(data, &pos)
	if err != nil {
		return nil, err
	}
	out := make([]uint32, count)
	for i := range out {
		idx, err := readVarU32(data, &pos)
		if err != nil {
			return nil, err
		}
		out[i] = idx
	}
	return out, nil
}

func parseExportSection(m *Module, data []byte) error {
	pos := 0
	count, err := readVarU32(data, &pos)
	if err != nil {
		return err
	}
	for i := uint32(0); i < count; i++ {
		name, err := readName(data, &pos)
		if err != nil {
			return err
		}
		if pos >= len(data) {
			return ErrTruncated
		}
		kind := ImportKind(data[pos])
		pos++
		idx, err := readVarU32(data, &pos)
		if err != nil {
			return err
		}
		m.Exports = append(m.Exports, Export{Name: name, Kind: kind, Index: idx})
	}
	return nil
}

func parseElementSection(m *Module, data []byte) error {
	pos := 0
	count, err := readVarU32(data, &pos)
	if err != nil {
		return err
	}
	for i := uint32(0); i < count; i++ {
		tableIdx, err := readVarU32(data, &pos)
		if err != nil {
			return err
		}
		offStart := pos
		// Offset expression: a single const instruction followed by end.
		for pos < len(data) && data[pos] != byte(OpEnd) {
			instr, n, err := decodeOne(data, pos)
			if err != nil {
				return err
			}
			_ = instr
			pos += n
		}
		if pos >= len(data) {
			return ErrTruncated
		}
		pos++ // consume end
		offExpr := append([]byte(nil), data[offStart:pos]...)

		n, err := readVarU32(data, &pos)
		if err != nil {
			return err
		}
		idxs := make([]uint32, n)
		for j := range idxs {
			idx, err := readVarU32(data, &pos)
			if err != nil {
				return err
			}
			idxs[j] = idx
		}
		m.Elements = append(m.Elements, ElementSegment{TableIndex: tableIdx, OffsetExpr: offExpr, FuncIndices: idxs})
	}
	return nil
}

func parseCodeSection(data []byte, nFuncs int) ([]CodeBody, error) {
	pos := 0
	count, err := readVarU32(data, &pos)
	if err != nil {
		return nil, err
	}
	out := make([]CodeBody, count)
	for i := uint32(0); i < count; i++ {
		size, err := readVarU32(data, &pos)
		if err != nil {
			return nil, err
		}
		if pos+int(size) > len(data) {
			return nil, ErrTruncated
		}
		body := data[pos : pos+int(size)]
		pos += int(size)

		bpos := 0
		nlocals, err := readVarU32(body, &bpos)
		if err != nil {
			return nil, err
		}
		var locals []LocalDecl
		for j := uint32(0); j < nlocals; j++ {
			cnt, err := readVarU32(body, &bpos)
			if err != nil {
				return nil, err
			}
			if bpos >= len(body) {
				return nil, ErrTruncated
			}
			typ := ValType(body[bpos])
			bpos++
			locals = append(locals, LocalDecl{Count: cnt, Type: typ})
		}
		instrs, err := DecodeInstructions(body[bpos:])
		if err != nil {
			return nil, err
		}
		out[i] = CodeBody{Locals: locals, Instructions: instrs}
	}
	return out, nil
}

// Encode serializes m back into a Wasm 1.0 binary module.
func (m *Module) Encode() []byte {
	var out []byte
	var hdr [8]byte
	binary.LittleEndian.PutUint32(hdr[0:4], wasmMagic)
	binary.LittleEndian.PutUint32(hdr[4:8], wasmVersion)
	out = append(out, hdr[:]...)

	if len(m.Types) > 0 {
		out = appendSection(out, SecType, encodeTypeSection(m))
	}
	if len(m.Imports) > 0 {
		out = appendSection(out, SecImport, encodeImportSection(m))
	}
	if len(m.FuncTypeIndices) > 0 {
		out = appendSection(out, SecFunction, encodeFunctionSection(m))
	}
	if raw, ok := m.rawSections[SecTable]; ok {
		out = appendSection(out, SecTable, raw)
	}
	if raw, ok := m.rawSections[SecMemory]; ok {
		out = appendSection(out, SecMemory, raw)
	}
	if raw, ok := m.rawSections[SecGlobal]; ok {
		out = appendSection(out, SecGlobal, raw)
	}
	if len(m.Exports) > 0 {
		out = appendSection(out, SecExport, encodeExportSection(m))
	}
	if m.HasStart {
		out = appendSection(out, SecStart, leb32(m.StartFuncIndex))
	}
	if len(m.Elements) > 0 {
		out = appendSection(out, SecElement, encodeElementSection(m))
	}
	if len(m.CodeBodies) > 0 {
		out = appendSection(out, SecCode, encodeCodeSection(m))
	}
	if raw, ok := m.rawSections[SecData]; ok {
		out = appendSection(out, SecData, raw)
	}
	for _, cs := range m.CustomSections {
		out = appendSection(out, SecCustom, cs)
	}
	return out
}

func appendSection(out []byte, id byte, payload []byte) []byte {
	out = append(out, id)
	out = appendU32(out, uint32(len(payload)))
	return append(out, payload...)
}

func encodeTypeSection(m *Module) []byte {
	var buf []byte
	buf = appendU32(buf, uint32(len(m.Types)))
	for _, ft := range m.Types {
		buf = append(buf, 0x60)
		buf = appendU32(buf, uint32(len(ft.Params)))
		for _, p := range ft.Params {
			buf = append(buf, byte(p))
		}
		buf = appendU32(buf, uint32(len(ft.Results)))
		for _, r := range ft.Results {
			buf = append(buf, byte(r))
		}
	}
	return buf
}

func encodeImportSection(m *Module) []byte {
	var buf []byte
	buf = appendU32(buf, uint32(len(m.Imports)))
	for _, imp := range m.Imports {
		buf = appendName(buf, imp.Module)
		buf = appendName(buf, imp.Name)
		buf = append(buf, byte(imp.Kind))
		if imp.Kind == KindFunc {
			buf = appendU32(buf, imp.TypeIndex)
		} else {
			buf = append(buf, imp.Raw...)
		}
	}
	return buf
}

func encodeFunctionSection(m *Module) []byte {
	var buf []byte
	buf = appendU32(buf, uint32(len(m.FuncTypeIndices)))
	for _, idx := range m.FuncTypeIndices {
		buf = appendU32(buf, idx)
	}
	return buf
}

func encodeExportSection(m *Module) []byte {
	var buf []byte
	buf = appendU32(buf, uint32(len(m.Exports)))
	for _, exp := range m.Exports {
		buf = appendName(buf, exp.Name)
		buf = append(buf, byte(exp.Kind))
		buf = appendU32(buf, exp.Index)
	}
	return buf
}

func encodeElementSection(m *Module) []byte {
	var buf []byte
	buf = appendU32(buf, uint32(len(m.Elements)))
	for _, el := range m.Elements {
		buf = appendU32(buf, el.TableIndex)
		buf = append(buf, el.OffsetExpr...)
		buf = appendU32(buf, uint32(len(el.FuncIndices)))
		for _, idx := range el.FuncIndices {
			buf = appendU32(buf, idx)
		}
	}
	return buf
}

func encodeCodeSection(m *Module) []byte {
	var buf []byte
	buf = appendU32(buf, uint32(len(m.CodeBodies)))
	for _, body := range m.CodeBodies {
		var fn []byte
		fn = appendU32(fn, uint32(len(body.Locals)))
		for _, l := range body.Locals {
			fn = appendU32(fn, l.Count)
			fn = append(fn, byte(l.Type))
		}
		fn = append(fn, EncodeInstructions(body.Instructions)...)
		buf = appendU32(buf, uint32(len(fn)))
		buf = append(buf, fn...)
	}
	return buf
}
