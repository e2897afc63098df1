// Package wasmbin assembles minimal core WebAssembly modules in memory. It
// exists so engine and service tests can build guest fixtures without
// checking in binary files or shelling out to external toolchains; it covers
// only the handful of constructs the script ABI needs.
package wasmbin

import "bytes"

// Value types
const (
	I32 byte = 0x7f
	I64 byte = 0x7e
)

// Opcodes used by test guests
const (
	OpUnreachable byte = 0x00
	OpEnd         byte = 0x0b
	OpCall        byte = 0x10
	OpDrop        byte = 0x1a
	OpLocalGet    byte = 0x20
	OpI32Const    byte = 0x41
	OpI64Const    byte = 0x42
	OpMemoryGrow  byte = 0x40 // followed by a 0x00 reserved byte
)

// Section ids
const (
	secType     byte = 1
	secImport   byte = 2
	secFunction byte = 3
	secMemory   byte = 5
	secExport   byte = 7
	secCode     byte = 10
	secData     byte = 11
)

// Import declares one host function import. Imports occupy the first
// function indices, in order.
type Import struct {
	Module  string
	Name    string
	Params  []byte
	Results []byte
}

// Func declares one module-defined function. Name, when non-empty, exports
// the function. Body holds raw instructions without the trailing end opcode;
// no locals are declared.
type Func struct {
	Name    string
	Params  []byte
	Results []byte
	Body    []byte
}

// Data is one active data segment placed at a constant offset in memory 0.
type Data struct {
	Offset uint32
	Bytes  []byte
}

// Module is a minimal module description. When HasMemory is set, memory 0 is
// defined with the given page limits and exported as "memory".
type Module struct {
	Imports   []Import
	Funcs     []Func
	Segments  []Data
	HasMemory bool
	MemoryMin uint32
	MemoryMax uint32 // 0 = no declared maximum
}

// Encode produces the binary module.
func (m *Module) Encode() []byte {
	var w bytes.Buffer
	w.Write([]byte{0x00, 0x61, 0x73, 0x6d}) // \0asm
	w.Write([]byte{0x01, 0x00, 0x00, 0x00}) // version 1

	// Type section: one entry per import, then one per function.
	var types bytes.Buffer
	writeU32(&types, uint32(len(m.Imports)+len(m.Funcs)))
	for _, imp := range m.Imports {
		writeFuncType(&types, imp.Params, imp.Results)
	}
	for _, fn := range m.Funcs {
		writeFuncType(&types, fn.Params, fn.Results)
	}
	writeSection(&w, secType, types.Bytes())

	if len(m.Imports) > 0 {
		var sec bytes.Buffer
		writeU32(&sec, uint32(len(m.Imports)))
		for i, imp := range m.Imports {
			writeName(&sec, imp.Module)
			writeName(&sec, imp.Name)
			sec.WriteByte(0x00) // func import
			writeU32(&sec, uint32(i))
		}
		writeSection(&w, secImport, sec.Bytes())
	}

	if len(m.Funcs) > 0 {
		var sec bytes.Buffer
		writeU32(&sec, uint32(len(m.Funcs)))
		for i := range m.Funcs {
			writeU32(&sec, uint32(len(m.Imports)+i))
		}
		writeSection(&w, secFunction, sec.Bytes())
	}

	if m.HasMemory {
		var sec bytes.Buffer
		writeU32(&sec, 1)
		if m.MemoryMax > 0 {
			sec.WriteByte(0x01)
			writeU32(&sec, m.MemoryMin)
			writeU32(&sec, m.MemoryMax)
		} else {
			sec.WriteByte(0x00)
			writeU32(&sec, m.MemoryMin)
		}
		writeSection(&w, secMemory, sec.Bytes())
	}

	var exports bytes.Buffer
	var exportCount uint32
	if m.HasMemory {
		writeName(&exports, "memory")
		exports.WriteByte(0x02) // memory export
		writeU32(&exports, 0)
		exportCount++
	}
	for i, fn := range m.Funcs {
		if fn.Name == "" {
			continue
		}
		writeName(&exports, fn.Name)
		exports.WriteByte(0x00) // func export
		writeU32(&exports, uint32(len(m.Imports)+i))
		exportCount++
	}
	if exportCount > 0 {
		var sec bytes.Buffer
		writeU32(&sec, exportCount)
		sec.Write(exports.Bytes())
		writeSection(&w, secExport, sec.Bytes())
	}

	if len(m.Funcs) > 0 {
		var sec bytes.Buffer
		writeU32(&sec, uint32(len(m.Funcs)))
		for _, fn := range m.Funcs {
			var body bytes.Buffer
			writeU32(&body, 0) // no locals
			body.Write(fn.Body)
			body.WriteByte(OpEnd)
			writeU32(&sec, uint32(body.Len()))
			sec.Write(body.Bytes())
		}
		writeSection(&w, secCode, sec.Bytes())
	}

	if len(m.Segments) > 0 {
		var sec bytes.Buffer
		writeU32(&sec, uint32(len(m.Segments)))
		for _, seg := range m.Segments {
			sec.WriteByte(0x00) // active segment, memory 0
			sec.WriteByte(OpI32Const)
			writeS32(&sec, int32(seg.Offset))
			sec.WriteByte(OpEnd)
			writeU32(&sec, uint32(len(seg.Bytes)))
			sec.Write(seg.Bytes)
		}
		writeSection(&w, secData, sec.Bytes())
	}

	return w.Bytes()
}

// ConstI32 emits an i32.const instruction.
func ConstI32(v int32) []byte {
	var b bytes.Buffer
	b.WriteByte(OpI32Const)
	writeS32(&b, v)
	return b.Bytes()
}

// CallFunc emits a call to the given function index.
func CallFunc(idx uint32) []byte {
	var b bytes.Buffer
	b.WriteByte(OpCall)
	writeU32(&b, idx)
	return b.Bytes()
}

// Instrs concatenates instruction fragments into one body.
func Instrs(parts ...[]byte) []byte {
	var b bytes.Buffer
	for _, p := range parts {
		b.Write(p)
	}
	return b.Bytes()
}

func writeFuncType(w *bytes.Buffer, params, results []byte) {
	w.WriteByte(0x60)
	writeU32(w, uint32(len(params)))
	w.Write(params)
	writeU32(w, uint32(len(results)))
	w.Write(results)
}

func writeSection(w *bytes.Buffer, id byte, contents []byte) {
	w.WriteByte(id)
	writeU32(w, uint32(len(contents)))
	w.Write(contents)
}

func writeName(w *bytes.Buffer, name string) {
	writeU32(w, uint32(len(name)))
	w.WriteString(name)
}

// writeU32 writes an unsigned LEB128 value
func writeU32(w *bytes.Buffer, v uint32) {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		w.WriteByte(b)
		if v == 0 {
			return
		}
	}
}

// writeS32 writes a signed LEB128 value
func writeS32(w *bytes.Buffer, v int32) {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if (v == 0 && b&0x40 == 0) || (v == -1 && b&0x40 != 0) {
			w.WriteByte(b)
			return
		}
		w.WriteByte(b | 0x80)
	}
}
