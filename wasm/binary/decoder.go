// Package binary decodes the WebAssembly 1.0 binary format into the
// structured module representation.
package binary

import (
	"github.com/kpio-os/wasmcore/wasm"
)

// Magic is the 4-byte module preamble, "\0asm".
var Magic = []byte{0x00, 0x61, 0x73, 0x6d}

// Version is the only supported binary format version.
var Version = []byte{0x01, 0x00, 0x00, 0x00}

// Section ids in the binary format.
const (
	SectionIDCustom byte = iota
	SectionIDType
	SectionIDImport
	SectionIDFunction
	SectionIDTable
	SectionIDMemory
	SectionIDGlobal
	SectionIDExport
	SectionIDStart
	SectionIDElement
	SectionIDCode
	SectionIDData
	SectionIDDataCount
)

// SectionIDName returns a human-readable section name.
func SectionIDName(id byte) string {
	switch id {
	case SectionIDCustom:
		return "custom"
	case SectionIDType:
		return "type"
	case SectionIDImport:
		return "import"
	case SectionIDFunction:
		return "function"
	case SectionIDTable:
		return "table"
	case SectionIDMemory:
		return "memory"
	case SectionIDGlobal:
		return "global"
	case SectionIDExport:
		return "export"
	case SectionIDStart:
		return "start"
	case SectionIDElement:
		return "element"
	case SectionIDCode:
		return "code"
	case SectionIDData:
		return "data"
	case SectionIDDataCount:
		return "data count"
	}
	return "unknown"
}

// DecodeModule parses a .wasm byte stream. It either returns a Module or a
// *ParseError whose offset is within the input; it never reads past the
// buffer.
func DecodeModule(bin []byte) (*wasm.Module, error) {
	r := NewReader(bin)

	magic, err := r.ReadBytes(4)
	if err != nil {
		return nil, newError(KindInvalidMagic, 0)
	}
	for i := range Magic {
		if magic[i] != Magic[i] {
			return nil, newError(KindInvalidMagic, 0)
		}
	}
	version, err := r.ReadUint32LE()
	if err != nil {
		return nil, err
	}
	if version != 1 {
		return nil, newError(KindUnsupportedVersion, 4)
	}

	m := &wasm.Module{}
	seen := map[byte]bool{}
	for !r.IsEmpty() {
		sectionStart := r.AbsolutePosition()
		id, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		size, err := r.ReadLeb128U32()
		if err != nil {
			return nil, err
		}
		if int(size) > r.Remaining() {
			return nil, newError(KindSectionSizeExceedsInput, sectionStart)
		}
		if id != SectionIDCustom {
			if seen[id] {
				return nil, newByteError(KindDuplicateSection, sectionStart, id)
			}
			seen[id] = true
		}
		sr, err := r.SubReader(r.Position(), int(size))
		if err != nil {
			return nil, err
		}
		if err := decodeSection(m, id, sr); err != nil {
			return nil, err
		}
		if err := r.Skip(int(size)); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func decodeSection(m *wasm.Module, id byte, r *Reader) (err error) {
	switch id {
	case SectionIDCustom:
		decodeCustomSection(m, r)
	case SectionIDType:
		m.TypeSection, err = decodeTypeSection(r)
	case SectionIDImport:
		m.ImportSection, err = decodeImportSection(r)
	case SectionIDFunction:
		m.FunctionSection, err = decodeFunctionSection(r)
	case SectionIDTable:
		m.TableSection, err = decodeTableSection(r)
	case SectionIDMemory:
		m.MemorySection, err = decodeMemorySection(r)
	case SectionIDGlobal:
		m.GlobalSection, err = decodeGlobalSection(r)
	case SectionIDExport:
		m.ExportSection, err = decodeExportSection(r)
	case SectionIDStart:
		var idx uint32
		idx, err = r.ReadLeb128U32()
		if err == nil {
			m.StartSection = &idx
		}
	case SectionIDElement:
		m.ElementSection, err = decodeElementSection(r)
	case SectionIDCode:
		m.CodeSection, err = decodeCodeSection(r)
	case SectionIDData:
		m.DataSection, err = decodeDataSection(r)
	case SectionIDDataCount:
		var count uint32
		count, err = r.ReadLeb128U32()
		if err == nil {
			m.DataCountSection = &count
		}
	default:
		// Unknown section ids are skipped; the caller advances past the body.
	}
	return err
}

// decodeCustomSection extracts the module name from the "name" custom
// section (subsection 0). Malformed name sections are ignored, as are all
// other custom sections.
func decodeCustomSection(m *wasm.Module, r *Reader) {
	name, err := r.ReadName()
	if err != nil || name != "name" {
		return
	}
	for !r.IsEmpty() {
		id, err := r.ReadByte()
		if err != nil {
			return
		}
		size, err := r.ReadLeb128U32()
		if err != nil {
			return
		}
		if id == 0 {
			moduleName, err := r.ReadName()
			if err != nil {
				return
			}
			m.ModuleName = moduleName
			return
		}
		if r.Skip(int(size)) != nil {
			return
		}
	}
}
