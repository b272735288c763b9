// Package binary implements the WebAssembly binary format: decoding a byte stream into an internal/wasm.Module,
// and the structural (not semantic) validation the core specification requires of every section as it is read.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#binary-format%E2%91%A0
package binary

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"io"
	"unicode/utf8"

	"github.com/wazerocore/wazerocore/api"
	"github.com/wazerocore/wazerocore/internal/leb128"
	"github.com/wazerocore/wazerocore/internal/wasm"
)

var magic = [4]byte{0x00, 0x61, 0x73, 0x6d}

const version = uint32(1)

// sectionID identifies a top-level section of a binary module, in the canonical order the specification requires.
type sectionID = byte

const (
	sectionIDCustom sectionID = iota
	sectionIDType
	sectionIDImport
	sectionIDFunction
	sectionIDTable
	sectionIDMemory
	sectionIDGlobal
	sectionIDExport
	sectionIDStart
	sectionIDElement
	sectionIDCode
	sectionIDData
	sectionIDDataCount // only valid when CoreFeatureBulkMemoryOperations is enabled
)

// DecodeModule decodes and structurally validates binary, a complete Wasm binary module, against the given set of
// enabled features. It does not run the function-body type-checking pass: call validate.Module for that.
func DecodeModule(binary []byte, enabledFeatures api.CoreFeatures) (*wasm.Module, error) {
	r := bytes.NewReader(binary)

	var magicRead [4]byte
	if n, err := io.ReadFull(r, magicRead[:]); err != nil || n != 4 || magicRead != magic {
		return nil, wasm.NewDecodeError("invalid magic number")
	}

	var versionRead [4]byte
	if _, err := io.ReadFull(r, versionRead[:]); err != nil {
		return nil, wasm.NewDecodeError("invalid version: %v", err)
	}
	if leLoad32(versionRead[:]) != version {
		return nil, wasm.NewDecodeError("invalid version header")
	}

	m := &wasm.Module{ExportSection: map[string]*wasm.Export{}}

	// lastSectionRank tracks the canonical position of the last non-custom section seen, to enforce the ordering
	// that sections (other than custom ones, which may appear anywhere) must appear in. Position, not raw ID: the
	// data count section's ID is 12 but it sits between the element and code sections.
	lastSectionRank := 0
	var codeSectionSeen, dataCountSeen bool
	var declaredDataCount uint32

	for {
		id, err := r.ReadByte()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, wasm.NewDecodeError("error decoding section ID: %v", err)
		}

		size, _, err := leb128.DecodeUint32(r)
		if err != nil {
			return nil, wasm.NewDecodeError("error decoding section size: %v", err)
		}

		payload := make([]byte, size)
		if _, err := io.ReadFull(r, payload); err != nil {
			return nil, wasm.NewDecodeError("error reading section payload: %v", err)
		}

		if id != sectionIDCustom {
			rank, known := sectionRank(id)
			if !known {
				return nil, wasm.NewDecodeError("invalid section id: %d", id)
			}
			if rank <= lastSectionRank {
				return nil, wasm.NewDecodeError("invalid section order: id=%d", id)
			}
			lastSectionRank = rank
		}

		pr := bytes.NewReader(payload)
		switch id {
		case sectionIDCustom:
			if err := decodeCustomSection(pr, size, m); err != nil {
				return nil, err
			}
		case sectionIDType:
			if m.TypeSection, err = decodeTypeSection(pr); err != nil {
				return nil, err
			}
		case sectionIDImport:
			if m.ImportSection, err = decodeImportSection(pr, enabledFeatures); err != nil {
				return nil, err
			}
		case sectionIDFunction:
			if m.FunctionSection, err = decodeFunctionSection(pr); err != nil {
				return nil, err
			}
		case sectionIDTable:
			if m.TableSection, err = decodeTableSection(pr); err != nil {
				return nil, err
			}
		case sectionIDMemory:
			if m.MemorySection, err = decodeMemorySection(pr); err != nil {
				return nil, err
			}
		case sectionIDGlobal:
			if m.GlobalSection, err = decodeGlobalSection(pr, enabledFeatures); err != nil {
				return nil, err
			}
		case sectionIDExport:
			if err := decodeExportSection(pr, m); err != nil {
				return nil, err
			}
		case sectionIDStart:
			idx, _, err := leb128.DecodeUint32(pr)
			if err != nil {
				return nil, wasm.NewDecodeError("error decoding start section: %v", err)
			}
			m.StartSection = &idx
		case sectionIDElement:
			if m.ElementSection, err = decodeElementSection(pr); err != nil {
				return nil, err
			}
		case sectionIDDataCount:
			if err := enabledFeatures.RequireEnabled(api.CoreFeatureBulkMemoryOperations); err != nil {
				return nil, wasm.NewUnsupportedFeature("bulk-memory-operations (data count section)")
			}
			n, _, err := leb128.DecodeUint32(pr)
			if err != nil {
				return nil, wasm.NewDecodeError("error decoding data count section: %v", err)
			}
			declaredDataCount = n
			dataCountSeen = true
			m.DataCountSection = &n
		case sectionIDCode:
			if m.CodeSection, err = decodeCodeSection(pr); err != nil {
				return nil, err
			}
			codeSectionSeen = true
		case sectionIDData:
			if m.DataSection, err = decodeDataSection(pr); err != nil {
				return nil, err
			}
			if dataCountSeen && uint32(len(m.DataSection)) != declaredDataCount {
				return nil, wasm.NewDecodeError("data count section (%d) does not match data section (%d)", declaredDataCount, len(m.DataSection))
			}
		default:
			return nil, wasm.NewDecodeError("invalid section id: %d", id)
		}
	}

	if !codeSectionSeen && len(m.FunctionSection) > 0 {
		return nil, wasm.NewDecodeError("function and code section have inconsistent lengths")
	}
	if len(m.FunctionSection) != len(m.CodeSection) {
		return nil, wasm.NewDecodeError("function and code section have inconsistent lengths")
	}

	// ID keys the engine's compiled-code cache: two distinct binaries must never collide, so it is a content hash
	// of the raw bytes rather than anything derived from the decoded sections.
	m.ID = wasm.ModuleID(sha256.Sum256(binary))

	return m, nil
}

// sectionRank returns a section ID's canonical position. Ranks mostly follow IDs, except the data count section
// (added by the bulk memory proposal after the ID space was assigned) slots in just before the code section.
func sectionRank(id sectionID) (rank int, known bool) {
	switch id {
	case sectionIDType, sectionIDImport, sectionIDFunction, sectionIDTable, sectionIDMemory,
		sectionIDGlobal, sectionIDExport, sectionIDStart, sectionIDElement:
		return int(id), true
	case sectionIDDataCount:
		return 10, true
	case sectionIDCode:
		return 11, true
	case sectionIDData:
		return 12, true
	}
	return 0, false
}

func decodeCustomSection(r *bytes.Reader, size uint32, m *wasm.Module) error {
	name, _, err := decodeString(r)
	if err != nil {
		// An unreadable custom section name is not fatal: custom sections are always safe to skip.
		return nil
	}
	if name == "name" {
		// Best-effort: malformed name sub-sections never fail decode of the whole module.
		if ns, err := decodeNameSection(r); err == nil {
			m.NameSection = ns
		}
	}
	return nil
}

func decodeString(r *bytes.Reader) (string, uint32, error) {
	size, _, err := leb128.DecodeUint32(r)
	if err != nil {
		return "", 0, fmt.Errorf("could not decode string size: %w", err)
	}
	buf := make([]byte, size)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", 0, fmt.Errorf("could not read string of length %d: %w", size, err)
	}
	if !utf8.Valid(buf) {
		return "", 0, wasm.NewDecodeError("invalid utf-8 string")
	}
	return string(buf), size, nil
}

func leLoad32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}
