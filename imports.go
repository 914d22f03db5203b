// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pe

const (
	imageOrdinalFlag64   = uint64(0x8000000000000000)
	addressMask64        = uint64(0x7fffffffffffffff)
	maxDllLength         = 0x200
	maxImportNameLength  = 0x200
	maxRepeatedThunks    = 16
)

// ImageImportDescriptor is one per-DLL entry in the import directory. The
// walk stops at the first descriptor whose OriginalFirstThunk is zero (§4.5).
type ImageImportDescriptor struct {
	OriginalFirstThunk uint32 `json:"original_first_thunk"` // RVA of the Import Lookup Table.
	TimeDateStamp      uint32 `json:"time_date_stamp"`
	ForwarderChain     uint32 `json:"forwarder_chain"`
	Name               uint32 `json:"name"`
	FirstThunk         uint32 `json:"first_thunk"` // RVA of the Import Address Table.
}

// ImportFunction is one resolved entry in a DLL's import table (§3).
type ImportFunction struct {
	Name               string `json:"name,omitempty"`
	Hint               uint16 `json:"hint,omitempty"`
	ByOrdinal          bool   `json:"by_ordinal"`
	Ordinal            uint16 `json:"ordinal,omitempty"`
	ThunkRVA           uint32 `json:"thunk_rva"`
}

// Import is one DLL's import descriptor plus its resolved functions.
type Import struct {
	Name       string                `json:"name"`
	Functions  []ImportFunction      `json:"functions"`
	Descriptor ImageImportDescriptor `json:"descriptor"`
}

// parseImportDirectory implements §4.5 end to end: it walks the import
// descriptor array, resolves each DLL name, then walks that DLL's ILT in
// 8-byte strides decoding ordinal- and name-imports until a zero entry.
func (pe *File) parseImportDirectory(rva, size uint32) error {
	if rva == 0 {
		return nil
	}

	offset, err := pe.GetOffsetFromRva(rva)
	if err != nil {
		return err
	}

	descriptorSize := uint32(20)
	for {
		var descriptor ImageImportDescriptor
		if err := pe.structUnpack(&descriptor, offset, descriptorSize); err != nil {
			break
		}
		if descriptor.OriginalFirstThunk == 0 {
			break
		}

		dllName, err := pe.getStringAtRVA(descriptor.Name, maxDllLength)
		if err != nil {
			return err
		}

		functions, err := pe.parseImportThunks(descriptor.OriginalFirstThunk, descriptor.FirstThunk)
		if err != nil {
			return err
		}

		pe.Imports = append(pe.Imports, Import{
			Name:       dllName,
			Functions:  functions,
			Descriptor: descriptor,
		})

		offset += descriptorSize
		if offset+descriptorSize > pe.size {
			break
		}
	}

	pe.HasImport = len(pe.Imports) > 0
	return nil
}

// parseImportThunks walks the ILT at iltRVA, decoding each 8-byte entry as
// either an ordinal or name import and pairing it with its IAT thunk RVA
// (§4.5 steps 2-3).
func (pe *File) parseImportThunks(iltRVA, iatRVA uint32) ([]ImportFunction, error) {
	if iltRVA == 0 {
		return nil, nil
	}

	iltOffset, err := pe.GetOffsetFromRva(iltRVA)
	if err != nil {
		return nil, err
	}

	var functions []ImportFunction
	repeated := 0
	var lastEntry uint64

	for index := uint32(0); ; index++ {
		entry, err := pe.ReadUint64(iltOffset + index*8)
		if err != nil {
			pe.addAnomaly(AnoInvalidThunkAddressOfData)
			break
		}
		if entry == 0 {
			break
		}

		if entry == lastEntry {
			repeated++
			if repeated > maxRepeatedThunks {
				pe.addAnomaly(AnoManyRepeatedThunks)
				break
			}
		} else {
			repeated = 0
		}
		lastEntry = entry

		thunkRVA := iatRVA + index*8
		fn := ImportFunction{ThunkRVA: thunkRVA}

		if entry&imageOrdinalFlag64 != 0 {
			fn.ByOrdinal = true
			fn.Ordinal = uint16(entry & 0xFFFF)
		} else {
			hintNameRVA := uint32(entry & 0x7FFFFFFF)
			hintOffset, err := pe.GetOffsetFromRva(hintNameRVA)
			if err != nil {
				pe.addAnomaly(AnoInvalidThunkAddressOfData)
				break
			}
			hint, err := pe.ReadUint16(hintOffset)
			if err != nil {
				return nil, err
			}
			name, err := pe.getStringAtOffset(hintOffset+2, maxImportNameLength)
			if err != nil {
				return nil, err
			}
			fn.Hint = hint
			fn.Name = name
		}

		functions = append(functions, fn)
	}

	return functions, nil
}
