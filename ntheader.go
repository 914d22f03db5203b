// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pe

import "encoding/binary"

// ImageNtHeader is the general term for the structure named IMAGE_NT_HEADERS.
type ImageNtHeader struct {
	Signature  uint32          `json:"signature"`
	FileHeader ImageFileHeader `json:"file_header"`

	// OptionalHeader is always an ImageOptionalHeader64: this parser only
	// accepts PE32+ images past ParseNTHeader (§4.2 step 4).
	OptionalHeader ImageOptionalHeader64 `json:"optional_header"`
}

// ImageFileHeader carries the physical layout and properties of the file.
type ImageFileHeader struct {
	Machine              uint16 `json:"machine"`
	NumberOfSections     uint16 `json:"number_of_sections"`
	TimeDateStamp        uint32 `json:"time_date_stamp"`
	PointerToSymbolTable uint32 `json:"pointer_to_symbol_table"`
	NumberOfSymbols      uint32 `json:"number_of_symbols"`
	SizeOfOptionalHeader uint16 `json:"size_of_optional_header"`
	Characteristics      uint16 `json:"characteristics"`
}

// ImageOptionalHeader64 is the PE32+ optional header. There is no 32-bit
// counterpart in this parser: PE32 images are detected at the magic check
// and rejected, never decoded (§4.2, S2).
type ImageOptionalHeader64 struct {
	Magic                       uint16           `json:"magic"`
	MajorLinkerVersion          uint8            `json:"major_linker_version"`
	MinorLinkerVersion          uint8            `json:"minor_linker_version"`
	SizeOfCode                  uint32           `json:"size_of_code"`
	SizeOfInitializedData       uint32           `json:"size_of_initialized_data"`
	SizeOfUninitializedData     uint32           `json:"size_of_uninitialized_data"`
	AddressOfEntryPoint         uint32           `json:"address_of_entrypoint"`
	BaseOfCode                  uint32           `json:"base_of_code"`
	ImageBase                   uint64           `json:"image_base"`
	SectionAlignment            uint32           `json:"section_alignment"`
	FileAlignment               uint32           `json:"file_alignment"`
	MajorOperatingSystemVersion uint16           `json:"major_os_version"`
	MinorOperatingSystemVersion uint16           `json:"minor_os_version"`
	MajorImageVersion           uint16           `json:"major_image_version"`
	MinorImageVersion           uint16           `json:"minor_image_version"`
	MajorSubsystemVersion       uint16           `json:"major_subsystem_version"`
	MinorSubsystemVersion       uint16           `json:"minor_subsystem_version"`
	Win32VersionValue           uint32           `json:"win32_version_value"`
	SizeOfImage                 uint32           `json:"size_of_image"`
	SizeOfHeaders                uint32           `json:"size_of_headers"`
	CheckSum                    uint32           `json:"checksum"`
	Subsystem                   uint16           `json:"subsystem"`
	DllCharacteristics          uint16           `json:"dll_characteristics"`
	SizeOfStackReserve          uint64           `json:"size_of_stack_reserve"`
	SizeOfStackCommit           uint64           `json:"size_of_stack_commit"`
	SizeOfHeapReserve           uint64           `json:"size_of_heap_reserve"`
	SizeOfHeapCommit            uint64           `json:"size_of_heap_commit"`
	LoaderFlags                 uint32           `json:"loader_flags"`
	NumberOfRvaAndSizes         uint32           `json:"number_of_rva_and_sizes"`
	DataDirectory               [16]DataDirectory `json:"data_directories"`
}

// DataDirectory is a fixed-index {virtual_address, size} pair describing a
// sub-structure within the image (§3).
type DataDirectory struct {
	VirtualAddress uint32 `json:"virtual_address"`
	Size           uint32 `json:"size"`
}

// ParseNTHeader implements steps 2-5 of the header parser (§4.2): it reads
// the NT signature, the COFF file header, and the PE32+ optional header
// (with its 16 data directories), rejecting anything that isn't an x64
// PE32+ image along the way.
func (pe *File) ParseNTHeader() error {
	ntHeaderOffset := pe.DOSHeader.AddressOfNewEXEHeader
	signature, err := pe.ReadUint32(ntHeaderOffset)
	if err != nil {
		return ErrInvalidElfanewValue
	}

	switch signature & 0xFFFF {
	case ImageOS2Signature:
		return ErrImageOS2SignatureFound
	case ImageOS2LESignature:
		return ErrImageOS2LESignatureFound
	case ImageVXDSignature:
		return ErrImageVXDSignatureFound
	case ImageTESignature:
		return ErrImageTESignatureFound
	}

	if signature != ImageNTSignature {
		return ErrImageNtSignatureNotFound
	}
	pe.NtHeader.Signature = signature

	fileHeaderSize := uint32(binary.Size(pe.NtHeader.FileHeader))
	fileHeaderOffset := ntHeaderOffset + 4
	if err := pe.structUnpack(&pe.NtHeader.FileHeader, fileHeaderOffset, fileHeaderSize); err != nil {
		return err
	}

	if pe.NtHeader.FileHeader.Machine != ImageFileMachineAMD64 {
		return ErrUnsupportedMachine
	}

	optHeaderOffset := fileHeaderOffset + fileHeaderSize
	magic, err := pe.ReadUint16(optHeaderOffset)
	if err != nil {
		return err
	}
	if magic != ImageNtOptionalHeader64Magic {
		return ErrImageNtOptionalHeaderMagicNotFound
	}

	size := uint32(binary.Size(pe.NtHeader.OptionalHeader))
	if err := pe.structUnpack(&pe.NtHeader.OptionalHeader, optHeaderOffset, size); err != nil {
		return err
	}
	pe.Is64 = true

	oh := &pe.NtHeader.OptionalHeader
	if oh.ImageBase%0x10000 != 0 {
		return ErrImageBaseNotAligned
	}
	if oh.ImageBase+uint64(oh.SizeOfImage) >= 0xffff080000000000 {
		pe.addAnomaly("Image base plus size of image exceeds the PE32+ addressable limit")
	}

	if oh.DataDirectory[ImageDirectoryEntryReserved] != (DataDirectory{}) {
		pe.addAnomaly(AnoReservedDataDirectoryEntry)
	}

	pe.HasNTHdr = true
	return nil
}
