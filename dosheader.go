// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pe

import "encoding/binary"

// ImageDOSHeader represents the DOS stub of a PE. Every PE file begins with
// a small MS-DOS stub whose only required field, for our purposes, is
// AddressOfNewEXEHeader (e_lfanew), the offset of the NT headers.
type ImageDOSHeader struct {
	Magic                    uint16     `json:"magic"`
	BytesOnLastPageOfFile    uint16     `json:"bytes_on_last_page_of_file"`
	PagesInFile              uint16     `json:"pages_in_file"`
	Relocations              uint16     `json:"relocations"`
	SizeOfHeader             uint16     `json:"size_of_header"`
	MinExtraParagraphsNeeded uint16     `json:"min_extra_paragraphs_needed"`
	MaxExtraParagraphsNeeded uint16     `json:"max_extra_paragraphs_needed"`
	InitialSS                uint16     `json:"initial_ss"`
	InitialSP                uint16     `json:"initial_sp"`
	Checksum                 uint16     `json:"checksum"`
	InitialIP                uint16     `json:"initial_ip"`
	InitialCS                uint16     `json:"initial_cs"`
	AddressOfRelocationTable uint16     `json:"address_of_relocation_table"`
	OverlayNumber            uint16     `json:"overlay_number"`
	ReservedWords1           [4]uint16  `json:"reserved_words_1"`
	OEMIdentifier            uint16     `json:"oem_identifier"`
	OEMInformation           uint16     `json:"oem_information"`
	ReservedWords2           [10]uint16 `json:"reserved_words_2"`
	AddressOfNewEXEHeader    uint32     `json:"address_of_new_exe_header"`
}

// ParseDOSHeader implements step 1 of the header parser (§4.2): it reads
// the fixed 64-byte DOS header at offset 0 and validates the magic and
// e_lfanew bounds needed to locate the NT headers.
func (pe *File) ParseDOSHeader() error {
	size := uint32(binary.Size(pe.DOSHeader))
	if err := pe.structUnpack(&pe.DOSHeader, 0, size); err != nil {
		return err
	}

	if pe.DOSHeader.Magic != ImageDOSSignature {
		return ErrDOSMagicNotFound
	}

	// e_lfanew can't be null (it would make the DOS and NT signatures
	// overlap) and can't point past the end of the image.
	if pe.DOSHeader.AddressOfNewEXEHeader < 4 ||
		uint64(pe.DOSHeader.AddressOfNewEXEHeader) > uint64(pe.size) {
		return ErrInvalidElfanewValue
	}

	// A tiny PE has e_lfanew == 4: the NT headers overlap the tail of the
	// DOS header. Not fatal, but worth flagging.
	if pe.DOSHeader.AddressOfNewEXEHeader <= 0x3c {
		pe.addAnomaly(AnoPEHeaderOverlapDOSHeader)
	}

	pe.HasDOSHdr = true
	return nil
}
