// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pe

import (
	"bytes"
	"encoding/binary"
	"errors"
	"strings"
)

// TinyPESize is the smallest possible PE executable, per the Windows XP (x32)
// corkami corpus; anything shorter is rejected before header parsing starts.
const TinyPESize = 97

// Sentinel errors for the fatal format violations of §7 plus the
// byte-span reader's bounds failures. These are package-level so callers
// can match them with errors.Is.
var (
	ErrInvalidPESize                      = errors.New("not a PE file, smaller than the minimum possible PE size")
	ErrDOSMagicNotFound                   = errors.New("DOS header magic not found")
	ErrInvalidElfanewValue                = errors.New("invalid e_lfanew value, probably not a PE file")
	ErrImageOS2SignatureFound             = errors.New("not a valid PE signature, looks like an NE file")
	ErrImageOS2LESignatureFound           = errors.New("not a valid PE signature, looks like an LE file")
	ErrImageVXDSignatureFound             = errors.New("not a valid PE signature, looks like an LX file")
	ErrImageTESignatureFound              = errors.New("not a valid PE signature, looks like a TE file")
	ErrImageNtSignatureNotFound           = errors.New("not a valid PE signature, PE00 magic not found")
	ErrUnsupportedMachine                 = errors.New("unsupported machine type, only IMAGE_FILE_MACHINE_AMD64 images are parsed")
	ErrImageNtOptionalHeaderMagicNotFound = errors.New("not a valid PE32+ image, optional header magic is not 0x20B")
	ErrImageBaseNotAligned                = errors.New("corrupt PE file, image base is not aligned to 64K")
	ErrOutsideBoundary                    = errors.New("reading data outside of the image buffer boundary")
	ErrRvaUnmapped                        = errors.New("RVA does not lie within any section")
	ErrSectionNotFound                    = errors.New("no section matches the requested name")
	ErrTruncated                          = errors.New("NUL terminator not found before the end of the buffer")
)

// IsValidDosFilename reports whether filename is composed exclusively of
// characters legal in an 8.3 FAT32 short filename (length is not checked,
// since DLL names routinely exceed 8.3).
func IsValidDosFilename(filename string) bool {
	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ" +
		"0123456789!#$%&'()-@^_`{}~+,.;=[]\\/"
	for _, c := range filename {
		if !strings.ContainsRune(charset, c) {
			return false
		}
	}
	return true
}

// getSectionByRva returns the section whose virtual range contains rva, or
// nil (§4.3, invariant 2).
func (pe *File) getSectionByRva(rva uint32) *Section {
	for i := range pe.Sections {
		if pe.Sections[i].Contains(rva) {
			return &pe.Sections[i]
		}
	}
	return nil
}

// getSectionByName returns the section whose trimmed 8-byte name equals
// name (§4.4).
func (pe *File) getSectionByName(name string) *Section {
	for i := range pe.Sections {
		if pe.Sections[i].Name() == name {
			return &pe.Sections[i]
		}
	}
	return nil
}

// GetOffsetFromRva implements the address mapper of §4.3: it finds the
// unique section containing rva and returns the corresponding file offset.
func (pe *File) GetOffsetFromRva(rva uint32) (uint32, error) {
	section := pe.getSectionByRva(rva)
	if section == nil {
		return 0, ErrRvaUnmapped
	}
	return rva - section.Header.VirtualAddress + section.Header.PointerToRawData, nil
}

// SectionNameForAddress implements §4.3's section_name_for_address query:
// it maps an absolute (image-base-relative) address to the name of the
// section whose [imageBase+VA, imageBase+VA+SizeOfRawData] range contains
// it, honouring the end-inclusive bound documented there.
func (pe *File) SectionNameForAddress(absoluteAddress uint64) string {
	imageBase := pe.GetImageBase()
	for i := range pe.Sections {
		s := &pe.Sections[i]
		start := imageBase + uint64(s.Header.VirtualAddress)
		end := start + uint64(s.Header.SizeOfRawData)
		if absoluteAddress >= start && absoluteAddress <= end {
			return s.Name()
		}
	}
	return ""
}

// getStringAtRVA reads a NUL-terminated ASCII string starting at rva,
// never reading past maxLen bytes or the end of the buffer (§4.1).
func (pe *File) getStringAtRVA(rva, maxLen uint32) (string, error) {
	if rva == 0 {
		return "", nil
	}
	offset, err := pe.GetOffsetFromRva(rva)
	if err != nil {
		return "", err
	}
	return pe.getStringAtOffset(offset, maxLen)
}

// getStringAtOffset scans forward from offset for a NUL byte, returning
// Truncated if none is found before the buffer ends or maxLen is reached.
func (pe *File) getStringAtOffset(offset, maxLen uint32) (string, error) {
	if offset >= pe.size {
		return "", ErrOutsideBoundary
	}
	end := offset
	limit := offset + maxLen
	if limit > pe.size || maxLen == 0 {
		limit = pe.size
	}
	for end < limit {
		if pe.data[end] == 0 {
			return string(pe.data[offset:end]), nil
		}
		end++
	}
	return "", ErrTruncated
}

// ReadUint64 reads a little-endian uint64 at offset.
func (pe *File) ReadUint64(offset uint32) (uint64, error) {
	if offset+8 > pe.size || offset+8 < offset {
		return 0, ErrOutsideBoundary
	}
	return binary.LittleEndian.Uint64(pe.data[offset:]), nil
}

// ReadUint32 reads a little-endian uint32 at offset.
func (pe *File) ReadUint32(offset uint32) (uint32, error) {
	if offset+4 > pe.size || offset+4 < offset {
		return 0, ErrOutsideBoundary
	}
	return binary.LittleEndian.Uint32(pe.data[offset:]), nil
}

// ReadUint16 reads a little-endian uint16 at offset.
func (pe *File) ReadUint16(offset uint32) (uint16, error) {
	if offset+2 > pe.size || offset+2 < offset {
		return 0, ErrOutsideBoundary
	}
	return binary.LittleEndian.Uint16(pe.data[offset:]), nil
}

// ReadUint8 reads a single byte at offset.
func (pe *File) ReadUint8(offset uint32) (uint8, error) {
	if offset+1 > pe.size {
		return 0, ErrOutsideBoundary
	}
	return pe.data[offset], nil
}

// structUnpack is the byte-span reader's typed-read primitive (§4.1): it
// copies size bytes verbatim from offset into iface, a fixed-layout
// little-endian record, failing BufferOverflow if the read would cross the
// end of the buffer (guarding against integer overflow in offset+size too).
func (pe *File) structUnpack(iface interface{}, offset, size uint32) error {
	totalSize := offset + size
	if (totalSize > offset) != (size > 0) {
		return ErrOutsideBoundary
	}
	if offset >= pe.size || totalSize > pe.size {
		return ErrOutsideBoundary
	}
	r := bytes.NewReader(pe.data[offset : offset+size])
	return binary.Read(r, binary.LittleEndian, iface)
}

// ReadBytesAtOffset returns a copy of size bytes starting at offset.
func (pe *File) ReadBytesAtOffset(offset, size uint32) ([]byte, error) {
	totalSize := offset + size
	if (totalSize > offset) != (size > 0) {
		return nil, ErrOutsideBoundary
	}
	if offset >= pe.size || totalSize > pe.size {
		return nil, ErrOutsideBoundary
	}
	out := make([]byte, size)
	copy(out, pe.data[offset:offset+size])
	return out, nil
}

// IsBitSet reports whether the bit at pos is set in n.
func IsBitSet(n uint64, pos uint) bool {
	return n&(1<<pos) != 0
}

// stringInSlice reports whether a occurs in list.
func stringInSlice(a string, list []string) bool {
	for _, b := range list {
		if b == a {
			return true
		}
	}
	return false
}
