// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pe

import (
	"encoding/binary"
	"math"
	"sort"
	"strings"
)

// ImageScnMemExecute marks a section as containing executable code loaded
// into memory (§3's "invariant used at query time").
const ImageScnMemExecute = 0x20000000

// ImageSectionHeader is one row of the section table, 40 bytes, no padding.
type ImageSectionHeader struct {
	Name                 [8]uint8 `json:"name"`
	VirtualSize          uint32   `json:"virtual_size"`
	VirtualAddress       uint32   `json:"virtual_address"`
	SizeOfRawData        uint32   `json:"size_of_raw_data"`
	PointerToRawData     uint32   `json:"pointer_to_raw_data"`
	PointerToRelocations uint32   `json:"pointer_to_relocations"`
	PointerToLineNumbers uint32   `json:"pointer_to_line_numbers"`
	NumberOfRelocations  uint16   `json:"number_of_relocations"`
	NumberOfLineNumbers  uint16   `json:"number_of_line_numbers"`
	Characteristics      uint32   `json:"characteristics"`
}

// Section is a parsed section header plus, optionally, its entropy.
type Section struct {
	Header  ImageSectionHeader `json:"header"`
	Entropy float64            `json:"entropy,omitempty"`
}

// Name trims the section's fixed 8-byte slot at the first NUL (§9,
// "NUL-terminated names vs. 8-byte slots").
func (section *Section) Name() string {
	name := string(section.Header.Name[:])
	if i := strings.IndexByte(name, 0); i >= 0 {
		name = name[:i]
	}
	return name
}

// Contains reports whether rva falls within this section's virtual range
// (§4.3 invariant 2, §8 property 1): VirtualAddress <= rva < VirtualAddress
// + VirtualSize.
func (section *Section) Contains(rva uint32) bool {
	start := section.Header.VirtualAddress
	end := start + section.Header.VirtualSize
	return rva >= start && rva < end
}

// Data returns a copy of this section's raw on-disk region when rva and
// length are both zero, else the bytes of [rva, rva+length) (§4.4).
func (section *Section) Data(pe *File, rva, length uint32) []byte {
	ptr := section.Header.PointerToRawData
	size := section.Header.SizeOfRawData
	if rva == 0 && length == 0 {
		end := ptr + size
		if end > pe.size {
			end = pe.size
		}
		if ptr > end {
			return nil
		}
		out := make([]byte, end-ptr)
		copy(out, pe.data[ptr:end])
		return out
	}
	offset := ptr + (rva - section.Header.VirtualAddress)
	end := offset + length
	if end > pe.size {
		end = pe.size
	}
	if offset > end {
		return nil
	}
	out := make([]byte, end-offset)
	copy(out, pe.data[offset:end])
	return out
}

// CalculateEntropy computes the Shannon entropy, in bits per byte, of this
// section's raw data. Only computed when Options.SectionEntropy is set.
func (section *Section) CalculateEntropy(pe *File) float64 {
	data := section.Data(pe, 0, 0)
	if len(data) == 0 {
		return 0
	}
	var histogram [256]int
	for _, b := range data {
		histogram[b]++
	}
	entropy := 0.0
	size := float64(len(data))
	for _, count := range histogram {
		if count == 0 {
			continue
		}
		p := float64(count) / size
		entropy -= p * math.Log2(p)
	}
	return entropy
}

// ParseSectionHeader implements step 6 of the header parser (§4.2): it
// reads NumberOfSections contiguous ImageSectionHeader records starting
// right after the optional header, then sorts them by VirtualAddress so
// later RVA lookups behave predictably over overlapping/out-of-order
// tables.
func (pe *File) ParseSectionHeader() error {
	optionalHeaderOffset := pe.DOSHeader.AddressOfNewEXEHeader + 4 +
		uint32(binary.Size(pe.NtHeader.FileHeader))
	offset := optionalHeaderOffset + uint32(pe.NtHeader.FileHeader.SizeOfOptionalHeader)

	numberOfSections := pe.NtHeader.FileHeader.NumberOfSections
	var hdr ImageSectionHeader
	hdrSize := uint32(binary.Size(hdr))

	for i := uint16(0); i < numberOfSections; i++ {
		if err := pe.structUnpack(&hdr, offset, hdrSize); err != nil {
			return err
		}

		sec := Section{Header: hdr}
		if secEnd := int64(hdr.PointerToRawData) + int64(hdr.SizeOfRawData); secEnd > pe.OverlayOffset {
			pe.OverlayOffset = secEnd
		}
		if hdr.PointerToRawData+hdr.SizeOfRawData > pe.size {
			pe.addAnomaly("Section `" + sec.Name() + "` SizeOfRawData is larger than the file")
		}

		if pe.opts.SectionEntropy {
			sec.Entropy = sec.CalculateEntropy(pe)
		}
		pe.Sections = append(pe.Sections, sec)
		offset += hdrSize
	}

	sort.Sort(byVirtualAddress(pe.Sections))

	headerEnd := offset
	if headerEnd > pe.size {
		headerEnd = pe.size
	}
	pe.Header = append([]byte(nil), pe.data[:headerEnd]...)

	pe.HasSections = true
	return nil
}

// SectionView is one entry returned by AllSections and ExecutableSections
// (§4.4).
type SectionView struct {
	Name            string `json:"name"`
	Data            []byte `json:"-"`
	VirtualAddrAbs  uint64 `json:"virtual_address_abs"`
	Executable      bool   `json:"executable"`
}

// AllSections returns every section as a SectionView, honouring image-base
// overrides in VirtualAddrAbs (§4.4).
func (pe *File) AllSections() []SectionView {
	base := pe.GetImageBase()
	views := make([]SectionView, 0, len(pe.Sections))
	for i := range pe.Sections {
		s := &pe.Sections[i]
		views = append(views, SectionView{
			Name:           s.Name(),
			Data:           s.Data(pe, 0, 0),
			VirtualAddrAbs: base + uint64(s.Header.VirtualAddress),
			Executable:     s.Header.Characteristics&ImageScnMemExecute != 0,
		})
	}
	return views
}

// ExecutableSections implements executable_sections() of §4.4: every
// section carrying the MEM_EXECUTE characteristic.
func (pe *File) ExecutableSections() []SectionView {
	all := pe.AllSections()
	out := all[:0:0]
	for _, v := range all {
		if v.Executable {
			out = append(out, v)
		}
	}
	return out
}

// SectionData implements section_data(name) of §4.4: the first section
// whose trimmed name starts with name.
func (pe *File) SectionData(name string) ([]byte, error) {
	for i := range pe.Sections {
		if strings.HasPrefix(pe.Sections[i].Name(), name) {
			return pe.Sections[i].Data(pe, 0, 0), nil
		}
	}
	return nil, ErrSectionNotFound
}

// TextSectionData implements text_section_data() of §4.4.
func (pe *File) TextSectionData() ([]byte, error) {
	return pe.SectionData(".text")
}

type byVirtualAddress []Section

func (s byVirtualAddress) Len() int      { return len(s) }
func (s byVirtualAddress) Swap(i, j int) { s[i], s[j] = s[j], s[i] }
func (s byVirtualAddress) Less(i, j int) bool {
	return s[i].Header.VirtualAddress < s[j].Header.VirtualAddress
}
