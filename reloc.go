// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pe

import "encoding/binary"

// ImageBaseRelocationEntryType names the kind of fixup a relocation entry
// performs; only DIR64 is meaningful on x64, the rest are recognized for
// fidelity with the on-disk format.
type ImageBaseRelocationEntryType uint8

const (
	ImageRelBasedAbsolute = ImageBaseRelocationEntryType(0)
	ImageRelBasedHigh     = ImageBaseRelocationEntryType(1)
	ImageRelBasedLow      = ImageBaseRelocationEntryType(2)
	ImageRelBasedHighLow  = ImageBaseRelocationEntryType(3)
	ImageRelBasedHighAdj  = ImageBaseRelocationEntryType(4)
	ImageRelBasedDir64    = ImageBaseRelocationEntryType(10)
)

// ImageBaseRelocation is a block header: 8 bytes, followed by
// (SizeOfBlock-8)/2 packed 16-bit entries (§3).
type ImageBaseRelocation struct {
	VirtualAddress uint32 `json:"virtual_address"`
	SizeOfBlock    uint32 `json:"size_of_block"`
}

// ImageBaseRelocationEntry is one packed 16-bit relocation slot: type in the
// high 4 bits, offset in the low 12 (§3, §4.6).
type ImageBaseRelocationEntry struct {
	Type   ImageBaseRelocationEntryType `json:"type"`
	Offset uint16                       `json:"offset"`
}

// Relocation pairs a block header with its decoded entries.
type Relocation struct {
	Block   ImageBaseRelocation        `json:"block"`
	Entries []ImageBaseRelocationEntry `json:"entries"`
}

// parseRelocDirectory implements §4.6: it walks relocation blocks starting
// at the directory's mapped offset, bounded by offset+size, decoding each
// block's packed 16-bit entries and advancing by the block's own
// SizeOfBlock until the directory is exhausted.
func (pe *File) parseRelocDirectory(rva, size uint32) error {
	if rva == 0 {
		return nil
	}

	blockHeaderSize := uint32(binary.Size(ImageBaseRelocation{}))
	startOffset, err := pe.GetOffsetFromRva(rva)
	if err != nil {
		return err
	}
	endOffset := startOffset + size

	offset := startOffset
	for offset < endOffset {
		var block ImageBaseRelocation
		if err := pe.structUnpack(&block, offset, blockHeaderSize); err != nil {
			return err
		}

		if block.SizeOfBlock == 0 {
			break
		}
		if block.SizeOfBlock < blockHeaderSize {
			pe.addAnomaly(AnoUnboundedRelocationBlock)
			break
		}

		entryCount := (block.SizeOfBlock - blockHeaderSize) / 2
		entries := make([]ImageBaseRelocationEntry, 0, entryCount)
		for i := uint32(0); i < entryCount; i++ {
			raw, err := pe.ReadUint16(offset + blockHeaderSize + i*2)
			if err != nil {
				break
			}
			entries = append(entries, ImageBaseRelocationEntry{
				Type:   ImageBaseRelocationEntryType(raw >> 12),
				Offset: raw & 0x0fff,
			})
		}

		pe.Relocations = append(pe.Relocations, Relocation{Block: block, Entries: entries})

		if offset+block.SizeOfBlock <= offset {
			break // guard against a zero/overflowing advance
		}
		offset += block.SizeOfBlock
	}

	pe.HasReloc = len(pe.Relocations) > 0
	return nil
}
