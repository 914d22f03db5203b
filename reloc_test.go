// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pe

import (
	"encoding/binary"
	"testing"
)

func TestParseRelocDirectory(t *testing.T) {
	b := newPETestBuilder()

	block := ImageBaseRelocation{VirtualAddress: 0x2000, SizeOfBlock: 8 + 2*3}
	blockRVA := b.placeStruct(block)
	b.placeUint16(uint16(ImageRelBasedDir64)<<12 | 0x010)
	b.placeUint16(uint16(ImageRelBasedDir64)<<12 | 0x018)
	b.placeUint16(uint16(ImageRelBasedAbsolute)<<12 | 0x000) // padding entry

	var dirs [16]DataDirectory
	dirs[ImageDirectoryEntryBaseReloc] = DataDirectory{VirtualAddress: blockRVA, Size: block.SizeOfBlock}
	img := b.build(dirs)

	file := buildAndParse(t, img)

	if len(file.Relocations) != 1 {
		t.Fatalf("relocation block count assertion failed, got %d, want 1", len(file.Relocations))
	}
	reloc := file.Relocations[0]
	if reloc.Block.VirtualAddress != 0x2000 {
		t.Errorf("block VA assertion failed, got %#x, want %#x", reloc.Block.VirtualAddress, 0x2000)
	}
	if len(reloc.Entries) != 3 {
		t.Fatalf("entry count assertion failed, got %d, want 3", len(reloc.Entries))
	}
	if reloc.Entries[0].Type != ImageRelBasedDir64 || reloc.Entries[0].Offset != 0x010 {
		t.Errorf("entry[0] assertion failed, got %+v", reloc.Entries[0])
	}
	if !file.HasReloc {
		t.Errorf("HasReloc not set")
	}
}

func TestParseRelocDirectoryUnboundedBlockAnomaly(t *testing.T) {
	b := newPETestBuilder()

	block := ImageBaseRelocation{VirtualAddress: 0x2000, SizeOfBlock: 2} // smaller than the 8-byte header
	blockRVA := b.placeStruct(block)

	var dirs [16]DataDirectory
	dirs[ImageDirectoryEntryBaseReloc] = DataDirectory{
		VirtualAddress: blockRVA,
		Size:           uint32(binary.Size(block)),
	}
	img := b.build(dirs)

	file := buildAndParse(t, img)

	if !stringInSlice(AnoUnboundedRelocationBlock, file.Anomalies) {
		t.Errorf("expected %s, got %v", AnoUnboundedRelocationBlock, file.Anomalies)
	}
}
