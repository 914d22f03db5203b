// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pe

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseExportDirectory(t *testing.T) {
	b := newPETestBuilder()

	dirSize := uint32(binary.Size(ImageExportDirectory{}))
	// Reserve the export directory's own slot first: a forwarder entry
	// needs to point inside [dirRVA, dirRVA+dirSize), which isn't known
	// until the struct is placed, so it's patched in after the fact.
	dirRVA := b.place(make([]byte, dirSize))

	libNameRVA := b.placeString("mylib.dll")
	name0RVA := b.placeString("Foo")
	name1RVA := b.placeString("Bar")

	var namesBuf bytes.Buffer
	_ = binary.Write(&namesBuf, binary.LittleEndian, name0RVA)
	_ = binary.Write(&namesBuf, binary.LittleEndian, name1RVA)
	namesArrayRVA := b.place(namesBuf.Bytes())

	var ordinalsBuf bytes.Buffer
	_ = binary.Write(&ordinalsBuf, binary.LittleEndian, uint16(0))
	_ = binary.Write(&ordinalsBuf, binary.LittleEndian, uint16(1))
	ordinalsArrayRVA := b.place(ordinalsBuf.Bytes())

	const normalFuncRVA = uint32(0x9000)
	var functionsBuf bytes.Buffer
	_ = binary.Write(&functionsBuf, binary.LittleEndian, normalFuncRVA)
	_ = binary.Write(&functionsBuf, binary.LittleEndian, dirRVA) // forwarder: points back into the directory
	functionsArrayRVA := b.place(functionsBuf.Bytes())

	dir := ImageExportDirectory{
		Name:                  libNameRVA,
		Base:                  1,
		NumberOfFunctions:     2,
		NumberOfNames:         2,
		AddressOfFunctions:    functionsArrayRVA,
		AddressOfNames:        namesArrayRVA,
		AddressOfNameOrdinals: ordinalsArrayRVA,
	}
	var dirBuf bytes.Buffer
	_ = binary.Write(&dirBuf, binary.LittleEndian, dir)
	copy(b.section[dirRVA-testSectionRVA:], dirBuf.Bytes())

	var dirs [16]DataDirectory
	dirs[ImageDirectoryEntryExport] = DataDirectory{VirtualAddress: dirRVA, Size: dirSize}
	img := b.build(dirs)

	file := buildAndParse(t, img)

	require.Equal(t, "mylib.dll", file.Export.Name)
	require.Len(t, file.Export.Functions, 2)

	foo := file.Export.Functions[0]
	require.Equal(t, "Foo", foo.Name)
	require.False(t, foo.IsForwarder)
	require.EqualValues(t, 1, foo.Ordinal)
	require.Equal(t, file.GetImageBase()+uint64(normalFuncRVA), foo.Address)

	bar := file.Export.Functions[1]
	require.Equal(t, "Bar", bar.Name)
	require.True(t, bar.IsForwarder)
	require.EqualValues(t, 1, bar.ForwarderOrdinal)
	require.Equal(t, file.GetImageBase()+uint64(dirRVA), bar.Address,
		"forwarders still report image_base + function_rva")

	require.True(t, file.HasExport)
}

func TestParseExportDirectoryNoFunctions(t *testing.T) {
	b := newPETestBuilder()

	dir := ImageExportDirectory{Base: 1}
	dirRVA := b.placeStruct(dir)

	var dirs [16]DataDirectory
	dirs[ImageDirectoryEntryExport] = DataDirectory{VirtualAddress: dirRVA, Size: uint32(binary.Size(dir))}
	img := b.build(dirs)

	file := buildAndParse(t, img)

	require.Empty(t, file.Export.Functions)
	require.True(t, file.HasExport)
}
