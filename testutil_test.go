// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pe

import (
	"bytes"
	"encoding/binary"
)

// Synthetic PE builder used by the _test.go files in this package. The
// corpus ships no real sample binaries, so tests assemble a minimal x64
// image in memory: one DOS/NT header pair, one section table entry
// ("data") and a single backing section that every directory writes its
// payload into. testSectionRVA/testSectionFileOffset are fixed so a test
// can compute either coordinate by hand when it needs to.
const (
	testImageBase       = uint64(0x140000000)
	testSectionRVA      = uint32(0x1000)
	testSectionFileOffs = uint32(0x400)
)

// peTestBuilder accumulates bytes for the single backing section; place*
// appends a value and returns the RVA it landed at, so callers can wire
// that RVA into a directory/descriptor struct placed afterwards.
type peTestBuilder struct {
	section []byte
}

func newPETestBuilder() *peTestBuilder {
	return &peTestBuilder{}
}

func (b *peTestBuilder) align8() {
	for len(b.section)%8 != 0 {
		b.section = append(b.section, 0)
	}
}

func (b *peTestBuilder) place(data []byte) uint32 {
	b.align8()
	rva := testSectionRVA + uint32(len(b.section))
	b.section = append(b.section, data...)
	return rva
}

func (b *peTestBuilder) placeStruct(v interface{}) uint32 {
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, v); err != nil {
		panic(err)
	}
	return b.place(buf.Bytes())
}

func (b *peTestBuilder) placeString(s string) uint32 {
	return b.place(append([]byte(s), 0))
}

func (b *peTestBuilder) placeUint16(v uint16) uint32 {
	buf := make([]byte, 2)
	binary.LittleEndian.PutUint16(buf, v)
	return b.place(buf)
}

func (b *peTestBuilder) placeUint32(v uint32) uint32 {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, v)
	return b.place(buf)
}

func (b *peTestBuilder) placeUint64(v uint64) uint32 {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, v)
	return b.place(buf)
}

func sectionHeaderName(name string) [8]byte {
	var n [8]byte
	copy(n[:], name)
	return n
}

// build assembles the full image: DOS header, NT headers with dataDirs
// wired in, one section header describing the accumulated section bytes,
// padding out to testSectionFileOffs, then the section bytes themselves.
func (b *peTestBuilder) build(dataDirs [16]DataDirectory) []byte {
	var buf bytes.Buffer

	dos := ImageDOSHeader{
		Magic:                 ImageDOSSignature,
		AddressOfNewEXEHeader: 0x40,
	}
	if err := binary.Write(&buf, binary.LittleEndian, dos); err != nil {
		panic(err)
	}
	for buf.Len() < 0x40 {
		buf.WriteByte(0)
	}

	optHeaderSize := uint16(binary.Size(ImageOptionalHeader64{}))
	sizeOfImage := testSectionRVA + uint32(len(b.section))
	if rem := sizeOfImage % 0x1000; rem != 0 {
		sizeOfImage += 0x1000 - rem
	}

	nt := ImageNtHeader{
		Signature: ImageNTSignature,
		FileHeader: ImageFileHeader{
			Machine:              ImageFileMachineAMD64,
			NumberOfSections:     1,
			SizeOfOptionalHeader: optHeaderSize,
			Characteristics:      ImageFileExecutableImage,
		},
		OptionalHeader: ImageOptionalHeader64{
			Magic:               ImageNtOptionalHeader64Magic,
			ImageBase:           testImageBase,
			SectionAlignment:    0x1000,
			FileAlignment:       0x200,
			SizeOfImage:         sizeOfImage,
			SizeOfHeaders:       testSectionFileOffs,
			Subsystem:           2,
			NumberOfRvaAndSizes: 16,
			DataDirectory:       dataDirs,
		},
	}
	if err := binary.Write(&buf, binary.LittleEndian, nt); err != nil {
		panic(err)
	}

	sec := ImageSectionHeader{
		Name:             sectionHeaderName("data"),
		VirtualSize:      uint32(len(b.section)),
		VirtualAddress:   testSectionRVA,
		SizeOfRawData:    uint32(len(b.section)),
		PointerToRawData: testSectionFileOffs,
		Characteristics:  0x40000040, // MEM_READ | INITIALIZED_DATA
	}
	if err := binary.Write(&buf, binary.LittleEndian, sec); err != nil {
		panic(err)
	}

	for buf.Len() < int(testSectionFileOffs) {
		buf.WriteByte(0)
	}
	buf.Write(b.section)

	return buf.Bytes()
}

// buildAndParse runs NewBytes + Parse over img, failing the test on any
// error, and returns the parsed File.
func buildAndParse(t interface {
	Fatalf(format string, args ...interface{})
}, img []byte) *File {
	file, err := NewBytes(img, nil)
	if err != nil {
		t.Fatalf("NewBytes failed: %v", err)
	}
	if err := file.Parse(); err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	return file
}
