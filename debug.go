// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pe

import "encoding/binary"

// ImageDebugDirectoryType identifies the format of a debug directory entry's
// payload. Only ImageDebugTypeCodeView is decoded further; the rest (POGO,
// FPO, VC feature counters, repro hash, misc DBG pointer) are out of scope.
type ImageDebugDirectoryType uint32

const (
	ImageDebugTypeUnknown     = ImageDebugDirectoryType(0)
	ImageDebugTypeCOFF        = ImageDebugDirectoryType(1)
	ImageDebugTypeCodeView    = ImageDebugDirectoryType(2)
	ImageDebugTypeFPO         = ImageDebugDirectoryType(3)
	ImageDebugTypeMisc        = ImageDebugDirectoryType(4)
	ImageDebugTypeException   = ImageDebugDirectoryType(5)
	ImageDebugTypeFixup       = ImageDebugDirectoryType(6)
	ImageDebugTypeOMAPToSrc   = ImageDebugDirectoryType(7)
	ImageDebugTypeOMAPFromSrc = ImageDebugDirectoryType(8)
	ImageDebugTypeBorland     = ImageDebugDirectoryType(9)
	ImageDebugTypeReserved10  = ImageDebugDirectoryType(10)
	ImageDebugTypeCLSID       = ImageDebugDirectoryType(11)
	ImageDebugTypeVCFeature   = ImageDebugDirectoryType(12)
	ImageDebugTypePOGO        = ImageDebugDirectoryType(13)
	ImageDebugTypeRepro       = ImageDebugDirectoryType(16)
)

const (
	// CVSignatureRSDS is the PDB 7.0 CodeView signature ('RSDS').
	CVSignatureRSDS = uint32(0x53445352)

	// CVSignatureNB10 is the PDB 2.0 CodeView signature ('NB10').
	CVSignatureNB10 = uint32(0x3031424e)
)

// ImageDebugDirectory is one IMAGE_DEBUG_DIRECTORY entry (§3, §4.9).
type ImageDebugDirectory struct {
	Characteristics  uint32                  `json:"characteristics"`
	TimeDateStamp    uint32                  `json:"time_date_stamp"`
	MajorVersion     uint16                  `json:"major_version"`
	MinorVersion     uint16                  `json:"minor_version"`
	Type             ImageDebugDirectoryType `json:"type"`
	SizeOfData       uint32                  `json:"size_of_data"`
	AddressOfRawData uint32                  `json:"address_of_raw_data"`
	PointerToRawData uint32                  `json:"pointer_to_raw_data"`
}

// GUID is a 128-bit PDB signature, {Data1, Data2, Data3, Data4[8]} (§3).
type GUID struct {
	Data1 uint32
	Data2 uint16
	Data3 uint16
	Data4 [8]byte
}

// CVInfoPDB70 is the CodeView data block of a PDB 7.0 file (§3, §4.9).
type CVInfoPDB70 struct {
	CVSignature uint32 `json:"cv_signature"`
	Signature   GUID   `json:"signature"`
	Age         uint32 `json:"age"`
	PDBFileName string `json:"pdb_file_name"`
}

// CVInfoPDB20 is the CodeView data block of a PDB 2.0 file (§3, §4.9).
type CVInfoPDB20 struct {
	CVSignature uint32 `json:"cv_signature"`
	Offset      uint32 `json:"offset"`
	Signature   uint32 `json:"signature"`
	Age         uint32 `json:"age"`
	PDBFileName string `json:"pdb_file_name"`
}

// DebugEntry pairs the raw directory entry with its decoded CodeView
// payload, when present.
type DebugEntry struct {
	Struct   ImageDebugDirectory `json:"struct"`
	CVPDB70  *CVInfoPDB70        `json:"cv_pdb70,omitempty"`
	CVPDB20  *CVInfoPDB20        `json:"cv_pdb20,omitempty"`
}

// parseDebugDirectory implements §4.9: it reads the array of debug
// directory entries and, for CodeView ones, the RSDS/NB10 record they
// point to. A malformed CodeView payload is skipped with an anomaly; it
// never fails the whole directory (§7, localized faults).
func (pe *File) parseDebugDirectory(rva, size uint32) error {
	if rva == 0 {
		return nil
	}

	var dir ImageDebugDirectory
	dirSize := uint32(binary.Size(dir))
	if dirSize == 0 {
		return nil
	}
	offset, err := pe.GetOffsetFromRva(rva)
	if err != nil {
		return err
	}
	count := size / dirSize

	entries := make([]DebugEntry, 0, count)
	for i := uint32(0); i < count; i++ {
		if err := pe.structUnpack(&dir, offset+dirSize*i, dirSize); err != nil {
			return err
		}

		entry := DebugEntry{Struct: dir}
		if dir.Type == ImageDebugTypeCodeView {
			pe.parseCodeView(&entry, dir)
		}
		entries = append(entries, entry)
	}

	pe.DebugEntries = entries
	pe.HasDebug = len(entries) > 0
	return nil
}

// parseCodeView decodes the RSDS (PDB 7.0) or NB10 (PDB 2.0) record at
// dir.PointerToRawData, recording AnoMalformedCodeViewRecord and leaving
// entry untouched if the payload is too short for its declared signature.
func (pe *File) parseCodeView(entry *DebugEntry, dir ImageDebugDirectory) {
	if dir.SizeOfData < 4 {
		pe.addAnomaly(AnoMalformedCodeViewRecord)
		return
	}
	signature, err := pe.ReadUint32(dir.PointerToRawData)
	if err != nil {
		pe.addAnomaly(AnoMalformedCodeViewRecord)
		return
	}

	switch signature {
	case CVSignatureRSDS:
		const fixedSize = 4 + 16 + 4 // signature + GUID + age
		if dir.SizeOfData < fixedSize {
			pe.addAnomaly(AnoMalformedCodeViewRecord)
			return
		}
		var pdb CVInfoPDB70
		pdb.CVSignature = signature

		guidOffset := dir.PointerToRawData + 4
		guidSize := uint32(binary.Size(pdb.Signature))
		if err := pe.structUnpack(&pdb.Signature, guidOffset, guidSize); err != nil {
			pe.addAnomaly(AnoMalformedCodeViewRecord)
			return
		}

		age, err := pe.ReadUint32(guidOffset + guidSize)
		if err != nil {
			pe.addAnomaly(AnoMalformedCodeViewRecord)
			return
		}
		pdb.Age = age

		nameOffset := guidOffset + guidSize + 4
		name, err := pe.getStringAtOffset(nameOffset, dir.SizeOfData-fixedSize)
		if err != nil {
			pe.addAnomaly(AnoMalformedCodeViewRecord)
			return
		}
		pdb.PDBFileName = name
		entry.CVPDB70 = &pdb

	case CVSignatureNB10:
		const fixedSize = 4 + 4 + 4 + 4 // signature + offset + timestamp + age
		if dir.SizeOfData < fixedSize {
			pe.addAnomaly(AnoMalformedCodeViewRecord)
			return
		}
		var pdb CVInfoPDB20
		pdb.CVSignature = signature

		cvOffset, err := pe.ReadUint32(dir.PointerToRawData + 4)
		if err != nil {
			pe.addAnomaly(AnoMalformedCodeViewRecord)
			return
		}
		pdb.Offset = cvOffset

		ts, err := pe.ReadUint32(dir.PointerToRawData + 8)
		if err != nil {
			pe.addAnomaly(AnoMalformedCodeViewRecord)
			return
		}
		pdb.Signature = ts

		age, err := pe.ReadUint32(dir.PointerToRawData + 12)
		if err != nil {
			pe.addAnomaly(AnoMalformedCodeViewRecord)
			return
		}
		pdb.Age = age

		nameOffset := dir.PointerToRawData + fixedSize
		name, err := pe.getStringAtOffset(nameOffset, dir.SizeOfData-fixedSize)
		if err != nil {
			pe.addAnomaly(AnoMalformedCodeViewRecord)
			return
		}
		pdb.PDBFileName = name
		entry.CVPDB20 = &pdb
	}
}
