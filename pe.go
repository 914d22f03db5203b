// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pe

// Image executable signatures.
const (
	// The DOS MZ executable format is the executable file format used
	// for .EXE files in DOS.
	ImageDOSSignature   = 0x5A4D // MZ
	ImageDOSZMSignature = 0x4D5A // ZM

	// The New Executable (NE) 16-bit format, predecessor of PE.
	ImageOS2Signature = 0x454E

	// Linear Executable, used by 32-bit OS/2 and by Windows VxD files.
	ImageOS2LESignature = 0x454C

	// LX/LE variants of the linear executable family.
	ImageVXDSignature = 0x584C

	// Terse Executables carry a 'VZ' signature.
	ImageTESignature = 0x5A56

	// The Portable Executable (PE) signature, "PE\0\0".
	ImageNTSignature = 0x00004550
)

// Optional header magic numbers.
const (
	ImageNtOptionalHeader32Magic = 0x10b
	ImageNtOptionalHeader64Magic = 0x20b
	ImageROMOptionalHeaderMagic  = 0x10
)

// Image file machine types this parser recognizes; only AMD64 is accepted
// past the header parser (§4.2). ErrUnsupportedMachine does not name the
// rejected machine; the other constants are for callers' reference.
const (
	ImageFileMachineUnknown = uint16(0x0)
	ImageFileMachineI386    = uint16(0x14c)
	ImageFileMachineARM64   = uint16(0xaa64)
	ImageFileMachineAMD64   = uint16(0x8664) // x64, the only machine this parser accepts.
)

// File header characteristics bitfield flags (a subset; only those that
// inform anomaly detection or pretty-printing are named).
const (
	ImageFileRelocsStripped    = 0x0001
	ImageFileExecutableImage   = 0x0002
	ImageFileLineNumsStripped  = 0x0004
	ImageFileLocalSymsStripped = 0x0008
	ImageFileLargeAddressAware = 0x0020
	ImageFile32BitMachine      = 0x0100
	ImageFileDebugStripped     = 0x0200
	ImageFileDLL               = 0x2000
)

// ImageDirectoryEntry identifies an entry inside the optional header's
// data-directory array. Index assignments are fixed by the PE/COFF
// specification; this parser only dereferences the ones named in §3.
type ImageDirectoryEntry int

// Data directory indices, in on-disk order.
const (
	ImageDirectoryEntryExport      ImageDirectoryEntry = iota // 0: export table
	ImageDirectoryEntryImport                                 // 1: import table
	ImageDirectoryEntryResource                                // 2: resource table (not dereferenced)
	ImageDirectoryEntryException                              // 3: exception table
	ImageDirectoryEntryCertificate                             // 4: certificate table (not dereferenced)
	ImageDirectoryEntryBaseReloc                               // 5: base relocation table
	ImageDirectoryEntryDebug                                   // 6: debug directory
	ImageDirectoryEntryArchitecture                            // 7: architecture-specific (not dereferenced)
	ImageDirectoryEntryGlobalPtr                               // 8: global pointer register value (not dereferenced)
	ImageDirectoryEntryTLS                                     // 9: thread local storage table
	ImageDirectoryEntryLoadConfig                              // 10: load configuration table (not dereferenced)
	ImageDirectoryEntryBoundImport                             // 11: bound import table (not dereferenced)
	ImageDirectoryEntryIAT                                     // 12: import address table (not dereferenced)
	ImageDirectoryEntryDelayImport                             // 13: delay import descriptor (not dereferenced)
	ImageDirectoryEntryCLR                                     // 14: CLR runtime header (not dereferenced)
	ImageDirectoryEntryReserved                                // 15: must be zero
	ImageNumberOfDirectoryEntries                              // tables count
)

var dataDirNames = [ImageNumberOfDirectoryEntries]string{
	"Export", "Import", "Resource", "Exception", "Certificate",
	"BaseReloc", "Debug", "Architecture", "GlobalPtr", "TLS",
	"LoadConfig", "BoundImport", "IAT", "DelayImport", "CLR", "Reserved",
}

// String names a data directory entry for logging and the CLI.
func (entry ImageDirectoryEntry) String() string {
	if entry < 0 || int(entry) >= len(dataDirNames) {
		return "?"
	}
	return dataDirNames[entry]
}

// FileInfo records which directories a parsed image actually carries.
// Mirrors the teacher's presence-flag idiom in pe.go.
type FileInfo struct {
	HasDOSHdr      bool
	HasNTHdr       bool
	HasSections    bool
	HasImport      bool
	HasExport      bool
	HasReloc       bool
	HasException   bool
	HasTLS         bool
	HasDebug       bool
	Is64           bool
	Is32           bool
}
