// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pe

import (
	"errors"
	"os"

	mmap "github.com/edsrzf/mmap-go"

	"github.com/saferwall/pe64/internal/log"
)

// File is an open, parsed PE32+ (x64) image (§3). All entities are
// immutable after construction except the two address overrides (§4.12).
type File struct {
	DOSHeader    ImageDOSHeader `json:"dos_header,omitempty"`
	NtHeader     ImageNtHeader  `json:"nt_header,omitempty"`
	Sections     []Section      `json:"sections,omitempty"`
	Imports      []Import       `json:"imports,omitempty"`
	Export       Export         `json:"export,omitempty"`
	DebugEntries []DebugEntry   `json:"debug_entries,omitempty"`
	Relocations  []Relocation   `json:"relocations,omitempty"`
	TLS          TLSDirectory   `json:"tls,omitempty"`
	Exceptions   []Exception    `json:"exceptions,omitempty"`
	Anomalies    []string       `json:"anomalies,omitempty"`
	Header       []byte         `json:"-"`

	FileInfo

	data          mmap.MMap
	size          uint32
	OverlayOffset int64
	f             *os.File
	opts          *Options
	logger        *log.Helper

	overrideBaseAddress uint64
	overrideEntryPoint  uint64
	hasBaseOverride     bool
	hasEntryOverride    bool
}

// Options selects construction-time tunables (§2.1, §6). All tunables
// arrive through this single struct; there is no environment or config
// file reader.
type Options struct {
	// Fast restricts Parse to the header and section table, skipping all
	// data directories.
	Fast bool

	// SectionEntropy computes each section's Shannon entropy during
	// ParseSectionHeader.
	SectionEntropy bool

	// Logger overrides the default error-level stderr logger.
	Logger log.Logger
}

func newLogger(opts *Options) *log.Helper {
	if opts.Logger != nil {
		return log.NewHelper(opts.Logger)
	}
	base := log.NewStdLogger(os.Stderr)
	return log.NewHelper(log.NewFilter(base, log.FilterLevel(log.LevelError)))
}

// New memory-maps the file at path and returns an unparsed File (§2.1):
// call Parse to run the header parser.
func New(path string, opts *Options) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	data, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		f.Close()
		return nil, err
	}

	if opts == nil {
		opts = &Options{}
	}

	file := &File{
		opts:   opts,
		logger: newLogger(opts),
		data:   data,
		size:   uint32(len(data)),
		f:      f,
	}
	return file, nil
}

// NewBytes wraps an in-memory buffer with the same semantics as New (§6:
// "both enter parse(buffer) with identical semantics").
func NewBytes(data []byte, opts *Options) (*File, error) {
	if opts == nil {
		opts = &Options{}
	}

	file := &File{
		opts:   opts,
		logger: newLogger(opts),
		data:   mmap.MMap(data),
		size:   uint32(len(data)),
	}
	return file, nil
}

// Close releases the memory mapping and the underlying file descriptor,
// when one was opened by New.
func (pe *File) Close() error {
	if pe.data != nil {
		_ = pe.data.Unmap()
	}
	if pe.f != nil {
		return pe.f.Close()
	}
	return nil
}

// Parse runs the full header parser (§4.2) and, unless Options.Fast is
// set, every data directory parser (§4.5-§4.11). Failure at any header
// step is fatal and propagates; fields filled in by the steps that ran
// before the failing one are not cleared.
func (pe *File) Parse() error {
	if len(pe.data) < TinyPESize {
		return ErrInvalidPESize
	}

	if err := pe.ParseDOSHeader(); err != nil {
		return err
	}
	if err := pe.ParseNTHeader(); err != nil {
		return err
	}
	if err := pe.ParseSectionHeader(); err != nil {
		return err
	}

	if pe.opts.Fast {
		return nil
	}

	return pe.ParseDataDirectories()
}

// ParseDataDirectories implements §4.5-§4.11's orchestration: each
// directory with a non-zero virtual address is handed to its parser
// inside a recover()-guarded closure, so a panic in one directory never
// aborts the others (§4.13).
func (pe *File) ParseDataDirectories() error {
	oh := &pe.NtHeader.OptionalHeader

	funcMaps := map[ImageDirectoryEntry](func(uint32, uint32) error){
		ImageDirectoryEntryExport:    pe.parseExportDirectory,
		ImageDirectoryEntryImport:    pe.parseImportDirectory,
		ImageDirectoryEntryException: pe.parseExceptionDirectory,
		ImageDirectoryEntryBaseReloc: pe.parseRelocDirectory,
		ImageDirectoryEntryDebug:     pe.parseDebugDirectory,
		ImageDirectoryEntryTLS:       pe.parseTLSDirectory,
	}

	foundErr := false
	for entryIndex := ImageDirectoryEntry(0); entryIndex < ImageNumberOfDirectoryEntries; entryIndex++ {
		if entryIndex == ImageDirectoryEntryReserved {
			continue // already flagged as an anomaly in ParseNTHeader
		}

		dirEntry := oh.DataDirectory[entryIndex]
		if dirEntry.VirtualAddress == 0 {
			continue
		}

		parse, ok := funcMaps[entryIndex]
		if !ok {
			continue // parsed into DataDirectory but never dereferenced, per §3
		}

		func() {
			defer func() {
				if e := recover(); e != nil {
					pe.logger.Errorf("unhandled exception parsing data directory %s: %v", entryIndex, e)
					foundErr = true
				}
			}()
			if err := parse(dirEntry.VirtualAddress, dirEntry.Size); err != nil {
				pe.logger.Warnf("failed to parse data directory %s: %v", entryIndex, err)
			}
		}()
	}

	if foundErr {
		return errors.New("data directory parsing failed")
	}
	return nil
}

// OverrideBaseAddress sets the image base used by derived-address queries
// (§3 invariant 4, §4.12), without touching the on-disk optional header.
// A zero base means "no override" and restores the on-disk value.
func (pe *File) OverrideBaseAddress(base uint64) {
	pe.overrideBaseAddress = base
	pe.hasBaseOverride = base != 0
}

// OverrideEntryPoint sets the entry-point offset that GetEntryPoint adds to
// the effective image base (§4.12). A zero value means "no override".
func (pe *File) OverrideEntryPoint(entryPoint uint64) {
	pe.overrideEntryPoint = entryPoint
	pe.hasEntryOverride = entryPoint != 0
}

// GetImageBase returns the override, if set, else the on-disk ImageBase.
func (pe *File) GetImageBase() uint64 {
	if pe.hasBaseOverride {
		return pe.overrideBaseAddress
	}
	return pe.NtHeader.OptionalHeader.ImageBase
}

// GetEntryPoint returns GetImageBase() + the entry-point override, if set,
// else the on-disk ImageBase + AddressOfEntryPoint.
func (pe *File) GetEntryPoint() uint64 {
	if pe.hasEntryOverride {
		return pe.GetImageBase() + pe.overrideEntryPoint
	}
	return pe.NtHeader.OptionalHeader.ImageBase + uint64(pe.NtHeader.OptionalHeader.AddressOfEntryPoint)
}
