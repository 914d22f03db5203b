// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pe

import "encoding/binary"

// ImageTLSDirectory64 points to the Thread Local Storage initialization
// section (§3, §4.8). Only the 64-bit layout exists in this parser.
type ImageTLSDirectory64 struct {
	// The starting address of the TLS template, a VA not an RVA.
	StartAddressOfRawData uint64 `json:"start_address_of_raw_data"`

	// The address of the last byte of the TLS, except for the zero fill.
	EndAddressOfRawData uint64 `json:"end_address_of_raw_data"`

	// Receives the TLS index the loader assigns.
	AddressOfIndex uint64 `json:"address_of_index"`

	// Points to a null-terminated array of TLS callback VAs.
	AddressOfCallBacks uint64 `json:"address_of_callbacks"`

	SizeOfZeroFill  uint32 `json:"size_of_zero_fill"`
	Characteristics uint32 `json:"characteristics"`
}

// TLSDirectory is the parsed TLS directory plus its resolved callback VAs
// (§4.8).
type TLSDirectory struct {
	Struct    ImageTLSDirectory64 `json:"struct"`
	Callbacks []uint64            `json:"callbacks,omitempty"`
}

// parseTLSDirectory implements §4.8: it reads the IMAGE_TLS_DIRECTORY64
// structure, then, if AddressOfCallBacks is non-zero, walks the
// zero-terminated array of callback VAs it points to.
func (pe *File) parseTLSDirectory(rva, size uint32) error {
	if rva == 0 {
		return nil
	}

	var tlsDir ImageTLSDirectory64
	tlsSize := uint32(binary.Size(tlsDir))
	offset, err := pe.GetOffsetFromRva(rva)
	if err != nil {
		return err
	}
	if err := pe.structUnpack(&tlsDir, offset, tlsSize); err != nil {
		return err
	}

	tls := TLSDirectory{Struct: tlsDir}

	if tlsDir.AddressOfCallBacks != 0 {
		imageBase := pe.NtHeader.OptionalHeader.ImageBase
		if tlsDir.AddressOfCallBacks > imageBase {
			callbacksRVA := uint32(tlsDir.AddressOfCallBacks - imageBase)
			callbacksOffset, err := pe.GetOffsetFromRva(callbacksRVA)
			if err == nil {
				var callbacks []uint64
				for {
					c, err := pe.ReadUint64(callbacksOffset)
					if err != nil || c == 0 {
						break
					}
					callbacks = append(callbacks, c)
					callbacksOffset += 8
				}
				tls.Callbacks = callbacks
			}
		}
	}

	pe.TLS = tls
	pe.HasTLS = true
	return nil
}
