// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pe

import (
	"fmt"
	"strings"
)

// PDBPath implements §4.10: it returns the raw embedded path carried by the
// first usable CodeView debug record, RSDS or NB10 alike, and reports false
// when no debug directory carries one.
func (pe *File) PDBPath() (string, bool) {
	for i := range pe.DebugEntries {
		e := &pe.DebugEntries[i]
		if e.CVPDB70 != nil && e.CVPDB70.PDBFileName != "" {
			return e.CVPDB70.PDBFileName, true
		}
		if e.CVPDB20 != nil && e.CVPDB20.PDBFileName != "" {
			return e.CVPDB20.PDBFileName, true
		}
	}
	return "", false
}

// PDBURL implements §4.10's Microsoft Symbol Server (MSDL) URL builder. It
// is a compatibility contract (§6): the layout must be byte-identical to
// what msdl.microsoft.com accepts.
func (pe *File) PDBURL() (string, bool) {
	for i := range pe.DebugEntries {
		e := &pe.DebugEntries[i]
		if e.CVPDB70 == nil || e.CVPDB70.PDBFileName == "" {
			continue
		}
		return buildMSDLURL(e.CVPDB70.PDBFileName, formatGUID(e.CVPDB70.Signature), e.CVPDB70.Age), true
	}
	for i := range pe.DebugEntries {
		e := &pe.DebugEntries[i]
		if e.CVPDB20 == nil || e.CVPDB20.PDBFileName == "" {
			continue
		}
		idStub := fmt.Sprintf("%08X", e.CVPDB20.Signature)
		return buildMSDLURL(e.CVPDB20.PDBFileName, idStub, e.CVPDB20.Age), true
	}
	return "", false
}

// formatGUID renders a GUID in the canonical registry order Microsoft's
// symbol servers expect: 32 uppercase hex digits, no dashes
// (%08X%04X%04X%02X...%02X).
func formatGUID(g GUID) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%08X%04X%04X", g.Data1, g.Data2, g.Data3)
	for _, v := range g.Data4 {
		fmt.Fprintf(&b, "%02X", v)
	}
	return b.String()
}

// buildMSDLURL assembles https://msdl.microsoft.com/download/symbols/{file}/{id}{age}/{file},
// where file is the basename of path (split on either slash convention).
func buildMSDLURL(path, idStub string, age uint32) string {
	filename := path
	if i := strings.LastIndexAny(filename, `\/`); i >= 0 {
		filename = filename[i+1:]
	}
	return fmt.Sprintf("https://msdl.microsoft.com/download/symbols/%s/%s%d/%s",
		filename, idStub, age, filename)
}
