// Copyright 2021 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pe

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPDBPathReturnsFirstRecord(t *testing.T) {
	f := &File{
		DebugEntries: []DebugEntry{
			{CVPDB20: &CVInfoPDB20{PDBFileName: `c:\old\foo.pdb`}},
			{CVPDB70: &CVInfoPDB70{PDBFileName: `c:\new\foo.pdb`}},
		},
	}
	path, ok := f.PDBPath()
	require.True(t, ok)
	require.Equal(t, `c:\old\foo.pdb`, path)
}

func TestPDBPathFallsBackToNB10(t *testing.T) {
	f := &File{
		DebugEntries: []DebugEntry{
			{CVPDB20: &CVInfoPDB20{PDBFileName: `c:\old\foo.pdb`}},
		},
	}
	path, ok := f.PDBPath()
	require.True(t, ok)
	require.Equal(t, `c:\old\foo.pdb`, path)
}

func TestPDBPathNoDebugEntries(t *testing.T) {
	f := &File{}
	_, ok := f.PDBPath()
	require.False(t, ok)
}

func TestPDBURLRSDS(t *testing.T) {
	guid := GUID{Data1: 0x01020304, Data2: 0x0506, Data3: 0x0708, Data4: [8]byte{9, 10, 11, 12, 13, 14, 15, 16}}
	f := &File{
		DebugEntries: []DebugEntry{
			{CVPDB70: &CVInfoPDB70{PDBFileName: `c:\build\foo.pdb`, Signature: guid, Age: 2}},
		},
	}
	url, ok := f.PDBURL()
	require.True(t, ok)
	require.Equal(t, "https://msdl.microsoft.com/download/symbols/foo.pdb/0102030405060708090A0B0C0D0E0F102/foo.pdb", url)
}

func TestPDBURLNB10(t *testing.T) {
	f := &File{
		DebugEntries: []DebugEntry{
			{CVPDB20: &CVInfoPDB20{PDBFileName: `foo.pdb`, Signature: 0xdeadbeef, Age: 1}},
		},
	}
	url, ok := f.PDBURL()
	require.True(t, ok)
	require.Equal(t, "https://msdl.microsoft.com/download/symbols/foo.pdb/DEADBEEF1/foo.pdb", url)
}

func TestPDBURLNB10PadsLeadingZeros(t *testing.T) {
	f := &File{
		DebugEntries: []DebugEntry{
			{CVPDB20: &CVInfoPDB20{PDBFileName: `foo.pdb`, Signature: 0x00a1b2c3, Age: 1}},
		},
	}
	url, ok := f.PDBURL()
	require.True(t, ok)
	require.Equal(t, "https://msdl.microsoft.com/download/symbols/foo.pdb/00A1B2C31/foo.pdb", url)
}

func TestFormatGUID(t *testing.T) {
	g := GUID{Data1: 0x01020304, Data2: 0x0506, Data3: 0x0708, Data4: [8]byte{9, 10, 11, 12, 13, 14, 15, 16}}
	require.Equal(t, "0102030405060708090A0B0C0D0E0F10", formatGUID(g))
}

func TestBuildMSDLURLStripsPath(t *testing.T) {
	got := buildMSDLURL(`c:\build\foo.pdb`, "ABCD", 1)
	require.Equal(t, "https://msdl.microsoft.com/download/symbols/foo.pdb/ABCD1/foo.pdb", got)
}
