// Copyright 2021 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pe

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

// buildUnwindInfoBytes assembles a contiguous _UNWIND_INFO record (header,
// zero unwind codes, then either a chained RUNTIME_FUNCTION or an exception
// handler RVA), matching exactly what readUnwindInfo expects to find back
// to back, with no placement-introduced gaps.
func buildUnwindInfoBytes(version, flags uint8, chained *ImageRuntimeFunctionEntry, handler uint32) []byte {
	header := uint32(version&0x7) | uint32(flags&0x1f)<<3 // countOfCodes = 0
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, header)

	if flags&UnwFlagChainInfo != 0 {
		var cbuf bytes.Buffer
		if chained != nil {
			_ = binary.Write(&cbuf, binary.LittleEndian, *chained)
		}
		buf = append(buf, cbuf.Bytes()...)
	} else if flags&(UnwFlagEHandler|UnwFlagUHandler) != 0 {
		hbuf := make([]byte, 4)
		binary.LittleEndian.PutUint32(hbuf, handler)
		buf = append(buf, hbuf...)
	}
	return buf
}

func TestResolveExceptionSimple(t *testing.T) {
	b := newPETestBuilder()
	uiRVA := b.place(buildUnwindInfoBytes(1, UnwFlagEHandler, nil, 0xdeadbeef))

	entry := ImageRuntimeFunctionEntry{BeginAddress: 0x1000, EndAddress: 0x1040, UnwindInfoAddress: uiRVA}
	entryRVA := b.placeStruct(entry)

	var dirs [16]DataDirectory
	dirs[ImageDirectoryEntryException] = DataDirectory{VirtualAddress: entryRVA, Size: uint32(binary.Size(entry))}
	img := b.build(dirs)

	file := buildAndParse(t, img)

	require.Len(t, file.Exceptions, 1)
	exc := file.Exceptions[0]
	require.True(t, exc.HasUnwindInfo)
	require.EqualValues(t, 0xdeadbeef, exc.UnwindInfo.ExceptionHandler)
	require.Zero(t, exc.ChainHops)
	require.Equal(t, entry, exc.RuntimeFunction)
	require.True(t, file.HasException)
}

func TestResolveExceptionFollowsChain(t *testing.T) {
	b := newPETestBuilder()

	terminalEntry := ImageRuntimeFunctionEntry{BeginAddress: 0x100, EndAddress: 0x140}
	terminalUIRVA := b.place(buildUnwindInfoBytes(1, UnwFlagNHandler, nil, 0))
	terminalEntry.UnwindInfoAddress = terminalUIRVA

	chainedUIRVA := b.place(buildUnwindInfoBytes(1, UnwFlagChainInfo, &terminalEntry, 0))

	headEntry := ImageRuntimeFunctionEntry{BeginAddress: 0x200, EndAddress: 0x210, UnwindInfoAddress: chainedUIRVA}
	headRVA := b.placeStruct(headEntry)

	var dirs [16]DataDirectory
	dirs[ImageDirectoryEntryException] = DataDirectory{VirtualAddress: headRVA, Size: uint32(binary.Size(headEntry))}
	img := b.build(dirs)

	file := buildAndParse(t, img)

	require.Len(t, file.Exceptions, 1)
	exc := file.Exceptions[0]
	require.EqualValues(t, 1, exc.ChainHops)
	require.Equal(t, terminalEntry.BeginAddress, exc.RuntimeFunction.BeginAddress,
		"expected chain to resolve to the terminal function")
	require.True(t, exc.HasUnwindInfo, "expected the terminal function's unwind info to be attached")
}

func TestResolveExceptionChainCapped(t *testing.T) {
	b := newPETestBuilder()

	// Reserve the unwind info's bytes first so the chained entry embedded
	// inside it can reference its own RVA, producing a chain that never
	// terminates: the hop ceiling must stop it, not an infinite loop.
	placeholderRVA := b.place(make([]byte, 16))
	chained := ImageRuntimeFunctionEntry{BeginAddress: 0x300, EndAddress: 0x310, UnwindInfoAddress: placeholderRVA}
	real := buildUnwindInfoBytes(1, UnwFlagChainInfo, &chained, 0)
	copy(b.section[placeholderRVA-testSectionRVA:], real)

	entry := ImageRuntimeFunctionEntry{BeginAddress: 0x300, EndAddress: 0x310, UnwindInfoAddress: placeholderRVA}
	entryRVA := b.placeStruct(entry)

	var dirs [16]DataDirectory
	dirs[ImageDirectoryEntryException] = DataDirectory{VirtualAddress: entryRVA, Size: uint32(binary.Size(entry))}
	img := b.build(dirs)

	file := buildAndParse(t, img)

	require.Len(t, file.Exceptions, 1)
	require.GreaterOrEqual(t, file.Exceptions[0].ChainHops, maxChainHops)
	require.Contains(t, file.Anomalies, AnoChainResolutionCapped)
}

func TestResolveExceptionChainReadFailure(t *testing.T) {
	b := newPETestBuilder()

	const unmappedRVA = testSectionRVA - 0x100
	badChained := ImageRuntimeFunctionEntry{BeginAddress: 0x400, EndAddress: 0x410, UnwindInfoAddress: unmappedRVA}
	ui1RVA := b.place(buildUnwindInfoBytes(1, UnwFlagChainInfo, &badChained, 0))

	entry := ImageRuntimeFunctionEntry{BeginAddress: 0x500, EndAddress: 0x510, UnwindInfoAddress: ui1RVA}
	entryRVA := b.placeStruct(entry)

	var dirs [16]DataDirectory
	dirs[ImageDirectoryEntryException] = DataDirectory{VirtualAddress: entryRVA, Size: uint32(binary.Size(entry))}
	img := b.build(dirs)

	file := buildAndParse(t, img)

	require.Len(t, file.Exceptions, 1)
	exc := file.Exceptions[0]
	require.EqualValues(t, 1, exc.ChainHops)
	require.False(t, exc.HasUnwindInfo, "expected resolution to stop at the unmapped hop without unwind info")
	require.Contains(t, file.Anomalies, AnoChainResolutionFailed)
}
