// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pe

import (
	"encoding/binary"
	"strconv"
)

const (
	// UnwFlagNHandler - the function has no handler.
	UnwFlagNHandler = uint8(0x0)

	// UnwFlagEHandler - the function has an exception handler that should
	// be called when looking for functions that need to examine exceptions.
	UnwFlagEHandler = uint8(0x1)

	// UnwFlagUHandler - the function has a termination handler that should
	// be called when unwinding an exception.
	UnwFlagUHandler = uint8(0x2)

	// UnwFlagChainInfo - this unwind info structure is not the primary one
	// for the procedure; the chained entry is the RUNTIME_FUNCTION of a
	// previous, logically earlier part of the same function (§4.7).
	UnwFlagChainInfo = uint8(0x4)

	// maxChainHops bounds UNW_FLAG_CHAININFO resolution (§4.7, REDESIGN
	// FLAG R1): exceeding it is a localized fault, not a call failure.
	maxChainHops = 32
)

// General-purpose register encoding used by the operation info bits.
const (
	rax = iota
	rcx
	rdx
	rbx
	rsp
	rbp
	rsi
	rdi
	r8
	r9
	r10
	r11
	r12
	r13
	r14
	r15
)

// OpInfoRegisters maps register numbers to their assembly mnemonics.
var OpInfoRegisters = map[uint8]string{
	rax: "RAX", rcx: "RCX", rdx: "RDX", rbx: "RBX",
	rsp: "RSP", rbp: "RBP", rsi: "RSI", rdi: "RDI",
	r8: "R8", r9: "R9", r10: "R10", r11: "R11",
	r12: "R12", r13: "R13", r14: "R14", r15: "R15",
}

// UnwindOpType represents the type of an unwind opcode.
type UnwindOpType uint8

// _UNWIND_OP_CODES.
const (
	UwOpPushNonVol    = UnwindOpType(0)
	UwOpAllocLarge    = UnwindOpType(1)
	UwOpAllocSmall    = UnwindOpType(2)
	UwOpSetFpReg      = UnwindOpType(3)
	UwOpSaveNonVol    = UnwindOpType(4)
	UwOpSaveNonVolFar = UnwindOpType(5)
	UwOpEpilog        = UnwindOpType(6)
	UwOpSpareCode     = UnwindOpType(7)
	UwOpSaveXmm128    = UnwindOpType(8)
	UwOpSaveXmm128Far = UnwindOpType(9)
	UwOpPushMachFrame = UnwindOpType(10)
	UwOpSetFpRegLarge = UnwindOpType(11)
)

// ImageRuntimeFunctionEntry is one entry in the x64 function table
// (IMAGE_RUNTIME_FUNCTION_ENTRY), §3.
type ImageRuntimeFunctionEntry struct {
	BeginAddress      uint32 `json:"begin_address"`
	EndAddress        uint32 `json:"end_address"`
	UnwindInfoAddress uint32 `json:"unwind_info_address"`
}

// UnwindCode records one prolog operation's effect on the nonvolatile
// registers and RSP (§4.7).
type UnwindCode struct {
	CodeOffset  uint8        `json:"code_offset"`
	UnwindOp    UnwindOpType `json:"unwind_op"`
	OpInfo      uint8        `json:"op_info"`
	Operand     string       `json:"operand"`
	FrameOffset uint16       `json:"frame_offset"`
}

// UnwindInfo is the _UNWIND_INFO structure describing a function's prolog
// effects (§3).
type UnwindInfo struct {
	Version          uint8        `json:"version"`
	Flags            uint8        `json:"flags"`
	SizeOfProlog     uint8        `json:"size_of_prolog"`
	CountOfCodes     uint8        `json:"count_of_codes"`
	FrameRegister    uint8        `json:"frame_register"`
	FrameOffset      uint8        `json:"frame_offset"`
	UnwindCodes      []UnwindCode `json:"unwind_codes"`
	ExceptionHandler uint32       `json:"exception_handler,omitempty"`
}

// Exception is one resolved function-table entry (§4.7): RuntimeFunction is
// the terminal function reached after following any UNW_FLAG_CHAININFO
// chain, and UnwindInfo, when present, belongs to that terminal function.
type Exception struct {
	RuntimeFunction ImageRuntimeFunctionEntry `json:"runtime_function"`
	UnwindInfo      UnwindInfo                `json:"unwind_info"`
	HasUnwindInfo   bool                      `json:"has_unwind_info"`
	ChainHops       int                       `json:"chain_hops,omitempty"`
}

func (pe *File) parseUnwindCode(offset uint32, version uint8) (UnwindCode, int) {
	unwindCode := UnwindCode{}

	uc, err := pe.ReadUint16(offset)
	if err != nil {
		return unwindCode, 0
	}

	unwindCode.CodeOffset = uint8(uc & 0xff)
	unwindCode.UnwindOp = UnwindOpType(uc & 0xf00 >> 8)
	unwindCode.OpInfo = uint8(uc & 0xf000 >> 12)

	advanceBy := 0
	switch unwindCode.UnwindOp {
	case UwOpAllocSmall:
		size := int(unwindCode.OpInfo*8 + 8)
		unwindCode.Operand = "Size=" + strconv.Itoa(size)
		advanceBy++
	case UwOpAllocLarge:
		if unwindCode.OpInfo == 0 {
			v, err := pe.ReadUint16(offset + 2)
			if err != nil {
				return unwindCode, 0
			}
			unwindCode.Operand = "Size=" + strconv.Itoa(int(v)*8)
			advanceBy += 2
		} else {
			v, err := pe.ReadUint32(offset + 2)
			if err != nil {
				return unwindCode, 0
			}
			unwindCode.Operand = "Size=" + strconv.Itoa(int(v<<16))
			advanceBy += 3
		}
	case UwOpSetFpReg:
		unwindCode.Operand = "Register=" + OpInfoRegisters[unwindCode.OpInfo]
		advanceBy++
	case UwOpPushNonVol:
		unwindCode.Operand = "Register=" + OpInfoRegisters[unwindCode.OpInfo]
		advanceBy++
	case UwOpSaveNonVol:
		fo, err := pe.ReadUint16(offset + 2)
		if err != nil {
			return unwindCode, 0
		}
		unwindCode.FrameOffset = fo * 8
		unwindCode.Operand = "Register=" + OpInfoRegisters[unwindCode.OpInfo] +
			", Offset=" + strconv.Itoa(int(unwindCode.FrameOffset))
		advanceBy += 2
	case UwOpSaveNonVolFar:
		fo, err := pe.ReadUint32(offset + 2)
		if err != nil {
			return unwindCode, 0
		}
		unwindCode.FrameOffset = uint16(fo * 8)
		unwindCode.Operand = "Register=" + OpInfoRegisters[unwindCode.OpInfo] +
			", Offset=" + strconv.Itoa(int(unwindCode.FrameOffset))
		advanceBy += 3
	case UwOpSaveXmm128:
		fo, err := pe.ReadUint16(offset + 2)
		if err != nil {
			return unwindCode, 0
		}
		unwindCode.FrameOffset = fo * 16
		unwindCode.Operand = "Register=XMM" + strconv.Itoa(int(unwindCode.OpInfo)) +
			", Offset=" + strconv.Itoa(int(unwindCode.FrameOffset))
		advanceBy += 2
	case UwOpSaveXmm128Far:
		fo, err := pe.ReadUint32(offset + 2)
		if err != nil {
			return unwindCode, 0
		}
		unwindCode.FrameOffset = uint16(fo)
		unwindCode.Operand = "Register=XMM" + strconv.Itoa(int(unwindCode.OpInfo)) +
			", Offset=" + strconv.Itoa(int(unwindCode.FrameOffset))
		advanceBy += 3
	case UwOpSetFpRegLarge:
		unwindCode.Operand = "Register=" + OpInfoRegisters[unwindCode.OpInfo]
		advanceBy += 2
	case UwOpPushMachFrame:
		advanceBy++
	case UwOpEpilog:
		if version == 2 {
			unwindCode.Operand = "Flags=" + strconv.Itoa(int(unwindCode.OpInfo)) +
				", Size=" + strconv.Itoa(int(unwindCode.CodeOffset))
		}
		advanceBy += 2
	case UwOpSpareCode:
		advanceBy += 3
	default:
		advanceBy++
		pe.logger.Warnf("unrecognized unwind opcode %d", unwindCode.UnwindOp)
	}

	return unwindCode, advanceBy
}

// readUnwindInfo reads one _UNWIND_INFO structure at the file offset
// corresponding to unwindInfoRVA, along with the chained RuntimeFunction
// when UNW_FLAG_CHAININFO is set.
func (pe *File) readUnwindInfo(unwindInfoRVA uint32) (UnwindInfo, *ImageRuntimeFunctionEntry, error) {
	var ui UnwindInfo

	offset, err := pe.GetOffsetFromRva(unwindInfoRVA)
	if err != nil {
		return ui, nil, err
	}

	v, err := pe.ReadUint32(offset)
	if err != nil {
		return ui, nil, err
	}

	ui.Version = uint8(v & 0x7)
	ui.Flags = uint8(v & 0xf8 >> 3)
	ui.SizeOfProlog = uint8(v & 0xff00 >> 8)
	ui.CountOfCodes = uint8(v & 0xff0000 >> 16)
	ui.FrameRegister = uint8(v & 0xf00000 >> 20)
	ui.FrameOffset = uint8(v&0xf0000000>>28) * 16

	offset += 4
	i := 0
	for i < int(ui.CountOfCodes) {
		ucOffset := offset + 2*uint32(i)
		unwindCode, advanceBy := pe.parseUnwindCode(ucOffset, ui.Version)
		if advanceBy == 0 {
			return ui, nil, nil
		}
		ui.UnwindCodes = append(ui.UnwindCodes, unwindCode)
		i += advanceBy
	}

	// The unwind code array is padded to an even count of slots (§3).
	codeSlots := int(ui.CountOfCodes)
	if codeSlots&1 == 1 {
		codeSlots++
	}
	trailerOffset := offset + 2*uint32(codeSlots)

	if ui.Flags&UnwFlagChainInfo == 0 {
		if ui.Flags&(UnwFlagEHandler|UnwFlagUHandler) != 0 {
			handler, err := pe.ReadUint32(trailerOffset)
			if err == nil {
				ui.ExceptionHandler = handler
			}
		}
		return ui, nil, nil
	}

	var chained ImageRuntimeFunctionEntry
	size := uint32(binary.Size(chained))
	if err := pe.structUnpack(&chained, trailerOffset, size); err != nil {
		return ui, nil, err
	}
	return ui, &chained, nil
}

// resolveException implements §4.7 step 2-3: it follows a
// UNW_FLAG_CHAININFO chain from entry to its terminal function, capped at
// maxChainHops, and attaches that terminal function's UnwindInfo.
func (pe *File) resolveException(entry ImageRuntimeFunctionEntry) Exception {
	current := entry
	hops := 0

	for {
		if current.UnwindInfoAddress == 0 {
			return Exception{RuntimeFunction: current, ChainHops: hops}
		}

		ui, chained, err := pe.readUnwindInfo(current.UnwindInfoAddress)
		if err != nil {
			if hops > 0 {
				pe.addAnomaly(AnoChainResolutionFailed)
			}
			return Exception{RuntimeFunction: current, ChainHops: hops}
		}

		if chained == nil {
			return Exception{RuntimeFunction: current, UnwindInfo: ui, HasUnwindInfo: true, ChainHops: hops}
		}

		hops++
		if hops >= maxChainHops {
			pe.addAnomaly(AnoChainResolutionCapped)
			return Exception{RuntimeFunction: current, UnwindInfo: ui, HasUnwindInfo: true, ChainHops: hops}
		}

		current = *chained
	}
}

// parseExceptionDirectory implements §4.7: it walks the x64 function table
// and resolves each entry's unwind-chain to its terminal function.
func (pe *File) parseExceptionDirectory(rva, size uint32) error {
	if rva == 0 {
		return nil
	}

	fileOffset, err := pe.GetOffsetFromRva(rva)
	if err != nil {
		return err
	}

	entrySize := uint32(binary.Size(ImageRuntimeFunctionEntry{}))
	if entrySize == 0 {
		return nil
	}
	entriesCount := size / entrySize

	exceptions := make([]Exception, 0, entriesCount)
	for i := uint32(0); i < entriesCount; i++ {
		var functionEntry ImageRuntimeFunctionEntry
		offset := fileOffset + entrySize*i
		if err := pe.structUnpack(&functionEntry, offset, entrySize); err != nil {
			return err
		}
		exceptions = append(exceptions, pe.resolveException(functionEntry))
	}

	pe.Exceptions = exceptions
	pe.HasException = len(exceptions) > 0
	return nil
}

// PrettyUnwindInfoHandlerFlags returns the human-readable names of the bits
// set in an unwind info `flags` byte.
func PrettyUnwindInfoHandlerFlags(flags uint8) []string {
	var values []string
	m := map[uint8]string{
		UnwFlagNHandler:  "No Handler",
		UnwFlagEHandler:  "Exception",
		UnwFlagUHandler:  "Termination",
		UnwFlagChainInfo: "Chain",
	}
	for k, s := range m {
		if k&flags != 0 {
			values = append(values, s)
		}
	}
	return values
}

// String returns the string representation of an unwind opcode.
func (uo UnwindOpType) String() string {
	m := map[UnwindOpType]string{
		UwOpPushNonVol:    "UWOP_PUSH_NONVOL",
		UwOpAllocLarge:    "UWOP_ALLOC_LARGE",
		UwOpAllocSmall:    "UWOP_ALLOC_SMALL",
		UwOpSetFpReg:      "UWOP_SET_FPREG",
		UwOpSaveNonVol:    "UWOP_SAVE_NONVOL",
		UwOpSaveNonVolFar: "UWOP_SAVE_NONVOL_FAR",
		UwOpEpilog:        "UWOP_EPILOG",
		UwOpSpareCode:     "UWOP_SPARE_CODE",
		UwOpSaveXmm128:    "UWOP_SAVE_XMM128",
		UwOpSaveXmm128Far: "UWOP_SAVE_XMM128_FAR",
		UwOpPushMachFrame: "UWOP_PUSH_MACHFRAME",
		UwOpSetFpRegLarge: "UWOP_SET_FPREG_LARGE",
	}
	if val, ok := m[uo]; ok {
		return val
	}
	return "?"
}
