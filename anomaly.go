// Copyright 2021 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pe

// Anomalies are recoverable, non-fatal oddities recorded as human-readable
// strings rather than surfaced as errors (§2.1, §4.13). They never abort a
// directory walk; they exist purely for diagnosis.
var (
	// AnoPEHeaderOverlapDOSHeader is reported when e_lfanew is 0x3c or less,
	// so the NT headers start inside the fixed 64-byte DOS header.
	AnoPEHeaderOverlapDOSHeader = "PE Header overlaps with DOS header"

	// AnoReservedDataDirectoryEntry is reported when the last (reserved)
	// data directory entry is non-zero.
	AnoReservedDataDirectoryEntry = "Last data directory entry is a reserved field, must be set to zero"

	// AnoInvalidThunkAddressOfData is reported when an import thunk's
	// AddressOfData RVA cannot be mapped to a file offset.
	AnoInvalidThunkAddressOfData = "Thunk AddressOfData does not resolve to a valid RVA"

	// AnoManyRepeatedThunks is reported when an import table walk produces
	// an implausible run of identical thunk values, a sign of a corrupted
	// or adversarial import table.
	AnoManyRepeatedThunks = "Import table contains an abnormal run of repeated thunk values"

	// AnoChainResolutionCapped is reported when an exception directory
	// entry's UNW_FLAG_CHAININFO walk hits the static hop ceiling (§4.7,
	// REDESIGN FLAG R1) before reaching a terminal function.
	AnoChainResolutionCapped = "Exception unwind chain exceeded the resolution hop ceiling"

	// AnoChainResolutionFailed is reported when a read along an unwind
	// chain fails before the chain flag clears; resolution stops at the
	// last successfully read RuntimeFunction (§9 open question 1).
	AnoChainResolutionFailed = "Exception unwind chain truncated by a read failure"

	// AnoMalformedCodeViewRecord is reported when a CodeView debug record's
	// payload is too short for its declared signature and is skipped.
	AnoMalformedCodeViewRecord = "CodeView debug record payload too short for its signature"

	// AnoUnboundedRelocationBlock is reported when a base relocation block's
	// SizeOfBlock is smaller than its own 8-byte header; the walk stops there.
	AnoUnboundedRelocationBlock = "Base relocation block size is smaller than its 8-byte header"
)

// addAnomaly appends anomaly to the parser's anomaly list, deduplicating
// repeated occurrences of the exact same message.
func (pe *File) addAnomaly(anomaly string) {
	if !stringInSlice(anomaly, pe.Anomalies) {
		pe.Anomalies = append(pe.Anomalies, anomaly)
	}
}
