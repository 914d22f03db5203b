// Copyright 2021 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pe

import "testing"

func TestAddAnomalyDedups(t *testing.T) {
	img := newPETestBuilder().build([16]DataDirectory{})
	file := buildAndParse(t, img)

	file.addAnomaly(AnoUnboundedRelocationBlock)
	file.addAnomaly(AnoUnboundedRelocationBlock)

	count := 0
	for _, a := range file.Anomalies {
		if a == AnoUnboundedRelocationBlock {
			count++
		}
	}
	if count != 1 {
		t.Errorf("addAnomaly dedup assertion failed, got %d occurrences, want 1", count)
	}
}

func TestReservedDataDirectoryAnomaly(t *testing.T) {
	var dirs [16]DataDirectory
	dirs[ImageDirectoryEntryReserved] = DataDirectory{VirtualAddress: 1}
	img := newPETestBuilder().build(dirs)

	file := buildAndParse(t, img)

	if !stringInSlice(AnoReservedDataDirectoryEntry, file.Anomalies) {
		t.Errorf("expected %s, got %v", AnoReservedDataDirectoryEntry, file.Anomalies)
	}
}

func TestOverlapDOSHeaderAnomaly(t *testing.T) {
	img := newPETestBuilder().build([16]DataDirectory{})
	img[0x3c] = 0x04
	img[0x3d] = 0
	img[0x3e] = 0
	img[0x3f] = 0

	file, err := NewBytes(img, &Options{Fast: true})
	if err != nil {
		t.Fatalf("NewBytes failed, reason: %v", err)
	}
	if err := file.ParseDOSHeader(); err != nil {
		t.Fatalf("ParseDOSHeader failed, reason: %v", err)
	}
	if !stringInSlice(AnoPEHeaderOverlapDOSHeader, file.Anomalies) {
		t.Errorf("expected %s, got %v", AnoPEHeaderOverlapDOSHeader, file.Anomalies)
	}
}
