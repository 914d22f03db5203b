package pe

// Fuzz drives NewBytes + Parse + the PDB-URL builder over arbitrary input
// (§4.14). It returns 1 only when a fully successful parse resulted,
// regardless of whether the image happens to carry a PDB record.
func Fuzz(data []byte) int {
	f, err := NewBytes(data, &Options{Fast: false, SectionEntropy: true})
	if err != nil {
		return 0
	}
	defer f.Close()

	if err := f.Parse(); err != nil {
		return 0
	}

	_, _ = f.PDBURL()
	return 1
}
