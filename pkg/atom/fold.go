package atom

// foldTable maps ASCII upper-case letters to lower case and every other byte
// to itself. Case-insensitive atoms are stored folded and the scanner folds
// input bytes through the same table.
var foldTable = func() (t [256]byte) {
	for i := range t {
		b := byte(i)
		if b >= 'A' && b <= 'Z' {
			b += 'a' - 'A'
		}
		t[i] = b
	}
	return t
}()

// wordTable marks ASCII alphanumerics.
var wordTable = func() (t [256]bool) {
	for i := range t {
		b := byte(i)
		t[i] = (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
	}
	return t
}()

// Fold returns the case-folded form of b.
func Fold(b byte) byte {
	return foldTable[b]
}

// FoldBytes returns a case-folded copy of p.
func FoldBytes(p []byte) []byte {
	out := make([]byte, len(p))
	for i, b := range p {
		out[i] = foldTable[b]
	}
	return out
}

// IsWordByte reports whether b is ASCII alphanumeric. Fullword atoms must
// not be adjacent to such bytes.
func IsWordByte(b byte) bool {
	return wordTable[b]
}
