package supervisor

import "unicode/utf8"

// incompleteSuffix returns the length of a UTF-8 sequence at the end of b
// that still needs more bytes. Invalid bytes count as complete so they are
// never held back.
func incompleteSuffix(b []byte) int {
	for i := 1; i < utf8.UTFMax && i <= len(b); i++ {
		c := b[len(b)-i]
		if !utf8.RuneStart(c) {
			continue
		}
		if c < utf8.RuneSelf || utf8.FullRune(b[len(b)-i:]) {
			return 0
		}
		return i
	}
	return 0
}

// splitOutput appends chunk to carry and returns the part that ends on a
// rune boundary plus the bytes to hold for the next read.
func splitOutput(carry, chunk []byte) (ready, rest []byte) {
	buf := make([]byte, 0, len(carry)+len(chunk))
	buf = append(buf, carry...)
	buf = append(buf, chunk...)
	cut := len(buf) - incompleteSuffix(buf)
	if cut < len(buf) {
		rest = append([]byte(nil), buf[cut:]...)
	}
	return buf[:cut], rest
}
