package text

import (
	"golang.org/x/text/encoding/charmap"
)

// Encode converts s into the client's one-byte-per-character charset (Windows-1252).
// Runes the charset cannot represent are replaced with '?'.
func Encode(s string) []byte {
	out := make([]byte, 0, len(s))
	for _, r := range s {
		if b, ok := charmap.Windows1252.EncodeRune(r); ok {
			out = append(out, b)
		} else {
			out = append(out, '?')
		}
	}
	return out
}

// Decode converts bytes in the client charset into a Go string.
func Decode(b []byte) string {
	runes := make([]rune, len(b))
	for i, c := range b {
		runes[i] = charmap.Windows1252.DecodeByte(c)
	}
	return string(runes)
}
