// Package text contains the string encodings understood by the game client: the
// base-37 name codec and the one-byte-per-character charset used for all
// null-terminated strings on the wire.
package text

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// MaxNameLength is the longest name that fits in a base-37 encoded uint64.
const MaxNameLength = 12

// maxEncodedName is 37^12, one past the largest encoded 12 character name.
const maxEncodedName uint64 = 6582952005840035281

var base37Alphabet = []byte(" abcdefghijklmnopqrstuvwxyz0123456789")

// EncodeBase37 packs name into a uint64. Letters are case-folded, digits are kept, and
// every other character is treated as a space. Characters past MaxNameLength are ignored
// and trailing spaces do not contribute to the result.
func EncodeBase37(name string) uint64 {
	var value uint64
	for i := 0; i < len(name) && i < MaxNameLength; i++ {
		c := name[i]
		value *= 37
		switch {
		case c >= 'A' && c <= 'Z':
			value += uint64(1 + c - 'A')
		case c >= 'a' && c <= 'z':
			value += uint64(1 + c - 'a')
		case c >= '0' && c <= '9':
			value += uint64(27 + c - '0')
		}
	}

	for value%37 == 0 && value != 0 {
		value /= 37
	}
	return value
}

// DecodeBase37 unpacks a value produced by EncodeBase37 into a lowercase name. Values
// that cannot have been produced by a legal name decode to the empty string.
func DecodeBase37(value uint64) string {
	if value == 0 || value >= maxEncodedName || value%37 == 0 {
		return ""
	}

	var chars [MaxNameLength]byte
	n := 0
	for value != 0 {
		remainder := value % 37
		value /= 37
		n++
		chars[MaxNameLength-n] = base37Alphabet[remainder]
	}
	return string(chars[MaxNameLength-n:])
}

// FormatDisplayName converts a decoded name into the form shown to other players:
// underscores become spaces, runs of spaces collapse, and each word is title-cased.
func FormatDisplayName(name string) string {
	name = strings.ReplaceAll(name, "_", " ")
	name = strings.Join(strings.Fields(name), " ")
	return cases.Title(language.English).String(name)
}
