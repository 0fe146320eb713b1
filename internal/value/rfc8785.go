package value

import (
	"slices"
	"unicode/utf16"
)

// sortedKeysRFC8785 returns an Object's keys ordered by UTF-16 code unit,
// as RFC 8785 canonical JSON requires. Go's sort.Strings uses UTF-8 byte
// order, which disagrees with RFC 8785 for characters outside the BMP, so
// this must be a dedicated comparator rather than sort.Strings.
func sortedKeysRFC8785(obj Object) []string {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, compareUTF16)
	return keys
}

func compareUTF16(a, b string) int {
	a16 := utf16.Encode([]rune(a))
	b16 := utf16.Encode([]rune(b))

	n := min(len(a16), len(b16))
	for i := 0; i < n; i++ {
		if a16[i] != b16[i] {
			if a16[i] < b16[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(a16) < len(b16):
		return -1
	case len(a16) > len(b16):
		return 1
	default:
		return 0
	}
}
