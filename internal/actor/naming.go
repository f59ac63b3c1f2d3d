package actor

import (
	"strconv"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// UniqueName returns name, or name with the lowest " 2", " 3", ... suffix
// that no taken name uses. Names are compared in NFC and the result fits in
// capacity bytes; the base is cut on a rune boundary to make room for the
// suffix.
func UniqueName(taken []string, name string, capacity int) string {
	base := norm.NFC.String(name)
	used := make(map[string]bool, len(taken))
	for _, n := range taken {
		used[norm.NFC.String(n)] = true
	}

	candidate := fitName(base, capacity)
	for n := 2; used[candidate]; n++ {
		suffix := " " + strconv.Itoa(n)
		candidate = fitName(base, capacity-len(suffix)) + suffix
	}
	return candidate
}

func fitName(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
