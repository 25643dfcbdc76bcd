package classify

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// hashBodyRunes bounds how much of the fact body feeds the content hash.
const hashBodyRunes = 500

// NormalizeText applies NFKC, lowercases, drops control characters and collapses whitespace.
func NormalizeText(s string) string {
	s = strings.ToLower(norm.NFKC.String(s))
	var b strings.Builder
	b.Grow(len(s))
	space := false
	for _, r := range s {
		switch {
		case unicode.IsSpace(r):
			space = true
			continue
		case unicode.IsControl(r):
			continue
		}
		if space && b.Len() > 0 {
			b.WriteByte(' ')
		}
		space = false
		b.WriteRune(r)
	}
	return b.String()
}

// ContentHash fingerprints a fact for exact-duplicate detection: the normalized title plus
// the first 500 runes of the normalized description and problem statement. It is approximate;
// similarity merging catches reworded duplicates.
func ContentHash(title, description, problem string) string {
	body := NormalizeText(strings.TrimSpace(description + " " + problem))
	if r := []rune(body); len(r) > hashBodyRunes {
		body = string(r[:hashBodyRunes])
	}
	sum := sha256.Sum256([]byte(NormalizeText(title) + "\n" + body))
	return hex.EncodeToString(sum[:])
}
