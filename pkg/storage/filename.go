package storage

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	unsafeFilenameChars = regexp.MustCompile(`[^A-Za-z0-9_.-]+`)
	repeatedUnderscore  = regexp.MustCompile(`_+`)
)

// SecureFilename folds accents to ASCII, replaces whitespace and unsafe characters with
// underscores and strips leading dots, so "Inspección Eléctrica #2" becomes
// "Inspeccion_Electrica_2".
func SecureFilename(name string) string {
	folded, _, err := transform.String(transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC), name)
	if err != nil {
		folded = name
	}
	folded = strings.Join(strings.Fields(folded), "_")
	folded = unsafeFilenameChars.ReplaceAllString(folded, "_")
	folded = repeatedUnderscore.ReplaceAllString(folded, "_")
	folded = strings.Trim(folded, "._")
	return folded
}
