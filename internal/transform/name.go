package transform

import (
	"regexp"
	"strings"
)

// maxSlugLength leaves room in the catalog's 100-character name limit for
// the "-<guid segment>" suffix.
const maxSlugLength = 91

var (
	separatorPattern = regexp.MustCompile(`[ .:/,]`)
	invalidPattern   = regexp.MustCompile(`[^a-z0-9-_]`)
	hyphenRuns       = regexp.MustCompile(`-+`)
)

var asciiEquivalents = strings.NewReplacer(
	"ä", "a", "ö", "o", "ü", "u",
	"Ä", "A", "Ö", "O", "Ü", "U",
	"ß", "ss",
	"é", "e", "è", "e", "ê", "e",
	"á", "a", "à", "a", "â", "a",
	"í", "i", "ì", "i", "î", "i",
	"ó", "o", "ò", "o", "ô", "o",
	"ú", "u", "ù", "u", "û", "u",
)

// Slugify munges a title into a catalog name the same way the catalog's own
// name munging does, so harvested names stay stable.
func Slugify(title string) string {
	slug := asciiEquivalents.Replace(title)
	slug = separatorPattern.ReplaceAllString(slug, "-")
	slug = strings.ToLower(slug)
	slug = invalidPattern.ReplaceAllString(slug, "")
	slug = hyphenRuns.ReplaceAllString(slug, "-")
	return strings.Trim(slug, "-")
}

// GenerateName builds a unique dataset name from the title and the remote
// GUID. Near-duplicate titles across service variants are disambiguated by
// the GUID's first segment.
func GenerateName(title string, guid string) string {
	name := Slugify(title)
	if len(name) > maxSlugLength {
		name = strings.Trim(name[:maxSlugLength], "-")
	}
	guidPart := strings.SplitN(guid, "-", 2)[0]
	return name + "-" + guidPart
}
