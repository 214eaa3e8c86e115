package revision

import (
	"path"
	"regexp"
	"strings"
)

// =============================================================================
// Filename grouping
// =============================================================================

// MiscGroup is the fallback bucket for names with neither a numeric prefix
// nor an extension.
const MiscGroup = "Misc"

// sevenDigitPrefix matches part numbers like 1234567.mcam or 1234567-A.vnc:
// seven leading digits followed by a non-digit (or nothing).
var sevenDigitPrefix = regexp.MustCompile(`^(\d{7})(?:\D|$)`)

// ClassifyGroup buckets a filename for the grouped dashboard listing.
//
// Names carrying a seven-digit part-number prefix group by that number,
// rendered NN-NNNNN so 1234567.mcam and 1234567-rev2.mcam land in the same
// "12-34567" bucket. Anything else groups by upper-cased extension, and
// names with no extension fall into MiscGroup.
func ClassifyGroup(filename string) string {
	base := path.Base(strings.ReplaceAll(filename, "\\", "/"))

	if m := sevenDigitPrefix.FindStringSubmatch(base); m != nil {
		return m[1][:2] + "-" + m[1][2:]
	}

	ext := strings.TrimPrefix(path.Ext(base), ".")
	if ext == "" {
		return MiscGroup
	}
	return strings.ToUpper(ext) + " Files"
}
