// Package revision implements the MAJOR.MINOR revision labels attached to
// vault files and the filename grouping used by the dashboard listing.
// Everything here is pure: no IO, no clocks, no state.
package revision

import (
	"fmt"
	"strconv"
	"strings"
)

// =============================================================================
// Kind
// =============================================================================

// Kind selects how Next advances a revision.
type Kind int

const (
	// Minor bumps the minor component: 1.2 -> 1.3.
	Minor Kind = iota

	// Major bumps the major component and resets minor: 1.2 -> 2.0.
	Major
)

func (k Kind) String() string {
	switch k {
	case Minor:
		return "minor"
	case Major:
		return "major"
	default:
		return "unknown"
	}
}

// ParseKind maps the wire form ("minor", "major") to a Kind.
func ParseKind(s string) (Kind, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "minor", "":
		return Minor, true
	case "major":
		return Major, true
	default:
		return 0, false
	}
}

// =============================================================================
// Revision
// =============================================================================

// Revision is a parsed MAJOR.MINOR label. Ordering is by integer comparison
// of (major, minor), never by string comparison: 1.10 > 1.9.
type Revision struct {
	Major int
	Minor int
}

// Parse reads a dotted-pair revision string. The boolean reports whether the
// input was well formed; callers that want the permissive fallback should use
// ParseOrZero instead.
func Parse(s string) (Revision, bool) {
	major, minor, ok := splitPair(strings.TrimSpace(s))
	if !ok {
		return Revision{}, false
	}
	return Revision{Major: major, Minor: minor}, true
}

// ParseOrZero reads a revision string, treating malformed or empty input as
// 0.0. This fallback is deliberate: files uploaded before the vault tracked
// revisions have no label, and a check-in on them must still succeed.
func ParseOrZero(s string) Revision {
	rev, ok := Parse(s)
	if !ok {
		return Revision{}
	}
	return rev
}

// splitPair splits "M.N" into its integer components.
func splitPair(s string) (major, minor int, ok bool) {
	dot := strings.IndexByte(s, '.')
	if dot < 0 {
		return 0, 0, false
	}

	major, err := strconv.Atoi(s[:dot])
	if err != nil || major < 0 {
		return 0, 0, false
	}

	minor, err = strconv.Atoi(s[dot+1:])
	if err != nil || minor < 0 {
		return 0, 0, false
	}

	return major, minor, true
}

// String renders the canonical dotted-pair form.
func (r Revision) String() string {
	return fmt.Sprintf("%d.%d", r.Major, r.Minor)
}

// Compare returns -1, 0, or 1 ordering r against other by (major, minor).
func (r Revision) Compare(other Revision) int {
	if r.Major != other.Major {
		if r.Major < other.Major {
			return -1
		}
		return 1
	}
	if r.Minor != other.Minor {
		if r.Minor < other.Minor {
			return -1
		}
		return 1
	}
	return 0
}

// Less reports whether r orders strictly before other.
func (r Revision) Less(other Revision) bool {
	return r.Compare(other) < 0
}

// =============================================================================
// Next
// =============================================================================

// NoExplicitMajor marks the explicitMajor argument of Next as absent.
const NoExplicitMajor = -1

// Next computes the revision a check-in assigns. current is parsed
// permissively (malformed or empty means 0.0).
//
//   - Minor: MAJOR.(MINOR+1)
//   - Major without explicit value: (MAJOR+1).0
//   - Major with explicit value: EXPLICIT.0, regardless of current
//
// The explicit-major form may move the revision backward. That is an
// intentional admin rewind allowance, so monotonicity is not enforced here;
// callers that want it strict must compare before committing.
func Next(current string, kind Kind, explicitMajor int) string {
	rev := ParseOrZero(current)

	switch kind {
	case Major:
		if explicitMajor > NoExplicitMajor {
			return Revision{Major: explicitMajor}.String()
		}
		return Revision{Major: rev.Major + 1}.String()
	default:
		return Revision{Major: rev.Major, Minor: rev.Minor + 1}.String()
	}
}
