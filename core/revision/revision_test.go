package revision

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNext(t *testing.T) {
	cases := []struct {
		name          string
		current       string
		kind          Kind
		explicitMajor int
		want          string
	}{
		{"minor bump", "1.2", Minor, NoExplicitMajor, "1.3"},
		{"minor bump double digits", "1.9", Minor, NoExplicitMajor, "1.10"},
		{"minor from zero", "0.0", Minor, NoExplicitMajor, "0.1"},
		{"major bump", "1.2", Major, NoExplicitMajor, "2.0"},
		{"major resets minor", "3.17", Major, NoExplicitMajor, "4.0"},
		{"empty current minor", "", Minor, NoExplicitMajor, "0.1"},
		{"empty current major", "", Major, NoExplicitMajor, "1.0"},
		{"malformed current major", "malformed", Major, NoExplicitMajor, "1.0"},
		{"malformed current minor", "not.a.rev", Minor, NoExplicitMajor, "0.1"},
		{"negative component treated as malformed", "-1.2", Minor, NoExplicitMajor, "0.1"},
		{"explicit major forward", "1.2", Major, 7, "7.0"},
		{"explicit major rewind", "5.3", Major, 2, "2.0"},
		{"explicit major zero", "5.3", Major, 0, "0.0"},
		{"explicit major ignored for minor", "1.2", Minor, 9, "1.3"},
		{"whitespace current", "  1.2  ", Minor, NoExplicitMajor, "1.3"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Next(tc.current, tc.kind, tc.explicitMajor)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestParse(t *testing.T) {
	cases := []struct {
		in     string
		want   Revision
		wantOK bool
	}{
		{"1.2", Revision{1, 2}, true},
		{"0.0", Revision{0, 0}, true},
		{"10.25", Revision{10, 25}, true},
		{"", Revision{}, false},
		{"1", Revision{}, false},
		{"1.2.3", Revision{}, false},
		{"a.b", Revision{}, false},
		{"1.-2", Revision{}, false},
	}

	for _, tc := range cases {
		got, ok := Parse(tc.in)
		if ok != tc.wantOK {
			t.Errorf("Parse(%q) ok = %v, want %v", tc.in, ok, tc.wantOK)
			continue
		}
		if ok && got != tc.want {
			t.Errorf("Parse(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestCompare_IntegerNotStringOrdering(t *testing.T) {
	// "1.10" orders after "1.9" even though it sorts before it as a string.
	a := ParseOrZero("1.10")
	b := ParseOrZero("1.9")

	assert.Equal(t, 1, a.Compare(b))
	assert.Equal(t, -1, b.Compare(a))
	assert.True(t, b.Less(a))

	assert.Equal(t, 0, ParseOrZero("2.0").Compare(ParseOrZero("2.0")))
	assert.Equal(t, -1, ParseOrZero("1.99").Compare(ParseOrZero("2.0")))
}

func TestString_RoundTrip(t *testing.T) {
	for _, s := range []string{"0.0", "1.2", "10.25", "999.1"} {
		rev, ok := Parse(s)
		if !ok {
			t.Fatalf("Parse(%q) failed", s)
		}
		if rev.String() != s {
			t.Errorf("String() = %q, want %q", rev.String(), s)
		}
	}
}

func TestParseKind(t *testing.T) {
	cases := []struct {
		in     string
		want   Kind
		wantOK bool
	}{
		{"minor", Minor, true},
		{"major", Major, true},
		{"MAJOR", Major, true},
		{"", Minor, true},
		{" minor ", Minor, true},
		{"patch", 0, false},
	}

	for _, tc := range cases {
		got, ok := ParseKind(tc.in)
		if ok != tc.wantOK || (ok && got != tc.want) {
			t.Errorf("ParseKind(%q) = (%v, %v), want (%v, %v)", tc.in, got, ok, tc.want, tc.wantOK)
		}
	}
}
