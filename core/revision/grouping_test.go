package revision

import "testing"

func TestClassifyGroup(t *testing.T) {
	cases := []struct {
		filename string
		want     string
	}{
		{"1234567.mcam", "12-34567"},
		{"1234567-rev2.mcam", "12-34567"},
		{"1234567_fixture.vnc", "12-34567"},
		{"1234567", "12-34567"},
		{"7654321.mcam", "76-54321"},
		{"12345678.mcam", "MCAM Files"}, // eight digits is not a part number
		{"123456.mcam", "MCAM Files"},   // six digits is not a part number
		{"bracket.vnc", "VNC Files"},
		{"notes.txt", "TXT Files"},
		{"README", "Misc"},
		{"parts/1234567.mcam", "12-34567"},
		{"deep/nested/dir/fixture.emcam", "EMCAM Files"},
		{"windows\\style\\1234567.mcam", "12-34567"},
	}

	for _, tc := range cases {
		if got := ClassifyGroup(tc.filename); got != tc.want {
			t.Errorf("ClassifyGroup(%q) = %q, want %q", tc.filename, got, tc.want)
		}
	}
}

func TestClassifyGroup_SamePrefixBucketsTogether(t *testing.T) {
	a := ClassifyGroup("1234567.mcam")
	b := ClassifyGroup("1234567-old.mcam")
	c := ClassifyGroup("1234567.vnc")

	if a != b || b != c {
		t.Errorf("same part number should share a bucket: %q, %q, %q", a, b, c)
	}
}
