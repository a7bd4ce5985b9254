package tool

import "testing"

func TestIsValidVersion(t *testing.T) {
	t.Parallel()

	valid := []string{
		"0.0.1", "1.0.0", "10.20.30",
		"1.0.0-alpha", "1.0.0-alpha.1", "1.0.0-0.3.7",
		"1.0.0+build.5", "1.0.0-beta+exp.sha.5114f85",
	}
	for _, v := range valid {
		if !IsValidVersion(v) {
			t.Errorf("IsValidVersion(%q) = false, want true", v)
		}
	}

	invalid := []string{
		"", "1", "1.0", "v1.0.0", "01.0.0", "1.0.0.0",
		"1.0.0-", "1.0.0+", "latest", "1.x.0",
	}
	for _, v := range invalid {
		if IsValidVersion(v) {
			t.Errorf("IsValidVersion(%q) = true, want false", v)
		}
	}
}

func TestCompareVersions(t *testing.T) {
	t.Parallel()

	cases := []struct {
		a, b string
		want int
	}{
		{"1.0.0", "1.0.0", 0},
		{"1.0.0", "2.0.0", -1},
		{"2.0.0", "1.9.9", 1},
		{"1.2.0", "1.10.0", -1}, // numeric, not lexical
		{"1.0.0-alpha", "1.0.0", -1},
		{"1.0.0-alpha", "1.0.0-beta", -1},
		{"1.0.0-alpha.1", "1.0.0-alpha.2", -1},
		{"1.0.0-1", "1.0.0-alpha", -1}, // numeric identifiers rank lower
		{"1.0.0-alpha", "1.0.0-alpha.1", -1},
		{"1.0.0+build.1", "1.0.0+build.2", 0}, // build metadata ignored
	}
	for _, tc := range cases {
		if got := CompareVersions(tc.a, tc.b); got != tc.want {
			t.Errorf("CompareVersions(%q, %q) = %d, want %d", tc.a, tc.b, got, tc.want)
		}
	}
}

func TestSortedVersions(t *testing.T) {
	t.Parallel()

	versions := map[string]*Version{
		"1.10.0":       {},
		"1.2.0":        {},
		"0.9.0":        {},
		"2.0.0-beta.1": {},
		"2.0.0":        {},
	}
	got := SortedVersions(versions)
	want := []string{"0.9.0", "1.2.0", "1.10.0", "2.0.0-beta.1", "2.0.0"}
	if len(got) != len(want) {
		t.Fatalf("SortedVersions() length = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("SortedVersions()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
