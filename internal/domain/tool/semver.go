package tool

import (
	"regexp"
	"strconv"
	"strings"
)

// semverPattern matches MAJOR.MINOR.PATCH with optional pre-release and
// build metadata, per semver.org 2.0.0.
var semverPattern = regexp.MustCompile(`^(0|[1-9]\d*)\.(0|[1-9]\d*)\.(0|[1-9]\d*)` +
	`(?:-((?:0|[1-9]\d*|\d*[a-zA-Z-][0-9a-zA-Z-]*)(?:\.(?:0|[1-9]\d*|\d*[a-zA-Z-][0-9a-zA-Z-]*))*))?` +
	`(?:\+([0-9a-zA-Z-]+(?:\.[0-9a-zA-Z-]+)*))?$`)

// IsValidVersion reports whether v is a valid semantic version string.
func IsValidVersion(v string) bool {
	return semverPattern.MatchString(v)
}

// CompareVersions orders two semantic versions: -1 if a < b, 0 if equal,
// +1 if a > b. Build metadata is ignored, pre-release sorts before the
// release it precedes. Invalid versions compare as plain strings so the
// ordering stays total.
func CompareVersions(a, b string) int {
	ma := semverPattern.FindStringSubmatch(a)
	mb := semverPattern.FindStringSubmatch(b)
	if ma == nil || mb == nil {
		return strings.Compare(a, b)
	}

	for i := 1; i <= 3; i++ {
		na, _ := strconv.Atoi(ma[i])
		nb, _ := strconv.Atoi(mb[i])
		if na != nb {
			if na < nb {
				return -1
			}
			return 1
		}
	}

	return comparePrerelease(ma[4], mb[4])
}

// comparePrerelease implements semver pre-release precedence: an empty
// pre-release outranks any pre-release; otherwise dot-separated
// identifiers compare numerically when both numeric, lexically otherwise,
// with numeric identifiers ranking below alphanumeric ones.
func comparePrerelease(a, b string) int {
	switch {
	case a == "" && b == "":
		return 0
	case a == "":
		return 1
	case b == "":
		return -1
	}

	pa := strings.Split(a, ".")
	pb := strings.Split(b, ".")
	for i := 0; i < len(pa) && i < len(pb); i++ {
		na, errA := strconv.Atoi(pa[i])
		nb, errB := strconv.Atoi(pb[i])
		switch {
		case errA == nil && errB == nil:
			if na != nb {
				if na < nb {
					return -1
				}
				return 1
			}
		case errA == nil:
			return -1
		case errB == nil:
			return 1
		default:
			if c := strings.Compare(pa[i], pb[i]); c != 0 {
				return c
			}
		}
	}
	switch {
	case len(pa) < len(pb):
		return -1
	case len(pa) > len(pb):
		return 1
	}
	return 0
}

// SortedVersions returns the version keys in ascending semver order.
func SortedVersions(versions map[string]*Version) []string {
	keys := make([]string, 0, len(versions))
	for k := range versions {
		keys = append(keys, k)
	}
	sortVersionKeys(keys)
	return keys
}

func sortVersionKeys(keys []string) {
	// Insertion sort: version lists are small (a handful per tool).
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && CompareVersions(keys[j-1], keys[j]) > 0; j-- {
			keys[j-1], keys[j] = keys[j], keys[j-1]
		}
	}
}
