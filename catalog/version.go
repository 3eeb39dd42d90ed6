package catalog

import (
	"strings"

	"github.com/Masterminds/semver/v3"
)

// CompareVersions orders toolkit version strings. Versions that parse as
// semantic versions ("7.10.0", "9.1", "v8") compare numerically and sort
// after anything that does not parse. Unparsable versions, and versions
// that are numerically equal, fall back to plain string order.
func CompareVersions(a, b string) int {
	va, errA := semver.NewVersion(a)
	vb, errB := semver.NewVersion(b)
	switch {
	case errA == nil && errB == nil:
		if c := va.Compare(vb); c != 0 {
			return c
		}
	case errA == nil:
		return 1
	case errB == nil:
		return -1
	}
	return strings.Compare(a, b)
}
