// internal/transport/version.go
package transport

import (
	"fmt"
	"strconv"
	"strings"
)

// Version is a major.minor.patch triple of the Modbus client stack a
// deployment was written against
type Version struct {
	Major int `json:"major"`
	Minor int `json:"minor"`
	Patch int `json:"patch"`
}

// DefaultVersion is assumed when a session names no stack version
var DefaultVersion = Version{Major: 3, Minor: 11}

// ParseVersion parses "3", "3.6", "v3.11.2" and similar
func ParseVersion(s string) (Version, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "v")
	if s == "" {
		return DefaultVersion, nil
	}

	parts := strings.SplitN(s, ".", 3)
	var nums [3]int
	for i, p := range parts {
		// tolerate suffixes such as "2rc1" in the last component
		end := strings.IndexFunc(p, func(r rune) bool { return r < '0' || r > '9' })
		if end == 0 {
			return Version{}, fmt.Errorf("invalid version %q", s)
		}
		if end > 0 {
			if i != len(parts)-1 {
				return Version{}, fmt.Errorf("invalid version %q", s)
			}
			p = p[:end]
		}
		n, err := strconv.Atoi(p)
		if err != nil {
			return Version{}, fmt.Errorf("invalid version %q: %w", s, err)
		}
		nums[i] = n
	}
	return Version{Major: nums[0], Minor: nums[1], Patch: nums[2]}, nil
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// Compare returns -1, 0 or 1
func (v Version) Compare(o Version) int {
	switch {
	case v.Major != o.Major:
		return sign(v.Major - o.Major)
	case v.Minor != o.Minor:
		return sign(v.Minor - o.Minor)
	default:
		return sign(v.Patch - o.Patch)
	}
}

func sign(n int) int {
	switch {
	case n < 0:
		return -1
	case n > 0:
		return 1
	default:
		return 0
	}
}

// UnitKeyword is the name under which the unit id is passed to a stack
type UnitKeyword string

const (
	KeywordDeviceID UnitKeyword = "device_id"
	KeywordSlave    UnitKeyword = "slave"
	KeywordUnit     UnitKeyword = "unit"
)

var (
	deviceIDSince = Version{Major: 3, Minor: 11}
	slaveSince    = Version{Major: 3}
)

// SelectKeyword picks the unit addressing convention for a stack version
func SelectKeyword(v Version) UnitKeyword {
	switch {
	case v.Compare(deviceIDSince) >= 0:
		return KeywordDeviceID
	case v.Compare(slaveSince) >= 0:
		return KeywordSlave
	default:
		return KeywordUnit
	}
}

// UnitBinding is the unit id together with the keyword it travels under
type UnitBinding struct {
	Keyword UnitKeyword `json:"keyword"`
	ID      uint8       `json:"id"`
}
