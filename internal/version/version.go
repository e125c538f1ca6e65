// SPDX-License-Identifier: MPL-2.0

// Package version compares toolchain versions and reads them from
// environment metadata without executing anything.
package version

import (
	"strconv"
	"strings"

	"golang.org/x/mod/semver"
)

// Compare orders two version strings numerically segment by segment.
// A leading "v" and any pre-release or build suffix are ignored, missing
// trailing segments count as zero, and non-numeric segments compare as zero.
// It returns -1, 0 or +1.
func Compare(a, b string) int {
	ca, cb := canonical(a), canonical(b)
	if semver.IsValid(ca) && semver.IsValid(cb) && semver.Canonical(ca) == ca && semver.Canonical(cb) == cb {
		return semver.Compare(ca, cb)
	}

	sa, sb := segments(a), segments(b)
	n := max(len(sa), len(sb))
	for i := range n {
		var x, y int
		if i < len(sa) {
			x = sa[i]
		}
		if i < len(sb) {
			y = sb[i]
		}
		switch {
		case x < y:
			return -1
		case x > y:
			return 1
		}
	}
	return 0
}

// canonical strips suffixes and prefixes a "v" so x/mod/semver accepts it.
func canonical(v string) string {
	v = core(v)
	if v == "" {
		return ""
	}
	return "v" + v
}

// core trims whitespace, a leading "v", and anything after the numeric part.
func core(v string) string {
	v = strings.TrimSpace(v)
	v = strings.TrimPrefix(strings.TrimPrefix(v, "v"), "V")
	if i := strings.IndexAny(v, "-+ "); i >= 0 {
		v = v[:i]
	}
	return v
}

func segments(v string) []int {
	v = core(v)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ".")
	out := make([]int, len(parts))
	for i, p := range parts {
		n, err := strconv.Atoi(leadingDigits(p))
		if err != nil {
			continue
		}
		out[i] = n
	}
	return out
}

// leadingDigits keeps the numeric head of a segment ("12rc1" -> "12").
func leadingDigits(s string) string {
	end := 0
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	return s[:end]
}

// Looks reports whether s is shaped like a dotted version ("3.12", "0.9.1").
func Looks(s string) bool {
	c := core(s)
	if c == "" || !strings.Contains(c, ".") {
		return false
	}
	for _, p := range strings.Split(c, ".") {
		if leadingDigits(p) == "" {
			return false
		}
	}
	return true
}

// Highest returns the path whose version is highest. Ties keep the path seen
// first. Paths without a readable version never win unless no path has one,
// in which case the first path is returned. An empty input yields "".
func Highest(paths []string, read func(string) (string, bool)) string {
	best, bestVersion := "", ""
	for _, p := range paths {
		v, ok := read(p)
		if !ok || v == "" {
			continue
		}
		if best == "" || Compare(v, bestVersion) > 0 {
			best, bestVersion = p, v
		}
	}
	if best == "" && len(paths) > 0 {
		return paths[0]
	}
	return best
}
