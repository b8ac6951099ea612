// Package version selects concrete package versions against semantic-version
// ranges.
//
// Ranges use npm-style syntax as understood by Masterminds/semver: exact
// versions ("1.2.3"), caret and tilde ranges ("^1.2.0", "~1.2"), wildcards
// ("1.x", "*"), hyphen ranges ("1.0.0 - 2.0.0") and comparator sets joined by
// spaces, commas or "||". The empty string is treated as "*".
//
// Candidate order is always the caller's: [First] returns the first match in
// the order given. [MostRecent] implements the registry's root selection
// policy, which scans a publish-ordered history from the newest entry
// backwards and is deliberately not "highest semver wins".
package version

import (
	"slices"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/matzehuels/luam/pkg/errors"
)

// Range is a parsed semantic-version constraint.
type Range struct {
	raw string
	c   *semver.Constraints
}

// ParseRange parses s as a range. An unparsable range yields a
// MALFORMED_RANGE error.
func ParseRange(s string) (*Range, error) {
	raw := strings.TrimSpace(s)
	expr := raw
	if expr == "" {
		expr = "*"
	}
	c, err := semver.NewConstraint(expr)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeMalformedRange, err, "invalid range %q", s)
	}
	return &Range{raw: raw, c: c}, nil
}

// String returns the range as written.
func (r *Range) String() string { return r.raw }

// Check reports whether v satisfies the range. Only full MAJOR.MINOR.PATCH
// versions can satisfy anything; "1", "1.2" and "v1.2.3" never do.
func (r *Range) Check(v string) bool {
	sv, err := semver.StrictNewVersion(v)
	if err != nil {
		return false
	}
	return r.c.Check(sv)
}

// Any reports whether any of versions satisfies the range.
func (r *Range) Any(versions []string) bool {
	return slices.ContainsFunc(versions, r.Check)
}

// First returns the first element of versions satisfying the range.
func (r *Range) First(versions []string) (string, bool) {
	for _, v := range versions {
		if r.Check(v) {
			return v, true
		}
	}
	return "", false
}

// MostRecent scans a publish-ordered history from the newest entry backwards
// and returns the first version satisfying the range.
func (r *Range) MostRecent(history []string) (string, bool) {
	for i := len(history) - 1; i >= 0; i-- {
		if r.Check(history[i]) {
			return history[i], true
		}
	}
	return "", false
}

// Satisfies reports whether version matches rng.
func Satisfies(version, rng string) (bool, error) {
	r, err := ParseRange(rng)
	if err != nil {
		return false, err
	}
	return r.Check(version), nil
}

// AnySatisfies reports whether any of versions matches rng. An empty
// candidate list is false, never an error, but rng is still validated.
func AnySatisfies(versions []string, rng string) (bool, error) {
	r, err := ParseRange(rng)
	if err != nil {
		return false, err
	}
	return r.Any(versions), nil
}

// First returns the first of versions, in the order given, that matches rng.
func First(versions []string, rng string) (string, bool, error) {
	r, err := ParseRange(rng)
	if err != nil {
		return "", false, err
	}
	v, ok := r.First(versions)
	return v, ok, nil
}

// MostRecent returns the most recently published entry of history matching rng.
func MostRecent(history []string, rng string) (string, bool, error) {
	r, err := ParseRange(rng)
	if err != nil {
		return "", false, err
	}
	v, ok := r.MostRecent(history)
	return v, ok, nil
}

// IsExact reports whether s is a concrete MAJOR.MINOR.PATCH[-pre][+build]
// version rather than a range.
func IsExact(s string) bool {
	_, err := semver.StrictNewVersion(strings.TrimSpace(s))
	return err == nil
}

// IsRange reports whether s parses as a range. The empty string is not
// considered a range here; callers treat it as "no preference".
func IsRange(s string) bool {
	if strings.TrimSpace(s) == "" {
		return false
	}
	_, err := semver.NewConstraint(s)
	return err == nil
}

// Newest returns the last entry of a publish-ordered history.
func Newest(history []string) (string, bool) {
	if len(history) == 0 {
		return "", false
	}
	return history[len(history)-1], true
}

// SelectRoot picks the concrete version to install for a root request whose
// version field is not an exact version. A valid range selects the most
// recent matching release; anything else falls back to the newest release.
func SelectRoot(name string, history []string, spec string) (string, error) {
	if len(history) == 0 {
		return "", errors.New(errors.ErrCodePackageNotFound, "package %s has no published versions", name)
	}
	if !IsRange(spec) {
		v, _ := Newest(history)
		return v, nil
	}
	r, err := ParseRange(spec)
	if err != nil {
		return "", err
	}
	v, ok := r.MostRecent(history)
	if !ok {
		return "", errors.New(errors.ErrCodeVersionNotFound, "no published version of %s satisfies %q", name, spec)
	}
	return v, nil
}

// Compare orders two versions by semver precedence. Invalid versions sort
// before valid ones and compare to each other lexically.
func Compare(a, b string) int {
	va, errA := semver.NewVersion(a)
	vb, errB := semver.NewVersion(b)
	switch {
	case errA != nil && errB != nil:
		return strings.Compare(a, b)
	case errA != nil:
		return -1
	case errB != nil:
		return 1
	}
	return va.Compare(vb)
}

// Sort orders versions ascending by semver precedence in place.
func Sort(versions []string) {
	slices.SortStableFunc(versions, Compare)
}
