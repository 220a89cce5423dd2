package release

import (
	"cmp"
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// TagPrefix starts every release tag.
const TagPrefix = "v"

// Tag is a semantic release label rendered as vMAJOR.MINOR.PATCH.
type Tag struct {
	Major int
	Minor int
	Patch int
}

// ParseTag parses a tag of the form vMAJOR.MINOR.PATCH. The leading "v" is optional.
func ParseTag(s string) (Tag, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(s), TagPrefix)

	parts := strings.Split(trimmed, ".")
	if len(parts) != 3 {
		return Tag{}, fmt.Errorf("%q: want three components: %w", s, ErrTagParse)
	}

	var numbers [3]int

	for i, part := range parts {
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 {
			return Tag{}, fmt.Errorf("%q: component %q is not a number: %w", s, part, ErrTagParse)
		}

		numbers[i] = n
	}

	return Tag{Major: numbers[0], Minor: numbers[1], Patch: numbers[2]}, nil
}

// NormalizeTagName prepends the "v" prefix when it is missing.
func NormalizeTagName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" || strings.HasPrefix(name, TagPrefix) {
		return name
	}

	return TagPrefix + name
}

// String renders the tag as vMAJOR.MINOR.PATCH.
func (t Tag) String() string {
	return fmt.Sprintf("%s%d.%d.%d", TagPrefix, t.Major, t.Minor, t.Patch)
}

// Compare orders tags componentwise and returns -1, 0 or +1.
func (t Tag) Compare(other Tag) int {
	if c := cmp.Compare(t.Major, other.Major); c != 0 {
		return c
	}

	if c := cmp.Compare(t.Minor, other.Minor); c != 0 {
		return c
	}

	return cmp.Compare(t.Patch, other.Patch)
}

// Next increments the patch component and keeps major and minor.
func (t Tag) Next() Tag {
	return Tag{Major: t.Major, Minor: t.Minor, Patch: t.Patch + 1}
}

// SuggestNext parses the previous tag and returns its successor.
func SuggestNext(previous string) (Tag, error) {
	tag, err := ParseTag(previous)
	if err != nil {
		return Tag{}, err
	}

	return tag.Next(), nil
}

// LatestTag picks the greatest well-formed tag from names given in any order.
// Malformed names are skipped. The second result is false when none is well formed.
func LatestTag(names []string) (Tag, bool) {
	tags := make([]Tag, 0, len(names))

	for _, name := range names {
		tag, err := ParseTag(name)
		if err != nil || !strings.HasPrefix(strings.TrimSpace(name), TagPrefix) {
			continue
		}

		tags = append(tags, tag)
	}

	if len(tags) == 0 {
		return Tag{}, false
	}

	return slices.MaxFunc(tags, Tag.Compare), true
}
