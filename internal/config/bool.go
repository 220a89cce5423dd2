package config

import (
	"fmt"
	"slices"
	"strings"

	"github.com/oshokin/releaser/internal/domain/release"
)

var (
	// truthyValues are accepted as true by ParseBool, compared case-insensitively.
	//nolint:gochecknoglobals // Fixed vocabulary.
	truthyValues = []string{"true", "t", "y", "yes", "1"}
	// falsyValues are accepted as false by ParseBool, compared case-insensitively.
	//nolint:gochecknoglobals // Fixed vocabulary.
	falsyValues = []string{"false", "f", "n", "no", "0"}
)

// ParseBool converts a flag value into a boolean.
// Values outside the vocabulary fail with release.ErrConfigParse instead of defaulting.
func ParseBool(s string) (bool, error) {
	value := strings.ToLower(strings.TrimSpace(s))

	switch {
	case slices.Contains(truthyValues, value):
		return true, nil
	case slices.Contains(falsyValues, value):
		return false, nil
	default:
		return false, fmt.Errorf("%q (want one of %s or %s): %w",
			s, strings.Join(truthyValues, "/"), strings.Join(falsyValues, "/"), release.ErrConfigParse)
	}
}

// BoolValue is a command line flag parsed with ParseBool.
// It satisfies the pflag.Value interface used by cobra.
type BoolValue bool

// String renders the current value.
func (b *BoolValue) String() string {
	if b != nil && bool(*b) {
		return "true"
	}

	return "false"
}

// Set parses and stores a flag value.
func (b *BoolValue) Set(s string) error {
	v, err := ParseBool(s)
	if err != nil {
		return err
	}

	*b = BoolValue(v)

	return nil
}

// Type names the flag type in help output.
func (b *BoolValue) Type() string {
	return "yes|no"
}
