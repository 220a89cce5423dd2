package release

import (
	"fmt"
	"strings"
)

// Class classifies an environment. It decides the privilege used on its hosts.
type Class string

const (
	// ClassLocal deploys into a directory on the operator's machine.
	ClassLocal Class = "local"
	// ClassProduction deploys to production web hosts.
	ClassProduction Class = "production"
	// ClassCelery deploys to background worker hosts.
	ClassCelery Class = "celery"
)

// ParseClass converts a configuration value into a Class.
func ParseClass(s string) (Class, error) {
	switch class := Class(strings.ToLower(strings.TrimSpace(s))); class {
	case ClassLocal, ClassProduction, ClassCelery:
		return class, nil
	default:
		return "", fmt.Errorf("environment class %q: %w", s, ErrUnknownEnvironment)
	}
}

// Privilege returns Elevated for production and celery hosts and Normal for local ones.
func (c Class) Privilege() Privilege {
	if c == ClassLocal {
		return Normal
	}

	return Elevated
}

// IsRemote reports whether hosts of this class are reached over SSH.
func (c Class) IsRemote() bool {
	return c != ClassLocal
}

// Privilege selects how a command is executed on a host.
type Privilege int

const (
	// Normal runs commands as the connecting user.
	Normal Privilege = iota
	// Elevated runs commands through sudo.
	Elevated
)

// String returns a readable privilege name for logs.
func (p Privilege) String() string {
	if p == Elevated {
		return "elevated"
	}

	return "normal"
}
