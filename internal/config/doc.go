// Package config defines the releaser settings file and turns it into the
// immutable deployment context used by every service.
//
// Settings are read from YAML through viper, so any key can be overridden with
// a RELEASER_* environment variable (RELEASER_KEEP_VERSIONS, RELEASER_BRANCH, ...).
// ParseBool implements the boolean vocabulary accepted by command flags.
package config
