// Package release contains core domain types for versioning and deploying releases.
//
// It defines the version identifier, semantic release tags, the environment
// classification with its privilege level, the on-host directory layout and the
// immutable deployment Context shared by every service during one invocation.
package release
