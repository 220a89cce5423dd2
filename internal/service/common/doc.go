// Package common holds helpers shared by several services.
//
// It detects who runs an invocation (hostname/username) so every deploy can be
// attributed in the logs.
//
//nolint:revive,nolintlint // Package name "common" is intentional for shared helpers.
package common
