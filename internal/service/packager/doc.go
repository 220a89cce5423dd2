// Package packager builds release archives: a zip snapshot of the repository tree at a ref,
// keyed by version identifier and cached in the staging directory together with a YAML
// manifest describing it.
package packager
