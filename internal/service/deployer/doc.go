// Package deployer coordinates a release across the hosts of an environment.
//
// Repository level work (identifying the version, showing the diff, tagging, building the
// archive) runs once per invocation. Host level work (upload, extraction, configuration,
// relink, restart, retention) runs for each host in order and stops at the first failure,
// so a broken release never reaches the remaining hosts.
package deployer
