// Package transport runs commands and copies files on deployment hosts.
//
// Transfer is the collaborator used by the release and retention services.
// SSH reaches remote hosts with golang.org/x/crypto/ssh; Local serves
// environments whose "host" is the operator's machine. Every call carries an
// explicit release.Privilege: elevated calls go through `sudo -n`.
package transport
