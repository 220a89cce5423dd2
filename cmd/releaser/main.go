// Command releaser builds release archives from a git repository and deploys them
// to the hosts of an environment behind an atomically switched link.
package main

import "github.com/oshokin/releaser/cmd/releaser/cmd"

func main() {
	cmd.Execute()
}
