// This program is a simple wallet for the consensus node.
package main

import "github.com/ardanlabs/consensus/app/wallet/cli/cmd"

func main() {
	cmd.Execute()
}
