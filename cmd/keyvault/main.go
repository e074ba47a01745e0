// Command keyvault is the command-line interface to a time-locked key vault.
package main

import "github.com/mesh-intelligence/keyvault/internal/cli"

func main() {
	cli.Execute()
}
