// This program performs administrative tasks for the ledger service.
package main

import (
	"os"

	"github.com/ardanlabs/coopledger/app/tooling/admin/commands"
)

// build is the git version of this program. It is set using build flags in the makefile.
var build = "develop"

func main() {
	if err := commands.Execute(build); err != nil {
		os.Exit(1)
	}
}
