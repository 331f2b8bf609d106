// Command lawdata-collector pulls statutes and court decisions from the
// legal-data Open API into a relational store.
package main

import (
	"os"

	"github.com/JakeFAU/lawdata-collector/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
