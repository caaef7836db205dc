// Command poltergeist watches a project's configured targets and
// rebuilds them as their files settle.
package main

import (
	"fmt"
	"os"

	"github.com/poltergeist/poltergeist/internal/cli"
)

// version is overridden at release time via -ldflags.
var version = "dev"

func main() {
	if err := cli.Execute(version); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
