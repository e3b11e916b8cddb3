// Command reconcilor keeps a provider's session list consistent with the
// local credential store.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/reconcilor/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.GetExitCode(err))
	}
}
