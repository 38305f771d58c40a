// go-svio is the headless sync agent for co-op simulation sessions
// backed by a shared dumb store.
package main

import (
	"fmt"
	"os"

	"github.com/svio-coop/go-svio/cmd"
	"github.com/svio-coop/go-svio/cmd/agent"
)

var (
	version string
	commit  string
	branch  string
)

func main() {
	cmd.Version = version
	cmd.Commit = commit
	cmd.Branch = branch
	if err := agent.Cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
