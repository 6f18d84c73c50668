package main

import (
	"github.com/mgoffinet/linktrack/cmd"

	// Subcommands register themselves against the root command.
	_ "github.com/mgoffinet/linktrack/cmd/cli"
	_ "github.com/mgoffinet/linktrack/cmd/server"
)

func main() {
	cmd.Execute()
}
