package main

import (
	"fmt"
	"os"

	"github.com/hashicorp/cli"

	"github.com/lionheart1022/betwatch/command"
	"github.com/lionheart1022/betwatch/version"
)

func main() {
	os.Exit(Run(os.Args[1:]))
}

// Run invokes the CLI with the given arguments.
func Run(args []string) int {
	return RunCustom(args)
}

// RunCustom allows running the CLI with custom command factories.
func RunCustom(args []string) int {
	metaPtr := new(command.Meta)

	agentUi := &cli.BasicUi{
		Reader:      os.Stdin,
		Writer:      os.Stdout,
		ErrorWriter: os.Stderr,
	}

	commands := command.Commands(metaPtr, agentUi)

	cliApp := &cli.CLI{
		Name:         "betwatch",
		Version:      version.GetVersion().FullVersionNumber(true),
		Args:         args,
		Commands:     commands,
		Autocomplete: true,
		HelpFunc:     cli.BasicHelpFunc("betwatch"),
	}

	exitCode, err := cliApp.Run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error executing CLI: %s\n", err.Error())
		return 1
	}

	return exitCode
}
