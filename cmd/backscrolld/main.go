package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/backscroll/backscroll/internal/daemon"
	"github.com/backscroll/backscroll/internal/workspace"
	"go.uber.org/fx"
)

func main() {
	workspaceFlag := flag.String("workspace", "", "workspace name (overrides config default)")
	flag.Parse()

	name := workspace.Resolve(*workspaceFlag)
	if err := workspace.ValidateName(name); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	app := fx.New(
		daemon.Module(daemon.Params{WorkspaceName: name}),
	)

	app.Run()
}
