package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/peerzee/peersync/internal/app"
	"github.com/peerzee/peersync/internal/config"
	"github.com/peerzee/peersync/internal/session"
	"go.uber.org/fx"
)

func main() {
	sessionFlag := flag.String("session", "", "session name (overrides config default)")
	flag.Parse()

	sessionName := session.Resolve(*sessionFlag)
	if err := session.ValidateName(sessionName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	// Missing config is fine; nil falls back to defaults.
	cfg, err := config.Load(session.ConfigPath())
	if err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "error: reading %s: %v\n", session.ConfigPath(), err)
		os.Exit(1)
	}

	fx.New(
		app.Module(app.Params{SessionName: sessionName, Config: cfg}),
	).Run()
}
