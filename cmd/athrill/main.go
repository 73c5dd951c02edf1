package main

import (
	"os"

	"github.com/athrill-go/athrill/cmd/athrill/cmds"
	"github.com/athrill-go/athrill/pkg/version"
)

// Build is the git sha of this binaries build.
var Build string

func main() {
	if Build != "" {
		version.AthrillVersion.Build = Build
	}
	if err := cmds.New().Execute(); err != nil {
		os.Exit(1)
	}
}
