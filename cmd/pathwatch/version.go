package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mutagen-io/pathwatch/cmd"
	"github.com/mutagen-io/pathwatch/pkg/filesystem/watching"
	"github.com/mutagen-io/pathwatch/pkg/pathwatch"
)

// versionMain is the entry point for the version command.
func versionMain(_ *cobra.Command, _ []string) error {
	// Print version information.
	fmt.Println(pathwatch.Version)

	// If requested, print backend information.
	if versionConfiguration.backends {
		for _, backend := range []watching.Backend{watching.BackendInotify, watching.BackendFSNotify} {
			fmt.Printf("%-10s supported: %t\n", backend, backend.Supported())
		}
	}

	// Success.
	return nil
}

// versionCommand is the version command.
var versionCommand = &cobra.Command{
	Use:          "version",
	Short:        "Show version information",
	Args:         cobra.NoArgs,
	Run:          cmd.Mainify(versionMain),
	SilenceUsage: true,
}

// versionConfiguration stores configuration for the version command.
var versionConfiguration struct {
	// help indicates whether or not help information should be shown for the
	// command.
	help bool
	// backends indicates whether or not backend support should be listed.
	backends bool
}

func init() {
	// Grab a handle for the command line flags.
	flags := versionCommand.Flags()

	// Disable alphabetical sorting of flags in help output.
	flags.SortFlags = false

	// Manually add a help flag to override the default message. Cobra will
	// still implement its logic automatically.
	flags.BoolVarP(&versionConfiguration.help, "help", "h", false, "Show help information")

	// Wire up flags.
	flags.BoolVar(&versionConfiguration.backends, "backends", false, "List native notification backends and their support")
}
