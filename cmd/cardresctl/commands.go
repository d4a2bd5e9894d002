package main

import (
	"fmt"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	daemonURL string
	jsonOut   bool

	client *daemonClient

	rootCmd = &cobra.Command{
		Use:   "cardresctl",
		Short: "Operate a running card resource daemon",
		Long: `cardresctl talks to a running cardresd over its local HTTP API:
list configured profiles and readers, allocate and release card
resources, and watch reader state change live.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			client = newDaemonClient(daemonURL)
		},
	}

	profilesCmd = &cobra.Command{
		Use:     "profiles",
		Short:   "List configured allocation profiles",
		Aliases: []string{"p"},
		RunE:    runProfiles,
	}

	readersCmd = &cobra.Command{
		Use:     "readers",
		Short:   "List readers tracked by the daemon",
		Aliases: []string{"r"},
		RunE:    runReaders,
	}

	allocateCmd = &cobra.Command{
		Use:   "allocate [profile]",
		Short: "Allocate a card resource for a profile",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runAllocate,
	}

	releaseCmd = &cobra.Command{
		Use:   "release <resourceId>",
		Short: "Release an allocated card resource back to its pool",
		Args:  cobra.ExactArgs(1),
		RunE:  runRelease,
	}

	removeCmd = &cobra.Command{
		Use:   "remove <resourceId>",
		Short: "Release and forget an allocated card resource",
		Args:  cobra.ExactArgs(1),
		RunE:  runRemove,
	}

	watchCmd = &cobra.Command{
		Use:   "watch",
		Short: "Watch reader state live in a terminal UI",
		RunE:  runWatch,
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print cardresctl's version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("cardresctl " + ctlVersion)
		},
	}
)

// allocateTimeout bounds, in seconds, how long the daemon may spend on
// an "allocate" request. Whether the daemon waits for a free reader at
// all is its own service-wide blocking setting; zero sends no bound.
var allocateTimeout int

func init() {
	v := viper.New()
	v.SetEnvPrefix("cardresctl")
	v.AutomaticEnv()
	v.SetDefault("daemon_url", "http://127.0.0.1:32145")

	rootCmd.PersistentFlags().StringVar(&daemonURL, "daemon-url", v.GetString("daemon_url"), "base URL of the running cardresd (env CARDRESCTL_DAEMON_URL)")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "print machine-readable JSON instead of a table")

	allocateCmd.Flags().IntVar(&allocateTimeout, "timeout", 0, "seconds to wait for a free reader (0 = daemon default)")

	rootCmd.AddCommand(profilesCmd, readersCmd, allocateCmd, releaseCmd, removeCmd, watchCmd, versionCmd)
}

// stylingEnabled reports whether stdout is a real terminal, matching
// the pack's convention of degrading to plain output when piped.
func stylingEnabled() bool {
	return isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())
}
