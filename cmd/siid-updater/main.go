package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/siid-ide/update-agent/internal/bridge"
	"github.com/siid-ide/update-agent/pkg/api"
)

var (
	version = "0.1.0"
	// release is stamped by the packaging build (-ldflags -X). An
	// unstamped development build never updates itself.
	release = ""

	cfgFile    string
	socketPath string
)

var rootCmd = &cobra.Command{
	Use:   "siid-updater",
	Short: "SIID update daemon",
	Long:  `siid-updater keeps a SIID installation current: it watches the release feed, downloads and verifies update artifacts, and hands them to the platform installer.`,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the update daemon",
	Run: func(cmd *cobra.Command, args []string) {
		runDaemon()
	},
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check the feed for a newer release",
	Run: func(cmd *cobra.Command, args []string) {
		background, _ := cmd.Flags().GetBool("background")
		withClient(func(ctx context.Context, c *bridge.Client) (*api.UpdateState, error) {
			return c.Check(ctx, !background)
		})
	},
}

var downloadCmd = &cobra.Command{
	Use:   "download",
	Short: "Download the available update",
	Run: func(cmd *cobra.Command, args []string) {
		withClient(func(ctx context.Context, c *bridge.Client) (*api.UpdateState, error) {
			return c.Download(ctx)
		})
	},
}

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Stage the downloaded update for install",
	Run: func(cmd *cobra.Command, args []string) {
		withClient(func(ctx context.Context, c *bridge.Client) (*api.UpdateState, error) {
			return c.Apply(ctx)
		})
	},
}

var installCmd = &cobra.Command{
	Use:   "install",
	Short: "Quit the product and install the ready update",
	Run: func(cmd *cobra.Command, args []string) {
		withClient(func(ctx context.Context, c *bridge.Client) (*api.UpdateState, error) {
			return c.Install(ctx)
		})
	},
}

var sideloadCmd = &cobra.Command{
	Use:   "sideload [package]",
	Short: "Stage a locally downloaded package, bypassing the feed",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		withClient(func(ctx context.Context, c *bridge.Client) (*api.UpdateState, error) {
			return c.Sideload(ctx, args[0])
		})
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the daemon's current update state",
	Run: func(cmd *cobra.Command, args []string) {
		withClient(func(ctx context.Context, c *bridge.Client) (*api.UpdateState, error) {
			return c.State(ctx)
		})
	},
}

var latestCmd = &cobra.Command{
	Use:   "latest",
	Short: "Ask whether the installed version is the latest release",
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()

		latest, err := bridge.NewClient(socket()).Latest(ctx)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}

		switch {
		case latest == nil:
			fmt.Println("unknown (feed unavailable)")
		case *latest:
			fmt.Println("up to date")
		default:
			fmt.Println("update available")
		}
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("siid-updater v%s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is the platform config directory)")
	rootCmd.PersistentFlags().StringVar(&socketPath, "socket", "", "daemon socket path")

	checkCmd.Flags().Bool("background", false, "run as a background check (failures stay silent)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(downloadCmd)
	rootCmd.AddCommand(applyCmd)
	rootCmd.AddCommand(installCmd)
	rootCmd.AddCommand(sideloadCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(latestCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func socket() string {
	if socketPath != "" {
		return socketPath
	}
	return bridge.DefaultSocketPath()
}

// withClient runs one bridge call and prints the state it settled on.
func withClient(call func(context.Context, *bridge.Client) (*api.UpdateState, error)) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	state, err := call(ctx, bridge.NewClient(socket()))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	printState(state)
}

func printState(state *api.UpdateState) {
	fmt.Printf("State: %s\n", state.State)

	switch state.State {
	case api.StateDisabled:
		fmt.Printf("Reason: %s\n", state.Reason)
	case api.StateIdle:
		fmt.Printf("Update kind: %s\n", state.Kind)
	}

	if state.Update != nil {
		fmt.Printf("Version: %s\n", state.Update.ProductVersion)
		if state.Update.URL != "" {
			fmt.Printf("URL: %s\n", state.Update.URL)
		}
	}
	if state.Message != "" {
		fmt.Printf("Message: %s\n", state.Message)
	}
}
