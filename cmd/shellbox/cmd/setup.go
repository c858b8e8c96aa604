package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hkuds/shellbox/internal/tui"
)

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Run interactive setup wizard",
	Long:  "Run the interactive setup wizard to configure the sandbox envelope, session store and chat channels.",
	RunE:  runSetup,
}

func runSetup(cmd *cobra.Command, args []string) error {
	cfg, err := tui.RunSetup(cfgFile)
	if err != nil {
		return fmt.Errorf("setup failed: %w", err)
	}

	fmt.Println()
	tui.ShowStatus(cfg)

	fmt.Println()
	fmt.Println("You can now:")
	fmt.Println("  - Open a local sandbox shell: shellbox shell")
	fmt.Println("  - Start the chat server:      shellbox serve")
	fmt.Println("  - List active sessions:       shellbox admin sessions")

	return nil
}
