package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/hkuds/shellbox/internal/sandbox"
	"github.com/hkuds/shellbox/internal/tui"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show configuration status",
	Long:  "Display the sandbox envelope, session store and channel configuration, and check that Docker is reachable.",
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	tui.ShowStatus(cfg)

	env, err := cfg.SandboxEnvelope()
	if err != nil {
		fmt.Printf("Sandbox envelope invalid: %v\n", err)
		return nil
	}
	engine, err := sandbox.NewEngine(env)
	if err != nil {
		fmt.Printf("Docker: %v\n", err)
		return nil
	}
	defer engine.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), 3*time.Second)
	defer cancel()
	if err := engine.Ping(ctx); err != nil {
		fmt.Printf("Docker: unreachable (%v)\n", err)
		return nil
	}
	fmt.Println("Docker: reachable")
	return nil
}
