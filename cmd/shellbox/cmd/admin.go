package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/hkuds/shellbox/internal/config"
	"github.com/hkuds/shellbox/internal/logging"
	"github.com/hkuds/shellbox/internal/session"
	"github.com/hkuds/shellbox/internal/tui"
)

var (
	adminJSON        bool
	adminYes         bool
	adminRemove      bool
	adminOpenTimeout = 30 * time.Second
)

var adminCmd = &cobra.Command{
	Use:   "admin",
	Short: "Operator commands for sessions and sandboxes",
	Long: `Inspect and manage sessions in the configured store. These commands act on
the file or postgres store shared with a running server. The memory store is
private to each process, so commands that change sessions or sandboxes refuse
to run against it.`,
}

var adminSessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List active sessions with live resource usage",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := adminConfig(false)
		if err != nil {
			return err
		}
		return withAdmin(cmd, cfg, func(ctx context.Context, a *app) error {
			usages, err := a.registry.AdminListSessions(ctx)
			if err != nil {
				return err
			}
			if adminJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(usages)
			}
			fmt.Println(tui.RenderSessions(usages, time.Now()))
			return nil
		})
	},
}

var adminTerminateCmd = &cobra.Command{
	Use:   "terminate <sandbox-id>",
	Short: "Force-terminate the session bound to a sandbox",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := adminConfig(true)
		if err != nil {
			return err
		}
		return withAdmin(cmd, cfg, func(ctx context.Context, a *app) error {
			err := a.registry.AdminForceTerminate(ctx, args[0])
			if errors.Is(err, session.ErrNotFound) {
				return fmt.Errorf("no active session is bound to sandbox %s", args[0])
			}
			if err != nil {
				return err
			}
			fmt.Printf("Sandbox %s terminated.\n", args[0])
			return nil
		})
	},
}

var adminPurgeCmd = &cobra.Command{
	Use:   "purge <owner>",
	Short: "Terminate an owner's sandbox and delete their session history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		owner := args[0]
		cfg, err := adminConfig(true)
		if err != nil {
			return err
		}
		if !adminYes {
			ok, err := tui.ConfirmPurge(owner)
			if err != nil {
				return err
			}
			if !ok {
				fmt.Println("Purge cancelled.")
				return nil
			}
		}
		return withAdmin(cmd, cfg, func(ctx context.Context, a *app) error {
			n, err := a.registry.AdminPurgeOwner(ctx, owner)
			if err != nil {
				return err
			}
			fmt.Printf("Purged %d session record(s) for %s.\n", n, owner)
			return nil
		})
	},
}

var adminReconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Find sandboxes that no active session accounts for",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := adminConfig(adminRemove)
		if err != nil {
			return err
		}
		return withAdmin(cmd, cfg, func(ctx context.Context, a *app) error {
			orphans, err := a.registry.Reconcile(ctx, adminRemove)
			if err != nil {
				return err
			}
			fmt.Println(tui.RenderOrphans(orphans, adminRemove, time.Now()))
			return nil
		})
	},
}

func init() {
	adminSessionsCmd.Flags().BoolVar(&adminJSON, "json", false, "print sessions as JSON")
	adminPurgeCmd.Flags().BoolVarP(&adminYes, "yes", "y", false, "skip the confirmation prompt")
	adminReconcileCmd.Flags().BoolVar(&adminRemove, "remove", false, "remove the orphaned sandboxes")

	adminCmd.AddCommand(adminSessionsCmd)
	adminCmd.AddCommand(adminTerminateCmd)
	adminCmd.AddCommand(adminPurgeCmd)
	adminCmd.AddCommand(adminReconcileCmd)
}

// errPrivateStore rejects a change made through a store no server shares.
var errPrivateStore = errors.New("the memory store is private to each process; configure the file or postgres store to manage a running server")

// adminConfig loads the config for an admin command. Commands that change
// sessions or sandboxes are refused under the memory store: an empty private
// store would see every live sandbox as an orphan and every session as gone.
func adminConfig(mutating bool) (*config.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if err := checkAdminStore(cfg, mutating); err != nil {
		return nil, err
	}
	return cfg, nil
}

func checkAdminStore(cfg *config.Config, mutating bool) error {
	if cfg.Store.Driver != config.StoreMemory {
		return nil
	}
	if mutating {
		return errPrivateStore
	}
	fmt.Fprintln(os.Stderr, "Note: the memory store is private to each process; this command sees no sessions of a running server.")
	return nil
}

// withAdmin opens the store and engine, runs fn, and closes them again.
func withAdmin(cmd *cobra.Command, cfg *config.Config, fn func(context.Context, *app) error) error {
	level := cfg.Log.Level
	if level != "debug" {
		level = "warn"
	}
	log, err := logging.New(level, cfg.Log.Format, os.Stderr)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), adminOpenTimeout)
	defer cancel()

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	return fn(ctx, a)
}
