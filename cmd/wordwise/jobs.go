package main

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/MrWong99/wordwise/internal/app"
	"github.com/MrWong99/wordwise/internal/config"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or upgrade the store schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if cfg.Store.Driver == config.DriverMemory {
			return errors.New("the memory driver has no schema to migrate")
		}
		// Opening a store applies its migrations.
		_, closeStore, err := app.OpenStore(cmd.Context(), cfg.Store)
		if err != nil {
			return err
		}
		defer closeStore()
		fmt.Fprintf(cmd.OutOrStdout(), "%s schema is up to date\n", cfg.Store.Driver)
		return nil
	},
}

var recomputeCmd = &cobra.Command{
	Use:   "recompute",
	Short: "Recompute weekly progress snapshots and improvement flags",
	Long: "Without --user, recomputes the current and previous week of every active user " +
		"and refreshes their improvement flags. With --user, recomputes the last --weeks weeks " +
		"of that user and prints the snapshots.",
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, _ := cmd.Flags().GetString("user")
		weeks, _ := cmd.Flags().GetInt("weeks")

		a, closeApp, err := openApp(cmd, nil)
		if err != nil {
			return err
		}
		defer closeApp()

		ctx := cmd.Context()
		if userID != "" {
			snaps, err := a.Scheduler().RecomputeUser(ctx, userID, weeks)
			if err != nil {
				return err
			}
			return writeJSON(cmd, snaps)
		}

		n, snapErr := a.Scheduler().RecomputeSnapshots(ctx)
		fmt.Fprintf(cmd.OutOrStdout(), "snapshots recomputed for %d users\n", n)
		m, impErr := a.Scheduler().RefreshImprovement(ctx)
		fmt.Fprintf(cmd.OutOrStdout(), "improvement refreshed for %d users\n", m)
		return errors.Join(snapErr, impErr)
	},
}

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Print a user's progress report as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, _ := cmd.Flags().GetString("user")
		weeks, _ := cmd.Flags().GetInt("weeks")

		a, closeApp, err := openApp(cmd, nil)
		if err != nil {
			return err
		}
		defer closeApp()

		rep, err := a.Analytics().Report(cmd.Context(), userID, weeks)
		if err != nil {
			return err
		}
		return writeJSON(cmd, rep)
	},
}

var eraseUserCmd = &cobra.Command{
	Use:   "erase-user",
	Short: "Delete every stored record of a user",
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, _ := cmd.Flags().GetString("user")

		a, closeApp, err := openApp(cmd, nil)
		if err != nil {
			return err
		}
		defer closeApp()

		found, _, err := a.EraseUser(cmd.Context(), userID)
		if err != nil {
			return err
		}
		if !found {
			fmt.Fprintf(cmd.OutOrStdout(), "user %q not found\n", userID)
			return nil
		}
		fmt.Fprintf(cmd.OutOrStdout(), "user %q erased\n", userID)
		return nil
	},
}

var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete learning data older than the retention age",
	RunE: func(cmd *cobra.Command, args []string) error {
		maxAge, _ := cmd.Flags().GetDuration("max-age")

		a, closeApp, err := openApp(cmd, func(cfg *config.Config) {
			if maxAge > 0 {
				cfg.Retention.MaxAge = maxAge
			}
		})
		if err != nil {
			return err
		}
		defer closeApp()

		res, err := a.Scheduler().PurgeExpired(cmd.Context())
		if err != nil {
			return err
		}
		if res.Total() == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "nothing to purge (set retention.max_age or --max-age)")
			return nil
		}
		return writeJSON(cmd, res)
	},
}

func init() {
	recomputeCmd.Flags().String("user", "", "recompute only this user")
	recomputeCmd.Flags().Int("weeks", 4, "weeks to recompute with --user")

	reportCmd.Flags().String("user", "", "user to report on")
	reportCmd.Flags().Int("weeks", 8, "length of the weekly series")
	_ = reportCmd.MarkFlagRequired("user")

	eraseUserCmd.Flags().String("user", "", "user to erase")
	_ = eraseUserCmd.MarkFlagRequired("user")

	purgeCmd.Flags().Duration("max-age", 0, "override retention.max_age (e.g. 8760h)")
}

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
