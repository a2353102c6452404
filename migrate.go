package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"cubis-academy/models"
	"cubis-academy/services"
)

func newMigrateCmd() *cobra.Command {
	var adminEmail, adminPassword, adminName string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create or update tables and optionally bootstrap an admin account",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(os.Stderr)
			if err != nil {
				return err
			}

			db, err := services.OpenDatabase(cfg)
			if err != nil {
				return err
			}
			if err := services.AutoMigrate(db); err != nil {
				return err
			}
			slog.Info("Migration completed", "driver", cfg.DatabaseDriver)

			if adminEmail == "" {
				return nil
			}
			if adminPassword == "" {
				return errors.New("--admin-password is required with --admin-email")
			}

			users := services.NewUserService(db, slog.Default())
			user, err := users.Create(cmd.Context(), services.CreateUserInput{
				Email:    adminEmail,
				FullName: adminName,
				Password: adminPassword,
				Role:     models.RoleAdmin,
			})
			if errors.Is(err, services.ErrEmailTaken) {
				fmt.Fprintf(cmd.OutOrStdout(), "admin %s already exists\n", adminEmail)
				return nil
			} else if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "created admin %s (%s)\n", user.Email, user.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&adminEmail, "admin-email", "", "email of an admin account to create")
	cmd.Flags().StringVar(&adminPassword, "admin-password", "", "password for the admin account")
	cmd.Flags().StringVar(&adminName, "admin-name", "Administrator", "display name for the admin account")
	return cmd
}

func newSweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Mark expired sessions inactive once and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(os.Stderr)
			if err != nil {
				return err
			}

			db, err := services.OpenDatabase(cfg)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			sessionCache, closeCache, err := openCache(ctx, cfg, db)
			if err != nil {
				return err
			}
			defer closeCache()

			start := time.Now()
			users := services.NewUserService(db, slog.Default())
			sessions := services.NewSessionManager(db, sessionCache, users, services.WithLogger(slog.Default()))
			n, err := services.RunSweep(ctx, slog.Default(), sessions, purgersFor(sessionCache)...)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "swept %d expired sessions in %s\n", n, time.Since(start).Round(time.Millisecond))
			return nil
		},
	}
}
