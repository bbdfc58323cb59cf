// cmd/seeder/main.go
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/unclebandit/mailcast-backend/internal/auth"
	"github.com/unclebandit/mailcast-backend/internal/config"
	"github.com/unclebandit/mailcast-backend/internal/db"
	appErrors "github.com/unclebandit/mailcast-backend/internal/errors"
	"github.com/unclebandit/mailcast-backend/internal/logger"
	"github.com/unclebandit/mailcast-backend/internal/model"
	"github.com/unclebandit/mailcast-backend/internal/repository"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "seeder",
		Short:        "Database administration for the mailcast backend",
		SilenceUsage: true,
	}
	root.AddCommand(migrateCmd(), userCmd(), sqlCmd())
	return root
}

// openDB loads only the database settings; the seeder needs no signing key or
// provider credentials.
func openDB(ctx context.Context) (*sql.DB, *slog.Logger, error) {
	cfg, err := config.LoadDatabase()
	if err != nil {
		return nil, nil, err
	}
	log := logger.New("seeder", config.SentryConfig{})
	conn, err := db.Open(ctx, cfg, log)
	if err != nil {
		return nil, nil, err
	}
	return conn, log, nil
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			conn, log, err := openDB(cmd.Context())
			if err != nil {
				return err
			}
			defer conn.Close()
			return db.Migrate(cmd.Context(), conn, log)
		},
	}
}

func userCmd() *cobra.Command {
	var (
		email    string
		password string
		roles    []string
		cost     int
	)

	cmd := &cobra.Command{
		Use:   "user",
		Short: "Create a user, or reset the password and roles of an existing one",
		RunE: func(cmd *cobra.Command, _ []string) error {
			for _, r := range roles {
				if r != model.RoleAdmin && r != model.RoleMarketer && r != model.RoleViewer {
					return fmt.Errorf("unknown role %q", r)
				}
			}

			conn, _, err := openDB(cmd.Context())
			if err != nil {
				return err
			}
			defer conn.Close()

			hash, err := auth.HashPassword(password, cost)
			if err != nil {
				return err
			}
			return upsertUser(cmd.Context(), &repository.UserRepository{DB: conn}, cmd, email, hash, roles)
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "login email (required)")
	cmd.Flags().StringVar(&password, "password", "", "plain-text password (required)")
	cmd.Flags().StringSliceVar(&roles, "roles", []string{model.RoleMarketer}, "comma separated roles: admin, marketer, viewer")
	cmd.Flags().IntVar(&cost, "bcrypt-cost", 12, "bcrypt cost")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func upsertUser(ctx context.Context, users repository.UserRepositoryInterface, cmd *cobra.Command, email, hash string, roles []string) error {
	existing, err := users.GetByEmail(ctx, email)
	switch {
	case err == nil:
		if err := users.UpdatePasswordHash(ctx, existing.ID, hash); err != nil {
			return err
		}
		if err := users.UpdateRoles(ctx, existing.ID, roles); err != nil {
			return err
		}
		cmd.Printf("Updated user %d (%s) roles=%s\n", existing.ID, existing.Email, strings.Join(roles, ","))
		return nil
	case errors.Is(err, appErrors.ErrUserNotFound):
		u := &model.User{Email: strings.ToLower(strings.TrimSpace(email)), PasswordHash: hash, Roles: roles}
		if err := users.Create(ctx, u); err != nil {
			return err
		}
		cmd.Printf("Created user %d (%s) roles=%s\n", u.ID, u.Email, strings.Join(roles, ","))
		return nil
	default:
		return err
	}
}

func sqlCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sql [files...]",
		Short: "Execute SQL seed files in order",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, files []string) error {
			conn, _, err := openDB(cmd.Context())
			if err != nil {
				return err
			}
			defer conn.Close()

			for _, file := range files {
				content, err := os.ReadFile(file)
				if err != nil {
					return fmt.Errorf("failed to read %s: %w", file, err)
				}
				if _, err := conn.ExecContext(cmd.Context(), string(content)); err != nil {
					return fmt.Errorf("failed to execute %s: %w", file, err)
				}
				cmd.Printf("Seeded: %s\n", file)
			}
			cmd.Println("Database seeding completed successfully!")
			return nil
		},
	}
}
