package cmd

import (
	"bufio"
	"context"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	ag "github.com/panyam/authgate"
	gormstore "github.com/panyam/authgate/stores/gorm"
)

var (
	newUser     ag.NewUser
	newPassword string
)

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage local users",
}

var userAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Create a user",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd.Context(), func(ctx context.Context, store *gormstore.Store) error {
			user, err := store.CreateUser(ctx, newUser)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created user %d (%s)\n", user.ID, user.Email)
			return nil
		})
	},
}

func setActiveCmd(use, short string, active bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <user-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseUserID(args[0])
			if err != nil {
				return err
			}
			return withStore(cmd.Context(), func(ctx context.Context, store *gormstore.Store) error {
				return store.SetActive(ctx, id, active)
			})
		},
	}
}

func parseUserID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid user id %q", arg)
	}
	return id, nil
}

var userPasswdCmd = &cobra.Command{
	Use:   "passwd <user-id>",
	Short: "Set the password of a user",
	Long: `Set the password of a user. Without --password the new password is read
from the first line of standard input.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseUserID(args[0])
		if err != nil {
			return err
		}
		password := newPassword
		if password == "" {
			line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			if err != nil && line == "" {
				return fmt.Errorf("reading password: %w", err)
			}
			password = strings.TrimRight(line, "\r\n")
		}
		return withStore(cmd.Context(), func(ctx context.Context, store *gormstore.Store) error {
			if err := store.SetPassword(ctx, id, password); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "password updated for user %d\n", id)
			return nil
		})
	},
}

var userPasskeyCmd = &cobra.Command{
	Use:   "passkey",
	Short: "Manage the passkeys of a user",
}

var userPasskeyListCmd = &cobra.Command{
	Use:   "ls <user-id>",
	Short: "List the passkeys of a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseUserID(args[0])
		if err != nil {
			return err
		}
		return withStore(cmd.Context(), func(ctx context.Context, store *gormstore.Store) error {
			records, err := store.FindByUser(ctx, id)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, r := range records {
				fmt.Fprintf(out, "%s\t%s\tcounter=%d\n", gormstore.EncodeCredentialID(r.ID), r.CreatedAt.Format("2006-01-02 15:04"), r.Counter)
			}
			return nil
		})
	},
}

var userPasskeyRemoveCmd = &cobra.Command{
	Use:   "rm <user-id> <credential-id>",
	Short: "Remove a passkey, as listed by passkey ls",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseUserID(args[0])
		if err != nil {
			return err
		}
		credentialID, err := base64.RawURLEncoding.DecodeString(args[1])
		if err != nil {
			return fmt.Errorf("invalid credential id %q", args[1])
		}
		return withStore(cmd.Context(), func(ctx context.Context, store *gormstore.Store) error {
			if err := store.DeleteCredential(ctx, id, credentialID); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed passkey %s\n", args[1])
			return nil
		})
	},
}

func withStore(ctx context.Context, fn func(context.Context, *gormstore.Store) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	db, err := openDatabase(cfg.Database)
	if err != nil {
		return err
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return fn(ctx, gormstore.New(db))
}

func init() {
	rootCmd.AddCommand(userCmd)
	userCmd.AddCommand(userAddCmd)
	userCmd.AddCommand(setActiveCmd("disable", "Disable a user, ending their sessions", false))
	userCmd.AddCommand(setActiveCmd("enable", "Re-enable a disabled user", true))
	userCmd.AddCommand(userPasswdCmd)
	userCmd.AddCommand(userPasskeyCmd)
	userPasskeyCmd.AddCommand(userPasskeyListCmd, userPasskeyRemoveCmd)
	userPasswdCmd.Flags().StringVar(&newPassword, "password", "", "new password; read from stdin when empty")

	flags := userAddCmd.Flags()
	flags.StringVar(&newUser.Email, "email", "", "email address (required)")
	flags.StringVar(&newUser.Password, "password", "", "password; leave empty for passkey or oauth only accounts")
	flags.StringVar(&newUser.FirstName, "first-name", "", "first name")
	flags.StringVar(&newUser.LastName, "last-name", "", "last name")
	flags.BoolVar(&newUser.Admin, "admin", false, "grant admin")
	_ = userAddCmd.MarkFlagRequired("email")
}
