package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/iabalyuk/librarybot/catalog"
	"github.com/iabalyuk/librarybot/secrets"
	"github.com/iabalyuk/librarybot/storage"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func (a *app) migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := storage.NewSQLiteStorage(a.cfg.DBPath)
			if err != nil {
				return err
			}
			defer store.Close()
			fmt.Fprintf(cmd.OutOrStdout(), "schema of %s is up to date\n", a.cfg.DBPath)
			return nil
		},
	}
}

func (a *app) importBooksCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import-books <file>",
		Short: "Add the book entries listed in a file, one per line or separated by ';'",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			store, err := storage.NewSQLiteStorage(a.cfg.DBPath)
			if err != nil {
				return err
			}
			defer store.Close()

			input := strings.ReplaceAll(string(data), "\n", ";")
			res, err := catalog.NewService(store).AddBooks(cmd.Context(), input)
			printImport(cmd.OutOrStdout(), res)
			return err
		},
	}
}

func printImport(w io.Writer, res catalog.Result) {
	for _, b := range res.Added {
		fmt.Fprintf(w, "added   %d %s %q %q\n", b.ID, b.Language, b.Category, b.Title)
	}
	for _, f := range res.Failed {
		fmt.Fprintf(w, "failed  %s\n", f.Error())
	}
	fmt.Fprintf(w, "%d added, %d failed\n", len(res.Added), len(res.Failed))
}

func (a *app) keygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Print a new master key for phone encryption",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			key, err := secrets.GenerateMasterKey()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), key)
			return nil
		},
	}
}

func (a *app) revealPhoneCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reveal-phone <chat-id>",
		Short: "Decrypt the phone number of a registered patron",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			chatID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid chat id %q", args[0])
			}
			masterKey := a.cfg.MasterKey
			if masterKey == "" {
				if masterKey, err = promptMasterKey(cmd.ErrOrStderr()); err != nil {
					return err
				}
			}
			cipher, err := newCipher(masterKey)
			if err != nil {
				return err
			}

			store, err := storage.NewSQLiteStorage(a.cfg.DBPath)
			if err != nil {
				return err
			}
			defer store.Close()

			user, err := store.GetUser(cmd.Context(), chatID)
			if err != nil {
				return err
			}
			phone, err := cipher.Decrypt(user.PhoneCipher, user.PhoneKey)
			if err != nil {
				return fmt.Errorf("decrypt phone of %d: %w", chatID, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", user.Name, phone)
			return nil
		},
	}
}

// promptMasterKey reads the master key from the terminal without echo.
func promptMasterKey(w io.Writer) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", errors.New("master key not configured and stdin is not a terminal")
	}
	fmt.Fprint(w, "Master key: ")
	key, err := term.ReadPassword(fd)
	fmt.Fprintln(w)
	if err != nil {
		return "", fmt.Errorf("read master key: %w", err)
	}
	return string(key), nil
}
