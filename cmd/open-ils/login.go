package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/open-sspm/open-ils/internal/ils"
	"github.com/open-sspm/open-ils/internal/multibackend"
)

var errLoginFailed = errors.New("invalid username or password")

var (
	loginPasswordStdin   bool
	profilePasswordStdin bool
	profileInclude       []string
)

var loginCmd = &cobra.Command{
	Use:   "login <username>",
	Short: "Authenticate a patron against the backend named by the username prefix.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		password, err := readPassword(cmd, loginPasswordStdin)
		if err != nil {
			return err
		}
		return withDispatcher(cmd, func(ctx context.Context, d *multibackend.Dispatcher) error {
			patron, err := login(ctx, d, args[0], password)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), patron)
		})
	},
}

var profileCmd = &cobra.Command{
	Use:   "profile <username>",
	Short: "Log a patron in and print their profile and, optionally, their account lists.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		password, err := readPassword(cmd, profilePasswordStdin)
		if err != nil {
			return err
		}
		return withDispatcher(cmd, func(ctx context.Context, d *multibackend.Dispatcher) error {
			return runProfile(ctx, d, cmd.OutOrStdout(), args[0], password, profileInclude)
		})
	},
}

func init() {
	loginCmd.Flags().BoolVar(&loginPasswordStdin, "password-stdin", false, "read the password from stdin")
	loginCmd.Annotations = structuredLogging()

	profileCmd.Flags().BoolVar(&profilePasswordStdin, "password-stdin", false, "read the password from stdin")
	profileCmd.Flags().StringSliceVar(&profileInclude, "include", nil, "account lists to add: "+strings.Join(accountListNames(), ", "))
	profileCmd.Annotations = structuredLogging()
}

// readPassword takes the first line of stdin when fromStdin is set and
// prompts on the terminal otherwise.
func readPassword(cmd *cobra.Command, fromStdin bool) (string, error) {
	if fromStdin {
		line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return "", fmt.Errorf("read password: %w", err)
		}
		return strings.TrimRight(line, "\r\n"), nil
	}

	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", errors.New("stdin is not a terminal; use --password-stdin")
	}
	fmt.Fprint(cmd.ErrOrStderr(), "Password: ")
	raw, err := term.ReadPassword(fd)
	fmt.Fprintln(cmd.ErrOrStderr())
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	return string(raw), nil
}

func login(ctx context.Context, d *multibackend.Dispatcher, username, password string) (ils.Record, error) {
	patron, err := d.PatronLogin(ctx, username, password)
	if err != nil {
		return nil, err
	}
	if patron == nil {
		return nil, errLoginFailed
	}
	return patron, nil
}

type accountList struct {
	name string
	get  func(*multibackend.Dispatcher, context.Context, ils.Record) ([]ils.Record, error)
}

var accountLists = []accountList{
	{"transactions", (*multibackend.Dispatcher).GetMyTransactions},
	{"holds", (*multibackend.Dispatcher).GetMyHolds},
	{"fines", (*multibackend.Dispatcher).GetMyFines},
	{"storage_requests", (*multibackend.Dispatcher).GetMyStorageRetrievalRequests},
	{"ill_requests", (*multibackend.Dispatcher).GetMyILLRequests},
}

func accountListNames() []string {
	names := make([]string, 0, len(accountLists))
	for _, l := range accountLists {
		names = append(names, l.name)
	}
	return names
}

func runProfile(ctx context.Context, d *multibackend.Dispatcher, out io.Writer, username, password string, include []string) error {
	lists := make([]accountList, 0, len(include))
	for _, name := range include {
		name = strings.ToLower(strings.TrimSpace(name))
		found := false
		for _, l := range accountLists {
			if l.name == name {
				lists = append(lists, l)
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("unknown account list %q (one of: %s)", name, strings.Join(accountListNames(), ", "))
		}
	}

	patron, err := login(ctx, d, username, password)
	if err != nil {
		return err
	}
	profile, err := d.GetMyProfile(ctx, patron)
	if err != nil {
		return err
	}

	result := map[string]any{
		"patron":  patron,
		"profile": profile,
	}
	for _, l := range lists {
		recs, err := l.get(d, ctx, patron)
		if err != nil {
			return fmt.Errorf("%s: %w", l.name, err)
		}
		result[l.name] = recs
	}
	return writeJSON(out, result)
}
