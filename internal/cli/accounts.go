package cli

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/roach88/coffer/internal/account"
	"github.com/roach88/coffer/internal/config"
	"github.com/roach88/coffer/internal/currency"
	"github.com/roach88/coffer/internal/identity"
	"github.com/roach88/coffer/internal/queryir"
	"github.com/roach88/coffer/internal/store"
)

// AccountOptions holds flags shared by the account commands.
type AccountOptions struct {
	*RootOptions
	ByID bool // treat the argument as a stable ID
}

// AccountView is the JSON shape of one stored account.
type AccountView struct {
	Rank        int    `json:"rank,omitempty"`
	StableID    string `json:"stable_id"`
	DisplayName string `json:"display_name"`
	Balance     int64  `json:"balance"`
	Formatted   string `json:"formatted"`
	FixPending  bool   `json:"fix_pending,omitempty"`
}

func newAccountView(row queryir.Row, policy currency.Policy) AccountView {
	return AccountView{
		StableID:    row.StableID,
		DisplayName: row.DisplayName,
		Balance:     row.Balance,
		Formatted:   policy.Format(row.Balance),
		FixPending:  row.Identity().FixPending(),
	}
}

func (o *AccountOptions) key(arg string) identity.Key {
	if o.ByID {
		return identity.StableKey(arg)
	}
	return identity.NameKey(arg)
}

// NewBalanceCommand creates the balance command.
func NewBalanceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &AccountOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "balance <name>",
		Short: "Show a stored balance",
		Long: `Read one account straight from the database.

Balances of players online in a running service may be ahead of what is
stored until the next flush.

Example:
  coffer balance alice --db ./coffer.db
  coffer balance --id 2535416409 --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBalance(opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.ByID, "id", false, "look the account up by stable ID")

	return cmd
}

func runBalance(opts *AccountOptions, arg string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)
	cfg, st, err := openAccounts(opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	defer closeStore(st)

	key := opts.key(arg)
	formatter.VerboseLog("Reading %s", key)
	row, err := st.ReadAccount(cmdContext(cmd), key)
	if err != nil {
		return accountError(formatter, key, err)
	}

	view := newAccountView(row, cfg.Policy())
	if opts.Format == "json" {
		return formatter.Success(view)
	}
	fmt.Fprintf(formatter.Writer, "%s %s\n", row.Identity(), color.GreenString(view.Formatted))
	return nil
}

// TopOptions holds flags for the top command.
type TopOptions struct {
	*RootOptions
	Limit  int
	Offset int
}

// NewTopCommand creates the top command.
func NewTopCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TopOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "top",
		Short: "Show the highest stored balances",
		Long: `List stored accounts by descending balance.

Example:
  coffer top --db ./coffer.db
  coffer top --limit 5 --offset 10`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTop(opts, cmd)
		},
	}

	cmd.Flags().IntVarP(&opts.Limit, "limit", "n", account.DefaultTopLimit, "number of accounts to show")
	cmd.Flags().IntVar(&opts.Offset, "offset", 0, "number of accounts to skip")

	return cmd
}

func runTop(opts *TopOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)
	if opts.Limit <= 0 {
		_ = formatter.Error(ErrCodeGeneric, fmt.Sprintf("invalid limit %d", opts.Limit))
		return NewExitError(ExitCommandError, fmt.Sprintf("invalid limit %d", opts.Limit))
	}
	if opts.Offset < 0 {
		_ = formatter.Error(ErrCodeGeneric, fmt.Sprintf("invalid offset %d", opts.Offset))
		return NewExitError(ExitCommandError, fmt.Sprintf("invalid offset %d", opts.Offset))
	}

	cfg, st, err := openAccounts(opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	defer closeStore(st)

	rows, err := st.ReadTop(cmdContext(cmd), opts.Limit, opts.Offset)
	if err != nil {
		_ = formatter.Error(ErrCodeStorage, err.Error())
		return WrapExitError(ExitCommandError, "failed to read leaderboard", err)
	}

	policy := cfg.Policy()
	views := make([]AccountView, len(rows))
	for i, row := range rows {
		views[i] = newAccountView(row, policy)
		views[i].Rank = opts.Offset + i + 1
	}

	if opts.Format == "json" {
		return formatter.Success(views)
	}

	w := formatter.Writer
	if len(views) == 0 {
		fmt.Fprintln(w, "No accounts.")
		return nil
	}
	rank := color.New(color.Bold)
	for _, v := range views {
		name := v.DisplayName
		if v.Rank == 1 {
			name = color.YellowString(name)
		}
		fmt.Fprintf(w, "%s %s %s\n", rank.Sprintf("%3d.", v.Rank), name, color.GreenString(v.Formatted))
	}
	return nil
}

// NewDeleteCommand creates the delete command.
func NewDeleteCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &AccountOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a stored account",
		Long: `Delete one account from the database.

Do not delete the account of a player online in a running service: their
session would write the row back as new on its next save.

Example:
  coffer delete alice --db ./coffer.db
  coffer delete --id 2535416409`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDelete(opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.ByID, "id", false, "look the account up by stable ID")

	return cmd
}

func runDelete(opts *AccountOptions, arg string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)
	_, st, err := openAccounts(opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	defer closeStore(st)

	key := opts.key(arg)
	res := st.Execute(cmdContext(cmd), queryir.DeleteAccount{Key: key})
	if res.Err == nil && res.Affected == 0 {
		res.Err = fmt.Errorf("delete %s: %w", key, store.ErrNoAccount)
	}
	if res.Err != nil {
		return accountError(formatter, key, res.Err)
	}

	if opts.Format == "json" {
		return formatter.Success(map[string]any{"deleted": key.String(), "rows": res.Affected})
	}
	fmt.Fprintf(formatter.Writer, "Deleted %s\n", key)
	return nil
}

// openAccounts loads the config, sets up logging and opens the store.
func openAccounts(opts *RootOptions, cmd *cobra.Command) (*config.Config, *store.Store, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		_ = newFormatter(opts, cmd).Error(ErrCodeConfig, err.Error())
		return nil, nil, err
	}
	setupLogging(opts, cfg, cmd.ErrOrStderr())

	st, err := openStore(cfg)
	if err != nil {
		_ = newFormatter(opts, cmd).Error(ErrCodeStorage, err.Error())
		return nil, nil, err
	}
	return cfg, st, nil
}

func accountError(formatter *OutputFormatter, key identity.Key, err error) error {
	if store.IsNoAccount(err) {
		msg := fmt.Sprintf("account not found: %s", key)
		_ = formatter.Error(ErrCodeNotFound, msg)
		return NewExitError(ExitFailure, msg)
	}
	_ = formatter.Error(ErrCodeStorage, err.Error())
	return WrapExitError(ExitCommandError, "storage error", err)
}

func cmdContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
