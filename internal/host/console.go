package host

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"

	"github.com/roach88/coffer/internal/currency"
	"github.com/roach88/coffer/internal/engine"
	"github.com/roach88/coffer/internal/flush"
	"github.com/roach88/coffer/internal/identity"
	"github.com/roach88/coffer/internal/queryir"
	"github.com/roach88/coffer/internal/scoreboard"
	"github.com/roach88/coffer/internal/session"
	"github.com/roach88/coffer/internal/txn"
)

// ErrUnknownCommand is returned by Exec for a command it does not know.
var ErrUnknownCommand = errors.New("unknown command")

// ErrNotOnline is returned when a command needs a live session.
var ErrNotOnline = errors.New("player is not online")

type command struct {
	usage   string
	minArgs int
	maxArgs int
	run     func(c *Console, args []string) error
}

var commands map[string]command

func init() {
	commands = map[string]command{
		"join":  {"join <name> [stable_id]", 1, 2, (*Console).join},
		"quit":  {"quit <name>", 1, 1, (*Console).quit},
		"add":   {"add <name> <amount>", 2, 2, (*Console).add},
		"sub":   {"sub <name> <amount>", 2, 2, (*Console).sub},
		"set":   {"set <name> <amount>", 2, 2, (*Console).set},
		"pay":   {"pay <from> <to> <amount>", 3, 3, (*Console).pay},
		"bal":   {"bal <name>", 1, 1, (*Console).bal},
		"top":   {"top [limit] [offset]", 0, 2, (*Console).top},
		"del":   {"del <name>", 1, 1, (*Console).del},
		"save":  {"save", 0, 0, (*Console).save},
		"who":   {"who", 0, 0, (*Console).who},
		"tag":   {"tag <name>", 1, 1, (*Console).tag},
		"write": {"write <add|sub|set> <name> <amount>", 3, 3, (*Console).write},
		"help":  {"help", 0, 0, (*Console).help},
	}
}

// Console executes operator commands, one per line.
//
// Exec must run on the engine loop. Results of commands that wait on
// storage are written when their completion runs, so output order follows
// completion order.
type Console struct {
	host    *Host
	flusher *flush.Scheduler
	board   *scoreboard.Addon
	policy  currency.Policy
	out     io.Writer
}

// NewConsole creates a Console writing to out. flusher backs the save
// command; it and the host's scoreboard may be nil.
func NewConsole(h *Host, flusher *flush.Scheduler, policy currency.Policy, out io.Writer) *Console {
	return &Console{host: h, flusher: flusher, board: h.board, policy: policy, out: out}
}

// Exec parses and runs one command line. Blank lines and lines starting
// with '#' are ignored. Usage errors are returned; failures reported by
// storage are written to the output.
func (c *Console) Exec(line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 || strings.HasPrefix(fields[0], "#") {
		return nil
	}
	name, args := strings.ToLower(fields[0]), fields[1:]
	cmd, ok := commands[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownCommand, name)
	}
	if len(args) < cmd.minArgs || len(args) > cmd.maxArgs {
		return fmt.Errorf("usage: %s", cmd.usage)
	}
	return cmd.run(c, args)
}

// Serve reads commands from in and executes each on loop until in is
// exhausted or ctx is cancelled. Usage errors are written to the output.
func (c *Console) Serve(ctx context.Context, loop *engine.Loop, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := scanner.Text()
		var execErr error
		if err := loop.Call(ctx, func() { execErr = c.Exec(line) }); err != nil {
			return err
		}
		if execErr != nil {
			if err := loop.Call(ctx, func() { c.printf("error: %v", execErr) }); err != nil {
				return err
			}
		}
	}
	return scanner.Err()
}

func (c *Console) printf(format string, args ...any) {
	fmt.Fprintf(c.out, format+"\n", args...)
}

func (c *Console) failed(what string, err error) {
	c.printf("error: %s: %v", what, err)
}

func (c *Console) describe(s *session.Session) string {
	return fmt.Sprintf("%s balance %s", s.Identity(), c.policy.Format(s.Balance()))
}

// online finds the live session of a player by display name.
func (c *Console) online(name string) *session.Session {
	return c.host.registry.Resolve(identity.NameKey(name))
}

func (c *Console) join(args []string) error {
	name, stableID := args[0], ""
	if len(args) == 2 {
		stableID = args[1]
	}
	c.host.Connect(stableID, name, func(s *session.Session, err error) {
		if err != nil {
			c.failed("join "+name, err)
			return
		}
		c.printf("joined %s", c.describe(s))
	})
	return nil
}

func (c *Console) quit(args []string) error {
	if !c.host.Disconnect("", args[0]) {
		return fmt.Errorf("quit %s: %w", args[0], ErrNotOnline)
	}
	c.printf("left %s", identity.Normalize(args[0]))
	return nil
}

type operation struct {
	build func(identity.Key, int64) txn.Transaction
	apply func(*session.Session, int64)
}

var operations = map[string]operation{
	"add": {
		build: func(key identity.Key, amount int64) txn.Transaction { return &txn.Add{Target: key, Amount: amount} },
		apply: (*session.Session).AddBalance,
	},
	"sub": {
		build: func(key identity.Key, amount int64) txn.Transaction {
			return &txn.Subtract{Target: key, Amount: amount}
		},
		apply: (*session.Session).SubtractBalance,
	},
	"set": {
		build: func(key identity.Key, amount int64) txn.Transaction { return &txn.Set{Target: key, Amount: amount} },
		apply: (*session.Session).SetBalance,
	},
}

func (c *Console) add(args []string) error { return c.mutate(operations["add"], args) }
func (c *Console) sub(args []string) error { return c.mutate(operations["sub"], args) }
func (c *Console) set(args []string) error { return c.mutate(operations["set"], args) }

// mutate changes an online player's cached balance, or writes straight to
// storage for an offline one.
func (c *Console) mutate(op operation, args []string) error {
	amount, err := parseAmount(args[1])
	if err != nil {
		return err
	}
	if s := c.online(args[0]); s != nil {
		op.apply(s, amount)
		c.printf("%s", c.describe(s))
		return nil
	}
	c.update(op.build(identity.NameKey(args[0]), amount))
	return nil
}

// write sends a transaction to storage even when the player is online; the
// session follows through the transaction mirror.
func (c *Console) write(args []string) error {
	op, ok := operations[strings.ToLower(args[0])]
	if !ok {
		return fmt.Errorf("invalid operation %q: want add, sub or set", args[0])
	}
	amount, err := parseAmount(args[2])
	if err != nil {
		return err
	}
	c.update(op.build(identity.NameKey(args[1]), amount))
	return nil
}

func (c *Console) pay(args []string) error {
	amount, err := parseAmount(args[2])
	if err != nil {
		return err
	}
	c.update(&txn.Transfer{
		Sender:   identity.NameKey(args[0]),
		Receiver: identity.NameKey(args[1]),
		Amount:   amount,
	})
	return nil
}

func (c *Console) update(tx txn.Transaction) {
	c.host.accounts.UpdateBalance(tx, func(err error) {
		if err != nil {
			c.failed(tx.String(), err)
			return
		}
		c.printf("stored %s", tx)
	})
}

func (c *Console) bal(args []string) error {
	if s := c.online(args[0]); s != nil {
		c.printf("%s", c.describe(s))
		return nil
	}
	name := identity.Normalize(args[0])
	c.host.accounts.GetBalance(identity.NameKey(name), func(balance *int64, err error) {
		switch {
		case err != nil:
			c.failed("bal "+name, err)
		case balance == nil:
			c.printf("%s has no account", name)
		default:
			c.printf("%s stored balance %s", name, c.policy.Format(*balance))
		}
	})
	return nil
}

func (c *Console) top(args []string) error {
	limit := 0
	var offset *int
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil || n <= 0 {
			return fmt.Errorf("invalid limit %q", args[0])
		}
		limit = n
	}
	if len(args) > 1 {
		n, err := strconv.Atoi(args[1])
		if err != nil || n < 0 {
			return fmt.Errorf("invalid offset %q", args[1])
		}
		offset = &n
	}

	c.host.accounts.GetHighestBalances(limit, offset, func(rows []queryir.Row, err error) {
		if err != nil {
			c.failed("top", err)
			return
		}
		if len(rows) == 0 {
			c.printf("no accounts")
			return
		}
		start := 1
		if offset != nil {
			start += *offset
		}
		for i, row := range rows {
			c.printf("%d. %s %s", start+i, row.DisplayName, c.policy.Format(row.Balance))
		}
	})
	return nil
}

func (c *Console) del(args []string) error {
	name := identity.Normalize(args[0])
	c.host.accounts.DeleteAccount(identity.NameKey(name), func(err error) {
		if err != nil {
			c.failed("del "+name, err)
			return
		}
		c.printf("deleted %s", name)
	})
	return nil
}

func (c *Console) save([]string) error {
	if c.flusher == nil {
		return errors.New("save: no flush scheduler")
	}
	saved := c.flusher.Tick()
	c.printf("saving %d session(s)", len(saved))
	return nil
}

func (c *Console) who([]string) error {
	n := 0
	for s := range c.host.registry.All(nil) {
		n++
		c.printf("%s%s", c.describe(s), flags(s.Cache()))
	}
	if n == 0 {
		c.printf("nobody online")
	}
	return nil
}

func (c *Console) tag(args []string) error {
	if c.board == nil {
		return errors.New("tag: no scoreboard")
	}
	name := identity.Normalize(args[0])
	value, _ := c.board.Resolve(name, scoreboard.TagBalance)
	c.printf("%s %s=%s", name, scoreboard.TagBalance, value)
	return nil
}

func (c *Console) help([]string) error {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		c.printf("%s", commands[name].usage)
	}
	return nil
}

func flags(cache *session.Cache) string {
	var set []string
	if cache.IsNew() {
		set = append(set, "new")
	}
	if cache.AwaitingSave() {
		set = append(set, "unsaved")
	}
	if cache.Saving() {
		set = append(set, "saving")
	}
	if len(set) == 0 {
		return ""
	}
	return " [" + strings.Join(set, ",") + "]"
}

func parseAmount(s string) (int64, error) {
	amount, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q", s)
	}
	if amount < 0 {
		return 0, fmt.Errorf("invalid amount %q: must not be negative", s)
	}
	return amount, nil
}
