// Copyright (c) 2015-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Command depositctl creates and inspects deposit requests directly in the
// datastore of btcdepositd.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcdeposit/deposit"
	"github.com/btcsuite/btcdeposit/store"
	flags "github.com/jessevdk/go-flags"
	"github.com/shopspring/decimal"
)

const (
	defaultNet     = "mainnet"
	defaultTimeout = 30 * time.Second
)

var datadir = btcutil.AppDataDir("btcdepositd", false)

// globalOptions are shared by every command.
type globalOptions struct {
	DBDriver string `long:"dbdriver" choice:"postgres" choice:"sqlite" default:"sqlite" description:"Database driver"`
	DBDSN    string `long:"dbdsn" env:"BTCDEPOSIT_DBDSN" default-mask:"-" description:"Database connection string (default for sqlite: the btcdepositd database of --network)"`
	Network  string `long:"network" default:"mainnet" description:"Network whose default SQLite database is used"`
}

// app carries the options and streams of one invocation.
type app struct {
	opts globalOptions
	in   io.Reader
	out  io.Writer
}

// openStore opens and migrates the configured datastore.
func (a *app) openStore(ctx context.Context) (*store.Store, error) {
	dialect, err := store.ParseDialect(a.opts.DBDriver)
	if err != nil {
		return nil, err
	}

	dsn := a.opts.DBDSN
	if dsn == "" {
		if dialect != store.SQLite {
			return nil, errors.New("--dbdsn is required for postgres")
		}
		path := filepath.Join(datadir, a.opts.Network, "deposits.db")
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("database file %s: %w", path, err)
		}
		dsn = store.SQLiteDSN(path)
	}

	s, err := store.Open(ctx, dialect, dsn)
	if err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// withStore runs f with an open store and a bounded context.
func (a *app) withStore(f func(context.Context, *store.Store) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	s, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	return f(ctx, s)
}

func yes(s string) bool {
	switch s {
	case "y", "Y", "yes", "Yes":
		return true
	default:
		return false
	}
}

func no(s string) bool {
	switch s {
	case "n", "N", "no", "No":
		return true
	default:
		return false
	}
}

// confirm asks question until the user answers yes or no. EOF counts as no.
func (a *app) confirm(question string) (bool, error) {
	scanner := bufio.NewScanner(a.in)
	for {
		fmt.Fprintf(a.out, "%s [y/N] ", question)

		if !scanner.Scan() {
			fmt.Fprintln(a.out)
			return false, scanner.Err()
		}
		resp := strings.TrimSpace(scanner.Text())
		if yes(resp) {
			return true, nil
		}
		if no(resp) || resp == "" {
			return false, nil
		}

		fmt.Fprintln(a.out, "Enter yes or no.")
	}
}

// createCommand creates a new pending deposit request.
type createCommand struct {
	Owner  int64  `long:"owner" required:"true" description:"Owner of the deposit"`
	Amount string `long:"amount" required:"true" description:"Announced amount in BTC"`
	Ref    string `long:"ref" description:"Notification recipient reference"`
	Force  bool   `short:"f" long:"force" description:"Create without prompt"`

	app *app
}

func (c *createCommand) Execute([]string) error {
	amount, err := decimal.NewFromString(c.Amount)
	if err != nil {
		return fmt.Errorf("invalid amount %q", c.Amount)
	}
	if _, err := deposit.DecimalToAmount(amount); err != nil {
		return err
	}

	if !c.Force {
		ok, err := c.app.confirm(fmt.Sprintf("Create a deposit of %s "+
			"BTC for owner %d?", amount, c.Owner))
		if err != nil || !ok {
			return err
		}
	}

	return c.app.withStore(func(ctx context.Context, s *store.Store) error {
		req, err := s.CreateRequest(ctx, c.Owner, amount, c.Ref)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.app.out, "Created %v\n", req)
		return nil
	})
}

// showCommand prints a request and its ledger entry, if any.
type showCommand struct {
	Args struct {
		ID int64 `positional-arg-name:"id"`
	} `positional-args:"yes" required:"yes"`

	app *app
}

func (c *showCommand) Execute([]string) error {
	return c.app.withStore(func(ctx context.Context, s *store.Store) error {
		req, err := s.Request(ctx, c.Args.ID)
		if err != nil {
			return err
		}
		fmt.Fprintln(c.app.out, req)

		if req.Status != deposit.StatusCompleted {
			return nil
		}
		entry, err := s.LedgerEntry(ctx, req.ID)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.app.out, "Credited %s %s to %s (%s)\n",
			entry.Amount, entry.Token, entry.Destination, entry.Memo)
		return nil
	})
}

// statsCommand prints the number of requests per status.
type statsCommand struct {
	app *app
}

func (c *statsCommand) Execute([]string) error {
	return c.app.withStore(func(ctx context.Context, s *store.Store) error {
		counts, err := s.CountByStatus(ctx)
		if err != nil {
			return err
		}
		for _, status := range deposit.Statuses() {
			fmt.Fprintf(c.app.out, "%-10v %d\n", status, counts[status])
		}
		return nil
	})
}

// newParser builds the command parser of a.
func newParser(a *app) *flags.Parser {
	parser := flags.NewParser(&a.opts, flags.Default)

	commands := []struct {
		name, short string
		data        interface{}
	}{
		{"create", "Create a pending deposit request", &createCommand{app: a}},
		{"show", "Show a deposit request", &showCommand{app: a}},
		{"stats", "Count deposit requests per status", &statsCommand{app: a}},
	}
	for _, c := range commands {
		_, err := parser.AddCommand(c.name, c.short, c.short, c.data)
		if err != nil {
			panic(err)
		}
	}

	return parser
}

func main() {
	os.Exit(mainInt(os.Args[1:], os.Stdin, os.Stdout))
}

func mainInt(args []string, in io.Reader, out io.Writer) int {
	a := &app{in: in, out: out}
	if _, err := newParser(a).ParseArgs(args); err != nil {
		var e *flags.Error
		if errors.As(err, &e) {
			if e.Type == flags.ErrHelp {
				return 0
			}
			return 1
		}
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}
