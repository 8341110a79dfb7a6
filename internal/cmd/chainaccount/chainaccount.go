// Package chainaccount parses operator CLI flags and dispatches ledger and
// escrow subcommands against the local store.
package chainaccount

import (
	"context"
	"flag"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/louisbranch/chainaccount/internal/bank"
	entrypoint "github.com/louisbranch/chainaccount/internal/platform/cmd"
	"github.com/louisbranch/chainaccount/internal/storage/sqlite"
)

// Config holds chainaccount command configuration. Caller identifies the
// account issuing mutating subcommands.
type Config struct {
	StorePath     string `env:"CHAINACCOUNT_STORE_PATH" envDefault:"chainaccount.db"`
	BankAccount   string `env:"CHAINACCOUNT_BANK_ACCOUNT" envDefault:"bank"`
	EscrowAccount string `env:"CHAINACCOUNT_ESCROW_ACCOUNT" envDefault:"escrow-vault"`
	Caller        string `env:"CHAINACCOUNT_CALLER"`
}

// ParseConfig parses environment and flags into a Config. The remaining
// arguments name the subcommand and its operands.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, []string, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, nil, err
	}
	fs.StringVar(&cfg.StorePath, "store", cfg.StorePath, "path to the ledger store")
	fs.StringVar(&cfg.BankAccount, "bank", cfg.BankAccount, "bank account name")
	fs.StringVar(&cfg.EscrowAccount, "escrow", cfg.EscrowAccount, "escrow vault account name")
	fs.StringVar(&cfg.Caller, "caller", cfg.Caller, "account issuing the command")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, nil, err
	}
	return cfg, fs.Args(), nil
}

// Run opens the store and executes one subcommand.
func Run(ctx context.Context, cfg Config, args []string, out io.Writer) error {
	if out == nil {
		out = io.Discard
	}
	if len(args) == 0 {
		return usageError()
	}
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceChainAccount, func(ctx context.Context) error {
		journal, err := sqlite.Open(cfg.StorePath)
		if err != nil {
			return err
		}
		defer journal.Close()

		engine, err := bank.Open(ctx, bank.Config{
			BankAccount:   cfg.BankAccount,
			EscrowAccount: cfg.EscrowAccount,
		}, journal)
		if err != nil {
			return err
		}
		return dispatch(ctx, engine, cfg, args[0], args[1:], out)
	})
}

func dispatch(ctx context.Context, engine *bank.Engine, cfg Config, name string, args []string, out io.Writer) error {
	switch name {
	case "init":
		fmt.Fprintf(out, "%s (%s, %d decimals) store ready at %s\n",
			engine.Name(), engine.Symbol(), engine.Decimals(), cfg.StorePath)
		return nil

	case "deposit":
		account, amount, err := accountAmountArgs(args)
		if err != nil {
			return err
		}
		if err := engine.OnChainDeposit(ctx, caller(cfg), account, amount); err != nil {
			return err
		}
		fmt.Fprintf(out, "deposited %s %s to %s\n", formatAmount(amount), engine.Symbol(), account)
		return nil

	case "withdraw":
		amount, err := amountArg(args)
		if err != nil {
			return err
		}
		if err := engine.OffChainWithdrawal(ctx, caller(cfg), amount); err != nil {
			return err
		}
		fmt.Fprintf(out, "withdrew %s %s to %s\n", formatAmount(amount), engine.Symbol(), cfg.BankAccount)
		return nil

	case "burn":
		amount, err := amountArg(args)
		if err != nil {
			return err
		}
		burned, err := engine.SettlementBurn(ctx, caller(cfg), amount)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "burned %s %s\n", formatAmount(burned), engine.Symbol())
		return nil

	case "transfer":
		to, amount, err := accountAmountArgs(args)
		if err != nil {
			return err
		}
		if err := engine.Transfer(ctx, caller(cfg), to, amount); err != nil {
			return err
		}
		fmt.Fprintf(out, "transferred %s %s to %s\n", formatAmount(amount), engine.Symbol(), to)
		return nil

	case "approve":
		spender, amount, err := accountAmountArgs(args)
		if err != nil {
			return err
		}
		if err := engine.Approve(ctx, caller(cfg), spender, amount); err != nil {
			return err
		}
		fmt.Fprintf(out, "approved %s %s for %s\n", formatAmount(amount), engine.Symbol(), spender)
		return nil

	case "propose":
		if len(args) != 4 {
			return fmt.Errorf("usage: propose <depositor> <beneficiary> <arbiter> <amount>")
		}
		amount, err := parseAmount(args[3])
		if err != nil {
			return err
		}
		id, err := engine.ProposeEscrow(ctx, caller(cfg), args[0], args[1], args[2], amount)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "proposal %d created for %s %s\n", id, formatAmount(amount), engine.Symbol())
		return nil

	case "consent":
		id, err := idArg(args)
		if err != nil {
			return err
		}
		if err := engine.ConsentToEscrow(ctx, caller(cfg), id); err != nil {
			return err
		}
		return printProposal(engine, id, out)

	case "revoke-consent":
		id, err := idArg(args)
		if err != nil {
			return err
		}
		if err := engine.WithdrawConsent(ctx, caller(cfg), id); err != nil {
			return err
		}
		return printProposal(engine, id, out)

	case "withdraw-proposal":
		id, err := idArg(args)
		if err != nil {
			return err
		}
		if err := engine.WithdrawProposal(ctx, caller(cfg), id); err != nil {
			return err
		}
		fmt.Fprintf(out, "proposal %d withdrawn\n", id)
		return nil

	case "fund":
		if len(args) != 2 {
			return fmt.Errorf("usage: fund <proposal-id> <amount>")
		}
		id, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("parse proposal id %q: %w", args[0], err)
		}
		amount, err := parseAmount(args[1])
		if err != nil {
			return err
		}
		if err := engine.DepositInEscrow(ctx, caller(cfg), id, amount); err != nil {
			return err
		}
		return printProposal(engine, id, out)

	case "execute":
		if len(args) != 2 {
			return fmt.Errorf("usage: execute <proposal-id> <release-amount>")
		}
		id, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("parse proposal id %q: %w", args[0], err)
		}
		release, err := parseAmount(args[1])
		if err != nil {
			return err
		}
		if err := engine.ExecuteEscrow(ctx, caller(cfg), id, release); err != nil {
			return err
		}
		return printProposal(engine, id, out)

	case "balance":
		if len(args) != 1 {
			return fmt.Errorf("usage: balance <account>")
		}
		fmt.Fprintf(out, "%s %s\n", formatAmount(engine.BalanceOf(args[0])), engine.Symbol())
		return nil

	case "supply":
		fmt.Fprintf(out, "%s %s\n", formatAmount(engine.TotalSupply()), engine.Symbol())
		return nil

	case "proposal":
		id, err := idArg(args)
		if err != nil {
			return err
		}
		return printProposal(engine, id, out)

	case "events":
		var afterSeq uint64
		switch len(args) {
		case 0:
		case 1:
			parsed, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("parse sequence %q: %w", args[0], err)
			}
			afterSeq = parsed
		default:
			return fmt.Errorf("usage: events [after-seq]")
		}
		events, err := engine.Events(ctx, afterSeq, 0)
		if err != nil {
			return err
		}
		for _, ev := range events {
			fmt.Fprintf(out, "%d\t%s\t%s\t%s\t%s\n",
				ev.Seq, ev.Timestamp.Format("2006-01-02T15:04:05Z"), ev.Type, ev.Actor, ev.PayloadJSON)
		}
		return nil

	default:
		return usageError()
	}
}

func usageError() error {
	return fmt.Errorf("usage: chainaccount <subcommand>, one of: init, deposit, withdraw, burn, transfer, approve, propose, consent, revoke-consent, withdraw-proposal, fund, execute, balance, supply, proposal, events")
}

func caller(cfg Config) string {
	if cfg.Caller != "" {
		return cfg.Caller
	}
	return cfg.BankAccount
}

func accountAmountArgs(args []string) (string, int64, error) {
	if len(args) != 2 {
		return "", 0, fmt.Errorf("expected <account> <amount>")
	}
	amount, err := parseAmount(args[1])
	if err != nil {
		return "", 0, err
	}
	return args[0], amount, nil
}

func amountArg(args []string) (int64, error) {
	if len(args) != 1 {
		return 0, fmt.Errorf("expected <amount>")
	}
	return parseAmount(args[0])
}

func idArg(args []string) (uint64, error) {
	if len(args) != 1 {
		return 0, fmt.Errorf("expected <proposal-id>")
	}
	id, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse proposal id %q: %w", args[0], err)
	}
	return id, nil
}

func printProposal(engine *bank.Engine, id uint64, out io.Writer) error {
	p, err := engine.Proposal(id)
	if err != nil {
		return err
	}
	consents, err := engine.Consents(id)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "proposal %d: %s\n", p.ID, p.Status)
	fmt.Fprintf(out, "  proposer=%s depositor=%s beneficiary=%s arbiter=%s\n",
		p.Proposer, p.Depositor, p.Beneficiary, p.Arbiter)
	fmt.Fprintf(out, "  amount=%s held=%s consents=[%s]\n",
		formatAmount(p.Amount), formatAmount(p.HeldInDeposit), strings.Join(consents, ", "))
	return nil
}

// parseAmount reads a decimal currency amount ("99.90") into minor units.
func parseAmount(s string) (int64, error) {
	whole, frac, found := strings.Cut(s, ".")
	if whole == "" {
		return 0, fmt.Errorf("parse amount %q: missing integer part", s)
	}
	units, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", s, err)
	}
	var cents int64
	if found {
		if len(frac) == 0 || len(frac) > 2 {
			return 0, fmt.Errorf("parse amount %q: expected up to two decimal places", s)
		}
		for len(frac) < 2 {
			frac += "0"
		}
		cents, err = strconv.ParseInt(frac, 10, 64)
		if err != nil || cents < 0 {
			return 0, fmt.Errorf("parse amount %q: invalid decimal places", s)
		}
	}
	if units < 0 || strings.HasPrefix(whole, "-") {
		return 0, fmt.Errorf("parse amount %q: amount must not be negative", s)
	}
	return units*100 + cents, nil
}

// formatAmount renders minor units as a decimal currency amount.
func formatAmount(minor int64) string {
	sign := ""
	if minor < 0 {
		sign = "-"
		minor = -minor
	}
	return fmt.Sprintf("%s%d.%02d", sign, minor/100, minor%100)
}
