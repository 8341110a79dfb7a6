// Package bank hosts the single-writer engine that owns the account ledger,
// the escrow registry and the event journal. Every public operation takes a
// caller identity, validates it against the current state, appends the
// resulting events to the journal in one batch and folds them into memory
// only after the append commits. Nothing is observable from a failed
// operation.
package bank

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/louisbranch/chainaccount/internal/escrow"
	"github.com/louisbranch/chainaccount/internal/event"
	"github.com/louisbranch/chainaccount/internal/ledger"
	apperrors "github.com/louisbranch/chainaccount/internal/platform/errors"
	"github.com/louisbranch/chainaccount/internal/storage"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const replayPageSize = 512

// Config identifies the two privileged accounts of the deployment. Now is
// optional and defaults to time.Now; tests inject fixed clocks through it.
type Config struct {
	// BankAccount is the custodian account. Deposits mint into customer
	// accounts on its behalf, withdrawals collect into it, settlement burns
	// shrink it.
	BankAccount string
	// EscrowAccount holds funds for all pending proposals. Deposits are
	// pulled into it through the depositor's allowance.
	EscrowAccount string
	Now           func() time.Time
}

// Engine is the single writer over ledger and escrow state. All operations
// serialize on one mutex; escrow operations that move ledger value do so
// inside the same commit.
type Engine struct {
	mu       sync.Mutex
	cfg      Config
	journal  storage.Journal
	ledger   *ledger.State
	registry *escrow.Registry
	tracer   trace.Tracer
}

// Open builds an engine over the journal and replays every committed event
// to rebuild state.
func Open(ctx context.Context, cfg Config, journal storage.Journal) (*Engine, error) {
	if cfg.BankAccount == "" || cfg.EscrowAccount == "" {
		return nil, fmt.Errorf("bank and escrow accounts are required")
	}
	if cfg.BankAccount == cfg.EscrowAccount {
		return nil, fmt.Errorf("bank and escrow accounts must differ")
	}
	if journal == nil {
		return nil, fmt.Errorf("journal is required")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	e := &Engine{
		cfg:      cfg,
		journal:  journal,
		ledger:   ledger.NewState(),
		registry: escrow.NewRegistry(),
		tracer:   otel.Tracer("github.com/louisbranch/chainaccount/internal/bank"),
	}

	var afterSeq uint64
	for {
		events, err := journal.List(ctx, afterSeq, replayPageSize)
		if err != nil {
			return nil, fmt.Errorf("replay journal: %w", err)
		}
		if len(events) == 0 {
			break
		}
		for _, ev := range events {
			if err := e.fold(ev); err != nil {
				return nil, fmt.Errorf("replay event %d: %w", ev.Seq, err)
			}
			afterSeq = ev.Seq
		}
	}
	if err := e.ledger.CheckConservation(); err != nil {
		return nil, fmt.Errorf("replay journal: %w", err)
	}
	return e, nil
}

func (e *Engine) fold(ev event.Event) error {
	if err := e.ledger.Apply(ev); err != nil {
		return err
	}
	return e.registry.Apply(ev)
}

// commit appends the batch and folds it into memory. The append is the
// commit point; fold errors after it indicate journal corruption.
func (e *Engine) commit(ctx context.Context, events []event.Event) error {
	now := e.cfg.Now().UTC()
	for i := range events {
		events[i].Timestamp = now
	}
	appended, err := e.journal.Append(ctx, events)
	if err != nil {
		return fmt.Errorf("append events: %w", err)
	}
	for _, ev := range appended {
		if err := e.fold(ev); err != nil {
			return fmt.Errorf("fold event %d: %w", ev.Seq, err)
		}
	}
	return e.ledger.CheckConservation()
}

func (e *Engine) requireBank(caller string) error {
	if caller != e.cfg.BankAccount {
		return apperrors.WithMetadata(apperrors.CodeUnauthorized, "operation is restricted to the bank account", map[string]string{
			"caller": caller,
		})
	}
	return nil
}

func (e *Engine) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return e.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// OnChainDeposit mints value into a customer account against fiat received
// off the ledger. Bank only.
func (e *Engine) OnChainDeposit(ctx context.Context, caller, target string, amount int64) error {
	ctx, span := e.startSpan(ctx, "bank.OnChainDeposit",
		attribute.String("account", target),
		attribute.Int64("amount", amount))
	defer span.End()

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.requireBank(caller); err != nil {
		return err
	}
	payload, err := e.ledger.DecideMint(target, amount)
	if err != nil {
		return err
	}
	ev, err := event.New(event.TypeTransfer, caller, payload)
	if err != nil {
		return err
	}
	return e.commit(ctx, []event.Event{ev})
}

// OffChainWithdrawal moves the caller's value back to the bank account in
// exchange for a fiat payout. Supply is unchanged until settlement.
func (e *Engine) OffChainWithdrawal(ctx context.Context, caller string, amount int64) error {
	ctx, span := e.startSpan(ctx, "bank.OffChainWithdrawal",
		attribute.String("account", caller),
		attribute.Int64("amount", amount))
	defer span.End()

	e.mu.Lock()
	defer e.mu.Unlock()

	payload, err := e.ledger.DecideTransfer(caller, e.cfg.BankAccount, amount)
	if err != nil {
		return err
	}
	ev, err := event.New(event.TypeTransfer, caller, payload)
	if err != nil {
		return err
	}
	return e.commit(ctx, []event.Event{ev})
}

// SettlementBurn destroys bank-held value after off-ledger settlement. The
// burn clamps at the bank's balance; the burned amount is returned. Bank
// only.
func (e *Engine) SettlementBurn(ctx context.Context, caller string, amount int64) (int64, error) {
	ctx, span := e.startSpan(ctx, "bank.SettlementBurn",
		attribute.Int64("amount", amount))
	defer span.End()

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.requireBank(caller); err != nil {
		return 0, err
	}
	payload, err := e.ledger.DecideBurn(e.cfg.BankAccount, amount)
	if err != nil {
		return 0, err
	}
	if payload.Amount == 0 {
		return 0, nil
	}
	ev, err := event.New(event.TypeTransfer, caller, payload)
	if err != nil {
		return 0, err
	}
	if err := e.commit(ctx, []event.Event{ev}); err != nil {
		return 0, err
	}
	return payload.Amount, nil
}

// Transfer moves value from the caller to another account.
func (e *Engine) Transfer(ctx context.Context, caller, to string, amount int64) error {
	ctx, span := e.startSpan(ctx, "bank.Transfer",
		attribute.String("from", caller),
		attribute.String("to", to),
		attribute.Int64("amount", amount))
	defer span.End()

	e.mu.Lock()
	defer e.mu.Unlock()

	payload, err := e.ledger.DecideTransfer(caller, to, amount)
	if err != nil {
		return err
	}
	ev, err := event.New(event.TypeTransfer, caller, payload)
	if err != nil {
		return err
	}
	return e.commit(ctx, []event.Event{ev})
}

// Approve sets the allowance a spender may pull from the caller. The new
// amount overwrites any previous allowance; zero clears it.
func (e *Engine) Approve(ctx context.Context, caller, spender string, amount int64) error {
	ctx, span := e.startSpan(ctx, "bank.Approve",
		attribute.String("owner", caller),
		attribute.String("spender", spender),
		attribute.Int64("amount", amount))
	defer span.End()

	e.mu.Lock()
	defer e.mu.Unlock()

	payload, err := e.ledger.DecideApprove(caller, spender, amount)
	if err != nil {
		return err
	}
	ev, err := event.New(event.TypeApproval, caller, payload)
	if err != nil {
		return err
	}
	return e.commit(ctx, []event.Event{ev})
}

// TransferFrom moves value from an owner to a recipient on the strength of
// the allowance the owner granted the caller.
func (e *Engine) TransferFrom(ctx context.Context, caller, owner, to string, amount int64) error {
	ctx, span := e.startSpan(ctx, "bank.TransferFrom",
		attribute.String("spender", caller),
		attribute.String("owner", owner),
		attribute.String("to", to),
		attribute.Int64("amount", amount))
	defer span.End()

	e.mu.Lock()
	defer e.mu.Unlock()

	payload, err := e.ledger.DecideTransferFrom(caller, owner, to, amount)
	if err != nil {
		return err
	}
	ev, err := event.New(event.TypeTransfer, caller, payload)
	if err != nil {
		return err
	}
	return e.commit(ctx, []event.Event{ev})
}

// ProposeEscrow registers a new escrow proposal and returns its id.
func (e *Engine) ProposeEscrow(ctx context.Context, caller, depositor, beneficiary, arbiter string, amount int64) (uint64, error) {
	ctx, span := e.startSpan(ctx, "bank.ProposeEscrow",
		attribute.String("proposer", caller),
		attribute.Int64("amount", amount))
	defer span.End()

	e.mu.Lock()
	defer e.mu.Unlock()

	payload, err := e.registry.DecidePropose(caller, depositor, beneficiary, arbiter, amount)
	if err != nil {
		return 0, err
	}
	ev, err := event.New(event.TypeProposedEscrow, caller, payload)
	if err != nil {
		return 0, err
	}
	if err := e.commit(ctx, []event.Event{ev}); err != nil {
		return 0, err
	}
	return payload.ProposalID, nil
}

// ConsentToEscrow records the caller's consent. When this consent completes
// the required set the proposal becomes Approved in the same commit.
func (e *Engine) ConsentToEscrow(ctx context.Context, caller string, id uint64) error {
	ctx, span := e.startSpan(ctx, "bank.ConsentToEscrow",
		attribute.String("party", caller),
		attribute.String("proposal_id", strconv.FormatUint(id, 10)))
	defer span.End()

	e.mu.Lock()
	defer e.mu.Unlock()

	payload, completes, err := e.registry.DecideConsent(caller, id)
	if err != nil {
		return err
	}
	consent, err := event.New(event.TypeConsentToEscrow, caller, payload)
	if err != nil {
		return err
	}
	events := []event.Event{consent}
	if completes {
		approved, err := event.New(event.TypeAllConsented, caller, event.AllConsentedPayload{ProposalID: id})
		if err != nil {
			return err
		}
		events = append(events, approved)
	}
	return e.commit(ctx, events)
}

// WithdrawConsent retracts the caller's earlier consent. An Approved
// proposal drops back to Proposed.
func (e *Engine) WithdrawConsent(ctx context.Context, caller string, id uint64) error {
	ctx, span := e.startSpan(ctx, "bank.WithdrawConsent",
		attribute.String("party", caller),
		attribute.String("proposal_id", strconv.FormatUint(id, 10)))
	defer span.End()

	e.mu.Lock()
	defer e.mu.Unlock()

	payload, err := e.registry.DecideWithdrawConsent(caller, id)
	if err != nil {
		return err
	}
	ev, err := event.New(event.TypeConsentWithdrawn, caller, payload)
	if err != nil {
		return err
	}
	return e.commit(ctx, []event.Event{ev})
}

// WithdrawProposal retires an unfunded proposal. Proposer only; terminal.
func (e *Engine) WithdrawProposal(ctx context.Context, caller string, id uint64) error {
	ctx, span := e.startSpan(ctx, "bank.WithdrawProposal",
		attribute.String("proposer", caller),
		attribute.String("proposal_id", strconv.FormatUint(id, 10)))
	defer span.End()

	e.mu.Lock()
	defer e.mu.Unlock()

	payload, err := e.registry.DecideWithdrawProposal(caller, id)
	if err != nil {
		return err
	}
	ev, err := event.New(event.TypeProposalWithdrawn, caller, payload)
	if err != nil {
		return err
	}
	return e.commit(ctx, []event.Event{ev})
}

// DepositInEscrow pulls funds from the caller into the escrow account
// through the allowance the caller granted it. Offers above the remaining
// need are trimmed within the funding tolerance; the surplus never leaves
// the depositor. The FullyFunded transition commits with the deposit that
// reaches the target.
func (e *Engine) DepositInEscrow(ctx context.Context, caller string, id uint64, amount int64) error {
	ctx, span := e.startSpan(ctx, "bank.DepositInEscrow",
		attribute.String("depositor", caller),
		attribute.String("proposal_id", strconv.FormatUint(id, 10)),
		attribute.Int64("amount", amount))
	defer span.End()

	e.mu.Lock()
	defer e.mu.Unlock()

	transfer, completes, err := e.registry.DecideDeposit(caller, amount, id)
	if err != nil {
		return err
	}
	movePayload, err := e.ledger.DecideTransferFrom(e.cfg.EscrowAccount, caller, e.cfg.EscrowAccount, transfer)
	if err != nil {
		return err
	}

	move, err := event.New(event.TypeTransfer, caller, movePayload)
	if err != nil {
		return err
	}
	deposited, err := event.New(event.TypeDepositedInEscrow, caller, event.DepositedInEscrowPayload{
		ProposalID: id,
		Depositor:  caller,
		Amount:     transfer,
	})
	if err != nil {
		return err
	}
	events := []event.Event{move, deposited}
	if completes {
		p, err := e.registry.Get(id)
		if err != nil {
			return err
		}
		funded, err := event.New(event.TypeFullyFunded, caller, event.FullyFundedPayload{
			ProposalID: id,
			Amount:     p.Amount,
		})
		if err != nil {
			return err
		}
		events = append(events, funded)
	}
	return e.commit(ctx, events)
}

// ExecuteEscrow releases held funds per the arbiter's split: releaseAmount
// to the beneficiary, the rest back to the depositor. Zero-amount legs are
// omitted. Arbiter only; terminal.
func (e *Engine) ExecuteEscrow(ctx context.Context, caller string, id uint64, releaseAmount int64) error {
	ctx, span := e.startSpan(ctx, "bank.ExecuteEscrow",
		attribute.String("arbiter", caller),
		attribute.String("proposal_id", strconv.FormatUint(id, 10)),
		attribute.Int64("release", releaseAmount))
	defer span.End()

	e.mu.Lock()
	defer e.mu.Unlock()

	payload, err := e.registry.DecideExecute(caller, id, releaseAmount)
	if err != nil {
		return err
	}
	p, err := e.registry.Get(id)
	if err != nil {
		return err
	}

	var events []event.Event
	if payload.ReleaseAmount > 0 {
		releaseMove, err := e.ledger.DecideTransfer(e.cfg.EscrowAccount, p.Beneficiary, payload.ReleaseAmount)
		if err != nil {
			return err
		}
		ev, err := event.New(event.TypeTransfer, caller, releaseMove)
		if err != nil {
			return err
		}
		events = append(events, ev)
	}
	if payload.RefundAmount > 0 {
		refundMove, err := e.ledger.DecideTransfer(e.cfg.EscrowAccount, p.Depositor, payload.RefundAmount)
		if err != nil {
			return err
		}
		ev, err := event.New(event.TypeTransfer, caller, refundMove)
		if err != nil {
			return err
		}
		events = append(events, ev)
	}
	executed, err := event.New(event.TypeExecuted, caller, payload)
	if err != nil {
		return err
	}
	events = append(events, executed)
	return e.commit(ctx, events)
}

// BalanceOf reports an account balance. Unknown accounts read as zero.
func (e *Engine) BalanceOf(account string) int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ledger.BalanceOf(account)
}

// TotalSupply reports the sum of all value in circulation.
func (e *Engine) TotalSupply() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ledger.TotalSupply()
}

// Allowance reports what spender may still pull from owner.
func (e *Engine) Allowance(owner, spender string) int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ledger.Allowance(owner, spender)
}

// Name reports the display name of the ledgered asset.
func (e *Engine) Name() string { return ledger.Name }

// Symbol reports the currency symbol of the ledgered asset.
func (e *Engine) Symbol() string { return ledger.Symbol }

// Decimals reports the display precision. Metadata only; every amount in
// the engine is an integer in minor units.
func (e *Engine) Decimals() int { return ledger.Decimals }

// Proposal returns a snapshot of an escrow proposal.
func (e *Engine) Proposal(id uint64) (escrow.Proposal, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.registry.Get(id)
}

// Consents lists the parties that currently consent to a proposal.
func (e *Engine) Consents(id uint64) ([]string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, err := e.registry.Get(id)
	if err != nil {
		return nil, err
	}
	return p.Consents(), nil
}

// Events returns committed events with Seq greater than afterSeq, oldest
// first. A non-positive limit returns everything.
func (e *Engine) Events(ctx context.Context, afterSeq uint64, limit int) ([]event.Event, error) {
	return e.journal.List(ctx, afterSeq, limit)
}
