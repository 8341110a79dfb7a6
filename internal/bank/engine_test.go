package bank

import (
	"context"
	"testing"
	"time"

	"github.com/louisbranch/chainaccount/internal/escrow"
	"github.com/louisbranch/chainaccount/internal/event"
	apperrors "github.com/louisbranch/chainaccount/internal/platform/errors"
	"github.com/louisbranch/chainaccount/internal/storage/memory"
)

const (
	bankAccount   = "bank"
	escrowAccount = "escrow-vault"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	return newTestEngineOn(t, memory.NewJournal())
}

func newTestEngineOn(t *testing.T, journal *memory.Journal) *Engine {
	t.Helper()
	engine, err := Open(context.Background(), Config{
		BankAccount:   bankAccount,
		EscrowAccount: escrowAccount,
		Now: func() time.Time {
			return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		},
	}, journal)
	if err != nil {
		t.Fatalf("open engine: %v", err)
	}
	return engine
}

func deposit(t *testing.T, engine *Engine, account string, amount int64) {
	t.Helper()
	if err := engine.OnChainDeposit(context.Background(), bankAccount, account, amount); err != nil {
		t.Fatalf("deposit %d to %s: %v", amount, account, err)
	}
}

// approvedProposal sets up a proposal with both consents granted and the
// depositor holding and having approved enough balance to fund it.
func approvedProposal(t *testing.T, engine *Engine, amount int64) uint64 {
	t.Helper()
	ctx := context.Background()
	deposit(t, engine, "alice", 2*amount)
	id, err := engine.ProposeEscrow(ctx, "paula", "alice", "ben", "ada", amount)
	if err != nil {
		t.Fatalf("propose: %v", err)
	}
	if err := engine.ConsentToEscrow(ctx, "ben", id); err != nil {
		t.Fatalf("beneficiary consent: %v", err)
	}
	if err := engine.ConsentToEscrow(ctx, "ada", id); err != nil {
		t.Fatalf("arbiter consent: %v", err)
	}
	if err := engine.Approve(ctx, "alice", escrowAccount, 2*amount); err != nil {
		t.Fatalf("approve escrow allowance: %v", err)
	}
	return id
}

func checkConservation(t *testing.T, engine *Engine, accounts ...string) {
	t.Helper()
	var sum int64
	for _, account := range accounts {
		sum += engine.BalanceOf(account)
	}
	if supply := engine.TotalSupply(); sum != supply {
		t.Fatalf("balance sum %d diverges from supply %d", sum, supply)
	}
}

func TestOpenValidatesConfig(t *testing.T) {
	ctx := context.Background()
	if _, err := Open(ctx, Config{BankAccount: "bank"}, memory.NewJournal()); err == nil {
		t.Error("expected error for missing escrow account")
	}
	if _, err := Open(ctx, Config{BankAccount: "a", EscrowAccount: "a"}, memory.NewJournal()); err == nil {
		t.Error("expected error for shared bank and escrow account")
	}
	if _, err := Open(ctx, Config{BankAccount: "a", EscrowAccount: "b"}, nil); err == nil {
		t.Error("expected error for nil journal")
	}
}

func TestOnChainDepositRequiresBank(t *testing.T) {
	engine := newTestEngine(t)

	err := engine.OnChainDeposit(context.Background(), "alice", "alice", 100)
	if apperrors.GetCode(err) != apperrors.CodeUnauthorized {
		t.Fatalf("code = %v, want %v", apperrors.GetCode(err), apperrors.CodeUnauthorized)
	}
	if engine.TotalSupply() != 0 {
		t.Fatalf("supply = %d after rejected deposit, want 0", engine.TotalSupply())
	}
}

func TestSettlementBurnRequiresBank(t *testing.T) {
	engine := newTestEngine(t)
	deposit(t, engine, "alice", 100)

	_, err := engine.SettlementBurn(context.Background(), "alice", 100)
	if apperrors.GetCode(err) != apperrors.CodeUnauthorized {
		t.Fatalf("code = %v, want %v", apperrors.GetCode(err), apperrors.CodeUnauthorized)
	}
}

func TestConservationAcrossOperations(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()

	deposit(t, engine, "alice", 10000)
	deposit(t, engine, "bob", 2500)
	if err := engine.Transfer(ctx, "alice", "bob", 4000); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if err := engine.OffChainWithdrawal(ctx, "bob", 1500); err != nil {
		t.Fatalf("withdrawal: %v", err)
	}

	if got := engine.BalanceOf("alice"); got != 6000 {
		t.Errorf("alice balance = %d, want 6000", got)
	}
	if got := engine.BalanceOf("bob"); got != 5000 {
		t.Errorf("bob balance = %d, want 5000", got)
	}
	if got := engine.BalanceOf(bankAccount); got != 1500 {
		t.Errorf("bank balance = %d, want 1500", got)
	}
	checkConservation(t, engine, "alice", "bob", bankAccount)
}

func TestDepositWithdrawBurnRoundTrip(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()

	deposit(t, engine, "alice", 10000)
	if err := engine.OffChainWithdrawal(ctx, "alice", 10000); err != nil {
		t.Fatalf("withdrawal: %v", err)
	}
	burned, err := engine.SettlementBurn(ctx, bankAccount, 10000)
	if err != nil {
		t.Fatalf("burn: %v", err)
	}
	if burned != 10000 {
		t.Fatalf("burned = %d, want 10000", burned)
	}

	if got := engine.BalanceOf("alice"); got != 0 {
		t.Errorf("alice balance = %d, want 0", got)
	}
	if got := engine.BalanceOf(bankAccount); got != 0 {
		t.Errorf("bank balance = %d, want 0", got)
	}
	if got := engine.TotalSupply(); got != 0 {
		t.Errorf("supply = %d, want 0", got)
	}
}

func TestSettlementBurnClampsAtBankBalance(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()

	deposit(t, engine, "alice", 800)
	if err := engine.OffChainWithdrawal(ctx, "alice", 800); err != nil {
		t.Fatalf("withdrawal: %v", err)
	}

	burned, err := engine.SettlementBurn(ctx, bankAccount, 1000)
	if err != nil {
		t.Fatalf("burn: %v", err)
	}
	if burned != 800 {
		t.Fatalf("burned = %d, want 800", burned)
	}
	if got := engine.TotalSupply(); got != 0 {
		t.Errorf("supply = %d, want 0", got)
	}
}

func TestTransferFromConsumesAllowance(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()

	deposit(t, engine, "alice", 1000)
	if err := engine.Approve(ctx, "alice", "bob", 600); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if err := engine.TransferFrom(ctx, "bob", "alice", "carol", 400); err != nil {
		t.Fatalf("transferFrom: %v", err)
	}

	if got := engine.Allowance("alice", "bob"); got != 200 {
		t.Errorf("allowance = %d, want 200", got)
	}
	if got := engine.BalanceOf("carol"); got != 400 {
		t.Errorf("carol balance = %d, want 400", got)
	}

	err := engine.TransferFrom(ctx, "bob", "alice", "carol", 300)
	if apperrors.GetCode(err) != apperrors.CodeAllowanceExceeded {
		t.Fatalf("code = %v, want %v", apperrors.GetCode(err), apperrors.CodeAllowanceExceeded)
	}
}

func TestConsentEmitsSingleApproval(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()

	id, err := engine.ProposeEscrow(ctx, "paula", "alice", "ben", "ada", 5000)
	if err != nil {
		t.Fatalf("propose: %v", err)
	}
	if err := engine.ConsentToEscrow(ctx, "ben", id); err != nil {
		t.Fatalf("first consent: %v", err)
	}
	if err := engine.ConsentToEscrow(ctx, "ben", id); err != nil {
		t.Fatalf("repeat consent: %v", err)
	}

	p, err := engine.Proposal(id)
	if err != nil {
		t.Fatalf("proposal: %v", err)
	}
	if p.Status != escrow.StatusProposed {
		t.Fatalf("status = %v after single party, want %v", p.Status, escrow.StatusProposed)
	}

	if err := engine.ConsentToEscrow(ctx, "ada", id); err != nil {
		t.Fatalf("completing consent: %v", err)
	}
	p, err = engine.Proposal(id)
	if err != nil {
		t.Fatalf("proposal: %v", err)
	}
	if p.Status != escrow.StatusApproved {
		t.Fatalf("status = %v, want %v", p.Status, escrow.StatusApproved)
	}

	events, err := engine.Events(ctx, 0, 0)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	var approvals int
	for _, ev := range events {
		if ev.Type == event.TypeAllConsented {
			approvals++
		}
	}
	if approvals != 1 {
		t.Fatalf("journal holds %d AllConsented events, want 1", approvals)
	}
}

func TestFundingExactness(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()
	id := approvedProposal(t, engine, 10000)

	for _, amount := range []int64{9990, 5, 5} {
		if err := engine.DepositInEscrow(ctx, "alice", id, amount); err != nil {
			t.Fatalf("deposit %d: %v", amount, err)
		}
	}

	p, err := engine.Proposal(id)
	if err != nil {
		t.Fatalf("proposal: %v", err)
	}
	if p.Status != escrow.StatusFullyFunded {
		t.Errorf("status = %v, want %v", p.Status, escrow.StatusFullyFunded)
	}
	if p.HeldInDeposit != 10000 {
		t.Errorf("held = %d, want 10000", p.HeldInDeposit)
	}
	if got := engine.BalanceOf("alice"); got != 10000 {
		t.Errorf("alice balance = %d, want 10000", got)
	}
	if got := engine.BalanceOf(escrowAccount); got != 10000 {
		t.Errorf("escrow balance = %d, want 10000", got)
	}

	events, err := engine.Events(ctx, 0, 0)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	last := events[len(events)-1]
	if last.Type != event.TypeFullyFunded {
		t.Fatalf("final event = %v, want %v", last.Type, event.TypeFullyFunded)
	}
	var funded event.FullyFundedPayload
	if err := last.DecodePayload(&funded); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if funded.Amount != 10000 {
		t.Errorf("funded amount = %d, want 10000", funded.Amount)
	}
	before := events[len(events)-2]
	if before.Type != event.TypeDepositedInEscrow {
		t.Fatalf("event before funding = %v, want %v", before.Type, event.TypeDepositedInEscrow)
	}
	var dep event.DepositedInEscrowPayload
	if err := before.DecodePayload(&dep); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if dep.Amount != 5 {
		t.Errorf("final deposit amount = %d, want 5", dep.Amount)
	}
}

func TestFundingToleranceTrimsSurplus(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()
	id := approvedProposal(t, engine, 10000)

	// Excess 500 sits exactly on the 5% boundary and is tolerated.
	if err := engine.DepositInEscrow(ctx, "alice", id, 10500); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	if got := engine.BalanceOf("alice"); got != 10000 {
		t.Errorf("alice balance = %d, want 10000", got)
	}
	p, err := engine.Proposal(id)
	if err != nil {
		t.Fatalf("proposal: %v", err)
	}
	if p.HeldInDeposit != 10000 {
		t.Errorf("held = %d, want 10000", p.HeldInDeposit)
	}
	if p.Status != escrow.StatusFullyFunded {
		t.Errorf("status = %v, want %v", p.Status, escrow.StatusFullyFunded)
	}
}

func TestOverfundedDepositHasNoEffect(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()
	id := approvedProposal(t, engine, 2000)

	before, err := engine.Events(ctx, 0, 0)
	if err != nil {
		t.Fatalf("events: %v", err)
	}

	err = engine.DepositInEscrow(ctx, "alice", id, 4000)
	if apperrors.GetCode(err) != apperrors.CodeOverfundedDeposit {
		t.Fatalf("code = %v, want %v", apperrors.GetCode(err), apperrors.CodeOverfundedDeposit)
	}

	if got := engine.BalanceOf("alice"); got != 4000 {
		t.Errorf("alice balance = %d, want 4000", got)
	}
	if got := engine.BalanceOf(escrowAccount); got != 0 {
		t.Errorf("escrow balance = %d, want 0", got)
	}
	after, err := engine.Events(ctx, 0, 0)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(after) != len(before) {
		t.Fatalf("journal grew from %d to %d events on a rejected deposit", len(before), len(after))
	}
}

func TestDepositRequiresAllowance(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()

	deposit(t, engine, "alice", 10000)
	id, err := engine.ProposeEscrow(ctx, "paula", "alice", "ben", "ada", 5000)
	if err != nil {
		t.Fatalf("propose: %v", err)
	}
	if err := engine.ConsentToEscrow(ctx, "ben", id); err != nil {
		t.Fatalf("consent: %v", err)
	}
	if err := engine.ConsentToEscrow(ctx, "ada", id); err != nil {
		t.Fatalf("consent: %v", err)
	}

	err = engine.DepositInEscrow(ctx, "alice", id, 5000)
	if apperrors.GetCode(err) != apperrors.CodeAllowanceExceeded {
		t.Fatalf("code = %v, want %v", apperrors.GetCode(err), apperrors.CodeAllowanceExceeded)
	}
	if got := engine.BalanceOf("alice"); got != 10000 {
		t.Errorf("alice balance = %d, want 10000", got)
	}
}

func TestDepositRejectedAfterFullFunding(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()
	id := approvedProposal(t, engine, 5000)

	if err := engine.DepositInEscrow(ctx, "alice", id, 5000); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	err := engine.DepositInEscrow(ctx, "alice", id, 1)
	if apperrors.GetCode(err) != apperrors.CodeInvalidState {
		t.Fatalf("code = %v, want %v", apperrors.GetCode(err), apperrors.CodeInvalidState)
	}
}

func TestExecutionSplit(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()
	id := approvedProposal(t, engine, 10000)
	if err := engine.DepositInEscrow(ctx, "alice", id, 10000); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	if err := engine.ExecuteEscrow(ctx, "ada", id, 5000); err != nil {
		t.Fatalf("execute: %v", err)
	}

	if got := engine.BalanceOf("ben"); got != 5000 {
		t.Errorf("beneficiary balance = %d, want 5000", got)
	}
	if got := engine.BalanceOf("alice"); got != 15000 {
		t.Errorf("depositor balance = %d, want 15000", got)
	}
	if got := engine.BalanceOf(escrowAccount); got != 0 {
		t.Errorf("escrow balance = %d, want 0", got)
	}
	p, err := engine.Proposal(id)
	if err != nil {
		t.Fatalf("proposal: %v", err)
	}
	if p.Status != escrow.StatusExecuted {
		t.Errorf("status = %v, want %v", p.Status, escrow.StatusExecuted)
	}
	if p.HeldInDeposit != 0 {
		t.Errorf("held = %d, want 0", p.HeldInDeposit)
	}
	checkConservation(t, engine, "alice", "ben", escrowAccount)

	err = engine.ExecuteEscrow(ctx, "ada", id, 0)
	if apperrors.GetCode(err) != apperrors.CodeInvalidState {
		t.Fatalf("second execute code = %v, want %v", apperrors.GetCode(err), apperrors.CodeInvalidState)
	}
}

func TestFullReleaseOmitsRefundLeg(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()
	id := approvedProposal(t, engine, 3000)
	if err := engine.DepositInEscrow(ctx, "alice", id, 3000); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	seqBefore, err := engine.Events(ctx, 0, 0)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if err := engine.ExecuteEscrow(ctx, "ada", id, 3000); err != nil {
		t.Fatalf("execute: %v", err)
	}
	events, err := engine.Events(ctx, uint64(len(seqBefore)), 0)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	// One release transfer plus the executed record, no zero-amount refund.
	if len(events) != 2 {
		t.Fatalf("execution committed %d events, want 2", len(events))
	}
	if events[0].Type != event.TypeTransfer || events[1].Type != event.TypeExecuted {
		t.Fatalf("event types = %v, %v", events[0].Type, events[1].Type)
	}
}

func TestReplayRebuildsState(t *testing.T) {
	journal := memory.NewJournal()
	engine := newTestEngineOn(t, journal)
	ctx := context.Background()

	id := approvedProposal(t, engine, 10000)
	if err := engine.DepositInEscrow(ctx, "alice", id, 9990); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	replayed := newTestEngineOn(t, journal)

	if got, want := replayed.TotalSupply(), engine.TotalSupply(); got != want {
		t.Errorf("supply = %d, want %d", got, want)
	}
	for _, account := range []string{"alice", "ben", "ada", bankAccount, escrowAccount} {
		if got, want := replayed.BalanceOf(account), engine.BalanceOf(account); got != want {
			t.Errorf("%s balance = %d, want %d", account, got, want)
		}
	}
	if got, want := replayed.Allowance("alice", escrowAccount), engine.Allowance("alice", escrowAccount); got != want {
		t.Errorf("allowance = %d, want %d", got, want)
	}
	p, err := replayed.Proposal(id)
	if err != nil {
		t.Fatalf("proposal: %v", err)
	}
	if p.Status != escrow.StatusApproved {
		t.Errorf("status = %v, want %v", p.Status, escrow.StatusApproved)
	}
	if p.HeldInDeposit != 9990 {
		t.Errorf("held = %d, want 9990", p.HeldInDeposit)
	}
	consents, err := replayed.Consents(id)
	if err != nil {
		t.Fatalf("consents: %v", err)
	}
	if len(consents) != 2 {
		t.Errorf("consents = %v, want both parties", consents)
	}

	// New proposals must not reuse replayed ids.
	next, err := replayed.ProposeEscrow(ctx, "paula", "alice", "ben", "ada", 100)
	if err != nil {
		t.Fatalf("propose after replay: %v", err)
	}
	if next != id+1 {
		t.Errorf("next proposal id = %d, want %d", next, id+1)
	}
}

func TestMetadata(t *testing.T) {
	engine := newTestEngine(t)
	if engine.Name() != "ChainAccount-EUR" {
		t.Errorf("name = %q", engine.Name())
	}
	if engine.Symbol() != "EUR" {
		t.Errorf("symbol = %q", engine.Symbol())
	}
	if engine.Decimals() != 2 {
		t.Errorf("decimals = %d", engine.Decimals())
	}
}
