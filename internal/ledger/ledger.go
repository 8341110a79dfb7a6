// Package ledger owns balances, allowances, and total-supply accounting for
// one currency unit.
//
// The state is mutated only by folding journal events (Apply); the decide
// methods validate an operation against current state and return the event
// payload it would commit, without mutating anything. This keeps every
// operation atomic at the engine level: nothing changes until the journal
// append succeeds.
package ledger

import (
	"strconv"

	"github.com/louisbranch/chainaccount/internal/event"
	apperrors "github.com/louisbranch/chainaccount/internal/platform/errors"
)

// Static currency metadata. Decimals is descriptive only; all arithmetic is
// in indivisible minor units.
const (
	Name     = "ChainAccount-EUR"
	Symbol   = "EUR"
	Decimals = 2
)

type allowanceKey struct {
	owner   string
	spender string
}

// State holds the account balance table, the allowance table, and the
// total-supply counter.
type State struct {
	balances   map[string]int64
	allowances map[allowanceKey]int64
	supply     int64
}

// NewState creates an empty ledger state.
func NewState() *State {
	return &State{
		balances:   make(map[string]int64),
		allowances: make(map[allowanceKey]int64),
	}
}

// BalanceOf returns the balance of an account. Accounts are created lazily on
// first credit; unknown accounts report zero.
func (s *State) BalanceOf(account string) int64 {
	return s.balances[account]
}

// TotalSupply returns the value currently recognized as backed on the ledger.
func (s *State) TotalSupply() int64 {
	return s.supply
}

// Allowance returns the remaining amount spender may move on owner's behalf.
func (s *State) Allowance(owner, spender string) int64 {
	return s.allowances[allowanceKey{owner: owner, spender: spender}]
}

// Accounts returns the number of balance entries, including entries that have
// returned to zero.
func (s *State) Accounts() int {
	return len(s.balances)
}

// DecideMint validates an on-chain deposit crediting target and growing
// supply. The bank-role check happens at the engine entry point.
func (s *State) DecideMint(target string, amount int64) (event.TransferPayload, error) {
	if target == "" {
		return event.TransferPayload{}, apperrors.New(apperrors.CodeInvalidArgument, "target account is required")
	}
	if amount <= 0 {
		return event.TransferPayload{}, apperrors.WithMetadata(apperrors.CodeInvalidArgument, "deposit amount must be positive", amountMetadata(amount))
	}
	return event.TransferPayload{To: target, Amount: amount}, nil
}

// DecideBurn validates a settlement burn of bank-held value. The burn is
// clamped at the bank's current balance rather than failing when over-asked.
func (s *State) DecideBurn(bank string, amount int64) (event.TransferPayload, error) {
	if amount <= 0 {
		return event.TransferPayload{}, apperrors.WithMetadata(apperrors.CodeInvalidArgument, "burn amount must be positive", amountMetadata(amount))
	}
	if held := s.balances[bank]; amount > held {
		amount = held
	}
	return event.TransferPayload{From: bank, Amount: amount}, nil
}

// DecideTransfer validates a direct transfer between two accounts.
func (s *State) DecideTransfer(from, to string, amount int64) (event.TransferPayload, error) {
	if to == "" {
		return event.TransferPayload{}, apperrors.New(apperrors.CodeInvalidArgument, "recipient account is required")
	}
	if amount <= 0 {
		return event.TransferPayload{}, apperrors.WithMetadata(apperrors.CodeInvalidArgument, "transfer amount must be positive", amountMetadata(amount))
	}
	if s.balances[from] < amount {
		return event.TransferPayload{}, apperrors.WithMetadata(apperrors.CodeInsufficientBalance, "balance below transfer amount", map[string]string{
			"account": from,
			"balance": strconv.FormatInt(s.balances[from], 10),
			"amount":  strconv.FormatInt(amount, 10),
		})
	}
	return event.TransferPayload{From: from, To: to, Amount: amount}, nil
}

// DecideApprove validates an allowance overwrite. A zero amount clears the
// allowance.
func (s *State) DecideApprove(owner, spender string, amount int64) (event.ApprovalPayload, error) {
	if spender == "" {
		return event.ApprovalPayload{}, apperrors.New(apperrors.CodeInvalidArgument, "spender account is required")
	}
	if amount < 0 {
		return event.ApprovalPayload{}, apperrors.WithMetadata(apperrors.CodeInvalidArgument, "approval amount must not be negative", amountMetadata(amount))
	}
	return event.ApprovalPayload{Owner: owner, Spender: spender, Amount: amount}, nil
}

// DecideTransferFrom validates a delegated transfer: spender moves amount
// from owner to recipient, consuming allowance.
func (s *State) DecideTransferFrom(spender, owner, to string, amount int64) (event.TransferPayload, error) {
	if to == "" {
		return event.TransferPayload{}, apperrors.New(apperrors.CodeInvalidArgument, "recipient account is required")
	}
	if amount <= 0 {
		return event.TransferPayload{}, apperrors.WithMetadata(apperrors.CodeInvalidArgument, "transfer amount must be positive", amountMetadata(amount))
	}
	key := allowanceKey{owner: owner, spender: spender}
	if s.allowances[key] < amount {
		return event.TransferPayload{}, apperrors.WithMetadata(apperrors.CodeAllowanceExceeded, "allowance below transfer amount", map[string]string{
			"owner":     owner,
			"spender":   spender,
			"allowance": strconv.FormatInt(s.allowances[key], 10),
			"amount":    strconv.FormatInt(amount, 10),
		})
	}
	if s.balances[owner] < amount {
		return event.TransferPayload{}, apperrors.WithMetadata(apperrors.CodeInsufficientBalance, "owner balance below transfer amount", map[string]string{
			"account": owner,
			"balance": strconv.FormatInt(s.balances[owner], 10),
			"amount":  strconv.FormatInt(amount, 10),
		})
	}
	return event.TransferPayload{From: owner, To: to, Spender: spender, Amount: amount}, nil
}

// Apply folds a committed ledger event into the state. Events of other
// domains are ignored.
func (s *State) Apply(ev event.Event) error {
	switch ev.Type {
	case event.TypeTransfer:
		var payload event.TransferPayload
		if err := ev.DecodePayload(&payload); err != nil {
			return err
		}
		s.applyTransfer(payload)
		return nil
	case event.TypeApproval:
		var payload event.ApprovalPayload
		if err := ev.DecodePayload(&payload); err != nil {
			return err
		}
		s.allowances[allowanceKey{owner: payload.Owner, spender: payload.Spender}] = payload.Amount
		return nil
	default:
		return nil
	}
}

func (s *State) applyTransfer(payload event.TransferPayload) {
	if payload.Spender != "" {
		key := allowanceKey{owner: payload.From, spender: payload.Spender}
		s.allowances[key] -= payload.Amount
	}
	switch {
	case payload.From == "":
		// Mint: credit target, grow supply.
		s.balances[payload.To] += payload.Amount
		s.supply += payload.Amount
	case payload.To == "":
		// Burn: debit source, shrink supply.
		s.balances[payload.From] -= payload.Amount
		s.supply -= payload.Amount
	default:
		s.balances[payload.From] -= payload.Amount
		s.balances[payload.To] += payload.Amount
	}
}

// CheckConservation verifies that every balance is non-negative and the sum
// of balances equals total supply.
func (s *State) CheckConservation() error {
	var sum int64
	for account, balance := range s.balances {
		if balance < 0 {
			return apperrors.WithMetadata(apperrors.CodeConservationViolated, "negative balance", map[string]string{
				"account": account,
				"balance": strconv.FormatInt(balance, 10),
			})
		}
		sum += balance
	}
	if sum != s.supply {
		return apperrors.WithMetadata(apperrors.CodeConservationViolated, "balance sum diverges from total supply", map[string]string{
			"sum":    strconv.FormatInt(sum, 10),
			"supply": strconv.FormatInt(s.supply, 10),
		})
	}
	return nil
}

func amountMetadata(amount int64) map[string]string {
	return map[string]string{"amount": strconv.FormatInt(amount, 10)}
}
