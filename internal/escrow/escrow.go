// Package escrow owns escrow proposals and their consent, funding, and
// execution lifecycle.
//
// The registry never touches balances: funding and execution decisions report
// how much value must move, and the engine routes those movements through the
// ledger's own operations. Like the ledger, the registry mutates state only
// by folding committed journal events.
package escrow

import (
	"strconv"

	"github.com/louisbranch/chainaccount/internal/event"
	apperrors "github.com/louisbranch/chainaccount/internal/platform/errors"
)

// toleranceDivisor caps the accepted funding overshoot at 1/20th (5%) of the
// proposal amount, boundary inclusive.
const toleranceDivisor = 20

// Role identifies which escrow party an account holds on a proposal.
type Role int

const (
	// RoleNone marks an account with no party role on the proposal.
	RoleNone Role = iota
	// RoleProposer created the proposal and may withdraw it before funding.
	RoleProposer
	// RoleDepositor funds the escrow.
	RoleDepositor
	// RoleBeneficiary receives released funds and must consent.
	RoleBeneficiary
	// RoleArbiter directs execution and must consent.
	RoleArbiter
)

// Proposal describes one conditional, multi-party-gated transfer.
type Proposal struct {
	ID            uint64
	Proposer      string
	Depositor     string
	Beneficiary   string
	Arbiter       string
	Amount        int64
	HeldInDeposit int64
	Status        Status

	beneficiaryConsented bool
	arbiterConsented     bool
}

// Remaining returns the amount still needed to reach the target.
func (p Proposal) Remaining() int64 {
	return p.Amount - p.HeldInDeposit
}

// Consents returns the required parties that have consented, beneficiary
// first.
func (p Proposal) Consents() []string {
	parties := make([]string, 0, 2)
	if p.beneficiaryConsented {
		parties = append(parties, p.Beneficiary)
	}
	if p.arbiterConsented {
		parties = append(parties, p.Arbiter)
	}
	return parties
}

func (p Proposal) allConsented() bool {
	return p.beneficiaryConsented && p.arbiterConsented
}

// roleOf classifies the caller against the proposal's parties. The first
// matching role wins when one account holds several parties, checked in
// proposer, depositor, beneficiary, arbiter order.
func (p Proposal) roleOf(account string) Role {
	switch account {
	case p.Proposer:
		return RoleProposer
	case p.Depositor:
		return RoleDepositor
	case p.Beneficiary:
		return RoleBeneficiary
	case p.Arbiter:
		return RoleArbiter
	default:
		return RoleNone
	}
}

// Registry holds the proposal table. Proposal ids are assigned sequentially
// starting at 0 and never reused.
type Registry struct {
	proposals map[uint64]*Proposal
	nextID    uint64
}

// NewRegistry creates an empty escrow registry.
func NewRegistry() *Registry {
	return &Registry{proposals: make(map[uint64]*Proposal)}
}

// Len returns the number of proposals ever created.
func (r *Registry) Len() int {
	return len(r.proposals)
}

// Get returns a copy of the proposal with the given id.
func (r *Registry) Get(id uint64) (Proposal, error) {
	p, ok := r.proposals[id]
	if !ok {
		return Proposal{}, apperrors.WithMetadata(apperrors.CodeNotFound, "escrow proposal not found", proposalMetadata(id))
	}
	return *p, nil
}

// DecidePropose validates a new proposal and returns its creation payload.
// The id it carries is the next sequential id; the fold assigns it for real.
func (r *Registry) DecidePropose(proposer, depositor, beneficiary, arbiter string, amount int64) (event.ProposedEscrowPayload, error) {
	if proposer == "" || depositor == "" || beneficiary == "" || arbiter == "" {
		return event.ProposedEscrowPayload{}, apperrors.New(apperrors.CodeInvalidArgument, "proposer, depositor, beneficiary and arbiter accounts are required")
	}
	if amount <= 0 {
		return event.ProposedEscrowPayload{}, apperrors.WithMetadata(apperrors.CodeInvalidArgument, "escrow amount must be positive", map[string]string{
			"amount": strconv.FormatInt(amount, 10),
		})
	}
	return event.ProposedEscrowPayload{
		ProposalID:  r.nextID,
		Proposer:    proposer,
		Depositor:   depositor,
		Beneficiary: beneficiary,
		Arbiter:     arbiter,
		Amount:      amount,
	}, nil
}

// DecideConsent validates a consent by a required party. Consent is
// idempotent: re-consenting records the event again without completing the
// consent set twice. The returned completes flag is true exactly when this
// consent transitions the proposal to Approved.
func (r *Registry) DecideConsent(caller string, id uint64) (payload event.ConsentPayload, completes bool, err error) {
	p, ok := r.proposals[id]
	if !ok {
		return event.ConsentPayload{}, false, apperrors.WithMetadata(apperrors.CodeNotFound, "escrow proposal not found", proposalMetadata(id))
	}
	switch p.roleOf(caller) {
	case RoleBeneficiary, RoleArbiter:
	case RoleProposer, RoleDepositor, RoleNone:
		return event.ConsentPayload{}, false, apperrors.WithMetadata(apperrors.CodeUnauthorized, "only the beneficiary or arbiter may consent", map[string]string{
			"caller":      caller,
			"proposal_id": strconv.FormatUint(id, 10),
		})
	}
	if p.Status != StatusProposed {
		return event.ConsentPayload{}, false, statusError(p, "proposal is not open for consent")
	}

	after := *p
	switch p.roleOf(caller) {
	case RoleBeneficiary:
		after.beneficiaryConsented = true
	case RoleArbiter:
		after.arbiterConsented = true
	}
	completes = !p.allConsented() && after.allConsented()
	return event.ConsentPayload{ProposalID: id, Party: caller}, completes, nil
}

// DecideWithdrawConsent validates a consent withdrawal by a party that
// previously consented.
func (r *Registry) DecideWithdrawConsent(caller string, id uint64) (event.ConsentPayload, error) {
	p, ok := r.proposals[id]
	if !ok {
		return event.ConsentPayload{}, apperrors.WithMetadata(apperrors.CodeNotFound, "escrow proposal not found", proposalMetadata(id))
	}
	var consented bool
	switch p.roleOf(caller) {
	case RoleBeneficiary:
		consented = p.beneficiaryConsented
	case RoleArbiter:
		consented = p.arbiterConsented
	case RoleProposer, RoleDepositor, RoleNone:
		return event.ConsentPayload{}, apperrors.WithMetadata(apperrors.CodeUnauthorized, "only the beneficiary or arbiter may withdraw consent", map[string]string{
			"caller":      caller,
			"proposal_id": strconv.FormatUint(id, 10),
		})
	}
	if p.Status != StatusProposed && p.Status != StatusApproved {
		return event.ConsentPayload{}, statusError(p, "consent can no longer be withdrawn")
	}
	if !consented {
		return event.ConsentPayload{}, statusError(p, "caller has not consented")
	}
	return event.ConsentPayload{ProposalID: id, Party: caller}, nil
}

// DecideWithdrawProposal validates a proposer-initiated withdrawal, legal
// only before any funds are held.
func (r *Registry) DecideWithdrawProposal(caller string, id uint64) (event.ProposalWithdrawnPayload, error) {
	p, ok := r.proposals[id]
	if !ok {
		return event.ProposalWithdrawnPayload{}, apperrors.WithMetadata(apperrors.CodeNotFound, "escrow proposal not found", proposalMetadata(id))
	}
	if p.roleOf(caller) != RoleProposer {
		return event.ProposalWithdrawnPayload{}, apperrors.WithMetadata(apperrors.CodeUnauthorized, "only the proposer may withdraw the proposal", map[string]string{
			"caller":      caller,
			"proposal_id": strconv.FormatUint(id, 10),
		})
	}
	if p.Status != StatusProposed && p.Status != StatusApproved {
		return event.ProposalWithdrawnPayload{}, statusError(p, "proposal can no longer be withdrawn")
	}
	if p.HeldInDeposit != 0 {
		return event.ProposalWithdrawnPayload{}, statusError(p, "proposal already holds deposits")
	}
	return event.ProposalWithdrawnPayload{ProposalID: id, Proposer: caller}, nil
}

// DecideDeposit evaluates the funding-tolerance policy for a deposit offer
// and returns the amount that must actually be pulled from the depositor.
// Offers above the remaining need are trimmed to it when the excess stays
// within 5% of the proposal amount (boundary inclusive) and rejected
// outright beyond that.
func (r *Registry) DecideDeposit(depositor string, amount int64, id uint64) (transfer int64, completes bool, err error) {
	p, ok := r.proposals[id]
	if !ok {
		return 0, false, apperrors.WithMetadata(apperrors.CodeNotFound, "escrow proposal not found", proposalMetadata(id))
	}
	if p.roleOf(depositor) != RoleDepositor {
		return 0, false, apperrors.WithMetadata(apperrors.CodeUnauthorized, "only the named depositor may fund the escrow", map[string]string{
			"depositor":   depositor,
			"proposal_id": strconv.FormatUint(id, 10),
		})
	}
	if amount <= 0 {
		return 0, false, apperrors.WithMetadata(apperrors.CodeInvalidArgument, "deposit amount must be positive", map[string]string{
			"amount": strconv.FormatInt(amount, 10),
		})
	}
	if p.Status != StatusApproved && p.Status != StatusFullyFunded {
		return 0, false, statusError(p, "proposal is not open for funding")
	}
	remaining := p.Remaining()
	if remaining == 0 {
		return 0, false, statusError(p, "proposal is already fully funded")
	}

	transfer = amount
	if amount > remaining {
		excess := amount - remaining
		if excess*toleranceDivisor > p.Amount {
			return 0, false, apperrors.WithMetadata(apperrors.CodeOverfundedDeposit, "deposit exceeds escrow amount by more than the tolerance", map[string]string{
				"proposal_id": strconv.FormatUint(id, 10),
				"amount":      strconv.FormatInt(amount, 10),
				"remaining":   strconv.FormatInt(remaining, 10),
			})
		}
		// The tolerated surplus is never pulled from the depositor at all.
		transfer = remaining
	}
	return transfer, p.HeldInDeposit+transfer == p.Amount, nil
}

// DecideExecute validates the arbiter-directed release of held funds and
// returns the resulting split.
func (r *Registry) DecideExecute(caller string, id uint64, releaseAmount int64) (event.ExecutedPayload, error) {
	p, ok := r.proposals[id]
	if !ok {
		return event.ExecutedPayload{}, apperrors.WithMetadata(apperrors.CodeNotFound, "escrow proposal not found", proposalMetadata(id))
	}
	if p.roleOf(caller) != RoleArbiter {
		return event.ExecutedPayload{}, apperrors.WithMetadata(apperrors.CodeUnauthorized, "only the arbiter may execute the escrow", map[string]string{
			"caller":      caller,
			"proposal_id": strconv.FormatUint(id, 10),
		})
	}
	if p.Status != StatusFullyFunded {
		return event.ExecutedPayload{}, statusError(p, "proposal is not fully funded")
	}
	if releaseAmount < 0 || releaseAmount > p.HeldInDeposit {
		return event.ExecutedPayload{}, apperrors.WithMetadata(apperrors.CodeInvalidArgument, "release amount must be between zero and the held deposit", map[string]string{
			"proposal_id": strconv.FormatUint(id, 10),
			"release":     strconv.FormatInt(releaseAmount, 10),
			"held":        strconv.FormatInt(p.HeldInDeposit, 10),
		})
	}
	return event.ExecutedPayload{
		ProposalID:    id,
		ReleaseAmount: releaseAmount,
		RefundAmount:  p.HeldInDeposit - releaseAmount,
	}, nil
}

// Apply folds a committed escrow event into the registry. Events of other
// domains are ignored.
func (r *Registry) Apply(ev event.Event) error {
	switch ev.Type {
	case event.TypeProposedEscrow:
		var payload event.ProposedEscrowPayload
		if err := ev.DecodePayload(&payload); err != nil {
			return err
		}
		r.proposals[payload.ProposalID] = &Proposal{
			ID:          payload.ProposalID,
			Proposer:    payload.Proposer,
			Depositor:   payload.Depositor,
			Beneficiary: payload.Beneficiary,
			Arbiter:     payload.Arbiter,
			Amount:      payload.Amount,
			Status:      StatusProposed,
		}
		if payload.ProposalID >= r.nextID {
			r.nextID = payload.ProposalID + 1
		}
		return nil
	case event.TypeConsentToEscrow:
		return r.foldConsent(ev, true)
	case event.TypeConsentWithdrawn:
		return r.foldConsent(ev, false)
	case event.TypeAllConsented:
		var payload event.AllConsentedPayload
		if err := ev.DecodePayload(&payload); err != nil {
			return err
		}
		if p, ok := r.proposals[payload.ProposalID]; ok {
			p.Status = StatusApproved
		}
		return nil
	case event.TypeProposalWithdrawn:
		var payload event.ProposalWithdrawnPayload
		if err := ev.DecodePayload(&payload); err != nil {
			return err
		}
		if p, ok := r.proposals[payload.ProposalID]; ok {
			p.Status = StatusWithdrawn
		}
		return nil
	case event.TypeDepositedInEscrow:
		var payload event.DepositedInEscrowPayload
		if err := ev.DecodePayload(&payload); err != nil {
			return err
		}
		if p, ok := r.proposals[payload.ProposalID]; ok {
			p.HeldInDeposit += payload.Amount
		}
		return nil
	case event.TypeFullyFunded:
		var payload event.FullyFundedPayload
		if err := ev.DecodePayload(&payload); err != nil {
			return err
		}
		if p, ok := r.proposals[payload.ProposalID]; ok {
			p.Status = StatusFullyFunded
		}
		return nil
	case event.TypeExecuted:
		var payload event.ExecutedPayload
		if err := ev.DecodePayload(&payload); err != nil {
			return err
		}
		if p, ok := r.proposals[payload.ProposalID]; ok {
			p.HeldInDeposit = 0
			p.Status = StatusExecuted
		}
		return nil
	default:
		return nil
	}
}

func (r *Registry) foldConsent(ev event.Event, granted bool) error {
	var payload event.ConsentPayload
	if err := ev.DecodePayload(&payload); err != nil {
		return err
	}
	p, ok := r.proposals[payload.ProposalID]
	if !ok {
		return nil
	}
	switch p.roleOf(payload.Party) {
	case RoleBeneficiary:
		p.beneficiaryConsented = granted
	case RoleArbiter:
		p.arbiterConsented = granted
	}
	if !granted && p.Status == StatusApproved {
		p.Status = StatusProposed
	}
	return nil
}

func statusError(p *Proposal, message string) error {
	return apperrors.WithMetadata(apperrors.CodeInvalidState, message, map[string]string{
		"proposal_id": strconv.FormatUint(p.ID, 10),
		"status":      string(p.Status),
	})
}

func proposalMetadata(id uint64) map[string]string {
	return map[string]string{"proposal_id": strconv.FormatUint(id, 10)}
}
