// Package event defines the structured events appended to the ledger journal.
//
// Every committed state transition produces exactly one batch of events.
// Events are the source of truth: engine state is rebuilt by folding the
// journal in sequence order, so payloads carry everything a fold needs.
package event

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Type identifies the type of a journal event.
type Type string

// Ledger events.
const (
	// TypeTransfer records a balance movement. An empty from marks a mint
	// (on-chain deposit), an empty to marks a settlement burn, and a
	// non-empty spender marks a delegated transfer that consumed allowance.
	TypeTransfer Type = "ledger.transfer"
	// TypeApproval records an allowance overwrite.
	TypeApproval Type = "ledger.approval"
)

// Escrow events.
const (
	// TypeProposedEscrow records the creation of an escrow proposal.
	TypeProposedEscrow Type = "escrow.proposed"
	// TypeConsentToEscrow records a required party's consent.
	TypeConsentToEscrow Type = "escrow.consented"
	// TypeConsentWithdrawn records a consent withdrawal.
	TypeConsentWithdrawn Type = "escrow.consent_withdrawn"
	// TypeAllConsented records the Proposed to Approved transition edge.
	TypeAllConsented Type = "escrow.all_consented"
	// TypeProposalWithdrawn records a proposer-initiated withdrawal.
	TypeProposalWithdrawn Type = "escrow.proposal_withdrawn"
	// TypeDepositedInEscrow records funds pulled into the escrow account.
	TypeDepositedInEscrow Type = "escrow.deposited"
	// TypeFullyFunded records the edge where held funds reach the target.
	TypeFullyFunded Type = "escrow.fully_funded"
	// TypeExecuted records the arbiter-directed release of held funds.
	TypeExecuted Type = "escrow.executed"
)

// Event represents an immutable event in the ledger journal.
type Event struct {
	// Seq is the journal sequence number (starts at 1). Assigned by the
	// journal store on append.
	Seq uint64
	// Timestamp is when the operation committed.
	Timestamp time.Time
	// Type identifies the kind of event.
	Type Type
	// Actor is the authenticated account that submitted the operation.
	Actor string
	// PayloadJSON holds event-specific data as JSON.
	PayloadJSON []byte
}

// IsValid reports whether the event type is usable.
func (t Type) IsValid() bool {
	return strings.TrimSpace(string(t)) != ""
}

// Domain returns the domain prefix of the event type ("ledger" or "escrow").
func (t Type) Domain() string {
	for i, c := range t {
		if c == '.' {
			return string(t[:i])
		}
	}
	return string(t)
}

// New builds an event of the given type with an encoded payload.
func New(typ Type, actor string, payload any) (Event, error) {
	if !typ.IsValid() {
		return Event{}, fmt.Errorf("event type is required")
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("encode %s payload: %w", typ, err)
	}
	return Event{
		Type:        typ,
		Actor:       actor,
		PayloadJSON: encoded,
	}, nil
}

// DecodePayload unmarshals the event payload into target.
func (e Event) DecodePayload(target any) error {
	if err := json.Unmarshal(e.PayloadJSON, target); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Type, err)
	}
	return nil
}
