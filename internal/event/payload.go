package event

// TransferPayload captures the payload for ledger.transfer events.
// From is empty for mints and To is empty for burns. Spender is set when
// the movement was a delegated transfer and allowance was consumed.
type TransferPayload struct {
	From    string `json:"from,omitempty"`
	To      string `json:"to,omitempty"`
	Spender string `json:"spender,omitempty"`
	Amount  int64  `json:"amount"`
}

// ApprovalPayload captures the payload for ledger.approval events.
type ApprovalPayload struct {
	Owner   string `json:"owner"`
	Spender string `json:"spender"`
	Amount  int64  `json:"amount"`
}

// ProposedEscrowPayload captures the payload for escrow.proposed events.
type ProposedEscrowPayload struct {
	ProposalID  uint64 `json:"proposal_id"`
	Proposer    string `json:"proposer"`
	Depositor   string `json:"depositor"`
	Beneficiary string `json:"beneficiary"`
	Arbiter     string `json:"arbiter"`
	Amount      int64  `json:"amount"`
}

// ConsentPayload captures the payload for escrow.consented and
// escrow.consent_withdrawn events.
type ConsentPayload struct {
	ProposalID uint64 `json:"proposal_id"`
	Party      string `json:"party"`
}

// AllConsentedPayload captures the payload for escrow.all_consented events.
type AllConsentedPayload struct {
	ProposalID uint64 `json:"proposal_id"`
}

// ProposalWithdrawnPayload captures the payload for escrow.proposal_withdrawn events.
type ProposalWithdrawnPayload struct {
	ProposalID uint64 `json:"proposal_id"`
	Proposer   string `json:"proposer"`
}

// DepositedInEscrowPayload captures the payload for escrow.deposited events.
// Amount is the amount actually transferred, which may be less than the
// amount offered when the funding tolerance trims a small excess.
type DepositedInEscrowPayload struct {
	ProposalID uint64 `json:"proposal_id"`
	Depositor  string `json:"depositor"`
	Amount     int64  `json:"amount"`
}

// FullyFundedPayload captures the payload for escrow.fully_funded events.
type FullyFundedPayload struct {
	ProposalID uint64 `json:"proposal_id"`
	Amount     int64  `json:"amount"`
}

// ExecutedPayload captures the payload for escrow.executed events.
type ExecutedPayload struct {
	ProposalID    uint64 `json:"proposal_id"`
	ReleaseAmount int64  `json:"release_amount"`
	RefundAmount  int64  `json:"refund_amount"`
}
