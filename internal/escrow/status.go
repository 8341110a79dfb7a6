package escrow

import "strings"

// Status describes the escrow proposal lifecycle label.
type Status string

const (
	StatusUnspecified Status = ""
	StatusProposed    Status = "proposed"
	StatusApproved    Status = "approved"
	StatusFullyFunded Status = "fully_funded"
	StatusExecuted    Status = "executed"
	StatusWithdrawn   Status = "withdrawn"
)

// ParseStatus canonicalizes a status label.
func ParseStatus(value string) (Status, bool) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "proposed":
		return StatusProposed, true
	case "approved":
		return StatusApproved, true
	case "fully_funded", "fullyfunded":
		return StatusFullyFunded, true
	case "executed":
		return StatusExecuted, true
	case "withdrawn":
		return StatusWithdrawn, true
	default:
		return StatusUnspecified, false
	}
}

// IsTerminal reports whether no further operations are accepted for the status.
func (s Status) IsTerminal() bool {
	return s == StatusExecuted || s == StatusWithdrawn
}
