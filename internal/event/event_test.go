package event

import "testing"

func TestNewEncodesPayload(t *testing.T) {
	ev, err := New(TypeTransfer, "acct-bank", TransferPayload{
		From:   "acct-bank",
		To:     "acct-dep",
		Amount: 30000,
	})
	if err != nil {
		t.Fatalf("new event: %v", err)
	}
	if ev.Type != TypeTransfer {
		t.Fatalf("type = %q, want %q", ev.Type, TypeTransfer)
	}
	if ev.Actor != "acct-bank" {
		t.Fatalf("actor = %q, want %q", ev.Actor, "acct-bank")
	}

	var payload TransferPayload
	if err := ev.DecodePayload(&payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.From != "acct-bank" || payload.To != "acct-dep" || payload.Amount != 30000 {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}

func TestNewRejectsEmptyType(t *testing.T) {
	if _, err := New(Type("  "), "acct", nil); err == nil {
		t.Fatal("expected error for empty event type")
	}
}

func TestTypeDomain(t *testing.T) {
	tests := []struct {
		typ  Type
		want string
	}{
		{TypeTransfer, "ledger"},
		{TypeApproval, "ledger"},
		{TypeProposedEscrow, "escrow"},
		{TypeExecuted, "escrow"},
		{Type("bare"), "bare"},
	}
	for _, tc := range tests {
		if got := tc.typ.Domain(); got != tc.want {
			t.Errorf("Domain(%s) = %q, want %q", tc.typ, got, tc.want)
		}
	}
}
