package ledger

import (
	"errors"
	"testing"
)

func TestTransfer_MovesBalance(t *testing.T) {
	l := New()
	l.Mint("TOK", "alice", 100)

	if err := l.Transfer("TOK", "alice", "bob", 40); err != nil {
		t.Fatalf("Transfer failed: %v", err)
	}

	if got := l.Balance("TOK", "alice"); got != 60 {
		t.Errorf("alice balance = %d, want 60", got)
	}
	if got := l.Balance("TOK", "bob"); got != 40 {
		t.Errorf("bob balance = %d, want 40", got)
	}
}

func TestTransfer_InsufficientFunds(t *testing.T) {
	l := New()
	l.Mint("TOK", "alice", 10)

	err := l.Transfer("TOK", "alice", "bob", 11)
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}

	// Failed transfer must change nothing.
	if got := l.Balance("TOK", "alice"); got != 10 {
		t.Errorf("alice balance = %d, want 10", got)
	}
	if got := l.Balance("TOK", "bob"); got != 0 {
		t.Errorf("bob balance = %d, want 0", got)
	}
}

func TestTransfer_ZeroAmount(t *testing.T) {
	l := New()
	if err := l.Transfer("TOK", "a", "b", 0); !errors.Is(err, ErrZeroAmount) {
		t.Fatalf("expected ErrZeroAmount, got %v", err)
	}
}

func TestBalance_UnknownAccountIsZero(t *testing.T) {
	l := New()
	if got := l.Balance("TOK", "nobody"); got != 0 {
		t.Errorf("balance = %d, want 0", got)
	}
}

func TestSnapshotRestore(t *testing.T) {
	l := New()
	l.Mint("TOK", "alice", 100)

	snap := l.Snapshot()

	if err := l.Transfer("TOK", "alice", "bob", 70); err != nil {
		t.Fatalf("Transfer failed: %v", err)
	}
	l.Mint("OTHER", "carol", 5)

	l.Restore(snap)

	if got := l.Balance("TOK", "alice"); got != 100 {
		t.Errorf("alice balance after restore = %d, want 100", got)
	}
	if got := l.Balance("TOK", "bob"); got != 0 {
		t.Errorf("bob balance after restore = %d, want 0", got)
	}
	if got := l.Balance("OTHER", "carol"); got != 0 {
		t.Errorf("carol balance after restore = %d, want 0", got)
	}
}

func TestSnapshot_IsolatedFromLaterWrites(t *testing.T) {
	l := New()
	l.Mint("TOK", "alice", 50)

	snap := l.Snapshot()
	l.Mint("TOK", "alice", 50)

	l.Restore(snap)
	if got := l.Balance("TOK", "alice"); got != 50 {
		t.Errorf("alice balance = %d, want 50", got)
	}
}
