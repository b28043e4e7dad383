package wallet

import (
	"context"
	"errors"
	"testing"

	"github.com/gagliardetto/solana-go"
)

const wrappedSOL = "So11111111111111111111111111111111111111112"

type fakeChecker struct {
	exists bool
	err    error
	calls  int
}

func (f *fakeChecker) AccountExists(context.Context, solana.PublicKey) (bool, error) {
	f.calls++
	return f.exists, f.err
}

func TestValidateAddressFormat(t *testing.T) {
	v := &Validator{}
	tests := []struct {
		name    string
		address string
		wantErr bool
	}{
		{"valid", wrappedSOL, false},
		{"surrounding whitespace", "  " + wrappedSOL + " ", false},
		{"empty", "", true},
		{"not base58", "0OIl-not-a-wallet", true},
		{"too short", "So1111", true},
		{"zero key", "11111111111111111111111111111111", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := v.Validate(context.Background(), tt.address)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidAddress) {
					t.Errorf("err = %v, want ErrInvalidAddress", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != wrappedSOL {
				t.Errorf("address = %q, want %q", got, wrappedSOL)
			}
		})
	}
}

func TestValidateOnChain(t *testing.T) {
	missing := &fakeChecker{exists: false}
	if _, err := NewValidatorWithChecker(missing, nil).Validate(context.Background(), wrappedSOL); !errors.Is(err, ErrAccountNotFound) {
		t.Errorf("err = %v, want ErrAccountNotFound", err)
	}

	down := &fakeChecker{err: errors.New("rpc unavailable")}
	_, err := NewValidatorWithChecker(down, nil).Validate(context.Background(), wrappedSOL)
	if err == nil || errors.Is(err, ErrAccountNotFound) || errors.Is(err, ErrInvalidAddress) {
		t.Errorf("err = %v, want lookup failure", err)
	}

	present := &fakeChecker{exists: true}
	if _, err := NewValidatorWithChecker(present, nil).Validate(context.Background(), wrappedSOL); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if present.calls != 1 {
		t.Errorf("checker calls = %d, want 1", present.calls)
	}
}

func TestValidateSkipsCheckerForBadAddress(t *testing.T) {
	checker := &fakeChecker{exists: true}
	_, _ = NewValidatorWithChecker(checker, nil).Validate(context.Background(), "bogus")
	if checker.calls != 0 {
		t.Errorf("checker called %d times for invalid address", checker.calls)
	}
}
