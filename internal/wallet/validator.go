package wallet

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/minipay/onboarding/internal/circuitbreaker"
	"github.com/minipay/onboarding/internal/config"
)

var (
	// ErrInvalidAddress is returned for strings that are not base58 public keys.
	ErrInvalidAddress = errors.New("wallet: invalid address")
	// ErrAccountNotFound is returned when on-chain verification finds no account.
	ErrAccountNotFound = errors.New("wallet: account not found on chain")
)

// AccountChecker reports whether an account exists on chain.
type AccountChecker interface {
	AccountExists(ctx context.Context, key solana.PublicKey) (bool, error)
}

// RPCChecker looks accounts up through a Solana JSON-RPC endpoint.
type RPCChecker struct {
	client *rpc.Client
}

// NewRPCChecker creates a checker for rpcURL.
func NewRPCChecker(rpcURL string) *RPCChecker {
	return &RPCChecker{client: rpc.New(rpcURL)}
}

// AccountExists implements AccountChecker.
func (c *RPCChecker) AccountExists(ctx context.Context, key solana.PublicKey) (bool, error) {
	_, err := c.client.GetAccountInfo(ctx, key)
	if errors.Is(err, rpc.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Validator normalizes wallet addresses and optionally confirms they exist.
type Validator struct {
	checker  AccountChecker
	breakers *circuitbreaker.Manager
	timeout  time.Duration
}

// NewValidator builds a validator from config. On-chain checks are only
// wired when verify_on_chain is set.
func NewValidator(cfg config.WalletConfig, breakers *circuitbreaker.Manager) *Validator {
	v := &Validator{breakers: breakers, timeout: cfg.Timeout.Duration}
	if cfg.VerifyOnChain && cfg.RPCURL != "" {
		v.checker = NewRPCChecker(cfg.RPCURL)
	}
	return v
}

// NewValidatorWithChecker builds a validator around a custom checker.
func NewValidatorWithChecker(checker AccountChecker, breakers *circuitbreaker.Manager) *Validator {
	return &Validator{checker: checker, breakers: breakers}
}

// Validate parses address and returns its canonical base58 form.
func (v *Validator) Validate(ctx context.Context, address string) (string, error) {
	key, err := solana.PublicKeyFromBase58(strings.TrimSpace(address))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	if key.IsZero() {
		return "", fmt.Errorf("%w: zero key", ErrInvalidAddress)
	}
	if v == nil || v.checker == nil {
		return key.String(), nil
	}

	if v.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, v.timeout)
		defer cancel()
	}
	exists, err := circuitbreaker.Do(v.breakers, circuitbreaker.ServiceWalletRPC, func() (bool, error) {
		return v.checker.AccountExists(ctx, key)
	})
	if err != nil {
		return "", fmt.Errorf("wallet: account lookup: %w", err)
	}
	if !exists {
		return "", ErrAccountNotFound
	}
	return key.String(), nil
}
