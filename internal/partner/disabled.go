package partner

import "context"

// DisabledClient rejects every call with ErrDisabled.
type DisabledClient struct{}

func (DisabledClient) CreateCustomer(context.Context, CustomerRequest) (Customer, error) {
	return Customer{}, ErrDisabled
}

func (DisabledClient) DeleteCustomer(context.Context, string) error { return ErrDisabled }

func (DisabledClient) CreateBankAccount(context.Context, BankAccountRequest) (BankAccount, error) {
	return BankAccount{}, ErrDisabled
}

func (DisabledClient) DeleteBankAccount(context.Context, string, string) error { return ErrDisabled }

func (DisabledClient) Name() string { return "disabled" }
