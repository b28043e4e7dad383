package provisioning

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/minipay/onboarding/internal/authz"
	"github.com/minipay/onboarding/internal/documents"
	apierrors "github.com/minipay/onboarding/internal/errors"
	"github.com/minipay/onboarding/internal/partner"
	"github.com/minipay/onboarding/internal/wallet"
)

func provisionCustomer(t *testing.T, h *harness, country string) string {
	t.Helper()
	res, err := h.orch.Provision(h.ctx(), Request{Role: "customer", Fields: customerFields("c@d.com", country)}, authz.Anonymous())
	if err != nil {
		t.Fatalf("Provision customer: %v", err)
	}
	return res.PrincipalID
}

func customerAccountRequest() CustomerAccountRequest {
	return CustomerAccountRequest{
		DocumentType:   "national_id",
		DocumentNumber: "V-12345678",
		AddressLine1:   "Av. Libertador 1",
		City:           "Caracas",
	}
}

func bankAccountRequest() BankAccountLinkRequest {
	return BankAccountLinkRequest{
		HolderName:    "Carla Diaz",
		AccountNumber: "0102 0000 1234 5678",
		AccountType:   "checking",
		Currency:      "usd",
	}
}

func TestCreateCustomerAccountRequiresBankAccountInVenezuela(t *testing.T) {
	h := newHarness(t)
	id := provisionCustomer(t, h, "Venezuela")

	res, err := h.orch.CreateCustomerAccount(h.ctx(), id, customerAccountRequest(), authz.NewCaller(id))
	if err != nil {
		t.Fatalf("CreateCustomerAccount: %v", err)
	}
	if res.CustomerID != "cus_1" || !res.BankAccountRequired {
		t.Errorf("result = %+v", res)
	}
	if !res.Onboarding.HasCustomerAccount || res.Onboarding.HasBankAccount || res.Onboarding.Stale {
		t.Errorf("onboarding = %+v", res.Onboarding)
	}
	if got := h.partner.customers["cus_1"]; got.Country != "Venezuela" || got.Email != "c@d.com" {
		t.Errorf("partner request = %+v", got)
	}

	doc, _ := h.store.Get(context.Background(), "users", id)
	if !doc.Bool("hasCustomerAccount") {
		t.Error("profile cache not refreshed")
	}

	_, err = h.orch.CreateCustomerAccount(h.ctx(), id, customerAccountRequest(), authz.NewCaller(id))
	if apierrors.CodeOf(err) != apierrors.ErrCodeAlreadyExists {
		t.Errorf("second create code = %q, want already_exists", apierrors.CodeOf(err))
	}
}

func TestCreateCustomerAccountConcurrentCallsCreateOneCustomer(t *testing.T) {
	h := newHarness(t)
	id := provisionCustomer(t, h, "Kenya")
	h.partner.createDelay = 20 * time.Millisecond

	const callers = 4
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = h.orch.CreateCustomerAccount(context.Background(), id, customerAccountRequest(), authz.NewCaller(id))
		}(i)
	}
	wg.Wait()

	successes := 0
	for _, err := range errs {
		switch {
		case err == nil:
			successes++
		case apierrors.CodeOf(err) != apierrors.ErrCodeAlreadyExists:
			t.Errorf("losing call code = %q, want already_exists", apierrors.CodeOf(err))
		}
	}
	if successes != 1 {
		t.Errorf("successes = %d, want 1", successes)
	}
	if n := h.store.Count("customers"); n != 1 {
		t.Errorf("customer records = %d, want 1", n)
	}
	if n := h.log.count("partner.create_customer"); n != 1 {
		t.Errorf("partner customers created = %d, want 1", n)
	}
}

func TestCreateCustomerAccountPartnerValidation(t *testing.T) {
	h := newHarness(t)
	id := provisionCustomer(t, h, "Kenya")
	h.partner.createCustomer = &partner.ValidationError{StatusCode: 422, Message: "document number is invalid", Field: "documentNumber"}

	_, err := h.orch.CreateCustomerAccount(h.ctx(), id, customerAccountRequest(), authz.NewCaller(id))
	apiErr := apierrors.As(err)
	if apiErr.Code != apierrors.ErrCodeInvalidArgument || apiErr.Message != "document number is invalid" {
		t.Fatalf("error = %+v", apiErr)
	}
	if h.store.Count("customers") != 0 {
		t.Error("customer record written after partner rejection")
	}
}

func TestCreateCustomerAccountRejectedPartnerKeyIsInternal(t *testing.T) {
	h := newHarness(t)
	id := provisionCustomer(t, h, "Kenya")
	h.partner.createCustomer = partner.ErrCredentialsRejected

	_, err := h.orch.CreateCustomerAccount(h.ctx(), id, customerAccountRequest(), authz.NewCaller(id))
	if apierrors.CodeOf(err) != apierrors.ErrCodeInternalError {
		t.Fatalf("code = %q, want internal_error", apierrors.CodeOf(err))
	}
	if h.store.Count("customerClaims") != 0 {
		t.Error("customer claim left after failure")
	}
}

func TestCreateCustomerAccountCompensatesPartnerCustomer(t *testing.T) {
	h := newHarness(t)
	id := provisionCustomer(t, h, "Kenya")
	h.store.failCreate["customers"] = errors.New("write conflict")

	_, err := h.orch.CreateCustomerAccount(h.ctx(), id, customerAccountRequest(), authz.NewCaller(id))
	if apierrors.CodeOf(err) != apierrors.ErrCodeInternalError {
		t.Fatalf("code = %q", apierrors.CodeOf(err))
	}
	if h.log.count("partner.delete_customer cus_1") != 1 {
		t.Errorf("partner customer not deleted: %v", h.log.all())
	}
	if len(h.partner.customers) != 0 {
		t.Error("partner customer left behind")
	}
}

func TestCreateCustomerAccountPreconditions(t *testing.T) {
	h := newHarness(t)
	id := provisionCustomer(t, h, "Kenya")

	if _, err := h.orch.CreateCustomerAccount(h.ctx(), id, customerAccountRequest(), authz.NewCaller("U99")); apierrors.CodeOf(err) != apierrors.ErrCodePermissionDenied {
		t.Errorf("other caller code = %q", apierrors.CodeOf(err))
	}
	if _, err := h.orch.CreateCustomerAccount(h.ctx(), "U99", customerAccountRequest(), authz.Operator()); apierrors.CodeOf(err) != apierrors.ErrCodeNotFound {
		t.Errorf("missing principal code = %q", apierrors.CodeOf(err))
	}
	_, err := h.orch.CreateCustomerAccount(h.ctx(), id, CustomerAccountRequest{}, authz.NewCaller(id))
	if apierrors.CodeOf(err) != apierrors.ErrCodeInvalidArgument {
		t.Fatalf("empty request code = %q", apierrors.CodeOf(err))
	}
	fields, _ := apierrors.As(err).Details["fields"].([]FieldError)
	if len(fields) != 4 {
		t.Errorf("field errors = %v, want 4", fields)
	}
	if h.log.count("partner.") != 0 {
		t.Error("partner called for rejected requests")
	}
}

func TestCreateCustomerAccountStaleOnboarding(t *testing.T) {
	h := newHarness(t)
	id := provisionCustomer(t, h, "Venezuela")
	h.store.failQuery["wallets"] = errors.New("timeout")

	res, err := h.orch.CreateCustomerAccount(h.ctx(), id, customerAccountRequest(), authz.NewCaller(id))
	if err != nil {
		t.Fatalf("CreateCustomerAccount: %v", err)
	}
	if !res.Onboarding.Stale || res.Onboarding.HasWalletLinked {
		t.Errorf("onboarding = %+v, want stale and fail-closed", res.Onboarding)
	}
}

func TestLinkBankAccount(t *testing.T) {
	h := newHarness(t)
	id := provisionCustomer(t, h, "Venezuela")

	_, err := h.orch.LinkBankAccount(h.ctx(), id, bankAccountRequest(), authz.NewCaller(id))
	if apierrors.CodeOf(err) != apierrors.ErrCodeFailedPrecondition {
		t.Fatalf("without customer code = %q", apierrors.CodeOf(err))
	}

	if _, err := h.orch.CreateCustomerAccount(h.ctx(), id, customerAccountRequest(), authz.NewCaller(id)); err != nil {
		t.Fatalf("CreateCustomerAccount: %v", err)
	}
	res, err := h.orch.LinkBankAccount(h.ctx(), id, bankAccountRequest(), authz.NewCaller(id))
	if err != nil {
		t.Fatalf("LinkBankAccount: %v", err)
	}
	if res.BankAccountID != "ba_1" || res.Last4 != "5678" {
		t.Errorf("result = %+v", res)
	}
	if !res.Onboarding.HasBankAccount {
		t.Errorf("onboarding = %+v", res.Onboarding)
	}
	doc, err := h.store.Get(context.Background(), "bankAccounts", "ba_1")
	if err != nil {
		t.Fatalf("bank account record: %v", err)
	}
	if doc.String("customerId") != "cus_1" || doc.String("currency") != "USD" {
		t.Errorf("record = %v", doc.Fields)
	}
}

func TestLinkBankAccountCompensates(t *testing.T) {
	h := newHarness(t)
	id := provisionCustomer(t, h, "Venezuela")
	if _, err := h.orch.CreateCustomerAccount(h.ctx(), id, customerAccountRequest(), authz.NewCaller(id)); err != nil {
		t.Fatalf("CreateCustomerAccount: %v", err)
	}
	h.store.failCreate["bankAccounts"] = errors.New("write failed")

	if _, err := h.orch.LinkBankAccount(h.ctx(), id, bankAccountRequest(), authz.NewCaller(id)); err == nil {
		t.Fatal("expected error")
	}
	if h.log.count("partner.delete_bank_account cus_1/ba_1") != 1 {
		t.Errorf("bank account not removed at partner: %v", h.log.all())
	}
}

func TestLinkWallet(t *testing.T) {
	h := newHarness(t)
	id := provisionCustomer(t, h, "Kenya")
	addr := "So11111111111111111111111111111111111111112"

	res, err := h.orch.LinkWallet(h.ctx(), id, addr, authz.NewCaller(id))
	if err != nil {
		t.Fatalf("LinkWallet: %v", err)
	}
	if res.Address != addr || !res.Onboarding.HasWalletLinked {
		t.Errorf("result = %+v", res)
	}

	_, err = h.orch.LinkWallet(h.ctx(), id, addr, authz.NewCaller(id))
	if apierrors.CodeOf(err) != apierrors.ErrCodeAlreadyExists {
		t.Errorf("second link code = %q, want already_exists", apierrors.CodeOf(err))
	}
}

func TestLinkWalletInvalidAddress(t *testing.T) {
	h := newHarness(t)
	id := provisionCustomer(t, h, "Kenya")
	h.orch.wallets = fakeWallets{err: wallet.ErrInvalidAddress}

	_, err := h.orch.LinkWallet(h.ctx(), id, "nope", authz.NewCaller(id))
	if apierrors.CodeOf(err) != apierrors.ErrCodeInvalidArgument {
		t.Fatalf("code = %q", apierrors.CodeOf(err))
	}
	if h.store.Count("wallets") != 0 {
		t.Error("wallet written for invalid address")
	}
}

func TestListAndDeleteOrphans(t *testing.T) {
	h := newHarness(t)
	h.store.failCreate["staffs"] = errors.New("store down")
	h.ids.failDelete = errors.New("identity provider down")

	if _, err := h.orch.Provision(h.ctx(), Request{Role: "ambassador", Fields: ambassadorFields()}, authz.Anonymous()); err == nil {
		t.Fatal("expected provisioning failure")
	}
	delete(h.store.failCreate, "staffs")
	h.ids.failDelete = nil

	fields := ambassadorFields()
	fields["email"] = "healthy@b.com"
	if _, err := h.orch.Provision(h.ctx(), Request{Role: "ambassador", Fields: fields}, authz.Anonymous()); err != nil {
		t.Fatalf("Provision: %v", err)
	}
	time.Sleep(2 * time.Millisecond)

	orphans, err := h.orch.ListOrphans(context.Background(), OrphanQuery{MinAge: time.Millisecond})
	if err != nil {
		t.Fatalf("ListOrphans: %v", err)
	}
	if len(orphans) != 1 || orphans[0].ID != "U1" || orphans[0].Email != "a@b.com" {
		t.Fatalf("orphans = %+v", orphans)
	}

	if err := h.orch.DeleteOrphan(context.Background(), "U2"); apierrors.CodeOf(err) != apierrors.ErrCodeFailedPrecondition {
		t.Errorf("deleting a healthy identity: code = %q", apierrors.CodeOf(err))
	}
	if err := h.orch.DeleteOrphan(context.Background(), "U1"); err != nil {
		t.Fatalf("DeleteOrphan: %v", err)
	}
	if _, err := h.store.Get(context.Background(), "staffs", "U2"); errors.Is(err, documents.ErrNotFound) {
		t.Error("healthy profile removed")
	}
	orphans, _ = h.orch.ListOrphans(context.Background(), OrphanQuery{MinAge: time.Millisecond})
	if len(orphans) != 0 {
		t.Errorf("orphans after delete = %+v", orphans)
	}
}

func TestDeleteOrphanRefusesRecentIdentity(t *testing.T) {
	h := newHarness(t)
	h.orch.orphanAge = time.Hour
	young, err := h.ids.CreateIdentity(context.Background(), "young@b.com", "pass123")
	if err != nil {
		t.Fatalf("CreateIdentity: %v", err)
	}

	err = h.orch.DeleteOrphan(context.Background(), young.ID)
	if apierrors.CodeOf(err) != apierrors.ErrCodeFailedPrecondition {
		t.Fatalf("code = %q, want failed_precondition", apierrors.CodeOf(err))
	}
	if _, err := h.ids.GetIdentity(context.Background(), young.ID); err != nil {
		t.Errorf("recent identity deleted: %v", err)
	}
	if err := h.orch.DeleteOrphan(context.Background(), "missing"); apierrors.CodeOf(err) != apierrors.ErrCodeNotFound {
		t.Errorf("missing identity code = %q, want not_found", apierrors.CodeOf(err))
	}
}
