package provisioning

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/minipay/onboarding/internal/config"
	"github.com/minipay/onboarding/internal/documents"
	"github.com/minipay/onboarding/internal/identity"
	"github.com/minipay/onboarding/internal/logger"
	"github.com/minipay/onboarding/internal/notify"
	"github.com/minipay/onboarding/internal/partner"
	"github.com/minipay/onboarding/internal/reconcile"
)

// callLog records external calls in the order they happened.
type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, fmt.Sprintf(format, args...))
}

func (l *callLog) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

func (l *callLog) count(prefix string) int {
	n := 0
	for _, c := range l.all() {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

type recordingIdentity struct {
	*identity.MemoryProvider
	log         *callLog
	failClaims  error
	failDelete  error
	inFlight    int
	maxInFlight int
	mu          sync.Mutex
}

func (r *recordingIdentity) enter() func() {
	r.mu.Lock()
	r.inFlight++
	if r.inFlight > r.maxInFlight {
		r.maxInFlight = r.inFlight
	}
	r.mu.Unlock()
	return func() {
		r.mu.Lock()
		r.inFlight--
		r.mu.Unlock()
	}
}

func (r *recordingIdentity) CreateIdentity(ctx context.Context, email, password string) (identity.Identity, error) {
	defer r.enter()()
	r.log.add("identity.create %s", email)
	return r.MemoryProvider.CreateIdentity(ctx, email, password)
}

func (r *recordingIdentity) DeleteIdentity(ctx context.Context, id string) error {
	r.log.add("identity.delete %s", id)
	if r.failDelete != nil {
		return r.failDelete
	}
	return r.MemoryProvider.DeleteIdentity(ctx, id)
}

func (r *recordingIdentity) SetClaims(ctx context.Context, id string, claims map[string]string) error {
	defer r.enter()()
	r.log.add("identity.claims %s role=%s", id, claims["role"])
	if r.failClaims != nil {
		return r.failClaims
	}
	return r.MemoryProvider.SetClaims(ctx, id, claims)
}

type recordingStore struct {
	*documents.MemoryStore
	log        *callLog
	failCreate map[string]error
	failQuery  map[string]error
}

func (s *recordingStore) Create(ctx context.Context, collection, id string, fields map[string]interface{}) (documents.Document, error) {
	s.log.add("docs.create %s/%s", collection, id)
	if err := s.failCreate[collection]; err != nil {
		return documents.Document{}, err
	}
	return s.MemoryStore.Create(ctx, collection, id, fields)
}

func (s *recordingStore) Delete(ctx context.Context, collection, id string) error {
	s.log.add("docs.delete %s/%s", collection, id)
	return s.MemoryStore.Delete(ctx, collection, id)
}

func (s *recordingStore) Query(ctx context.Context, q documents.Query) ([]documents.Document, error) {
	if err := s.failQuery[q.Collection]; err != nil {
		return nil, err
	}
	return s.MemoryStore.Query(ctx, q)
}

type fakePartner struct {
	mu              sync.Mutex
	log             *callLog
	createDelay     time.Duration
	createCustomer  error
	createBank      error
	deleteCustomer  error
	customers       map[string]partner.CustomerRequest
	bankAccounts    map[string]string
	nextBankAccount string
}

func newFakePartner(log *callLog) *fakePartner {
	return &fakePartner{
		log:             log,
		customers:       map[string]partner.CustomerRequest{},
		bankAccounts:    map[string]string{},
		nextBankAccount: "ba_1",
	}
}

func (f *fakePartner) Name() string { return "fake" }

func (f *fakePartner) CreateCustomer(_ context.Context, req partner.CustomerRequest) (partner.Customer, error) {
	f.log.add("partner.create_customer %s", req.PrincipalID)
	time.Sleep(f.createDelay)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createCustomer != nil {
		return partner.Customer{}, f.createCustomer
	}
	id := fmt.Sprintf("cus_%d", len(f.customers)+1)
	f.customers[id] = req
	return partner.Customer{ID: id}, nil
}

func (f *fakePartner) DeleteCustomer(_ context.Context, id string) error {
	f.log.add("partner.delete_customer %s", id)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteCustomer != nil {
		return f.deleteCustomer
	}
	if _, ok := f.customers[id]; !ok {
		return partner.ErrNotFound
	}
	delete(f.customers, id)
	return nil
}

func (f *fakePartner) CreateBankAccount(_ context.Context, req partner.BankAccountRequest) (partner.BankAccount, error) {
	f.log.add("partner.create_bank_account %s", req.CustomerID)
	if f.createBank != nil {
		return partner.BankAccount{}, f.createBank
	}
	f.bankAccounts[f.nextBankAccount] = req.CustomerID
	return partner.BankAccount{ID: f.nextBankAccount, CustomerID: req.CustomerID, Last4: req.AccountNumber[len(req.AccountNumber)-4:]}, nil
}

func (f *fakePartner) DeleteBankAccount(_ context.Context, customerID, id string) error {
	f.log.add("partner.delete_bank_account %s/%s", customerID, id)
	delete(f.bankAccounts, id)
	return nil
}

type fakeNotifier struct {
	log *callLog
	err error
}

func (n *fakeNotifier) SendVerification(_ context.Context, req notify.VerificationRequest) error {
	n.log.add("notify.verification %s", req.PrincipalID)
	return n.err
}

type fakeWallets struct {
	err error
}

func (w fakeWallets) Validate(_ context.Context, address string) (string, error) {
	if w.err != nil {
		return "", w.err
	}
	return strings.TrimSpace(address), nil
}

type harness struct {
	orch     *Orchestrator
	log      *callLog
	ids      *recordingIdentity
	store    *recordingStore
	partner  *fakePartner
	notifier *fakeNotifier
	logs     *bytes.Buffer
}

func sequentialIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("U%d", n)
	}
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	log := &callLog{}
	h := &harness{
		log: log,
		ids: &recordingIdentity{
			MemoryProvider: identity.NewMemoryProvider(identity.WithIDGenerator(sequentialIDs())),
			log:            log,
		},
		store: &recordingStore{
			MemoryStore: documents.NewMemoryStore(),
			log:         log,
			failCreate:  map[string]error{},
			failQuery:   map[string]error{},
		},
		partner:  newFakePartner(log),
		notifier: &fakeNotifier{log: log},
		logs:     &bytes.Buffer{},
	}

	cfg := config.OnboardingConfig{OrphanMinAge: config.Duration{Duration: time.Millisecond}}
	cfg.Collections.ApplyDefaults()
	rec := reconcile.NewReconciler(h.store, cfg.Collections, reconcile.NewBankLinkingPolicy(nil), nil)
	h.orch = New(cfg, Deps{
		Identity:   h.ids,
		Documents:  h.store,
		Partner:    h.partner,
		Notifier:   h.notifier,
		Wallets:    fakeWallets{},
		Reconciler: rec,
	})
	return h
}

// ctx returns a context carrying a logger that writes JSON into h.logs.
func (h *harness) ctx() context.Context {
	l := zerolog.New(h.logs)
	return logger.WithContext(context.Background(), l)
}

// events counts log lines whose message equals msg.
func (h *harness) events(msg string) int {
	return strings.Count(h.logs.String(), `"message":"`+msg+`"`)
}

func ambassadorFields() map[string]string {
	return map[string]string{
		"email":      "a@b.com",
		"password":   "Str0ng!",
		"firstName":  "A",
		"lastName":   "B",
		"tgUsername": "@ab",
		"phone":      "+100",
		"country":    "Kenya",
	}
}

func customerFields(email, country string) map[string]string {
	return map[string]string{
		"email":     email,
		"password":  "pass123",
		"firstName": "Carla",
		"lastName":  "Diaz",
		"phone":     "+58 412-555-0101",
		"country":   country,
	}
}
