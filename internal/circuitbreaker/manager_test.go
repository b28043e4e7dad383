package circuitbreaker

import (
	"errors"
	"testing"
	"time"
)

func TestManagerTripsAfterConsecutiveFailures(t *testing.T) {
	m := NewManager(Config{
		Enabled: true,
		Services: map[ServiceType]BreakerConfig{
			ServicePartnerAPI: {
				MaxRequests:         1,
				Timeout:             time.Minute,
				ConsecutiveFailures: 2,
			},
		},
	})

	boom := errors.New("partner unavailable")
	for i := 0; i < 2; i++ {
		if _, err := m.Execute(ServicePartnerAPI, func() (interface{}, error) { return nil, boom }); !errors.Is(err, boom) {
			t.Fatalf("call %d: expected partner error, got %v", i, err)
		}
	}

	called := false
	_, err := m.Execute(ServicePartnerAPI, func() (interface{}, error) {
		called = true
		return nil, nil
	})
	if called {
		t.Error("open breaker executed the call")
	}
	if !IsOpen(err) {
		t.Errorf("expected open-state error, got %v", err)
	}
	if got := m.State(ServicePartnerAPI); got != "open" {
		t.Errorf("state = %q, want open", got)
	}
}

func TestManagerIsolatesServices(t *testing.T) {
	m := NewManager(Config{
		Enabled: true,
		Services: map[ServiceType]BreakerConfig{
			ServicePartnerAPI:    {Timeout: time.Minute, ConsecutiveFailures: 1},
			ServiceNotifications: {Timeout: time.Minute, ConsecutiveFailures: 1},
		},
	})

	_, _ = m.Execute(ServicePartnerAPI, func() (interface{}, error) { return nil, errors.New("down") })

	if _, err := m.Execute(ServiceNotifications, func() (interface{}, error) { return "ok", nil }); err != nil {
		t.Errorf("notifications breaker affected by partner failure: %v", err)
	}
}

func TestDisabledManagerPassesThrough(t *testing.T) {
	for _, m := range []*Manager{Disabled(), nil} {
		got, err := Do(m, ServiceWalletRPC, func() (string, error) { return "account", nil })
		if err != nil || got != "account" {
			t.Errorf("Do = %q, %v", got, err)
		}
		if m.State(ServiceWalletRPC) != "disabled" {
			t.Errorf("state = %q, want disabled", m.State(ServiceWalletRPC))
		}
	}
}

func TestDoReturnsTypedValue(t *testing.T) {
	m := NewManager(Config{Enabled: true, Services: map[ServiceType]BreakerConfig{ServiceWalletRPC: {}}})

	n, err := Do(m, ServiceWalletRPC, func() (int, error) { return 42, nil })
	if err != nil || n != 42 {
		t.Fatalf("Do = %d, %v", n, err)
	}

	_, err = Do(m, ServiceWalletRPC, func() (int, error) { return 0, errors.New("rpc failed") })
	if err == nil {
		t.Fatal("expected error")
	}
	if counts := m.Counts(ServiceWalletRPC); counts.TotalFailures != 1 {
		t.Errorf("failures = %d, want 1", counts.TotalFailures)
	}
}
