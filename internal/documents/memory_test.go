package documents

import (
	"context"
	"errors"
	"testing"
)

func TestMemoryStoreCreateAndGet(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	created, err := store.Create(ctx, "staffs", "U1", map[string]interface{}{
		"role": "ambassador",
		"kyc":  "pending",
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if created.CreatedAt.IsZero() || !created.CreatedAt.Equal(created.UpdatedAt) {
		t.Errorf("timestamps not assigned: %+v", created)
	}

	got, err := store.Get(ctx, "staffs", "U1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.String("role") != "ambassador" || got.String("kyc") != "pending" {
		t.Errorf("unexpected fields %v", got.Fields)
	}
}

func TestMemoryStoreCreateRejectsDuplicate(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	if _, err := store.Create(ctx, "users", "U1", nil); err != nil {
		t.Fatalf("first Create: %v", err)
	}
	if _, err := store.Create(ctx, "users", "U1", nil); !errors.Is(err, ErrAlreadyExists) {
		t.Errorf("second Create err = %v, want ErrAlreadyExists", err)
	}
	// Same ID in another collection is independent.
	if _, err := store.Create(ctx, "staffs", "U1", nil); err != nil {
		t.Errorf("Create in other collection: %v", err)
	}
}

func TestMemoryStoreCreateRequiresKey(t *testing.T) {
	if _, err := NewMemoryStore().Create(context.Background(), "users", "", nil); !errors.Is(err, ErrInvalidID) {
		t.Errorf("err = %v, want ErrInvalidID", err)
	}
}

func TestMemoryStoreUpdateMerges(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	_, _ = store.Create(ctx, "users", "U1", map[string]interface{}{"role": "customer", "hasBankAccount": false})

	if err := store.Update(ctx, "users", "U1", map[string]interface{}{"hasBankAccount": true}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	got, _ := store.Get(ctx, "users", "U1")
	if !got.Bool("hasBankAccount") || got.String("role") != "customer" {
		t.Errorf("merge lost data: %v", got.Fields)
	}

	if err := store.Update(ctx, "users", "missing", map[string]interface{}{"x": 1}); !errors.Is(err, ErrNotFound) {
		t.Errorf("update missing err = %v, want ErrNotFound", err)
	}
}

func TestMemoryStoreDelete(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	_, _ = store.Create(ctx, "staffs", "U1", nil)

	if err := store.Delete(ctx, "staffs", "U1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := store.Get(ctx, "staffs", "U1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after delete err = %v", err)
	}
	if err := store.Delete(ctx, "staffs", "U1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Delete err = %v, want ErrNotFound", err)
	}
}

func TestMemoryStoreQuery(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	_, _ = store.Create(ctx, "customers", "C2", map[string]interface{}{"principalId": "U1", "country": "Venezuela"})
	_, _ = store.Create(ctx, "customers", "C1", map[string]interface{}{"principalId": "U1", "country": "Kenya"})
	_, _ = store.Create(ctx, "customers", "C3", map[string]interface{}{"principalId": "U2"})

	docs, err := store.Query(ctx, Query{Collection: "customers", Filters: []Filter{Eq("principalId", "U1")}})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(docs) != 2 || docs[0].ID != "C1" || docs[1].ID != "C2" {
		t.Fatalf("unexpected result %+v", docs)
	}

	page, _ := store.Query(ctx, Query{Collection: "customers", Limit: 1, After: "C1"})
	if len(page) != 1 || page[0].ID != "C2" {
		t.Errorf("pagination returned %+v", page)
	}

	none, _ := store.Query(ctx, Query{Collection: "bankAccounts", Filters: []Filter{Eq("customerId", "C1")}})
	if len(none) != 0 {
		t.Errorf("expected empty result, got %d", len(none))
	}
}

func TestMemoryStoreQueryMatchesBoolAndNumbers(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	_, _ = store.Create(ctx, "users", "U1", map[string]interface{}{"role": "customer", "tier": 2, "active": true})

	docs, _ := store.Query(ctx, Query{Collection: "users", Filters: []Filter{Eq("tier", 2), Eq("active", true)}})
	if len(docs) != 1 {
		t.Errorf("expected typed filters to match, got %d docs", len(docs))
	}
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	_, _ = store.Create(ctx, "users", "U1", map[string]interface{}{"role": "customer"})

	got, _ := store.Get(ctx, "users", "U1")
	got.Fields["role"] = "admin"

	again, _ := store.Get(ctx, "users", "U1")
	if again.String("role") != "customer" {
		t.Error("caller mutation leaked into the store")
	}
}

func TestContainmentFilter(t *testing.T) {
	got, err := containmentFilter([]Filter{Eq("customerId", "C1")})
	if err != nil {
		t.Fatalf("containmentFilter: %v", err)
	}
	if got != `{"customerId":"C1"}` {
		t.Errorf("containment = %s", got)
	}
	empty, _ := containmentFilter(nil)
	if empty != `{}` {
		t.Errorf("empty containment = %s", empty)
	}
}
