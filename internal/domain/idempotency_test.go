// internal/domain/idempotency_test.go
package domain

import (
	"testing"
	"time"
)

func TestIdempotency_Migration_UniqueScopeKey(t *testing.T) {
	db := newDomainDB(t)
	if err := db.AutoMigrate(&Idempotency{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	m := db.Migrator()
	if !m.HasIndex(&Idempotency{}, "ux_user_scope_key") {
		t.Fatal("expected composite index ux_user_scope_key to exist")
	}

	now := time.Now().UTC()
	rec := &Idempotency{
		ID: "id-1", UserID: "u1", Scope: "FI-01-01", Key: "k1",
		Status: 200, Body: []byte(`{"status":"cho_truong_ca"}`),
		CreatedAt: now, ExpiresAt: now.Add(time.Hour),
	}
	if err := db.Create(rec).Error; err != nil {
		t.Fatalf("insert valid: %v", err)
	}
	var got Idempotency
	if err := db.First(&got, "id = ?", "id-1").Error; err != nil {
		t.Fatalf("readback: %v", err)
	}
	if got.Scope != "FI-01-01" || string(got.Body) != `{"status":"cho_truong_ca"}` || got.Status != 200 {
		t.Fatalf("unexpected row: %+v", got)
	}

	dup := &Idempotency{
		ID: "id-2", UserID: "u1", Scope: "FI-01-01", Key: "k1",
		Status: 409, Body: []byte(`{}`), CreatedAt: now, ExpiresAt: now.Add(time.Hour),
	}
	if err := db.Create(dup).Error; err == nil {
		t.Fatal("expected UNIQUE constraint violation on (user_id, scope, key)")
	}

	other := &Idempotency{
		ID: "id-3", UserID: "u1", Scope: "FI-01-02", Key: "k1",
		Status: 200, Body: []byte(`{}`), CreatedAt: now, ExpiresAt: now.Add(time.Hour),
	}
	if err := db.Create(other).Error; err != nil {
		t.Fatalf("same key on another scope must be allowed: %v", err)
	}
}
