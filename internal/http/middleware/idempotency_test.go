package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

// memStore is an in-memory record store keyed by user|scope|key.
type memStore struct {
	mu      sync.Mutex
	recs    map[string]StoredResponse
	lookups int
	failGet bool
}

func newMemStore() *memStore { return &memStore{recs: map[string]StoredResponse{}} }

func (m *memStore) lookup(_ context.Context, user, scope, key string, _ time.Time) (StoredResponse, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lookups++
	if m.failGet {
		return StoredResponse{}, false, errors.New("db down")
	}
	r, ok := m.recs[user+"|"+scope+"|"+key]
	return r, ok, nil
}

func (m *memStore) record(_ context.Context, user, scope, key string, resp StoredResponse) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs[user+"|"+scope+"|"+key] = resp
	return nil
}

func (m *memStore) scopes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for k := range m.recs {
		out = append(out, k)
	}
	return out
}

func asUser(name string) gin.HandlerFunc {
	return func(c *gin.Context) {
		setIdentity(c, Identity{Name: name, Role: "QC_MANAGER"})
		c.Next()
	}
}

func newIdemRouter(store *memStore, user string, calls *int) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	if user != "" {
		r.Use(asUser(user))
	}
	r.Use(Idempotency(IdempotencyOptions{Lookup: store.lookup, Record: store.record}))
	r.POST("/tickets/:id/approve", func(c *gin.Context) {
		*calls++
		switch c.Query("fail") {
		case "1":
			c.JSON(http.StatusServiceUnavailable, gin.H{"code": "store_failure"})
			return
		case "400":
			c.JSON(http.StatusBadRequest, gin.H{"code": "validation_failed"})
			return
		case "409":
			c.JSON(http.StatusConflict, gin.H{"code": "stale_or_unauthorized", "call": *calls})
			return
		}
		c.JSON(http.StatusOK, gin.H{"ticket_no": c.Param("id"), "call": *calls})
	})
	r.POST("/tickets/:id/reject", func(c *gin.Context) {
		*calls++
		c.JSON(http.StatusOK, gin.H{"call": *calls})
	})
	r.GET("/tickets/:id", func(c *gin.Context) {
		*calls++
		c.Status(http.StatusOK)
	})
	return r
}

func post(r http.Handler, path, key string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, path, nil)
	if key != "" {
		req.Header.Set(HeaderIdempotencyKey, key)
	}
	r.ServeHTTP(w, req)
	return w
}

func TestIdempotency_ReplaysStoredResponse(t *testing.T) {
	store := newMemStore()
	calls := 0
	r := newIdemRouter(store, "QC Boss", &calls)

	first := post(r, "/tickets/FI-01-01/approve", "k-1")
	if first.Code != http.StatusOK || first.Header().Get(HeaderIdempotencyReplayed) != "" {
		t.Fatalf("first call: %d %v", first.Code, first.Header())
	}
	second := post(r, "/tickets/fi-01-01/approve", "k-1")
	if second.Code != http.StatusOK || second.Header().Get(HeaderIdempotencyReplayed) != "true" {
		t.Fatalf("replay: %d %v", second.Code, second.Header())
	}
	if calls != 1 {
		t.Fatalf("handler ran %d times; want 1", calls)
	}
	if first.Body.String() != second.Body.String() {
		t.Fatalf("replayed body %q != %q", second.Body.String(), first.Body.String())
	}
	var body map[string]any
	if err := json.Unmarshal(second.Body.Bytes(), &body); err != nil || body["call"] != float64(1) {
		t.Fatalf("replayed body = %v (%v)", body, err)
	}
}

func TestIdempotency_ScopesByUserTargetAndAction(t *testing.T) {
	store := newMemStore()
	calls := 0
	r := newIdemRouter(store, "QC Boss", &calls)

	post(r, "/tickets/FI-01-01/approve", "k-1")
	post(r, "/tickets/FI-01-02/approve", "k-1") // other ticket
	post(r, "/tickets/FI-01-01/reject", "k-1")  // other action
	if calls != 3 {
		t.Fatalf("distinct scopes should all execute, ran %d", calls)
	}

	other := newIdemRouter(store, "Bình", &calls)
	post(other, "/tickets/FI-01-01/approve", "k-1")
	if calls != 4 {
		t.Fatalf("another user with the same key must execute, ran %d", calls)
	}
	if n := len(store.scopes()); n != 4 {
		t.Fatalf("stored %d records; want 4: %v", n, store.scopes())
	}
}

func TestIdempotency_ServerErrorsAreNotRecorded(t *testing.T) {
	store := newMemStore()
	calls := 0
	r := newIdemRouter(store, "QC Boss", &calls)

	if w := post(r, "/tickets/FI-01-01/approve?fail=1", "k-5"); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
	if w := post(r, "/tickets/FI-01-01/approve", "k-5"); w.Code != http.StatusOK || w.Header().Get(HeaderIdempotencyReplayed) != "" {
		t.Fatalf("retry after 5xx should execute: %d %v", w.Code, w.Header())
	}
	if calls != 2 {
		t.Fatalf("handler ran %d times; want 2", calls)
	}
}

func TestIdempotency_ValidationErrorsAreNotRecorded(t *testing.T) {
	store := newMemStore()
	calls := 0
	r := newIdemRouter(store, "QC Boss", &calls)

	if w := post(r, "/tickets/FI-01-01/approve?fail=400", "k-6"); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if w := post(r, "/tickets/FI-01-01/approve", "k-6"); w.Code != http.StatusOK || w.Header().Get(HeaderIdempotencyReplayed) != "" {
		t.Fatalf("corrected retry should execute: %d %v", w.Code, w.Header())
	}
	if calls != 2 {
		t.Fatalf("handler ran %d times; want 2", calls)
	}
}

func TestIdempotency_ConflictsAreReplayed(t *testing.T) {
	store := newMemStore()
	calls := 0
	r := newIdemRouter(store, "QC Boss", &calls)

	first := post(r, "/tickets/FI-01-01/approve?fail=409", "k-7")
	if first.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", first.Code)
	}
	second := post(r, "/tickets/FI-01-01/approve?fail=409", "k-7")
	if second.Code != http.StatusConflict || second.Header().Get(HeaderIdempotencyReplayed) != "true" {
		t.Fatalf("conflict should replay: %d %v", second.Code, second.Header())
	}
	if calls != 1 || first.Body.String() != second.Body.String() {
		t.Fatalf("calls=%d bodies %q vs %q", calls, first.Body.String(), second.Body.String())
	}
}

func TestReplayable(t *testing.T) {
	for status, want := range map[int]bool{
		http.StatusOK: true, http.StatusCreated: true, http.StatusConflict: true,
		http.StatusBadRequest: false, http.StatusNotFound: false, http.StatusTooManyRequests: false,
		http.StatusServiceUnavailable: false, http.StatusFound: false,
	} {
		if got := replayable(status); got != want {
			t.Fatalf("replayable(%d)=%v", status, got)
		}
	}
}

func TestIdempotency_PassThrough(t *testing.T) {
	store := newMemStore()
	calls := 0

	t.Run("no header", func(t *testing.T) {
		r := newIdemRouter(store, "QC Boss", &calls)
		post(r, "/tickets/FI-01-01/approve", "")
		post(r, "/tickets/FI-01-01/approve", "")
		if calls != 2 || store.lookups != 0 {
			t.Fatalf("calls=%d lookups=%d", calls, store.lookups)
		}
	})

	t.Run("GET ignores key", func(t *testing.T) {
		r := newIdemRouter(store, "QC Boss", &calls)
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/tickets/FI-01-01", nil)
		req.Header.Set(HeaderIdempotencyKey, "k")
		r.ServeHTTP(w, req)
		if store.lookups != 0 {
			t.Fatalf("GET should not consult the store")
		}
	})

	t.Run("anonymous caller", func(t *testing.T) {
		r := newIdemRouter(store, "", &calls)
		before := calls
		post(r, "/tickets/FI-01-01/approve", "anon")
		post(r, "/tickets/FI-01-01/approve", "anon")
		if calls-before != 2 || store.lookups != 0 {
			t.Fatalf("anonymous requests must not be replayed")
		}
	})

	t.Run("lookup error runs handler", func(t *testing.T) {
		s := newMemStore()
		s.failGet = true
		n := 0
		r := newIdemRouter(s, "QC Boss", &n)
		if w := post(r, "/tickets/FI-01-01/approve", "k-err"); w.Code != http.StatusOK || n != 1 {
			t.Fatalf("lookup failure should not block: %d calls=%d", w.Code, n)
		}
	})
}

func TestIdempotency_InvalidKeys(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cases := []struct {
		name string
		opts IdempotencyOptions
		key  string
	}{
		{"too long", IdempotencyOptions{MaxLen: 5}, "abcdef"},
		{"pattern", IdempotencyOptions{Pattern: regexp.MustCompile(`^[0-9]+$`)}, "abc123"},
		{"default pattern", IdempotencyOptions{}, "has space"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := gin.New()
			r.Use(Idempotency(tc.opts))
			r.POST("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

			w := post(r, "/x", tc.key)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", w.Code)
			}
			var body map[string]any
			if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil || body["code"] != "bad_idempotency_key" {
				t.Fatalf("unexpected body: %v (%v)", body, err)
			}
		})
	}
}

func TestIdempotency_ContextHelpers(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)

	if k, ok := GetIdempotencyKey(c); k != "" || ok {
		t.Fatalf("expected no key")
	}
	if IsReplay(c) {
		t.Fatalf("expected IsReplay=false by default")
	}
	c.Set(ctxKeyIdemKey, 123)
	if _, ok := GetIdempotencyKey(c); ok {
		t.Fatalf("non-string key should be absent")
	}
	c.Set(ctxKeyIdemReplay, "yes")
	if IsReplay(c) {
		t.Fatalf("non-bool replay flag should be false")
	}
	c.Set(ctxKeyIdemReplay, true)
	if !IsReplay(c) {
		t.Fatalf("expected IsReplay=true")
	}
}
