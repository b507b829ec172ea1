package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

func identityRouter(opts IdentityOptions) (*gin.Engine, *Identity) {
	gin.SetMode(gin.TestMode)
	var seen Identity
	r := gin.New()
	r.Use(Authenticate(opts))
	r.GET("/me", func(c *gin.Context) {
		id, ok := IdentityFrom(c)
		if !ok {
			c.Status(http.StatusNoContent)
			return
		}
		seen = id
		c.Status(http.StatusOK)
	})
	return r, &seen
}

func TestAuthenticate_Headers(t *testing.T) {
	r, seen := identityRouter(IdentityOptions{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set(HeaderUserName, " Bình ")
	req.Header.Set(HeaderUserRole, "truong_ca")
	req.Header.Set(HeaderUserDepartment, "fi")
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected identity, got %d", w.Code)
	}
	if *seen != (Identity{Name: "Bình", Role: "TRUONG_CA", Department: "FI"}) {
		t.Fatalf("identity = %+v", *seen)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/me", nil))
	if w.Code != http.StatusNoContent {
		t.Fatalf("anonymous request should carry no identity, got %d", w.Code)
	}
}

func TestAuthenticate_BearerToken(t *testing.T) {
	const secret = "s3cret"
	r, seen := identityRouter(IdentityOptions{JWTSecret: secret})

	tok, err := SignToken(secret, Identity{Name: "QC Boss", Role: "qc_manager", Department: "QC"}, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	if err != nil {
		t.Fatalf("SignToken: %v", err)
	}

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "bearer "+tok)
	req.Header.Set(HeaderUserName, "spoofed") // ignored when tokens are enabled
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK || seen.Name != "QC Boss" || seen.Role != "QC_MANAGER" || !seen.Verified {
		t.Fatalf("bearer identity: %d %+v", w.Code, *seen)
	}

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set(HeaderUserName, "spoofed")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Fatalf("headers must not identify when tokens are enabled, got %d", w.Code)
	}
}

func TestAuthenticate_RejectsBadTokens(t *testing.T) {
	const secret = "s3cret"
	r, _ := identityRouter(IdentityOptions{JWTSecret: secret})

	expired, _ := SignToken(secret, Identity{Name: "An", Role: "USER"}, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
	})
	wrongKey, _ := SignToken("other", Identity{Name: "An", Role: "USER"}, jwt.RegisteredClaims{})
	noName, _ := SignToken(secret, Identity{Role: "USER"}, jwt.RegisteredClaims{})
	none := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{Name: "An"})
	unsigned, _ := none.SignedString(jwt.UnsafeAllowNoneSignatureType)

	for name, tok := range map[string]string{
		"expired":   expired,
		"wrong key": wrongKey,
		"no name":   noName,
		"alg none":  unsigned,
		"garbage":   "not.a.token",
	} {
		t.Run(name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			req.Header.Set("Authorization", "Bearer "+tok)
			r.ServeHTTP(w, req)
			if w.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d", w.Code)
			}
		})
	}
}

func TestBearerToken(t *testing.T) {
	cases := map[string]struct {
		tok string
		ok  bool
	}{
		"Bearer abc":   {"abc", true},
		"  bearer x  ": {"x", true},
		"Bearer ":      {"", false},
		"Basic abc":    {"", false},
		"":             {"", false},
	}
	for in, want := range cases {
		tok, ok := bearerToken(in)
		if tok != want.tok || ok != want.ok {
			t.Fatalf("bearerToken(%q) = %q,%v; want %q,%v", in, tok, ok, want.tok, want.ok)
		}
	}
}
