package middleware

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/student-portal-api/internal/models"
	appErrors "github.com/noah-isme/student-portal-api/pkg/errors"
	"github.com/noah-isme/student-portal-api/pkg/logger"
)

type validatorStub struct {
	claims map[string]*models.JWTClaims
}

func (v validatorStub) ValidateToken(token string) (*models.JWTClaims, error) {
	if c, ok := v.claims[token]; ok {
		return c, nil
	}
	return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid token")
}

func newAuthRouter(mw ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(mw...)
	handler := func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString(logger.UserIDKey))
	}
	router.GET("/me", handler)
	router.GET("/users/:id", handler)
	return router
}

func serve(router *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)
	return recorder
}

func TestJWTRequiresBearerToken(t *testing.T) {
	auth := validatorStub{claims: map[string]*models.JWTClaims{"good": {UserID: "alice", Role: models.RoleStudent}}}
	router := newAuthRouter(JWT(auth))

	cases := []struct {
		name   string
		header string
		status int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic good", http.StatusUnauthorized},
		{"empty token", "Bearer ", http.StatusUnauthorized},
		{"unknown token", "Bearer bad", http.StatusUnauthorized},
		{"valid", "Bearer good", http.StatusOK},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		if tc.header != "" {
			req.Header.Set("Authorization", tc.header)
		}
		rec := serve(router, req)
		if rec.Code != tc.status {
			t.Fatalf("%s: expected %d got %d", tc.name, tc.status, rec.Code)
		}
		if tc.status == http.StatusOK && rec.Body.String() != "alice" {
			t.Fatalf("%s: expected user id in context, got %q", tc.name, rec.Body.String())
		}
	}
}

func TestJWTAcceptsQueryTokenOnlyForUpgrades(t *testing.T) {
	auth := validatorStub{claims: map[string]*models.JWTClaims{"good": {UserID: "alice", Role: models.RoleStudent}}}
	router := newAuthRouter(JWT(auth))

	req := httptest.NewRequest(http.MethodGet, "/me?access_token=good", nil)
	if rec := serve(router, req); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected plain request with query token to be rejected, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/me?access_token=good", nil)
	req.Header.Set("Upgrade", "websocket")
	if rec := serve(router, req); rec.Code != http.StatusOK {
		t.Fatalf("expected upgrade with query token to pass, got %d", rec.Code)
	}
}

func TestOptionalJWTNeverBlocks(t *testing.T) {
	router := newAuthRouter(OptionalJWT(validatorStub{}))
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer bad")
	if rec := serve(router, req); rec.Code != http.StatusOK || rec.Body.String() != "" {
		t.Fatalf("expected anonymous pass-through, got %d %q", rec.Code, rec.Body.String())
	}
}

func TestRBACRolesAndSelf(t *testing.T) {
	auth := validatorStub{claims: map[string]*models.JWTClaims{
		"admin":   {UserID: "root", Role: models.RoleAdmin},
		"student": {UserID: "alice", Role: models.RoleStudent},
	}}
	router := newAuthRouter(JWT(auth), RBAC(string(models.RoleAdmin), RoleSelf))

	cases := []struct {
		token  string
		path   string
		status int
	}{
		{"admin", "/users/alice", http.StatusOK},
		{"student", "/users/alice", http.StatusOK},
		{"student", "/users/bob", http.StatusForbidden},
		{"student", "/me", http.StatusForbidden},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, tc.path, nil)
		req.Header.Set("Authorization", "Bearer "+tc.token)
		if rec := serve(router, req); rec.Code != tc.status {
			t.Fatalf("%s %s: expected %d got %d", tc.token, tc.path, tc.status, rec.Code)
		}
	}
}

func TestRBACWithoutClaimsIsUnauthorized(t *testing.T) {
	router := newAuthRouter(RequireRoles(models.RoleAdmin))
	if rec := serve(router, httptest.NewRequest(http.MethodGet, "/me", nil)); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", rec.Code)
	}
}

type observerStub struct {
	mu    sync.Mutex
	paths []string
}

func (o *observerStub) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.paths = append(o.paths, method+" "+path)
}

func TestMetricsUsesRouteTemplate(t *testing.T) {
	observer := &observerStub{}
	router := newAuthRouter(Metrics(observer))
	serve(router, httptest.NewRequest(http.MethodGet, "/users/alice", nil))
	serve(router, httptest.NewRequest(http.MethodGet, "/wp-admin.php", nil))

	if len(observer.paths) != 2 || observer.paths[0] != "GET /users/:id" || observer.paths[1] != "GET unmatched" {
		t.Fatalf("unexpected observed paths: %v", observer.paths)
	}
}

func TestResponseMetaCollectsValues(t *testing.T) {
	gin.SetMode(gin.TestMode)
	var meta map[string]interface{}
	router := gin.New()
	router.Use(WithResponseMeta())
	router.GET("/", func(c *gin.Context) {
		SetCacheHit(c, true)
		SetMeta(c, "month", "2024-2")
		meta = ExtractMeta(c)
		c.Status(http.StatusNoContent)
	})
	serve(router, httptest.NewRequest(http.MethodGet, "/", nil))

	if meta["cache_hit"] != true || meta["month"] != "2024-2" {
		t.Fatalf("unexpected meta: %v", meta)
	}
}
