package router

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/cohort-pools/internal/config"
	"github.com/iliyamo/cohort-pools/internal/database"
	"github.com/iliyamo/cohort-pools/internal/handler"
	"github.com/iliyamo/cohort-pools/internal/logging"
	"github.com/iliyamo/cohort-pools/internal/middleware"
	"github.com/iliyamo/cohort-pools/internal/repository"
	"github.com/iliyamo/cohort-pools/internal/service"
	"github.com/iliyamo/cohort-pools/internal/utils"
)

const secret = "test-secret"

func newServer(t *testing.T) *echo.Echo {
	t.Helper()
	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "api.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := database.Migrate(context.Background(), db, database.SQLite); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	log := logging.Discard()
	svc := service.New(service.Deps{
		Store:    repository.NewStore(db),
		Policy:   config.DefaultPoolConfig(),
		Notifier: service.NewLogNotifier(log),
		Log:      log,
		Seed:     func() uint64 { return 1 },
	})

	e := echo.New()
	noLimit := middleware.NewTokenBucket(config.RateLimitConfig{}, nil, log)
	noCache := middleware.NewRedisCache(config.CacheConfig{}, nil)
	pools := handler.NewPoolHandler(svc, log)
	RegisterRoutes(e, db, nil)
	RegisterPublic(e, pools, noLimit, noCache)
	RegisterMember(e, MemberHandlers{
		Pools:   pools,
		Account: handler.NewAccountHandler(svc, log),
		Chat:    handler.NewChatHandler(svc, log),
	}, secret, noLimit)
	RegisterAdmin(e, handler.NewAdminHandler(svc, log), secret)
	return e
}

func token(t *testing.T, sub, role string) string {
	t.Helper()
	tok, err := utils.NewAccessToken(secret, sub, role, time.Hour)
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}
	return tok.Token
}

func do(t *testing.T, e *echo.Echo, method, path, tok, body string) (int, map[string]any) {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	out := map[string]any{}
	if rec.Body.Len() > 0 {
		_ = json.Unmarshal(rec.Body.Bytes(), &out)
	}
	return rec.Code, out
}

func TestHealth(t *testing.T) {
	e := newServer(t)
	code, body := do(t, e, http.MethodGet, "/healthz", "", "")
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if body["database"] != "ok" || body["redis"] != "disabled" {
		t.Fatalf("unexpected health body %v", body)
	}
}

func TestAuthAndRoles(t *testing.T) {
	e := newServer(t)
	cases := []struct {
		name   string
		method string
		path   string
		tok    string
		want   int
	}{
		{"member route without token", http.MethodGet, "/v1/me/credits", "", http.StatusUnauthorized},
		{"member route with garbage token", http.MethodGet, "/v1/me/credits", "not-a-jwt", http.StatusUnauthorized},
		{"admin route as user", http.MethodGet, "/v1/admin/invariants", token(t, "u1", "USER"), http.StatusForbidden},
		{"admin route as admin", http.MethodGet, "/v1/admin/invariants", token(t, "ops", "ADMIN"), http.StatusOK},
		{"member route as admin", http.MethodGet, "/v1/me/credits", token(t, "ops", "ADMIN"), http.StatusOK},
		{"public route", http.MethodGet, "/v1/pools/current?city=Kochi", "", http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			code, _ := do(t, e, tc.method, tc.path, tc.tok, "")
			if code != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, code)
			}
		})
	}
}

func TestJoinFlow(t *testing.T) {
	e := newServer(t)
	m := token(t, "m1", "USER")
	f := token(t, "f1", "USER")
	admin := token(t, "ops", "ADMIN")

	code, _ := do(t, e, http.MethodPut, "/v1/me/profile", m, `{"name":"Arun","gender":"male","age":29,"interests":["music"],"city":"Kochi"}`)
	if code != http.StatusOK {
		t.Fatalf("expected profile saved, got %d", code)
	}
	code, _ = do(t, e, http.MethodPut, "/v1/me/profile", f, `{"name":"Diya","gender":"female","age":27,"interests":["music"],"city":"Kochi"}`)
	if code != http.StatusOK {
		t.Fatalf("expected profile saved, got %d", code)
	}

	code, pool := do(t, e, http.MethodGet, "/v1/pools/current?city=kochi", "", "")
	if code != http.StatusOK {
		t.Fatalf("expected current pool, got %d", code)
	}
	poolID := int(pool["id"].(float64))
	joinPath := "/v1/me/pools/" + strconv.Itoa(poolID) + "/join"

	code, body := do(t, e, http.MethodPost, joinPath, m, "")
	if code != http.StatusPreconditionFailed || body["code"] != "PRECONDITION_FAILED" {
		t.Fatalf("expected insufficient credits, got %d %v", code, body)
	}

	code, body = do(t, e, http.MethodPost, "/v1/me/credits/purchase", m, `{"amount":2}`)
	if code != http.StatusCreated || body["new_balance"].(float64) != 2 {
		t.Fatalf("expected purchase, got %d %v", code, body)
	}

	code, body = do(t, e, http.MethodPost, joinPath, m, "")
	if code != http.StatusCreated {
		t.Fatalf("expected join, got %d %v", code, body)
	}
	if body["status"] != "buffer" || body["credits_debited"].(float64) != 1 || body["new_balance"].(float64) != 1 {
		t.Fatalf("unexpected join result %v", body)
	}
	code, body = do(t, e, http.MethodPost, joinPath, m, "")
	if code != http.StatusConflict || body["code"] != "ALREADY_EXISTS" {
		t.Fatalf("expected duplicate join, got %d %v", code, body)
	}
	code, _ = do(t, e, http.MethodPost, joinPath, f, "")
	if code != http.StatusCreated {
		t.Fatalf("expected female join, got %d", code)
	}

	code, body = do(t, e, http.MethodPost, "/v1/admin/pools/"+strconv.Itoa(poolID)+"/fast-forward", admin, `{"target":"completed"}`)
	if code != http.StatusOK {
		t.Fatalf("expected fast forward, got %d %v", code, body)
	}
	if body["matches"].(float64) != 1 {
		t.Fatalf("expected one match, got %v", body)
	}

	code, body = do(t, e, http.MethodGet, "/v1/me/matches", m, "")
	if code != http.StatusOK {
		t.Fatalf("expected matches, got %d", code)
	}
	items := body["items"].([]any)
	if len(items) != 1 {
		t.Fatalf("expected one match, got %d", len(items))
	}
	match := items[0].(map[string]any)
	if match["other_user_id"] != "f1" || match["other_name"] != "Diya" {
		t.Fatalf("unexpected match view %v", match)
	}
	convPath := "/v1/me/conversations/" + strconv.Itoa(int(match["id"].(float64)))

	code, body = do(t, e, http.MethodPost, convPath+"/continue", m, "")
	if code != http.StatusOK || body["waiting_for_other"] != true {
		t.Fatalf("expected waiting for other, got %d %v", code, body)
	}
	code, _ = do(t, e, http.MethodGet, convPath, token(t, "stranger", "USER"), "")
	if code != http.StatusNotFound {
		t.Fatalf("expected stranger to get 404, got %d", code)
	}

	code, body = do(t, e, http.MethodGet, "/v1/admin/users/m1/ledger", admin, "")
	if code != http.StatusOK || body["balance"].(float64) != 1 {
		t.Fatalf("expected ledger with balance 1, got %d %v", code, body)
	}
	code, body = do(t, e, http.MethodGet, "/v1/admin/invariants", admin, "")
	if code != http.StatusOK || body["ok"] != true {
		t.Fatalf("expected clean invariants, got %d %v", code, body)
	}
}

func TestBadInput(t *testing.T) {
	e := newServer(t)
	u := token(t, "u1", "USER")
	admin := token(t, "ops", "ADMIN")
	cases := []struct {
		name   string
		method string
		path   string
		tok    string
		body   string
		want   int
	}{
		{"non numeric pool id", http.MethodPost, "/v1/me/pools/abc/join", u, "", http.StatusBadRequest},
		{"unsupported city", http.MethodGet, "/v1/pools/current?city=Paris", "", "", http.StatusBadRequest},
		{"unknown pool", http.MethodGet, "/v1/pools/999", "", "", http.StatusNotFound},
		{"purchase above max", http.MethodPost, "/v1/me/credits/purchase", u, `{"amount":101}`, http.StatusBadRequest},
		{"profile without gender", http.MethodPut, "/v1/me/profile", u, `{"name":"X"}`, http.StatusBadRequest},
		{"missing profile", http.MethodGet, "/v1/me/profile", u, "", http.StatusNotFound},
		{"bad status", http.MethodPut, "/v1/admin/pools/1/status", admin, `{"status":"open"}`, http.StatusBadRequest},
		{"bad restriction", http.MethodPut, "/v1/admin/users/u1/restriction", admin, `{"level":"banned"}`, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			code, body := do(t, e, tc.method, tc.path, tc.tok, tc.body)
			if code != tc.want {
				t.Fatalf("expected %d, got %d %v", tc.want, code, body)
			}
		})
	}
}
