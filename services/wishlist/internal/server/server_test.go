package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"mediawish/internal/clock"
	"mediawish/pkg/catalog"
	"mediawish/pkg/domain"
	"mediawish/pkg/session"
	"mediawish/pkg/store"
	"mediawish/services/wishlist/internal/app"
	"mediawish/services/wishlist/internal/security"
)

const (
	testSecret   = "0123456789abcdef0123456789abcdef"
	testPassword = "Str0ng#Password!"
)

type stubCatalog struct {
	results []domain.CatalogSummary
	err     error
}

func (c *stubCatalog) Search(context.Context, string) ([]domain.CatalogSummary, error) {
	return c.results, c.err
}

// brokenStore fails the admin listing to exercise the 500 path.
type brokenStore struct {
	*store.MemoryStore
}

func (brokenStore) ListAllWishes(context.Context) ([]domain.WishView, error) {
	return nil, errors.New("db exploded: relation wishes does not exist")
}

type testEnv struct {
	t        *testing.T
	srv      *httptest.Server
	store    store.Store
	catalog  *stubCatalog
	clock    *clock.Fake
	sessions *session.Manager
}

type envOption func(*Config)

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	return newTestEnvWithStore(t, store.NewMemoryStore(), opts...)
}

func newTestEnvWithStore(t *testing.T, st store.Store, opts ...envOption) *testEnv {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	fc := clock.NewFake(time.Now().UTC())
	sessions, err := session.NewManager(session.Options{Secret: []byte(testSecret), Clock: fc})
	if err != nil {
		t.Fatalf("new session manager: %v", err)
	}
	cat := &stubCatalog{}
	core, err := app.New(app.Config{Store: st, Sessions: sessions, Catalog: cat, Clock: fc})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	if _, err := core.SeedDefaultAdmin(context.Background(), "admin", "admin"); err != nil {
		t.Fatalf("seed admin: %v", err)
	}
	cfg := Config{
		App:                      core,
		Sessions:                 sessions,
		Redis:                    client,
		Alerter:                  security.NewAlerter(client, "test:alerts"),
		AllowedOrigins:           []string{"http://localhost:5173"},
		SearchRateLimitPerMinute: 100,
		LoginRateLimitPerMinute:  100,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	s, err := New(cfg)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	srv := httptest.NewServer(s.Router())
	t.Cleanup(srv.Close)
	return &testEnv{t: t, srv: srv, store: st, catalog: cat, clock: fc, sessions: sessions}
}

type response struct {
	status int
	header http.Header
	body   []byte
}

func (r response) decode(t *testing.T, dst any) {
	t.Helper()
	if err := json.Unmarshal(r.body, dst); err != nil {
		t.Fatalf("decode %s: %v", r.body, err)
	}
}

func (r response) errorCode(t *testing.T) string {
	t.Helper()
	var body errorResponse
	r.decode(t, &body)
	return body.Code
}

func (e *testEnv) do(method, path, token string, body any) response {
	e.t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	case []byte:
		reader = bytes.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			e.t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, reader)
	if err != nil {
		e.t.Fatalf("new request: %v", err)
	}
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		e.t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	return response{status: resp.StatusCode, header: resp.Header, body: raw}
}

func (e *testEnv) login(path, username, password string) string {
	e.t.Helper()
	resp := e.do(http.MethodPost, path, "", credentialsRequest{Username: username, Password: password})
	if resp.status != http.StatusOK {
		e.t.Fatalf("login %s as %s: %d %s", path, username, resp.status, resp.body)
	}
	var out loginResponse
	resp.decode(e.t, &out)
	if out.Token == "" || out.Username != username {
		e.t.Fatalf("unexpected login response %s", resp.body)
	}
	return out.Token
}

func (e *testEnv) adminToken() string {
	return e.login("/api/admin/login", "admin", "admin")
}

func (e *testEnv) userToken(adminToken, username string) string {
	e.t.Helper()
	resp := e.do(http.MethodPost, "/api/admin/users", adminToken, credentialsRequest{Username: username, Password: testPassword})
	if resp.status != http.StatusCreated {
		e.t.Fatalf("create user %s: %d %s", username, resp.status, resp.body)
	}
	return e.login("/api/users/login", username, testPassword)
}

func TestMatrixScenario(t *testing.T) {
	env := newTestEnv(t)
	year := "1999"
	poster := "/f89U3ADr1oiB1s9GkdPOEpXUk5H.jpg"
	env.catalog.results = []domain.CatalogSummary{{
		CatalogID:   603,
		CatalogKind: domain.KindMovie,
		Title:       "The Matrix",
		ReleaseYear: &year,
		PosterRef:   &poster,
	}}

	admin := env.adminToken()
	neo := env.userToken(admin, "neo")

	search := env.do(http.MethodGet, "/api/search-tmdb?query=matrix", "", nil)
	if search.status != http.StatusOK {
		t.Fatalf("search: %d %s", search.status, search.body)
	}
	var hits []domain.CatalogSummary
	search.decode(t, &hits)
	if len(hits) != 1 || hits[0].CatalogID != 603 {
		t.Fatalf("unexpected hits %s", search.body)
	}

	created := env.do(http.MethodPost, "/api/wishes", neo, map[string]any{
		"tmdb_id":        603,
		"tmdb_type":      "movie",
		"original_title": "The Matrix",
		"release_year":   "1999",
		"poster_path":    poster,
	})
	if created.status != http.StatusCreated {
		t.Fatalf("create wish: %d %s", created.status, created.body)
	}
	var wish domain.WishView
	created.decode(t, &wish)
	if wish.Status != domain.StatusOpen || wish.OwnerName != "neo" {
		t.Fatalf("unexpected wish %s", created.body)
	}

	mine := env.do(http.MethodGet, "/api/wishes/me", neo, nil)
	var mineList []domain.WishView
	mine.decode(t, &mineList)
	if mine.status != http.StatusOK || len(mineList) != 1 {
		t.Fatalf("list mine: %d %s", mine.status, mine.body)
	}

	all := env.do(http.MethodGet, "/api/admin/wishes", admin, nil)
	if all.status != http.StatusOK || !bytes.Contains(all.body, []byte(`"benutzer_bezeichner":"neo"`)) {
		t.Fatalf("list all: %d %s", all.status, all.body)
	}

	path := "/api/admin/wishes/" + jsonNumber(wish.ID)
	done := env.do(http.MethodPut, path, admin, map[string]string{"status": "Erledigt"})
	if done.status != http.StatusOK {
		t.Fatalf("mark done: %d %s", done.status, done.body)
	}
	var doneBody statusResponse
	done.decode(t, &doneBody)
	if doneBody.Message == "" || doneBody.UpdatedWish.Status != domain.StatusDone {
		t.Fatalf("unexpected mark done response %s", done.body)
	}

	again := env.do(http.MethodPut, path, admin, map[string]string{"status": "Erledigt"})
	if again.status != http.StatusConflict || again.errorCode(t) != codeAlreadyDone {
		t.Fatalf("second mark done: %d %s", again.status, again.body)
	}

	stats := env.do(http.MethodGet, "/api/admin/stats", admin, nil)
	var counts domain.WishStats
	stats.decode(t, &counts)
	if counts != (domain.WishStats{Total: 1, Open: 0, Done: 1}) {
		t.Fatalf("unexpected stats %s", stats.body)
	}
}

func TestAuthorizationStatusCodes(t *testing.T) {
	env := newTestEnv(t)
	admin := env.adminToken()
	user := env.userToken(admin, "alice")

	foreign, err := session.NewManager(session.Options{Secret: []byte(strings.Repeat("x", 32))})
	if err != nil {
		t.Fatalf("foreign manager: %v", err)
	}
	forged, err := foreign.Issue(domain.Principal{ID: 1, Username: "admin"}, domain.RoleAdmin)
	if err != nil {
		t.Fatalf("forge token: %v", err)
	}

	cases := []struct {
		name   string
		path   string
		token  string
		status int
		code   string
	}{
		{name: "missing on user route", path: "/api/wishes/me", status: http.StatusUnauthorized, code: codeAuthMissing},
		{name: "missing on admin route", path: "/api/admin/stats", status: http.StatusUnauthorized, code: codeAuthMissing},
		{name: "garbage token", path: "/api/wishes/me", token: "not-a-jwt", status: http.StatusForbidden, code: codeAuthInvalid},
		{name: "foreign secret", path: "/api/admin/stats", token: forged, status: http.StatusForbidden, code: codeAuthInvalid},
		{name: "user on admin route", path: "/api/admin/stats", token: user, status: http.StatusForbidden, code: codeRoleMismatch},
		{name: "admin on user route", path: "/api/wishes/me", token: admin, status: http.StatusForbidden, code: codeRoleMismatch},
		{name: "user on own route", path: "/api/wishes/me", token: user, status: http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := env.do(http.MethodGet, tc.path, tc.token, nil)
			if resp.status != tc.status {
				t.Fatalf("expected %d, got %d %s", tc.status, resp.status, resp.body)
			}
			if tc.code != "" && resp.errorCode(t) != tc.code {
				t.Fatalf("expected code %s, got %s", tc.code, resp.body)
			}
		})
	}
}

func TestExpiredTokenIsForbidden(t *testing.T) {
	env := newTestEnv(t)
	admin := env.adminToken()
	env.clock.Advance(25 * time.Hour)
	resp := env.do(http.MethodGet, "/api/admin/stats", admin, nil)
	if resp.status != http.StatusForbidden {
		t.Fatalf("expired token expected 403, got %d", resp.status)
	}
}

func TestTokenOneSecondPastExpiryIsForbidden(t *testing.T) {
	env := newTestEnv(t)
	admin := env.adminToken()
	env.clock.Advance(env.sessions.TTL() - time.Second)
	if resp := env.do(http.MethodGet, "/api/admin/stats", admin, nil); resp.status != http.StatusOK {
		t.Fatalf("token before expiry expected 200, got %d", resp.status)
	}
	env.clock.Advance(2 * time.Second)
	resp := env.do(http.MethodGet, "/api/admin/stats", admin, nil)
	if resp.status != http.StatusForbidden || resp.errorCode(t) != codeAuthInvalid {
		t.Fatalf("token past expiry expected 403, got %d %s", resp.status, resp.body)
	}
}

func TestLoginFailureIsEnumerationSafe(t *testing.T) {
	env := newTestEnv(t)
	admin := env.adminToken()
	env.userToken(admin, "alice")

	unknown := env.do(http.MethodPost, "/api/users/login", "", credentialsRequest{Username: "mallory", Password: testPassword})
	wrong := env.do(http.MethodPost, "/api/users/login", "", credentialsRequest{Username: "alice", Password: "Wrong#Password1"})
	if unknown.status != http.StatusUnauthorized || wrong.status != http.StatusUnauthorized {
		t.Fatalf("expected 401s, got %d and %d", unknown.status, wrong.status)
	}
	if !bytes.Equal(unknown.body, wrong.body) {
		t.Fatalf("bodies differ: %s vs %s", unknown.body, wrong.body)
	}
	// The admin namespace does not know alice.
	crossed := env.do(http.MethodPost, "/api/admin/login", "", credentialsRequest{Username: "alice", Password: testPassword})
	if crossed.status != http.StatusUnauthorized {
		t.Fatalf("user credentials on admin login expected 401, got %d", crossed.status)
	}
}

func TestCreateAccounts(t *testing.T) {
	env := newTestEnv(t)
	admin := env.adminToken()

	weak := env.do(http.MethodPost, "/api/admin/users", admin, credentialsRequest{Username: "bob", Password: "short"})
	if weak.status != http.StatusBadRequest || weak.errorCode(t) != codeValidation {
		t.Fatalf("weak password: %d %s", weak.status, weak.body)
	}
	var weakBody errorResponse
	weak.decode(t, &weakBody)
	if len(weakBody.Details) == 0 || weakBody.Details[0].Field != "password" {
		t.Fatalf("expected password details, got %s", weak.body)
	}

	long := env.do(http.MethodPost, "/api/admin/users", admin, credentialsRequest{Username: "longpw", Password: "Aa1!" + strings.Repeat("x", 76)})
	if long.status != http.StatusBadRequest || long.errorCode(t) != codeValidation {
		t.Fatalf("oversized password: %d %s", long.status, long.body)
	}
	var longBody errorResponse
	long.decode(t, &longBody)
	if len(longBody.Details) != 1 || longBody.Details[0].Field != "password" || longBody.Details[0].Message != "must be at most 72 bytes" {
		t.Fatalf("expected byte limit detail, got %s", long.body)
	}

	first := env.do(http.MethodPost, "/api/admin/admins", admin, credentialsRequest{Username: "second", Password: testPassword})
	if first.status != http.StatusCreated {
		t.Fatalf("create admin: %d %s", first.status, first.body)
	}
	var created accountResponse
	first.decode(t, &created)
	if created.ID <= 0 || created.Username != "second" {
		t.Fatalf("unexpected account response %s", first.body)
	}
	dup := env.do(http.MethodPost, "/api/admin/admins", admin, credentialsRequest{Username: "second", Password: testPassword})
	if dup.status != http.StatusConflict || dup.errorCode(t) != codeDuplicate {
		t.Fatalf("duplicate admin: %d %s", dup.status, dup.body)
	}
	// Same name in the user namespace is fine.
	user := env.do(http.MethodPost, "/api/admin/users", admin, credentialsRequest{Username: "second", Password: testPassword})
	if user.status != http.StatusCreated {
		t.Fatalf("create user with admin's name: %d %s", user.status, user.body)
	}
	env.login("/api/admin/login", "second", testPassword)
}

func TestCreateWishSeasonRules(t *testing.T) {
	env := newTestEnv(t)
	admin := env.adminToken()
	user := env.userToken(admin, "alice")

	missing := env.do(http.MethodPost, "/api/wishes", user, `{"tmdb_id":1396,"tmdb_type":"tv","original_title":"Breaking Bad","release_year":"2008"}`)
	if missing.status != http.StatusBadRequest {
		t.Fatalf("tv without season: %d %s", missing.status, missing.body)
	}
	var body errorResponse
	missing.decode(t, &body)
	if len(body.Details) != 1 || body.Details[0].Field != "season_number" {
		t.Fatalf("unexpected details %s", missing.body)
	}

	empty := env.do(http.MethodPost, "/api/wishes", user, `{"tmdb_id":1396,"tmdb_type":"tv","original_title":"Breaking Bad","release_year":"2008","season_number":""}`)
	if empty.status != http.StatusCreated {
		t.Fatalf("tv with empty season: %d %s", empty.status, empty.body)
	}
	if !bytes.Contains(empty.body, []byte(`"season_number":null`)) {
		t.Fatalf("empty season should be stored as null: %s", empty.body)
	}

	film := env.do(http.MethodPost, "/api/wishes", user, `{"tmdb_id":603,"tmdb_type":"movie","original_title":"The Matrix","release_year":null,"season_number":"2"}`)
	if film.status != http.StatusCreated {
		t.Fatalf("movie with season: %d %s", film.status, film.body)
	}

	badJSON := env.do(http.MethodPost, "/api/wishes", user, `{"tmdb_id":`)
	if badJSON.status != http.StatusBadRequest || badJSON.errorCode(t) != codeInvalidJSON {
		t.Fatalf("broken json: %d %s", badJSON.status, badJSON.body)
	}
}

func TestOversizedBodyIsRejected(t *testing.T) {
	env := newTestEnv(t)
	admin := env.adminToken()
	user := env.userToken(admin, "alice")

	huge := `{"tmdb_id":603,"tmdb_type":"movie","original_title":"` + strings.Repeat("a", maxBodyBytes+1) + `"}`
	resp := env.do(http.MethodPost, "/api/wishes", user, huge)
	if resp.status != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", resp.status)
	}
}

func TestMarkDoneErrors(t *testing.T) {
	env := newTestEnv(t)
	admin := env.adminToken()

	missing := env.do(http.MethodPut, "/api/admin/wishes/4242", admin, map[string]string{"status": "Erledigt"})
	if missing.status != http.StatusNotFound || missing.errorCode(t) != codeNotFound {
		t.Fatalf("missing wish: %d %s", missing.status, missing.body)
	}
	badID := env.do(http.MethodPut, "/api/admin/wishes/abc", admin, map[string]string{"status": "Erledigt"})
	if badID.status != http.StatusNotFound {
		t.Fatalf("non-numeric id: %d", badID.status)
	}
	wrongMethod := env.do(http.MethodDelete, "/api/admin/wishes/1", admin, nil)
	if wrongMethod.status != http.StatusMethodNotAllowed {
		t.Fatalf("delete expected 405, got %d", wrongMethod.status)
	}
	badStatus := env.do(http.MethodPut, "/api/admin/wishes/1", admin, map[string]string{"status": "Offen"})
	if badStatus.status != http.StatusBadRequest || badStatus.errorCode(t) != codeValidation {
		t.Fatalf("invalid target status: %d %s", badStatus.status, badStatus.body)
	}
}

func TestUnknownAPIPathIsJSON404(t *testing.T) {
	env := newTestEnv(t)
	resp := env.do(http.MethodGet, "/api/nope", "", nil)
	if resp.status != http.StatusNotFound || resp.errorCode(t) != codeNotFound {
		t.Fatalf("unknown api path: %d %s", resp.status, resp.body)
	}
}

func TestInternalErrorDetailDependsOnEnvironment(t *testing.T) {
	for _, production := range []bool{true, false} {
		env := newTestEnvWithStore(t, brokenStore{store.NewMemoryStore()}, func(c *Config) {
			c.Production = production
		})
		admin := env.adminToken()
		resp := env.do(http.MethodGet, "/api/admin/wishes", admin, nil)
		if resp.status != http.StatusInternalServerError || resp.errorCode(t) != codeInternal {
			t.Fatalf("production=%v: %d %s", production, resp.status, resp.body)
		}
		leaked := bytes.Contains(resp.body, []byte("db exploded"))
		if production && leaked {
			t.Fatalf("production must hide details: %s", resp.body)
		}
		if !production && !leaked {
			t.Fatalf("development should include details: %s", resp.body)
		}
	}
}

func TestCatalogFailureNeverLeaksUpstreamBody(t *testing.T) {
	env := newTestEnv(t)
	env.catalog.err = &catalog.UpstreamError{Status: 401, Body: `{"status_message":"Invalid API key"}`}
	resp := env.do(http.MethodGet, "/api/search-tmdb?query=matrix", "", nil)
	if resp.status != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", resp.status)
	}
	if bytes.Contains(resp.body, []byte("Invalid API key")) || bytes.Contains(resp.body, []byte("401")) {
		t.Fatalf("upstream detail leaked: %s", resp.body)
	}

	blank := env.do(http.MethodGet, "/api/search-tmdb?query=%20", "", nil)
	if blank.status != http.StatusBadRequest {
		t.Fatalf("blank query expected 400, got %d", blank.status)
	}
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t)
	req, _ := http.NewRequest(http.MethodOptions, env.srv.URL+"/api/wishes", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", "POST")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("preflight: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("preflight expected 204, got %d", resp.StatusCode)
	}
	if resp.Header.Get("Access-Control-Allow-Origin") != "http://localhost:5173" {
		t.Fatalf("origin not echoed: %v", resp.Header)
	}
}

func TestFrontendFallback(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "index.html"), []byte("<html>spa</html>"), 0o600); err != nil {
		t.Fatalf("write index: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "app.js"), []byte("console.log(1)"), 0o600); err != nil {
		t.Fatalf("write asset: %v", err)
	}
	env := newTestEnv(t, func(c *Config) { c.StaticDir = dir })

	asset := env.do(http.MethodGet, "/app.js", "", nil)
	if asset.status != http.StatusOK || string(asset.body) != "console.log(1)" {
		t.Fatalf("asset: %d %s", asset.status, asset.body)
	}
	route := env.do(http.MethodGet, "/admin/statistics", "", nil)
	if route.status != http.StatusOK || !strings.Contains(string(route.body), "spa") {
		t.Fatalf("client route should fall back to index: %d %s", route.status, route.body)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	env := newTestEnv(t)
	health := env.do(http.MethodGet, "/healthz", "", nil)
	if health.status != http.StatusOK {
		t.Fatalf("healthz: %d", health.status)
	}
	metricsResp := env.do(http.MethodGet, "/metrics", "", nil)
	if metricsResp.status != http.StatusOK || !bytes.Contains(metricsResp.body, []byte("mw_http_requests_total")) {
		t.Fatalf("metrics: %d", metricsResp.status)
	}
	if health.header.Get("X-Request-Id") == "" {
		t.Fatalf("expected request id header")
	}
}

func jsonNumber(id int64) string {
	raw, _ := json.Marshal(id)
	return string(raw)
}
