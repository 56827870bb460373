// Copyright (c) 2026 Netkeeper Team
// Netkeeper - WireGuard profile provisioning
// This source code is licensed under the MIT license found in the LICENSE file.

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/toeirei/netkeeper/internal/core"
	"github.com/toeirei/netkeeper/internal/model"
)

const testToken = "s3cret"

// stubService keeps profiles in memory and fails on demand.
type stubService struct {
	owners    map[int64]*model.Owner
	profiles  map[int64]*model.Profile
	createErr error
	deleteErr error
}

func newStub() *stubService {
	return &stubService{owners: map[int64]*model.Owner{}, profiles: map[int64]*model.Profile{}}
}

func (s *stubService) RegisterOwner(_ context.Context, ext int64, name string) (*model.Owner, bool, error) {
	if o, ok := s.owners[ext]; ok {
		return o, false, nil
	}
	o := &model.Owner{ID: int64(len(s.owners) + 1), ExternalID: ext, DisplayName: name, State: model.OwnerPending}
	s.owners[ext] = o
	return o, true, nil
}

func (s *stubService) Owner(_ context.Context, ext int64) (*model.Owner, error) {
	if o, ok := s.owners[ext]; ok {
		return o, nil
	}
	return nil, &core.Error{Kind: core.KindNotFound}
}

func (s *stubService) setState(ext int64, st model.OwnerState) (*model.Owner, error) {
	o, ok := s.owners[ext]
	if !ok {
		return nil, &core.Error{Kind: core.KindNotFound}
	}
	o.State = st
	return o, nil
}

func (s *stubService) ApproveOwner(_ context.Context, ext int64) (*model.Owner, error) {
	return s.setState(ext, model.OwnerVerified)
}

func (s *stubService) RejectOwner(_ context.Context, ext int64) (*model.Owner, error) {
	return s.setState(ext, model.OwnerRejected)
}

func (s *stubService) UnbanOwner(_ context.Context, ext int64) (*model.Owner, error) {
	return s.setState(ext, model.OwnerPending)
}

func (s *stubService) ResetSiteToken(_ context.Context, ext int64) (*model.Owner, error) {
	o, ok := s.owners[ext]
	if !ok {
		return nil, &core.Error{Kind: core.KindNotFound}
	}
	if o.State != model.OwnerVerified {
		return nil, &core.Error{Kind: core.KindValidation, Err: fmt.Errorf("owner %d is %s", ext, o.State)}
	}
	o.SiteToken = fmt.Sprintf("token-%d", len(o.SiteToken)+1)
	return o, nil
}

func (s *stubService) OwnersByState(_ context.Context, st model.OwnerState) ([]model.Owner, error) {
	var out []model.Owner
	for _, o := range s.owners {
		if o.State == st {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (s *stubService) CreateProfile(_ context.Context, ext int64, name string, cat model.Category) (*model.Profile, error) {
	if s.createErr != nil {
		return nil, s.createErr
	}
	id := int64(len(s.profiles) + 1)
	p := &model.Profile{
		ID: id, OwnerID: ext, Name: name, Category: cat,
		PrivateKey: "PRIVATE", PublicKey: "pub",
		Address: netip.MustParseAddr(fmt.Sprintf("10.8.100.%d", id)),
		Config:  "[Interface]\nPrivateKey = PRIVATE\n",
	}
	s.profiles[id] = p
	return p, nil
}

func (s *stubService) ListProfiles(_ context.Context, ext int64) ([]model.Profile, error) {
	var out []model.Profile
	for _, p := range s.profiles {
		if p.OwnerID == ext {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (s *stubService) Profile(_ context.Context, id int64) (*model.Profile, error) {
	if p, ok := s.profiles[id]; ok {
		return p, nil
	}
	return nil, &core.Error{Kind: core.KindNotFound}
}

func (s *stubService) GetConfig(ctx context.Context, id int64) (string, error) {
	p, err := s.Profile(ctx, id)
	if err != nil {
		return "", err
	}
	return p.Config, nil
}

func (s *stubService) RenameProfile(ctx context.Context, id int64, name string) (*model.Profile, error) {
	p, err := s.Profile(ctx, id)
	if err != nil {
		return nil, err
	}
	p.Name = name
	return p, nil
}

func (s *stubService) DeleteProfile(_ context.Context, id int64) error {
	if s.deleteErr != nil {
		return s.deleteErr
	}
	delete(s.profiles, id)
	return nil
}

func newTestServer(t *testing.T, svc Service) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	reg := prometheus.NewRegistry()
	srv, err := NewServer(svc, Options{Token: testToken, Registerer: reg, Gatherer: reg})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	return srv
}

func do(t *testing.T, srv *Server, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Authorization", "Bearer "+testToken)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)
	return rr
}

func TestHealthzAndMetricsAreOpen(t *testing.T) {
	srv := newTestServer(t, newStub())
	for _, path := range []string{"/healthz", "/metrics"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rr := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rr, req)
		if rr.Code != http.StatusOK {
			t.Fatalf("%s: status %d", path, rr.Code)
		}
	}
}

func TestAuthRequired(t *testing.T) {
	srv := newTestServer(t, newStub())
	for _, auth := range []string{"", "Bearer wrong", testToken} {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/owners", nil)
		if auth != "" {
			req.Header.Set("Authorization", auth)
		}
		rr := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rr, req)
		if rr.Code != http.StatusUnauthorized {
			t.Fatalf("auth %q: expected 401, got %d", auth, rr.Code)
		}
	}
}

func TestProfileFlow(t *testing.T) {
	stub := newStub()
	srv := newTestServer(t, stub)

	rr := do(t, srv, http.MethodPost, "/api/v1/owners", map[string]any{"external_id": 7, "display_name": "alice"})
	if rr.Code != http.StatusCreated {
		t.Fatalf("register: %d %s", rr.Code, rr.Body)
	}
	if rr.Header().Get(requestIDHeader) == "" {
		t.Fatal("missing request id header")
	}
	if rr = do(t, srv, http.MethodPost, "/api/v1/owners/7/approve", nil); rr.Code != http.StatusOK {
		t.Fatalf("approve: %d", rr.Code)
	}

	rr = do(t, srv, http.MethodPost, "/api/v1/owners/7/profiles", map[string]string{"name": "home", "category": "Personal"})
	if rr.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", rr.Code, rr.Body)
	}
	var created struct {
		Profile map[string]any `json:"profile"`
		Config  string         `json:"config"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &created); err != nil {
		t.Fatal(err)
	}
	if _, leaked := created.Profile["private_key"]; leaked {
		t.Fatal("private key exposed in profile json")
	}
	if created.Profile["address"] != "10.8.100.1" {
		t.Fatalf("address = %v", created.Profile["address"])
	}

	rr = do(t, srv, http.MethodGet, "/api/v1/profiles/1/config", nil)
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "[Interface]") {
		t.Fatalf("config: %d %s", rr.Code, rr.Body)
	}
	rr = do(t, srv, http.MethodGet, "/api/v1/profiles/1/qr", nil)
	if rr.Code != http.StatusOK || rr.Header().Get("Content-Type") != "image/png" {
		t.Fatalf("qr: %d %s", rr.Code, rr.Header().Get("Content-Type"))
	}
	if !bytes.HasPrefix(rr.Body.Bytes(), []byte("\x89PNG")) {
		t.Fatal("qr body is not a png")
	}

	rr = do(t, srv, http.MethodPatch, "/api/v1/profiles/1", map[string]string{"name": "cabin"})
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"cabin"`) {
		t.Fatalf("rename: %d %s", rr.Code, rr.Body)
	}
	if rr = do(t, srv, http.MethodDelete, "/api/v1/profiles/1", nil); rr.Code != http.StatusNoContent {
		t.Fatalf("delete: %d", rr.Code)
	}
	if rr = do(t, srv, http.MethodGet, "/api/v1/profiles/1", nil); rr.Code != http.StatusNotFound {
		t.Fatalf("get after delete: %d", rr.Code)
	}

	ops := srv.Metrics().Operations
	if got := testutil.ToFloat64(ops.WithLabelValues("create_profile", "ok")); got != 1 {
		t.Fatalf("create_profile ok counter = %v", got)
	}
	if got := testutil.ToFloat64(ops.WithLabelValues("get_profile", "not_found")); got != 1 {
		t.Fatalf("get_profile not_found counter = %v", got)
	}
}

func TestErrorMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{&core.Error{Kind: core.KindQuotaExceeded, Limit: 3}, http.StatusConflict, "quota_exceeded"},
		{&core.Error{Kind: core.KindDuplicateName}, http.StatusConflict, "duplicate_name"},
		{&core.Error{Kind: core.KindAddressConflict}, http.StatusConflict, "address_conflict"},
		{&core.Error{Kind: core.KindNotEligible}, http.StatusForbidden, "not_eligible"},
		{&core.Error{Kind: core.KindPoolExhausted}, http.StatusServiceUnavailable, "pool_exhausted"},
		{&core.Error{Kind: core.KindPeerActivationFailed}, http.StatusBadGateway, "peer_activation_failed"},
		{errors.New("boom"), http.StatusInternalServerError, "internal"},
	}
	for _, tc := range cases {
		stub := newStub()
		stub.createErr = tc.err
		srv := newTestServer(t, stub)
		rr := do(t, srv, http.MethodPost, "/api/v1/owners/1/profiles", map[string]string{"name": "x", "category": "Personal"})
		if rr.Code != tc.status {
			t.Errorf("%v: status %d, want %d", tc.err, rr.Code, tc.status)
			continue
		}
		var body errorBody
		if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
			t.Fatal(err)
		}
		if body.Error != tc.code || body.Reason == "" {
			t.Errorf("%v: body %+v", tc.err, body)
		}
		if strings.Contains(body.Reason, "boom") {
			t.Errorf("internal detail leaked: %q", body.Reason)
		}
	}
}

func TestLocalizedReason(t *testing.T) {
	stub := newStub()
	stub.createErr = &core.Error{Kind: core.KindQuotaExceeded, Limit: 3}
	srv := newTestServer(t, stub)

	rr := do(t, srv, http.MethodPost, "/api/v1/owners/1/profiles", map[string]string{"name": "x", "category": "Personal"})
	if !strings.Contains(rr.Body.String(), "Maximum 3 profiles allowed.") {
		t.Fatalf("en reason: %s", rr.Body)
	}
	rr = do(t, srv, http.MethodPost, "/api/v1/owners/1/profiles", map[string]string{"name": "x", "category": "Personal"},
		"Accept-Language", "ru-RU,ru;q=0.9")
	if strings.Contains(rr.Body.String(), "Maximum") {
		t.Fatalf("ru reason not localized: %s", rr.Body)
	}
}

func TestBadInput(t *testing.T) {
	srv := newTestServer(t, newStub())
	for _, tc := range []struct {
		method, path string
		body         any
	}{
		{http.MethodGet, "/api/v1/profiles/abc", nil},
		{http.MethodPost, "/api/v1/owners", map[string]any{}},
		{http.MethodPost, "/api/v1/owners/1/profiles", map[string]string{"name": "x"}},
		{http.MethodGet, "/api/v1/owners?state=banished", nil},
	} {
		if rr := do(t, srv, tc.method, tc.path, tc.body); rr.Code != http.StatusBadRequest {
			t.Errorf("%s %s: expected 400, got %d", tc.method, tc.path, rr.Code)
		}
	}
}

func TestResetSiteTokenRoute(t *testing.T) {
	stub := newStub()
	srv := newTestServer(t, stub)
	do(t, srv, http.MethodPost, "/api/v1/owners", map[string]any{"external_id": 9})

	if rr := do(t, srv, http.MethodPost, "/api/v1/owners/9/site-token", nil); rr.Code != http.StatusBadRequest {
		t.Fatalf("pending owner: expected 400, got %d", rr.Code)
	}
	do(t, srv, http.MethodPost, "/api/v1/owners/9/approve", nil)
	rr := do(t, srv, http.MethodPost, "/api/v1/owners/9/site-token", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("reset: %d %s", rr.Code, rr.Body)
	}
	var body ownerJSON
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.SiteToken == "" {
		t.Fatalf("no token in response: %s", rr.Body)
	}
	if rr := do(t, srv, http.MethodPost, "/api/v1/owners/404/site-token", nil); rr.Code != http.StatusNotFound {
		t.Fatalf("unknown owner: expected 404, got %d", rr.Code)
	}
}
