package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// mockStore implements devotp.Store for tests.
type mockStore struct {
	otps map[string]string
}

func (m *mockStore) Put(ctx context.Context, mobile, otp string, expiresAt time.Time) {
	if m.otps == nil {
		m.otps = make(map[string]string)
	}
	m.otps[mobile] = otp
}

func (m *mockStore) Get(ctx context.Context, mobile string) (string, bool) {
	otp, ok := m.otps[mobile]
	return otp, ok
}

func (m *mockStore) Delete(ctx context.Context, mobile string) {
	delete(m.otps, mobile)
}

func get(t *testing.T, srv *Server, target string) (int, map[string]string) {
	t.Helper()
	rec := httptest.NewRecorder()
	srv.GetOTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return rec.Code, body
}

func TestGetOTP_Success(t *testing.T) {
	store := &mockStore{otps: map[string]string{"9000000001": "123456"}}
	code, body := get(t, NewServer(store), "/dev/otp?mobile=9000000001")
	if code != http.StatusOK {
		t.Fatalf("status = %d, want 200", code)
	}
	if body["otp"] != "123456" {
		t.Errorf("otp = %q, want %q", body["otp"], "123456")
	}
	if body["note"] != devOTPNote {
		t.Errorf("note = %q, want %q", body["note"], devOTPNote)
	}
}

func TestGetOTP_MissingMobile(t *testing.T) {
	code, _ := get(t, NewServer(&mockStore{}), "/dev/otp")
	if code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", code)
	}
}

func TestGetOTP_NotFound(t *testing.T) {
	code, body := get(t, NewServer(&mockStore{}), "/dev/otp?mobile=9000000002")
	if code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", code)
	}
	if _, ok := body["otp"]; ok {
		t.Error("404 response must not carry an otp")
	}
}
