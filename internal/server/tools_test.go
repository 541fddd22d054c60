package server

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"concierge/internal/config"
	"concierge/internal/dialog"
	"concierge/internal/leases"
	"concierge/internal/otp"
	"concierge/internal/session"
)

// stubLeases answers lookups for a single tenant on record.
type stubLeases struct {
	tenantName string
	apartment  string
	phone      string
	email      string
}

func (s stubLeases) VerifyTenant(_ context.Context, name string) (int64, bool, error) {
	if name == s.tenantName {
		return 7, true, nil
	}
	return 0, false, nil
}

func (s stubLeases) VerifyApartment(_ context.Context, name, apartment string) (bool, error) {
	return name == s.tenantName && apartment == s.apartment, nil
}

func (s stubLeases) VerifyPhone(_ context.Context, name, phone string) (bool, error) {
	return name == s.tenantName && phone == s.phone, nil
}

func (s stubLeases) TenantEmail(_ context.Context, name, apartment string) (string, error) {
	if name == s.tenantName && apartment == s.apartment {
		return s.email, nil
	}
	return "", leases.ErrNotFound
}

func (s stubLeases) LeaseDetails(_ context.Context, name, apartment string) (*leases.LeaseDetails, error) {
	if name == s.tenantName && apartment == s.apartment {
		return &leases.LeaseDetails{TenantEmail: s.email, CurrentRent: 1500, MinRent: 1530, MaxRent: 1650}, nil
	}
	return nil, leases.ErrNotFound
}

func (s stubLeases) RentStatus(_ context.Context, name, apartment string) (*leases.RentStatus, error) {
	if name == s.tenantName && apartment == s.apartment {
		return &leases.RentStatus{TenantName: name, ApartmentNumber: apartment, RentStatus: "paid"}, nil
	}
	return nil, leases.ErrNotFound
}

// recordingMailer captures the codes it is asked to deliver.
type recordingMailer struct {
	to   string
	code string
}

func (m *recordingMailer) SendOTP(to, code string) error {
	m.to = to
	m.code = code
	return nil
}

func newToolsServer(t *testing.T) (*Server, *recordingMailer) {
	t.Helper()
	store := session.NewMemoryStore(session.MemoryOptions{})
	t.Cleanup(func() { _ = store.Close() })
	mailer := &recordingMailer{}
	srv := New(config.ServerConfig{Host: "127.0.0.1", Port: 8000}, Deps{
		Store:      store,
		Controller: dialog.NewController(store, echoReasoner(), dialog.Config{}, nil),
		Leases: stubLeases{
			tenantName: "Jordan Avery",
			apartment:  "4B",
			phone:      "555-0142",
			email:      "jordan@example.com",
		},
		OTP:    otp.NewManager(time.Minute),
		Mailer: mailer,
	})
	return srv, mailer
}

func TestTenantVerifyMatchesAllSuppliedFields(t *testing.T) {
	srv, _ := newToolsServer(t)

	rec := postJSON(t, srv.Handler(), "/tools/tenant/verify", map[string]any{
		"tenant_name":      "Jordan Avery",
		"apartment_number": "4B",
		"phone_number":     "555-0142",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Verified bool  `json:"verified"`
		TenantID int64 `json:"tenant_id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Verified)
	assert.Equal(t, int64(7), resp.TenantID)
}

func TestTenantVerifyRejectsWrongApartment(t *testing.T) {
	srv, _ := newToolsServer(t)

	rec := postJSON(t, srv.Handler(), "/tools/tenant/verify", map[string]any{
		"tenant_name":      "Jordan Avery",
		"apartment_number": "9Z",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"verified":false`)
}

func TestLeaseDetailsNotFound(t *testing.T) {
	srv, _ := newToolsServer(t)

	rec := postJSON(t, srv.Handler(), "/tools/lease/details", map[string]any{
		"tenant_name":      "Nobody",
		"apartment_number": "1A",
	})
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRentStatusReturnsStanding(t *testing.T) {
	srv, _ := newToolsServer(t)

	rec := postJSON(t, srv.Handler(), "/tools/rent/status", map[string]any{
		"tenant_name":      "Jordan Avery",
		"apartment_number": "4B",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "paid")
}

func TestRentOfferStepsDownFromMax(t *testing.T) {
	srv, _ := newToolsServer(t)

	rec := postJSON(t, srv.Handler(), "/tools/rent/offer", map[string]any{
		"max_rent":  1650.0,
		"min_rent":  1530.0,
		"iteration": 1,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Offer float64 `json:"offer"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.InDelta(t, 1617.0, resp.Offer, 0.001)
}

func TestOTPSendThenVerifyRoundTrip(t *testing.T) {
	srv, mailer := newToolsServer(t)

	rec := postJSON(t, srv.Handler(), "/tools/otp/send", map[string]any{
		"tenant_name":      "Jordan Avery",
		"apartment_number": "4B",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "jordan@example.com", mailer.to)
	require.Len(t, mailer.code, 6)

	rec = postJSON(t, srv.Handler(), "/tools/otp/verify", map[string]any{
		"email": "jordan@example.com",
		"code":  mailer.code,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"verified":true`)

	// A consumed code does not verify twice.
	rec = postJSON(t, srv.Handler(), "/tools/otp/verify", map[string]any{
		"email": "jordan@example.com",
		"code":  mailer.code,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"verified":false`)
}

func TestOTPSendUnknownTenantIs404(t *testing.T) {
	srv, _ := newToolsServer(t)

	rec := postJSON(t, srv.Handler(), "/tools/otp/send", map[string]any{
		"tenant_name":      "Nobody",
		"apartment_number": "1A",
	})
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestToolRoutesUnavailableWithoutBackends(t *testing.T) {
	srv, _ := newTestServer(t, echoReasoner())

	for _, path := range []string{"/tools/tenant/verify", "/tools/lease/details", "/tools/otp/send"} {
		rec := postJSON(t, srv.Handler(), path, map[string]any{
			"tenant_name":      "Jordan Avery",
			"apartment_number": "4B",
		})
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code, path)
	}
}
