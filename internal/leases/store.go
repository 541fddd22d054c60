// Package leases answers tenant identity and lease questions from the
// property database.
package leases

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"concierge/internal/logging"
)

const leaseTable = "lease_details"
const rentTable = "rent_status"

// ErrNotFound indicates no lease row matched the lookup.
var ErrNotFound = errors.New("lease record not found")

// LeaseDetails is the full renewal-relevant view of one lease.
type LeaseDetails struct {
	TenantEmail        string
	TenantPhone        string
	LeaseStart         time.Time
	LeaseEnd           time.Time
	CurrentRent        float64
	MinRent            float64
	MaxRent            float64
	Status             string
	Building           string
	City               string
	OwnerName          string
	OwnerEmail         string
	OwnerContact       string
	IncreasePercentage string
}

// RentStatus joins the lease row with its payment standing.
type RentStatus struct {
	TenantName      string
	ApartmentNumber string
	CurrentRent     float64
	LeaseStatus     string
	LeaseEnd        time.Time
	RentStatus      string
}

// Store looks up tenants and leases. Name and apartment matching is
// case-insensitive; phone numbers match exactly.
type Store struct {
	pool   *pgxpool.Pool
	logger *logging.Logger
}

// NewStore connects a pool and ensures the schema exists.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	store := &Store{
		pool:   pool,
		logger: logging.NewComponentLogger("LeaseStore"),
	}
	if err := store.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return store, nil
}

// EnsureSchema creates the lease tables if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("lease store not initialized")
	}

	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
    tenant_id BIGSERIAL PRIMARY KEY,
    tenant_name TEXT NOT NULL,
    tenant_email TEXT NOT NULL DEFAULT '',
    tenant_phone TEXT NOT NULL DEFAULT '',
    apartment_number TEXT NOT NULL,
    lease_start_date TIMESTAMPTZ,
    lease_end_date TIMESTAMPTZ,
    current_rent NUMERIC NOT NULL DEFAULT 0,
    min_lease_amount NUMERIC NOT NULL DEFAULT 0,
    max_lease_amount NUMERIC NOT NULL DEFAULT 0,
    lease_status TEXT NOT NULL DEFAULT '',
    building TEXT NOT NULL DEFAULT '',
    city TEXT NOT NULL DEFAULT '',
    owner_name TEXT NOT NULL DEFAULT '',
    owner_email TEXT NOT NULL DEFAULT '',
    owner_contact_number TEXT NOT NULL DEFAULT '',
    renewal_terms TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_%s_tenant_name ON %s (LOWER(tenant_name));
CREATE TABLE IF NOT EXISTS %s (
    tenant_id BIGINT PRIMARY KEY REFERENCES %s (tenant_id),
    status TEXT NOT NULL DEFAULT ''
);
`, leaseTable, leaseTable, leaseTable, rentTable, leaseTable)

	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create lease tables: %w", err)
	}
	return nil
}

// VerifyTenant reports whether a tenant with the given name holds any
// lease, returning the tenant id on a match.
func (s *Store) VerifyTenant(ctx context.Context, tenantName string) (int64, bool, error) {
	query := fmt.Sprintf(
		`SELECT tenant_id FROM %s WHERE LOWER(tenant_name) = LOWER($1) LIMIT 1`, leaseTable)

	var id int64
	err := s.pool.QueryRow(ctx, query, tenantName).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("verify tenant: %w", err)
	}
	return id, true, nil
}

// VerifyApartment reports whether the apartment matches the tenant's
// lease record.
func (s *Store) VerifyApartment(ctx context.Context, tenantName, apartmentNumber string) (bool, error) {
	query := fmt.Sprintf(
		`SELECT 1 FROM %s WHERE LOWER(tenant_name) = LOWER($1) AND LOWER(apartment_number) = LOWER($2) LIMIT 1`,
		leaseTable)

	var one int
	err := s.pool.QueryRow(ctx, query, tenantName, apartmentNumber).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("verify apartment: %w", err)
	}
	return true, nil
}

// VerifyPhone reports whether the phone number matches the tenant's
// record. The number must match exactly as stored.
func (s *Store) VerifyPhone(ctx context.Context, tenantName, phoneNumber string) (bool, error) {
	query := fmt.Sprintf(
		`SELECT 1 FROM %s WHERE LOWER(tenant_name) = LOWER($1) AND tenant_phone = $2 LIMIT 1`, leaseTable)

	var one int
	err := s.pool.QueryRow(ctx, query, tenantName, phoneNumber).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("verify phone: %w", err)
	}
	return true, nil
}

// TenantEmail returns the tenant's email for notifications.
func (s *Store) TenantEmail(ctx context.Context, tenantName, apartmentNumber string) (string, error) {
	query := fmt.Sprintf(
		`SELECT tenant_email FROM %s WHERE LOWER(tenant_name) = LOWER($1) AND LOWER(apartment_number) = LOWER($2) LIMIT 1`,
		leaseTable)

	var email string
	err := s.pool.QueryRow(ctx, query, tenantName, apartmentNumber).Scan(&email)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("tenant email: %w", err)
	}
	return email, nil
}

// LeaseDetails returns the full renewal view of the tenant's lease.
func (s *Store) LeaseDetails(ctx context.Context, tenantName, apartmentNumber string) (*LeaseDetails, error) {
	query := fmt.Sprintf(`
SELECT tenant_email, tenant_phone, lease_start_date, lease_end_date,
       current_rent, min_lease_amount, max_lease_amount, lease_status,
       building, city, owner_name, owner_email, owner_contact_number,
       renewal_terms
FROM %s
WHERE LOWER(tenant_name) = LOWER($1) AND LOWER(apartment_number) = LOWER($2)
LIMIT 1`, leaseTable)

	var d LeaseDetails
	err := s.pool.QueryRow(ctx, query, tenantName, apartmentNumber).Scan(
		&d.TenantEmail, &d.TenantPhone, &d.LeaseStart, &d.LeaseEnd,
		&d.CurrentRent, &d.MinRent, &d.MaxRent, &d.Status,
		&d.Building, &d.City, &d.OwnerName, &d.OwnerEmail, &d.OwnerContact,
		&d.IncreasePercentage,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lease details: %w", err)
	}
	return &d, nil
}

// RentStatus joins the lease with its rent payment standing.
func (s *Store) RentStatus(ctx context.Context, tenantName, apartmentNumber string) (*RentStatus, error) {
	query := fmt.Sprintf(`
SELECT l.tenant_name, l.apartment_number, l.current_rent, l.lease_status,
       l.lease_end_date, COALESCE(r.status, '')
FROM %s l
LEFT JOIN %s r ON l.tenant_id = r.tenant_id
WHERE LOWER(l.tenant_name) = LOWER($1) AND LOWER(l.apartment_number) = LOWER($2)
LIMIT 1`, leaseTable, rentTable)

	var rs RentStatus
	err := s.pool.QueryRow(ctx, query, tenantName, apartmentNumber).Scan(
		&rs.TenantName, &rs.ApartmentNumber, &rs.CurrentRent,
		&rs.LeaseStatus, &rs.LeaseEnd, &rs.RentStatus,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("rent status: %w", err)
	}
	return &rs, nil
}

// Close releases the pool.
func (s *Store) Close() {
	if s != nil && s.pool != nil {
		s.pool.Close()
	}
}
