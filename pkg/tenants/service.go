package tenants

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Service manages tenant records
type Service interface {
	CreateTenant(ctx context.Context, tenant *Tenant) error
	GetTenant(ctx context.Context, id int64) (*Tenant, error)
	GetTenantBySlug(ctx context.Context, slug string) (*Tenant, error)
	ListTenants(ctx context.Context) ([]*Tenant, error)
}

// DBTX is satisfied by both *sql.DB and *sql.Tx
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// PostgresService implements Service on the apps table
type PostgresService struct {
	db DBTX
}

// NewPostgresService creates a new PostgresService. db may be a transaction.
func NewPostgresService(db DBTX) *PostgresService {
	return &PostgresService{db: db}
}

// CreateTenant inserts a tenant, deriving the slug from the name when empty
func (s *PostgresService) CreateTenant(ctx context.Context, tenant *Tenant) error {
	if tenant.Slug == "" {
		tenant.Slug = generateSlug(tenant.Name)
	}
	if tenant.Slug == "" {
		return fmt.Errorf("tenant slug is required")
	}

	now := time.Now().UTC()
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO apps (slug, name, created_at, updated_at) VALUES ($1, $2, $3, $4) RETURNING id`,
		tenant.Slug, tenant.Name, now, now,
	).Scan(&tenant.ID)
	if err != nil {
		return fmt.Errorf("failed to create tenant: %w", err)
	}

	tenant.CreatedAt = now
	tenant.UpdatedAt = now
	return nil
}

// GetTenant retrieves a tenant by ID
func (s *PostgresService) GetTenant(ctx context.Context, id int64) (*Tenant, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, slug, name, created_at, updated_at FROM apps WHERE id = $1`, id)
	return scanTenant(row)
}

// GetTenantBySlug retrieves a tenant by slug
func (s *PostgresService) GetTenantBySlug(ctx context.Context, slug string) (*Tenant, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, slug, name, created_at, updated_at FROM apps WHERE slug = $1`, slug)
	return scanTenant(row)
}

// ListTenants returns all tenants ordered by slug
func (s *PostgresService) ListTenants(ctx context.Context) ([]*Tenant, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, slug, name, created_at, updated_at FROM apps ORDER BY slug`)
	if err != nil {
		return nil, fmt.Errorf("failed to list tenants: %w", err)
	}
	defer rows.Close()

	var result []*Tenant
	for rows.Next() {
		tenant, err := scanTenant(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, tenant)
	}
	return result, rows.Err()
}

func scanTenant(scanner interface{ Scan(...interface{}) error }) (*Tenant, error) {
	tenant := &Tenant{}
	err := scanner.Scan(&tenant.ID, &tenant.Slug, &tenant.Name, &tenant.CreatedAt, &tenant.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTenantNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan tenant: %w", err)
	}
	return tenant, nil
}
