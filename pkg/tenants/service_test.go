package tenants

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockService(t *testing.T) (*PostgresService, sqlmock.Sqlmock, *sql.DB) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	return NewPostgresService(db), mock, db
}

func TestGenerateSlug(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "simple name", input: "Tickets", expected: "tickets"},
		{name: "name with spaces", input: "Help Desk", expected: "help-desk"},
		{name: "digits and dashes", input: "News-2024", expected: "news-2024"},
		{name: "invalid chars", input: " Admin@Console! ", expected: "adminconsole"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, generateSlug(tt.input))
		})
	}
}

func TestCreateTenant(t *testing.T) {
	service, mock, db := newMockService(t)
	defer db.Close()

	t.Run("derives slug from name", func(t *testing.T) {
		mock.ExpectQuery(`INSERT INTO apps \(slug, name, created_at, updated_at\)`).
			WithArgs("help-desk", "Help Desk", sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(7))

		tenant := &Tenant{Name: "Help Desk"}
		require.NoError(t, service.CreateTenant(context.Background(), tenant))
		assert.Equal(t, int64(7), tenant.ID)
		assert.Equal(t, "help-desk", tenant.Slug)
		assert.False(t, tenant.CreatedAt.IsZero())
	})

	t.Run("empty slug rejected", func(t *testing.T) {
		err := service.CreateTenant(context.Background(), &Tenant{Name: "!!!"})
		assert.Error(t, err)
	})

	t.Run("insert failure", func(t *testing.T) {
		mock.ExpectQuery(`INSERT INTO apps`).
			WillReturnError(errors.New("duplicate key"))

		err := service.CreateTenant(context.Background(), &Tenant{Slug: "tickets", Name: "Tickets"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to create tenant")
	})

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetTenantBySlug(t *testing.T) {
	service, mock, db := newMockService(t)
	defer db.Close()
	now := time.Now()

	t.Run("found", func(t *testing.T) {
		mock.ExpectQuery(`SELECT id, slug, name, created_at, updated_at FROM apps WHERE slug = \$1`).
			WithArgs("tickets").
			WillReturnRows(sqlmock.NewRows([]string{"id", "slug", "name", "created_at", "updated_at"}).
				AddRow(3, "tickets", "Tickets", now, now))

		tenant, err := service.GetTenantBySlug(context.Background(), "tickets")
		require.NoError(t, err)
		assert.Equal(t, int64(3), tenant.ID)
		assert.Equal(t, "Tickets", tenant.Name)
	})

	t.Run("not found", func(t *testing.T) {
		mock.ExpectQuery(`SELECT id, slug, name, created_at, updated_at FROM apps WHERE slug = \$1`).
			WithArgs("nope").
			WillReturnError(sql.ErrNoRows)

		_, err := service.GetTenantBySlug(context.Background(), "nope")
		assert.ErrorIs(t, err, ErrTenantNotFound)
	})

	t.Run("database error", func(t *testing.T) {
		mock.ExpectQuery(`SELECT id, slug, name, created_at, updated_at FROM apps WHERE slug = \$1`).
			WithArgs("tickets").
			WillReturnError(errors.New("connection refused"))

		_, err := service.GetTenantBySlug(context.Background(), "tickets")
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrTenantNotFound)
	})

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetTenant(t *testing.T) {
	service, mock, db := newMockService(t)
	defer db.Close()
	now := time.Now()

	mock.ExpectQuery(`SELECT id, slug, name, created_at, updated_at FROM apps WHERE id = \$1`).
		WithArgs(int64(5)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "slug", "name", "created_at", "updated_at"}).
			AddRow(5, "newsletters", "Newsletters", now, now))

	tenant, err := service.GetTenant(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, "newsletters", tenant.Slug)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListTenants(t *testing.T) {
	service, mock, db := newMockService(t)
	defer db.Close()
	now := time.Now()

	mock.ExpectQuery(`SELECT id, slug, name, created_at, updated_at FROM apps ORDER BY slug`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "slug", "name", "created_at", "updated_at"}).
			AddRow(2, "hub", "Hub", now, now).
			AddRow(1, "tickets", "Tickets", now, now))

	list, err := service.ListTenants(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "hub", list[0].Slug)
	assert.Equal(t, "tickets", list[1].Slug)
	require.NoError(t, mock.ExpectationsWereMet())
}
