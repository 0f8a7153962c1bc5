package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"time"

	"github.com/pressly/goose/v3"

	"incident-desk/core/utils"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

func gooseDialect(dialect Dialect) goose.Dialect {
	if dialect == DialectPostgres {
		return goose.DialectPostgres
	}
	return goose.DialectSQLite3
}

func ApplyMigrations(ctx context.Context, db *sql.DB, dialect Dialect, logger *utils.Logger) error {
	fsys, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("migrations fs: %w", err)
	}
	provider, err := goose.NewProvider(gooseDialect(dialect), db, fsys)
	if err != nil {
		return fmt.Errorf("goose provider: %w", err)
	}
	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	for _, r := range results {
		if r == nil || r.Source == nil {
			continue
		}
		logger.Printf("migration applied version=%d dur=%s", r.Source.Version, r.Duration)
	}
	return nil
}

type seedIncident struct {
	id, title, status, urgency, customer string
}

var sampleCustomers = []Customer{
	{ID: "1004155", FirstName: "Daniel", LastName: "Watts", Email: "daniel.watts@demo.com", Phone: "+44-555-123"},
	{ID: "1004161", FirstName: "Stormy", LastName: "Weathers", Email: "stormy.weathers@demo.com", Phone: ""},
	{ID: "1004100", FirstName: "Sunny", LastName: "Sunshine", Email: "sunny.sunshine@demo.com", Phone: "+01-555-789"},
}

var sampleIncidents = []seedIncident{
	{"3b23bb4b-4ac7-4a24-ac02-aa10cabd842c", "Inverter not functional", "C", "H", "1004155"},
	{"3a4ede72-244a-4f5f-8efa-b17e032d01ee", "No current on a sunny day", "C", "H", "1004155"},
	{"3ccf474c-3881-44b7-99fb-59a2a4668418", "Strange noise when switching off Inverter", "N", "M", "1004161"},
	{"3583f982-d7df-4aad-ab26-301d4a157cd7", "Solar panel broken", "I", "H", "1004100"},
}

// SeedSampleData inserts the demo customers and incidents unless they exist.
func SeedSampleData(ctx context.Context, db *sql.DB, dialect Dialect) error {
	conn := bind(db, dialect)
	now := time.Now().UTC()
	for _, c := range sampleCustomers {
		if _, err := conn.ExecContext(ctx, `
			INSERT INTO customers(id, first_name, last_name, email, phone, created_at)
			VALUES(?,?,?,?,?,?) ON CONFLICT (id) DO NOTHING`,
			c.ID, c.FirstName, c.LastName, c.Email, c.Phone, now); err != nil {
			return fmt.Errorf("seed customer %s: %w", c.ID, err)
		}
	}
	for _, inc := range sampleIncidents {
		if _, err := conn.ExecContext(ctx, `
			INSERT INTO incidents(id, title, status_code, urgency_code, customer_id, created_at, created_by, modified_at, modified_by, version)
			VALUES(?,?,?,?,?,?,?,?,?,1) ON CONFLICT (id) DO NOTHING`,
			inc.id, inc.title, inc.status, inc.urgency, inc.customer, now, "system", now, "system"); err != nil {
			return fmt.Errorf("seed incident %s: %w", inc.id, err)
		}
	}
	return nil
}
