package store

import (
	"context"
	"database/sql"
	"fmt"
)

// Tx exposes the stores bound to one open transaction.
type Tx interface {
	Incidents() IncidentsStore
	Drafts() DraftsStore
	Customers() CustomersStore
}

type Transactor interface {
	WithTx(ctx context.Context, fn func(tx Tx) error) error
}

type sqlTransactor struct {
	db      *sql.DB
	dialect Dialect
}

func NewTransactor(db *sql.DB, dialect Dialect) Transactor {
	return &sqlTransactor{db: db, dialect: dialect}
}

type boundTx struct {
	incidents IncidentsStore
	drafts    DraftsStore
	customers CustomersStore
}

func (t *boundTx) Incidents() IncidentsStore { return t.incidents }
func (t *boundTx) Drafts() DraftsStore       { return t.drafts }
func (t *boundTx) Customers() CustomersStore { return t.customers }

// WithTx commits when fn returns nil and rolls back otherwise, including on
// panic and context cancellation.
func (t *sqlTransactor) WithTx(ctx context.Context, fn func(tx Tx) error) (err error) {
	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	err = fn(&boundTx{
		incidents: NewIncidentsStore(tx, t.dialect),
		drafts:    NewDraftsStore(tx, t.dialect),
		customers: NewCustomersStore(tx, t.dialect),
	})
	if err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
