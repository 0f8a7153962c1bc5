package store

import (
	"context"
	"database/sql"
	"errors"
)

type Customer struct {
	ID        string `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
	Phone     string `json:"phone,omitempty"`
}

type CustomersStore interface {
	GetCustomer(ctx context.Context, id string) (*Customer, error)
	ListCustomers(ctx context.Context) ([]Customer, error)
}

type customersStore struct {
	db DBTX
}

func NewCustomersStore(db DBTX, dialect Dialect) CustomersStore {
	return &customersStore{db: bind(db, dialect)}
}

func (s *customersStore) GetCustomer(ctx context.Context, id string) (*Customer, error) {
	var c Customer
	err := s.db.QueryRowContext(ctx, `SELECT id, first_name, last_name, email, phone FROM customers WHERE id=?`, id).
		Scan(&c.ID, &c.FirstName, &c.LastName, &c.Email, &c.Phone)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

func (s *customersStore) ListCustomers(ctx context.Context) ([]Customer, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, first_name, last_name, email, phone FROM customers ORDER BY last_name ASC, first_name ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Customer
	for rows.Next() {
		var c Customer
		if err := rows.Scan(&c.ID, &c.FirstName, &c.LastName, &c.Email, &c.Phone); err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}
