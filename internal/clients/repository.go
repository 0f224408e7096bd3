package clients

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/apotheca/apotheca/internal/platform/db"
	"github.com/apotheca/apotheca/internal/sequence"
	"github.com/apotheca/apotheca/internal/shared"
)

// Repository exposes client persistence.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id string) (Client, error)
	List(ctx context.Context, filters ListFilters) ([]Client, int, error)
}

// TxRepository performs client writes inside a transaction.
type TxRepository interface {
	NextID(ctx context.Context) (string, error)
	Insert(ctx context.Context, c Client) (Client, error)
}

// PgRepository implements Repository with pgx.
type PgRepository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a repository.
func NewRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

type txRepo struct {
	tx pgx.Tx
}

// WithTx wraps fn within a transaction.
func (r *PgRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

const clientColumns = `client_id, first_name, last_name, gender, age, phone_number, member_type,
	insurance_company, insurance_id, corporate_company, corporate_id, parent_facility_id, date_joined`

func scanClient(row pgx.Row) (Client, error) {
	var c Client
	err := row.Scan(&c.ID, &c.FirstName, &c.LastName, &c.Gender, &c.Age, &c.PhoneNumber, &c.MemberType,
		&c.InsuranceCompany, &c.InsuranceID, &c.CorporateCompany, &c.CorporateID, &c.ParentFacilityID, &c.JoinedOn)
	return c, err
}

// Get loads a client by id.
func (r *PgRepository) Get(ctx context.Context, id string) (Client, error) {
	c, err := scanClient(r.pool.QueryRow(ctx, `SELECT `+clientColumns+` FROM clients WHERE client_id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Client{}, ErrNotFound
		}
		return Client{}, fmt.Errorf("clients: get %s: %w", id, err)
	}
	return c, nil
}

// List returns clients ordered by id. Search matches the id, phone number or
// either name.
func (r *PgRepository) List(ctx context.Context, filters ListFilters) ([]Client, int, error) {
	where := ` WHERE 1=1`
	args := []any{}
	if filters.FacilityID > 0 {
		args = append(args, filters.FacilityID)
		where += ` AND parent_facility_id = $` + strconv.Itoa(len(args))
	}
	if filters.Search != "" {
		args = append(args, "%"+filters.Search+"%")
		n := strconv.Itoa(len(args))
		where += ` AND (client_id ILIKE $` + n + ` OR phone_number ILIKE $` + n +
			` OR first_name ILIKE $` + n + ` OR last_name ILIKE $` + n + `)`
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM clients`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("clients: count: %w", err)
	}

	limit, offset := shared.PageWindow(filters.Page, filters.Limit)
	args = append(args, limit, offset)
	rows, err := r.pool.Query(ctx, `SELECT `+clientColumns+` FROM clients`+where+
		` ORDER BY client_id LIMIT $`+strconv.Itoa(len(args)-1)+` OFFSET $`+strconv.Itoa(len(args)), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("clients: list: %w", err)
	}
	defer rows.Close()

	var out []Client
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, c)
	}
	return out, total, rows.Err()
}

func (r *txRepo) NextID(ctx context.Context) (string, error) {
	return sequence.Next(ctx, r.tx, sequence.Client)
}

func (r *txRepo) Insert(ctx context.Context, c Client) (Client, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO clients
		(client_id, first_name, last_name, gender, age, phone_number, member_type,
		 insurance_company, insurance_id, corporate_company, corporate_id, parent_facility_id, date_joined)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, CURRENT_DATE)
		RETURNING date_joined`,
		c.ID, c.FirstName, c.LastName, c.Gender, c.Age, c.PhoneNumber, c.MemberType,
		c.InsuranceCompany, c.InsuranceID, c.CorporateCompany, c.CorporateID, c.ParentFacilityID,
	).Scan(&c.JoinedOn)
	if err != nil {
		switch {
		case db.IsForeignKeyViolation(err):
			return Client{}, ErrFacilityNotFound
		case db.IsUniqueViolation(err):
			return Client{}, fmt.Errorf("%w: client %s already exists", ErrValidation, c.ID)
		}
		return Client{}, fmt.Errorf("clients: insert: %w", err)
	}
	return c, nil
}
