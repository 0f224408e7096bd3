package catalog

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/apotheca/apotheca/internal/platform/db"
	"github.com/apotheca/apotheca/internal/sequence"
	"github.com/apotheca/apotheca/internal/shared"
)

// ListFilters narrows catalog listings.
type ListFilters struct {
	Page   int
	Limit  int
	Search string
}

// Repository exposes catalog persistence.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetByCode(ctx context.Context, code string) (Item, error)
	List(ctx context.Context, filters ListFilters) ([]Item, int, error)
}

// TxRepository performs catalog writes inside a transaction.
type TxRepository interface {
	NextCode(ctx context.Context) (string, error)
	ObserveCode(ctx context.Context, code string) error
	Insert(ctx context.Context, item Item) (Item, error)
	UpdatePrices(ctx context.Context, code string, cost, selling decimal.Decimal) (Item, error)
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

const itemColumns = `id, code, generic_name, COALESCE(brand_name, ''), strength, form, pack_size,
	cost_price, selling_price, display_name, slug, created_at, updated_at`

func scanItem(row pgx.Row) (Item, error) {
	var it Item
	err := row.Scan(&it.ID, &it.Code, &it.GenericName, &it.BrandName, &it.Strength, &it.Form, &it.PackSize,
		&it.CostPrice, &it.SellingPrice, &it.DisplayName, &it.Slug, &it.CreatedAt, &it.UpdatedAt)
	return it, err
}

// GetByCode loads an item by its five digit code.
func (r *PgRepository) GetByCode(ctx context.Context, code string) (Item, error) {
	it, err := scanItem(r.pool.QueryRow(ctx, `SELECT `+itemColumns+` FROM catalog_items WHERE code = $1`, code))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Item{}, ErrNotFound
		}
		return Item{}, fmt.Errorf("catalog: get %s: %w", code, err)
	}
	return it, nil
}

// List returns items ordered by code, filtered by a case insensitive search
// over the generic and brand names.
func (r *PgRepository) List(ctx context.Context, filters ListFilters) ([]Item, int, error) {
	where := ` WHERE 1=1`
	args := []any{}
	if filters.Search != "" {
		args = append(args, "%"+filters.Search+"%")
		n := strconv.Itoa(len(args))
		where += ` AND (generic_name ILIKE $` + n + ` OR brand_name ILIKE $` + n + ` OR code = $` + n + `)`
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM catalog_items`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("catalog: count: %w", err)
	}

	limit, offset := shared.PageWindow(filters.Page, filters.Limit)
	args = append(args, limit, offset)
	rows, err := r.pool.Query(ctx, `SELECT `+itemColumns+` FROM catalog_items`+where+
		` ORDER BY code LIMIT $`+strconv.Itoa(len(args)-1)+` OFFSET $`+strconv.Itoa(len(args)), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("catalog: list: %w", err)
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, it)
	}
	return items, total, rows.Err()
}

func (r *txRepo) NextCode(ctx context.Context) (string, error) {
	return sequence.Next(ctx, r.tx, sequence.CatalogItem)
}

func (r *txRepo) ObserveCode(ctx context.Context, code string) error {
	return sequence.Observe(ctx, r.tx, sequence.CatalogItem, code)
}

func (r *txRepo) Insert(ctx context.Context, item Item) (Item, error) {
	var brand any
	if item.BrandName != "" {
		brand = item.BrandName
	}
	err := r.tx.QueryRow(ctx, `INSERT INTO catalog_items
		(code, generic_name, brand_name, strength, form, pack_size, cost_price, selling_price, display_name, slug, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW(), NOW())
		RETURNING id, created_at, updated_at`,
		item.Code, item.GenericName, brand, item.Strength, item.Form, item.PackSize,
		item.CostPrice, item.SellingPrice, item.DisplayName, item.Slug,
	).Scan(&item.ID, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return Item{}, fmt.Errorf("%w (%s)", ErrDuplicate, db.ConstraintName(err))
		}
		return Item{}, fmt.Errorf("catalog: insert: %w", err)
	}
	return item, nil
}

func (r *txRepo) UpdatePrices(ctx context.Context, code string, cost, selling decimal.Decimal) (Item, error) {
	it, err := scanItem(r.tx.QueryRow(ctx, `UPDATE catalog_items
		SET cost_price = $2, selling_price = $3, updated_at = NOW()
		WHERE code = $1
		RETURNING `+itemColumns, code, cost, selling))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Item{}, ErrNotFound
		}
		return Item{}, fmt.Errorf("catalog: update prices %s: %w", code, err)
	}
	return it, nil
}
