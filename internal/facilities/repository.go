package facilities

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/apotheca/apotheca/internal/platform/db"
	"github.com/apotheca/apotheca/internal/shared"
)

// Repository persists facilities.
type Repository interface {
	List(ctx context.Context, filters ListFilters) ([]Facility, int, error)
	Get(ctx context.Context, id int64) (Facility, error)
	Create(ctx context.Context, facility Facility) (Facility, error)
	SetActive(ctx context.Context, id int64, active bool) error
}

type repository struct {
	db db.Querier
}

// NewRepository builds a PostgreSQL backed Repository.
func NewRepository(q db.Querier) Repository {
	return &repository{db: q}
}

const facilityColumns = `id, name, city, region, country, staff_number, is_active, date_added, modified_at`

func scanFacility(row pgx.Row) (Facility, error) {
	var f Facility
	err := row.Scan(&f.ID, &f.Name, &f.City, &f.Region, &f.Country, &f.StaffNumber, &f.IsActive, &f.AddedAt, &f.ModifiedAt)
	return f, err
}

func (r *repository) List(ctx context.Context, filters ListFilters) ([]Facility, int, error) {
	where := ` WHERE 1=1`
	args := []any{}

	if filters.Search != "" {
		args = append(args, "%"+filters.Search+"%")
		n := strconv.Itoa(len(args))
		where += ` AND (name ILIKE $` + n + ` OR city ILIKE $` + n + `)`
	}
	if filters.IsActive != nil {
		args = append(args, *filters.IsActive)
		where += ` AND is_active = $` + strconv.Itoa(len(args))
	}

	var total int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM facilities`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("facilities: count: %w", err)
	}

	limit, offset := shared.PageWindow(filters.Page, filters.Limit)
	args = append(args, limit, offset)
	query := `SELECT ` + facilityColumns + ` FROM facilities` + where +
		` ORDER BY name ASC LIMIT $` + strconv.Itoa(len(args)-1) + ` OFFSET $` + strconv.Itoa(len(args))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("facilities: list: %w", err)
	}
	defer rows.Close()

	var out []Facility
	for rows.Next() {
		f, err := scanFacility(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, f)
	}
	return out, total, rows.Err()
}

func (r *repository) Get(ctx context.Context, id int64) (Facility, error) {
	f, err := scanFacility(r.db.QueryRow(ctx, `SELECT `+facilityColumns+` FROM facilities WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Facility{}, ErrNotFound
		}
		return Facility{}, fmt.Errorf("facilities: get %d: %w", id, err)
	}
	return f, nil
}

func (r *repository) Create(ctx context.Context, facility Facility) (Facility, error) {
	now := time.Now().UTC()
	err := r.db.QueryRow(ctx,
		`INSERT INTO facilities (name, city, region, country, staff_number, is_active, date_added, modified_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $7) RETURNING id`,
		facility.Name, facility.City, facility.Region, facility.Country, facility.StaffNumber, facility.IsActive, now,
	).Scan(&facility.ID)
	if err != nil {
		return Facility{}, fmt.Errorf("facilities: create: %w", err)
	}
	facility.AddedAt = now
	facility.ModifiedAt = now
	return facility, nil
}

func (r *repository) SetActive(ctx context.Context, id int64, active bool) error {
	tag, err := r.db.Exec(ctx, `UPDATE facilities SET is_active = $1, modified_at = NOW() WHERE id = $2`, active, id)
	if err != nil {
		return fmt.Errorf("facilities: set active %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
