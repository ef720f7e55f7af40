package repository

import (
	"context"
	"errors"
	"fmt"

	"foodmarket/pkg/metrics"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// invalid_text_representation: id заказа не является UUID
const pgInvalidTextRepresentation = "22P02"

// PgxQuerier - общая часть *pgxpool.Pool и pgxmock
type PgxQuerier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type directoryRepository struct {
	db PgxQuerier
}

// NewDirectoryRepository - чтение заказов и пользователей маркетплейса (только чтение)
func NewDirectoryRepository(db PgxQuerier) DirectoryRepository {
	return &directoryRepository{db: db}
}

// GetOrderBuyer возвращает id покупателя заказа
func (r *directoryRepository) GetOrderBuyer(ctx context.Context, orderID string) (string, error) {
	defer metrics.NewDbTimer(serviceName, metrics.DbOpSelect, "orders").ObserveDuration()

	var buyerID string
	err := r.db.QueryRow(ctx, `SELECT user_id::text FROM orders WHERE id = $1`, orderID).Scan(&buyerID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrOrderNotFound
		}
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgInvalidTextRepresentation {
			return "", ErrOrderNotFound
		}
		metrics.RecordDbError(serviceName, metrics.DbOpSelect)
		return "", fmt.Errorf("failed to get order buyer: %w", err)
	}

	return buyerID, nil
}

// GetDisplayNames возвращает имена авторов; неизвестные id в результат не попадают
func (r *directoryRepository) GetDisplayNames(ctx context.Context, userIDs []string) (map[string]string, error) {
	names := make(map[string]string, len(userIDs))
	if len(userIDs) == 0 {
		return names, nil
	}

	defer metrics.NewDbTimer(serviceName, metrics.DbOpSelect, "users").ObserveDuration()

	rows, err := r.db.Query(ctx, `SELECT id::text, name FROM users WHERE id::text = ANY($1)`, userIDs)
	if err != nil {
		metrics.RecordDbError(serviceName, metrics.DbOpSelect)
		return nil, fmt.Errorf("failed to query display names: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id, name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, fmt.Errorf("failed to scan display name: %w", err)
		}
		names[id] = name
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate display names: %w", err)
	}

	return names, nil
}
