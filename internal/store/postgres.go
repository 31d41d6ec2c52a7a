package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/otpgate/apiserver/types"
)

const uniqueViolation = "23505"

// PostgresUserRepository stores user documents as JSONB rows in the
// documents table, keyed by (collection, id).
type PostgresUserRepository struct {
	db         *sql.DB
	collection string
}

func NewPostgresUserRepository(db *sql.DB, collection string) *PostgresUserRepository {
	return &PostgresUserRepository{db: db, collection: collection}
}

func (r *PostgresUserRepository) GetByID(ctx context.Context, id string) (types.User, error) {
	const query = `
		SELECT id, data
		FROM documents
		WHERE collection = $1 AND id = $2 AND NOT (data ? 'type')`
	return r.scanOne(r.db.QueryRowContext(ctx, query, r.collection, id))
}

func (r *PostgresUserRepository) GetByEmail(ctx context.Context, email string) (types.User, error) {
	const query = `
		SELECT id, data
		FROM documents
		WHERE collection = $1 AND data->>'email' = $2 AND NOT (data ? 'type')
		LIMIT 1`
	return r.scanOne(r.db.QueryRowContext(ctx, query, r.collection, email))
}

func (r *PostgresUserRepository) ListByRole(ctx context.Context, role types.Role) ([]types.User, error) {
	const query = `
		SELECT id, data
		FROM documents
		WHERE collection = $1 AND data->>'role' = $2 AND NOT (data ? 'type')
		ORDER BY data->>'createdAt'`
	return r.scanAll(ctx, query, r.collection, string(role))
}

func (r *PostgresUserRepository) List(ctx context.Context) ([]types.User, error) {
	const query = `
		SELECT id, data
		FROM documents
		WHERE collection = $1 AND NOT (data ? 'type')
		ORDER BY id`
	return r.scanAll(ctx, query, r.collection)
}

func (r *PostgresUserRepository) Create(ctx context.Context, user types.User) (types.User, error) {
	user.ID = uuid.NewString()
	data, err := json.Marshal(newUserDocument(user))
	if err != nil {
		return types.User{}, err
	}

	const query = `
		INSERT INTO documents (collection, id, data)
		VALUES ($1, $2, $3)`
	if _, err := r.db.ExecContext(ctx, query, r.collection, user.ID, string(data)); err != nil {
		if isUniqueViolation(err) {
			return types.User{}, ErrConflict
		}
		return types.User{}, err
	}
	return user, nil
}

func (r *PostgresUserRepository) Update(ctx context.Context, user types.User) (types.User, error) {
	data, err := json.Marshal(newUserDocument(user))
	if err != nil {
		return types.User{}, err
	}

	const query = `
		UPDATE documents
		SET data = data || $3::jsonb
		WHERE collection = $1 AND id = $2 AND NOT (data ? 'type')`
	result, err := r.db.ExecContext(ctx, query, r.collection, user.ID, string(data))
	if err != nil {
		if isUniqueViolation(err) {
			return types.User{}, ErrConflict
		}
		return types.User{}, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return types.User{}, err
	}
	if affected == 0 {
		return types.User{}, ErrNotFound
	}
	return user, nil
}

func (r *PostgresUserRepository) Delete(ctx context.Context, id string) error {
	const query = `DELETE FROM documents WHERE collection = $1 AND id = $2 AND NOT (data ? 'type')`
	result, err := r.db.ExecContext(ctx, query, r.collection, id)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresUserRepository) scanOne(row *sql.Row) (types.User, error) {
	var (
		id   string
		data []byte
	)
	if err := row.Scan(&id, &data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.User{}, ErrNotFound
		}
		return types.User{}, err
	}
	return decodeUser(id, data)
}

func (r *PostgresUserRepository) scanAll(ctx context.Context, query string, args ...any) ([]types.User, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]types.User, 0)
	for rows.Next() {
		var (
			id   string
			data []byte
		)
		if err := rows.Scan(&id, &data); err != nil {
			return nil, err
		}
		user, err := decodeUser(id, data)
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

func decodeUser(id string, data []byte) (types.User, error) {
	var doc userDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return types.User{}, fmt.Errorf("decode user %s: %w", id, err)
	}
	doc.ID = id
	return doc.toUser(), nil
}

// PostgresActivityRepository stores activity records in the documents table.
type PostgresActivityRepository struct {
	db         *sql.DB
	collection string
}

func NewPostgresActivityRepository(db *sql.DB, collection string) *PostgresActivityRepository {
	return &PostgresActivityRepository{db: db, collection: collection}
}

func (r *PostgresActivityRepository) Upsert(ctx context.Context, record types.ActivityRecord) error {
	data, err := json.Marshal(newActivityDocument(record))
	if err != nil {
		return err
	}
	const query = `
		INSERT INTO documents (collection, id, data)
		VALUES ($1, $2, $3)
		ON CONFLICT (collection, id) DO UPDATE SET data = EXCLUDED.data`
	_, err = r.db.ExecContext(ctx, query, r.collection, record.DocumentID, string(data))
	return err
}

func (r *PostgresActivityRepository) Insert(ctx context.Context, record types.ActivityRecord) error {
	data, err := json.Marshal(newActivityDocument(record))
	if err != nil {
		return err
	}
	const query = `
		INSERT INTO documents (collection, id, data)
		VALUES ($1, $2, $3)
		ON CONFLICT (collection, id) DO NOTHING`
	result, err := r.db.ExecContext(ctx, query, r.collection, record.DocumentID, string(data))
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrConflict
	}
	return nil
}

func (r *PostgresActivityRepository) MaxSequence(ctx context.Context, activityType types.ActivityType, username string) (int64, error) {
	const query = `
		SELECT COALESCE(MAX((data->>'sequenceNumber')::bigint), 0)
		FROM documents
		WHERE collection = $1 AND data->>'type' = $2 AND data->>'username' = $3`
	var max int64
	if err := r.db.QueryRowContext(ctx, query, r.collection, string(activityType), username).Scan(&max); err != nil {
		return 0, err
	}
	return max, nil
}

func (r *PostgresActivityRepository) List(ctx context.Context) ([]types.ActivityRecord, error) {
	const query = `
		SELECT id, data
		FROM documents
		WHERE collection = $1 AND data->>'type' = ANY($2)
		ORDER BY data->>'timestamp'`
	rows, err := r.db.QueryContext(ctx, query, r.collection, pq.Array(activityTypes))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make([]types.ActivityRecord, 0)
	for rows.Next() {
		var (
			id   string
			data []byte
		)
		if err := rows.Scan(&id, &data); err != nil {
			return nil, err
		}
		var doc activityDocument
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("decode activity %s: %w", id, err)
		}
		doc.ID = id
		records = append(records, doc.toRecord())
	}
	return records, rows.Err()
}

// PostgresPinger reports database health.
type PostgresPinger struct {
	db *sql.DB
}

func NewPostgresPinger(db *sql.DB) *PostgresPinger {
	return &PostgresPinger{db: db}
}

func (p *PostgresPinger) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}
