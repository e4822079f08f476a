package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/italolelis/batch_downloader/internal/storage"
)

// ProgressRepository implements storage.ProgressStore on top of SQLite.
type ProgressRepository struct {
	db         *sql.DB
	instanceID string
}

func NewProgressRepository(dbConn *sql.DB) *ProgressRepository {
	return &ProgressRepository{db: dbConn, instanceID: storage.InstanceID()}
}

func (r *ProgressRepository) Load(ctx context.Context) (storage.ProgressSet, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT identifier FROM completed`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	set := storage.NewProgressSet()

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}

		set.Add(id)
	}

	return set, rows.Err()
}

// MarkComplete records identifier; marking an already completed identifier is a no-op.
func (r *ProgressRepository) MarkComplete(ctx context.Context, identifier string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO completed (identifier, completed_at, completed_by)
		VALUES (?, ?, ?)
		ON CONFLICT(identifier) DO NOTHING
	`, identifier, time.Now().UTC().Format(time.RFC3339), r.instanceID)

	return err
}

func (r *ProgressRepository) Reset(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM completed`)

	return err
}

func (r *ProgressRepository) Close() error {
	return r.db.Close()
}
