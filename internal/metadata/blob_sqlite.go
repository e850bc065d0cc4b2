package metadata

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/openmined/artifactsync/internal/db"
	"github.com/openmined/artifactsync/internal/fingerprint"
)

const blobSchema = `
CREATE TABLE IF NOT EXISTS blobs (
    ref TEXT PRIMARY KEY,
    size INTEGER NOT NULL,
    fingerprint TEXT NOT NULL,
    data BLOB NOT NULL,
    created_at TEXT NOT NULL -- RFC3339
);
`

type dbBlob struct {
	Ref         string `db:"ref"`
	Size        int64  `db:"size"`
	Fingerprint string `db:"fingerprint"`
	Data        []byte `db:"data"`
	CreatedAt   string `db:"created_at"`
}

// SqliteBlobStore keeps blobs in a sqlite database next to the metadata documents.
type SqliteBlobStore struct {
	db     *sqlx.DB
	dbPath string
}

// NewSqliteBlobStore opens (or creates) the blob database. Use ":memory:" for tests.
func NewSqliteBlobStore(dbPath string) (*SqliteBlobStore, error) {
	database, err := db.NewSqliteDB(db.WithPath(dbPath), db.WithMaxOpenConns(1))
	if err != nil {
		return nil, fmt.Errorf("failed to open blob store: %w", err)
	}

	if _, err := database.Exec(blobSchema); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to initialize blob schema: %w", err)
	}

	return &SqliteBlobStore{db: database, dbPath: dbPath}, nil
}

func (s *SqliteBlobStore) Put(ctx context.Context, ref string, data []byte) error {
	if data == nil {
		data = []byte{}
	}
	row := dbBlob{
		Ref:         ref,
		Size:        int64(len(data)),
		Fingerprint: fingerprint.Sum(data).String(),
		Data:        data,
		CreatedAt:   time.Now().UTC().Format(time.RFC3339),
	}
	query := `INSERT OR REPLACE INTO blobs (ref, size, fingerprint, data, created_at)
	          VALUES (:ref, :size, :fingerprint, :data, :created_at)`
	if _, err := s.db.NamedExecContext(ctx, query, row); err != nil {
		return fmt.Errorf("failed to put blob %s: %w", ref, err)
	}
	return nil
}

func (s *SqliteBlobStore) Get(ctx context.Context, ref string) ([]byte, error) {
	var row dbBlob
	err := s.db.GetContext(ctx, &row, "SELECT ref, size, fingerprint, data, created_at FROM blobs WHERE ref = ?", ref)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrBlobNotFound, ref)
		}
		return nil, fmt.Errorf("failed to get blob %s: %w", ref, err)
	}

	if got := fingerprint.Sum(row.Data).String(); got != row.Fingerprint {
		return nil, fmt.Errorf("%w: blob %s fingerprint %s, expected %s", ErrStoreCorrupt, ref, got, row.Fingerprint)
	}
	return row.Data, nil
}

func (s *SqliteBlobStore) Delete(ctx context.Context, ref string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM blobs WHERE ref = ?", ref); err != nil {
		return fmt.Errorf("failed to delete blob %s: %w", ref, err)
	}
	return nil
}

func (s *SqliteBlobStore) List(ctx context.Context, prefix string) ([]string, error) {
	var refs []string
	err := s.db.SelectContext(ctx, &refs, "SELECT ref FROM blobs WHERE substr(ref, 1, ?) = ? ORDER BY ref", len(prefix), prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list blobs: %w", err)
	}
	return refs, nil
}

func (s *SqliteBlobStore) Close() error {
	if err := s.db.Close(); err != nil {
		slog.Error("failed to close blob store", "path", s.dbPath, "error", err)
		return err
	}
	return nil
}

var _ BlobStore = (*SqliteBlobStore)(nil)

// hasPrefix is shared by stores that cannot filter server side.
func hasPrefix(ref, prefix string) bool {
	return prefix == "" || strings.HasPrefix(ref, prefix)
}
