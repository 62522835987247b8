package document

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/bull/ragindex/internal/document/migrations"
)

// SQLStore is the SQLite-backed Document Store and catalog.
type SQLStore struct {
	db   *sql.DB
	path string
	now  func() time.Time
}

var (
	_ Store         = (*SQLStore)(nil)
	_ Catalog       = (*SQLStore)(nil)
	_ StatusCounter = (*SQLStore)(nil)
)

// Open opens (creating if needed) the database file at path and applies pending migrations.
func Open(path string) (*SQLStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// A single connection serialises writers; SQLite allows only one anyway.
	db.SetMaxOpenConns(1)

	s := &SQLStore{db: db, path: path, now: func() time.Time { return time.Now().UTC() }}
	if err := s.migrate(migrations.FS); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *SQLStore) Path() string {
	return s.path
}

// Health pings the database.
func (s *SQLStore) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLStore) migrate(fsys fs.FS) error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	var current int
	if err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&current); err != nil {
		return fmt.Errorf("getting current version: %w", err)
	}

	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}
	var upFiles []string
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), ".up.sql") {
			upFiles = append(upFiles, entry.Name())
		}
	}
	sort.Strings(upFiles)

	for _, name := range upFiles {
		var version int
		if _, err := fmt.Sscanf(name, "%d_", &version); err != nil {
			continue
		}
		if version <= current {
			continue
		}
		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", name, err)
		}
		if _, err := s.db.Exec(string(content)); err != nil {
			return fmt.Errorf("executing migration %s: %w", name, err)
		}
		if _, err := s.db.Exec("INSERT INTO schema_migrations (version) VALUES (?)", version); err != nil {
			return fmt.Errorf("recording migration %s: %w", name, err)
		}
	}
	return nil
}

// ==================== Catalog ====================

// CreateOrganization inserts a tenant.
func (s *SQLStore) CreateOrganization(ctx context.Context, name string) (*Organization, error) {
	org := &Organization{ID: uuid.NewString(), Name: name, CreatedAt: s.now()}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO organizations (id, name, created_at) VALUES (?, ?, ?)",
		org.ID, org.Name, formatTime(org.CreatedAt))
	if err != nil {
		return nil, fmt.Errorf("inserting organization: %w", err)
	}
	return org, nil
}

// CreateCollection inserts a collection owned by tenantID.
func (s *SQLStore) CreateCollection(ctx context.Context, tenantID, name string) (*Collection, error) {
	c := &Collection{ID: uuid.NewString(), TenantID: tenantID, Name: name, CreatedAt: s.now()}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO collections (id, organization_id, name, created_at) VALUES (?, ?, ?, ?)",
		c.ID, c.TenantID, c.Name, formatTime(c.CreatedAt))
	if err != nil {
		return nil, classifyWriteError("inserting collection", err, ErrOrganizationNotFound)
	}
	return c, nil
}

// CreateCategory inserts a category under a collection of the same tenant.
func (s *SQLStore) CreateCategory(ctx context.Context, tenantID, collectionID, name string) (*Category, error) {
	ok, err := s.CollectionExists(ctx, tenantID, collectionID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, CollectionNotFound(collectionID)
	}

	c := &Category{ID: uuid.NewString(), TenantID: tenantID, CollectionID: collectionID, Name: name, CreatedAt: s.now()}
	_, err = s.db.ExecContext(ctx,
		"INSERT INTO categories (id, organization_id, collection_id, name, created_at) VALUES (?, ?, ?, ?, ?)",
		c.ID, c.TenantID, c.CollectionID, c.Name, formatTime(c.CreatedAt))
	if err != nil {
		return nil, classifyWriteError("inserting category", err, ErrCollectionNotFound)
	}
	return c, nil
}

// CollectionExists reports whether the collection exists for the tenant.
func (s *SQLStore) CollectionExists(ctx context.Context, tenantID, collectionID string) (bool, error) {
	return s.exists(ctx, "SELECT 1 FROM collections WHERE id = ? AND organization_id = ?", collectionID, tenantID)
}

// CategoryExists reports whether the category exists for the tenant.
func (s *SQLStore) CategoryExists(ctx context.Context, tenantID, categoryID string) (bool, error) {
	return s.exists(ctx, "SELECT 1 FROM categories WHERE id = ? AND organization_id = ?", categoryID, tenantID)
}

// GetCategory loads a category scoped to a tenant.
func (s *SQLStore) GetCategory(ctx context.Context, tenantID, categoryID string) (*Category, error) {
	var c Category
	var created string
	err := s.db.QueryRowContext(ctx,
		"SELECT id, organization_id, collection_id, name, created_at FROM categories WHERE id = ? AND organization_id = ?",
		categoryID, tenantID).Scan(&c.ID, &c.TenantID, &c.CollectionID, &c.Name, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, CategoryNotFound(categoryID)
	}
	if err != nil {
		return nil, fmt.Errorf("querying category: %w", err)
	}
	c.CreatedAt = parseTime(created)
	return &c, nil
}

func (s *SQLStore) exists(ctx context.Context, query string, args ...any) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("existence check: %w", err)
	}
	return true, nil
}

// ==================== Documents ====================

const documentColumns = `d.id, d.organization_id, c.collection_id, d.category_id, d.name, d.storage_uri, d.status, d.revision, d.created_at, d.updated_at`

// Create inserts a document in PENDING.
func (s *SQLStore) Create(ctx context.Context, n NewDocument) (*Document, error) {
	if err := n.Validate(); err != nil {
		return nil, err
	}
	cat, err := s.GetCategory(ctx, n.TenantID, n.CategoryID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	doc := &Document{
		ID:           uuid.NewString(),
		TenantID:     n.TenantID,
		CollectionID: cat.CollectionID,
		CategoryID:   n.CategoryID,
		Name:         n.Name,
		StorageURI:   n.StorageURI,
		Status:       StatusPending,
		Revision:     1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO documents (id, organization_id, category_id, name, storage_uri, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		doc.ID, doc.TenantID, doc.CategoryID, doc.Name, doc.StorageURI, string(doc.Status),
		formatTime(doc.CreatedAt), formatTime(doc.UpdatedAt))
	if err != nil {
		return nil, classifyWriteError("inserting document", err, ErrCategoryNotFound)
	}
	return doc, nil
}

// Get loads a document scoped to a tenant.
func (s *SQLStore) Get(ctx context.Context, tenantID, documentID string) (*Document, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+documentColumns+`
		FROM documents d JOIN categories c ON c.id = d.category_id
		WHERE d.id = ? AND d.organization_id = ?`, documentID, tenantID)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrDocumentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying document: %w", err)
	}
	return doc, nil
}

// ListByCollection returns every document of the collection, oldest first.
func (s *SQLStore) ListByCollection(ctx context.Context, tenantID, collectionID string) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+documentColumns+`
		FROM documents d JOIN categories c ON c.id = d.category_id
		WHERE c.collection_id = ? AND d.organization_id = ? AND c.organization_id = ?
		ORDER BY d.created_at, d.id`, collectionID, tenantID, tenantID)
	if err != nil {
		return nil, fmt.Errorf("querying documents: %w", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning document: %w", err)
		}
		docs = append(docs, *doc)
	}
	return docs, rows.Err()
}

// CountByStatus returns the number of documents per status in a collection.
func (s *SQLStore) CountByStatus(ctx context.Context, tenantID, collectionID string) (map[Status]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT d.status, COUNT(*)
		FROM documents d JOIN categories c ON c.id = d.category_id
		WHERE c.collection_id = ? AND d.organization_id = ?
		GROUP BY d.status`, collectionID, tenantID)
	if err != nil {
		return nil, fmt.Errorf("counting documents: %w", err)
	}
	defer rows.Close()

	counts := make(map[Status]int)
	for rows.Next() {
		var st string
		var n int
		if err := rows.Scan(&st, &n); err != nil {
			return nil, fmt.Errorf("scanning count: %w", err)
		}
		counts[Status(st)] = n
	}
	return counts, rows.Err()
}

// UpdateStatus moves a document to status if the lifecycle allows it from its current status.
func (s *SQLStore) UpdateStatus(ctx context.Context, tenantID, documentID string, status Status) error {
	if !status.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidTransition, status)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var current string
	err = tx.QueryRowContext(ctx,
		"SELECT status FROM documents WHERE id = ? AND organization_id = ?",
		documentID, tenantID).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrDocumentNotFound
	}
	if err != nil {
		return fmt.Errorf("querying status: %w", err)
	}
	if Status(current) == status {
		return nil
	}
	if !CanTransition(Status(current), status) {
		if Status(current) == StatusDeleted {
			return ErrDocumentDeleted
		}
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, status)
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE documents SET status = ?, revision = revision + 1, updated_at = ? WHERE id = ? AND organization_id = ?",
		string(status), formatTime(s.now()), documentID, tenantID); err != nil {
		return fmt.Errorf("updating status: %w", err)
	}
	return tx.Commit()
}

// TransitionStatus is a compare-and-set on the status and revision columns.
// It fails with ErrStatusChanged if the document moved on since observed was read.
func (s *SQLStore) TransitionStatus(ctx context.Context, tenantID, documentID string, observed Version, to Status) error {
	if !CanTransition(observed.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, observed.Status, to)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE documents SET status = ?, revision = revision + 1, updated_at = ?
		WHERE id = ? AND organization_id = ? AND status = ? AND revision = ?`,
		string(to), formatTime(s.now()), documentID, tenantID, string(observed.Status), observed.Revision)
	if err != nil {
		return fmt.Errorf("updating status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reading rows affected: %w", err)
	}
	if n == 1 {
		return nil
	}
	if _, err := s.Get(ctx, tenantID, documentID); err != nil {
		return err
	}
	return ErrStatusChanged
}

// MarkUpdated flags a document whose content changed. An embedded document
// becomes UPDATED; a PENDING or UPDATED one keeps its status. The revision is
// bumped in every case so a Sync holding the old content cannot commit it.
func (s *SQLStore) MarkUpdated(ctx context.Context, tenantID, documentID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE documents
		SET status = CASE status WHEN ? THEN ? ELSE status END,
		    revision = revision + 1,
		    updated_at = ?
		WHERE id = ? AND organization_id = ? AND status != ?`,
		string(StatusEmbedded), string(StatusUpdated), formatTime(s.now()),
		documentID, tenantID, string(StatusDeleted))
	if err != nil {
		return fmt.Errorf("marking updated: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reading rows affected: %w", err)
	}
	if n == 1 {
		return nil
	}
	if _, err := s.Get(ctx, tenantID, documentID); err != nil {
		return err
	}
	return ErrDocumentDeleted
}

// MarkDeleted soft-deletes a document; the next Sync removes its chunks and the record.
func (s *SQLStore) MarkDeleted(ctx context.Context, tenantID, documentID string) error {
	return s.UpdateStatus(ctx, tenantID, documentID, StatusDeleted)
}

// Delete removes a document record. Only documents marked DELETED can be removed.
func (s *SQLStore) Delete(ctx context.Context, tenantID, documentID string) error {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM documents WHERE id = ? AND organization_id = ? AND status = ?",
		documentID, tenantID, string(StatusDeleted))
	if err != nil {
		return fmt.Errorf("deleting document: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reading rows affected: %w", err)
	}
	if n == 1 {
		return nil
	}
	if _, err := s.Get(ctx, tenantID, documentID); err != nil {
		return err
	}
	return ErrNotMarkedDeleted
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDocument(row scanner) (*Document, error) {
	var doc Document
	var status, created, updated string
	if err := row.Scan(&doc.ID, &doc.TenantID, &doc.CollectionID, &doc.CategoryID,
		&doc.Name, &doc.StorageURI, &status, &doc.Revision, &created, &updated); err != nil {
		return nil, err
	}
	doc.Status = Status(status)
	doc.CreatedAt = parseTime(created)
	doc.UpdatedAt = parseTime(updated)
	return &doc, nil
}

// timeLayout has a fixed fraction width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// classifyWriteError maps SQLite constraint failures onto the package errors.
func classifyWriteError(op string, err error, fkErr error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "UNIQUE constraint failed"):
		return fmt.Errorf("%s: %w", op, ErrDuplicate)
	case strings.Contains(msg, "FOREIGN KEY constraint failed"):
		return fmt.Errorf("%s: %w", op, fkErr)
	}
	return fmt.Errorf("%s: %w", op, err)
}
