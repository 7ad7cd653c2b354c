package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// PostgresStore persists authors, documents and their association edges.
//
// Ownership follows the relationship model: an author owns its authorship
// edges and a document owns its outgoing reference edges. Author deletion
// drops only the edges the author owns; document deletion also severs the
// mirror edges naming it, inside the same transaction as the row delete.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// --- authors ---

func (s *PostgresStore) GetAuthor(ctx context.Context, id int64) (Author, error) {
	var a Author
	err := s.db.QueryRowContext(ctx, `SELECT id, first_name, last_name FROM author WHERE id=$1`, id).
		Scan(&a.ID, &a.FirstName, &a.LastName)
	if err != nil {
		return Author{}, err
	}
	return a, nil
}

func (s *PostgresStore) ListAuthors(ctx context.Context) ([]Author, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, first_name, last_name FROM author ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list authors: %w", err)
	}
	defer rows.Close()

	items := make([]Author, 0)
	for rows.Next() {
		var a Author
		if err := rows.Scan(&a.ID, &a.FirstName, &a.LastName); err != nil {
			return nil, fmt.Errorf("scan author: %w", err)
		}
		items = append(items, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate authors: %w", err)
	}
	return items, nil
}

// FindAuthorsByID returns the authors whose ids are present in the store.
// Missing ids are simply absent from the result; callers decide whether that
// is an error.
func (s *PostgresStore) FindAuthorsByID(ctx context.Context, ids []int64) ([]Author, error) {
	if len(ids) == 0 {
		return []Author{}, nil
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, first_name, last_name FROM author WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("find authors: %w", err)
	}
	defer rows.Close()

	items := make([]Author, 0, len(ids))
	for rows.Next() {
		var a Author
		if err := rows.Scan(&a.ID, &a.FirstName, &a.LastName); err != nil {
			return nil, fmt.Errorf("scan author: %w", err)
		}
		items = append(items, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate authors: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) AuthorDocumentIDs(ctx context.Context, authorID int64) ([]int64, error) {
	return s.edgeIDs(ctx, `SELECT document_id FROM author_document WHERE author_id=$1 ORDER BY document_id`, authorID)
}

// SaveAuthor inserts the author when its id is zero, otherwise updates it,
// and replaces its authorship edge rows to match documentIDs. The whole save
// runs in one transaction.
func (s *PostgresStore) SaveAuthor(ctx context.Context, a Author, documentIDs []int64) (Author, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Author{}, fmt.Errorf("begin save author: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if a.ID == 0 {
		err = tx.QueryRowContext(ctx, `
			INSERT INTO author (first_name, last_name)
			VALUES ($1, $2)
			RETURNING id
		`, a.FirstName, a.LastName).Scan(&a.ID)
		if err != nil {
			return Author{}, fmt.Errorf("insert author: %w", err)
		}
	} else {
		result, err := tx.ExecContext(ctx, `
			UPDATE author SET first_name=$2, last_name=$3 WHERE id=$1
		`, a.ID, a.FirstName, a.LastName)
		if err != nil {
			return Author{}, fmt.Errorf("update author: %w", err)
		}
		if affected, _ := result.RowsAffected(); affected == 0 {
			return Author{}, sql.ErrNoRows
		}
	}

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM author_document WHERE author_id=$1 AND NOT (document_id = ANY($2))
	`, a.ID, documentIDs); err != nil {
		return Author{}, fmt.Errorf("remove authorship edges: %w", err)
	}
	for _, docID := range documentIDs {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO author_document (author_id, document_id)
			VALUES ($1, $2)
			ON CONFLICT DO NOTHING
		`, a.ID, docID); err != nil {
			return Author{}, fmt.Errorf("add authorship edge: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return Author{}, fmt.Errorf("commit save author: %w", err)
	}
	return a, nil
}

// DeleteAuthor removes the author row. Its owned authorship edges cascade.
func (s *PostgresStore) DeleteAuthor(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM author WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("delete author: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// --- documents ---

func (s *PostgresStore) GetDocument(ctx context.Context, id int64) (Document, error) {
	var d Document
	err := s.db.QueryRowContext(ctx, `SELECT id, title, body FROM document WHERE id=$1`, id).
		Scan(&d.ID, &d.Title, &d.Body)
	if err != nil {
		return Document{}, err
	}
	return d, nil
}

func (s *PostgresStore) ListDocuments(ctx context.Context) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, title, body FROM document ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	items := make([]Document, 0)
	for rows.Next() {
		var d Document
		if err := rows.Scan(&d.ID, &d.Title, &d.Body); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		items = append(items, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) FindDocumentsByID(ctx context.Context, ids []int64) ([]Document, error) {
	if len(ids) == 0 {
		return []Document{}, nil
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, title, body FROM document WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("find documents: %w", err)
	}
	defer rows.Close()

	items := make([]Document, 0, len(ids))
	for rows.Next() {
		var d Document
		if err := rows.Scan(&d.ID, &d.Title, &d.Body); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		items = append(items, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) DocumentAuthorIDs(ctx context.Context, documentID int64) ([]int64, error) {
	return s.edgeIDs(ctx, `SELECT author_id FROM author_document WHERE document_id=$1 ORDER BY author_id`, documentID)
}

func (s *PostgresStore) DocumentReferenceIDs(ctx context.Context, documentID int64) ([]int64, error) {
	return s.edgeIDs(ctx, `SELECT reference_id FROM document_reference WHERE document_id=$1 ORDER BY reference_id`, documentID)
}

func (s *PostgresStore) DocumentReferredByIDs(ctx context.Context, documentID int64) ([]int64, error) {
	return s.edgeIDs(ctx, `SELECT document_id FROM document_reference WHERE reference_id=$1 ORDER BY document_id`, documentID)
}

// SaveDocument inserts or updates the document and replaces both edge sets it
// appears in: its owned reference edges and the authorship edges naming it.
func (s *PostgresStore) SaveDocument(ctx context.Context, d Document, authorIDs, referenceIDs []int64) (Document, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Document{}, fmt.Errorf("begin save document: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if d.ID == 0 {
		err = tx.QueryRowContext(ctx, `
			INSERT INTO document (title, body)
			VALUES ($1, $2)
			RETURNING id
		`, d.Title, d.Body).Scan(&d.ID)
		if err != nil {
			return Document{}, fmt.Errorf("insert document: %w", err)
		}
	} else {
		result, err := tx.ExecContext(ctx, `
			UPDATE document SET title=$2, body=$3 WHERE id=$1
		`, d.ID, d.Title, d.Body)
		if err != nil {
			return Document{}, fmt.Errorf("update document: %w", err)
		}
		if affected, _ := result.RowsAffected(); affected == 0 {
			return Document{}, sql.ErrNoRows
		}
	}

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM author_document WHERE document_id=$1 AND NOT (author_id = ANY($2))
	`, d.ID, authorIDs); err != nil {
		return Document{}, fmt.Errorf("remove authorship edges: %w", err)
	}
	for _, authorID := range authorIDs {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO author_document (author_id, document_id)
			VALUES ($1, $2)
			ON CONFLICT DO NOTHING
		`, authorID, d.ID); err != nil {
			return Document{}, fmt.Errorf("add authorship edge: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM document_reference WHERE document_id=$1 AND NOT (reference_id = ANY($2))
	`, d.ID, referenceIDs); err != nil {
		return Document{}, fmt.Errorf("remove reference edges: %w", err)
	}
	for _, refID := range referenceIDs {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO document_reference (document_id, reference_id)
			VALUES ($1, $2)
			ON CONFLICT DO NOTHING
		`, d.ID, refID); err != nil {
			return Document{}, fmt.Errorf("add reference edge: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return Document{}, fmt.Errorf("commit save document: %w", err)
	}
	return d, nil
}

// DeleteDocument severs every edge where the document is the non-owning side
// (authorship rows naming it, reference rows targeting it) and removes the
// row, all in one transaction. Its owned reference edges cascade. A failed
// row delete rolls the detach back too, so no partial state survives.
func (s *PostgresStore) DeleteDocument(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete document: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM author_document WHERE document_id=$1`, id); err != nil {
		return fmt.Errorf("detach document from authors: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM document_reference WHERE reference_id=$1`, id); err != nil {
		return fmt.Errorf("detach document from referrers: %w", err)
	}
	result, err := tx.ExecContext(ctx, `DELETE FROM document WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return sql.ErrNoRows
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete document: %w", err)
	}
	return nil
}

// SearchDocuments is the Postgres fallback for document search.
func (s *PostgresStore) SearchDocuments(ctx context.Context, query string, limit int) ([]Document, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, body FROM document
		WHERE title ILIKE '%' || $1 || '%' OR body ILIKE '%' || $1 || '%'
		ORDER BY id
		LIMIT $2
	`, query, limit)
	if err != nil {
		return nil, fmt.Errorf("search documents: %w", err)
	}
	defer rows.Close()

	items := make([]Document, 0)
	for rows.Next() {
		var d Document
		if err := rows.Scan(&d.ID, &d.Title, &d.Body); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		items = append(items, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return items, nil
}

// --- users ---

func (s *PostgresStore) GetUserByUsername(ctx context.Context, username string) (User, error) {
	var u User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, first_name, last_name, username, password_hash, role
		FROM user_account WHERE username=$1
	`, username).Scan(&u.ID, &u.FirstName, &u.LastName, &u.Username, &u.PasswordHash, &u.Role)
	if err != nil {
		return User{}, err
	}
	return u, nil
}

func (s *PostgresStore) CreateUser(ctx context.Context, u User) (User, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO user_account (first_name, last_name, username, password_hash, role)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, u.FirstName, u.LastName, u.Username, u.PasswordHash, u.Role).Scan(&u.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return User{}, ErrDuplicateUsername
		}
		return User{}, fmt.Errorf("insert user: %w", err)
	}
	return u, nil
}

func (s *PostgresStore) edgeIDs(ctx context.Context, query string, id int64) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("list edges: %w", err)
	}
	defer rows.Close()

	ids := make([]int64, 0)
	for rows.Next() {
		var edgeID int64
		if err := rows.Scan(&edgeID); err != nil {
			return nil, fmt.Errorf("scan edge: %w", err)
		}
		ids = append(ids, edgeID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate edges: %w", err)
	}
	return ids, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
