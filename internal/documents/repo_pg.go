package documents

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

const (
	pgUniqueViolation   = "23505"
	pgInvalidText       = "22P02"
	imageQuotaIndexName = "documents_one_image_per_owner"
)

const documentColumns = `id, owner_id, artifact_path, media_type, category, status, extracted_content, original_name, size_bytes, checksum, failure_reason, created_at, updated_at`

// PGRepo implements Repo using Postgres.
type PGRepo struct {
	DB *sql.DB
}

// Insert stores the document and its initial transition log in one transaction.
func (r *PGRepo) Insert(ctx context.Context, doc Document) error {
	const insertDocument = `
INSERT INTO documents (
    id,
    owner_id,
    artifact_path,
    media_type,
    category,
    status,
    extracted_content,
    original_name,
    size_bytes,
    checksum,
    failure_reason,
    created_at,
    updated_at
) VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb, $8, $9, $10, $11, $12, $13)`

	content, err := encodeContent(doc.Content)
	if err != nil {
		return err
	}
	updatedAt := doc.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = doc.CreatedAt
	}

	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(
		ctx,
		insertDocument,
		doc.ID,
		doc.OwnerID,
		doc.ArtifactPath,
		doc.MediaType,
		string(doc.Category),
		string(doc.Status),
		content,
		doc.OriginalName,
		doc.SizeBytes,
		nullString(doc.Checksum),
		nullString(doc.FailureReason),
		doc.CreatedAt,
		updatedAt,
	); err != nil {
		return mapInsertError(err)
	}

	for _, t := range doc.Transitions {
		if err := insertTransition(ctx, tx, doc.ID, t); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// GetByID fetches a document and its transition log.
func (r *PGRepo) GetByID(ctx context.Context, id string) (Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents WHERE id = $1`
	doc, err := scanDocument(r.DB.QueryRowContext(ctx, query, id))
	if err != nil {
		return Document{}, mapLookupError(err)
	}
	transitions, err := r.transitions(ctx, id)
	if err != nil {
		return Document{}, err
	}
	doc.Transitions = transitions
	return doc, nil
}

// Transition compares-and-sets the status away from processing and appends
// the log entry in the same transaction.
func (r *PGRepo) Transition(ctx context.Context, id string, req TransitionRequest) (Document, error) {
	if err := req.Validate(); err != nil {
		return Document{}, err
	}
	at := req.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	content, err := encodeContent(req.Content)
	if err != nil {
		return Document{}, err
	}
	var reason sql.NullString
	if req.To == StatusFailed {
		reason = nullString(req.Reason)
	}

	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return Document{}, err
	}
	defer func() { _ = tx.Rollback() }()

	update := `
UPDATE documents
SET status = $2, extracted_content = $3::jsonb, failure_reason = $4, updated_at = $5
WHERE id = $1 AND status = 'processing'
RETURNING ` + documentColumns
	doc, err := scanDocument(tx.QueryRowContext(ctx, update, id, string(req.To), content, reason, at))
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			return Document{}, mapLookupError(err)
		}
		var current string
		if err := tx.QueryRowContext(ctx, `SELECT status FROM documents WHERE id = $1`, id).Scan(&current); err != nil {
			return Document{}, mapLookupError(err)
		}
		return Document{}, fmt.Errorf("%w: document is %s", ErrInvalidTransition, current)
	}

	if err := insertTransition(ctx, tx, id, Transition{
		From:   StatusProcessing,
		To:     req.To,
		Actor:  req.Actor,
		Reason: req.Reason,
		At:     at,
	}); err != nil {
		return Document{}, err
	}
	if err := tx.Commit(); err != nil {
		return Document{}, err
	}

	transitions, err := r.transitions(ctx, id)
	if err != nil {
		return Document{}, err
	}
	doc.Transitions = transitions
	return doc, nil
}

// Query lists documents ordered newest-first. Transition logs are not loaded.
func (r *PGRepo) Query(ctx context.Context, f Filter) ([]Document, error) {
	f = f.normalized()

	var (
		clauses []string
		args    []any
	)
	add := func(clause string, arg any) {
		args = append(args, arg)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}
	if f.OwnerID != "" {
		add("owner_id = $%d", f.OwnerID)
	}
	if f.Status != "" {
		add("status = $%d", string(f.Status))
	}
	if f.Category != "" {
		add("category = $%d", string(f.Category))
	}
	if !f.CreatedBefore.IsZero() {
		add("created_at < $%d", f.CreatedBefore)
	}

	query := `SELECT ` + documentColumns + ` FROM documents`
	if len(clauses) > 0 {
		query += ` WHERE ` + strings.Join(clauses, " AND ")
	}
	args = append(args, f.Limit, f.Offset)
	query += fmt.Sprintf(` ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Document{}
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	return out, rows.Err()
}

// HasImage reports whether the owner already has an image document.
func (r *PGRepo) HasImage(ctx context.Context, ownerID string) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM documents WHERE owner_id = $1 AND category = 'image')`
	var exists bool
	if err := r.DB.QueryRowContext(ctx, query, ownerID).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

// Stats counts the owner's documents by status and category.
func (r *PGRepo) Stats(ctx context.Context, ownerID string) (Stats, error) {
	const query = `
SELECT status, category, COUNT(*)
FROM documents
WHERE owner_id = $1
GROUP BY status, category`
	rows, err := r.DB.QueryContext(ctx, query, ownerID)
	if err != nil {
		return Stats{}, err
	}
	defer rows.Close()

	stats := newStats()
	for rows.Next() {
		var status, category string
		var n int
		if err := rows.Scan(&status, &category, &n); err != nil {
			return Stats{}, err
		}
		stats.Total += n
		stats.ByStatus[Status(status)] += n
		stats.ByCategory[Category(category)] += n
	}
	return stats, rows.Err()
}

func (r *PGRepo) transitions(ctx context.Context, documentID string) ([]Transition, error) {
	const query = `
SELECT from_status, to_status, actor, reason, created_at
FROM document_transitions
WHERE document_id = $1
ORDER BY id`
	rows, err := r.DB.QueryContext(ctx, query, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Transition
	for rows.Next() {
		var t Transition
		var from, to, actor string
		var reason sql.NullString
		if err := rows.Scan(&from, &to, &actor, &reason, &t.At); err != nil {
			return nil, err
		}
		t.From = Status(from)
		t.To = Status(to)
		t.Actor = Actor(actor)
		if reason.Valid {
			t.Reason = reason.String
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func insertTransition(ctx context.Context, tx *sql.Tx, documentID string, t Transition) error {
	const query = `
INSERT INTO document_transitions (document_id, from_status, to_status, actor, reason, created_at)
VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := tx.ExecContext(ctx, query, documentID, string(t.From), string(t.To), string(t.Actor), nullString(t.Reason), t.At)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (Document, error) {
	var doc Document
	var category, status string
	var content []byte
	var checksum, failureReason sql.NullString
	if err := row.Scan(
		&doc.ID,
		&doc.OwnerID,
		&doc.ArtifactPath,
		&doc.MediaType,
		&category,
		&status,
		&content,
		&doc.OriginalName,
		&doc.SizeBytes,
		&checksum,
		&failureReason,
		&doc.CreatedAt,
		&doc.UpdatedAt,
	); err != nil {
		return Document{}, err
	}
	doc.Category = Category(category)
	doc.Status = Status(status)
	if len(content) > 0 {
		var c Content
		if err := json.Unmarshal(content, &c); err != nil {
			return Document{}, fmt.Errorf("decode extracted_content for %s: %w", doc.ID, err)
		}
		doc.Content = &c
	}
	if checksum.Valid {
		doc.Checksum = checksum.String
	}
	if failureReason.Valid {
		doc.FailureReason = failureReason.String
	}
	return doc, nil
}

func encodeContent(c *Content) (sql.NullString, error) {
	if c == nil {
		return sql.NullString{}, nil
	}
	payload, err := json.Marshal(c)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("encode extracted_content: %w", err)
	}
	return sql.NullString{String: string(payload), Valid: true}, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func mapInsertError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		if pgErr.ConstraintName == imageQuotaIndexName {
			return ErrImageQuota
		}
		return fmt.Errorf("%w: %s", ErrDuplicate, pgErr.ConstraintName)
	}
	return err
}

// mapLookupError treats a missing row and an id that is not a valid UUID
// the same way, so every backend answers ErrNotFound for unknown ids.
func mapLookupError(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgInvalidText {
		return ErrNotFound
	}
	return err
}

var _ Repo = (*PGRepo)(nil)
