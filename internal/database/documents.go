package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jordanhubbard/quill/internal/execution"
)

// CreateChild inserts a new child document at version 1.
func (d *Database) CreateChild(ctx context.Context, doc *execution.ChildDocument) error {
	if doc == nil {
		return fmt.Errorf("child document cannot be nil")
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now()
	}
	doc.UpdatedAt = time.Now()

	content, err := marshalJSON(doc.Content)
	if err != nil {
		return err
	}
	lineage, err := marshalJSON(doc.Lineage)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO child_documents (id, parent_document_id, space_id, doc_type_id,
			identifier, content, version, is_latest, lifecycle, lineage, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = d.db.ExecContext(ctx, rebind(query),
		doc.ID,
		doc.ParentDocumentID,
		nullable(doc.SpaceID),
		doc.DocTypeID,
		doc.Identifier,
		content,
		doc.Version,
		doc.IsLatest,
		doc.Lifecycle,
		lineage,
		doc.CreatedAt,
		doc.UpdatedAt,
	)
	return err
}

// UpdateChild rewrites an existing child in place. The caller has already
// bumped version; identity columns never change.
func (d *Database) UpdateChild(ctx context.Context, doc *execution.ChildDocument) error {
	if doc == nil {
		return fmt.Errorf("child document cannot be nil")
	}
	doc.UpdatedAt = time.Now()

	content, err := marshalJSON(doc.Content)
	if err != nil {
		return err
	}
	lineage, err := marshalJSON(doc.Lineage)
	if err != nil {
		return err
	}

	query := `
		UPDATE child_documents
		SET content = ?, version = ?, lifecycle = ?, lineage = ?, updated_at = ?
		WHERE id = ?
	`
	result, err := d.db.ExecContext(ctx, rebind(query),
		content, doc.Version, doc.Lifecycle, lineage, doc.UpdatedAt, doc.ID)
	if err != nil {
		return err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("child document not found: %s", doc.ID)
	}
	return nil
}

// SupersedeChild marks a child stale and drops its is_latest flag. The row
// stays for lineage queries.
func (d *Database) SupersedeChild(ctx context.Context, id string) error {
	query := `
		UPDATE child_documents
		SET is_latest = false, lifecycle = ?, updated_at = ?
		WHERE id = ?
	`
	result, err := d.db.ExecContext(ctx, rebind(query), execution.LifecycleStale, time.Now(), id)
	if err != nil {
		return err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("child document not found: %s", id)
	}
	return nil
}

// LatestContent returns the content of the latest active document of a
// type within a space, or nil when none exists. Task nodes use this to pull
// prior documents into their prompts.
func (d *Database) LatestContent(ctx context.Context, space, docTypeID string) (map[string]any, error) {
	query := `
		SELECT content FROM child_documents
		WHERE space_id = ? AND doc_type_id = ? AND is_latest = true AND lifecycle = 'active'
		ORDER BY updated_at DESC
		LIMIT 1
	`
	var content []byte
	err := d.db.QueryRowContext(ctx, rebind(query), space, docTypeID).Scan(&content)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	out := map[string]any{}
	if err := unmarshalJSON(content, &out); err != nil {
		return nil, fmt.Errorf("failed to decode document content: %w", err)
	}
	return out, nil
}

// ListChildren returns every child row under a parent document, latest and
// superseded alike.
func (d *Database) ListChildren(ctx context.Context, parentDocumentID string) ([]*execution.ChildDocument, error) {
	query := `
		SELECT id, parent_document_id, space_id, doc_type_id,
			identifier, content, version, is_latest, lifecycle, lineage, created_at, updated_at
		FROM child_documents
		WHERE parent_document_id = ?
		ORDER BY identifier, version
	`
	rows, err := d.db.QueryContext(ctx, rebind(query), parentDocumentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []*execution.ChildDocument
	for rows.Next() {
		doc := &execution.ChildDocument{}
		var spaceID sql.NullString
		var content, lineage []byte
		if err := rows.Scan(
			&doc.ID,
			&doc.ParentDocumentID,
			&spaceID,
			&doc.DocTypeID,
			&doc.Identifier,
			&content,
			&doc.Version,
			&doc.IsLatest,
			&doc.Lifecycle,
			&lineage,
			&doc.CreatedAt,
			&doc.UpdatedAt,
		); err != nil {
			return nil, err
		}
		doc.SpaceID = spaceID.String
		doc.Content = map[string]any{}
		if err := unmarshalJSON(content, &doc.Content); err != nil {
			return nil, fmt.Errorf("failed to decode content for child %s: %w", doc.ID, err)
		}
		if err := unmarshalJSON(lineage, &doc.Lineage); err != nil {
			return nil, fmt.Errorf("failed to decode lineage for child %s: %w", doc.ID, err)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}
