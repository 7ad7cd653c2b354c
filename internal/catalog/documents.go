package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"folio/api/internal/store"
)

// DocumentService orchestrates document reads and writes. A document carries
// two relationships: its authors (owned by the authors) and its references
// (owned by the document itself, mirrored as referred-by on the target).
type DocumentService struct {
	store  Store
	events DocumentEvents
	index  SearchIndex
}

// NewDocumentService creates the service. index may be nil when search is not
// configured.
func NewDocumentService(st Store, events DocumentEvents, index SearchIndex) *DocumentService {
	return &DocumentService{store: st, events: events, index: index}
}

func (s *DocumentService) List(ctx context.Context) ([]DocumentSummary, error) {
	docs, err := s.store.ListDocuments(ctx)
	if err != nil {
		return nil, err
	}
	items := make([]DocumentSummary, 0, len(docs))
	for _, d := range docs {
		items = append(items, documentSummary(d))
	}
	return items, nil
}

func (s *DocumentService) Get(ctx context.Context, id int64) (DocumentDetails, error) {
	rec, err := s.getDocument(ctx, id)
	if err != nil {
		return DocumentDetails{}, err
	}

	authorIDs, err := s.store.DocumentAuthorIDs(ctx, rec.ID)
	if err != nil {
		return DocumentDetails{}, err
	}
	authors, err := s.store.FindAuthorsByID(ctx, authorIDs)
	if err != nil {
		return DocumentDetails{}, err
	}
	refIDs, err := s.store.DocumentReferenceIDs(ctx, rec.ID)
	if err != nil {
		return DocumentDetails{}, err
	}
	refs, err := s.store.FindDocumentsByID(ctx, refIDs)
	if err != nil {
		return DocumentDetails{}, err
	}

	details := DocumentDetails{
		ID:         rec.ID,
		Title:      rec.Title,
		Body:       rec.Body,
		Authors:    make([]AuthorSummary, 0, len(authors)),
		References: make([]DocumentSummary, 0, len(refs)),
	}
	for _, a := range authors {
		details.Authors = append(details.Authors, authorSummary(a))
	}
	for _, r := range refs {
		details.References = append(details.References, documentSummary(r))
	}
	return details, nil
}

// Create builds a transient document and reconciles each supplied
// relationship against its empty current set. Author reconciliation runs
// before reference reconciliation; a failure in the second leaves nothing
// persisted because the save only happens after both succeed.
func (s *DocumentService) Create(ctx context.Context, in DocumentCreate) (DocumentDetails, error) {
	g := NewGraph()
	rec := store.Document{Title: in.Title, Body: in.Body}
	g.PutDocument(rec)

	if len(in.Authors) > 0 {
		if err := s.reconcileAuthors(ctx, g, rec.ID, in.Authors); err != nil {
			return DocumentDetails{}, err
		}
	}
	if len(in.References) > 0 {
		if err := s.reconcileReferences(ctx, g, rec, in.References); err != nil {
			return DocumentDetails{}, err
		}
	}

	saved, err := s.store.SaveDocument(ctx, rec, g.AuthorIDsOf(rec.ID), g.ReferenceIDsOf(rec.ID))
	if err != nil {
		return DocumentDetails{}, fmt.Errorf("save document: %w", err)
	}
	details := s.detailsFromGraph(g, saved, g.AuthorIDsOf(rec.ID), g.ReferenceIDsOf(rec.ID))
	if s.index != nil {
		s.index.IndexDocument(documentSummary(saved))
	}
	return details, nil
}

// Update overwrites the document's scalar fields, reconciles both
// relationships and persists, then publishes a document-updated audit event.
func (s *DocumentService) Update(ctx context.Context, in DocumentUpdate) (DocumentDetails, error) {
	rec, err := s.getDocument(ctx, in.ID)
	if err != nil {
		return DocumentDetails{}, err
	}
	g, err := s.loadDocumentGraph(ctx, rec)
	if err != nil {
		return DocumentDetails{}, err
	}

	rec.Title = in.Title
	rec.Body = in.Body
	g.PutDocument(rec)

	if err := s.reconcileAuthors(ctx, g, rec.ID, in.Authors); err != nil {
		return DocumentDetails{}, err
	}
	if err := s.reconcileReferences(ctx, g, rec, in.References); err != nil {
		return DocumentDetails{}, err
	}

	saved, err := s.store.SaveDocument(ctx, rec, g.AuthorIDsOf(rec.ID), g.ReferenceIDsOf(rec.ID))
	if err != nil {
		return DocumentDetails{}, fmt.Errorf("save document: %w", err)
	}

	details := s.detailsFromGraph(g, saved, g.AuthorIDsOf(saved.ID), g.ReferenceIDsOf(saved.ID))
	s.events.DocumentUpdated(ctx, saved.ID)
	if s.index != nil {
		s.index.IndexDocument(documentSummary(saved))
	}
	return details, nil
}

// Delete severs every edge where the document is the non-owning side, then
// removes it. The detach runs first in the working graph, restoring the
// symmetry invariant in memory; the store applies the detach and the row
// delete in a single transaction, so a failed delete leaves the edges intact.
func (s *DocumentService) Delete(ctx context.Context, id int64) error {
	rec, err := s.getDocument(ctx, id)
	if err != nil {
		return err
	}
	g, err := s.loadRemovalGraph(ctx, rec)
	if err != nil {
		return err
	}
	g.DetachDocument(rec.ID)

	if err := s.store.DeleteDocument(ctx, rec.ID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return notFound("Document", rec.ID)
		}
		return fmt.Errorf("delete document: %w", err)
	}

	s.events.DocumentDeleted(ctx, rec.ID)
	if s.index != nil {
		s.index.RemoveDocument(rec.ID)
	}
	return nil
}

// reconcileAuthors drives the document's author set towards requested. The
// authors own the relationship, so adds and removes run through the
// author-side primitives.
func (s *DocumentService) reconcileAuthors(ctx context.Context, g *Graph, documentID int64, requested []int64) error {
	return reconcileAssociations(ctx, "Author", requested, g.AuthorIDsOf(documentID),
		func(ctx context.Context, ids []int64) ([]int64, error) {
			authors, err := s.store.FindAuthorsByID(ctx, ids)
			if err != nil {
				return nil, err
			}
			found := make([]int64, 0, len(authors))
			for _, a := range authors {
				g.PutAuthor(a)
				found = append(found, a.ID)
			}
			return found, nil
		},
		func(id int64) error { return g.AddAuthorship(id, documentID) },
		func(id int64) { g.RemoveAuthorship(id, documentID) },
	)
}

// reconcileReferences drives the document's owned reference set towards
// requested. The self-reference check runs against the raw requested ids
// before anything is fetched or mutated.
func (s *DocumentService) reconcileReferences(ctx context.Context, g *Graph, rec store.Document, requested []int64) error {
	if rec.ID != 0 && containsID(requested, rec.ID) {
		return selfReferenceConflict(rec.ID)
	}
	return reconcileAssociations(ctx, "Document", requested, g.ReferenceIDsOf(rec.ID),
		func(ctx context.Context, ids []int64) ([]int64, error) {
			docs, err := s.store.FindDocumentsByID(ctx, ids)
			if err != nil {
				return nil, err
			}
			found := make([]int64, 0, len(docs))
			for _, d := range docs {
				g.PutDocument(d)
				found = append(found, d.ID)
			}
			return found, nil
		},
		func(id int64) error { return g.AddReference(rec.ID, id) },
		func(id int64) { g.RemoveReference(rec.ID, id) },
	)
}

// loadDocumentGraph seeds a working graph with the document, its current
// authors and references, and the edges between them.
func (s *DocumentService) loadDocumentGraph(ctx context.Context, rec store.Document) (*Graph, error) {
	g := NewGraph()
	g.PutDocument(rec)

	authorIDs, err := s.store.DocumentAuthorIDs(ctx, rec.ID)
	if err != nil {
		return nil, err
	}
	authors, err := s.store.FindAuthorsByID(ctx, authorIDs)
	if err != nil {
		return nil, err
	}
	for _, a := range authors {
		g.PutAuthor(a)
		if err := g.AddAuthorship(a.ID, rec.ID); err != nil {
			return nil, err
		}
	}

	refIDs, err := s.store.DocumentReferenceIDs(ctx, rec.ID)
	if err != nil {
		return nil, err
	}
	refs, err := s.store.FindDocumentsByID(ctx, refIDs)
	if err != nil {
		return nil, err
	}
	for _, r := range refs {
		g.PutDocument(r)
		if err := g.AddReference(rec.ID, r.ID); err != nil {
			return nil, err
		}
	}
	return g, nil
}

// loadRemovalGraph seeds a working graph with the edges where the document is
// the non-owning side: its authors and the documents referring to it.
func (s *DocumentService) loadRemovalGraph(ctx context.Context, rec store.Document) (*Graph, error) {
	g := NewGraph()
	g.PutDocument(rec)

	authorIDs, err := s.store.DocumentAuthorIDs(ctx, rec.ID)
	if err != nil {
		return nil, err
	}
	authors, err := s.store.FindAuthorsByID(ctx, authorIDs)
	if err != nil {
		return nil, err
	}
	for _, a := range authors {
		g.PutAuthor(a)
		if err := g.AddAuthorship(a.ID, rec.ID); err != nil {
			return nil, err
		}
	}

	referrerIDs, err := s.store.DocumentReferredByIDs(ctx, rec.ID)
	if err != nil {
		return nil, err
	}
	referrers, err := s.store.FindDocumentsByID(ctx, referrerIDs)
	if err != nil {
		return nil, err
	}
	for _, r := range referrers {
		g.PutDocument(r)
		if err := g.AddReference(r.ID, rec.ID); err != nil {
			return nil, err
		}
	}
	return g, nil
}

func (s *DocumentService) detailsFromGraph(g *Graph, rec store.Document, authorIDs, referenceIDs []int64) DocumentDetails {
	details := DocumentDetails{
		ID:         rec.ID,
		Title:      rec.Title,
		Body:       rec.Body,
		Authors:    make([]AuthorSummary, 0, len(authorIDs)),
		References: make([]DocumentSummary, 0, len(referenceIDs)),
	}
	for _, id := range authorIDs {
		if a, ok := g.Author(id); ok {
			details.Authors = append(details.Authors, authorSummary(a))
		}
	}
	for _, id := range referenceIDs {
		if d, ok := g.Document(id); ok {
			details.References = append(details.References, documentSummary(d))
		}
	}
	return details
}

func (s *DocumentService) getDocument(ctx context.Context, id int64) (store.Document, error) {
	rec, err := s.store.GetDocument(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Document{}, notFound("Document", id)
		}
		return store.Document{}, fmt.Errorf("get document: %w", err)
	}
	return rec, nil
}
