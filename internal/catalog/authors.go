package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"folio/api/internal/store"
)

// AuthorService orchestrates author reads and writes: load current state into
// a working graph, reconcile requested associations, persist, map to a
// response snapshot.
type AuthorService struct {
	store  Store
	events AuthorEvents
}

func NewAuthorService(st Store, events AuthorEvents) *AuthorService {
	return &AuthorService{store: st, events: events}
}

func (s *AuthorService) List(ctx context.Context) ([]AuthorSummary, error) {
	authors, err := s.store.ListAuthors(ctx)
	if err != nil {
		return nil, err
	}
	items := make([]AuthorSummary, 0, len(authors))
	for _, a := range authors {
		items = append(items, authorSummary(a))
	}
	return items, nil
}

func (s *AuthorService) Get(ctx context.Context, id int64) (AuthorDetails, error) {
	rec, err := s.getAuthor(ctx, id)
	if err != nil {
		return AuthorDetails{}, err
	}
	docIDs, err := s.store.AuthorDocumentIDs(ctx, rec.ID)
	if err != nil {
		return AuthorDetails{}, err
	}
	docs, err := s.store.FindDocumentsByID(ctx, docIDs)
	if err != nil {
		return AuthorDetails{}, err
	}
	details := AuthorDetails{
		ID:        rec.ID,
		FirstName: rec.FirstName,
		LastName:  rec.LastName,
		Documents: make([]DocumentSummary, 0, len(docs)),
	}
	for _, d := range docs {
		details.Documents = append(details.Documents, documentSummary(d))
	}
	return details, nil
}

// Create builds a transient author, reconciles the requested document set
// against the empty current one when a set was supplied, and persists.
// Creation does not publish an event.
func (s *AuthorService) Create(ctx context.Context, in AuthorCreate) (AuthorDetails, error) {
	g := NewGraph()
	rec := store.Author{FirstName: in.FirstName, LastName: in.LastName}
	g.PutAuthor(rec)

	if len(in.Documents) > 0 {
		if err := s.reconcileDocuments(ctx, g, rec.ID, in.Documents); err != nil {
			return AuthorDetails{}, err
		}
	}

	saved, err := s.store.SaveAuthor(ctx, rec, g.DocumentIDsOf(rec.ID))
	if err != nil {
		return AuthorDetails{}, fmt.Errorf("save author: %w", err)
	}
	return s.detailsFromGraph(g, saved, g.DocumentIDsOf(rec.ID)), nil
}

// Update overwrites the author's scalar fields, reconciles the document set
// and persists. On success it publishes the author-updated snapshot of the
// saved state; consumption of that snapshot is asynchronous and best-effort.
func (s *AuthorService) Update(ctx context.Context, in AuthorUpdate) (AuthorDetails, error) {
	rec, err := s.getAuthor(ctx, in.ID)
	if err != nil {
		return AuthorDetails{}, err
	}
	g, err := s.loadAuthorGraph(ctx, rec)
	if err != nil {
		return AuthorDetails{}, err
	}

	rec.FirstName = in.FirstName
	rec.LastName = in.LastName
	g.PutAuthor(rec)

	if err := s.reconcileDocuments(ctx, g, rec.ID, in.Documents); err != nil {
		return AuthorDetails{}, err
	}

	saved, err := s.store.SaveAuthor(ctx, rec, g.DocumentIDsOf(rec.ID))
	if err != nil {
		return AuthorDetails{}, fmt.Errorf("save author: %w", err)
	}

	details := s.detailsFromGraph(g, saved, g.DocumentIDsOf(saved.ID))
	s.events.AuthorUpdated(ctx, details)
	return details, nil
}

// Delete removes the author. The store retracts the author's owned
// authorship edges; there is no non-owning side to detach.
func (s *AuthorService) Delete(ctx context.Context, id int64) error {
	if _, err := s.getAuthor(ctx, id); err != nil {
		return err
	}
	if err := s.store.DeleteAuthor(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return notFound("Author", id)
		}
		return fmt.Errorf("delete author: %w", err)
	}
	s.events.AuthorDeleted(ctx, id)
	return nil
}

// reconcileDocuments drives the author's owned document set towards
// requested, loading fetched documents into the graph as it goes.
func (s *AuthorService) reconcileDocuments(ctx context.Context, g *Graph, authorID int64, requested []int64) error {
	return reconcileAssociations(ctx, "Document", requested, g.DocumentIDsOf(authorID),
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
		func(id int64) error { return g.AddAuthorship(authorID, id) },
		func(id int64) { g.RemoveAuthorship(authorID, id) },
	)
}

// loadAuthorGraph seeds a working graph with the author, its current
// documents and the authorship edges between them.
func (s *AuthorService) loadAuthorGraph(ctx context.Context, rec store.Author) (*Graph, error) {
	g := NewGraph()
	g.PutAuthor(rec)

	docIDs, err := s.store.AuthorDocumentIDs(ctx, rec.ID)
	if err != nil {
		return nil, err
	}
	docs, err := s.store.FindDocumentsByID(ctx, docIDs)
	if err != nil {
		return nil, err
	}
	for _, d := range docs {
		g.PutDocument(d)
		if err := g.AddAuthorship(rec.ID, d.ID); err != nil {
			return nil, err
		}
	}
	return g, nil
}

func (s *AuthorService) detailsFromGraph(g *Graph, rec store.Author, documentIDs []int64) AuthorDetails {
	details := AuthorDetails{
		ID:        rec.ID,
		FirstName: rec.FirstName,
		LastName:  rec.LastName,
		Documents: make([]DocumentSummary, 0, len(documentIDs)),
	}
	for _, id := range documentIDs {
		if d, ok := g.Document(id); ok {
			details.Documents = append(details.Documents, documentSummary(d))
		}
	}
	return details
}

func (s *AuthorService) getAuthor(ctx context.Context, id int64) (store.Author, error) {
	rec, err := s.store.GetAuthor(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Author{}, notFound("Author", id)
		}
		return store.Author{}, fmt.Errorf("get author: %w", err)
	}
	return rec, nil
}
