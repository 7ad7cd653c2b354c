package catalog

import (
	"context"

	"folio/api/internal/store"
)

// Store is the persistence contract the entity services depend on. Saves
// assign ids on first save and replace the entity's edge rows. Author deletes
// retract only the edges the author owns; document deletes also sever the
// mirror edges naming the document, atomically with the row delete.
type Store interface {
	GetAuthor(ctx context.Context, id int64) (store.Author, error)
	ListAuthors(ctx context.Context) ([]store.Author, error)
	FindAuthorsByID(ctx context.Context, ids []int64) ([]store.Author, error)
	AuthorDocumentIDs(ctx context.Context, authorID int64) ([]int64, error)
	SaveAuthor(ctx context.Context, a store.Author, documentIDs []int64) (store.Author, error)
	DeleteAuthor(ctx context.Context, id int64) error

	GetDocument(ctx context.Context, id int64) (store.Document, error)
	ListDocuments(ctx context.Context) ([]store.Document, error)
	FindDocumentsByID(ctx context.Context, ids []int64) ([]store.Document, error)
	DocumentAuthorIDs(ctx context.Context, documentID int64) ([]int64, error)
	DocumentReferenceIDs(ctx context.Context, documentID int64) ([]int64, error)
	DocumentReferredByIDs(ctx context.Context, documentID int64) ([]int64, error)
	SaveDocument(ctx context.Context, d store.Document, authorIDs, referenceIDs []int64) (store.Document, error)
	DeleteDocument(ctx context.Context, id int64) error
}

// AuthorEvents receives author lifecycle notifications. Implementations must
// not block and must not surface publish failures to the caller.
type AuthorEvents interface {
	AuthorUpdated(ctx context.Context, snapshot AuthorDetails)
	AuthorDeleted(ctx context.Context, id int64)
}

// DocumentEvents receives document lifecycle notifications (audit only, no
// consumer-side cascade).
type DocumentEvents interface {
	DocumentUpdated(ctx context.Context, id int64)
	DocumentDeleted(ctx context.Context, id int64)
}

// SearchIndex keeps the document search index in step with the store.
// Implementations are fire-and-forget.
type SearchIndex interface {
	IndexDocument(d DocumentSummary)
	RemoveDocument(id int64)
}

type AuthorSummary struct {
	ID        int64  `json:"id"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

type DocumentSummary struct {
	ID    int64  `json:"id"`
	Title string `json:"title"`
	Body  string `json:"body"`
}

type AuthorDetails struct {
	ID        int64             `json:"id"`
	FirstName string            `json:"firstName"`
	LastName  string            `json:"lastName"`
	Documents []DocumentSummary `json:"documents"`
}

type DocumentDetails struct {
	ID         int64             `json:"id"`
	Title      string            `json:"title"`
	Body       string            `json:"body"`
	Authors    []AuthorSummary   `json:"authors"`
	References []DocumentSummary `json:"references"`
}

type AuthorCreate struct {
	FirstName string
	LastName  string
	Documents []int64
}

type AuthorUpdate struct {
	ID        int64
	FirstName string
	LastName  string
	Documents []int64
}

type DocumentCreate struct {
	Title      string
	Body       string
	Authors    []int64
	References []int64
}

type DocumentUpdate struct {
	ID         int64
	Title      string
	Body       string
	Authors    []int64
	References []int64
}

func authorSummary(a store.Author) AuthorSummary {
	return AuthorSummary{ID: a.ID, FirstName: a.FirstName, LastName: a.LastName}
}

func documentSummary(d store.Document) DocumentSummary {
	return DocumentSummary{ID: d.ID, Title: d.Title, Body: d.Body}
}
