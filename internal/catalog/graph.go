// Package catalog holds the author/document domain: the in-memory
// relationship graph, the association reconciler and the entity services.
package catalog

import (
	"fmt"
	"sort"

	"folio/api/internal/store"
)

// Graph is a per-operation, in-memory view of authors, documents and their
// association edges. Entities are stored by id in an arena and edges in
// explicit adjacency sets, so both sides of every relationship are updated in
// one place instead of through back-pointers on the entities themselves.
//
// Two relationship kinds exist. Authorship is owned by the author and
// mirrored on the document. References are owned by the referencing document
// and mirrored on the referenced one as referred-by.
//
// Id 0 marks a transient entity that has not been persisted yet. A graph
// holds at most one transient node per kind; the create flows only ever build
// a single unsaved entity, so transient nodes are never compared to each
// other.
type Graph struct {
	authors   map[int64]store.Author
	documents map[int64]store.Document

	authorDocs    map[int64]map[int64]struct{} // author -> documents (owning)
	docAuthors    map[int64]map[int64]struct{} // document -> authors (mirror)
	docRefs       map[int64]map[int64]struct{} // document -> references (owning)
	docReferredBy map[int64]map[int64]struct{} // document -> referrers (mirror)
}

func NewGraph() *Graph {
	return &Graph{
		authors:       make(map[int64]store.Author),
		documents:     make(map[int64]store.Document),
		authorDocs:    make(map[int64]map[int64]struct{}),
		docAuthors:    make(map[int64]map[int64]struct{}),
		docRefs:       make(map[int64]map[int64]struct{}),
		docReferredBy: make(map[int64]map[int64]struct{}),
	}
}

// PutAuthor registers an author node. Re-adding an id overwrites the record
// but keeps existing edges.
func (g *Graph) PutAuthor(a store.Author) {
	g.authors[a.ID] = a
}

func (g *Graph) PutDocument(d store.Document) {
	g.documents[d.ID] = d
}

func (g *Graph) Author(id int64) (store.Author, bool) {
	a, ok := g.authors[id]
	return a, ok
}

func (g *Graph) Document(id int64) (store.Document, bool) {
	d, ok := g.documents[id]
	return d, ok
}

// AddAuthorship links an author and a document, updating both sides.
func (g *Graph) AddAuthorship(authorID, documentID int64) error {
	if _, ok := g.authors[authorID]; !ok {
		return fmt.Errorf("graph: author %d not loaded", authorID)
	}
	if _, ok := g.documents[documentID]; !ok {
		return fmt.Errorf("graph: document %d not loaded", documentID)
	}
	addEdge(g.authorDocs, authorID, documentID)
	addEdge(g.docAuthors, documentID, authorID)
	return nil
}

// RemoveAuthorship unlinks an author and a document, updating both sides.
func (g *Graph) RemoveAuthorship(authorID, documentID int64) {
	removeEdge(g.authorDocs, authorID, documentID)
	removeEdge(g.docAuthors, documentID, authorID)
}

// AddReference links a document to one it references, updating both sides.
// A document never references itself.
func (g *Graph) AddReference(documentID, referenceID int64) error {
	if documentID == referenceID {
		return selfReferenceConflict(documentID)
	}
	if _, ok := g.documents[documentID]; !ok {
		return fmt.Errorf("graph: document %d not loaded", documentID)
	}
	if _, ok := g.documents[referenceID]; !ok {
		return fmt.Errorf("graph: document %d not loaded", referenceID)
	}
	addEdge(g.docRefs, documentID, referenceID)
	addEdge(g.docReferredBy, referenceID, documentID)
	return nil
}

func (g *Graph) RemoveReference(documentID, referenceID int64) {
	removeEdge(g.docRefs, documentID, referenceID)
	removeEdge(g.docReferredBy, referenceID, documentID)
}

// DetachDocument removes the document from every edge set where it is the
// non-owning side: each author's document set and each referrer's reference
// set. Owned edges (the document's own references) are left alone; the store
// retracts those on delete.
func (g *Graph) DetachDocument(id int64) {
	for authorID := range g.docAuthors[id] {
		g.RemoveAuthorship(authorID, id)
	}
	for referrerID := range g.docReferredBy[id] {
		g.RemoveReference(referrerID, id)
	}
}

func (g *Graph) DocumentIDsOf(authorID int64) []int64 {
	return sortedKeys(g.authorDocs[authorID])
}

func (g *Graph) AuthorIDsOf(documentID int64) []int64 {
	return sortedKeys(g.docAuthors[documentID])
}

func (g *Graph) ReferenceIDsOf(documentID int64) []int64 {
	return sortedKeys(g.docRefs[documentID])
}

func (g *Graph) ReferredByIDsOf(documentID int64) []int64 {
	return sortedKeys(g.docReferredBy[documentID])
}

func addEdge(adj map[int64]map[int64]struct{}, from, to int64) {
	set, ok := adj[from]
	if !ok {
		set = make(map[int64]struct{})
		adj[from] = set
	}
	set[to] = struct{}{}
}

func removeEdge(adj map[int64]map[int64]struct{}, from, to int64) {
	if set, ok := adj[from]; ok {
		delete(set, to)
	}
}

func sortedKeys(set map[int64]struct{}) []int64 {
	ids := make([]int64, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
