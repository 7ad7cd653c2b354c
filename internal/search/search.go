// Package search serves document full-text search: Meilisearch when
// configured and healthy, Postgres otherwise.
package search

import (
	"context"
	"log"
	"strconv"

	"folio/api/internal/catalog"
	"folio/api/internal/store"
)

// Result is a single search hit returned to the caller.
type Result struct {
	ID      int64  `json:"id"`
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// FallbackStore runs the Postgres search used when Meilisearch is down or
// not configured.
type FallbackStore interface {
	SearchDocuments(ctx context.Context, query string, limit int) ([]store.Document, error)
}

// Service is the facade that tries Meilisearch first and falls back to the
// store.
type Service struct {
	meili *Meili
	store FallbackStore
}

// NewService creates a search service. meili may be nil if Meilisearch is not
// configured.
func NewService(meili *Meili, fallback FallbackStore) *Service {
	return &Service{meili: meili, store: fallback}
}

// Search tries Meilisearch if healthy, otherwise queries the store.
func (s *Service) Search(ctx context.Context, query string, limit int) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(query, limit)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: query}
		}
		log.Printf("search: meilisearch error, falling back to store: %v", err)
	}

	docs, err := s.store.SearchDocuments(ctx, query, limit)
	if err != nil {
		log.Printf("search: store search error: %v", err)
		return Response{Results: []Result{}, Query: query}
	}
	results := make([]Result, 0, len(docs))
	for _, d := range docs {
		results = append(results, Result{ID: d.ID, Title: d.Title, Snippet: snippet(d.Body)})
	}
	return Response{Results: results, Total: len(results), Query: query}
}

// IndexDocument pushes a document into the search index (fire-and-forget).
func (s *Service) IndexDocument(d catalog.DocumentSummary) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexDocument(d); err != nil {
			log.Printf("search: index document %d: %v", d.ID, err)
		}
	}()
}

// RemoveDocument drops a document from the search index (fire-and-forget).
func (s *Service) RemoveDocument(id int64) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteDocument(strconv.FormatInt(id, 10)); err != nil {
			log.Printf("search: remove document %d: %v", id, err)
		}
	}()
}

func snippet(body string) string {
	const max = 200
	if len(body) <= max {
		return body
	}
	return body[:max]
}

func nonNil(results []Result) []Result {
	if results == nil {
		return []Result{}
	}
	return results
}
