package search

import (
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"

	"folio/api/internal/catalog"
)

const documentIndex = "folio_documents"

// DocumentRecord is the shape stored in the Meilisearch document index.
type DocumentRecord struct {
	ID    int64  `json:"id"`
	Title string `json:"title"`
	Body  string `json:"body"`
}

// Meili wraps the Meilisearch client and tracks its health in the
// background so callers can fall back quickly when it is down.
type Meili struct {
	client  meili.ServiceManager
	healthy atomic.Bool
	done    chan struct{}
}

// NewMeili connects to Meilisearch and ensures the document index exists.
func NewMeili(url, apiKey string) (*Meili, error) {
	client := meili.New(url, meili.WithAPIKey(apiKey))

	m := &Meili{client: client, done: make(chan struct{})}
	if _, err := client.Health(); err != nil {
		return nil, fmt.Errorf("meilisearch health: %w", err)
	}
	m.configureIndex()
	m.healthy.Store(true)
	go m.healthLoop()
	return m, nil
}

func (m *Meili) configureIndex() {
	if _, err := m.client.CreateIndex(&meili.IndexConfig{Uid: documentIndex, PrimaryKey: "id"}); err != nil {
		log.Printf("search: create index %s (may already exist): %v", documentIndex, err)
	}
	index := m.client.Index(documentIndex)
	if _, err := index.UpdateSearchableAttributes(&[]string{"title", "body"}); err != nil {
		log.Printf("search: update searchable attrs for %s: %v", documentIndex, err)
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			was := m.healthy.Swap(err == nil)
			if err != nil && was {
				log.Printf("search: meilisearch unhealthy: %v", err)
			}
			if err == nil && !was {
				log.Println("search: meilisearch recovered, reconfiguring index")
				m.configureIndex()
			}
		}
	}
}

// Healthy reports the last observed health state.
func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

// Close stops the background health loop.
func (m *Meili) Close() {
	close(m.done)
}

// IndexDocument upserts one document into the index.
func (m *Meili) IndexDocument(d catalog.DocumentSummary) error {
	rec := DocumentRecord{ID: d.ID, Title: d.Title, Body: d.Body}
	if _, err := m.client.Index(documentIndex).AddDocuments([]DocumentRecord{rec}, nil); err != nil {
		return fmt.Errorf("add document %d: %w", d.ID, err)
	}
	return nil
}

// DeleteDocument removes one document from the index.
func (m *Meili) DeleteDocument(id string) error {
	if _, err := m.client.Index(documentIndex).DeleteDocument(id, nil); err != nil {
		return fmt.Errorf("delete document %s: %w", id, err)
	}
	return nil
}

// Search queries the document index and returns highlighted hits.
func (m *Meili) Search(query string, limit int) ([]Result, int, error) {
	resp, err := m.client.Index(documentIndex).Search(query, &meili.SearchRequest{
		Limit:                 int64(limit),
		AttributesToHighlight: []string{"body"},
		HighlightPreTag:       "<mark>",
		HighlightPostTag:      "</mark>",
	})
	if err != nil {
		m.healthy.Store(false)
		return nil, 0, fmt.Errorf("search documents: %w", err)
	}

	results := make([]Result, 0, len(resp.Hits))
	for _, hit := range resp.Hits {
		results = append(results, Result{
			ID:      decodeInt(hit, "id"),
			Title:   decodeString(hit, "title"),
			Snippet: snippetFromHit(hit),
		})
	}
	return results, int(resp.EstimatedTotalHits), nil
}

func snippetFromHit(hit meili.Hit) string {
	if raw, ok := hit["_formatted"]; ok {
		var formatted map[string]json.RawMessage
		if err := json.Unmarshal(raw, &formatted); err == nil {
			if body, ok := formatted["body"]; ok {
				var s string
				if err := json.Unmarshal(body, &s); err == nil {
					return snippet(s)
				}
			}
		}
	}
	return snippet(decodeString(hit, "body"))
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

func decodeInt(hit meili.Hit, key string) int64 {
	raw, ok := hit[key]
	if !ok {
		return 0
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0
	}
	v, err := strconv.ParseInt(n.String(), 10, 64)
	if err != nil {
		return 0
	}
	return v
}
