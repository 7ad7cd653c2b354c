package event

import (
	"context"
	"encoding/json"
	"log"
	"strconv"

	"github.com/redis/go-redis/v9"

	"folio/api/internal/catalog"
)

// Producer publishes entity lifecycle events. Every publish runs on its own
// goroutine and failures are logged, never returned: an already-committed
// save or delete must not be failed or delayed by the event channel.
type Producer struct {
	client *redis.Client
	topics Topics
}

func NewProducer(client *redis.Client, topics Topics) *Producer {
	return &Producer{client: client, topics: topics}
}

// AuthorUpdated publishes the serialized snapshot of a just-saved author.
func (p *Producer) AuthorUpdated(ctx context.Context, details catalog.AuthorDetails) {
	snapshot := AuthorSnapshot{
		ID:        details.ID,
		FirstName: details.FirstName,
		LastName:  details.LastName,
		Documents: make([]DocumentSnapshot, 0, len(details.Documents)),
	}
	for _, d := range details.Documents {
		snapshot.Documents = append(snapshot.Documents, DocumentSnapshot{ID: d.ID, Title: d.Title, Body: d.Body})
	}

	payload, err := json.Marshal(snapshot)
	if err != nil {
		log.Printf("event: marshal author-updated snapshot for author %d: %v", details.ID, err)
		return
	}
	p.publish(p.topics.AuthorUpdated, string(payload))
}

// AuthorDeleted publishes the deleted author's id.
func (p *Producer) AuthorDeleted(ctx context.Context, id int64) {
	p.publish(p.topics.AuthorDeleted, strconv.FormatInt(id, 10))
}

// DocumentUpdated publishes the updated document's id.
func (p *Producer) DocumentUpdated(ctx context.Context, id int64) {
	p.publish(p.topics.DocumentUpdated, strconv.FormatInt(id, 10))
}

// DocumentDeleted publishes the deleted document's id.
func (p *Producer) DocumentDeleted(ctx context.Context, id int64) {
	p.publish(p.topics.DocumentDeleted, strconv.FormatInt(id, 10))
}

// publish sends the payload without blocking the caller. The background
// context keeps an in-flight publish alive after the request that triggered
// it returns.
func (p *Producer) publish(topic, payload string) {
	go func() {
		if err := p.client.Publish(context.Background(), topic, payload).Err(); err != nil {
			log.Printf("event: publish %s failed: %v", topic, err)
			return
		}
		log.Printf("event: published %s", topic)
	}()
}
