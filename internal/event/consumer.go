package event

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// resubscribeDelay spaces out subscription attempts after the pub/sub
// channel is lost.
const resubscribeDelay = time.Second

// AuthorDeleter and DocumentDeleter are the slices of the entity services the
// cascade needs.
type AuthorDeleter interface {
	Delete(ctx context.Context, id int64) error
}

type DocumentDeleter interface {
	Delete(ctx context.Context, id int64) error
}

// Consumer receives lifecycle events and applies the author-updated cascade:
// delete each snapshotted document, then the author. Every step is
// best-effort; a failed step is logged and the cascade moves on. The snapshot
// is authoritative as published: the consumer deliberately does not re-read
// current state, so edits made between publish and consume are ignored.
type Consumer struct {
	client    *redis.Client
	topics    Topics
	authors   AuthorDeleter
	documents DocumentDeleter
}

func NewConsumer(client *redis.Client, topics Topics, authors AuthorDeleter, documents DocumentDeleter) *Consumer {
	return &Consumer{client: client, topics: topics, authors: authors, documents: documents}
}

// Run subscribes to all event topics and dispatches messages until ctx is
// cancelled. go-redis reconnects a live subscription on its own; if the
// channel still closes, Run resubscribes rather than leaving the process
// without a cascade consumer.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		err := c.consume(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Printf("ERROR: event subscription lost, resubscribing: %v", err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(resubscribeDelay):
		}
	}
}

func (c *Consumer) consume(ctx context.Context) error {
	sub := c.client.Subscribe(ctx,
		c.topics.AuthorUpdated,
		c.topics.AuthorDeleted,
		c.topics.DocumentUpdated,
		c.topics.DocumentDeleted,
	)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return errors.New("pubsub channel closed")
			}
			c.dispatch(ctx, msg.Channel, msg.Payload)
		}
	}
}

func (c *Consumer) dispatch(ctx context.Context, topic, payload string) {
	switch topic {
	case c.topics.AuthorUpdated:
		c.HandleAuthorUpdated(ctx, payload)
	case c.topics.AuthorDeleted:
		c.HandleAuthorDeleted(ctx, payload)
	case c.topics.DocumentUpdated:
		c.HandleDocumentUpdated(ctx, payload)
	case c.topics.DocumentDeleted:
		c.HandleDocumentDeleted(ctx, payload)
	default:
		log.Printf("event: message on unexpected topic %s", topic)
	}
}

// HandleAuthorUpdated deletes the documents listed in the snapshot, each
// independently, and then the author. One document failing does not stop the
// remaining documents or the author deletion; nothing is retried.
func (c *Consumer) HandleAuthorUpdated(ctx context.Context, payload string) {
	log.Printf("event: author updated event received: %s", payload)

	var snapshot AuthorSnapshot
	if err := json.Unmarshal([]byte(payload), &snapshot); err != nil {
		log.Printf("event: decode author-updated snapshot: %v", err)
		return
	}

	for _, doc := range snapshot.Documents {
		if err := c.documents.Delete(ctx, doc.ID); err != nil {
			log.Printf("event: cascade delete document %d: %v", doc.ID, err)
		}
	}

	if err := c.authors.Delete(ctx, snapshot.ID); err != nil {
		log.Printf("event: cascade delete author %d: %v", snapshot.ID, err)
	}
}

// HandleAuthorDeleted is an audit signal only.
func (c *Consumer) HandleAuthorDeleted(ctx context.Context, payload string) {
	log.Printf("event: author deleted event received: %s", payload)
}

// HandleDocumentUpdated is an audit signal only.
func (c *Consumer) HandleDocumentUpdated(ctx context.Context, payload string) {
	log.Printf("event: document updated event received: %s", payload)
}

// HandleDocumentDeleted is an audit signal only.
func (c *Consumer) HandleDocumentDeleted(ctx context.Context, payload string) {
	log.Printf("event: document deleted event received: %s", payload)
}
