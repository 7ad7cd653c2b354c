// Package event carries entity lifecycle notifications over Redis pub/sub.
//
// Publishing is fire-and-forget: the writer never blocks on the channel and
// never sees a publish failure. Consumption is asynchronous and best-effort;
// the author-updated consumer acts on the published snapshot as-is, ignoring
// any edits made between publish and consume.
package event

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Topics names the pub/sub channels for each event kind.
type Topics struct {
	AuthorUpdated   string
	AuthorDeleted   string
	DocumentUpdated string
	DocumentDeleted string
}

// DocumentSnapshot is a point-in-time copy of a document inside an author
// snapshot.
type DocumentSnapshot struct {
	ID    int64  `json:"id"`
	Title string `json:"title"`
	Body  string `json:"body"`
}

// AuthorSnapshot is the author-updated payload: the author and its full
// document membership as visible at commit time.
type AuthorSnapshot struct {
	ID        int64              `json:"id"`
	FirstName string             `json:"firstName"`
	LastName  string             `json:"lastName"`
	Documents []DocumentSnapshot `json:"documents"`
}

// NewClient connects a Redis client for the event channel.
func NewClient(redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return client, nil
}
