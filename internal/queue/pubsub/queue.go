// Package pubsub provides a crawl job queue on Google Cloud Pub/Sub.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	"github.com/themewatch/themewatch/internal/themes"
)

// Config identifies the topic and subscription the queue rides on.
type Config struct {
	ProjectID    string
	Topic        string
	Subscription string
}

// Queue publishes crawl jobs to a topic and consumes them from the paired
// subscription. Messages are acked once handed to the caller; delivery is
// at-least-once either way, and ingestion is idempotent.
type Queue struct {
	client *pubsub.Client
	topic  *pubsub.Topic
	sub    *pubsub.Subscription
	logger *zap.Logger

	jobs chan themes.CrawlJob

	startOnce sync.Once
	cancel    context.CancelFunc
	done      chan struct{}
}

// New connects to Pub/Sub and verifies that the topic and subscription
// exist. Authenticates via Application Default Credentials.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Queue, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}

	topic := client.Topic(cfg.Topic)
	ok, err := topic.Exists(ctx)
	if err != nil {
		client.Close() //nolint:errcheck // already failing
		return nil, fmt.Errorf("check topic %s: %w", cfg.Topic, err)
	}
	if !ok {
		client.Close() //nolint:errcheck // already failing
		return nil, fmt.Errorf("pubsub topic %q does not exist in project %q", cfg.Topic, cfg.ProjectID)
	}

	sub := client.Subscription(cfg.Subscription)
	ok, err = sub.Exists(ctx)
	if err != nil {
		client.Close() //nolint:errcheck // already failing
		return nil, fmt.Errorf("check subscription %s: %w", cfg.Subscription, err)
	}
	if !ok {
		client.Close() //nolint:errcheck // already failing
		return nil, fmt.Errorf("pubsub subscription %q does not exist in project %q", cfg.Subscription, cfg.ProjectID)
	}

	return &Queue{
		client: client,
		topic:  topic,
		sub:    sub,
		logger: logger,
		jobs:   make(chan themes.CrawlJob),
		done:   make(chan struct{}),
	}, nil
}

// Enqueue publishes the job and waits for the server acknowledgement, so
// a scheduling decision is durably queued before it is recorded.
func (q *Queue) Enqueue(ctx context.Context, job themes.CrawlJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode crawl job: %w", err)
	}
	result := q.topic.Publish(ctx, &pubsub.Message{Data: data})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish crawl job: %w", err)
	}
	return nil
}

// Dequeue returns the next job from the subscription. The streaming
// receiver is started lazily on the first call and feeds an unbuffered
// channel, which applies backpressure to Pub/Sub's flow control.
func (q *Queue) Dequeue(ctx context.Context) (themes.CrawlJob, error) {
	q.startOnce.Do(q.startReceiver)
	select {
	case <-ctx.Done():
		return themes.CrawlJob{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case job, ok := <-q.jobs:
		if !ok {
			return themes.CrawlJob{}, fmt.Errorf("pubsub receiver stopped")
		}
		return job, nil
	}
}

func (q *Queue) startReceiver() {
	ctx, cancel := context.WithCancel(context.Background())
	q.cancel = cancel
	go func() {
		defer close(q.jobs)
		defer close(q.done)
		err := q.sub.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
			var job themes.CrawlJob
			if err := json.Unmarshal(msg.Data, &job); err != nil {
				// Malformed payloads would redeliver forever; drop them.
				q.logger.Error("dropping undecodable crawl job", zap.Error(err))
				msg.Ack()
				return
			}
			select {
			case q.jobs <- job:
				msg.Ack()
			case <-ctx.Done():
				msg.Nack()
			}
		})
		if err != nil && ctx.Err() == nil {
			q.logger.Error("pubsub receive stopped", zap.Error(err))
		}
	}()
}

// Close stops the receiver and releases the client.
func (q *Queue) Close() error {
	if q.cancel != nil {
		q.cancel()
		<-q.done
	}
	q.topic.Stop()
	if err := q.client.Close(); err != nil {
		return fmt.Errorf("close pubsub client: %w", err)
	}
	return nil
}
