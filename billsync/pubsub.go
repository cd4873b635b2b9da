package billsync

import (
	"context"
	"encoding/json"
	"io"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/itembills_sync/config"
	"github.com/patrickmn/go-cache"
)

const defaultTopic = "bill-sync"

// Publisher hands a queued run to whatever executes it.
type Publisher interface {
	PublishSyncRun(ctx context.Context, runId uint, correlationId string) error
}

type PubSubPublisher struct {
	Topic  string
	create bool
}

func NewPubSubPublisher() *PubSubPublisher {
	return &PubSubPublisher{
		Topic:  config.EnvString("BILLSYNC_TOPIC", defaultTopic),
		create: config.EnvBoolDefault("BILLSYNC_CREATE_TOPIC", false),
	}
}

func (p *PubSubPublisher) PublishSyncRun(ctx context.Context, runId uint, correlationId string) error {
	if p.create {
		client, err := config.GetClient(ctx)
		if err != nil {
			return err
		}
		if _, err := config.CreateTopicIfNotExists(ctx, client, p.Topic); err != nil {
			return err
		}
	}
	_, err := config.PublishJSON(ctx, p.Topic, SyncPubSubPayload{RunId: runId, CorrelationId: correlationId}, map[string]string{
		"correlation_id": correlationId,
	})
	return err
}

// InlinePublisher runs the worker in a goroutine instead of going through Pub/Sub.
// Used when BILLSYNC_PUBSUB_ENABLED is off.
type InlinePublisher struct {
	Worker  *Worker
	Timeout time.Duration
}

func (p *InlinePublisher) PublishSyncRun(_ context.Context, runId uint, _ string) error {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := p.Worker.ProcessRun(ctx, runId); err != nil {
			p.Worker.logError("InlinePublisher", "process run", err)
		}
	}()
	return nil
}

// NewPublisherFromEnv picks Pub/Sub or inline execution from BILLSYNC_PUBSUB_ENABLED.
func NewPublisherFromEnv(worker *Worker) Publisher {
	if config.EnvBoolDefault("BILLSYNC_PUBSUB_ENABLED", false) {
		return NewPubSubPublisher()
	}
	return &InlinePublisher{Worker: worker}
}

// PubSubPushHandler always answers 204 so Pub/Sub does not redeliver malformed
// messages; failed runs are recorded on the run itself. Message ids already seen
// within the dedupe window are acknowledged without work.
func PubSubPushHandler(worker *Worker) gin.HandlerFunc {
	seen := cache.New(10*time.Minute, 20*time.Minute)
	return func(c *gin.Context) {
		if !config.EnvBoolDefault("BILLSYNC_PUBSUB_PUSH_ENABLED", true) {
			c.Status(204)
			return
		}

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.Status(204)
			return
		}

		var envelope PubSubPushEnvelope
		if err := json.Unmarshal(body, &envelope); err != nil {
			c.Status(204)
			return
		}

		var payload SyncPubSubPayload
		if err := json.Unmarshal(envelope.Message.Data, &payload); err != nil {
			c.Status(204)
			return
		}
		if payload.RunId == 0 {
			c.Status(204)
			return
		}

		if id := strings.TrimSpace(envelope.Message.ID); id != "" {
			if err := seen.Add(id, payload.RunId, cache.DefaultExpiration); err != nil {
				c.Status(204)
				return
			}
		}

		if err := worker.ProcessRun(c.Request.Context(), payload.RunId); err != nil {
			worker.logError("PubSubPushHandler", "process run", err)
		}
		c.Status(204)
	}
}
