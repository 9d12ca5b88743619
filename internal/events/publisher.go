package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"auth-service/internal/bucketing"
	"auth-service/internal/client"
	"auth-service/internal/model"
	"auth-service/internal/repository"
	"auth-service/internal/util"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Publisher records auth activity. The Postgres append is authoritative
// and its error is the caller's error; the Kafka, ClickHouse and
// Elasticsearch copies are best-effort and only logged on failure.
type Publisher struct {
	activity repository.ActivityRepository
	kafka    *client.KafkaProducer
	click    *client.ClickHouseClient
	es       *client.ESClient
	buckets  *bucketing.Manager
}

func NewPublisher(
	activity repository.ActivityRepository,
	kafka *client.KafkaProducer,
	click *client.ClickHouseClient,
	es *client.ESClient,
	buckets *bucketing.Manager,
) *Publisher {
	return &Publisher{
		activity: activity,
		kafka:    kafka,
		click:    click,
		es:       es,
		buckets:  buckets,
	}
}

// Publish appends the event to the activity log and fans copies out to
// the analytics stores. Fan-out runs under a short deadline detached
// from the request context so a slow broker cannot stall the response.
func (p *Publisher) Publish(ctx context.Context, event *model.ActivityEvent) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	event.EventBucket = p.buckets.EventBucket(string(event.EventType))

	if err := p.activity.AppendActivity(ctx, event); err != nil {
		return fmt.Errorf("append activity: %w", err)
	}

	p.fanOut(event)
	return nil
}

func (p *Publisher) fanOut(event *model.ActivityEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		util.Error("Failed to marshal activity event", util.ErrorField(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	var g errgroup.Group

	if p.kafka != nil {
		g.Go(func() error {
			return p.kafka.Publish(ctx, []byte(event.UserID.String()), payload)
		})
	}

	if p.click != nil {
		g.Go(func() error {
			return p.click.Exec(ctx, `
				INSERT INTO auth_events (id, user_id, user_bucket, event_type, event_bucket, device_id, ip_address, created_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
				event.ID.String(), event.UserID.String(), p.buckets.UserBucket(event.UserID),
				string(event.EventType), event.EventBucket,
				event.DeviceID, event.IPAddress, event.CreatedAt,
			)
		})
	}

	if p.es != nil && event.Security() {
		g.Go(func() error {
			return p.es.Index(ctx, event.ID.String(), event)
		})
	}

	go func() {
		defer cancel()
		if err := g.Wait(); err != nil {
			util.Warn("Activity fan-out incomplete",
				util.String("event_type", string(event.EventType)),
				util.String("user_id", event.UserID.String()),
				util.ErrorField(err))
		}
	}()
}
