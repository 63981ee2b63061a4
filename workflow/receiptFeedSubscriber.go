package workflow

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"cloud.google.com/go/pubsub"
	"github.com/mmdatafocus/supplymap_backend/config"
	"github.com/mmdatafocus/supplymap_backend/utils"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type SubscriberOptions struct {
	Topic        string
	Subscription string
	// MaxOutstanding caps concurrently processed messages.
	MaxOutstanding int
}

// siteMutexes serializes messages of one site inside this process; the
// database feed lock does the same across processes.
type siteMutexes struct {
	mu    sync.Mutex
	sites map[string]*sync.Mutex
}

func (s *siteMutexes) get(siteCode string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.sites[siteCode]
	if !ok {
		m = &sync.Mutex{}
		s.sites[siteCode] = m
	}
	return m
}

// RunReceiptFeedSubscriber pulls ERP receipt messages until ctx is cancelled.
// Undecodable and rejected messages are acked; anything else is nacked for
// redelivery.
func RunReceiptFeedSubscriber(ctx context.Context, logger *logrus.Logger, settings config.SupplySettings, opts SubscriberOptions) error {
	client, err := config.GetClient(ctx)
	if err != nil {
		return err
	}
	topic, err := config.CreateTopicIfNotExists(ctx, client, opts.Topic)
	if err != nil {
		return err
	}
	sub, err := config.CreateSubscriptionIfNotExists(ctx, client, opts.Subscription, topic)
	if err != nil {
		return err
	}
	if opts.MaxOutstanding > 0 {
		sub.ReceiveSettings.MaxOutstandingMessages = opts.MaxOutstanding
	} else {
		sub.ReceiveSettings.MaxOutstandingMessages = 10
	}

	locks := &siteMutexes{sites: make(map[string]*sync.Mutex)}
	callback := func(ctx context.Context, msg *pubsub.Message) {
		ctx, span := tracer.Start(ctx, "workflow.ReceiveReceiptFeed",
			trace.WithSpanKind(trace.SpanKindConsumer),
			trace.WithAttributes(attribute.String("pubsub.message_id", msg.ID)))
		defer span.End()

		var feed ReceiptFeedMessage
		if err := json.Unmarshal(msg.Data, &feed); err != nil {
			config.LogError(logger, "receiptFeedSubscriber.go", "RunReceiptFeedSubscriber", "Unmarshaling pubsub message", string(msg.Data), err)
			msg.Ack()
			return
		}
		if strings.TrimSpace(feed.MessageId) == "" {
			feed.MessageId = msg.ID
		}

		mutex := locks.get(strings.TrimSpace(feed.SiteCode))
		mutex.Lock()
		defer mutex.Unlock()

		ctx = utils.SetUserNameInContext(ctx, FeedSource)
		ctx = utils.SetCorrelationIdInContext(ctx, msg.ID)
		if _, err := ProcessReceiptFeedMessage(ctx, logger, settings, feed); err != nil {
			if utils.IsValidationError(err, "") {
				msg.Ack()
				return
			}
			logger.WithFields(logrus.Fields{
				"field":      "RunReceiptFeedSubscriber",
				"message_id": msg.ID,
				"site_code":  feed.SiteCode,
			}).Error("receipt feed processing failed: " + err.Error())
			msg.Nack()
			return
		}
		msg.Ack()
	}

	logger.WithFields(logrus.Fields{
		"field":        "RunReceiptFeedSubscriber",
		"subscription": opts.Subscription,
	}).Info("receiving receipt feed messages")
	return sub.Receive(ctx, callback)
}
