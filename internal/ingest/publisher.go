// Boreal - Real-Time Astronomical Alert Broker
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/boreal

package ingest

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"
	natsgo "github.com/nats-io/nats.go"
	"golang.org/x/time/rate"

	"github.com/tomtom215/boreal/internal/config"
	"github.com/tomtom215/boreal/internal/metrics"
	"github.com/tomtom215/boreal/internal/models"
)

// MatchPublisher forwards persisted filter matches downstream, one subject
// per owning group ("<prefix>.<group id>"), so consumers subscribe only to
// their own matches. Publishing happens after the match record is durably
// stored and only when the insert won, which gives consumers at-least-once
// delivery keyed by a stable message id.
type MatchPublisher struct {
	publisher message.Publisher
	prefix    string
	limiter   *rate.Limiter

	mu     sync.RWMutex
	closed bool
}

// NewMatchPublisher creates the downstream match publisher.
func NewMatchPublisher(cfg config.NATSConfig, logger watermill.LoggerAdapter) (*MatchPublisher, error) {
	if logger == nil {
		logger = watermill.NewStdLogger(false, false)
	}

	natsOpts := []natsgo.Option{
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(cfg.MaxReconnects),
		natsgo.ReconnectWait(cfg.ReconnectWait),
		natsgo.DisconnectErrHandler(func(_ *natsgo.Conn, err error) {
			if err != nil {
				logger.Error("Match publisher disconnected", err, nil)
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			logger.Info("Match publisher reconnected", watermill.LogFields{
				"url": nc.ConnectedUrl(),
			})
		}),
	}

	pub, err := wmNats.NewPublisher(wmNats.PublisherConfig{
		URL:         cfg.URL,
		NatsOptions: natsOpts,
		Marshaler:   &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{
			AutoProvision: true,
			TrackMsgId:    true,
			PublishOptions: []natsgo.PubOpt{
				natsgo.RetryAttempts(3),
				natsgo.RetryWait(100 * time.Millisecond),
			},
		},
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("create match publisher: %w", err)
	}

	prefix := cfg.PublishTopicPrefix
	if prefix == "" {
		prefix = "alerts.matches"
	}

	var limiter *rate.Limiter
	if cfg.PublishRatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.PublishRatePerSecond),
			int(cfg.PublishRatePerSecond)+1)
	}

	return &MatchPublisher{publisher: pub, prefix: prefix, limiter: limiter}, nil
}

// PublishMatch forwards one persisted match to its group's subject. The
// message id is candid:filter_id, so broker-side deduplication suppresses
// re-publishes caused by packet redelivery.
func (p *MatchPublisher) PublishMatch(ctx context.Context, match *models.MatchResult) error {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return fmt.Errorf("match publisher is closed")
	}
	p.mu.RUnlock()

	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("publish rate limit: %w", err)
		}
	}

	payload, err := json.Marshal(match)
	if err != nil {
		return fmt.Errorf("encode match (%d, %s): %w", match.Candid, match.FilterID, err)
	}

	id := strconv.FormatInt(match.Candid, 10) + ":" + match.FilterID
	msg := message.NewMessage(id, payload)
	msg.Metadata.Set(natsgo.MsgIdHdr, id)
	msg.Metadata.Set("filter_id", match.FilterID)

	topic := fmt.Sprintf("%s.%d", p.prefix, match.GroupID)
	if err := p.publisher.Publish(topic, msg); err != nil {
		return fmt.Errorf("publish match (%d, %s): %w", match.Candid, match.FilterID, err)
	}

	metrics.MatchesPublished.Inc()
	return nil
}

// Close shuts down the publisher.
func (p *MatchPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true
	return p.publisher.Close()
}
