// Boreal - Real-Time Astronomical Alert Broker
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/boreal

// Package ingest implements the alert ingestion pipeline: stream
// consumption, deduplication, cross-match enrichment, filter evaluation,
// persistence and downstream match publishing.
package ingest

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/tomtom215/boreal/internal/decoder"
	"github.com/tomtom215/boreal/internal/logging"
	"github.com/tomtom215/boreal/internal/metrics"
	"github.com/tomtom215/boreal/internal/models"
)

// Store is the slice of the alert store the pipeline writes through.
type Store interface {
	AlertExists(ctx context.Context, candid int64) (bool, error)
	InsertAlert(ctx context.Context, alert *models.Alert) (bool, error)
	AppendPrvCandidates(ctx context.Context, objectID string, prv []models.PrvCandidate) error
	GetAux(ctx context.Context, objectID string) (*models.AlertAux, error)
	InsertMatch(ctx context.Context, m *models.MatchResult) (bool, error)
}

// Enricher ensures an alert's object has cached cross-match results.
type Enricher interface {
	Enrich(ctx context.Context, alert *models.Alert) (bool, error)
}

// Evaluator runs the loaded filters against one enriched alert.
type Evaluator interface {
	EvaluateAlert(alert *models.Alert, aux *models.AlertAux) []models.MatchResult
}

// Publisher forwards persisted matches downstream.
type Publisher interface {
	PublishMatch(ctx context.Context, match *models.MatchResult) error
}

// Subscription yields the raw packet stream.
type Subscription interface {
	Subscribe(ctx context.Context) (<-chan *message.Message, error)
}

// Coordinator drives the per-packet pipeline:
//
//	decode -> dedup -> enrich -> persist -> evaluate filters -> publish
//
// Packets that can never become valid alerts are acknowledged and dropped;
// failures that a redelivery might cure are nacked so JetStream redelivers
// them. Concurrency is bounded: when maxInFlight pipelines are running,
// stream consumption blocks, which backpressures the broker instead of
// buffering unboundedly.
type Coordinator struct {
	sub       Subscription
	store     Store
	dedup     *DedupCache
	enricher  Enricher
	evaluator Evaluator
	publisher Publisher

	maxInFlight int
}

// NewCoordinator wires the pipeline. publisher may be nil when downstream
// forwarding is disabled.
func NewCoordinator(sub Subscription, store Store, dedup *DedupCache, enricher Enricher, evaluator Evaluator, publisher Publisher, maxInFlight int) (*Coordinator, error) {
	switch {
	case sub == nil:
		return nil, errors.New("ingest: subscription required")
	case store == nil:
		return nil, errors.New("ingest: store required")
	case dedup == nil:
		return nil, errors.New("ingest: dedup cache required")
	case enricher == nil:
		return nil, errors.New("ingest: enricher required")
	case evaluator == nil:
		return nil, errors.New("ingest: evaluator required")
	}
	if maxInFlight <= 0 {
		maxInFlight = 8
	}
	return &Coordinator{
		sub:         sub,
		store:       store,
		dedup:       dedup,
		enricher:    enricher,
		evaluator:   evaluator,
		publisher:   publisher,
		maxInFlight: maxInFlight,
	}, nil
}

// Run consumes the packet stream until the context is canceled, then waits
// for in-flight pipelines to finish.
func (c *Coordinator) Run(ctx context.Context) error {
	messages, err := c.sub.Subscribe(ctx)
	if err != nil {
		return err
	}

	sem := make(chan struct{}, c.maxInFlight)
	var wg sync.WaitGroup

	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return ctx.Err()
		case msg, ok := <-messages:
			if !ok {
				wg.Wait()
				return nil
			}

			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				msg.Nack()
				wg.Wait()
				return ctx.Err()
			}

			wg.Add(1)
			go func() {
				defer wg.Done()
				defer func() { <-sem }()
				c.handle(ctx, msg)
			}()
		}
	}
}

// Serve implements suture.Service.
func (c *Coordinator) Serve(ctx context.Context) error {
	return c.Run(ctx)
}

// String implements fmt.Stringer for supervisor logging.
func (c *Coordinator) String() string {
	return "ingest-coordinator"
}

// handle runs one packet through the pipeline and acks or nacks it.
func (c *Coordinator) handle(ctx context.Context, msg *message.Message) {
	start := time.Now()
	metrics.PacketsConsumed.Inc()

	if retry := c.process(ctx, msg.Payload); retry {
		msg.Nack()
		return
	}
	msg.Ack()
	metrics.PipelineDuration.Observe(time.Since(start).Seconds())
}

// process returns true when the packet should be redelivered.
func (c *Coordinator) process(ctx context.Context, payload []byte) (retry bool) {
	alert, history, err := decoder.Decode(payload)
	if err != nil {
		// Malformed forever: drop, don't redeliver.
		metrics.PacketsDropped.WithLabelValues("invalid").Inc()
		logging.Warn().Err(err).Msg("Dropping undecodable packet")
		return false
	}

	log := logging.With().
		Int64("candid", alert.Candid).
		Str("object_id", alert.ObjectID).
		Logger()

	// Fast-path dedup, then the authoritative check. The cache can only
	// produce false misses, never false hits within its TTL.
	if c.dedup.Seen(alert.Candid) {
		metrics.PacketsDuplicate.WithLabelValues("cache").Inc()
		return false
	}
	exists, err := c.store.AlertExists(ctx, alert.Candid)
	if err != nil {
		log.Error().Err(err).Msg("Dedup check failed")
		return true
	}
	if exists {
		metrics.PacketsDuplicate.WithLabelValues("store").Inc()
		c.dedup.Mark(alert.Candid)
		return false
	}

	// Enrichment before the commit point: a transient catalog failure
	// leaves no trace, so redelivery reruns the whole pipeline.
	if _, err := c.enricher.Enrich(ctx, alert); err != nil {
		log.Error().Err(err).Msg("Cross-match enrichment failed")
		return true
	}
	if err := c.store.AppendPrvCandidates(ctx, alert.ObjectID, history); err != nil {
		log.Error().Err(err).Msg("History append failed")
		return true
	}

	inserted, err := c.store.InsertAlert(ctx, alert)
	if err != nil {
		log.Error().Err(err).Msg("Alert insert failed")
		return true
	}
	c.dedup.Mark(alert.Candid)
	if !inserted {
		// Lost a race with a concurrent delivery of the same candid.
		metrics.PacketsDuplicate.WithLabelValues("store").Inc()
		return false
	}
	metrics.AlertsIngested.Inc()

	aux, err := c.store.GetAux(ctx, alert.ObjectID)
	if err != nil {
		// The alert is durable; filters just evaluate without history.
		log.Error().Err(err).Msg("Aux load failed, evaluating without history")
		aux = nil
	}

	for _, match := range c.evaluator.EvaluateAlert(alert, aux) {
		won, err := c.store.InsertMatch(ctx, &match)
		if err != nil {
			log.Error().Err(err).Str("filter_id", match.FilterID).Msg("Match insert failed")
			continue
		}
		if !won || c.publisher == nil {
			continue
		}
		if err := c.publisher.PublishMatch(ctx, &match); err != nil {
			log.Error().Err(err).Str("filter_id", match.FilterID).Msg("Match publish failed")
		}
	}
	return false
}
