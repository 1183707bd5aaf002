// Package gateway is the ingestion boundary: it accepts one raw reader line
// at a time, from the serial relay or a network submission, and drives
// normalization, the attendance state machine, and observer fan-out.
package gateway

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"rfidattend/internal/attendance"
	"rfidattend/internal/metrics"
	"rfidattend/internal/queue"
	"rfidattend/internal/tagreader"
)

// Processor commits the attendance transition for a canonical tag.
type Processor interface {
	ProcessScan(ctx context.Context, tag string, occurredAt time.Time) (attendance.Outcome, error)
}

// Publisher fans an outcome out to live observers.
type Publisher interface {
	Publish(out attendance.Outcome)
}

// Gateway sequences normalizer, state machine, broadcaster and the outcome
// queue for each submitted reading.
type Gateway struct {
	normalizer *tagreader.Normalizer
	machine    Processor
	hub        Publisher
	outcomes   queue.Queue

	now func() time.Time
}

// New wires the gateway. outcomes may be nil when no queue consumer runs.
func New(n *tagreader.Normalizer, machine Processor, hub Publisher, outcomes queue.Queue) *Gateway {
	return &Gateway{
		normalizer: n,
		machine:    machine,
		hub:        hub,
		outcomes:   outcomes,
		now:        time.Now,
	}
}

// Submit processes one raw reading end to end and returns the outcome
// synchronously. Malformed and debounced readings short-circuit before the
// state machine and return (nil, nil): a no-op, not an error. All other
// outcomes, failures included, are broadcast before returning so dashboards
// track them live; err carries the classification for the caller
// (attendance.ErrUnknownStudent, attendance.ErrStoreUnavailable).
func (g *Gateway) Submit(ctx context.Context, rawLine string) (*attendance.Outcome, error) {
	tag, res := g.normalizer.Normalize(rawLine)
	switch res {
	case tagreader.Malformed:
		metrics.ScansMalformed.Inc()
		return nil, nil
	case tagreader.Suppressed:
		metrics.ScansSuppressed.Inc()
		return nil, nil
	}

	outcome, err := g.machine.ProcessScan(ctx, tag, g.now())
	switch outcome.Status {
	case attendance.StatusCheckedIn:
		metrics.CheckIns.Inc()
	case attendance.StatusCheckedOut:
		metrics.CheckOuts.Inc()
	default:
		metrics.ScansFailed.Inc()
	}

	g.hub.Publish(outcome)
	g.enqueue(ctx, outcome)
	return &outcome, err
}

// enqueue hands the outcome to out-of-process consumers. Queue trouble must
// not fail a scan that already committed.
func (g *Gateway) enqueue(ctx context.Context, out attendance.Outcome) {
	if g.outcomes == nil {
		return
	}
	body, err := json.Marshal(out)
	if err != nil {
		log.Printf("outcome marshal failed: %v", err)
		return
	}
	if err := g.outcomes.Publish(ctx, queue.Message{Type: "scan", Body: body}); err != nil {
		log.Printf("outcome queue publish failed: %v", err)
	}
}
