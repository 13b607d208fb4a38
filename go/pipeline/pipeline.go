// Package pipeline orchestrates the MT103 processing loop: receive from the
// input queue, parse, validate, screen, persist, and forward to the
// completed queue, with bounded retries, dead-letter routing, and metrics.
package pipeline

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/minio/highwayhash"
	pkgerrors "github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/finwire/mtflow/go/compliance"
	"github.com/finwire/mtflow/go/queue"
	"github.com/finwire/mtflow/go/store"
	"github.com/finwire/mtflow/go/swift"
	"github.com/finwire/mtflow/go/validate"
)

// Config tunes the processing loop.
type Config struct {
	Queues            queue.Names
	RetryAttempts     int
	RetryDelay        time.Duration
	PollInterval      time.Duration
	HealthBackoff     time.Duration
	ProcessingTimeout time.Duration
}

// withDefaults fills unset knobs.
func (c Config) withDefaults() Config {
	if c.Queues.Input == "" {
		c.Queues = queue.DefaultNames()
	}
	if c.RetryAttempts <= 0 {
		c.RetryAttempts = 3
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 5 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.HealthBackoff <= 0 {
		c.HealthBackoff = 5 * time.Second
	}
	if c.ProcessingTimeout <= 0 {
		c.ProcessingTimeout = 60 * time.Second
	}
	return c
}

// dedupeSize bounds the fingerprint cache of recently processed payloads.
const dedupeSize = 1024

// highwayKey keys payload fingerprinting. Fingerprints are process-local,
// so a fixed key is fine.
var highwayKey = []byte("mtflow-payload-fingerprint-key!!")

// Processor runs the message loop. One message is in flight at a time; a
// Stop signal (context cancellation) completes the in-flight message before
// the loop exits, so no message is abandoned between persist and forward.
type Processor struct {
	cfg     Config
	queues  queue.Queue
	repo    store.Repository
	syntax  *validate.Validator
	checker *compliance.Checker
	metrics *Metrics

	dedupe *lru.Cache[string, string]

	// processingFn and processedFn feed the published status.
	processingFn func(bool)
	processedFn  func(time.Time)
}

// New wires a Processor. metrics may be shared across restarts; a nil
// checker disables compliance screening (used by some tests).
func New(cfg Config, q queue.Queue, repo store.Repository,
	checker *compliance.Checker, metrics *Metrics) *Processor {

	var cache, err = lru.New[string, string](dedupeSize)
	if err != nil {
		panic(err) // Only fails on a non-positive size.
	}
	return &Processor{
		cfg:     cfg.withDefaults(),
		queues:  q,
		repo:    repo,
		syntax:  validate.New(),
		checker: checker,
		metrics: metrics,
		dedupe:  cache,
	}
}

// OnProcessing registers a callback toggled around each in-flight message,
// feeding the IsProcessing flag of the published status.
func (p *Processor) OnProcessing(fn func(bool)) { p.processingFn = fn }

// OnProcessed registers a callback invoked after each terminal message
// outcome with the completion time.
func (p *Processor) OnProcessed(fn func(time.Time)) { p.processedFn = fn }

// Metrics exposes the shared counters.
func (p *Processor) Metrics() *Metrics { return p.metrics }

// Run drives the loop until ctx is cancelled. It returns nil on a clean
// stop; message-local failures never terminate the loop.
func (p *Processor) Run(ctx context.Context) error {
	log.WithFields(log.Fields{
		"input":      p.cfg.Queues.Input,
		"completed":  p.cfg.Queues.Completed,
		"deadLetter": p.cfg.Queues.DeadLetter,
	}).Info("starting processing loop")

	for {
		if ctx.Err() != nil {
			log.Info("processing loop stopped")
			return nil
		}

		if !p.queues.Health(ctx) {
			log.WithField("backoff", p.cfg.HealthBackoff).
				Warn("queue backend unhealthy; backing off")
			if !sleepCtx(ctx, p.cfg.HealthBackoff) {
				return nil
			}
			continue
		}

		payload, ok, err := p.queues.Receive(ctx, p.cfg.Queues.Input)
		if err != nil {
			log.WithField("err", err).Warn("input receive failed; backing off")
			if !sleepCtx(ctx, p.cfg.HealthBackoff) {
				return nil
			}
			continue
		}
		if !ok {
			if !sleepCtx(ctx, p.cfg.PollInterval) {
				return nil
			}
			continue
		}

		// The in-flight message completes even if ctx is cancelled
		// mid-processing: stages run under their own timeout context.
		p.processOne(payload)
	}
}

// processOne runs one message through every stage. Exactly one of: a
// completed-queue send, a dead-letter envelope write, happens per message.
func (p *Processor) processOne(payload []byte) {
	var started = time.Now()
	if p.processingFn != nil {
		p.processingFn(true)
		defer p.processingFn(false)
	}

	// Detached from the loop context so cancellation doesn't abandon the
	// message between persist and forward.
	var ctx, cancel = context.WithTimeout(context.Background(), p.cfg.ProcessingTimeout)
	defer cancel()

	var id = uuid.New().String()
	var fingerprint = p.fingerprint(payload)

	if prevID, ok := p.dedupe.Get(fingerprint); ok {
		if prev, err := p.repo.GetByID(ctx, prevID); err == nil && prev.Status == store.Processed {
			// At-least-once re-delivery of an already-processed payload:
			// forward downstream again and skip reprocessing.
			duplicateSuppressions.Inc()
			log.WithFields(log.Fields{"id": prevID}).Info("suppressing re-delivered payload")
			if err := p.sendWithRetries(ctx, p.cfg.Queues.Completed, payload); err != nil {
				completedSendFailures.Inc()
			}
			return
		}
	}

	var record = &store.ProcessedMessage{
		ID:          id,
		MessageType: "MT103",
		RawMessage:  string(payload),
		Status:      store.Processing,
		ProcessedAt: time.Now().UTC(),
		Metadata:    map[string]interface{}{},
	}

	// Parse: framing + decoding, with bounded retries.
	msg, err := p.parseWithRetries(payload)
	if err != nil {
		p.fail(ctx, record, payload, ErrTypeParsing, "Parsing failed",
			fmt.Errorf("parsing failed: %w", err))
		return
	}
	record.Metadata["transactionReference"] = msg.TransactionReference
	record.Metadata["amount"] = msg.Amount.String()
	record.Metadata["currency"] = msg.Currency

	// Syntactic validation. A panic inside the validator is recovered and
	// classified apart from ordinary rule violations.
	report, verr := p.validateSafely(msg)
	if verr != nil {
		p.fail(ctx, record, payload, ErrTypeValidationException, "Validation exception", verr)
		return
	}
	if !report.OK() {
		p.fail(ctx, record, payload, ErrTypeValidation, "Validation failed",
			fmt.Errorf("validation failed: %s", report.Error()))
		return
	}

	// Compliance screening.
	if p.checker != nil {
		if cr := p.checker.Check(msg); !cr.Passed() {
			p.fail(ctx, record, payload, ErrTypeValidation, "Compliance check failed",
				fmt.Errorf("compliance check failed: %s", cr.Error()))
			return
		}
	}

	parsed, err := json.Marshal(msg)
	if err != nil {
		p.fail(ctx, record, payload, ErrTypeUnexpected, "Serialization failed",
			pkgerrors.WithStack(err))
		return
	}
	record.ParsedMessage = parsed
	record.Status = store.Processed
	record.Metadata["processingDurationMs"] = time.Since(started).Milliseconds()

	// Persist. The database is the authoritative record.
	if err := p.saveWithRetries(ctx, record); err != nil {
		record.ParsedMessage = nil
		p.fail(ctx, record, payload, ErrTypeDatabase, "Database save failed",
			fmt.Errorf("database save failed: %w", err))
		return
	}
	p.dedupe.Add(fingerprint, id)

	// Forward downstream. A failure here is logged and counted but doesn't
	// revert the persisted record; the completed queue is a fan-out.
	if err := p.sendWithRetries(ctx, p.cfg.Queues.Completed, payload); err != nil {
		completedSendFailures.Inc()
		log.WithFields(log.Fields{"id": id, "err": err}).
			Error("persisted message could not be forwarded to the completed queue")
	}

	p.metrics.RecordSuccess(time.Since(started))
	p.noteProcessed()
	log.WithFields(log.Fields{
		"id":        id,
		"reference": msg.TransactionReference,
		"amount":    msg.Amount,
		"currency":  msg.Currency,
		"tookMs":    time.Since(started).Milliseconds(),
	}).Info("message processed")
}

// fail routes the message to the dead-letter queue and persists the Failed
// record, then bumps the per-type failure counter.
func (p *Processor) fail(ctx context.Context, record *store.ProcessedMessage,
	payload []byte, errType, reason string, cause error) {

	log.WithFields(log.Fields{"id": record.ID, "type": errType, "err": cause}).
		Warn("message failed")

	var env = newEnvelope(reason, cause, payload)
	var deadLettered = true
	if err := p.sendWithRetries(ctx, p.cfg.Queues.DeadLetter, env.Marshal()); err != nil {
		deadLettered = false
		log.WithFields(log.Fields{"id": record.ID, "err": err}).
			Error("dead-letter write failed")
	}

	record.Status = store.Failed
	record.ErrorDetails = cause.Error()
	record.Metadata["deadLettered"] = deadLettered
	if err := p.saveWithRetries(ctxOrBackground(ctx), record); err != nil {
		log.WithFields(log.Fields{"id": record.ID, "err": err}).
			Error("failed record could not be persisted")
	}

	p.metrics.RecordFailure(errType)
	p.noteProcessed()
}

func (p *Processor) parseWithRetries(payload []byte) (*swift.MT103Message, error) {
	var lastErr error
	for attempt := 1; attempt <= p.cfg.RetryAttempts; attempt++ {
		framed, err := swift.Frame(string(payload))
		if err == nil {
			msg, err := swift.DecodeMT103(framed)
			if err == nil {
				return msg, nil
			}
			lastErr = err
		} else {
			lastErr = err
		}
		if attempt < p.cfg.RetryAttempts {
			time.Sleep(p.cfg.RetryDelay)
		}
	}
	return nil, lastErr
}

func (p *Processor) validateSafely(msg *swift.MT103Message) (report validate.Report, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("validator panicked: %v", r)
		}
	}()
	return p.syntax.Validate(msg), nil
}

func (p *Processor) saveWithRetries(ctx context.Context, record *store.ProcessedMessage) error {
	var lastErr error
	for attempt := 1; attempt <= p.cfg.RetryAttempts; attempt++ {
		var _, err = p.repo.Save(ctx, record)
		if err == nil {
			return nil
		}
		lastErr = err
		if attempt < p.cfg.RetryAttempts {
			time.Sleep(p.cfg.RetryDelay)
		}
	}
	return lastErr
}

func (p *Processor) sendWithRetries(ctx context.Context, name string, payload []byte) error {
	var lastErr error
	for attempt := 1; attempt <= p.cfg.RetryAttempts; attempt++ {
		if err := p.queues.Send(ctx, name, payload); err == nil {
			return nil
		} else {
			lastErr = err
		}
		if attempt < p.cfg.RetryAttempts {
			time.Sleep(p.cfg.RetryDelay)
		}
	}
	return lastErr
}

func (p *Processor) fingerprint(payload []byte) string {
	var sum = highwayhash.Sum128(payload, highwayKey)
	return hex.EncodeToString(sum[:])
}

func (p *Processor) noteProcessed() {
	if p.processedFn != nil {
		p.processedFn(time.Now().UTC())
	}
}

func ctxOrBackground(ctx context.Context) context.Context {
	if ctx.Err() != nil {
		return context.Background()
	}
	return ctx
}

// sleepCtx sleeps for d unless ctx is cancelled first; it reports whether
// the full sleep elapsed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	var t = time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
