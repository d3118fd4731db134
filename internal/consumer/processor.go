// Package consumer applies attendance events published by the outbox dispatcher.
package consumer

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/kaif394/Gymble0/internal/events"
)

// Reader is the slice of kafka.Reader the processor drives.
type Reader interface {
	FetchMessage(context.Context) (kafka.Message, error)
	CommitMessages(context.Context, ...kafka.Message) error
	Close() error
}

// Handler applies one attendance event. Handlers must be idempotent per record:
// a record is handed over again until Handle returns nil.
type Handler interface {
	Handle(context.Context, Event) error
}

// ErrUnknownEvent is returned for event types this consumer does not understand.
var ErrUnknownEvent = errors.New("unknown attendance event type")

// Rejection reasons reported for records that are committed without being handled.
const (
	rejectFrame       = "frame"
	rejectEventType   = "event_type"
	rejectPayload     = "payload"
	rejectGymMismatch = "gym_mismatch"
)

type rejectError struct {
	reason string
	err    error
}

func (e *rejectError) Error() string { return e.err.Error() }
func (e *rejectError) Unwrap() error { return e.err }

func reject(reason, format string, args ...any) error {
	return &rejectError{reason: reason, err: fmt.Errorf(format, args...)}
}

// Event is an attendance event decoded from a Confluent-framed record.
// Exactly one of CheckedIn and CheckedOut is set, matching Type.
type Event struct {
	Type          string
	AttendanceID  string
	GymID         string
	MemberID      string
	SessionDay    string
	CheckedIn     *events.AttendanceCheckedIn
	CheckedOut    *events.AttendanceCheckedOut
	Payload       json.RawMessage
	SchemaID      int
	SchemaSubject string
	Topic         string
	Partition     int
	Offset        int64
	ReceivedAt    time.Time
}

// OccurredAt is the member-facing time of the event.
func (e Event) OccurredAt() time.Time {
	if e.CheckedOut != nil {
		return e.CheckedOut.CheckOutTime
	}
	if e.CheckedIn != nil {
		return e.CheckedIn.CheckInTime
	}
	return time.Time{}
}

// Option configures optional behaviour for the Processor.
type Option func(*Processor)

// WithLogger overrides the logger used to report errors.
func WithLogger(logger *log.Logger) Option {
	return func(p *Processor) {
		p.logger = logger
	}
}

// WithRetryBackoff sets the first and the largest pause between handler retries.
func WithRetryBackoff(initial, ceiling time.Duration) Option {
	return func(p *Processor) {
		if initial > 0 {
			p.retryInitial = initial
		}
		if ceiling >= p.retryInitial {
			p.retryMax = ceiling
		}
	}
}

// Processor fetches records, decodes them into events and hands them to a Handler.
// Records of one partition are applied strictly in order: a failing event is
// retried until it succeeds or the context ends, and never skipped.
type Processor struct {
	reader       Reader
	handler      Handler
	logger       *log.Logger
	retryInitial time.Duration
	retryMax     time.Duration
}

// NewProcessor constructs a Processor with the provided reader and handler.
func NewProcessor(reader Reader, handler Handler, opts ...Option) *Processor {
	p := &Processor{
		reader:       reader,
		handler:      handler,
		logger:       log.New(log.Writer(), "[consumer] ", log.LstdFlags|log.Lshortfile),
		retryInitial: 250 * time.Millisecond,
		retryMax:     30 * time.Second,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run processes records until the context is cancelled.
func (p *Processor) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		msg, err := p.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			p.logger.Printf("fetch error: %v", err)
			continue
		}

		evt, err := decodeEvent(msg)
		if err != nil {
			reason := rejectFrame
			var rej *rejectError
			if errors.As(err, &rej) {
				reason = rej.reason
			}
			p.logger.Printf("rejecting record topic=%s partition=%d offset=%d reason=%s: %v", msg.Topic, msg.Partition, msg.Offset, reason, err)
			recordRejected(reason)
			p.commit(ctx, msg)
			continue
		}

		if err := p.apply(ctx, evt); err != nil {
			return err
		}
		recordConsumed(evt)
		p.commit(ctx, msg)
	}
}

// apply hands evt to the handler, retrying with capped exponential backoff.
func (p *Processor) apply(ctx context.Context, evt Event) error {
	delay := p.retryInitial
	for attempt := 1; ; attempt++ {
		err := p.handler.Handle(ctx, evt)
		if err == nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		p.logger.Printf("handle %s %s (gym=%s offset=%d) attempt %d: %v; retrying in %s",
			evt.Type, evt.AttendanceID, evt.GymID, evt.Offset, attempt, err, delay)
		recordRetry(evt.Type)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		delay *= 2
		if delay > p.retryMax {
			delay = p.retryMax
		}
	}
}

func (p *Processor) commit(ctx context.Context, msg kafka.Message) {
	if err := p.reader.CommitMessages(ctx, msg); err != nil {
		p.logger.Printf("commit offset %d: %v", msg.Offset, err)
	}
}

func decodeEvent(msg kafka.Message) (Event, error) {
	if len(msg.Value) < 5 || msg.Value[0] != 0 {
		return Event{}, reject(rejectFrame, "not a schema-registry frame (%d bytes)", len(msg.Value))
	}
	eventType, ok := headerValue(msg, "event_type")
	if !ok {
		return Event{}, reject(rejectEventType, "missing event_type header")
	}

	evt := Event{
		Type:       eventType,
		SchemaID:   int(binary.BigEndian.Uint32(msg.Value[1:5])),
		Payload:    json.RawMessage(append([]byte(nil), msg.Value[5:]...)),
		Topic:      msg.Topic,
		Partition:  msg.Partition,
		Offset:     msg.Offset,
		ReceivedAt: msg.Time,
	}
	evt.SchemaSubject, _ = headerValue(msg, "schema_subject")

	switch eventType {
	case events.TypeCheckedIn:
		var in events.AttendanceCheckedIn
		if err := json.Unmarshal(evt.Payload, &in); err != nil {
			return Event{}, reject(rejectPayload, "decode %s: %v", eventType, err)
		}
		evt.CheckedIn = &in
		evt.AttendanceID, evt.GymID, evt.MemberID, evt.SessionDay = in.AttendanceID, in.GymID, in.MemberID, in.SessionDay
	case events.TypeCheckedOut:
		var out events.AttendanceCheckedOut
		if err := json.Unmarshal(evt.Payload, &out); err != nil {
			return Event{}, reject(rejectPayload, "decode %s: %v", eventType, err)
		}
		if out.DurationMinutes < 0 || out.CheckOutTime.Before(out.CheckInTime) {
			return Event{}, reject(rejectPayload, "decode %s: check-out precedes check-in", eventType)
		}
		evt.CheckedOut = &out
		evt.AttendanceID, evt.GymID, evt.MemberID, evt.SessionDay = out.AttendanceID, out.GymID, out.MemberID, out.SessionDay
	default:
		return Event{}, &rejectError{reason: rejectEventType, err: fmt.Errorf("%w: %q", ErrUnknownEvent, eventType)}
	}

	if evt.AttendanceID == "" || evt.GymID == "" || evt.MemberID == "" {
		return Event{}, reject(rejectPayload, "decode %s: missing attendance, gym or member id", eventType)
	}
	if gym, ok := headerValue(msg, "gym_id"); ok && gym != evt.GymID {
		return Event{}, reject(rejectGymMismatch, "gym header %q does not match payload gym %q", gym, evt.GymID)
	}
	return evt, nil
}

func headerValue(msg kafka.Message, key string) (string, bool) {
	for _, header := range msg.Headers {
		if header.Key == key {
			return string(header.Value), true
		}
	}
	return "", false
}
