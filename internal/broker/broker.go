package broker

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/log"

	"warden/internal/domain"
)

const mailboxSize = 64

// ErrStopped is returned for requests made after the broker loop has exited.
var ErrStopped = errors.New("broker: stopped")

// Engine is the content-blocking collaborator the broker toggles.
type Engine interface {
	Enable(ctx context.Context) error
	Disable(ctx context.Context) error
}

// Bypasser is implemented by engines that can exempt a single host.
type Bypasser interface {
	Allow(host string)
}

type ReplyKind string

const (
	ReplyRecord         ReplyKind = "record"
	ReplyNotReady       ReplyKind = "not_ready"
	ReplyOK             ReplyKind = "ok"
	ReplyAccepted       ReplyKind = "accepted"
	ReplyEngineNotReady ReplyKind = "engine_not_ready"
	ReplyError          ReplyKind = "error"
	ReplyUnrecognized   ReplyKind = "unrecognized"
)

// Reply is the single answer produced for every message.
type Reply struct {
	Kind   ReplyKind                `json:"kind"`
	Record *domain.ReputationRecord `json:"record,omitempty"`
	Mode   string                   `json:"mode,omitempty"`
	Error  string                   `json:"error,omitempty"`
}

// Err maps failure replies back to the shared error taxonomy.
func (r Reply) Err() error {
	switch r.Kind {
	case ReplyNotReady:
		return domain.ErrNotReady
	case ReplyEngineNotReady:
		return domain.ErrEngineNotReady
	case ReplyUnrecognized:
		return fmt.Errorf("%w: %s", domain.ErrUnrecognized, r.Error)
	case ReplyError:
		return errors.New(r.Error)
	}
	return nil
}

type request struct {
	ctx   context.Context
	msg   Message
	reply chan Reply
}

// Broker is the single owner of the latest reputation record and the blocking mode.
// All state lives in the Run goroutine; other goroutines reach it only through the mailbox.
type Broker struct {
	engine  Engine
	mailbox chan request
	done    chan struct{}

	record *domain.ReputationRecord
	mode   domain.BlockingMode
}

func New(engine Engine) *Broker {
	return &Broker{
		engine:  engine,
		mailbox: make(chan request, mailboxSize),
		done:    make(chan struct{}),
		mode:    domain.BlockingEnabled,
	}
}

// Run serves the mailbox until ctx is done. It must be called exactly once.
func (b *Broker) Run(ctx context.Context) error {
	defer close(b.done)
	log.Debug("State broker started")

	for {
		select {
		case <-ctx.Done():
			log.Debug("State broker stopped")
			return ctx.Err()
		case req := <-b.mailbox:
			reply := b.handle(req.ctx, req.msg)
			if req.reply != nil {
				req.reply <- reply
			}
		}
	}
}

func (b *Broker) handle(ctx context.Context, msg Message) Reply {
	switch msg.Kind {
	case KindQuery:
		if b.record == nil {
			return Reply{Kind: ReplyNotReady}
		}
		record := *b.record
		return Reply{Kind: ReplyRecord, Record: &record}
	case KindDeliver:
		if msg.Record == nil {
			return Reply{Kind: ReplyUnrecognized, Error: "delivery without record"}
		}
		record := *msg.Record
		b.record = &record
		log.Debug("Reputation record stored", "domain", record.Domain)
		return Reply{Kind: ReplyAccepted}
	case KindSetBlocking:
		return b.setBlocking(ctx, msg.Mode)
	case KindMode:
		return Reply{Kind: ReplyOK, Mode: b.mode.String()}
	case KindProceed:
		bypasser, ok := b.engine.(Bypasser)
		if !ok {
			return Reply{Kind: ReplyEngineNotReady, Mode: b.mode.String(), Error: domain.ErrEngineNotReady.Error()}
		}
		bypasser.Allow(msg.Host)
		log.Info("Advisory bypassed", "host", msg.Host)
		return Reply{Kind: ReplyOK, Mode: b.mode.String()}
	case KindUnrecognized:
		return Reply{Kind: ReplyUnrecognized, Error: msg.Reason}
	}
	return Reply{Kind: ReplyUnrecognized, Error: "unknown message kind " + msg.Kind.String()}
}

// setBlocking applies mode to the engine and stores it only if the engine accepted it.
func (b *Broker) setBlocking(ctx context.Context, mode domain.BlockingMode) Reply {
	if b.engine == nil {
		return Reply{Kind: ReplyEngineNotReady, Mode: b.mode.String(), Error: domain.ErrEngineNotReady.Error()}
	}

	var err error
	if mode == domain.BlockingDisabled {
		err = b.engine.Disable(ctx)
	} else {
		err = b.engine.Enable(ctx)
	}

	if err != nil {
		if errors.Is(err, domain.ErrEngineNotReady) {
			log.Warn("Blocking engine not ready yet", "requested", mode.String())
			return Reply{Kind: ReplyEngineNotReady, Mode: b.mode.String(), Error: err.Error()}
		}
		log.Error("Applying blocking mode failed", "requested", mode.String(), "error", err)
		return Reply{Kind: ReplyError, Mode: b.mode.String(), Error: err.Error()}
	}

	b.mode = mode
	log.Info("Blocking mode changed", "mode", mode.String())
	return Reply{Kind: ReplyOK, Mode: mode.String()}
}

func (b *Broker) stopped() bool {
	select {
	case <-b.done:
		return true
	default:
		return false
	}
}

// Post enqueues msg without waiting for its reply.
func (b *Broker) Post(ctx context.Context, msg Message) error {
	if b.stopped() {
		return ErrStopped
	}
	select {
	case b.mailbox <- request{ctx: context.WithoutCancel(ctx), msg: msg}:
		return nil
	case <-b.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Request enqueues msg and waits for its single reply.
func (b *Broker) Request(ctx context.Context, msg Message) (Reply, error) {
	if b.stopped() {
		return Reply{}, ErrStopped
	}
	req := request{ctx: ctx, msg: msg, reply: make(chan Reply, 1)}

	select {
	case b.mailbox <- req:
	case <-b.done:
		return Reply{}, ErrStopped
	case <-ctx.Done():
		return Reply{}, ctx.Err()
	}

	select {
	case reply := <-req.reply:
		return reply, nil
	case <-b.done:
		return Reply{}, ErrStopped
	case <-ctx.Done():
		return Reply{}, ctx.Err()
	}
}

// Handle parses a raw channel payload and always returns exactly one reply.
func (b *Broker) Handle(ctx context.Context, raw []byte) Reply {
	reply, err := b.Request(ctx, ParseMessage(raw))
	if err != nil {
		return Reply{Kind: ReplyError, Error: err.Error()}
	}
	return reply
}

// Deliver replaces the stored record. No acknowledgement is returned; the
// error only reports that the message could not be enqueued.
func (b *Broker) Deliver(ctx context.Context, record domain.ReputationRecord) error {
	return b.Post(ctx, Message{Kind: KindDeliver, Record: &record})
}

// Forward lets the broker act as a collector's forwarder.
func (b *Broker) Forward(ctx context.Context, record domain.ReputationRecord) error {
	return b.Deliver(ctx, record)
}

// Query returns the last delivered record or domain.ErrNotReady.
func (b *Broker) Query(ctx context.Context) (domain.ReputationRecord, error) {
	reply, err := b.Request(ctx, Message{Kind: KindQuery})
	if err != nil {
		return domain.ReputationRecord{}, err
	}
	if err := reply.Err(); err != nil {
		return domain.ReputationRecord{}, err
	}
	return *reply.Record, nil
}

func (b *Broker) SetBlocking(ctx context.Context, mode domain.BlockingMode) error {
	reply, err := b.Request(ctx, Message{Kind: KindSetBlocking, Mode: mode})
	if err != nil {
		return err
	}
	return reply.Err()
}

func (b *Broker) Mode(ctx context.Context) (domain.BlockingMode, error) {
	reply, err := b.Request(ctx, Message{Kind: KindMode})
	if err != nil {
		return domain.BlockingEnabled, err
	}
	if reply.Mode == domain.BlockingDisabled.String() {
		return domain.BlockingDisabled, nil
	}
	return domain.BlockingEnabled, nil
}
