// Package runtime owns the lifecycle of streamed assistant turns.
//
// A Controller drives one turn to one client: every semantic event is
// encoded, written to the client, then mirrored to the chunk store under
// the next sequence number of the turn's Session. When the client leaves
// before Finish, production is handed to a supervised continuation task
// that regenerates the turn from the original messages and appends after
// the last delivered frame. Whichever side observes Finish seals the
// stream and persists the assembled message; the Session's one-shot
// completion claim makes that happen once per turn.
//
// The continuation restarts generation rather than resuming it. Model
// APIs cannot continue a half-streamed completion, so the message saved
// by a continuation may differ from the text the disconnected client saw.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vercel/ai-chatbot-sub000/adapter"
	"github.com/vercel/ai-chatbot-sub000/assembler"
	"github.com/vercel/ai-chatbot-sub000/chunkstore"
	"github.com/vercel/ai-chatbot-sub000/log"
	"github.com/vercel/ai-chatbot-sub000/metrics"
	"github.com/vercel/ai-chatbot-sub000/policy"
	"github.com/vercel/ai-chatbot-sub000/sse"
	"github.com/vercel/ai-chatbot-sub000/types"
	"github.com/vercel/ai-chatbot-sub000/upstream"
)

// Controller defaults.
const (
	DefaultFlushTimeout      = 5 * time.Second
	DefaultCompletionTimeout = 30 * time.Second
)

// ErrNoFinish is returned by a continuation whose generation ended
// without a Finish event.
var ErrNoFinish = errors.New("generation ended without finish")

// Generator produces the semantic events of one turn.
// *upstream.Adapter implements it.
type Generator interface {
	Run(ctx context.Context, turn upstream.Turn) <-chan types.Event
}

// Persistence stores completed turns.
type Persistence interface {
	// SaveMessages appends messages to their chats.
	SaveMessages(ctx context.Context, msgs []types.StoredMessage) error
	// UpdateConversationContext records the usage of a completed turn.
	UpdateConversationContext(ctx context.Context, chatID string, usage *types.Usage) error
}

// ControllerConfig configures a Controller.
type ControllerConfig struct {
	// Generator produces turn events (required).
	Generator Generator
	// Registry tracks sessions (required).
	Registry *Registry
	// Supervisor runs continuations and completion steps (required).
	Supervisor *Supervisor
	// Store is the chunk store. Nil disables resumability.
	Store *chunkstore.Store
	// Policy mirrors frames into Store (default: async over Store).
	Policy policy.Policy
	// Persistence saves completed turns. Nil skips persistence.
	Persistence Persistence
	// Notifier publishes turn completion. Nil disables notifications.
	Notifier adapter.Adapter

	// FlushTimeout bounds waiting for pending chunk appends before a
	// stream is marked complete (default 5s).
	FlushTimeout time.Duration
	// CompletionTimeout bounds persistence and notification (default 30s).
	CompletionTimeout time.Duration

	Logger    *log.Logger
	Collector *metrics.Collector
}

// Controller streams turns to clients. Safe for concurrent use.
type Controller struct {
	config    ControllerConfig
	policy    policy.Policy
	logger    *log.Logger
	collector *metrics.Collector
}

// NewController validates cfg and creates a Controller.
func NewController(cfg ControllerConfig) (*Controller, error) {
	if cfg.Generator == nil {
		return nil, errors.New("runtime: generator is required")
	}
	if cfg.Registry == nil {
		return nil, errors.New("runtime: registry is required")
	}
	if cfg.Supervisor == nil {
		return nil, errors.New("runtime: supervisor is required")
	}
	if cfg.FlushTimeout <= 0 {
		cfg.FlushTimeout = DefaultFlushTimeout
	}
	if cfg.CompletionTimeout <= 0 {
		cfg.CompletionTimeout = DefaultCompletionTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = log.NewNop()
	}
	pol := cfg.Policy
	if pol == nil {
		pol = policy.NewAsyncPolicy(cfg.Store, policy.AsyncConfig{Logger: cfg.Logger, Collector: cfg.Collector})
	}
	return &Controller{
		config:    cfg,
		policy:    pol,
		logger:    cfg.Logger.WithComponent("controller"),
		collector: cfg.Collector,
	}, nil
}

// Open registers the session for a new stream. Fails with ErrRegistryFull
// when the registry has no room; the caller should reject the request
// before writing any response.
func (c *Controller) Open(chatID, streamID string) (*Session, error) {
	sess, err := c.config.Registry.Open(chatID, streamID)
	if errors.Is(err, ErrRegistryFull) {
		c.collector.IncStreamRejected()
	}
	return sess, err
}

// Run streams turn to w until Finish or until the client goes away.
// ctx is the request context; cancelling it counts as a disconnect.
func (c *Controller) Run(ctx context.Context, w sse.FrameWriter, sess *Session, turn upstream.Turn) *Outcome {
	c.collector.IncStreamStarted()
	logger := c.logger.WithStream(sess.ChatID(), sess.ID())
	out := &Outcome{StreamID: sess.ID()}

	genCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	asm := assembler.New()
	finished := false

deliver:
	for ev := range c.config.Generator.Run(genCtx, turn) {
		frames, terminal := c.render(ev, asm, logger)
		for _, frame := range frames {
			if err := c.deliver(ctx, w, sess, frame); err != nil {
				logger.Info("client disconnected", map[string]any{
					"frames": out.Frames,
					"error":  err.Error(),
				})
				break deliver
			}
			out.Frames++
		}
		if terminal {
			finished = true
			break
		}
	}
	out.MessageID = asm.MessageID()

	if !finished {
		cancel()
		c.interrupt(ctx, sess, turn, asm, out, logger)
		return out
	}

	// Finish reached the client; the turn is complete even if [DONE] is lost.
	if err := w.WriteFrame(sse.Done()); err == nil {
		out.Frames++
		c.collector.AddFramesWritten(1)
	}
	c.mirror(ctx, sess, types.ProducerForeground, sse.Done(), logger)

	out.Status = StatusCompleted
	out.FinishReason = asm.FinishReason()
	out.Usage = asm.Usage()
	c.collector.IncStreamCompleted()

	frames := out.Frames
	taskID, err := c.config.Supervisor.Go(TaskCompletion, sess.ID(), func(tctx context.Context) error {
		return c.finish(tctx, sess, asm, false, frames, logger)
	})
	if err != nil {
		logger.Warn("completion not supervised, running inline", map[string]any{"error": err.Error()})
		_ = c.finish(context.WithoutCancel(ctx), sess, asm, false, frames, logger)
	}
	out.TaskID = taskID
	return out
}

// render folds ev into asm and encodes it. terminal is true once the
// turn is over. An event that cannot be encoded ends the turn with an
// error frame and a finish frame in its place.
func (c *Controller) render(ev types.Event, asm *assembler.Assembler, logger *log.Logger) (frames [][]byte, terminal bool) {
	if err := asm.Apply(ev); err != nil {
		logger.Warn("event not assembled", map[string]any{"error": err.Error()})
	}

	frame, err := sse.Encode(ev)
	if err != nil {
		logger.Error("event encoding failed", map[string]any{"error": err.Error()})
		fin := types.Finish{FinishReason: types.FinishReasonError}
		if !asm.Finished() {
			_ = asm.Apply(fin)
		}
		errFrame, _ := sse.Encode(types.ErrorEvent{Message: "internal error: " + err.Error()})
		finFrame, _ := sse.Encode(fin)
		return [][]byte{errFrame, finFrame}, true
	}
	return [][]byte{frame}, ev.Type().IsTerminal()
}

// deliver writes frame to the client, then mirrors it. A frame is
// assigned a sequence number only once the client has it, so the stored
// log never holds a frame the client did not see.
func (c *Controller) deliver(ctx context.Context, w sse.FrameWriter, sess *Session, frame []byte) error {
	select {
	case <-w.Done():
		return sse.ErrClientGone
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	if err := w.WriteFrame(frame); err != nil {
		return err
	}
	c.collector.AddFramesWritten(1)
	seq, err := sess.Next(types.ProducerForeground)
	if err != nil {
		return err
	}
	c.policy.Mirror(ctx, sess.ID(), seq, frame)
	return nil
}

// mirror assigns the next sequence number to producer p and hands the
// frame to the policy.
func (c *Controller) mirror(ctx context.Context, sess *Session, p types.Producer, frame []byte, logger *log.Logger) bool {
	seq, err := sess.Next(p)
	if err != nil {
		logger.Warn("frame not mirrored", map[string]any{"producer": string(p), "error": err.Error()})
		return false
	}
	c.policy.Mirror(ctx, sess.ID(), seq, frame)
	return true
}

// interrupt hands production to a continuation. If no continuation can
// be started the stream is sealed so resume does not wait forever.
func (c *Controller) interrupt(ctx context.Context, sess *Session, turn upstream.Turn, asm *assembler.Assembler, out *Outcome, logger *log.Logger) {
	out.Status = StatusInterrupted
	c.collector.IncStreamInterrupted()

	seq, err := sess.Handoff()
	if err != nil {
		logger.Error("handoff refused", map[string]any{"error": err.Error()})
		return
	}
	out.HandoffSeq = seq

	taskID, err := c.config.Supervisor.Go(TaskContinuation, sess.ID(), func(tctx context.Context) error {
		return c.continueTurn(tctx, sess, turn, seq, logger)
	})
	if err != nil {
		logger.Error("continuation not started", map[string]any{"error": err.Error()})
		c.seal(context.WithoutCancel(ctx), sess, logger)
		return
	}
	out.TaskID = taskID
	logger.Info("continuation started", map[string]any{
		"task_id":          taskID,
		"resume_seq":       seq,
		"discarded_parts":  asm.Pending(),
		"foreground_frame": out.Frames,
	})
}

// continueTurn regenerates the turn without a client, appending its own
// frames after the interrupted offset, then completes it.
func (c *Controller) continueTurn(ctx context.Context, sess *Session, turn upstream.Turn, startSeq int64, logger *log.Logger) (err error) {
	c.collector.IncContinuationStarted()
	logger = logger.WithComponent("continuation")

	sealed := false
	defer func() {
		if !sealed {
			c.seal(context.WithoutCancel(ctx), sess, logger)
		}
		if err != nil {
			c.collector.IncContinuationFailed()
		}
	}()

	genCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	asm := assembler.New()
	var frames int64
	finished := false
	for ev := range c.config.Generator.Run(genCtx, turn) {
		out, terminal := c.render(ev, asm, logger)
		for _, frame := range out {
			if !c.mirror(ctx, sess, types.ProducerBackground, frame, logger) {
				return fmt.Errorf("continuation lost session: %s", sess.ID())
			}
			frames++
		}
		if terminal {
			finished = true
			break
		}
	}
	if !finished {
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %w", ErrNoFinish, ctx.Err())
		}
		return ErrNoFinish
	}

	c.mirror(ctx, sess, types.ProducerBackground, sse.Done(), logger)
	frames++

	sealed = true
	if err := c.finish(ctx, sess, asm, true, startSeq+frames, logger); err != nil {
		return err
	}
	c.collector.IncContinuationCompleted()
	return nil
}

// seal flushes pending appends and marks the stream complete.
func (c *Controller) seal(ctx context.Context, sess *Session, logger *log.Logger) {
	flushCtx, cancel := context.WithTimeout(ctx, c.config.FlushTimeout)
	if err := c.policy.Flush(flushCtx, sess.ID()); err != nil {
		logger.Warn("chunk flush incomplete", map[string]any{"error": err.Error()})
	}
	cancel()

	c.config.Store.MarkComplete(ctx, sess.ID())
	sess.Complete()
}

// finish seals the stream, then persists and announces the turn if this
// caller wins the session's completion claim.
func (c *Controller) finish(ctx context.Context, sess *Session, asm *assembler.Assembler, continued bool, frames int64, logger *log.Logger) error {
	c.seal(ctx, sess, logger)

	if !sess.ClaimCompletion() {
		logger.Warn("turn already persisted", nil)
		return nil
	}
	msg, ok := asm.Message()
	if !ok {
		return ErrNoFinish
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.CompletionTimeout)
	defer cancel()

	if p := c.config.Persistence; p != nil {
		stored, err := types.StoredFromAssembled(sess.ChatID(), msg)
		if err != nil {
			c.collector.IncPersistFailure()
			return err
		}
		if err := p.SaveMessages(ctx, []types.StoredMessage{stored}); err != nil {
			c.collector.IncPersistFailure()
			logger.Error("save message failed", map[string]any{"message_id": msg.ID, "error": err.Error()})
			return fmt.Errorf("save message: %w", err)
		}
		if err := p.UpdateConversationContext(ctx, sess.ChatID(), asm.Usage()); err != nil {
			c.collector.IncPersistFailure()
			logger.Error("update conversation context failed", map[string]any{"error": err.Error()})
			return fmt.Errorf("update conversation context: %w", err)
		}
		c.collector.IncPersistSuccess()
		logger.Info("turn persisted", map[string]any{
			"message_id": msg.ID,
			"parts":      len(msg.Parts),
			"continued":  continued,
		})
	}

	if n := c.config.Notifier; n != nil {
		event := &adapter.TurnCompletedEvent{
			ContractVersion: types.Version,
			EventType:       adapter.EventTypeTurnCompleted,
			ChatID:          sess.ChatID(),
			StreamID:        sess.ID(),
			MessageID:       msg.ID,
			FinishReason:    asm.FinishReason(),
			Usage:           asm.Usage(),
			Continued:       continued,
			PartCount:       len(msg.Parts),
			FrameCount:      frames,
			Timestamp:       time.Now().UTC().Format(time.RFC3339),
		}
		if err := n.Publish(ctx, event); err != nil {
			c.collector.IncNotifyFailure()
			logger.Warn("turn notification failed", map[string]any{"error": err.Error()})
		} else {
			c.collector.IncNotifySuccess()
		}
	}
	return nil
}

// Policy returns the mirroring policy in use.
func (c *Controller) Policy() policy.Policy { return c.policy }
