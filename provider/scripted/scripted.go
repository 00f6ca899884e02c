// Package scripted implements a deterministic provider that replays fixed
// chunk sequences. It backs local development and pipeline tests.
package scripted

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/vercel/ai-chatbot-sub000/provider"
	"github.com/vercel/ai-chatbot-sub000/types"
)

// Name is the provider name reported by Provider.
const Name = "scripted"

// Script is the chunk sequence for one model round.
type Script struct {
	Chunks []provider.Chunk
	// FailAt, when Err is set, is the index at which Recv returns Err
	// instead of a chunk.
	FailAt int
	// Err is returned at FailAt. Nil streams every chunk then io.EOF.
	Err error
	// OpenErr makes Stream itself fail.
	OpenErr error
}

// Provider replays one Script per Stream call. Once the scripts run out
// the last one repeats, so a continuation restart replays the same turn.
type Provider struct {
	delay time.Duration

	mu       sync.Mutex
	scripts  []Script
	calls    int
	requests []provider.Request
	gate     chan struct{}
}

// New creates a scripted provider. delay is slept before every chunk.
func New(delay time.Duration, scripts ...Script) *Provider {
	return &Provider{delay: delay, scripts: scripts}
}

// Text builds a script that streams reply word by word and stops.
func Text(reply string) Script {
	var chunks []provider.Chunk
	words := strings.SplitAfter(reply, " ")
	for _, w := range words {
		if w != "" {
			chunks = append(chunks, provider.TextChunk{Text: w})
		}
	}
	chunks = append(chunks, provider.FinishChunk{
		Reason: types.FinishReasonStop,
		Usage:  &types.Usage{PromptTokens: 1, CompletionTokens: len(chunks), TotalTokens: 1 + len(chunks)},
	})
	return Script{Chunks: chunks}
}

// ToolCall builds a script requesting one tool call.
func ToolCall(id, name, arguments string) Script {
	return Script{Chunks: []provider.Chunk{
		provider.ToolCallChunk{Index: 0, ID: id, Name: name},
		provider.ToolCallChunk{Index: 0, Arguments: arguments},
		provider.FinishChunk{Reason: types.FinishReasonToolCalls},
	}}
}

// Hold makes every subsequent Recv wait until Release is called. Used to
// pause a stream at a known point.
func (p *Provider) Hold() {
	p.mu.Lock()
	p.gate = make(chan struct{})
	p.mu.Unlock()
}

// Release unblocks streams paused by Hold.
func (p *Provider) Release() {
	p.mu.Lock()
	if p.gate != nil {
		close(p.gate)
		p.gate = nil
	}
	p.mu.Unlock()
}

// Name implements provider.Provider.
func (p *Provider) Name() string { return Name }

// Calls returns the number of Stream calls so far.
func (p *Provider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// Requests returns every request received, in order.
func (p *Provider) Requests() []provider.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]provider.Request(nil), p.requests...)
}

// Stream implements provider.Provider.
func (p *Provider) Stream(ctx context.Context, req provider.Request) (provider.Stream, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.requests = append(p.requests, req)
	idx := p.calls
	p.calls++

	if len(p.scripts) == 0 {
		return nil, errors.New("scripted: no scripts configured")
	}
	if idx >= len(p.scripts) {
		idx = len(p.scripts) - 1
	}
	s := p.scripts[idx]
	if s.OpenErr != nil {
		return nil, s.OpenErr
	}
	return &stream{ctx: ctx, p: p, script: s}, nil
}

type stream struct {
	ctx    context.Context
	p      *Provider
	script Script
	pos    int
	closed bool
}

func (s *stream) Recv() (provider.Chunk, error) {
	if s.closed {
		return nil, io.EOF
	}
	if err := s.wait(); err != nil {
		return nil, err
	}
	if s.script.Err != nil && s.pos == s.script.FailAt {
		return nil, s.script.Err
	}
	if s.pos >= len(s.script.Chunks) {
		return nil, io.EOF
	}
	c := s.script.Chunks[s.pos]
	s.pos++
	return c, nil
}

func (s *stream) wait() error {
	s.p.mu.Lock()
	gate := s.p.gate
	s.p.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-s.ctx.Done():
			return s.ctx.Err()
		}
	}
	if s.p.delay <= 0 {
		return s.ctx.Err()
	}
	t := time.NewTimer(s.p.delay)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-s.ctx.Done():
		return s.ctx.Err()
	}
}

func (s *stream) Close() error {
	s.closed = true
	return nil
}

// Verify Provider implements provider.Provider.
var _ provider.Provider = (*Provider)(nil)
