package llm

import (
	"context"
	"log/slog"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/rcliao/novel-memory/internal/config"
	"github.com/rcliao/novel-memory/internal/embedding"
)

// streamBuffer is the capacity of a ChatStream channel.
const streamBuffer = 64

// Resilient wraps a provider and an embedder, falling back to offline output
// on any failure. A nil provider is permanently offline.
type Resilient struct {
	provider Provider
	embedder embedding.Embedder
	offline  *Offline
	model    string
	logger   *slog.Logger

	mu     sync.Mutex
	warned map[string]bool
}

// New builds a client from cfg. Provider "offline" or a missing API key
// yields a client that never leaves the process.
func New(cfg config.LLMConfig, embedder embedding.Embedder, logger *slog.Logger) *Resilient {
	var p Provider
	if cfg.Provider != "offline" && cfg.APIKey != "" {
		p = NewOpenAI(cfg)
	}
	return NewResilient(p, embedder, cfg.Model, logger)
}

// NewResilient wraps p. A nil embedder means offline vectors.
func NewResilient(p Provider, embedder embedding.Embedder, model string, logger *slog.Logger) *Resilient {
	if logger == nil {
		logger = slog.Default()
	}
	if embedder == nil {
		embedder = embedding.NewOffline(0)
	}
	return &Resilient{
		provider: p,
		embedder: embedder,
		offline:  NewOffline(embedder.Dims()),
		model:    model,
		logger:   logger,
		warned:   map[string]bool{},
	}
}

// Online reports whether a remote provider is configured.
func (r *Resilient) Online() bool { return r.provider != nil }

func (r *Resilient) providerName() string {
	if r.provider == nil {
		return "offline"
	}
	return r.provider.Name()
}

// warnOnce logs an offline fallback the first time reason is seen.
func (r *Resilient) warnOnce(reason string, err error) {
	r.mu.Lock()
	seen := r.warned[reason]
	r.warned[reason] = true
	r.mu.Unlock()
	if seen {
		return
	}
	args := []any{"provider", r.providerName(), "model", r.model, "reason", reason}
	if err != nil {
		args = append(args, "error", err)
	}
	r.logger.Warn("llm offline fallback", args...)
}

func (r *Resilient) Chat(ctx context.Context, msgs []Message, opts ChatOptions) string {
	if r.provider == nil {
		r.warnOnce("missing_api_key", nil)
		return r.offline.Chat(ctx, msgs, opts)
	}
	start := time.Now()
	text, err := r.provider.Chat(ctx, msgs, opts)
	if err != nil {
		r.warnOnce("chat_failed", err)
		return r.offline.Chat(ctx, msgs, opts)
	}
	r.logger.Info("llm chat", "provider", r.providerName(), "model", r.model,
		"latency_ms", time.Since(start).Milliseconds(), "chars", utf8.RuneCountInString(text))
	return text
}

// ChatStream runs the upstream stream in one producer goroutine. When the
// upstream fails before any delta, the offline placeholder is sent instead.
// Once ctx is done the producer stops sending and closes the channel.
func (r *Resilient) ChatStream(ctx context.Context, msgs []Message, opts ChatOptions) <-chan string {
	ch := make(chan string, streamBuffer)
	go func() {
		defer close(ch)
		send := func(s string) bool {
			select {
			case ch <- s:
				return true
			case <-ctx.Done():
				return false
			}
		}
		if r.provider == nil {
			r.warnOnce("missing_api_key", nil)
			send(r.offline.Chat(ctx, msgs, opts))
			return
		}

		emitted := 0
		stopped := false
		err := r.provider.Stream(ctx, msgs, opts, func(delta string) {
			if stopped {
				return
			}
			if !send(delta) {
				stopped = true
				return
			}
			emitted += utf8.RuneCountInString(delta)
		})
		if stopped || ctx.Err() != nil {
			return
		}
		if err != nil {
			r.warnOnce("stream_failed", err)
			if emitted == 0 {
				send(r.offline.Chat(ctx, msgs, opts))
			}
			return
		}
		r.logger.Info("llm stream done", "provider", r.providerName(), "model", r.model, "chars", emitted)
	}()
	return ch
}

func (r *Resilient) Embed(ctx context.Context, text string) []float32 {
	v, err := r.embedder.Embed(ctx, text)
	if err != nil || len(v) == 0 {
		r.warnOnce("embed_failed", err)
		return r.offline.Embed(ctx, text)
	}
	return v
}
