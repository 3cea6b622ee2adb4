package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"golang.org/x/time/rate"

	"github.com/danielpatrickdp/prompt-compliance/internal/codec"
	"github.com/danielpatrickdp/prompt-compliance/internal/config"
	"github.com/danielpatrickdp/prompt-compliance/internal/embedding"
	"github.com/danielpatrickdp/prompt-compliance/internal/logging"
	"github.com/danielpatrickdp/prompt-compliance/internal/metrics"
	"github.com/danielpatrickdp/prompt-compliance/internal/openai"
	"github.com/danielpatrickdp/prompt-compliance/internal/orchestrator"
	"github.com/danielpatrickdp/prompt-compliance/internal/policy"
	"github.com/danielpatrickdp/prompt-compliance/internal/provider"
	"github.com/danielpatrickdp/prompt-compliance/internal/resilience"
	"github.com/danielpatrickdp/prompt-compliance/internal/retrieval"
	"github.com/danielpatrickdp/prompt-compliance/internal/service"
	"github.com/danielpatrickdp/prompt-compliance/internal/verdict"
)

// #region app
// app holds the wired components and everything that needs closing.
type app struct {
	svc     *service.Service
	store   *policy.Store
	metrics *metrics.Metrics
	closers []func() error
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			log.Printf("close: %v", err)
		}
	}
}

// #endregion app

// #region build
// build wires providers, store, retriever and evaluator from cfg.
func build(ctx context.Context, cfg config.Config) (_ *app, err error) {
	a := &app{metrics: metrics.New()}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	var limiter *rate.Limiter
	if cfg.RateLimit.RPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit.RPS), cfg.RateLimit.Burst)
	}
	embedGuard := resilience.NewGuard(retryPolicy(cfg, cfg.Embedding.Timeout), limiter, a.metrics)
	reasonGuard := resilience.NewGuard(retryPolicy(cfg, cfg.Reasoning.Timeout), limiter, a.metrics)

	var oa *openai.Client
	if cfg.Embedding.Provider == "openai" || cfg.Reasoning.Provider == "openai" {
		oa = openai.NewClient(openai.Config{
			BaseURL:        cfg.OpenAI.BaseURL,
			APIKey:         cfg.OpenAI.APIKey,
			ChatModel:      cfg.Reasoning.Model,
			EmbeddingModel: cfg.Embedding.Model,
			Dimensions:     cfg.Store.Dimension,
			Temperature:    cfg.Reasoning.Temperature,
		}, nil)
	}
	var cc *codec.CodecClient
	if cfg.Embedding.Provider == "codec" || cfg.Reasoning.Provider == "codec" {
		cc, err = codec.NewCodecClient(cfg.Codec.Addr)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, cc.Close)
	}

	var raw provider.Embedder
	dim := cfg.Store.Dimension
	switch cfg.Embedding.Provider {
	case "hash":
		h := embedding.NewHash(dim)
		raw, dim = h, h.Dim()
		log.Printf("[POLICY] hash embedder in use: similarity reflects shared words only")
	case "openai":
		raw = oa
	case "codec":
		raw = cc
	}
	embedder := resilience.NewEmbedder(raw, embedGuard)

	if dim == 0 {
		vec, err := embedder.Embed(ctx, "dimension probe")
		if err != nil {
			return nil, fmt.Errorf("probe embedding dimension: %w", err)
		}
		dim = len(vec)
		log.Printf("[POLICY] embedding dimension probed: %d", dim)
	}

	a.store, err = policy.NewStore(cfg.Store.Path, dim, embedder)
	if err != nil {
		return nil, fmt.Errorf("open policy store: %w", err)
	}
	a.closers = append(a.closers, a.store.Close)

	var reasoner provider.Reasoner
	switch cfg.Reasoning.Provider {
	case "openai":
		reasoner = oa
	case "codec":
		reasoner = cc
	}
	resolver := verdict.NewResolver(verdict.ScoringConfig{
		NonCompliantMax: cfg.Scoring.NonCompliantMax,
		CompliantMin:    cfg.Scoring.CompliantMin,
		HighSeverity:    cfg.Scoring.HighSeverity,
		ExtraWeight:     cfg.Scoring.ExtraWeight,
	})
	orch, err := orchestrator.NewOrchestrator(reasoner, reasonGuard, resolver, orchestrator.Config{
		MalformedRetries: cfg.Retry.MalformedRetries,
	})
	if err != nil {
		return nil, err
	}
	retriever := retrieval.NewRetriever(embedder, a.store, retrieval.Config{
		TopK:          cfg.Retrieval.TopK,
		MinSimilarity: cfg.Retrieval.MinSimilarity,
		MaxPolicyLen:  cfg.Retrieval.MaxPolicyLen,
	})

	decisionOut, err := openDecisionLog(cfg.DecisionLog)
	if err != nil {
		return nil, err
	}
	if c, ok := decisionOut.(io.Closer); ok && decisionOut != os.Stderr {
		a.closers = append(a.closers, c.Close)
	}

	a.svc, err = service.New(a.store, retriever, orch, a.metrics, logging.NewDecisionLog(decisionOut))
	if err != nil {
		return nil, err
	}
	a.svc.SyncMetrics(ctx)
	return a, nil
}

func retryPolicy(cfg config.Config, timeout time.Duration) resilience.Policy {
	return resilience.Policy{
		Attempts:  cfg.Retry.Attempts,
		BaseDelay: cfg.Retry.BaseDelay,
		MaxDelay:  cfg.Retry.MaxDelay,
		Timeout:   timeout,
	}
}

// #endregion build

// #region decision-log
// openDecisionLog maps "" to no log, "-" to stderr and anything else to an append-only file.
func openDecisionLog(path string) (io.Writer, error) {
	switch path {
	case "":
		return nil, nil
	case "-":
		return os.Stderr, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open decision log: %w", err)
	}
	return f, nil
}

// #endregion decision-log
