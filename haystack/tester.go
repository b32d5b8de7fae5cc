package haystack

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/BaSui01/haystack/internal/metrics"
	"github.com/BaSui01/haystack/results"
)

// ResultStore is the persistence boundary the tester depends on.
type ResultStore interface {
	Save(ctx context.Context, r *results.RunResult) error
	Exists(ctx context.Context, runName, model string, contextLength int, depthPercent float64) (bool, error)
}

// TesterConfig 描述一次扫描：针、问题、长度×深度网格与节流参数。
type TesterConfig struct {
	RunName           string
	ProviderName      string
	Model             string
	Needle            string
	Question          string
	ContextLengths    []int
	DepthPercents     []float64
	Parallelism       int
	RequestsPerMinute float64 // 0 表示不限流
}

// Tester sweeps the context length × depth grid, queries the model for
// each cell, grades the answer and persists the result.
type Tester struct {
	cfg       TesterConfig
	provider  ModelProvider
	builder   *ContextBuilder
	evaluator Evaluator
	store     ResultStore
	collector *metrics.Collector
	limiter   *rate.Limiter
	logger    *zap.Logger
}

// NewTester assembles a sweep. collector may be nil.
func NewTester(
	cfg TesterConfig,
	provider ModelProvider,
	builder *ContextBuilder,
	evaluator Evaluator,
	store ResultStore,
	collector *metrics.Collector,
	logger *zap.Logger,
) *Tester {
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = 1
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RequestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerMinute/60), 1)
	}

	return &Tester{
		cfg:       cfg,
		provider:  provider,
		builder:   builder,
		evaluator: evaluator,
		store:     store,
		collector: collector,
		limiter:   limiter,
		logger:    logger,
	}
}

// Run executes the full sweep. 单元之间相互独立，可并行；
// 任何单元出错会取消其余单元并返回该错误。
func (t *Tester) Run(ctx context.Context) error {
	if len(t.cfg.ContextLengths) == 0 || len(t.cfg.DepthPercents) == 0 {
		return fmt.Errorf("sweep grid is empty")
	}

	t.logger.Info("starting sweep",
		zap.String("run", t.cfg.RunName),
		zap.String("model", t.cfg.Model),
		zap.Int("lengths", len(t.cfg.ContextLengths)),
		zap.Int("depths", len(t.cfg.DepthPercents)),
		zap.Int("parallelism", t.cfg.Parallelism))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(t.cfg.Parallelism)

	for _, length := range t.cfg.ContextLengths {
		for _, depth := range t.cfg.DepthPercents {
			length, depth := length, depth
			g.Go(func() error {
				return t.runCell(ctx, length, depth)
			})
		}
	}

	return g.Wait()
}

func (t *Tester) runCell(ctx context.Context, contextLength int, depthPercent float64) error {
	cellLogger := t.logger.With(
		zap.Int("context_length", contextLength),
		zap.Float64("depth_percent", depthPercent))

	// 中断重跑时跳过已完成的单元。
	exists, err := t.store.Exists(ctx, t.cfg.RunName, t.cfg.Model, contextLength, depthPercent)
	if err != nil {
		return err
	}
	if exists {
		if t.collector != nil {
			t.collector.RecordCellSkipped()
		}
		cellLogger.Debug("cell already evaluated, skipping")
		return nil
	}

	contextText, err := t.builder.Build(t.cfg.Needle, contextLength, depthPercent)
	if err != nil {
		return fmt.Errorf("build context (len=%d depth=%g): %w", contextLength, depthPercent, err)
	}
	prompt := t.provider.GeneratePrompt(contextText, t.cfg.Question)

	if err := t.limiter.Wait(ctx); err != nil {
		return err
	}

	start := time.Now()
	response, err := t.provider.EvaluateModel(ctx, prompt)
	elapsed := time.Since(start)

	if t.collector != nil {
		status := "ok"
		if err != nil {
			status = "error"
		}
		t.collector.RecordModelRequest(t.cfg.ProviderName, t.cfg.Model, status, elapsed)
	}
	if err != nil {
		return fmt.Errorf("evaluate model (len=%d depth=%g): %w", contextLength, depthPercent, err)
	}

	score, err := t.evaluator.Evaluate(ctx, response, t.cfg.Needle, t.cfg.Question)
	if err != nil {
		return fmt.Errorf("grade response (len=%d depth=%g): %w", contextLength, depthPercent, err)
	}

	result := &results.RunResult{
		RunName:       t.cfg.RunName,
		Provider:      t.cfg.ProviderName,
		Model:         t.cfg.Model,
		ContextLength: contextLength,
		DepthPercent:  depthPercent,
		Needle:        t.cfg.Needle,
		Question:      t.cfg.Question,
		Response:      response,
		Score:         score,
		ElapsedMS:     elapsed.Milliseconds(),
	}
	if err := t.store.Save(ctx, result); err != nil {
		return err
	}

	if t.collector != nil {
		t.collector.RecordCell(score)
	}
	cellLogger.Info("cell evaluated",
		zap.Int("score", score),
		zap.Duration("elapsed", elapsed))
	return nil
}
