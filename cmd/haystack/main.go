// =============================================================================
// Haystack 主入口
// =============================================================================
// 长上下文"大海捞针"评测工具入口点
//
// 使用方法:
//
//	haystack run                        # 执行扫描
//	haystack run --config config.yaml   # 指定配置文件
//	haystack summary --run <name>       # 查看某次运行的得分汇总
//	haystack export --run <name>        # 导出结果为 JSON 文件
//	haystack health                     # 检查 Provider 可用性
//	haystack version                    # 显示版本信息
// =============================================================================
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/BaSui01/haystack/config"
	"github.com/BaSui01/haystack/haystack"
	"github.com/BaSui01/haystack/internal/metrics"
	"github.com/BaSui01/haystack/llm"
	"github.com/BaSui01/haystack/providers"
	"github.com/BaSui01/haystack/providers/anthropic"
	"github.com/BaSui01/haystack/providers/openai"
	"github.com/BaSui01/haystack/results"
	"github.com/BaSui01/haystack/tokenizer"
)

// =============================================================================
// 📦 版本信息（构建时注入）
// =============================================================================

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// =============================================================================
// 🎯 主函数
// =============================================================================

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "run":
		runSweep(os.Args[2:])
	case "summary":
		runSummary(os.Args[2:])
	case "export":
		runExport(os.Args[2:])
	case "health":
		runHealthCheck(os.Args[2:])
	case "version":
		printVersion()
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

// =============================================================================
// 🧪 run 命令
// =============================================================================

func runSweep(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	needle := fs.String("needle", "", "Needle text override")
	question := fs.String("question", "", "Retrieval question override")
	fs.Parse(args)

	cfg := loadConfig(*configPath)
	if *needle != "" {
		cfg.Run.Needle = *needle
	}
	if *question != "" {
		cfg.Run.Question = *question
	}
	logger := initLogger(cfg.Log)
	defer logger.Sync()

	logger.Info("Starting haystack sweep",
		zap.String("version", Version),
		zap.String("run", cfg.Run.Name),
		zap.String("provider", cfg.Providers.Default),
		zap.String("model", cfg.Run.Model),
	)

	// 模型对应的 tokenizer，未知模型回退到估算器
	tokenizer.RegisterOpenAITokenizers()
	tok := tokenizer.GetTokenizerOrEstimator(cfg.Run.Model)

	// 指标收集器 + 可选的 Prometheus 端点
	var collector *metrics.Collector
	if cfg.Metrics.Enabled {
		collector = metrics.NewCollector("haystack", nil, logger)
		go serveMetrics(cfg.Metrics.Addr, logger)
	}

	chat, err := buildChatProvider(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to build provider", zap.Error(err))
	}
	chat = wrapWithCache(chat, cfg, collector, logger)

	store, err := results.Open(cfg.Results.DBPath, logger)
	if err != nil {
		logger.Fatal("Failed to open results store", zap.Error(err))
	}

	provider := haystack.NewProvider(chat, tok, cfg.Run.Model, logger)
	if collector != nil {
		provider = provider.WithUsageObserver(collector)
	}

	corpus, err := haystack.LoadCorpus(cfg.Run.CorpusDir)
	if err != nil {
		logger.Fatal("Failed to load corpus", zap.Error(err))
	}
	builder := haystack.NewContextBuilder(provider, corpus, logger)

	evaluator, err := buildEvaluator(cfg, chat)
	if err != nil {
		logger.Fatal("Failed to build evaluator", zap.Error(err))
	}

	tester := haystack.NewTester(
		haystack.TesterConfig{
			RunName:           cfg.Run.Name,
			ProviderName:      cfg.Providers.Default,
			Model:             cfg.Run.Model,
			Needle:            cfg.Run.Needle,
			Question:          cfg.Run.Question,
			ContextLengths:    cfg.Run.ContextLengths,
			DepthPercents:     cfg.Run.DepthPercents,
			Parallelism:       cfg.Run.Parallelism,
			RequestsPerMinute: cfg.Run.RequestsPerMinute,
		},
		provider, builder, evaluator, store, collector, logger,
	)

	// Ctrl-C 中断后可凭结果库断点续跑
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := tester.Run(ctx); err != nil {
		logger.Fatal("Sweep failed", zap.Error(err))
	}

	printSummaryTable(ctx, store, cfg.Run.Name)
	logger.Info("Sweep finished", zap.String("run", cfg.Run.Name))
}

// =============================================================================
// 📊 summary / export 命令
// =============================================================================

func runSummary(args []string) {
	fs := flag.NewFlagSet("summary", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	runName := fs.String("run", "", "Run name (defaults to the configured run)")
	fs.Parse(args)

	cfg := loadConfig(*configPath)
	logger := initLogger(cfg.Log)
	defer logger.Sync()

	if *runName == "" {
		*runName = cfg.Run.Name
	}

	store, err := results.Open(cfg.Results.DBPath, logger)
	if err != nil {
		logger.Fatal("Failed to open results store", zap.Error(err))
	}

	printSummaryTable(context.Background(), store, *runName)
}

func runExport(args []string) {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	runName := fs.String("run", "", "Run name (defaults to the configured run)")
	dir := fs.String("dir", "", "Export directory (defaults to the configured one)")
	fs.Parse(args)

	cfg := loadConfig(*configPath)
	logger := initLogger(cfg.Log)
	defer logger.Sync()

	if *runName == "" {
		*runName = cfg.Run.Name
	}
	if *dir == "" {
		*dir = cfg.Results.ExportDir
	}

	store, err := results.Open(cfg.Results.DBPath, logger)
	if err != nil {
		logger.Fatal("Failed to open results store", zap.Error(err))
	}

	if err := store.Export(context.Background(), *runName, *dir); err != nil {
		logger.Fatal("Export failed", zap.Error(err))
	}
	fmt.Printf("Exported run %q to %s\n", *runName, *dir)
}

func printSummaryTable(ctx context.Context, store *results.Store, runName string) {
	summary, err := store.Summary(ctx, runName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to summarize run %q: %v\n", runName, err)
		return
	}
	if len(summary) == 0 {
		fmt.Printf("No results for run %q\n", runName)
		return
	}

	fmt.Printf("Run %q\n", runName)
	fmt.Printf("%-16s %-10s %-12s %s\n", "context_length", "depth_%", "mean_score", "cells")
	for _, cell := range summary {
		fmt.Printf("%-16d %-10g %-12.2f %d\n",
			cell.ContextLength, cell.DepthPercent, cell.MeanScore, cell.Count)
	}
}

// =============================================================================
// 🏥 健康检查命令
// =============================================================================

func runHealthCheck(args []string) {
	fs := flag.NewFlagSet("health", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	fs.Parse(args)

	cfg := loadConfig(*configPath)
	logger := initLogger(cfg.Log)
	defer logger.Sync()

	chat, err := buildChatProvider(cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build provider: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	status, err := chat.HealthCheck(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
		os.Exit(1)
	}
	if !status.Healthy {
		fmt.Fprintf(os.Stderr, "Provider %s unhealthy\n", chat.Name())
		os.Exit(1)
	}

	fmt.Printf("OK (%s, %v)\n", chat.Name(), status.Latency)
}

// =============================================================================
// 🔌 组装
// =============================================================================

func loadConfig(path string) *config.Config {
	loader := config.NewLoader()
	if path != "" {
		loader = loader.WithConfigPath(path)
	}

	cfg, err := loader.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid config: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

func buildChatProvider(cfg *config.Config, logger *zap.Logger) (llm.Provider, error) {
	switch cfg.Providers.Default {
	case "openai":
		return openai.NewOpenAIProvider(providers.OpenAIConfig{
			APIKey:       cfg.Providers.OpenAI.APIKey,
			BaseURL:      cfg.Providers.OpenAI.BaseURL,
			Organization: cfg.Providers.OpenAI.Organization,
			Model:        cfg.Run.Model,
			Timeout:      cfg.Providers.OpenAI.Timeout,
		}, logger), nil
	case "anthropic":
		return anthropic.NewAnthropicProvider(providers.AnthropicConfig{
			APIKey:  cfg.Providers.Anthropic.APIKey,
			BaseURL: cfg.Providers.Anthropic.BaseURL,
			Model:   cfg.Run.Model,
			Timeout: cfg.Providers.Anthropic.Timeout,
		}, logger), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Providers.Default)
	}
}

// wrapWithCache 按配置给 Provider 套上补全缓存。
func wrapWithCache(chat llm.Provider, cfg *config.Config, collector *metrics.Collector, logger *zap.Logger) llm.Provider {
	if !cfg.Cache.Enabled {
		return chat
	}

	var rdb *redis.Client
	if cfg.Cache.EnableRedis {
		rdb = redis.NewClient(&redis.Options{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
		})
	}

	cache := llm.NewMultiLevelCache(rdb, &llm.CacheConfig{
		LocalMaxSize: cfg.Cache.LocalMaxSize,
		LocalTTL:     cfg.Cache.LocalTTL,
		RedisTTL:     cfg.Cache.RedisTTL,
		EnableLocal:  true,
		EnableRedis:  cfg.Cache.EnableRedis,
	}, logger)

	var observer llm.CacheObserver
	if collector != nil {
		observer = collector
	}
	return llm.NewCachingProvider(chat, cache, observer, logger)
}

func buildEvaluator(cfg *config.Config, chat llm.Provider) (haystack.Evaluator, error) {
	switch cfg.Evaluator.Type {
	case "model":
		return haystack.NewModelEvaluator(chat, cfg.Evaluator.Model), nil
	case "substring":
		return haystack.SubstringEvaluator{}, nil
	default:
		return nil, fmt.Errorf("unknown evaluator type %q", cfg.Evaluator.Type)
	}
}

func serveMetrics(addr string, logger *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Warn("Metrics endpoint stopped", zap.Error(err))
	}
}

// =============================================================================
// 📋 版本和帮助
// =============================================================================

func printVersion() {
	fmt.Printf("haystack %s\n", Version)
	fmt.Printf("  Build Time: %s\n", BuildTime)
	fmt.Printf("  Git Commit: %s\n", GitCommit)
}

func printUsage() {
	fmt.Println(`haystack - long-context needle-in-a-haystack evaluation

Usage:
  haystack <command> [options]

Commands:
  run       Execute the configured sweep
  summary   Print mean scores per grid cell for a run
  export    Export run results as JSON files
  health    Check provider availability
  version   Show version information
  help      Show this help message

Common options:
  --config <path>   Path to configuration file (YAML)

Options for 'run':
  --needle <text>     Override the configured needle
  --question <text>   Override the configured retrieval question

Examples:
  haystack run --config config.yaml
  haystack summary --run gpt4-sweep
  haystack export --run gpt4-sweep --dir ./out
  haystack health --config config.yaml
  haystack version`)
}

// =============================================================================
// 🔧 日志初始化
// =============================================================================

func initLogger(cfg config.LogConfig) *zap.Logger {
	// 解析日志级别
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "info":
		level = zapcore.InfoLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	// 配置编码器
	var encoderConfig zapcore.EncoderConfig
	if cfg.Format == "console" {
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	zapConfig := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      cfg.Format == "console",
		Encoding:         cfg.Format,
		EncoderConfig:    encoderConfig,
		OutputPaths:      cfg.OutputPaths,
		ErrorOutputPaths: []string{"stderr"},
	}

	if cfg.Format == "console" {
		zapConfig.Encoding = "console"
	} else {
		zapConfig.Encoding = "json"
	}

	opts := []zap.Option{}
	if cfg.EnableCaller {
		opts = append(opts, zap.AddCaller())
	}
	if cfg.EnableStacktrace {
		opts = append(opts, zap.AddStacktrace(zapcore.ErrorLevel))
	}

	logger, err := zapConfig.Build(opts...)
	if err != nil {
		// 回退到基本 logger
		logger, _ = zap.NewProduction()
	}

	return logger
}
