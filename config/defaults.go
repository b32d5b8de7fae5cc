// =============================================================================
// 📦 Haystack 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import "time"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Providers: DefaultProvidersConfig(),
		Run:       DefaultRunConfig(),
		Evaluator: DefaultEvaluatorConfig(),
		Cache:     DefaultCacheConfig(),
		Redis:     DefaultRedisConfig(),
		Results:   DefaultResultsConfig(),
		Metrics:   DefaultMetricsConfig(),
		Log:       DefaultLogConfig(),
	}
}

// DefaultProvidersConfig 返回默认模型接入配置
func DefaultProvidersConfig() ProvidersConfig {
	return ProvidersConfig{
		Default: "openai",
		OpenAI: OpenAIConfig{
			Timeout: 2 * time.Minute,
		},
		Anthropic: AnthropicConfig{
			Timeout: 2 * time.Minute,
		},
	}
}

// DefaultRunConfig 返回默认扫描配置
func DefaultRunConfig() RunConfig {
	return RunConfig{
		Name:              "needle-in-a-haystack",
		Model:             "gpt-3.5-turbo-0125",
		Needle:            "\nThe best thing to do in San Francisco is eat a sandwich and sit in Dolores Park on a sunny day.\n",
		Question:          "What is the best thing to do in San Francisco?",
		CorpusDir:         "corpus",
		ContextLengths:    []int{1000, 2000, 4000, 8000, 16000},
		DepthPercents:     []float64{0, 25, 50, 75, 100},
		Parallelism:       1,
		RequestsPerMinute: 0,
	}
}

// DefaultEvaluatorConfig 返回默认评分器配置
func DefaultEvaluatorConfig() EvaluatorConfig {
	return EvaluatorConfig{
		Type:  "model",
		Model: "gpt-4o",
	}
}

// DefaultCacheConfig 返回默认补全缓存配置
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		Enabled:      true,
		EnableRedis:  false,
		LocalMaxSize: 1000,
		LocalTTL:     1 * time.Hour,
		RedisTTL:     24 * time.Hour,
	}
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		Password:     "",
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
	}
}

// DefaultResultsConfig 返回默认结果存储配置
func DefaultResultsConfig() ResultsConfig {
	return ResultsConfig{
		DBPath:    "results.db",
		ExportDir: "results",
	}
}

// DefaultMetricsConfig 返回默认指标配置
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Enabled: false,
		Addr:    ":9091",
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "console",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     false,
		EnableStacktrace: false,
	}
}
