// =============================================================================
// 📦 Haystack 配置加载器
// =============================================================================
// 统一配置加载，支持 YAML 文件 + 环境变量覆盖
//
// 使用方法:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("config.yaml").
//	    WithEnvPrefix("HAYSTACK").
//	    Load()
//
// 配置优先级: 默认值 → YAML 文件 → 环境变量
// =============================================================================
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// 🎯 核心配置结构
// =============================================================================

// Config 是评测工具的完整配置结构
type Config struct {
	// Providers 被测模型与裁判模型的接入配置
	Providers ProvidersConfig `yaml:"providers" env:"PROVIDERS"`

	// Run 扫描运行配置
	Run RunConfig `yaml:"run" env:"RUN"`

	// Evaluator 评分器配置
	Evaluator EvaluatorConfig `yaml:"evaluator" env:"EVALUATOR"`

	// Cache 补全缓存配置
	Cache CacheConfig `yaml:"cache" env:"CACHE"`

	// Redis 缓存后端配置
	Redis RedisConfig `yaml:"redis" env:"REDIS"`

	// Results 结果存储配置
	Results ResultsConfig `yaml:"results" env:"RESULTS"`

	// Metrics 指标暴露配置
	Metrics MetricsConfig `yaml:"metrics" env:"METRICS"`

	// Log 日志配置
	Log LogConfig `yaml:"log" env:"LOG"`
}

// ProvidersConfig 模型接入配置
type ProvidersConfig struct {
	// 默认 Provider: openai, anthropic
	Default string `yaml:"default" env:"DEFAULT"`
	// OpenAI 接入配置
	OpenAI OpenAIConfig `yaml:"openai" env:"OPENAI"`
	// Anthropic 接入配置
	Anthropic AnthropicConfig `yaml:"anthropic" env:"ANTHROPIC"`
}

// OpenAIConfig OpenAI 兼容接口配置
type OpenAIConfig struct {
	// API Key
	APIKey string `yaml:"api_key" env:"API_KEY"`
	// 基础 URL（可选，兼容自建网关）
	BaseURL string `yaml:"base_url" env:"BASE_URL"`
	// 组织 ID（可选）
	Organization string `yaml:"organization" env:"ORGANIZATION"`
	// 请求超时
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// AnthropicConfig Anthropic 接口配置
type AnthropicConfig struct {
	// API Key
	APIKey string `yaml:"api_key" env:"API_KEY"`
	// 基础 URL（可选）
	BaseURL string `yaml:"base_url" env:"BASE_URL"`
	// 请求超时
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// RunConfig 一次扫描运行的参数
type RunConfig struct {
	// 运行名称，用于结果归档与断点续跑
	Name string `yaml:"name" env:"NAME"`
	// 被测模型
	Model string `yaml:"model" env:"MODEL"`
	// 针文本
	Needle string `yaml:"needle" env:"NEEDLE"`
	// 检索问题
	Question string `yaml:"question" env:"QUESTION"`
	// 干草堆语料目录（.txt 文件）
	CorpusDir string `yaml:"corpus_dir" env:"CORPUS_DIR"`
	// 上下文长度网格（token 数）
	ContextLengths []int `yaml:"context_lengths" env:"CONTEXT_LENGTHS"`
	// 插入深度网格（百分比，0-100）
	DepthPercents []float64 `yaml:"depth_percents" env:"DEPTH_PERCENTS"`
	// 并发单元数
	Parallelism int `yaml:"parallelism" env:"PARALLELISM"`
	// 每分钟请求上限（0 表示不限流）
	RequestsPerMinute float64 `yaml:"requests_per_minute" env:"REQUESTS_PER_MINUTE"`
}

// EvaluatorConfig 评分器配置
type EvaluatorConfig struct {
	// 类型: model（裁判模型打分）, substring（包含判断）
	Type string `yaml:"type" env:"TYPE"`
	// 裁判模型（type=model 时生效）
	Model string `yaml:"model" env:"MODEL"`
}

// CacheConfig 补全缓存配置
type CacheConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// 是否启用 Redis 二级缓存
	EnableRedis bool `yaml:"enable_redis" env:"ENABLE_REDIS"`
	// 本地缓存条目上限
	LocalMaxSize int `yaml:"local_max_size" env:"LOCAL_MAX_SIZE"`
	// 本地缓存 TTL
	LocalTTL time.Duration `yaml:"local_ttl" env:"LOCAL_TTL"`
	// Redis 缓存 TTL
	RedisTTL time.Duration `yaml:"redis_ttl" env:"REDIS_TTL"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	// 地址
	Addr string `yaml:"addr" env:"ADDR"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库编号
	DB int `yaml:"db" env:"DB"`
	// 连接池大小
	PoolSize int `yaml:"pool_size" env:"POOL_SIZE"`
	// 最小空闲连接
	MinIdleConns int `yaml:"min_idle_conns" env:"MIN_IDLE_CONNS"`
}

// ResultsConfig 结果存储配置
type ResultsConfig struct {
	// SQLite 数据库路径
	DBPath string `yaml:"db_path" env:"DB_PATH"`
	// JSON 导出目录
	ExportDir string `yaml:"export_dir" env:"EXPORT_DIR"`
}

// MetricsConfig 指标暴露配置
type MetricsConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// 监听地址，如 :9091
	Addr string `yaml:"addr" env:"ADDR"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// 输出格式: json, console
	Format string `yaml:"format" env:"FORMAT"`
	// 输出路径
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	// 是否启用调用者信息
	EnableCaller bool `yaml:"enable_caller" env:"ENABLE_CALLER"`
	// 是否启用堆栈跟踪
	EnableStacktrace bool `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// =============================================================================
// 🔧 配置加载器
// =============================================================================

// Loader 配置加载器（Builder 模式）
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader 创建新的配置加载器
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "HAYSTACK",
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath 设置配置文件路径
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix 设置环境变量前缀
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator 添加配置验证器
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load 加载配置
// 优先级: 默认值 → YAML 文件 → 环境变量
func (l *Loader) Load() (*Config, error) {
	// 1. 从默认值开始
	cfg := DefaultConfig()

	// 2. 如果指定了配置文件，从文件加载
	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	// 3. 从环境变量覆盖
	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	// 4. 运行验证器
	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

// loadFromFile 从 YAML 文件加载配置
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			// 文件不存在，使用默认值
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// loadFromEnv 从环境变量加载配置
func (l *Loader) loadFromEnv(cfg *Config) error {
	return l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

// setFieldsFromEnv 递归设置结构体字段
func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		// 获取 env tag
		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}

		envKey := prefix + "_" + envTag

		// 如果是结构体，递归处理
		if field.Kind() == reflect.Struct {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		// 获取环境变量值
		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}

		// 设置字段值
		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

// setFieldValue 设置字段值
func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		// 特殊处理 time.Duration
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetUint(u)

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		return setSliceValue(field, value)
	}

	return nil
}

// setSliceValue 解析逗号分隔的切片值
func setSliceValue(field reflect.Value, value string) error {
	parts := strings.Split(value, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}

	switch field.Type().Elem().Kind() {
	case reflect.String:
		field.Set(reflect.ValueOf(parts))

	case reflect.Int:
		out := make([]int, 0, len(parts))
		for _, p := range parts {
			n, err := strconv.Atoi(p)
			if err != nil {
				return err
			}
			out = append(out, n)
		}
		field.Set(reflect.ValueOf(out))

	case reflect.Float64:
		out := make([]float64, 0, len(parts))
		for _, p := range parts {
			f, err := strconv.ParseFloat(p, 64)
			if err != nil {
				return err
			}
			out = append(out, f)
		}
		field.Set(reflect.ValueOf(out))
	}

	return nil
}

// =============================================================================
// 🔍 辅助函数
// =============================================================================

// MustLoad 加载配置，失败时 panic
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// LoadFromEnv 仅从环境变量加载配置
func LoadFromEnv() (*Config, error) {
	return NewLoader().Load()
}

// Validate 验证配置
func (c *Config) Validate() error {
	var errs []string

	switch c.Providers.Default {
	case "openai", "anthropic":
	default:
		errs = append(errs, fmt.Sprintf("unknown provider %q", c.Providers.Default))
	}

	if c.Run.Name == "" {
		errs = append(errs, "run name is required")
	}
	if c.Run.Needle == "" {
		errs = append(errs, "needle is required")
	}
	if c.Run.Question == "" {
		errs = append(errs, "question is required")
	}
	if len(c.Run.ContextLengths) == 0 {
		errs = append(errs, "context_lengths must not be empty")
	}
	for _, n := range c.Run.ContextLengths {
		if n <= 0 {
			errs = append(errs, fmt.Sprintf("context length %d must be positive", n))
		}
	}
	if len(c.Run.DepthPercents) == 0 {
		errs = append(errs, "depth_percents must not be empty")
	}
	for _, d := range c.Run.DepthPercents {
		if d < 0 || d > 100 {
			errs = append(errs, fmt.Sprintf("depth percent %g must be in [0,100]", d))
		}
	}
	if c.Run.RequestsPerMinute < 0 {
		errs = append(errs, "requests_per_minute must not be negative")
	}

	switch c.Evaluator.Type {
	case "model", "substring":
	default:
		errs = append(errs, fmt.Sprintf("unknown evaluator type %q", c.Evaluator.Type))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}

	return nil
}
