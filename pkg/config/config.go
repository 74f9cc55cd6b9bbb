package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	LogBackendSQLite = "sqlite"
	LogBackendBadger = "badger"

	envPrefix = "BOTVISOR_"
)

// Config 服务端配置（文件 → 环境变量 → 命令行，后者覆盖前者）
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Storage    StorageConfig    `yaml:"storage"`
	Supervisor SupervisorConfig `yaml:"supervisor"`
	Stream     StreamConfig     `yaml:"stream"`
	Auth       AuthConfig       `yaml:"auth"`
	Log        LogConfig        `yaml:"log"`
}

type ServerConfig struct {
	Listen          string        `yaml:"listen"`           // HTTP 监听地址
	DebugListen     string        `yaml:"debug_listen"`     // expvar/pprof，空则不开
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"` // 优雅关闭总超时
}

type StorageConfig struct {
	DBPath     string `yaml:"db_path"`     // SQLite 文件（bots 表始终在这里）
	LogBackend string `yaml:"log_backend"` // sqlite | badger
	BadgerDir  string `yaml:"badger_dir"`  // log_backend=badger 时的数据目录
	BadgerKey  string `yaml:"badger_key"`  // 可选：16/24/32 字节加密 key
}

type SupervisorConfig struct {
	LogsDir          string        `yaml:"logs_dir"`
	WorkDir          string        `yaml:"work_dir"`
	GracePeriod      time.Duration `yaml:"grace_period"`
	RestartCooldown  time.Duration `yaml:"restart_cooldown"`
	AutoRestartDelay time.Duration `yaml:"auto_restart_delay"`
	WaitDelay        time.Duration `yaml:"wait_delay"`
	MonitorInterval  time.Duration `yaml:"monitor_interval"`
	StopOnShutdown   bool          `yaml:"stop_on_shutdown"`
	CaptureQueueSize int           `yaml:"capture_queue_size"`
}

type StreamConfig struct {
	KeepAlive    time.Duration `yaml:"keep_alive"`
	PollInterval time.Duration `yaml:"poll_interval"`
	MaxTailBytes int64         `yaml:"max_tail_bytes"`
}

type AuthConfig struct {
	Secret    string `yaml:"secret"`    // 为空则不校验 token（仅限本机调试）
	Algorithm string `yaml:"algorithm"` // HS256 | HS384 | HS512
}

type LogConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file"`
	MaxSize    int    `yaml:"max_size"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"`
	Compress   bool   `yaml:"compress"`
}

var (
	globalConfig *Config
	globalMu     sync.RWMutex
)

// Default 默认配置
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Listen:          "127.0.0.1:8088",
			ShutdownTimeout: 30 * time.Second,
		},
		Storage: StorageConfig{
			DBPath:     "data/botvisor.db",
			LogBackend: LogBackendSQLite,
			BadgerDir:  "data/logs.badger",
		},
		Supervisor: SupervisorConfig{
			LogsDir:          "logs",
			GracePeriod:      10 * time.Second,
			RestartCooldown:  2 * time.Second,
			AutoRestartDelay: 5 * time.Second,
			WaitDelay:        2 * time.Second,
			MonitorInterval:  30 * time.Second,
			StopOnShutdown:   true,
			CaptureQueueSize: 1024,
		},
		Stream: StreamConfig{
			KeepAlive:    15 * time.Second,
			PollInterval: 2 * time.Second,
			MaxTailBytes: 1 << 20,
		},
		Auth: AuthConfig{Algorithm: "HS256"},
		Log: LogConfig{
			Level:      "info",
			Format:     "text",
			MaxSize:    100,
			MaxBackups: 5,
			MaxAge:     14,
		},
	}
}

// Load 读取配置文件（可为空或不存在），再叠加 BOTVISOR_* 环境变量
func Load(path string) (*Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) != "" {
		if err := loadFile(path, cfg); err != nil {
			return nil, err
		}
	}
	applyEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	Set(cfg)
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("读取配置文件失败: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("解析配置文件 %s 失败: %w", filepath.Base(path), err)
	}
	return nil
}

func applyEnv(c *Config) {
	c.Server.Listen = getEnv(envPrefix+"LISTEN", c.Server.Listen)
	c.Server.DebugListen = getEnv(envPrefix+"DEBUG_LISTEN", c.Server.DebugListen)
	c.Server.ShutdownTimeout = parseDurationEnv(envPrefix+"SHUTDOWN_TIMEOUT", c.Server.ShutdownTimeout)

	c.Storage.DBPath = getEnv(envPrefix+"DB_PATH", c.Storage.DBPath)
	c.Storage.LogBackend = getEnv(envPrefix+"LOG_BACKEND", c.Storage.LogBackend)
	c.Storage.BadgerDir = getEnv(envPrefix+"BADGER_DIR", c.Storage.BadgerDir)
	c.Storage.BadgerKey = getEnv(envPrefix+"BADGER_KEY", c.Storage.BadgerKey)

	c.Supervisor.LogsDir = getEnv(envPrefix+"LOGS_DIR", c.Supervisor.LogsDir)
	c.Supervisor.WorkDir = getEnv(envPrefix+"WORK_DIR", c.Supervisor.WorkDir)
	c.Supervisor.GracePeriod = parseDurationEnv(envPrefix+"GRACE_PERIOD", c.Supervisor.GracePeriod)
	c.Supervisor.RestartCooldown = parseDurationEnv(envPrefix+"RESTART_COOLDOWN", c.Supervisor.RestartCooldown)
	c.Supervisor.AutoRestartDelay = parseDurationEnv(envPrefix+"AUTO_RESTART_DELAY", c.Supervisor.AutoRestartDelay)
	c.Supervisor.MonitorInterval = parseDurationEnv(envPrefix+"MONITOR_INTERVAL", c.Supervisor.MonitorInterval)
	c.Supervisor.StopOnShutdown = parseBoolEnv(envPrefix+"STOP_ON_SHUTDOWN", c.Supervisor.StopOnShutdown)

	c.Stream.KeepAlive = parseDurationEnv(envPrefix+"STREAM_KEEPALIVE", c.Stream.KeepAlive)

	c.Auth.Secret = getEnv(envPrefix+"JWT_SECRET", c.Auth.Secret)
	c.Auth.Algorithm = getEnv(envPrefix+"JWT_ALGORITHM", c.Auth.Algorithm)

	c.Log.Level = getEnv(envPrefix+"LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnv(envPrefix+"LOG_FORMAT", c.Log.Format)
	c.Log.File = getEnv(envPrefix+"LOG_FILE", c.Log.File)
	c.Log.MaxSize = parseIntEnv(envPrefix+"LOG_MAX_SIZE", c.Log.MaxSize)
}

// Set 设置全局配置
func Set(c *Config) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalConfig = c
}

// Get 获取全局配置（如果已加载）
func Get() *Config {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalConfig
}

// Validate 验证配置
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Server.Listen) == "" {
		return fmt.Errorf("server.listen 不能为空")
	}
	if strings.TrimSpace(c.Storage.DBPath) == "" {
		return fmt.Errorf("storage.db_path 不能为空")
	}
	switch strings.ToLower(strings.TrimSpace(c.Storage.LogBackend)) {
	case LogBackendSQLite:
	case LogBackendBadger:
		if strings.TrimSpace(c.Storage.BadgerDir) == "" {
			return fmt.Errorf("log_backend=badger 时 storage.badger_dir 不能为空")
		}
		if k := len(c.Storage.BadgerKey); k != 0 && k != 16 && k != 24 && k != 32 {
			return fmt.Errorf("storage.badger_key 长度必须是 16/24/32 字节")
		}
	default:
		return fmt.Errorf("未知的 log_backend: %s", c.Storage.LogBackend)
	}
	if c.Supervisor.GracePeriod <= 0 {
		return fmt.Errorf("supervisor.grace_period 必须大于 0")
	}
	if c.Supervisor.RestartCooldown < 0 || c.Supervisor.AutoRestartDelay < 0 {
		return fmt.Errorf("restart_cooldown / auto_restart_delay 不能为负数")
	}
	if c.Supervisor.MonitorInterval <= 0 {
		return fmt.Errorf("supervisor.monitor_interval 必须大于 0")
	}
	if c.Stream.KeepAlive <= 0 {
		return fmt.Errorf("stream.keep_alive 必须大于 0")
	}
	switch strings.ToUpper(strings.TrimSpace(c.Auth.Algorithm)) {
	case "", "HS256", "HS384", "HS512":
	default:
		return fmt.Errorf("不支持的 auth.algorithm: %s", c.Auth.Algorithm)
	}
	return nil
}

// getEnv 获取环境变量，如果不存在则返回默认值
func getEnv(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

// parseIntEnv 解析整数环境变量
func parseIntEnv(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

// parseBoolEnv 解析布尔环境变量
func parseBoolEnv(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

// parseDurationEnv 解析时长环境变量（"10s"、"1m"）
func parseDurationEnv(key string, defaultValue time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}
