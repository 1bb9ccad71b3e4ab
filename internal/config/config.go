// Package config 负责加载和管理应用程序的配置
// 使用 viper 库支持 YAML 配置文件和环境变量覆盖
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 是应用程序的根配置结构
type Config struct {
	Server ServerConfig `mapstructure:"server"` // 服务器配置
	Redis  RedisConfig  `mapstructure:"redis"`  // Redis 配置（会话消息存储）
	MySQL  MySQLConfig  `mapstructure:"mysql"`  // MySQL 配置（审计记录，可选）
	Chat   ChatConfig   `mapstructure:"chat"`   // 聊天会话配置
	Audit  AuditConfig  `mapstructure:"audit"`  // 审计日志配置
	Auth   AuthConfig   `mapstructure:"auth"`   // 管理接口认证配置
	Log    LogConfig    `mapstructure:"log"`    // 日志配置
}

// ServerConfig 服务器相关配置
type ServerConfig struct {
	Port int      `mapstructure:"port"` // 监听端口，默认 8080
	Mode string   `mapstructure:"mode"` // 运行模式: debug / release
	CORS []string `mapstructure:"cors"` // CORS 允许的域名
}

// RedisConfig Redis 连接配置
type RedisConfig struct {
	URL            string `mapstructure:"url"`             // redis:// 连接串，设置后优先于 host/port
	Host           string `mapstructure:"host"`            // Redis 主机地址
	Port           int    `mapstructure:"port"`            // Redis 端口
	Username       string `mapstructure:"username"`        // Redis 用户名
	Password       string `mapstructure:"password"`        // Redis 密码
	DB             int    `mapstructure:"db"`              // 数据库索引 (0-15)
	PoolSize       int    `mapstructure:"pool_size"`       // 连接池大小
	TimeoutSeconds int    `mapstructure:"timeout_seconds"` // 连接/读写超时（秒）
}

// Timeout 返回 socket 超时时间
func (c RedisConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// MySQLConfig MySQL 数据库连接配置
type MySQLConfig struct {
	Enabled      bool   `mapstructure:"enabled"`        // 是否启用审计落库
	Host         string `mapstructure:"host"`           // 数据库主机地址
	Port         int    `mapstructure:"port"`           // 数据库端口
	Username     string `mapstructure:"username"`       // 数据库用户名
	Password     string `mapstructure:"password"`       // 数据库密码
	Database     string `mapstructure:"database"`       // 数据库名称
	Charset      string `mapstructure:"charset"`        // 字符集
	MaxIdleConns int    `mapstructure:"max_idle_conns"` // 最大空闲连接数
	MaxOpenConns int    `mapstructure:"max_open_conns"` // 最大打开连接数
	MaxLifetime  int    `mapstructure:"max_lifetime"`   // 连接最大生命周期（秒）
}

// DSN 构建 MySQL 连接串
func (c MySQLConfig) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=%s&parseTime=True&loc=UTC",
		c.Username, c.Password, c.Host, c.Port, c.Database, c.Charset)
}

// ChatConfig 聊天会话配置
type ChatConfig struct {
	SessionTTLSeconds   int    `mapstructure:"session_ttl_seconds"`   // 会话日志滑动过期时间（秒）
	KeyPrefix           string `mapstructure:"key_prefix"`            // Redis key 前缀
	ScanCount           int64  `mapstructure:"scan_count"`            // SCAN 每批数量提示
	WriteTimeoutSeconds int    `mapstructure:"write_timeout_seconds"` // 单个连接的投递超时（秒）
}

// SessionTTL 返回会话过期时间
func (c ChatConfig) SessionTTL() time.Duration {
	return time.Duration(c.SessionTTLSeconds) * time.Second
}

// WriteTimeout 返回投递超时
func (c ChatConfig) WriteTimeout() time.Duration {
	return time.Duration(c.WriteTimeoutSeconds) * time.Second
}

// AuditConfig 审计日志配置
type AuditConfig struct {
	File      string `mapstructure:"file"`       // JSON 行日志文件路径，为空则不写文件
	QueueSize int    `mapstructure:"queue_size"` // 异步队列长度
}

// AuthConfig 管理接口认证配置
type AuthConfig struct {
	AdminSecret string `mapstructure:"admin_secret"` // 为空表示不启用管理员校验
}

// LogConfig 日志配置
type LogConfig struct {
	Level  string `mapstructure:"level"`  // 日志级别: debug/info/warn/error
	Format string `mapstructure:"format"` // 日志格式: json/text
}

// Load 从指定路径加载配置文件
// 支持环境变量覆盖配置项
// 参数:
//   - configPath: 配置文件目录路径 (如 "./configs")
//
// 返回:
//   - *Config: 配置对象
//   - error: 如果加载失败则返回错误
func Load(configPath string) (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)

	// 将环境变量中的 _ 映射到配置的 .
	// 例如: REDIS_HOST -> redis.host
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	bindEnvVariables(v)
	setDefaults(v)

	// 配置文件不存在时继续使用默认值和环境变量
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	// ALLOWED_ORIGINS 以逗号分隔传入
	cfg.Server.CORS = splitOrigins(cfg.Server.CORS)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate 检查配置项取值
func (c *Config) Validate() error {
	if c.Chat.SessionTTLSeconds <= 0 {
		return fmt.Errorf("chat.session_ttl_seconds must be positive, got %d", c.Chat.SessionTTLSeconds)
	}
	if c.Chat.WriteTimeoutSeconds <= 0 {
		return fmt.Errorf("chat.write_timeout_seconds must be positive, got %d", c.Chat.WriteTimeoutSeconds)
	}
	if c.Chat.KeyPrefix == "" {
		return errors.New("chat.key_prefix must not be empty")
	}
	return nil
}

// bindEnvVariables 绑定环境变量到配置项
func bindEnvVariables(v *viper.Viper) {
	// 服务器配置
	v.BindEnv("server.port", "SERVER_PORT")
	v.BindEnv("server.mode", "SERVER_MODE")
	v.BindEnv("server.cors", "ALLOWED_ORIGINS")

	// Redis 配置
	v.BindEnv("redis.url", "REDIS_URL")
	v.BindEnv("redis.host", "REDIS_HOST")
	v.BindEnv("redis.port", "REDIS_PORT")
	v.BindEnv("redis.username", "REDIS_USERNAME")
	v.BindEnv("redis.password", "REDIS_PASSWORD")
	v.BindEnv("redis.timeout_seconds", "REDIS_TIMEOUT_SECONDS")

	// MySQL 配置
	v.BindEnv("mysql.enabled", "MYSQL_ENABLED")
	v.BindEnv("mysql.host", "MYSQL_HOST")
	v.BindEnv("mysql.port", "MYSQL_PORT")
	v.BindEnv("mysql.username", "MYSQL_USERNAME")
	v.BindEnv("mysql.password", "MYSQL_PASSWORD")
	v.BindEnv("mysql.database", "MYSQL_DATABASE")

	// 聊天配置
	v.BindEnv("chat.session_ttl_seconds", "CHAT_SESSION_TTL_SECONDS")
	v.BindEnv("chat.key_prefix", "CHAT_KEY_PREFIX")
	v.BindEnv("chat.scan_count", "CHAT_SCAN_COUNT")
	v.BindEnv("chat.write_timeout_seconds", "CHAT_WRITE_TIMEOUT_SECONDS")

	// 审计配置
	v.BindEnv("audit.file", "AUDIT_LOG_FILE")
	v.BindEnv("audit.queue_size", "AUDIT_QUEUE_SIZE")

	// 认证配置
	v.BindEnv("auth.admin_secret", "ADMIN_JWT_SECRET")

	// 日志配置
	v.BindEnv("log.level", "LOG_LEVEL")
	v.BindEnv("log.format", "LOG_FORMAT")
}

// setDefaults 设置配置项的默认值
func setDefaults(v *viper.Viper) {
	// 服务器默认配置
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.cors", []string{"http://localhost:5173"})

	// Redis 默认配置
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 100)
	v.SetDefault("redis.timeout_seconds", 5)

	// MySQL 默认配置
	v.SetDefault("mysql.enabled", false)
	v.SetDefault("mysql.host", "localhost")
	v.SetDefault("mysql.port", 3306)
	v.SetDefault("mysql.database", "chat_system")
	v.SetDefault("mysql.charset", "utf8mb4")
	v.SetDefault("mysql.max_idle_conns", 10)
	v.SetDefault("mysql.max_open_conns", 100)
	v.SetDefault("mysql.max_lifetime", 3600)

	// 聊天默认配置
	v.SetDefault("chat.session_ttl_seconds", 60*60*24)
	v.SetDefault("chat.key_prefix", "chat_session:")
	v.SetDefault("chat.scan_count", 100)
	v.SetDefault("chat.write_timeout_seconds", 10)

	// 审计默认配置
	v.SetDefault("audit.file", "logs/chat.log")
	v.SetDefault("audit.queue_size", 256)

	// 日志默认配置
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// splitOrigins 展开逗号分隔的来源列表
func splitOrigins(raw []string) []string {
	origins := make([]string, 0, len(raw))
	for _, item := range raw {
		for _, origin := range strings.Split(item, ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				origins = append(origins, origin)
			}
		}
	}
	return origins
}
