package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ExchangeConfig 交易所配置
type ExchangeConfig struct {
	APIKey    string `yaml:"api_key" json:"api_key"`
	SecretKey string `yaml:"secret_key" json:"secret_key"`
	Testnet   bool   `yaml:"testnet" json:"testnet"` // 是否使用测试网（默认 false）
}

// TelegramConfig Telegram 通知配置
type TelegramConfig struct {
	Enabled  bool   `yaml:"enabled"`
	BotToken string `yaml:"bot_token"`
	ChatID   string `yaml:"chat_id"`
}

// WebhookNotifyConfig 通用 Webhook 通知配置
type WebhookNotifyConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Timeout int    `yaml:"timeout"` // 秒，默认 3
}

// NotificationRules 通知规则（按事件类型开关）
type NotificationRules struct {
	OrderFilled      bool `yaml:"order_filled"`
	OrderRejected    bool `yaml:"order_rejected"`
	ProtectiveFailed bool `yaml:"protective_failed"`
	Error            bool `yaml:"error"`
}

// Config 信号执行系统配置
type Config struct {
	// 应用配置
	App struct {
		Venue string `yaml:"venue"` // 当前使用的交易所（也是去重键中的 venue 标识）
	} `yaml:"app"`

	// 多交易所配置
	Exchanges map[string]ExchangeConfig `yaml:"exchanges"`

	Trading struct {
		Enabled             bool    `yaml:"enabled"`               // 全局交易开关（紧急停止用）
		DryRun              bool    `yaml:"dry_run"`               // 干跑模式：不向交易所下单，只模拟成交
		DefaultNotionalUSDT float64 `yaml:"default_notional_usdt"` // 每个信号的默认名义金额（USDT）
		DefaultLeverage     int     `yaml:"default_leverage"`      // 默认杠杆倍数
		MarginMode          string  `yaml:"margin_mode"`           // 保证金模式: cross / isolated
		CooldownSeconds     int     `yaml:"cooldown_seconds"`      // 开仓/翻转后的冷却时间（秒）
		StalenessHours      int     `yaml:"staleness_hours"`       // 信号最大允许延迟（小时，默认48）
		TakeProfitPct       float64 `yaml:"take_profit_pct"`       // 默认止盈百分比（如 2 表示 2%，0 表示不挂）
		StopLossPct         float64 `yaml:"stop_loss_pct"`         // 默认止损百分比（0 表示不挂）
		GatewayTimeoutSec   int     `yaml:"gateway_timeout_seconds"` // 交易所调用超时（秒，默认10）
		DefaultSymbol       string  `yaml:"default_symbol"`        // 无法映射时的默认合约（可为空=拒绝）

		// 品种映射表（原始符号 -> 合约符号），未命中时走规范化规则
		SymbolMap map[string]string `yaml:"symbol_map"`
		// 合约面值兜底表（交易所元数据不可用时使用）
		ContractSizes map[string]float64 `yaml:"contract_sizes"`
	} `yaml:"trading"`

	// Webhook 入口配置
	Webhook struct {
		Enabled        bool   `yaml:"enabled"`
		Host           string `yaml:"host"`
		Port           int    `yaml:"port"`
		Secret         string `yaml:"secret"`           // 共享密钥（为空则不校验）
		RatePerMinute  int    `yaml:"rate_per_minute"`  // 入口限流（每分钟请求数，默认60）
	} `yaml:"webhook"`

	// 邮箱监听入口配置
	Mail struct {
		Enabled          bool   `yaml:"enabled"`
		IMAPHost         string `yaml:"imap_host"`
		IMAPUser         string `yaml:"imap_user"`
		IMAPPassword     string `yaml:"imap_password"`
		Label            string `yaml:"label"`              // 读取的邮箱标签/文件夹
		FailedLabel      string `yaml:"failed_label"`       // 解析失败邮件转移标签
		IdleRenewSeconds int    `yaml:"idle_renew_seconds"` // IDLE 续期间隔（秒，默认1500，Gmail 上限29分钟）
		MaxMessageAgeMin int    `yaml:"max_message_age_min"` // 忽略超过此分钟数的旧邮件（默认5）
	} `yaml:"mail"`

	// 去重存储配置
	Dedup struct {
		Path          string `yaml:"path"`           // SQLite 文件路径，默认 ./data/signals.db
		RetentionDays int    `yaml:"retention_days"` // 记录保留天数（默认30）
	} `yaml:"dedup"`

	// 数据库配置（执行流水，支持 SQLite、PostgreSQL、MySQL）
	Database struct {
		Type            string `yaml:"type"`              // 数据库类型: sqlite, postgres, mysql，默认 sqlite
		DSN             string `yaml:"dsn"`               // 数据源名称，默认 ./data/sigbridge.db
		MaxOpenConns    int    `yaml:"max_open_conns"`    // 最大打开连接数，默认100
		MaxIdleConns    int    `yaml:"max_idle_conns"`    // 最大空闲连接数，默认10
		ConnMaxLifetime int    `yaml:"conn_max_lifetime"` // 连接最大生命周期（秒），默认3600
		LogLevel        string `yaml:"log_level"`         // 日志级别: silent, error, warn, info，默认 error
	} `yaml:"database"`

	// 分布式锁配置（多实例部署；未启用时使用进程内锁）
	DistributedLock struct {
		Enabled    bool   `yaml:"enabled"`
		Type       string `yaml:"type"`        // 锁类型: redis，默认 redis
		Prefix     string `yaml:"prefix"`      // 锁键前缀，默认 "sigbridge:lock:"
		DefaultTTL int    `yaml:"default_ttl"` // 默认锁过期时间（秒），默认30

		Redis struct {
			Addr     string `yaml:"addr"`
			Password string `yaml:"password"`
			DB       int    `yaml:"db"`
			PoolSize int    `yaml:"pool_size"`
		} `yaml:"redis"`
	} `yaml:"distributed_lock"`

	// 通知配置
	Notifications struct {
		Enabled  bool                `yaml:"enabled"`
		Telegram TelegramConfig      `yaml:"telegram"`
		Webhook  WebhookNotifyConfig `yaml:"webhook"`
		Rules    NotificationRules   `yaml:"rules"`
	} `yaml:"notifications"`

	System struct {
		LogLevel string `yaml:"log_level"`
		Timezone string `yaml:"timezone"` // 时区，如 "UTC"、"Asia/Shanghai"
	} `yaml:"system"`
}

// LoadConfig 加载配置文件
func LoadConfig(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %v", err)
	}

	return LoadConfigFromBytes(data)
}

// LoadConfigFromBytes 从字节数组加载配置（用于测试）
func LoadConfigFromBytes(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %v", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("配置验证失败: %v", err)
	}

	return &cfg, nil
}

// SaveConfig 保存配置到文件
func SaveConfig(cfg *Config, configPath string) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("配置验证失败: %v", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("序列化配置失败: %v", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("写入配置文件失败: %v", err)
	}

	return nil
}

// Validate 验证配置并填充默认值
func (c *Config) Validate() error {
	// 验证交易所配置
	if c.App.Venue == "" {
		return fmt.Errorf("必须指定当前使用的交易所 (app.venue)")
	}

	if len(c.Exchanges) == 0 {
		return fmt.Errorf("未配置任何交易所，请在 exchanges 中添加配置")
	}

	exchangeCfg, exists := c.Exchanges[c.App.Venue]
	if !exists {
		return fmt.Errorf("交易所 %s 的配置不存在", c.App.Venue)
	}

	// 干跑模式允许缺少 API 密钥（无资金即可验证信号链路）
	if !c.Trading.DryRun && (exchangeCfg.APIKey == "" || exchangeCfg.SecretKey == "") {
		return fmt.Errorf("交易所 %s 的 API 配置不完整", c.App.Venue)
	}

	// ==== 交易参数默认值 ====
	if c.Trading.DefaultNotionalUSDT <= 0 {
		c.Trading.DefaultNotionalUSDT = 20.0
	}
	if c.Trading.DefaultLeverage <= 0 {
		c.Trading.DefaultLeverage = 5
	}
	if c.Trading.MarginMode == "" {
		c.Trading.MarginMode = "cross"
	}
	if c.Trading.MarginMode != "cross" && c.Trading.MarginMode != "isolated" {
		return fmt.Errorf("不支持的保证金模式: %s（仅支持 cross / isolated）", c.Trading.MarginMode)
	}
	if c.Trading.CooldownSeconds <= 0 {
		c.Trading.CooldownSeconds = 300
	}
	if c.Trading.StalenessHours <= 0 {
		c.Trading.StalenessHours = 48
	}
	if c.Trading.TakeProfitPct < 0 || c.Trading.StopLossPct < 0 {
		return fmt.Errorf("止盈/止损百分比不能为负数")
	}
	if c.Trading.GatewayTimeoutSec <= 0 {
		c.Trading.GatewayTimeoutSec = 10
	}
	if c.Trading.SymbolMap == nil {
		c.Trading.SymbolMap = make(map[string]string)
	}
	if c.Trading.ContractSizes == nil {
		c.Trading.ContractSizes = make(map[string]float64)
	}

	// ==== Webhook 默认值 ====
	if c.Webhook.Enabled {
		if c.Webhook.Host == "" {
			c.Webhook.Host = "0.0.0.0"
		}
		if c.Webhook.Port <= 0 {
			c.Webhook.Port = 8080
		}
		if c.Webhook.RatePerMinute <= 0 {
			c.Webhook.RatePerMinute = 60
		}
	}

	// ==== 邮箱监听默认值 ====
	if c.Mail.Enabled {
		if c.Mail.IMAPHost == "" {
			c.Mail.IMAPHost = "imap.gmail.com:993"
		}
		if c.Mail.IMAPUser == "" || c.Mail.IMAPPassword == "" {
			return fmt.Errorf("邮箱监听已启用但 IMAP 凭据不完整")
		}
		if c.Mail.Label == "" {
			c.Mail.Label = "tv-alerts"
		}
		if c.Mail.IdleRenewSeconds <= 0 {
			c.Mail.IdleRenewSeconds = 1500
		}
		if c.Mail.MaxMessageAgeMin <= 0 {
			c.Mail.MaxMessageAgeMin = 5
		}
	}

	// ==== 去重存储默认值 ====
	if c.Dedup.Path == "" {
		c.Dedup.Path = "./data/signals.db"
	}
	if c.Dedup.RetentionDays <= 0 {
		c.Dedup.RetentionDays = 30
	}

	// ==== 数据库默认值 ====
	if c.Database.Type == "" {
		c.Database.Type = "sqlite"
	}
	if c.Database.DSN == "" {
		c.Database.DSN = "./data/sigbridge.db"
	}
	if c.Database.MaxOpenConns <= 0 {
		c.Database.MaxOpenConns = 100
	}
	if c.Database.MaxIdleConns <= 0 {
		c.Database.MaxIdleConns = 10
	}
	if c.Database.ConnMaxLifetime <= 0 {
		c.Database.ConnMaxLifetime = 3600
	}
	if c.Database.LogLevel == "" {
		c.Database.LogLevel = "error"
	}

	// ==== 分布式锁默认值 ====
	// TTL 在未启用分布式锁时同样生效：单实例的进程内锁也靠它防止死锁
	if c.DistributedLock.DefaultTTL <= 0 {
		c.DistributedLock.DefaultTTL = 30
	}
	if c.DistributedLock.Enabled {
		if c.DistributedLock.Type == "" {
			c.DistributedLock.Type = "redis"
		}
		if c.DistributedLock.Prefix == "" {
			c.DistributedLock.Prefix = "sigbridge:lock:"
		}
		if c.DistributedLock.Redis.Addr == "" {
			c.DistributedLock.Redis.Addr = "localhost:6379"
		}
		if c.DistributedLock.Redis.PoolSize <= 0 {
			c.DistributedLock.Redis.PoolSize = 10
		}
	}

	// ==== 系统默认值 ====
	if c.System.LogLevel == "" {
		c.System.LogLevel = "info"
	}
	if c.System.Timezone == "" {
		c.System.Timezone = "UTC"
	}

	return nil
}
