package config

import (
	"testing"
)

func createValidConfig() *Config {
	cfg := &Config{}
	cfg.App.Venue = "binance"
	cfg.Exchanges = make(map[string]ExchangeConfig)
	cfg.Exchanges["binance"] = ExchangeConfig{
		APIKey:    "test_key",
		SecretKey: "test_secret",
	}
	cfg.Trading.Enabled = true
	cfg.Trading.DefaultNotionalUSDT = 100.0
	cfg.Webhook.Enabled = true
	return cfg
}

func TestConfigValidate(t *testing.T) {
	// 有效配置
	cfg := createValidConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("有效配置验证失败: %v", err)
	}

	// 缺失交易所
	invalidCfg1 := createValidConfig()
	invalidCfg1.App.Venue = ""
	if err := invalidCfg1.Validate(); err == nil {
		t.Error("未指定交易所应该报错")
	}

	// 实盘缺 API 密钥
	invalidCfg2 := createValidConfig()
	invalidCfg2.Exchanges["binance"] = ExchangeConfig{}
	if err := invalidCfg2.Validate(); err == nil {
		t.Error("实盘模式缺少 API 密钥应该报错")
	}

	// 干跑模式允许缺 API 密钥
	dryCfg := createValidConfig()
	dryCfg.Trading.DryRun = true
	dryCfg.Exchanges["binance"] = ExchangeConfig{}
	if err := dryCfg.Validate(); err != nil {
		t.Errorf("干跑模式不应要求 API 密钥: %v", err)
	}

	// 无效的保证金模式
	invalidCfg3 := createValidConfig()
	invalidCfg3.Trading.MarginMode = "hedged"
	if err := invalidCfg3.Validate(); err == nil {
		t.Error("不支持的保证金模式应该报错")
	}

	// 邮箱监听启用但凭据不完整
	invalidCfg4 := createValidConfig()
	invalidCfg4.Mail.Enabled = true
	if err := invalidCfg4.Validate(); err == nil {
		t.Error("邮箱监听缺少凭据应该报错")
	}
}

func TestConfigDefaults(t *testing.T) {
	cfg := createValidConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}

	if cfg.Trading.CooldownSeconds != 300 {
		t.Errorf("期望默认冷却时间为300秒, 得到 %d", cfg.Trading.CooldownSeconds)
	}
	if cfg.Trading.StalenessHours != 48 {
		t.Errorf("期望默认新鲜度阈值为48小时, 得到 %d", cfg.Trading.StalenessHours)
	}
	if cfg.Trading.GatewayTimeoutSec != 10 {
		t.Errorf("期望默认网关超时为10秒, 得到 %d", cfg.Trading.GatewayTimeoutSec)
	}
	if cfg.Trading.MarginMode != "cross" {
		t.Errorf("期望默认保证金模式为 cross, 得到 %s", cfg.Trading.MarginMode)
	}
	if cfg.Webhook.Port != 8080 {
		t.Errorf("期望默认端口为8080, 得到 %d", cfg.Webhook.Port)
	}
	if cfg.Webhook.RatePerMinute != 60 {
		t.Errorf("期望默认限流为60/分钟, 得到 %d", cfg.Webhook.RatePerMinute)
	}
	if cfg.Dedup.Path != "./data/signals.db" {
		t.Errorf("期望默认去重库路径, 得到 %s", cfg.Dedup.Path)
	}
	if cfg.Database.Type != "sqlite" {
		t.Errorf("期望默认数据库类型为 sqlite, 得到 %s", cfg.Database.Type)
	}
	// 未启用分布式锁时 TTL 也必须回填：进程内锁同样依赖它
	if cfg.DistributedLock.Enabled {
		t.Fatal("测试配置不应启用分布式锁")
	}
	if cfg.DistributedLock.DefaultTTL != 30 {
		t.Errorf("期望默认锁 TTL 为30秒, 得到 %d", cfg.DistributedLock.DefaultTTL)
	}
}

func TestLoadConfigFromBytes(t *testing.T) {
	yamlData := `
app:
  venue: "binance"
exchanges:
  binance:
    api_key: "key"
    secret_key: "secret"
trading:
  enabled: true
  default_notional_usdt: 500
  cooldown_seconds: 120
  symbol_map:
    "BINANCE:BTCUSDT.P": "BTCUSDT"
webhook:
  enabled: true
  port: 9000
  secret: "s3cr3t"
`
	cfg, err := LoadConfigFromBytes([]byte(yamlData))
	if err != nil {
		t.Fatalf("加载配置失败: %v", err)
	}

	if cfg.Trading.DefaultNotionalUSDT != 500 {
		t.Errorf("名义金额解析错误: %.2f", cfg.Trading.DefaultNotionalUSDT)
	}
	if cfg.Trading.CooldownSeconds != 120 {
		t.Errorf("冷却时间解析错误: %d", cfg.Trading.CooldownSeconds)
	}
	if cfg.Webhook.Port != 9000 {
		t.Errorf("端口解析错误: %d", cfg.Webhook.Port)
	}
	if got := cfg.Trading.SymbolMap["BINANCE:BTCUSDT.P"]; got != "BTCUSDT" {
		t.Errorf("符号映射解析错误: %s", got)
	}
	// 未设置的项应回填默认值
	if cfg.Trading.StalenessHours != 48 {
		t.Errorf("默认新鲜度阈值未回填: %d", cfg.Trading.StalenessHours)
	}
}

func TestLoadConfigInvalidYAML(t *testing.T) {
	_, err := LoadConfigFromBytes([]byte("app: [broken"))
	if err == nil {
		t.Error("非法 YAML 应该报错")
	}
}
