package lock

import (
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config 锁配置
type Config struct {
	Enabled    bool // 是否启用跨进程锁（未启用时退化为进程内锁）
	Type       string
	Prefix     string
	DefaultTTL time.Duration
	Redis      RedisConfig
}

// RedisConfig Redis 配置
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
}

// NewDistributedLock 根据配置创建锁实例
// 未启用跨进程锁时返回进程内锁：单实例部署下按品种互斥依然成立
func NewDistributedLock(config *Config) (DistributedLock, error) {
	if !config.Enabled {
		return NewMemoryLock(), nil
	}

	switch config.Type {
	case "memory":
		return NewMemoryLock(), nil

	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     config.Redis.Addr,
			Password: config.Redis.Password,
			DB:       config.Redis.DB,
			PoolSize: config.Redis.PoolSize,
		})
		return NewRedisLock(client, config.Prefix), nil

	default:
		return nil, fmt.Errorf("unsupported lock type: %s", config.Type)
	}
}
