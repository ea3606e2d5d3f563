package bridge

// RedisConfig holds connection settings for the Redis pub/sub relay.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`     // Redis address, default "localhost:6379"
	Password string `mapstructure:"password"` // Redis password, default ""
	DB       int    `mapstructure:"db"`       // Redis database number, default 0
	Prefix   string `mapstructure:"prefix"`   // Channel prefix, default "playsync:ws:"
}

// DefaultRedisConfig returns a RedisConfig with sensible defaults.
func DefaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		Addr:   "localhost:6379",
		Prefix: "playsync:ws:",
	}
}
