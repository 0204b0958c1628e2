package boot

import (
	"context"
	"fmt"
	"time"

	"github.com/sethvargo/go-envconfig"
)

type Config struct {
	Env            string        `env:"ENV,default=dev"`
	ListenAddress  string        `env:"LISTEN_ADDR,default=:8080"`
	MetricsAddress string        `env:"METRICS_ADDR,default=:8081"`
	DatabasePath   string        `env:"DB_PATH,default=memberd.db"`
	BaseURL        string        `env:"BASE_URL,default=http://localhost:8080"`
	SessionKeyFile string        `env:"SESSION_KEY_FILE"`
	SessionTTL     time.Duration `env:"SESSION_TTL,default=72h"`
	UserCacheSize  int           `env:"USER_CACHE_SIZE,default=100"`
	PageCacheSize  int           `env:"PAGE_CACHE_SIZE,default=5"`
}

func Load() (Config, error) {
	config := Config{}
	if err := envconfig.Process(context.Background(), &config); err != nil {
		return Config{}, fmt.Errorf("parsing env vars: %w", err)
	}
	return config, nil
}

func (c Config) IsDevelopment() bool {
	return c.Env == "dev"
}
