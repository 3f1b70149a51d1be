// Package config holds application configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds application configuration.
type Config struct {
	DatabaseURL string        `env:"DATABASE_URL"`
	HTTPTimeout time.Duration `env:"HTTP_TIMEOUT" envDefault:"10s"`
	ShopsFile   string        `env:"SHOPS_FILE" envDefault:"shops.yaml"`

	Ingest   Ingest
	RabbitMQ RabbitMQ
}

// Ingest holds run orchestration configuration.
type Ingest struct {
	Concurrency        int           `env:"INGEST_CONCURRENCY" envDefault:"4"`
	PerShopConcurrency int           `env:"INGEST_PER_SHOP_CONCURRENCY" envDefault:"1"`
	UnitTimeout        time.Duration `env:"INGEST_UNIT_TIMEOUT" envDefault:"2m"`
	Interval           time.Duration `env:"INGEST_INTERVAL" envDefault:"30m"`
	RetryAttempts      int           `env:"INGEST_RETRY_ATTEMPTS" envDefault:"3"`
	RetryBaseDelay     time.Duration `env:"INGEST_RETRY_BASE_DELAY" envDefault:"500ms"`
	RetryMultiplier    float64       `env:"INGEST_RETRY_MULTIPLIER" envDefault:"2"`
}

// RabbitMQ holds RabbitMQ configuration.
type RabbitMQ struct {
	URL              string `env:"RABBITMQ_URL"`
	Exchange         string `env:"RABBITMQ_EXCHANGE" envDefault:"dealpool-ex"`
	Queue            string `env:"RABBITMQ_QUEUE" envDefault:"dealpool-ingest.commands"`
	ReportRoutingKey string `env:"RABBITMQ_REPORT_ROUTING_KEY" envDefault:"dealpool-ingest.reports"`
}

// Adapter kinds accepted in the shops file.
const (
	KindAPI    = "api"
	KindScrape = "scrape"
)

// Shop describes one shop source from the shops file.
type Shop struct {
	Slug              string            `yaml:"slug"`
	Kind              string            `yaml:"kind"`
	BaseURL           string            `yaml:"base_url"`
	ClientID          string            `yaml:"client_id"`
	ClientSecret      string            `yaml:"client_secret"`
	PageSize          int               `yaml:"page_size"`
	MaxPages          int               `yaml:"max_pages"`
	RequestsPerSecond float64           `yaml:"requests_per_second"`
	CategoryLabels    map[string]string `yaml:"category_labels"`
}

type shopsFile struct {
	Shops []Shop `yaml:"shops"`
}

// LoadShops reads and validates shop source definitions from a YAML file.
func LoadShops(path string) ([]Shop, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("can't read shops file: %w", err)
	}

	var file shopsFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("can't parse shops file: %w", err)
	}
	if len(file.Shops) == 0 {
		return nil, fmt.Errorf("shops file %q defines no shops", path)
	}

	seen := make(map[string]struct{}, len(file.Shops))
	for _, shop := range file.Shops {
		if shop.Slug == "" {
			return nil, fmt.Errorf("shops file %q has a shop without a slug", path)
		}
		if _, ok := seen[shop.Slug]; ok {
			return nil, fmt.Errorf("duplicated shop slug %q", shop.Slug)
		}
		seen[shop.Slug] = struct{}{}

		if shop.BaseURL == "" {
			return nil, fmt.Errorf("shop %q has no base_url", shop.Slug)
		}
		if shop.Kind != KindAPI && shop.Kind != KindScrape {
			return nil, fmt.Errorf("shop %q has unknown kind %q", shop.Slug, shop.Kind)
		}
	}

	return file.Shops, nil
}
