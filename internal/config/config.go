package config

import (
	"log"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Tables struct {
	Schema string
	Orders string
	Menu   string
}

type Kafka struct {
	Brokers []string
	Topic   string
	Group   string
	Workers int
}

// DeadLetterTopic is where messages go once they exhaust their attempts.
func (k Kafka) DeadLetterTopic() string { return k.Topic + ".dlq" }

type Queue struct {
	MaxAttempts       int
	VisibilityTimeout time.Duration
	RetryBase         time.Duration
	RetryMax          time.Duration
}

type Postgres struct {
	Host     string
	Port     string
	DB       string
	User     string
	Password string
	SSLMode  string
}

type Provider struct {
	ClientID     string
	ClientSecret string
	AuthURL      string
	APIURL       string
	Scopes       []string
	SafetyMargin time.Duration
	Timeout      time.Duration
}

type Webhook struct {
	Secret        string
	IngestTimeout time.Duration
}

type Publish struct {
	URL           string
	APIKey        string
	SigningSecret string
	Timeout       time.Duration
}

type Breaker struct {
	Threshold   uint32
	OpenTimeout time.Duration
	MaxHalfOpen uint32
}

type Retry struct {
	Attempts     int
	Base         time.Duration
	Max          time.Duration
	JitterFactor float64
}

type Config struct {
	HTTPAddr      string
	LogLevel      string
	CacheCap      int
	CacheTTL      time.Duration
	MenuCacheSize int
	MenuFile      string
	RedisURL      string

	Pg       Postgres
	Tables   Tables
	Kafka    Kafka
	Queue    Queue
	Provider Provider
	Webhook  Webhook
	Publish  Publish
	Breaker  Breaker
	Retry    Retry
}

// Load fatals on error for simplicity in main().
func Load() Config {
	cfg, err := load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}
	return cfg
}

func load() (Config, error) {
	_ = godotenv.Load("env/.env")

	clientSecret := strings.TrimSpace(os.Getenv("UBER_CLIENT_SECRET"))

	cfg := Config{
		HTTPAddr:      envDefault("HTTP_ADDR", ":8081"),
		LogLevel:      envDefault("LOG_LEVEL", "info"),
		CacheCap:      envInt("CACHE_CAP", 1000),
		CacheTTL:      envDurationMS("CACHE_TTL", 30*time.Second),
		MenuCacheSize: envInt("MENU_CACHE_SIZE", 512),
		MenuFile:      strings.TrimSpace(os.Getenv("MENU_FILE")),
		RedisURL:      strings.TrimSpace(os.Getenv("REDIS_URL")),

		Pg: Postgres{
			Host:     strings.TrimSpace(os.Getenv("PG_HOST")),
			Port:     strings.TrimSpace(envDefault("PG_PORT", "5432")),
			DB:       strings.TrimSpace(os.Getenv("PG_DB")),
			User:     strings.TrimSpace(os.Getenv("PG_USER")),
			Password: strings.TrimSpace(os.Getenv("PG_PASSWORD")),
			SSLMode:  strings.TrimSpace(envDefault("PG_SSLMODE", "disable")),
		},

		Tables: Tables{
			Schema: envDefault("DB_SCHEMA", "public"),
			Orders: envDefault("TBL_ORDERS", "orders"),
			Menu:   envDefault("TBL_MENU", "menu_items"),
		},

		Kafka: Kafka{
			Brokers: splitCSV(strings.TrimSpace(os.Getenv("KAFKA_BROKERS"))),
			Topic:   envDefault("KAFKA_TOPIC", "ubereats.orders"),
			Group:   envDefault("KAFKA_GROUP", "prepdeck-workers"),
			Workers: envInt("KAFKA_WORKERS", 4),
		},

		Queue: Queue{
			MaxAttempts:       envInt("QUEUE_MAX_ATTEMPTS", 5),
			VisibilityTimeout: envDurationMS("QUEUE_VISIBILITY_TIMEOUT", 60*time.Second),
			RetryBase:         envDurationMS("QUEUE_RETRY_BASE", 2*time.Second),
			RetryMax:          envDurationMS("QUEUE_RETRY_MAX", 2*time.Minute),
		},

		Provider: Provider{
			ClientID:     strings.TrimSpace(os.Getenv("UBER_CLIENT_ID")),
			ClientSecret: clientSecret,
			AuthURL:      envDefault("UBER_AUTH_URL", "https://auth.uber.com/oauth/v2/token"),
			APIURL:       strings.TrimRight(envDefault("UBER_API_URL", "https://api.uber.com"), "/"),
			Scopes:       strings.Fields(envDefault("UBER_SCOPES", "eats.order eats.store")),
			SafetyMargin: envDurationMS("TOKEN_SAFETY_MARGIN", 5*time.Minute),
			Timeout:      envDurationMS("PROVIDER_TIMEOUT", 10*time.Second),
		},

		Webhook: Webhook{
			// The provider signs webhooks with the app's client secret.
			Secret:        envDefault("WEBHOOK_SECRET", clientSecret),
			IngestTimeout: envDurationMS("INGEST_TIMEOUT", 3*time.Second),
		},

		Publish: Publish{
			URL:           strings.TrimSpace(os.Getenv("PUBLISH_URL")),
			APIKey:        strings.TrimSpace(os.Getenv("PUBLISH_API_KEY")),
			SigningSecret: strings.TrimSpace(os.Getenv("PUBLISH_SIGNING_SECRET")),
			Timeout:       envDurationMS("PUBLISH_TIMEOUT", 10*time.Second),
		},

		Breaker: Breaker{
			Threshold:   envUint32("BREAKER_THRESHOLD", 5),
			OpenTimeout: envDurationMS("BREAKER_OPENTIMEOUT", 10*time.Second),
			MaxHalfOpen: envUint32("BREAKER_MAXHALFOPEN", 3),
		},

		Retry: Retry{
			Attempts:     envInt("RETRY_ATTEMPTS", 5),
			Base:         envDurationMS("RETRY_BASE", 100*time.Millisecond),
			Max:          envDurationMS("RETRY_MAX", 5*time.Second),
			JitterFactor: envFloat64("RETRY_JITTERFACTOR", 0.3),
		},
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	var missing []string
	req := map[string]string{
		"PG_HOST":            c.Pg.Host,
		"PG_DB":              c.Pg.DB,
		"PG_USER":            c.Pg.User,
		"PG_PASSWORD":        c.Pg.Password,
		"KAFKA_BROKERS":      strings.Join(c.Kafka.Brokers, ","),
		"UBER_CLIENT_ID":     c.Provider.ClientID,
		"UBER_CLIENT_SECRET": c.Provider.ClientSecret,
		"PUBLISH_URL":        c.Publish.URL,
	}
	for k, v := range req {
		if strings.TrimSpace(v) == "" {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		return &missingEnvError{Keys: missing}
	}

	if c.CacheCap <= 0 {
		log.Printf("CACHE_CAP is %d, adjusting to 1", c.CacheCap)
	}
	if c.Queue.MaxAttempts < 1 {
		log.Printf("QUEUE_MAX_ATTEMPTS is %d, adjusting to 1", c.Queue.MaxAttempts)
	}
	if c.Retry.Max < c.Retry.Base {
		log.Printf("RETRY_MAX (%v) < RETRY_BASE (%v), adjusting max to base", c.Retry.Max, c.Retry.Base)
	}
	return nil
}

// Normalized applies the adjustments validate() announces.
func (c Config) Normalized() Config {
	if c.CacheCap <= 0 {
		c.CacheCap = 1
	}
	if c.MenuCacheSize <= 0 {
		c.MenuCacheSize = 1
	}
	if c.Kafka.Workers < 1 {
		c.Kafka.Workers = 1
	}
	if c.Queue.MaxAttempts < 1 {
		c.Queue.MaxAttempts = 1
	}
	if c.Retry.Attempts < 0 {
		c.Retry.Attempts = 0
	}
	if c.Retry.Base <= 0 {
		c.Retry.Base = 100 * time.Millisecond
	}
	if c.Retry.Max < c.Retry.Base {
		c.Retry.Max = c.Retry.Base
	}
	return c
}

type missingEnvError struct{ Keys []string }

func (e *missingEnvError) Error() string {
	return "missing required envs: " + strings.Join(e.Keys, ", ")
}

// DSN builds a proper Postgres URL, safely escaping user/pass and query.
func (c Config) DSN() string {
	u := &url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.Pg.User, c.Pg.Password),
		Host:   net.JoinHostPort(c.Pg.Host, c.Pg.Port),
		Path:   "/" + c.Pg.DB,
	}
	q := url.Values{}
	if c.Pg.SSLMode != "" {
		q.Set("sslmode", c.Pg.SSLMode)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func envDefault(k, def string) string {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v
	}
	return def
}

func envInt(k string, def int) int {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("invalid %s=%q, using default %d: %v", k, v, def, err)
		return def
	}
	return n
}

func envUint32(k string, def uint32) uint32 {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	u, err := strconv.ParseUint(v, 10, 32)
	if err != nil {
		log.Printf("invalid %s=%q, using default %d: %v", k, v, def, err)
		return def
	}
	return uint32(u)
}

func envFloat64(k string, def float64) float64 {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		log.Printf("invalid %s=%q, using default %.3f: %v", k, v, def, err)
		return def
	}
	return f
}

// envDurationMS supports either plain integer milliseconds ("1500") or
// Go duration strings ("1.5s", "250ms", "2m").
func envDurationMS(k string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	if strings.IndexFunc(v, func(r rune) bool { return r < '0' || r > '9' }) != -1 {
		d, err := time.ParseDuration(v)
		if err != nil {
			log.Printf("invalid %s=%q, using default %v: %v", k, v, def, err)
			return def
		}
		return d
	}
	ms, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("invalid %s=%q, using default %v: %v", k, v, def, err)
		return def
	}
	return time.Duration(ms) * time.Millisecond
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	raw := strings.Split(s, ",")
	out := make([]string, 0, len(raw))
	for _, p := range raw {
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}
