package config

import (
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds application configuration
type Config struct {
	Server    ServerConfig
	MongoDB   MongoDBConfig
	Redis     RedisConfig
	Keycloak  KeycloakConfig
	RateLimit RateLimitConfig
	Functions FunctionsConfig
	Routes    RoutesConfig
	Client    ClientConfig
}

type ServerConfig struct {
	Port         string
	Host         string
	Environment  string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	CookieSecure bool
}

type MongoDBConfig struct {
	URI      string
	Database string
	Timeout  time.Duration
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
	CacheTTL time.Duration
}

type KeycloakConfig struct {
	URL          string
	Realm        string
	ClientID     string
	ClientSecret string
	// AllowInsecure skips ID token signature checks (integration runs only).
	AllowInsecure bool
}

// Issuer returns the realm issuer URL, or URL itself when no realm is set.
func (k KeycloakConfig) Issuer() string {
	if k.Realm == "" {
		return strings.TrimRight(k.URL, "/")
	}
	return strings.TrimRight(k.URL, "/") + "/realms/" + k.Realm
}

// Addr returns host:port, or "" when Redis is not configured.
func (r RedisConfig) Addr() string {
	if r.Host == "" {
		return ""
	}
	return r.Host + ":" + r.Port
}

type RateLimitConfig struct {
	Enabled       bool
	UseRedis      bool
	RPS           float64
	Burst         int
	WindowSeconds int
}

type FunctionsConfig struct {
	BaseURL string
	Timeout time.Duration
}

// RoutesConfig drives the route guard. Path lists are prefixes.
type RoutesConfig struct {
	AuthRequired  []string
	AdminRequired []string
	LoginPath     string
	SignupPath    string
	HomePath      string
}

// ClientConfig describes the client environment the session manager runs for.
type ClientConfig struct {
	ShellEmbedded bool
	Timezone      string
}

// LoadConfig loads configuration from environment variables and .env file
func LoadConfig() (*Config, error) {
	_ = godotenv.Load(".env")

	viper.AutomaticEnv()

	viper.SetDefault("SERVER_PORT", "5002")
	viper.SetDefault("SERVER_HOST", "0.0.0.0")
	viper.SetDefault("SERVER_ENVIRONMENT", "development")
	viper.SetDefault("MONGODB_DATABASE", "stagepass")
	viper.SetDefault("MONGODB_TIMEOUT", 10)
	viper.SetDefault("REDIS_PORT", "6379")
	viper.SetDefault("REDIS_CACHE_TTL", 3600)
	viper.SetDefault("RATE_LIMIT_RPS", 20)
	viper.SetDefault("RATE_LIMIT_BURST", 40)
	viper.SetDefault("RATE_LIMIT_WINDOW_SECONDS", 1)
	viper.SetDefault("FUNCTIONS_TIMEOUT", 10)
	viper.SetDefault("ROUTES_AUTH_REQUIRED", "/account,/profile,/talent-pools,/events/manage")
	viper.SetDefault("ROUTES_ADMIN_REQUIRED", "/admin")
	viper.SetDefault("ROUTES_LOGIN_PATH", "/login")
	viper.SetDefault("ROUTES_SIGNUP_PATH", "/signup")
	viper.SetDefault("ROUTES_HOME_PATH", "/")

	cfg := &Config{
		Server: ServerConfig{
			Port:         viper.GetString("SERVER_PORT"),
			Host:         viper.GetString("SERVER_HOST"),
			Environment:  viper.GetString("SERVER_ENVIRONMENT"),
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			CookieSecure: viper.GetBool("SERVER_COOKIE_SECURE"),
		},
		MongoDB: MongoDBConfig{
			URI:      viper.GetString("MONGODB_URI"),
			Database: viper.GetString("MONGODB_DATABASE"),
			Timeout:  time.Duration(viper.GetInt("MONGODB_TIMEOUT")) * time.Second,
		},
		Redis: RedisConfig{
			Host:     viper.GetString("REDIS_HOST"),
			Port:     viper.GetString("REDIS_PORT"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       viper.GetInt("REDIS_DB"),
			CacheTTL: time.Duration(viper.GetInt("REDIS_CACHE_TTL")) * time.Second,
		},
		Keycloak: KeycloakConfig{
			URL:           viper.GetString("KEYCLOAK_URL"),
			Realm:         viper.GetString("KEYCLOAK_REALM"),
			ClientID:      viper.GetString("KEYCLOAK_CLIENT_ID"),
			ClientSecret:  viper.GetString("KEYCLOAK_CLIENT_SECRET"),
			AllowInsecure: strings.EqualFold(strings.TrimSpace(viper.GetString("ALLOW_INSECURE_TOKEN")), "true"),
		},
		RateLimit: RateLimitConfig{
			Enabled:       viper.GetBool("RATE_LIMIT_ENABLED"),
			UseRedis:      viper.GetBool("RATE_LIMIT_USE_REDIS"),
			RPS:           viper.GetFloat64("RATE_LIMIT_RPS"),
			Burst:         viper.GetInt("RATE_LIMIT_BURST"),
			WindowSeconds: viper.GetInt("RATE_LIMIT_WINDOW_SECONDS"),
		},
		Functions: FunctionsConfig{
			BaseURL: strings.TrimRight(viper.GetString("FUNCTIONS_URL"), "/"),
			Timeout: time.Duration(viper.GetInt("FUNCTIONS_TIMEOUT")) * time.Second,
		},
		Routes: RoutesConfig{
			AuthRequired:  splitList(viper.GetString("ROUTES_AUTH_REQUIRED")),
			AdminRequired: splitList(viper.GetString("ROUTES_ADMIN_REQUIRED")),
			LoginPath:     viper.GetString("ROUTES_LOGIN_PATH"),
			SignupPath:    viper.GetString("ROUTES_SIGNUP_PATH"),
			HomePath:      viper.GetString("ROUTES_HOME_PATH"),
		},
		Client: ClientConfig{
			ShellEmbedded: viper.GetBool("SHELL_EMBEDDED"),
			Timezone:      viper.GetString("CLIENT_TIMEZONE"),
		},
	}

	// Basic validation
	if cfg.Keycloak.URL == "" {
		log.Println("WARNING: KEYCLOAK_URL is not set; using the in-memory identity source")
	}
	if cfg.MongoDB.URI == "" {
		log.Println("WARNING: MONGODB_URI is not set; profiles are kept in memory")
	}

	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
