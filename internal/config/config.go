package config // package config loads application configuration from environment variables

import (
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all runtime configuration values.  Each field corresponds to
// an environment variable.
type Config struct {
	Env     string // application environment (e.g. "dev", "prod")
	Port    string // HTTP port to listen on
	SiteURL string // public origin of this site, used for magic-link redirects

	// Hosted auth service.  These two are deliberately not enforced here:
	// authclient.New reports their absence with a descriptive error.
	ServiceURL string // SUPABASE_URL
	AnonKey    string // SUPABASE_ANON_KEY

	DBUser string // database username
	DBPass string // database password (optional)
	DBHost string // database host address
	DBPort string // database port number
	DBName string // database name

	Cookie        CookieConfig
	AuditConsumer bool // run the RabbitMQ audit log consumer in-process
}

// CookieConfig is the option set applied to session cookies.
type CookieConfig struct {
	Domain   string
	Secure   bool
	SameSite http.SameSite
	MaxAge   time.Duration
}

// Load reads configuration values from environment variables and returns a
// Config.  A .env file in the working directory is loaded first when
// present; real environment variables win over it.  Required database
// variables are enforced by must() and missing values cause the program to
// exit with a fatal log message.
func Load() Config {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("config: ignoring unreadable .env: %v", err)
	}
	env := envStr("APP_ENV", "dev")
	return Config{
		Env:        env,
		Port:       envStr("APP_PORT", "8080"),
		SiteURL:    strings.TrimSuffix(envStr("SITE_URL", "http://localhost:8080"), "/"),
		ServiceURL: os.Getenv("SUPABASE_URL"),
		AnonKey:    os.Getenv("SUPABASE_ANON_KEY"),
		DBUser:     must("DB_USER"),
		DBPass:     os.Getenv("DB_PASS"),
		DBHost:     must("DB_HOST"),
		DBPort:     must("DB_PORT"),
		DBName:     must("DB_NAME"),
		Cookie: CookieConfig{
			Domain:   os.Getenv("COOKIE_DOMAIN"),
			Secure:   envBool("COOKIE_SECURE", env != "dev"),
			SameSite: parseSameSite(envStr("COOKIE_SAMESITE", "lax")),
			MaxAge:   envDur("COOKIE_MAX_AGE", 7*24*time.Hour),
		},
		AuditConsumer: envBool("AUDIT_CONSUMER", false),
	}
}

func parseSameSite(s string) http.SameSite {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteLaxMode
	}
}

// must retrieves the value of a required environment variable.  If the
// variable is unset or empty, the application logs a fatal error and exits.
func must(key string) string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		log.Fatalf("missing required env var: %s", key)
	}
	return v
}
