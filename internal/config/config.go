// Package config loads application configuration from the environment.
package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all runtime configuration values of the server.
type Config struct {
	Env        string // application environment (dev, prod)
	Port       string // HTTP port to listen on
	DBUser     string
	DBPass     string // may be empty
	DBHost     string
	DBPort     string
	DBName     string
	JWTSecret  string // HS256 secret shared with the auth service
	AMQPURL    string // empty disables publishing and consuming
	BookingLog string // consumer's append-only booking log
	SeatLock   SeatLockConfig
}

// SeatLockConfig tunes the lock coordinator and the room channel.
type SeatLockConfig struct {
	LockTTL        time.Duration
	SweepInterval  time.Duration
	SessionTimeout time.Duration
	OutboxSize     int
	AllowedOrigins []string // empty allows any origin
}

// Load reads a .env file when one exists and then the environment.
// Missing required variables abort the program.
func Load() Config {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("config: .env not loaded: %v", err)
	}
	return Config{
		Env:        envStr("APP_ENV", "dev"),
		Port:       strconv.Itoa(mustInt("APP_PORT")),
		DBUser:     must("DB_USER"),
		DBPass:     os.Getenv("DB_PASS"),
		DBHost:     must("DB_HOST"),
		DBPort:     must("DB_PORT"),
		DBName:     must("DB_NAME"),
		JWTSecret:  must("JWT_SECRET"),
		AMQPURL:    envStr("RABBITMQ_URL", os.Getenv("AMQP_URL")),
		BookingLog: envStr("BOOKING_LOG", "logs/booking.log"),
		SeatLock:   LoadSeatLockConfig(),
	}
}

// LoadSeatLockConfig reads the LOCK_*, SESSION_* and WS_* variables.
func LoadSeatLockConfig() SeatLockConfig {
	cfg := SeatLockConfig{
		LockTTL:        envDur("LOCK_TTL", 5*time.Minute),
		SweepInterval:  envDur("LOCK_SWEEP_INTERVAL", time.Second),
		SessionTimeout: envDur("SESSION_TIMEOUT", 30*time.Second),
		OutboxSize:     envInt("SESSION_OUTBOX", 64),
		AllowedOrigins: splitList(os.Getenv("WS_ALLOWED_ORIGINS")),
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 5 * time.Minute
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Second
	}
	if cfg.OutboxSize < 1 {
		cfg.OutboxSize = 64
	}
	return cfg
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

// must retrieves the value of a required environment variable and exits
// when it is unset or empty.
func must(key string) string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		log.Fatalf("missing required env var: %s", key)
	}
	return v
}

// mustInt is like must but converts the value into an integer.
func mustInt(key string) int {
	s := must(key)
	n, err := strconv.Atoi(s)
	if err != nil {
		log.Fatalf("invalid int for %s: %q", key, s)
	}
	return n
}
