// Package config loads the operator process settings from the environment,
// reading a .env file first when one exists.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Wyydra/vetcall/internal/core/domain"
	"github.com/joho/godotenv"
)

type Config struct {
	Server    ServerConfig
	Signaling SignalingConfig
	Operator  OperatorConfig
	Log       LogConfig
	Media     MediaConfig
	Call      CallConfig
}

type ServerConfig struct {
	Addr string
}

type SignalingConfig struct {
	URL               string
	ReconnectAttempts int
	ReconnectDelay    time.Duration
}

type OperatorConfig struct {
	ID   domain.OperatorID
	Role string
}

type LogConfig struct {
	Level  string
	Format string // console or json
}

type MediaConfig struct {
	Backend    string // pion or memory
	ICEServers []string
	TURNURLs   []string
	TURNUser   string
	TURNCred   string
	RelayOnly  bool
}

type CallConfig struct {
	NegotiationTimeout time.Duration
	ReconnectBackoff   time.Duration
	MaxRetries         int
	BillingAmount      float64
	BillingReason      string
}

const (
	BackendPion   = "pion"
	BackendMemory = "memory"
)

var defaultSTUN = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
	"stun:stun2.l.google.com:19302",
	"stun:stun3.l.google.com:19302",
	"stun:stun4.l.google.com:19302",
}

// Load builds the Config. A missing .env file is not an error.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return fromEnv()
}

func fromEnv() (*Config, error) {
	operatorID := getEnv("OPERATOR_ID", "")
	if operatorID == "" {
		return nil, errors.New("OPERATOR_ID environment variable is required")
	}

	attempts, err := strconv.Atoi(getEnv("CHANNEL_RECONNECT_ATTEMPTS", "5"))
	if err != nil {
		return nil, fmt.Errorf("invalid CHANNEL_RECONNECT_ATTEMPTS: %w", err)
	}
	delay, err := time.ParseDuration(getEnv("CHANNEL_RECONNECT_DELAY", "1s"))
	if err != nil {
		return nil, fmt.Errorf("invalid CHANNEL_RECONNECT_DELAY: %w", err)
	}
	timeout, err := time.ParseDuration(getEnv("NEGOTIATION_TIMEOUT", "25s"))
	if err != nil {
		return nil, fmt.Errorf("invalid NEGOTIATION_TIMEOUT: %w", err)
	}
	backoff, err := time.ParseDuration(getEnv("RECONNECT_BACKOFF", "2s"))
	if err != nil {
		return nil, fmt.Errorf("invalid RECONNECT_BACKOFF: %w", err)
	}
	retries, err := strconv.Atoi(getEnv("MAX_RETRIES", strconv.Itoa(domain.DefaultMaxRetries)))
	if err != nil {
		return nil, fmt.Errorf("invalid MAX_RETRIES: %w", err)
	}
	if retries < 0 {
		return nil, fmt.Errorf("invalid MAX_RETRIES: %d is negative", retries)
	}
	relayOnly, err := strconv.ParseBool(getEnv("ICE_RELAY_ONLY", "false"))
	if err != nil {
		return nil, fmt.Errorf("invalid ICE_RELAY_ONLY: %w", err)
	}

	// An unparsable amount falls back to the default, as the billing form does.
	amount, err := strconv.ParseFloat(getEnv("DEFAULT_BILLING_AMOUNT", ""), 64)
	if err != nil || amount <= 0 {
		amount = domain.DefaultBillingAmount
	}

	backend := getEnv("MEDIA_BACKEND", BackendPion)
	if backend != BackendPion && backend != BackendMemory {
		return nil, fmt.Errorf("invalid MEDIA_BACKEND: %q", backend)
	}

	format := getEnv("LOG_FORMAT", "console")
	if format != "console" && format != "json" {
		return nil, fmt.Errorf("invalid LOG_FORMAT: %q", format)
	}

	cfg := &Config{
		Server: ServerConfig{
			Addr: getEnv("HTTP_ADDR", ":8080"),
		},
		Signaling: SignalingConfig{
			URL:               getEnv("SIGNALING_URL", "ws://localhost:3001/ws"),
			ReconnectAttempts: attempts,
			ReconnectDelay:    delay,
		},
		Operator: OperatorConfig{
			ID:   domain.OperatorID(operatorID),
			Role: getEnv("OPERATOR_ROLE", "operator"),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: format,
		},
		Media: MediaConfig{
			Backend:    backend,
			ICEServers: splitList(getEnv("ICE_SERVERS", strings.Join(defaultSTUN, ","))),
			TURNURLs:   splitList(getEnv("TURN_URLS", "")),
			TURNUser:   getEnv("TURN_USERNAME", ""),
			TURNCred:   getEnv("TURN_CREDENTIAL", ""),
			RelayOnly:  relayOnly,
		},
		Call: CallConfig{
			NegotiationTimeout: timeout,
			ReconnectBackoff:   backoff,
			MaxRetries:         retries,
			BillingAmount:      amount,
			BillingReason:      getEnv("DEFAULT_BILLING_REASON", domain.DefaultBillingReason),
		},
	}
	return cfg, nil
}

// LinkConfig turns the ICE settings into the peer link configuration.
func (c MediaConfig) LinkConfig() domain.LinkConfig {
	link := domain.DefaultLinkConfig()
	link.ICEServers = nil
	if len(c.ICEServers) > 0 {
		link.ICEServers = append(link.ICEServers, domain.ICEServer{URLs: c.ICEServers})
	}
	if len(c.TURNURLs) > 0 {
		link.ICEServers = append(link.ICEServers, domain.ICEServer{
			URLs:       c.TURNURLs,
			Username:   c.TURNUser,
			Credential: c.TURNCred,
		})
	}
	link.RelayOnly = c.RelayOnly
	return link
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
