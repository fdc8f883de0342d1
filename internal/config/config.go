package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"

	"vitalguard/internal/model"
)

type Config struct {
	LogLevel   string           `json:"log_level" yaml:"log_level"`
	Ingest     IngestConfig     `json:"ingest" yaml:"ingest"`
	Detection  DetectionConfig  `json:"detection" yaml:"detection"`
	Escalation EscalationConfig `json:"escalation" yaml:"escalation"`
	Cooldown   CooldownConfig   `json:"cooldown" yaml:"cooldown"`
	Access     AccessConfig     `json:"access" yaml:"access"`
	Stream     StreamConfig     `json:"stream" yaml:"stream"`
	API        APIConfig        `json:"api" yaml:"api"`
	Storage    StorageConfig    `json:"storage" yaml:"storage"`
	Audit      AuditConfig      `json:"audit" yaml:"audit"`
	Alerts     AlertsConfig     `json:"alerts" yaml:"alerts"`
}

type IngestConfig struct {
	ChannelBuffer int         `json:"channel_buffer" yaml:"channel_buffer"`
	REST          RESTConfig  `json:"rest" yaml:"rest"`
	Kafka         KafkaConfig `json:"kafka" yaml:"kafka"`
}

type RESTConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

type KafkaConfig struct {
	Enabled bool     `json:"enabled" yaml:"enabled"`
	Brokers []string `json:"brokers" yaml:"brokers"`
	Topic   string   `json:"topic" yaml:"topic"`
	GroupID string   `json:"group_id" yaml:"group_id"`
}

// DetectionConfig holds the vital thresholds and point breakpoints the
// scorer evaluates. These are product-tuning constants; change with care.
type DetectionConfig struct {
	SpO2Min              float64 `json:"spo2_min" yaml:"spo2_min"`
	HeartRateMax         float64 `json:"heart_rate_max" yaml:"heart_rate_max"`
	SustainedHRThreshold float64 `json:"sustained_hr_threshold" yaml:"sustained_hr_threshold"`
	SustainedSpikeCount  int     `json:"sustained_spike_count" yaml:"sustained_spike_count"`
	ActivityMin          float64 `json:"activity_min" yaml:"activity_min"`
	RecoveryMin          float64 `json:"recovery_min" yaml:"recovery_min"`
	Tier1Points          int     `json:"tier1_points" yaml:"tier1_points"`
	Tier2Points          int     `json:"tier2_points" yaml:"tier2_points"`
	Tier3Points          int     `json:"tier3_points" yaml:"tier3_points"`
	MinSamples           int     `json:"min_samples" yaml:"min_samples"`
	HistorySize          int     `json:"history_size" yaml:"history_size"`
}

type EscalationConfig struct {
	FiredWindow       time.Duration `json:"fired_window" yaml:"fired_window"`
	AwaitingAckWindow time.Duration `json:"awaiting_ack_window" yaml:"awaiting_ack_window"`
	EscalatedWindow   time.Duration `json:"escalated_window" yaml:"escalated_window"`
	ReviewWindow      time.Duration `json:"review_window" yaml:"review_window"`
	TickInterval      time.Duration `json:"tick_interval" yaml:"tick_interval"`
	UrgencyCap        int           `json:"urgency_cap" yaml:"urgency_cap"`
	SubscriberGrace   time.Duration `json:"subscriber_grace" yaml:"subscriber_grace"`
}

// CooldownConfig gives each tier its re-fire suppression window. Higher
// tiers cool down faster so critical episodes can re-fire sooner.
type CooldownConfig struct {
	Tier1 time.Duration `json:"tier1" yaml:"tier1"`
	Tier2 time.Duration `json:"tier2" yaml:"tier2"`
	Tier3 time.Duration `json:"tier3" yaml:"tier3"`
}

func (c CooldownConfig) For(tier model.Tier) time.Duration {
	switch tier {
	case model.TierLow:
		return c.Tier1
	case model.TierModerate:
		return c.Tier2
	case model.TierCritical:
		return c.Tier3
	}
	return 0
}

type AccessConfig struct {
	Assignments map[string][]string `json:"assignments" yaml:"assignments"`
}

type StreamConfig struct {
	Buffer    int           `json:"buffer" yaml:"buffer"`
	Keepalive time.Duration `json:"keepalive" yaml:"keepalive"`
}

type APIConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

type StorageConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Driver  string `json:"driver" yaml:"driver"`
	DSN     string `json:"dsn" yaml:"dsn"`
}

type AuditConfig struct {
	StoreLimit int `json:"store_limit" yaml:"store_limit"`
}

type AlertsConfig struct {
	ResolvedLimit int `json:"resolved_limit" yaml:"resolved_limit"`
}

func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		Ingest: IngestConfig{
			ChannelBuffer: 10000,
			REST:          RESTConfig{Enabled: true, Addr: ":8080"},
			Kafka:         KafkaConfig{Enabled: false},
		},
		Detection: DetectionConfig{
			SpO2Min:              92,
			HeartRateMax:         120,
			SustainedHRThreshold: 100,
			SustainedSpikeCount:  4,
			ActivityMin:          20,
			RecoveryMin:          40,
			Tier1Points:          1,
			Tier2Points:          3,
			Tier3Points:          5,
			MinSamples:           3,
			HistorySize:          12,
		},
		Escalation: EscalationConfig{
			FiredWindow:       30 * time.Second,
			AwaitingAckWindow: 60 * time.Second,
			EscalatedWindow:   45 * time.Second,
			ReviewWindow:      30 * time.Second,
			TickInterval:      1 * time.Second,
			UrgencyCap:        5,
			SubscriberGrace:   10 * time.Second,
		},
		Cooldown: CooldownConfig{
			Tier1: 10 * time.Minute,
			Tier2: 5 * time.Minute,
			Tier3: 2 * time.Minute,
		},
		Access:  AccessConfig{},
		Stream:  StreamConfig{Buffer: 64, Keepalive: 15 * time.Second},
		API:     APIConfig{Enabled: true, Addr: ":8081"},
		Storage: StorageConfig{Enabled: false, Driver: "sqlite", DSN: "file:vitalguard.db?_pragma=busy_timeout(5000)"},
		Audit:   AuditConfig{StoreLimit: 1000},
		Alerts:  AlertsConfig{ResolvedLimit: 1000},
	}
}

func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	content, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()

	trimmed := strings.TrimSpace(string(content))
	if len(trimmed) == 0 {
		return nil, errors.New("config file is empty")
	}
	var decodeErr error
	if looksLikeJSON(trimmed) {
		decodeErr = json.Unmarshal([]byte(trimmed), cfg)
	} else {
		decodeErr = yaml.Unmarshal([]byte(trimmed), cfg)
	}
	if decodeErr != nil {
		return nil, decodeErr
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func looksLikeJSON(s string) bool {
	for _, ch := range s {
		if ch == '{' || ch == '[' {
			return true
		}
		if ch > ' ' {
			return false
		}
	}
	return false
}

func applyDefaults(cfg *Config) {
	if cfg.Ingest.ChannelBuffer <= 0 {
		cfg.Ingest.ChannelBuffer = 10000
	}
	if cfg.Detection.SustainedSpikeCount <= 0 {
		cfg.Detection.SustainedSpikeCount = 4
	}
	if cfg.Detection.MinSamples <= 0 {
		cfg.Detection.MinSamples = 3
	}
	if cfg.Detection.HistorySize <= 0 {
		cfg.Detection.HistorySize = 12
	}
	// History is truncated before the cold-start gate, so a history
	// shorter than min_samples would suppress firing forever.
	if cfg.Detection.HistorySize < cfg.Detection.MinSamples {
		cfg.Detection.HistorySize = cfg.Detection.MinSamples
	}
	if cfg.Escalation.TickInterval <= 0 {
		cfg.Escalation.TickInterval = 1 * time.Second
	}
	if cfg.Escalation.UrgencyCap <= 0 {
		cfg.Escalation.UrgencyCap = 5
	}
	if cfg.Stream.Buffer <= 0 {
		cfg.Stream.Buffer = 64
	}
	if cfg.Stream.Keepalive <= 0 {
		cfg.Stream.Keepalive = 15 * time.Second
	}
	if cfg.Audit.StoreLimit <= 0 {
		cfg.Audit.StoreLimit = 1000
	}
	if cfg.Alerts.ResolvedLimit <= 0 {
		cfg.Alerts.ResolvedLimit = 1000
	}
}

func Validate(cfg *Config) error {
	if cfg.API.Enabled && cfg.API.Addr == "" {
		return errors.New("api.addr required when api.enabled is true")
	}
	if cfg.Ingest.REST.Enabled && cfg.Ingest.REST.Addr == "" {
		return errors.New("ingest.rest.addr required when ingest.rest.enabled is true")
	}
	if cfg.Ingest.Kafka.Enabled {
		if len(cfg.Ingest.Kafka.Brokers) == 0 || cfg.Ingest.Kafka.Topic == "" || cfg.Ingest.Kafka.GroupID == "" {
			return errors.New("ingest.kafka requires brokers, topic, group_id")
		}
	}
	if cfg.Detection.Tier1Points <= 0 ||
		cfg.Detection.Tier2Points <= cfg.Detection.Tier1Points ||
		cfg.Detection.Tier3Points <= cfg.Detection.Tier2Points {
		return errors.New("detection tier breakpoints must be positive and strictly increasing")
	}
	for _, win := range []time.Duration{
		cfg.Escalation.FiredWindow,
		cfg.Escalation.AwaitingAckWindow,
		cfg.Escalation.EscalatedWindow,
		cfg.Escalation.ReviewWindow,
	} {
		if win <= 0 {
			return fmt.Errorf("escalation windows must be positive, got %s", win)
		}
	}
	for _, cd := range []time.Duration{cfg.Cooldown.Tier1, cfg.Cooldown.Tier2, cfg.Cooldown.Tier3} {
		if cd < 0 {
			return errors.New("cooldown durations must not be negative")
		}
	}
	return nil
}

type Manager struct {
	path    string
	cfg     atomic.Value
	modTime time.Time
}

func NewManager(path string) (*Manager, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	m := &Manager{path: path}
	m.cfg.Store(cfg)
	info, err := os.Stat(path)
	if err == nil {
		m.modTime = info.ModTime()
	}
	return m, nil
}

// NewStaticManager wraps an already-built config, for callers that run
// without a config file on disk.
func NewStaticManager(cfg *Config) *Manager {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	m := &Manager{}
	m.cfg.Store(cfg)
	return m
}

func (m *Manager) Get() *Config {
	if v := m.cfg.Load(); v != nil {
		return v.(*Config)
	}
	return DefaultConfig()
}

func (m *Manager) Path() string {
	return m.path
}

func (m *Manager) Reload() (*Config, error) {
	if m.path == "" {
		return m.Get(), nil
	}
	cfg, err := Load(m.path)
	if err != nil {
		return nil, err
	}
	m.cfg.Store(cfg)
	if info, err := os.Stat(m.path); err == nil {
		m.modTime = info.ModTime()
	}
	return cfg, nil
}

func (m *Manager) NeedsReload() (bool, error) {
	if m.path == "" {
		return false, nil
	}
	info, err := os.Stat(m.path)
	if err != nil {
		return false, err
	}
	return info.ModTime().After(m.modTime), nil
}

func (m *Manager) Watch(interval time.Duration, onReload func(*Config), onError func(error), stop <-chan struct{}) {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			needs, err := m.NeedsReload()
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if !needs {
				continue
			}
			cfg, err := m.Reload()
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if onReload != nil {
				onReload(cfg)
			}
		case <-stop:
			return
		}
	}
}

func ResolvePath(path string) string {
	if path == "" {
		return path
	}
	if filepath.IsAbs(path) {
		return path
	}
	cwd, err := os.Getwd()
	if err != nil {
		return path
	}
	return filepath.Join(cwd, path)
}
