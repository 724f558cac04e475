package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Port        int
	CamerasPort int // UDP port for JPEG camera streams, 0 disables the listener

	Password      string
	PasswordHash  string // bcrypt, takes precedence over Password
	SessionSecret string
	SessionTTL    time.Duration

	ModelPath           string
	ClassNamesPath      string
	TargetClass         string
	ConfidenceThreshold float64
	NMSThreshold        float64
	InputSize           int
	MotionThreshold     int // changed pixels needed to run inference, 0 disables the gate

	ProcessingInterval int // process every Nth frame of a camera
	ProcessingWorkers  int
	QueueSize          int

	HoldDuration   time.Duration
	MinConsecutive int

	CameraNames         map[string]string // source ip -> camera name
	CameraIntersections map[string]string // camera name -> intersection id
	VideoSources        map[string]string // camera name -> device index, file or url

	ImageDirectory           string
	ImageBufferLimit         int
	ImageBufferFlushInterval time.Duration
	DatabasePath             string
	LogDirectory             string
	LogLevel                 string

	RedisAddr           string
	RedisPassword       string
	RedisDB             int
	SignalChannelPrefix string
	SignalRateLimit     float64

	KafkaBrokers    []string
	KafkaAlertTopic string
}

// Load reads .env when present and then the process environment.
// Malformed values fall back to their defaults.
func Load() *Config {
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()
	defs := defaults()
	setDefaults(v, defs)
	normalize(v, defs)

	return &Config{
		Port:        v.GetInt("PORT"),
		CamerasPort: v.GetInt("CAMERAS_PORT"),

		Password:      v.GetString("PASSWORD"),
		PasswordHash:  v.GetString("PASSWORD_HASH"),
		SessionSecret: v.GetString("SESSION_SECRET"),
		SessionTTL:    v.GetDuration("SESSION_TTL"),

		ModelPath:           v.GetString("MODEL_PATH"),
		ClassNamesPath:      v.GetString("CLASS_NAMES_PATH"),
		TargetClass:         v.GetString("TARGET_CLASS"),
		ConfidenceThreshold: v.GetFloat64("CONFIDENCE_THRESHOLD"),
		NMSThreshold:        v.GetFloat64("NMS_THRESHOLD"),
		InputSize:           v.GetInt("INPUT_SIZE"),
		MotionThreshold:     v.GetInt("MOTION_THRESHOLD"),

		ProcessingInterval: v.GetInt("PROCESSING_INTERVAL"),
		ProcessingWorkers:  v.GetInt("PROCESSING_WORKERS"),
		QueueSize:          v.GetInt("QUEUE_SIZE"),

		HoldDuration:   v.GetDuration("HOLD_DURATION"),
		MinConsecutive: v.GetInt("MIN_CONSECUTIVE"),

		CameraNames:         ParseMapping(v.GetString("CAMERA_NAMES")),
		CameraIntersections: ParseMapping(v.GetString("CAMERA_INTERSECTIONS")),
		VideoSources:        ParseMapping(v.GetString("VIDEO_SOURCES")),

		ImageDirectory:           v.GetString("IMAGE_DIR"),
		ImageBufferLimit:         v.GetInt("BUFFER_LIMIT"),
		ImageBufferFlushInterval: v.GetDuration("FLUSH_INTERVAL"),
		DatabasePath:             v.GetString("DB_PATH"),
		LogDirectory:             v.GetString("LOG_DIR"),
		LogLevel:                 v.GetString("LOG_LEVEL"),

		RedisAddr:           v.GetString("REDIS_ADDR"),
		RedisPassword:       v.GetString("REDIS_PASSWORD"),
		RedisDB:             v.GetInt("REDIS_DB"),
		SignalChannelPrefix: v.GetString("SIGNAL_CHANNEL_PREFIX"),
		SignalRateLimit:     v.GetFloat64("SIGNAL_RATE_LIMIT"),

		KafkaBrokers:    splitList(v.GetString("KAFKA_BROKERS")),
		KafkaAlertTopic: v.GetString("KAFKA_ALERT_TOPIC"),
	}
}

func defaults() map[string]interface{} {
	return map[string]interface{}{
		"PORT":         8080,
		"CAMERAS_PORT": 9000,

		"PASSWORD":       "",
		"PASSWORD_HASH":  "",
		"SESSION_SECRET": randomSecret(),
		"SESSION_TTL":    720 * time.Hour,

		"MODEL_PATH":           filepath.Join(".", "models", "best.onnx"),
		"CLASS_NAMES_PATH":     "",
		"TARGET_CLASS":         "ambulance",
		"CONFIDENCE_THRESHOLD": 0.7,
		"NMS_THRESHOLD":        0.45,
		"INPUT_SIZE":           640,
		"MOTION_THRESHOLD":     0,

		"PROCESSING_INTERVAL": 1,
		"PROCESSING_WORKERS":  2,
		"QUEUE_SIZE":          100,

		"HOLD_DURATION":   30 * time.Second,
		"MIN_CONSECUTIVE": 1,

		"CAMERA_NAMES":         "",
		"CAMERA_INTERSECTIONS": "",
		"VIDEO_SOURCES":        "",

		"IMAGE_DIR":      filepath.Join(".", "images"),
		"BUFFER_LIMIT":   10,
		"FLUSH_INTERVAL": 30 * time.Second,
		"DB_PATH":        filepath.Join(".", "data", "evdetect.db"),
		"LOG_DIR":        filepath.Join(".", "logs"),
		"LOG_LEVEL":      "info",

		"REDIS_ADDR":            "",
		"REDIS_PASSWORD":        "",
		"REDIS_DB":              0,
		"SIGNAL_CHANNEL_PREFIX": "evdetect:signal:",
		"SIGNAL_RATE_LIMIT":     20.0,

		"KAFKA_BROKERS":     "",
		"KAFKA_ALERT_TOPIC": "evdetect-alerts",
	}
}

func setDefaults(v *viper.Viper, defs map[string]interface{}) {
	for key, value := range defs {
		v.SetDefault(key, value)
	}
}

// normalize replaces environment values that do not parse as the default's
// type with the default. Bare integers are accepted as seconds for durations.
func normalize(v *viper.Viper, defs map[string]interface{}) {
	for key, def := range defs {
		raw := strings.TrimSpace(v.GetString(key))

		switch def.(type) {
		case int:
			if _, err := strconv.Atoi(raw); err != nil {
				v.Set(key, def)
			}
		case float64:
			if _, err := strconv.ParseFloat(raw, 64); err != nil {
				v.Set(key, def)
			}
		case time.Duration:
			if _, err := time.ParseDuration(raw); err == nil {
				continue
			}
			if secs, err := strconv.Atoi(raw); err == nil {
				v.Set(key, time.Duration(secs)*time.Second)
			} else {
				v.Set(key, def)
			}
		}
	}
}

// Validate rejects settings the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.ConfidenceThreshold <= 0 || c.ConfidenceThreshold >= 1 {
		return fmt.Errorf("CONFIDENCE_THRESHOLD must be in (0,1), got %v", c.ConfidenceThreshold)
	}
	if c.NMSThreshold <= 0 || c.NMSThreshold > 1 {
		return fmt.Errorf("NMS_THRESHOLD must be in (0,1], got %v", c.NMSThreshold)
	}
	if c.ProcessingWorkers <= 0 {
		return fmt.Errorf("PROCESSING_WORKERS must be positive, got %d", c.ProcessingWorkers)
	}
	if c.ProcessingInterval <= 0 {
		return fmt.Errorf("PROCESSING_INTERVAL must be positive, got %d", c.ProcessingInterval)
	}
	if c.HoldDuration <= 0 {
		return fmt.Errorf("HOLD_DURATION must be positive, got %s", c.HoldDuration)
	}
	if c.MinConsecutive <= 0 {
		return fmt.Errorf("MIN_CONSECUTIVE must be positive, got %d", c.MinConsecutive)
	}
	if c.InputSize <= 0 {
		return fmt.Errorf("INPUT_SIZE must be positive, got %d", c.InputSize)
	}
	return nil
}

// IntersectionFor returns the intersection a camera controls; cameras
// without a mapping control an intersection named after themselves.
func (c *Config) IntersectionFor(camera string) string {
	if id, ok := c.CameraIntersections[camera]; ok && id != "" {
		return id
	}
	return camera
}

// ParseMapping parses "key=value,key2=value2". Entries without '=' are skipped.
func ParseMapping(raw string) map[string]string {
	out := make(map[string]string)
	for _, part := range strings.Split(raw, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		key, value = strings.TrimSpace(key), strings.TrimSpace(value)
		if key == "" || value == "" {
			continue
		}
		out[key] = value
	}
	return out
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func randomSecret() string {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "evdetect-insecure-fallback-secret"
	}
	return hex.EncodeToString(buf)
}
