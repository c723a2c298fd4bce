package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
)

type Mode string

const (
	ModeOffline Mode = "offline"
	ModeOnline  Mode = "online"
)

// Collections names the document collections inside DatabaseID.
type Collections struct {
	Questions  string
	Papers     string
	Batches    string
	Attendance string
	Holidays   string
	Profiles   string
}

type Config struct {
	Mode     Mode
	HTTPAddr string
	LogLevel string

	DBDriver string // sqlite|postgres|memory
	DBDSN    string

	BlobBasePath string

	DatabaseID  string
	Collections Collections

	// BaaS connection. The API key itself is never configured, only its bcrypt hash.
	BaaSEndpoint   string
	BaaSProjectID  string
	APIKeyHash     string
	AuthHMACSecret string

	CORSOrigins []string

	DefaultPaperMinutes     int
	GeofenceRadiusMeters    float64
	AttendanceRetentionDays int
	AbsenteeCron            string
	CleanupCron             string
}

func FromEnv() Config {
	mode := Mode(os.Getenv("MODE"))
	if mode == "" {
		mode = ModeOffline
	}
	return Config{
		Mode:         mode,
		HTTPAddr:     envOr("HTTP_ADDR", ":8080"),
		LogLevel:     envOr("LOG_LEVEL", "info"),
		DBDriver:     envOr("DB_DRIVER", "sqlite"),
		DBDSN:        envOr("DB_DSN", ""),
		BlobBasePath: envOr("BLOB_BASE_PATH", "./data"),
		DatabaseID:   os.Getenv("DATABASE_ID"),
		Collections: Collections{
			Questions:  os.Getenv("QUESTIONS_COLLECTION_ID"),
			Papers:     os.Getenv("PAPERS_COLLECTION_ID"),
			Batches:    os.Getenv("BATCHES_COLLECTION_ID"),
			Attendance: os.Getenv("ATTENDANCE_COLLECTION_ID"),
			Holidays:   os.Getenv("HOLIDAYS_COLLECTION_ID"),
			Profiles:   os.Getenv("PROFILES_COLLECTION_ID"),
		},
		BaaSEndpoint:   os.Getenv("BAAS_ENDPOINT"),
		BaaSProjectID:  os.Getenv("BAAS_PROJECT_ID"),
		APIKeyHash:     os.Getenv("BAAS_API_KEY_HASH"),
		AuthHMACSecret: envOr("AUTH_HMAC_SECRET", devSecret(mode)),
		CORSOrigins:    csvOr("CORS_ORIGINS", "http://localhost:3000,http://localhost:5173"),

		DefaultPaperMinutes:     envInt("DEFAULT_PAPER_MINUTES", 60),
		GeofenceRadiusMeters:    envFloat("GEOFENCE_RADIUS_METERS", 100),
		AttendanceRetentionDays: envInt("ATTENDANCE_RETENTION_DAYS", 365),
		AbsenteeCron:            envOr("ABSENTEE_CRON", "30 18 * * *"),
		CleanupCron:             envOr("CLEANUP_CRON", "0 3 * * 0"),
	}
}

func devSecret(mode Mode) string {
	if mode == ModeOnline {
		return ""
	}
	return "supersecret-dev-key"
}

// Validate reports every missing or malformed setting at once.
func (c Config) Validate() error {
	var errs []error
	req := func(name, v string) {
		if strings.TrimSpace(v) == "" {
			errs = append(errs, fmt.Errorf("%s is required", name))
		}
	}
	req("DATABASE_ID", c.DatabaseID)
	req("QUESTIONS_COLLECTION_ID", c.Collections.Questions)
	req("PAPERS_COLLECTION_ID", c.Collections.Papers)
	req("BATCHES_COLLECTION_ID", c.Collections.Batches)
	req("ATTENDANCE_COLLECTION_ID", c.Collections.Attendance)
	req("HOLIDAYS_COLLECTION_ID", c.Collections.Holidays)
	req("PROFILES_COLLECTION_ID", c.Collections.Profiles)
	req("AUTH_HMAC_SECRET", c.AuthHMACSecret)

	switch c.Mode {
	case ModeOffline, ModeOnline:
	default:
		errs = append(errs, fmt.Errorf("MODE must be offline or online, got %q", c.Mode))
	}
	switch c.DBDriver {
	case "sqlite", "postgres", "memory":
	default:
		errs = append(errs, fmt.Errorf("DB_DRIVER must be sqlite, postgres or memory, got %q", c.DBDriver))
	}
	if c.DefaultPaperMinutes <= 0 {
		errs = append(errs, errors.New("DEFAULT_PAPER_MINUTES must be positive"))
	}
	if c.GeofenceRadiusMeters <= 0 {
		errs = append(errs, errors.New("GEOFENCE_RADIUS_METERS must be positive"))
	}
	if c.AttendanceRetentionDays <= 0 {
		errs = append(errs, errors.New("ATTENDANCE_RETENTION_DAYS must be positive"))
	}
	return errors.Join(errs...)
}

func envOr(k, def string) string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	return v
}

func envInt(k string, def int) int {
	if n, err := strconv.Atoi(strings.TrimSpace(os.Getenv(k))); err == nil {
		return n
	}
	return def
}

func envFloat(k string, def float64) float64 {
	if f, err := strconv.ParseFloat(strings.TrimSpace(os.Getenv(k)), 64); err == nil {
		return f
	}
	return def
}

func csvOr(k, def string) []string {
	v := envOr(k, def)
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
