package config

import (
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/joho/godotenv"
)

const (
	// BackendSupabase talks to the hosted backend-as-a-service over HTTP.
	BackendSupabase = "supabase"
	// BackendDirect serves the same contract from gorm, local disk and redis.
	BackendDirect = "direct"

	placeholderSupabaseURL = "https://placeholder.supabase.co"
	placeholderSupabaseKey = "placeholder-key"
)

// AppConfig holds environment driven configuration values.
// Secrets have no defaults inside code and must come from config.json, .env or the environment.
type AppConfig struct {
	AppPort            string
	RateLimitPerMinute int
	AllowedOrigins     []string
	PublicBaseURL      string
	// Gin framework configuration
	GinMode string
	GinPath string
	// Backend selection and shared naming
	BackendDriver     string
	AdminRole         string
	PostsTable        string
	ProfilesTable     string
	ImagesBucket      string
	PDFsBucket        string
	AuthTimeoutSec    int
	ProfileTimeoutSec int
	// Hosted backend
	SupabaseURL             string
	SupabaseAnonKey         string
	RealtimeEventsPerSecond int
	// Self-hosted backend
	DBDriver    string
	DatabaseURI string
	DBHost      string
	DBPort      string
	DBUser      string
	DBPassword  string
	DBName      string
	StorageDir  string
	JWTSecret   string
	// Redis for sessions, cache and realtime fan-out
	RedisHost     string
	RedisPort     int
	RedisDB       int
	RedisPassword string
	// Logging configuration
	LogLevel      string
	LogPath       string
	LogMaxSizeMB  int
	LogMaxBackups int
	LogMaxAgeDays int
	LogCompress   bool
	// Sessions
	SessionCookieName   string
	SessionTTLHours     int
	SecureCookies       bool
	DeleteConfirmTTLSec int
	// Login abuse guard
	LoginMaxFailuresPerHour int
	LoginBanMinutes         int
	// Public site content
	SiteName     string
	SiteTagline  string
	AboutTitle   string
	AboutHTML    string
	NoticeTitle  string
	NoticeHTML   string
	ContactEmail string
}

// SupabaseConfigured reports whether real hosted-backend credentials were provided.
// Placeholder values keep the client usable but disable realtime.
func (c AppConfig) SupabaseConfigured() bool {
	return c.SupabaseURL != "" && c.SupabaseAnonKey != "" &&
		c.SupabaseURL != placeholderSupabaseURL && c.SupabaseAnonKey != placeholderSupabaseKey
}

// RedisEnabled reports whether a redis host is configured.
func (c AppConfig) RedisEnabled() bool {
	return c.RedisHost != ""
}

var (
	cfg    AppConfig
	loaded bool
	mu     sync.Mutex
)

// Load loads the application configuration. It should be called once during boot.
func Load() AppConfig {
	mu.Lock()
	defer mu.Unlock()
	if loaded {
		return cfg
	}

	// Precedence: config/config.json -> .env -> defaults -> environment variable overrides
	if err := loadJSONConfig(filepath.Join("config", "config.json"), &cfg); err != nil {
		log.Printf("ignoring invalid config/config.json: %v", err)
	}
	_ = godotenv.Load()

	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)

	if cfg.BackendDriver == BackendDirect && cfg.JWTSecret == "" {
		log.Fatal("JWT_SECRET must be set when BACKEND_DRIVER=direct")
	}

	loaded = true
	return cfg
}

// Get returns the cached configuration, loading it if necessary.
func Get() AppConfig {
	mu.Lock()
	ok := loaded
	c := cfg
	mu.Unlock()
	if !ok {
		return Load()
	}
	return c
}

// Set replaces the cached configuration. Defaults are applied to zero values.
func Set(c AppConfig) {
	applyDefaults(&c)
	mu.Lock()
	cfg = c
	loaded = true
	mu.Unlock()
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

type fileConfig struct {
	App struct {
		AppPort            string
		RateLimitPerMinute int
		AllowedOrigins     []string
		PublicBaseURL      string
	} `json:"app"`
	Gin struct {
		Mode    string
		LogPath string
	} `json:"gin"`
	Backend struct {
		Driver            string
		AdminRole         string
		PostsTable        string
		ProfilesTable     string
		ImagesBucket      string
		PDFsBucket        string
		AuthTimeoutSec    int
		ProfileTimeoutSec int
	} `json:"backend"`
	Supabase struct {
		URL                     string
		AnonKey                 string
		RealtimeEventsPerSecond int
	} `json:"supabase"`
	Database struct {
		Driver      string
		DatabaseURI string
		DBHost      string
		DBPort      string
		DBUser      string
		DBPassword  string
		DBName      string
		StorageDir  string
		JWTSecret   string
	} `json:"database"`
	Redis struct {
		RedisHost     string
		RedisPort     int
		RedisDB       int
		RedisPassword string
	} `json:"redis"`
	Log struct {
		Level      string
		Path       string
		MaxSizeMB  int
		MaxBackups int
		MaxAgeDays int
		Compress   bool
	} `json:"log"`
	Session struct {
		CookieName          string
		TTLHours            int
		SecureCookies       bool
		DeleteConfirmTTLSec int
		LoginMaxFailures    int
		LoginBanMinutes     int
	} `json:"session"`
	Site struct {
		Name         string
		Tagline      string
		AboutTitle   string
		AboutHTML    string
		NoticeTitle  string
		NoticeHTML   string
		ContactEmail string
	} `json:"site"`
}

// loadJSONConfig reads grouped JSON sections into out if the file is present.
// Returns error only for invalid JSON.
func loadJSONConfig(path string, out *AppConfig) error {
	f, err := os.Open(path)
	if err != nil {
		return nil // silently ignore missing file
	}
	defer f.Close()

	var fc fileConfig
	if err := json.NewDecoder(f).Decode(&fc); err != nil {
		return err
	}

	out.AppPort = fc.App.AppPort
	out.RateLimitPerMinute = fc.App.RateLimitPerMinute
	out.AllowedOrigins = fc.App.AllowedOrigins
	out.PublicBaseURL = fc.App.PublicBaseURL
	out.GinMode = fc.Gin.Mode
	out.GinPath = fc.Gin.LogPath

	out.BackendDriver = fc.Backend.Driver
	out.AdminRole = fc.Backend.AdminRole
	out.PostsTable = fc.Backend.PostsTable
	out.ProfilesTable = fc.Backend.ProfilesTable
	out.ImagesBucket = fc.Backend.ImagesBucket
	out.PDFsBucket = fc.Backend.PDFsBucket
	out.AuthTimeoutSec = fc.Backend.AuthTimeoutSec
	out.ProfileTimeoutSec = fc.Backend.ProfileTimeoutSec

	out.SupabaseURL = fc.Supabase.URL
	out.SupabaseAnonKey = fc.Supabase.AnonKey
	out.RealtimeEventsPerSecond = fc.Supabase.RealtimeEventsPerSecond

	out.DBDriver = fc.Database.Driver
	out.DatabaseURI = fc.Database.DatabaseURI
	out.DBHost = fc.Database.DBHost
	out.DBPort = fc.Database.DBPort
	out.DBUser = fc.Database.DBUser
	out.DBPassword = fc.Database.DBPassword
	out.DBName = fc.Database.DBName
	out.StorageDir = fc.Database.StorageDir
	out.JWTSecret = fc.Database.JWTSecret

	out.RedisHost = fc.Redis.RedisHost
	out.RedisPort = fc.Redis.RedisPort
	out.RedisDB = fc.Redis.RedisDB
	out.RedisPassword = fc.Redis.RedisPassword

	out.LogLevel = fc.Log.Level
	out.LogPath = fc.Log.Path
	out.LogMaxSizeMB = fc.Log.MaxSizeMB
	out.LogMaxBackups = fc.Log.MaxBackups
	out.LogMaxAgeDays = fc.Log.MaxAgeDays
	out.LogCompress = fc.Log.Compress

	out.SessionCookieName = fc.Session.CookieName
	out.SessionTTLHours = fc.Session.TTLHours
	out.SecureCookies = fc.Session.SecureCookies
	out.DeleteConfirmTTLSec = fc.Session.DeleteConfirmTTLSec
	out.LoginMaxFailuresPerHour = fc.Session.LoginMaxFailures
	out.LoginBanMinutes = fc.Session.LoginBanMinutes

	out.SiteName = fc.Site.Name
	out.SiteTagline = fc.Site.Tagline
	out.AboutTitle = fc.Site.AboutTitle
	out.AboutHTML = fc.Site.AboutHTML
	out.NoticeTitle = fc.Site.NoticeTitle
	out.NoticeHTML = fc.Site.NoticeHTML
	out.ContactEmail = fc.Site.ContactEmail
	return nil
}

// applyDefaults sets sane defaults for zero-value fields.
func applyDefaults(c *AppConfig) {
	if c.AppPort == "" {
		c.AppPort = "8080"
	}
	if c.GinMode == "" {
		c.GinMode = "release"
	}
	if c.RateLimitPerMinute == 0 {
		c.RateLimitPerMinute = 30
	}
	if len(c.AllowedOrigins) == 0 {
		c.AllowedOrigins = []string{"*"}
	}
	if c.PublicBaseURL == "" {
		c.PublicBaseURL = "http://localhost:8080"
	}
	if c.BackendDriver == "" {
		c.BackendDriver = BackendSupabase
	}
	if c.AdminRole == "" {
		c.AdminRole = "admin"
	}
	if c.PostsTable == "" {
		c.PostsTable = "blogs"
	}
	if c.ProfilesTable == "" {
		c.ProfilesTable = "user_profiles"
	}
	if c.ImagesBucket == "" {
		c.ImagesBucket = "images"
	}
	if c.PDFsBucket == "" {
		c.PDFsBucket = "pdfs"
	}
	if c.AuthTimeoutSec == 0 {
		c.AuthTimeoutSec = 15
	}
	if c.ProfileTimeoutSec == 0 {
		c.ProfileTimeoutSec = 10
	}
	if c.SupabaseURL == "" {
		c.SupabaseURL = placeholderSupabaseURL
	}
	if c.SupabaseAnonKey == "" {
		c.SupabaseAnonKey = placeholderSupabaseKey
	}
	if c.RealtimeEventsPerSecond == 0 {
		c.RealtimeEventsPerSecond = 10
	}
	if c.DBDriver == "" {
		c.DBDriver = "mysql"
	}
	if c.DBHost == "" {
		c.DBHost = "127.0.0.1"
	}
	if c.DBPort == "" {
		c.DBPort = "3306"
	}
	if c.DBUser == "" {
		c.DBUser = "root"
	}
	if c.DBName == "" {
		c.DBName = "rightwindow"
	}
	if c.StorageDir == "" {
		c.StorageDir = filepath.Join("static", "storage")
	}
	if c.RedisPort == 0 {
		c.RedisPort = 6379
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogMaxSizeMB == 0 {
		c.LogMaxSizeMB = 100
	}
	if c.LogMaxBackups == 0 {
		c.LogMaxBackups = 3
	}
	if c.LogMaxAgeDays == 0 {
		c.LogMaxAgeDays = 7
	}
	if c.SessionCookieName == "" {
		c.SessionCookieName = "rw_session"
	}
	if c.SessionTTLHours == 0 {
		c.SessionTTLHours = 24
	}
	if c.DeleteConfirmTTLSec == 0 {
		c.DeleteConfirmTTLSec = 300
	}
	if c.LoginMaxFailuresPerHour == 0 {
		c.LoginMaxFailuresPerHour = 10
	}
	if c.LoginBanMinutes == 0 {
		c.LoginBanMinutes = 30
	}
	if c.SiteName == "" {
		c.SiteName = "My Right Window"
	}
	if c.SiteTagline == "" {
		c.SiteTagline = "Where technology meets creativity"
	}
	if c.AboutTitle == "" {
		c.AboutTitle = "About My Right Window"
	}
}

// applyEnvOverrides maps known environment variables onto config values when present.
func applyEnvOverrides(c *AppConfig) {
	if v := getEnv("APP_PORT", ""); v != "" {
		c.AppPort = v
	}
	if v := getEnv("RATE_LIMIT_PER_MINUTE", ""); v != "" {
		c.RateLimitPerMinute = mustParseInt(v)
	}
	if v := getEnv("CORS_ALLOWED_ORIGINS", ""); v != "" {
		c.AllowedOrigins = readListEnv("CORS_ALLOWED_ORIGINS", c.AllowedOrigins)
	}
	if v := getEnv("PUBLIC_BASE_URL", ""); v != "" {
		c.PublicBaseURL = v
	}
	if v := getEnv("GIN_MODE", ""); v != "" {
		c.GinMode = v
	}
	if v := getEnv("GIN_PATH", ""); v != "" {
		c.GinPath = v
	}
	if v := getEnv("BACKEND_DRIVER", ""); v != "" {
		c.BackendDriver = strings.ToLower(v)
	}
	if v := getEnv("ADMIN_ROLE", ""); v != "" {
		c.AdminRole = v
	}
	if v := getEnv("AUTH_TIMEOUT_SEC", ""); v != "" {
		c.AuthTimeoutSec = mustParseInt(v)
	}
	if v := getEnv("PROFILE_TIMEOUT_SEC", ""); v != "" {
		c.ProfileTimeoutSec = mustParseInt(v)
	}
	if v := getEnv("SUPABASE_URL", ""); v != "" {
		c.SupabaseURL = v
	}
	if v := getEnv("SUPABASE_ANON_KEY", ""); v != "" {
		c.SupabaseAnonKey = v
	}
	if v := getEnv("REALTIME_EVENTS_PER_SECOND", ""); v != "" {
		c.RealtimeEventsPerSecond = mustParseInt(v)
	}
	if v := getEnv("DB_DRIVER", ""); v != "" {
		c.DBDriver = strings.ToLower(v)
	}
	if v := getEnv("DATABASE_URI", ""); v != "" {
		c.DatabaseURI = v
	}
	if v := getEnv("DB_HOST", ""); v != "" {
		c.DBHost = v
	}
	if v := getEnv("DB_PORT", ""); v != "" {
		c.DBPort = v
	}
	if v := getEnv("DB_USER", ""); v != "" {
		c.DBUser = v
	}
	if v := getEnv("DB_PASSWORD", ""); v != "" {
		c.DBPassword = v
	}
	if v := getEnv("DB_NAME", ""); v != "" {
		c.DBName = v
	}
	if v := getEnv("STORAGE_DIR", ""); v != "" {
		c.StorageDir = v
	}
	if v := getEnv("JWT_SECRET", ""); v != "" {
		c.JWTSecret = v
	}
	if v := getEnv("REDIS_HOST", ""); v != "" {
		c.RedisHost = v
	}
	if v := getEnv("REDIS_PORT", ""); v != "" {
		c.RedisPort = mustParseInt(v)
	}
	if v := getEnv("REDIS_DB", ""); v != "" {
		c.RedisDB = mustParseInt(v)
	}
	if v := getEnv("REDIS_PASSWORD", ""); v != "" {
		c.RedisPassword = v
	}
	if v := getEnv("LOG_LEVEL", ""); v != "" {
		c.LogLevel = v
	}
	if v := getEnv("LOG_PATH", ""); v != "" {
		c.LogPath = v
	}
	if v := getEnv("LOG_MAX_SIZE_MB", ""); v != "" {
		c.LogMaxSizeMB = mustParseInt(v)
	}
	if v := getEnv("LOG_MAX_BACKUPS", ""); v != "" {
		c.LogMaxBackups = mustParseInt(v)
	}
	if v := getEnv("LOG_MAX_AGE_DAYS", ""); v != "" {
		c.LogMaxAgeDays = mustParseInt(v)
	}
	if v := getEnv("LOG_COMPRESS", ""); v != "" {
		c.LogCompress = v == "true"
	}
	if v := getEnv("SESSION_COOKIE_NAME", ""); v != "" {
		c.SessionCookieName = v
	}
	if v := getEnv("SESSION_TTL_HOURS", ""); v != "" {
		c.SessionTTLHours = mustParseInt(v)
	}
	if v := getEnv("SECURE_COOKIES", ""); v != "" {
		c.SecureCookies = v == "true"
	}
	if v := getEnv("DELETE_CONFIRM_TTL_SEC", ""); v != "" {
		c.DeleteConfirmTTLSec = mustParseInt(v)
	}
	if v := getEnv("LOGIN_MAX_FAILURES_PER_HOUR", ""); v != "" {
		c.LoginMaxFailuresPerHour = mustParseInt(v)
	}
	if v := getEnv("LOGIN_BAN_MINUTES", ""); v != "" {
		c.LoginBanMinutes = mustParseInt(v)
	}
	if v := getEnv("SITE_NAME", ""); v != "" {
		c.SiteName = v
	}
	if v := getEnv("NOTICE_TITLE", ""); v != "" {
		c.NoticeTitle = v
	}
	if v := getEnv("NOTICE_HTML", ""); v != "" {
		c.NoticeHTML = v
	}
	if v := getEnv("CONTACT_EMAIL", ""); v != "" {
		c.ContactEmail = v
	}
}

func mustParseInt(val string) int {
	i, err := strconv.Atoi(val)
	if err != nil {
		log.Fatalf("invalid integer value %s: %v", val, err)
	}
	return i
}

func readListEnv(key string, defaults []string) []string {
	if raw := os.Getenv(key); raw != "" {
		return splitAndTrim(raw)
	}
	return defaults
}

func splitAndTrim(raw string) []string {
	items := []string{}
	for _, item := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			items = append(items, trimmed)
		}
	}
	return items
}
