package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// CameraConfig controls the Chromium-backed camera.
type CameraConfig struct {
	// ChromePath overrides the browser binary. Empty uses chromedp's lookup.
	ChromePath string `yaml:"chrome_path" json:"chrome_path"`
	// FakeDevice feeds Chromium's synthetic test pattern instead of a real
	// camera. Useful on machines without a webcam.
	FakeDevice bool `yaml:"fake_device" json:"fake_device"`
	Headless   bool `yaml:"headless" json:"headless"`
	// TimeoutSeconds bounds opening the stream and grabbing one frame.
	TimeoutSeconds int `yaml:"timeout_seconds" json:"timeout_seconds"`
}

// GeolocationConfig selects how a position fix is obtained.
type GeolocationConfig struct {
	// Provider is one of "geoclue", "static" or "none".
	Provider       string  `yaml:"provider" json:"provider"`
	Latitude       float64 `yaml:"latitude" json:"latitude"`
	Longitude      float64 `yaml:"longitude" json:"longitude"`
	TimeoutSeconds int     `yaml:"timeout_seconds" json:"timeout_seconds"`
}

// NotifyConfig selects where user-facing alerts go outside the kiosk.
type NotifyConfig struct {
	// Provider is "dbus" (desktop notifications) or "stderr".
	Provider string `yaml:"provider" json:"provider"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the kiosk.
// PasswordHash is a bcrypt hash as printed by `pic2contact hash-password`.
type BasicAuthConfig struct {
	Username     string `yaml:"username" json:"username"`
	PasswordHash string `yaml:"password_hash" json:"password_hash"`
}

// GoogleCalendarConfig enables importing results into a Google calendar.
// TokenFile is written by `pic2contact google-login`.
type GoogleCalendarConfig struct {
	CredentialsFile string `yaml:"credentials_file" json:"credentials_file"`
	TokenFile       string `yaml:"token_file" json:"token_file"`
	CalendarID      string `yaml:"calendar_id" json:"calendar_id"`
	// LoginListen is the loopback address that receives the OAuth redirect.
	LoginListen string `yaml:"login_listen" json:"login_listen"`
}

// Config is the top-level application configuration.
type Config struct {
	// APIURL is the base URL of the contact extraction backend.
	APIURL string `yaml:"api_url" json:"api_url"`

	// Listen is the HTTP listen address for the kiosk UI and API.
	Listen string `yaml:"listen" json:"listen"`

	LogLevel string `yaml:"log_level" json:"log_level"`

	UploadTimeoutSeconds int `yaml:"upload_timeout_seconds" json:"upload_timeout_seconds"`

	// DownloadDir is where the CLI writes event.ics.
	DownloadDir string `yaml:"download_dir" json:"download_dir"`

	// SessionTTLMinutes is how long an idle kiosk session keeps its camera.
	SessionTTLMinutes int `yaml:"session_ttl_minutes" json:"session_ttl_minutes"`

	// SessionSweep is a cron spec for the idle-session sweeper.
	SessionSweep string `yaml:"session_sweep" json:"session_sweep"`

	Camera      CameraConfig      `yaml:"camera" json:"camera"`
	Geolocation GeolocationConfig `yaml:"geolocation" json:"geolocation"`
	Notify      NotifyConfig      `yaml:"notify" json:"notify"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all kiosk
	// endpoints except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`

	// GoogleCalendar, if non-nil, adds the "add to Google Calendar" action.
	GoogleCalendar *GoogleCalendarConfig `yaml:"google_calendar,omitempty" json:"google_calendar,omitempty"`
}

const (
	defaultAPIURL        = "http://127.0.0.1:8000"
	defaultListen        = "127.0.0.1:8080"
	defaultUploadTimeout = 60
	defaultSessionTTL    = 15
	defaultSessionSweep  = "@every 1m"
	defaultCameraTimeout = 20
	defaultGeoTimeout    = 15
	defaultCalendarID    = "primary"
	defaultLoginListen   = "127.0.0.1:8089"
)

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		APIURL:               defaultAPIURL,
		Listen:               defaultListen,
		LogLevel:             "info",
		UploadTimeoutSeconds: defaultUploadTimeout,
		DownloadDir:          defaultDownloadDir(),
		SessionTTLMinutes:    defaultSessionTTL,
		SessionSweep:         defaultSessionSweep,
		Camera: CameraConfig{
			Headless:       true,
			TimeoutSeconds: defaultCameraTimeout,
		},
		Geolocation: GeolocationConfig{
			Provider:       "geoclue",
			TimeoutSeconds: defaultGeoTimeout,
		},
		Notify: NotifyConfig{
			Provider: "stderr",
		},
	}
}

func defaultDownloadDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return "."
	}
	return filepath.Join(home, "Downloads")
}

// Normalize fills in missing/zero values so partially-filled configs still
// behave correctly.
func (c *Config) Normalize() {
	c.APIURL = strings.TrimRight(strings.TrimSpace(c.APIURL), "/")
	if c.APIURL == "" {
		c.APIURL = defaultAPIURL
	}
	if c.Listen == "" {
		c.Listen = defaultListen
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.UploadTimeoutSeconds <= 0 {
		c.UploadTimeoutSeconds = defaultUploadTimeout
	}
	if c.DownloadDir == "" {
		c.DownloadDir = defaultDownloadDir()
	}
	if c.SessionTTLMinutes <= 0 {
		c.SessionTTLMinutes = defaultSessionTTL
	}
	if c.SessionSweep == "" {
		c.SessionSweep = defaultSessionSweep
	}
	if c.Camera.TimeoutSeconds <= 0 {
		c.Camera.TimeoutSeconds = defaultCameraTimeout
	}

	switch c.Geolocation.Provider {
	case "geoclue", "static", "none":
	default:
		c.Geolocation.Provider = "geoclue"
	}
	if c.Geolocation.TimeoutSeconds <= 0 {
		c.Geolocation.TimeoutSeconds = defaultGeoTimeout
	}

	switch c.Notify.Provider {
	case "dbus", "stderr":
	default:
		c.Notify.Provider = "stderr"
	}

	if g := c.GoogleCalendar; g != nil {
		if g.CalendarID == "" {
			g.CalendarID = defaultCalendarID
		}
		if g.LoginListen == "" {
			g.LoginListen = defaultLoginListen
		}
		if g.TokenFile == "" && g.CredentialsFile != "" {
			g.TokenFile = filepath.Join(filepath.Dir(g.CredentialsFile), "token.json")
		}
	}
}

func (c *Config) UploadTimeout() time.Duration {
	return time.Duration(c.UploadTimeoutSeconds) * time.Second
}

func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.SessionTTLMinutes) * time.Minute
}

// Load loads configuration from the given YAML path and overlays the
// environment on top of it.
//
// Behavior:
//   - If the file does not exist, a default config is written with 0600
//     perms and returned.
//   - If the file exists, YAML is read and normalized.
//   - PIC2CONTACT_API_URL / API_URL, PIC2CONTACT_LISTEN and
//     PIC2CONTACT_LOG_LEVEL override the file. The overlay is never saved.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	cfg, err := loadFile(path)
	if err != nil {
		return cfg, err
	}
	applyEnv(cfg)
	cfg.Normalize()
	return cfg, nil
}

func loadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()
	return &cfg, nil
}

func applyEnv(cfg *Config) {
	v := viper.New()
	v.SetEnvPrefix("PIC2CONTACT")
	v.AutomaticEnv()

	_ = v.BindEnv("api_url", "PIC2CONTACT_API_URL", "API_URL")
	_ = v.BindEnv("listen", "PIC2CONTACT_LISTEN")
	_ = v.BindEnv("log_level", "PIC2CONTACT_LOG_LEVEL")

	if s := strings.TrimSpace(v.GetString("api_url")); s != "" {
		cfg.APIURL = s
	}
	if s := strings.TrimSpace(v.GetString("listen")); s != "" {
		cfg.Listen = s
	}
	if s := strings.TrimSpace(v.GetString("log_level")); s != "" {
		cfg.LogLevel = s
	}
}

// Save writes the given configuration to the specified path atomically
// (temp file + rename) with 0600 permissions.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return WriteFileAtomic(path, data, 0o600)
}

// WriteFileAtomic writes data to a temp file in the target directory and
// renames it over path. The parent directory is created with 0700.
func WriteFileAtomic(path string, data []byte, perm fs.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".pic2contact-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

func (c *Config) Save(path string) error {
	return Save(path, c)
}
