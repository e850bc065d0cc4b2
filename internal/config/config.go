package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/openmined/artifactsync/internal/metadata"
	"github.com/openmined/artifactsync/internal/remote"
	"github.com/openmined/artifactsync/internal/sync"
	"github.com/openmined/artifactsync/internal/utils"
	"github.com/openmined/artifactsync/internal/workspace"
	"github.com/spf13/viper"
)

const EnvPrefix = "ARTIFACTSYNC"

var (
	home, _           = os.UserHomeDir()
	DefaultConfigPath = filepath.Join(home, ".artifactsync", "config.yaml")
	DefaultWorkspace  = filepath.Join(home, "artifactsync")
)

const (
	BlobBackendSqlite = "sqlite"
	BlobBackendS3     = "s3"
)

// ResolveInteractive asks for a decision on each conflict in the terminal.
const ResolveInteractive = "interactive"

// Instance is a content server the workspace mirrors.
type Instance struct {
	ID       string `mapstructure:"id"`
	URL      string `mapstructure:"url"`
	APIKey   string `mapstructure:"api_key"`
	Insecure bool   `mapstructure:"insecure"`
}

type S3Config struct {
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Prefix    string `mapstructure:"prefix"`
}

type BlobConfig struct {
	Backend string   `mapstructure:"backend"`
	S3      S3Config `mapstructure:"s3"`
}

type Config struct {
	Path         string        `mapstructure:"-"`
	Workspace    string        `mapstructure:"workspace"`
	Instances    []Instance    `mapstructure:"instances"`
	Instance     string        `mapstructure:"instance"`
	Workers      int           `mapstructure:"workers"`
	Timeout      time.Duration `mapstructure:"timeout"`
	Retries      int           `mapstructure:"retries"`
	RetryWait    time.Duration `mapstructure:"retry_wait"`
	RetryMaxWait time.Duration `mapstructure:"retry_max_wait"`
	InlineLimit  int           `mapstructure:"inline_limit"`
	Checkpoint   bool          `mapstructure:"checkpoint"`
	OnCorrupt    string        `mapstructure:"on_corrupt"`
	Resolve      string        `mapstructure:"resolve"`
	MergeTool    string        `mapstructure:"merge_tool"`
	Blob         BlobConfig    `mapstructure:"blob"`
}

// SetDefaults registers the default of every key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("workspace", DefaultWorkspace)
	v.SetDefault("workers", sync.DefaultWorkers)
	v.SetDefault("timeout", remote.DefaultTimeout)
	v.SetDefault("retries", remote.DefaultRetries)
	v.SetDefault("retry_wait", remote.DefaultRetryWait)
	v.SetDefault("retry_max_wait", remote.DefaultRetryMaxWait)
	v.SetDefault("inline_limit", metadata.DefaultInlineLimit)
	v.SetDefault("on_corrupt", string(sync.CorruptFail))
	v.SetDefault("resolve", string(sync.ResolveSkip))
	v.SetDefault("blob.backend", BlobBackendSqlite)

	// keys without a meaningful default are still registered so that their
	// environment variables are seen
	for _, key := range []string{
		"instance", "merge_tool",
		"blob.s3.bucket", "blob.s3.region", "blob.s3.endpoint",
		"blob.s3.access_key", "blob.s3.secret_key", "blob.s3.prefix",
	} {
		v.SetDefault(key, "")
	}
	v.SetDefault("checkpoint", false)
}

// Load reads the configuration into v from, in increasing priority: defaults,
// the config file, a .env file in the working directory, ARTIFACTSYNC_*
// environment variables and whatever the caller already bound to v (flags).
// A missing config file is not an error.
func Load(v *viper.Viper, path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(filepath.Join(home, ".artifactsync"))
		v.AddConfigPath(filepath.Join(home, ".config", "artifactsync"))
		v.SetConfigName("config")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.Is(err, fs.ErrNotExist) && !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config read '%s': %w", v.ConfigFileUsed(), err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config decode: %w", err)
	}
	cfg.Path = v.ConfigFileUsed()
	return &cfg, nil
}

// Validate checks the configuration and normalizes paths and policies.
func (c *Config) Validate() error {
	if c.Workspace == "" {
		return errors.New("workspace is required")
	}
	ws, err := utils.ResolvePath(c.Workspace)
	if err != nil {
		return fmt.Errorf("workspace: %w", err)
	}
	c.Workspace = ws

	if len(c.Instances) == 0 {
		return errors.New("at least one instance is required")
	}
	seen := make(map[string]bool, len(c.Instances))
	for i := range c.Instances {
		inst := &c.Instances[i]
		if err := workspace.ValidateInstanceID(inst.ID); err != nil {
			return fmt.Errorf("instances[%d]: %w", i, err)
		}
		if seen[inst.ID] {
			return fmt.Errorf("instances[%d]: duplicate id %q", i, inst.ID)
		}
		seen[inst.ID] = true
		if err := validateURL(inst.URL); err != nil {
			return fmt.Errorf("instance %s: %w", inst.ID, err)
		}
	}
	if c.Instance == "" && len(c.Instances) == 1 {
		c.Instance = c.Instances[0].ID
	}
	if _, err := c.SelectedInstance(); err != nil {
		return err
	}

	if c.Workers < 0 {
		return fmt.Errorf("workers must not be negative, got %d", c.Workers)
	}
	if c.Retries < 0 {
		return fmt.Errorf("retries must not be negative, got %d", c.Retries)
	}

	policy, err := sync.ParseCorruptPolicy(c.OnCorrupt)
	if err != nil {
		return err
	}
	c.OnCorrupt = string(policy)

	if strings.EqualFold(strings.TrimSpace(c.Resolve), ResolveInteractive) {
		c.Resolve = ResolveInteractive
	} else {
		strategy, err := sync.ParseStrategy(c.Resolve)
		if err != nil {
			return err
		}
		c.Resolve = string(strategy)
	}

	switch strings.ToLower(c.Blob.Backend) {
	case "", BlobBackendSqlite:
		c.Blob.Backend = BlobBackendSqlite
	case BlobBackendS3:
		c.Blob.Backend = BlobBackendS3
		if c.Blob.S3.Bucket == "" {
			return errors.New("blob.s3.bucket is required for the s3 backend")
		}
	default:
		return fmt.Errorf("unknown blob backend %q", c.Blob.Backend)
	}
	return nil
}

// SelectedInstance returns the instance named by Instance.
func (c *Config) SelectedInstance() (Instance, error) {
	if c.Instance == "" {
		return Instance{}, errors.New("several instances are configured, select one")
	}
	for _, inst := range c.Instances {
		if inst.ID == c.Instance {
			return inst, nil
		}
	}
	return Instance{}, fmt.Errorf("unknown instance %q", c.Instance)
}

// RemoteConfig builds the transport configuration of an instance.
func (c *Config) RemoteConfig(inst Instance) remote.Config {
	return remote.Config{
		BaseURL:      inst.URL,
		APIKey:       inst.APIKey,
		Insecure:     inst.Insecure,
		Timeout:      c.Timeout,
		Retries:      c.Retries,
		RetryWait:    c.RetryWait,
		RetryMaxWait: c.RetryMaxWait,
	}
}

// S3 converts the blob settings for the S3 blob store.
func (c *Config) S3() metadata.S3Config {
	s := c.Blob.S3
	return metadata.S3Config{
		Bucket:    s.Bucket,
		Region:    s.Region,
		Endpoint:  s.Endpoint,
		AccessKey: s.AccessKey,
		SecretKey: s.SecretKey,
		Prefix:    s.Prefix,
	}
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid url %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("url %q must be http or https", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("url %q has no host", raw)
	}
	return nil
}
