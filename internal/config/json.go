package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/dmitrijs2005/gridstore/internal/flagx"
	"github.com/dmitrijs2005/gridstore/internal/timex"
)

// JsonConfig is the on-disk shape of the config file. Durations use
// timex.Duration so both "15m" and integer nanoseconds are accepted.
// Only the fields present and non-zero in the file override Config.
type JsonConfig struct {
	StoreBackend    string         `json:"store_backend"`
	DatabaseDSN     string         `json:"database_dsn"`
	BadgerPath      string         `json:"badger_path"`
	RootCredentials string         `json:"root_credentials"`
	RootEmail       string         `json:"root_email"`
	RootPassword    string         `json:"root_password"`
	LogFormat       string         `json:"log_format"`
	BlobDriver      string         `json:"blob_driver"`
	BlobHost        string         `json:"blob_host"`
	BlobPort        int            `json:"blob_port"`
	BlobSecure      *bool          `json:"blob_secure"`
	BlobAccessKey   string         `json:"blob_access_key"`
	BlobSecretKey   string         `json:"blob_secret_key"`
	BlobRegion      string         `json:"blob_region"`
	BlobBucket      string         `json:"blob_bucket"`
	BlobChunkSize   int64          `json:"blob_chunk_size"`
	BlobReadURLTTL  timex.Duration `json:"blob_read_url_ttl"`
	BlobWriteURLTTL timex.Duration `json:"blob_write_url_ttl"`
}

// parseJson overlays the file named by -c or -config, if any.
func parseJson(config *Config, args []string) error {
	path := flagx.ConfigPath(args)
	if path == "" {
		return nil
	}

	file, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	c := &JsonConfig{}
	if err := json.Unmarshal(file, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	setString(&config.StoreBackend, c.StoreBackend)
	setString(&config.DatabaseDSN, c.DatabaseDSN)
	setString(&config.BadgerPath, c.BadgerPath)
	setString(&config.RootCredentials, c.RootCredentials)
	setString(&config.RootEmail, c.RootEmail)
	setString(&config.RootPassword, c.RootPassword)
	setString(&config.LogFormat, c.LogFormat)
	setString(&config.BlobDriver, c.BlobDriver)
	setString(&config.BlobHost, c.BlobHost)
	setString(&config.BlobAccessKey, c.BlobAccessKey)
	setString(&config.BlobSecretKey, c.BlobSecretKey)
	setString(&config.BlobRegion, c.BlobRegion)
	setString(&config.BlobBucket, c.BlobBucket)
	if c.BlobPort != 0 {
		config.BlobPort = c.BlobPort
	}
	if c.BlobSecure != nil {
		config.BlobSecure = *c.BlobSecure
	}
	if c.BlobChunkSize != 0 {
		config.BlobChunkSize = c.BlobChunkSize
	}
	setDuration(&config.BlobReadURLTTL, c.BlobReadURLTTL)
	setDuration(&config.BlobWriteURLTTL, c.BlobWriteURLTTL)
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v timex.Duration) {
	if v.Duration != 0 {
		*dst = v.Duration
	}
}
