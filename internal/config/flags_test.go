package config

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFlags(t *testing.T) {
	tests := []struct {
		expected  *Config
		name      string
		args      []string
		expectErr bool
	}{
		{
			name: "all flags",
			args: []string{
				"-s", "postgres", "-d", "db", "-p", "/data", "-r", "root2", "-e", "a@b.c", "-w", "pw", "-l", "text",
				"-b", "minio", "-H", "minio", "-P", "9000", "-u", "user", "-k", "secret",
				"-g", "us-west-1", "-B", "bucket", "-z", "1024", "-R", "1h", "-W", "10m",
			},
			expected: &Config{
				StoreBackend:    "postgres",
				DatabaseDSN:     "db",
				BadgerPath:      "/data",
				RootCredentials: "root2",
				RootEmail:       "a@b.c",
				RootPassword:    "pw",
				LogFormat:       "text",
				BlobDriver:      "minio",
				BlobHost:        "minio",
				BlobPort:        9000,
				BlobAccessKey:   "user",
				BlobSecretKey:   "secret",
				BlobRegion:      "us-west-1",
				BlobBucket:      "bucket",
				BlobChunkSize:   1024,
				BlobReadURLTTL:  time.Hour,
				BlobWriteURLTTL: 10 * time.Minute,
			},
		},
		{
			name:     "foreign flags are ignored",
			args:     []string{"-c", "cfg.json", "-x", "-s", "badger"},
			expected: &Config{StoreBackend: "badger"},
		},
		{
			name:      "bad duration",
			args:      []string{"-R", "forever"},
			expectErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := &Config{}
			err := parseFlags(config, tt.args)
			if tt.expectErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Empty(t, cmp.Diff(tt.expected, config))
		})
	}
}
