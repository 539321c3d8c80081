package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "cfg.yaml")
	require.NoError(t, os.WriteFile(p, []byte(`
database:
  host: "localhost"
  port: 5432
  username: "u"
  password: "p"
  name: "db"
kafka:
  host: "localhost"
  port: 9092
  tracking_updated_topic_name: "tracking.updated"
  refresh_requested_topic_name: "tracking.refresh.requested"
  consumer_group: "track-jobs"
redis:
  host: "localhost"
  port: 6379
tracking:
  http_addr: ":8082"
  batch_size: 50
  max_concurrent: 5
  max_attempts: 3
  courier_mode: "fake"
`), 0o600))

	cfg, err := LoadConfig(p)
	require.NoError(t, err)
	require.Equal(t, "u", cfg.Database.Username)
	require.Equal(t, "tracking.updated", cfg.Kafka.TrackingUpdatedTopicName)
	require.Equal(t, 6379, cfg.Redis.Port)
	require.Equal(t, ":8082", cfg.Tracking.HTTPAddr)
	require.Equal(t, 5, cfg.Tracking.MaxConcurrent)
	require.Equal(t, "fake", cfg.Tracking.CourierMode)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}
