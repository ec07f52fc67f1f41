package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "twitch:\n  url: https://www.twitch.tv/somechannel\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Twitch.URL != "https://www.twitch.tv/somechannel" {
		t.Errorf("twitch url = %q", cfg.Twitch.URL)
	}
	if cfg.Twitch.Transport != "websocket" || cfg.Twitch.HandshakeTimeout != 15*time.Second {
		t.Errorf("twitch defaults = %+v", cfg.Twitch)
	}
	if cfg.Lifecycle.Interval != 5*time.Second || cfg.Recorder.Level != "events" || cfg.Recorder.EventLogLevel != "errors" {
		t.Errorf("defaults = %+v %+v", cfg.Lifecycle, cfg.Recorder)
	}
	if cfg.Health.Addr != ":8080" || cfg.Uploader.MaxRetries != 3 {
		t.Errorf("defaults = %+v %+v", cfg.Health, cfg.Uploader)
	}
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
log:
  level: debug
  format: json
dev: true
twitch:
  transport: irc
  username: bot
  oauth: oauth:abc
  handshake_timeout: 30s
youtube:
  url: https://www.youtube.com/watch?v=dQw4w9WgXcQ
  min_interval: 2s
  max_interval: 20s
kick:
  url: https://kick.com/xqc
  chatrooms:
    xqc: 668
recorder:
  level: all
  event_log_level: unknown
archive:
  database_url: postgres://localhost/unichat
  flush_every: 500ms
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.Dev || cfg.Log.Level != "debug" || cfg.Log.Format != "json" {
		t.Errorf("log/dev = %+v %v", cfg.Log, cfg.Dev)
	}
	if cfg.Twitch.Transport != "irc" || cfg.Twitch.HandshakeTimeout != 30*time.Second {
		t.Errorf("twitch = %+v", cfg.Twitch)
	}
	if cfg.YouTube.MinInterval != 2*time.Second || cfg.YouTube.MaxInterval != 20*time.Second {
		t.Errorf("youtube = %+v", cfg.YouTube)
	}
	if cfg.Kick.Chatrooms["xqc"] != 668 {
		t.Errorf("kick = %+v", cfg.Kick)
	}
	if cfg.Archive.FlushEvery != 500*time.Millisecond || cfg.Archive.DatabaseURL == "" {
		t.Errorf("archive = %+v", cfg.Archive)
	}
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("UNICHAT_TWITCH_URL", "https://www.twitch.tv/fromenv")
	t.Setenv("TWITCH_OAUTH", "oauth:env")
	t.Setenv("AWS_ROLE_ARN", "arn:aws:iam::123:role/chat")
	t.Setenv("DATABASE_URL", "postgres://env/unichat")
	t.Setenv("UNICHAT_DEV", "true")

	cfg, err := Load(writeConfig(t, `
twitch:
  url: https://www.twitch.tv/fromfile
  oauth: oauth:file
uploader:
  enabled: true
s3:
  bucket: chat-archive
  region: us-east-1
`))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Twitch.URL != "https://www.twitch.tv/fromenv" || cfg.Twitch.OAuth != "oauth:env" {
		t.Errorf("twitch = %+v", cfg.Twitch)
	}
	if cfg.S3.RoleARN != "arn:aws:iam::123:role/chat" || cfg.Archive.DatabaseURL != "postgres://env/unichat" || !cfg.Dev {
		t.Errorf("overrides not applied: %+v %+v %v", cfg.S3, cfg.Archive, cfg.Dev)
	}
}

func TestValidate(t *testing.T) {
	tests := map[string]struct {
		yaml string
		want string
	}{
		"transport": {
			yaml: "twitch:\n  transport: carrier-pigeon\n",
			want: "twitch.transport",
		},
		"irc oauth": {
			yaml: "twitch:\n  transport: irc\n  username: bot\n",
			want: "twitch.oauth",
		},
		"intervals": {
			yaml: "youtube:\n  min_interval: 5s\n  max_interval: 1s\n",
			want: "youtube.max_interval",
		},
		"recorder level": {
			yaml: "recorder:\n  level: verbose\n",
			want: "recorder.level",
		},
		"event log level": {
			yaml: "recorder:\n  event_log_level: some\n",
			want: "recorder.event_log_level",
		},
		"bucket": {
			yaml: "uploader:\n  enabled: true\n",
			want: "s3.bucket",
		},
		"credentials": {
			yaml: "uploader:\n  enabled: true\ns3:\n  bucket: b\n  region: r\n",
			want: "s3.role_arn",
		},
		"secret": {
			yaml: "uploader:\n  enabled: true\ns3:\n  bucket: b\n  region: r\n  access_key_id: AKIA\n",
			want: "s3.secret_access_key",
		},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.yaml))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("err = %v, want mention of %s", err, tt.want)
			}
		})
	}
}

func TestMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected an error for an explicit missing path")
	}
}
