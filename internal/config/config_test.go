package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/victornm/quizsync/internal/config"
)

type testConfig struct {
	HTTP struct {
		Port int32
		Path string
	}

	Session struct {
		IdleTTL time.Duration
	}
}

func defaults() testConfig {
	var c testConfig
	c.HTTP.Port = 8080
	c.HTTP.Path = "/game"
	c.Session.IdleTTL = 6 * time.Hour
	return c
}

func TestLoad(t *testing.T) {
	tests := map[string]struct {
		file    string
		env     map[string]string
		want    func(c *testConfig)
		wantErr bool
	}{
		"no file should keep defaults": {
			want: func(c *testConfig) {},
		},

		"file should override defaults": {
			file: "http:\n  port: 9000\nsession:\n  idlettl: 30m\n",
			want: func(c *testConfig) {
				c.HTTP.Port = 9000
				c.Session.IdleTTL = 30 * time.Minute
			},
		},

		"environment should override the file": {
			file: "http:\n  port: 9000\n",
			env:  map[string]string{"HTTP_PORT": "9100", "HTTP_PATH": "/quiz"},
			want: func(c *testConfig) {
				c.HTTP.Port = 9100
				c.HTTP.Path = "/quiz"
			},
		},

		"invalid file should fail": {
			file:    "http: [\n",
			wantErr: true,
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			var path string
			if tt.file != "" {
				path = filepath.Join(t.TempDir(), "config.yaml")
				require.NoError(t, os.WriteFile(path, []byte(tt.file), 0o600))
			}

			got := defaults()
			err := config.Load(path, &got)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)

			want := defaults()
			tt.want(&want)
			require.Equal(t, want, got)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	c := defaults()
	err := config.Load(filepath.Join(t.TempDir(), "nope.yaml"), &c)
	require.Error(t, err)
}
