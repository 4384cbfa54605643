package flagx

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFilterArgs(t *testing.T) {
	tests := []struct {
		name         string
		args         []string
		allowedFlags []string
		want         []string
	}{
		{
			name:         "short flag with separate value",
			args:         []string{"-c", "conf.json", "-a", ":8080"},
			allowedFlags: []string{"-c", "-config"},
			want:         []string{"-c", "conf.json"},
		},
		{
			name:         "equals form",
			args:         []string{"-config=alt.json", "-a", ":8080"},
			allowedFlags: []string{"-c", "-config"},
			want:         []string{"-config=alt.json"},
		},
		{
			name:         "server flags picked out of a mixed line",
			args:         []string{"-c", "cfg.json", "-b", "redis", "-R", "localhost:6379", "-x", "1"},
			allowedFlags: []string{"-b", "-R"},
			want:         []string{"-b", "redis", "-R", "localhost:6379"},
		},
		{
			name:         "case sensitive names",
			args:         []string{"-r", "7", "-R", "redis:6379"},
			allowedFlags: []string{"-R"},
			want:         []string{"-R", "redis:6379"},
		},
		{
			name:         "unknown flags ignored",
			args:         []string{"-x", "1", "--y=2", "positional"},
			allowedFlags: []string{"-c"},
			want:         []string{},
		},
		{
			name:         "flag without value at end",
			args:         []string{"-c"},
			allowedFlags: []string{"-c"},
			want:         []string{"-c"},
		},
		{
			name:         "next dash-prefixed token is not a value",
			args:         []string{"-c", "-config=alt.json"},
			allowedFlags: []string{"-c", "-config"},
			want:         []string{"-c", "-config=alt.json"},
		},
		{
			name:         "repeated flag preserved in order",
			args:         []string{"-s", "one", "-s", "two"},
			allowedFlags: []string{"-s"},
			want:         []string{"-s", "one", "-s", "two"},
		},
		{
			name:         "empty args",
			args:         []string{},
			allowedFlags: []string{"-c"},
			want:         []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FilterArgs(tt.args, tt.allowedFlags))
		})
	}
}

func TestConfigPath(t *testing.T) {
	assert.Equal(t, "/etc/a.json", ConfigPath([]string{"-c", "/etc/a.json", "-s", "k"}))
	assert.Equal(t, "/etc/b.json", ConfigPath([]string{"-config=/etc/b.json"}))
	assert.Equal(t, "2.json", ConfigPath([]string{"-c", "1.json", "-config", "2.json"}), "last wins")
	assert.Empty(t, ConfigPath([]string{"-a", ":8080"}))
	assert.Empty(t, ConfigPath(nil))
}

func TestJsonConfigFlags(t *testing.T) {
	origArgs := os.Args
	t.Cleanup(func() { os.Args = origArgs })

	os.Args = []string{"testbin", "-b", "memory", "-c", "/path/short.json"}
	assert.Equal(t, "/path/short.json", JsonConfigFlags())

	os.Args = []string{"testbin"}
	assert.Empty(t, JsonConfigFlags())
}
