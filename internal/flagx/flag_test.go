package flagx

import (
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
			args:         []string{"-c", "conf.json", "-u", "alice"},
			allowedFlags: []string{"-c", "--config"},
			want:         []string{"-c", "conf.json"},
		},
		{
			name:         "long flag with equals",
			args:         []string{"--config=alt.json", "-u", "alice"},
			allowedFlags: []string{"-c", "--config"},
			want:         []string{"--config=alt.json"},
		},
		{
			name:         "unknown flags ignored",
			args:         []string{"-x", "1", "--y=2", "positional"},
			allowedFlags: []string{"-c"},
			want:         []string{},
		},
		{
			name:         "flag without value at end is kept",
			args:         []string{"-c"},
			allowedFlags: []string{"-c"},
			want:         []string{"-c"},
		},
		{
			name:         "next dash token is not a value",
			args:         []string{"-c", "-d"},
			allowedFlags: []string{"-c"},
			want:         []string{"-c"},
		},
		{
			name:         "repeated flag preserved in order",
			args:         []string{"-d", "/a", "-b", "photos", "-d", "/b"},
			allowedFlags: []string{"-d", "-b"},
			want:         []string{"-d", "/a", "-b", "photos", "-d", "/b"},
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

func TestJSONConfigPath(t *testing.T) {
	assert.Equal(t, "/p/short.json", JSONConfigPath([]string{"-c", "/p/short.json"}))
	assert.Equal(t, "/p/long.json", JSONConfigPath([]string{"-u", "bob", "-config", "/p/long.json"}))
	assert.Empty(t, JSONConfigPath([]string{"-x", "1"}))
	assert.Equal(t, "/p/2.json", JSONConfigPath([]string{"-c", "/p/1.json", "-config", "/p/2.json"}))
}
