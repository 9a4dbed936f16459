package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lookupFrom(env map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
}

func TestDefault(t *testing.T) {
	c := Default()
	assert.Equal(t, "http://localhost:5000", c.Endpoint)
	assert.False(t, c.AutoConnect)
	assert.True(t, c.Reconnection)
	assert.Equal(t, 5, c.ReconnectionAttempts)
	assert.Equal(t, time.Second, c.ReconnectionDelay)
	require.NoError(t, c.Validate())
}

func TestFromLookup(t *testing.T) {
	c := fromLookup(lookupFrom(map[string]string{
		"CHAT_SERVER_URL":            "https://chat.example.com",
		"CHAT_AUTO_CONNECT":          "yes",
		"CHAT_RECONNECTION":          "0",
		"CHAT_RECONNECTION_ATTEMPTS": "3",
		"CHAT_RECONNECTION_DELAY_MS": "250",
		"CHAT_TRANSPORT":             "gorilla",
		"CHAT_CODEC":                 "json",
	}))

	assert.Equal(t, "https://chat.example.com", c.Endpoint)
	assert.True(t, c.AutoConnect)
	assert.False(t, c.Reconnection)
	assert.Equal(t, 3, c.ReconnectionAttempts)
	assert.Equal(t, 250*time.Millisecond, c.ReconnectionDelay)
	assert.Equal(t, "gorilla", c.Transport)
	assert.Equal(t, "json", c.Codec)
	require.NoError(t, c.Validate())
}

func TestFromLookup_IgnoresGarbage(t *testing.T) {
	c := fromLookup(lookupFrom(map[string]string{
		"CHAT_RECONNECTION_ATTEMPTS": "many",
		"CHAT_RECONNECTION":          "maybe",
		"CHAT_SERVER_URL":            "   ",
	}))
	assert.Equal(t, Default(), c)
}

func TestFromLookup_NegativeValuesFailValidation(t *testing.T) {
	tests := map[string]string{
		"CHAT_RECONNECTION_ATTEMPTS": "-1",
		"CHAT_RECONNECTION_DELAY_MS": "-1000",
		"CHAT_DIAL_TIMEOUT_MS":       "-5",
		"CHAT_WRITE_TIMEOUT_MS":      "-5",
	}
	for key, value := range tests {
		t.Run(key, func(t *testing.T) {
			c := fromLookup(lookupFrom(map[string]string{key: value}))
			assert.Error(t, c.Validate())
		})
	}
}

func TestFromLookup_ZeroDelayIsKept(t *testing.T) {
	c := fromLookup(lookupFrom(map[string]string{"CHAT_RECONNECTION_DELAY_MS": "0"}))
	assert.Equal(t, time.Duration(0), c.ReconnectionDelay)
	require.NoError(t, c.Validate())
}

func TestFromLookup_MalformedNumbersUseDefaults(t *testing.T) {
	c := fromLookup(lookupFrom(map[string]string{
		"CHAT_RECONNECTION_DELAY_MS": "1s",
		"CHAT_DIAL_TIMEOUT_MS":       "soon",
	}))
	assert.Equal(t, DefaultReconnectionDelay, c.ReconnectionDelay)
	assert.Equal(t, DefaultDialTimeout, c.DialTimeout)
	require.NoError(t, c.Validate())
}

func TestSocketURL(t *testing.T) {
	tests := []struct {
		endpoint string
		want     string
		wantErr  bool
	}{
		{endpoint: "http://localhost:5000", want: "ws://localhost:5000/socket"},
		{endpoint: "https://chat.example.com/", want: "wss://chat.example.com/socket"},
		{endpoint: "ws://127.0.0.1:9000/custom", want: "ws://127.0.0.1:9000/custom"},
		{endpoint: "ftp://example.com", wantErr: true},
		{endpoint: "http://", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.endpoint, func(t *testing.T) {
			c := Default()
			c.Endpoint = tt.endpoint
			got, err := c.SocketURL()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestValidate(t *testing.T) {
	c := Default()
	c.Transport = "carrier-pigeon"
	assert.Error(t, c.Validate())

	c = Default()
	c.Codec = "xml"
	assert.Error(t, c.Validate())

	c = Default()
	c.ReconnectionAttempts = -1
	assert.Error(t, c.Validate())

	c = Default()
	c.ReconnectionDelay = -time.Second
	assert.Error(t, c.Validate())
}
