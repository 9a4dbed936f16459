// Package config resolves the session configuration from the environment.
//
// Environment:
//
//	CHAT_SERVER_URL              (default http://localhost:5000)
//	CHAT_SOCKET_PATH             (default /socket, used when the URL has no path)
//	CHAT_AUTO_CONNECT            (default false)
//	CHAT_RECONNECTION            (default true)
//	CHAT_RECONNECTION_ATTEMPTS   (default 5)
//	CHAT_RECONNECTION_DELAY_MS   (default 1000)
//	CHAT_TRANSPORT               (gobwas | gorilla | nhooyr, default gobwas)
//	CHAT_CODEC                   (proto | json, default proto)
//	CHAT_DIAL_TIMEOUT_MS         (default 5000)
//	CHAT_WRITE_TIMEOUT_MS        (default 5000)
package config

import (
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/golang/glog"
	"github.com/pkg/errors"

	"github.com/omochice/chat-session/internal/transport"
	"github.com/omochice/chat-session/pkg/protocol"
)

// Defaults.
const (
	DefaultEndpoint             = "http://localhost:5000"
	DefaultPath                 = "/socket"
	DefaultReconnectionAttempts = 5
	DefaultReconnectionDelay    = 1000 * time.Millisecond
	DefaultDialTimeout          = 5 * time.Second
	DefaultWriteTimeout         = 5 * time.Second
)

// Config is consumed once when a session is built.
type Config struct {
	Endpoint             string
	Path                 string
	AutoConnect          bool
	Reconnection         bool
	ReconnectionAttempts int
	ReconnectionDelay    time.Duration
	Transport            string
	Codec                string
	DialTimeout          time.Duration
	WriteTimeout         time.Duration
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Endpoint:             DefaultEndpoint,
		Path:                 DefaultPath,
		AutoConnect:          false,
		Reconnection:         true,
		ReconnectionAttempts: DefaultReconnectionAttempts,
		ReconnectionDelay:    DefaultReconnectionDelay,
		Transport:            transport.Gobwas,
		Codec:                protocol.CodecProto,
		DialTimeout:          DefaultDialTimeout,
		WriteTimeout:         DefaultWriteTimeout,
	}
}

// FromEnv overlays the process environment on Default.
func FromEnv() Config {
	return fromLookup(os.LookupEnv)
}

func fromLookup(lookup func(string) (string, bool)) Config {
	c := Default()
	c.Endpoint = getString(lookup, "CHAT_SERVER_URL", c.Endpoint)
	c.Path = getString(lookup, "CHAT_SOCKET_PATH", c.Path)
	c.AutoConnect = getBool(lookup, "CHAT_AUTO_CONNECT", c.AutoConnect)
	c.Reconnection = getBool(lookup, "CHAT_RECONNECTION", c.Reconnection)
	c.ReconnectionAttempts = getInt(lookup, "CHAT_RECONNECTION_ATTEMPTS", c.ReconnectionAttempts)
	c.ReconnectionDelay = getMillis(lookup, "CHAT_RECONNECTION_DELAY_MS", c.ReconnectionDelay)
	c.Transport = getString(lookup, "CHAT_TRANSPORT", c.Transport)
	c.Codec = getString(lookup, "CHAT_CODEC", c.Codec)
	c.DialTimeout = getMillis(lookup, "CHAT_DIAL_TIMEOUT_MS", c.DialTimeout)
	c.WriteTimeout = getMillis(lookup, "CHAT_WRITE_TIMEOUT_MS", c.WriteTimeout)
	return c
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	if _, err := c.SocketURL(); err != nil {
		return err
	}
	switch c.Transport {
	case transport.Gobwas, transport.Gorilla, transport.Nhooyr:
	default:
		return errors.Errorf("unknown transport %q", c.Transport)
	}
	if _, err := protocol.CodecByName(c.Codec); err != nil {
		return err
	}
	if c.ReconnectionAttempts < 0 {
		return errors.Errorf("reconnection attempts must not be negative, got %d", c.ReconnectionAttempts)
	}
	if c.ReconnectionDelay < 0 || c.DialTimeout < 0 || c.WriteTimeout < 0 {
		return errors.New("durations must not be negative")
	}
	return nil
}

// SocketURL turns the endpoint into a WebSocket URL: http becomes ws, https
// becomes wss, and Path is appended when the endpoint has no path of its own.
func (c Config) SocketURL() (string, error) {
	u, err := url.Parse(c.Endpoint)
	if err != nil {
		return "", errors.Wrapf(err, "parse endpoint %q", c.Endpoint)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", errors.Errorf("unsupported endpoint scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", errors.Errorf("endpoint %q has no host", c.Endpoint)
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = c.Path
	}
	return u.String(), nil
}

func getString(lookup func(string) (string, bool), key, def string) string {
	if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return def
}

// getInt returns negative values as given so Validate can reject them.
func getInt(lookup func(string) (string, bool), key string, def int) int {
	v, ok := lookup(key)
	if !ok || strings.TrimSpace(v) == "" {
		return def
	}
	i, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		glog.Infof("[config]%s=%q is not an integer, using %d\n", key, v, def)
		return def
	}
	return i
}

func getBool(lookup func(string) (string, bool), key string, def bool) bool {
	v, ok := lookup(key)
	if !ok {
		return def
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	default:
		glog.Infof("[config]%s=%q is not a boolean, using %t\n", key, v, def)
		return def
	}
}

func getMillis(lookup func(string) (string, bool), key string, def time.Duration) time.Duration {
	v, ok := lookup(key)
	if !ok || strings.TrimSpace(v) == "" {
		return def
	}
	ms, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		glog.Infof("[config]%s=%q is not a number of milliseconds, using %s\n", key, v, def)
		return def
	}
	return time.Duration(ms) * time.Millisecond
}
