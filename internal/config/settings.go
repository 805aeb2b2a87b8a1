package config

import (
	"time"
)

const (
	PrefixDotted = "dotted"
	PrefixBasic  = "basic"

	DefaultClusterHosts = "127.0.0.1:10017"
	DefaultFraming      = "stream"
	DefaultSelection    = "random"

	DefaultSyncInterval           = 200
	DefaultStripInterval          = 2000
	DefaultReplicationFailureRate = 0
	DefaultNodeFailureRate        = 0

	KeyLogLevel = "log_level"
	KeyLogFile  = "log_file"
)

// Key returns the property name of setting under a driver prefix,
// e.g. Key("dotted", "cluster_hosts") is "dotted_cluster_hosts".
func Key(prefix, setting string) string {
	return prefix + "_" + setting
}

// Settings are the typed driver settings. Hosts, framing and selection stay
// strings here; the driver turns them into endpoints and strategies.
type Settings struct {
	Hosts          string
	Framing        string
	Selection      string
	RequestTimeout time.Duration
	DialTimeout    time.Duration
	LegacyRaw      bool

	SyncInterval           int
	StripInterval          int
	ReplicationFailureRate float32
	NodeFailureRate        int
}

// Settings reads every setting under prefix, applying defaults. Any value
// that does not parse is an error.
func (p Properties) Settings(prefix string) (Settings, error) {
	s := Settings{
		Hosts:     p.String(Key(prefix, "cluster_hosts"), DefaultClusterHosts),
		Framing:   p.String(Key(prefix, "framing"), DefaultFraming),
		Selection: p.String(Key(prefix, "selection"), DefaultSelection),
	}

	var err error
	if s.RequestTimeout, err = p.Duration(Key(prefix, "request_timeout"), 0); err != nil {
		return s, err
	}
	if s.DialTimeout, err = p.Duration(Key(prefix, "dial_timeout"), 0); err != nil {
		return s, err
	}
	if s.LegacyRaw, err = p.Bool(Key(prefix, "legacy_raw"), false); err != nil {
		return s, err
	}
	if s.SyncInterval, err = p.Int(Key(prefix, "sync_interval"), DefaultSyncInterval); err != nil {
		return s, err
	}
	if s.StripInterval, err = p.Int(Key(prefix, "strip_interval"), DefaultStripInterval); err != nil {
		return s, err
	}
	if s.ReplicationFailureRate, err = p.Float32(Key(prefix, "replication_failure_rate"), DefaultReplicationFailureRate); err != nil {
		return s, err
	}
	if s.NodeFailureRate, err = p.Int(Key(prefix, "node_failure_rate"), DefaultNodeFailureRate); err != nil {
		return s, err
	}

	return s, nil
}

// Log returns the log level and file settings.
func (p Properties) Log() (level, file string) {
	return p.String(KeyLogLevel, "info"), p.String(KeyLogFile, "")
}
