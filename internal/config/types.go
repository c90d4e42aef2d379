// Package config loads the proxy's key/value-group configuration file using
// Viper, reading it as INI rather than YAML.
//
// Recognized groups, with their defaults, mirror the on-disk format exactly:
// General, TCP, QueryFilter, ReplyFilter, Forward, Blocking, Logging,
// Database, NetFilter.
package config

import "net"

// GeneralConfig holds process-wide settings.
type GeneralConfig struct {
	LogFiles   string
	ServerPort int
	StatusPort int
}

// TCPConfig controls the client-facing TCP session list.
type TCPConfig struct {
	SessionTimeout int
	SessionLimit   int
	ListenBacklog  int
}

// PoolConfig is shared by QueryFilter and ReplyFilter: the starting and
// maximum worker counts of a filter pool.
type PoolConfig struct {
	StartThreads int
	LimitThreads int
}

// ForwardConfig describes the upstream resolver and the local push-socket
// bank used to reach it.
type ForwardConfig struct {
	ServerAddr string
	ServerPort int
	LocalAddr  string
	LocalPort  int
	LocalCount int
}

// BlockingConfig names the sink address returned in synthesized block
// responses.
type BlockingConfig struct {
	ServerAddr string
}

// LoggingConfig toggles debug logging; zero means disabled. ClientBinary and
// ServerBinary enable hex dumps of client and upstream wire traffic;
// Database enables logging of the policy store's SQL query text.
type LoggingConfig struct {
	ClientBinary int
	ServerBinary int
	Database     int
}

// DatabaseConfig holds the policy store's connection parameters. Hostname
// is a filesystem path for the SQLite-backed store this proxy uses; the
// remaining fields are carried for parity with the on-disk format and are
// otherwise unused.
type DatabaseConfig struct {
	Hostname string
	Username string
	Password string
	Database string
	Flags    int
	Port     int
}

// NetFilter is a set of address/mask pairs read from the NetFilter group.
// An interface address is excluded from client-side binding when it falls
// inside any of these networks.
type NetFilter []net.IPNet

// Excludes reports whether addr falls inside any configured network.
func (nf NetFilter) Excludes(addr net.IP) bool {
	for _, n := range nf {
		if n.Contains(addr) {
			return true
		}
	}
	return false
}

// Config is the root configuration structure, one field per recognized
// group.
type Config struct {
	General     GeneralConfig
	TCP         TCPConfig
	QueryFilter PoolConfig
	ReplyFilter PoolConfig
	Forward     ForwardConfig
	Blocking    BlockingConfig
	Logging     LoggingConfig
	Database    DatabaseConfig
	NetFilter   NetFilter
}
