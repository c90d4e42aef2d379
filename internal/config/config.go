package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// defaultConfigPaths are tried in order when no path is given explicitly,
// mirroring the original proxy's "./dnsproxy.ini then /etc/dnsproxy.ini"
// fallback.
var defaultConfigPaths = []string{
	"./dnsfilterproxy.ini",
	"/etc/dnsfilterproxy.ini",
}

// ResolveConfigPath returns flagValue if set, otherwise the first of
// defaultConfigPaths that exists, otherwise "" (defaults only).
func ResolveConfigPath(flagValue string) string {
	if strings.TrimSpace(flagValue) != "" {
		return flagValue
	}
	for _, p := range defaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("general.logfiles", "/tmp")
	v.SetDefault("general.serverport", 53)
	v.SetDefault("general.statusport", 8080)

	v.SetDefault("tcp.sessiontimeout", 5)
	v.SetDefault("tcp.sessionlimit", 32)
	v.SetDefault("tcp.listenbacklog", 8)

	v.SetDefault("queryfilter.startthreads", 2)
	v.SetDefault("queryfilter.limitthreads", 50)

	v.SetDefault("replyfilter.startthreads", 2)
	v.SetDefault("replyfilter.limitthreads", 50)

	v.SetDefault("forward.serveraddr", "8.8.8.8")
	v.SetDefault("forward.serverport", 53)
	v.SetDefault("forward.localaddr", "0.0.0.0")
	v.SetDefault("forward.localport", 5320)
	v.SetDefault("forward.localcount", 10)

	v.SetDefault("blocking.serveraddr", "0.0.0.0")

	v.SetDefault("logging.clientbinary", 0)
	v.SetDefault("logging.serverbinary", 0)
	v.SetDefault("logging.database", 0)

	v.SetDefault("database.hostname", "")
	v.SetDefault("database.username", "")
	v.SetDefault("database.password", "")
	v.SetDefault("database.database", "")
	v.SetDefault("database.flags", 0)
	v.SetDefault("database.port", 0)

	v.SetDefault("netfilter.total", 0)
}

// Load reads the key/value-group configuration file at path (INI format)
// over a set of hardcoded defaults. An empty path means "defaults only".
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("ini")
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	cfg := &Config{
		General: GeneralConfig{
			LogFiles:   v.GetString("general.logfiles"),
			ServerPort: v.GetInt("general.serverport"),
			StatusPort: v.GetInt("general.statusport"),
		},
		TCP: TCPConfig{
			SessionTimeout: v.GetInt("tcp.sessiontimeout"),
			SessionLimit:   v.GetInt("tcp.sessionlimit"),
			ListenBacklog:  v.GetInt("tcp.listenbacklog"),
		},
		QueryFilter: PoolConfig{
			StartThreads: v.GetInt("queryfilter.startthreads"),
			LimitThreads: v.GetInt("queryfilter.limitthreads"),
		},
		ReplyFilter: PoolConfig{
			StartThreads: v.GetInt("replyfilter.startthreads"),
			LimitThreads: v.GetInt("replyfilter.limitthreads"),
		},
		Forward: ForwardConfig{
			ServerAddr: v.GetString("forward.serveraddr"),
			ServerPort: v.GetInt("forward.serverport"),
			LocalAddr:  v.GetString("forward.localaddr"),
			LocalPort:  v.GetInt("forward.localport"),
			LocalCount: v.GetInt("forward.localcount"),
		},
		Blocking: BlockingConfig{
			ServerAddr: v.GetString("blocking.serveraddr"),
		},
		Logging: LoggingConfig{
			ClientBinary: v.GetInt("logging.clientbinary"),
			ServerBinary: v.GetInt("logging.serverbinary"),
			Database:     v.GetInt("logging.database"),
		},
		Database: DatabaseConfig{
			Hostname: v.GetString("database.hostname"),
			Username: v.GetString("database.username"),
			Password: v.GetString("database.password"),
			Database: v.GetString("database.database"),
			Flags:    v.GetInt("database.flags"),
			Port:     v.GetInt("database.port"),
		},
	}

	nf, err := parseNetFilter(v)
	if err != nil {
		return nil, err
	}
	cfg.NetFilter = nf

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// parseNetFilter reads the NetFilter group's Total count plus its
// numbered entries and resolves each "addr[/mask]" into a net.IPNet,
// defaulting the mask to /32 (§6.3).
func parseNetFilter(v *viper.Viper) (NetFilter, error) {
	total := v.GetInt("netfilter.total")
	if total <= 0 {
		return nil, nil
	}

	nf := make(NetFilter, 0, total)
	for i := 1; i <= total; i++ {
		raw := strings.TrimSpace(v.GetString(fmt.Sprintf("netfilter.%d", i)))
		if raw == "" {
			continue
		}
		ipNet, err := parseAddrMask(raw)
		if err != nil {
			return nil, fmt.Errorf("config: netfilter.%d: %w", i, err)
		}
		nf = append(nf, *ipNet)
	}
	return nf, nil
}

func parseAddrMask(raw string) (*net.IPNet, error) {
	addrPart, maskPart, hasMask := strings.Cut(raw, "/")
	ip := net.ParseIP(addrPart)
	if ip == nil {
		return nil, fmt.Errorf("invalid address %q", addrPart)
	}
	ip4 := ip.To4()
	if ip4 == nil {
		return nil, fmt.Errorf("address %q is not IPv4", addrPart)
	}

	prefixLen := 32
	if hasMask {
		n, err := strconv.Atoi(maskPart)
		if err != nil || n < 0 || n > 32 {
			return nil, fmt.Errorf("invalid mask %q", maskPart)
		}
		prefixLen = n
	}

	return &net.IPNet{IP: ip4.Mask(net.CIDRMask(prefixLen, 32)), Mask: net.CIDRMask(prefixLen, 32)}, nil
}

func validate(cfg *Config) error {
	if cfg.General.ServerPort <= 0 || cfg.General.ServerPort > 65535 {
		return fmt.Errorf("config: general.serverport must be 1..65535")
	}
	if cfg.Forward.ServerPort <= 0 || cfg.Forward.ServerPort > 65535 {
		return fmt.Errorf("config: forward.serverport must be 1..65535")
	}
	if cfg.Forward.LocalCount <= 0 {
		return fmt.Errorf("config: forward.localcount must be positive")
	}
	if cfg.TCP.SessionLimit <= 0 {
		return fmt.Errorf("config: tcp.sessionlimit must be positive")
	}
	return nil
}
