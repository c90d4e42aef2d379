package config

import (
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNetFilterExcludes(t *testing.T) {
	_, n1, _ := net.ParseCIDR("10.0.0.0/24")
	nf := NetFilter{*n1}

	assert.True(t, nf.Excludes(net.ParseIP("10.0.0.5")))
	assert.False(t, nf.Excludes(net.ParseIP("10.0.1.5")))
}

func TestResolveConfigPath(t *testing.T) {
	dir := t.TempDir()
	assert.Equal(t, "/explicit/path.ini", ResolveConfigPath("/explicit/path.ini"))

	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	defer os.Chdir(wd)

	assert.Equal(t, "", ResolveConfigPath(""))
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "/tmp", cfg.General.LogFiles)
	assert.Equal(t, 53, cfg.General.ServerPort)
	assert.Equal(t, 8080, cfg.General.StatusPort)
	assert.Equal(t, 5, cfg.TCP.SessionTimeout)
	assert.Equal(t, 32, cfg.TCP.SessionLimit)
	assert.Equal(t, 8, cfg.TCP.ListenBacklog)
	assert.Equal(t, 2, cfg.QueryFilter.StartThreads)
	assert.Equal(t, 50, cfg.QueryFilter.LimitThreads)
	assert.Equal(t, 2, cfg.ReplyFilter.StartThreads)
	assert.Equal(t, 50, cfg.ReplyFilter.LimitThreads)
	assert.Equal(t, "8.8.8.8", cfg.Forward.ServerAddr)
	assert.Equal(t, 53, cfg.Forward.ServerPort)
	assert.Equal(t, "0.0.0.0", cfg.Forward.LocalAddr)
	assert.Equal(t, 5320, cfg.Forward.LocalPort)
	assert.Equal(t, 10, cfg.Forward.LocalCount)
	assert.Equal(t, "0.0.0.0", cfg.Blocking.ServerAddr)
	assert.Equal(t, 0, cfg.Logging.ClientBinary)
	assert.Nil(t, cfg.NetFilter)
}

func TestLoadFromFile(t *testing.T) {
	content := `
[General]
LogFiles = /var/log/dnsfilterproxy
ServerPort = 5300

[TCP]
SessionTimeout = 10
SessionLimit = 64
ListenBacklog = 16

[QueryFilter]
StartThreads = 4
LimitThreads = 100

[Forward]
ServerAddr = 1.1.1.1
ServerPort = 53
LocalAddr = 0.0.0.0
LocalPort = 6000
LocalCount = 20

[Blocking]
ServerAddr = 192.0.2.1

[Logging]
ClientBinary = 1
ServerBinary = 1
Database = 0

[NetFilter]
Total = 2
1 = 10.0.0.0/24
2 = 192.168.1.5
`
	dir := t.TempDir()
	path := filepath.Join(dir, "test-config.ini")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/log/dnsfilterproxy", cfg.General.LogFiles)
	assert.Equal(t, 5300, cfg.General.ServerPort)
	assert.Equal(t, 10, cfg.TCP.SessionTimeout)
	assert.Equal(t, 64, cfg.TCP.SessionLimit)
	assert.Equal(t, 4, cfg.QueryFilter.StartThreads)
	assert.Equal(t, 100, cfg.QueryFilter.LimitThreads)
	assert.Equal(t, "1.1.1.1", cfg.Forward.ServerAddr)
	assert.Equal(t, 6000, cfg.Forward.LocalPort)
	assert.Equal(t, 20, cfg.Forward.LocalCount)
	assert.Equal(t, "192.0.2.1", cfg.Blocking.ServerAddr)
	assert.Equal(t, 1, cfg.Logging.ClientBinary)

	require.Len(t, cfg.NetFilter, 2)
	assert.True(t, cfg.NetFilter.Excludes(net.ParseIP("10.0.0.77")))
	assert.True(t, cfg.NetFilter.Excludes(net.ParseIP("192.168.1.5")))
	assert.False(t, cfg.NetFilter.Excludes(net.ParseIP("192.168.1.6")))
}

func TestLoadInvalidPath(t *testing.T) {
	_, err := Load("/nonexistent/path/to/config.ini")
	assert.Error(t, err)
}

func TestLoadRejectsBadNetFilterAddr(t *testing.T) {
	content := `
[NetFilter]
Total = 1
1 = not-an-address
`
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.ini")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsInvalidServerPort(t *testing.T) {
	content := `
[General]
ServerPort = 0
`
	dir := t.TempDir()
	path := filepath.Join(dir, "badport.ini")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	_, err := Load(path)
	assert.Error(t, err)
}
