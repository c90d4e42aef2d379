package policystore

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "policy.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func seedNetwork(t *testing.T, s *Store, objectID, ownerID uint64, addr string) {
	t.Helper()
	_, err := s.conn.Exec(`INSERT INTO user_network (object_id, owner_id, net_address) VALUES (?, ?, ?)`, objectID, ownerID, addr)
	require.NoError(t, err)
}

func seedPolicy(t *testing.T, s *Store, policyID uint64, class string, target uint64, kind PolicyListKind, domain string) {
	t.Helper()
	_, err := s.conn.Exec(`INSERT OR IGNORE INTO policy_definition (object_id) VALUES (?)`, policyID)
	require.NoError(t, err)
	_, err = s.conn.Exec(`INSERT INTO policy_assignment (policy, class, target) VALUES (?, ?, ?)`, policyID, class, target)
	require.NoError(t, err)
	_, err = s.conn.Exec(`INSERT INTO `+kind.tableName()+` (policy, domain) VALUES (?, ?)`, policyID, domain)
	require.NoError(t, err)
}

func TestSuffixes(t *testing.T) {
	got := Suffixes("a.b.c.example.com.")
	assert.Equal(t, []string{
		"a.b.c.example.com",
		"b.c.example.com",
		"c.example.com",
		"example.com",
		"com",
	}, got)
}

func TestSuffixesRoot(t *testing.T) {
	assert.Nil(t, Suffixes("."))
}

func TestLoadNetworkRoster(t *testing.T) {
	s := openTestStore(t)
	seedNetwork(t, s, 1, 10, "10.0.0.5")
	seedNetwork(t, s, 2, 20, "10.0.0.6")

	tbl, err := s.LoadNetworkRoster()
	require.NoError(t, err)
	assert.Equal(t, 2, tbl.Len())

	ne, ok := tbl.Lookup("10.0.0.5")
	require.True(t, ok)
	assert.Equal(t, uint64(1), ne.ObjectID)
	assert.Equal(t, uint64(10), ne.OwnerID)

	_, ok = tbl.Lookup("192.0.2.1")
	assert.False(t, ok)
}

func TestCheckPolicyListSuffixMatch(t *testing.T) {
	s := openTestStore(t)
	seedPolicy(t, s, 1, "network", 1, PolicyDeny, "example.com")

	ne := NetworkEntry{ObjectID: 1, OwnerID: 1}
	matched, err := s.CheckPolicyList(PolicyDeny, ne, "a.b.example.com.")
	require.NoError(t, err)
	assert.True(t, matched, "deny entry for example.com should cover a.b.example.com.")
}

func TestCheckPolicyListNoMatch(t *testing.T) {
	s := openTestStore(t)
	seedPolicy(t, s, 1, "network", 1, PolicyDeny, "other.org")

	ne := NetworkEntry{ObjectID: 1, OwnerID: 1}
	matched, err := s.CheckPolicyList(PolicyDeny, ne, "example.com.")
	require.NoError(t, err)
	assert.False(t, matched)
}

func TestCheckPolicyListMatchesByOwner(t *testing.T) {
	s := openTestStore(t)
	seedPolicy(t, s, 1, "user", 99, PolicyAllow, "example.com")

	ne := NetworkEntry{ObjectID: 1, OwnerID: 99}
	matched, err := s.CheckPolicyList(PolicyAllow, ne, "example.com.")
	require.NoError(t, err)
	assert.True(t, matched)
}
