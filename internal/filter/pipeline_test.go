package filter

import (
	"log/slog"
	"net/netip"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nullhorizon/dnsfilterproxy/internal/config"
	"github.com/nullhorizon/dnsfilterproxy/internal/policystore"
	"github.com/nullhorizon/dnsfilterproxy/internal/proxytable"
)

type fakeReplyer struct {
	mu    sync.Mutex
	calls []*proxytable.OQ
}

func (f *fakeReplyer) ForwardUDPReply(oq *proxytable.OQ) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, oq)
}
func (f *fakeReplyer) ForwardTCPReply(oq *proxytable.OQ) { f.ForwardUDPReply(oq) }

type fakeForwarder struct {
	mu    sync.Mutex
	calls []*proxytable.OQ
}

func (f *fakeForwarder) ForwardUDP(oq *proxytable.OQ) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, oq)
}
func (f *fakeForwarder) ForwardTCP(oq *proxytable.OQ) { f.ForwardUDP(oq) }

func newTestPipeline(t *testing.T) (*Pipeline, *proxytable.Table, *fakeReplyer, *fakeForwarder) {
	t.Helper()

	store, err := policystore.Open(filepath.Join(t.TempDir(), "policy.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	networks, err := store.LoadNetworkRoster()
	require.NoError(t, err)

	tbl := proxytable.New(1)
	client := &fakeReplyer{}
	upstream := &fakeForwarder{}
	log := slog.New(slog.DiscardHandler)

	cfg := &config.Config{
		Blocking:    config.BlockingConfig{ServerAddr: "192.0.2.1"},
		QueryFilter: config.PoolConfig{StartThreads: 1, LimitThreads: 1},
		ReplyFilter: config.PoolConfig{StartThreads: 1, LimitThreads: 1},
	}

	p := New(log, cfg, tbl, store, networks, client, upstream, nil)
	t.Cleanup(p.Stop)
	return p, tbl, client, upstream
}

func insertQuery(tbl *proxytable.Table, origin string, qname string) proxytable.Ref {
	addr := netip.MustParseAddrPort(origin)
	oq := &proxytable.OQ{
		Origin:    addr,
		Transport: proxytable.TransportUDP,
		RawQuery:  []byte{0, 0, 1, 0, 0, 1, 0, 0, 0, 0, 0, 0, 0},
		QID:       0x1234,
		QName:     qname,
		QType:     1,
		QClass:    1,
	}
	tbl.Insert(oq)
	return proxytable.Ref{Grid: oq.Grid, Slot: oq.Slot}
}

func TestHandleQueryBlocksUnknownNetwork(t *testing.T) {
	p, tbl, client, upstream := newTestPipeline(t)
	ref := insertQuery(tbl, "192.0.2.9:4000", "example.com.")

	p.handleQuery(ref)

	client.mu.Lock()
	defer client.mu.Unlock()
	assert.Len(t, client.calls, 1)
	assert.Empty(t, upstream.calls)

	_, ok := tbl.Retrieve(ref.Grid, ref.Slot)
	assert.False(t, ok, "OQ should be removed after blocking")
}

func TestHandleReplyDispatchesAndRemoves(t *testing.T) {
	p, tbl, client, _ := newTestPipeline(t)
	ref := insertQuery(tbl, "10.0.0.5:4000", "example.com.")

	oq, _ := tbl.Retrieve(ref.Grid, ref.Slot)
	oq.RawReply = []byte{0x12, 0x34}

	p.handleReply(ref)

	client.mu.Lock()
	defer client.mu.Unlock()
	assert.Len(t, client.calls, 1)

	_, ok := tbl.Retrieve(ref.Grid, ref.Slot)
	assert.False(t, ok)
}

func TestHandleQueryMissingOQIsNoOp(t *testing.T) {
	p, _, client, upstream := newTestPipeline(t)
	p.handleQuery(proxytable.Ref{Grid: 0, Slot: 5})

	assert.Empty(t, client.calls)
	assert.Empty(t, upstream.calls)
}
