// Package filter wires the outstanding-query table, the policy store, and
// the client/upstream I/O cores into the two worker pools described for
// the filter pipeline (C5): QueryPool evaluates policy on a freshly
// inserted query, ReplyPool dispatches an upstream reply back to its
// client.
package filter

import (
	"context"
	"log/slog"
	"net"

	"github.com/nullhorizon/dnsfilterproxy/internal/config"
	"github.com/nullhorizon/dnsfilterproxy/internal/dnswire"
	"github.com/nullhorizon/dnsfilterproxy/internal/filterpool"
	"github.com/nullhorizon/dnsfilterproxy/internal/policystore"
	"github.com/nullhorizon/dnsfilterproxy/internal/pool"
	"github.com/nullhorizon/dnsfilterproxy/internal/proxytable"
)

// queueCapacity is the FIFO depth of each filter pool's work queue.
const queueCapacity = 4096

// replyer is the client-facing reply-transmission surface the pipeline
// needs from clientio.Core.
type replyer interface {
	ForwardUDPReply(oq *proxytable.OQ)
	ForwardTCPReply(oq *proxytable.OQ)
}

// forwarder is the upstream-facing forwarding surface the pipeline needs
// from upstreamio.Core.
type forwarder interface {
	ForwardUDP(oq *proxytable.OQ)
	ForwardTCP(oq *proxytable.OQ)
}

// Pipeline is the assembled C5 component.
type Pipeline struct {
	log      *slog.Logger
	table    *proxytable.Table
	store    *policystore.Store
	networks *policystore.NetworkTable
	client   replyer
	upstream forwarder

	blockSink [4]byte
	builders  *pool.Pool[*dnswire.Builder]

	queryPool *filterpool.Pool
	replyPool *filterpool.Pool

	onFatal func(error)
}

// New assembles the filter pipeline and starts both pools with their
// configured start_count workers.
func New(
	log *slog.Logger,
	cfg *config.Config,
	table *proxytable.Table,
	store *policystore.Store,
	networks *policystore.NetworkTable,
	client replyer,
	upstream forwarder,
	onFatal func(error),
) *Pipeline {
	p := &Pipeline{
		log:       log,
		table:     table,
		store:     store,
		networks:  networks,
		client:    client,
		upstream:  upstream,
		blockSink: parseSink(cfg.Blocking.ServerAddr),
		builders:  pool.New(func() *dnswire.Builder { return dnswire.NewBuilder() }),
		onFatal:   onFatal,
	}
	p.queryPool = filterpool.New("query", cfg.QueryFilter.StartThreads, cfg.QueryFilter.LimitThreads, queueCapacity)
	p.replyPool = filterpool.New("reply", cfg.ReplyFilter.StartThreads, cfg.ReplyFilter.LimitThreads, queueCapacity)
	return p
}

func parseSink(addr string) [4]byte {
	var sink [4]byte
	ip4 := net.ParseIP(addr).To4()
	if ip4 != nil {
		copy(sink[:], ip4)
	}
	return sink
}

// Stop signals both pools to drain and exit.
func (p *Pipeline) Stop() {
	p.queryPool.Stop()
	p.replyPool.Stop()
}

// QueryPool exposes the QueryPool's worker/queue counters for the status
// surface.
func (p *Pipeline) QueryPool() *filterpool.Pool { return p.queryPool }

// ReplyPool exposes the ReplyPool's worker/queue counters for the status
// surface.
func (p *Pipeline) ReplyPool() *filterpool.Pool { return p.replyPool }

// PumpQueries reads (grid, slot) refs from queryQueue and dispatches one
// QueryPool task per ref, until ctx is cancelled.
func (p *Pipeline) PumpQueries(ctx context.Context, queryQueue <-chan proxytable.Ref) {
	for {
		select {
		case <-ctx.Done():
			return
		case ref := <-queryQueue:
			p.queryPool.Push(func(context.Context) { p.handleQuery(ref) })
		}
	}
}

// PumpReplies reads (grid, slot) refs from replyQueue and dispatches one
// ReplyPool task per ref, until ctx is cancelled.
func (p *Pipeline) PumpReplies(ctx context.Context, replyQueue <-chan proxytable.Ref) {
	for {
		select {
		case <-ctx.Done():
			return
		case ref := <-replyQueue:
			p.replyPool.Push(func(context.Context) { p.handleReply(ref) })
		}
	}
}

// handleQuery is the QueryPool task body (§4.5).
func (p *Pipeline) handleQuery(ref proxytable.Ref) {
	oq, ok := p.table.Retrieve(ref.Grid, ref.Slot)
	if !ok {
		return
	}

	ne, found := p.networks.Lookup(oq.Origin.Addr().String())
	if !found {
		p.log.Info("blocking query from unknown network", "addr", oq.Origin.Addr())
		p.block(oq)
		p.table.Remove(ref.Grid, ref.Slot)
		return
	}

	allowed, err := p.store.CheckPolicyList(policystore.PolicyAllow, ne, oq.QName)
	if err != nil {
		p.fatal(err)
		return
	}
	if allowed {
		p.forward(oq)
		return
	}

	denied, err := p.store.CheckPolicyList(policystore.PolicyDeny, ne, oq.QName)
	if err != nil {
		p.fatal(err)
		return
	}
	if denied {
		p.log.Info("blocking denied query", "qname", oq.QName, "network", ne.ObjectID)
		p.block(oq)
		p.table.Remove(ref.Grid, ref.Slot)
		return
	}

	p.forward(oq)
}

// handleReply is the ReplyPool task body (§4.5).
func (p *Pipeline) handleReply(ref proxytable.Ref) {
	oq, ok := p.table.Retrieve(ref.Grid, ref.Slot)
	if !ok {
		return
	}
	p.dispatch(oq)
	p.table.Remove(ref.Grid, ref.Slot)
}

func (p *Pipeline) forward(oq *proxytable.OQ) {
	switch oq.Transport {
	case proxytable.TransportUDP:
		p.upstream.ForwardUDP(oq)
	case proxytable.TransportTCP:
		p.upstream.ForwardTCP(oq)
	}
}

func (p *Pipeline) dispatch(oq *proxytable.OQ) {
	switch oq.Transport {
	case proxytable.TransportUDP:
		p.client.ForwardUDPReply(oq)
	case proxytable.TransportTCP:
		p.client.ForwardTCPReply(oq)
	}
}

func (p *Pipeline) block(oq *proxytable.OQ) {
	b := p.builders.Get()
	defer p.builders.Put(b)

	reqHeader := dnswire.Header{ID: oq.QID, Flags: oq.QFlags}
	q := dnswire.Question{Name: oq.QName, Type: oq.QType, Class: oq.QClass}
	resp := b.BuildBlockResponse(reqHeader, q, p.blockSink)
	oq.RawReply = append([]byte(nil), resp...)
	p.dispatch(oq)
}

func (p *Pipeline) fatal(err error) {
	p.log.Error("policy store error", "error", err)
	if p.onFatal != nil {
		p.onFatal(err)
	}
}
