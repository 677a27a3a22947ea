package coordinator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vlubarsky/citus/catalog"
	"github.com/vlubarsky/citus/remote"
)

// fakeCluster records every connect, command and close across placements
type fakeCluster struct {
	t *testing.T

	mu          sync.Mutex
	placements  map[uint64][]catalog.Placement
	resolveErr  error
	resolves    int
	connects    []string
	connectFail map[string]error
	// failures keyed by "addr|command prefix"
	execFail map[string]error
	closeErr map[string]error
	log      []string
	conns    []*fakeConn
}

func newFakeCluster(t *testing.T) *fakeCluster {
	return &fakeCluster{
		t:           t,
		placements:  make(map[uint64][]catalog.Placement),
		connectFail: make(map[string]error),
		execFail:    make(map[string]error),
		closeErr:    make(map[string]error),
	}
}

// withShard registers placements named "<node>" on port 5432 in order
func (c *fakeCluster) withShard(shardID uint64, nodes ...string) *fakeCluster {
	for i, node := range nodes {
		c.placements[shardID] = append(c.placements[shardID], catalog.Placement{
			ShardID:     shardID,
			PlacementID: shardID*100 + uint64(i),
			NodeName:    node,
			NodePort:    5432,
		})
	}
	return c
}

func (c *fakeCluster) failConnect(node string) *fakeCluster {
	c.connectFail[node+":5432"] = errors.New("connection refused")
	return c
}

func (c *fakeCluster) failExec(node, prefix string) *fakeCluster {
	c.execFail[node+":5432|"+prefix] = fmt.Errorf("%s rejected by %s", prefix, node)
	return c
}

func (c *fakeCluster) failClose(node string) *fakeCluster {
	c.closeErr[node+":5432"] = errors.New("close: broken pipe")
	return c
}

// heal clears every connect and command fault of a node
func (c *fakeCluster) heal(node string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	addr := node + ":5432"
	delete(c.connectFail, addr)
	for key := range c.execFail {
		if strings.HasPrefix(key, addr+"|") {
			delete(c.execFail, key)
		}
	}
}

func (c *fakeCluster) ResolvePlacements(ctx context.Context, shardID uint64) ([]catalog.Placement, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resolves++
	if c.resolveErr != nil {
		return nil, c.resolveErr
	}
	out := make([]catalog.Placement, len(c.placements[shardID]))
	copy(out, c.placements[shardID])
	return out, nil
}

func (c *fakeCluster) Connect(ctx context.Context, placement catalog.Placement, identity remote.Identity) (remote.Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	addr := placement.Addr()
	c.connects = append(c.connects, addr)
	if err := c.connectFail[addr]; err != nil {
		return nil, err
	}
	conn := &fakeConn{cluster: c, addr: addr}
	c.conns = append(c.conns, conn)
	return conn, nil
}

func (c *fakeCluster) record(entry string) {
	c.log = append(c.log, entry)
}

// commands returns logged commands (without closes) matching prefix
func (c *fakeCluster) commands(prefix string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for _, entry := range c.log {
		_, cmd, _ := strings.Cut(entry, " ")
		if cmd != "CLOSE" && strings.HasPrefix(cmd, prefix) {
			out = append(out, entry)
		}
	}
	return out
}

// countExact counts commands equal to cmd, regardless of placement
func (c *fakeCluster) countExact(cmd string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, entry := range c.log {
		if _, got, _ := strings.Cut(entry, " "); got == cmd {
			n++
		}
	}
	return n
}

// commandsOn returns the commands one placement received, in order
func (c *fakeCluster) commandsOn(node string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for _, entry := range c.log {
		addr, cmd, _ := strings.Cut(entry, " ")
		if addr == node+":5432" {
			out = append(out, cmd)
		}
	}
	return out
}

func (c *fakeCluster) calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.connects) + len(c.log)
}

type fakeConn struct {
	cluster *fakeCluster
	addr    string
	closes  int
}

func (f *fakeConn) Exec(ctx context.Context, command string) error {
	c := f.cluster
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record(f.addr + " " + command)
	if err := ctx.Err(); err != nil {
		return err
	}
	for key, err := range c.execFail {
		addr, prefix, _ := strings.Cut(key, "|")
		if addr == f.addr && strings.HasPrefix(command, prefix) {
			return err
		}
	}
	return nil
}

func (f *fakeConn) Close() error {
	c := f.cluster
	c.mu.Lock()
	defer c.mu.Unlock()
	f.closes++
	c.record(f.addr + " CLOSE")
	return c.closeErr[f.addr]
}

// requireAllClosedOnce asserts every opened connection was closed exactly once
func (c *fakeCluster) requireAllClosedOnce(t *testing.T) {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, conn := range c.conns {
		require.Equalf(t, 1, conn.closes, "connection to %s closed %d times", conn.addr, conn.closes)
	}
}

// gatedProvider holds every Connect until release is closed
type gatedProvider struct {
	remote.Provider
	entered chan struct{}
	release chan struct{}
}

func newGatedProvider(next remote.Provider) *gatedProvider {
	return &gatedProvider{
		Provider: next,
		entered:  make(chan struct{}, 16),
		release:  make(chan struct{}),
	}
}

func (g *gatedProvider) Connect(ctx context.Context, placement catalog.Placement, identity remote.Identity) (remote.Conn, error) {
	g.entered <- struct{}{}
	<-g.release
	return g.Provider.Connect(ctx, placement, identity)
}

type recordingReporter struct {
	mu     sync.Mutex
	errors []*PostDecisionError
}

func (r *recordingReporter) ReportPostDecisionFailure(ctx context.Context, err *PostDecisionError) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors = append(r.errors, err)
}

type sequenceIDs struct {
	mu   sync.Mutex
	next uint64
}

func (s *sequenceIDs) NextID() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	return s.next
}

type coordinatorOption func(*Options)

func withProtocol(p CommitProtocol) coordinatorOption {
	return func(o *Options) { o.Protocol = FixedProtocol(p) }
}

func withFanout(limit int) coordinatorOption {
	return func(o *Options) { o.FanoutLimit = limit }
}

func withReporter(r FailureReporter) coordinatorOption {
	return func(o *Options) { o.Reporter = r }
}

func withDialect(d remote.Dialect) coordinatorOption {
	return func(o *Options) { o.Dialect = d }
}

func newTestCoordinator(t *testing.T, cluster *fakeCluster, opts ...coordinatorOption) *Coordinator {
	t.Helper()
	o := Options{
		NodeID:   1,
		Catalog:  cluster,
		Provider: cluster,
		IDs:      &sequenceIDs{},
	}
	for _, opt := range opts {
		opt(&o)
	}
	c, err := NewCoordinator(o)
	require.NoError(t, err)
	return c
}

var testIdentity = remote.Identity{User: "postgres", Database: "postgres"}
