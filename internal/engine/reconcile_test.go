package engine

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackform-io/stackform/internal/diff"
	"github.com/stackform-io/stackform/internal/graph"
	"github.com/stackform-io/stackform/internal/ir"
	"github.com/stackform-io/stackform/internal/provider"
	"github.com/stackform-io/stackform/providers/sim"
)

// op is one recorded provider invocation.
type op struct {
	verb string
	name string
}

// testClient is a scriptable provider: per-node failures, transient
// hiccups and delays, with a full invocation timeline for asserting
// ordering.
type testClient struct {
	mu             sync.Mutex
	seq            int
	objects        map[string]string // id -> logical name
	configs        map[string]map[string]any
	failCreate     map[string]bool
	transientFails map[string]int
	delays         map[string]time.Duration
	ops            []op

	// onCreate, when set, runs at the start of every Create. Tests use
	// it to sequence concurrent operations deterministically.
	onCreate func(name string)
}

func newTestClient() *testClient {
	return &testClient{
		objects:        make(map[string]string),
		configs:        make(map[string]map[string]any),
		failCreate:     make(map[string]bool),
		transientFails: make(map[string]int),
		delays:         make(map[string]time.Duration),
	}
}

func (c *testClient) record(verb, name string) {
	c.mu.Lock()
	c.ops = append(c.ops, op{verb: verb, name: name})
	c.mu.Unlock()
}

func (c *testClient) opsFor(verb string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for _, o := range c.ops {
		if o.verb == verb {
			out = append(out, o.name)
		}
	}
	return out
}

func (c *testClient) timeline() []op {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]op, len(c.ops))
	copy(out, c.ops)
	return out
}

func (c *testClient) configOf(name string) map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.configs[name]
}

func (c *testClient) Create(ctx context.Context, req *provider.CreateRequest) (*provider.CreateResult, error) {
	c.record("create", req.Name)
	if c.onCreate != nil {
		c.onCreate(req.Name)
	}

	c.mu.Lock()
	if n := c.transientFails[req.Name]; n > 0 {
		c.transientFails[req.Name] = n - 1
		c.mu.Unlock()
		return nil, fmt.Errorf("request throttled, try again")
	}
	delay := c.delays[req.Name]
	c.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failCreate[req.Name] {
		return nil, fmt.Errorf("invalid configuration for %s", req.Name)
	}
	c.seq++
	id := fmt.Sprintf("%s-v%d", req.Name, c.seq)
	c.objects[id] = req.Name
	c.configs[req.Name] = req.Config
	return &provider.CreateResult{ID: id, Outputs: map[string]any{"id": id}}, nil
}

func (c *testClient) Update(ctx context.Context, req *provider.UpdateRequest) (*provider.UpdateResult, error) {
	c.record("update", req.Name)

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.objects[req.ID]; !ok {
		return nil, fmt.Errorf("unknown resource %s", req.ID)
	}
	c.configs[req.Name] = req.Config
	return &provider.UpdateResult{Outputs: map[string]any{"id": req.ID}}, nil
}

func (c *testClient) Delete(ctx context.Context, req *provider.DeleteRequest) error {
	c.record("delete", req.Name)

	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.objects, req.ID)
	return nil
}

func (c *testClient) Describe(ctx context.Context, req *provider.DescribeRequest) (*provider.DescribeResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.objects[req.ID]; !ok {
		return &provider.DescribeResult{Status: provider.StatusGone}, nil
	}
	return &provider.DescribeResult{Status: provider.StatusReady, Outputs: map[string]any{"id": req.ID}}, nil
}

func fastOptions() Options {
	return Options{
		Parallelism: 4,
		NodeTimeout: 5 * time.Second,
		Retry:       &RetryPolicy{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond},
		Poll:        &PollPolicy{InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond, MaxWait: time.Second},
	}
}

func testRegistry(t *testing.T, c provider.Client) *provider.Registry {
	t.Helper()
	reg := provider.NewRegistry()
	require.NoError(t, reg.Register("test", c))
	return reg
}

func tnode(name string, kind ir.Kind, config map[string]any, deps ...string) *ir.Node {
	return &ir.Node{Name: name, Kind: kind, Provider: "test", Config: ir.Normalize(config), DependsOn: deps}
}

func planFor(t *testing.T, reg *provider.Registry, snap *ir.Snapshot, nodes ...*ir.Node) (*graph.Graph, *ir.ChangeSet) {
	t.Helper()
	b := &graph.Builder{Schema: reg.SchemaFor}
	g, err := b.Build(&ir.StackSpec{Stack: "demo", Nodes: nodes})
	require.NoError(t, err)
	return g, diff.Compute(g, snap, reg.SchemaFor)
}

func TestReconcile_CreateChainResolvesReferences(t *testing.T) {
	tc := newTestClient()
	reg := testRegistry(t, tc)
	eng := New(reg, fastOptions())

	snap := ir.NewSnapshot("demo")
	g, cs := planFor(t, reg, snap,
		tnode("db", ir.KindDatabase, map[string]any{"engine": "postgres"}),
		tnode("fn", ir.KindFunction, map[string]any{"env": map[string]any{"DB": "ref://db/id"}}),
	)

	res, err := eng.Reconcile(context.Background(), g, cs, snap)
	require.NoError(t, err)
	require.NoError(t, res.Err())

	assert.Equal(t, ir.StatusApplied, res.Nodes["db"].Status)
	assert.Equal(t, ir.StatusApplied, res.Nodes["fn"].Status)

	// Dependency order holds in the provider timeline.
	assert.Equal(t, []string{"db", "fn"}, tc.opsFor("create"))

	// The reference was resolved to the real output before Create.
	dbID := res.Snapshot.Get("db").ID
	env := tc.configOf("fn")["env"].(map[string]any)
	assert.Equal(t, dbID, env["DB"])

	// The stored config keeps the reference unresolved.
	fnRec := res.Snapshot.Get("fn")
	require.NotNil(t, fnRec)
	storedEnv := fnRec.Config["env"].(map[string]any)
	assert.Equal(t, "ref://db/id", storedEnv["DB"])
	assert.Equal(t, []string{"db"}, fnRec.Dependencies)
	assert.Equal(t, ir.StatusApplied, fnRec.Status)
	assert.NotEmpty(t, fnRec.ConfigHash)

	assert.Equal(t, 1, res.Snapshot.Serial)
	assert.NotEmpty(t, res.Snapshot.Lineage)
}

func TestReconcile_SecondRunIsNoOp(t *testing.T) {
	simp := sim.New()
	reg := provider.NewRegistry()
	require.NoError(t, reg.Register("sim", simp))
	eng := New(reg, fastOptions())

	nodes := []*ir.Node{
		{Name: "net", Kind: ir.KindNetwork, Provider: "sim", Config: ir.Normalize(map[string]any{"cidr": "10.0.0.0/16"})},
		{Name: "db", Kind: ir.KindDatabase, Provider: "sim", Config: ir.Normalize(map[string]any{"engine": "postgres", "storage_gb": 100}), DependsOn: []string{"net"}},
		{Name: "fn", Kind: ir.KindFunction, Provider: "sim", Config: ir.Normalize(map[string]any{"runtime": "go", "env": map[string]any{"DB_HOST": "ref://db/endpoint"}})},
	}

	snap := ir.NewSnapshot("demo")
	g, cs := planFor(t, reg, snap, nodes...)
	res, err := eng.Reconcile(context.Background(), g, cs, snap)
	require.NoError(t, err)
	require.NoError(t, res.Err())
	callsAfterFirst := simp.Calls()

	// An unchanged spec diffs to noop and triggers no provider call.
	g2, cs2 := planFor(t, reg, res.Snapshot, nodes...)
	assert.True(t, cs2.Empty())
	assert.Equal(t, 3, cs2.Summary.NoOp)

	eng2 := New(reg, fastOptions())
	res2, err := eng2.Reconcile(context.Background(), g2, cs2, res.Snapshot)
	require.NoError(t, err)
	require.NoError(t, res2.Err())
	assert.Equal(t, ir.StatusApplied, res2.Nodes["db"].Status)

	assert.Equal(t, callsAfterFirst, simp.Calls())
	assert.Equal(t, res.Snapshot.Serial+1, res2.Snapshot.Serial)
	assert.Equal(t, res.Snapshot.Lineage, res2.Snapshot.Lineage)
}

func TestReconcile_FailureSkipsDependentSubtree(t *testing.T) {
	simp := sim.New()
	reg := provider.NewRegistry()
	require.NoError(t, reg.Register("sim", simp))
	eng := New(reg, fastOptions())

	snap := ir.NewSnapshot("demo")
	g, cs := planFor(t, reg, snap,
		&ir.Node{Name: "net", Kind: ir.KindNetwork, Provider: "sim", Config: ir.Normalize(map[string]any{"cidr": "10.0.0.0/16"})},
		&ir.Node{Name: "db", Kind: ir.KindDatabase, Provider: "sim", Config: ir.Normalize(map[string]any{"engine": "postgres", sim.FailKey: true}), DependsOn: []string{"net"}},
		&ir.Node{Name: "fn1", Kind: ir.KindFunction, Provider: "sim", Config: ir.Normalize(map[string]any{"env": map[string]any{"DB": "ref://db/endpoint"}})},
		&ir.Node{Name: "fn2", Kind: ir.KindFunction, Provider: "sim", Config: ir.Normalize(map[string]any{"env": map[string]any{"DB": "ref://db/endpoint"}})},
		&ir.Node{Name: "r1", Kind: ir.KindApiRoute, Provider: "sim", Config: ir.Normalize(map[string]any{"path": "/a", "target": "ref://fn1/arn"})},
		&ir.Node{Name: "r2", Kind: ir.KindApiRoute, Provider: "sim", Config: ir.Normalize(map[string]any{"path": "/b", "target": "ref://fn2/arn"})},
	)

	res, err := eng.Reconcile(context.Background(), g, cs, snap)
	require.NoError(t, err)
	require.Error(t, res.Err())

	assert.Equal(t, ir.StatusApplied, res.Nodes["net"].Status)
	assert.Equal(t, ir.StatusFailed, res.Nodes["db"].Status)
	assert.ErrorContains(t, res.Nodes["db"].Err, "simulated provisioning failure")

	assert.Equal(t, ir.StatusSkipped, res.Nodes["fn1"].Status)
	assert.Equal(t, "dependency db failed", res.Nodes["fn1"].SkipReason)
	assert.Equal(t, ir.StatusSkipped, res.Nodes["fn2"].Status)
	assert.Equal(t, ir.StatusSkipped, res.Nodes["r1"].Status)
	assert.Equal(t, "dependency fn1 failed", res.Nodes["r1"].SkipReason)
	assert.Equal(t, ir.StatusSkipped, res.Nodes["r2"].Status)

	// The snapshot records exactly what the provider confirmed: the
	// network, and the failed database with its live identity.
	assert.Equal(t, ir.StatusApplied, res.Snapshot.Get("net").Status)
	dbRec := res.Snapshot.Get("db")
	require.NotNil(t, dbRec)
	assert.Equal(t, ir.StatusFailed, dbRec.Status)
	assert.NotEmpty(t, dbRec.ID)
	assert.Nil(t, res.Snapshot.Get("fn1"))
	assert.Nil(t, res.Snapshot.Get("r1"))
}

func TestReconcile_IndependentSubgraphsProceed(t *testing.T) {
	tc := newTestClient()
	tc.failCreate["a"] = true
	reg := testRegistry(t, tc)
	eng := New(reg, fastOptions())

	snap := ir.NewSnapshot("demo")
	g, cs := planFor(t, reg, snap,
		tnode("a", ir.KindFunction, nil),
		tnode("x", ir.KindNetwork, map[string]any{"cidr": "10.1.0.0/16"}),
		tnode("y", ir.KindDatabase, map[string]any{"engine": "postgres"}, "x"),
	)

	res, err := eng.Reconcile(context.Background(), g, cs, snap)
	require.NoError(t, err)
	require.Error(t, res.Err())

	assert.Equal(t, ir.StatusFailed, res.Nodes["a"].Status)
	assert.Equal(t, ir.StatusApplied, res.Nodes["x"].Status)
	assert.Equal(t, ir.StatusApplied, res.Nodes["y"].Status)
}

func TestReconcile_FailFastHaltsScheduling(t *testing.T) {
	tc := newTestClient()
	tc.failCreate["boom"] = true

	// Sequence the race explicitly: boom fails only once slow is in
	// flight, and slow finishes only after the failure has halted the
	// scheduler. That pins gated to the halted path.
	slowStarted := make(chan struct{})
	boomFailed := make(chan struct{})
	tc.onCreate = func(name string) {
		switch name {
		case "boom":
			<-slowStarted
		case "slow":
			close(slowStarted)
			<-boomFailed
		}
	}
	reg := testRegistry(t, tc)

	opts := fastOptions()
	opts.FailFast = true
	opts.OnEvent = func(ev Event) {
		if ev.Node == "boom" && ev.Status == "failed" {
			close(boomFailed)
		}
	}
	eng := New(reg, opts)

	snap := ir.NewSnapshot("demo")
	g, cs := planFor(t, reg, snap,
		tnode("boom", ir.KindFunction, nil),
		tnode("slow", ir.KindNetwork, nil),
		tnode("gated", ir.KindDatabase, nil, "slow"),
	)

	res, err := eng.Reconcile(context.Background(), g, cs, snap)
	require.NoError(t, err)

	assert.Equal(t, ir.StatusFailed, res.Nodes["boom"].Status)
	// Already in flight when the failure landed; allowed to finish.
	assert.Equal(t, ir.StatusApplied, res.Nodes["slow"].Status)
	assert.Equal(t, ir.StatusSkipped, res.Nodes["gated"].Status)
	assert.Equal(t, "run halted", res.Nodes["gated"].SkipReason)
	assert.False(t, res.Cancelled)
}

func TestReconcile_ReplaceCreatesBeforeDelete(t *testing.T) {
	tc := newTestClient()
	reg := testRegistry(t, tc)
	eng := New(reg, fastOptions())

	snap := ir.NewSnapshot("demo")
	g, cs := planFor(t, reg, snap, tnode("db", ir.KindDatabase, map[string]any{"engine": "postgres"}))
	res, err := eng.Reconcile(context.Background(), g, cs, snap)
	require.NoError(t, err)
	require.NoError(t, res.Err())
	oldID := res.Snapshot.Get("db").ID

	// No schema is registered for the test provider, so any field
	// change resolves to replace.
	g2, cs2 := planFor(t, reg, res.Snapshot, tnode("db", ir.KindDatabase, map[string]any{"engine": "mysql"}))
	require.Equal(t, ir.ActionReplace, cs2.Get("db").Action)

	eng2 := New(reg, fastOptions())
	res2, err := eng2.Reconcile(context.Background(), g2, cs2, res.Snapshot)
	require.NoError(t, err)
	require.NoError(t, res2.Err())

	newID := res2.Snapshot.Get("db").ID
	assert.NotEqual(t, oldID, newID)
	assert.Equal(t, ir.StatusApplied, res2.Snapshot.Get("db").Status)

	// The new instance is created before the old one is deleted.
	timeline := tc.timeline()
	createIdx, deleteIdx := -1, -1
	for i, o := range timeline {
		if o.verb == "create" && o.name == "db" && i > 0 {
			createIdx = i
		}
		if o.verb == "delete" && o.name == "db" {
			deleteIdx = i
		}
	}
	require.NotEqual(t, -1, createIdx)
	require.NotEqual(t, -1, deleteIdx)
	assert.Less(t, createIdx, deleteIdx)

	// Deposed cleanup is reported and the old instance is gone.
	deposed := res2.Nodes["db (deposed)"]
	require.NotNil(t, deposed)
	assert.Equal(t, ir.StatusApplied, deposed.Status)
	tc.mu.Lock()
	_, oldExists := tc.objects[oldID]
	tc.mu.Unlock()
	assert.False(t, oldExists)
}

func TestReconcile_ReplaceMigratesDependents(t *testing.T) {
	tc := newTestClient()
	reg := testRegistry(t, tc)
	eng := New(reg, fastOptions())

	nodes := func(engine string) []*ir.Node {
		return []*ir.Node{
			tnode("db", ir.KindDatabase, map[string]any{"engine": engine}),
			tnode("fn", ir.KindFunction, map[string]any{"db": "ref://db/id"}),
		}
	}

	snap := ir.NewSnapshot("demo")
	g, cs := planFor(t, reg, snap, nodes("postgres")...)
	res, err := eng.Reconcile(context.Background(), g, cs, snap)
	require.NoError(t, err)
	require.NoError(t, res.Err())
	oldDBID := res.Snapshot.Get("db").ID
	fnID := res.Snapshot.Get("fn").ID

	// Replacing the database leaves fn's config text unchanged, but its
	// reference now points at an instance about to be destroyed; fn is
	// re-applied so the new output lands before the old instance goes.
	g2, cs2 := planFor(t, reg, res.Snapshot, nodes("mysql")...)
	require.Equal(t, ir.ActionReplace, cs2.Get("db").Action)
	require.Equal(t, ir.ActionUpdate, cs2.Get("fn").Action)

	eng2 := New(reg, fastOptions())
	res2, err := eng2.Reconcile(context.Background(), g2, cs2, res.Snapshot)
	require.NoError(t, err)
	require.NoError(t, res2.Err())

	newDBID := res2.Snapshot.Get("db").ID
	require.NotEqual(t, oldDBID, newDBID)
	// fn keeps its identity and now points at the new instance.
	assert.Equal(t, fnID, res2.Snapshot.Get("fn").ID)
	assert.Equal(t, newDBID, tc.configOf("fn")["db"])

	// The migration lands between the replacement create and the
	// deposed delete.
	createIdx, updateIdx, deleteIdx := -1, -1, -1
	for i, o := range tc.timeline() {
		switch {
		case o.verb == "create" && o.name == "db":
			createIdx = i
		case o.verb == "update" && o.name == "fn":
			updateIdx = i
		case o.verb == "delete" && o.name == "db":
			deleteIdx = i
		}
	}
	require.NotEqual(t, -1, updateIdx)
	require.NotEqual(t, -1, deleteIdx)
	assert.Less(t, createIdx, updateIdx)
	assert.Less(t, updateIdx, deleteIdx)
}

func TestReconcile_TeardownReversesDependencyOrder(t *testing.T) {
	tc := newTestClient()
	tc.objects["b-1"] = "b"
	tc.objects["a-1"] = "a"
	reg := testRegistry(t, tc)
	eng := New(reg, fastOptions())

	snap := ir.NewSnapshot("demo")
	snap.Put(&ir.Record{Name: "b", Kind: ir.KindNetwork, Provider: "test", ID: "b-1", Config: map[string]any{}, Status: ir.StatusApplied})
	snap.Put(&ir.Record{Name: "a", Kind: ir.KindDatabase, Provider: "test", ID: "a-1", Config: map[string]any{}, Dependencies: []string{"b"}, Status: ir.StatusApplied})

	// Empty spec: everything recorded gets torn down.
	g, cs := planFor(t, reg, snap)
	require.Equal(t, 2, cs.Summary.Delete)

	res, err := eng.Reconcile(context.Background(), g, cs, snap)
	require.NoError(t, err)
	require.NoError(t, res.Err())

	// The dependent is deleted before its dependency.
	assert.Equal(t, []string{"a", "b"}, tc.opsFor("delete"))
	assert.Empty(t, res.Snapshot.Records)
}

func TestReconcile_DeleteWithoutConfirmedInstance(t *testing.T) {
	tc := newTestClient()
	reg := testRegistry(t, tc)
	eng := New(reg, fastOptions())

	snap := ir.NewSnapshot("demo")
	snap.Put(&ir.Record{Name: "ghost", Kind: ir.KindFunction, Provider: "test", Config: map[string]any{}, Status: ir.StatusFailed})

	g, cs := planFor(t, reg, snap)
	res, err := eng.Reconcile(context.Background(), g, cs, snap)
	require.NoError(t, err)
	require.NoError(t, res.Err())

	// No provider call for a record that never confirmed an identity.
	assert.Empty(t, tc.opsFor("delete"))
	assert.Nil(t, res.Snapshot.Get("ghost"))
}

func TestReconcile_ChangesetConsumedOnce(t *testing.T) {
	tc := newTestClient()
	reg := testRegistry(t, tc)
	eng := New(reg, fastOptions())

	snap := ir.NewSnapshot("demo")
	g, cs := planFor(t, reg, snap, tnode("db", ir.KindDatabase, map[string]any{"engine": "postgres"}))

	_, err := eng.Reconcile(context.Background(), g, cs, snap)
	require.NoError(t, err)

	_, err = eng.Reconcile(context.Background(), g, cs, snap)
	require.ErrorContains(t, err, "already consumed")
}

func TestReconcile_UnknownProviderFailsBeforeSideEffects(t *testing.T) {
	tc := newTestClient()
	reg := testRegistry(t, tc)
	eng := New(reg, fastOptions())

	snap := ir.NewSnapshot("demo")
	b := &graph.Builder{}
	g, err := b.Build(&ir.StackSpec{Stack: "demo", Nodes: []*ir.Node{
		tnode("ok", ir.KindNetwork, nil),
		{Name: "bad", Kind: ir.KindFunction, Provider: "ghost", Config: map[string]any{}},
	}})
	require.NoError(t, err)
	cs := diff.Compute(g, snap, reg.SchemaFor)

	_, err = eng.Reconcile(context.Background(), g, cs, snap)
	require.ErrorContains(t, err, "ghost")
	assert.Empty(t, tc.timeline())
}

func TestReconcile_CancellationLeavesUnstartedPending(t *testing.T) {
	tc := newTestClient()
	tc.delays["slow"] = 200 * time.Millisecond
	reg := testRegistry(t, tc)
	eng := New(reg, fastOptions())

	snap := ir.NewSnapshot("demo")
	g, cs := planFor(t, reg, snap,
		tnode("slow", ir.KindNetwork, nil),
		tnode("late", ir.KindDatabase, nil, "slow"),
	)

	ctx, cancel := context.WithCancel(context.Background())
	timer := time.AfterFunc(50*time.Millisecond, cancel)
	defer timer.Stop()
	defer cancel()

	res, err := eng.Reconcile(ctx, g, cs, snap)
	require.NoError(t, err)

	assert.True(t, res.Cancelled)
	// In-flight work finishes; never-started work stays pending.
	assert.Equal(t, ir.StatusApplied, res.Nodes["slow"].Status)
	assert.Equal(t, ir.StatusPending, res.Nodes["late"].Status)
	assert.Equal(t, "run cancelled", res.Nodes["late"].SkipReason)

	assert.NotNil(t, res.Snapshot.Get("slow"))
	assert.Nil(t, res.Snapshot.Get("late"))
}

func TestReconcile_TransientCreateIsRetried(t *testing.T) {
	tc := newTestClient()
	tc.transientFails["db"] = 2
	reg := testRegistry(t, tc)
	eng := New(reg, fastOptions())

	snap := ir.NewSnapshot("demo")
	g, cs := planFor(t, reg, snap, tnode("db", ir.KindDatabase, map[string]any{"engine": "postgres"}))

	res, err := eng.Reconcile(context.Background(), g, cs, snap)
	require.NoError(t, err)
	require.NoError(t, res.Err())

	assert.Equal(t, []string{"db", "db", "db"}, tc.opsFor("create"))
	assert.Equal(t, ir.StatusApplied, res.Nodes["db"].Status)
}

func TestReconcile_UpdateInPlace(t *testing.T) {
	simp := sim.New()
	reg := provider.NewRegistry()
	require.NoError(t, reg.Register("sim", simp))

	node := func(storage int) *ir.Node {
		return &ir.Node{Name: "db", Kind: ir.KindDatabase, Provider: "sim",
			Config: ir.Normalize(map[string]any{"engine": "postgres", "storage_gb": storage})}
	}

	snap := ir.NewSnapshot("demo")
	g, cs := planFor(t, reg, snap, node(100))
	eng := New(reg, fastOptions())
	res, err := eng.Reconcile(context.Background(), g, cs, snap)
	require.NoError(t, err)
	require.NoError(t, res.Err())
	id := res.Snapshot.Get("db").ID

	g2, cs2 := planFor(t, reg, res.Snapshot, node(200))
	require.Equal(t, ir.ActionUpdate, cs2.Get("db").Action)

	eng2 := New(reg, fastOptions())
	res2, err := eng2.Reconcile(context.Background(), g2, cs2, res.Snapshot)
	require.NoError(t, err)
	require.NoError(t, res2.Err())

	// Update keeps the instance identity.
	assert.Equal(t, id, res2.Snapshot.Get("db").ID)
	assert.Equal(t, float64(200), res2.Snapshot.Get("db").Config["storage_gb"])
	assert.Equal(t, 1, simp.Calls().Create)
	assert.Equal(t, 1, simp.Calls().Update)
}

func TestReconcile_RandomGraphsRespectDependencyOrder(t *testing.T) {
	// Arbitrary DAGs, scheduled concurrently: a node may start only
	// after every one of its dependencies has finished.
	rng := rand.New(rand.NewSource(1))

	for round := 0; round < 6; round++ {
		tc := newTestClient()
		reg := testRegistry(t, tc)
		eng := New(reg, fastOptions())

		var nodes []*ir.Node
		for i := 0; i < 12; i++ {
			var deps []string
			for j := 0; j < i; j++ {
				if rng.Intn(4) == 0 {
					deps = append(deps, fmt.Sprintf("n%02d", j))
				}
			}
			nodes = append(nodes, tnode(fmt.Sprintf("n%02d", i), ir.KindFunction, nil, deps...))
		}

		snap := ir.NewSnapshot("demo")
		g, cs := planFor(t, reg, snap, nodes...)
		res, err := eng.Reconcile(context.Background(), g, cs, snap)
		require.NoError(t, err)
		require.NoError(t, res.Err())

		for _, node := range nodes {
			nr := res.Nodes[node.Name]
			require.Equal(t, ir.StatusApplied, nr.Status)
			for _, dep := range node.DependsOn {
				depRes := res.Nodes[dep]
				assert.False(t, nr.StartedAt.Before(depRes.FinishedAt),
					"round %d: %s started %v before dependency %s finished %v",
					round, node.Name, nr.StartedAt, dep, depRes.FinishedAt)
			}
		}
	}
}
