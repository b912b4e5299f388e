package diff

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackform-io/stackform/internal/graph"
	"github.com/stackform-io/stackform/internal/ir"
	"github.com/stackform-io/stackform/internal/provider"
)

func buildGraph(t *testing.T, nodes ...*ir.Node) *graph.Graph {
	t.Helper()
	b := &graph.Builder{}
	g, err := b.Build(&ir.StackSpec{Stack: "demo", Nodes: nodes})
	require.NoError(t, err)
	return g
}

func dbNode(config map[string]any) *ir.Node {
	return &ir.Node{Name: "db", Kind: ir.KindDatabase, Provider: "sim", Config: ir.Normalize(config)}
}

func appliedRecord(name string, kind ir.Kind, config map[string]any) *ir.Record {
	cfg := ir.Normalize(config)
	return &ir.Record{
		Name:       name,
		Kind:       kind,
		Provider:   "sim",
		ID:         "sim-" + name + "-1",
		Config:     cfg,
		ConfigHash: ir.HashConfig(cfg),
		Status:     ir.StatusApplied,
	}
}

func schemaLookup() graph.SchemaLookup {
	s := provider.Schema{
		UpdateInPlace: map[ir.Kind][]string{
			ir.KindDatabase: {"instance_class", "storage_gb", "password"},
		},
		ForcesReplace: map[ir.Kind][]string{
			ir.KindDatabase: {"engine"},
		},
	}
	return func(name string) (provider.Schema, bool) {
		return s, name == "sim"
	}
}

func TestCompute_Create(t *testing.T) {
	g := buildGraph(t, dbNode(map[string]any{"engine": "postgres"}))
	snap := ir.NewSnapshot("demo")

	cs := Compute(g, snap, schemaLookup())
	require.Len(t, cs.Changes, 1)

	change := cs.Get("db")
	assert.Equal(t, ir.ActionCreate, change.Action)
	assert.Nil(t, change.Prior)
	require.Contains(t, change.Delta, "engine")
	assert.Equal(t, "postgres", change.Delta["engine"].After)
	assert.Equal(t, 1, cs.Summary.Create)
	assert.False(t, cs.Empty())
}

func TestCompute_NoOp(t *testing.T) {
	config := map[string]any{"engine": "postgres", "storage_gb": 100}
	g := buildGraph(t, dbNode(config))
	snap := ir.NewSnapshot("demo")
	snap.Put(appliedRecord("db", ir.KindDatabase, config))

	cs := Compute(g, snap, schemaLookup())
	assert.Equal(t, ir.ActionNoOp, cs.Get("db").Action)
	assert.Equal(t, 1, cs.Summary.NoOp)
	assert.True(t, cs.Empty())
}

func TestCompute_NoOpAcrossNumericShapes(t *testing.T) {
	// State round-trips through JSON, so stored numbers are float64.
	// A spec reloaded from YAML must still diff to noop.
	g := buildGraph(t, dbNode(map[string]any{"storage_gb": 100}))
	snap := ir.NewSnapshot("demo")
	snap.Put(appliedRecord("db", ir.KindDatabase, map[string]any{"storage_gb": float64(100)}))

	cs := Compute(g, snap, schemaLookup())
	assert.Equal(t, ir.ActionNoOp, cs.Get("db").Action)
}

func TestCompute_UpdateInPlace(t *testing.T) {
	g := buildGraph(t, dbNode(map[string]any{"engine": "postgres", "storage_gb": 200}))
	snap := ir.NewSnapshot("demo")
	snap.Put(appliedRecord("db", ir.KindDatabase, map[string]any{"engine": "postgres", "storage_gb": 100}))

	cs := Compute(g, snap, schemaLookup())
	change := cs.Get("db")
	assert.Equal(t, ir.ActionUpdate, change.Action)
	require.Contains(t, change.Delta, "storage_gb")
	assert.Equal(t, float64(100), change.Delta["storage_gb"].Before)
	assert.Equal(t, float64(200), change.Delta["storage_gb"].After)
	assert.False(t, change.Delta["storage_gb"].ForcesReplacement)
	assert.Equal(t, 1, cs.Summary.Update)
}

func TestCompute_ReplaceOnDeclaredField(t *testing.T) {
	g := buildGraph(t, dbNode(map[string]any{"engine": "mysql"}))
	snap := ir.NewSnapshot("demo")
	snap.Put(appliedRecord("db", ir.KindDatabase, map[string]any{"engine": "postgres"}))

	cs := Compute(g, snap, schemaLookup())
	change := cs.Get("db")
	assert.Equal(t, ir.ActionReplace, change.Action)
	assert.True(t, change.Delta["engine"].ForcesReplacement)
}

func TestCompute_UnknownFieldForcesReplace(t *testing.T) {
	// A field the schema does not classify resolves to replace, even
	// when every classified field in the same delta is updatable.
	g := buildGraph(t, dbNode(map[string]any{"storage_gb": 200, "mystery": "b"}))
	snap := ir.NewSnapshot("demo")
	snap.Put(appliedRecord("db", ir.KindDatabase, map[string]any{"storage_gb": 100, "mystery": "a"}))

	cs := Compute(g, snap, schemaLookup())
	change := cs.Get("db")
	assert.Equal(t, ir.ActionReplace, change.Action)
	assert.True(t, change.Delta["mystery"].ForcesReplacement)
	assert.False(t, change.Delta["storage_gb"].ForcesReplacement)
}

func TestCompute_NoSchemaMeansReplace(t *testing.T) {
	g := buildGraph(t, dbNode(map[string]any{"storage_gb": 200}))
	snap := ir.NewSnapshot("demo")
	snap.Put(appliedRecord("db", ir.KindDatabase, map[string]any{"storage_gb": 100}))

	cs := Compute(g, snap, nil)
	assert.Equal(t, ir.ActionReplace, cs.Get("db").Action)
}

func TestCompute_KindChangeForcesReplace(t *testing.T) {
	g := buildGraph(t, dbNode(map[string]any{"engine": "postgres", "name": "x"}))
	snap := ir.NewSnapshot("demo")
	snap.Put(appliedRecord("db", ir.KindFunction, map[string]any{"engine": "postgres"}))

	cs := Compute(g, snap, schemaLookup())
	assert.Equal(t, ir.ActionReplace, cs.Get("db").Action)
}

func TestCompute_ReplaceCascadesToReferencingNodes(t *testing.T) {
	// fn's config text is unchanged, but it references an output of a
	// node being replaced: the old instance it points at is going away,
	// so fn must be re-applied, and so must anything downstream of fn.
	fnConfig := map[string]any{"env": map[string]any{"DB": "ref://db/endpoint"}}
	routeConfig := map[string]any{"target": "ref://fn/arn"}
	bystanderConfig := map[string]any{"cidr": "10.0.0.0/16"}

	g := buildGraph(t,
		dbNode(map[string]any{"engine": "mysql"}),
		&ir.Node{Name: "fn", Kind: ir.KindFunction, Provider: "sim", Config: ir.Normalize(fnConfig)},
		&ir.Node{Name: "route", Kind: ir.KindApiRoute, Provider: "sim", Config: ir.Normalize(routeConfig)},
		&ir.Node{Name: "net", Kind: ir.KindNetwork, Provider: "sim", Config: ir.Normalize(bystanderConfig)},
	)

	snap := ir.NewSnapshot("demo")
	snap.Put(appliedRecord("db", ir.KindDatabase, map[string]any{"engine": "postgres"}))
	snap.Put(appliedRecord("fn", ir.KindFunction, fnConfig))
	snap.Put(appliedRecord("route", ir.KindApiRoute, routeConfig))
	snap.Put(appliedRecord("net", ir.KindNetwork, bystanderConfig))

	cs := Compute(g, snap, schemaLookup())
	assert.Equal(t, ir.ActionReplace, cs.Get("db").Action)
	assert.Equal(t, ir.ActionUpdate, cs.Get("fn").Action)
	assert.Equal(t, ir.ActionUpdate, cs.Get("route").Action)
	// Nothing upstream of the replacement is touched.
	assert.Equal(t, ir.ActionNoOp, cs.Get("net").Action)

	assert.Equal(t, 1, cs.Summary.Replace)
	assert.Equal(t, 2, cs.Summary.Update)
	assert.Equal(t, 1, cs.Summary.NoOp)
	assert.False(t, cs.Empty())
}

func TestCompute_DeleteRemovedNode(t *testing.T) {
	g := buildGraph(t, dbNode(map[string]any{"engine": "postgres"}))
	snap := ir.NewSnapshot("demo")
	snap.Put(appliedRecord("db", ir.KindDatabase, map[string]any{"engine": "postgres"}))
	snap.Put(appliedRecord("old-fn", ir.KindFunction, map[string]any{"runtime": "go"}))

	cs := Compute(g, snap, schemaLookup())
	require.Len(t, cs.Changes, 2)

	change := cs.Get("old-fn")
	require.NotNil(t, change)
	assert.Equal(t, ir.ActionDelete, change.Action)
	assert.Nil(t, change.Desired)
	assert.Equal(t, "go", change.Delta["runtime"].Before)
	assert.Equal(t, 1, cs.Summary.Delete)
}

func TestCompute_FailedRecordWithoutID(t *testing.T) {
	// Create never confirmed an identity; retry it as a create.
	g := buildGraph(t, dbNode(map[string]any{"engine": "postgres"}))
	snap := ir.NewSnapshot("demo")
	rec := appliedRecord("db", ir.KindDatabase, map[string]any{"engine": "postgres"})
	rec.ID = ""
	rec.Status = ir.StatusFailed
	snap.Put(rec)

	cs := Compute(g, snap, schemaLookup())
	assert.Equal(t, ir.ActionCreate, cs.Get("db").Action)
}

func TestCompute_FailedRecordWithID(t *testing.T) {
	// An instance exists but its last apply failed; matching config is
	// not trusted, the instance is replaced.
	g := buildGraph(t, dbNode(map[string]any{"engine": "postgres"}))
	snap := ir.NewSnapshot("demo")
	rec := appliedRecord("db", ir.KindDatabase, map[string]any{"engine": "postgres"})
	rec.Status = ir.StatusFailed
	snap.Put(rec)

	cs := Compute(g, snap, schemaLookup())
	assert.Equal(t, ir.ActionReplace, cs.Get("db").Action)
}

func TestCompute_SensitiveFields(t *testing.T) {
	g := buildGraph(t, dbNode(map[string]any{"password": "hunter2", "engine": "postgres"}))
	snap := ir.NewSnapshot("demo")

	cs := Compute(g, snap, schemaLookup())
	delta := cs.Get("db").Delta
	assert.True(t, delta["password"].Sensitive)
	assert.False(t, delta["engine"].Sensitive)
}

func TestSensitiveKey(t *testing.T) {
	assert.True(t, SensitiveKey("password"))
	assert.True(t, SensitiveKey("master_password"))
	assert.True(t, SensitiveKey("API_TOKEN"))
	assert.True(t, SensitiveKey("clientSecret"))
	assert.False(t, SensitiveKey("endpoint"))
}
