package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iml130/mf-plugin/internal/assign"
	"github.com/iml130/mf-plugin/internal/engine"
	"github.com/iml130/mf-plugin/internal/ir"
)

func TestLoad_File(t *testing.T) {
	cfg, err := Load("testdata/plant.yaml")
	require.NoError(t, err)

	assert.Equal(t, 250*time.Millisecond, cfg.Engine.TickInterval)
	assert.Equal(t, 5, cfg.Engine.MaxExactPickups)
	assert.Equal(t, engine.DefaultMaxTaskInstances, cfg.Engine.MaxTaskInstances, "unset fields keep defaults")
	assert.Equal(t, 30.0, cfg.Engine.GateWait)
	assert.Equal(t, "plant.db", cfg.Store.Path)
	assert.Equal(t, "plant-snapshots", cfg.ObjectStore.Bucket)
	assert.Equal(t, "localhost:9000", cfg.ObjectStore.Endpoint)

	require.Len(t, cfg.Fleet, 2)
	assert.Equal(t, assign.Entity{ID: "agv1", Location: "origin", Speed: 2}, cfg.Fleet[0])

	d, ok := cfg.Topology().Distance("assembly", "shelf1")
	require.True(t, ok)
	assert.Equal(t, 42.0, d)
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Nil(t, cfg.Topology())
	assert.Equal(t, 0, cfg.NewFleet().Len())
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("MFEXEC_STORE_PATH", "/var/lib/mfexec/runs.db")
	t.Setenv("MFEXEC_TICK_INTERVAL", "2s")
	t.Setenv("MFEXEC_AWAIT_AGENT_ACK", "true")
	t.Setenv("MFEXEC_MINIO_BUCKET", "from-env")

	cfg, err := Load("testdata/plant.yaml")
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/mfexec/runs.db", cfg.Store.Path)
	assert.Equal(t, 2*time.Second, cfg.Engine.TickInterval)
	assert.True(t, cfg.Engine.AwaitAgentAck)
	assert.Equal(t, "from-env", cfg.ObjectStore.Bucket)
}

func TestLoad_BadEnv(t *testing.T) {
	t.Setenv("MFEXEC_MAX_CALL_DEPTH", "deep")
	_, err := Load("")
	assert.ErrorContains(t, err, "MFEXEC_MAX_CALL_DEPTH")
}

func TestParse_RejectsUnknownFields(t *testing.T) {
	_, err := Parse([]byte("engine:\n  tick_intervall: 1s\n"))
	assert.ErrorContains(t, err, "tick_intervall")
}

func TestParse_Empty(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"zero tick", "engine: {tick_interval: 0s}", "tick_interval"},
		{"negative depth", "engine: {max_call_depth: -1}", "max_call_depth"},
		{"negative quota", "engine: {max_task_instances: -5}", "limits"},
		{"negative wait", "engine: {gate_wait: -1}", "gate_wait"},
		{"missing id", "fleet: [{location: a}]", "fleet[0]: id"},
		{"duplicate", "fleet: [{id: a}, {id: a}]", "duplicate"},
		{"negative speed", "fleet: [{id: a, speed: -1}]", "speed"},
		{"distance ends", "distances: [{from: a, distance: 3}]", "from and to"},
		{"negative distance", "distances: [{from: a, to: b, distance: -3}]", "distance must not"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "c.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.yaml), 0o644))
			_, err := Load(path)
			assert.ErrorContains(t, err, tt.want)
		})
	}
}

func TestEngineOptions(t *testing.T) {
	cfg, err := Load("testdata/plant.yaml")
	require.NoError(t, err)

	p := ir.NewProgram()
	p.AddInstance(&ir.StructInstance{Name: "origin", Struct: ir.StructLocation, Fields: ir.Object{
		ir.FieldID: ir.String("origin"), ir.FieldType: ir.String("dock"), ir.FieldX: ir.Number(0), ir.FieldY: ir.Number(0),
	}})
	p.AddInstance(&ir.StructInstance{Name: "shelf1", Struct: ir.StructLocation, Fields: ir.Object{
		ir.FieldID: ir.String("shelf1"), ir.FieldType: ir.String("shelf"), ir.FieldX: ir.Number(3), ir.FieldY: ir.Number(4),
	}})
	p.Steps["pick"] = &ir.OrderStep{Name: "pick", Kind: ir.StepTransport, Location: "shelf1"}
	p.Steps["drop"] = &ir.OrderStep{Name: "drop", Kind: ir.StepTransport, Location: "origin"}
	p.AddTask(&ir.Task{Name: p.Entry, Statements: []ir.Statement{
		&ir.TransportOrder{From: []string{"pick"}, To: "drop"},
	}})

	fleet := cfg.NewFleet()
	e, err := engine.New(p, cfg.EngineOptions(fleet)...)
	require.NoError(t, err)
	assert.Same(t, fleet, e.Fleet())
}
