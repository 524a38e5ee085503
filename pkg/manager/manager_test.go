package manager

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/loomgraph/loom/pkg/clientbus"
	"github.com/loomgraph/loom/pkg/engine"
	"github.com/loomgraph/loom/pkg/schema"
	"github.com/loomgraph/loom/pkg/storage"
	"github.com/loomgraph/loom/pkg/types"
	"github.com/stretchr/testify/require"
)

type inProcessTestNode struct{}

func (n *inProcessTestNode) Execute(ctx context.Context, inputs types.Inputs) (types.Outputs, error) {
	return types.Outputs{"out": 7.0}, nil
}

func TestInProcessRunnerSatisfiesManagerBehaviorally(t *testing.T) {
	schema.RegisterNodeType("inprocess-test.const", func(services schema.NodeServices) schema.NodeInstance {
		return &inProcessTestNode{}
	})

	registry := schema.NewRegistry()
	_, err := registry.AddPackage(schema.PackageDef{
		ID: "inprocess-test",
		NodeTypes: map[string]schema.NodeTypeDef{
			"const": {
				Classname:   "inprocess-test.const",
				OutputPorts: map[string]schema.PortDef{"out": {LinkType: "number"}},
			},
		},
	})
	require.NoError(t, err)

	store, err := storage.NewFileStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	e := engine.New(engine.Options{Registry: registry, Store: store, Fabric: clientbus.NewFabric()})
	var runner Manager = NewInProcessRunner(e)
	t.Cleanup(runner.Stop)

	require.NoError(t, runner.AddNode("n1", "inprocess-test:const", 0, 0, false))

	var wg sync.WaitGroup
	wg.Add(1)
	runner.Run(func() { wg.Done() })

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("run did not complete in time")
	}

	require.Equal(t, 0, runner.CountFailed())
}
