package interactor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/loomgraph/loom/pkg/clientbus"
	"github.com/loomgraph/loom/pkg/engine"
	"github.com/loomgraph/loom/pkg/manager"
	"github.com/loomgraph/loom/pkg/schema"
	"github.com/loomgraph/loom/pkg/storage"
	"github.com/loomgraph/loom/pkg/types"
	"github.com/stretchr/testify/require"
)

// echoNode answers every attached client with whatever it sent, so a
// test can observe a round trip without a real package.
type echoNode struct{}

func (n *echoNode) Execute(ctx context.Context, inputs types.Inputs) (types.Outputs, error) {
	return types.Outputs{}, nil
}

func (n *echoNode) OpenClient(clientID types.ClientID, options map[string]any, send schema.ClientMessageSender) schema.ClientMessageReceiver {
	return func(parts ...any) {
		send(parts...)
	}
}

func newTestInteractor(t *testing.T) (*Interactor, *engine.Engine) {
	t.Helper()

	schema.RegisterNodeType("interactor-test.echo", func(services schema.NodeServices) schema.NodeInstance {
		return &echoNode{}
	})

	registry := schema.NewRegistry()
	_, err := registry.AddPackage(schema.PackageDef{
		ID: "interactor-test",
		NodeTypes: map[string]schema.NodeTypeDef{
			"echo": {Classname: "interactor-test.echo"},
		},
	})
	require.NoError(t, err)

	store, err := storage.NewFileStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	var reg *manager.ClientRegistry
	e := engine.New(engine.Options{
		Registry: registry,
		Store:    store,
		Fabric:   clientbus.NewFabric(),
		OnClientMessage: func(originType types.TargetKind, originID string, clientID types.ClientID, parts []any) {
			reg.Dispatch(originType, originID, clientID, parts)
		},
	})
	t.Cleanup(e.Stop)

	runner := manager.NewInProcessRunner(e)
	reg = manager.NewClientRegistry(runner)
	in := New(runner, reg)
	return in, e
}

func TestInteractorRunReachesCompletion(t *testing.T) {
	in, e := newTestInteractor(t)
	require.NoError(t, e.AddNode("n1", "interactor-test:echo", 0, 0, false))

	var wg sync.WaitGroup
	wg.Add(1)
	in.Run(func() { wg.Done() })

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("run did not complete in time")
	}
	require.Equal(t, 0, in.CountFailed())
}

func TestInteractorPauseResumeDelegatesToManager(t *testing.T) {
	in, e := newTestInteractor(t)
	require.NoError(t, e.AddNode("n1", "interactor-test:echo", 0, 0, false))

	in.Pause()
	var wg sync.WaitGroup
	wg.Add(1)
	in.Run(func() { wg.Done() })

	// Give a paused dispatch a moment to (not) fire.
	select {
	case <-time.After(100 * time.Millisecond):
	}
	require.Equal(t, 0, in.CountFailed())

	in.Resume()
	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("run did not complete after resume")
	}
}

func TestInteractorNodeClientRoundTrip(t *testing.T) {
	in, e := newTestInteractor(t)
	require.NoError(t, e.AddNode("n1", "interactor-test:echo", 0, 0, false))

	var wg sync.WaitGroup
	wg.Add(1)
	in.Run(func() { wg.Done() })
	wg.Wait()

	var mu sync.Mutex
	var received []any
	got := make(chan struct{}, 1)
	client, err := in.AttachNodeClient("n1", types.NewClientID("c1"), nil, func(parts []any) {
		mu.Lock()
		received = parts
		mu.Unlock()
		got <- struct{}{}
	})
	require.NoError(t, err)

	require.NoError(t, client.Send("ping"))

	select {
	case <-got:
	case <-time.After(2 * time.Second):
		t.Fatal("client never received a reply")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []any{"ping"}, received)

	require.NoError(t, in.DetachNodeClient("n1", types.NewClientID("c1")))
}

func TestInteractorStopTearsDownEngine(t *testing.T) {
	in, _ := newTestInteractor(t)
	in.Stop()
}
