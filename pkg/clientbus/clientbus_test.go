package clientbus

import (
	"testing"

	"github.com/loomgraph/loom/pkg/types"
	"github.com/stretchr/testify/require"
)

func TestServiceQueuesInboundUntilHandlerInstalled(t *testing.T) {
	svc := NewService(func(parts ...any) {})

	svc.HandleMessage("first")
	svc.HandleMessage("second")

	var received [][]any
	svc.SetMessageHandler(func(parts ...any) {
		received = append(received, parts)
	})

	require.Equal(t, [][]any{{"first"}, {"second"}}, received)

	svc.HandleMessage("third")
	require.Equal(t, [][]any{{"first"}, {"second"}, {"third"}}, received)
}

func TestServiceSendMessageFailsAfterClose(t *testing.T) {
	var sent []any
	svc := NewService(func(parts ...any) { sent = append(sent, parts...) })

	require.True(t, svc.SendMessage("hello"))
	svc.Close()
	require.False(t, svc.SendMessage("ignored"))
	require.Equal(t, []any{"hello"}, sent)
}

func TestFabricAttachBeforeRegisterQueuesThenDelivers(t *testing.T) {
	f := NewFabric()
	clientID := types.NewClientID("c1")

	f.QueueOpen(types.TargetNode, "n1", clientID, map[string]any{"opt": true})
	f.QueueMessage(types.TargetNode, "n1", clientID, []any{"queued"})

	require.False(t, f.IsReady(types.TargetNode, "n1"))

	f.RegisterTarget(types.TargetNode, "n1")
	require.True(t, f.IsReady(types.TargetNode, "n1"))

	opens := f.DrainPendingOpens(types.TargetNode, "n1")
	require.Len(t, opens, 1)
	require.Equal(t, clientID, opens[0].ClientID)

	messages := f.DrainPending(types.TargetNode, "n1")
	require.Len(t, messages, 1)
	require.Equal(t, []any{"queued"}, messages[0].Parts)

	// Drained queues do not replay a second time.
	require.Empty(t, f.DrainPendingOpens(types.TargetNode, "n1"))
	require.Empty(t, f.DrainPending(types.TargetNode, "n1"))
}

func TestFabricAttachReplacesExistingClient(t *testing.T) {
	f := NewFabric()
	clientID := types.NewClientID("c1")

	first, ready := f.Attach(types.TargetNode, "n1", clientID, func(parts ...any) {})
	require.False(t, ready)

	f.RegisterTarget(types.TargetNode, "n1")
	second, ready := f.Attach(types.TargetNode, "n1", clientID, func(parts ...any) {})
	require.True(t, ready)
	require.NotSame(t, first, second)

	// The first service is now closed; sending through it must fail.
	require.False(t, first.SendMessage("late"))
	require.False(t, first.open)
}

func TestFabricDetachClosesService(t *testing.T) {
	f := NewFabric()
	clientID := types.NewClientID("c1")
	f.RegisterTarget(types.TargetConfiguration, "pkg1")

	svc, ready := f.Attach(types.TargetConfiguration, "pkg1", clientID, func(parts ...any) {})
	require.True(t, ready)

	f.Detach(types.TargetConfiguration, "pkg1", clientID)
	_, ok := f.Lookup(types.TargetConfiguration, "pkg1", clientID)
	require.False(t, ok)
	require.False(t, svc.SendMessage("after detach"))
}

func TestUnregisterTargetClearsState(t *testing.T) {
	f := NewFabric()
	clientID := types.NewClientID("c1")
	f.RegisterTarget(types.TargetNode, "n1")
	f.Attach(types.TargetNode, "n1", clientID, func(parts ...any) {})

	f.UnregisterTarget(types.TargetNode, "n1")
	require.False(t, f.IsReady(types.TargetNode, "n1"))
	_, ok := f.Lookup(types.TargetNode, "n1", clientID)
	require.False(t, ok)
}
