package manager

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/loomgraph/loom/pkg/schema"
	"github.com/loomgraph/loom/pkg/types"
	"github.com/stretchr/testify/require"
)

// workerRunnerHelperEnv marks a re-exec of this test binary as a
// stand-in loom-worker process: TestMain intercepts it before the
// testing package gets to parse its own flags, dials the host address
// passed on the command line exactly the way cmd/loom-worker does, and
// serves the wire protocol until the host closes it. This lets
// TestStartWorkerRunnerRunsOverRealTCP exercise StartWorkerRunner
// against a real child process and real TCP sockets without needing a
// prebuilt loom-worker binary on hand.
const workerRunnerHelperEnv = "LOOM_WORKER_RUNNER_TEST_HELPER"

type workerRunnerHelperNode struct{}

func (workerRunnerHelperNode) Execute(ctx context.Context, inputs types.Inputs) (types.Outputs, error) {
	return types.Outputs{"out": 99.0}, nil
}

func init() {
	// Registered unconditionally so it is present both in the parent
	// test process and in any re-exec'd helper-process child, since
	// each is a separate address space.
	schema.RegisterNodeType("worker-runner-test.constant", func(services schema.NodeServices) schema.NodeInstance {
		return workerRunnerHelperNode{}
	})
}

func TestMain(m *testing.M) {
	if os.Getenv(workerRunnerHelperEnv) == "1" {
		runWorkerRunnerHelperProcess()
		return
	}
	os.Exit(m.Run())
}

func runWorkerRunnerHelperProcess() {
	fs := flag.NewFlagSet("worker-runner-helper", flag.ExitOnError)
	host := fs.String("host", "127.0.0.1", "")
	port := fs.String("port", "", "")
	_ = fs.Parse(os.Args[1:])

	conn, err := net.Dial("tcp", net.JoinHostPort(*host, *port))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer conn.Close()

	if err := Serve(conn, schema.NewRegistry()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	os.Exit(0)
}

// TestStartWorkerRunnerRunsOverRealTCP spawns the test binary itself
// as a worker-runner helper process and drives a topology through it
// over a real loopback TCP connection, the same path cmd/loom would
// take with --worker-path pointing at a real loom-worker binary.
func TestStartWorkerRunnerRunsOverRealTCP(t *testing.T) {
	exe, err := os.Executable()
	require.NoError(t, err)

	t.Setenv(workerRunnerHelperEnv, "1")

	var mu sync.Mutex
	var sawExecuted bool
	reached := make(chan struct{})

	runner, err := StartWorkerRunner(WorkerRunnerOptions{
		WorkerPath:      exe,
		ExecutionFolder: t.TempDir(),
		OnExecutionState: func(nodeID types.NodeID, state types.ExecutionState, cause error, manual bool) {
			if nodeID != "n1" || state != types.StateExecuted {
				return
			}
			mu.Lock()
			already := sawExecuted
			sawExecuted = true
			mu.Unlock()
			if !already {
				close(reached)
			}
		},
	})
	require.NoError(t, err)
	defer runner.Stop()

	_, err = runner.AddPackage(schema.PackageDef{
		ID: "worker-runner-test",
		NodeTypes: map[string]schema.NodeTypeDef{
			"constant": {
				Classname:   "worker-runner-test.constant",
				OutputPorts: map[string]schema.PortDef{"out": {LinkType: "number"}},
			},
		},
	})
	require.NoError(t, err)

	require.NoError(t, runner.AddNode("n1", "worker-runner-test:constant", 0, 0, false))

	select {
	case <-reached:
	case <-time.After(10 * time.Second):
		t.Fatal("n1 never reached the executed state in the worker process")
	}

	mu.Lock()
	defer mu.Unlock()
	require.True(t, sawExecuted)
}
