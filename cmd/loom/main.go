// Command loom is the external runner: it loads one or more schema
// packages, loads or imports a topology into an execution folder, runs
// it, and optionally exports the result, all from command-line flags.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/loomgraph/loom/pkg/clientbus"
	"github.com/loomgraph/loom/pkg/codeexport"
	"github.com/loomgraph/loom/pkg/engine"
	"github.com/loomgraph/loom/pkg/events"
	"github.com/loomgraph/loom/pkg/graph"
	"github.com/loomgraph/loom/pkg/log"
	"github.com/loomgraph/loom/pkg/manager"
	"github.com/loomgraph/loom/pkg/schema"
	"github.com/loomgraph/loom/pkg/storage"
	"github.com/loomgraph/loom/pkg/types"
	"github.com/loomgraph/loom/pkg/yamlio"
	"github.com/spf13/cobra"

	// Node packages self-register through blank import at process
	// start, the same pattern cmd/loom-worker uses.
	_ "github.com/loomgraph/loom/pkg/nodepkg/numbergraph"
)

var rootCmd = &cobra.Command{
	Use:   "loom",
	Short: "Load, run, and persist a computation-graph topology",
	RunE:  run,
}

func init() {
	rootCmd.Flags().StringArray("package", nil, "Path to a schema package JSON file (required, repeatable)")
	rootCmd.Flags().String("execution-folder", "", "Execution folder root (required)")
	rootCmd.Flags().String("import-path", "", "Topology to import before running (.zip, .yaml, or .yml)")
	rootCmd.Flags().String("export-path", "", "Where to export the topology after running (.zip, .yaml, or .yml)")
	rootCmd.Flags().String("export-code", "", "Where to write a generated Go source file that rebuilds this topology")
	rootCmd.Flags().Bool("run", false, "Run the topology to completion before exporting")
	rootCmd.Flags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.Flags().String("worker-path", "", "Path to a loom-worker binary; when set, the topology runs in that child process instead of in-process")
	_ = rootCmd.MarkFlagRequired("package")
	_ = rootCmd.MarkFlagRequired("execution-folder")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "loom: %v\n", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	packages, _ := cmd.Flags().GetStringArray("package")
	executionFolder, _ := cmd.Flags().GetString("execution-folder")
	importPath, _ := cmd.Flags().GetString("import-path")
	exportPath, _ := cmd.Flags().GetString("export-path")
	exportCode, _ := cmd.Flags().GetString("export-code")
	shouldRun, _ := cmd.Flags().GetBool("run")
	level, _ := cmd.Flags().GetString("log-level")
	workerPath, _ := cmd.Flags().GetString("worker-path")

	log.Init(log.Config{Level: log.Level(level), JSONOutput: false})
	logger := log.WithComponent("loom")

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()
	watch := broker.Subscribe()
	go func() {
		for ev := range watch {
			logger.Debug().Str("event", string(ev.Type)).Str("message", ev.Message).Msg("topology event")
		}
	}()
	defer broker.Unsubscribe(watch)

	var packageDefs []schema.PackageDef
	for _, path := range packages {
		def, err := schema.LoadPackageFile(path)
		if err != nil {
			return fmt.Errorf("loom: loading package %q: %w", path, err)
		}
		packageDefs = append(packageDefs, def)
	}

	store, err := storage.NewFileStore(executionFolder)
	if err != nil {
		return fmt.Errorf("loom: opening execution folder: %w", err)
	}

	g, err := loadTopology(importPath, executionFolder, store)
	if err != nil {
		return err
	}

	onStatus := func(originID string, originType types.TargetKind, state types.StatusLevel, message string) {
		logger.Info().Str("origin", originID).Str("kind", string(originType)).Str("state", string(state)).Msg(message)
	}
	onExecutionState := func(nodeID types.NodeID, state types.ExecutionState, cause error, manual bool) {
		if cause != nil {
			logger.Error().Str("node", string(nodeID)).Str("state", string(state)).Err(cause).Msg("execution state changed")
			return
		}
		logger.Info().Str("node", string(nodeID)).Str("state", string(state)).Msg("execution state changed")
	}

	var mgr manager.Manager
	if workerPath != "" {
		runner, err := manager.StartWorkerRunner(manager.WorkerRunnerOptions{
			WorkerPath:       workerPath,
			ExecutionFolder:  executionFolder,
			OnStatus:         onStatus,
			OnExecutionState: onExecutionState,
		})
		if err != nil {
			return fmt.Errorf("loom: starting worker process: %w", err)
		}
		mgr = runner
		logger.Info().Str("worker_path", workerPath).Msg("running topology in worker process")
	} else {
		registry := schema.NewRegistry()
		eng := engine.New(engine.Options{
			Registry:         registry,
			Store:            store,
			Fabric:           clientbus.NewFabric(),
			OnStatus:         onStatus,
			OnExecutionState: onExecutionState,
		})
		mgr = manager.NewInProcessRunner(eng)
	}
	defer mgr.Stop()

	var packageIDs []types.PackageID
	for _, def := range packageDefs {
		id, err := mgr.AddPackage(def)
		if err != nil {
			return fmt.Errorf("loom: registering package %q: %w", def.ID, err)
		}
		packageIDs = append(packageIDs, id)
		broker.Publish(&events.Event{Type: events.EventPackageAdded, Message: string(id)})
	}

	if err := manager.LoadTopology(mgr, g); err != nil {
		return fmt.Errorf("loom: loading topology: %w", err)
	}

	if shouldRun {
		broker.Publish(&events.Event{Type: events.EventRunStarted})
		var wg sync.WaitGroup
		wg.Add(1)
		var once sync.Once
		mgr.Run(func() {
			once.Do(wg.Done)
		})
		wg.Wait()
		broker.Publish(&events.Event{Type: events.EventRunCompleted})
	}

	if exportPath != "" {
		if err := exportTopology(g, store, packageIDs, executionFolder, exportPath); err != nil {
			return err
		}
	}

	if exportCode != "" {
		if err := exportGeneratedCode(g, exportCode); err != nil {
			return err
		}
	}

	if shouldRun {
		if failed := mgr.CountFailed(); failed > 0 {
			return fmt.Errorf("loom: %d node(s) failed", failed)
		}
	}
	return nil
}

func loadTopology(importPath, executionFolder string, store storage.Store) (*graph.Graph, error) {
	if importPath == "" {
		return graph.LoadDir(executionFolder)
	}
	switch strings.ToLower(filepath.Ext(importPath)) {
	case ".zip":
		if err := graph.LoadZip(importPath, executionFolder); err != nil {
			return nil, fmt.Errorf("loom: importing zip %q: %w", importPath, err)
		}
		return graph.LoadDir(executionFolder)
	case ".yaml", ".yml":
		return yamlio.Import(importPath, store)
	default:
		return nil, fmt.Errorf("loom: import-path: %w", &types.UnsupportedFormatError{Path: importPath})
	}
}

func exportTopology(g *graph.Graph, store storage.Store, packageIDs []types.PackageID, executionFolder, exportPath string) error {
	switch strings.ToLower(filepath.Ext(exportPath)) {
	case ".zip":
		if err := g.SaveDir(executionFolder); err != nil {
			return fmt.Errorf("loom: saving execution folder: %w", err)
		}
		if err := graph.SaveZip(executionFolder, exportPath); err != nil {
			return fmt.Errorf("loom: exporting zip %q: %w", exportPath, err)
		}
		return nil
	case ".yaml", ".yml":
		if err := yamlio.Export(g, store, packageIDs, exportPath); err != nil {
			return fmt.Errorf("loom: exporting yaml %q: %w", exportPath, err)
		}
		return nil
	default:
		return fmt.Errorf("loom: export-path: %w", &types.UnsupportedFormatError{Path: exportPath})
	}
}

func exportGeneratedCode(g *graph.Graph, exportCode string) error {
	source, err := codeexport.Generate(g, "generated", "Topology")
	if err != nil {
		return fmt.Errorf("loom: generating code: %w", err)
	}
	if err := os.WriteFile(exportCode, source, 0o644); err != nil {
		return fmt.Errorf("loom: writing generated code to %q: %w", exportCode, err)
	}
	return nil
}
