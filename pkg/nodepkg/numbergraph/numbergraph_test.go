package numbergraph

import (
	"context"
	"testing"

	"github.com/loomgraph/loom/pkg/schema"
	"github.com/loomgraph/loom/pkg/types"
	"github.com/stretchr/testify/require"
)

// fakeNodeServices is a minimal schema.NodeServices for direct unit
// testing of node behavior without spinning up an engine.
type fakeNodeServices struct {
	id         types.NodeID
	properties map[string]any
	data       map[string]any
	config     schema.ConfigurationInstance
}

func newFakeNodeServices() *fakeNodeServices {
	return &fakeNodeServices{properties: map[string]any{}, data: map[string]any{}}
}

func (f *fakeNodeServices) NodeID() types.NodeID { return f.id }
func (f *fakeNodeServices) GetProperty(name string, defaultValue any) any {
	if v, ok := f.properties[name]; ok {
		return v
	}
	return defaultValue
}
func (f *fakeNodeServices) SetProperty(name string, value any) { f.properties[name] = value }
func (f *fakeNodeServices) GetData(key string) (any, bool)     { v, ok := f.data[key]; return v, ok }
func (f *fakeNodeServices) SetData(key string, value any)      { f.data[key] = value }
func (f *fakeNodeServices) SetStatus(state types.StatusLevel, message string) {}
func (f *fakeNodeServices) RequestExecution()                                {}
func (f *fakeNodeServices) SetExecutionState(state types.ExecutionState)     {}
func (f *fakeNodeServices) Configuration() (schema.ConfigurationInstance, bool) {
	return f.config, f.config != nil
}

type fakeConfigServices struct {
	properties map[string]any
	data       map[string]any
}

func newFakeConfigServices() *fakeConfigServices {
	return &fakeConfigServices{properties: map[string]any{}, data: map[string]any{}}
}

func (f *fakeConfigServices) PackageID() types.PackageID { return "numbergraph" }
func (f *fakeConfigServices) GetProperty(name string, defaultValue any) any {
	if v, ok := f.properties[name]; ok {
		return v
	}
	return defaultValue
}
func (f *fakeConfigServices) SetProperty(name string, value any) { f.properties[name] = value }
func (f *fakeConfigServices) GetData(key string) (any, bool)     { v, ok := f.data[key]; return v, ok }
func (f *fakeConfigServices) SetData(key string, value any)      { f.data[key] = value }
func (f *fakeConfigServices) SetStatus(state types.StatusLevel, message string) {}

func TestSourceEmitsItsValueProperty(t *testing.T) {
	services := newFakeNodeServices()
	services.SetProperty("value", 5.0)
	n := newSource(services).(*source)

	out, err := n.Execute(context.Background(), types.Inputs{})
	require.NoError(t, err)
	require.Equal(t, 5.0, out["out"])
}

func TestTransformDoublesInput(t *testing.T) {
	n := newTransform(newFakeNodeServices()).(*transform)

	out, err := n.Execute(context.Background(), types.Inputs{"in": []any{3.0}})
	require.NoError(t, err)
	require.Equal(t, 6.0, out["out"])
}

func TestTransformRejectsNonNumericInput(t *testing.T) {
	n := newTransform(newFakeNodeServices()).(*transform)

	_, err := n.Execute(context.Background(), types.Inputs{"in": []any{"oops"}})
	require.Error(t, err)
}

func TestAggregateSumsAllInputs(t *testing.T) {
	n := newAggregate(newFakeNodeServices()).(*aggregate)

	out, err := n.Execute(context.Background(), types.Inputs{"in": []any{1.0, 2.0, 3.5}})
	require.NoError(t, err)
	require.Equal(t, 6.5, out["out"])
}

func TestPrimeFactorsFactorizesWithoutConfiguration(t *testing.T) {
	services := newFakeNodeServices()
	n := newPrimeFactors(services).(*primeFactors)

	out, err := n.Execute(context.Background(), types.Inputs{"in": []any{12.0}})
	require.NoError(t, err)
	require.Equal(t, []int{2, 2, 3}, out["out"])
}

func TestPrimeFactorsRejectsInputBelowTwo(t *testing.T) {
	n := newPrimeFactors(newFakeNodeServices()).(*primeFactors)

	_, err := n.Execute(context.Background(), types.Inputs{"in": []any{1.0}})
	require.Error(t, err)
}

func TestPrimeFactorsUsesConfigurationCache(t *testing.T) {
	cfgServices := newFakeConfigServices()
	cfg := newConfiguration(cfgServices).(*Configuration)

	nodeServices := newFakeNodeServices()
	nodeServices.config = cfg
	n := newPrimeFactors(nodeServices).(*primeFactors)

	out, err := n.Execute(context.Background(), types.Inputs{"in": []any{30.0}})
	require.NoError(t, err)
	require.Equal(t, []int{2, 3, 5}, out["out"])
	require.Contains(t, cfg.cache, 30)
}

func TestConfigurationCloseThenLoadRestoresCache(t *testing.T) {
	cfgServices := newFakeConfigServices()
	cfg := newConfiguration(cfgServices).(*Configuration)
	cfg.FindFactors(12)
	cfg.FindFactors(7)
	cfg.Close()

	restored := newConfiguration(cfgServices).(*Configuration)
	require.NoError(t, restored.Load())
	require.Equal(t, []int{2, 2, 3}, restored.cache[12])
	require.Equal(t, []int{7}, restored.cache[7])
}

func TestRegisteredFactoriesMatchClassConstants(t *testing.T) {
	_, err := schema.ResolveNodeFactory(ClassSource)
	require.NoError(t, err)
	_, err = schema.ResolveNodeFactory(ClassTransform)
	require.NoError(t, err)
	_, err = schema.ResolveNodeFactory(ClassAggregate)
	require.NoError(t, err)
	_, err = schema.ResolveNodeFactory(ClassPrimeFactors)
	require.NoError(t, err)
	_, err = schema.ResolveConfigurationFactory(ClassConfig)
	require.NoError(t, err)
}
