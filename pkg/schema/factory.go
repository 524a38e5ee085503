package schema

import "fmt"

// NodeFactory constructs a user node instance given its services
// handle. This is the Go analogue of the source's dynamic class
// loader: Go has no runtime "import classname and instantiate" path,
// so node packages register a constructor under their fully-qualified
// classname at package init time, the same way database/sql drivers
// register themselves.
type NodeFactory func(services NodeServices) NodeInstance

// ConfigurationFactory constructs a shared configuration instance.
type ConfigurationFactory func(services ConfigurationServices) ConfigurationInstance

var (
	nodeFactories          = map[string]NodeFactory{}
	configurationFactories = map[string]ConfigurationFactory{}
)

// RegisterNodeType associates a fully-qualified classname with a
// constructor. Node packages call this from an init() function.
func RegisterNodeType(classname string, factory NodeFactory) {
	nodeFactories[classname] = factory
}

// RegisterConfigurationType associates a fully-qualified classname
// with a configuration constructor.
func RegisterConfigurationType(classname string, factory ConfigurationFactory) {
	configurationFactories[classname] = factory
}

// ResolveNodeFactory looks up a registered node constructor.
func ResolveNodeFactory(classname string) (NodeFactory, error) {
	f, ok := nodeFactories[classname]
	if !ok {
		return nil, fmt.Errorf("no node class registered under %q", classname)
	}
	return f, nil
}

// ResolveConfigurationFactory looks up a registered configuration
// constructor.
func ResolveConfigurationFactory(classname string) (ConfigurationFactory, error) {
	f, ok := configurationFactories[classname]
	if !ok {
		return nil, fmt.Errorf("no configuration class registered under %q", classname)
	}
	return f, nil
}
