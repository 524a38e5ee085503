// Package schema implements the registry mapping a "package:type"
// descriptor to a node's port definitions and its instantiation
// factory. A Registry is populated once at startup from one or more
// package JSON documents (see PortDef/NodeType/Package) and handed to
// the engine as a read-only lookup.
package schema

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/loomgraph/loom/pkg/types"
)

// PortDef is the JSON shape of one input or output port declaration.
type PortDef struct {
	LinkType                  string `json:"link_type"`
	AllowsMultipleConnections bool   `json:"allow_multiple_connections"`
}

// NodeTypeDef is the JSON shape of one node type within a package.
type NodeTypeDef struct {
	Classname   string             `json:"classname"`
	Metadata    map[string]any     `json:"metadata"`
	Display     map[string]any     `json:"display"`
	InputPorts  map[string]PortDef `json:"input_ports"`
	OutputPorts map[string]PortDef `json:"output_ports"`
	Enabled     *bool              `json:"enabled"`
}

func (d NodeTypeDef) isEnabled() bool {
	return d.Enabled == nil || *d.Enabled
}

// ConfigurationDef is the JSON shape of a package's optional shared
// configuration class.
type ConfigurationDef struct {
	Classname string `json:"classname"`
}

// PackageDef is the on-disk JSON document for one package, as loaded
// from a --package path.
type PackageDef struct {
	ID            string                 `json:"id"`
	Metadata      map[string]any         `json:"metadata"`
	Display       map[string]any         `json:"display"`
	NodeTypes     map[string]NodeTypeDef `json:"node_types"`
	LinkTypes     map[string]any         `json:"link_types"`
	Configuration ConfigurationDef       `json:"configuration"`
}

// NodeType is the registry's resolved view of one node type: its
// static port definitions plus the fully-qualified class descriptor
// used to instantiate it.
type NodeType struct {
	PackageID   types.PackageID
	TypeID      string
	Classname   string
	InputPorts  map[string]types.Port
	OutputPorts map[string]types.Port
	Enabled     bool
}

// Descriptor returns the "package:type" string this node type is
// addressed by.
func (nt NodeType) Descriptor() types.NodeTypeDescriptor {
	return FormDescriptor(nt.PackageID, nt.TypeID)
}

// Package is the registry's resolved view of one loaded package.
type Package struct {
	ID                  types.PackageID
	NodeTypes           map[string]*NodeType
	ConfigurationClass  string
	HasConfigurationClass bool
}

// Registry maps package:type descriptors to node types, and exposes
// each package's optional configuration class. It is built once and
// read concurrently thereafter; mutation is not goroutine-safe.
type Registry struct {
	packages map[types.PackageID]*Package
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{packages: map[types.PackageID]*Package{}}
}

// LoadFile reads one package JSON document from path and registers it.
func (r *Registry) LoadFile(path string) (types.PackageID, error) {
	def, err := LoadPackageFile(path)
	if err != nil {
		return "", err
	}
	return r.AddPackage(def)
}

// LoadPackageFile reads and decodes one package JSON document without
// registering it, so a caller that does not hold the target registry
// directly -- the CLI addressing an out-of-process worker, for
// instance -- can still read the definition and hand it off elsewhere.
func LoadPackageFile(path string) (PackageDef, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return PackageDef{}, fmt.Errorf("failed to read package file %q: %w", path, err)
	}
	var def PackageDef
	if err := json.Unmarshal(data, &def); err != nil {
		return PackageDef{}, fmt.Errorf("failed to decode package file %q: %w", path, err)
	}
	return def, nil
}

// AddPackage registers an already-decoded package document.
func (r *Registry) AddPackage(def PackageDef) (types.PackageID, error) {
	packageID := types.PackageID(def.ID)
	if _, exists := r.packages[packageID]; exists {
		return "", fmt.Errorf("package %q already registered", packageID)
	}

	pkg := &Package{
		ID:        packageID,
		NodeTypes: map[string]*NodeType{},
	}
	for typeID, nodeDef := range def.NodeTypes {
		if !nodeDef.isEnabled() {
			continue
		}
		pkg.NodeTypes[typeID] = &NodeType{
			PackageID:   packageID,
			TypeID:      typeID,
			Classname:   nodeDef.Classname,
			InputPorts:  portsFromDef(nodeDef.InputPorts),
			OutputPorts: portsFromDef(nodeDef.OutputPorts),
			Enabled:     true,
		}
	}
	if def.Configuration.Classname != "" {
		pkg.ConfigurationClass = def.Configuration.Classname
		pkg.HasConfigurationClass = true
	}

	r.packages[packageID] = pkg
	return packageID, nil
}

func portsFromDef(defs map[string]PortDef) map[string]types.Port {
	ports := make(map[string]types.Port, len(defs))
	for name, d := range defs {
		ports[name] = types.Port{
			Name:                      name,
			LinkType:                  d.LinkType,
			AllowsMultipleConnections: d.AllowsMultipleConnections,
		}
	}
	return ports
}

// Package returns the registered package by id.
func (r *Registry) Package(id types.PackageID) (*Package, bool) {
	pkg, ok := r.packages[id]
	return pkg, ok
}

// Packages returns every registered package id.
func (r *Registry) Packages() []types.PackageID {
	ids := make([]types.PackageID, 0, len(r.packages))
	for id := range r.packages {
		ids = append(ids, id)
	}
	return ids
}

// NodeType resolves a "package:type" descriptor to its NodeType.
func (r *Registry) NodeType(descriptor types.NodeTypeDescriptor) (*NodeType, error) {
	packageID, typeID, err := SplitDescriptor(descriptor)
	if err != nil {
		return nil, err
	}
	pkg, ok := r.packages[packageID]
	if !ok {
		return nil, fmt.Errorf("unknown package %q in descriptor %q", packageID, descriptor)
	}
	nt, ok := pkg.NodeTypes[typeID]
	if !ok {
		return nil, fmt.Errorf("unknown node type %q in package %q", typeID, packageID)
	}
	return nt, nil
}

// SplitDescriptor splits a "package:type" descriptor into its parts.
func SplitDescriptor(descriptor types.NodeTypeDescriptor) (types.PackageID, string, error) {
	s := string(descriptor)
	idx := -1
	for i, r := range s {
		if r == ':' {
			idx = i
			break
		}
	}
	if idx < 0 {
		return "", "", fmt.Errorf("invalid node type descriptor %q: expected package:type", descriptor)
	}
	return types.PackageID(s[:idx]), s[idx+1:], nil
}

// FormDescriptor joins a package id and type id into a descriptor.
func FormDescriptor(packageID types.PackageID, typeID string) types.NodeTypeDescriptor {
	return types.NodeTypeDescriptor(string(packageID) + ":" + typeID)
}
