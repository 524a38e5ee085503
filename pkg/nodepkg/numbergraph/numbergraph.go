// Package numbergraph is a small demonstration node package: a constant
// source, a doubling transform, a summing aggregate, and a prime-factor
// node that fails on inputs below 2. It exists to give the engine,
// the CLI, and the scenario tests something concrete to run.
package numbergraph

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/loomgraph/loom/pkg/schema"
	"github.com/loomgraph/loom/pkg/types"
)

const (
	ClassSource       = "numbergraph.Source"
	ClassTransform    = "numbergraph.Transform"
	ClassAggregate    = "numbergraph.Aggregate"
	ClassPrimeFactors = "numbergraph.PrimeFactors"
	ClassConfig       = "numbergraph.Configuration"
)

func init() {
	schema.RegisterNodeType(ClassSource, newSource)
	schema.RegisterNodeType(ClassTransform, newTransform)
	schema.RegisterNodeType(ClassAggregate, newAggregate)
	schema.RegisterNodeType(ClassPrimeFactors, newPrimeFactors)
	schema.RegisterConfigurationType(ClassConfig, newConfiguration)
}

// source emits a constant value, read from its "value" property each
// time it (re)executes.
type source struct {
	services schema.NodeServices
}

func newSource(services schema.NodeServices) schema.NodeInstance {
	return &source{services: services}
}

func (n *source) Execute(ctx context.Context, inputs types.Inputs) (types.Outputs, error) {
	value := n.services.GetProperty("value", 0.0)
	return types.Outputs{"out": value}, nil
}

// transform doubles the single value delivered on its "in" port.
type transform struct{}

func newTransform(services schema.NodeServices) schema.NodeInstance {
	return &transform{}
}

func (n *transform) Execute(ctx context.Context, inputs types.Inputs) (types.Outputs, error) {
	values := inputs["in"]
	if len(values) == 0 {
		return types.Outputs{"out": 0.0}, nil
	}
	v, ok := values[0].(float64)
	if !ok {
		return nil, fmt.Errorf("transform: expected a number on port \"in\", got %T", values[0])
	}
	return types.Outputs{"out": v * 2}, nil
}

// aggregate sums every value delivered on its "in" port, which allows
// multiple connections.
type aggregate struct{}

func newAggregate(services schema.NodeServices) schema.NodeInstance {
	return &aggregate{}
}

func (n *aggregate) Execute(ctx context.Context, inputs types.Inputs) (types.Outputs, error) {
	total := 0.0
	for _, v := range inputs["in"] {
		f, ok := v.(float64)
		if !ok {
			return nil, fmt.Errorf("aggregate: expected a number on port \"in\", got %T", v)
		}
		total += f
	}
	return types.Outputs{"out": total}, nil
}

// primeFactors factorizes its input, failing on inputs below 2 -- the
// node used to exercise block-on-failure semantics.
type primeFactors struct {
	services schema.NodeServices
}

func newPrimeFactors(services schema.NodeServices) schema.NodeInstance {
	return &primeFactors{services: services}
}

func (n *primeFactors) Execute(ctx context.Context, inputs types.Inputs) (types.Outputs, error) {
	values := inputs["in"]
	if len(values) == 0 {
		return nil, fmt.Errorf("primefactors: no value delivered on port \"in\"")
	}
	v, ok := values[0].(float64)
	if !ok {
		return nil, fmt.Errorf("primefactors: expected a number on port \"in\", got %T", values[0])
	}
	num := int(v)
	if num < 2 {
		return nil, fmt.Errorf("primefactors: input %d must be >= 2", num)
	}

	var factors []int
	if cfg, ok := n.services.Configuration(); ok {
		if c, ok := cfg.(*Configuration); ok {
			factors = c.FindFactors(num)
		}
	}
	if factors == nil {
		factors = factorize(num)
	}
	return types.Outputs{"out": factors}, nil
}

func factorize(n int) []int {
	var factors []int
	for n%2 == 0 {
		factors = append(factors, 2)
		n /= 2
	}
	for i := 3; i*i <= n; i += 2 {
		for n%i == 0 {
			factors = append(factors, i)
			n /= i
		}
	}
	if n > 1 {
		factors = append(factors, n)
	}
	return factors
}

// Configuration caches prime factorizations across every PrimeFactors
// node of a package run, persisted to the data store between runs.
type Configuration struct {
	services schema.ConfigurationServices
	cache    map[int][]int
}

func newConfiguration(services schema.ConfigurationServices) schema.ConfigurationInstance {
	return &Configuration{services: services, cache: map[int][]int{}}
}

// Load restores the cache from persisted data, if any was saved by a
// previous run's Close.
func (c *Configuration) Load() error {
	if data, ok := c.services.GetData("prime_factors"); ok {
		text, ok := data.(string)
		if !ok {
			return fmt.Errorf("prime_factors: persisted data has unexpected type %T", data)
		}
		cache, err := decodeFactorCache(text)
		if err != nil {
			return fmt.Errorf("prime_factors: %w", err)
		}
		c.cache = cache
	}
	c.services.SetStatus(types.StatusInfo, fmt.Sprintf("loaded cache (%d items)", len(c.cache)))
	return nil
}

// FindFactors returns a cached factorization if present, else
// computes, caches, and returns it.
func (c *Configuration) FindFactors(n int) []int {
	if factors, ok := c.cache[n]; ok {
		return factors
	}
	factors := factorize(n)
	c.cache[n] = factors
	return factors
}

// Close persists the cache for the next run.
func (c *Configuration) Close() {
	text, err := encodeFactorCache(c.cache)
	if err != nil {
		c.services.SetStatus(types.StatusError, fmt.Sprintf("saving cache: %v", err))
		return
	}
	c.services.SetData("prime_factors", text)
	c.services.SetStatus(types.StatusInfo, fmt.Sprintf("saved cache (%d items)", len(c.cache)))
}

func encodeFactorCache(cache map[int][]int) (string, error) {
	data, err := json.Marshal(cache)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decodeFactorCache(text string) (map[int][]int, error) {
	cache := map[int][]int{}
	if err := json.Unmarshal([]byte(text), &cache); err != nil {
		return nil, err
	}
	return cache, nil
}
