package wazerocore

import (
	"github.com/wazerocore/wazerocore/api"
	"github.com/wazerocore/wazerocore/internal/wasm"
)

// RuntimeConfig controls the behavior shared by every module a Runtime compiles and instantiates: which optional
// core specification features are accepted at decode time.
type RuntimeConfig struct {
	enabledFeatures api.CoreFeatures
}

// NewRuntimeConfig returns the default RuntimeConfig, with the full set of features this engine implements
// (api.CoreFeaturesV2) enabled. There is no JIT-vs-interpreter choice here, unlike the teacher this repository is
// built from: code generation is out of scope, so the interpreter is the only engine.
func NewRuntimeConfig() *RuntimeConfig {
	return &RuntimeConfig{enabledFeatures: api.CoreFeaturesV2}
}

// WithCoreFeatures replaces the enabled feature set wholesale. Use api.CoreFeaturesV1 to restrict a Runtime to the
// WebAssembly 1.0 (MVP) subset, rejecting sign-extension, multi-value, saturating truncation and bulk-memory
// instructions with UnsupportedFeature instead of silently accepting them.
func (c *RuntimeConfig) WithCoreFeatures(features api.CoreFeatures) *RuntimeConfig {
	ret := c.clone()
	ret.enabledFeatures = features
	return ret
}

func (c *RuntimeConfig) clone() *RuntimeConfig {
	ret := *c
	return &ret
}

// ModuleConfig controls the behavior of a single InstantiateModule call: the name the resulting instance is
// registered and exported under.
type ModuleConfig struct {
	name string
}

// NewModuleConfig returns the default ModuleConfig, whose name is the empty string (anonymous: the instance is not
// addressable as an import source for later InstantiateModule calls, but can still be invoked directly).
func NewModuleConfig() *ModuleConfig {
	return &ModuleConfig{}
}

// WithName overrides the module's instantiation name, which is what other modules reference in their import
// section's module field, and what api.Module.Name returns.
func (c *ModuleConfig) WithName(name string) *ModuleConfig {
	ret := *c
	ret.name = name
	return &ret
}

// featuresOrDefault is used where a nil *RuntimeConfig (NewRuntime's zero-config convenience) should behave as
// NewRuntimeConfig().
func featuresOrDefault(c *RuntimeConfig) wasm.Features {
	if c == nil {
		return api.CoreFeaturesV2
	}
	return c.enabledFeatures
}
