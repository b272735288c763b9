package api

import "fmt"

// CoreFeatures is a bitset of WebAssembly core specification features. A decoder rejects any construct that
// requires a feature not in the active set with an UnsupportedFeature error, rather than a generic UnknownOpcode
// error, so embedders can tell "never implemented" apart from "disabled for this compile".
//
// Note: a zero-valued CoreFeatures means "nothing enabled"; the first flag is 1<<0.
type CoreFeatures uint64

const (
	// CoreFeatureMutableGlobal allows globals to be imported and exported as mutable. This is the sole feature of
	// the WebAssembly Core 1.0 (MVP) specification.
	CoreFeatureMutableGlobal CoreFeatures = 1 << iota
	// CoreFeatureSignExtensionOps adds instructions: i32.extend8_s, i32.extend16_s, i64.extend8_s, i64.extend16_s,
	// i64.extend32_s.
	CoreFeatureSignExtensionOps
	// CoreFeatureMultiValue allows a block signature to declare more than one result type.
	CoreFeatureMultiValue
	// CoreFeatureNonTrappingFloatToIntConversion adds the trunc_sat family, which never traps.
	CoreFeatureNonTrappingFloatToIntConversion
	// CoreFeatureBulkMemoryOperations adds memory.fill, memory.copy, and the DataCount section.
	CoreFeatureBulkMemoryOperations

	// CoreFeatureReferenceTypes is never enabled by this engine: funcref/externref and their instructions always
	// decode as UnsupportedFeature. The flag exists so error messages can name the feature a module asked for.
	CoreFeatureReferenceTypes
	// CoreFeatureSIMD is never enabled by this engine: the 0xFD instruction prefix always decodes as
	// UnsupportedFeature.
	CoreFeatureSIMD
	// CoreFeatureThreads is never enabled by this engine: atomic instructions always decode as UnsupportedFeature.
	CoreFeatureThreads
)

// CoreFeaturesV1 are the features included in the WebAssembly Core 1.0 (MVP) specification.
const CoreFeaturesV1 = CoreFeatureMutableGlobal

// CoreFeaturesV2 are the features this engine implements from the WebAssembly Core 2.0 specification: mutable
// globals, sign extension, multiple block results, non-trapping float-to-int conversion and bulk memory
// operations. SIMD, reference types and threads are part of the 2.0 specification text but are explicitly out of
// scope for this engine (see CoreFeatureReferenceTypes, CoreFeatureSIMD, CoreFeatureThreads).
const CoreFeaturesV2 = CoreFeaturesV1 | CoreFeatureSignExtensionOps | CoreFeatureMultiValue |
	CoreFeatureNonTrappingFloatToIntConversion | CoreFeatureBulkMemoryOperations

// IsEnabled returns true if the feature is enabled.
func (f CoreFeatures) IsEnabled(feature CoreFeatures) bool {
	return f&feature != 0
}

// SetEnabled returns a new CoreFeatures value with the given feature set to enabled or disabled.
func (f CoreFeatures) SetEnabled(feature CoreFeatures, enabled bool) CoreFeatures {
	if enabled {
		return f | feature
	}
	return f &^ feature
}

// RequireEnabled returns an error if the feature is not enabled.
func (f CoreFeatures) RequireEnabled(feature CoreFeatures) error {
	if f&feature == 0 {
		return fmt.Errorf("feature %q is disabled", feature.singleName())
	}
	return nil
}

// String implements fmt.Stringer by printing each set flag, alphabetically, joined with "|".
func (f CoreFeatures) String() string {
	var names []string
	for _, flag := range []CoreFeatures{
		CoreFeatureBulkMemoryOperations,
		CoreFeatureMultiValue,
		CoreFeatureMutableGlobal,
		CoreFeatureNonTrappingFloatToIntConversion,
		CoreFeatureReferenceTypes,
		CoreFeatureSignExtensionOps,
		CoreFeatureSIMD,
		CoreFeatureThreads,
	} {
		if f.IsEnabled(flag) {
			names = append(names, flag.singleName())
		}
	}
	s := ""
	for i, n := range names {
		if i > 0 {
			s += "|"
		}
		s += n
	}
	return s
}

func (f CoreFeatures) singleName() string {
	switch f {
	case CoreFeatureMutableGlobal:
		return "mutable-global"
	case CoreFeatureSignExtensionOps:
		return "sign-extension-ops"
	case CoreFeatureMultiValue:
		return "multi-value"
	case CoreFeatureNonTrappingFloatToIntConversion:
		return "nontrapping-float-to-int-conversion"
	case CoreFeatureBulkMemoryOperations:
		return "bulk-memory-operations"
	case CoreFeatureReferenceTypes:
		return "reference-types"
	case CoreFeatureSIMD:
		return "simd"
	case CoreFeatureThreads:
		return "threads"
	}
	return ""
}
