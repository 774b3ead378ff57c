// Package search drives offset discovery over an analyzed memory dump:
// it parses the search configuration, resolves region bases, dispatches
// per-type handlers over each region's targets and collects the
// extracted findings.
package search

// RegionType tells the resolver how a region's base address is
// produced: section regions come from the PE header, function regions
// from anchor matching against the call-target table.
type RegionType uint8

const (
	RegionUnknown RegionType = iota
	RegionSection
	RegionFunction
)

func (t RegionType) String() string {
	switch t {
	case RegionSection:
		return "Section"
	case RegionFunction:
		return "Function"
	}
	return "Unknown"
}

// RegionIDText is the one region identifier with built-in meaning: the
// executable .text section. All other identifiers are free-form and
// only referenced back by NextRegion chains.
const RegionIDText = "Section_Text"

// AccessType decides whether the main pass visits a region directly or
// only indirectly, through a cross-reference resolved in another
// region.
type AccessType uint8

const (
	AccessNormal AccessType = iota
	AccessXReference
)

func (t AccessType) String() string {
	if t == AccessXReference {
		return "XReference"
	}
	return "Normal"
}

// SearchType selects the handler a target is dispatched to.
type SearchType uint8

const (
	SearchUnknown SearchType = iota
	SearchImmediate
	SearchDisplacement
	SearchReference
	SearchXReference
	SearchTslDecryptor32
	SearchTslDecryptor64
)

func (t SearchType) String() string {
	switch t {
	case SearchImmediate:
		return "Immediate"
	case SearchDisplacement:
		return "Displacement"
	case SearchReference:
		return "Reference"
	case SearchXReference:
		return "XReference"
	case SearchTslDecryptor32:
		return "TslDecryptor32"
	case SearchTslDecryptor64:
		return "TslDecryptor64"
	}
	return "Unknown"
}

// MatcherMode decides how many of a target's matchers must locate the
// instruction. None means the target has no matchers and extraction
// runs over the bare search window.
type MatcherMode uint8

const (
	MatcherModeNone MatcherMode = iota
	MatcherModeFirst
	MatcherModeAll
)

func (m MatcherMode) String() string {
	switch m {
	case MatcherModeFirst:
		return "First"
	case MatcherModeAll:
		return "All"
	}
	return "None"
}

// MatcherType is the matching routine one matcher runs.
type MatcherType uint8

const (
	MatcherNone MatcherType = iota
	MatcherPattern
	MatcherPatternSubsequence
	MatcherInstructionSubsequence
)

func (t MatcherType) String() string {
	switch t {
	case MatcherPattern:
		return "Pattern"
	case MatcherPatternSubsequence:
		return "PatternSubsequence"
	case MatcherInstructionSubsequence:
		return "InstructionSubsequence"
	}
	return "None"
}

// AnchorType is the matching routine used to recognize a function
// region. String anchors resolve a literal first and then look for the
// instruction referencing it.
type AnchorType uint8

const (
	AnchorNone AnchorType = iota
	AnchorString
	AnchorPattern
	AnchorPatternSubsequence
	AnchorInstructionSubsequence
)

func (t AnchorType) String() string {
	switch t {
	case AnchorString:
		return "String"
	case AnchorPattern:
		return "Pattern"
	case AnchorPatternSubsequence:
		return "PatternSubsequence"
	case AnchorInstructionSubsequence:
		return "InstructionSubsequence"
	}
	return "None"
}

// The configuration file spells enum values out; these maps take them
// back. Unknown spellings make the loader drop the entry.

var regionTypes = map[string]RegionType{
	"Section":  RegionSection,
	"Function": RegionFunction,
}

var accessTypes = map[string]AccessType{
	"Normal":     AccessNormal,
	"XReference": AccessXReference,
}

var searchTypes = map[string]SearchType{
	"Immediate":      SearchImmediate,
	"Displacement":   SearchDisplacement,
	"Reference":      SearchReference,
	"XReference":     SearchXReference,
	"TslDecryptor32": SearchTslDecryptor32,
	"TslDecryptor64": SearchTslDecryptor64,
}

var matcherModes = map[string]MatcherMode{
	"First": MatcherModeFirst,
	"All":   MatcherModeAll,
}

var matcherTypes = map[string]MatcherType{
	"Pattern":                MatcherPattern,
	"PatternSubsequence":     MatcherPatternSubsequence,
	"InstructionSubsequence": MatcherInstructionSubsequence,
}

var anchorTypes = map[string]AnchorType{
	"String":                 AnchorString,
	"Pattern":                AnchorPattern,
	"PatternSubsequence":     AnchorPatternSubsequence,
	"InstructionSubsequence": AnchorInstructionSubsequence,
}
