package search

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/charmbracelet/log"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// The *Config types are the literal JSON shape of the search
// configuration. Pointer fields distinguish absent (or null) from
// zero; LoadConfig converts them into the runtime model and drops
// whatever does not validate.

// RangeConfig is a search or region window in the configuration file.
type RangeConfig struct {
	Offset          *uint64 `json:"Offset,omitempty" jsonschema:"title=Offset,description=Start offset relative to the enclosing region"`
	Size            *uint64 `json:"Size,omitempty" jsonschema:"title=Size,description=Window size in bytes"`
	OffsetVariation *uint64 `json:"OffsetVariation,omitempty" jsonschema:"title=Offset variation,description=Slack subtracted from the start and added to the window"`
	SizeVariation   *uint64 `json:"SizeVariation,omitempty" jsonschema:"title=Size variation,description=Slack added to the window size"`
}

// AnchorConfig recognizes a function region. Value is a string for
// String and Pattern anchors and a string list for subsequence
// anchors.
type AnchorConfig struct {
	Type  string          `json:"Type" jsonschema:"title=Anchor type,enum=String,enum=Pattern,enum=PatternSubsequence,enum=InstructionSubsequence"`
	Value json.RawMessage `json:"Value" jsonschema:"title=Anchor value,description=String literal or element list depending on the anchor type"`
	Index *int            `json:"Index,omitempty" jsonschema:"title=String index,description=Which occurrence of the string literal to anchor on"`
}

// MatcherConfig locates the instruction a value is extracted from.
type MatcherConfig struct {
	Type   string          `json:"Type" jsonschema:"title=Matcher type,enum=Pattern,enum=PatternSubsequence,enum=InstructionSubsequence"`
	Value  json.RawMessage `json:"Value" jsonschema:"title=Matcher value,description=Pattern text or element list depending on the matcher type"`
	Offset *uint64         `json:"Offset,omitempty" jsonschema:"title=Instruction offset,description=Bytes added to the matched element's start"`
	Index  *int            `json:"Index,omitempty" jsonschema:"title=Element index,description=Which subsequence element anchors the target"`
}

// GroupConfig ties decryptor targets into one extraction pass.
type GroupConfig struct {
	ID    string  `json:"ID" jsonschema:"title=Group identifier"`
	Index *uint64 `json:"Index,omitempty" jsonschema:"title=Routine index,description=Which extracted routine belongs to this member"`
}

// NextRegionConfig names the region a cross-reference target hands
// control to.
type NextRegionConfig struct {
	ID string `json:"ID" jsonschema:"title=Region identifier"`
}

// PrintGroupConfig places a printed name in the output header.
type PrintGroupConfig struct {
	ID    string  `json:"ID" jsonschema:"title=Output group identifier"`
	Index *uint64 `json:"Index,omitempty" jsonschema:"title=Order within the group"`
}

// PrintConfig names a finding in the generated header.
type PrintConfig struct {
	Name  string           `json:"Name" jsonschema:"title=Printed name"`
	Group PrintGroupConfig `json:"Group" jsonschema:"title=Output group"`
}

// TargetConfig is one value to discover inside a region.
type TargetConfig struct {
	SearchID    string            `json:"SearchID" jsonschema:"title=Search identifier"`
	SearchType  string            `json:"SearchType" jsonschema:"title=Search type,enum=Immediate,enum=Displacement,enum=Reference,enum=XReference,enum=TslDecryptor32,enum=TslDecryptor64"`
	SearchRange *RangeConfig      `json:"SearchRange,omitempty" jsonschema:"title=Search range"`
	MatcherMode *string           `json:"MatcherMode,omitempty" jsonschema:"title=Matcher mode,enum=First,enum=All"`
	Matchers    []MatcherConfig   `json:"Matchers,omitempty" jsonschema:"title=Matchers"`
	NextRegion  *NextRegionConfig `json:"NextRegion,omitempty" jsonschema:"title=Next region,description=Region handed the resolved cross-reference target"`
	Group       *GroupConfig      `json:"Group,omitempty" jsonschema:"title=Decryptor group"`
	Print       *PrintConfig      `json:"Print,omitempty" jsonschema:"title=Print specification"`
}

// RegionConfig is one searchable area of the dump.
type RegionConfig struct {
	RegionID    string         `json:"RegionID" jsonschema:"title=Region identifier"`
	RegionType  string         `json:"RegionType" jsonschema:"title=Region type,enum=Section,enum=Function"`
	AccessType  *string        `json:"AccessType,omitempty" jsonschema:"title=Access type,enum=Normal,enum=XReference"`
	RegionRange *RangeConfig   `json:"RegionRange,omitempty" jsonschema:"title=Region range,description=Expected function size for anchor-resolved regions"`
	Anchors     []AnchorConfig `json:"Anchors,omitempty" jsonschema:"title=Anchors"`
	SearchFor   []TargetConfig `json:"SearchFor" jsonschema:"title=Search targets"`
}

// RawConfig is the configuration as an order-preserving JSON tree.
// Range updates made during a pass land here so the file can be
// rewritten without shuffling keys.
type RawConfig []*orderedmap.OrderedMap[string, any]

// LoadConfig reads and parses a search configuration file. Entries
// that fail validation are logged and dropped; only an unreadable file
// or broken JSON fails the load.
func LoadConfig(path string, logger *log.Logger) ([]*Region, RawConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("reading search configuration: %w", err)
	}
	return ParseConfig(data, logger)
}

// ParseConfig parses search configuration text. Comments are allowed.
func ParseConfig(data []byte, logger *log.Logger) ([]*Region, RawConfig, error) {
	data = StripComments(data)

	var raw RawConfig
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, nil, fmt.Errorf("parsing search configuration: %w", err)
	}

	var entries []json.RawMessage
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, nil, fmt.Errorf("parsing search configuration: %w", err)
	}

	regions := make([]*Region, 0, len(entries))
	for i, entry := range entries {
		var cfg RegionConfig
		if err := json.Unmarshal(entry, &cfg); err != nil {
			logger.Warn("skipping malformed region entry", "index", i, "err", err)
			continue
		}
		region, ok := buildRegion(&cfg, logger)
		if !ok {
			continue
		}
		regions = append(regions, region)
	}
	return regions, raw, nil
}

func buildRegion(cfg *RegionConfig, logger *log.Logger) (*Region, bool) {
	if cfg.RegionID == "" {
		logger.Warn("skipping region without RegionID")
		return nil, false
	}
	rt, ok := regionTypes[cfg.RegionType]
	if !ok {
		logger.Warn("skipping region with invalid RegionType", "region", cfg.RegionID, "type", cfg.RegionType)
		return nil, false
	}
	region := &Region{RegionID: cfg.RegionID, RegionType: rt}
	if cfg.AccessType != nil {
		at, ok := accessTypes[*cfg.AccessType]
		if !ok {
			logger.Warn("skipping region with invalid AccessType", "region", cfg.RegionID, "type", *cfg.AccessType)
			return nil, false
		}
		region.AccessType = at
	}
	region.RegionRange = buildRange(cfg.RegionRange)
	for i := range cfg.Anchors {
		anchor, ok := buildAnchor(&cfg.Anchors[i], logger)
		if !ok {
			continue
		}
		region.Anchors = append(region.Anchors, anchor)
	}
	for i := range cfg.SearchFor {
		target, ok := buildTarget(&cfg.SearchFor[i], logger)
		if !ok {
			continue
		}
		region.SearchFor = append(region.SearchFor, target)
	}
	return region, true
}

func buildRange(cfg *RangeConfig) Range {
	var r Range
	if cfg == nil {
		return r
	}
	if cfg.Offset != nil {
		r.Offset = *cfg.Offset
	}
	if cfg.Size != nil {
		r.Size = *cfg.Size
	}
	if cfg.OffsetVariation != nil {
		r.OffsetVariation = *cfg.OffsetVariation
	}
	if cfg.SizeVariation != nil {
		r.SizeVariation = *cfg.SizeVariation
	}
	return r
}

func buildAnchor(cfg *AnchorConfig, logger *log.Logger) (Anchor, bool) {
	at, ok := anchorTypes[cfg.Type]
	if !ok {
		logger.Warn("skipping anchor with invalid type", "type", cfg.Type)
		return Anchor{}, false
	}
	anchor := Anchor{Type: at}
	switch at {
	case AnchorString, AnchorPattern:
		if err := json.Unmarshal(cfg.Value, &anchor.Text); err != nil {
			logger.Warn("skipping anchor, value must be a string", "type", cfg.Type, "err", err)
			return Anchor{}, false
		}
	default:
		if err := json.Unmarshal(cfg.Value, &anchor.Lines); err != nil {
			logger.Warn("skipping anchor, value must be a string list", "type", cfg.Type, "err", err)
			return Anchor{}, false
		}
	}
	if at == AnchorString && cfg.Index != nil {
		anchor.Index = *cfg.Index
	}
	return anchor, true
}

func buildMatcher(cfg *MatcherConfig, logger *log.Logger) (Matcher, bool) {
	mt, ok := matcherTypes[cfg.Type]
	if !ok {
		logger.Warn("skipping matcher with invalid type", "type", cfg.Type)
		return Matcher{}, false
	}
	m := Matcher{Type: mt}
	switch mt {
	case MatcherPattern:
		if err := json.Unmarshal(cfg.Value, &m.Pattern); err != nil {
			logger.Warn("skipping matcher, value must be a string", "type", cfg.Type, "err", err)
			return Matcher{}, false
		}
	default:
		if err := json.Unmarshal(cfg.Value, &m.Lines); err != nil {
			logger.Warn("skipping matcher, value must be a string list", "type", cfg.Type, "err", err)
			return Matcher{}, false
		}
	}
	if cfg.Offset != nil {
		m.Offset = *cfg.Offset
	}
	if cfg.Index != nil {
		m.Index = *cfg.Index
	}
	return m, true
}

func buildTarget(cfg *TargetConfig, logger *log.Logger) (*Target, bool) {
	if cfg.SearchID == "" {
		logger.Warn("skipping search target without SearchID")
		return nil, false
	}
	st, ok := searchTypes[cfg.SearchType]
	if !ok {
		logger.Warn("skipping target with invalid SearchType", "search", cfg.SearchID, "type", cfg.SearchType)
		return nil, false
	}
	target := &Target{SearchID: cfg.SearchID, SearchType: st}
	target.SearchRange = buildRange(cfg.SearchRange)
	if cfg.MatcherMode != nil {
		mm, ok := matcherModes[*cfg.MatcherMode]
		if !ok {
			logger.Warn("skipping target with invalid MatcherMode", "search", cfg.SearchID, "mode", *cfg.MatcherMode)
			return nil, false
		}
		target.Mode = mm
	}
	for i := range cfg.Matchers {
		m, ok := buildMatcher(&cfg.Matchers[i], logger)
		if !ok {
			continue
		}
		target.Matchers = append(target.Matchers, m)
	}
	if st == SearchXReference {
		if cfg.NextRegion == nil || cfg.NextRegion.ID == "" {
			logger.Warn("skipping cross-reference target without NextRegion", "search", cfg.SearchID)
			return nil, false
		}
		target.NextRegion = cfg.NextRegion.ID
	}
	if cfg.Group != nil {
		target.Group = &Group{ID: cfg.Group.ID, Index: cfg.Group.Index}
	}
	if cfg.Print != nil {
		spec := &PrintSpec{Name: cfg.Print.Name, Group: PrintGroup{ID: cfg.Print.Group.ID}}
		if cfg.Print.Group.Index != nil {
			spec.Group.Index = *cfg.Print.Group.Index
		}
		target.Print = spec
	}
	return target, true
}

// StripComments removes // and /* */ comments so configuration files
// can carry annotations the standard decoder rejects. String literals
// are copied untouched.
func StripComments(src []byte) []byte {
	out := make([]byte, 0, len(src))
	for i := 0; i < len(src); {
		c := src[i]
		switch {
		case c == '"':
			out = append(out, c)
			i++
			for i < len(src) {
				out = append(out, src[i])
				if src[i] == '\\' {
					if i+1 < len(src) {
						out = append(out, src[i+1])
					}
					i += 2
					continue
				}
				if src[i] == '"' {
					i++
					break
				}
				i++
			}
		case c == '/' && i+1 < len(src) && src[i+1] == '/':
			for i < len(src) && src[i] != '\n' {
				i++
			}
		case c == '/' && i+1 < len(src) && src[i+1] == '*':
			i += 2
			for i+1 < len(src) && !(src[i] == '*' && src[i+1] == '/') {
				i++
			}
			i += 2
			if i > len(src) {
				i = len(src)
			}
		default:
			out = append(out, c)
			i++
		}
	}
	return out
}
