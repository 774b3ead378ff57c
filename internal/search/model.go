package search

import "cof/internal/analysis"

// Range is an offset window with slack on both ends. Offsets are
// relative to the enclosing region unless a handler says otherwise.
type Range struct {
	Offset          uint64
	Size            uint64
	OffsetVariation uint64
	SizeVariation   uint64
}

// Anchor recognizes a function region. Text carries the literal for
// String and Pattern anchors, Lines the element list for subsequence
// anchors. Index picks among multiple copies of a string literal.
type Anchor struct {
	Type  AnchorType
	Text  string
	Lines []string
	Index int
}

// Matcher locates the instruction a value is extracted from. Index
// selects which subsequence element anchors the target and Offset is
// added to that element's start.
type Matcher struct {
	Type    MatcherType
	Pattern string
	Lines   []string
	Index   int
	Offset  uint64
}

// Group ties decryptor targets together so one extraction pass can
// serve all of them. Index pairs a member with its routine; a group
// with any member lacking one cannot be paired.
type Group struct {
	ID    string
	Index *uint64
}

// PrintGroup places a printed name under a section of the output
// header.
type PrintGroup struct {
	ID    string
	Index uint64
}

// PrintSpec names a finding in the generated header. Targets without
// one are discovered but never printed.
type PrintSpec struct {
	Name  string
	Group PrintGroup
}

// Target is one value to discover inside a region.
type Target struct {
	SearchID    string
	SearchType  SearchType
	Mode        MatcherMode
	Matchers    []Matcher
	SearchRange Range
	NextRegion  string
	Group       *Group
	Print       *PrintSpec

	// Handled guards against double dispatch once a target has been
	// satisfied, directly or through a group.
	Handled bool
}

// Region is a searchable area of the dump. The resolver fills
// RegionRange.Offset before the region's targets run.
type Region struct {
	RegionID    string
	RegionType  RegionType
	AccessType  AccessType
	RegionRange Range
	Anchors     []Anchor
	SearchFor   []*Target
}

// Value is what a handler extracted: a scalar offset or a recovered
// decryptor routine.
type Value interface {
	findingValue()
}

// ScalarValue is an immediate, displacement or resolved reference.
// Bits records the operand width the value was read with.
type ScalarValue struct {
	Bits  int
	Value uint64
}

func (ScalarValue) findingValue() {}

// DecryptorValue is a recovered xor/rotate/shift routine.
type DecryptorValue struct {
	Decryptor analysis.Decryptor
}

func (DecryptorValue) findingValue() {}

// Finding pairs a satisfied target with its extracted value.
type Finding struct {
	Target *Target
	Value  Value
}
