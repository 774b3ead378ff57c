package search

import (
	"testing"
)

func TestSetBoundaries(t *testing.T) {
	tests := []struct {
		name   string
		region Range
		search Range
		want   Range
	}{
		{
			name:   "declared window",
			region: Range{Size: 0x1000},
			search: Range{Offset: 0x100, Size: 0x50},
			want:   Range{Offset: 0x100, Size: 0x50},
		},
		{
			name:   "offset variation widens both ends",
			region: Range{Size: 0x1000},
			search: Range{Offset: 0x100, Size: 0x50, OffsetVariation: 0x10},
			want:   Range{Offset: 0xF0, Size: 0x60},
		},
		{
			name:   "size variation widens the end",
			region: Range{Size: 0x1000},
			search: Range{Offset: 0x100, Size: 0x50, SizeVariation: 0x20},
			want:   Range{Offset: 0x100, Size: 0x70},
		},
		{
			name:   "no size falls back to the region",
			region: Range{Size: 0x1000},
			search: Range{Offset: 0x100},
			want:   Range{Offset: 0x100, Size: 0xF00},
		},
		{
			name:   "no size picks up the region variation",
			region: Range{Size: 0x1000, SizeVariation: 0x100},
			search: Range{Offset: 0x100},
			want:   Range{Offset: 0x100, Size: 0x1000},
		},
		{
			name:   "size within its own variation rescans the region",
			region: Range{Size: 0x1000},
			search: Range{Size: 0x10, SizeVariation: 0x20},
			want:   Range{Size: 0x1000},
		},
		{
			name:   "window clamped to the region",
			region: Range{Size: 0x1000},
			search: Range{Offset: 0xF80, Size: 0x100},
			want:   Range{Offset: 0xF80, Size: 0x80},
		},
		{
			name:   "start beyond the region yields nothing",
			region: Range{Size: 0x1000},
			search: Range{Offset: 0x2000, Size: 0x10},
			want:   Range{Offset: 0x2000},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			region := &Region{RegionRange: tt.region}
			target := &Target{SearchRange: tt.search}
			if got := SetBoundaries(region, target); got != tt.want {
				t.Errorf("SetBoundaries() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestMatcherPipeline(t *testing.T) {
	img := buildImage(0x3000, testSections())
	// ret at 0x10FF, then mov edx, 0x12345678 at 0x1100.
	img[0x10FF] = 0xC3
	put(img, 0x1100, []byte{0xBA, 0x78, 0x56, 0x34, 0x12})

	resolved := &Region{
		RegionID:    RegionIDText,
		RegionType:  RegionSection,
		RegionRange: Range{Offset: 0x1000, Size: 0x1000},
	}
	window := Range{Offset: 0xF0, Size: 0x20}

	t.Run("first mode tolerates a failed matcher", func(t *testing.T) {
		f := newFinder(t, img)
		target := &Target{
			SearchID: "Search_Imm", SearchType: SearchImmediate,
			Mode:        MatcherModeFirst,
			SearchRange: window,
			Matchers: []Matcher{
				{Type: MatcherPattern, Pattern: "FF FF FF FF"},
				{Type: MatcherPattern, Pattern: "BA 78"},
			},
		}
		if !ImmediateHandler(f, resolved, target) {
			t.Fatal("handler failed")
		}
		if got := f.Findings(); len(got) != 1 || got[0].Value != (ScalarValue{Bits: 64, Value: 0x12345678}) {
			t.Errorf("findings = %+v", got)
		}
	})

	t.Run("matcher offset re-anchors the instruction", func(t *testing.T) {
		f := newFinder(t, img)
		target := &Target{
			SearchID: "Search_Imm", SearchType: SearchImmediate,
			Mode:        MatcherModeFirst,
			SearchRange: window,
			Matchers:    []Matcher{{Type: MatcherPattern, Pattern: "C3 BA", Offset: 1}},
		}
		if !ImmediateHandler(f, resolved, target) {
			t.Fatal("handler failed")
		}
		if got := f.Findings(); len(got) != 1 || got[0].Value != (ScalarValue{Bits: 64, Value: 0x12345678}) {
			t.Errorf("findings = %+v", got)
		}
	})

	t.Run("all mode accepts agreeing matchers", func(t *testing.T) {
		f := newFinder(t, img)
		target := &Target{
			SearchID: "Search_Imm", SearchType: SearchImmediate,
			Mode:        MatcherModeAll,
			SearchRange: window,
			Matchers: []Matcher{
				{Type: MatcherPattern, Pattern: "C3 BA", Offset: 1},
				{Type: MatcherPattern, Pattern: "BA 78"},
			},
		}
		if !ImmediateHandler(f, resolved, target) {
			t.Fatal("handler failed")
		}
		if got := f.Findings(); len(got) != 1 {
			t.Errorf("findings = %+v", got)
		}
	})

	t.Run("all mode rejects disagreeing matchers", func(t *testing.T) {
		f := newFinder(t, img)
		target := &Target{
			SearchID: "Search_Imm", SearchType: SearchImmediate,
			Mode:        MatcherModeAll,
			SearchRange: window,
			Matchers: []Matcher{
				{Type: MatcherPattern, Pattern: "C3 BA"},
				{Type: MatcherPattern, Pattern: "BA 78"},
			},
		}
		if ImmediateHandler(f, resolved, target) {
			t.Fatal("handler succeeded on disagreeing matchers")
		}
		if got := f.Findings(); len(got) != 0 {
			t.Errorf("findings = %+v, want none", got)
		}
	})

	t.Run("all mode needs every matcher", func(t *testing.T) {
		f := newFinder(t, img)
		target := &Target{
			SearchID: "Search_Imm", SearchType: SearchImmediate,
			Mode:        MatcherModeAll,
			SearchRange: window,
			Matchers: []Matcher{
				{Type: MatcherPattern, Pattern: "FF FF FF FF"},
				{Type: MatcherPattern, Pattern: "BA 78"},
			},
		}
		if ImmediateHandler(f, resolved, target) {
			t.Fatal("handler succeeded with a failed matcher in all mode")
		}
	})

	t.Run("mode without matchers fails", func(t *testing.T) {
		f := newFinder(t, img)
		target := &Target{
			SearchID: "Search_Imm", SearchType: SearchImmediate,
			Mode:        MatcherModeFirst,
			SearchRange: window,
		}
		if ImmediateHandler(f, resolved, target) {
			t.Fatal("handler succeeded without matchers")
		}
	})
}

func TestDecryptorHandler(t *testing.T) {
	img := buildImage(0x3000, testSections())
	put(img, 0x1340,
		[]byte{0xB8, 0x0F, 0x0F, 0x0F, 0x0F}, // mov eax, 0xF0F0F0F
		[]byte{0x35, 0x44, 0x33, 0x22, 0x11}, // xor eax, 0x11223344
		[]byte{0xC1, 0xC8, 0x07},             // ror eax, 7
		[]byte{0x35, 0x88, 0x77, 0x66, 0x55}, // xor eax, 0x55667788
		[]byte{0xC1, 0xE8, 0x03},             // shr eax, 3
	)

	region := &Region{
		RegionID:    RegionIDText,
		RegionType:  RegionSection,
		RegionRange: Range{Offset: 0x1000, Size: 0x1000},
	}

	t.Run("recovers a 32-bit routine", func(t *testing.T) {
		f := newFinder(t, img)
		target := &Target{
			SearchID: "Search_Decrypt", SearchType: SearchTslDecryptor32,
			SearchRange: Range{Offset: 0x340, Size: 0x40},
		}
		if !TslDecryptorHandler32(f, region, target) {
			t.Fatal("handler failed")
		}
		if !target.Handled {
			t.Error("target not marked handled")
		}
		findings := f.Findings()
		if len(findings) != 1 {
			t.Fatalf("findings = %d, want 1", len(findings))
		}
		d := findings[0].Value.(DecryptorValue).Decryptor
		if !d.Is32 || d.Xor1 != 0x11223344 || d.Xor2 != 0x55667788 || d.Rotate != 7 || d.Shift != 3 {
			t.Errorf("decryptor = %+v", d)
		}
	})

	t.Run("width mismatch finds nothing", func(t *testing.T) {
		f := newFinder(t, img)
		target := &Target{
			SearchID: "Search_Decrypt", SearchType: SearchTslDecryptor64,
			SearchRange: Range{Offset: 0x340, Size: 0x40},
		}
		if TslDecryptorHandler64(f, region, target) {
			t.Fatal("64-bit handler recovered a 32-bit routine")
		}
	})
}

func TestDecryptorGroup(t *testing.T) {
	img := buildImage(0x3000, testSections())
	// Two interleaved 64-bit chains: rax keyed 0x11223344/0x55667788,
	// rbx keyed 0xABBCCDD/0x1020304.
	put(img, 0x1440,
		[]byte{0x48, 0xC7, 0xC0, 0x0F, 0x0F, 0x0F, 0x0F},
		[]byte{0x48, 0xC7, 0xC3, 0x0E, 0x0E, 0x0E, 0x0E},
		[]byte{0x48, 0x35, 0x44, 0x33, 0x22, 0x11},
		[]byte{0x48, 0x81, 0xF3, 0xDD, 0xCC, 0xBB, 0x0A},
		[]byte{0x48, 0xC1, 0xC8, 0x02},
		[]byte{0x48, 0xC1, 0xCB, 0x03},
		[]byte{0x48, 0x35, 0x88, 0x77, 0x66, 0x55},
		[]byte{0x48, 0x81, 0xF3, 0x04, 0x03, 0x02, 0x01},
		[]byte{0x48, 0xC1, 0xE8, 0x04},
		[]byte{0x48, 0xC1, 0xEB, 0x06},
	)

	window := Range{Offset: 0x440, Size: 0x40}
	member := func(id string, index *uint64) *Target {
		return &Target{
			SearchID: id, SearchType: SearchTslDecryptor64,
			SearchRange: window,
			Group:       &Group{ID: "Group_Decrypt", Index: index},
		}
	}
	idx := func(v uint64) *uint64 { return &v }

	t.Run("pairs members by index", func(t *testing.T) {
		f := newFinder(t, img)
		second := member("Search_Second", idx(1))
		first := member("Search_First", idx(0))
		// Declaration order is deliberately reversed; pairing follows
		// the group index.
		region := textRegion(second, first)
		f.FindRegions([]*Region{region}, false)

		findings := f.Findings()
		if len(findings) != 2 {
			t.Fatalf("findings = %d, want 2", len(findings))
		}
		if findings[0].Target != first || findings[1].Target != second {
			t.Errorf("pairing order = [%s %s], want index order",
				findings[0].Target.SearchID, findings[1].Target.SearchID)
		}
		d0 := findings[0].Value.(DecryptorValue).Decryptor
		d1 := findings[1].Value.(DecryptorValue).Decryptor
		if d0.Xor1 != 0x11223344 || d0.Rotate != 2 || d0.Shift != 4 {
			t.Errorf("first routine = %+v", d0)
		}
		if d1.Xor1 != 0xABBCCDD || d1.Xor2 != 0x1020304 || d1.Rotate != 3 || d1.Shift != 6 {
			t.Errorf("second routine = %+v", d1)
		}
		if !first.Handled || !second.Handled {
			t.Error("group members not marked handled")
		}
	})

	t.Run("member count must match the routine count", func(t *testing.T) {
		f := newFinder(t, img)
		only := member("Search_Only", idx(0))
		f.FindRegions([]*Region{textRegion(only)}, false)
		if got := f.Findings(); len(got) != 0 {
			t.Errorf("findings = %+v, want none", got)
		}
		if only.Handled {
			t.Error("failed group marked handled")
		}
	})

	t.Run("member without an index fails the group", func(t *testing.T) {
		f := newFinder(t, img)
		a := member("Search_A", idx(0))
		b := member("Search_B", nil)
		f.FindRegions([]*Region{textRegion(a, b)}, false)
		if got := f.Findings(); len(got) != 0 {
			t.Errorf("findings = %+v, want none", got)
		}
	})
}
