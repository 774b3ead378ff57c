package search

import (
	"testing"
)

// functionImage lays out two CALL-derived functions at 0x1400 and
// 0x1500. The first holds lea rcx, [rip+0xCD9] (loading L"Hello" at
// 0x2100) and mov edx, 0x12345678.
func functionImage() []byte {
	img := buildImage(0x3000, testSections())
	put(img, 0x1000,
		[]byte{0xE8, 0xFB, 0x03, 0x00, 0x00},
		[]byte{0xE8, 0xF6, 0x04, 0x00, 0x00},
	)
	put(img, 0x1420, []byte{0x48, 0x8D, 0x0D, 0xD9, 0x0C, 0x00, 0x00})
	put(img, 0x1430, []byte{0xBA, 0x78, 0x56, 0x34, 0x12})
	put(img, 0x2100, []byte{0x48, 0x00, 0x65, 0x00, 0x6C, 0x00, 0x6C, 0x00, 0x6F, 0x00})
	return img
}

func TestSetBase(t *testing.T) {
	f := newFinder(t, buildImage(0x3000, testSections()))

	t.Run("text section", func(t *testing.T) {
		region := &Region{RegionID: RegionIDText, RegionType: RegionSection}
		if !SetBase(f, region) {
			t.Fatal("SetBase failed")
		}
		if region.RegionRange.Offset != 0x1000 || region.RegionRange.Size != 0x1000 {
			t.Errorf("region range = %+v, want the .text span", region.RegionRange)
		}
	})

	t.Run("other sections pass through", func(t *testing.T) {
		region := &Region{RegionID: "Section_Custom", RegionType: RegionSection,
			RegionRange: Range{Offset: 0x2000, Size: 0x100}}
		if !SetBase(f, region) {
			t.Fatal("SetBase failed")
		}
		if region.RegionRange.Offset != 0x2000 || region.RegionRange.Size != 0x100 {
			t.Errorf("region range = %+v, want untouched", region.RegionRange)
		}
	})
}

func TestFindFunctionBase(t *testing.T) {
	f := newFinder(t, functionImage())

	t.Run("resolves through a string anchor", func(t *testing.T) {
		region := &Region{
			RegionID: "Function_GetNamePool", RegionType: RegionFunction,
			RegionRange: Range{Size: 0x100},
			Anchors:     []Anchor{{Type: AnchorString, Text: "Hello"}},
		}
		base, ok := f.FindFunctionBase(region)
		if !ok || base != 0x1400 {
			t.Fatalf("base = %#x ok=%v, want 0x1400", base, ok)
		}
		if region.RegionRange.Offset != 0x1400 {
			t.Errorf("region offset = %#x, want 0x1400", region.RegionRange.Offset)
		}
	})

	t.Run("every anchor must hold", func(t *testing.T) {
		region := &Region{
			RegionID: "Function_GetNamePool", RegionType: RegionFunction,
			RegionRange: Range{Size: 0x100},
			Anchors: []Anchor{
				{Type: AnchorString, Text: "Hello"},
				{Type: AnchorPattern, Text: "BA 78 56 34 12"},
			},
		}
		if base, ok := f.FindFunctionBase(region); !ok || base != 0x1400 {
			t.Errorf("base = %#x ok=%v, want 0x1400", base, ok)
		}
	})

	t.Run("missing string fails every candidate", func(t *testing.T) {
		region := &Region{
			RegionID: "Function_GetNamePool", RegionType: RegionFunction,
			RegionRange: Range{Size: 0x100},
			Anchors:     []Anchor{{Type: AnchorString, Text: "Goodbye"}},
		}
		if _, ok := f.FindFunctionBase(region); ok {
			t.Error("resolved a base from an absent string")
		}
	})

	t.Run("no anchors", func(t *testing.T) {
		region := &Region{
			RegionID: "Function_GetNamePool", RegionType: RegionFunction,
			RegionRange: Range{Size: 0x100},
		}
		if _, ok := f.FindFunctionBase(region); ok {
			t.Error("resolved a base without anchors")
		}
	})

	t.Run("undeclared size", func(t *testing.T) {
		region := &Region{
			RegionID: "Function_GetNamePool", RegionType: RegionFunction,
			Anchors:  []Anchor{{Type: AnchorString, Text: "Hello"}},
		}
		if _, ok := f.FindFunctionBase(region); ok {
			t.Error("resolved a base without a declared size")
		}
	})

	t.Run("match in the final function is unverifiable", func(t *testing.T) {
		img := functionImage()
		put(img, 0x1510, []byte{0xB9, 0x99, 0x99, 0x99, 0x99})
		ff := newFinder(t, img)
		region := &Region{
			RegionID: "Function_GetNamePool", RegionType: RegionFunction,
			RegionRange: Range{Size: 0x100},
			Anchors:     []Anchor{{Type: AnchorPattern, Text: "B9 99 99 99 99"}},
		}
		if _, ok := ff.FindFunctionBase(region); ok {
			t.Error("accepted an anchor with no following function to bound it")
		}
	})

	t.Run("anchor at the function start is rejected", func(t *testing.T) {
		img := functionImage()
		put(img, 0x1400, []byte{0xB9, 0x11, 0x11, 0x11, 0x11})
		ff := newFinder(t, img)
		region := &Region{
			RegionID: "Function_GetNamePool", RegionType: RegionFunction,
			RegionRange: Range{Size: 0x100},
			Anchors:     []Anchor{{Type: AnchorPattern, Text: "B9 11 11 11 11"}},
		}
		if _, ok := ff.FindFunctionBase(region); ok {
			t.Error("accepted an anchor sitting exactly on the candidate base")
		}
	})
}

func TestFindFunctionRegion(t *testing.T) {
	f := newFinder(t, functionImage())

	region := &Region{
		RegionID:    "Function_GetNamePool",
		RegionType:  RegionFunction,
		RegionRange: Range{Size: 0x100},
		Anchors:     []Anchor{{Type: AnchorString, Text: "Hello"}},
		SearchFor: []*Target{
			{SearchID: "Search_Imm", SearchType: SearchImmediate, SearchRange: Range{Offset: 0x30, Size: 0x10}},
		},
	}
	f.FindRegions([]*Region{region}, false)

	if region.RegionRange.Offset != 0x1400 {
		t.Errorf("region base = %#x, want 0x1400", region.RegionRange.Offset)
	}
	findings := f.Findings()
	if len(findings) != 1 {
		t.Fatalf("findings = %d, want 1", len(findings))
	}
	if findings[0].Value != (ScalarValue{Bits: 64, Value: 0x12345678}) {
		t.Errorf("finding = %+v, want the immediate inside the resolved function", findings[0].Value)
	}
}
