package analysis

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"cof/internal/dump"
)

const (
	testLfanew  = 0x80
	testOptSize = 0xF0
)

// buildImage lays out a minimal 64-bit image with the given sections.
// Payload areas start out zeroed; tests patch bytes in afterwards.
func buildImage(size uint64, secs []dump.Section) []byte {
	img := make([]byte, size)
	binary.LittleEndian.PutUint16(img, 0x5A4D)
	binary.LittleEndian.PutUint32(img[0x3C:], testLfanew)
	binary.LittleEndian.PutUint32(img[testLfanew:], 0x00004550)
	binary.LittleEndian.PutUint16(img[testLfanew+4:], 0x8664)
	binary.LittleEndian.PutUint16(img[testLfanew+6:], uint16(len(secs)))
	binary.LittleEndian.PutUint16(img[testLfanew+20:], testOptSize)
	binary.LittleEndian.PutUint16(img[testLfanew+24:], 0x20B)
	tableOff := testLfanew + 24 + testOptSize
	for i, s := range secs {
		hdr := img[tableOff+i*40:]
		copy(hdr[:8], s.Name)
		binary.LittleEndian.PutUint32(hdr[8:], uint32(s.VirtualSize))
		binary.LittleEndian.PutUint32(hdr[12:], uint32(s.VirtualOffset))
	}
	return img
}

func testSections() []dump.Section {
	return []dump.Section{
		{Name: ".text", VirtualOffset: 0x1000, VirtualSize: 0x1000},
		{Name: ".rdata", VirtualOffset: 0x2000, VirtualSize: 0x800},
	}
}

// openAnalyzer writes img as a sparse dump and wraps it.
func openAnalyzer(t *testing.T, img []byte) *Analyzer {
	t.Helper()
	path := filepath.Join(t.TempDir(), "image.bin")
	if err := os.WriteFile(path, img, 0o644); err != nil {
		t.Fatalf("write image: %v", err)
	}
	r, err := dump.Open(path, nil)
	if err != nil {
		t.Fatalf("open image: %v", err)
	}
	t.Cleanup(func() { r.Close() })
	if err := r.Analyze(dump.ModeSparse); err != nil {
		t.Fatalf("analyze image: %v", err)
	}
	return New(r, nil)
}

func TestFunctions(t *testing.T) {
	img := buildImage(0x3000, testSections())

	// Five direct calls: two to 0x1010, one past the end of .text, one
	// below its start, one to 0x1000 exactly.
	calls := [][]byte{
		{0xE8, 0x0B, 0x00, 0x00, 0x00},
		{0xE8, 0x06, 0x00, 0x00, 0x00},
		{0xE8, 0xF1, 0x0F, 0x00, 0x00},
		{0xE8, 0xEC, 0xEF, 0xFF, 0xFF},
		{0xE8, 0xE7, 0xFF, 0xFF, 0xFF},
	}
	pos := 0x1000
	for _, c := range calls {
		copy(img[pos:], c)
		pos += len(c)
	}

	a := openAnalyzer(t, img)
	funcs := a.Functions()

	want := []uint64{0x1000, 0x1010}
	if len(funcs) != len(want) {
		t.Fatalf("Functions() = %#x, want %#x", funcs, want)
	}
	for i := range want {
		if funcs[i] != want[i] {
			t.Errorf("Functions()[%d] = %#x, want %#x", i, funcs[i], want[i])
		}
	}
}

func TestFunctionsWithoutText(t *testing.T) {
	img := buildImage(0x3000, []dump.Section{
		{Name: ".rdata", VirtualOffset: 0x2000, VirtualSize: 0x800},
	})
	a := openAnalyzer(t, img)
	if funcs := a.Functions(); funcs != nil {
		t.Errorf("Functions() = %#x, want nil", funcs)
	}
}
