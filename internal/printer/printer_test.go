package printer

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/charmbracelet/log"

	"cof/internal/analysis"
	"cof/internal/search"
)

func quietLogger() *log.Logger {
	return log.New(io.Discard)
}

func printTarget(name, group string, index uint64) *search.Target {
	return &search.Target{
		SearchID: name,
		Print:    &search.PrintSpec{Name: name, Group: search.PrintGroup{ID: group, Index: index}},
	}
}

func TestParseLayout(t *testing.T) {
	data := []byte(`
// output sections
[
  { "ID": "Decryptors", "Name": "Decryption routines" },
  { "ID": "Engine", "Name": "Engine globals", "Comment": "Core singletons" }
]`)
	layout, err := ParseLayout(data)
	if err != nil {
		t.Fatalf("ParseLayout: %v", err)
	}
	want := []Group{
		{ID: "Decryptors", Name: "Decryption routines"},
		{ID: "Engine", Name: "Engine globals", Comment: "Core singletons"},
	}
	if len(layout) != len(want) {
		t.Fatalf("groups = %d, want %d", len(layout), len(want))
	}
	for i := range want {
		if layout[i] != want[i] {
			t.Errorf("group %d = %+v, want %+v", i, layout[i], want[i])
		}
	}

	if _, err := ParseLayout([]byte(`{"ID": 5`)); err == nil {
		t.Error("expected error for broken layout")
	}
}

func TestRender(t *testing.T) {
	pseudo := "std::uint64_t <FunctionName>(std::uint64_t <ParamName>)\n" +
		"{\n" +
		"  std::uint64_t <V>1 = _rotr64(<ParamName> ^ 0x11223344, 17);\n" +
		"  return <V>1 ^ (<V>1 >> 13);\n" +
		"}"
	findings := []search.Finding{
		{Target: printTarget("GWorld", "Engine", 1), Value: search.ScalarValue{Bits: 64, Value: 0x1234ABC8}},
		{Target: printTarget("DecryptGWorld", "Decryptors", 0), Value: search.DecryptorValue{Decryptor: analysis.Decryptor{Pseudocode: pseudo}}},
		{Target: printTarget("GNames", "Engine", 0), Value: search.ScalarValue{Bits: 64, Value: 0xF00D}},
		{Target: &search.Target{SearchID: "Hidden"}, Value: search.ScalarValue{Value: 0x99}},
		{Target: printTarget("Orphan", "Ghost", 0), Value: search.ScalarValue{Value: 0x77}},
	}
	layout := []Group{
		{ID: "Decryptors", Name: "Decryption routines"},
		{ID: "Engine", Name: "Engine globals", Comment: "Core singletons"},
	}

	got, printed := render(quietLogger(), findings, layout, "UE_Test", "5.4.530.0", "24.08.2026")
	if printed != 3 {
		t.Errorf("printed = %d, want 3", printed)
	}
	want := "#pragma once\n" +
		"\n" +
		"#include <cstdint>\n" +
		"#include <intrin.h>\n" +
		"\n" +
		"// Profile: UE_Test\n" +
		"// Image version: 5.4.530.0\n" +
		"// Generated: 24.08.2026\n" +
		"\n" +
		"// === Decryption routines ===\n" +
		"\n" +
		"std::uint64_t DecryptGWorld(std::uint64_t Encrypted)\n" +
		"{\n" +
		"  std::uint64_t V1 = _rotr64(Encrypted ^ 0x11223344, 17);\n" +
		"  return V1 ^ (V1 >> 13);\n" +
		"}\n" +
		"\n" +
		"// === Engine globals ===\n" +
		"// Core singletons\n" +
		"\n" +
		"constexpr auto GNames = 0xF00D;\n" +
		"constexpr auto GWorld = 0x1234ABC8;\n"
	if got != want {
		t.Errorf("header = %q, want %q", got, want)
	}

	got, printed = render(quietLogger(), nil, layout, "", "unknown", "01.01.2026")
	if printed != 0 {
		t.Errorf("printed = %d, want 0", printed)
	}
	if strings.Contains(got, "// Profile:") {
		t.Error("profile line printed for empty profile")
	}
	if !strings.HasSuffix(got, "// Generated: 01.01.2026\n") {
		t.Errorf("empty header = %q", got)
	}
}

func TestPrint(t *testing.T) {
	dir := t.TempDir()
	layoutPath := filepath.Join(dir, "print.cof.json")
	outPath := filepath.Join(dir, "offsets.h")
	layout := "// sections\n" +
		"[\n" +
		"  { \"ID\": \"Engine\", \"Name\": \"Engine globals\" }\n" +
		"]\n"
	if err := os.WriteFile(layoutPath, []byte(layout), 0o644); err != nil {
		t.Fatal(err)
	}

	f := search.New(quietLogger())
	findings := []search.Finding{
		{Target: printTarget("GWorld", "Engine", 0), Value: search.ScalarValue{Bits: 64, Value: 0xABCD}},
	}
	if err := Print(f, findings, layoutPath, outPath, "UE_Test"); err != nil {
		t.Fatalf("Print: %v", err)
	}

	data, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatal(err)
	}
	text := string(data)
	for _, want := range []string{
		"#pragma once",
		"// Profile: UE_Test",
		"// Image version: unknown",
		"constexpr auto GWorld = 0xABCD;",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("header missing %q", want)
		}
	}

	if err := Print(f, findings, filepath.Join(dir, "missing.json"), outPath, ""); err == nil {
		t.Error("expected error for missing layout file")
	}
}
