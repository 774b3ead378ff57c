package cmd

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"cof/internal/analysis"
	"cof/internal/search"
)

func TestResolveFindOptions(t *testing.T) {
	now := time.Date(2026, 3, 14, 15, 9, 26, 0, time.UTC)

	tmpDir := t.TempDir()
	profiles := filepath.Join(tmpDir, "Profiles.cof.json")
	book := `{
		// The only profile the tests use.
		"UE_Chicken": {
			"SearchConfig": "Search.cof.json",
			"PrintConfig": "Print.cof.json"
		},
		"Broken": { "SearchConfig": "Search.cof.json" }
	}`
	if err := os.WriteFile(profiles, []byte(book), 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		flags   findFlags
		wantErr bool
		check   func(t *testing.T, opts findOptions)
	}{
		{
			name:  "explicit config pair",
			flags: findFlags{file: "Game.exe", searchConfig: "S.json", printConfig: "P.json"},
			check: func(t *testing.T, opts findOptions) {
				if opts.dumpFile != "Game.exe" {
					t.Errorf("dumpFile = %q", opts.dumpFile)
				}
				if opts.searchConfig != "S.json" || opts.printConfig != "P.json" {
					t.Errorf("config pair = %q, %q", opts.searchConfig, opts.printConfig)
				}
				if opts.outFile != "Game.exe_Offsets.cof_20260314_150926.h" {
					t.Errorf("outFile = %q", opts.outFile)
				}
			},
		},
		{
			name:  "profile lookup",
			flags: findFlags{file: "Game.exe", profile: "UE_Chicken", profiles: profiles},
			check: func(t *testing.T, opts findOptions) {
				if opts.searchConfig != "Search.cof.json" || opts.printConfig != "Print.cof.json" {
					t.Errorf("config pair = %q, %q", opts.searchConfig, opts.printConfig)
				}
				if opts.profileName != "UE_Chicken" {
					t.Errorf("profileName = %q", opts.profileName)
				}
				if opts.outFile != "UE_Chicken_Offsets.cof_20260314_150926.h" {
					t.Errorf("outFile = %q", opts.outFile)
				}
			},
		},
		{
			name:  "pid generates the dump name",
			flags: findFlags{pid: 1337, profile: "UE_Chicken", profiles: profiles},
			check: func(t *testing.T, opts findOptions) {
				if opts.dumpFile != "1337_20260314_150926.exe" {
					t.Errorf("dumpFile = %q", opts.dumpFile)
				}
			},
		},
		{
			name:  "explicit out wins",
			flags: findFlags{file: "Game.exe", out: "Offsets.h", profile: "UE_Chicken", profiles: profiles},
			check: func(t *testing.T, opts findOptions) {
				if opts.outFile != "Offsets.h" {
					t.Errorf("outFile = %q", opts.outFile)
				}
			},
		},
		{
			name:    "profile mixed with explicit pair",
			flags:   findFlags{file: "Game.exe", profile: "UE_Chicken", searchConfig: "S.json", printConfig: "P.json"},
			wantErr: true,
		},
		{
			name:    "half a config pair",
			flags:   findFlags{file: "Game.exe", searchConfig: "S.json"},
			wantErr: true,
		},
		{
			name:    "no configuration at all",
			flags:   findFlags{file: "Game.exe"},
			wantErr: true,
		},
		{
			name:    "no dump source",
			flags:   findFlags{profile: "UE_Chicken", profiles: profiles},
			wantErr: true,
		},
		{
			name:    "unknown profile",
			flags:   findFlags{file: "Game.exe", profile: "Nope", profiles: profiles},
			wantErr: true,
		},
		{
			name:    "profile missing print config",
			flags:   findFlags{file: "Game.exe", profile: "Broken", profiles: profiles},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts, err := resolveFindOptions(tt.flags, now)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected an error")
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if tt.check != nil {
				tt.check(t, opts)
			}
		})
	}
}

func TestBuildReport(t *testing.T) {
	imm := &search.Target{
		SearchID:   "GNames",
		SearchType: search.SearchImmediate,
		Print:      &search.PrintSpec{Name: "OFFSET_GNAMES", Group: search.PrintGroup{ID: "Globals"}},
	}
	dec := &search.Target{
		SearchID:   "Decrypt_Index",
		SearchType: search.SearchTslDecryptor64,
	}
	res := findResult{
		findings: []search.Finding{
			{Target: imm, Value: search.ScalarValue{Bits: 64, Value: 0x12345678}},
			{Target: dec, Value: search.DecryptorValue{Decryptor: analysis.Decryptor{
				Xor1:       0x11,
				Xor2:       0x22,
				Rotate:     9,
				Shift:      3,
				Pseudocode: "std::uint64_t <FunctionName>(std::uint64_t <ParamName>)\n{\n\treturn <ParamName>;\n}",
			}}},
		},
		version: "5.4.1.0",
		elapsed: 1234 * time.Millisecond,
	}
	opts := findOptions{
		dumpFile:    "Game.exe",
		outFile:     "Offsets.h",
		profileName: "UE_Chicken",
	}

	report := buildReport(res, opts)

	for _, want := range []string{
		"**Profile:** UE_Chicken",
		"**Image version:** 5.4.1.0",
		"2 findings in 1.234s",
		"| GNames | Immediate | `0x12345678` |",
		"### Decrypt_Index",
		"std::uint64_t Decrypt_Index(std::uint64_t Encrypted)",
	} {
		if !strings.Contains(report, want) {
			t.Errorf("report is missing %q:\n%s", want, report)
		}
	}
	if strings.Contains(report, "<FunctionName>") || strings.Contains(report, "<ParamName>") {
		t.Errorf("placeholders leaked into the report:\n%s", report)
	}
}

func TestBuildReportEmpty(t *testing.T) {
	report := buildReport(findResult{version: "unknown"}, findOptions{dumpFile: "Game.exe", outFile: "Offsets.h"})
	if !strings.Contains(report, "Nothing was found") {
		t.Errorf("empty report should say so:\n%s", report)
	}
}
