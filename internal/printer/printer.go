// Package printer renders findings into a C++ offsets header.
//
// The layout file is a JSON array of print groups. Sections appear in
// the order the file lists them and each finding lands under the group
// its Print.Group.ID names; findings without a print specification are
// never written.
package printer

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"cof/internal/analysis"
	"cof/internal/codegen"
	"cof/internal/search"
)

// Parameter name every generated decryption routine takes.
const paramName = "Encrypted"

// Prefix for locals factored out of generated routines.
const varPrefix = "V"

// Group is one section of the output header.
type Group struct {
	ID      string `json:"ID"`
	Name    string `json:"Name"`
	Comment string `json:"Comment,omitempty"`
}

// LoadLayout reads a print layout file. Comments are allowed.
func LoadLayout(path string) ([]Group, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading print layout: %w", err)
	}
	return ParseLayout(data)
}

// ParseLayout parses print layout text.
func ParseLayout(data []byte) ([]Group, error) {
	var layout []Group
	if err := json.Unmarshal(search.StripComments(data), &layout); err != nil {
		return nil, fmt.Errorf("parsing print layout: %w", err)
	}
	return layout, nil
}

// Pseudocode renders a recovered decryptor as compilable C++ under the
// given function name.
func Pseudocode(name string, d analysis.Decryptor) string {
	return strings.NewReplacer(
		codegen.FunctionName, name,
		codegen.ParamName, paramName,
		codegen.VarPrefix, varPrefix,
	).Replace(d.Pseudocode)
}

// Print writes the findings to outPath as a C++ header laid out by the
// file at layoutPath. It satisfies search.PrintFunc.
func Print(f *search.Finder, findings []search.Finding, layoutPath, outPath, profile string) error {
	logger := f.Logger()
	layout, err := LoadLayout(layoutPath)
	if err != nil {
		return err
	}

	version := "unknown"
	if r := f.Dump(); r != nil {
		if v, ok := r.FileVersion(); ok {
			version = v
		}
	}

	text, printed := render(logger, findings, layout, profile, version, time.Now().Format("02.01.2006"))
	if printed == 0 {
		logger.Warn("no printable findings")
	}
	if err := os.WriteFile(outPath, []byte(text), 0o644); err != nil {
		return fmt.Errorf("writing offsets header: %w", err)
	}
	logger.Info("wrote offsets header", "path", outPath, "printed", printed)
	return nil
}

// line is one rendered constant or routine, carrying the index that
// orders it within its group.
type line struct {
	index uint64
	text  string
}

func render(logger *log.Logger, findings []search.Finding, layout []Group, profile, version, date string) (string, int) {
	slot := make(map[string]int, len(layout))
	for i, g := range layout {
		slot[g.ID] = i
	}

	consts := make([][]line, len(layout))
	routines := make([][]line, len(layout))
	printed := 0
	for _, fd := range findings {
		p := fd.Target.Print
		if p == nil {
			continue
		}
		gi, ok := slot[p.Group.ID]
		if !ok {
			logger.Warn("print group not in layout", "search", fd.Target.SearchID, "group", p.Group.ID)
			continue
		}
		switch v := fd.Value.(type) {
		case search.ScalarValue:
			text := fmt.Sprintf("constexpr auto %s = 0x%X;", p.Name, v.Value)
			consts[gi] = append(consts[gi], line{p.Group.Index, text})
			printed++
		case search.DecryptorValue:
			routines[gi] = append(routines[gi], line{p.Group.Index, Pseudocode(p.Name, v.Decryptor)})
			printed++
		}
	}

	var b strings.Builder
	b.WriteString("#pragma once\n\n")
	b.WriteString("#include <cstdint>\n")
	b.WriteString("#include <intrin.h>\n\n")
	if profile != "" {
		fmt.Fprintf(&b, "// Profile: %s\n", profile)
	}
	fmt.Fprintf(&b, "// Image version: %s\n", version)
	fmt.Fprintf(&b, "// Generated: %s\n", date)

	for gi, g := range layout {
		cs, rs := consts[gi], routines[gi]
		if len(cs) == 0 && len(rs) == 0 {
			continue
		}
		fmt.Fprintf(&b, "\n// === %s ===\n", g.Name)
		if g.Comment != "" {
			fmt.Fprintf(&b, "// %s\n", g.Comment)
		}
		sort.SliceStable(cs, func(i, j int) bool { return cs[i].index < cs[j].index })
		sort.SliceStable(rs, func(i, j int) bool { return rs[i].index < rs[j].index })
		if len(cs) > 0 {
			b.WriteString("\n")
			for _, c := range cs {
				b.WriteString(c.text)
				b.WriteString("\n")
			}
		}
		for _, r := range rs {
			b.WriteString("\n")
			b.WriteString(r.text)
			b.WriteString("\n")
		}
	}
	return b.String(), printed
}
