package cmd

import (
	"fmt"
	"strings"
	"time"

	"cof/internal/printer"
	"cof/internal/search"
)

// buildReport renders one completed pass as markdown: a summary block,
// a table of scalar findings and one fenced code block per recovered
// decryption routine. The same text backs the plain output and the
// report view of the findings browser.
func buildReport(res findResult, opts findOptions) string {
	var b strings.Builder

	b.WriteString("# Offset report\n\n")
	if opts.profileName != "" {
		fmt.Fprintf(&b, "**Profile:** %s\n\n", opts.profileName)
	}
	fmt.Fprintf(&b, "**Dump:** `%s`\n\n", opts.dumpFile)
	fmt.Fprintf(&b, "**Image version:** %s\n\n", res.version)
	fmt.Fprintf(&b, "**Header:** `%s`\n\n", opts.outFile)
	fmt.Fprintf(&b, "%d findings in %s.\n", len(res.findings), res.elapsed.Round(time.Millisecond))

	var scalars, routines []search.Finding
	for _, fd := range res.findings {
		switch fd.Value.(type) {
		case search.ScalarValue:
			scalars = append(scalars, fd)
		case search.DecryptorValue:
			routines = append(routines, fd)
		}
	}

	if len(scalars) > 0 {
		b.WriteString("\n## Offsets\n\n")
		b.WriteString("| Search | Type | Value |\n")
		b.WriteString("|---|---|---|\n")
		for _, fd := range scalars {
			v := fd.Value.(search.ScalarValue)
			fmt.Fprintf(&b, "| %s | %s | `0x%X` |\n",
				fd.Target.SearchID, fd.Target.SearchType, v.Value)
		}
	}

	if len(routines) > 0 {
		b.WriteString("\n## Decryption routines\n")
		for _, fd := range routines {
			v := fd.Value.(search.DecryptorValue)
			fmt.Fprintf(&b, "\n### %s\n\n", printName(fd.Target))
			b.WriteString("```cpp\n")
			b.WriteString(printer.Pseudocode(printName(fd.Target), v.Decryptor))
			b.WriteString("\n```\n")
		}
	}

	if len(res.findings) == 0 {
		b.WriteString("\nNothing was found. Check the engine log for the targets that missed.\n")
	}

	return b.String()
}

// printName is the name a finding appears under: the configured print
// name when the target has one, its search identifier otherwise.
func printName(t *search.Target) string {
	if t.Print != nil && t.Print.Name != "" {
		return t.Print.Name
	}
	return t.SearchID
}
