package colorize

import (
	"fmt"
	"os"
	"strings"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/formatters"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"
)

// getAssemblyLexer returns an appropriate assembly lexer with fallbacks
func getAssemblyLexer() chroma.Lexer {
	// Try lexers in order of preference (Intel-syntax x86 first)
	candidates := []string{"nasm", "NASM", "gas", "GAS"}
	for _, name := range candidates {
		if lexer := lexers.Get(name); lexer != nil {
			return lexer
		}
	}
	return nil
}

// getPseudocodeLexer returns a C-family lexer for decryptor pseudocode
func getPseudocodeLexer() chroma.Lexer {
	candidates := []string{"cpp", "c++", "c"}
	for _, name := range candidates {
		if lexer := lexers.Get(name); lexer != nil {
			return lexer
		}
	}
	return nil
}

// getDisasmStyle returns the disassembly style with fallbacks
func getDisasmStyle() *chroma.Style {
	// Try our custom style first, then fallbacks
	candidates := []string{"disasm-dark", "dracula", "monokai"}
	for _, name := range candidates {
		if style := styles.Get(name); style != nil {
			return style
		}
	}
	return styles.Fallback
}

// getTerminalFormatter returns an appropriate terminal formatter
func getTerminalFormatter() chroma.Formatter {
	// Try high-color first, then fallback
	candidates := []string{"terminal16m", "terminal256"}
	for _, name := range candidates {
		if formatter := formatters.Get(name); formatter != nil {
			return formatter
		}
	}
	return formatters.Fallback
}

func colorize(code string, lexer chroma.Lexer) (string, error) {
	if os.Getenv("COF_NO_COLOR") != "" {
		return code, nil
	}
	if lexer == nil {
		// Return plain text if no lexer available
		return code, nil
	}

	style := getDisasmStyle()
	formatter := getTerminalFormatter()

	iterator, err := lexer.Tokenise(nil, code)
	if err != nil {
		return code, err
	}

	var buf strings.Builder
	if err := formatter.Format(&buf, style, iterator); err != nil {
		return code, err
	}

	return buf.String(), nil
}

// ColorizeAssembly applies syntax highlighting to x86 assembly code
func ColorizeAssembly(code string) (string, error) {
	return colorize(code, getAssemblyLexer())
}

// ColorizePseudocode applies syntax highlighting to generated decryptor
// pseudocode (C++-flavored).
func ColorizePseudocode(code string) (string, error) {
	return colorize(code, getPseudocodeLexer())
}

// ColorizeInstructionLine colorizes a single instruction line while preserving formatting.
// Expected format: "offset  mnemonic operands" with the offset in bare hex.
func ColorizeInstructionLine(line string) string {
	// Check if colors are disabled
	if os.Getenv("COF_NO_COLOR") != "" {
		return line
	}

	// Parse the offset separately since we want it in gray
	parts := strings.SplitN(line, " ", 2)
	if len(parts) < 2 {
		return colorizeFullLine(line)
	}
	for i := 0; i < len(parts[0]); i++ {
		if !isHexChar(parts[0][i]) {
			return colorizeFullLine(line)
		}
	}

	addr := parts[0]
	remaining := parts[1]

	// Offset in gray (79, 79, 79)
	addrColored := fmt.Sprintf("\033[38;2;79;79;79m%s\033[0m", addr)
	colorized := colorizeFullLine(remaining)

	return fmt.Sprintf("%s %s", addrColored, colorized)
}

// isHexChar checks if a character is a hexadecimal digit
func isHexChar(ch byte) bool {
	return (ch >= '0' && ch <= '9') || (ch >= 'a' && ch <= 'f') || (ch >= 'A' && ch <= 'F')
}

// colorizeFullLine uses Chroma to colorize an assembly line
func colorizeFullLine(line string) string {
	if os.Getenv("COF_NO_COLOR") != "" {
		return line
	}

	lexer := getAssemblyLexer()
	if lexer == nil {
		return line
	}

	// Make sure our custom style is registered
	_ = DisasmDark // Force registration

	style := getDisasmStyle()
	formatter := getTerminalFormatter()

	iterator, err := lexer.Tokenise(nil, line)
	if err != nil {
		return line
	}

	var buf strings.Builder
	if err := formatter.Format(&buf, style, iterator); err != nil {
		return line
	}

	return buf.String()
}

// StripANSI removes ANSI escape codes, returning the plain string.
func StripANSI(s string) string {
	var result strings.Builder
	inEscape := false

	for _, r := range s {
		if r == '\x1b' {
			inEscape = true
		} else if inEscape {
			if r == 'm' {
				inEscape = false
			}
		} else {
			result.WriteRune(r)
		}
	}

	return result.String()
}

// VisibleWidth returns the count of visible characters, skipping ANSI escapes.
func VisibleWidth(s string) int {
	visible := 0
	inEscape := false

	for _, r := range s {
		if r == '\x1b' {
			inEscape = true
		} else if inEscape {
			if r == 'm' {
				inEscape = false
			}
		} else {
			visible++
		}
	}

	return visible
}
