package colorize

import (
	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/styles"
)

func init() {
	// Register the disassembly style on package initialization
	_ = DisasmDark
}

// DisasmDark styles Intel-syntax x86 disassembly and the generated C++
// pseudocode on dark terminals: mnemonics plain, registers teal,
// constants pink.
var DisasmDark = styles.Register(chroma.MustNewStyle("disasm-dark", chroma.StyleEntries{
	chroma.Text:           "#FFFFFF",
	chroma.Background:     "bg:#1e1e1e",
	chroma.Comment:        "#6A9955", // line comments in the generated header
	chroma.CommentPreproc: "#C586C0", // #pragma / #include

	// The NASM lexer tokenizes mnemonics as keywords or functions,
	// registers as names.
	chroma.Keyword:       "#FFFFFF",
	chroma.KeywordPseudo: "#FFFFFF",
	chroma.KeywordType:   "#4EC9B0", // std::uint32_t / std::uint64_t in pseudocode
	chroma.Name:          "#7C9C9D",
	chroma.NameBuiltin:   "#7C9C9D",
	chroma.NameVariable:  "#7C9C9D",
	chroma.NameFunction:  "#FFFFFF",

	// Constants carry the recovered keys; keep every number form the
	// same pink so they stand out in rotate/shift chains.
	chroma.LiteralNumber:        "#FF5F87",
	chroma.LiteralNumberHex:     "#FF5F87",
	chroma.LiteralNumberBin:     "#FF5F87",
	chroma.LiteralNumberOct:     "#FF5F87",
	chroma.LiteralNumberInteger: "#FF5F87",
	chroma.LiteralNumberFloat:   "#FF5F87",

	chroma.NameLabel: "#FFD700",

	chroma.Operator:    "#FFFFFF",
	chroma.Punctuation: "#FFFFFF",

	chroma.String: "#EACD53",
}))
