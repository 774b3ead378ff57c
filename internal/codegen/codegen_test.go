package codegen

import (
	"strings"
	"testing"
)

func TestMakeFunctionBody(t *testing.T) {
	tests := []struct {
		name string
		typ  string
		expr string
		want string
	}{
		{
			name: "no rotate calls",
			typ:  TypeUint64,
			expr: "(<ParamName> >> 5)",
			want: "  return (<ParamName> >> 5);",
		},
		{
			name: "single call stays inline",
			typ:  TypeUint64,
			expr: "(_rotr64(<ParamName> ^ 0x11223344, 17) ^ 0x55667788) >> 5",
			want: "  return (_rotr64(<ParamName> ^ 0x11223344, 17) ^ 0x55667788) >> 5;",
		},
		{
			name: "duplicate call factored",
			typ:  TypeUint32,
			expr: "_rotl(<ParamName>, 3) ^ _rotl(<ParamName>, 3)",
			want: "  std::uint32_t <V>1 = _rotl(<ParamName>, 3);\n" +
				"  return <V>1 ^ <V>1;",
		},
		{
			name: "distinct duplicates numbered by first appearance",
			typ:  TypeUint64,
			expr: "_rotr64(A, 1) ^ _rotl64(B, 2) ^ _rotl64(B, 2) ^ _rotr64(A, 1)",
			want: "  std::uint64_t <V>1 = _rotr64(A, 1);\n" +
				"  std::uint64_t <V>2 = _rotl64(B, 2);\n" +
				"  return <V>1 ^ <V>2 ^ <V>2 ^ <V>1;",
		},
		{
			name: "copy nested in an inline call is untouched",
			typ:  TypeUint64,
			expr: "_rotr64(_rotl(X, 2), 3) ^ _rotl(X, 2) ^ _rotl(X, 2)",
			want: "  std::uint64_t <V>1 = _rotl(X, 2);\n" +
				"  return _rotr64(_rotl(X, 2), 3) ^ <V>1 ^ <V>1;",
		},
		{
			name: "unbalanced call left inline",
			typ:  TypeUint64,
			expr: "_rotr64(X ^ 0x1",
			want: "  return _rotr64(X ^ 0x1;",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MakeFunctionBody(tt.typ, tt.expr)
			if got != tt.want {
				t.Errorf("MakeFunctionBody(%q)\n got: %q\nwant: %q", tt.expr, got, tt.want)
			}
		})
	}
}

func TestMakeFunction(t *testing.T) {
	got := MakeFunction(TypeUint64, "(_rotr64(<ParamName> ^ 0x11223344, 17) ^ 0x55667788) >> 5")
	want := "std::uint64_t <FunctionName>(std::uint64_t <ParamName>)\n" +
		"{\n" +
		"  return (_rotr64(<ParamName> ^ 0x11223344, 17) ^ 0x55667788) >> 5;\n" +
		"}"
	if got != want {
		t.Errorf("MakeFunction mismatch\n got: %q\nwant: %q", got, want)
	}
}

func TestMakeFunctionFactoredLocals(t *testing.T) {
	got := MakeFunction(TypeUint32, "_rotl(<ParamName>, 7) ^ _rotl(<ParamName>, 7)")
	if !strings.Contains(got, "std::uint32_t <V>1 = _rotl(<ParamName>, 7);") {
		t.Errorf("missing local declaration in:\n%s", got)
	}
	if !strings.Contains(got, "return <V>1 ^ <V>1;") {
		t.Errorf("occurrences not replaced in:\n%s", got)
	}
}
