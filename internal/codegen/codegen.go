// Package codegen renders recovered decryption chains as compilable C++
// snippets. Chain pseudocode arrives as a single expression carrying
// placeholder markers; the printer substitutes those with configured
// names at output time.
package codegen

import (
	"fmt"
	"strings"
)

// Placeholder markers embedded in generated code.
const (
	FunctionName = "<FunctionName>"
	ParamName    = "<ParamName>"
	VarPrefix    = "<V>"
)

// Scalar type names used for signatures and factored locals.
const (
	TypeUint32 = "std::uint32_t"
	TypeUint64 = "std::uint64_t"
)

// scanRotCalls returns each parenthesis-balanced "_rotr/_rotl[64](...)"
// call in expr, in appearance order. Scanning resumes after a captured
// call, so calls nested inside one are not reported separately.
func scanRotCalls(expr string) []string {
	var calls []string
	i := 0
	for i < len(expr) {
		p := strings.Index(expr[i:], "_rot")
		if p < 0 {
			break
		}
		p += i
		cur := p + 4
		if cur >= len(expr) {
			break
		}
		if expr[cur] != 'r' && expr[cur] != 'l' {
			i = p + 1
			continue
		}
		cur++
		if strings.HasPrefix(expr[cur:], "64") {
			cur += 2
		}
		if cur >= len(expr) || expr[cur] != '(' {
			i = p + 1
			continue
		}
		depth := 1
		cur++
		for cur < len(expr) && depth > 0 {
			switch expr[cur] {
			case '(':
				depth++
			case ')':
				depth--
			}
			cur++
		}
		if depth != 0 {
			break
		}
		calls = append(calls, expr[p:cur])
		i = cur
	}
	return calls
}

// MakeFunctionBody factors rotate calls that appear more than once into
// numbered locals, declared in order of first appearance, and wraps the
// expression in a return statement. A rotate call appearing once stays
// inline. Nesting is handled by balanced-parenthesis capture; the call
// texts are not regular.
func MakeFunctionBody(scalarType, expr string) string {
	calls := scanRotCalls(expr)

	counts := make(map[string]int)
	var uniques []string
	for _, c := range calls {
		if counts[c] == 0 {
			uniques = append(uniques, c)
		}
		counts[c]++
	}

	vars := make(map[string]string)
	var decls strings.Builder
	n := 0
	for _, u := range uniques {
		if counts[u] < 2 {
			continue
		}
		n++
		name := fmt.Sprintf("%s%d", VarPrefix, n)
		vars[u] = name
		fmt.Fprintf(&decls, "  %s %s = %s;\n", scalarType, name, u)
	}

	body := expr
	if n > 0 {
		// Walk the captured calls left to right so a factored call
		// nested inside an unfactored one is never touched.
		pos := 0
		for _, c := range calls {
			idx := strings.Index(body[pos:], c)
			if idx < 0 {
				break
			}
			idx += pos
			if name, ok := vars[c]; ok {
				body = body[:idx] + name + body[idx+len(c):]
				pos = idx + len(name)
			} else {
				pos = idx + len(c)
			}
		}
	}

	return fmt.Sprintf("%s  return %s;", decls.String(), body)
}

// AddFunctionScope wraps a processed body in a one-parameter function
// skeleton named by the placeholder markers.
func AddFunctionScope(scalarType, body string) string {
	return fmt.Sprintf("%s %s(%s %s)\n{\n%s\n}",
		scalarType, FunctionName, scalarType, ParamName, body)
}

// MakeFunction renders a raw pseudocode expression as a full function
// over the given scalar type.
func MakeFunction(scalarType, expr string) string {
	return AddFunctionScope(scalarType, MakeFunctionBody(scalarType, expr))
}
