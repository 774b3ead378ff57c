package analysis

import (
	"sync"

	"github.com/ianlancetaylor/demangle"

	"cof/internal/dump"
)

// DemangledExport pairs an export table entry with its readable name.
type DemangledExport struct {
	dump.Export
	Demangled string
}

// demangleCache memoizes demangled names; export tables repeat the same
// decorated prefixes heavily.
var demangleCache = struct {
	sync.RWMutex
	names map[string]string
}{names: make(map[string]string)}

// Demangle returns the readable form of a decorated name. Names without
// recognizable decoration pass through unchanged.
func Demangle(name string) string {
	demangleCache.RLock()
	d, ok := demangleCache.names[name]
	demangleCache.RUnlock()
	if ok {
		return d
	}
	d = demangle.Filter(name, demangle.NoClones)
	demangleCache.Lock()
	demangleCache.names[name] = d
	demangleCache.Unlock()
	return d
}

// DemangledExports returns the dump's export table with demangled names
// filled in.
func DemangledExports(r *dump.Reader) []DemangledExport {
	exps := r.Exports()
	out := make([]DemangledExport, 0, len(exps))
	for _, e := range exps {
		out = append(out, DemangledExport{Export: e, Demangled: Demangle(e.Name)})
	}
	return out
}
