package search

import (
	"encoding/json"
	"fmt"
	"os"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// syncCoverage records a discovered coverage against the target's
// configured search range, relative to the region base.
func (f *Finder) syncCoverage(coverage Range, region *Region, target *Target) {
	if !f.syncEnabled {
		return
	}
	rel := Range{Offset: coverage.Offset - region.RegionRange.Offset, Size: coverage.Size}
	f.syncSearchRange(rel, region, target)
}

// syncSearchRange updates the in-memory configuration tree so the next
// pass starts from what this one discovered. Key order is preserved; a
// missing SearchRange node is created in place.
func (f *Finder) syncSearchRange(rel Range, region *Region, target *Target) {
	if !f.syncEnabled || f.raw == nil {
		return
	}
	for _, entry := range f.raw {
		id, _ := entry.Get("RegionID")
		if s, ok := id.(string); !ok || s != region.RegionID {
			continue
		}
		rawTargets, _ := entry.Get("SearchFor")
		list, ok := rawTargets.([]any)
		if !ok {
			return
		}
		for _, rawTarget := range list {
			obj, ok := rawTarget.(*orderedmap.OrderedMap[string, any])
			if !ok {
				continue
			}
			sid, _ := obj.Get("SearchID")
			if s, ok := sid.(string); !ok || s != target.SearchID {
				continue
			}
			var sr *orderedmap.OrderedMap[string, any]
			if v, present := obj.Get("SearchRange"); present {
				sr, _ = v.(*orderedmap.OrderedMap[string, any])
			}
			if sr == nil {
				sr = orderedmap.New[string, any]()
				obj.Set("SearchRange", sr)
			}
			sr.Set("Offset", rel.Offset)
			sr.Set("Size", rel.Size)
			f.log.Debug("search range recorded", "search", target.SearchID,
				"offset", hex(rel.Offset), "size", hex(rel.Size))
			return
		}
		return
	}
}

// SyncSearchConfig writes the updated configuration back to the file
// it was loaded from. A pass that ran without sync leaves the file
// untouched.
func (f *Finder) SyncSearchConfig() error {
	if !f.syncEnabled || f.rawPath == "" {
		return nil
	}
	data, err := json.MarshalIndent(f.raw, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding search configuration: %w", err)
	}
	data = append(data, '\n')
	if err := os.WriteFile(f.rawPath, data, 0o644); err != nil {
		return fmt.Errorf("updating search configuration: %w", err)
	}
	f.log.Info("search configuration updated", "path", f.rawPath)
	return nil
}
