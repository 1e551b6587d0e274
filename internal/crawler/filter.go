package crawler

import (
	"strings"

	"github.com/alvmarrod/artist-weaver/internal/identity"
	"github.com/alvmarrod/artist-weaver/internal/lastfm"
	"github.com/alvmarrod/artist-weaver/internal/storage"
)

// tagPrefix marks the display name of tag nodes
const tagPrefix = "Tag: "

// candidate is a target discovered while expanding a source
type candidate struct {
	id     identity.NodeID
	name   string
	url    string
	weight float32
	tag    bool
}

func (c candidate) edge() storage.Edge {
	return storage.Edge{Target: c.id, Weight: c.weight}
}

// filterSimilar resolves similar artists into candidates. Entries without a
// usable id, links back to the source, and repeated targets are dropped. At
// most maxCandidates are kept when maxCandidates is positive.
func filterSimilar(source identity.NodeID, similar []lastfm.Similar, maxCandidates int) []candidate {
	seen := make(map[identity.NodeID]bool)
	var filtered []candidate

	for _, s := range similar {
		id, err := identity.Resolve(s.MBID, s.URL)
		if err != nil {
			continue
		}

		// Skip self links
		if id == source {
			continue
		}

		// Skip duplicates
		if seen[id] {
			continue
		}

		seen[id] = true
		filtered = append(filtered, candidate{id: id, name: s.Name, url: s.URL, weight: s.Match})

		if maxCandidates > 0 && len(filtered) >= maxCandidates {
			break
		}
	}

	return filtered
}

// filterTags turns top tags into zero-weight tag candidates
func filterTags(tags []lastfm.Tag, maxCandidates int) []candidate {
	seen := make(map[identity.NodeID]bool)
	var filtered []candidate

	for _, t := range tags {
		name := strings.TrimSpace(t.Name)
		if name == "" {
			continue
		}

		id := identity.ForTag(name)
		if seen[id] {
			continue
		}

		seen[id] = true
		filtered = append(filtered, candidate{id: id, name: tagPrefix + name, url: t.URL, tag: true})

		if maxCandidates > 0 && len(filtered) >= maxCandidates {
			break
		}
	}

	return filtered
}
