package pathfind

import (
	"fmt"
	"io"
	"strings"

	"github.com/alvmarrod/artist-weaver/internal/identity"
	"github.com/alvmarrod/artist-weaver/internal/storage"
)

// MetadataSource resolves a node to its display name and url
type MetadataSource interface {
	Metadata(id identity.NodeID) (storage.MetadataRecord, bool)
}

// Display controls how a path is printed
type Display struct {
	ShowSimilarity bool
	HideURLs       bool
	Quiet          bool // only the arrow line
	Verbose        bool // add hop count and search stats
}

func displayName(meta MetadataSource, id identity.NodeID) string {
	if rec, ok := meta.Metadata(id); ok && rec.Name != "" {
		return rec.Name
	}
	return id.String()
}

// Render writes res for a search from one name to another
func Render(w io.Writer, meta MetadataSource, res Result, from, to string, d Display) error {
	var b strings.Builder

	if res.Path == nil {
		fmt.Fprintf(&b, "No path found from %q to %q\n", from, to)
	} else {
		if d.Verbose {
			fmt.Fprintf(&b, "Found path with %d steps\n", res.Hops())
		}

		names := make([]string, len(res.Path))
		for i, step := range res.Path {
			names[i] = fmt.Sprintf("%q", displayName(meta, step.ID))
		}
		b.WriteString(strings.Join(names, " → "))
		b.WriteString("\n")

		if !d.Quiet {
			b.WriteString("\n")
			for i, step := range res.Path {
				fmt.Fprintf(&b, "%d. %s", i+1, names[i])
				if d.ShowSimilarity && i > 0 {
					fmt.Fprintf(&b, " [sim %.3f]", step.Similarity)
				}
				if !d.HideURLs {
					if rec, ok := meta.Metadata(step.ID); ok && rec.URL != "" {
						fmt.Fprintf(&b, " - %s", rec.URL)
					}
				}
				b.WriteString("\n")
			}
		}
	}

	if d.Verbose {
		fmt.Fprintf(&b, "Explored %d artists in %.3f sec\n", res.Visited, res.Elapsed.Seconds())
	}

	_, err := io.WriteString(w, b.String())
	return err
}
