package crawler

import (
	"context"
	"errors"

	"github.com/alvmarrod/artist-weaver/internal/identity"
	"github.com/alvmarrod/artist-weaver/internal/lastfm"
	"github.com/sirupsen/logrus"
)

// expansion is the outcome of querying one source node
type expansion struct {
	source     identity.NodeID
	candidates []candidate
	failed     bool
}

// expand queries the upstream for one node. Native ids are queried by id and
// fall back to the recorded name when that fails or comes back empty;
// URL-derived ids are always queried by name. A non-terminal failure yields a
// failed expansion with no candidates. The returned error is either a
// terminal upstream error or the context error when ctx ends first.
func (f *Frontier) expand(ctx context.Context, id identity.NodeID) (expansion, error) {
	exp := expansion{source: id}
	native := identity.IsNative(id)

	var (
		similar []lastfm.Similar
		name    string
		err     error
	)

	if native {
		similar, err = f.upstream.SimilarByID(ctx, id.String(), f.similarLimit)
		if fatal := abortError(ctx, err); fatal != nil {
			return exp, fatal
		}
		if err != nil || len(similar) == 0 {
			if err != nil {
				logrus.Debugf("Similar by id failed for %s, trying by name: %v", id, err)
			}
			name = f.nameOf(id)
			if name != "" {
				similar, err = f.upstream.SimilarByName(ctx, name, f.similarLimit)
			}
		}
	} else {
		name = f.nameOf(id)
		if name == "" {
			logrus.Warnf("No name recorded for %s, skipping", id)
			exp.failed = true
			return exp, nil
		}
		similar, err = f.upstream.SimilarByName(ctx, name, f.similarLimit)
	}

	if fatal := abortError(ctx, err); fatal != nil {
		return exp, fatal
	}
	if err != nil {
		logrus.Warnf("Failed to expand %s: %v", id, err)
		exp.failed = true
	}
	exp.candidates = filterSimilar(id, similar, f.similarLimit)

	if f.includeTags && !exp.failed {
		tags, err := f.fetchTags(ctx, id, native, name)
		if fatal := abortError(ctx, err); fatal != nil {
			return exp, fatal
		}
		if err != nil {
			logrus.Warnf("Failed to fetch tags for %s: %v", id, err)
		}
		exp.candidates = append(exp.candidates, filterTags(tags, f.tagLimit)...)
	}

	return exp, nil
}

func (f *Frontier) fetchTags(ctx context.Context, id identity.NodeID, native bool, name string) ([]lastfm.Tag, error) {
	if native {
		tags, err := f.upstream.TagsByID(ctx, id.String(), f.tagLimit)
		if err == nil && len(tags) > 0 {
			return tags, nil
		}
		if abortError(ctx, err) != nil {
			return nil, err
		}
		if name == "" {
			name = f.nameOf(id)
		}
		if name == "" {
			return nil, err
		}
	}
	return f.upstream.TagsByName(ctx, name, f.tagLimit)
}

// nameOf returns the recorded display name of id, or "" if unknown
func (f *Frontier) nameOf(id identity.NodeID) string {
	rec, err := f.names.Get(id)
	if err != nil {
		logrus.Warnf("Failed to read name of %s: %v", id, err)
		return ""
	}
	if rec == nil {
		return ""
	}
	return rec.Name
}

// abortError returns the error that must stop the batch, if any
func abortError(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, lastfm.ErrUnauthorized) {
		return err
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return nil
}
