// Package cache implements FileCache: a content-addressed store of file
// blobs keyed by their primary digest, backed by a persistent index and
// deduplicated on disk via hardlinks.
package cache

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/apex/log"
	units "github.com/docker/go-units"
	"github.com/joernheissler/flatmirror/internal/digest"
	"github.com/joernheissler/flatmirror/internal/pathcopy"
)

const (
	indexFileName = "index"
	blobsDirName  = "blobs"
)

// FileCache is a scoped resource: Open returns a live handle, Close
// persists the index. No nested scopes are supported on the same path.
type FileCache struct {
	root             string
	index            *cacheIndex
	hardlinkFallback bool
	log              *log.Entry
}

// Open creates root if absent, loads its index if present, and returns a
// live handle. A missing or zero-length index file is treated as an empty
// cache, not as an error. An unrecognised index version fails loudly.
func Open(root string) (*FileCache, error) {
	if err := os.MkdirAll(filepath.Join(root, blobsDirName), 0o755); err != nil {
		return nil, fmt.Errorf("cache: create %s: %w", root, err)
	}

	idx := newCacheIndex()
	raw, err := os.ReadFile(filepath.Join(root, indexFileName))
	switch {
	case err == nil && len(raw) > 0:
		idx, err = unmarshalIndex(raw)
		if err != nil {
			return nil, err
		}
	case err == nil, os.IsNotExist(err):
		// empty or absent index: start fresh
	default:
		return nil, fmt.Errorf("cache: read index: %w", err)
	}

	return &FileCache{
		root:  root,
		index: idx,
		log:   log.WithField("cache", root),
	}, nil
}

// WithCache opens root, invokes fn with the live handle, and guarantees
// Close runs on every exit path, including a panic or error from fn.
func WithCache(root string, fn func(*FileCache) error) error {
	c, err := Open(root)
	if err != nil {
		return err
	}
	defer c.Close()
	return fn(c)
}

// Close persists the current index to disk atomically (temp file + rename)
// and is safe to call even after a caller error. Any encoding or I/O
// failure is returned; WithCache runs Close but discards its error.
func (c *FileCache) Close() error {
	raw, err := marshalIndex(c.index)
	if err != nil {
		return fmt.Errorf("cache: encode index: %w", err)
	}

	dst := filepath.Join(c.root, indexFileName)
	tmp, err := os.CreateTemp(c.root, ".index-tmp-*")
	if err != nil {
		return fmt.Errorf("cache: create temp index: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("cache: write temp index: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("cache: close temp index: %w", err)
	}
	if err := os.Rename(tmpPath, dst); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("cache: rename index: %w", err)
	}
	return nil
}

// blobPath derives the deterministic, collision-free on-disk path for a
// blob addressed by (alg, hexDigest): a two-level sharding of the hex
// digest under the blobs subdirectory, suffixed with the algorithm tag.
func (c *FileCache) blobPath(alg digest.Algorithm, hexDigest string) string {
	return filepath.Join(c.root, blobsDirName, hexDigest[:2], hexDigest[2:]+"."+string(alg))
}

func primaryHex(info *digest.FileInfo) (digest.Algorithm, string, error) {
	alg, raw, ok := info.Primary()
	if !ok {
		return "", "", fmt.Errorf("cache: FileInfo has no digests")
	}
	return alg, hex.EncodeToString(raw), nil
}

// statSize returns the on-disk size of path, or (-1, false) if it does not
// exist.
func statSize(path string) (int64, bool, error) {
	fi, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return -1, false, nil
		}
		return -1, false, err
	}
	return fi.Size(), true, nil
}

// AddFile adds path's contents to the cache, claiming that path has the
// digests and size given by fullInfo. See the package-level AddFile design
// notes in DESIGN.md for the corruption-vs-collision decision procedure.
func (c *FileCache) AddFile(fullInfo *digest.FileInfo, path string) error {
	alg, hexDigest, err := primaryHex(fullInfo)
	if err != nil {
		return err
	}
	blob := c.blobPath(alg, hexDigest)

	size, exists, err := statSize(blob)
	if err != nil {
		return fmt.Errorf("cache: stat blob: %w", err)
	}

	if !exists {
		if err := os.MkdirAll(filepath.Dir(blob), 0o755); err != nil {
			return fmt.Errorf("cache: mkdir blob dir: %w", err)
		}
		copied, err := pathcopy.LinkOrCopy(path, blob)
		if err != nil {
			return fmt.Errorf("cache: materialise blob: %w", err)
		}
		if copied {
			c.hardlinkFallback = true
		}
	} else {
		same, err := pathcopy.SameInode(path, blob)
		if err != nil {
			return fmt.Errorf("cache: compare inodes: %w", err)
		}
		if !same || size != fullInfo.Size() {
			raw, _ := fullInfo.Digest(alg)
			existingEntry, hasEntry := c.index.ByAlgDigest(alg, raw)

			switch {
			// Collision: the entry already recorded under this primary
			// digest agrees with fullInfo on every shared algorithm and
			// on size, yet the blob and path are different inodes. Two
			// distinct files should never produce identical digest sets
			// across every algorithm; raise rather than silently merge.
			case hasEntry && size == fullInfo.Size() && size == existingEntry.Size() && overlapAgree(existingEntry, fullInfo):
				return fmt.Errorf("cache: primary digest %s:%s: %w", alg, hexDigest, ErrIntegrity)

			// Index loss, not corruption: the blob's on-disk size already
			// matches what fullInfo claims, and no index entry contradicts
			// it (there may be no entry at all, e.g. after the index file
			// was lost). path is simply a second copy of content the cache
			// already has under a different inode; leave the blob alone
			// and let the inode-sharing step below relink path to it,
			// rather than destroying the existing blob.
			case size == fullInfo.Size() && !hasEntry:

			// Corruption: the on-disk blob size disagrees with fullInfo,
			// or an index entry under this primary digest records content
			// that disagrees with fullInfo. Replace it with path's
			// content.
			default:
				c.log.WithField("blob", blob).WithField("size", units.HumanSize(float64(size))).Warn("replacing corrupted blob")
				if err := os.Remove(blob); err != nil && !os.IsNotExist(err) {
					return fmt.Errorf("cache: remove stale blob: %w", err)
				}
				copied, err := pathcopy.LinkOrCopy(path, blob)
				if err != nil {
					return fmt.Errorf("cache: re-materialise blob: %w", err)
				}
				if copied {
					c.hardlinkFallback = true
				}
			}
		}
	}

	if _, err := c.index.Insert(fullInfo); err != nil {
		return fmt.Errorf("cache: index %s: %w", path, err)
	}

	same, err := pathcopy.SameInode(path, blob)
	if err != nil {
		return fmt.Errorf("cache: verify inode after materialisation: %w", err)
	}
	if !same && !c.hardlinkFallback {
		if err := os.Remove(path); err != nil {
			return fmt.Errorf("cache: unlink %s before relink: %w", path, err)
		}
		if err := os.Link(blob, path); err != nil {
			return fmt.Errorf("cache: relink %s to blob: %w", path, err)
		}
	}
	return nil
}

// Retrieve places at dest a file matching requestInfo, using the cache if
// possible. It returns (nil, nil) on a cache miss, never an error for a
// plain miss.
func (c *FileCache) Retrieve(requestInfo *digest.FileInfo, dest string) (*digest.FileInfo, error) {
	if stored := c.index.Lookup(requestInfo); stored != nil {
		alg, hexDigest, err := primaryHex(stored)
		if err != nil {
			return nil, err
		}
		blob := c.blobPath(alg, hexDigest)
		size, exists, err := statSize(blob)
		if err != nil {
			return nil, fmt.Errorf("cache: stat blob: %w", err)
		}
		if !exists {
			return nil, nil
		}
		if size != stored.Size() {
			c.log.WithField("blob", blob).Warn("indexed blob size mismatch, treating as miss")
			return nil, nil
		}

		if stored.URL() == "" && requestInfo.URL() != "" {
			healed := stored.WithURL(requestInfo.URL())
			if _, err := c.index.Insert(healed); err != nil {
				return nil, err
			}
			stored = healed
		}

		if _, err := pathcopy.AtomicLinkOrCopy(blob, dest); err != nil {
			return nil, fmt.Errorf("cache: materialise %s: %w", dest, err)
		}
		return stored, nil
	}

	// Index miss: attempt blind recovery if dest already holds plausible
	// content.
	if _, err := os.Stat(dest); err == nil {
		hashed, err := digest.HashFile(dest, requestInfo.URL())
		if err != nil {
			return nil, fmt.Errorf("cache: rehash %s: %w", dest, err)
		}
		ok, err := hashed.Matches(requestInfo)
		if err != nil {
			return nil, err
		}
		if ok {
			if err := c.AddFile(hashed, dest); err != nil {
				return nil, err
			}
			return hashed, nil
		}
		// dest exists but does not match; leave it untouched, report miss.
		return nil, nil
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("cache: stat %s: %w", dest, err)
	}

	return nil, nil
}

// AddIndexEntry is the repair surface: insert an entry derived from a blob
// file already present in the cache directory, whose url may be empty.
// Conflict semantics are identical to AddFile's index insertion, except an
// existing entry's empty url is always overwritable by a later, real url.
func (c *FileCache) AddIndexEntry(partialInfo *digest.FileInfo) error {
	_, err := c.index.Insert(partialInfo)
	if err != nil {
		return fmt.Errorf("cache: add index entry: %w", err)
	}
	return nil
}

// HardlinkFallbackUsed reports whether any AddFile call in this scope had
// to fall back to copying because the filesystem refused a hardlink.
func (c *FileCache) HardlinkFallbackUsed() bool {
	return c.hardlinkFallback
}
