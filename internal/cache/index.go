package cache

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/joernheissler/flatmirror/internal/digest"
)

// indexVersion is the only on-disk index format this package understands.
// Loading any other version fails loudly rather than silently resetting.
const indexVersion int64 = 0

// indexDocument is the on-disk shape: an ordered [version, payload] pair,
// CBOR-encoded as arrays via the "toarray" struct tag so it round-trips
// identically to the conceptual format in the external interface.
type indexDocument struct {
	_       struct{} `cbor:",toarray"`
	Version int64
	Payload []indexEntry
}

type indexEntry struct {
	_       struct{} `cbor:",toarray"`
	Size    int64
	URL     string
	Digests map[string][]byte
}

// cacheIndex is the in-memory form: one lookup map per algorithm, all
// pointing at the same underlying FileInfo record, so insertion is
// multi-keyed and conflict checks compare against every overlap.
type cacheIndex struct {
	byAlg map[digest.Algorithm]map[string]*digest.FileInfo
}

func newCacheIndex() *cacheIndex {
	return &cacheIndex{byAlg: map[digest.Algorithm]map[string]*digest.FileInfo{}}
}

// overlapAgree reports whether a and b agree on size and on every algorithm
// present in both, without requiring either to be a superset of the other.
// This is the index's own agreement notion, distinct from FileInfo.Matches,
// which additionally demands the receiver carry every algorithm the
// argument names.
func overlapAgree(a, b *digest.FileInfo) bool {
	if a.Size() != b.Size() {
		return false
	}
	for _, alg := range a.Algorithms() {
		da, _ := a.Digest(alg)
		db, ok := b.Digest(alg)
		if !ok {
			continue
		}
		if string(da) != string(db) {
			return false
		}
	}
	return true
}

// ByAlgDigest returns the entry stored under exactly (alg, raw), without
// any cross-algorithm agreement check. Used to find the entry that
// currently owns a given blob path, ahead of the collision-vs-corruption
// decision in AddFile.
func (c *cacheIndex) ByAlgDigest(alg digest.Algorithm, raw []byte) (*digest.FileInfo, bool) {
	m, ok := c.byAlg[alg]
	if !ok {
		return nil, false
	}
	fi, ok := m[string(raw)]
	return fi, ok
}

// Lookup returns the stored FileInfo whose digests agree with query on
// every algorithm present in both, under any algorithm query supplies, or
// nil if none is found.
func (c *cacheIndex) Lookup(query *digest.FileInfo) *digest.FileInfo {
	for _, alg := range query.Algorithms() {
		d, ok := query.Digest(alg)
		if !ok {
			continue
		}
		m, ok := c.byAlg[alg]
		if !ok {
			continue
		}
		candidate, ok := m[string(d)]
		if !ok {
			continue
		}
		if overlapAgree(candidate, query) {
			return candidate
		}
	}
	return nil
}

// ErrIntegrity is raised by Insert when an existing entry disagrees with
// the incoming FileInfo on a shared algorithm or size: an index/blob
// contradiction that cannot be safely auto-repaired.
var ErrIntegrity = fmt.Errorf("cache: index integrity violation")

// Insert adds info to the index under every algorithm it carries. If an
// entry already exists under one of those algorithms, it must agree with
// info on size and every shared algorithm, or Insert fails with
// ErrIntegrity. An existing entry whose url is empty is healed in place
// to info's url rather than treated as a conflict.
func (c *cacheIndex) Insert(info *digest.FileInfo) (*digest.FileInfo, error) {
	var existing *digest.FileInfo
	for _, alg := range info.Algorithms() {
		d, _ := info.Digest(alg)
		if m, ok := c.byAlg[alg]; ok {
			if e, ok := m[string(d)]; ok {
				existing = e
				break
			}
		}
	}

	final := info
	if existing != nil {
		if !overlapAgree(existing, info) {
			return nil, fmt.Errorf("cache: %w", ErrIntegrity)
		}
		url := existing.URL()
		if url == "" {
			url = info.URL()
		}
		merged := map[digest.Algorithm][]byte{}
		for _, fi := range []*digest.FileInfo{existing, info} {
			for _, alg := range fi.Algorithms() {
				merged[alg], _ = fi.Digest(alg)
			}
		}
		final = digest.NewFileInfo(existing.Size(), merged, url)
	}

	for _, alg := range final.Algorithms() {
		d, _ := final.Digest(alg)
		m, ok := c.byAlg[alg]
		if !ok {
			m = map[string]*digest.FileInfo{}
			c.byAlg[alg] = m
		}
		m[string(d)] = final
	}
	return final, nil
}

func (c *cacheIndex) toDocument() indexDocument {
	seen := map[*digest.FileInfo]bool{}
	var entries []indexEntry
	for _, m := range c.byAlg {
		for _, fi := range m {
			if seen[fi] {
				continue
			}
			seen[fi] = true
			digests := map[string][]byte{}
			for _, alg := range fi.Algorithms() {
				d, _ := fi.Digest(alg)
				digests[string(alg)] = d
			}
			entries = append(entries, indexEntry{Size: fi.Size(), URL: fi.URL(), Digests: digests})
		}
	}
	return indexDocument{Version: indexVersion, Payload: entries}
}

func indexFromDocument(doc indexDocument) (*cacheIndex, error) {
	if doc.Version != indexVersion {
		return nil, fmt.Errorf("cache: %w: got version %d, want %d", ErrVersion, doc.Version, indexVersion)
	}
	idx := newCacheIndex()
	for _, e := range doc.Payload {
		digests := map[digest.Algorithm][]byte{}
		for alg, d := range e.Digests {
			digests[digest.Algorithm(alg)] = d
		}
		fi := digest.NewFileInfo(e.Size, digests, e.URL)
		if _, err := idx.Insert(fi); err != nil {
			return nil, err
		}
	}
	return idx, nil
}

// ErrVersion is CacheVersionError: the index file exists but carries an
// unrecognised version integer.
var ErrVersion = fmt.Errorf("cache: unrecognised index version")

func marshalIndex(idx *cacheIndex) ([]byte, error) {
	return cbor.Marshal(idx.toDocument())
}

func unmarshalIndex(b []byte) (*cacheIndex, error) {
	var doc indexDocument
	if err := cbor.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("cache: decode index: %w", err)
	}
	return indexFromDocument(doc)
}
