package digest

import (
	"bytes"
	"sort"
)

// FileInfo is an immutable record describing a file's size, the digests
// known for it, and a label for its logical source. A FileInfo obtained
// from a Hasher always carries all four supported algorithms; one obtained
// from a Release file or a cache lookup may carry any non-empty subset.
type FileInfo struct {
	size    int64
	digests map[Algorithm][]byte
	url     string
}

// NewFileInfo builds a FileInfo from a size, a digest map (copied, not
// retained) and a url label. It does not validate digest lengths; callers
// that parse untrusted input should validate with Len before calling this.
func NewFileInfo(size int64, digests map[Algorithm][]byte, url string) *FileInfo {
	cp := make(map[Algorithm][]byte, len(digests))
	for a, d := range digests {
		cp[a] = append([]byte(nil), d...)
	}
	return &FileInfo{size: size, digests: cp, url: url}
}

// Size is the exact byte length this FileInfo describes.
func (f *FileInfo) Size() int64 { return f.size }

// URL is the logical source label; it may be empty, meaning "origin
// unknown", as produced by repair paths.
func (f *FileInfo) URL() string { return f.url }

// Digest returns the raw digest bytes for alg and whether it is present.
func (f *FileInfo) Digest(alg Algorithm) ([]byte, bool) {
	d, ok := f.digests[alg]
	return d, ok
}

// Algorithms returns the set of algorithms this FileInfo carries, in the
// fixed strength order (weakest first).
func (f *FileInfo) Algorithms() []Algorithm {
	algs := make([]Algorithm, 0, len(f.digests))
	for a := range f.digests {
		algs = append(algs, a)
	}
	sort.Slice(algs, func(i, j int) bool { return algorithmOrder[algs[i]] < algorithmOrder[algs[j]] })
	return algs
}

// Primary returns the strongest algorithm present and its digest. It is
// well-defined whenever the FileInfo carries at least one digest; the
// second return value is false only for a FileInfo with no digests at all.
func (f *FileInfo) Primary() (Algorithm, []byte, bool) {
	algs := f.Algorithms()
	if len(algs) == 0 {
		return "", nil, false
	}
	best := algs[len(algs)-1]
	return best, f.digests[best], true
}

// WithURL returns a copy of f with its url label replaced. FileInfo is
// otherwise immutable; this is the one allowed "mutation", used to heal an
// index entry whose url was previously empty.
func (f *FileInfo) WithURL(url string) *FileInfo {
	return &FileInfo{size: f.size, digests: f.digests, url: url}
}

// Matches reports whether f is consistent with the constraints expressed by
// other: equal size, and for every algorithm other supplies, f must carry
// the same algorithm with an equal digest value. If other names an
// algorithm f lacks, Matches returns (false, ErrUnknownDigest) rather than
// a plain false, since that is a usage error distinct from a mismatch.
//
// Matches is not symmetric: a richer receiver may match a sparser argument,
// but the reverse call can fail with ErrUnknownDigest.
func (f *FileInfo) Matches(other *FileInfo) (bool, error) {
	if f.size != other.size {
		return false, nil
	}
	for _, a := range other.Algorithms() {
		want := other.digests[a]
		have, ok := f.digests[a]
		if !ok {
			return false, ErrUnknownDigest
		}
		if !bytes.Equal(have, want) {
			return false, nil
		}
	}
	return true, nil
}
