package digest

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"fmt"
	"hash"
	"io"
	"os"
)

// chunkSize bounds the read size used by HashFile, matching the "bounded
// size chunks" requirement rather than reading whole files into memory.
const chunkSize = 256 * 1024

// ErrFinalized is returned by Update when called after Finalize.
var ErrFinalized = fmt.Errorf("digest: hasher already finalized")

// Hasher computes md5, sha1, sha256 and sha512 simultaneously over a single
// byte stream. It is single-use: Finalize consumes it.
type Hasher struct {
	size   int64
	hashes map[Algorithm]hash.Hash
	done   bool
}

// New returns an empty Hasher with size 0 and initialised contexts for every
// supported algorithm.
func New() *Hasher {
	return &Hasher{
		hashes: map[Algorithm]hash.Hash{
			MD5:    md5.New(),
			SHA1:   sha1.New(),
			SHA256: sha256.New(),
			SHA512: sha512.New(),
		},
	}
}

// Update feeds b to every algorithm and advances the running size. It is an
// error to call Update after Finalize.
func (h *Hasher) Update(b []byte) error {
	if h.done {
		return ErrFinalized
	}
	for _, hh := range h.hashes {
		// hash.Hash.Write never returns an error.
		hh.Write(b)
	}
	h.size += int64(len(b))
	return nil
}

// Size returns the number of bytes fed so far.
func (h *Hasher) Size() int64 { return h.size }

// Finalize consumes the hasher and returns a FileInfo carrying every
// supported algorithm's digest, the total size, and url.
func (h *Hasher) Finalize(url string) (*FileInfo, error) {
	if h.done {
		return nil, ErrFinalized
	}
	h.done = true
	digests := make(map[Algorithm][]byte, len(h.hashes))
	for a, hh := range h.hashes {
		digests[a] = hh.Sum(nil)
	}
	return NewFileInfo(h.size, digests, url), nil
}

// HashFile opens path, feeds its contents through the hasher in bounded
// chunks, and finalizes with url as the resulting FileInfo's source label.
func HashFile(path, url string) (*FileInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("digest: open %s: %w", path, err)
	}
	defer f.Close()
	return hashReader(f, url)
}

func hashReader(r io.Reader, url string) (*FileInfo, error) {
	h := New()
	buf := make([]byte, chunkSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			h.Update(buf[:n])
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("digest: read: %w", err)
		}
	}
	return h.Finalize(url)
}
