// Package digest implements the streaming multi-algorithm hasher and the
// FileInfo value type that the rest of flatmirror builds on.
package digest

import "fmt"

// Algorithm names a supported digest function. Names are lowercase ASCII,
// matching the Debian convention (md5sum, sha1, sha256, sha512 fields).
type Algorithm string

// Supported algorithms. The hasher always computes all four, even the
// insecure ones, because legacy Release files reference them.
const (
	MD5    Algorithm = "md5"
	SHA1   Algorithm = "sha1"
	SHA256 Algorithm = "sha256"
	SHA512 Algorithm = "sha512"
)

// algorithmOrder encodes the fixed cryptographic-strength ordering used to
// pick a FileInfo's primary digest. It is a table, not a string comparison,
// so that adding a future algorithm only means adding a table entry.
var algorithmOrder = map[Algorithm]int{
	MD5:    0,
	SHA1:   1,
	SHA256: 2,
	SHA512: 3,
}

// digestLen is the fixed raw byte length produced by each algorithm.
var digestLen = map[Algorithm]int{
	MD5:    16,
	SHA1:   20,
	SHA256: 32,
	SHA512: 64,
}

// Len returns the fixed raw digest length for alg, or 0 if alg is unknown.
func Len(alg Algorithm) int {
	return digestLen[alg]
}

// ErrUnknownAlgorithm names the condition of an Algorithm outside the four
// supported names. No function in this package returns it; Len reports an
// unknown algorithm by returning 0.
var ErrUnknownAlgorithm = fmt.Errorf("digest: unknown algorithm")

// ErrUnknownDigest is the "unknown-digest" condition from FileInfo.Matches:
// the receiver lacks an algorithm the query demands.
var ErrUnknownDigest = fmt.Errorf("digest: receiver lacks requested algorithm")
