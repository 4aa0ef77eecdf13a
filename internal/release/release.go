// Package release derives FileInfo records from a parsed Debian Release
// stanza, layering on top of the stanza package's grammar.
package release

import (
	"encoding/hex"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/joernheissler/flatmirror/internal/digest"
	"github.com/joernheissler/flatmirror/internal/stanza"
)

// ErrParse wraps every malformed-Release-file condition this package
// detects: zero or multiple stanzas, no checksum fields, a malformed
// checksum line, or inconsistent sizes for the same path across algorithms.
var ErrParse = fmt.Errorf("release: parse error")

// fieldForAlgorithm maps the Debian field name (lowercased) to the
// algorithm it carries.
var fieldForAlgorithm = map[string]digest.Algorithm{
	"md5sum": digest.MD5,
	"sha1":   digest.SHA1,
	"sha256": digest.SHA256,
	"sha512": digest.SHA512,
}

var hashLine = regexp.MustCompile(`^(\S+)\s+(\d+)\s+(.+)$`)

type accumulator struct {
	size    int64
	sizeSet bool
	digests map[digest.Algorithm][]byte
}

// ParseReleaseFile parses lines as a single Release stanza and returns one
// FileInfo per path named in its checksum tables (MD5Sum, SHA1, SHA256,
// SHA512), with digests accumulated across every algorithm that names the
// same path and sizes cross-checked for agreement.
func ParseReleaseFile(lines []string) ([]*digest.FileInfo, error) {
	p := stanza.NewParser(lines)
	stanzas, err := stanza.ParseAll(p)
	if err != nil {
		return nil, fmt.Errorf("release: %w: %w", ErrParse, err)
	}
	if len(stanzas) != 1 {
		return nil, fmt.Errorf("release: expected exactly one stanza, got %d: %w", len(stanzas), ErrParse)
	}
	st := stanzas[0]

	acc := map[string]*accumulator{}
	sawChecksumField := false

	for fieldName, alg := range fieldForAlgorithm {
		if !st.Has(fieldName) {
			continue
		}
		sawChecksumField = true
		first, rest, err := st.Multi(fieldName)
		if err != nil {
			return nil, fmt.Errorf("release: field %q: %w: %w", fieldName, ErrParse, err)
		}
		if strings.TrimSpace(first) != "" {
			return nil, fmt.Errorf("release: field %q carries unexpected text %q on its header line: %w", fieldName, first, ErrParse)
		}
		for _, line := range rest {
			if err := accumulate(acc, alg, line); err != nil {
				return nil, err
			}
		}
	}

	if !sawChecksumField {
		return nil, fmt.Errorf("release: stanza has no checksum fields: %w", ErrParse)
	}

	out := make([]*digest.FileInfo, 0, len(acc))
	for path, a := range acc {
		out = append(out, digest.NewFileInfo(a.size, a.digests, path))
	}
	return out, nil
}

func accumulate(acc map[string]*accumulator, alg digest.Algorithm, line string) error {
	m := hashLine.FindStringSubmatch(line)
	if m == nil {
		return fmt.Errorf("release: malformed checksum line %q: %w", line, ErrParse)
	}
	hexDigest, sizeStr, path := m[1], m[2], m[3]

	if len(hexDigest) != digest.Len(alg)*2 {
		return fmt.Errorf("release: %s digest %q has wrong length: %w", alg, hexDigest, ErrParse)
	}
	raw, err := hex.DecodeString(hexDigest)
	if err != nil {
		return fmt.Errorf("release: %s digest %q is not valid hex: %w", alg, hexDigest, ErrParse)
	}
	size, err := strconv.ParseInt(sizeStr, 10, 64)
	if err != nil {
		return fmt.Errorf("release: size %q is not an integer: %w", sizeStr, ErrParse)
	}

	a, ok := acc[path]
	if !ok {
		a = &accumulator{digests: map[digest.Algorithm][]byte{}}
		acc[path] = a
	}
	if a.sizeSet && a.size != size {
		return fmt.Errorf("release: path %q has inconsistent sizes across algorithms: %w", path, ErrParse)
	}
	a.size = size
	a.sizeSet = true
	a.digests[alg] = raw
	return nil
}
