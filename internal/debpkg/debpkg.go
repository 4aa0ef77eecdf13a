// Package debpkg validates that a cached .deb archive's embedded control
// stanza agrees with the Package/Version/Architecture a caller expects of
// it, before the cache trusts a freshly retrieved file.
package debpkg

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/blakesmith/ar"
	"github.com/joernheissler/flatmirror/internal/digest"
	"github.com/joernheissler/flatmirror/internal/stanza"
)

// ErrMismatch is returned by Validate when the embedded control stanza
// disagrees with the expected identity.
var ErrMismatch = fmt.Errorf("debpkg: control stanza does not match expected identity")

// Identity is the subset of a .deb's control stanza that a Release-derived
// FileInfo is expected to agree with.
type Identity struct {
	Package      string
	Version      string
	Architecture string
}

// hashingWriter feeds every byte written to it through a digest.Hasher, so a
// single pass over a .deb can both unpack its control member and compute the
// archive's FileInfo, rather than hashing separately from extraction.
type hashingWriter struct {
	h *digest.Hasher
}

func (w hashingWriter) Write(p []byte) (int, error) {
	if err := w.h.Update(p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// controlMember locates a .deb's control.tar(.gz) member inside its outer ar
// archive and returns a reader positioned at the start of that member's
// bytes, without buffering the member itself. The caller is responsible for
// draining it before reading the next ar member.
func controlMember(arR *ar.Reader) (io.Reader, bool, error) {
	for {
		hdr, err := arR.Next()
		if err == io.EOF {
			return nil, false, nil
		}
		if err != nil {
			return nil, false, err
		}
		if strings.HasPrefix(hdr.Name, "control.tar") {
			return io.LimitReader(arR, hdr.Size), strings.HasSuffix(strings.TrimSpace(hdr.Name), ".gz"), nil
		}
	}
}

// readControlFile walks a control.tar(.gz) member's tar stream and returns
// the contents of the "control" entry within it, accepting both "control"
// and "./control" style names.
func readControlFile(body io.Reader, gzipped bool) (string, error) {
	src := body
	if gzipped {
		gzr, err := gzip.NewReader(body)
		if err != nil {
			return "", fmt.Errorf("gunzip control member: %w", err)
		}
		defer gzr.Close()
		src = gzr
	}

	tr := tar.NewReader(src)
	for {
		ent, err := tr.Next()
		if err == io.EOF {
			return "", fmt.Errorf("no control file in control.tar member")
		}
		if err != nil {
			return "", err
		}
		if filepath.Clean(ent.Name) != "control" {
			continue
		}
		var buf bytes.Buffer
		if _, err := io.Copy(&buf, tr); err != nil {
			return "", fmt.Errorf("read control entry: %w", err)
		}
		return buf.String(), nil
	}
}

// extractControlAndHash streams r once through both the ar/tar walk that
// locates the control file and, via tee, a digest.Hasher, so the returned
// FileInfo reflects exactly what was read regardless of whether the caller
// wants the stanza, the FileInfo, or both.
func extractControlAndHash(r io.Reader, url string) (string, *digest.FileInfo, error) {
	h := digest.New()
	tee := io.TeeReader(r, hashingWriter{h})

	body, gzipped, err := controlMember(ar.NewReader(tee))
	if err != nil {
		return "", nil, err
	}
	if body == nil {
		return "", nil, fmt.Errorf("no control.tar member found")
	}
	control, err := readControlFile(body, gzipped)
	if err != nil {
		return "", nil, err
	}

	// Drain whatever ar/tar left unread so the tee has seen every byte
	// before Finalize, even though the control file was found early.
	if _, err := io.Copy(io.Discard, tee); err != nil {
		return "", nil, fmt.Errorf("drain remainder: %w", err)
	}
	info, err := h.Finalize(url)
	if err != nil {
		return "", nil, err
	}
	return control, info, nil
}

func parseControlStanza(raw string) (*stanza.Stanza, error) {
	lines := strings.Split(strings.TrimRight(raw, "\n"), "\n")
	p := stanza.NewParser(lines)
	st, err := p.Next()
	if err != nil {
		return nil, fmt.Errorf("parse control: %w", err)
	}
	if st == nil {
		return nil, fmt.Errorf("control member has no stanza")
	}
	return st, nil
}

// ExtractControl opens a .deb (an ar archive) at path and returns its
// parsed control stanza.
func ExtractControl(path string) (*stanza.Stanza, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("debpkg: open %s: %w", path, err)
	}
	defer f.Close()

	raw, _, err := extractControlAndHash(f, "")
	if err != nil {
		return nil, fmt.Errorf("debpkg: %s: %w", path, err)
	}
	st, err := parseControlStanza(raw)
	if err != nil {
		return nil, fmt.Errorf("debpkg: %s: %w", path, err)
	}
	return st, nil
}

// ExtractControlVerified behaves like ExtractControl but additionally
// returns the FileInfo computed over path's bytes in the same pass, and
// checks it against want (when want is non-nil) before returning, so a
// cache can confirm a retrieved .deb is simultaneously well-formed and
// intact without a second read of the file.
func ExtractControlVerified(path string, want *digest.FileInfo) (*stanza.Stanza, *digest.FileInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("debpkg: open %s: %w", path, err)
	}
	defer f.Close()

	raw, info, err := extractControlAndHash(f, path)
	if err != nil {
		return nil, nil, fmt.Errorf("debpkg: %s: %w", path, err)
	}
	if want != nil {
		ok, err := info.Matches(want)
		if err != nil {
			return nil, nil, fmt.Errorf("debpkg: %s: %w", path, err)
		}
		if !ok {
			return nil, nil, fmt.Errorf("debpkg: %s: content does not match expected digests", path)
		}
	}
	st, err := parseControlStanza(raw)
	if err != nil {
		return nil, nil, fmt.Errorf("debpkg: %s: %w", path, err)
	}
	return st, info, nil
}

// Validate extracts path's control stanza and checks it against want. It
// returns ErrMismatch (not a parse error) when the stanza parses fine but
// names a different package, version, or architecture.
func Validate(path string, want Identity) error {
	st, err := ExtractControl(path)
	if err != nil {
		return err
	}
	pkg, err := st.Str("package")
	if err != nil {
		return fmt.Errorf("debpkg: %s: %w", path, err)
	}
	version, err := st.Str("version")
	if err != nil {
		return fmt.Errorf("debpkg: %s: %w", path, err)
	}
	arch, err := st.Str("architecture")
	if err != nil {
		return fmt.Errorf("debpkg: %s: %w", path, err)
	}
	if pkg != want.Package || version != want.Version || arch != want.Architecture {
		return fmt.Errorf("debpkg: %s: got %s/%s/%s, want %s/%s/%s: %w",
			path, pkg, version, arch, want.Package, want.Version, want.Architecture, ErrMismatch)
	}
	return nil
}
