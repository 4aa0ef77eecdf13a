package debpkg

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/blakesmith/ar"
)

func addBufferToAr(t *testing.T, w *ar.Writer, name string, data []byte) {
	t.Helper()
	hdr := &ar.Header{
		Name:    name,
		Size:    int64(len(data)),
		Mode:    0o644,
		ModTime: time.Now(),
	}
	if err := w.WriteHeader(hdr); err != nil {
		t.Fatal(err)
	}
	if _, err := w.Write(data); err != nil {
		t.Fatal(err)
	}
}

func createMockDeb(t *testing.T, controlContent string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := ar.NewWriter(&buf)
	if err := w.WriteGlobalHeader(); err != nil {
		t.Fatal(err)
	}
	addBufferToAr(t, w, "debian-binary", []byte("2.0\n"))

	var cbuf bytes.Buffer
	gw := gzip.NewWriter(&cbuf)
	tw := tar.NewWriter(gw)
	hdr := &tar.Header{Name: "control", Mode: 0o644, Size: int64(len(controlContent))}
	if err := tw.WriteHeader(hdr); err != nil {
		t.Fatal(err)
	}
	if _, err := tw.Write([]byte(controlContent)); err != nil {
		t.Fatal(err)
	}
	tw.Close()
	gw.Close()
	addBufferToAr(t, w, "control.tar.gz", cbuf.Bytes())

	return buf.Bytes()
}

func writeMockDeb(t *testing.T, controlContent string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "pkg.deb")
	if err := os.WriteFile(path, createMockDeb(t, controlContent), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestExtractControl(t *testing.T) {
	path := writeMockDeb(t, "Package: xorg-server\nVersion: 2:21.1.7-3\nArchitecture: amd64\n")
	st, err := ExtractControl(path)
	if err != nil {
		t.Fatalf("ExtractControl failed: %v", err)
	}
	pkg, err := st.Str("package")
	if err != nil || pkg != "xorg-server" {
		t.Fatalf("package = %q, %v", pkg, err)
	}
}

func TestValidateMatches(t *testing.T) {
	path := writeMockDeb(t, "Package: xorg-server\nVersion: 2:21.1.7-3\nArchitecture: amd64\n")
	err := Validate(path, Identity{Package: "xorg-server", Version: "2:21.1.7-3", Architecture: "amd64"})
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
}

func TestValidateMismatch(t *testing.T) {
	path := writeMockDeb(t, "Package: xorg-server\nVersion: 2:21.1.7-3\nArchitecture: amd64\n")
	err := Validate(path, Identity{Package: "xorg-server", Version: "1.0", Architecture: "amd64"})
	if !errors.Is(err, ErrMismatch) {
		t.Fatalf("err = %v, want ErrMismatch", err)
	}
}
