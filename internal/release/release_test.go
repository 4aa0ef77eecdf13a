package release

import (
	"errors"
	"strings"
	"testing"
)

const debian127ReleaseFixture = `Origin: Debian
Label: Debian
Suite: stable
Codename: bookworm
Date: Thu, 01 Aug 2024 09:00:00 UTC
Architectures: all amd64
Components: main contrib
Description: Debian 12.7 Released 31 August 2024
MD5Sum:
 d0a0325a97c42fd5f66a8c3e29bcea64 98581 contrib/Contents-all.gz
 a9f4d1e2b3c4d5e6f7081920a1b2c3d4 512400 contrib/Contents-all
 1111111111111111111111111111111a 204800 main/binary-all/Packages
 2222222222222222222222222222222b 61234 main/binary-all/Packages.gz
 3333333333333333333333333333333c 55000 main/binary-all/Packages.xz
SHA256:
 e5a1b2c3d4e5f60718293a4b5c6d7e8f90a1b2c3d4e5f60718293a4b5c6d7e80 98581 contrib/Contents-all.gz
 a1a2a3a4a5a6a7a8a9aaabacadaeaf10a1a2a3a4a5a6a7a8a9aaabacadaeaf11 512400 contrib/Contents-all
 b1b2b3b4b5b6b7b8b9babbbcbdbebf10b1b2b3b4b5b6b7b8b9babbbcbdbebf11 204800 main/binary-all/Packages
 c1c2c3c4c5c6c7c8c9cacbcccdcecf10c1c2c3c4c5c6c7c8c9cacbcccdcecf11 61234 main/binary-all/Packages.gz
 d1d2d3d4d5d6d7d8d9dadbdcdddedf10d1d2d3d4d5d6d7d8d9dadbdcdddedf11 55000 main/binary-all/Packages.xz
`

func lines(s string) []string {
	return strings.Split(strings.TrimRight(s, "\n"), "\n")
}

func TestParseReleaseFileFixture(t *testing.T) {
	infos, err := ParseReleaseFile(lines(debian127ReleaseFixture))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(infos) != 5 {
		t.Fatalf("got %d FileInfo, want 5", len(infos))
	}

	byURL := map[string]int64{}
	for _, fi := range infos {
		byURL[fi.URL()] = fi.Size()
		if _, ok := fi.Digest("md5"); !ok {
			t.Errorf("%s: missing md5 digest", fi.URL())
		}
		if _, ok := fi.Digest("sha256"); !ok {
			t.Errorf("%s: missing sha256 digest", fi.URL())
		}
	}
	want := map[string]int64{
		"contrib/Contents-all.gz":     98581,
		"contrib/Contents-all":        512400,
		"main/binary-all/Packages":    204800,
		"main/binary-all/Packages.gz": 61234,
		"main/binary-all/Packages.xz": 55000,
	}
	for path, size := range want {
		if got, ok := byURL[path]; !ok || got != size {
			t.Errorf("path %s: size = %d, ok=%v, want %d", path, got, ok, size)
		}
	}
}

func TestParseReleaseFileMissingChecksums(t *testing.T) {
	_, err := ParseReleaseFile(lines("Origin: Debian\nLabel: Debian\n"))
	if !errors.Is(err, ErrParse) {
		t.Fatalf("err = %v, want ErrParse", err)
	}
}

func TestParseReleaseFileInconsistentSizes(t *testing.T) {
	fixture := `Origin: Debian
MD5Sum:
 d0a0325a97c42fd5f66a8c3e29bcea64 100 a/b
SHA256:
 e5a1b2c3d4e5f60718293a4b5c6d7e8f90a1b2c3d4e5f60718293a4b5c6d7e80 200 a/b
`
	_, err := ParseReleaseFile(lines(fixture))
	if !errors.Is(err, ErrParse) {
		t.Fatalf("err = %v, want ErrParse", err)
	}
}

func TestParseReleaseFileZeroStanzas(t *testing.T) {
	_, err := ParseReleaseFile(lines(""))
	if !errors.Is(err, ErrParse) {
		t.Fatalf("err = %v, want ErrParse", err)
	}
}

func TestParseReleaseFileTooManyStanzas(t *testing.T) {
	fixture := "Origin: Debian\nMD5Sum:\n d0a0325a97c42fd5f66a8c3e29bcea64 1 a\n\nOrigin: Second\n"
	_, err := ParseReleaseFile(lines(fixture))
	if !errors.Is(err, ErrParse) {
		t.Fatalf("err = %v, want ErrParse", err)
	}
}

// TestParseReleaseFileBadSums mirrors the upstream fixture where a checksum
// field's header line carries stray text ("blah") before its folded
// entries: the field is structurally foldable, but a non-empty scalar on a
// checksum field's header line is itself malformed.
func TestParseReleaseFileBadSums(t *testing.T) {
	fixture := "MD5Sum: blah\n  d0a0325a97c42fd5f66a8c3e29bcea64    98581 contrib/Contents-all.gz\n"
	_, err := ParseReleaseFile(lines(fixture))
	if !errors.Is(err, ErrParse) {
		t.Fatalf("err = %v, want ErrParse", err)
	}
}

func TestParseReleaseFileBadHexLength(t *testing.T) {
	fixture := "MD5Sum:\n deadbeef 1 a\n"
	_, err := ParseReleaseFile(lines(fixture))
	if !errors.Is(err, ErrParse) {
		t.Fatalf("err = %v, want ErrParse", err)
	}
}

func TestParseReleaseFileBadSize(t *testing.T) {
	fixture := "MD5Sum:\n d0a0325a97c42fd5f66a8c3e29bcea64 notanumber a\n"
	_, err := ParseReleaseFile(lines(fixture))
	if !errors.Is(err, ErrParse) {
		t.Fatalf("err = %v, want ErrParse", err)
	}
}
