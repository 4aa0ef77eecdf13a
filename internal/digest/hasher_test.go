package digest

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"
)

func hexDigest(t *testing.T, f *FileInfo, alg Algorithm) string {
	t.Helper()
	d, ok := f.Digest(alg)
	if !ok {
		t.Fatalf("missing %s digest", alg)
	}
	return hex.EncodeToString(d)
}

func TestHashFileEmpty(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "empty")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	fi, err := HashFile(path, "u")
	if err != nil {
		t.Fatal(err)
	}
	if fi.Size() != 0 {
		t.Fatalf("size = %d, want 0", fi.Size())
	}
	want := map[Algorithm]string{
		MD5:    "d41d8cd98f00b204e9800998ecf8427e",
		SHA1:   "da39a3ee5e6b4b0d3255bfef95601890afd80709",
		SHA256: "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
		SHA512: "cf83e1357eefb8bdf1542850d66d8007d620e4050b5715dc83f4a921d36ce9ce47d0d13c5d85f2b0ff8318d2877eec2f63b931bd47417a81a538327af927da3e",
	}
	for alg, hexVal := range want {
		if got := hexDigest(t, fi, alg); got != hexVal {
			t.Errorf("%s = %s, want %s", alg, got, hexVal)
		}
	}
}

// pseudoRandomMiB reproduces the fixture generator used by the original
// test suite: repeated sha256(counter) blocks, counter big-endian uint64
// starting at zero, concatenated and truncated to n bytes.
func pseudoRandomMiB(n int) []byte {
	out := make([]byte, 0, n+sha256.Size)
	var state uint64
	for len(out) < n {
		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], state)
		sum := sha256.Sum256(buf[:])
		out = append(out, sum[:]...)
		state++
	}
	return out[:n]
}

func TestHashFileOneMiBStream(t *testing.T) {
	data := pseudoRandomMiB(1024 * 1024)
	dir := t.TempDir()
	path := filepath.Join(dir, "blob")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	fi, err := HashFile(path, "u")
	if err != nil {
		t.Fatal(err)
	}
	want := map[Algorithm]string{
		MD5:    "a8cf8266a710e9c7c9468c076025929e",
		SHA1:   "b2bd5a6abfe2546dd4a827170ac7cdbb32bf6977",
		SHA256: "642607a558c9c932e458f4c3a847928f572e5408b9848e106e7716884e3b5f0a",
		SHA512: "cab353a38eeae0b2e46001bddc68b165e22e7e1c0a4cd28d1ed90e5bec8a3b9f6e9f5b038041cbb51309a65bb03c8f82e30eaf1290299fb70ce740c7405c98ae",
	}
	for alg, hexVal := range want {
		if got := hexDigest(t, fi, alg); got != hexVal {
			t.Errorf("%s = %s, want %s", alg, got, hexVal)
		}
	}
}

func TestStreamingEquivalence(t *testing.T) {
	data := pseudoRandomMiB(1024 * 1024)
	chunks := [][]byte{data[:1000], data[1000:50000], data[50000:]}

	h := New()
	for _, c := range chunks {
		if err := h.Update(c); err != nil {
			t.Fatal(err)
		}
	}
	streamed, err := h.Finalize("u")
	if err != nil {
		t.Fatal(err)
	}

	dir := t.TempDir()
	path := filepath.Join(dir, "blob")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	whole, err := HashFile(path, "u")
	if err != nil {
		t.Fatal(err)
	}

	for _, alg := range []Algorithm{MD5, SHA1, SHA256, SHA512} {
		if hexDigest(t, streamed, alg) != hexDigest(t, whole, alg) {
			t.Errorf("%s differs between streamed and whole-file hashing", alg)
		}
	}
	if streamed.Size() != whole.Size() {
		t.Errorf("size differs: %d vs %d", streamed.Size(), whole.Size())
	}
}

func TestUpdateAfterFinalize(t *testing.T) {
	h := New()
	if _, err := h.Finalize("u"); err != nil {
		t.Fatal(err)
	}
	if err := h.Update([]byte("x")); err != ErrFinalized {
		t.Errorf("Update after Finalize = %v, want ErrFinalized", err)
	}
	if _, err := h.Finalize("u"); err != ErrFinalized {
		t.Errorf("double Finalize = %v, want ErrFinalized", err)
	}
}
