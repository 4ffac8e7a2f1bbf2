package attachstore

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"testing"
)

func TestPutGetRoundtrip(t *testing.T) {
	st, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	content := []byte("attachment payload bytes")
	handle, digest, err := st.Put(content)
	if err != nil {
		t.Fatal(err)
	}
	if handle == "" {
		t.Fatal("empty handle")
	}

	sum := sha256.Sum256(content)
	if digest != hex.EncodeToString(sum[:]) {
		t.Errorf("digest = %q, want sha256 of content", digest)
	}

	got, err := st.Get(handle)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, content) {
		t.Errorf("roundtrip mismatch: %q", got)
	}
}

func TestPutAssignsDistinctHandles(t *testing.T) {
	st, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	content := []byte("same bytes")
	a, _, err := st.Put(content)
	if err != nil {
		t.Fatal(err)
	}
	b, _, err := st.Put(content)
	if err != nil {
		t.Fatal(err)
	}
	if a == b {
		t.Error("identical content shared a handle; handles must be per-store, not per-content")
	}
}

func TestDelete(t *testing.T) {
	st, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	handle, _, err := st.Put([]byte("ephemeral"))
	if err != nil {
		t.Fatal(err)
	}
	if err := st.Delete(handle); err != nil {
		t.Fatal(err)
	}
	if _, err := st.Get(handle); err == nil {
		t.Error("get after delete succeeded")
	}

	// Deleting an unknown handle is not an error
	if err := st.Delete("0000-never-existed"); err != nil {
		t.Errorf("deleting missing handle: %v", err)
	}
}
