package storage

import (
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
)

func newTestKeyStore(t *testing.T) *KeyStore {
	t.Helper()
	ks, err := OpenKeyStore(filepath.Join(t.TempDir(), "keys.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = ks.Close() })
	return ks
}

func TestKeyStoreRoundTrip(t *testing.T) {
	ks := newTestKeyStore(t)

	n, err := ks.Count()
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Fatalf("fresh store count = %d", n)
	}

	if err := ks.Create("demo", "Demo Sheet", "/data/sheets/demo.xlsx"); err != nil {
		t.Fatal(err)
	}

	sk, err := ks.Resolve("demo")
	if err != nil {
		t.Fatal(err)
	}
	if sk.Name != "Demo Sheet" || sk.FilePath != "/data/sheets/demo.xlsx" {
		t.Errorf("resolved = %+v", sk)
	}

	if n, _ = ks.Count(); n != 1 {
		t.Errorf("count = %d", n)
	}
}

func TestKeyStoreNotFound(t *testing.T) {
	ks := newTestKeyStore(t)
	_, err := ks.Resolve("nope")
	if !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("err = %v, want ErrKeyNotFound", err)
	}
}

func TestKeyStoreDuplicateKey(t *testing.T) {
	ks := newTestKeyStore(t)
	if err := ks.Create("k", "one", "/a.xlsx"); err != nil {
		t.Fatal(err)
	}
	if err := ks.Create("k", "two", "/b.xlsx"); err == nil {
		t.Error("duplicate key should fail the unique constraint")
	}
}

func TestKeyStoreReopenKeepsData(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "keys.db")

	ks, err := OpenKeyStore(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := ks.Create("persist", "P", "/p.xlsx"); err != nil {
		t.Fatal(err)
	}
	_ = ks.Close()

	ks2, err := OpenKeyStore(path)
	if err != nil {
		t.Fatal(err)
	}
	defer ks2.Close()
	sk, err := ks2.Resolve("persist")
	if err != nil {
		t.Fatal(err)
	}
	if sk.Name != "P" {
		t.Errorf("resolved = %+v", sk)
	}
}
