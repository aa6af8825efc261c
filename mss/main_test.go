package main

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/bwesterb/go-mss"
)

func generateTestKey(t *testing.T) (dir, key string) {
	dir, err := ioutil.TempDir("", "go-mss-tests")
	if err != nil {
		t.Fatalf("TempDir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	key = filepath.Join(dir, "key")
	sk, _, err2 := mss.NewContextFromName("MSS-SHA2_2").GenerateKeyPairAt(key, nil)
	if err2 != nil {
		t.Fatalf("GenerateKeyPairAt(): %v", err2)
	}
	sk.Close()
	return dir, key
}

func remaining(t *testing.T, key string) int {
	sk, _, err := mss.LoadPrivateKey(key)
	if err != nil {
		t.Fatalf("LoadPrivateKey(): %v", err)
	}
	defer sk.Close()
	return sk.Remaining()
}

func TestSignKeepsKeyOnBadOutput(t *testing.T) {
	dir, key := generateTestKey(t)

	if err := newApp().Run([]string{"mss", "sign", "-k", key, "hello"}); err == nil {
		t.Fatalf("sign without --out should fail")
	}
	if n := remaining(t, key); n != 4 {
		t.Fatalf("sign without --out used a one-time key: %d remaining", n)
	}

	bad := filepath.Join(dir, "missing", "envelope")
	if err := newApp().Run([]string{"mss", "sign", "-k", key, "-o", bad, "hello"}); err == nil {
		t.Fatalf("sign to an unwritable path should fail")
	}
	if n := remaining(t, key); n != 4 {
		t.Fatalf("sign to an unwritable path used a one-time key: %d remaining", n)
	}
}

func TestSignAndVerify(t *testing.T) {
	dir, key := generateTestKey(t)
	out := filepath.Join(dir, "envelope")

	if err := newApp().Run([]string{"mss", "sign", "-k", key, "-o", out, "hello"}); err != nil {
		t.Fatalf("sign: %v", err)
	}
	if n := remaining(t, key); n != 3 {
		t.Fatalf("%d one-time keys remaining after signing", n)
	}

	buf, err := ioutil.ReadFile(out)
	if err != nil {
		t.Fatalf("ReadFile(): %v", err)
	}
	var env mss.Envelope
	if err = env.UnmarshalBinary(buf); err != nil {
		t.Fatalf("UnmarshalBinary(): %v", err)
	}
	if string(env.Message) != "hello" || env.Signature.Leaf() != 0 {
		t.Fatalf("Envelope holds %q signed at leaf %d", env.Message,
			env.Signature.Leaf())
	}
	if sigOk, err := env.Verify(); !sigOk {
		t.Fatalf("Verify(): %v", err)
	}
	if err = newApp().Run([]string{"mss", "verify", out}); err != nil {
		t.Fatalf("verify: %v", err)
	}
}
