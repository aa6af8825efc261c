package mss

import (
	"bytes"
	"fmt"
	"math/rand"
	"sync"
	"testing"
)

func testOneTimeKeyPair(t *testing.T, seed int64) (*Context, *OneTimeKeyPair) {
	ctx := NewContextFromName("MSS-SHA2_2")
	kp, err := ctx.GenerateOneTimeKeyPair(rand.New(rand.NewSource(seed)))
	if err != nil {
		t.Fatalf("GenerateOneTimeKeyPair(): %v", err)
	}
	return ctx, kp
}

func TestDigestBit(t *testing.T) {
	digest := make([]byte, N)
	digest[0] = 0x80
	digest[1] = 0x01
	for i := 0; i < OneTimeBits; i++ {
		expected := 0
		if i == 0 || i == 15 {
			expected = 1
		}
		if digestBit(digest, i) != expected {
			t.Fatalf("digestBit(%d) = %d", i, digestBit(digest, i))
		}
	}
}

func TestOneTimeSignVerify(t *testing.T) {
	ctx, kp := testOneTimeKeyPair(t, 1)
	msg := []byte("test")
	sig, err := kp.Sign(msg)
	if err != nil {
		t.Fatalf("Sign(): %v", err)
	}
	ok, err := ctx.VerifyOneTime(msg, sig, kp.PublicKey())
	if !ok {
		t.Fatalf("VerifyOneTime(): %v", err)
	}

	ok, err = ctx.VerifyOneTime([]byte("tess"), sig, kp.PublicKey())
	if ok {
		t.Fatalf("VerifyOneTime() accepted the wrong message")
	}
	if !IsKind(err, ErrInvalidOneTimeSignature) || !err.Rejected() {
		t.Fatalf("VerifyOneTime() returned wrong error: %v", err)
	}
}

func TestOneTimeSignatureRevealsSecrets(t *testing.T) {
	ctx, kp := testOneTimeKeyPair(t, 2)
	msg := []byte("which secrets")
	sig, _ := kp.Sign(msg)
	digest := ctx.Hash(msg)
	for i := 0; i < OneTimeBits; i++ {
		bit := digestBit(digest, i)
		off := (2*i + bit) * N
		if !bytes.Equal(sig.Secret(i), kp.sk[off:off+N]) {
			t.Fatalf("Position %d does not reveal secret%d", i, bit)
		}
		if !bytes.Equal(ctx.Hash(sig.Secret(i)), kp.PublicKey().Entry(i, bit)) {
			t.Fatalf("Position %d does not match public key", i)
		}
	}
}

func TestOneTimeKeyReuse(t *testing.T) {
	_, kp := testOneTimeKeyPair(t, 3)
	if kp.Used() {
		t.Fatalf("Fresh key pair should not be used")
	}
	if _, err := kp.Sign([]byte("first")); err != nil {
		t.Fatalf("Sign(): %v", err)
	}
	if !kp.Used() {
		t.Fatalf("Key pair should be used after signing")
	}
	_, err := kp.Sign([]byte("second"))
	if !IsKind(err, ErrKeyReuse) {
		t.Fatalf("Second Sign() should fail with ErrKeyReuse, got %v", err)
	}
}

func TestOneTimeConcurrentSign(t *testing.T) {
	_, kp := testOneTimeKeyPair(t, 4)
	var wg sync.WaitGroup
	var mux sync.Mutex
	successes := 0
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := kp.Sign([]byte(fmt.Sprintf("msg %d", i))); err == nil {
				mux.Lock()
				successes++
				mux.Unlock()
			}
		}(i)
	}
	wg.Wait()
	if successes != 1 {
		t.Fatalf("%d concurrent signatures succeeded", successes)
	}
}

func TestOneTimeForgery(t *testing.T) {
	ctx := NewContextFromName("MSS-SHA2_2")
	rng := rand.New(rand.NewSource(5))
	for i := 0; i < 20; i++ {
		kp, err := ctx.GenerateOneTimeKeyPair(rng)
		if err != nil {
			t.Fatalf("GenerateOneTimeKeyPair(): %v", err)
		}
		msg := make([]byte, 16)
		other := make([]byte, 16)
		rng.Read(msg)
		rng.Read(other)
		sig, _ := kp.Sign(msg)
		if ok, _ := ctx.VerifyOneTime(other, sig, kp.PublicKey()); ok {
			t.Fatalf("Signature of %x verified for %x", msg, other)
		}

		buf, _ := sig.MarshalBinary()
		buf[rng.Intn(len(buf))] ^= 1 << uint(rng.Intn(8))
		var sig2 OneTimeSignature
		if err := sig2.UnmarshalBinary(buf); err != nil {
			t.Fatalf("UnmarshalBinary(): %v", err)
		}
		if ok, _ := ctx.VerifyOneTime(msg, &sig2, kp.PublicKey()); ok {
			t.Fatalf("Tampered signature verified")
		}
	}
}

func TestOneTimeMalformed(t *testing.T) {
	ctx, kp := testOneTimeKeyPair(t, 6)
	sig, _ := kp.Sign([]byte("test"))

	_, err := ctx.VerifyOneTime([]byte("test"),
		&OneTimeSignature{buf: make([]byte, 10)}, kp.PublicKey())
	if !IsKind(err, ErrMalformedSignature) {
		t.Fatalf("Short signature: %v", err)
	}
	_, err = ctx.VerifyOneTime([]byte("test"), nil, kp.PublicKey())
	if !IsKind(err, ErrMalformedSignature) {
		t.Fatalf("Nil signature: %v", err)
	}
	_, err = ctx.VerifyOneTime([]byte("test"), sig, nil)
	if !IsKind(err, ErrMalformedKey) {
		t.Fatalf("Nil public key: %v", err)
	}

	var pk OneTimePublicKey
	if err := pk.UnmarshalBinary(make([]byte, OneTimeKeySize-1)); !IsKind(err, ErrMalformedKey) {
		t.Fatalf("OneTimePublicKey.UnmarshalBinary(): %v", err)
	}
	var sig2 OneTimeSignature
	if err := sig2.UnmarshalBinary(make([]byte, OneTimeSignatureSize+1)); !IsKind(err, ErrMalformedSignature) {
		t.Fatalf("OneTimeSignature.UnmarshalBinary(): %v", err)
	}
	if _, err := ctx.OneTimeKeyPairFromBytes(make([]byte, 5), false); !IsKind(err, ErrMalformedKey) {
		t.Fatalf("OneTimeKeyPairFromBytes(): %v", err)
	}
}

func TestOneTimeKeyPairFromBytes(t *testing.T) {
	ctx, kp := testOneTimeKeyPair(t, 7)
	_, kp2 := testOneTimeKeyPair(t, 7)
	if !bytes.Equal(kp.pk, kp2.pk) {
		t.Fatalf("Same seed should give the same key pair")
	}

	skBuf, _ := kp.MarshalBinary()
	if len(skBuf) != OneTimeKeySize {
		t.Fatalf("MarshalBinary() returned %d bytes", len(skBuf))
	}
	kp3, err := ctx.OneTimeKeyPairFromBytes(skBuf, true)
	if err != nil {
		t.Fatalf("OneTimeKeyPairFromBytes(): %v", err)
	}
	pkBuf, _ := kp.PublicKey().MarshalBinary()
	pkBuf3, _ := kp3.PublicKey().MarshalBinary()
	if !bytes.Equal(pkBuf, pkBuf3) {
		t.Fatalf("OneTimeKeyPairFromBytes() derived another public key")
	}
	if _, err = kp3.Sign([]byte("test")); !IsKind(err, ErrKeyReuse) {
		t.Fatalf("Key pair restored as used should not sign: %v", err)
	}
}

func BenchmarkGenerateOneTimeKeyPair(b *testing.B) {
	ctx := NewContextFromName("MSS-SHA2_2")
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < b.N; i++ {
		ctx.GenerateOneTimeKeyPair(rng)
	}
}

func BenchmarkVerifyOneTime(b *testing.B) {
	ctx := NewContextFromName("MSS-SHA2_2")
	kp, _ := ctx.GenerateOneTimeKeyPair(rand.New(rand.NewSource(1)))
	msg := []byte("test")
	sig, _ := kp.Sign(msg)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		ctx.VerifyOneTime(msg, sig, kp.PublicKey())
	}
}
