package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"math/big"
	"testing"
)

func mustKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return key
}

func TestSignTokenRoundTrip(t *testing.T) {
	key := mustKey(t)
	token := make([]byte, tokenSize)
	for i := range token {
		token[i] = byte(i)
	}

	sig, err := SignToken(key, token)
	if err != nil {
		t.Fatalf("SignToken: %v", err)
	}
	if len(sig) != 256 {
		t.Fatalf("signature length = %d, want 256", len(sig))
	}

	// Verify by applying the public exponent: m' = sig^e mod n should equal
	// the padded block we signed.
	c := new(big.Int).SetBytes(sig)
	e := big.NewInt(int64(key.E))
	got := new(big.Int).Exp(c, e, key.N)

	want := make([]byte, 0, len(signaturePaddingPrefix)+tokenSize)
	want = append(want, signaturePaddingPrefix...)
	want = append(want, token...)

	gotBytes := make([]byte, len(want))
	got.FillBytes(gotBytes)

	if string(gotBytes) != string(want) {
		t.Fatalf("recovered block does not match padded token")
	}
}

func TestSignTokenWrongTokenLength(t *testing.T) {
	key := mustKey(t)
	_, err := SignToken(key, make([]byte, tokenSize-1))
	if err == nil {
		t.Fatal("expected error for short token")
	}
}

func TestSignTokenWrongKeySize(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 1024)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	_, err = SignToken(key, make([]byte, tokenSize))
	if err != ErrWrongKeySize {
		t.Fatalf("err = %v, want ErrWrongKeySize", err)
	}
}
