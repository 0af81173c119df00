package auth

import (
	"crypto/rsa"
	"errors"
	"math/big"
)

// signaturePaddingPrefix is the fixed block ADB prepends to the 20-byte
// challenge before the raw RSA private-key operation. It encodes, in the
// ASN.1 DigestInfo convention, "this payload is a SHA-1 digest" — except
// the payload adbd actually signs is the raw token, not a SHA-1 hash of
// anything. adbd never applies standard PKCS#1 v1.5 padding on top of this:
// the 236-byte prefix plus the 20-byte token together already fill one
// 256-byte (2048-bit) RSA block, and the private-key operation is applied
// directly to it. crypto/rsa's SignPKCS1v15 assumes it owns the padding
// layout, so it cannot produce this format — see DESIGN.md.
var signaturePaddingPrefix = []byte{
	0x00, 0x01, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
	0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
	0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
	0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
	0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
	0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
	0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
	0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
	0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
	0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
	0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
	0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
	0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
	0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0x00, 0x30, 0x21, 0x30,
	0x09, 0x06, 0x05, 0x2b, 0x0e, 0x03, 0x02, 0x1a, 0x05, 0x00, 0x04, 0x14,
}

// ErrWrongKeySize is returned when SignToken is asked to sign with a key
// whose modulus is not exactly 2048 bits (the only size adbd accepts).
var ErrWrongKeySize = errors.New("auth: signing key must be 2048 bits")

// SignToken signs a 20-byte AUTH challenge with the ADB signature scheme:
// raw RSA private-key exponentiation over signaturePaddingPrefix||token,
// producing a signature exactly as long as the key's modulus.
func SignToken(key *rsa.PrivateKey, token []byte) ([]byte, error) {
	if len(token) != tokenSize {
		return nil, errors.New("auth: token must be 20 bytes")
	}
	size := (key.N.BitLen() + 7) / 8
	if size != len(signaturePaddingPrefix)+tokenSize {
		return nil, ErrWrongKeySize
	}

	block := make([]byte, 0, size)
	block = append(block, signaturePaddingPrefix...)
	block = append(block, token...)

	m := new(big.Int).SetBytes(block)
	c := new(big.Int).Exp(m, key.D, key.N)

	sig := make([]byte, size)
	c.FillBytes(sig)
	return sig, nil
}
