package auth

import (
	"crypto/rsa"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
)

// wordSize is the width, in bytes, of each word in Android's legacy
// "mincrypt" RSA public key layout.
const wordSize = 4

// ErrUnsupportedModulusSize is returned when a key's modulus is not a whole
// number of 32-bit words, which the mincrypt layout requires.
var ErrUnsupportedModulusSize = errors.New("auth: modulus size is not a multiple of 32 bits")

// marshalMincryptPublicKey serializes pub in Android's legacy mincrypt
// RSAPublicKey format:
//
//	u32 len       number of 32-bit words in the modulus
//	u32 n0inv     -1 / n[0] mod 2^32 (Montgomery reduction constant)
//	u32 n[len]    modulus, little-endian words, least-significant first
//	u32 rr[len]   R^2 mod n, where R = 2^(32*len), same word order
//	u32 exponent  public exponent
//
// All multi-byte fields are little-endian, matching §4.2.
func marshalMincryptPublicKey(pub *rsa.PublicKey) ([]byte, error) {
	n := pub.N
	bitLen := n.BitLen()
	if bitLen%32 != 0 {
		return nil, ErrUnsupportedModulusSize
	}
	numWords := bitLen / 32

	base := new(big.Int).Lsh(big.NewInt(1), 32)
	n0 := new(big.Int).Mod(n, base)
	inv := new(big.Int).ModInverse(n0, base)
	if inv == nil {
		return nil, errors.New("auth: modulus has no inverse mod 2^32 (must be odd)")
	}
	n0inv := new(big.Int).Sub(base, inv)

	r := new(big.Int).Lsh(big.NewInt(1), uint(32*numWords))
	rr := new(big.Int).Mod(new(big.Int).Mul(r, r), n)

	buf := make([]byte, 0, 4+4+numWords*wordSize+numWords*wordSize+4)
	buf = appendU32(buf, uint32(numWords))
	buf = appendU32(buf, uint32(n0inv.Uint64()))
	buf = appendWords(buf, n, numWords)
	buf = appendWords(buf, rr, numWords)
	buf = appendU32(buf, uint32(pub.E))
	return buf, nil
}

// EncodeRSAPublicKeyOffer produces the base64(mincrypt blob) + " " + label
// + NUL payload adbd expects in an AUTH(RSAPUBLICKEY) packet (spec.md §4.2 step 4).
func EncodeRSAPublicKeyOffer(pub *rsa.PublicKey, label string) ([]byte, error) {
	blob, err := marshalMincryptPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("auth: encode public key: %w", err)
	}
	encoded := base64.StdEncoding.EncodeToString(blob)
	return []byte(encoded + " " + label + "\x00"), nil
}

func appendU32(dst []byte, v uint32) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return append(dst, b[:]...)
}

// appendWords appends v as numWords little-endian 32-bit words, least
// significant word first, zero-padded if v is shorter than numWords words.
func appendWords(dst []byte, v *big.Int, numWords int) []byte {
	raw := v.Bytes() // big-endian, no leading zero padding
	total := numWords * wordSize
	padded := make([]byte, total)
	copy(padded[total-len(raw):], raw)

	for i := 0; i < numWords; i++ {
		word := padded[total-(i+1)*wordSize : total-i*wordSize]
		// word is big-endian 4 bytes for this word's slice; reverse to LE.
		dst = append(dst, word[3], word[2], word[1], word[0])
	}
	return dst
}
