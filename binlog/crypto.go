package binlog

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/binary"

	"golang.org/x/crypto/pbkdf2"

	"github.com/actorkit/tdcore/tderr"
)

// hmacEqual reports whether a and b are equal, in constant time — used to
// compare a candidate key's hash against the one stored in the encryption
// header without leaking timing information about how many leading bytes
// matched.
func hmacEqual(a, b []byte) bool {
	return len(a) == len(b) && subtle.ConstantTimeCompare(a, b) == 1
}

// Key sizing constants, grounded on
// original_source/tddb/td/db/binlog/Binlog.cpp's detail::AesCtrEncryptionEvent.
const (
	minSaltSize     = 16
	defaultSaltSize = 32
	keySize         = 32
	ivSize          = 16
	hashSize        = 32

	kdfIterationCount     = 60002
	kdfFastIterationCount = 2
)

// keyHashLabel is the HMAC label the original hashes the derived key under
// to detect a wrong passphrase without ever storing the key itself.
const keyHashLabel = "cucumbers everywhere"

// Key identifies the secret used to encrypt a binlog: either a passphrase
// (subject to the slow KDF iteration count) or a raw 32-byte key (subject
// to the fast one, since it is already high-entropy).
type Key struct {
	Passphrase []byte
	Raw        []byte // exactly 32 bytes, mutually exclusive with Passphrase
}

// Empty reports whether k carries no secret at all (an explicit "no
// encryption" request).
func (k Key) Empty() bool { return len(k.Passphrase) == 0 && len(k.Raw) == 0 }

func (k Key) isRaw() bool { return len(k.Raw) == keySize }

func (k Key) material() []byte {
	if k.isRaw() {
		return k.Raw
	}
	return k.Passphrase
}

// encryptionHeader is the decoded AesCtrEncryption service record body.
type encryptionHeader struct {
	keySalt []byte
	iv      []byte
	keyHash []byte
}

// deriveKey runs PBKDF2-HMAC-SHA-256 over k with h.keySalt, using the slow
// iteration count for passphrases and the fast one for raw keys — the
// original's generate_key.
func (h encryptionHeader) deriveKey(k Key) []byte {
	if k.Empty() {
		return nil
	}
	iter := kdfIterationCount
	if k.isRaw() {
		iter = kdfFastIterationCount
	}
	return pbkdf2.Key(k.material(), h.keySalt, iter, keySize, sha256.New)
}

// keyHash computes HMAC-SHA-256(key, "cucumbers everywhere"), the
// original's generate_hash — used both to stamp a newly generated header
// and to verify a candidate key against a stored one without ever
// comparing raw key bytes.
func keyHash(key []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(keyHashLabel))
	return mac.Sum(nil)
}

// newEncryptionHeader generates a fresh salt+iv (or reuses salt if reuseSalt
// is non-nil, for a key-rotation that keeps the existing salt) and derives
// the header's key hash for k.
func newEncryptionHeader(k Key, reuseSalt []byte) (encryptionHeader, []byte, error) {
	var h encryptionHeader
	if len(reuseSalt) > 0 {
		h.keySalt = reuseSalt
	} else {
		h.keySalt = make([]byte, defaultSaltSize)
		if _, err := rand.Read(h.keySalt); err != nil {
			return encryptionHeader{}, nil, tderr.Wrap("binlog: generate key salt", err)
		}
	}
	h.iv = make([]byte, ivSize)
	if _, err := rand.Read(h.iv); err != nil {
		return encryptionHeader{}, nil, tderr.Wrap("binlog: generate iv", err)
	}
	key := h.deriveKey(k)
	h.keyHash = keyHash(key)
	return h, key, nil
}

// aesCTRCipher wraps crypto/aes + crypto/cipher.NewCTR, holding the stream
// state across flushes exactly the way the original's AesCtrState persists
// its running counter between writer-buffer swaps.
type aesCTRCipher struct {
	stream cipher.Stream
}

func newAESCTRCipher(key, iv []byte) (*aesCTRCipher, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, tderr.Wrap("binlog: init aes cipher", err)
	}
	return &aesCTRCipher{stream: cipher.NewCTR(block, iv)}, nil
}

// xorKeyStream applies the running CTR stream to src in place, advancing
// the counter — callers pass the same *aesCTRCipher across flushes so the
// stream position is continuous across the whole file.
func (c *aesCTRCipher) xorKeyStream(dst, src []byte) {
	c.stream.XORKeyStream(dst, src)
}

// encodeHeader / decodeHeader implement encryptionHeader's positional
// encoding, matching detail::AesCtrEncryptionEvent::store/parse: three
// length-prefixed byte strings, no flags (BEGIN/END_STORE_FLAGS is a no-op
// empty bitset in the original).
func encodeHeader(h encryptionHeader) []byte {
	buf := make([]byte, 0, 4+len(h.keySalt)+4+len(h.iv)+4+len(h.keyHash))
	buf = appendLenPrefixed(buf, h.keySalt)
	buf = appendLenPrefixed(buf, h.iv)
	buf = appendLenPrefixed(buf, h.keyHash)
	return buf
}

func decodeHeader(buf []byte) (encryptionHeader, error) {
	var h encryptionHeader
	var err error
	if h.keySalt, buf, err = readLenPrefixed(buf); err != nil {
		return h, err
	}
	if h.iv, buf, err = readLenPrefixed(buf); err != nil {
		return h, err
	}
	if h.keyHash, _, err = readLenPrefixed(buf); err != nil {
		return h, err
	}
	return h, nil
}

func appendLenPrefixed(buf []byte, s []byte) []byte {
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(s)))
	buf = append(buf, lenBuf[:]...)
	buf = append(buf, s...)
	return buf
}

func readLenPrefixed(buf []byte) (value []byte, rest []byte, err error) {
	if len(buf) < 4 {
		return nil, nil, &tderr.Corruption{Message: "truncated length-prefixed field in encryption header"}
	}
	n := int(binary.LittleEndian.Uint32(buf[:4]))
	buf = buf[4:]
	if len(buf) < n {
		return nil, nil, &tderr.Corruption{Message: "truncated length-prefixed field in encryption header"}
	}
	return append([]byte(nil), buf[:n]...), buf[n:], nil
}
