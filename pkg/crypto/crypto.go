// Package crypto provides cluster key derivation and the handshake digest.
package crypto

import (
	"crypto/sha256"
	"crypto/subtle"
	"fmt"

	"golang.org/x/crypto/argon2"
)

// clusterSalt fixes the argon2 salt so every node derives the same key from
// the same shared secret. The secret itself never travels on the wire.
var clusterSalt = []byte("ahoy.cluster.v1")

// DeriveKey derives the 32-byte cluster key from the shared secret using
// Argon2id. An empty secret is valid and yields an open cluster.
func DeriveKey(secret string) []byte {
	return argon2.IDKey([]byte(secret), clusterSalt, 1, 64*1024, 4, 32)
}

// Digest computes the handshake digest a node presents for itself:
// SHA-256 over the cluster key and the node's identity. Binding the node
// identity keeps one node's digest from authenticating another.
func Digest(key []byte, node string) string {
	h := sha256.New()
	h.Write(key)
	h.Write([]byte(node))
	return fmt.Sprintf("%x", h.Sum(nil))
}

// VerifyDigest checks a peer's digest in constant time.
func VerifyDigest(key []byte, node, digest string) bool {
	want := Digest(key, node)
	return subtle.ConstantTimeCompare([]byte(want), []byte(digest)) == 1
}
