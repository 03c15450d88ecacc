package core

import (
	"crypto/sha256"
	"fmt"
)

// ComputeResultCommitment binds a sandbox output to the request that produced
// it. The sandbox embeds it in its attestation and the engine recomputes it on
// delivery; the authority must present the same value to authorize settlement.
//
// Formula: SHA256(hex(request_id) + "|" + kind + "|" + subject + "|" + hex(nonce) + ("|" + hex(ciphertext))*)
func ComputeResultCommitment(requestID [16]byte, kind AuctionType, subject uint64, nonce Nonce, ciphertexts []Ciphertext) Commitment {
	h := sha256.New()
	fmt.Fprintf(h, "%x|%s|%d|%x", requestID[:], kind, subject, nonce[:])
	for _, ct := range ciphertexts {
		fmt.Fprintf(h, "|%x", ct[:])
	}
	var c Commitment
	copy(c[:], h.Sum(nil))
	return c
}

// ComputeKeyRequestHash is the user data bound into a key attestation.
//
// Formula: SHA256("key|" + base64(public_key) + "|" + nonce)
func ComputeKeyRequestHash(publicKey PublicKey, nonce string) string {
	data := fmt.Sprintf("key|%s|%s", publicKey, nonce)
	hash := sha256.Sum256([]byte(data))
	return fmt.Sprintf("%x", hash)
}
