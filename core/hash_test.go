package core

import (
	"crypto/sha256"
	"fmt"
	"testing"

	"github.com/peterldowns/testy/check"
)

func TestComputeResultCommitment(t *testing.T) {
	var requestID [16]byte
	requestID[0] = 0xab
	var nonce Nonce
	nonce[15] = 7
	cts := []Ciphertext{{1}, {2}}

	got := ComputeResultCommitment(requestID, AuctionTypeSealedBid, 42, nonce, cts)

	data := fmt.Sprintf("%x|sealed_bid|42|%x|%x|%x", requestID[:], nonce[:], cts[0][:], cts[1][:])
	want := Commitment(sha256.Sum256([]byte(data)))
	check.Equal(t, want, got)

	// Deterministic
	check.Equal(t, got, ComputeResultCommitment(requestID, AuctionTypeSealedBid, 42, nonce, cts))
}

func TestComputeResultCommitment_BindsEveryInput(t *testing.T) {
	var requestID [16]byte
	var nonce Nonce
	cts := []Ciphertext{{1}, {2}}
	base := ComputeResultCommitment(requestID, AuctionTypeSealedBid, 1, nonce, cts)

	otherRequest := requestID
	otherRequest[3] = 1
	otherNonce := nonce.Add(1)

	check.NotEqual(t, base, ComputeResultCommitment(otherRequest, AuctionTypeSealedBid, 1, nonce, cts))
	check.NotEqual(t, base, ComputeResultCommitment(requestID, AuctionTypeDutch, 1, nonce, cts))
	check.NotEqual(t, base, ComputeResultCommitment(requestID, AuctionTypeSealedBid, 2, nonce, cts))
	check.NotEqual(t, base, ComputeResultCommitment(requestID, AuctionTypeSealedBid, 1, otherNonce, cts))
	check.NotEqual(t, base, ComputeResultCommitment(requestID, AuctionTypeSealedBid, 1, nonce, cts[:1]))
}

func TestComputeKeyRequestHash(t *testing.T) {
	key := PublicKey{9}
	hash := ComputeKeyRequestHash(key, "nonce_1")

	check.Equal(t, 64, len(hash))
	check.Equal(t, hash, ComputeKeyRequestHash(key, "nonce_1"))
	check.NotEqual(t, hash, ComputeKeyRequestHash(key, "nonce_2"))
}
