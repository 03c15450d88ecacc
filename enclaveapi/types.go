package enclaveapi

import (
	"time"

	"github.com/google/uuid"

	"github.com/cloudx-io/sealedsettle/core"
)

// Request types understood by the sandbox server.
const (
	RequestTypePing      = "ping"
	RequestTypeKey       = "key_request"
	RequestTypeSealedBid = "sealed_bid_request"
	RequestTypeDutch     = "dutch_request"
	RequestTypeBatch     = "batch_request"
)

// Response types.
const (
	ResponseTypePong        = "pong"
	ResponseTypeKey         = "key_response"
	ResponseTypeComputation = "computation_response"
	ResponseTypeError       = "error"
)

// PCRs represents the Platform Configuration Registers from AWS Nitro Enclaves
type PCRs struct {
	// PCR0: Hash of the Enclave Image File (EIF)
	ImageFileHash string `json:"0"`

	// PCR1: Hash of the Linux kernel and initial RAM data (initramfs)
	KernelHash string `json:"1"`

	// PCR2: Hash of user applications, excluding the boot ramfs
	ApplicationHash string `json:"2"`

	// PCR3: Hash of the IAM role assigned to the parent instance
	IAMRoleHash string `json:"3"`

	// PCR4: Hash of the parent instance's ID
	InstanceIDHash string `json:"4"`

	// PCR8: Hash of the enclave image file's signing certificate
	SigningCertHash string `json:"8,omitempty"`
}

// AttestationDoc holds the fields common to every sandbox attestation.
type AttestationDoc struct {
	ModuleID        string    `json:"module_id"`
	Timestamp       time.Time `json:"timestamp"`
	DigestAlgorithm string    `json:"digest"`
	PCRs            PCRs      `json:"pcrs"`
	Certificate     string    `json:"certificate"` // base64 DER
	CABundle        []string  `json:"cabundle"`    // base64 DER, root first
	PublicKey       string    `json:"public_key"`
	Nonce           string    `json:"nonce"`
}

// ResultAttestationDoc is an attestation over one computation result.
type ResultAttestationDoc struct {
	AttestationDoc
	UserData *ResultAttestationUserData `json:"user_data"`
}

// KeyAttestationDoc is an attestation over the sandbox's public key.
type KeyAttestationDoc struct {
	AttestationDoc
	UserData *KeyAttestationUserData `json:"user_data"`
}

// EntryCommitment is the commitment of one auction's slice of a batch result.
type EntryCommitment struct {
	AuctionID  uint64          `json:"auction_id"`
	Offset     int             `json:"offset"` // index of the entry's first ciphertext
	Commitment core.Commitment `json:"commitment"`
}

// ResultAttestationUserData binds an attestation to one computation output.
type ResultAttestationUserData struct {
	RequestID          string            `json:"request_id"`
	Kind               string            `json:"kind"`
	SubjectID          uint64            `json:"subject_id"`
	InputCount         int               `json:"input_count"`
	Commitment         core.Commitment   `json:"commitment"`
	EntryCommitments   []EntryCommitment `json:"entry_commitments,omitempty"`
	ReserveMet         *bool             `json:"reserve_met,omitempty"`
	RecipientPublicKey core.PublicKey    `json:"recipient_public_key"`
	Timestamp          time.Time         `json:"timestamp"`
}

// KeyAttestationUserData binds an attestation to the sandbox's public key.
type KeyAttestationUserData struct {
	KeyAlgorithm string `json:"key_algorithm"` // "X25519"
	PublicKey    string `json:"public_key"`    // base64
	RequestNonce string `json:"request_nonce,omitempty"`
	RequestHash  string `json:"request_hash"`
}

// KeyRequest asks the sandbox for its public key. Nonce is echoed into the
// key attestation for freshness.
type KeyRequest struct {
	Type  string `json:"type"`
	Nonce string `json:"nonce,omitempty"`
}

// KeyResponse carries the sandbox's x25519 public key and its attestation.
type KeyResponse struct {
	Type                  string                `json:"type"`
	PublicKey             core.PublicKey        `json:"public_key"`
	AttestationCOSEBase64 AttestationCOSEBase64 `json:"attestation_cose_base64"`
}

// EncryptedBid is one sealed bid as handed to the sandbox.
type EncryptedBid struct {
	Bidder core.Address         `json:"bidder"`
	Amount core.EncryptedAmount `json:"amount"`
}

// SealedBidInput is the sandbox input for sealed-bid winner determination.
type SealedBidInput struct {
	AuctionID   uint64               `json:"auction_id"`
	MinimumBid  uint64               `json:"minimum_bid"`
	PricingMode core.PricingMode     `json:"pricing_mode"`
	Reserve     core.EncryptedAmount `json:"reserve"`
	Bids        []EncryptedBid       `json:"bids"`
}

// DutchInput is the sandbox input for verifying one Dutch bid against the
// hidden reserve. The bid itself is public.
type DutchInput struct {
	AuctionID         uint64               `json:"auction_id"`
	Bidder            core.Address         `json:"bidder"`
	BidAmount         uint64               `json:"bid_amount"`
	StartingPrice     uint64               `json:"starting_price"`
	PriceDecreaseRate uint64               `json:"price_decrease_rate"`
	MinimumPriceFloor uint64               `json:"minimum_price_floor"`
	Elapsed           int64                `json:"elapsed"`
	Reserve           core.EncryptedAmount `json:"reserve"`
}

// BatchInput is the sandbox input for batch settlement. DeclaredCount is the
// batch's recorded size and is checked against Auctions.
type BatchInput struct {
	BatchID       uint64           `json:"batch_id"`
	FeeBps        uint16           `json:"fee_bps"`
	DeclaredCount int              `json:"declared_count"`
	Auctions      []SealedBidInput `json:"auctions"`
}

// ComputationRequest is the envelope of every computation sent to the sandbox.
// Exactly one payload matching Type is set.
type ComputationRequest struct {
	Type               string          `json:"type"`
	RequestID          uuid.UUID       `json:"request_id"`
	RecipientPublicKey core.PublicKey  `json:"recipient_public_key"`
	SealedBid          *SealedBidInput `json:"sealed_bid,omitempty"`
	Dutch              *DutchInput     `json:"dutch,omitempty"`
	Batch              *BatchInput     `json:"batch,omitempty"`
	Timestamp          time.Time       `json:"timestamp"`
}

// ComputationResponse is the sandbox's answer to a ComputationRequest. When
// Success is false only Message is meaningful.
type ComputationResponse struct {
	Type             string            `json:"type"`
	RequestID        uuid.UUID         `json:"request_id"`
	Success          bool              `json:"success"`
	Message          string            `json:"message,omitempty"`
	SandboxPublicKey core.PublicKey    `json:"sandbox_public_key"`
	Nonce            core.Nonce        `json:"nonce"`
	Ciphertexts      []core.Ciphertext `json:"ciphertexts,omitempty"`
	Commitment       core.Commitment   `json:"commitment"`
	EntryCommitments []EntryCommitment `json:"entry_commitments,omitempty"`
	// ReserveMet is the only cleartext disclosure: the Dutch verdict.
	ReserveMet            *bool                 `json:"reserve_met,omitempty"`
	AttestationCOSEBase64 AttestationCOSEBase64 `json:"attestation_cose_base64,omitempty"`
	ProcessingTime        int64                 `json:"processing_time_ms"`
}
