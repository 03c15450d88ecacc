package core

import (
	"encoding/hex"
	"fmt"
)

// AddressSize is the byte length of an account identity.
const AddressSize = 32

// Address identifies an account: a creator, bidder, authority, fee recipient,
// asset mint or escrow vault.
type Address [AddressSize]byte

// ZeroAddress is the unset identity.
var ZeroAddress Address

// ParseAddress decodes a hex-encoded address (optionally 0x-prefixed).
func ParseAddress(s string) (Address, error) {
	var a Address
	if len(s) >= 2 && (s[:2] == "0x" || s[:2] == "0X") {
		s = s[2:]
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return a, fmt.Errorf("decode address: %w", err)
	}
	if len(raw) != AddressSize {
		return a, fmt.Errorf("invalid address length: expected %d bytes, got %d", AddressSize, len(raw))
	}
	copy(a[:], raw)
	return a, nil
}

func (a Address) String() string {
	return hex.EncodeToString(a[:])
}

// IsZero reports whether the address is unset.
func (a Address) IsZero() bool {
	return a == ZeroAddress
}

func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

func (a *Address) UnmarshalText(text []byte) error {
	parsed, err := ParseAddress(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// AuctionType selects the bidding and settlement rules of an auction.
type AuctionType uint8

const (
	AuctionTypeSealedBid AuctionType = iota
	AuctionTypeDutch
	AuctionTypeBatch
)

func (t AuctionType) String() string {
	switch t {
	case AuctionTypeSealedBid:
		return "sealed_bid"
	case AuctionTypeDutch:
		return "dutch"
	case AuctionTypeBatch:
		return "batch"
	default:
		return fmt.Sprintf("auction_type(%d)", uint8(t))
	}
}

// AuctionStatus is the lifecycle state of an auction. Status only moves
// forward: Created → Active → Ended → {Settled | Cancelled}.
type AuctionStatus uint8

const (
	AuctionStatusCreated AuctionStatus = iota
	AuctionStatusActive
	AuctionStatusEnded
	AuctionStatusSettled
	AuctionStatusCancelled
)

func (s AuctionStatus) String() string {
	switch s {
	case AuctionStatusCreated:
		return "created"
	case AuctionStatusActive:
		return "active"
	case AuctionStatusEnded:
		return "ended"
	case AuctionStatusSettled:
		return "settled"
	case AuctionStatusCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("auction_status(%d)", uint8(s))
	}
}

// PricingMode selects what a sealed-bid winner pays.
type PricingMode uint8

const (
	// PricingSecondPrice is a Vickrey auction: the winner pays the second
	// highest qualifying bid, or the reserve if nobody else qualified.
	PricingSecondPrice PricingMode = iota
	// PricingFirstPrice makes the winner pay their own bid.
	PricingFirstPrice
)

func (m PricingMode) String() string {
	switch m {
	case PricingSecondPrice:
		return "second_price"
	case PricingFirstPrice:
		return "first_price"
	default:
		return fmt.Sprintf("pricing_mode(%d)", uint8(m))
	}
}

// ParsePricingMode accepts the String() forms; empty means second price.
func ParsePricingMode(s string) (PricingMode, error) {
	switch s {
	case "", "second_price", "vickrey":
		return PricingSecondPrice, nil
	case "first_price":
		return PricingFirstPrice, nil
	default:
		return 0, fmt.Errorf("unknown pricing mode %q", s)
	}
}

// BatchStatus is the lifecycle state of a batch settlement. Failed is terminal.
type BatchStatus uint8

const (
	BatchStatusCreated BatchStatus = iota
	BatchStatusSettling
	BatchStatusSettled
	BatchStatusFailed
)

func (s BatchStatus) String() string {
	switch s {
	case BatchStatusCreated:
		return "created"
	case BatchStatusSettling:
		return "settling"
	case BatchStatusSettled:
		return "settled"
	case BatchStatusFailed:
		return "failed"
	default:
		return fmt.Sprintf("batch_status(%d)", uint8(s))
	}
}

// Protocol-wide limits.
const (
	MaxAuctionDuration     int64  = 30 * 24 * 60 * 60 // seconds
	MaxBidsPerAuction      uint64 = 1000
	MaxProtocolFeeBps      uint16 = 500
	DefaultProtocolFeeBps  uint16 = 50
	MaxBatchSize                  = 10
	BasisPointsDenominator uint64 = 10000
)

// Sizes of the encrypted payload format: one 32-byte ciphertext per field and
// a 128-bit nonce per computation call.
const (
	CiphertextSize = 32
	NonceSize      = 16
	PublicKeySize  = 32
	CommitmentSize = 32
)

// Commitment binds an authorization to one specific sandbox output.
type Commitment [CommitmentSize]byte

func (c Commitment) String() string {
	return hex.EncodeToString(c[:])
}

func (c Commitment) IsZero() bool {
	return c == Commitment{}
}

func (c Commitment) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *Commitment) UnmarshalText(text []byte) error {
	raw, err := hex.DecodeString(string(text))
	if err != nil {
		return fmt.Errorf("decode commitment: %w", err)
	}
	if len(raw) != CommitmentSize {
		return fmt.Errorf("invalid commitment length: expected %d bytes, got %d", CommitmentSize, len(raw))
	}
	copy(c[:], raw)
	return nil
}

// EncryptedAmount is a single encrypted field together with the material the
// sandbox needs to open it.
type EncryptedAmount struct {
	Ciphertext Ciphertext `json:"ciphertext"`
	PublicKey  PublicKey  `json:"public_key"` // sender's ephemeral x25519 key
	Nonce      Nonce      `json:"nonce"`
}

// ProtocolConfig is the process-wide governance record. It is created once and
// only mutated by the current authority.
type ProtocolConfig struct {
	Authority        Address  `json:"authority"`
	ProtocolFeeBps   uint16   `json:"protocol_fee_bps"`
	FeeRecipient     Address  `json:"fee_recipient"`
	Paused           bool     `json:"paused"`
	NextAuctionID    uint64   `json:"next_auction_id"`
	NextBatchID      uint64   `json:"next_batch_id"`
	PendingAuthority *Address `json:"pending_authority,omitempty"`
	TimelockDeadline int64    `json:"timelock_deadline,omitempty"`
}

// Auction is one auction's persisted state.
type Auction struct {
	ID          uint64        `json:"id"`
	Creator     Address       `json:"creator"`
	AssetMint   Address       `json:"asset_mint"`
	AssetVault  Address       `json:"asset_vault"`
	AssetAmount uint64        `json:"asset_amount"`
	Type        AuctionType   `json:"type"`
	Status      AuctionStatus `json:"status"`
	PricingMode PricingMode   `json:"pricing_mode"`
	StartTime   int64         `json:"start_time"`
	EndTime     int64         `json:"end_time"`
	MinimumBid  uint64        `json:"minimum_bid"`

	Reserve EncryptedAmount `json:"reserve"`

	StartingPrice     uint64 `json:"starting_price,omitempty"`
	CurrentPrice      uint64 `json:"current_price,omitempty"`
	PriceDecreaseRate uint64 `json:"price_decrease_rate,omitempty"`
	MinimumPriceFloor uint64 `json:"minimum_price_floor,omitempty"`

	BidCount      uint64   `json:"bid_count"`
	Winner        *Address `json:"winner,omitempty"`
	WinningAmount uint64   `json:"winning_amount"`
	SettledAt     *int64   `json:"settled_at,omitempty"`

	// ResultCommitment is recorded when a sandbox result is delivered;
	// VerificationCommitment is recorded by the authority when authorizing.
	ResultCommitment       *Commitment `json:"result_commitment,omitempty"`
	VerificationCommitment *Commitment `json:"mpc_verification_commitment,omitempty"`
	SettlementAuthorized   bool        `json:"settlement_authorized"`

	// PendingRequest is the id of the in-flight computation, zero if none.
	PendingRequest [16]byte `json:"-"`
}

// Bid is one bidder's sealed bid on one auction. Bids are keyed by
// (auction id, bidder) so a bidder holds at most one per auction.
type Bid struct {
	AuctionID           uint64     `json:"auction_id"`
	Bidder              Address    `json:"bidder"`
	EncryptedAmount     Ciphertext `json:"encrypted_amount"`
	EncryptionPublicKey PublicKey  `json:"encryption_public_key"`
	Nonce               Nonce      `json:"nonce"`
	Timestamp           int64      `json:"timestamp"`
	Amount              uint64     `json:"amount,omitempty"` // public offer, Dutch bids only
	Collateral          uint64     `json:"collateral"`
	IsWinner            bool       `json:"is_winner"`
	CollateralReleased  bool       `json:"collateral_released"`
}

// Sealed returns the encrypted amount together with its key material.
func (b *Bid) Sealed() EncryptedAmount {
	return EncryptedAmount{
		Ciphertext: b.EncryptedAmount,
		PublicKey:  b.EncryptionPublicKey,
		Nonce:      b.Nonce,
	}
}

// BatchSettlement groups auctions settled by one confidential computation.
// It references auctions by id and does not own them.
type BatchSettlement struct {
	BatchID    uint64      `json:"batch_id"`
	Creator    Address     `json:"creator"`
	AuctionIDs []uint64    `json:"auction_ids"`
	Status     BatchStatus `json:"status"`
	CreatedAt  int64       `json:"created_at"`
	SettledAt  *int64      `json:"settled_at,omitempty"`

	PendingRequest [16]byte `json:"-"`
}
