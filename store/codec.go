package store

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/cloudx-io/sealedsettle/core"
	"github.com/cloudx-io/sealedsettle/enclaveapi"
)

// Every fixed-layout record starts with the record type and a layout version
// and ends with zeroed reserved bytes that later versions may claim.
const (
	layoutVersion = 1
	headerSize    = 2

	configReserved  = 100
	auctionReserved = 64
	bidReserved     = 32
	batchReserved   = 64
	balanceReserved = 16
)

// Encoded sizes of the fixed layouts.
const (
	ConfigRecordSize  = headerSize + 32 + 2 + 32 + 1 + 8 + 8 + 1 + 32 + 8 + configReserved
	AuctionRecordSize = headerSize + 8 + 32*3 + 8 + 3 + 8*3 + 32 + 32 + 16 + 8*5 + (1 + 32) + 8 + (1 + 8) + (1+32)*2 + 1 + 16 + auctionReserved
	BidRecordSize     = headerSize + 8 + 32 + 32 + 32 + 16 + 8 + 8 + 8 + 1 + 1 + bidReserved
	BatchRecordSize   = headerSize + 8 + 32 + 1 + 8*core.MaxBatchSize + 1 + 8 + (1 + 8) + 16 + batchReserved
	BalanceRecordSize = headerSize + 8 + balanceReserved
)

var ErrCorruptRecord = errors.New("corrupt record")

type encoder struct {
	buf []byte
}

func newEncoder(t RecordType, size int) *encoder {
	e := &encoder{buf: make([]byte, 0, size)}
	e.buf = append(e.buf, byte(t), layoutVersion)
	return e
}

func (e *encoder) u8(v uint8) { e.buf = append(e.buf, v) }
func (e *encoder) u16(v uint16) { e.buf = binary.LittleEndian.AppendUint16(e.buf, v) }
func (e *encoder) u64(v uint64) { e.buf = binary.LittleEndian.AppendUint64(e.buf, v) }
func (e *encoder) i64(v int64) { e.u64(uint64(v)) }
func (e *encoder) bytes(b []byte) { e.buf = append(e.buf, b...) }
func (e *encoder) zero(n int) { e.buf = append(e.buf, make([]byte, n)...) }
func (e *encoder) bool(v bool) {
	if v {
		e.u8(1)
	} else {
		e.u8(0)
	}
}

func (e *encoder) optAddress(a *core.Address) {
	e.bool(a != nil)
	if a != nil {
		e.bytes(a[:])
	} else {
		e.zero(core.AddressSize)
	}
}

func (e *encoder) optInt64(v *int64) {
	e.bool(v != nil)
	if v != nil {
		e.i64(*v)
	} else {
		e.i64(0)
	}
}

func (e *encoder) optCommitment(c *core.Commitment) {
	e.bool(c != nil)
	if c != nil {
		e.bytes(c[:])
	} else {
		e.zero(core.CommitmentSize)
	}
}

// decoder reads a fixed layout; the first short read sticks.
type decoder struct {
	buf []byte
	off int
	err error
}

func newDecoder(t RecordType, size int, buf []byte) (*decoder, error) {
	if len(buf) != size {
		return nil, fmt.Errorf("%w: %s record is %d bytes, expected %d", ErrCorruptRecord, t, len(buf), size)
	}
	if RecordType(buf[0]) != t {
		return nil, fmt.Errorf("%w: record type %d, expected %s", ErrCorruptRecord, buf[0], t)
	}
	if buf[1] != layoutVersion {
		return nil, fmt.Errorf("%w: unsupported %s layout version %d", ErrCorruptRecord, t, buf[1])
	}
	return &decoder{buf: buf, off: headerSize}, nil
}

func (d *decoder) take(n int) []byte {
	if d.err != nil {
		return make([]byte, n)
	}
	if d.off+n > len(d.buf) {
		d.err = fmt.Errorf("%w: short record", ErrCorruptRecord)
		return make([]byte, n)
	}
	b := d.buf[d.off : d.off+n]
	d.off += n
	return b
}

func (d *decoder) u8() uint8 { return d.take(1)[0] }
func (d *decoder) u16() uint16 { return binary.LittleEndian.Uint16(d.take(2)) }
func (d *decoder) u64() uint64 { return binary.LittleEndian.Uint64(d.take(8)) }
func (d *decoder) i64() int64 { return int64(d.u64()) }
func (d *decoder) bool() bool { return d.u8() != 0 }
func (d *decoder) into(dst []byte) {
	copy(dst, d.take(len(dst)))
}

func (d *decoder) optAddress() *core.Address {
	present := d.bool()
	var a core.Address
	d.into(a[:])
	if !present {
		return nil
	}
	return &a
}

func (d *decoder) optInt64() *int64 {
	present := d.bool()
	v := d.i64()
	if !present {
		return nil
	}
	return &v
}

func (d *decoder) optCommitment() *core.Commitment {
	present := d.bool()
	var c core.Commitment
	d.into(c[:])
	if !present {
		return nil
	}
	return &c
}

func EncodeConfig(c *core.ProtocolConfig) []byte {
	e := newEncoder(RecordProtocolConfig, ConfigRecordSize)
	e.bytes(c.Authority[:])
	e.u16(c.ProtocolFeeBps)
	e.bytes(c.FeeRecipient[:])
	e.bool(c.Paused)
	e.u64(c.NextAuctionID)
	e.u64(c.NextBatchID)
	e.optAddress(c.PendingAuthority)
	e.i64(c.TimelockDeadline)
	e.zero(configReserved)
	return e.buf
}

func DecodeConfig(buf []byte) (*core.ProtocolConfig, error) {
	d, err := newDecoder(RecordProtocolConfig, ConfigRecordSize, buf)
	if err != nil {
		return nil, err
	}
	c := &core.ProtocolConfig{}
	d.into(c.Authority[:])
	c.ProtocolFeeBps = d.u16()
	d.into(c.FeeRecipient[:])
	c.Paused = d.bool()
	c.NextAuctionID = d.u64()
	c.NextBatchID = d.u64()
	c.PendingAuthority = d.optAddress()
	c.TimelockDeadline = d.i64()
	if d.err != nil {
		return nil, d.err
	}
	return c, nil
}

func EncodeAuction(a *core.Auction) []byte {
	e := newEncoder(RecordAuction, AuctionRecordSize)
	e.u64(a.ID)
	e.bytes(a.Creator[:])
	e.bytes(a.AssetMint[:])
	e.bytes(a.AssetVault[:])
	e.u64(a.AssetAmount)
	e.u8(uint8(a.Type))
	e.u8(uint8(a.Status))
	e.u8(uint8(a.PricingMode))
	e.i64(a.StartTime)
	e.i64(a.EndTime)
	e.u64(a.MinimumBid)
	e.bytes(a.Reserve.Ciphertext[:])
	e.bytes(a.Reserve.PublicKey[:])
	e.bytes(a.Reserve.Nonce[:])
	e.u64(a.StartingPrice)
	e.u64(a.CurrentPrice)
	e.u64(a.PriceDecreaseRate)
	e.u64(a.MinimumPriceFloor)
	e.u64(a.BidCount)
	e.optAddress(a.Winner)
	e.u64(a.WinningAmount)
	e.optInt64(a.SettledAt)
	e.optCommitment(a.ResultCommitment)
	e.optCommitment(a.VerificationCommitment)
	e.bool(a.SettlementAuthorized)
	e.bytes(a.PendingRequest[:])
	e.zero(auctionReserved)
	return e.buf
}

func DecodeAuction(buf []byte) (*core.Auction, error) {
	d, err := newDecoder(RecordAuction, AuctionRecordSize, buf)
	if err != nil {
		return nil, err
	}
	a := &core.Auction{}
	a.ID = d.u64()
	d.into(a.Creator[:])
	d.into(a.AssetMint[:])
	d.into(a.AssetVault[:])
	a.AssetAmount = d.u64()
	a.Type = core.AuctionType(d.u8())
	a.Status = core.AuctionStatus(d.u8())
	a.PricingMode = core.PricingMode(d.u8())
	a.StartTime = d.i64()
	a.EndTime = d.i64()
	a.MinimumBid = d.u64()
	d.into(a.Reserve.Ciphertext[:])
	d.into(a.Reserve.PublicKey[:])
	d.into(a.Reserve.Nonce[:])
	a.StartingPrice = d.u64()
	a.CurrentPrice = d.u64()
	a.PriceDecreaseRate = d.u64()
	a.MinimumPriceFloor = d.u64()
	a.BidCount = d.u64()
	a.Winner = d.optAddress()
	a.WinningAmount = d.u64()
	a.SettledAt = d.optInt64()
	a.ResultCommitment = d.optCommitment()
	a.VerificationCommitment = d.optCommitment()
	a.SettlementAuthorized = d.bool()
	d.into(a.PendingRequest[:])
	if d.err != nil {
		return nil, d.err
	}
	return a, nil
}

func EncodeBid(b *core.Bid) []byte {
	e := newEncoder(RecordBid, BidRecordSize)
	e.u64(b.AuctionID)
	e.bytes(b.Bidder[:])
	e.bytes(b.EncryptedAmount[:])
	e.bytes(b.EncryptionPublicKey[:])
	e.bytes(b.Nonce[:])
	e.i64(b.Timestamp)
	e.u64(b.Amount)
	e.u64(b.Collateral)
	e.bool(b.IsWinner)
	e.bool(b.CollateralReleased)
	e.zero(bidReserved)
	return e.buf
}

func DecodeBid(buf []byte) (*core.Bid, error) {
	d, err := newDecoder(RecordBid, BidRecordSize, buf)
	if err != nil {
		return nil, err
	}
	b := &core.Bid{}
	b.AuctionID = d.u64()
	d.into(b.Bidder[:])
	d.into(b.EncryptedAmount[:])
	d.into(b.EncryptionPublicKey[:])
	d.into(b.Nonce[:])
	b.Timestamp = d.i64()
	b.Amount = d.u64()
	b.Collateral = d.u64()
	b.IsWinner = d.bool()
	b.CollateralReleased = d.bool()
	if d.err != nil {
		return nil, d.err
	}
	return b, nil
}

// EncodeBatch stores auction ids in MaxBatchSize fixed slots.
func EncodeBatch(b *core.BatchSettlement) ([]byte, error) {
	if err := core.ValidateBatchSize(len(b.AuctionIDs)); err != nil {
		return nil, err
	}
	e := newEncoder(RecordBatch, BatchRecordSize)
	e.u64(b.BatchID)
	e.bytes(b.Creator[:])
	e.u8(uint8(len(b.AuctionIDs)))
	for i := 0; i < core.MaxBatchSize; i++ {
		if i < len(b.AuctionIDs) {
			e.u64(b.AuctionIDs[i])
		} else {
			e.u64(0)
		}
	}
	e.u8(uint8(b.Status))
	e.i64(b.CreatedAt)
	e.optInt64(b.SettledAt)
	e.bytes(b.PendingRequest[:])
	e.zero(batchReserved)
	return e.buf, nil
}

func DecodeBatch(buf []byte) (*core.BatchSettlement, error) {
	d, err := newDecoder(RecordBatch, BatchRecordSize, buf)
	if err != nil {
		return nil, err
	}
	b := &core.BatchSettlement{}
	b.BatchID = d.u64()
	d.into(b.Creator[:])
	n := int(d.u8())
	if n > core.MaxBatchSize {
		return nil, fmt.Errorf("%w: batch holds %d auctions", ErrCorruptRecord, n)
	}
	ids := make([]uint64, core.MaxBatchSize)
	for i := range ids {
		ids[i] = d.u64()
	}
	b.AuctionIDs = ids[:n]
	b.Status = core.BatchStatus(d.u8())
	b.CreatedAt = d.i64()
	b.SettledAt = d.optInt64()
	d.into(b.PendingRequest[:])
	if d.err != nil {
		return nil, d.err
	}
	return b, nil
}

func EncodeBalance(amount uint64) []byte {
	e := newEncoder(RecordBalance, BalanceRecordSize)
	e.u64(amount)
	e.zero(balanceReserved)
	return e.buf
}

func DecodeBalance(buf []byte) (uint64, error) {
	d, err := newDecoder(RecordBalance, BalanceRecordSize, buf)
	if err != nil {
		return 0, err
	}
	amount := d.u64()
	return amount, d.err
}

// Sealed results vary in length, so they are stored as CBOR.

func EncodeResult(r *enclaveapi.SealedResult) ([]byte, error) {
	raw, err := cbor.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	return raw, nil
}

func DecodeResult(buf []byte) (*enclaveapi.SealedResult, error) {
	var r enclaveapi.SealedResult
	if err := cbor.Unmarshal(buf, &r); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptRecord, err)
	}
	return &r, nil
}
