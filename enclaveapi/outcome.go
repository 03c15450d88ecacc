package enclaveapi

import (
	"fmt"

	"github.com/cloudx-io/sealedsettle/core"
)

// Field counts of the fixed result layouts.
const (
	AuctionResultFields = 6 // tag, bidder_lo, bidder_hi, winning_amount, has_second_price, second_price
	DutchResultFields   = 3 // verdict, winning_amount, actual_bid
	BatchSummaryFields  = 4 // successful, failed, total_volume, total_fees
	BatchEntryFields    = 4 // winner_lo, winner_hi, winning_amount, reserve_met
)

// EncodeAuctionOutcome lays out a sealed-bid outcome. The layout has the same
// length for Winner and NoWinner.
func EncodeAuctionOutcome(o core.AuctionOutcome) []Field {
	lo, hi := AddressFields(o.Winner)
	return []Field{
		BoolField(o.HasWinner),
		lo,
		hi,
		U64Field(o.WinningAmount),
		BoolField(o.HasSecondPrice),
		U64Field(o.SecondPrice),
	}
}

func DecodeAuctionOutcome(fields []Field) (core.AuctionOutcome, error) {
	var o core.AuctionOutcome
	if len(fields) != AuctionResultFields {
		return o, fmt.Errorf("%w: auction result has %d fields, want %d", core.ErrInvalidEncryption, len(fields), AuctionResultFields)
	}
	var err error
	if o.HasWinner, err = fields[0].Bool(); err != nil {
		return o, err
	}
	o.Winner = FieldsAddress(fields[1], fields[2])
	if o.WinningAmount, err = fields[3].U64(); err != nil {
		return o, err
	}
	if o.HasSecondPrice, err = fields[4].Bool(); err != nil {
		return o, err
	}
	if o.SecondPrice, err = fields[5].U64(); err != nil {
		return o, err
	}
	return o, nil
}

func EncodeDutchOutcome(o core.DutchOutcome) []Field {
	return []Field{
		U64Field(uint64(o.Verdict)),
		U64Field(o.WinningAmount),
		U64Field(o.ActualBid),
	}
}

func DecodeDutchOutcome(fields []Field) (core.DutchOutcome, error) {
	var o core.DutchOutcome
	if len(fields) != DutchResultFields {
		return o, fmt.Errorf("%w: dutch result has %d fields, want %d", core.ErrInvalidEncryption, len(fields), DutchResultFields)
	}
	verdict, err := fields[0].U64()
	if err != nil {
		return o, err
	}
	if verdict > uint64(core.DutchPriceNotMet) {
		return o, fmt.Errorf("%w: unknown dutch verdict %d", core.ErrInvalidEncryption, verdict)
	}
	o.Verdict = core.DutchVerdict(verdict)
	if o.WinningAmount, err = fields[1].U64(); err != nil {
		return o, err
	}
	if o.ActualBid, err = fields[2].U64(); err != nil {
		return o, err
	}
	return o, nil
}

// BatchOutcome is a decoded batch result.
type BatchOutcome struct {
	Summary core.BatchSummary
	Entries []core.SettlementEntry
}

// EncodeBatchOutcome lays out the summary followed by one fixed-size entry
// per auction, in batch order. Auction ids are not encrypted; they travel in
// the response's entry commitments.
func EncodeBatchOutcome(summary core.BatchSummary, entries []core.SettlementEntry) []Field {
	fields := make([]Field, 0, BatchSummaryFields+len(entries)*BatchEntryFields)
	fields = append(fields,
		U64Field(summary.Successful),
		U64Field(summary.Failed),
		U64Field(summary.TotalVolume),
		U64Field(summary.TotalFees),
	)
	for _, e := range entries {
		lo, hi := AddressFields(e.Winner)
		fields = append(fields, lo, hi, U64Field(e.WinningAmount), BoolField(e.ReserveMet))
	}
	return fields
}

// BatchEntryOffset is the index of entry i's first field.
func BatchEntryOffset(i int) int {
	return BatchSummaryFields + i*BatchEntryFields
}

// DecodeBatchOutcome decodes a batch result; auctionIDs gives the entry order.
func DecodeBatchOutcome(fields []Field, auctionIDs []uint64) (BatchOutcome, error) {
	var out BatchOutcome
	want := BatchEntryOffset(len(auctionIDs))
	if len(fields) != want {
		return out, fmt.Errorf("%w: batch result has %d fields, want %d", core.ErrInvalidEncryption, len(fields), want)
	}
	summary := make([]uint64, BatchSummaryFields)
	for i := range summary {
		v, err := fields[i].U64()
		if err != nil {
			return out, err
		}
		summary[i] = v
	}
	out.Summary = core.BatchSummary{
		Successful:  summary[0],
		Failed:      summary[1],
		TotalVolume: summary[2],
		TotalFees:   summary[3],
	}

	for i, id := range auctionIDs {
		entry, err := DecodeBatchEntry(fields[BatchEntryOffset(i):BatchEntryOffset(i+1)])
		if err != nil {
			return out, fmt.Errorf("auction %d: %w", id, err)
		}
		entry.AuctionID = id
		out.Entries = append(out.Entries, entry)
	}
	return out, nil
}

// DecodeBatchEntry decodes one entry's fields.
func DecodeBatchEntry(fields []Field) (core.SettlementEntry, error) {
	var e core.SettlementEntry
	if len(fields) != BatchEntryFields {
		return e, fmt.Errorf("%w: batch entry has %d fields, want %d", core.ErrInvalidEncryption, len(fields), BatchEntryFields)
	}
	e.Winner = FieldsAddress(fields[0], fields[1])
	var err error
	if e.WinningAmount, err = fields[2].U64(); err != nil {
		return e, err
	}
	if e.ReserveMet, err = fields[3].Bool(); err != nil {
		return e, err
	}
	return e, nil
}
