package core

import "fmt"

// SettlementEntry is one auction's outcome inside a batch.
type SettlementEntry struct {
	AuctionID     uint64
	Winner        Address
	WinningAmount uint64
	ReserveMet    bool
}

// Successful reports whether the entry produced a sale.
func (e SettlementEntry) Successful() bool {
	return e.ReserveMet && !e.Winner.IsZero()
}

// BatchSummary aggregates a batch's settlement entries.
type BatchSummary struct {
	Successful  uint64
	Failed      uint64
	TotalVolume uint64
	TotalFees   uint64
}

// AggregateBatch totals the entries. Volume and fees saturate rather than
// fail so a single extreme auction cannot abort the whole batch.
func AggregateBatch(entries []SettlementEntry, feeBps uint16) BatchSummary {
	var s BatchSummary
	for _, e := range entries {
		if !e.Successful() {
			s.Failed++
			continue
		}
		s.Successful++
		s.TotalVolume = SaturatingAdd(s.TotalVolume, e.WinningAmount)
		s.TotalFees = SaturatingAdd(s.TotalFees, SaturatingFee(e.WinningAmount, feeBps))
	}
	return s
}

// VerifyBatchIntegrity checks that the batch holds exactly declared auctions
// and that no auction id repeats.
func VerifyBatchIntegrity(auctionIDs []uint64, declared int) error {
	if len(auctionIDs) != declared {
		return fmt.Errorf("%w: declared %d auctions, got %d", ErrBatchSettlementFailed, declared, len(auctionIDs))
	}
	for i := 0; i < len(auctionIDs); i++ {
		for j := i + 1; j < len(auctionIDs); j++ {
			if auctionIDs[i] == auctionIDs[j] {
				return fmt.Errorf("%w: auction %d appears twice", ErrBatchSettlementFailed, auctionIDs[i])
			}
		}
	}
	return nil
}

// ValidateBatchSize enforces 1 ≤ n ≤ MaxBatchSize.
func ValidateBatchSize(n int) error {
	if n < 1 || n > MaxBatchSize {
		return fmt.Errorf("%w: %d auctions (allowed 1-%d)", ErrInvalidBatchSize, n, MaxBatchSize)
	}
	return nil
}
