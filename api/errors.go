package api

import (
	"errors"
	"net/http"

	"github.com/cloudx-io/sealedsettle/core"
)

// errBadRequest marks malformed input that never reached the engine.
var errBadRequest = errors.New("bad request")

var errorStatus = []struct {
	status int
	errs   []error
}{
	{http.StatusNotFound, []error{
		core.ErrAuctionNotFound,
		core.ErrBatchNotFound,
		core.ErrBidNotFound,
		core.ErrAuctionNotInBatch,
		core.ErrProtocolNotInitialized,
	}},
	{http.StatusForbidden, []error{
		core.ErrUnauthorized,
		core.ErrSettlementNotAuthorized,
	}},
	{http.StatusBadGateway, []error{
		core.ErrComputationFailed,
		core.ErrDecryptionFailed,
		core.ErrBatchSettlementFailed,
	}},
	{http.StatusConflict, []error{
		core.ErrInvalidAuctionStatus,
		core.ErrAuctionEnded,
		core.ErrAuctionNotEnded,
		core.ErrAuctionAlreadySettled,
		core.ErrComputationPending,
		core.ErrProtocolPaused,
		core.ErrAuthorityTransferPending,
		core.ErrAuthorityTransferTimelockNotElapsed,
		core.ErrNoPendingAuthorityTransfer,
		core.ErrProtocolAlreadyInitialized,
		core.ErrBidAlreadySubmitted,
		core.ErrAuctionIDAlreadyExists,
		core.ErrMaxBidsExceeded,
		core.ErrDutchPriceNotMet,
		core.ErrMpcVerificationFailed,
		core.ErrAssetTransferFailed,
	}},
	{http.StatusBadRequest, []error{
		errBadRequest,
		core.ErrInvalidAuctionType,
		core.ErrInvalidBatchSize,
		core.ErrInvalidProtocolFee,
		core.ErrInvalidPriceDecreaseRate,
		core.ErrPriceBelowMinimumFloor,
		core.ErrInvalidAssetAmount,
		core.ErrAuctionDurationTooLong,
		core.ErrInsufficientCollateral,
		core.ErrInsufficientFunds,
		core.ErrBidBelowMinimum,
		core.ErrInvalidEncryption,
		core.ErrInvalidReservePrice,
		core.ErrInvalidTimestamp,
		core.ErrInvalidWinnerDetermination,
		core.ErrFeeCalculationOverflow,
	}},
}

// statusFor maps an operation error onto an HTTP status. Anything outside
// the protocol's error set is a 500.
func statusFor(err error) int {
	for _, class := range errorStatus {
		for _, target := range class.errs {
			if errors.Is(err, target) {
				return class.status
			}
		}
	}
	return http.StatusInternalServerError
}
