package core

import "errors"

// State mismatch.
var (
	ErrInvalidAuctionStatus  = errors.New("invalid auction status for this operation")
	ErrAuctionEnded          = errors.New("auction has already ended")
	ErrAuctionNotEnded       = errors.New("auction has not ended yet")
	ErrAuctionAlreadySettled = errors.New("auction has already been settled")
	ErrComputationPending    = errors.New("confidential computation still pending")
)

// Authorization.
var (
	ErrUnauthorized                        = errors.New("unauthorized access")
	ErrSettlementNotAuthorized             = errors.New("settlement not authorized")
	ErrAuthorityTransferPending            = errors.New("authority transfer already pending")
	ErrAuthorityTransferTimelockNotElapsed = errors.New("authority transfer timelock has not elapsed")
	ErrNoPendingAuthorityTransfer          = errors.New("no pending authority transfer")
	ErrProtocolPaused                      = errors.New("protocol is paused")
)

// Validation.
var (
	ErrInvalidAuctionType         = errors.New("invalid auction type")
	ErrInvalidBatchSize           = errors.New("invalid batch size")
	ErrInvalidProtocolFee         = errors.New("invalid protocol fee")
	ErrInvalidPriceDecreaseRate   = errors.New("invalid price decrease rate")
	ErrPriceBelowMinimumFloor     = errors.New("price below minimum floor")
	ErrMaxBidsExceeded            = errors.New("maximum number of bids exceeded")
	ErrInvalidAssetAmount         = errors.New("invalid asset amount")
	ErrAuctionDurationTooLong     = errors.New("auction duration too long")
	ErrInsufficientCollateral     = errors.New("insufficient collateral")
	ErrInsufficientFunds          = errors.New("insufficient funds")
	ErrDutchPriceNotMet           = errors.New("dutch auction price not met")
	ErrBidBelowMinimum            = errors.New("bid below minimum")
	ErrInvalidEncryption          = errors.New("invalid encryption")
	ErrInvalidReservePrice        = errors.New("invalid reserve price")
	ErrInvalidTimestamp           = errors.New("invalid timestamp")
	ErrAuctionNotInBatch          = errors.New("auction not in batch")
	ErrInvalidWinnerDetermination = errors.New("invalid winner determination")
)

// Arithmetic.
var ErrFeeCalculationOverflow = errors.New("fee calculation overflow")

// Computation.
var (
	ErrComputationFailed     = errors.New("confidential computation failed")
	ErrDecryptionFailed      = errors.New("decryption failed")
	ErrBatchSettlementFailed = errors.New("batch settlement failed")
	ErrMpcVerificationFailed = errors.New("computation result verification failed")
)

// Records and lifecycle.
var (
	ErrAuctionNotFound            = errors.New("auction not found")
	ErrBatchNotFound              = errors.New("batch settlement not found")
	ErrBidNotFound                = errors.New("bid not found")
	ErrBidAlreadySubmitted        = errors.New("bidder already submitted a bid for this auction")
	ErrAuctionIDAlreadyExists     = errors.New("auction id already exists")
	ErrAssetTransferFailed        = errors.New("asset transfer failed")
	ErrProtocolNotInitialized     = errors.New("protocol not initialized")
	ErrProtocolAlreadyInitialized = errors.New("protocol already initialized")
)
