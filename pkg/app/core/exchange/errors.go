package exchange

import (
	"errors"

	"github.com/uhyunpark/hyperswap/pkg/app/core/custody"
)

var (
	ErrInsufficientBalance = custody.ErrInsufficientBalance
	ErrTransferFailed      = custody.ErrTransferFailed
	ErrOverflow            = custody.ErrOverflow

	ErrOrderNotFound      = errors.New("order does not exist")
	ErrNotOwner           = errors.New("not the owner")
	ErrOrderAlreadyFilled = errors.New("order has already been filled")
	ErrOrderCancelled     = errors.New("order has been cancelled")
)

// Code maps an error to a stable identifier used in receipts and API responses
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, ErrTransferFailed):
		return "transfer_failed"
	case errors.Is(err, ErrOverflow):
		return "overflow"
	case errors.Is(err, ErrOrderNotFound):
		return "order_not_found"
	case errors.Is(err, ErrNotOwner):
		return "not_owner"
	case errors.Is(err, ErrOrderAlreadyFilled):
		return "order_already_filled"
	case errors.Is(err, ErrOrderCancelled):
		return "order_cancelled"
	}
	return "internal"
}
