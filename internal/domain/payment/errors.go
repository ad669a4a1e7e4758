package payment

import "errors"

var (
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrPackageNotFound     = errors.New("unknown minute package")
	ErrInvalidTransition   = errors.New("transaction is already terminal")
	ErrPaymentAuthDenied   = errors.New("card authorization denied")
)
