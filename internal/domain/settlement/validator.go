package settlement

import "fmt"

// Validate checks that transfer credits expectedRecipient with at least expectedMinAmount
// base units, debited from a single sender. Overpayment is accepted. The function is pure.
func Validate(transfer *TransferRecord, expectedRecipient AccountID, expectedMinAmount int64) error {
	if transfer == nil {
		return NewError(ErrKindMalformedCredential, "no transfer to validate")
	}
	if err := transfer.CheckBalance(); err != nil {
		return WrapError(ErrKindMalformedCredential, err.Error(), err)
	}

	actual, found := transfer.AmountTo(expectedRecipient)
	if !found {
		return NewError(ErrKindRecipientMismatch,
			fmt.Sprintf("no transfer to merchant account %s found", expectedRecipient))
	}

	if actual < expectedMinAmount {
		return NewError(ErrKindAmountTooLow,
			fmt.Sprintf("insufficient amount: expected %d, got %d", expectedMinAmount, actual))
	}

	if _, ok := transfer.Sender(); !ok {
		return NewError(ErrKindMalformedCredential, "transfer must debit exactly one sender account")
	}

	return nil
}
