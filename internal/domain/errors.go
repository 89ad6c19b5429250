package domain

import (
	"errors"
	"fmt"
)

var (
	ErrProductNotFound   = errors.New("product not found")
	ErrCustomerNotFound  = errors.New("customer not found")
	ErrAlreadyFinalized  = errors.New("transaction already finalized")
	ErrInvalidQuantity   = errors.New("quantity must be greater than zero")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInvalidLine       = errors.New("invalid line item")
	ErrInvalidStay       = errors.New("invalid stay")
)

// InsufficientStockError matches ErrInsufficientStock under errors.Is.
type InsufficientStockError struct {
	ProductID   string
	ProductName string
	Available   int
	Requested   int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s: available %d, requested %d", e.ProductName, e.Available, e.Requested)
}

func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

// CommitFailedError wraps a failed atomic write. Nothing from the batch was applied.
type CommitFailedError struct {
	Op  string
	Err error
}

func (e *CommitFailedError) Error() string {
	return fmt.Sprintf("commit %s: %v", e.Op, e.Err)
}

func (e *CommitFailedError) Unwrap() error {
	return e.Err
}
