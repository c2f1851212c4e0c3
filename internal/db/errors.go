package db

import "fmt"

// StoreError wraps a database open or query failure with the store it came
// from. A StoreError is fatal for the command that hit it but never for
// peer components: each store file is independent.
type StoreError struct {
	Op    string // "open", "query", "exec", "tx"
	Store string // database file or logical store name
	Err   error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %s: %v", e.Store, e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// Code returns the stable error code for JSON envelopes.
func (e *StoreError) Code() string { return "STORE_ERROR" }

// WrapErr builds a StoreError unless err is nil.
func WrapErr(op, store string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Store: store, Err: err}
}
