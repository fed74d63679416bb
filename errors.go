package txlog

import "errors"

// ErrRegionTooSmall reports that the configured log region (size) cannot
// hold the header block plus logSize data slots.
var ErrRegionTooSmall = errors.New("log region too small for configured LogSize")

// ErrTransactionTooBig reports a LogWrite made after the transaction has
// already filled every log slot — surfaced as a panic at the LogWrite call
// site (a programmer error, not a runtime condition the caller can recover
// from). The panic value is a string that includes this error's message;
// it does not wrap the error, so errors.Is does not match it.
var ErrTransactionTooBig = errors.New("transaction too big for log")

// ErrNoTransaction reports that LogWrite was called outside of a
// BeginOp/EndOp pair. Like ErrTransactionTooBig this is raised via panic,
// never returned.
var ErrNoTransaction = errors.New("log write outside of a transaction")
