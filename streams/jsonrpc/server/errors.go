package server

import (
	"errors"

	"github.com/defistate/defistate-dex-go/engine"
	"github.com/defistate/defistate-dex-go/ledger"
)

// JSON-RPC error codes returned by the dex namespace.
const (
	codeInternal                 = -32000
	codeInvalidParams            = -32602
	codeInsufficientCallerFunds  = -32010
	codeInsufficientPoolReserves = -32011
	codeArithmetic               = -32012
	codeTransfer                 = -32013
	codeUnauthenticated          = -32014
)

// Error is a ledger failure as seen by RPC clients. The kind is sent as error data so
// clients can match on it without parsing the message.
type Error struct {
	code int
	kind string
	msg  string
}

func (e *Error) Error() string          { return e.msg }
func (e *Error) ErrorCode() int         { return e.code }
func (e *Error) ErrorData() interface{} { return e.kind }

func toRPCError(err error) error {
	var code int
	var kind string
	switch {
	case errors.Is(err, ledger.ErrInsufficientCallerFunds):
		code, kind = codeInsufficientCallerFunds, "insufficientCallerFunds"
	case errors.Is(err, ledger.ErrInsufficientPoolReserves):
		code, kind = codeInsufficientPoolReserves, "insufficientPoolReserves"
	case errors.Is(err, ledger.ErrArithmetic):
		code, kind = codeArithmetic, "arithmetic"
	case errors.Is(err, ledger.ErrTransfer):
		code, kind = codeTransfer, "transfer"
	case errors.Is(err, ledger.ErrUnauthenticated):
		code, kind = codeUnauthenticated, "unauthenticated"
	case errors.Is(err, engine.ErrInvalidRequest):
		code, kind = codeInvalidParams, "invalidParams"
	default:
		code, kind = codeInternal, "internal"
	}
	return &Error{code: code, kind: kind, msg: err.Error()}
}
