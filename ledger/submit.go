package ledger

import (
	"context"
	"fmt"

	"github.com/defistate/defistate-dex-go/engine"
)

// Submit authenticates req and dispatches it to the matching operation.
// A request that fails authentication or validation never reaches the pools.
func (l *Ledger) Submit(ctx context.Context, req *engine.Request) (*Receipt, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	caller, err := l.auth.Authenticate(ctx, req)
	if err != nil {
		l.metrics.operationsTotal.WithLabelValues(string(req.Kind), resultLabel(ErrUnauthenticated)).Inc()
		return nil, fmt.Errorf("%w: %w", ErrUnauthenticated, err)
	}

	switch req.Kind {
	case engine.CallDeposit:
		return l.Deposit(ctx, caller, req.AssetA, req.AmountA, req.AssetB, req.AmountB)
	case engine.CallWithdraw:
		return l.Withdraw(ctx, caller, req.AssetA, req.AmountA, req.AssetB, req.AmountB)
	case engine.CallSwap:
		return l.Swap(ctx, caller, req.AssetA, req.AmountA, req.AssetB)
	default:
		return nil, fmt.Errorf("unsupported call kind %q", req.Kind)
	}
}
