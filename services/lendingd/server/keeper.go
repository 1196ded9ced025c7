package server

import (
	"context"
	"log/slog"
	"time"

	"tierlend/crypto"
	"tierlend/native/lending"
	"tierlend/observability"
	"tierlend/state"
)

// Keeper periodically sweeps liquidations, rolls the interest index forward
// and prunes dormant lender records. It runs every lifecycle duty the
// protocol expects an off-chain operator to perform.
type Keeper struct {
	log      *slog.Logger
	manager  *state.Manager
	engine   *lending.Engine
	address  crypto.Address
	interval time.Duration
}

// NewKeeper wires the background keeper over the shared ledger.
func NewKeeper(log *slog.Logger, manager *state.Manager, engine *lending.Engine, address crypto.Address, interval time.Duration) *Keeper {
	if log == nil {
		log = slog.Default()
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &Keeper{
		log:      log.With("component", "keeper"),
		manager:  manager,
		engine:   engine,
		address:  address,
		interval: interval,
	}
}

// Run blocks until the context is cancelled, executing one sweep per tick.
func (k *Keeper) Run(ctx context.Context) {
	ticker := time.NewTicker(k.interval)
	defer ticker.Stop()
	k.log.Info("keeper started", "interval", k.interval.String(), "address", k.address.String())
	for {
		select {
		case <-ctx.Done():
			k.log.Info("keeper stopped")
			return
		case <-ticker.C:
			k.tick()
		}
	}
}

func (k *Keeper) tick() {
	var flagged, executed int
	err := k.manager.WithTransaction(func() error {
		f, e, err := k.engine.SweepLiquidations(k.address)
		flagged, executed = f, e
		return err
	})
	observability.Keeper().RecordSweep(flagged, executed, err)
	if err != nil {
		k.log.Error("liquidation sweep failed", "error", err)
	} else if flagged > 0 || executed > 0 {
		k.log.Info("liquidation sweep", "flagged", flagged, "executed", executed)
	}

	var steps int
	err = k.manager.WithTransaction(func() error {
		n, err := k.engine.RollForwardIndex(k.address)
		steps = n
		return err
	})
	if err != nil {
		k.log.Error("index roll failed", "error", err)
	} else if steps > 0 {
		observability.Keeper().RecordIndexSteps(steps)
		k.log.Info("interest index advanced", "days", steps)
	}

	var pruned int
	err = k.manager.WithTransaction(func() error {
		n, err := k.engine.CleanupInactive(k.address)
		pruned = n
		return err
	})
	if err != nil {
		k.log.Error("lender cleanup failed", "error", err)
	} else if pruned > 0 {
		observability.Keeper().RecordPruned(pruned)
		k.log.Info("dormant lenders pruned", "count", pruned)
	}
}
