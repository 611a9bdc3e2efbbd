package repost

import (
	"context"
	"time"

	"github.com/odyssey-erp/stockledger/internal/shared"
)

// FrozenWarning is attached to jobs an authorised user schedules inside the frozen range.
const FrozenWarning = "Caution: This might alter frozen accounts."

// GuardConfig holds the accounting guardrails applied to repost jobs.
type GuardConfig struct {
	// FrozenUpto freezes accounting entries on or before the date. Zero disables the check.
	FrozenUpto time.Time
	// FrozenModifierRole may repost into the frozen range with a warning.
	FrozenModifierRole string
	// PeriodOverrideRole may repost into closed periods with a warning. Empty makes the checks hard.
	PeriodOverrideRole string
}

type guard struct {
	cfg GuardConfig
}

func dateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// check validates job against closed periods and the frozen date. It returns
// the warnings to attach when the actor overrides a check.
func (g guard) check(ctx context.Context, tx Tx, job Job) ([]string, error) {
	actor, _ := shared.ActorFromContext(ctx)
	posted := dateOf(job.PostedAt)
	var warnings []string

	periodErr := func(err *PeriodClosedError) error {
		if actor.HasRole(g.cfg.PeriodOverrideRole) {
			warnings = append(warnings, err.Error())
			return nil
		}
		return err
	}

	end, ok, err := tx.LastClosedFiscalYearEnd(ctx, job.Company)
	if err != nil {
		return nil, err
	}
	if ok && !posted.After(dateOf(end)) {
		if err := periodErr(&PeriodClosedError{Reason: "period closing", Until: end}); err != nil {
			return nil, err
		}
	}

	if job.Voucher.Type.Valid() {
		period, ok, err := tx.ClosedAccountingPeriod(ctx, job.Company, job.Voucher.Type, posted)
		if err != nil {
			return nil, err
		}
		if ok {
			if err := periodErr(&PeriodClosedError{Reason: "closed accounting period " + period.Name, Until: period.End}); err != nil {
				return nil, err
			}
		}
	}

	balance, ok, err := tx.ClosingStockBalance(ctx, job.Company, job.ItemCode, job.Warehouse, posted)
	if err != nil {
		return nil, err
	}
	if ok {
		if err := periodErr(&PeriodClosedError{Reason: "closing stock balance " + balance.Name, Until: balance.ToDate}); err != nil {
			return nil, err
		}
	}

	if !g.cfg.FrozenUpto.IsZero() && !posted.After(dateOf(g.cfg.FrozenUpto)) {
		if !actor.HasRole(g.cfg.FrozenModifierRole) {
			return nil, &AccountingFrozenError{Upto: g.cfg.FrozenUpto}
		}
		warnings = append(warnings, FrozenWarning)
	}
	return warnings, nil
}
