package handlers

import (
	"github.com/maxpert/engage/counter"
	"github.com/maxpert/engage/dispatch"
	"github.com/maxpert/engage/notify"
	"github.com/maxpert/engage/txn"
)

// Chain priorities; counters are updated before anyone is notified
const (
	PriorityStatistics    = 10
	PriorityNotifications = 20
)

// Options selects and tunes the stock handlers
type Options struct {
	Points          PointRules
	Notify          notify.Port // nil disables notification handlers
	ContentMaxRunes int
}

// Registrations returns the stock handler chain
func Registrations(repo *counter.Repository, txc *txn.Coordinator, o Options) []dispatch.Registration {
	regs := []dispatch.Registration{
		{Handler: NewStatistics(repo, txc, o.Points), Priority: PriorityStatistics},
	}
	if o.Notify != nil {
		regs = append(regs, dispatch.Registration{
			Handler:  NewNotifications(o.Notify, o.ContentMaxRunes),
			Priority: PriorityNotifications,
		})
	}
	return regs
}
