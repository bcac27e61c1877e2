package app

import (
	"context"

	"github.com/robfig/cron/v3"

	"github.com/corestream/datacore/internal/logger"
)

// StartHousekeeping schedules the periodic session sweep (Config.Auth's
// sessionSweepCronSpec) and returns the running cron.Cron so the caller can
// Stop() it on shutdown. A blank spec disables the sweep.
func (a *Application) StartHousekeeping() *cron.Cron {
	spec := a.Config.Auth.SessionSweepCronSpec
	if spec == "" {
		return nil
	}

	c := cron.New()
	_, err := c.AddFunc(spec, func() {
		n, err := a.Sessions.PruneExpired(context.Background())
		if err != nil {
			logger.GetLogger().Warn().Err(err).Msg("session sweep failed")
			return
		}
		if n > 0 {
			logger.GetLogger().Info().Int64("count", n).Msg("pruned expired sessions")
		}
	})
	if err != nil {
		logger.GetLogger().Warn().Err(err).Str("spec", spec).Msg("invalid session sweep cron spec, housekeeping disabled")
		return nil
	}

	c.Start()
	return c
}
