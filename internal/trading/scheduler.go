package trading

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"alert-trader/internal/logging"
	"alert-trader/pkg/utils"
)

// SessionControl is the part of the gateway session the daily schedule drives.
type SessionControl interface {
	Login(ctx context.Context) error
	Logout(ctx context.Context) error
}

// DailySchedule holds the session times of the trading day.
type DailySchedule struct {
	LoginAt     utils.Clock
	LogoutAt    utils.Clock
	ResetBefore utils.Clock
}

// Scheduler logs in and out once per trading day.
type Scheduler struct {
	session  SessionControl
	schedule DailySchedule
	logger   zerolog.Logger
	now      func() time.Time

	loginDone  bool
	logoutDone bool
}

// NewScheduler creates a daily login/logout scheduler.
func NewScheduler(session SessionControl, schedule DailySchedule, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		session:  session,
		schedule: schedule,
		logger:   logging.WithComponent(logger, "scheduler"),
		now:      utils.NowIST,
	}
}

// Tick performs whichever daily action is due. Flags are cleared before
// the reset time so the next day starts fresh.
func (s *Scheduler) Tick(ctx context.Context) error {
	now := s.now()
	if utils.IsWeekend(now) {
		return nil
	}
	c := utils.ClockOf(now)

	switch {
	case c < s.schedule.ResetBefore:
		s.loginDone, s.logoutDone = false, false

	case c >= s.schedule.LoginAt && c < s.schedule.LogoutAt && !s.loginDone:
		if err := s.session.Login(ctx); err != nil {
			return err
		}
		s.loginDone = true
		s.logger.Info().Str("at", c.String()).Msg("Daily login done")

	case c >= s.schedule.LogoutAt && !s.logoutDone:
		s.logoutDone = true
		if err := s.session.Logout(ctx); err != nil {
			return err
		}
		s.logger.Info().Str("at", c.String()).Msg("Daily logout done")
	}
	return nil
}
