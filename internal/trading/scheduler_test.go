package trading

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"alert-trader/pkg/utils"
)

type fakeControl struct {
	logins, logouts int
	loginErr        error
}

func (f *fakeControl) Login(context.Context) error {
	f.logins++
	return f.loginErr
}

func (f *fakeControl) Logout(context.Context) error {
	f.logouts++
	return nil
}

func newTestScheduler(ctrl *fakeControl, now *time.Time) *Scheduler {
	s := NewScheduler(ctrl, DailySchedule{
		LoginAt:     utils.MustClock("10:15"),
		LogoutAt:    utils.MustClock("15:15"),
		ResetBefore: utils.MustClock("09:00"),
	}, zerolog.Nop())
	s.now = func() time.Time { return *now }
	return s
}

func TestSchedulerDailyCycle(t *testing.T) {
	ctrl := &fakeControl{}
	now := clockAt("08:30")
	s := newTestScheduler(ctrl, &now)
	ctx := context.Background()

	steps := []struct {
		at              string
		logins, logouts int
	}{
		{"08:30", 0, 0},
		{"10:14", 0, 0},
		{"10:15", 1, 0},
		{"12:00", 1, 0},
		{"15:15", 1, 1},
		{"15:30", 1, 1},
	}
	for _, st := range steps {
		now = clockAt(st.at)
		require.NoError(t, s.Tick(ctx))
		assert.Equal(t, st.logins, ctrl.logins, "logins at %s", st.at)
		assert.Equal(t, st.logouts, ctrl.logouts, "logouts at %s", st.at)
	}

	// Next morning resets the flags.
	now = clockAt("08:45").AddDate(0, 0, 1)
	require.NoError(t, s.Tick(ctx))
	now = clockAt("10:20").AddDate(0, 0, 1)
	require.NoError(t, s.Tick(ctx))
	assert.Equal(t, 2, ctrl.logins)
}

func TestSchedulerSkipsWeekend(t *testing.T) {
	ctrl := &fakeControl{}
	now := clockAt("10:30").AddDate(0, 0, 2) // Saturday
	s := newTestScheduler(ctrl, &now)

	require.NoError(t, s.Tick(context.Background()))
	assert.Zero(t, ctrl.logins)
}

func TestSchedulerRetriesFailedLogin(t *testing.T) {
	ctrl := &fakeControl{loginErr: errors.New("gateway down")}
	now := clockAt("10:20")
	s := newTestScheduler(ctrl, &now)
	ctx := context.Background()

	assert.Error(t, s.Tick(ctx))
	ctrl.loginErr = nil
	now = clockAt("10:21")
	require.NoError(t, s.Tick(ctx))
	require.NoError(t, s.Tick(ctx))
	assert.Equal(t, 2, ctrl.logins)
}
