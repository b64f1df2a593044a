package trading

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"alert-trader/internal/broker"
	"alert-trader/internal/config"
	apperrors "alert-trader/internal/errors"
	"alert-trader/internal/ledger"
	"alert-trader/internal/logging"
	"alert-trader/internal/metrics"
	"alert-trader/internal/models"
	"alert-trader/internal/notify"
	"alert-trader/internal/store"
	"alert-trader/internal/symbols"
	"alert-trader/pkg/utils"
)

// GatewaySession is the full session surface the supervisor drives.
type GatewaySession interface {
	OrderSession
	SessionControl
	KeepAlive(ctx context.Context) (broker.HeartbeatOutcome, error)
	IsAuthenticated() bool
}

// ResultStatus is the outcome of processing one alert.
type ResultStatus string

const (
	ResultPlaced   ResultStatus = "placed"
	ResultQueued   ResultStatus = "queued"
	ResultRejected ResultStatus = "rejected"
	ResultFailed   ResultStatus = "failed"
)

// Result reports what happened to an alert.
type Result struct {
	Status       ResultStatus `json:"status"`
	PositionID   string       `json:"position_id,omitempty"`
	EntryOrderID string       `json:"entry_order_id,omitempty"`
	Reason       string       `json:"reason,omitempty"`
}

// Deps are the collaborators of a Supervisor.
type Deps struct {
	Session  GatewaySession
	Ledger   *ledger.Ledger
	Queue    store.AlertQueue
	Notifier notify.Notifier
	Metrics  *metrics.Metrics
	Logger   zerolog.Logger
}

// Supervisor owns the position book and runs every lifecycle loop.
type Supervisor struct {
	session  GatewaySession
	ledger   *ledger.Ledger
	queue    store.AlertQueue
	book     *PositionBook
	notifier notify.Notifier
	metrics  *metrics.Metrics
	logger   zerolog.Logger
	now      func() time.Time

	entry     *EntryPlacer
	stopLoss  *StopLossPlacer
	pending   *PendingMonitor
	active    *ActiveMonitor
	scheduler *Scheduler

	pendingEvery   time.Duration
	activeEvery    time.Duration
	heartbeatEvery time.Duration
}

// NewSupervisor wires the lifecycle components from configuration.
func NewSupervisor(cfg *config.Config, deps Deps) (*Supervisor, error) {
	schedule, err := scheduleFromConfig(cfg.Session)
	if err != nil {
		return nil, err
	}
	if deps.Notifier == nil {
		deps.Notifier = notify.NewNoOpNotifier()
	}

	defaults := DefaultsFromConfig(cfg.Trading)
	book := NewPositionBook()
	logger := deps.Logger

	sl := NewStopLossPlacer(deps.Session, deps.Ledger, book, defaults, deps.Notifier, deps.Metrics, logger)
	s := &Supervisor{
		session:        deps.Session,
		ledger:         deps.Ledger,
		queue:          deps.Queue,
		book:           book,
		notifier:       deps.Notifier,
		metrics:        deps.Metrics,
		logger:         logging.WithComponent(logger, "supervisor"),
		now:            utils.NowIST,
		entry:          NewEntryPlacer(deps.Session, defaults, cfg.Monitor.RetryDelay, deps.Notifier, deps.Metrics, logger),
		stopLoss:       sl,
		pending:        NewPendingMonitor(deps.Session, deps.Ledger, book, sl, cfg.Monitor.StaleAfter, deps.Notifier, deps.Metrics, logger),
		active:         NewActiveMonitor(deps.Session, deps.Ledger, book, defaults, deps.Notifier, deps.Metrics, logger),
		scheduler:      NewScheduler(deps.Session, schedule, logger),
		pendingEvery:   cfg.Monitor.PendingInterval,
		activeEvery:    cfg.Monitor.ActiveInterval,
		heartbeatEvery: cfg.Monitor.HeartbeatInterval,
	}
	return s, nil
}

func scheduleFromConfig(cfg config.SessionConfig) (DailySchedule, error) {
	var d DailySchedule
	var err error
	if d.LoginAt, err = utils.ParseClock(cfg.LoginAt); err != nil {
		return d, fmt.Errorf("session.login_at: %w", err)
	}
	if d.LogoutAt, err = utils.ParseClock(cfg.LogoutAt); err != nil {
		return d, fmt.Errorf("session.logout_at: %w", err)
	}
	if d.ResetBefore, err = utils.ParseClock(cfg.ResetBefore); err != nil {
		return d, fmt.Errorf("session.reset_before: %w", err)
	}
	return d, nil
}

// SetClock overrides the time source of every loop.
func (s *Supervisor) SetClock(now func() time.Time) {
	s.now = now
	s.pending.now = now
	s.active.now = now
	s.scheduler.now = now
}

// Book returns the position book.
func (s *Supervisor) Book() *PositionBook {
	return s.book
}

// LoggedIn reports whether the gateway session is live.
func (s *Supervisor) LoggedIn() bool {
	return s.session.IsAuthenticated()
}

// Logout ends the gateway session on operator request.
func (s *Supervisor) Logout(ctx context.Context) error {
	return s.session.Logout(ctx)
}

// alertTimeout bounds one alert's placement, re-auth and ledger writes.
const alertTimeout = 2 * time.Minute

// ProcessAlert turns an alert into an entry order. Every alert ends placed,
// queued for reprocessing or rejected with a reason. The work is detached
// from ctx cancellation: once an order may have reached the broker its
// ledger row and queue entry must still be written.
func (s *Supervisor) ProcessAlert(ctx context.Context, alert models.Alert) Result {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), alertTimeout)
	defer cancel()

	res := s.processAlert(ctx, alert)
	s.metrics.Alert(string(res.Status))
	return res
}

func (s *Supervisor) processAlert(ctx context.Context, alert models.Alert) Result {
	symbol := symbols.Normalize(alert.Symbol)
	log := logging.WithSymbol(s.logger, symbol)

	if err := validateAlert(alert); err != nil {
		log.Warn().Err(err).Msg("Rejected alert")
		s.notifier.Alert(ctx, fmt.Sprintf("Rejected alert for %q: %v", alert.Symbol, err))
		return Result{Status: ResultRejected, Reason: err.Error()}
	}

	alert.Action, _ = models.ParseAction(string(alert.Action))
	entry := models.RoundTick(alert.EntryPrice)
	stop := models.RoundTick(alert.StopLossPrice)

	orderID, err := s.entry.PlaceEntry(ctx, symbol, alert.Action, entry)
	if err != nil {
		return s.deferAlert(ctx, alert, err, log)
	}

	alertTime := alert.ReceivedAt
	if alertTime.IsZero() {
		alertTime = s.now()
	}

	if _, err := s.ledger.RecordEntry(ctx, ledger.Entry{
		Symbol:        symbol,
		Action:        alert.Action,
		EntryPrice:    entry,
		StopLossPrice: stop,
		EntryOrderID:  orderID,
	}); err != nil {
		log.Error().Err(err).Str("entry_order_id", orderID).Msg("Failed to record entry in ledger")
		s.notifier.Alert(ctx, fmt.Sprintf("Entry %s for %s placed but NOT recorded in the ledger (%v); retrying on the next pending pass", orderID, symbol, err))
	} else {
		s.metrics.Transition(string(models.StatusPending))
	}

	positionID := models.PositionID(symbol, alert.Action, orderID)
	s.book.AddPending(models.PendingEntry{
		PositionID:    positionID,
		Symbol:        symbol,
		Action:        alert.Action,
		EntryPrice:    entry,
		StopLossPrice: stop,
		EntryOrderID:  orderID,
		AlertTime:     alertTime,
	})

	return Result{Status: ResultPlaced, PositionID: positionID, EntryOrderID: orderID}
}

func (s *Supervisor) deferAlert(ctx context.Context, alert models.Alert, cause error, log zerolog.Logger) Result {
	deferred := &models.DeferredAlert{Alert: alert, Reason: cause.Error()}
	if s.queue == nil {
		return Result{Status: ResultFailed, Reason: cause.Error()}
	}
	if err := s.queue.SaveDeferred(ctx, deferred); err != nil {
		log.Error().Err(err).Msg("Failed to queue alert")
		s.notifier.Alert(ctx, fmt.Sprintf("Alert for %s LOST: entry failed (%v) and queueing failed (%v)", alert.Symbol, cause, err))
		return Result{Status: ResultFailed, Reason: fmt.Sprintf("%v; queue: %v", cause, err)}
	}
	log.Info().Str("deferred_id", deferred.ID).Msg("Queued alert for reprocessing")
	return Result{Status: ResultQueued, Reason: cause.Error()}
}

func validateAlert(a models.Alert) error {
	if strings.TrimSpace(a.Symbol) == "" {
		return apperrors.NewValidationError("symbol", a.Symbol, "must not be empty")
	}
	if _, ok := models.ParseAction(string(a.Action)); !ok {
		return apperrors.NewValidationError("action", a.Action, "must be buy or sell")
	}
	if a.EntryPrice <= 0 {
		return apperrors.NewValidationError("entry", a.EntryPrice, "must be positive")
	}
	if a.StopLossPrice < 0 {
		return apperrors.NewValidationError("stoploss", a.StopLossPrice, "must not be negative")
	}
	return nil
}

// Recover rebuilds the book from the ledger.
func (s *Supervisor) Recover(ctx context.Context) (RecoveryReport, error) {
	report, err := Recover(ctx, s.ledger, s.book, s.now(), s.logger)
	if err == nil {
		s.metrics.SetPositions(s.book.Counts())
	}
	return report, err
}

// Run recovers state and runs every loop until ctx is cancelled.
func (s *Supervisor) Run(ctx context.Context) error {
	if _, err := s.Recover(ctx); err != nil {
		return fmt.Errorf("startup recovery: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.loop(ctx, "pending", s.pendingEvery, s.pending.Tick) })
	g.Go(func() error { return s.loop(ctx, "active", s.activeEvery, s.active.Tick) })
	g.Go(func() error { return s.loop(ctx, "heartbeat", s.heartbeatEvery, s.heartbeat) })
	g.Go(func() error { return s.loop(ctx, "scheduler", time.Minute, s.scheduler.Tick) })
	return g.Wait()
}

func (s *Supervisor) heartbeat(ctx context.Context) error {
	_, err := s.session.KeepAlive(ctx)
	return err
}

// loop runs tick immediately and then every interval until ctx ends.
func (s *Supervisor) loop(ctx context.Context, name string, every time.Duration, tick func(context.Context) error) error {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		s.runTick(ctx, name, tick)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// runTick runs one iteration, containing panics and errors.
func (s *Supervisor) runTick(ctx context.Context, name string, tick func(context.Context) error) {
	defer func() {
		if r := recover(); r != nil {
			s.metrics.Panic(name)
			s.logger.Error().
				Str("loop", name).
				Interface("panic", r).
				Str("stack", string(debug.Stack())).
				Msg("Recovered from panic in loop")
		}
	}()

	if err := tick(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error().Err(err).Str("loop", name).Msg("Loop iteration failed")
	}
	s.metrics.SetPositions(s.book.Counts())
}
