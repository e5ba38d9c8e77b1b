// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-eseaccess.
//
// go-eseaccess is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

// Package arbiter decides which consumer may hold and power the shared
// secure element. All state is owned by one Arbiter; there are no
// package-level singletons.
//
// Entry points validate the request against the current access state
// under a single mutex. Where the other side must be given a chance to
// react, the arbiter arms a handshake slot, drops the mutex, notifies the
// registered process and waits a bounded time for it to release the
// slot. Power-down paths proceed when the wait times out; acquisition
// paths fail.
package arbiter

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"

	"github.com/jeremyhahn/go-eseaccess/pkg/access"
	"github.com/jeremyhahn/go-eseaccess/pkg/adapters/audit"
	"github.com/jeremyhahn/go-eseaccess/pkg/adapters/logger"
	"github.com/jeremyhahn/go-eseaccess/pkg/handshake"
	"github.com/jeremyhahn/go-eseaccess/pkg/metrics"
	"github.com/jeremyhahn/go-eseaccess/pkg/notify"
	"github.com/jeremyhahn/go-eseaccess/pkg/power"
)

// Operation names used for metrics, logs and audit events.
const (
	OpWiredAcquire       = "wired_acquire"
	OpWiredRelease       = "wired_release"
	OpSpiAcquire         = "spi_acquire"
	OpSpiRelease         = "spi_release"
	OpSpiPriorityAcquire = "spi_priority_acquire"
	OpSpiPriorityRelease = "spi_priority_release"
	OpDownloadStart      = "download_start"
	OpDownloadEnd        = "download_end"
	OpJcopDownloadStart  = "jcop_download_start"
	OpJcopDownloadEnd    = "jcop_download_end"
	OpLockAcquire        = "lock_acquire"
	OpLockRelease        = "lock_release"
)

// Config wires an Arbiter to its collaborators.
type Config struct {
	// Rail is required.
	Rail power.Rail

	// Notifier is required.
	Notifier notify.Notifier

	Logger logger.Logger
	Clock  clock.Clock

	// HandshakeTimeout bounds every handshake wait. Zero selects
	// handshake.DefaultTimeout.
	HandshakeTimeout time.Duration

	// Audit is optional.
	Audit audit.AuditAdapter
}

// Arbiter serializes access to the shared secure element.
type Arbiter struct {
	rail     power.Rail
	notifier notify.Notifier
	log      logger.ContextLogger
	clock    clock.Clock
	timeout  time.Duration
	audit    audit.AuditAdapter
	slots    *handshake.Set
	txLock   *TransactionLock

	// railMu orders decide-then-drive sequences against the rail. It is
	// always taken before mu and never held across a handshake wait.
	railMu sync.Mutex

	mu              sync.Mutex
	state           access.State
	closed          bool
	lastWaitExpired bool
	// handoff is set while SpiPriorityAcquire waits for the wired side.
	handoff bool
}

// New returns an idle arbiter.
func New(cfg Config) (*Arbiter, error) {
	if cfg.Rail == nil {
		return nil, errors.New("arbiter: rail is required")
	}
	if cfg.Notifier == nil {
		return nil, errors.New("arbiter: notifier is required")
	}
	if cfg.HandshakeTimeout < 0 {
		return nil, fmt.Errorf("arbiter: negative handshake timeout %s", cfg.HandshakeTimeout)
	}
	if cfg.HandshakeTimeout == 0 {
		cfg.HandshakeTimeout = handshake.DefaultTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.NoOp{}
	}

	a := &Arbiter{
		rail:     cfg.Rail,
		notifier: cfg.Notifier,
		log:      logger.Ctx(cfg.Logger.With(logger.String("component", "arbiter"))),
		clock:    cfg.Clock,
		timeout:  cfg.HandshakeTimeout,
		audit:    cfg.Audit,
		slots:    handshake.NewSet(cfg.Clock),
		state:    access.IdleState(),
	}
	a.txLock = &TransactionLock{a: a, slot: a.slots.Slot(handshake.Transaction)}
	metrics.SetAccessState(flagSnapshot(a.state))
	return a, nil
}

// State returns a snapshot of the access state. Sync sub-flags are
// visible only while a power-down handshake is outstanding.
func (a *Arbiter) State() access.State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// HandshakeTimeout returns the configured wait bound.
func (a *Arbiter) HandshakeTimeout() time.Duration {
	return a.timeout
}

// Lock returns the transaction lock.
func (a *Arbiter) Lock() *TransactionLock {
	return a.txLock
}

// Register sets the process that receives notifications. notify.None
// clears the registration.
func (a *Arbiter) Register(ctx context.Context, id notify.Identity) {
	a.notifier.Register(id)
	a.log.InfoContext(ctx, "registered process", logger.Stringer("identity", id))
	a.record(ctx, audit.EventRegister, CodeSuccess, a.State(), a.State(), 0, nil,
		map[string]string{"identity": id.String()})
}

// Registered returns the registered process or notify.None.
func (a *Arbiter) Registered() notify.Identity {
	return a.notifier.Registered()
}

// ReleaseHandshake acknowledges the outstanding handshake for p. It
// reports whether a pending handshake was released; excess releases are
// no-ops. The transaction slot belongs to the transaction lock and is
// only freed by its Release.
func (a *Arbiter) ReleaseHandshake(ctx context.Context, p handshake.Purpose) bool {
	slot := a.slots.Slot(p)
	if slot == nil {
		return false
	}
	if p == handshake.Transaction {
		a.log.DebugContext(ctx, "transaction handshake is released by the lock holder",
			logger.Stringer("purpose", p))
		return false
	}
	released := slot.Release()
	a.log.DebugContext(ctx, "handshake release",
		logger.Stringer("purpose", p), logger.Bool("released", released))
	a.record(ctx, audit.EventHandshakeRelease, CodeSuccess, a.State(), a.State(), 0, nil,
		map[string]string{"purpose": p.String(), "released": fmt.Sprint(released)})
	return released
}

// Pending reports whether a handshake for p is armed and unacknowledged.
func (a *Arbiter) Pending(p handshake.Purpose) bool {
	slot := a.slots.Slot(p)
	return slot != nil && slot.Pending()
}

// RailEnabled reports whether the supply rail is powered.
func (a *Arbiter) RailEnabled() bool {
	return a.rail.IsEnabled()
}

// FlagSnapshot returns every holder flag, including Idle, as a bool.
func (a *Arbiter) FlagSnapshot() map[string]bool {
	return flagSnapshot(a.State())
}

// Close forces the state back to Idle, wakes every waiter, powers the
// rail down and closes the notifier. Operations after Close return
// ErrClosed.
func (a *Arbiter) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	before := a.state
	a.commit(access.IdleState())
	a.mu.Unlock()

	a.slots.ReleaseAll()

	ctx := context.Background()
	a.railMu.Lock()
	railErr := a.rail.SetPower(ctx, false)
	a.railMu.Unlock()
	if railErr != nil {
		railErr = fmt.Errorf("%w: %w", ErrRail, railErr)
	}

	err := multierr.Combine(railErr, a.notifier.Close())
	a.log.Info("arbiter closed", logger.Stringer("state_before", before))
	a.record(ctx, audit.EventSystemStop, CodeOf(err), before, access.IdleState(), 0, err, nil)
	return err
}

// WiredAcquire grants the wired host access. If a priority session is in
// progress the wired side is told so before this returns. It fails with
// ErrBusy while a wired power-down is in progress.
func (a *Arbiter) WiredAcquire(ctx context.Context) error {
	return a.run(ctx, OpWiredAcquire, audit.EventWiredAcquire, func(ctx context.Context) error {
		a.mu.Lock()
		if a.closed {
			a.mu.Unlock()
			return ErrClosed
		}
		if a.state.HasSync(access.WiredSvddSyncStart) {
			a.mu.Unlock()
			return fmt.Errorf("%w: wired power-down in progress", ErrBusy)
		}
		a.commit(a.state.With(access.Wired))
		priority := a.state.Has(access.SpiPriority)
		a.mu.Unlock()

		if priority {
			a.notifyOnly(ctx, OpWiredAcquire, notify.SpiPriorityStart)
		}
		return nil
	})
}

// WiredRelease ends wired access. If no SPI session remains, the rail is
// powered down after the SPI side has been given a bounded window to
// acknowledge.
func (a *Arbiter) WiredRelease(ctx context.Context) error {
	return a.run(ctx, OpWiredRelease, audit.EventWiredRelease, func(ctx context.Context) error {
		a.mu.Lock()
		if a.closed {
			a.mu.Unlock()
			return ErrClosed
		}
		if !a.state.Has(access.Wired) {
			a.mu.Unlock()
			return fmt.Errorf("%w: wired access not held", ErrForbidden)
		}
		if a.state.HasSync(access.WiredSvddSyncStart) {
			a.mu.Unlock()
			return fmt.Errorf("%w: wired power-down already in progress", ErrBusy)
		}
		if a.state.HasAny(access.Spi, access.SpiPriority) {
			a.commit(a.state.Without(access.Wired))
			a.mu.Unlock()
			return nil
		}
		a.commit(a.state.WithSync(access.WiredSvddSyncStart))
		a.mu.Unlock()

		return a.svddPowerDown(ctx, OpWiredRelease, svddSide{
			holder:    access.Wired,
			start:     access.WiredSvddSyncStart,
			end:       access.WiredSvddSyncEnd,
			reason:    notify.WiredSvddSync,
			blockedBy: []access.Flag{access.Spi, access.SpiPriority},
		})
	})
}

// SpiAcquire grants an ordinary SPI session and powers the rail if
// nothing held the element before.
func (a *Arbiter) SpiAcquire(ctx context.Context) error {
	return a.run(ctx, OpSpiAcquire, audit.EventSpiAcquire, func(ctx context.Context) error {
		a.railMu.Lock()
		defer a.railMu.Unlock()

		a.mu.Lock()
		if a.closed {
			a.mu.Unlock()
			return ErrClosed
		}
		if a.state.HasAny(access.Spi, access.SpiPriority, access.Download, access.JcopDownload) {
			s := a.state
			a.mu.Unlock()
			return fmt.Errorf("%w: %s", ErrBusy, s)
		}
		wasIdle := a.state.IsIdle()
		a.commit(a.state.With(access.Spi))
		a.mu.Unlock()

		if wasIdle || !a.rail.IsEnabled() {
			if err := a.rail.SetPower(ctx, true); err != nil {
				a.rollback(access.Spi)
				return fmt.Errorf("%w: %w", ErrRail, err)
			}
		}
		return nil
	})
}

// SpiRelease ends an ordinary SPI session. If the wired host still holds
// the element it is told the session ended and the rail stays up.
// Otherwise the rail is powered down after a bounded handshake.
func (a *Arbiter) SpiRelease(ctx context.Context) error {
	return a.run(ctx, OpSpiRelease, audit.EventSpiRelease, func(ctx context.Context) error {
		a.mu.Lock()
		if a.closed {
			a.mu.Unlock()
			return ErrClosed
		}
		if !a.state.Has(access.Spi) || a.state.HasAny(access.SpiPriority, access.Download) {
			s := a.state
			a.mu.Unlock()
			return fmt.Errorf("%w: spi release in %s", ErrForbidden, s)
		}
		if a.state.HasSync(access.SpiSvddSyncStart) {
			a.mu.Unlock()
			return fmt.Errorf("%w: spi power-down already in progress", ErrBusy)
		}
		if a.state.Has(access.Wired) {
			a.commit(a.state.Without(access.Spi))
			a.mu.Unlock()
			a.notifyOnly(ctx, OpSpiRelease, notify.SpiEnd)
			return nil
		}
		a.commit(a.state.WithSync(access.SpiSvddSyncStart))
		a.mu.Unlock()

		return a.svddPowerDown(ctx, OpSpiRelease, svddSide{
			holder:    access.Spi,
			start:     access.SpiSvddSyncStart,
			end:       access.SpiSvddSyncEnd,
			reason:    notify.SpiSvddSync,
			blockedBy: []access.Flag{access.Wired, access.SpiPriority},
		})
	})
}

// SpiPriorityAcquire grants a preempting SPI session. If the wired host
// holds the element it must acknowledge the handoff within the handshake
// timeout, otherwise the request fails with ErrBusy and ErrTimeout.
func (a *Arbiter) SpiPriorityAcquire(ctx context.Context) error {
	return a.run(ctx, OpSpiPriorityAcquire, audit.EventSpiPriorityAcquire, func(ctx context.Context) error {
		a.mu.Lock()
		if a.closed {
			a.mu.Unlock()
			return ErrClosed
		}
		if a.state.HasAny(access.Spi, access.SpiPriority, access.Download, access.JcopDownload) {
			s := a.state
			a.mu.Unlock()
			return fmt.Errorf("%w: %s", ErrBusy, s)
		}
		a.commit(a.state.With(access.SpiPriority))
		wired := a.state.Has(access.Wired)
		slot := a.slots.Slot(handshake.PriorityHandoff)
		if wired {
			slot.Arm()
			a.handoff = true
		}
		a.mu.Unlock()

		if wired {
			err := a.handshake(ctx, OpSpiPriorityAcquire, slot, notify.SpiPriorityStart)
			a.mu.Lock()
			a.handoff = false
			a.mu.Unlock()
			if err != nil {
				a.rollback(access.SpiPriority)
				return fmt.Errorf("%w: wired side did not yield: %w", ErrBusy, err)
			}
		}

		a.railMu.Lock()
		defer a.railMu.Unlock()

		a.mu.Lock()
		closed := a.closed
		a.mu.Unlock()
		if closed {
			return ErrClosed
		}
		if !a.rail.IsEnabled() {
			if err := a.rail.SetPower(ctx, true); err != nil {
				a.rollback(access.SpiPriority)
				return fmt.Errorf("%w: %w", ErrRail, err)
			}
		}
		return nil
	})
}

// SpiPriorityRelease ends a priority session. The session degrades to an
// ordinary SPI session; the wired host is told the priority window ended.
// It is refused while the acquire is still waiting for the wired handoff.
func (a *Arbiter) SpiPriorityRelease(ctx context.Context) error {
	return a.run(ctx, OpSpiPriorityRelease, audit.EventSpiPriorityRelease, func(ctx context.Context) error {
		a.mu.Lock()
		if a.closed {
			a.mu.Unlock()
			return ErrClosed
		}
		if !a.state.Has(access.SpiPriority) {
			a.mu.Unlock()
			return fmt.Errorf("%w: priority session not held", ErrForbidden)
		}
		if a.handoff {
			a.mu.Unlock()
			return fmt.Errorf("%w: priority handoff in progress", ErrForbidden)
		}
		a.commit(a.state.Without(access.SpiPriority).With(access.Spi))
		wired := a.state.Has(access.Wired)
		a.mu.Unlock()

		if wired {
			a.notifyOnly(ctx, OpSpiPriorityRelease, notify.SpiPriorityEnd)
		}
		return nil
	})
}

// DownloadStart marks a controller firmware download in progress.
func (a *Arbiter) DownloadStart(ctx context.Context) error {
	return a.run(ctx, OpDownloadStart, audit.EventDownloadStart, func(ctx context.Context) error {
		a.mu.Lock()
		defer a.mu.Unlock()
		if a.closed {
			return ErrClosed
		}
		if a.state.HasAny(access.Spi, access.SpiPriority) {
			return fmt.Errorf("%w: %s", ErrBusy, a.state)
		}
		a.commit(a.state.With(access.Download))
		return nil
	})
}

// DownloadEnd clears the firmware download flag.
func (a *Arbiter) DownloadEnd(ctx context.Context) error {
	return a.run(ctx, OpDownloadEnd, audit.EventDownloadEnd, func(ctx context.Context) error {
		a.mu.Lock()
		defer a.mu.Unlock()
		if a.closed {
			return ErrClosed
		}
		if !a.state.Has(access.Download) {
			return fmt.Errorf("%w: no download in progress", ErrInvalid)
		}
		a.commit(a.state.Without(access.Download))
		return nil
	})
}

// JcopDownloadStart marks a secure-OS download in progress and gives the
// registered process a bounded window to prepare. The download proceeds
// when the window expires.
func (a *Arbiter) JcopDownloadStart(ctx context.Context) error {
	return a.run(ctx, OpJcopDownloadStart, audit.EventJcopDownloadStart, func(ctx context.Context) error {
		a.mu.Lock()
		if a.closed {
			a.mu.Unlock()
			return ErrClosed
		}
		if a.state.HasAny(access.Spi, access.SpiPriority) {
			s := a.state
			a.mu.Unlock()
			return fmt.Errorf("%w: %s", ErrBusy, s)
		}
		a.commit(a.state.With(access.JcopDownload))
		slot := a.slots.Slot(handshake.Download)
		slot.Arm()
		a.mu.Unlock()

		if err := a.handshake(ctx, OpJcopDownloadStart, slot, notify.JcopDownloadStart); err != nil {
			a.log.WarnContext(ctx, "proceeding with secure-OS download without acknowledgement",
				logger.String("operation", OpJcopDownloadStart), logger.Error(err))
		}
		if a.isClosed() {
			return ErrClosed
		}
		return nil
	})
}

// JcopDownloadEnd clears the secure-OS download flag and notifies the
// registered process.
func (a *Arbiter) JcopDownloadEnd(ctx context.Context) error {
	return a.run(ctx, OpJcopDownloadEnd, audit.EventJcopDownloadEnd, func(ctx context.Context) error {
		a.mu.Lock()
		if a.closed {
			a.mu.Unlock()
			return ErrClosed
		}
		if !a.state.Has(access.JcopDownload) {
			a.mu.Unlock()
			return fmt.Errorf("%w: no secure-OS download in progress", ErrInvalid)
		}
		a.commit(a.state.Without(access.JcopDownload))
		a.mu.Unlock()

		a.notifyOnly(ctx, OpJcopDownloadEnd, notify.JcopDownloadEnd)
		return nil
	})
}

// svddSide describes one side of a rail power-down handshake.
type svddSide struct {
	holder     access.Flag
	start, end access.Sync
	reason     notify.Reason
	blockedBy  []access.Flag
}

// svddPowerDown runs the power-down handshake for side. The caller has
// already set side.start. The wait is fail-open and the rail is dropped
// only if no flag in side.blockedBy was set while waiting. Sync flags
// are cleared before returning.
func (a *Arbiter) svddPowerDown(ctx context.Context, op string, side svddSide) error {
	// The power-down must complete even if the caller gives up.
	ctx = context.WithoutCancel(ctx)

	slot := a.slots.Slot(handshake.SvddSync)
	slot.Arm()
	if err := a.handshake(ctx, op, slot, side.reason); err != nil {
		a.log.WarnContext(ctx, "powering down without acknowledgement",
			logger.String("operation", op), logger.Error(err))
	}

	a.railMu.Lock()
	defer a.railMu.Unlock()

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return ErrClosed
	}
	a.commit(a.state.WithSync(side.end))
	powerDown := !a.state.HasAny(side.blockedBy...)
	a.mu.Unlock()

	if powerDown {
		if err := a.rail.SetPower(ctx, false); err != nil {
			a.log.ErrorContext(ctx, "rail power-down failed",
				logger.String("operation", op), logger.Error(err))
		}
	} else {
		a.log.DebugContext(ctx, "rail kept up, other side acquired during handshake",
			logger.String("operation", op))
	}

	a.mu.Lock()
	if !a.closed {
		a.commit(a.state.Without(side.holder).WithoutSync(side.start).WithoutSync(side.end))
	}
	a.mu.Unlock()
	return nil
}

// handshake notifies the registered process and waits for it to release
// slot. No recipient, or a delivery failure, counts as an immediate
// acknowledgement. It returns ErrTimeout or the context error when the
// wait did not end in a release, and ErrClosed if the arbiter closed
// while waiting.
func (a *Arbiter) handshake(ctx context.Context, op string, slot *handshake.Slot, reason notify.Reason) error {
	if err := a.notifier.Notify(ctx, reason); err != nil {
		a.logNotifyError(ctx, op, reason, err)
		slot.Release()
		return nil
	}

	err := slot.Wait(ctx, a.timeout)
	a.mu.Lock()
	closed := a.closed
	a.lastWaitExpired = errors.Is(err, handshake.ErrTimeout)
	a.mu.Unlock()

	switch {
	case closed:
		return ErrClosed
	case errors.Is(err, handshake.ErrTimeout):
		a.log.WarnContext(ctx, "handshake timed out",
			logger.String("operation", op),
			logger.Stringer("purpose", slot.Purpose()),
			logger.Duration("timeout", a.timeout))
		return fmt.Errorf("%w after %s", ErrTimeout, a.timeout)
	case err != nil:
		return err
	}
	return nil
}

// notifyOnly sends a fire-and-forget notification.
func (a *Arbiter) notifyOnly(ctx context.Context, op string, reason notify.Reason) {
	if err := a.notifier.Notify(ctx, reason); err != nil {
		a.logNotifyError(ctx, op, reason, err)
	}
}

func (a *Arbiter) logNotifyError(ctx context.Context, op string, reason notify.Reason, err error) {
	fields := []logger.Field{
		logger.String("operation", op),
		logger.Stringer("reason", reason),
	}
	if errors.Is(err, notify.ErrNoRecipient) {
		a.log.DebugContext(ctx, "no registered process to notify", fields...)
		return
	}
	a.log.WarnContext(ctx, "notification not delivered", append(fields, logger.Error(err))...)
}

// rollback clears f after a failed acquisition.
func (a *Arbiter) rollback(f access.Flag) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.closed {
		a.commit(a.state.Without(f))
	}
}

func (a *Arbiter) isClosed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closed
}

// commit installs s. Callers hold mu. A state that breaks an access
// invariant is a programming error and panics.
func (a *Arbiter) commit(s access.State) {
	s.MustValidate()
	a.state = s
	metrics.SetAccessState(flagSnapshot(s))
}

func flagSnapshot(s access.State) map[string]bool {
	out := map[string]bool{access.Idle.String(): s.IsIdle()}
	for _, f := range []access.Flag{access.Wired, access.Spi, access.SpiPriority, access.Download, access.JcopDownload} {
		out[f.String()] = s.Has(f)
	}
	return out
}
