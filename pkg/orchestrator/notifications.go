package orchestrator

import (
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/vctt94/slotbisonrelay/pkg/session"
	"github.com/vctt94/slotbisonrelay/pkg/turbo"
)

// Following are the notification types. Add new types at the bottom of this
// list, then add a notifyX() to NotificationManager and initialize a new
// container in NewNotificationManager().

const onSpinResultNtfnType = "onSpinResult"

// OnSpinResultNtfn is called when a grid is ready to animate, with the
// timing to animate it with.
type OnSpinResultNtfn func(*session.SpinRecord, turbo.TimingProfile)

func (_ OnSpinResultNtfn) typ() string { return onSpinResultNtfnType }

const onFreeRoundCountChangedNtfnType = "onFreeRoundCountChanged"

// OnFreeRoundCountChangedNtfn is called with the free spin count to show.
type OnFreeRoundCountChangedNtfn func(int)

func (_ OnFreeRoundCountChangedNtfn) typ() string { return onFreeRoundCountChangedNtfnType }

const onBalanceChangedNtfnType = "onBalanceChanged"

// OnBalanceChangedNtfn is called with the balance to show.
type OnBalanceChangedNtfn func(decimal.Decimal)

func (_ OnBalanceChangedNtfn) typ() string { return onBalanceChangedNtfnType }

const onAuthExpiredNtfnType = "onAuthExpired"

// OnAuthExpiredNtfn is called when the backend stops accepting the session.
// The player must re-authenticate before anything else happens.
type OnAuthExpiredNtfn func()

func (_ OnAuthExpiredNtfn) typ() string { return onAuthExpiredNtfnType }

const onInsufficientBalanceNtfnType = "onInsufficientBalance"

// OnInsufficientBalanceNtfn is called when a spin is refused for lack of
// funds.
type OnInsufficientBalanceNtfn func()

func (_ OnInsufficientBalanceNtfn) typ() string { return onInsufficientBalanceNtfnType }

const onBonusSequenceEndedNtfnType = "onBonusSequenceEnded"

// OnBonusSequenceEndedNtfn is called with the total won once the last bonus
// free spin has animated.
type OnBonusSequenceEndedNtfn func(decimal.Decimal)

func (_ OnBonusSequenceEndedNtfn) typ() string { return onBonusSequenceEndedNtfnType }

const onStateChangedNtfnType = "onStateChanged"

// OnStateChangedNtfn is called on every state transition.
type OnStateChangedNtfn func(from, to State)

func (_ OnStateChangedNtfn) typ() string { return onStateChangedNtfnType }

const onWinDialogNtfnType = "onWinDialog"

// OnWinDialogNtfn asks the dialog presenter to celebrate a win. Scheduling
// waits for ReportDialogDismissed.
type OnWinDialogNtfn func(decimal.Decimal)

func (_ OnWinDialogNtfn) typ() string { return onWinDialogNtfnType }

const onRetriggerNtfnType = "onRetrigger"

// OnRetriggerNtfn is called with the number of bonus spins added by a
// retrigger.
type OnRetriggerNtfn func(int)

func (_ OnRetriggerNtfn) typ() string { return onRetriggerNtfnType }

const onNetworkErrorNtfnType = "onNetworkError"

// OnNetworkErrorNtfn is called when a retryable failure ended a spin or a
// balance refresh.
type OnNetworkErrorNtfn func(error)

func (_ OnNetworkErrorNtfn) typ() string { return onNetworkErrorNtfnType }

const onAutoplayChangedNtfnType = "onAutoplayChanged"

// OnAutoplayChangedNtfn is called with the spins left and whether autoplay
// is still running.
type OnAutoplayChangedNtfn func(remaining int, active bool)

func (_ OnAutoplayChangedNtfn) typ() string { return onAutoplayChangedNtfnType }

const onBetChangedNtfnType = "onBetChanged"

// OnBetChangedNtfn is called with the new bet state.
type OnBetChangedNtfn func(BetState)

func (_ OnBetChangedNtfn) typ() string { return onBetChangedNtfnType }

const onTimingChangedNtfnType = "onTimingChanged"

// OnTimingChangedNtfn is called with the timing profile after turbo flips.
type OnTimingChangedNtfn func(turbo.TimingProfile)

func (_ OnTimingChangedNtfn) typ() string { return onTimingChangedNtfnType }

// UINotificationType is the type of notice shown to the player.
type UINotificationType string

const (
	UINtfnOutOfBalance UINotificationType = "outofbalance"
	UINtfnAuthExpired  UINotificationType = "authexpired"
	UINtfnNetwork      UINotificationType = "network"
	UINtfnBigWin       UINotificationType = "bigwin"
	UINtfnBonusEnded   UINotificationType = "bonusended"
)

// UINotification is a short notice for the player.
type UINotification struct {
	Type UINotificationType `json:"type"`
	Text string             `json:"text"`

	// Blocking notices stay up until the condition is resolved.
	Blocking bool `json:"blocking"`
}

const onUINtfnType = "uintfn"

// OnUINotification is called when a notice should be shown to the player.
type OnUINotification func(ntfn UINotification)

func (_ OnUINotification) typ() string { return onUINtfnType }

// Following is the generic notification code.

type NotificationRegistration struct {
	unreg func() bool
}

func (reg NotificationRegistration) Unregister() bool {
	return reg.unreg()
}

type NotificationHandler interface {
	typ() string
}

type handler[T any] struct {
	handler T
	async   bool
}

type handlersFor[T any] struct {
	mtx      sync.Mutex
	next     uint
	handlers map[uint]handler[T]
}

func (hn *handlersFor[T]) register(h T, async bool) NotificationRegistration {
	var id uint

	hn.mtx.Lock()
	id, hn.next = hn.next, hn.next+1
	if hn.handlers == nil {
		hn.handlers = make(map[uint]handler[T])
	}
	hn.handlers[id] = handler[T]{handler: h, async: async}
	registered := true
	hn.mtx.Unlock()

	return NotificationRegistration{
		unreg: func() bool {
			hn.mtx.Lock()
			res := registered
			if registered {
				delete(hn.handlers, id)
				registered = false
			}
			hn.mtx.Unlock()
			return res
		},
	}
}

func (hn *handlersFor[T]) visit(f func(T)) {
	hn.mtx.Lock()
	handlers := make([]handler[T], 0, len(hn.handlers))
	for _, h := range hn.handlers {
		handlers = append(handlers, h)
	}
	hn.mtx.Unlock()

	for _, h := range handlers {
		if h.async {
			go f(h.handler)
		} else {
			f(h.handler)
		}
	}
}

func (hn *handlersFor[T]) Register(v interface{}, async bool) NotificationRegistration {
	if h, ok := v.(T); !ok {
		panic("wrong type")
	} else {
		return hn.register(h, async)
	}
}

func (hn *handlersFor[T]) AnyRegistered() bool {
	hn.mtx.Lock()
	res := len(hn.handlers) > 0
	hn.mtx.Unlock()
	return res
}

type handlersRegistry interface {
	Register(v interface{}, async bool) NotificationRegistration
	AnyRegistered() bool
}

// NotificationManager fans orchestrator events out to the collaborators.
type NotificationManager struct {
	handlers map[string]handlersRegistry
}

func (nmgr *NotificationManager) register(handler NotificationHandler, async bool) NotificationRegistration {
	handlers := nmgr.handlers[handler.typ()]
	if handlers == nil {
		panic(fmt.Sprintf("forgot to init the handler type %T "+
			"in NewNotificationManager", handler))
	}

	return handlers.Register(handler, async)
}

// Register registers a callback notification function that is called
// asynchronously to the event (i.e. in a separate goroutine).
func (nmgr *NotificationManager) Register(handler NotificationHandler) NotificationRegistration {
	return nmgr.register(handler, true)
}

// RegisterSync registers a callback notification function that is called
// synchronously to the event. This callback SHOULD return as soon as possible,
// otherwise the orchestrator might hang.
//
// Synchronous callbacks run in event order, after the orchestrator released
// its lock, so they may call back into it (for example a renderer that
// reports completion right away).
func (nmgr *NotificationManager) RegisterSync(handler NotificationHandler) NotificationRegistration {
	return nmgr.register(handler, false)
}

// AnyRegistered returns true if there are any handlers registered for the given
// handler type.
func (nmgr *NotificationManager) AnyRegistered(handler NotificationHandler) bool {
	return nmgr.handlers[handler.typ()].AnyRegistered()
}

// Following are the notifyX() calls (one for each type of notification).

func (nmgr *NotificationManager) notifySpinResult(rec *session.SpinRecord, profile turbo.TimingProfile) {
	nmgr.handlers[onSpinResultNtfnType].(*handlersFor[OnSpinResultNtfn]).
		visit(func(h OnSpinResultNtfn) { h(rec, profile) })
}

func (nmgr *NotificationManager) notifyFreeRoundCountChanged(n int) {
	nmgr.handlers[onFreeRoundCountChangedNtfnType].(*handlersFor[OnFreeRoundCountChangedNtfn]).
		visit(func(h OnFreeRoundCountChangedNtfn) { h(n) })
}

func (nmgr *NotificationManager) notifyBalanceChanged(balance decimal.Decimal) {
	nmgr.handlers[onBalanceChangedNtfnType].(*handlersFor[OnBalanceChangedNtfn]).
		visit(func(h OnBalanceChangedNtfn) { h(balance) })
}

func (nmgr *NotificationManager) notifyAuthExpired() {
	nmgr.handlers[onAuthExpiredNtfnType].(*handlersFor[OnAuthExpiredNtfn]).
		visit(func(h OnAuthExpiredNtfn) { h() })

	nmgr.notifyUI(UINotification{
		Type:     UINtfnAuthExpired,
		Text:     "Session expired, please re-authenticate",
		Blocking: true,
	})
}

func (nmgr *NotificationManager) notifyInsufficientBalance() {
	nmgr.handlers[onInsufficientBalanceNtfnType].(*handlersFor[OnInsufficientBalanceNtfn]).
		visit(func(h OnInsufficientBalanceNtfn) { h() })

	nmgr.notifyUI(UINotification{Type: UINtfnOutOfBalance, Text: "Out of balance"})
}

func (nmgr *NotificationManager) notifyBonusSequenceEnded(total decimal.Decimal) {
	nmgr.handlers[onBonusSequenceEndedNtfnType].(*handlersFor[OnBonusSequenceEndedNtfn]).
		visit(func(h OnBonusSequenceEndedNtfn) { h(total) })

	nmgr.notifyUI(UINotification{
		Type: UINtfnBonusEnded,
		Text: fmt.Sprintf("Free spins won %s", total.StringFixed(2)),
	})
}

func (nmgr *NotificationManager) notifyStateChanged(from, to State) {
	nmgr.handlers[onStateChangedNtfnType].(*handlersFor[OnStateChangedNtfn]).
		visit(func(h OnStateChangedNtfn) { h(from, to) })
}

func (nmgr *NotificationManager) notifyWinDialog(win decimal.Decimal) {
	nmgr.handlers[onWinDialogNtfnType].(*handlersFor[OnWinDialogNtfn]).
		visit(func(h OnWinDialogNtfn) { h(win) })

	nmgr.notifyUI(UINotification{
		Type: UINtfnBigWin,
		Text: fmt.Sprintf("Big win %s", win.StringFixed(2)),
	})
}

func (nmgr *NotificationManager) notifyRetrigger(n int) {
	nmgr.handlers[onRetriggerNtfnType].(*handlersFor[OnRetriggerNtfn]).
		visit(func(h OnRetriggerNtfn) { h(n) })
}

func (nmgr *NotificationManager) notifyNetworkError(err error) {
	nmgr.handlers[onNetworkErrorNtfnType].(*handlersFor[OnNetworkErrorNtfn]).
		visit(func(h OnNetworkErrorNtfn) { h(err) })

	nmgr.notifyUI(UINotification{Type: UINtfnNetwork, Text: "Connection problem, try again"})
}

func (nmgr *NotificationManager) notifyAutoplayChanged(remaining int, active bool) {
	nmgr.handlers[onAutoplayChangedNtfnType].(*handlersFor[OnAutoplayChangedNtfn]).
		visit(func(h OnAutoplayChangedNtfn) { h(remaining, active) })
}

func (nmgr *NotificationManager) notifyBetChanged(bet BetState) {
	nmgr.handlers[onBetChangedNtfnType].(*handlersFor[OnBetChangedNtfn]).
		visit(func(h OnBetChangedNtfn) { h(bet) })
}

func (nmgr *NotificationManager) notifyTimingChanged(profile turbo.TimingProfile) {
	nmgr.handlers[onTimingChangedNtfnType].(*handlersFor[OnTimingChangedNtfn]).
		visit(func(h OnTimingChangedNtfn) { h(profile) })
}

func (nmgr *NotificationManager) notifyUI(n UINotification) {
	nmgr.handlers[onUINtfnType].(*handlersFor[OnUINotification]).
		visit(func(h OnUINotification) { h(n) })
}

func NewNotificationManager() *NotificationManager {
	return &NotificationManager{
		handlers: map[string]handlersRegistry{
			onSpinResultNtfnType:            &handlersFor[OnSpinResultNtfn]{},
			onFreeRoundCountChangedNtfnType: &handlersFor[OnFreeRoundCountChangedNtfn]{},
			onBalanceChangedNtfnType:        &handlersFor[OnBalanceChangedNtfn]{},
			onAuthExpiredNtfnType:           &handlersFor[OnAuthExpiredNtfn]{},
			onInsufficientBalanceNtfnType:   &handlersFor[OnInsufficientBalanceNtfn]{},
			onBonusSequenceEndedNtfnType:    &handlersFor[OnBonusSequenceEndedNtfn]{},
			onStateChangedNtfnType:          &handlersFor[OnStateChangedNtfn]{},
			onWinDialogNtfnType:             &handlersFor[OnWinDialogNtfn]{},
			onRetriggerNtfnType:             &handlersFor[OnRetriggerNtfn]{},
			onNetworkErrorNtfnType:          &handlersFor[OnNetworkErrorNtfn]{},
			onAutoplayChangedNtfnType:       &handlersFor[OnAutoplayChangedNtfn]{},
			onBetChangedNtfnType:            &handlersFor[OnBetChangedNtfn]{},
			onTimingChangedNtfnType:         &handlersFor[OnTimingChangedNtfn]{},

			onUINtfnType: &handlersFor[OnUINotification]{},
		},
	}
}
