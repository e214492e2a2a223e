package status

import (
	"testing"

	"github.com/matheus3301/wpphub/internal/bus"
)

func TestInitialState(t *testing.T) {
	m := NewMachine("s1", 0, nil)
	snap := m.Snapshot()
	if snap.State != Pending {
		t.Errorf("initial state = %s, want pending", snap.State)
	}
	if snap.RetryCount != 0 {
		t.Errorf("initial retries = %d, want 0", snap.RetryCount)
	}
}

func TestValidTransitions(t *testing.T) {
	tests := []struct {
		from State
		to   State
	}{
		{Pending, Connected},
		{Pending, Error},
		{Pending, Pending},
		{Connected, Disconnected},
		{Connected, Error},
		{Connected, Pending},
		{Disconnected, Pending},
		{Disconnected, Error},
		{Error, Pending},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			m := NewMachine("s1", 0, nil)
			walkTo(t, m, tt.from)
			if err := m.Transition(tt.to); err != nil {
				t.Errorf("Transition(%s -> %s) error = %v", tt.from, tt.to, err)
			}
			if m.Current() != tt.to {
				t.Errorf("state = %s, want %s", m.Current(), tt.to)
			}
		})
	}
}

func TestInvalidTransitions(t *testing.T) {
	tests := []struct {
		from State
		to   State
	}{
		{Error, Connected},
		{Error, Disconnected},
		{Disconnected, Connected},
		{Disconnected, Disconnected},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			m := NewMachine("s1", 0, nil)
			walkTo(t, m, tt.from)
			if err := m.Transition(tt.to); err == nil {
				t.Errorf("Transition(%s -> %s) should fail", tt.from, tt.to)
			}
			if m.Current() != tt.from {
				t.Errorf("state = %s, want %s (unchanged)", m.Current(), tt.from)
			}
		})
	}
}

func TestTransitionEmitsEvent(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe("session.", 10)
	defer unsub()

	m := NewMachine("acct-1", 0, b)
	if err := m.Authorize("5551234"); err != nil {
		t.Fatal(err)
	}

	evt := <-ch
	if evt.Kind != bus.KindStatusChanged {
		t.Errorf("event kind = %q, want %s", evt.Kind, bus.KindStatusChanged)
	}
	if evt.Session != "acct-1" {
		t.Errorf("event session = %q, want acct-1", evt.Session)
	}
	change, ok := evt.Payload.(StatusChange)
	if !ok {
		t.Fatalf("payload type = %T, want StatusChange", evt.Payload)
	}
	if change.From != Pending || change.To != Connected {
		t.Errorf("change = %v -> %v, want pending -> connected", change.From, change.To)
	}
}

func TestAuthorizeResetsRetries(t *testing.T) {
	m := NewMachine("s1", 0, nil)
	for range 2 {
		if ok, err := m.Retry(); err != nil || !ok {
			t.Fatalf("Retry() = %v, %v", ok, err)
		}
	}
	if got := m.Snapshot().RetryCount; got != 2 {
		t.Fatalf("retries = %d, want 2", got)
	}

	if err := m.Authorize("5551234"); err != nil {
		t.Fatal(err)
	}
	snap := m.Snapshot()
	if snap.State != Connected || snap.RetryCount != 0 || snap.Phone != "5551234" || snap.LastError != "" {
		t.Errorf("snapshot = %+v, want connected/0/5551234/no error", snap)
	}
}

// TestRetryBudget walks four restart-required closes: three retries, then Error.
func TestRetryBudget(t *testing.T) {
	m := NewMachine("s1", 3, nil)
	walkTo(t, m, Connected)

	for i := 1; i <= 3; i++ {
		ok, err := m.Retry()
		if err != nil {
			t.Fatalf("retry %d: %v", i, err)
		}
		if !ok {
			t.Fatalf("retry %d should schedule a reconnect", i)
		}
		if got := m.Snapshot().RetryCount; got != i {
			t.Errorf("retry %d: count = %d", i, got)
		}
		if m.Current() != Pending {
			t.Errorf("retry %d: state = %s, want pending", i, m.Current())
		}
	}

	ok, err := m.Retry()
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("fourth retry should not schedule a reconnect")
	}
	snap := m.Snapshot()
	if snap.State != Error {
		t.Errorf("state = %s, want error", snap.State)
	}
	if snap.RetryCount > 3 {
		t.Errorf("retry count = %d, must not exceed 3", snap.RetryCount)
	}
	if snap.LastError != MsgRetriesExceeded {
		t.Errorf("last error = %q, want %q", snap.LastError, MsgRetriesExceeded)
	}
}

func TestLoseAndFailRecordMessages(t *testing.T) {
	m := NewMachine("s1", 0, nil)
	walkTo(t, m, Connected)

	if err := m.Lose(""); err != nil {
		t.Fatal(err)
	}
	if snap := m.Snapshot(); snap.State != Disconnected || snap.LastError != MsgConnectionLost {
		t.Errorf("after Lose: %+v", snap)
	}

	if err := m.Fail(MsgLoggedOut); err != nil {
		t.Fatal(err)
	}
	if snap := m.Snapshot(); snap.State != Error || snap.LastError != MsgLoggedOut {
		t.Errorf("after Fail: %+v", snap)
	}
}

func TestCloseHandlingRejectedAfterFailure(t *testing.T) {
	m := NewMachine("s1", 0, nil)
	walkTo(t, m, Connected)
	if err := m.Fail(MsgLoggedOut); err != nil {
		t.Fatal(err)
	}

	retry, err := m.Retry()
	if err == nil || retry {
		t.Errorf("Retry() from error = %v, %v; want false and an error", retry, err)
	}
	if err := m.Lose("late close"); err == nil {
		t.Error("Lose() from error should be rejected")
	}
	snap := m.Snapshot()
	if snap.State != Error || snap.LastError != MsgLoggedOut || snap.RetryCount != 0 {
		t.Errorf("snapshot = %+v, want error with logout message and no retries", snap)
	}
}

func TestRetryRejectedWhileDisconnected(t *testing.T) {
	m := NewMachine("s1", 0, nil)
	walkTo(t, m, Disconnected)
	if _, err := m.Retry(); err == nil {
		t.Error("Retry() from disconnected should be rejected")
	}
	if m.Current() != Disconnected {
		t.Errorf("state = %s, want disconnected", m.Current())
	}
}

func TestResetClearsEverything(t *testing.T) {
	m := NewMachine("s1", 0, nil)
	walkTo(t, m, Connected)
	_ = m.Fail(MsgLoggedOut)

	if err := m.Reset(); err != nil {
		t.Fatal(err)
	}
	snap := m.Snapshot()
	if snap != (Snapshot{State: Pending}) {
		t.Errorf("snapshot after reset = %+v, want zeroed pending", snap)
	}
}

func TestReconnectingKeepsRetries(t *testing.T) {
	m := NewMachine("s1", 0, nil)
	_, _ = m.Retry()
	walkTo(t, m, Disconnected)

	if err := m.Reconnecting(); err != nil {
		t.Fatal(err)
	}
	if snap := m.Snapshot(); snap.State != Pending || snap.RetryCount != 1 {
		t.Errorf("snapshot = %+v, want pending with 1 retry", snap)
	}
	// Already pending: no-op.
	if err := m.Reconnecting(); err != nil {
		t.Errorf("Reconnecting() while pending: %v", err)
	}
}

// walkTo is a helper that transitions the machine to a target state.
func walkTo(t *testing.T, m *Machine, target State) {
	t.Helper()
	paths := map[State][]State{
		Pending:      {},
		Connected:    {Connected},
		Disconnected: {Connected, Disconnected},
		Error:        {Error},
	}
	for _, s := range paths[target] {
		if err := m.Transition(s); err != nil {
			t.Fatalf("walkTo(%s): %v", target, err)
		}
	}
}
