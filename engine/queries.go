package engine

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// Read-only queries. Every result is a copy; mutating it has no effect
// on the store.

// Balance returns the user's current balance.
func (s *LedgerStore) Balance(userID UserID) (decimal.Decimal, error) {
	u, err := s.User(userID)
	if err != nil {
		return decimal.Zero, err
	}
	return u.Balance, nil
}

// User returns a copy of the user.
func (s *LedgerStore) User(userID UserID) (*User, error) {
	var out *User
	s.View(func(snap *Snapshot) {
		if u := findUser(snap, userID); u != nil {
			out = copyUser(u)
		}
	})
	if out == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownUser, userID)
	}
	return out, nil
}

// UserByUsername looks a user up by login name.
func (s *LedgerStore) UserByUsername(username string) (*User, error) {
	var out *User
	s.View(func(snap *Snapshot) {
		for _, u := range snap.Users {
			if u.Username == username {
				out = copyUser(u)
				return
			}
		}
	})
	if out == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownUser, username)
	}
	return out, nil
}

// ActiveSession returns the user's session, or nil when idle.
func (s *LedgerStore) ActiveSession(userID UserID) (*TaskSession, error) {
	u, err := s.User(userID)
	if err != nil {
		return nil, err
	}
	return u.ActiveSession, nil
}

// ActiveSessionUsers lists users that currently have a session.
func (s *LedgerStore) ActiveSessionUsers() []UserID {
	var ids []UserID
	s.View(func(snap *Snapshot) {
		for _, u := range snap.Users {
			if u.ActiveSession != nil {
				ids = append(ids, u.ID)
			}
		}
	})
	return ids
}

// ListCompletions returns the user's completion records, oldest first.
func (s *LedgerStore) ListCompletions(userID UserID) []CompletionRecord {
	out := []CompletionRecord{}
	s.View(func(snap *Snapshot) {
		for _, r := range snap.Completions {
			if r.UserID == userID {
				out = append(out, *r)
			}
		}
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].CompletedAt.Before(out[j].CompletedAt) })
	return out
}

// ListWithdrawals returns withdrawals matching the filter, newest first.
func (s *LedgerStore) ListWithdrawals(filter WithdrawalFilter) []Withdrawal {
	out := []Withdrawal{}
	s.View(func(snap *Snapshot) {
		for _, w := range snap.Withdrawals {
			if filter.matches(w) {
				out = append(out, *w)
			}
		}
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].SubmittedAt.After(out[j].SubmittedAt) })
	return out
}

// Withdrawal returns a single withdrawal.
func (s *LedgerStore) Withdrawal(id WithdrawalID) (*Withdrawal, error) {
	var out *Withdrawal
	s.View(func(snap *Snapshot) {
		for _, w := range snap.Withdrawals {
			if w.ID == id {
				c := *w
				out = &c
				return
			}
		}
	})
	if out == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownWithdrawal, id)
	}
	return out, nil
}

// ListUsers returns all users.
func (s *LedgerStore) ListUsers() []User {
	out := []User{}
	s.View(func(snap *Snapshot) {
		for _, u := range snap.Users {
			out = append(out, *copyUser(u))
		}
	})
	return out
}

// ListTasks returns the task catalog.
func (s *LedgerStore) ListTasks() []Task {
	out := []Task{}
	s.View(func(snap *Snapshot) {
		for _, t := range snap.Tasks {
			out = append(out, *t)
		}
	})
	return out
}

// Task returns a single task.
func (s *LedgerStore) Task(id TaskID) (*Task, error) {
	var out *Task
	s.View(func(snap *Snapshot) {
		for _, t := range snap.Tasks {
			if t.ID == id {
				c := *t
				out = &c
				return
			}
		}
	})
	if out == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTask, id)
	}
	return out, nil
}

// AvailableTasks returns tasks the user has not completed yet.
func (s *LedgerStore) AvailableTasks(userID UserID) []Task {
	out := []Task{}
	s.View(func(snap *Snapshot) {
		for _, t := range snap.Tasks {
			if findCompletion(snap, userID, t.ID) == nil {
				out = append(out, *t)
			}
		}
	})
	return out
}

// Entries returns the user's ledger entries in the order applied.
func (s *LedgerStore) Entries(userID UserID) []LedgerEntry {
	out := []LedgerEntry{}
	s.View(func(snap *Snapshot) {
		for _, e := range snap.Entries {
			if e.UserID == userID {
				out = append(out, *e)
			}
		}
	})
	return out
}

// Settings returns the current settings.
func (s *LedgerStore) Settings() Settings {
	var out Settings
	s.View(func(snap *Snapshot) { out = snap.Settings })
	return out
}

func findUser(snap *Snapshot, id UserID) *User {
	for _, u := range snap.Users {
		if u.ID == id {
			return u
		}
	}
	return nil
}

func copyUser(u *User) *User {
	c := *u
	if u.ActiveSession != nil {
		sess := *u.ActiveSession
		c.ActiveSession = &sess
	}
	return &c
}
