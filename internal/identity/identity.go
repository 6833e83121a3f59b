// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package identity connects an authentication source to the chat session.
// The chat core only ever sees the opaque user id.
package identity

import (
	"errors"
	"fmt"
	"os/user"
	"strings"
	"sync"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog"
)

// ErrNoUser is returned when no user id can be determined.
var ErrNoUser = errors.New("no user id")

// User is the signed-in person. Only ID is required.
type User struct {
	ID        string `env:"POCKETLLM_USER"`
	Name      string `env:"POCKETLLM_USER_NAME"`
	AvatarURL string `env:"POCKETLLM_USER_AVATAR"`
	Email     string `env:"POCKETLLM_USER_EMAIL"`
}

// DisplayName prefers the name, then the email, then the id.
func (u User) DisplayName() string {
	switch {
	case u.Name != "":
		return u.Name
	case u.Email != "":
		return u.Email
	default:
		return u.ID
	}
}

// Session is what sign-in and sign-out act on.
type Session interface {
	SetCurrentUser(id string)
	Logout()
}

// =============================================================================
// BINDER
// =============================================================================

// Binder forwards authentication changes to a Session.
type Binder struct {
	session Session
	log     zerolog.Logger

	mu      sync.Mutex
	current *User
}

// NewBinder returns a Binder with nobody signed in.
func NewBinder(session Session, log zerolog.Logger) *Binder {
	return &Binder{session: session, log: log}
}

// SignIn makes u the current user.
func (b *Binder) SignIn(u User) error {
	u.ID = strings.TrimSpace(u.ID)
	if u.ID == "" {
		return ErrNoUser
	}

	b.mu.Lock()
	b.current = &u
	b.mu.Unlock()

	b.session.SetCurrentUser(u.ID)
	b.log.Info().Str("user", u.ID).Msg("signed in")
	return nil
}

// SignOut clears the current user. Stored conversations are kept.
func (b *Binder) SignOut() {
	b.mu.Lock()
	prev := b.current
	b.current = nil
	b.mu.Unlock()

	b.session.Logout()
	if prev != nil {
		b.log.Info().Str("user", prev.ID).Msg("signed out")
	}
}

// Current returns the signed-in user.
func (b *Binder) Current() (User, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.current == nil {
		return User{}, false
	}
	return *b.current, true
}

// =============================================================================
// RESOLUTION
// =============================================================================

// Resolve picks the local user: id when non-empty, then the POCKETLLM_USER*
// environment variables, then the operating system account.
func Resolve(id string) (User, error) {
	var u User
	if err := env.Parse(&u); err != nil {
		return User{}, fmt.Errorf("failed to read user from environment: %w", err)
	}
	if id = strings.TrimSpace(id); id != "" {
		u.ID = id
	}
	if u.ID != "" {
		return u, nil
	}

	osUser, err := user.Current()
	if err != nil || osUser.Username == "" {
		return User{}, ErrNoUser
	}
	u.ID = osUser.Username
	if u.Name == "" {
		u.Name = osUser.Name
	}
	return u, nil
}
