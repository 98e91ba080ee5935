// Package domain contains entity without logic, just meta-data
package domain

import "errors"

const (
	MaxUserIDLen      = 64
	MaxDisplayNameLen = 36
)

var (
	ErrUserIDEmpty        = errors.New("user id empty")
	ErrUserIDTooLong      = errors.New("user id too long")
	ErrDisplayNameTooLong = errors.New("display name too long")
	ErrDisplayNameEmpty   = errors.New("display name empty")
)

type UserID string

// Peer is the other participant of a matching attempt as the backend describes it.
type Peer struct {
	ID          UserID  `json:"id"`
	DisplayName string  `json:"display_name"`
	Gender      Gender  `json:"gender,omitempty"`
	Age         int     `json:"age,omitempty"`
	DistanceKm  float64 `json:"distance_km,omitempty"`
	AvatarURL   string  `json:"avatar_url,omitempty"`
}

// NewPeer is a tiny helper to avoid ad-hoc struct literals in adapters.
func NewPeer(id UserID, displayName string) (*Peer, error) {
	if err := id.Validate(); err != nil {
		return nil, err
	}
	p := &Peer{ID: id}
	if err := p.SetDisplayName(displayName); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Peer) SetDisplayName(name string) error {
	if len(name) == 0 {
		return ErrDisplayNameEmpty
	}
	if len(name) > MaxDisplayNameLen {
		return ErrDisplayNameTooLong
	}
	p.DisplayName = name
	return nil
}

func (id UserID) Validate() error {
	if len(id) == 0 {
		return ErrUserIDEmpty
	}
	if len(id) > MaxUserIDLen {
		return ErrUserIDTooLong
	}
	return nil
}
