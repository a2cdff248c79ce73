// Package domain contains entity without logic, just meta-data
package domain

import (
	"errors"
	"slices"
)

const MaxDisplayNameLen = 64

var (
	ErrDisplayNameTooLong = errors.New("display name too long")
	ErrDisplayNameEmpty   = errors.New("display name empty")
)

type PeerID string

type Peer struct {
	ID                  PeerID   `json:"id"`
	DisplayName         string   `json:"displayName"`
	Picture             string   `json:"picture,omitempty"`
	Roles               []RoleID `json:"roles"`
	RaisedHand          bool     `json:"raisedHand"`
	RaisedHandTimestamp int64    `json:"raisedHandTimestamp,omitempty"`
}

func (p *Peer) HasRole(id RoleID) bool {
	return slices.Contains(p.Roles, id)
}

func (p *Peer) AddRole(id RoleID) {
	if !p.HasRole(id) {
		p.Roles = append(p.Roles, id)
	}
}

func (p *Peer) RemoveRole(id RoleID) {
	p.Roles = slices.DeleteFunc(p.Roles, func(r RoleID) bool { return r == id })
}

// LobbyPeer is a peer parked in the lobby waiting for promotion.
type LobbyPeer struct {
	ID                  PeerID `json:"id"`
	DisplayName         string `json:"displayName,omitempty"`
	Picture             string `json:"picture,omitempty"`
	PromotionInProgress bool   `json:"-"`
}

func ValidateDisplayName(name string) error {
	if len(name) == 0 {
		return ErrDisplayNameEmpty
	}
	if len(name) > MaxDisplayNameLen {
		return ErrDisplayNameTooLong
	}
	return nil
}
