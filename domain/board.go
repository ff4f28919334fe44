package domain

import (
	"errors"
	"strings"
	"time"
)

// Board groups tasks and controls who may collaborate on them.
type Board struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Owner       string    `json:"owner"`
	Members     []string  `json:"members"`
	CreatedAt   time.Time `json:"createdAt"`
}

// BoardDraft carries the client-supplied fields for board creation.
type BoardDraft struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// BoardPatch is a partial board update.
type BoardPatch struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
}

// Normalize trims and validates the draft.
func (d *BoardDraft) Normalize() error {
	d.Name = strings.TrimSpace(d.Name)
	if d.Name == "" {
		return errors.New("board name is required")
	}
	if len(d.Name) > 100 {
		return errors.New("board name must be less than 100 characters")
	}
	if len(d.Description) > 500 {
		return errors.New("description must be less than 500 characters")
	}
	return nil
}

// Validate checks the patch without applying it.
func (p *BoardPatch) Validate() error {
	if p.Name != nil {
		n := strings.TrimSpace(*p.Name)
		if n == "" {
			return errors.New("board name is required")
		}
		if len(n) > 100 {
			return errors.New("board name must be less than 100 characters")
		}
		p.Name = &n
	}
	if p.Description != nil && len(*p.Description) > 500 {
		return errors.New("description must be less than 500 characters")
	}
	return nil
}

// Apply copies the patch onto the board.
func (p *BoardPatch) Apply(b *Board) {
	if p.Name != nil {
		b.Name = *p.Name
	}
	if p.Description != nil {
		b.Description = *p.Description
	}
}

// NewBoard builds a board owned by userID. The owner is always a member.
func NewBoard(id string, d BoardDraft, userID string, now time.Time) Board {
	return Board{
		ID:          id,
		Name:        d.Name,
		Description: d.Description,
		Owner:       userID,
		Members:     []string{userID},
		CreatedAt:   now,
	}
}

// HasMember reports whether userID may access the board. The owner is an
// implicit member even if the member list was tampered with.
func (b *Board) HasMember(userID string) bool {
	if b.Owner == userID {
		return true
	}
	for _, m := range b.Members {
		if m == userID {
			return true
		}
	}
	return false
}
