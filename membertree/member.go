package membertree

import (
	"fmt"
	"time"
)

// Position names one of the two child slots of a tree node.
type Position string

const (
	PositionLeft  Position = "left"
	PositionRight Position = "right"
)

func (p Position) Valid() bool {
	return p == PositionLeft || p == PositionRight
}

func ParsePosition(s string) (Position, error) {
	switch Position(s) {
	case "":
		return "", nil
	case PositionLeft, PositionRight:
		return Position(s), nil
	}
	return "", fmt.Errorf("%w: position must be left or right, got %q", ErrInvalidInput, s)
}

// Member is a node of the binary placement tree.
//
// SponsorCode records who referred the member. ParentCode and Position record where the member
// actually sits, which differs from the sponsor whenever the registration spilled. The JSON
// field names match the historical members.json layout.
type Member struct {
	ID             string    `json:"id"`
	Code           string    `json:"member_code"`
	Name           string    `json:"name"`
	Email          string    `json:"email"`
	SponsorCode    string    `json:"sponsor_code,omitempty"`
	ParentCode     string    `json:"parent_code,omitempty"`
	Position       Position  `json:"position,omitempty"`
	LeftChildCode  string    `json:"left_member,omitempty"`
	RightChildCode string    `json:"right_member,omitempty"`
	LeftCount      int64     `json:"left_count"`
	RightCount     int64     `json:"right_count"`
	JoinedAt       time.Time `json:"joined_date"`
}

func (m *Member) IsRoot() bool {
	return m.ParentCode == ""
}

// Child returns the code held in the given slot, or "" when the slot is free.
func (m *Member) Child(slot Position) string {
	switch slot {
	case PositionLeft:
		return m.LeftChildCode
	case PositionRight:
		return m.RightChildCode
	}
	return ""
}

func (m *Member) setChild(slot Position, code string) {
	switch slot {
	case PositionLeft:
		m.LeftChildCode = code
	case PositionRight:
		m.RightChildCode = code
	}
}

func (m *Member) increment(slot Position) {
	switch slot {
	case PositionLeft:
		m.LeftCount++
	case PositionRight:
		m.RightCount++
	}
}

// slotOf reports which of m's slots holds child.
func (m *Member) slotOf(child string) (Position, bool) {
	switch {
	case child == "":
		return "", false
	case m.LeftChildCode == child:
		return PositionLeft, true
	case m.RightChildCode == child:
		return PositionRight, true
	}
	return "", false
}

// Placement describes where a registration landed.
type Placement struct {
	Code       string   `json:"member_code"`
	Root       bool     `json:"root"`
	ParentCode string   `json:"parent,omitempty"`
	Position   Position `json:"position,omitempty"`
	Spilled    bool     `json:"spilled"`
}

type SponsorStatus struct {
	SponsorCode    string `json:"sponsor_code"`
	SponsorName    string `json:"sponsor_name"`
	LeftAvailable  bool   `json:"left_available"`
	RightAvailable bool   `json:"right_available"`

	// DirectFull is set when neither direct slot is free and a registration would spill.
	DirectFull bool `json:"direct_full"`
}

type Stats struct {
	TotalMembers int64 `json:"total_members"`
	LeftCount    int64 `json:"left_count"`
	RightCount   int64 `json:"right_count"`
	DirectLeft   int   `json:"direct_left"`
	DirectRight  int   `json:"direct_right"`
}

// DownlineNode is a read-only view of a member and everything placed beneath it.
// Credentials are never part of the view.
type DownlineNode struct {
	Code       string        `json:"member_code"`
	Name       string        `json:"name"`
	Email      string        `json:"email"`
	Position   Position      `json:"position,omitempty"`
	LeftCount  int64         `json:"left_count"`
	RightCount int64         `json:"right_count"`
	Left       *DownlineNode `json:"left_member"`
	Right      *DownlineNode `json:"right_member"`
}

func newDownlineNode(m *Member) *DownlineNode {
	return &DownlineNode{
		Code:       m.Code,
		Name:       m.Name,
		Email:      m.Email,
		Position:   m.Position,
		LeftCount:  m.LeftCount,
		RightCount: m.RightCount,
	}
}
