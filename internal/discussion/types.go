// Package discussion contains the core domain types and persistence
// contract for debates.
package discussion

import (
	"errors"
	"time"
)

// ErrNotFound is returned by stores for unknown discussion ids.
var ErrNotFound = errors.New("discussion: not found")

// Mode selects the prompt family used for a discussion.
type Mode string

const (
	ModeDebate   Mode = "debate"
	ModeDocument Mode = "document-collaboration"
)

// Status represents the lifecycle state of a discussion.
type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusArchived  Status = "archived"
)

// Role identifies the author kind of a turn.
type Role string

const (
	RoleHost   Role = "host"
	RoleJudge  Role = "judge"
	RoleGuest  Role = "guest"
	RoleSystem Role = "system"
)

// Attachment is pre-extracted reference text supplied with a discussion.
type Attachment struct {
	Name string `json:"name"`
	Text string `json:"text"`
}

// Discussion is a debate session between configured guest models, steered by
// a judge model.
type Discussion struct {
	ID                  string             `json:"id"`
	Question            string             `json:"question"`
	GuestModels         []string           `json:"guestModels"` // configured model identifiers, 1-4
	JudgeModel          string             `json:"judgeModel"`
	Mode                Mode               `json:"mode"`
	ConfidenceThreshold float64            `json:"confidenceThreshold"`
	SearchEnabled       bool               `json:"searchEnabled"`
	Attachments         []Attachment       `json:"attachments,omitempty"`
	Status              Status             `json:"status"`
	FinalVerdict        string             `json:"finalVerdict,omitempty"`
	ConfidenceScores    map[string]float64 `json:"confidenceScores,omitempty"`
	CreatedAt           time.Time          `json:"createdAt"`
	UpdatedAt           time.Time          `json:"updatedAt"`
}

// Turn is one atomic, append-only contribution to a discussion transcript.
// Creation order is the sole sequencing authority.
type Turn struct {
	ID           string    `json:"id"`
	DiscussionID string    `json:"discussionId"`
	Role         Role      `json:"role"`
	ModelName    string    `json:"modelName,omitempty"` // display name of the acting model
	Content      string    `json:"content"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Update is a partial mutation of a discussion. Nil fields are left untouched.
type Update struct {
	Status           *Status
	FinalVerdict     *string
	ConfidenceScores map[string]float64
}

// Store is the persistence contract for discussions and turns. Turns are
// append-only; implementations must return them in creation order.
type Store interface {
	CreateDiscussion(d *Discussion) error
	GetDiscussion(id string) (*Discussion, error)
	UpdateDiscussion(id string, upd Update) error
	ListDiscussions() ([]*Discussion, error)

	GetTurns(discussionID string) ([]Turn, error)
	AppendTurn(t Turn) (Turn, error)
}
