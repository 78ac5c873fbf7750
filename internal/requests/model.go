// Package requests implements the strain request workflow: members request a
// strain, a lab member volunteers to ship it, and both sides track status and
// comments until the request is closed.
package requests

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Status is the lifecycle state of a request.
type Status string

const (
	StatusUnassigned Status = "unassigned"
	StatusProcessing Status = "processing"
	StatusShipped    Status = "shipped"
	StatusReceived   Status = "received"
	StatusProblem    Status = "problem"
	StatusCancelled  Status = "cancelled"
)

// Settable lists the statuses a user may pick, in form order.
var Settable = []Status{StatusProcessing, StatusShipped, StatusReceived, StatusProblem, StatusCancelled}

// ParseStatus validates a user supplied status.
func ParseStatus(s string) (Status, error) {
	want := Status(strings.ToLower(strings.TrimSpace(s)))
	for _, st := range Settable {
		if st == want {
			return st, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
}

// Closes reports whether moving to s ends the request.
func (s Status) Closes() bool { return s == StatusReceived || s == StatusCancelled }

var (
	ErrNotFound       = errors.New("not found")
	ErrInvalidStatus  = errors.New("invalid status")
	ErrInvalidInput   = errors.New("invalid input")
	ErrNotMember      = errors.New("members only")
	ErrStrainNotFound = errors.New("strain not in inventory")
	ErrClosed         = errors.New("request is closed")
)

// User is someone who signed in through the auth proxy.
type User struct {
	ID          int64     `json:"id"`
	SocialID    string    `json:"social_id"`
	DisplayName string    `json:"display_name"`
	Email       string    `json:"email"`
	Member      bool      `json:"member"`
	LastSeen    time.Time `json:"last_seen"`
}

// Identity is what the auth proxy tells us about the caller.
type Identity struct {
	Subject string
	Name    string
	Email   string
}

// Request asks a lab to ship one strain. Organism, strain and plasmid are
// copied from the inventory when the request is placed.
type Request struct {
	ID              string    `json:"id"`
	RequesterID     int64     `json:"requester_id"`
	ShipperID       int64     `json:"shipper_id,omitempty"`
	StrainLab       string    `json:"strain_lab"`
	StrainEntry     string    `json:"strain_entry"`
	Organism        string    `json:"organism"`
	Strain          string    `json:"strain"`
	Plasmid         string    `json:"plasmid"`
	CreatedAt       time.Time `json:"created_at"`
	Status          Status    `json:"status"`
	Active          bool      `json:"active"`
	DeliveryAddress string    `json:"delivery_address"`
	PreferredEmail  string    `json:"preferred_email"`
}

// StrainID is "<lab>_<entry>".
func (r *Request) StrainID() string { return r.StrainLab + "_" + r.StrainEntry }

// Comment is a note left on a request.
type Comment struct {
	ID          int64     `json:"id"`
	RequestID   string    `json:"request_id"`
	CommenterID int64     `json:"commenter_id"`
	Body        string    `json:"body"`
	CreatedAt   time.Time `json:"created_at"`
}

// CommentView is a comment with its author's name.
type CommentView struct {
	Comment
	Commenter string `json:"commenter"`
}

// Detail is a request with the people involved and its comments.
type Detail struct {
	Request   Request       `json:"request"`
	Requester *User         `json:"requester"`
	Shipper   *User         `json:"shipper,omitempty"`
	Comments  []CommentView `json:"comments"`
}

// ListItem is one row of the request listing.
type ListItem struct {
	ID        string    `json:"id"`
	StrainID  string    `json:"strain_id"`
	CreatedAt time.Time `json:"created_at"`
	Status    Status    `json:"status"`
	Active    bool      `json:"active"`
	Requester string    `json:"requester"`
	Shipper   string    `json:"shipper,omitempty"`
	Organism  string    `json:"organism"`
	Strain    string    `json:"strain"`
	Plasmid   string    `json:"plasmid"`
}

// ListOptions filters List.
type ListOptions struct {
	ActiveOnly  bool
	RequesterID int64
}
