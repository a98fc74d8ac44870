package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// AuthorRole indicates who authored a communication.
type AuthorRole string

const (
	AuthorRequester AuthorRole = "REQUESTER"
	AuthorStaff     AuthorRole = "STAFF"
)

// OptimisticIDPrefix namespaces locally generated communication ids so they
// can never collide with backend-assigned ones.
const OptimisticIDPrefix = "local-"

// Communication is a single entry in a ticket thread.
type Communication struct {
	ID        string
	Author    AuthorRole
	Body      string
	CreatedAt time.Time
	Pending   bool
}

// NewOptimisticReply builds a requester communication that has not been
// confirmed by the backend yet.
func NewOptimisticReply(body string) Communication {
	return Communication{
		ID:        OptimisticIDPrefix + uuid.NewString(),
		Author:    AuthorRequester,
		Body:      strings.TrimSpace(body),
		CreatedAt: time.Now(),
		Pending:   true,
	}
}
