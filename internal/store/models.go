package store

import (
	"encoding/json"
	"time"
)

// Task statuses accepted by the board.
const (
	StatusBacklog    = "Backlog"
	StatusTodo       = "To do"
	StatusInProgress = "In progress"
	StatusDone       = "Done"
)

// Comment types accepted on a task.
const (
	CommentTypeComment  = "comment"
	CommentTypeQuestion = "question"
	CommentTypeBug      = "bug"
)

func ValidStatus(status string) bool {
	switch status {
	case StatusBacklog, StatusTodo, StatusInProgress, StatusDone:
		return true
	}
	return false
}

func ValidCommentType(commentType string) bool {
	switch commentType {
	case CommentTypeComment, CommentTypeQuestion, CommentTypeBug:
		return true
	}
	return false
}

type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	Role         string    `json:"role"`
	TaskboardIDs []string  `json:"taskboards"`
	CreatedAt    time.Time `json:"createdAt"`
}

type Taskboard struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedBy   string    `json:"createdBy"`
	TaskIDs     []string  `json:"tasks"`
	UserIDs     []string  `json:"users"`
	AdminIDs    []string  `json:"admins"`
	CreatedAt   time.Time `json:"createdAt"`
}

type Task struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Status      string    `json:"status"`
	TaskboardID string    `json:"taskboardId"`
	CreatedBy   string    `json:"createdBy"`
	AssigneeIDs []string  `json:"users"`
	CommentIDs  []string  `json:"comments"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Comment.ResolvedAt is nil until an admin resolves the comment; once
// resolved it holds the resolution timestamp and ResolvedBy the admin's id.
// On the wire `resolved` is false while unresolved and the timestamp once
// resolved, never null.
type Comment struct {
	ID         string     `json:"id"`
	Text       string     `json:"text"`
	Type       string     `json:"commentType"`
	TaskID     string     `json:"task"`
	CreatedBy  string     `json:"createdBy"`
	ResolvedAt *time.Time `json:"-"`
	ResolvedBy string     `json:"markedResolvedBy,omitempty"`
	Replies    []Reply    `json:"replies"`
	CreatedAt  time.Time  `json:"createdAt"`
}

func (c Comment) Resolved() bool {
	return c.ResolvedAt != nil
}

func (c Comment) MarshalJSON() ([]byte, error) {
	type comment Comment
	wire := struct {
		comment
		Resolved any `json:"resolved"`
	}{comment: comment(c), Resolved: false}
	if c.ResolvedAt != nil {
		wire.Resolved = c.ResolvedAt
	}
	return json.Marshal(wire)
}

func (c *Comment) UnmarshalJSON(data []byte) error {
	type comment Comment
	wire := struct {
		*comment
		Resolved json.RawMessage `json:"resolved"`
	}{comment: (*comment)(c)}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	c.ResolvedAt = nil
	raw := string(wire.Resolved)
	if raw == "" || raw == "false" || raw == "null" {
		return nil
	}
	var resolvedAt time.Time
	if err := json.Unmarshal(wire.Resolved, &resolvedAt); err != nil {
		return err
	}
	c.ResolvedAt = &resolvedAt
	return nil
}

// Reply is embedded in its comment, mirroring the document shape. Immutable
// once created except for deletion.
type Reply struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	CreatedBy string    `json:"createdBy"`
	CreatedAt time.Time `json:"createdAt"`
}
