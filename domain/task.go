package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Status is the column a task lives in.
type Status string

const (
	StatusTodo       Status = "todo"
	StatusInProgress Status = "in-progress"
	StatusDone       Status = "done"
)

// Priority marks task urgency.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

const (
	maxTitleLen       = 200
	maxDescriptionLen = 1000
	maxTags           = 10
)

var (
	// ErrNotFound signals the referenced board or task does not exist.
	ErrNotFound = errors.New("not found")
	// ErrAccessDenied signals the principal lacks rights to the board.
	ErrAccessDenied = errors.New("access denied")
)

// Task represents a single board item.
type Task struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Status      Status    `json:"status"`
	Priority    Priority  `json:"priority"`
	BoardID     string    `json:"boardId"`
	AssignedTo  string    `json:"assignedTo,omitempty"`
	Tags        []string  `json:"tags,omitempty"`
	Position    int       `json:"position"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// TaskDraft carries the client-supplied fields for task creation.
type TaskDraft struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Status      Status   `json:"status"`
	Priority    Priority `json:"priority"`
	BoardID     string   `json:"board"`
	Tags        []string `json:"tags"`
}

// TaskPatch is a partial task update. Nil fields are left untouched.
type TaskPatch struct {
	Title       *string   `json:"title"`
	Description *string   `json:"description"`
	Status      *Status   `json:"status"`
	Priority    *Priority `json:"priority"`
	Tags        *[]string `json:"tags"`
	Position    *int      `json:"position"`
}

// ValidStatus reports whether s is one of the three known columns.
func ValidStatus(s Status) bool {
	switch s {
	case StatusTodo, StatusInProgress, StatusDone:
		return true
	}
	return false
}

// ValidPriority reports whether p is a known priority.
func ValidPriority(p Priority) bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

// Normalize trims the draft, fills defaults and validates field constraints.
func (d *TaskDraft) Normalize() error {
	d.Title = strings.TrimSpace(d.Title)
	if d.Title == "" {
		return errors.New("task title is required")
	}
	if len(d.Title) > maxTitleLen {
		return fmt.Errorf("task title must be less than %d characters", maxTitleLen)
	}
	if len(d.Description) > maxDescriptionLen {
		return fmt.Errorf("description must be less than %d characters", maxDescriptionLen)
	}
	if d.Status == "" {
		d.Status = StatusTodo
	}
	if !ValidStatus(d.Status) {
		return errors.New("status must be todo, in-progress, or done")
	}
	if d.Priority == "" {
		d.Priority = PriorityMedium
	}
	if !ValidPriority(d.Priority) {
		return errors.New("priority must be low, medium, or high")
	}
	if d.BoardID == "" {
		return errors.New("board is required")
	}
	tags, err := NormalizeTags(d.Tags)
	if err != nil {
		return err
	}
	d.Tags = tags
	return nil
}

// Validate checks the patch without applying it.
func (p *TaskPatch) Validate() error {
	if p.Title != nil {
		t := strings.TrimSpace(*p.Title)
		if t == "" {
			return errors.New("task title is required")
		}
		if len(t) > maxTitleLen {
			return fmt.Errorf("task title must be less than %d characters", maxTitleLen)
		}
		p.Title = &t
	}
	if p.Description != nil && len(*p.Description) > maxDescriptionLen {
		return fmt.Errorf("description must be less than %d characters", maxDescriptionLen)
	}
	if p.Status != nil && !ValidStatus(*p.Status) {
		return errors.New("status must be todo, in-progress, or done")
	}
	if p.Priority != nil && !ValidPriority(*p.Priority) {
		return errors.New("priority must be low, medium, or high")
	}
	if p.Position != nil && *p.Position < 0 {
		return errors.New("position must not be negative")
	}
	if p.Tags != nil {
		tags, err := NormalizeTags(*p.Tags)
		if err != nil {
			return err
		}
		p.Tags = &tags
	}
	return nil
}

// Apply copies the patch onto the task, leaving nil fields alone.
func (p *TaskPatch) Apply(t *Task) {
	if p.Title != nil {
		t.Title = *p.Title
	}
	if p.Description != nil {
		t.Description = *p.Description
	}
	if p.Status != nil {
		t.Status = *p.Status
	}
	if p.Priority != nil {
		t.Priority = *p.Priority
	}
	if p.Tags != nil {
		t.Tags = append([]string(nil), (*p.Tags)...)
	}
	if p.Position != nil {
		t.Position = *p.Position
	}
}

// NormalizeTags trims each tag, drops empty entries and enforces the tag cap.
func NormalizeTags(tags []string) ([]string, error) {
	if len(tags) == 0 {
		return nil, nil
	}
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}
		out = append(out, tag)
	}
	if len(out) > maxTags {
		return nil, fmt.Errorf("maximum %d tags allowed", maxTags)
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}
