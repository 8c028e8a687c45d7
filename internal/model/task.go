package model

import (
	"strings"
	"time"
)

type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusCompleted  TaskStatus = "completed"
)

// Open reports whether the task still needs work.
func (s TaskStatus) Open() bool {
	return !strings.EqualFold(string(s), string(TaskStatusCompleted))
}

type Task struct {
	ID      int64      `json:"id"`
	Title   string     `json:"title"`
	Status  TaskStatus `json:"status"`
	DueDate *time.Time `json:"due_date,omitempty"`
}

type Volunteer struct {
	ID               int64      `json:"id"`
	FullName         string     `json:"full_name"`
	Email            *string    `json:"email,omitempty"`
	LastReminderSent *time.Time `json:"last_reminder_sent,omitempty"`
}

// Address returns the trimmed email and whether one is present.
func (v Volunteer) Address() (string, bool) {
	if v.Email == nil {
		return "", false
	}
	addr := strings.TrimSpace(*v.Email)
	return addr, addr != ""
}

type Assignment struct {
	TaskID      int64 `json:"task_id"`
	VolunteerID int64 `json:"volunteer_id"`
}

// Pair is one (task, volunteer) combination under consideration.
type Pair struct {
	Task      Task
	Volunteer Volunteer
}

// VolunteerGroup holds a volunteer and all of their open assigned tasks.
type VolunteerGroup struct {
	Volunteer Volunteer
	Tasks     []Task
}
