package domain

import (
	"strings"
	"unicode/utf8"
)

// MaxAssigneeLen is the longest accepted assignee (initials).
const MaxAssigneeLen = 2

// TaskDraft carries the fields of a task being created.
type TaskDraft struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Priority    Priority `json:"priority"`
	Assignee    string   `json:"assignee"`
}

// TaskPatch carries partial changes for an existing task. ColumnID names the
// target column; empty keeps the task where it is.
type TaskPatch struct {
	Name        *string   `json:"name"`
	Description *string   `json:"description"`
	Priority    *Priority `json:"priority"`
	Assignee    *string   `json:"assignee"`
	ColumnID    string    `json:"columnId"`
}

// CreateTask appends a new task to the named column. An empty columnID means
// the todo column. An unknown column leaves the board unchanged and returns a
// zero Task.
func CreateTask(b Board, columnID string, draft TaskDraft) (Board, Task, error) {
	if columnID == "" {
		columnID = ColumnTodo
	}
	t := Task{
		Name:        draft.Name,
		Description: draft.Description,
		Priority:    draft.Priority,
		Assignee:    draft.Assignee,
	}
	t, err := validateTask(t)
	if err != nil {
		return b, Task{}, err
	}
	ci := b.columnIndex(columnID)
	if ci < 0 {
		return b, Task{}, nil
	}

	out := b.Clone()
	if out.NextTaskID <= 0 {
		out = out.Normalize()
	}
	t.ID = out.NextTaskID
	out.NextTaskID++
	out.Columns[ci].Tasks = append(out.Columns[ci].Tasks, t)
	return out, t, nil
}

// EditTask applies patch to the task with taskID. The task is looked up in
// sourceColumnID, then in the patch's target column, so repeating an edit that
// also moved the task is idempotent. In the target column an entry with the
// same id is replaced in place, otherwise the task is appended.
func EditTask(b Board, taskID int, sourceColumnID string, patch TaskPatch) (Board, error) {
	targetID := patch.ColumnID
	if targetID == "" {
		targetID = sourceColumnID
	}
	si := b.columnIndex(sourceColumnID)
	ti := b.columnIndex(targetID)
	if ti < 0 {
		return b, nil
	}

	var (
		base  Task
		found bool
	)
	if si >= 0 {
		if i := taskIndex(b.Columns[si].Tasks, taskID); i >= 0 {
			base, found = b.Columns[si].Tasks[i], true
		}
	}
	if !found {
		if i := taskIndex(b.Columns[ti].Tasks, taskID); i >= 0 {
			base, found = b.Columns[ti].Tasks[i], true
		}
	}
	if !found {
		return b, nil
	}

	edited, err := validateTask(applyPatch(base, patch))
	if err != nil {
		return b, err
	}

	out := b.Clone()
	if si >= 0 && si != ti {
		out.Columns[si].Tasks = removeTask(out.Columns[si].Tasks, taskID)
	}
	target := out.Columns[ti].Tasks
	if i := taskIndex(target, taskID); i >= 0 {
		target[i] = edited
	} else {
		out.Columns[ti].Tasks = append(target, edited)
	}
	return out, nil
}

// DeleteTask removes the task from the named column. Missing tasks or columns
// leave the board unchanged.
func DeleteTask(b Board, taskID int, columnID string) Board {
	ci := b.columnIndex(columnID)
	if ci < 0 || taskIndex(b.Columns[ci].Tasks, taskID) < 0 {
		return b
	}
	out := b.Clone()
	out.Columns[ci].Tasks = removeTask(out.Columns[ci].Tasks, taskID)
	return out
}

// MoveTask relocates a task to the end of the target column, keeping its
// fields. Moving within the same column is a no-op, as is moving a task that
// is not in the source column or into a column that does not exist.
func MoveTask(b Board, taskID int, sourceColumnID, targetColumnID string) Board {
	if sourceColumnID == targetColumnID {
		return b
	}
	si := b.columnIndex(sourceColumnID)
	ti := b.columnIndex(targetColumnID)
	if si < 0 || ti < 0 {
		return b
	}
	i := taskIndex(b.Columns[si].Tasks, taskID)
	if i < 0 {
		return b
	}
	task := b.Columns[si].Tasks[i]

	out := b.Clone()
	out.Columns[si].Tasks = removeTask(out.Columns[si].Tasks, taskID)
	out.Columns[ti].Tasks = append(out.Columns[ti].Tasks, task)
	return out
}

// RenameBoard sets the board title.
func RenameBoard(b Board, title string) (Board, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return b, invalid("title", "must not be blank")
	}
	out := b.Clone()
	out.Title = title
	return out, nil
}

func applyPatch(t Task, p TaskPatch) Task {
	if p.Name != nil {
		t.Name = *p.Name
	}
	if p.Description != nil {
		t.Description = *p.Description
	}
	if p.Priority != nil {
		t.Priority = *p.Priority
	}
	if p.Assignee != nil {
		t.Assignee = *p.Assignee
	}
	return t
}

func validateTask(t Task) (Task, error) {
	if strings.TrimSpace(t.Name) == "" {
		return t, invalid("name", "task name is required")
	}
	if t.Priority == "" {
		t.Priority = PriorityMedium
	}
	if !t.Priority.Valid() {
		return t, invalid("priority", "must be one of low, medium, high")
	}
	t.Assignee = strings.TrimSpace(t.Assignee)
	if utf8.RuneCountInString(t.Assignee) > MaxAssigneeLen {
		return t, invalid("assignee", "at most two characters")
	}
	return t, nil
}

func removeTask(tasks []Task, id int) []Task {
	out := tasks[:0]
	for _, t := range tasks {
		if t.ID != id {
			out = append(out, t)
		}
	}
	return out
}
