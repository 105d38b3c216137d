package domain

// Column identifiers of the default board.
const (
	ColumnTodo     = "todo"
	ColumnProgress = "progress"
	ColumnDone     = "done"
)

// DefaultBoardTitle is used until the owner renames the board.
const DefaultBoardTitle = "My Project Board"

// Priority ranks a task on the board.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Valid reports whether p is one of the known priorities.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

// Task represents a single card on the board.
type Task struct {
	ID          int      `json:"id" yaml:"id"`
	Name        string   `json:"name" yaml:"name"`
	Description string   `json:"description" yaml:"description"`
	Priority    Priority `json:"priority" yaml:"priority"`
	Assignee    string   `json:"assignee" yaml:"assignee"`
}

// Column is an ordered bucket of tasks. Color is a presentation token.
type Column struct {
	ID    string `json:"id" yaml:"id"`
	Title string `json:"title" yaml:"title"`
	Color string `json:"color" yaml:"color"`
	Tasks []Task `json:"tasks" yaml:"tasks"`
}

// Board is the full Kanban state of one project.
type Board struct {
	ID         string   `json:"id" yaml:"id"`
	Title      string   `json:"title" yaml:"title"`
	Columns    []Column `json:"columns" yaml:"columns"`
	NextTaskID int      `json:"nextTaskId" yaml:"nextTaskId"`
}

// DefaultColumns returns the three columns every new board starts with.
func DefaultColumns() []Column {
	return []Column{
		{ID: ColumnTodo, Title: "To Do", Color: "bg-gradient-to-br from-pink-500 to-purple-600", Tasks: []Task{}},
		{ID: ColumnProgress, Title: "In Progress", Color: "bg-gradient-to-br from-blue-500 to-cyan-600", Tasks: []Task{}},
		{ID: ColumnDone, Title: "Done", Color: "bg-gradient-to-br from-green-500 to-emerald-600", Tasks: []Task{}},
	}
}

// DefaultBoard returns the board created on first access of a project.
func DefaultBoard(projectID string) Board {
	return Board{
		ID:         projectID,
		Title:      DefaultBoardTitle,
		Columns:    DefaultColumns(),
		NextTaskID: 1,
	}
}

// Clone returns a deep copy of b.
func (b Board) Clone() Board {
	out := b
	if b.Columns == nil {
		return out
	}
	out.Columns = make([]Column, len(b.Columns))
	for i, c := range b.Columns {
		out.Columns[i] = c
		out.Columns[i].Tasks = append(make([]Task, 0, len(c.Tasks)), c.Tasks...)
	}
	return out
}

// Column returns the column with the given id.
func (b Board) Column(id string) (Column, bool) {
	i := b.columnIndex(id)
	if i < 0 {
		return Column{}, false
	}
	return b.Columns[i], true
}

// FindTask locates a task anywhere on the board.
func (b Board) FindTask(taskID int) (Task, string, bool) {
	for _, c := range b.Columns {
		if i := taskIndex(c.Tasks, taskID); i >= 0 {
			return c.Tasks[i], c.ID, true
		}
	}
	return Task{}, "", false
}

// TaskCount returns the number of tasks across all columns.
func (b Board) TaskCount() int {
	n := 0
	for _, c := range b.Columns {
		n += len(c.Tasks)
	}
	return n
}

// Normalize repairs boards read from storage: missing columns get the
// defaults, nil task slices become empty, and NextTaskID is raised above
// every id already in use.
func (b Board) Normalize() Board {
	out := b.Clone()
	if len(out.Columns) == 0 {
		out.Columns = DefaultColumns()
	}
	maxID := 0
	for i := range out.Columns {
		if out.Columns[i].Tasks == nil {
			out.Columns[i].Tasks = []Task{}
		}
		for _, t := range out.Columns[i].Tasks {
			if t.ID > maxID {
				maxID = t.ID
			}
		}
	}
	if out.NextTaskID <= maxID {
		out.NextTaskID = maxID + 1
	}
	if out.Title == "" {
		out.Title = DefaultBoardTitle
	}
	return out
}

func (b Board) columnIndex(id string) int {
	for i, c := range b.Columns {
		if c.ID == id {
			return i
		}
	}
	return -1
}

func taskIndex(tasks []Task, id int) int {
	for i, t := range tasks {
		if t.ID == id {
			return i
		}
	}
	return -1
}
