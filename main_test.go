package main

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"projex/board"
	"projex/domain"
	"projex/storage"
)

func demoBoard(t *testing.T, projectID string) domain.Board {
	t.Helper()
	f, err := readSeedFile("testdata/demo-board.yaml")
	require.NoError(t, err)
	b, err := buildBoard(projectID, f)
	require.NoError(t, err)
	return b
}

func taskIDs(c domain.Column) []int {
	ids := make([]int, 0, len(c.Tasks))
	for _, t := range c.Tasks {
		ids = append(ids, t.ID)
	}
	return ids
}

func TestBuildBoardFromDemoFile(t *testing.T) {
	b := demoBoard(t, "demo")

	assert.Equal(t, "demo", b.ID)
	assert.Equal(t, "Website Redesign", b.Title)
	require.Len(t, b.Columns, 3)
	assert.Equal(t, 5, b.TaskCount())
	assert.Equal(t, 6, b.NextTaskID)
	assert.Equal(t, []int{1, 2}, taskIDs(b.Columns[0]))
	assert.Equal(t, []int{3, 4}, taskIDs(b.Columns[1]))
	assert.Equal(t, []int{5}, taskIDs(b.Columns[2]))

	task, col, ok := b.FindTask(4)
	require.True(t, ok)
	assert.Equal(t, domain.ColumnProgress, col)
	assert.Equal(t, "API Integration", task.Name)
	assert.Equal(t, domain.PriorityMedium, task.Priority)
	assert.Equal(t, "TL", task.Assignee)
}

func TestBuildBoardWithoutColumnsUsesDefaults(t *testing.T) {
	b, err := buildBoard("p1", seedFile{})
	require.NoError(t, err)
	assert.Equal(t, domain.DefaultBoard("p1"), b)
}

func TestBuildBoardRejectsBadFiles(t *testing.T) {
	tests := []struct {
		name string
		file seedFile
		want string
	}{
		{
			name: "blank title",
			file: seedFile{Title: "   "},
			want: "title",
		},
		{
			name: "column without id",
			file: seedFile{Columns: []seedColumn{{Title: "Backlog"}}},
			want: "has no id",
		},
		{
			name: "duplicate column",
			file: seedFile{Columns: []seedColumn{{ID: "todo"}, {ID: "todo"}}},
			want: "duplicate column todo",
		},
		{
			name: "invalid task",
			file: seedFile{Columns: []seedColumn{{ID: "todo", Tasks: []domain.TaskDraft{{Name: "x", Assignee: "ABC"}}}}},
			want: "column todo task 1",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := buildBoard("p1", tt.file)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestSeedProject(t *testing.T) {
	ctx := context.Background()
	logger, _ := test.NewNullLogger()
	store := storage.NewMemoryStore()
	b := demoBoard(t, "demo")

	require.NoError(t, seedProject(ctx, store, logger, b, "alice", false))

	syncer := board.NewSynchronizer(store, logger)
	loaded, err := syncer.Load(ctx, "demo")
	require.NoError(t, err)
	assert.Equal(t, b.Title, loaded.Title)
	assert.Equal(t, b.TaskCount(), loaded.TaskCount())
	assert.Equal(t, b.NextTaskID, loaded.NextTaskID)

	owner, err := syncer.Owner(ctx, "demo")
	require.NoError(t, err)
	assert.Equal(t, "alice", owner)

	err = seedProject(ctx, store, logger, b, "bob", false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already has a board")

	empty, err := buildBoard("demo", seedFile{Title: "Fresh"})
	require.NoError(t, err)
	require.NoError(t, seedProject(ctx, store, logger, empty, "bob", true))

	loaded, err = syncer.Load(ctx, "demo")
	require.NoError(t, err)
	assert.Equal(t, "Fresh", loaded.Title)
	assert.Equal(t, 0, loaded.TaskCount())

	owner, err = syncer.Owner(ctx, "demo")
	require.NoError(t, err)
	assert.Equal(t, "alice", owner, "replacing the board keeps the owner")
}
