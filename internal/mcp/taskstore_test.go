package mcp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskStore_CreateGetUpdateDelete(t *testing.T) {
	s := NewTaskStore()

	task := s.CreateTask(0, "write docs")
	assert.Equal(t, int64(1), task.ID)
	assert.Equal(t, StatusPending, task.Status)

	got, err := s.GetTask(task.ID)
	require.NoError(t, err)
	assert.Equal(t, "write docs", got.Title)

	updated, err := s.UpdateTask(task.ID, "write better docs")
	require.NoError(t, err)
	assert.Equal(t, "write better docs", updated.Title)

	require.NoError(t, s.DeleteTask(task.ID))
	_, err = s.GetTask(task.ID)
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestTaskStore_UnknownTaskOperationsReturnNotFound(t *testing.T) {
	s := NewTaskStore()

	_, err := s.GetTask(99)
	assert.ErrorIs(t, err, ErrTaskNotFound)

	_, err = s.UpdateTask(99, "x")
	assert.ErrorIs(t, err, ErrTaskNotFound)

	assert.ErrorIs(t, s.DeleteTask(99), ErrTaskNotFound)

	_, err = s.SetStatus(99, StatusCompleted)
	assert.ErrorIs(t, err, ErrTaskNotFound)

	_, err = s.GetDependencies(99)
	assert.ErrorIs(t, err, ErrTaskNotFound)

	_, err = s.SetDependencies(99, []int64{1})
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestTaskStore_ListTasksFiltersByGroupAndSortsByID(t *testing.T) {
	s := NewTaskStore()
	g1 := s.CreateGroup("group-1")
	g2 := s.CreateGroup("group-2")

	t3 := s.CreateTask(g1.ID, "third")
	t1 := s.CreateTask(g2.ID, "first")
	t2 := s.CreateTask(g1.ID, "second")

	group1Tasks := s.ListTasks(g1.ID)
	require.Len(t, group1Tasks, 2)
	assert.Equal(t, t3.ID, group1Tasks[0].ID)
	assert.Equal(t, t2.ID, group1Tasks[1].ID)

	all := s.ListTasks(0)
	require.Len(t, all, 3)
	assert.Equal(t, t3.ID, all[0].ID)
	assert.Equal(t, t1.ID, all[1].ID)
}

func TestTaskStore_SetStatusAndDependencies(t *testing.T) {
	s := NewTaskStore()
	a := s.CreateTask(0, "a")
	b := s.CreateTask(0, "b")

	updated, err := s.SetStatus(b.ID, StatusInProgress)
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, updated.Status)

	updated, err = s.SetDependencies(b.ID, []int64{a.ID})
	require.NoError(t, err)
	assert.Equal(t, []int64{a.ID}, updated.Dependencies)

	deps, err := s.GetDependencies(b.ID)
	require.NoError(t, err)
	assert.Equal(t, []int64{a.ID}, deps)
}

func TestTaskStore_GroupCRUD(t *testing.T) {
	s := NewTaskStore()

	g := s.CreateGroup("group-a")
	got, err := s.GetGroup(g.ID)
	require.NoError(t, err)
	assert.Equal(t, "group-a", got.Name)

	updated, err := s.UpdateGroup(g.ID, "group-a-renamed")
	require.NoError(t, err)
	assert.Equal(t, "group-a-renamed", updated.Name)

	require.NoError(t, s.DeleteGroup(g.ID))
	_, err = s.GetGroup(g.ID)
	assert.ErrorIs(t, err, ErrGroupNotFound)

	assert.ErrorIs(t, s.DeleteGroup(g.ID), ErrGroupNotFound)
}
