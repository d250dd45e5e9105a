package session

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schoolchat/internal/models"
)

func TestSessionsAreIsolated(t *testing.T) {
	a, b := New(), New()
	a.SetAuth(models.User{ID: "u1", Name: "Amina"}, "tok")

	assert.True(t, a.Authenticated())
	assert.False(t, b.Authenticated())
	assert.Equal(t, "u1", a.UserID())

	a.Clear()
	assert.False(t, a.Authenticated())
	assert.Empty(t, a.Token())
}

func TestSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "session.json")

	s := New()
	s.SetAuth(models.User{ID: "u1", Name: "Amina", Role: models.RoleStudent}, "tok")
	require.NoError(t, s.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "tok", loaded.Token())
	assert.Equal(t, "Amina", loaded.User().Name)
	assert.Equal(t, models.RoleStudent, loaded.User().Role)
}

func TestLoadMissing(t *testing.T) {
	s, err := Load(filepath.Join(t.TempDir(), "none.json"))
	require.NoError(t, err)
	assert.False(t, s.Authenticated())
}
