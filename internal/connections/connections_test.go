package connections

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schoolchat/internal/apperr"
	"schoolchat/internal/models"
)

type fakeAPI struct {
	users       []models.User
	sendErr     error
	respondErr  error
	connections []models.User
	pending     []models.ConnectionRequest
	sent        []string
	responded   []string
}

func (f *fakeAPI) SearchUsers(_ context.Context, role string) ([]models.User, error) {
	var out []models.User
	for _, u := range f.users {
		if role == "" || u.Role == role {
			out = append(out, u)
		}
	}
	return out, nil
}

func (f *fakeAPI) SendConnectionRequest(_ context.Context, id string) (models.ConnectionRequest, error) {
	f.sent = append(f.sent, id)
	if f.sendErr != nil {
		return models.ConnectionRequest{}, f.sendErr
	}
	return models.ConnectionRequest{ID: "r-" + id, Status: models.RequestPending}, nil
}

func (f *fakeAPI) RespondConnectionRequest(_ context.Context, id string, accept bool) (models.ConnectionRequest, error) {
	f.responded = append(f.responded, id)
	if f.respondErr != nil {
		return models.ConnectionRequest{}, f.respondErr
	}
	return models.ConnectionRequest{ID: id, Status: models.RequestAccepted}, nil
}

func (f *fakeAPI) Connections(context.Context) ([]models.User, error) { return f.connections, nil }

func (f *fakeAPI) PendingRequests(context.Context) ([]models.ConnectionRequest, error) {
	return f.pending, nil
}

func teachers() []models.User {
	return []models.User{
		{ID: "t1", Name: "Ms Okafor", Role: models.RoleTeacher},
		{ID: "t2", Name: "Mr Diallo", Role: models.RoleTeacher},
		{ID: "s1", Name: "Kofi", Role: models.RoleStudent},
	}
}

func TestSendRequestRemovesTargetFromSearch(t *testing.T) {
	api := &fakeAPI{users: teachers()}
	g := New(api, nil)

	found, err := g.Search(context.Background(), models.RoleTeacher)
	require.NoError(t, err)
	require.Len(t, found, 2)

	_, err = g.SendRequest(context.Background(), "t1")
	require.NoError(t, err)

	results := g.SearchResults()
	require.Len(t, results, 1)
	assert.Equal(t, "t2", results[0].ID)
	// the slice returned by Search is not affected
	assert.Len(t, found, 2)
}

func TestDuplicateRequestSurfacesAndKeepsResults(t *testing.T) {
	api := &fakeAPI{users: teachers(), sendErr: apperr.New(apperr.DuplicateRequest, "Request already sent")}
	g := New(api, nil)
	_, err := g.Search(context.Background(), "")
	require.NoError(t, err)

	_, err = g.SendRequest(context.Background(), "t1")
	assert.True(t, apperr.Is(err, apperr.DuplicateRequest))
	assert.Equal(t, "Request already sent", apperr.Message(err))
	assert.Len(t, g.SearchResults(), 3)
}

func TestRapidSendsAreNotDeduplicated(t *testing.T) {
	api := &fakeAPI{users: teachers()}
	g := New(api, nil)
	_, _ = g.SendRequest(context.Background(), "t1")
	_, _ = g.SendRequest(context.Background(), "t1")
	assert.Equal(t, []string{"t1", "t1"}, api.sent)
}

func TestRespondRequestDoesNotTouchLocalViews(t *testing.T) {
	api := &fakeAPI{pending: []models.ConnectionRequest{{ID: "r1"}}}
	g := New(api, nil)
	require.NoError(t, g.Refresh(context.Background()))
	require.Len(t, g.Pending(), 1)

	api.respondErr = apperr.New(apperr.NetworkFailure, "")
	_, err := g.RespondRequest(context.Background(), "r1", true)
	assert.True(t, apperr.Is(err, apperr.NetworkFailure))
	assert.Len(t, g.Pending(), 1)

	api.respondErr = nil
	_, err = g.RespondRequest(context.Background(), "r1", true)
	require.NoError(t, err)
	// still stale until the next fetch
	assert.Len(t, g.Pending(), 1)

	api.pending = nil
	api.connections = []models.User{{ID: "a"}}
	require.NoError(t, g.Refresh(context.Background()))
	assert.Empty(t, g.Pending())
	peer, ok := g.Peer("a")
	assert.True(t, ok)
	assert.Equal(t, "a", peer.ID)
}
