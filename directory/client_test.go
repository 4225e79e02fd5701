package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/proxyfleet/provisioning-backend/interfaces"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client := NewClient(Config{
		BaseURL:      srv.URL,
		WatchAddress: "https://hooks.example.com/directory",
		Log:          testLogger(),
	})
	return client, srv
}

func writeUsersPage(w http.ResponseWriter, nextToken string, users ...wireUser) {
	json.NewEncoder(w).Encode(usersPage{Users: users, NextPageToken: nextToken})
}

func TestGetUsersPaginates(t *testing.T) {
	// 501 users force exactly two pages at the 500-per-page cap.
	const total = 501
	var fetches int32

	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/users", r.URL.Path)
		require.Equal(t, "my_customer", r.URL.Query().Get("customer"))
		require.Equal(t, "500", r.URL.Query().Get("maxResults"))
		require.Equal(t, "full", r.URL.Query().Get("projection"))
		require.Equal(t, "email", r.URL.Query().Get("orderBy"))

		atomic.AddInt32(&fetches, 1)
		switch r.URL.Query().Get("pageToken") {
		case "":
			var users []wireUser
			for i := 0; i < 500; i++ {
				users = append(users, wireUser{PrimaryEmail: fmt.Sprintf("user%03d@example.com", i)})
			}
			writeUsersPage(w, "page-2", users...)
		case "page-2":
			writeUsersPage(w, "", wireUser{PrimaryEmail: "user500@example.com"})
		default:
			t.Errorf("unexpected page token %q", r.URL.Query().Get("pageToken"))
		}
	}))

	users, err := client.GetUsers(context.Background())
	require.NoError(t, err)
	require.Len(t, users, total)
	assert.EqualValues(t, 2, atomic.LoadInt32(&fetches))

	// Page order is preserved in the concatenated result.
	assert.Equal(t, "user000@example.com", users[0].PrimaryEmail)
	assert.Equal(t, "user500@example.com", users[total-1].PrimaryEmail)
}

func TestGetUsersNameFallsBackToEmail(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeUsersPage(w, "",
			wireUser{PrimaryEmail: "alice@example.com", Name: wireName{FullName: "Alice"}},
			wireUser{PrimaryEmail: "bob@example.com"},
		)
	}))

	users, err := client.GetUsers(context.Background())
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, "Alice", users[0].FullName)
	assert.Equal(t, "bob@example.com", users[1].FullName)
}

func TestGetUsersRetriesPageFetch(t *testing.T) {
	var attempts int32
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) == 1 {
			http.Error(w, "backend wobble", http.StatusInternalServerError)
			return
		}
		writeUsersPage(w, "", wireUser{PrimaryEmail: "alice@example.com"})
	}))

	users, err := client.GetUsers(context.Background())
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.EqualValues(t, 2, atomic.LoadInt32(&attempts))
}

func TestGetUsersSurfacesProviderErrorAfterRetryBudget(t *testing.T) {
	var attempts int32
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		http.Error(w, "quota exceeded", http.StatusServiceUnavailable)
	}))

	users, err := client.GetUsers(context.Background())
	require.Error(t, err)
	assert.Nil(t, users, "no partial results on failure")
	assert.EqualValues(t, 3, atomic.LoadInt32(&attempts), "retry budget is three attempts per page")

	// The provider's terminal status survives the retries.
	require.ErrorIs(t, err, interfaces.ErrDirectoryFetchFailed)
	var dirErr *interfaces.DirectoryError
	require.ErrorAs(t, err, &dirErr)
	assert.Equal(t, http.StatusServiceUnavailable, dirErr.Status)
	assert.Contains(t, dirErr.Body, "quota exceeded")
}

func TestGetUsersSecondPageFailureDiscardsFirst(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("pageToken") == "" {
			writeUsersPage(w, "page-2", wireUser{PrimaryEmail: "alice@example.com"})
			return
		}
		http.Error(w, "token expired", http.StatusBadRequest)
	}))

	users, err := client.GetUsers(context.Background())
	require.ErrorIs(t, err, interfaces.ErrDirectoryFetchFailed)
	assert.Nil(t, users)
}

func TestGetUsersHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Cancel between the first and second page.
		cancel()
		writeUsersPage(w, "page-2", wireUser{PrimaryEmail: "alice@example.com"})
	}))

	users, err := client.GetUsers(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, users)
}

func TestGetUsersByGroupKeyExpandsMembers(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/groups/eng@example.com/members":
			json.NewEncoder(w).Encode(membersPage{Members: []wireMember{
				{Email: "alice@example.com", Type: "USER"},
				{Email: "subteam@example.com", Type: "GROUP"},
				{Email: "", Type: "USER"},
				{Email: "bob@example.com", Type: "USER"},
			}})
		case "/users/alice@example.com":
			json.NewEncoder(w).Encode(wireUser{PrimaryEmail: "alice@example.com", Name: wireName{FullName: "Alice"}})
		case "/users/bob@example.com":
			json.NewEncoder(w).Encode(wireUser{PrimaryEmail: "bob@example.com", Name: wireName{FullName: "Bob"}})
		default:
			t.Errorf("unexpected request path %q", r.URL.Path)
			http.NotFound(w, r)
		}
	}))

	users, err := client.GetUsersByGroupKey(context.Background(), "eng@example.com")
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, "Alice", users[0].FullName)
	assert.Equal(t, "Bob", users[1].FullName)
}

func TestGetUsersByGroupKeyPaginatesMembers(t *testing.T) {
	var memberFetches int32
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/groups/eng@example.com/members" {
			atomic.AddInt32(&memberFetches, 1)
			if r.URL.Query().Get("pageToken") == "" {
				json.NewEncoder(w).Encode(membersPage{
					Members:       []wireMember{{Email: "alice@example.com", Type: "USER"}},
					NextPageToken: "page-2",
				})
			} else {
				json.NewEncoder(w).Encode(membersPage{Members: []wireMember{{Email: "bob@example.com", Type: "USER"}}})
			}
			return
		}
		json.NewEncoder(w).Encode(wireUser{PrimaryEmail: r.URL.Path[len("/users/"):]})
	}))

	users, err := client.GetUsersByGroupKey(context.Background(), "eng@example.com")
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.EqualValues(t, 2, atomic.LoadInt32(&memberFetches))
}

func TestGetUsersByGroupKeyUnknownGroup(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "group not found", http.StatusNotFound)
	}))

	_, err := client.GetUsersByGroupKey(context.Background(), "nope@example.com")
	require.ErrorIs(t, err, interfaces.ErrGroupNotFound)
}

func TestGetUserAsList(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/users/alice@example.com", r.URL.Path)
		json.NewEncoder(w).Encode(wireUser{PrimaryEmail: "alice@example.com", Name: wireName{FullName: "Alice"}})
	}))

	users, err := client.GetUserAsList(context.Background(), "alice@example.com")
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "alice@example.com", users[0].PrimaryEmail)
	assert.Equal(t, "Alice", users[0].FullName)
}

func TestGetUserAsListUnknownUser(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "user not found", http.StatusNotFound)
	}))

	_, err := client.GetUserAsList(context.Background(), "ghost@example.com")
	require.ErrorIs(t, err, interfaces.ErrUserNotFound)
}

func TestWatchUsersRegistersChannel(t *testing.T) {
	var got watchRequest
	var kindParam string
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/users/watch", r.URL.Path)
		kindParam = r.URL.Query().Get("event")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{}`))
	}))

	require.NoError(t, client.WatchUsers(context.Background(), interfaces.WatchMakeAdmin))

	assert.Equal(t, "makeAdmin", kindParam)
	assert.Equal(t, "web_hook", got.Type)
	assert.Equal(t, "https://hooks.example.com/directory", got.Address)
	assert.NotEmpty(t, got.ID)
}

func TestWatchUsersRejectsInvalidKind(t *testing.T) {
	var requests int32
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
	}))

	err := client.WatchUsers(context.Background(), interfaces.WatchKind("suspend"))
	require.Error(t, err)
	assert.Zero(t, atomic.LoadInt32(&requests), "no request for an invalid kind")
}

func TestDefaultConfig(t *testing.T) {
	client := NewClient(Config{})
	assert.Equal(t, DefaultBaseURL, client.base)
	assert.Equal(t, DefaultCustomer, client.customer)
	assert.Equal(t, "500", strconv.Itoa(maxPageResults))
}
