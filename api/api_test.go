package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shoenig/test/must"

	"github.com/lionheart1022/betwatch/ci"
	"github.com/lionheart1022/betwatch/observer/structs"
)

func testClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewClient(&Config{Address: srv.URL})
	must.NoError(t, err)
	return c
}

func TestClient_BadAddress(t *testing.T) {
	ci.Parallel(t)

	_, err := NewClient(&Config{Address: "observer-b:8021"})
	must.Error(t, err)

	_, err = NewClient(&Config{Address: "ftp://observer-b"})
	must.ErrorContains(t, err, "unknown scheme")
}

func TestStreams_Register(t *testing.T) {
	ci.Parallel(t)

	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		must.Eq(t, http.MethodPut, r.Method)
		must.Eq(t, "/streams/pewpew/fifa15-xboxone", r.URL.Path)
		must.NoError(t, r.ParseForm())
		must.Eq(t, "10", r.PostForm.Get("game_id"))
		must.Eq(t, "Alice", r.PostForm.Get("creator"))
		must.Eq(t, "Bob", r.PostForm.Get("opponent"))
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(&structs.Stream{Handle: "pewpew"})
	})

	code, err := c.Streams().Register("pewpew", "fifa15-xboxone", &structs.StreamRegisterRequest{
		GameID: 10, Creator: "Alice", Opponent: "Bob",
	})
	must.NoError(t, err)
	must.Eq(t, http.StatusCreated, code)
}

func TestStreams_GetVerbatim(t *testing.T) {
	ci.Parallel(t)

	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		must.Eq(t, http.MethodGet, r.Method)
		w.Write([]byte(`{"handle":"pewpew","extra":"kept"}`))
	})

	raw, code, err := c.Streams().Get("pewpew", "fifa15-xboxone")
	must.NoError(t, err)
	must.Eq(t, http.StatusOK, code)
	must.Eq(t, `{"handle":"pewpew","extra":"kept"}`, string(raw))
}

func TestStreams_ResultAndDelete(t *testing.T) {
	ci.Parallel(t)

	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPatch:
			must.NoError(t, r.ParseForm())
			must.Eq(t, "creator", r.PostForm.Get("winner"))
			must.Eq(t, "1425211200.5", r.PostForm.Get("timestamp"))
			json.NewEncoder(w).Encode(&structs.StreamResultResponse{Success: true})
		case http.MethodDelete:
			json.NewEncoder(w).Encode(&structs.StreamDeleteResponse{Deleted: true})
		default:
			t.Fatalf("unexpected method %s", r.Method)
		}
	})

	res, code, err := c.Streams().Result("pewpew", "fifa15-xboxone", "creator", 1425211200.5)
	must.NoError(t, err)
	must.Eq(t, http.StatusOK, code)
	must.True(t, res.Success)

	del, code, err := c.Streams().Delete("pewpew", "fifa15-xboxone")
	must.NoError(t, err)
	must.Eq(t, http.StatusOK, code)
	must.True(t, del.Deleted)
}

func TestClient_Load(t *testing.T) {
	ci.Parallel(t)

	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		must.Eq(t, "/load", r.URL.Path)
		json.NewEncoder(w).Encode(&structs.NodeLoad{Total: 0.25, CurrentStreams: 1, MaxStreams: 4})
	})

	load, code, err := c.Load()
	must.NoError(t, err)
	must.Eq(t, http.StatusOK, code)
	must.Eq(t, 0.25, load.Total)
	must.Eq(t, 1, load.CurrentStreams)
	must.Eq(t, 4, load.MaxStreams)
}

func TestClient_StatusError(t *testing.T) {
	ci.Parallel(t)

	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInsufficientStorage)
		w.Write([]byte(`{"error_code":507,"error":"pool is full"}`))
	})

	code, err := c.Streams().Register("pewpew", "echo", &structs.StreamRegisterRequest{
		GameID: 1, Creator: "a", Opponent: "b",
	})
	must.Eq(t, http.StatusInsufficientStorage, code)
	must.True(t, IsStatus(err, http.StatusInsufficientStorage))

	se := err.(*StatusError)
	must.StrContains(t, string(se.Body), "pool is full")
}
