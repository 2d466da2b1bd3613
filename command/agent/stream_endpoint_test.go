package agent

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/shoenig/test/must"

	"github.com/lionheart1022/betwatch/ci"
	"github.com/lionheart1022/betwatch/observer/structs"
	"github.com/lionheart1022/betwatch/settle"
	"github.com/lionheart1022/betwatch/testutil"
	"github.com/lionheart1022/betwatch/watcher/handlers"
)

func doForm(t *testing.T, method, rawURL string, form url.Values) (*http.Response, []byte) {
	t.Helper()

	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequest(method, rawURL, body)
	must.NoError(t, err)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := http.DefaultClient.Do(req)
	must.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	must.NoError(t, err)
	return resp, raw
}

func registerForm(gameID int64, creator, opponent string) url.Values {
	form := url.Values{}
	form.Set("game_id", fmt.Sprintf("%d", gameID))
	form.Set("creator", creator)
	form.Set("opponent", opponent)
	return form
}

// quietHandler registers a gametype whose subprocess stays silent until
// killed, keeping streams in the pool.
func quietHandler(gametype string) *handlers.Handler {
	return &handlers.Handler{
		Gametype: gametype,
		Command:  "sleep 300",
		Parser:   handlers.EchoParser{},
	}
}

func TestHTTP_StreamHappyPath(t *testing.T) {
	ci.Parallel(t)

	a := NewTestAgent(t, nil)
	backend := settle.NewMemBackend(1)
	a.Agent.Node().SetSettlementBackend(backend)

	// The dev echo handler prints five creator lines: quorum.
	resp, body := doForm(t, http.MethodPut, a.URL("/streams/abc/echo"), registerForm(1, "A", "B"))
	must.Eq(t, http.StatusCreated, resp.StatusCode)

	var stream structs.Stream
	must.NoError(t, json.Unmarshal(body, &stream))
	must.Eq(t, "abc", stream.Handle)
	must.Eq(t, structs.StreamStateWaiting, stream.State)

	// The runner resolves, PATCHes itself, the root settles and the
	// self-DELETE removes the row.
	testutil.WaitForResult(func() (bool, error) {
		return len(backend.Calls()) == 1, nil
	}, func(err error) {
		t.Fatalf("settlement never happened: %v", err)
	})
	must.Eq(t, structs.WinnerCreator, backend.Calls()[0].Winner)
	must.Eq(t, int64(1), backend.Calls()[0].GameID)

	testutil.WaitForResult(func() (bool, error) {
		resp, _ := doForm(t, http.MethodGet, a.URL("/streams/abc/echo"), nil)
		return resp.StatusCode == http.StatusNotFound, nil
	}, func(err error) {
		t.Fatalf("stream row survived the result: %v", err)
	})
}

func TestHTTP_StreamGetMissing(t *testing.T) {
	ci.Parallel(t)

	a := NewTestAgent(t, nil)

	resp, body := doForm(t, http.MethodGet, a.URL("/streams/nope/echo"), nil)
	must.Eq(t, http.StatusNotFound, resp.StatusCode)

	var errResp structs.ErrorResponse
	must.NoError(t, json.Unmarshal(body, &errResp))
	must.Eq(t, http.StatusNotFound, errResp.ErrorCode)
}

func TestHTTP_StreamPutValidation(t *testing.T) {
	ci.Parallel(t)

	a := NewTestAgent(t, nil)

	// Garbage game id.
	form := url.Values{}
	form.Set("game_id", "banana")
	form.Set("creator", "A")
	form.Set("opponent", "B")
	resp, _ := doForm(t, http.MethodPut, a.URL("/streams/abc/echo"), form)
	must.Eq(t, http.StatusBadRequest, resp.StatusCode)

	// Unsupported gametype.
	resp, body := doForm(t, http.MethodPut, a.URL("/streams/abc/chess"), registerForm(1, "A", "B"))
	must.Eq(t, http.StatusBadRequest, resp.StatusCode)
	must.StrContains(t, string(body), "unsupported")

	// Bad method.
	resp, _ = doForm(t, http.MethodPost, a.URL("/streams/abc/echo"), nil)
	must.Eq(t, http.StatusMethodNotAllowed, resp.StatusCode)

	// Underspecified path.
	resp, _ = doForm(t, http.MethodGet, a.URL("/streams/abc"), nil)
	must.Eq(t, http.StatusNotFound, resp.StatusCode)
}

func TestHTTP_StreamMergeReversed(t *testing.T) {
	ci.Parallel(t)

	a := NewTestAgent(t, nil)
	backend := settle.NewMemBackend(10, 20)
	a.Agent.Node().SetSettlementBackend(backend)
	a.RegisterHandler(quietHandler("quiet"))

	resp, _ := doForm(t, http.MethodPut, a.URL("/streams/S/quiet"), registerForm(10, "X", "Y"))
	must.Eq(t, http.StatusCreated, resp.StatusCode)

	// Same stream, swapped players: merged, not created.
	resp, body := doForm(t, http.MethodPut, a.URL("/streams/S/quiet"), registerForm(20, "Y", "X"))
	must.Eq(t, http.StatusOK, resp.StatusCode)

	var merged structs.Stream
	must.NoError(t, json.Unmarshal(body, &merged))
	must.Eq(t, []int64{-20}, merged.SupplementaryGames)

	// A third PUT with unknown players conflicts.
	resp, _ = doForm(t, http.MethodPut, a.URL("/streams/S/quiet"), registerForm(30, "P", "Q"))
	must.Eq(t, http.StatusConflict, resp.StatusCode)

	// Resolve by hand: creator wins the primary, so the reversed
	// supplementary goes to the opponent.
	form := url.Values{}
	form.Set("winner", structs.WinnerCreator)
	form.Set("timestamp", "1425211200")
	resp, _ = doForm(t, http.MethodPatch, a.URL("/streams/S/quiet"), form)
	must.Eq(t, http.StatusOK, resp.StatusCode)

	must.Eq(t, []settle.DoneCall{
		{GameID: 10, Winner: structs.WinnerCreator, Timestamp: 1425211200},
		{GameID: 20, Winner: structs.WinnerOpponent, Timestamp: 1425211200},
	}, backend.Calls())

	// The background self-DELETE tears the row down.
	testutil.WaitForResult(func() (bool, error) {
		resp, _ := doForm(t, http.MethodGet, a.URL("/streams/S/quiet"), nil)
		return resp.StatusCode == http.StatusNotFound, nil
	}, func(err error) {
		t.Fatalf("row survived the result: %v", err)
	})
}

func TestHTTP_StreamDuplicateGameID(t *testing.T) {
	ci.Parallel(t)

	a := NewTestAgent(t, nil)
	a.RegisterHandler(quietHandler("quiet"))

	resp, _ := doForm(t, http.MethodPut, a.URL("/streams/one/quiet"), registerForm(10, "A", "B"))
	must.Eq(t, http.StatusCreated, resp.StatusCode)

	resp, body := doForm(t, http.MethodPut, a.URL("/streams/two/quiet"), registerForm(10, "C", "D"))
	must.Eq(t, http.StatusConflict, resp.StatusCode)
	must.StrContains(t, string(body), "already watched")
}

func TestHTTP_StreamPoolFull(t *testing.T) {
	ci.Parallel(t)

	a := NewTestAgent(t, func(c *Config) {
		c.MaxStreams = 1
	})
	a.RegisterHandler(quietHandler("quiet"))

	resp, _ := doForm(t, http.MethodPut, a.URL("/streams/one/quiet"), registerForm(1, "A", "B"))
	must.Eq(t, http.StatusCreated, resp.StatusCode)

	resp, body := doForm(t, http.MethodPut, a.URL("/streams/two/quiet"), registerForm(2, "A", "B"))
	must.Eq(t, http.StatusInsufficientStorage, resp.StatusCode)

	var errResp structs.ErrorResponse
	must.NoError(t, json.Unmarshal(body, &errResp))
	must.Eq(t, http.StatusInsufficientStorage, errResp.ErrorCode)
}

func TestHTTP_StreamAbortDuringWatch(t *testing.T) {
	ci.Parallel(t)

	a := NewTestAgent(t, nil)
	backend := settle.NewMemBackend(1)
	a.Agent.Node().SetSettlementBackend(backend)
	a.RegisterHandler(quietHandler("quiet"))

	resp, _ := doForm(t, http.MethodPut, a.URL("/streams/abc/quiet"), registerForm(1, "A", "B"))
	must.Eq(t, http.StatusCreated, resp.StatusCode)

	key := structs.NewStreamKey("abc", "quiet")
	must.True(t, a.Agent.Node().Manager().Has(key))

	resp, body := doForm(t, http.MethodDelete, a.URL("/streams/abc/quiet"), nil)
	must.Eq(t, http.StatusOK, resp.StatusCode)
	must.StrContains(t, string(body), `"deleted":true`)

	must.False(t, a.Agent.Node().Manager().Has(key))

	resp, _ = doForm(t, http.MethodGet, a.URL("/streams/abc/quiet"), nil)
	must.Eq(t, http.StatusNotFound, resp.StatusCode)

	// No result may surface after the abort.
	time.Sleep(100 * time.Millisecond)
	must.Len(t, 0, backend.Calls())

	// Idempotence: a second DELETE is a clean 404.
	resp, _ = doForm(t, http.MethodDelete, a.URL("/streams/abc/quiet"), nil)
	must.Eq(t, http.StatusNotFound, resp.StatusCode)
}

// TestHTTP_Delegation runs a two-node tree: the root delegates to a child
// agent, GET forwards, the result chains up from the child's runner to the
// root's settlement, and the teardown wave removes both rows.
func TestHTTP_Delegation(t *testing.T) {
	ci.Parallel(t)

	// The child is its own agent with the echo handler; its parent is
	// patched in after the root comes up.
	rootPort := freePort(t)

	child := NewTestAgent(t, func(c *Config) {
		c.Parent = &PeerConfig{Name: "root", URL: fmt.Sprintf("http://127.0.0.1:%d", rootPort)}
	})

	root := NewTestAgent(t, func(c *Config) {
		c.Port = rootPort
		c.SelfURL = fmt.Sprintf("http://127.0.0.1:%d", rootPort)
		// The root itself cannot watch anything.
		c.MaxStreams = 0
		c.Children = []*PeerConfig{{Name: "child", URL: child.Config.SelfURL}}
	})

	backend := settle.NewMemBackend(7)
	root.Agent.Node().SetSettlementBackend(backend)

	resp, body := doForm(t, http.MethodPut, root.URL("/streams/abc/echo"), registerForm(7, "A", "B"))
	must.Eq(t, http.StatusCreated, resp.StatusCode)

	var stream structs.Stream
	must.NoError(t, json.Unmarshal(body, &stream))
	must.Eq(t, "child", stream.Child)

	// No runner on the root; the child owns it.
	key := structs.NewStreamKey("abc", "echo")
	must.False(t, root.Agent.Node().Manager().Has(key))

	// The child's echo run resolves; the PATCH chains to the root.
	testutil.WaitForResult(func() (bool, error) {
		return len(backend.Calls()) == 1, nil
	}, func(err error) {
		t.Fatalf("result never reached the root: %v", err)
	})
	must.Eq(t, structs.WinnerCreator, backend.Calls()[0].Winner)

	// The root's self-DELETE chains down to the child.
	testutil.WaitForResult(func() (bool, error) {
		resp, _ := doForm(t, http.MethodGet, root.URL("/streams/abc/echo"), nil)
		return resp.StatusCode == http.StatusNotFound, nil
	}, func(err error) {
		t.Fatalf("root row survived: %v", err)
	})
	resp, _ = doForm(t, http.MethodGet, child.URL("/streams/abc/echo"), nil)
	must.Eq(t, http.StatusNotFound, resp.StatusCode)
}

// TestHTTP_DelegationForwardedGet pins the verbatim relay of a delegated
// row while the child is still watching.
func TestHTTP_DelegationForwardedGet(t *testing.T) {
	ci.Parallel(t)

	child := NewTestAgent(t, nil)
	child.RegisterHandler(quietHandler("quiet"))

	root := NewTestAgent(t, func(c *Config) {
		c.MaxStreams = 0
		c.Children = []*PeerConfig{{Name: "child", URL: child.Config.SelfURL}}
	})
	root.RegisterHandler(quietHandler("quiet"))

	resp, _ := doForm(t, http.MethodPut, root.URL("/streams/abc/quiet"), registerForm(1, "A", "B"))
	must.Eq(t, http.StatusCreated, resp.StatusCode)

	resp, body := doForm(t, http.MethodGet, root.URL("/streams/abc/quiet"), nil)
	must.Eq(t, http.StatusOK, resp.StatusCode)

	var stream structs.Stream
	must.NoError(t, json.Unmarshal(body, &stream))
	must.Eq(t, "abc", stream.Handle)
	// The child's row has no delegation pointer of its own.
	must.Eq(t, "", stream.Child)

	// Chained DELETE from the root tears down both.
	resp, _ = doForm(t, http.MethodDelete, root.URL("/streams/abc/quiet"), nil)
	must.Eq(t, http.StatusOK, resp.StatusCode)

	resp, _ = doForm(t, http.MethodGet, child.URL("/streams/abc/quiet"), nil)
	must.Eq(t, http.StatusNotFound, resp.StatusCode)
}

func TestHTTP_FullSubtree(t *testing.T) {
	ci.Parallel(t)

	child := NewTestAgent(t, func(c *Config) {
		c.MaxStreams = 1
	})
	child.RegisterHandler(quietHandler("quiet"))

	root := NewTestAgent(t, func(c *Config) {
		c.MaxStreams = 1
		c.Children = []*PeerConfig{{Name: "child", URL: child.Config.SelfURL}}
	})
	root.RegisterHandler(quietHandler("quiet"))

	// First stream lands on the child, second falls back to the root,
	// third finds the whole subtree saturated.
	resp, _ := doForm(t, http.MethodPut, root.URL("/streams/one/quiet"), registerForm(1, "A", "B"))
	must.Eq(t, http.StatusCreated, resp.StatusCode)
	resp, _ = doForm(t, http.MethodPut, root.URL("/streams/two/quiet"), registerForm(2, "A", "B"))
	must.Eq(t, http.StatusCreated, resp.StatusCode)

	resp, _ = doForm(t, http.MethodPut, root.URL("/streams/three/quiet"), registerForm(3, "A", "B"))
	must.Eq(t, http.StatusInsufficientStorage, resp.StatusCode)
}
