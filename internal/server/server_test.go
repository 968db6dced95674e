package server

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/jcdickinson/docindex/internal/cas"
	"github.com/jcdickinson/docindex/internal/db"
	"github.com/jcdickinson/docindex/internal/indexer"
	"github.com/jcdickinson/docindex/internal/rpc"
	"github.com/jcdickinson/docindex/internal/searchindex"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const widgetRustdoc = `{
  "root": 0,
  "crate_version": "2.0.0",
  "index": {
    "0": {"id": 0, "crate_id": 0, "name": "widget", "docs": "Widgets.",
          "inner": {"module": {"is_crate": true, "items": [1]}}},
    "1": {"id": 1, "crate_id": 0, "name": "spin", "docs": "Spins the widget.",
          "inner": {"function": {"has_body": true}}}
  },
  "paths": {}
}`

type staticSource map[string]string

func (s staticSource) FetchRustdocJSON(ctx context.Context, name, version string) ([]byte, error) {
	data, ok := s[name]
	if !ok {
		return nil, io.ErrUnexpectedEOF
	}
	return []byte(data), nil
}

func intPtr(i int) *int { return &i }

func readExactDoc() searchindex.CrateDoc {
	return searchindex.CrateDoc{
		Doc: "Read exact or EOF",
		Items: []searchindex.Item{
			{Kind: searchindex.Trait, Name: "ReadExactExt", Path: "read_exact"},
			{Kind: searchindex.TyMethod, Name: "read_exact_or_eof", Path: "read_exact", Desc: "Reads until full or EOF.", Parent: intPtr(0)},
		},
		Paths: []searchindex.Path{{Kind: searchindex.Trait, Name: "ReadExactExt"}},
	}
}

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CACHE_HOME", dir)

	database, err := db.New(filepath.Join(dir, "index.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	ix := indexer.New(database, cas.New(filepath.Join(dir, "cas")), staticSource{"widget": widgetRustdoc}, indexer.Options{})
	_, err = ix.ImportIndex(searchindex.Index{"read_exact": readExactDoc()}, "0.1.0")
	require.NoError(t, err)

	s := NewServer(database, ix, "127.0.0.1:0")
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, ts
}

func get(t *testing.T, ts *httptest.Server, path string) (*http.Response, []byte) {
	t.Helper()
	resp, err := ts.Client().Get(ts.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, body
}

func TestSearchIndexJS(t *testing.T) {
	_, ts := newTestServer(t)

	resp, body := get(t, ts, "/search-index.js")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, resp.Header.Get("Content-Type"), "javascript")

	got, err := searchindex.Load(strings.NewReader(string(body)), searchindex.ConsumerFunc(func(idx searchindex.Index) {}))
	require.NoError(t, err)
	require.Equal(t, searchindex.Index{"read_exact": readExactDoc()}, got)

	resp, _ = get(t, ts, "/search-index.js?crate=missing")
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCrates(t *testing.T) {
	_, ts := newTestServer(t)

	resp, body := get(t, ts, "/crates")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list rpc.CratesResponse
	require.NoError(t, json.Unmarshal(body, &list))
	require.Len(t, list.Crates, 1)
	require.Equal(t, "read_exact", list.Crates[0].Name)
	require.Equal(t, "0.1.0", list.Crates[0].Version)
	require.Equal(t, 2, list.Crates[0].Items)

	resp, body = get(t, ts, "/crates/read_exact")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var doc searchindex.CrateDoc
	require.NoError(t, json.Unmarshal(body, &doc))
	require.Equal(t, readExactDoc(), doc)

	resp, body = get(t, ts, "/crates/read_exact/search-index.js")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.True(t, strings.HasPrefix(string(body), "var searchIndex = {};"))

	resp, _ = get(t, ts, "/crates/nope")
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestFind(t *testing.T) {
	_, ts := newTestServer(t)

	resp, body := get(t, ts, "/find?q=eof&kind=tymethod")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var found rpc.FindResponse
	require.NoError(t, json.Unmarshal(body, &found))
	require.Len(t, found.Matches, 1)
	require.Equal(t, "read_exact::ReadExactExt::read_exact_or_eof", found.Matches[0].FullPath)

	resp, body = get(t, ts, "/find?q=zzz")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.JSONEq(t, `{"matches":[]}`, string(body))

	for _, bad := range []string{"/find", "/find?q=x&limit=-1", "/find?q=x&kind=gadget"} {
		resp, _ = get(t, ts, bad)
		require.Equal(t, http.StatusBadRequest, resp.StatusCode, bad)
	}
}

func TestRemove(t *testing.T) {
	_, ts := newTestServer(t)

	del := func() int {
		req, err := http.NewRequest(http.MethodDelete, ts.URL+"/crates/read_exact", nil)
		require.NoError(t, err)
		resp, err := ts.Client().Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		return resp.StatusCode
	}
	require.Equal(t, http.StatusOK, del())
	require.Equal(t, http.StatusNotFound, del())
}

func TestBuild(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := ts.Client().Post(ts.URL+"/build", "application/json",
		strings.NewReader(`{"crates":[{"name":"widget"},{"name":"ghost","version":"1.0.0"}]}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "application/x-ndjson", resp.Header.Get("Content-Type"))

	var results []*indexer.Result
	var progress int
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		var line rpc.ProgressLine
		require.NoError(t, json.Unmarshal(sc.Bytes(), &line))
		switch line.Type {
		case "progress":
			progress++
		case "result":
			results = append(results, line.Result)
		default:
			t.Fatalf("unexpected line %s", sc.Text())
		}
	}
	require.NoError(t, sc.Err())
	require.Positive(t, progress)
	require.Len(t, results, 2)
	require.Equal(t, "widget", results[0].Name)
	require.Equal(t, "2.0.0", results[0].Version)
	require.Empty(t, results[0].Error)
	require.NotEmpty(t, results[1].Error)

	_, body := get(t, ts, "/crates/widget")
	require.Contains(t, string(body), "Spins the widget.")
}

func TestBuild_BadRequest(t *testing.T) {
	_, ts := newTestServer(t)

	for _, body := range []string{`not json`, `{"crates":[]}`, `{"crates":[{"version":"1"}]}`} {
		resp, err := ts.Client().Post(ts.URL+"/build", "application/json", strings.NewReader(body))
		require.NoError(t, err)
		resp.Body.Close()
		require.Equal(t, http.StatusBadRequest, resp.StatusCode, body)
	}
}

func TestStartStop(t *testing.T) {
	s, _ := newTestServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- s.Start(ctx) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + s.Addr() + "/crates")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-errc:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
	http.DefaultClient.CloseIdleConnections()
}

func postBuild(t *testing.T, ts *httptest.Server, body string) []*indexer.Result {
	t.Helper()
	resp, err := ts.Client().Post(ts.URL+"/build", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var results []*indexer.Result
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		var line rpc.ProgressLine
		require.NoError(t, json.Unmarshal(sc.Bytes(), &line))
		if line.Type == "result" {
			results = append(results, line.Result)
		}
	}
	require.NoError(t, sc.Err())
	return results
}

func TestBuild_Force(t *testing.T) {
	_, ts := newTestServer(t)
	pinned := `{"name":"widget","version":"2.0.0"}`

	first := postBuild(t, ts, `{"crates":[`+pinned+`]}`)
	require.Len(t, first, 1)
	require.Empty(t, first[0].Error)
	require.False(t, first[0].Cached)

	second := postBuild(t, ts, `{"crates":[`+pinned+`]}`)
	require.Len(t, second, 1)
	require.True(t, second[0].Cached)

	forced := postBuild(t, ts, `{"crates":[`+pinned+`],"force":true}`)
	require.Len(t, forced, 1)
	require.Empty(t, forced[0].Error)
	require.False(t, forced[0].Cached)
	require.Equal(t, 1, forced[0].Items)
}
