package test

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"

	"quilt/logic"
	"quilt/shared"
)

func newUpstream(t *testing.T, hits *int, lastAuth *string) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*hits++
		user, pass, ok := r.BasicAuth()
		if ok {
			*lastAuth = user + ":" + pass
		}
		switch r.URL.Path {
		case "/authors":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"type": "authors", "items": []}`))
		case "/authors/1/inbox/":
			body, _ := io.ReadAll(r.Body)
			var payload map[string]any
			if err := json.Unmarshal(body, &payload); err != nil {
				w.WriteHeader(http.StatusUnprocessableEntity)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

func newRegistryOver(ts *httptest.Server) (logic.IPeerRegistry, *shared.Peer) {
	cfg := newTestConfig()
	cfg.Peers = []shared.Peer{{ServiceAddress: ts.URL, Username: "quilt", Password: "pw"}}
	reg := logic.NewPeerRegistry(cfg, &nullLogger{}, &nullMetrics{})
	return reg, &cfg.Peers[0]
}

func Test_Registry_Get_SendsBasicAuth(t *testing.T) {
	hits := 0
	lastAuth := ""
	ts := newUpstream(t, &hits, &lastAuth)
	defer ts.Close()
	reg, peer := newRegistryOver(ts)

	body, err := reg.Get(peer, "/authors", nil)
	assert.Nil(t, err)
	assert.Contains(t, string(body), `"type": "authors"`)
	assert.Equal(t, "quilt:pw", lastAuth)
}

func Test_Registry_Get_CachesResponses(t *testing.T) {
	hits := 0
	lastAuth := ""
	ts := newUpstream(t, &hits, &lastAuth)
	defer ts.Close()
	reg, peer := newRegistryOver(ts)

	_, err := reg.Get(peer, "/authors", nil)
	assert.Nil(t, err)
	_, err = reg.Get(peer, "/authors", nil)
	assert.Nil(t, err)
	assert.Equal(t, 1, hits)

	// A different query string is a different cache entry
	params := url.Values{}
	params.Set("page", "2")
	_, err = reg.Get(peer, "/authors", params)
	assert.Nil(t, err)
	assert.Equal(t, 2, hits)
}

func Test_Registry_Get_ErrorStatusIsError(t *testing.T) {
	hits := 0
	lastAuth := ""
	ts := newUpstream(t, &hits, &lastAuth)
	defer ts.Close()
	reg, peer := newRegistryOver(ts)

	_, err := reg.Get(peer, "/no/such/path", nil)
	assert.NotNil(t, err)
}

func Test_Registry_Post_DeliversJson(t *testing.T) {
	hits := 0
	lastAuth := ""
	ts := newUpstream(t, &hits, &lastAuth)
	defer ts.Close()
	reg, peer := newRegistryOver(ts)

	err := reg.Post(peer, "/authors/1/inbox/", map[string]string{"type": "Follow"})
	assert.Nil(t, err)
	assert.Equal(t, "quilt:pw", lastAuth)
}

func Test_Registry_Post_ErrorStatusIsError(t *testing.T) {
	hits := 0
	lastAuth := ""
	ts := newUpstream(t, &hits, &lastAuth)
	defer ts.Close()
	reg, peer := newRegistryOver(ts)

	err := reg.Post(peer, "/no/such/path", map[string]string{"type": "Follow"})
	assert.NotNil(t, err)
}
