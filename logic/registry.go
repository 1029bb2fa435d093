package logic

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/spaolacci/murmur3"

	"quilt/shared"
)

// IPeerRegistry owns the configured peer list and performs outbound calls.
// GET responses are cached for a bounded window so that feed fan-out does
// not hammer peers; entries expire on their own and are never invalidated
// early. POST is fire-and-forget: a failed delivery is logged and dropped.
type IPeerRegistry interface {
	Peers() []shared.Peer
	Get(peer *shared.Peer, path string, params url.Values) ([]byte, error)
	Post(peer *shared.Peer, path string, body any) error
}

type peerRegistry struct {
	cfg       *shared.Config
	logger    shared.ILogger
	metrics   IMetrics
	client    *http.Client
	respCache *cache.Cache
}

func NewPeerRegistry(cfg *shared.Config, logger shared.ILogger, metrics IMetrics) IPeerRegistry {
	ttl := time.Duration(cfg.PeerCacheSeconds) * time.Second
	metrics.TotalPeers(len(cfg.Peers))
	return &peerRegistry{
		cfg:       cfg,
		logger:    logger,
		metrics:   metrics,
		client:    &http.Client{Timeout: time.Duration(cfg.PeerTimeoutSeconds) * time.Second},
		respCache: cache.New(ttl, 2*ttl),
	}
}

// Peers returns the configured peers in insertion order. Aggregation
// relies on the order being deterministic.
func (reg *peerRegistry) Peers() []shared.Peer {
	return reg.cfg.Peers
}

func cacheKey(peer *shared.Peer, path, query string) string {
	h := murmur3.Sum64([]byte(peer.ServiceAddress + "|" + path + "|" + query))
	return fmt.Sprintf("%016x", h)
}

func peerUrl(peer *shared.Peer, path string) string {
	return strings.TrimRight(peer.ServiceAddress, "/") + path
}

func (reg *peerRegistry) Get(peer *shared.Peer, path string, params url.Values) ([]byte, error) {

	query := ""
	if params != nil {
		query = params.Encode()
	}
	key := cacheKey(peer, path, query)
	if cached, ok := reg.respCache.Get(key); ok {
		return cached.([]byte), nil
	}

	obs := reg.metrics.StartFedRequestOut("get")
	defer obs.Finish()

	reqUrl := peerUrl(peer, path)
	if query != "" {
		reqUrl += "?" + query
	}
	req, err := http.NewRequest("GET", reqUrl, nil)
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(peer.Username, peer.Password)
	req.Header.Set("Accept", "application/json")

	resp, err := reg.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("GET %s: got status %s", reqUrl, resp.Status)
	}

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	reg.respCache.SetDefault(key, bodyBytes)
	return bodyBytes, nil
}

func (reg *peerRegistry) Post(peer *shared.Peer, path string, body any) error {

	obs := reg.metrics.StartFedRequestOut("post")
	defer obs.Finish()

	bodyJson, err := json.Marshal(body)
	if err != nil {
		return err
	}

	reqUrl := peerUrl(peer, path)
	req, err := http.NewRequest("POST", reqUrl, bytes.NewBuffer(bodyJson))
	if err != nil {
		return err
	}
	req.SetBasicAuth(peer.Username, peer.Password)
	req.Header.Set("Content-Type", "application/json")

	resp, err := reg.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(resp.Body)

	if resp.StatusCode >= 300 {
		msg := fmt.Sprintf("got status %s: response: %s", resp.Status, respBody)
		reg.logger.Warnf("Activity POST to %s failed: %s", reqUrl, msg)
		return fmt.Errorf("POST %s: %s", reqUrl, msg)
	}

	return nil
}
