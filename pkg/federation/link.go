package federation

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/valyala/bytebufferpool"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"flock/pkg/hub"
	"flock/pkg/logger"
	"flock/pkg/models"
	"flock/pkg/telemetry"
)

const (
	// pushWait bounds one idle cycle of the push loop.
	pushWait = 600 * time.Second
	// reconnectDebounce is the minimum gap between handshake attempts.
	reconnectDebounce = time.Second
	// pushTimeout bounds one outbound push round trip.
	pushTimeout = 30 * time.Second
)

type linkState int

const (
	linkDown linkState = iota
	linkConnecting
	linkUp
)

// Link is the connection to one peer server. Both directions share one
// credential: whichever side handshakes first mints it, and pushes in
// either direction must carry it. The hook set collects local changes
// the peer subscribed to; the push loop drains it.
type Link struct {
	m     *Manager
	hooks *hub.Hooks

	mu          sync.Mutex
	publicName  string
	url         string
	credential  string
	state       linkState
	connectDone chan struct{}
	lastAttempt time.Time
	loopStarted bool

	chats  map[string]struct{}
	groups map[string]struct{}
}

func newLink(m *Manager, publicName, url, credential string) *Link {
	return &Link{
		m:          m,
		hooks:      hub.NewHooks(publicName),
		publicName: publicName,
		url:        strings.TrimSuffix(url, "/"),
		credential: credential,
		chats:      map[string]struct{}{},
		groups:     map[string]struct{}{},
	}
}

// PublicName is the peer's validated (or fake) display name.
func (l *Link) PublicName() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.publicName
}

// URL is the peer's base URL.
func (l *Link) URL() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.url
}

// Connected reports whether the link is currently usable.
func (l *Link) Connected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state == linkUp
}

func (l *Link) setCredential(url, credential string) {
	l.mu.Lock()
	if url != "" {
		l.url = strings.TrimSuffix(url, "/")
	}
	l.credential = credential
	l.mu.Unlock()
}

func (l *Link) hasCredential(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return id != "" && l.credential == id
}

// markConnected is the handshake-serving side's way up: the peer just
// proved itself, so the link is usable without our own handshake.
func (l *Link) markConnected(credential string) {
	l.mu.Lock()
	l.credential = credential
	l.state = linkUp
	if l.connectDone != nil {
		close(l.connectDone)
		l.connectDone = nil
	}
	l.mu.Unlock()
	l.startPushLoop()
}

func (l *Link) markDown() {
	l.mu.Lock()
	if l.state == linkUp {
		l.state = linkDown
	}
	l.mu.Unlock()
}

// Reconnect makes sure the link is up, handshaking when needed. A
// reconnect already in flight is waited on instead of duplicated;
// attempts are debounced.
func (l *Link) Reconnect() bool {
	l.mu.Lock()
	switch l.state {
	case linkUp:
		l.mu.Unlock()
		return true
	case linkConnecting:
		done := l.connectDone
		l.mu.Unlock()
		<-done
		return l.Connected()
	}
	if time.Since(l.lastAttempt) < reconnectDebounce {
		l.mu.Unlock()
		return false
	}
	l.lastAttempt = time.Now()
	l.state = linkConnecting
	l.connectDone = make(chan struct{})
	url := l.url
	l.mu.Unlock()

	resp, err := l.handshake(url)

	l.mu.Lock()
	if err == nil {
		l.credential = resp.ID
		if resp.ServerURL != "" {
			l.url = strings.TrimSuffix(resp.ServerURL, "/")
		}
		l.state = linkUp
	} else {
		l.state = linkDown
	}
	if l.connectDone != nil {
		close(l.connectDone)
		l.connectDone = nil
	}
	l.mu.Unlock()

	if err != nil {
		logger.Warn("federation handshake failed",
			zap.String("peer", l.PublicName()), zap.Error(err))
		return false
	}
	logger.Info("federation link up", zap.String("peer", l.PublicName()))
	l.startPushLoop()
	go l.m.refreshAfterReconnect(l)
	return true
}

func (l *Link) handshake(url string) (models.HandshakeResponse, error) {
	var resp models.HandshakeResponse
	err := postJSON(url+"/federationrequest",
		models.HandshakeRequest{ServerURL: l.m.selfURL}, &resp)
	return resp, err
}

// startPushLoop launches the drain loop once per link lifetime.
func (l *Link) startPushLoop() {
	l.mu.Lock()
	if l.loopStarted {
		l.mu.Unlock()
		return
	}
	l.loopStarted = true
	l.mu.Unlock()
	go l.pushLoop()
}

// pushLoop waits on the hook set and delivers pending updates. Hooks
// drain only after a delivery the peer acknowledged, so a failed push
// retries the same entries (at-least-once).
func (l *Link) pushLoop() {
	for {
		if !l.Reconnect() {
			time.Sleep(reconnectDebounce)
			continue
		}
		pending := l.hooks.Wait(pushWait, false)
		if len(pending) == 0 {
			continue
		}
		code, err := l.push(pending)
		if err != nil {
			telemetry.FederationPushFailures.Inc()
			logger.Warn("federation push failed",
				zap.String("peer", l.PublicName()), zap.Error(err))
			l.markDown()
			time.Sleep(reconnectDebounce)
			continue
		}
		switch code {
		case "":
			telemetry.FederationPushes.Inc()
			l.hooks.Forget(pending)
		case "IDWRONG", "NOFED":
			// Credential is stale or the peer dropped federation; a
			// fresh handshake mints a new one.
			telemetry.FederationPushFailures.Inc()
			logger.Warn("federation push rejected",
				zap.String("peer", l.PublicName()), zap.String("code", code))
			l.markDown()
		default:
			telemetry.FederationPushFailures.Inc()
			logger.Warn("federation push rejected",
				zap.String("peer", l.PublicName()), zap.String("code", code))
			l.hooks.Forget(pending)
		}
	}
}

// push delivers one batch. Returns the peer's error code, empty on
// success.
func (l *Link) push(updates map[string]map[string]interface{}) (string, error) {
	l.mu.Lock()
	url := l.url
	credential := l.credential
	l.mu.Unlock()

	body := bytebufferpool.Get()
	defer bytebufferpool.Put(body)
	if err := json.NewEncoder(body).Encode(models.UpdatePush{
		ServerURL: l.m.selfURL,
		ID:        credential,
		Updates:   updates,
	}); err != nil {
		return "", err
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)
	req.SetRequestURI(url + "/federationrecieveupdates")
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	req.SetBody(body.Bytes())
	if err := probeClient.DoTimeout(req, resp, pushTimeout); err != nil {
		return "", err
	}

	var envelope struct {
		Status string `json:"status"`
		Code   string `json:"code"`
	}
	if err := json.Unmarshal(resp.Body(), &envelope); err == nil && envelope.Status == "error" {
		return envelope.Code, nil
	}
	return "", nil
}

// call POSTs an action to the peer and decodes the reply.
func (l *Link) call(path string, body interface{}, out interface{}) error {
	l.mu.Lock()
	url := l.url
	l.mu.Unlock()
	return postJSON(url+path, body, out)
}

func postJSON(fullURL string, body interface{}, out interface{}) error {
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)
	if err := json.NewEncoder(buf).Encode(body); err != nil {
		return err
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)
	req.SetRequestURI(fullURL)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	req.SetBody(buf.Bytes())
	if err := probeClient.DoTimeout(req, resp, pushTimeout); err != nil {
		return err
	}
	return decodeBody(resp.Body(), resp.StatusCode(), out)
}

// trackChat remembers a remote chat replica's id for reconnect
// refreshes. Only ids are held; the replica itself lives in the chat
// registry and is resolved through it when the refresh runs.
func (l *Link) trackChat(id string) {
	l.mu.Lock()
	l.chats[id] = struct{}{}
	l.mu.Unlock()
}

func (l *Link) trackGroup(id string) {
	l.mu.Lock()
	l.groups[id] = struct{}{}
	l.mu.Unlock()
}

func (l *Link) trackedChats() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, 0, len(l.chats))
	for id := range l.chats {
		out = append(out, id)
	}
	return out
}

func (l *Link) trackedGroups() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, 0, len(l.groups))
	for id := range l.groups {
		out = append(out, id)
	}
	return out
}
