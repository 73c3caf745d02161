// Package federation links this server to its peers: discovery over the
// GET /flock probe, handshakes that exchange push credentials, hook-fed
// outbound update pushes and permission-checked inbound applies. The
// manager implements the chat and user resolver interfaces so remote
// entities load transparently through the same registries as local ones.
package federation

import (
	"encoding/json"
	"errors"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/valyala/fasthttp"

	"flock/pkg/models"
)

// probeTimeout bounds every discovery round trip.
const probeTimeout = 10 * time.Second

// wellKnownPath maps a plain host to its actual server URL.
const wellKnownPath = "/.well-known/flock/v3"

var (
	ErrNotFlock  = errors.New("peer is not a compatible server")
	ErrLoopback  = errors.New("well-known redirects to a loopback address")
	ErrNoServer  = errors.New("no server found at address")
	ErrFoundSelf = errors.New("address resolves to this server")
)

var probeClient = &fasthttp.Client{
	ReadTimeout:  probeTimeout,
	WriteTimeout: probeTimeout,
}

// Probe fetches GET <url>/flock and parses the advertisement.
func Probe(serverURL string) (models.ServerInfo, error) {
	var info models.ServerInfo
	body, status, err := httpGet(strings.TrimSuffix(serverURL, "/") + "/flock")
	if err != nil {
		return info, err
	}
	if status != fasthttp.StatusOK {
		return info, ErrNoServer
	}
	if err := json.Unmarshal(body, &info); err != nil {
		return info, err
	}
	if !info.Compatible() {
		return info, ErrNotFlock
	}
	return info, nil
}

// FindActualServerURL resolves a user-supplied address to the base URL of
// a compatible server: direct probe when a scheme is given, otherwise the
// well-known mapping, then https and http probes of the bare host.
func FindActualServerURL(address string) (string, error) {
	address = strings.TrimSuffix(strings.TrimSpace(address), "/")
	if address == "" {
		return "", ErrNoServer
	}

	if strings.HasPrefix(address, "http://") || strings.HasPrefix(address, "https://") {
		if _, err := Probe(address); err != nil {
			return "", err
		}
		return address, nil
	}

	if actual, err := wellKnownLookup(address); err == nil {
		if _, err := Probe(actual); err == nil {
			return actual, nil
		}
	}
	for _, scheme := range []string{"https://", "http://"} {
		candidate := scheme + address
		if _, err := Probe(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", ErrNoServer
}

// wellKnownLookup fetches the host's well-known document and returns the
// mapped server URL. Mappings pointing at loopback addresses are
// rejected; a public host must not hand out a private redirect.
func wellKnownLookup(host string) (string, error) {
	for _, scheme := range []string{"https://", "http://"} {
		body, status, err := httpGet(scheme + host + wellKnownPath)
		if err != nil || status != fasthttp.StatusOK {
			continue
		}
		var doc map[string]string
		if err := json.Unmarshal(body, &doc); err != nil {
			continue
		}
		mapped, ok := doc["flockv3.server"]
		if !ok || mapped == "" {
			continue
		}
		mapped = strings.TrimSuffix(mapped, "/")
		if isLoopbackURL(mapped) {
			return "", ErrLoopback
		}
		return mapped, nil
	}
	return "", ErrNoServer
}

func isLoopbackURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	host := u.Hostname()
	if host == "localhost" {
		return true
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip.IsLoopback()
	}
	return false
}

// FakeServerName derives a display name for a peer whose advertised
// public name does not round-trip: the URL with scheme and trailing
// slash stripped.
func FakeServerName(serverURL string) string {
	name := strings.TrimPrefix(serverURL, "https://")
	name = strings.TrimPrefix(name, "http://")
	return strings.TrimSuffix(name, "/")
}

// verifyPublicName checks that probing the advertised name reaches the
// same URL, so a peer cannot claim another server's name.
func verifyPublicName(publicName, serverURL string) bool {
	if publicName == "" {
		return false
	}
	actual, err := FindActualServerURL(publicName)
	return err == nil && strings.TrimSuffix(actual, "/") == strings.TrimSuffix(serverURL, "/")
}

func httpGet(fullURL string) ([]byte, int, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)
	req.SetRequestURI(fullURL)
	req.Header.SetMethod(fasthttp.MethodGet)
	if err := probeClient.DoTimeout(req, resp, probeTimeout); err != nil {
		return nil, 0, err
	}
	body := append([]byte(nil), resp.Body()...)
	return body, resp.StatusCode(), nil
}
