package models

// FlockType is the federation protocol generation this server speaks.
const FlockType = 3

// ServerInfo is what GET /flock advertises to peers.
type ServerInfo struct {
	IsFlock    bool   `json:"isFlock"`
	FlockType  int    `json:"flockType"`
	Version    string `json:"version"`
	PublicName string `json:"publicName"`
}

// Compatible reports whether a probed peer can federate with us.
func (s ServerInfo) Compatible() bool {
	return s.IsFlock && s.FlockType == FlockType
}

// KnownServer is a persisted record of a peer we handed a link id to.
type KnownServer struct {
	URL        string `json:"url"`
	PublicName string `json:"publicName"`
	LinkID     string `json:"id"`
}

// HandshakeRequest is the body of POST /federationrequest.
type HandshakeRequest struct {
	ServerURL string `json:"serverurl"`
}

// HandshakeResponse is the successful handshake reply.
type HandshakeResponse struct {
	Status     string `json:"status"`
	ServerURL  string `json:"serverurl"`
	ID         string `json:"id"`
	PublicName string `json:"publicName"`
}

// UpdatePush is the body of POST /federationrecieveupdates. Updates maps
// "<type>:<target>" to the target's pending hook entries.
type UpdatePush struct {
	ServerURL string                            `json:"serverurl"`
	ID        string                            `json:"id"`
	Updates   map[string]map[string]interface{} `json:"updates"`
}
