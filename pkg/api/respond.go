// Package api exposes the action protocol over HTTP: JSON POST bodies,
// raw JSON data on success and a {status, code, description} envelope on
// failure. Peers speak the same protocol through the federation actions.
package api

import (
	"net/http"

	"flock/pkg/telemetry"
	"flock/pkg/utils"
)

// Error codes of the action protocol.
const (
	codeADenied     = "ADENIED"
	codeNoUser      = "NOUSER"
	codeEChat       = "ECHAT"
	codeNoGroup     = "NOGROUP"
	codeNoRole      = "NOROLE"
	codeNoSince     = "NOSINCE"
	codeWrongLogin  = "WRONGLOGIN"
	codeUserExists  = "USEREXISTS"
	codeWPFormat    = "WPFORMAT"
	codeWEFormat    = "WEFORMAT"
	codeInvalid     = "INVALID"
	codeNoServerURL = "NOSERVERURL"
	codeItsMe       = "ITSME"
	codeNoFed       = "NOFED"
	codeIDWrong     = "IDWRONG"
	codeNoID        = "NOID"
	codeNoChat      = "NOCHAT"
	codeNoPerm      = "NOPERM"
	codeCacheErr    = "CACHEERR"
	codeNoUpdates   = "NOUPDATES"
)

type errorInfo struct {
	status      int
	description string
}

var errorTable = map[string]errorInfo{
	codeADenied:     {http.StatusUnauthorized, "token missing or invalid"},
	codeNoUser:      {http.StatusNotFound, "no such user"},
	codeEChat:       {http.StatusLengthRequired, "chat id missing or malformed"},
	codeNoGroup:     {http.StatusNotFound, "no such group"},
	codeNoRole:      {http.StatusNotFound, "no such role"},
	codeNoSince:     {http.StatusLengthRequired, "since value missing"},
	codeWrongLogin:  {http.StatusUnauthorized, "wrong email or password"},
	codeUserExists:  {http.StatusForbidden, "an account with that email already exists"},
	codeWPFormat:    {http.StatusLengthRequired, "password must be at least 8 characters"},
	codeWEFormat:    {http.StatusLengthRequired, "malformed email address"},
	codeInvalid:     {http.StatusLengthRequired, "malformed request"},
	codeNoServerURL: {http.StatusLengthRequired, "server url missing or unreachable"},
	codeItsMe:       {http.StatusForbidden, "refusing to federate with myself"},
	codeNoFed:       {http.StatusForbidden, "federation is disabled"},
	codeIDWrong:     {http.StatusUnauthorized, "link id mismatch"},
	codeNoID:        {http.StatusLengthRequired, "message id missing"},
	codeNoChat:      {http.StatusNotFound, "no such chat"},
	codeNoPerm:      {http.StatusForbidden, "not allowed"},
	codeCacheErr:    {http.StatusInternalServerError, "internal cache failure"},
	codeNoUpdates:   {http.StatusNotFound, "no updates"},
}

type errorEnvelope struct {
	Status      string `json:"status"`
	Code        string `json:"code"`
	Description string `json:"description"`
}

// fail writes the error envelope for a protocol code.
func fail(w http.ResponseWriter, action, code string) {
	info, ok := errorTable[code]
	if !ok {
		info = errorInfo{http.StatusInternalServerError, "internal error"}
	}
	telemetry.Requests.WithLabelValues(action, code).Inc()
	_ = utils.JSONWrite(w, info.status, errorEnvelope{
		Status:      "error",
		Code:        code,
		Description: info.description,
	})
}

// ok writes a bare success envelope.
func ok(w http.ResponseWriter, action string) {
	telemetry.Requests.WithLabelValues(action, "ok").Inc()
	_ = utils.JSONWrite(w, http.StatusOK, map[string]string{"status": "ok"})
}

// data writes a raw JSON payload.
func data(w http.ResponseWriter, action string, v interface{}) {
	telemetry.Requests.WithLabelValues(action, "ok").Inc()
	_ = utils.JSONWrite(w, http.StatusOK, v)
}
