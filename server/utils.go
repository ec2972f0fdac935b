// Config loading and response helpers.

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"

	"github.com/janrain/backplane/server/auth"
	"github.com/janrain/backplane/server/logs"
	"github.com/janrain/backplane/server/store/types"
	jcr "github.com/tinode/jsonco"
)

const (
	// Field of the error response body.
	errMsgField = "ERR_MSG"
	// Message of non-auth errors outside debug mode.
	genericErrMsg = "Error processing request."
)

// parseConfig reads a JSON config file with comments, reporting errors with line
// and column.
func parseConfig(path string, config any) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	defer file.Close()

	jr := jcr.New(file)
	if err = json.NewDecoder(jr).Decode(config); err != nil {
		switch jerr := err.(type) {
		case *json.UnmarshalTypeError:
			lnum, cnum, _ := jr.LineAndChar(jerr.Offset)
			return fmt.Errorf("unmarshall error in config file in %s at %d:%d (offset %d bytes): %s",
				jerr.Field, lnum, cnum, jerr.Offset, jerr.Error())
		case *json.SyntaxError:
			lnum, cnum, _ := jr.LineAndChar(jerr.Offset)
			return fmt.Errorf("syntax error in config file at %d:%d (offset %d bytes): %s",
				lnum, cnum, jerr.Offset, jerr.Error())
		default:
			return fmt.Errorf("failed to parse config file: %w", err)
		}
	}
	return nil
}

func errBody(msg string) map[string]string {
	return map[string]string{errMsgField: msg}
}

func errMalformed(err error) error {
	return &types.ValidationError{Reason: "malformed request body: " + err.Error()}
}

func writeBody(wrt http.ResponseWriter, status int, contentType string, body []byte) {
	wrt.Header().Set("Content-Type", contentType)
	wrt.WriteHeader(status)
	wrt.Write(body)
}

func writeJSON(wrt http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		logs.Err.Println("http: failed to serialize response:", err)
		status = http.StatusInternalServerError
		body, _ = json.Marshal(errBody(genericErrMsg))
	}
	writeBody(wrt, status, contentTypeJSON, body)
}

// writeBusError maps a bus protocol error to a response: 401 for auth errors,
// 400 for everything else. Error details are shown only in debug mode; auth
// errors are redacted by the authenticator.
func writeBusError(wrt http.ResponseWriter, req *http.Request, err error) {
	var authErr *auth.AuthError
	if errors.As(err, &authErr) {
		logs.Warn.Printf("bus: authentication error from %s: %v", remoteAddr(req), authErr.Reason)
		writeJSON(wrt, http.StatusUnauthorized, errBody(err.Error()))
		return
	}

	logs.Err.Printf("bus: error handling %s %s: %v", req.Method, req.URL.Path, err)
	msg := genericErrMsg
	if globals.config.DebugMode(req.Context()) {
		msg = err.Error()
	}
	writeJSON(wrt, http.StatusBadRequest, errBody(msg))
}

// remoteAddr returns the client IP address.
func remoteAddr(req *http.Request) string {
	if addr := req.Header.Get("X-Forwarded-For"); addr != "" {
		return addr
	}
	host, _, err := net.SplitHostPort(req.RemoteAddr)
	if err != nil {
		return req.RemoteAddr
	}
	return host
}
