/******************************************************************************
 *
 *  Description :
 *
 *  Handlers of the bus protocol: polling buses and channels, posting to
 *  channels, minting channel names.
 *
 *****************************************************************************/

package main

import (
	"encoding/json"
	"net/http"

	"github.com/janrain/backplane/server/bus"
	"github.com/janrain/backplane/server/logs"
)

const (
	contentTypeJSON  = "application/json"
	contentTypeJSONP = "application/x-javascript"

	// Maximum size of a posted message batch.
	maxPostBodySize = 1 << 20

	welcomeText = "Backplane server\n"
)

func registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /{$}", serveWelcome)
	mux.HandleFunc("GET /bus/{bus}", serveBusMessages)
	mux.HandleFunc("GET /bus/{bus}/channel/{channel}", serveChannelMessages)
	mux.HandleFunc("POST /bus/{bus}/channel/{channel}", servePost)
	for _, root := range []string{"/provision/", "/v1/provision/"} {
		mux.HandleFunc("POST "+root+"{kind}/{op}", serveProvision)
	}
	mux.HandleFunc("/", serve404)
}

// GET and HEAD of the root.
func serveWelcome(wrt http.ResponseWriter, req *http.Request) {
	wrt.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if req.Method == http.MethodHead {
		wrt.Header().Set("Content-Length", "0")
		wrt.WriteHeader(http.StatusOK)
		return
	}
	wrt.Write([]byte(welcomeText))
}

func pollQuery(req *http.Request) bus.Query {
	q := req.URL.Query()
	return bus.Query{Since: q.Get("since"), Sticky: q.Get("sticky")}
}

// GET /bus/{bus}
func serveBusMessages(wrt http.ResponseWriter, req *http.Request) {
	frames, err := globals.bus.BusMessages(req.Context(), req.Header.Get("Authorization"),
		req.PathValue("bus"), pollQuery(req))
	if err != nil {
		writeBusError(wrt, req, err)
		return
	}
	body, err := json.Marshal(frames)
	if err != nil {
		writeBusError(wrt, req, err)
		return
	}
	globals.stats.payload(len(body))
	writeBody(wrt, http.StatusOK, contentTypeJSON, body)
}

// GET /bus/{bus}/channel/{channel}. The channel "new" returns a fresh channel name.
func serveChannelMessages(wrt http.ResponseWriter, req *http.Request) {
	var result any
	if channel := req.PathValue("channel"); channel == bus.NewChannel {
		result = bus.MintChannel()
	} else {
		frames, err := globals.bus.ChannelMessages(req.Context(), req.PathValue("bus"), channel, pollQuery(req))
		if err != nil {
			writeBusError(wrt, req, err)
			return
		}
		result = frames
	}

	var body []byte
	var err error
	contentType := contentTypeJSON
	if callback := req.URL.Query().Get("callback"); callback != "" {
		contentType = contentTypeJSONP
		body, err = bus.Padded(callback, result)
	} else {
		body, err = json.Marshal(result)
	}
	if err != nil {
		writeBusError(wrt, req, err)
		return
	}
	globals.stats.payload(len(body))
	writeBody(wrt, http.StatusOK, contentType, body)
}

// POST /bus/{bus}/channel/{channel} with a JSON array of messages.
func servePost(wrt http.ResponseWriter, req *http.Request) {
	var messages []map[string]any
	dec := json.NewDecoder(http.MaxBytesReader(wrt, req.Body, maxPostBodySize))
	// Keep numbers in payloads as written.
	dec.UseNumber()
	if err := dec.Decode(&messages); err != nil {
		writeBusError(wrt, req, errMalformed(err))
		return
	}

	ids, err := globals.bus.Post(req.Context(), req.Header.Get("Authorization"),
		req.PathValue("bus"), req.PathValue("channel"), messages)
	if err != nil {
		writeBusError(wrt, req, err)
		return
	}
	logs.Info.Printf("bus: %d messages posted to %s/%s", len(ids), req.PathValue("bus"), req.PathValue("channel"))
	wrt.WriteHeader(http.StatusOK)
}

func serve404(wrt http.ResponseWriter, req *http.Request) {
	writeJSON(wrt, http.StatusNotFound, errBody("Not found."))
}
