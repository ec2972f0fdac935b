/******************************************************************************
 *
 *  Description :
 *
 *  Admin provisioning of bus and user configurations.
 *
 *****************************************************************************/

package main

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/janrain/backplane/server/auth"
	"github.com/janrain/backplane/server/logs"
	"github.com/janrain/backplane/server/provision"
)

// Maximum size of a provisioning request.
const maxProvisionBodySize = 4 << 20

func findKind(name string) (provision.Kind, bool) {
	for _, k := range provision.Kinds {
		if k.Name == name {
			return k, true
		}
	}
	return provision.Kind{}, false
}

// POST /provision/{kind}/{op} and /v1/provision/{kind}/{op}
func serveProvision(wrt http.ResponseWriter, req *http.Request) {
	kind, ok := findKind(req.PathValue("kind"))
	if !ok {
		serve404(wrt, req)
		return
	}

	dec := json.NewDecoder(http.MaxBytesReader(wrt, req.Body, maxProvisionBodySize))
	ctx := req.Context()

	var result any
	var err error
	switch req.PathValue("op") {
	case "list":
		var lr provision.ListRequest
		if err = dec.Decode(&lr); err == nil {
			result, err = globals.provision.List(ctx, kind, &lr)
		}
	case "delete":
		var lr provision.ListRequest
		if err = dec.Decode(&lr); err == nil {
			result, err = globals.provision.Delete(ctx, kind, &lr)
		}
	case "update":
		var ur provision.UpdateRequest
		if err = dec.Decode(&ur); err == nil {
			result, err = globals.provision.Update(ctx, kind, &ur)
		}
	default:
		serve404(wrt, req)
		return
	}

	if err != nil {
		// Unlike bus errors, provisioning errors always carry the error text.
		var authErr *auth.AuthError
		if errors.As(err, &authErr) {
			logs.Warn.Println("provision: authentication error:", err)
			writeJSON(wrt, http.StatusUnauthorized, errBody(err.Error()))
			return
		}
		logs.Err.Println("provision: error handling request:", err)
		writeJSON(wrt, http.StatusBadRequest, errBody(err.Error()))
		return
	}
	writeJSON(wrt, http.StatusOK, result)
}
