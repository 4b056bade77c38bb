package routes

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"stakechain/core/runtime"
	"stakechain/gateway/middleware"
	"stakechain/mempool"
)

const maxCallBody = 64 << 10

type submitRequest struct {
	Call string          `json:"call"`
	Args json.RawMessage `json:"args,omitempty"`
}

type submitResponse struct {
	Call    string `json:"call"`
	Origin  string `json:"origin"`
	Pending int    `json:"pending"`
}

// submit queues a call. The origin comes from the bearer token: privileged
// calls need the root scope, everything else runs as the token subject.
func (a *api) submit(w http.ResponseWriter, r *http.Request) {
	principal, ok := middleware.PrincipalFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, errors.New("authentication required"))
		return
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxCallBody))
	dec.DisallowUnknownFields()
	var req submitRequest
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	name := strings.TrimSpace(req.Call)
	if !runtime.KnownCall(name) {
		writeError(w, http.StatusBadRequest, fmt.Errorf("%w: %q", runtime.ErrUnknownCall, name))
		return
	}

	origin := runtime.Signed(principal.Account)
	if runtime.Privileged(name) {
		if !principal.Root() {
			writeError(w, http.StatusForbidden, runtime.ErrBadOrigin)
			return
		}
		origin = runtime.RootOrigin()
	}

	ext := runtime.Extrinsic{Origin: origin, Call: runtime.Call{Name: name, Args: req.Args}}
	if err := a.pool.Add(ext); err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, mempool.ErrPoolFull) {
			status = http.StatusServiceUnavailable
		}
		writeError(w, status, err)
		return
	}
	a.logger.Debug("call queued",
		slog.String("call", name),
		slog.String("origin", origin.String()),
		slog.String("requestId", middleware.RequestIDFrom(r.Context())))
	writeJSON(w, http.StatusAccepted, submitResponse{Call: name, Origin: origin.String(), Pending: a.pool.Len()})
}
