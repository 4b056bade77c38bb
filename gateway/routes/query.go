package routes

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"stakechain/core/types"
	"stakechain/native/dex"
	"stakechain/services/indexer"
)

type api struct {
	chain  Chain
	pool   Submitter
	events EventLog
	logger *slog.Logger
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func (a *api) internal(w http.ResponseWriter, r *http.Request, err error) {
	a.logger.Error("gateway: query failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	writeError(w, http.StatusInternalServerError, errors.New("internal error"))
}

func accountParam(r *http.Request, name string) (types.AccountID, error) {
	account, err := types.ParseAccountID(chi.URLParam(r, name))
	if err != nil {
		return types.AccountID{}, fmt.Errorf("invalid %s: %w", name, err)
	}
	return account, nil
}

func parseAsset(value string) (types.AssetID, error) {
	parsed, err := strconv.ParseUint(strings.TrimSpace(value), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid asset %q", value)
	}
	return types.AssetID(parsed), nil
}

type orderView struct {
	ID         uint64 `json:"id"`
	Owner      string `json:"owner"`
	Base       uint32 `json:"base"`
	Quote      uint32 `json:"quote"`
	Side       string `json:"side"`
	Offered    string `json:"offered"`
	Requested  string `json:"requested"`
	Expiration uint64 `json:"expiration"`
}

func viewOrder(o *dex.Order) orderView {
	return orderView{
		ID:         o.ID,
		Owner:      o.Owner.String(),
		Base:       uint32(o.Pair.Base),
		Quote:      uint32(o.Pair.Quote),
		Side:       o.Side.String(),
		Offered:    o.AmountOffered.Dec(),
		Requested:  o.AmountRequested.Dec(),
		Expiration: o.Expiration,
	}
}

func viewOrders(orders []*dex.Order) []orderView {
	out := make([]orderView, 0, len(orders))
	for _, o := range orders {
		out = append(out, viewOrder(o))
	}
	return out
}

func (a *api) head(w http.ResponseWriter, r *http.Request) {
	head := a.chain.Head()
	if head == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("chain not initialised"))
		return
	}
	hash, err := head.Hash()
	if err != nil {
		a.internal(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"number":       head.Number,
		"hash":         fmt.Sprintf("0x%x", hash),
		"timestamp":    head.Timestamp,
		"author":       head.Author.String(),
		"stateDigest":  fmt.Sprintf("0x%x", head.StateDigest),
		"receiptsRoot": fmt.Sprintf("0x%x", head.ReceiptsRoot),
		"callCount":    head.CallCount,
	})
}

func (a *api) inflation(w http.ResponseWriter, r *http.Request) {
	params, err := a.chain.InflationParams()
	if err != nil {
		a.internal(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"inflationPercent":          params.InflationPercent.String(),
		"inflationDecay":            params.InflationDecay.String(),
		"treasuryCommission":        params.TreasuryCommission.String(),
		"treasuryCommissionFromFee": params.TreasuryCommissionFromFee.String(),
		"lastDecay":                 params.LastDecay,
	})
}

func (a *api) session(w http.ResponseWriter, r *http.Request) {
	info, err := a.chain.Session()
	if err != nil {
		a.internal(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (a *api) balance(w http.ResponseWriter, r *http.Request) {
	account, err := accountParam(r, "account")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	asset := types.NativeAsset
	if raw := r.URL.Query().Get("asset"); raw != "" {
		if asset, err = parseAsset(raw); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}
	balance, err := a.chain.Balance(asset, account)
	if err != nil {
		a.internal(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"account": account.String(),
		"asset":   uint32(asset),
		"balance": balance.Dec(),
	})
}

func (a *api) stake(w http.ResponseWriter, r *http.Request) {
	stash, err := accountParam(r, "stash")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	info, ok, err := a.chain.Stake(stash)
	if err != nil {
		a.internal(w, r, err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, errors.New("stash not bonded"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"stash":      info.Stash.String(),
		"controller": info.Controller.String(),
		"total":      info.Total.Dec(),
		"active":     info.Active.Dec(),
		"payee":      info.Payee,
		"validator":  info.Validator,
		"targets":    info.Targets,
	})
}

func (a *api) listedTokens(w http.ResponseWriter, r *http.Request) {
	tokens, err := a.chain.ListedTokens()
	if err != nil {
		a.internal(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"tokens": tokens})
}

func (a *api) order(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid order id"))
		return
	}
	order, ok, err := a.chain.Order(id)
	if err != nil {
		a.internal(w, r, err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, dex.ErrInvalidOrderIndex)
		return
	}
	writeJSON(w, http.StatusOK, viewOrder(order))
}

func (a *api) ordersByPair(w http.ResponseWriter, r *http.Request) {
	base, err := parseAsset(chi.URLParam(r, "a"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	quote, err := parseAsset(chi.URLParam(r, "b"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	orders, err := a.chain.OrdersByPair(base, quote)
	if err != nil {
		a.internal(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"orders": viewOrders(orders)})
}

func (a *api) ordersByUser(w http.ResponseWriter, r *http.Request) {
	account, err := accountParam(r, "account")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	orders, err := a.chain.OrdersByUser(account)
	if err != nil {
		a.internal(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"orders": viewOrders(orders)})
}

func (a *api) tokenInfo(w http.ResponseWriter, r *http.Request) {
	account, err := accountParam(r, "account")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	asset, err := parseAsset(chi.URLParam(r, "asset"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	info, ok, err := a.chain.TokenInfo(account, asset)
	if err != nil {
		a.internal(w, r, err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, dex.ErrAssetIDNotInTokenInfoes)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"account":  account.String(),
		"asset":    uint32(asset),
		"amount":   info.Amount.Dec(),
		"reserved": info.Reserved.Dec(),
	})
}

func (a *api) listEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := indexer.Filter{Type: strings.TrimSpace(q.Get("type"))}
	for name, dst := range map[string]*uint64{"from": &filter.FromHeight, "to": &filter.ToHeight} {
		if raw := q.Get(name); raw != "" {
			parsed, err := strconv.ParseUint(raw, 10, 64)
			if err != nil {
				writeError(w, http.StatusBadRequest, fmt.Errorf("invalid %s height", name))
				return
			}
			*dst = parsed
		}
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			writeError(w, http.StatusBadRequest, errors.New("invalid limit"))
			return
		}
		filter.Limit = limit
	}
	events, err := a.events.List(r.Context(), filter)
	if err != nil {
		a.internal(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"events": events})
}
