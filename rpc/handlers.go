package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"voucherchain/core"
	coreerrors "voucherchain/core/errors"
	"voucherchain/core/metatx"
	"voucherchain/native/voucher"
	"voucherchain/observability/logging"
)

func (s *Server) handleRelay(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBodyBytes+1))
	if err != nil {
		writeErrorStatus(w, http.StatusBadRequest, "bad_request", "read body")
		return
	}
	if len(body) > maxRequestBodyBytes {
		writeErrorStatus(w, http.StatusRequestEntityTooLarge, "bad_request", "request body too large")
		return
	}

	key := strings.TrimSpace(r.Header.Get(headerIdempotencyKey))
	idem := s.cfg.Idempotency
	if key == "" {
		idem = nil
	}
	var requestHash string
	if idem != nil {
		requestHash = hashRequest(body)
		cached, err := idem.Lookup(r.Context(), key, requestHash)
		switch {
		case errors.Is(err, ErrIdempotencyMismatch):
			writeErrorStatus(w, http.StatusConflict, "idempotency_mismatch", err.Error())
			return
		case err != nil:
			s.logger.Error("rpc: idempotency lookup failed", "error", err)
		case cached != nil:
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Idempotent-Replayed", "true")
			w.WriteHeader(cached.Status)
			_, _ = w.Write(cached.Body)
			return
		}
	}

	var req RelayRequest
	if err := decodeStrict(body, &req); err != nil {
		writeError(w, err)
		return
	}
	env, err := req.Envelope()
	if err != nil {
		writeError(w, err)
		return
	}
	receipt, err := s.node.Relay(r.Context(), env)
	if err != nil {
		s.logger.Info("relay rejected",
			slog.String("method", req.Method),
			slog.String("signer", req.Signer),
			slog.Uint64("nonce", req.Nonce),
			slog.String("kind", kindFor(err)),
			slog.String("requestid", requestIDFrom(r.Context())),
			logging.MaskField("signature", req.Signature))
		writeError(w, err)
		return
	}
	payload, err := json.Marshal(relayResponse{
		ID:     receipt.ID,
		Method: receipt.Method,
		Signer: formatAddress(receipt.Signer),
		Nonce:  receipt.Nonce,
		Result: resultView(receipt.Result),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	if idem != nil {
		if err := idem.Save(r.Context(), key, requestHash, http.StatusOK, payload); err != nil {
			s.logger.Error("rpc: idempotency save failed", "error", err)
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(payload)
}

func (s *Server) handleRelayMethods(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"domain":  s.node.RelayDomain(),
		"methods": core.RelayMethods(),
	})
}

func (s *Server) handleRelayNonce(w http.ResponseWriter, r *http.Request) {
	signer, err := addressParam(r, "signer")
	if err != nil {
		writeError(w, err)
		return
	}
	nonce, err := strconv.ParseUint(chi.URLParam(r, "nonce"), 10, 64)
	if err != nil {
		writeError(w, fmt.Errorf("%w: nonce: %v", errBadRequest, err))
		return
	}
	used, err := s.node.RelayNonceUsed(signer, nonce)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"nonce": nonce, "used": used})
}

func (s *Server) handleListSets(w http.ResponseWriter, r *http.Request) {
	var seller [20]byte
	if raw := r.URL.Query().Get("seller"); raw != "" {
		parsed, err := parseAddress(raw)
		if err != nil {
			writeError(w, err)
			return
		}
		seller = parsed
	}
	limit, err := limitParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	sets, err := s.node.ListVoucherSets(seller, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]voucherSetView, 0, len(sets))
	for _, set := range sets {
		out = append(out, newVoucherSetView(set))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetSet(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	set, err := s.node.VoucherSet(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newVoucherSetView(set))
}

func (s *Server) handleGetGate(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	binding, ok, err := s.node.GateBinding(id)
	if err != nil {
		writeError(w, err)
		return
	}
	if !ok {
		writeError(w, fmt.Errorf("%w: set %s is not gated", coreerrors.ErrNotFound, formatID(id)))
		return
	}
	writeJSON(w, http.StatusOK, newBindingView(binding))
}

func (s *Server) handleListVouchers(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	var filter core.VoucherFilter
	if raw := query.Get("set"); raw != "" {
		id, err := parseID(raw)
		if err != nil {
			writeError(w, err)
			return
		}
		filter.SetID = id
	}
	if raw := query.Get("holder"); raw != "" {
		holder, err := parseAddress(raw)
		if err != nil {
			writeError(w, err)
			return
		}
		filter.Holder = holder
	}
	limit, err := limitParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	filter.Limit = limit
	vouchers, err := s.node.ListVouchers(filter)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]voucherView, 0, len(vouchers))
	for _, v := range vouchers {
		out = append(out, newVoucherView(v))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetVoucher(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	v, err := s.node.Voucher(id)
	if err != nil {
		writeError(w, err)
		return
	}
	finalizable, err := s.node.Finalizable(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		voucherView
		Finalizable bool `json:"finalizable"`
	}{newVoucherView(v), finalizable})
}

func (s *Server) handleEntitlement(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	settlement, err := s.node.Entitlement(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newSettlementView(settlement))
}

func (s *Server) handleSettlement(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	settlement, ok, err := s.node.Settlement(id)
	if err != nil {
		writeError(w, err)
		return
	}
	if !ok {
		writeError(w, fmt.Errorf("%w: voucher %s has no settlement", coreerrors.ErrNotFound, formatID(id)))
		return
	}
	writeJSON(w, http.StatusOK, newSettlementView(settlement))
}

// handlePoke serves the permissionless lifecycle triggers. They need no
// signature because the outcome does not depend on who calls.
func (s *Server) handlePoke(call func(context.Context, [32]byte) (*voucher.Voucher, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := idParam(r, "id")
		if err != nil {
			writeError(w, err)
			return
		}
		v, err := call(r.Context(), id)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, newVoucherView(v))
	}
}

func (s *Server) handleBalances(w http.ResponseWriter, r *http.Request) {
	addr, err := addressParam(r, "address")
	if err != nil {
		writeError(w, err)
		return
	}
	view, err := s.balances(addr, r.URL.Query().Get("asset"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) balances(addr [20]byte, rawAsset string) (*balancesView, error) {
	asset, err := parseAsset(rawAsset)
	if err != nil {
		return nil, err
	}
	wallet, err := s.node.Balance(addr, asset)
	if err != nil {
		return nil, err
	}
	held, err := s.node.HeldBalance(addr, asset)
	if err != nil {
		return nil, err
	}
	ledger, err := s.node.LedgerBalance(addr, asset)
	if err != nil {
		return nil, err
	}
	return &balancesView{
		Address: formatAddress(addr),
		Asset:   asset.String(),
		Wallet:  formatAmount(wallet),
		Held:    formatAmount(held),
		Ledger:  formatAmount(ledger),
	}, nil
}

func (s *Server) handleInventory(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	holder, err := addressParam(r, "holder")
	if err != nil {
		writeError(w, err)
		return
	}
	balance, err := s.node.InventoryBalance(id, holder)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":      formatID(id),
		"holder":  formatAddress(holder),
		"balance": balance,
	})
}

func (s *Server) handleSystem(w http.ResponseWriter, _ *http.Request) {
	settings, err := s.node.SystemSettings()
	if err != nil {
		writeError(w, err)
		return
	}
	params, err := s.node.Params()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		settingsView
		Vault       string     `json:"vault"`
		RelayDomain string     `json:"relayDomain"`
		Params      paramsView `json:"params"`
	}{
		settingsView: newSettingsView(settings),
		Vault:        formatAddress(s.node.Vault()),
		RelayDomain:  s.node.RelayDomain(),
		Params:       paramsView{ComplainPeriod: params.ComplainPeriod, CancelFaultPeriod: params.CancelFaultPeriod},
	})
}

func decodeStrict(body []byte, out interface{}) error {
	dec := json.NewDecoder(strings.NewReader(string(body)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("%w: decode body: %v", errBadRequest, err)
	}
	return nil
}

func idParam(r *http.Request, name string) ([32]byte, error) {
	return parseID(chi.URLParam(r, name))
}

func parseID(raw string) ([32]byte, error) {
	id, err := metatx.ParseID(raw)
	if err != nil {
		return id, fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return id, nil
}

func addressParam(r *http.Request, name string) ([20]byte, error) {
	return parseAddress(chi.URLParam(r, name))
}

func parseAddress(raw string) ([20]byte, error) {
	addr, err := metatx.ParseAddress(raw)
	if err != nil {
		return addr, fmt.Errorf("%w: address: %v", errBadRequest, err)
	}
	return addr, nil
}

func limitParam(r *http.Request) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("limit"))
	if raw == "" {
		return defaultListLimit, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return 0, fmt.Errorf("%w: limit must be a positive integer", errBadRequest)
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	return limit, nil
}
