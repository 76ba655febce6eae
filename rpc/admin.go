package rpc

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"

	"voucherchain/core/metatx"
	"voucherchain/observability/eventlog"
)

type fundRequest struct {
	Address string `json:"address"`
	Asset   string `json:"asset"`
	Amount  string `json:"amount"`
}

type mintCredentialRequest struct {
	TokenID string `json:"tokenId"`
	Holder  string `json:"holder"`
	Amount  uint64 `json:"amount"`
}

func (s *Server) handleFund(w http.ResponseWriter, r *http.Request) {
	var req fundRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	addr, err := parseAddress(req.Address)
	if err != nil {
		writeError(w, err)
		return
	}
	asset, err := parseAsset(req.Asset)
	if err != nil {
		writeError(w, err)
		return
	}
	amount, err := metatx.ParseAmount(req.Amount)
	if err != nil {
		writeError(w, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	if err := s.node.Fund(r.Context(), addr, asset, amount); err != nil {
		writeError(w, err)
		return
	}
	s.logger.Info("account funded",
		"subject", subjectFrom(r.Context()),
		"address", req.Address,
		"asset", asset.String(),
		"amount", amount.String())
	view, err := s.balances(addr, req.Asset)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleMintCredential(w http.ResponseWriter, r *http.Request) {
	var req mintCredentialRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	tokenID, err := parseID(req.TokenID)
	if err != nil {
		writeError(w, err)
		return
	}
	holder, err := parseAddress(req.Holder)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.node.MintCredential(r.Context(), tokenID, holder, req.Amount); err != nil {
		writeError(w, err)
		return
	}
	s.logger.Info("credential minted",
		"subject", subjectFrom(r.Context()),
		"token", req.TokenID,
		"holder", req.Holder,
		"amount", req.Amount)
	balance, err := s.node.InventoryBalance(tokenID, holder)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":      formatID(tokenID),
		"holder":  formatAddress(holder),
		"balance": balance,
	})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.cfg.EventLog == nil {
		writeErrorStatus(w, http.StatusServiceUnavailable, "unavailable", "event log not configured")
		return
	}
	filter, err := eventFilter(r)
	if err != nil {
		writeError(w, err)
		return
	}
	entries, err := s.cfg.EventLog.Query(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]eventView, 0, len(entries))
	for _, entry := range entries {
		attrs, err := entry.Attributes()
		if err != nil {
			writeError(w, err)
			return
		}
		out = append(out, eventView{
			Sequence:   entry.Sequence,
			Type:       entry.Type,
			Subject:    entry.Subject,
			Attributes: attrs,
			Timestamp:  entry.RecordedAt.Unix(),
			Digest:     entry.Digest,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleExportEvents(w http.ResponseWriter, r *http.Request) {
	if s.cfg.EventLog == nil {
		writeErrorStatus(w, http.StatusServiceUnavailable, "unavailable", "event log not configured")
		return
	}
	filter, err := eventFilter(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if r.URL.Query().Get("limit") == "" {
		filter.Limit = 0
	}
	tmp, err := os.CreateTemp("", "voucher-events-*.parquet")
	if err != nil {
		writeError(w, err)
		return
	}
	path := tmp.Name()
	tmp.Close()
	defer os.Remove(path)

	rows, err := s.cfg.EventLog.ExportParquet(r.Context(), path, filter)
	if err != nil {
		writeError(w, err)
		return
	}
	file, err := os.Open(path)
	if err != nil {
		writeError(w, err)
		return
	}
	defer file.Close()
	s.logger.Info("events exported", "subject", subjectFrom(r.Context()), "rows", rows)
	w.Header().Set("Content-Type", "application/vnd.apache.parquet")
	w.Header().Set("Content-Disposition", `attachment; filename="voucher-events.parquet"`)
	w.Header().Set("X-Row-Count", strconv.Itoa(rows))
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, file)
}

func (s *Server) handleVerifyEvents(w http.ResponseWriter, r *http.Request) {
	if s.cfg.EventLog == nil {
		writeErrorStatus(w, http.StatusServiceUnavailable, "unavailable", "event log not configured")
		return
	}
	err := s.cfg.EventLog.Verify(r.Context(), eventlog.Filter{})
	switch {
	case errors.Is(err, eventlog.ErrDigestMismatch):
		writeErrorStatus(w, http.StatusConflict, "tampered", err.Error())
	case err != nil:
		writeError(w, err)
	default:
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	}
}

func eventFilter(r *http.Request) (eventlog.Filter, error) {
	query := r.URL.Query()
	filter := eventlog.Filter{
		Type:    strings.TrimSpace(query.Get("type")),
		Subject: strings.TrimSpace(query.Get("subject")),
	}
	if raw := strings.TrimSpace(query.Get("after")); raw != "" {
		after, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return filter, fmt.Errorf("%w: after: %v", errBadRequest, err)
		}
		filter.After = after
	}
	limit, err := limitParam(r)
	if err != nil {
		return filter, err
	}
	filter.Limit = limit
	return filter, nil
}

func decodeBody(r *http.Request, out interface{}) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBodyBytes))
	if err != nil {
		return fmt.Errorf("%w: read body: %v", errBadRequest, err)
	}
	return decodeStrict(body, out)
}
