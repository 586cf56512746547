// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package httpapi serves the manual operations of the deposit engine: fresh
// receiving addresses, balances, sends and request lookups, plus the
// prometheus metrics.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcdeposit/chain"
	"github.com/btcsuite/btcdeposit/coinselect"
	"github.com/btcsuite/btcdeposit/deposit"
	"github.com/btcsuite/btcwallet/wallet/txrules"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
)

const (
	// requestTimeout bounds the handling of a single request.
	requestTimeout = 30 * time.Second

	// shutdownTimeout bounds the graceful shutdown of the listener.
	shutdownTimeout = 10 * time.Second
)

// RequestStore is the read-only view of the datastore used by the API.
type RequestStore interface {
	Request(ctx context.Context, id int64) (*deposit.Request, error)
	LedgerEntry(ctx context.Context,
		requestID int64) (*deposit.LedgerEntry, error)
}

// Config holds the collaborators of the API server.
type Config struct {
	// Listen is the address the server listens on.
	Listen string

	// Wallet serves addresses, balances and sends.
	Wallet chain.Wallet

	// Store serves request lookups.
	Store RequestStore

	// Policy decides which outputs count toward a balance.
	Policy coinselect.Policy

	// ChainParams are used to decode addresses.
	ChainParams *chaincfg.Params

	// MaxSend caps the amount of a single send. Zero means no cap.
	MaxSend btcutil.Amount

	// RelayFeePerKb is the relay fee used for the dust check. Zero means
	// txrules.DefaultRelayFeePerKb.
	RelayFeePerKb btcutil.Amount

	// Gatherer provides the metrics served at /metrics. Nil means the
	// default prometheus registry.
	Gatherer prometheus.Gatherer
}

// Server is the HTTP server of the manual surface.
type Server struct {
	cfg    Config
	router chi.Router
	srv    *http.Server
}

// NewServer builds the router. The listener is only opened by Start.
func NewServer(cfg *Config) *Server {
	s := &Server{cfg: *cfg}
	if s.cfg.RelayFeePerKb == 0 {
		s.cfg.RelayFeePerKb = txrules.DefaultRelayFeePerKb
	}
	if s.cfg.Gatherer == nil {
		s.cfg.Gatherer = prometheus.DefaultGatherer
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(requestTimeout))

	r.Get("/receive", s.handleReceive)
	r.Get("/balance", s.handleBalance)
	r.Post("/send", s.handleSend)
	r.Get("/requests/{id}", s.handleRequest)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(
		s.cfg.Gatherer, promhttp.HandlerOpts{},
	))

	s.router = r
	s.srv = &http.Server{
		Addr:              cfg.Listen,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

// Handler returns the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start begins serving in the background.
func (s *Server) Start() error {
	log.Infof("HTTP server listening on %s", s.cfg.Listen)

	go func() {
		err := s.srv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("HTTP server failed: %v", err)
		}
	}()

	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop() error {
	log.Info("HTTP server shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	return s.srv.Shutdown(ctx)
}

// receiveResponse is returned by /receive.
type receiveResponse struct {
	Address string `json:"address"`
}

// balanceResponse is returned by /balance.
type balanceResponse struct {
	Address string `json:"address,omitempty"`
	Balance string `json:"balance"`
	Outputs int    `json:"outputs"`
}

// sendResponse is returned by /send.
type sendResponse struct {
	TxHash string `json:"txid"`
}

// requestResponse is returned by /requests/{id}.
type requestResponse struct {
	ID        int64     `json:"id"`
	OwnerID   int64     `json:"owner_id"`
	Status    string    `json:"status"`
	Address   string    `json:"address,omitempty"`
	Amount    string    `json:"amount"`
	Credited  string    `json:"credited,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// errorResponse is the body of every failed call.
type errorResponse struct {
	Error string `json:"error"`
}

// handleReceive returns a fresh wallet address.
func (s *Server) handleReceive(w http.ResponseWriter, r *http.Request) {
	addr, err := s.cfg.Wallet.FreshAddress(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, receiveResponse{
		Address: addr.EncodeAddress(),
	})
}

// handleBalance returns the eligible balance of the whole wallet or, with
// the address parameter, of a single address.
func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	var (
		cands   []coinselect.Candidate
		err     error
		address = r.URL.Query().Get("address")
	)
	if address == "" {
		cands, err = s.cfg.Wallet.AllCandidateOutputs(r.Context())
	} else {
		var addr btcutil.Address
		addr, err = s.decodeAddress(address)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{
				Error: err.Error(),
			})
			return
		}
		cands, err = s.cfg.Wallet.CandidateOutputs(r.Context(), addr)
	}
	if err != nil {
		writeError(w, err)
		return
	}

	sel := coinselect.Select(s.cfg.Policy, coinselect.Unbounded, cands)

	writeJSON(w, http.StatusOK, balanceResponse{
		Address: address,
		Balance: deposit.AmountToDecimal(sel.Total).String(),
		Outputs: len(sel.Outputs),
	})
}

// handleSend pays the amount parameter, in BTC, to the to parameter.
func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	addr, err := s.decodeAddress(query.Get("to"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Error: err.Error(),
		})
		return
	}

	amount, err := s.parseSendAmount(query.Get("amount"), addr)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Error: err.Error(),
		})
		return
	}

	hash, err := s.cfg.Wallet.Send(r.Context(), addr, amount)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, sendResponse{TxHash: hash.String()})
}

// handleRequest returns the status of a deposit request.
func (s *Server) handleRequest(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Error: "invalid request id",
		})
		return
	}

	req, err := s.cfg.Store.Request(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := requestResponse{
		ID:        req.ID,
		OwnerID:   req.OwnerID,
		Status:    req.Status.String(),
		Address:   req.Address.UnwrapOr(""),
		Amount:    req.Amount.String(),
		CreatedAt: req.CreatedAt,
		UpdatedAt: req.UpdatedAt,
	}
	if req.Status == deposit.StatusCompleted {
		entry, err := s.cfg.Store.LedgerEntry(r.Context(), id)
		if err != nil {
			writeError(w, err)
			return
		}
		resp.Credited = entry.Amount.String()
	}

	writeJSON(w, http.StatusOK, resp)
}

// decodeAddress decodes an address of the configured network.
func (s *Server) decodeAddress(str string) (btcutil.Address, error) {
	if str == "" {
		return nil, errors.New("missing address")
	}

	addr, err := btcutil.DecodeAddress(str, s.cfg.ChainParams)
	if err != nil {
		return nil, fmt.Errorf("invalid address %q: %w", str, err)
	}
	if !addr.IsForNet(s.cfg.ChainParams) {
		return nil, fmt.Errorf("address %q is not for %s", str,
			s.cfg.ChainParams.Name)
	}
	return addr, nil
}

// parseSendAmount parses a BTC amount and applies the output policy checks.
func (s *Server) parseSendAmount(str string,
	addr btcutil.Address) (btcutil.Amount, error) {

	dec, err := decimal.NewFromString(str)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q", str)
	}
	if !dec.IsPositive() {
		return 0, errors.New("amount must be positive")
	}
	amount, err := deposit.DecimalToAmount(dec)
	if err != nil {
		return 0, err
	}
	if s.cfg.MaxSend > 0 && amount > s.cfg.MaxSend {
		return 0, fmt.Errorf("amount %v exceeds the maximum of %v",
			amount, s.cfg.MaxSend)
	}

	pkScript, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return 0, err
	}
	err = txrules.CheckOutput(
		wire.NewTxOut(int64(amount), pkScript), s.cfg.RelayFeePerKb,
	)
	if err != nil {
		return 0, fmt.Errorf("amount %v: %w", amount, err)
	}

	return amount, nil
}

// writeJSON writes v with the given status.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debugf("Unable to write response: %v", err)
	}
}

// writeError maps a deposit error to an HTTP status.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case deposit.IsError(err, deposit.ErrNotFound):
		status = http.StatusNotFound

	case deposit.IsError(err, deposit.ErrInsufficientFunds):
		status = http.StatusBadRequest

	case deposit.IsError(err, deposit.ErrWatcherUnavailable),
		deposit.IsError(err, deposit.ErrDatastoreUnavailable):

		status = http.StatusServiceUnavailable

	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	}

	if status >= http.StatusInternalServerError {
		log.Errorf("Request failed: %v", err)
	}

	writeJSON(w, status, errorResponse{Error: err.Error()})
}

// requestLogger logs every request at debug level.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		next.ServeHTTP(ww, r)

		log.Debugf("%s %s -> %d (%v)", r.Method, r.URL.Path,
			ww.Status(), time.Since(start))
	})
}
