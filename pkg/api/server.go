// Package api serves the exchange over REST and WebSocket.
package api

import (
	"bufio"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gorilla/mux"
	"github.com/holiman/uint256"
	"github.com/rs/cors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/uhyunpark/hyperswap/pkg/abci"
	"github.com/uhyunpark/hyperswap/pkg/app/core/events"
	"github.com/uhyunpark/hyperswap/pkg/app/core/exchange"
	"github.com/uhyunpark/hyperswap/pkg/app/core/mempool"
	"github.com/uhyunpark/hyperswap/pkg/app/core/orderbook"
	"github.com/uhyunpark/hyperswap/pkg/app/core/transaction"
	"github.com/uhyunpark/hyperswap/pkg/app/dex"
	"github.com/uhyunpark/hyperswap/pkg/crypto"
	"github.com/uhyunpark/hyperswap/pkg/metrics"
	"github.com/uhyunpark/hyperswap/pkg/sequencer"
	"github.com/uhyunpark/hyperswap/pkg/util"
)

const maxTxBodyBytes = 64 << 10

type Options struct {
	CORSOrigins []string
}

// Server handles REST API and WebSocket connections
type Server struct {
	app     *dex.App
	blocks  sequencer.BlockStore
	router  *mux.Router
	hub     *Hub
	opts    Options
	logger  *zap.SugaredLogger
	metrics *metrics.Metrics
}

func NewServer(app *dex.App, blocks sequencer.BlockStore, m *metrics.Metrics, logger *zap.SugaredLogger, opts Options) *Server {
	if logger == nil {
		logger = util.NopSugar()
	}
	s := &Server{
		app:     app,
		blocks:  blocks,
		router:  mux.NewRouter(),
		hub:     NewHub(logger, m),
		opts:    opts,
		logger:  logger,
		metrics: m,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(s.observe)

	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/exchange", s.handleGetExchange).Methods("GET")
	api.HandleFunc("/tokens", s.handleGetTokens).Methods("GET")
	api.HandleFunc("/balances/{token}/{owner}", s.handleGetBalance).Methods("GET")
	api.HandleFunc("/orders", s.handleListOrders).Methods("GET")
	api.HandleFunc("/orders/{id:[0-9]+}", s.handleGetOrder).Methods("GET")
	api.HandleFunc("/accounts/{address}/nonce", s.handleGetNonce).Methods("GET")

	api.HandleFunc("/tx", s.handleSubmitTx).Methods("POST")
	api.HandleFunc("/tx/{hash}", s.handleGetReceipt).Methods("GET")

	api.HandleFunc("/blocks/latest", s.handleGetLatestBlock).Methods("GET")
	api.HandleFunc("/blocks/{height:[0-9]+}", s.handleGetBlock).Methods("GET")

	s.router.Handle("/metrics", s.metrics.Handler())
	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Handler returns the router wrapped with CORS
func (s *Server) Handler() http.Handler {
	origins := s.opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:3000", "http://localhost:3001"}
	}
	c := cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})
	return c.Handler(s.router)
}

func (s *Server) Hub() *Hub { return s.hub }

// Start runs the WebSocket hub and serves HTTP until ctx is done
func (s *Server) Start(ctx context.Context, addr string) error {
	go s.hub.Run(ctx)

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Infow("api_listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ==============================
// REST Handlers
// ==============================

func (s *Server) handleGetExchange(w http.ResponseWriter, r *http.Request) {
	cfg := s.app.Config()
	ex := s.app.Exchange()
	respondJSON(w, http.StatusOK, ExchangeInfo{
		FeeAccount:  ex.FeeAccount().Hex(),
		FeePercent:  ex.FeePercent(),
		Custodian:   cfg.Custodian.Hex(),
		ChainID:     cfg.ChainID,
		OrderCount:  ex.OrderCount(),
		Height:      s.app.Height(),
		AppHash:     s.app.AppHash().Hex(),
		MempoolSize: s.app.MempoolSize(),
	})
}

func (s *Server) handleGetTokens(w http.ResponseWriter, r *http.Request) {
	infos := s.app.Tokens().List()
	out := make([]TokenInfo, len(infos))
	for i, info := range infos {
		out[i] = TokenInfo{
			Address:  info.Address.Hex(),
			Name:     info.Name,
			Symbol:   info.Symbol,
			Decimals: info.Decimals,
		}
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetBalance(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	tok, ok := parseAddress(w, "token", vars["token"])
	if !ok {
		return
	}
	owner, ok := parseAddress(w, "owner", vars["owner"])
	if !ok {
		return
	}

	bal := s.app.Exchange().TotalBalanceOf(tok, owner)
	info := BalanceInfo{Token: tok.Hex(), Owner: owner.Hex(), Raw: bal.Dec()}
	decimals := uint8(18)
	if ti, found := s.app.Tokens().Info(tok); found {
		info.Symbol = ti.Symbol
		decimals = ti.Decimals
	}
	info.Formatted = formatUnits(bal, decimals)
	respondJSON(w, http.StatusOK, info)
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid order id", err.Error())
		return
	}
	rec, err := s.app.Exchange().Order(id)
	if err != nil {
		respondError(w, http.StatusNotFound, exchange.Code(err), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, orderInfo(rec))
}

// handleListOrders supports ?user=0x..&status=open|cancelled|filled&limit=n
func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var f orderbook.Filter
	if v := q.Get("user"); v != "" {
		user, ok := parseAddress(w, "user", v)
		if !ok {
			return
		}
		f.User = &user
	}
	if v := q.Get("status"); v != "" {
		st, ok := parseStatus(v)
		if !ok {
			respondError(w, http.StatusBadRequest, "invalid status", v)
			return
		}
		f.Status = &st
	}
	f.Limit = 100
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "invalid limit", v)
			return
		}
		f.Limit = n
	}

	recs := s.app.Exchange().Orders(f)
	out := make([]OrderInfo, len(recs))
	for i, rec := range recs {
		out[i] = orderInfo(rec)
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetNonce(w http.ResponseWriter, r *http.Request) {
	addr, ok := parseAddress(w, "address", mux.Vars(r)["address"])
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, NonceInfo{Address: addr.Hex(), Nonce: s.app.Nonce(addr)})
}

func (s *Server) handleSubmitTx(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxTxBodyBytes+1))
	if err != nil {
		respondError(w, http.StatusBadRequest, "failed to read body", err.Error())
		return
	}
	if len(body) > maxTxBodyBytes {
		respondError(w, http.StatusRequestEntityTooLarge, "transaction too large", "")
		return
	}

	hash, err := s.app.SubmitTx(body)
	if err != nil {
		status, code := submitStatus(err)
		s.logger.Debugw("tx_submit_rejected", "code", code, "err", err)
		respondError(w, status, code, err.Error())
		return
	}

	s.logger.Debugw("tx_submitted", "tx_hash", hash.Hex(), "bytes", len(body))
	respondJSON(w, http.StatusAccepted, SubmitTxResponse{Status: "submitted", TxHash: hash.Hex()})
}

func submitStatus(err error) (int, string) {
	switch {
	case errors.Is(err, transaction.ErrInvalidSignature):
		return http.StatusUnauthorized, "invalid_signature"
	case errors.Is(err, transaction.ErrMalformed):
		return http.StatusBadRequest, "malformed"
	case errors.Is(err, dex.ErrNonceTooLow):
		return http.StatusConflict, "nonce_too_low"
	case errors.Is(err, mempool.ErrFull):
		return http.StatusServiceUnavailable, "mempool_full"
	}
	return http.StatusInternalServerError, "internal"
}

func (s *Server) handleGetReceipt(w http.ResponseWriter, r *http.Request) {
	raw, err := hexutil.Decode(mux.Vars(r)["hash"])
	if err != nil || len(raw) != common.HashLength {
		respondError(w, http.StatusBadRequest, "invalid tx hash", "expected 0x-prefixed 32 bytes")
		return
	}
	rcpt, ok, err := s.app.Receipt(common.BytesToHash(raw))
	if err != nil {
		respondError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	if !ok {
		respondError(w, http.StatusNotFound, "receipt not found", "transaction unknown or still pending")
		return
	}
	respondJSON(w, http.StatusOK, rcpt)
}

func (s *Server) handleGetBlock(w http.ResponseWriter, r *http.Request) {
	height, err := strconv.ParseUint(mux.Vars(r)["height"], 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid height", err.Error())
		return
	}
	b, ok, err := s.blocks.GetBlock(height)
	s.respondBlock(w, b, ok, err)
}

func (s *Server) handleGetLatestBlock(w http.ResponseWriter, r *http.Request) {
	b, ok, err := s.blocks.LatestBlock()
	s.respondBlock(w, b, ok, err)
}

func (s *Server) respondBlock(w http.ResponseWriter, b sequencer.Block, ok bool, err error) {
	if err != nil {
		respondError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	if !ok {
		respondError(w, http.StatusNotFound, "block not found", "")
		return
	}
	respondJSON(w, http.StatusOK, blockInfo(b))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ==============================
// Broadcast Methods (called from the sequencer)
// ==============================

// OnCommit publishes a committed block and its events. Usable as a sequencer.CommitHook.
func (s *Server) OnCommit(b sequencer.Block, resp abci.ResponseFinalizeBlock) {
	height := int64(b.Header.Height)
	s.hub.BroadcastToChannel(ChannelBlocks, WSMessage{Type: "block", Data: blockInfo(b)})

	for _, res := range resp.TxResults {
		for _, ev := range res.Events {
			env, err := events.Wrap(ev)
			if err != nil {
				continue
			}
			msg := WSMessage{Type: "event", Data: EventUpdate{Height: height, TxHash: res.Hash.Hex(), Event: env}}
			s.hub.BroadcastToChannel(ChannelEvents, msg)
			for _, ch := range eventChannels(ev) {
				s.hub.BroadcastToChannel(ch, msg)
			}
		}
	}
}

// eventChannels lists the account and order channels an event belongs to
func eventChannels(ev events.Event) []string {
	switch e := ev.(type) {
	case events.TokensDeposited:
		return []string{AccountChannel(e.Owner.Hex())}
	case events.TokensWithdrawn:
		return []string{AccountChannel(e.Owner.Hex())}
	case events.OrderCreated:
		return []string{AccountChannel(e.User.Hex()), OrderChannel(e.ID)}
	case events.OrderCancelled:
		return []string{AccountChannel(e.User.Hex()), OrderChannel(e.ID)}
	case events.OrderFilled:
		return []string{AccountChannel(e.Maker.Hex()), AccountChannel(e.Taker.Hex()), OrderChannel(e.ID)}
	}
	return nil
}

// ==============================
// Helper Functions
// ==============================

// observe records request counts by route template
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		route := r.URL.Path
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		s.metrics.ObserveHTTP(route, rec.status)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Hijack lets the websocket upgrade pass through the recorder
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("hijack not supported")
	}
	return h.Hijack()
}

func parseAddress(w http.ResponseWriter, field, s string) (common.Address, bool) {
	addr, err := crypto.ParseAddress(s)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid "+field, err.Error())
		return common.Address{}, false
	}
	return addr, true
}

func parseStatus(s string) (orderbook.Status, bool) {
	for _, st := range []orderbook.Status{orderbook.StatusOpen, orderbook.StatusCancelled, orderbook.StatusFilled} {
		if st.String() == s {
			return st, true
		}
	}
	return 0, false
}

// formatUnits renders base units as a decimal number of whole tokens
func formatUnits(v *uint256.Int, decimals uint8) string {
	return decimal.NewFromBigInt(v.ToBig(), -int32(decimals)).String()
}

func orderInfo(rec orderbook.Record) OrderInfo {
	return OrderInfo{
		ID:         rec.ID,
		User:       rec.User.Hex(),
		TokenGet:   rec.TokenGet.Hex(),
		AmountGet:  rec.AmountGet.Dec(),
		TokenGive:  rec.TokenGive.Hex(),
		AmountGive: rec.AmountGive.Dec(),
		Timestamp:  rec.Timestamp,
		Status:     rec.Status.String(),
	}
}

func blockInfo(b sequencer.Block) BlockInfo {
	h := b.Header
	return BlockInfo{
		Height:    h.Height,
		Hash:      b.Hash().Hex(),
		Parent:    h.Parent.Hex(),
		Time:      h.Time,
		TxRoot:    h.TxRoot.Hex(),
		NumTxs:    h.NumTxs,
		AppHash:   h.AppHash.Hex(),
		Proposer:  "0x" + hex.EncodeToString(b.Proposer),
		Signature: "0x" + hex.EncodeToString(b.Signature),
	}
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, error string, message string) {
	respondJSON(w, status, ErrorResponse{
		Error:   error,
		Message: message,
	})
}
