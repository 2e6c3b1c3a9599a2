// Package main runs the routing service: an HTTP API over the routing
// engine, the resident order book, the adapter trust registry, fill
// persistence, Prometheus metrics and a WebSocket fill feed.
package main

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"liquidity-router/internal/audit"
	"liquidity-router/internal/book"
	"liquidity-router/internal/config"
	"liquidity-router/internal/domain"
	"liquidity-router/internal/ledger"
	"liquidity-router/internal/observability"
	"liquidity-router/internal/registry"
	"liquidity-router/internal/report"
	"liquidity-router/internal/router"
	"liquidity-router/internal/storage"
	chstore "liquidity-router/internal/storage/clickhouse"
	"liquidity-router/internal/storage/memory"
	"liquidity-router/internal/storage/migrations"
	pgstore "liquidity-router/internal/storage/postgres"
	"liquidity-router/internal/stream"
	"liquidity-router/internal/venue"
	"liquidity-router/internal/venue/limitswap"
	"liquidity-router/internal/venue/pathswap"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "router: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := newLogger(cfg.Env)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	l := ledger.New()

	routerAcct, err := resolveAccount(cfg.RouterAccount)
	if err != nil {
		return fmt.Errorf("router account: %w", err)
	}
	bookAcct, err := resolveAccount(cfg.BookAccount)
	if err != nil {
		return fmt.Errorf("book account: %w", err)
	}

	b := book.New(l, bookAcct, cfg.TakerFeeBps)

	regStore, err := registry.NewSQLiteStore(cfg.SQLitePath)
	if err != nil {
		return fmt.Errorf("open registry store: %w", err)
	}
	defer regStore.Close()
	reg := registry.New(regStore, cfg.AdminAddress, &logger)

	fills, legs, closeStores, err := openStores(ctx, cfg, &logger)
	if err != nil {
		return err
	}
	defer closeStores()

	metrics := observability.NewMetrics(cfg.MetricsNamespace)
	feed := stream.NewBroadcaster(nil, &logger)
	defer feed.Close()

	rtr, err := router.New(router.Options{
		Ledger:    l,
		Book:      b,
		Registry:  reg,
		Account:   routerAcct,
		Admin:     cfg.AdminAddress,
		Logger:    &logger,
		Metrics:   metrics,
		FillStore: fills,
		LegStore:  legs,
		Sink:      feed,
	})
	if err != nil {
		return fmt.Errorf("create router: %w", err)
	}

	limitVenue, pathVenue, err := buildVenues(l)
	if err != nil {
		return fmt.Errorf("build venues: %w", err)
	}
	rtr.RegisterAdapter(limitVenue)
	rtr.RegisterAdapter(pathVenue)

	logger.Info().
		Str("router_account", routerAcct).
		Str("book_account", bookAcct).
		Str("limitswap_adapter", limitVenue.ID()).
		Str("pathswap_adapter", pathVenue.ID()).
		Msg("routing engine assembled")

	apiHandler := newAPI(rtr, b, l, reg, fills, feed, &logger)
	apiHandler.limit = limitVenue
	apiHandler.path = pathVenue

	srv := &http.Server{
		Addr:         cfg.HTTP.Addr(),
		Handler:      apiHandler.routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutting down")
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func newLogger(env string) zerolog.Logger {
	if env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
			With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// resolveAccount returns the configured address or generates a fresh one.
func resolveAccount(configured string) (string, error) {
	if configured != "" {
		if err := domain.ValidateAddress(configured); err != nil {
			return "", err
		}
		return configured, nil
	}
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return "", fmt.Errorf("generate account key: %w", err)
	}
	return domain.AddressFromPublicKey(pub), nil
}

// openStores selects fill and leg stores from configuration. Postgres
// and ClickHouse are optional; the fill store falls back to memory.
func openStores(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (storage.FillStore, storage.LegAnalyticsStore, func(), error) {
	var closers []func()
	closeAll := func() {
		for _, c := range closers {
			c()
		}
	}

	var fills storage.FillStore
	if cfg.PostgresDSN != "" {
		pool, err := pgstore.NewPool(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		closers = append(closers, pool.Close)
		if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
			closeAll()
			return nil, nil, nil, fmt.Errorf("postgres migrations: %w", err)
		}
		fills = pgstore.NewFillStore(pool)
		logger.Info().Msg("using postgres fill store")
	} else {
		fills = memory.NewFillStore()
		logger.Info().Msg("using in-memory fill store")
	}

	var legs storage.LegAnalyticsStore
	if cfg.ClickhouseDSN != "" {
		conn, err := migrations.RunClickhouseMigrations(ctx, cfg.ClickhouseDSN)
		if err != nil {
			closeAll()
			return nil, nil, nil, fmt.Errorf("clickhouse migrations: %w", err)
		}
		closers = append(closers, func() { _ = conn.Close() })
		legs = chstore.NewLegAnalyticsStore(conn)
		logger.Info().Msg("using clickhouse leg analytics store")
	}

	return fills, legs, closeAll, nil
}

// buildVenues creates the two built-in venue integrations with fresh
// settlement accounts. Pools are registered through the dev API.
func buildVenues(l *ledger.Ledger) (*limitswap.Venue, *pathswap.Venue, error) {
	limitAcct, err := resolveAccount("")
	if err != nil {
		return nil, nil, err
	}
	pathAcct, err := resolveAccount("")
	if err != nil {
		return nil, nil, err
	}
	return limitswap.New(l, limitAcct), pathswap.New(l, pathAcct), nil
}

// api holds the HTTP handler dependencies.
type api struct {
	router *router.Router
	book   *book.Book
	ledger *ledger.Ledger
	reg    *registry.Registry
	fills  storage.FillStore
	feed   *stream.Broadcaster
	logger *zerolog.Logger

	limit *limitswap.Venue
	path  *pathswap.Venue

	auditor *audit.Auditor
	reports *report.Generator
}

func newAPI(rtr *router.Router, b *book.Book, l *ledger.Ledger, reg *registry.Registry, fills storage.FillStore, feed *stream.Broadcaster, logger *zerolog.Logger) *api {
	return &api{
		router:  rtr,
		book:    b,
		ledger:  l,
		reg:     reg,
		fills:   fills,
		feed:    feed,
		logger:  logger,
		auditor: audit.New(fills),
		reports: report.NewGenerator(fills),
	}
}

func (a *api) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /route", a.handleRoute)
	mux.HandleFunc("POST /route/sequential", a.handleRouteSequential)
	mux.HandleFunc("POST /route/split", a.handleRouteSplit)

	mux.HandleFunc("GET /fills/{fillID}", a.handleGetFill)
	mux.HandleFunc("GET /fills", a.handleListFills)
	mux.HandleFunc("GET /fills/report", a.handleFillReport)

	mux.HandleFunc("POST /admin/adapters", a.handleAddAdapter)
	mux.HandleFunc("DELETE /admin/adapters/{adapterID}", a.handleRemoveAdapter)
	mux.HandleFunc("GET /admin/adapters", a.handleListAdapters)
	mux.HandleFunc("POST /admin/recover", a.handleRecover)
	mux.HandleFunc("GET /admin/audit/{fillID}", a.handleAuditFill)
	mux.HandleFunc("GET /admin/audit", a.handleAuditRange)

	mux.HandleFunc("POST /book/orders", a.handlePlaceOrder)
	mux.HandleFunc("DELETE /book/orders/{orderID}", a.handleCancelOrder)
	mux.HandleFunc("GET /book/best", a.handleBestPrice)

	mux.HandleFunc("POST /dev/mint", a.handleMint)
	mux.HandleFunc("POST /dev/pools", a.handleAddPool)

	mux.Handle("GET /ws/fills", a.feed)
	mux.Handle("GET /metrics", observability.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	return mux
}

type marketJSON struct {
	SellToken   string `json:"sell_token"`
	BuyToken    string `json:"buy_token"`
	TickSpacing int64  `json:"tick_spacing"`
}

func (m marketJSON) key() (domain.MarketKey, error) {
	return domain.NewMarketKey(m.SellToken, m.BuyToken, m.TickSpacing)
}

type venueJSON struct {
	AdapterID   string          `json:"adapter_id"`
	RoutingData json.RawMessage `json:"routing_data,omitempty"`
}

type routeRequestJSON struct {
	RequestID    string     `json:"request_id,omitempty"`
	Caller       string     `json:"caller"`
	Market       marketJSON `json:"market"`
	AmountToSell uint64     `json:"amount_to_sell"`
	MaxTick      int64      `json:"max_tick"`

	Venue  *venueJSON  `json:"venue,omitempty"`
	Venues []venueJSON `json:"venues,omitempty"`
	Bps    []uint32    `json:"bps,omitempty"`
}

func (r routeRequestJSON) request() (router.Request, error) {
	market, err := r.Market.key()
	if err != nil {
		return router.Request{}, err
	}
	return router.Request{
		RequestID:    r.RequestID,
		Caller:       r.Caller,
		Market:       market,
		AmountToSell: r.AmountToSell,
		MaxTick:      domain.Tick(r.MaxTick),
	}, nil
}

func choices(venues []venueJSON) []router.VenueChoice {
	out := make([]router.VenueChoice, len(venues))
	for i, v := range venues {
		out[i] = router.VenueChoice{AdapterID: v.AdapterID, Data: venue.RoutingData(v.RoutingData)}
	}
	return out
}

func (a *api) handleRoute(w http.ResponseWriter, r *http.Request) {
	var body routeRequestJSON
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if body.Venue == nil {
		writeError(w, http.StatusBadRequest, errors.New("venue is required"))
		return
	}
	req, err := body.request()
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	res, err := a.router.Route(r.Context(), req, choices([]venueJSON{*body.Venue})[0])
	a.writeRouteResult(w, res, err)
}

func (a *api) handleRouteSequential(w http.ResponseWriter, r *http.Request) {
	var body routeRequestJSON
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	req, err := body.request()
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	res, err := a.router.RouteSequential(r.Context(), req, choices(body.Venues))
	a.writeRouteResult(w, res, err)
}

func (a *api) handleRouteSplit(w http.ResponseWriter, r *http.Request) {
	var body routeRequestJSON
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	req, err := body.request()
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	res, err := a.router.RouteSplit(r.Context(), req, choices(body.Venues), body.Bps)
	a.writeRouteResult(w, res, err)
}

func (a *api) writeRouteResult(w http.ResponseWriter, res *domain.RouteResult, err error) {
	if err != nil {
		var rerr *router.RouteError
		if errors.As(err, &rerr) {
			status := http.StatusUnprocessableEntity
			switch rerr.Kind {
			case router.KindConfiguration:
				status = http.StatusBadRequest
			case router.KindReentrancy:
				status = http.StatusConflict
			}
			writeJSON(w, status, map[string]string{
				"error": rerr.Err.Error(),
				"kind":  rerr.Kind.String(),
			})
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *api) handleGetFill(w http.ResponseWriter, r *http.Request) {
	fill, err := a.fills.GetByID(r.Context(), r.PathValue("fillID"))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, fill)
}

func (a *api) handleListFills(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if market := q.Get("market"); market != "" {
		fills, err := a.fills.GetByMarket(r.Context(), market)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, fills)
		return
	}

	var start, end int64
	if _, err := fmt.Sscan(q.Get("start"), &start); err != nil {
		writeError(w, http.StatusBadRequest, errors.New("market or start/end query is required"))
		return
	}
	if _, err := fmt.Sscan(q.Get("end"), &end); err != nil {
		writeError(w, http.StatusBadRequest, errors.New("market or start/end query is required"))
		return
	}
	fills, err := a.fills.GetByTimeRange(r.Context(), start, end)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, fills)
}

func timeRange(r *http.Request) (int64, int64, error) {
	q := r.URL.Query()
	var start, end int64
	if _, err := fmt.Sscan(q.Get("start"), &start); err != nil {
		return 0, 0, errors.New("start/end query is required")
	}
	if _, err := fmt.Sscan(q.Get("end"), &end); err != nil {
		return 0, 0, errors.New("start/end query is required")
	}
	return start, end, nil
}

func (a *api) handleFillReport(w http.ResponseWriter, r *http.Request) {
	start, end, err := timeRange(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	rep, err := a.reports.Generate(r.Context(), start, end)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if r.URL.Query().Get("format") == "csv" {
		w.Header().Set("Content-Type", "text/csv")
		_, _ = w.Write([]byte(report.RenderCSV(rep)))
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (a *api) handleAuditFill(w http.ResponseWriter, r *http.Request) {
	res, err := a.auditor.AuditFill(r.Context(), r.PathValue("fillID"))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *api) handleAuditRange(w http.ResponseWriter, r *http.Request) {
	start, end, err := timeRange(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	rep, err := a.auditor.AuditRange(r.Context(), start, end)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

type adapterRequestJSON struct {
	Caller    string `json:"caller"`
	AdapterID string `json:"adapter_id"`
}

func (a *api) handleAddAdapter(w http.ResponseWriter, r *http.Request) {
	var body adapterRequestJSON
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := a.reg.Add(r.Context(), body.Caller, body.AdapterID); err != nil {
		writeRegistryError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) handleRemoveAdapter(w http.ResponseWriter, r *http.Request) {
	caller := r.URL.Query().Get("caller")
	if err := a.reg.Remove(r.Context(), caller, r.PathValue("adapterID")); err != nil {
		writeRegistryError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) handleListAdapters(w http.ResponseWriter, r *http.Request) {
	records, err := a.reg.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func writeRegistryError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, registry.ErrNotAuthorized):
		writeError(w, http.StatusForbidden, err)
	case errors.Is(err, registry.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	default:
		writeError(w, http.StatusBadRequest, err)
	}
}

type recoverRequestJSON struct {
	Caller string `json:"caller"`
	Token  string `json:"token"`
	To     string `json:"to"`
	Amount uint64 `json:"amount,omitempty"`
}

func (a *api) handleRecover(w http.ResponseWriter, r *http.Request) {
	var body recoverRequestJSON
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	moved, err := a.router.RecoverFunds(r.Context(), body.Caller, body.Token, body.To, body.Amount)
	if err != nil {
		if errors.Is(err, router.ErrNotAdmin) {
			writeError(w, http.StatusForbidden, err)
			return
		}
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint64{"recovered": moved})
}

type placeOrderJSON struct {
	Maker  string     `json:"maker"`
	Market marketJSON `json:"market"`
	Tick   int64      `json:"tick"`
	Amount uint64     `json:"amount"`
	Bounty uint64     `json:"bounty,omitempty"`
}

func (a *api) handlePlaceOrder(w http.ResponseWriter, r *http.Request) {
	var body placeOrderJSON
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	market, err := body.Market.key()
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	orderID, err := a.book.Place(market, body.Maker, domain.Tick(body.Tick), body.Amount, false, body.Bounty)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"order_id": orderID})
}

func (a *api) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	var market marketJSON
	q := r.URL.Query()
	market.SellToken = q.Get("sell_token")
	market.BuyToken = q.Get("buy_token")
	if _, err := fmt.Sscan(q.Get("tick_spacing"), &market.TickSpacing); err != nil {
		writeError(w, http.StatusBadRequest, errors.New("tick_spacing query is required"))
		return
	}
	key, err := market.key()
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := a.book.Cancel(key, r.PathValue("orderID"), q.Get("caller")); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) handleBestPrice(w http.ResponseWriter, r *http.Request) {
	var market marketJSON
	q := r.URL.Query()
	market.SellToken = q.Get("sell_token")
	market.BuyToken = q.Get("buy_token")
	if _, err := fmt.Sscan(q.Get("tick_spacing"), &market.TickSpacing); err != nil {
		writeError(w, http.StatusBadRequest, errors.New("tick_spacing query is required"))
		return
	}
	key, err := market.key()
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	best, ok := a.book.BestPrice(key)
	writeJSON(w, http.StatusOK, map[string]any{"tick": int64(best), "exists": ok})
}

type mintRequestJSON struct {
	Token   string `json:"token"`
	Account string `json:"account"`
	Amount  uint64 `json:"amount"`
}

// handleMint credits test balances. The ledger is in-memory, so this
// only exists to make the service usable standalone.
func (a *api) handleMint(w http.ResponseWriter, r *http.Request) {
	var body mintRequestJSON
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := domain.ValidateAddress(body.Token); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("token: %w", err))
		return
	}
	if err := domain.ValidateAddress(body.Account); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("account: %w", err))
		return
	}
	a.ledger.Mint(body.Token, body.Account, body.Amount)
	w.WriteHeader(http.StatusNoContent)
}

type addPoolJSON struct {
	Venue    string `json:"venue"` // "limitswap" or "pathswap"
	PoolID   string `json:"pool_id"`
	TokenA   string `json:"token_a"`
	TokenB   string `json:"token_b"`
	FeeBps   uint32 `json:"fee_bps"`
	ReserveA uint64 `json:"reserve_a"`
	ReserveB uint64 `json:"reserve_b"`
}

// handleAddPool registers a pool on one of the built-in venues and
// mints its starting reserves. Development plumbing, like /dev/mint.
func (a *api) handleAddPool(w http.ResponseWriter, r *http.Request) {
	var body addPoolJSON
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	account, err := resolveAccount("")
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	switch body.Venue {
	case "limitswap":
		if _, err := a.limit.AddPool(body.PoolID, account, body.TokenA, body.TokenB, body.FeeBps); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	case "pathswap":
		if _, err := a.path.AddPool(body.PoolID, account, body.TokenA, body.TokenB, body.FeeBps); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	default:
		writeError(w, http.StatusBadRequest, fmt.Errorf("unknown venue %q", body.Venue))
		return
	}

	a.ledger.Mint(body.TokenA, account, body.ReserveA)
	a.ledger.Mint(body.TokenB, account, body.ReserveB)
	writeJSON(w, http.StatusCreated, map[string]string{"pool_account": account})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
