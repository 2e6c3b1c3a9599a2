// Command routesim runs canned routing scenarios against a fully
// in-memory stack: ledger, order book, registry, and both built-in
// venues. Useful for eyeballing routing behaviour without standing up
// the HTTP service or any databases.
package main

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/rs/zerolog"

	"liquidity-router/internal/book"
	"liquidity-router/internal/domain"
	"liquidity-router/internal/ledger"
	"liquidity-router/internal/registry"
	"liquidity-router/internal/router"
	"liquidity-router/internal/storage/memory"
	"liquidity-router/internal/venue"
	"liquidity-router/internal/venue/limitswap"
	"liquidity-router/internal/venue/pathswap"
)

func main() {
	scenario := flag.String("scenario", "all", "Scenario to run: single, sequential, split, or all")
	amount := flag.Uint64("amount", 100_000, "Sell amount for each request")
	maxTick := flag.Int64("max-tick", 1_200, "Caller price ceiling (tick)")
	outputJSON := flag.Bool("json", false, "Output results as JSON")

	flag.Parse()

	logger := log.New(os.Stderr, "[routesim] ", log.LstdFlags)

	env, err := buildEnv()
	if err != nil {
		logger.Fatalf("setup: %v", err)
	}

	ctx := context.Background()

	var runs []string
	switch *scenario {
	case "all":
		runs = []string{"single", "sequential", "split"}
	case "single", "sequential", "split":
		runs = []string{*scenario}
	default:
		logger.Fatalf("unknown scenario %q", *scenario)
	}

	for _, name := range runs {
		res, err := env.run(ctx, name, *amount, domain.Tick(*maxTick))
		out := outcome{Scenario: name}
		if err != nil {
			out.Error = err.Error()
		} else {
			out.FillID = res.FillID
			out.Given = res.Given
			out.Received = res.Received
			out.Bounty = res.Bounty
			out.Fee = res.Fee
		}
		out.CallerSell = env.ledger.Balance(env.market.SellToken, env.caller)
		out.CallerBuy = env.ledger.Balance(env.market.BuyToken, env.caller)

		if *outputJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(out); err != nil {
				logger.Fatalf("encode: %v", err)
			}
			continue
		}
		printOutcome(out)
	}
}

type outcome struct {
	Scenario   string `json:"scenario"`
	FillID     string `json:"fill_id,omitempty"`
	Given      uint64 `json:"given"`
	Received   uint64 `json:"received"`
	Bounty     uint64 `json:"bounty"`
	Fee        uint64 `json:"fee"`
	CallerSell uint64 `json:"caller_sell_balance"`
	CallerBuy  uint64 `json:"caller_buy_balance"`
	Error      string `json:"error,omitempty"`
}

func printOutcome(o outcome) {
	fmt.Printf("scenario=%s\n", o.Scenario)
	if o.Error != "" {
		fmt.Printf("  error: %s\n", o.Error)
	} else {
		fmt.Printf("  fill_id:  %s\n", o.FillID)
		fmt.Printf("  given:    %d\n", o.Given)
		fmt.Printf("  received: %d\n", o.Received)
		fmt.Printf("  bounty:   %d  fee: %d\n", o.Bounty, o.Fee)
	}
	fmt.Printf("  caller balances: sell=%d buy=%d\n", o.CallerSell, o.CallerBuy)
}

// env bundles the in-memory stack one scenario run executes against.
type env struct {
	ledger *ledger.Ledger
	router *router.Router
	market domain.MarketKey
	caller string

	limitID   string
	pathID    string
	limitData venue.RoutingData
	pathData  venue.RoutingData
}

func buildEnv() (*env, error) {
	l := ledger.New()
	nop := zerolog.Nop()

	newAccount := func() (string, error) {
		pub, _, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return "", err
		}
		return domain.AddressFromPublicKey(pub), nil
	}

	var sellToken, buyToken, admin, caller, routerAcct, bookAcct, maker string
	var limitAcct, pathAcct, limitPool, pathPool string
	for _, dst := range []*string{
		&sellToken, &buyToken, &admin, &caller, &routerAcct, &bookAcct,
		&maker, &limitAcct, &pathAcct, &limitPool, &pathPool,
	} {
		addr, err := newAccount()
		if err != nil {
			return nil, err
		}
		*dst = addr
	}

	market, err := domain.NewMarketKey(sellToken, buyToken, 1)
	if err != nil {
		return nil, err
	}

	b := book.New(l, bookAcct, 0)
	reg := registry.New(registry.NewMemoryStore(), admin, &nop)

	rtr, err := router.New(router.Options{
		Ledger:    l,
		Book:      b,
		Registry:  reg,
		Account:   routerAcct,
		Admin:     admin,
		Logger:    &nop,
		FillStore: memory.NewFillStore(),
		LegStore:  memory.NewLegAnalyticsStore(),
	})
	if err != nil {
		return nil, err
	}

	limitVenue := limitswap.New(l, limitAcct)
	pathVenue := pathswap.New(l, pathAcct)
	rtr.RegisterAdapter(limitVenue)
	rtr.RegisterAdapter(pathVenue)

	ctx := context.Background()
	for _, id := range []string{limitVenue.ID(), pathVenue.ID()} {
		if err := reg.Add(ctx, admin, id); err != nil {
			return nil, err
		}
	}

	// Seed two pools near tick 1000 and a thin resting book order a
	// little better than the pools, so single-venue runs show the book
	// tightening the effective ceiling.
	if _, err := limitVenue.AddPool("sim-limit", limitPool, sellToken, buyToken, 30); err != nil {
		return nil, err
	}
	if _, err := pathVenue.AddPool("sim-path", pathPool, sellToken, buyToken, 30); err != nil {
		return nil, err
	}
	l.Mint(sellToken, limitPool, 10_000_000)
	l.Mint(buyToken, limitPool, 9_000_000)
	l.Mint(sellToken, pathPool, 10_000_000)
	l.Mint(buyToken, pathPool, 8_800_000)

	l.Mint(buyToken, maker, 1_000_000)
	if _, err := b.Place(market, maker, 950, 40_000, false, 0); err != nil {
		return nil, err
	}

	l.Mint(sellToken, caller, 10_000_000)

	limitData, err := json.Marshal(map[string]any{"pool": "sim-limit"})
	if err != nil {
		return nil, err
	}
	pathData, err := json.Marshal(map[string]any{"pool": "sim-path"})
	if err != nil {
		return nil, err
	}

	return &env{
		ledger:    l,
		router:    rtr,
		market:    market,
		caller:    caller,
		limitID:   limitVenue.ID(),
		pathID:    pathVenue.ID(),
		limitData: limitData,
		pathData:  pathData,
	}, nil
}

func (e *env) run(ctx context.Context, scenario string, amount uint64, maxTick domain.Tick) (*domain.RouteResult, error) {
	req := router.Request{
		Caller:       e.caller,
		Market:       e.market,
		AmountToSell: amount,
		MaxTick:      maxTick,
	}
	limit := router.VenueChoice{AdapterID: e.limitID, Data: e.limitData}
	path := router.VenueChoice{AdapterID: e.pathID, Data: e.pathData}

	switch scenario {
	case "single":
		return e.router.Route(ctx, req, limit)
	case "sequential":
		return e.router.RouteSequential(ctx, req, []router.VenueChoice{limit, path})
	case "split":
		return e.router.RouteSplit(ctx, req, []router.VenueChoice{limit, path}, []uint32{7_000, 3_000})
	default:
		return nil, fmt.Errorf("unknown scenario %q", scenario)
	}
}
