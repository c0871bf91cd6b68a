// Command bidfront is a terminal client for the auction marketplace:
// watch a live auction, place bids through the precondition gate, and
// toggle bookmarks.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"bidfront.app/internal/api"
	"bidfront.app/internal/auth"
	"bidfront.app/internal/bidgate"
	"bidfront.app/internal/bookmarks"
	"bidfront.app/internal/obs"
	"bidfront.app/internal/stream"
	"bidfront.app/internal/view"
)

var version = "0.3.0"

func usage() {
	fmt.Fprintf(os.Stderr, `bidfront %s
Usage:
  bidfront [-addr URL] <cmd> [args]

Commands:
  watch    <auctionID>            stream live price updates
  bid      <auctionID> <amount>   place a bid (minor units)
  bookmark <auctionID>            toggle bookmark
  refresh                         renew the access credential
  logout                          clear the local session

Environment:
  BIDFRONT_API_URL       backend base URL (default http://localhost:8080)
  BIDFRONT_LOG_LEVEL     zap level (default info)
  BIDFRONT_METRICS_ADDR  optional debug listener for /metrics and /healthz
`, version)
	os.Exit(2)
}

type app struct {
	logger *zap.Logger
	state  *auth.State
	coord  *auth.Coordinator
	client *api.Client
	subs   *stream.Subscriber
}

func newApp(baseURL string, logger *zap.Logger) (*app, error) {
	state := auth.NewState(auth.NewFileStore(""))
	if err := state.Bootstrap(); err != nil {
		return nil, fmt.Errorf("bootstrap credential: %w", err)
	}
	client := api.New(baseURL, state, api.WithLogger(logger))
	coord := auth.NewCoordinator(state, client.RefreshCredential, logger)
	client.UseRefresher(coord)
	return &app{
		logger: logger,
		state:  state,
		coord:  coord,
		client: client,
		subs:   stream.New(baseURL, stream.WithLogger(logger)),
	}, nil
}

func main() {
	addr := flag.String("addr", envOr("BIDFRONT_API_URL", "http://localhost:8080"), "backend base URL")
	flag.Usage = usage
	flag.Parse()
	if flag.NArg() < 1 {
		usage()
	}

	obs.Init()
	obs.InitBuildInfo(version)
	logger := obs.NewLogger(envOr("BIDFRONT_LOG_LEVEL", "info"))
	defer func() { _ = logger.Sync() }()

	if maddr := os.Getenv("BIDFRONT_METRICS_ADDR"); maddr != "" {
		go serveDebug(maddr, logger)
	}

	a, err := newApp(*addr, logger)
	if err != nil {
		fail(err)
	}

	switch flag.Arg(0) {
	case "watch":
		if flag.NArg() < 2 {
			usage()
		}
		cmdWatch(a, flag.Arg(1))
	case "bid":
		if flag.NArg() < 3 {
			usage()
		}
		amount, err := strconv.ParseInt(flag.Arg(2), 10, 64)
		if err != nil || amount <= 0 {
			fail(fmt.Errorf("bad amount %q", flag.Arg(2)))
		}
		cmdBid(a, flag.Arg(1), amount)
	case "bookmark":
		if flag.NArg() < 2 {
			usage()
		}
		cmdBookmark(a, flag.Arg(1))
	case "refresh":
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		cred, err := a.coord.Refresh(ctx)
		if err != nil {
			fail(err)
		}
		fmt.Printf("ok (expires %s)\n", cred.ExpiresAt.UTC().Format(time.RFC3339))
	case "logout":
		a.state.Logout()
		fmt.Println("ok")
	default:
		usage()
	}
}

func cmdWatch(a *app, auctionID string) {
	v := view.New(a.client, view.NewOpener(a.subs), view.WithLogger(a.logger))
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	err := v.Load(ctx, auctionID)
	cancel()
	if err != nil {
		fail(err)
	}

	snap := v.Snapshot()
	fmt.Printf("%s [%s]\n", snap.Product.Title, snap.Status)
	fmt.Printf("current %d (%d bids), ends %s\n",
		snap.CurrentPrice, snap.BidCount, snap.EndTime.Local().Format(time.RFC822))

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	lastPrice := snap.CurrentPrice
	for {
		select {
		case <-stop:
			v.Teardown()
			fmt.Println("\nbye")
			return
		case <-ticker.C:
			s := v.Snapshot()
			if s.CurrentPrice != lastPrice {
				lastPrice = s.CurrentPrice
				fmt.Printf("price %d (%d bids) [%s]\n", s.CurrentPrice, s.BidCount, v.ConnState())
			}
			if s.Status.Terminal() {
				v.Teardown()
				fmt.Printf("auction ended at %d\n", s.CurrentPrice)
				return
			}
		}
	}
}

func cmdBid(a *app, auctionID string, amount int64) {
	v := view.New(a.client, view.NewOpener(a.subs), view.WithLogger(a.logger))
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := v.Load(ctx, auctionID); err != nil {
		fail(err)
	}
	defer v.Teardown()

	profile, err := a.client.GetProfile(ctx)
	if err != nil {
		fail(err)
	}
	gate := bidgate.New(a.state, staticProfile{profile.Verified}, a.client, v, a.logger)

	outcome, err := gate.Submit(ctx, amount)
	if err != nil {
		fail(err)
	}
	if outcome == bidgate.OutcomeDepositRequired {
		fmt.Printf("First bid on this auction: a deposit will be held. Proceed? [y/N] ")
		line, _ := bufio.NewReader(os.Stdin).ReadString('\n')
		if strings.TrimSpace(strings.ToLower(line)) != "y" {
			gate.CancelDeposit()
			fmt.Println("cancelled")
			return
		}
		if err := gate.ConfirmDeposit(ctx); err != nil {
			fail(err)
		}
	}
	fmt.Printf("bid %d accepted\n", amount)
}

func cmdBookmark(a *app, auctionID string) {
	store := bookmarks.New(a.state, a.client, a.logger)
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	added, err := store.Toggle(ctx, auctionID)
	if err != nil {
		fail(err)
	}
	if added {
		fmt.Println("bookmarked")
	} else {
		fmt.Println("removed")
	}
}

// staticProfile adapts a one-shot profile fetch to the gate.
type staticProfile struct{ verified bool }

func (p staticProfile) Verified() bool { return p.verified }

func serveDebug(addr string, logger *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", obs.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		_, _ = w.Write([]byte(`{"status":"ok","service":"bidfront","version":"` + version + `"}`))
	})
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	logger.Info("debug listener started", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Warn("debug listener stopped", zap.Error(err))
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func fail(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
