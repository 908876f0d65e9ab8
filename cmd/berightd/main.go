// berightd is the BeRight commitment daemon. It exposes the commitment
// workflow over HTTP: affordability checks, PREDICT and RESOLVE memo
// submission, ledger audit, and live WebSocket streaming.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/shivamSspirit/beright-sub000/pkg/commit"
	"github.com/shivamSspirit/beright-sub000/pkg/ledger"
	"github.com/shivamSspirit/beright-sub000/pkg/memo"
	"github.com/shivamSspirit/beright-sub000/pkg/metrics"
	"github.com/shivamSspirit/beright-sub000/pkg/streaming"
)

var (
	// Flags
	httpAddr   = flag.String("http", ":8080", "HTTP server address")
	rpcURL     = flag.String("rpc", "", "Solana RPC endpoint (or SOLANA_RPC_URL env)")
	cluster    = flag.String("cluster", "devnet", "Cluster for explorer links: mainnet-beta, devnet, testnet")
	privateKey = flag.String("key", "", "Base58 private key (or BERIGHT_PRIVATE_KEY env)")
	commitCost = flag.Uint64("commit-cost", 10_000, "Worst-case lamports per commitment")
	reserved   = flag.Uint64("reserved", 890_880, "Rent-exempt lamports floor")
	margin     = flag.Uint64("margin", 5_000, "Safety margin lamports")
	retryFor   = flag.Duration("retry-for", 30*time.Second, "Max elapsed time for retried commits")
	verbose    = flag.Bool("verbose", false, "Verbose logging")
)

func main() {
	flag.Parse()
	godotenv.Load()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if *verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	log.Info().Msg("starting BeRight commitment daemon")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	d, err := newDaemon()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize daemon")
	}

	server := d.httpServer()
	go func() {
		log.Info().Str("addr", *httpAddr).Msg("HTTP server listening")
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			log.Error().Err(err).Msg("HTTP server error")
		}
	}()

	log.Info().
		Str("account", d.wallet.ShortRef()).
		Str("cluster", *cluster).
		Str("ws", fmt.Sprintf("ws://%s/ws", *httpAddr)).
		Msg("daemon running")

	<-sigCh
	log.Info().Msg("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP shutdown error")
	}

	pending := d.service.PendingReconciliation()
	if len(pending) > 0 {
		log.Warn().Int("count", len(pending)).Msg("attempts still pending reconciliation")
	}
	log.Info().Msg("goodbye")
}

type daemon struct {
	wallet  *ledger.Wallet
	gateway *ledger.Gateway
	service *commit.Service
	metrics *metrics.CommitmentMetrics
	hub     *streaming.Hub
}

func newDaemon() (*daemon, error) {
	key := *privateKey
	if key == "" {
		key = os.Getenv("BERIGHT_PRIVATE_KEY")
	}
	if key == "" {
		return nil, fmt.Errorf("no private key: pass -key or set BERIGHT_PRIVATE_KEY")
	}
	wallet, err := ledger.NewWallet(key)
	if err != nil {
		return nil, fmt.Errorf("load wallet: %w", err)
	}

	endpoint := *rpcURL
	if endpoint == "" {
		endpoint = os.Getenv("SOLANA_RPC_URL")
	}
	if endpoint == "" {
		endpoint = "https://api.devnet.solana.com"
	}

	gateway := ledger.NewGateway(endpoint,
		ledger.WithCluster(ledger.Cluster(*cluster)),
		ledger.WithCostModel(ledger.CostModel{
			ReservedLamports:     *reserved,
			CommitCostLamports:   *commitCost,
			SafetyMarginLamports: *margin,
		}),
	)

	m := metrics.NewCommitmentMetrics()
	service := commit.NewService(gateway, commit.WithMetrics(m))

	hub := streaming.NewHub()
	go hub.Run()

	return &daemon{
		wallet:  wallet,
		gateway: gateway,
		service: service,
		metrics: m,
		hub:     hub,
	}, nil
}

type commitRequest struct {
	MarketTicker string  `json:"market_ticker"`
	Probability  float64 `json:"probability"`
	Direction    string  `json:"direction"`
	Retry        bool    `json:"retry,omitempty"`
}

type resolveRequest struct {
	MarketTicker         string  `json:"market_ticker"`
	DirectionOccurred    bool    `json:"direction_occurred"`
	CommittedProbability float64 `json:"committed_probability"`
}

func (d *daemon) httpServer() *http.Server {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"status":  "ok",
			"account": d.wallet.ShortRef(),
		})
	})

	mux.HandleFunc("/affordability", func(w http.ResponseWriter, r *http.Request) {
		aff, err := d.gateway.GetAffordability(r.Context(), d.wallet.PublicKey())
		if err != nil {
			d.hub.BroadcastError(err, "affordability")
			writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
			return
		}
		d.hub.BroadcastAffordability(aff)
		writeJSON(w, http.StatusOK, aff)
	})

	mux.HandleFunc("/commit", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "POST only", http.StatusMethodNotAllowed)
			return
		}
		var req commitRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed request body"})
			return
		}
		direction, ok := memo.ParseDirection(req.Direction)
		if !ok {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "direction must be YES or NO"})
			return
		}

		probability := decimal.NewFromFloat(req.Probability)
		var res *commit.Result
		if req.Retry {
			res = d.service.CommitWithRetry(r.Context(), d.wallet, req.MarketTicker, probability, direction, *retryFor)
		} else {
			res = d.service.Commit(r.Context(), d.wallet, req.MarketTicker, probability, direction)
		}

		d.hub.BroadcastCommitment(res)
		writeJSON(w, resultStatus(res), res)
	})

	mux.HandleFunc("/resolve", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "POST only", http.StatusMethodNotAllowed)
			return
		}
		var req resolveRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed request body"})
			return
		}

		res := d.service.Resolve(r.Context(), d.wallet, req.MarketTicker, req.DirectionOccurred, decimal.NewFromFloat(req.CommittedProbability))
		d.hub.BroadcastResolution(res)
		writeJSON(w, resultStatus(res), res)
	})

	mux.HandleFunc("/reconcile", func(w http.ResponseWriter, r *http.Request) {
		ticker := r.URL.Query().Get("market")
		if ticker == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "market query parameter required"})
			return
		}
		rec, err := d.service.Reconcile(r.Context(), d.wallet.PublicKey(), ticker)
		if err != nil {
			writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
			return
		}
		d.hub.BroadcastReconciliation(ticker, rec)
		writeJSON(w, http.StatusOK, rec)
	})

	// Audit: recent on-ledger notes from this account, decoded where they
	// carry our wire format.
	mux.HandleFunc("/audit", func(w http.ResponseWriter, r *http.Request) {
		limit := 50
		if s := r.URL.Query().Get("limit"); s != "" {
			if n, err := strconv.Atoi(s); err == nil && n > 0 {
				limit = n
			}
		}
		notes, err := d.gateway.RecentMemos(r.Context(), d.wallet.PublicKey(), limit)
		if err != nil {
			writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
			return
		}

		type auditEntry struct {
			ledger.Note
			Decoded *memo.Parsed `json:"decoded,omitempty"`
		}
		entries := make([]auditEntry, len(notes))
		for i, n := range notes {
			entries[i] = auditEntry{Note: n}
			if parsed, ok := memo.Decode(n.Memo); ok {
				entries[i].Decoded = parsed
			}
		}
		writeJSON(w, http.StatusOK, entries)
	})

	mux.HandleFunc("/attempts", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, d.service.Attempts())
	})

	mux.HandleFunc("/pending", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, d.service.PendingReconciliation())
	})

	// Prometheus metrics endpoint
	mux.Handle("/metrics", promhttp.HandlerFor(d.metrics.Registry(), promhttp.HandlerOpts{}))

	// WebSocket streaming endpoint
	mux.HandleFunc("/ws", d.hub.ServeWS)

	return &http.Server{
		Addr:         *httpAddr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 60 * time.Second,
	}
}

// resultStatus maps terminal results onto HTTP codes: caller mistakes are
// 4xx, ledger-side trouble is 5xx.
func resultStatus(res *commit.Result) int {
	if res.Succeeded() {
		return http.StatusOK
	}
	switch res.Failure {
	case commit.FailureInvalidCommitment, commit.FailureUnencodableField, commit.FailurePayloadTooLarge:
		return http.StatusBadRequest
	case commit.FailureInsufficientFunds:
		return http.StatusPaymentRequired
	case commit.FailureAmbiguous:
		return http.StatusAccepted
	default:
		return http.StatusBadGateway
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
