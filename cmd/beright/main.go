// beright is a one-shot CLI for the BeRight commitment workflow:
// check affordability, commit a prediction, resolve a market, score a
// probability, or audit the account's on-ledger memo history.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/shivamSspirit/beright-sub000/pkg/commit"
	"github.com/shivamSspirit/beright-sub000/pkg/ledger"
	"github.com/shivamSspirit/beright-sub000/pkg/memo"
	"github.com/shivamSspirit/beright-sub000/pkg/scoring"
)

const usage = `Usage: beright <command> [flags]

Commands:
  affordability                       Check how many commitments the account can afford
  commit <ticker> <prob> <YES|NO>    Commit a prediction memo to the ledger
  resolve <ticker> <prob> <occurred|not>
                                      Score and commit a resolution memo
  score <prob> <occurred|not>         Compute a Brier score locally (no ledger)
  audit [limit]                       List recent memo transactions, decoded

Flags:
`

var (
	rpcURL     = flag.String("rpc", "", "Solana RPC endpoint (or SOLANA_RPC_URL env)")
	cluster    = flag.String("cluster", "devnet", "Cluster for explorer links")
	privateKey = flag.String("key", "", "Base58 private key (or BERIGHT_PRIVATE_KEY env)")
	retry      = flag.Bool("retry", false, "Retry transient failures with backoff")
	retryFor   = flag.Duration("retry-for", 30*time.Second, "Max elapsed retry time")
	timeout    = flag.Duration("timeout", 60*time.Second, "Overall operation timeout")
	jsonOut    = flag.Bool("json", false, "Emit raw JSON instead of human output")
	verbose    = flag.Bool("verbose", false, "Verbose logging")
)

func main() {
	flag.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		flag.PrintDefaults()
	}
	flag.Parse()
	godotenv.Load()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	zerolog.SetGlobalLevel(zerolog.WarnLevel)
	if *verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	var err error
	switch args[0] {
	case "affordability":
		err = runAffordability(ctx)
	case "commit":
		err = runCommit(ctx, args[1:])
	case "resolve":
		err = runResolve(ctx, args[1:])
	case "score":
		err = runScore(args[1:])
	case "audit":
		err = runAudit(ctx, args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		flag.Usage()
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newGateway() *ledger.Gateway {
	endpoint := *rpcURL
	if endpoint == "" {
		endpoint = os.Getenv("SOLANA_RPC_URL")
	}
	if endpoint == "" {
		endpoint = "https://api.devnet.solana.com"
	}
	return ledger.NewGateway(endpoint, ledger.WithCluster(ledger.Cluster(*cluster)))
}

func newWallet() (*ledger.Wallet, error) {
	key := *privateKey
	if key == "" {
		key = os.Getenv("BERIGHT_PRIVATE_KEY")
	}
	if key == "" {
		return nil, fmt.Errorf("no private key: pass -key or set BERIGHT_PRIVATE_KEY")
	}
	return ledger.NewWallet(key)
}

func runAffordability(ctx context.Context) error {
	wallet, err := newWallet()
	if err != nil {
		return err
	}
	gw := newGateway()

	aff, err := gw.GetAffordability(ctx, wallet.PublicKey())
	if err != nil {
		return err
	}

	if *jsonOut {
		return printJSON(aff)
	}
	fmt.Printf("Account:    %s\n", wallet.Address())
	fmt.Printf("Balance:    %s SOL (%d lamports)\n", aff.SpendableSOL, aff.SpendableLamports)
	fmt.Printf("Can commit: %v\n", aff.CanCommit)
	fmt.Printf("Remaining:  ~%d commitments\n", aff.EstimatedRemaining)
	return nil
}

func runCommit(ctx context.Context, args []string) error {
	if len(args) != 3 {
		return fmt.Errorf("usage: beright commit <ticker> <probability> <YES|NO>")
	}
	probability, err := decimal.NewFromString(args[1])
	if err != nil {
		return fmt.Errorf("bad probability %q: %w", args[1], err)
	}
	direction, ok := memo.ParseDirection(strings.ToUpper(args[2]))
	if !ok {
		return fmt.Errorf("direction must be YES or NO, got %q", args[2])
	}

	wallet, err := newWallet()
	if err != nil {
		return err
	}
	svc := commit.NewService(newGateway())

	var res *commit.Result
	if *retry {
		res = svc.CommitWithRetry(ctx, wallet, args[0], probability, direction, *retryFor)
	} else {
		res = svc.Commit(ctx, wallet, args[0], probability, direction)
	}
	return printResult(res)
}

func runResolve(ctx context.Context, args []string) error {
	if len(args) != 3 {
		return fmt.Errorf("usage: beright resolve <ticker> <committed-probability> <occurred|not>")
	}
	probability, err := decimal.NewFromString(args[1])
	if err != nil {
		return fmt.Errorf("bad probability %q: %w", args[1], err)
	}
	occurred, err := parseOutcome(args[2])
	if err != nil {
		return err
	}

	wallet, err := newWallet()
	if err != nil {
		return err
	}
	svc := commit.NewService(newGateway())

	res := svc.Resolve(ctx, wallet, args[0], occurred, probability)
	return printResult(res)
}

// runScore needs no wallet and no network; it is the offline half of the
// resolve flow.
func runScore(args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: beright score <probability> <occurred|not>")
	}
	probability, err := decimal.NewFromString(args[0])
	if err != nil {
		return fmt.Errorf("bad probability %q: %w", args[0], err)
	}
	occurred, err := parseOutcome(args[1])
	if err != nil {
		return err
	}

	score := scoring.BrierScore(probability, occurred)
	band := scoring.Interpret(score)

	if *jsonOut {
		return printJSON(map[string]string{
			"brier_score": score.String(),
			"band":        band.String(),
		})
	}
	fmt.Printf("Brier score: %s (%s)\n", score, band)
	return nil
}

func runAudit(ctx context.Context, args []string) error {
	limit := 50
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil || n <= 0 {
			return fmt.Errorf("bad limit %q", args[0])
		}
		limit = n
	}

	wallet, err := newWallet()
	if err != nil {
		return err
	}
	gw := newGateway()

	notes, err := gw.RecentMemos(ctx, wallet.PublicKey(), limit)
	if err != nil {
		return err
	}

	if *jsonOut {
		return printJSON(notes)
	}
	if len(notes) == 0 {
		fmt.Println("No memo transactions found.")
		return nil
	}
	for _, n := range notes {
		fmt.Printf("%s  slot=%d\n", n.Signature, n.Slot)
		if parsed, ok := memo.Decode(n.Memo); ok {
			switch parsed.Kind {
			case memo.KindPredict:
				p := parsed.Prediction
				fmt.Printf("  PREDICT %s p=%s %s ref=%s\n", p.MarketTicker, p.Probability, p.Direction, p.CommitterRef)
			case memo.KindResolve:
				r := parsed.Resolution
				fmt.Printf("  RESOLVE %s occurred=%v brier=%s\n", r.MarketTicker, r.DirectionOccurred, r.BrierScore)
			}
		} else {
			fmt.Printf("  (foreign memo) %s\n", n.Memo)
		}
	}
	return nil
}

func parseOutcome(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "occurred", "yes", "true":
		return true, nil
	case "not", "did-not-occur", "no", "false":
		return false, nil
	default:
		return false, fmt.Errorf("outcome must be occurred or not, got %q", s)
	}
}

func printResult(res *commit.Result) error {
	if *jsonOut {
		if err := printJSON(res); err != nil {
			return err
		}
		if !res.Succeeded() {
			os.Exit(1)
		}
		return nil
	}

	if res.Succeeded() {
		fmt.Printf("OK %s\n", res.Kind)
		fmt.Printf("  Memo:      %s\n", res.Memo)
		fmt.Printf("  Signature: %s\n", res.Signature)
		if res.ExplorerURL != "" {
			fmt.Printf("  Explorer:  %s\n", res.ExplorerURL)
		}
		if res.BrierScore != nil {
			fmt.Printf("  Brier:     %s (%s)\n", res.BrierScore, res.Band)
		}
		return nil
	}

	fmt.Printf("FAILED at %s: %s\n", res.StageName, res.FailureName)
	fmt.Printf("  %s\n", res.Message)
	if res.Failure == commit.FailureAmbiguous {
		fmt.Println("  Run `beright audit` and reconcile before retrying.")
	}
	os.Exit(1)
	return nil
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
