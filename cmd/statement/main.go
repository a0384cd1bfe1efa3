// Command statement performs a one-shot retrieval of an account's activity
// for a date range and prints or exports the result.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/debookshq/statement-engine/internal/adapters/cache"
	"github.com/debookshq/statement-engine/internal/adapters/chain"
	"github.com/debookshq/statement-engine/internal/adapters/price"
	"github.com/debookshq/statement-engine/internal/adapters/tokenlist"
	"github.com/debookshq/statement-engine/internal/config"
	"github.com/debookshq/statement-engine/internal/core/domain"
	"github.com/debookshq/statement-engine/internal/core/service"
	"github.com/debookshq/statement-engine/internal/export"
	"github.com/debookshq/statement-engine/pkg/version"
)

func main() {
	_ = godotenv.Load()

	var (
		account     = flag.String("account", "", "Solana account address (base58)")
		start       = flag.String("start", "", "range start, YYYY-MM-DD (UTC)")
		end         = flag.String("end", "", "range end, YYYY-MM-DD (UTC)")
		csvPath     = flag.String("csv", "", "write the statement to this CSV file instead of stdout")
		showFees    = flag.Bool("show-fees", false, "include fee line-items")
		showFailed  = flag.Bool("show-failed", false, "include failed transactions")
		search      = flag.String("search", "", "filter records by substring")
		usd         = flag.Bool("usd", false, "enrich records with historical USD values")
		showVersion = flag.Bool("version", false, "print version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Println(version.GetFullVersionString())
		return
	}
	if *account == "" || *start == "" || *end == "" {
		flag.Usage()
		os.Exit(2)
	}

	key, err := solana.PublicKeyFromBase58(*account)
	if err != nil || !key.IsOnCurve() {
		log.Fatalf("invalid account address %q", *account)
	}
	rng, err := parseRange(*start, *end)
	if err != nil {
		log.Fatal(err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	ctx := context.Background()
	engine := buildEngine(ctx, cfg, logger)

	sess, err := engine.Submit(ctx, *account, rng)
	if err != nil {
		log.Fatal(err)
	}
	for ev := range sess.Progress() {
		fmt.Fprintf(os.Stderr, "\r%-40s", ev.Message)
	}
	fmt.Fprintln(os.Stderr)

	if err := sess.Err(); err != nil {
		log.Fatal(err)
	}

	sess.SetFilters(domain.FilterOptions{
		ShowFees:   *showFees,
		ShowFailed: *showFailed,
		Search:     *search,
	})
	if *usd {
		if err := sess.SetConversionEnabled(ctx, true); err != nil {
			logger.Warn("usd conversion unavailable", zap.Error(err))
		}
	}

	display := sess.Display()
	if len(display.Records) == 0 {
		fmt.Println("No records for this period")
		return
	}

	if *csvPath != "" {
		f, err := os.Create(*csvPath)
		if err != nil {
			log.Fatal(err)
		}
		defer f.Close()
		if err := export.WriteCSV(f, *account, display, sess.ConversionEnabled()); err != nil {
			log.Fatal(err)
		}
		fmt.Printf("wrote %d records to %s\n", len(display.Records), *csvPath)
		return
	}

	printTable(display, sess.ConversionEnabled())
}

func buildEngine(ctx context.Context, cfg *config.Config, logger *zap.Logger) *service.Engine {
	rpc := chain.NewClient(cfg.SolanaRPCURL, logger)
	tokens := tokenlist.NewClient(cfg.TokenListURL, logger)
	prices := price.NewCoinGeckoClient(cfg.PriceAPIURL, logger)
	classifier := service.NewClassifier()

	var priceCache domain.PriceCache
	switch {
	case cfg.RedisAddress != "":
		rc, err := cache.NewRedis(ctx, cache.RedisConfig{
			Address:  cfg.RedisAddress,
			Username: cfg.RedisUsername,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			logger.Warn("redis unavailable, using in-memory price cache", zap.Error(err))
			priceCache = cache.NewMemory()
		} else {
			priceCache = rc
		}
	case cfg.PriceCacheFile != "":
		fc, err := cache.NewFile(cfg.PriceCacheFile)
		if err != nil {
			logger.Warn("price snapshot unreadable, using in-memory price cache", zap.Error(err))
			priceCache = cache.NewMemory()
		} else {
			priceCache = fc
		}
	default:
		priceCache = cache.NewMemory()
	}

	return service.NewEngine(rpc, tokens, classifier, prices, priceCache, logger, service.EngineOptions{
		FloorSlot:        cfg.FloorSlot,
		RateLimitBackoff: cfg.RateLimitBackoff,
	})
}

func parseRange(start, end string) (domain.DateRange, error) {
	s, err := time.ParseInLocation("2006-01-02", start, time.UTC)
	if err != nil {
		return domain.DateRange{}, fmt.Errorf("invalid start date %q", start)
	}
	e, err := time.ParseInLocation("2006-01-02", end, time.UTC)
	if err != nil {
		return domain.DateRange{}, fmt.Errorf("invalid end date %q", end)
	}
	return domain.NewDateRange(s, e)
}

func printTable(display domain.DisplaySet, withUSD bool) {
	for _, r := range display.Records {
		status := "ok"
		if !r.Success {
			status = "failed"
		}
		line := fmt.Sprintf("%s  %-6s  %-40s  %12.6f %s",
			r.Timestamp.UTC().Format("2006-01-02 15:04:05"),
			status, r.Description, r.Amount, r.TokenName)
		if withUSD && r.UsdAmount.Valid {
			line += fmt.Sprintf("  ($%s)", r.UsdAmount.Decimal.StringFixed(2))
		}
		fmt.Println(line)
	}
	fmt.Printf("%d records\n", len(display.Records))
}
