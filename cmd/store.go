package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/weathermart/internal/extract"
	"github.com/sells-group/weathermart/internal/fetcher"
	"github.com/sells-group/weathermart/internal/pipeline"
	"github.com/sells-group/weathermart/internal/store"
	"github.com/sells-group/weathermart/internal/warehouse"
)

// initStore creates the configured store backend.
func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "weathermart.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		if cfg.Store.DatabaseURL == "" {
			return nil, eris.New("no database_url configured (set store.database_url or WEATHERMART_STORE_DATABASE_URL)")
		}
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// initRunLog returns the stage run log for the store. The postgres backend
// records runs in the warehouse; sqlite runs keep them in memory.
func initRunLog(st store.Store) pipeline.RunLog {
	if pg, ok := st.(*store.PostgresStore); ok {
		return warehouse.NewRunLog(pg.Pool())
	}
	return pipeline.NewMemoryRunLog()
}

// initExtractor builds the forecast API client from config.
func initExtractor() pipeline.Extractor {
	f := fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
		UserAgent:    cfg.Extract.UserAgent,
		Timeout:      time.Duration(cfg.Extract.TimeoutSecs) * time.Second,
		MaxRetries:   cfg.Extract.MaxRetries,
		RateLimiters: fetcher.DefaultRateLimiters(),
	})
	return extract.NewClient(f, extract.Options{
		BaseURL:         cfg.Extract.BaseURL,
		ForecastDays:    cfg.Extract.ForecastDays,
		HourlyVariables: cfg.Extract.HourlyVariables,
	})
}

// initPipeline wires a store, run log, and extractor into a pipeline.
func initPipeline(st store.Store, withExtractor bool) *pipeline.Pipeline {
	var ex pipeline.Extractor
	if withExtractor {
		ex = initExtractor()
	}
	return pipeline.New(st, initRunLog(st), ex, pipeline.Options{
		MaxConcurrent: cfg.Pipeline.MaxConcurrent,
	})
}
