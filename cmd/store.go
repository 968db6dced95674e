package cmd

import (
	"log"

	"github.com/jcdickinson/docindex/internal/cas"
	"github.com/jcdickinson/docindex/internal/config"
	"github.com/jcdickinson/docindex/internal/db"
	"github.com/jcdickinson/docindex/internal/docs"
	"github.com/jcdickinson/docindex/internal/indexer"
)

type store struct {
	cfg *config.Config
	db  *db.DB
	ix  *indexer.Indexer
}

func (s *store) Close() {
	if err := s.db.Close(); err != nil {
		log.Printf("closing database: %v", err)
	}
}

// openStore loads config and opens the database, CAS and indexer.
func openStore() *store {
	return openStoreWith(indexer.Options{})
}

func openStoreWith(opts indexer.Options) *store {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	database, err := db.New(config.DBPath())
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}

	if opts.Concurrency == 0 {
		opts.Concurrency = cfg.Fetch.Concurrency
	}
	opts.LockPath = config.LockPath()
	fetcher := docs.NewFetcher(cfg.Fetch.BaseURL, cfg.Fetch.Timeout())
	ix := indexer.New(database, cas.Open(), fetcher, opts)
	return &store{cfg: cfg, db: database, ix: ix}
}
