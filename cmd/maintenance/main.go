// Command maintenance runs the scheduled purge tasks and helper utilities.
//
//	maintenance cleanup-magic-links | cleanup-tokens | cleanup | all
//	maintenance migrate
//	maintenance hash-api-key <key>
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/iliyamo/magiclink-auth/internal/config"
	"github.com/iliyamo/magiclink-auth/internal/database"
	"github.com/iliyamo/magiclink-auth/internal/logger"
	"github.com/iliyamo/magiclink-auth/internal/queue"
	"github.com/iliyamo/magiclink-auth/internal/repository"
	"github.com/iliyamo/magiclink-auth/internal/service"
	"github.com/iliyamo/magiclink-auth/internal/utils"
)

const usage = "usage: maintenance <cleanup-magic-links|cleanup-tokens|cleanup|all|migrate|hash-api-key KEY>"

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
	task := os.Args[1]

	// Hashing needs no configuration, so it works before .env exists.
	if task == "hash-api-key" {
		if len(os.Args) != 3 || os.Args[2] == "" {
			fmt.Fprintln(os.Stderr, usage)
			os.Exit(2)
		}
		hash, err := utils.HashSecret(os.Args[2], 12)
		if err != nil {
			log.Fatalf("hash: %v", err)
		}
		fmt.Println(hash)
		return
	}

	cfg := config.Load()
	lg, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = lg.Sync() }()

	db, err := database.Open(cfg)
	if err != nil {
		lg.Fatal("database", zap.Error(err))
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	if task == "migrate" {
		if err := database.Migrate(ctx, db); err != nil {
			lg.Fatal("migrate", zap.Error(err))
		}
		return
	}

	audit := queue.NewPublisher(cfg.Queue, lg)
	if p, ok := audit.(*queue.AMQPPublisher); ok {
		defer p.Close()
	}
	links := service.NewMagicLinkStore(repository.NewMagicLinkRepo(db), cfg.MagicLinkTTL)
	refresh := service.NewRefreshTokenStore(repository.NewTokenRepo(db), cfg.RefreshTTL)
	m := service.NewMaintenance(links, refresh, cfg.MagicLinkRetention, cfg.RefreshRetention, audit, lg)

	rep, err := m.Run(ctx, task)
	if err != nil {
		lg.Error("maintenance failed", zap.String("task", task), zap.Error(err))
		cancel()
		os.Exit(1)
	}
	_ = json.NewEncoder(os.Stdout).Encode(rep)
}
