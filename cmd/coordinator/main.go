package main

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/turinggame/core/internal/config"
	"github.com/turinggame/core/internal/coordinator"
	"github.com/turinggame/core/internal/httpapi"
)

func main() {
	log, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	cfg := config.FromEnv()

	ctx := context.Background()
	h := coordinator.NewHub(ctx, log)

	// Build the router *with* the hub injected
	handler := httpapi.SetupRoutes(h, log)

	addr := ":" + cfg.Port
	log.Info("coordinator listening", zap.String("addr", addr))
	if err := http.ListenAndServe(addr, handler); err != nil {
		log.Fatal("serve", zap.Error(err))
	}
}
