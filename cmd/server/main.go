package main

import (
	"log/slog"

	_ "github.com/eleven-am/perception-backend/docs"
	"github.com/eleven-am/perception-backend/internal/bootstrap"
	"github.com/joho/godotenv"
)

// @title Perception Backend API
// @version 1.0.0
// @description Frame analysis pipeline with change detection and environment calibration

// @BasePath /v1/vision

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file loaded", "error", err)
	}
	bootstrap.Run()
}
