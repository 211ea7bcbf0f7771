// Command createadmin seeds the first administrator account.
package main

import (
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/joho/godotenv"

	"doctrack/internal/app"
	"doctrack/internal/config"
	"doctrack/pkg/domain"
	"doctrack/pkg/store"
)

func main() {
	name := flag.String("name", "Administrator", "display name")
	username := flag.String("username", "admin", "login username")
	password := flag.String("password", "", "initial password (required)")
	configPath := flag.String("config", config.ConfigPath, "config file path")
	flag.Parse()

	if *password == "" {
		log.Fatal("createadmin: -password is required")
	}

	_ = godotenv.Load()
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	st, err := store.NewGormStore(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	sessions, err := store.NewJWTSessionStore(cfg.JWTSecret, time.Hour)
	if err != nil {
		log.Fatalf("failed to init sessions: %v", err)
	}
	appCore, err := app.New(app.Config{Store: st, Sessions: sessions})
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}

	user, err := appCore.Register(app.RegisterInput{
		Name:     *name,
		Username: *username,
		Password: *password,
		Role:     domain.RoleAdmin,
	})
	if err != nil {
		log.Fatalf("failed to create admin: %v", err)
	}
	fmt.Printf("admin account created: %s (%s)\n", user.Username, user.ID)
}
