package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"

	"github.com/askmypdf/backend/internal/app"
	"github.com/askmypdf/backend/internal/config"
	"github.com/askmypdf/backend/internal/tui"
)

func main() {
	cfgPath := flag.String("config", "askmypdf.yaml", "Path to config YAML")
	flag.Parse()
	inputs := flag.Args()
	if len(inputs) != 1 {
		fmt.Println("Usage: askmypdf-tui [--config=askmypdf.yaml] document.pdf")
		os.Exit(1)
	}

	_ = godotenv.Load()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		log.Fatalf("failed to create directories: %v", err)
	}

	a, err := app.Build(cfg)
	if err != nil {
		log.Fatalf("failed to initialize: %v", err)
	}
	defer a.Close()

	f, err := os.Open(inputs[0])
	if err != nil {
		log.Fatalf("failed to open %s: %v", inputs[0], err)
	}
	info, err := a.Files.Save(filepath.Base(inputs[0]), f)
	f.Close()
	if err != nil {
		log.Fatalf("failed to store %s: %v", inputs[0], err)
	}

	s := a.Sessions.Create()
	if _, err := a.Sessions.AttachDocument(s.ID, info); err != nil {
		log.Fatalf("attach failed: %v", err)
	}
	if _, err := a.Sessions.Prepare(s.ID); err != nil {
		log.Fatalf("prepare failed: %v", err)
	}

	m := tui.New(a.Sessions, s.ID, "AskMyPDF - Chat with your PDF")
	if _, err := tea.NewProgram(m, tea.WithAltScreen()).Run(); err != nil {
		log.Fatal(err)
	}
}
