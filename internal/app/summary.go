package app

import (
	"fmt"
	"strings"

	"roboai/internal/config"

	"github.com/fatih/color"
)

type StartupSummary struct {
	Mode         string
	AutoTrade    bool
	Broker       string
	Agents       []string
	Symbols      []string
	Exchange     string
	MaxPositions int
	MaxDailyLoss float64
	Database     string
	HTTPAddr     string
}

func newSummary(cfg *config.Config, agents []string, autoTrade bool) *StartupSummary {
	s := &StartupSummary{
		Mode:         cfg.Trading.Mode,
		AutoTrade:    autoTrade,
		Broker:       cfg.Broker.Name,
		Agents:       agents,
		Exchange:     cfg.Trading.DefaultExchange,
		MaxPositions: cfg.Trading.MaxPositions,
		MaxDailyLoss: cfg.Risk.MaxDailyLoss,
		Database:     cfg.Database.Driver,
	}
	if cfg.Data.Enabled {
		s.Symbols = cfg.Data.Symbols
	}
	if cfg.App.HTTPEnabled {
		s.HTTPAddr = cfg.App.HTTPAddr
	}
	return s
}

func (s *StartupSummary) Print() {
	cyan := color.New(color.FgCyan)
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	fmt.Println(strings.Repeat("=", 60))
	cyan.Println("  STARTUP SUMMARY")
	fmt.Println(strings.Repeat("=", 60))

	mode := green
	if s.Mode == config.ModeLive {
		mode = yellow
	}
	mode.Printf("  Mode:           %s\n", strings.ToUpper(s.Mode))
	if s.AutoTrade {
		green.Println("  Auto trade:     ON")
	} else {
		yellow.Println("  Auto trade:     OFF")
	}
	fmt.Printf("  Broker:         %s\n", orDash(s.Broker))
	fmt.Printf("  Agents:         %s\n", formatList(s.Agents))
	fmt.Printf("  Symbols:        %s\n", formatList(s.Symbols))
	fmt.Printf("  Exchange:       %s\n", orDash(s.Exchange))
	fmt.Printf("  Max positions:  %d\n", s.MaxPositions)
	fmt.Printf("  Max daily loss: %.2f\n", s.MaxDailyLoss)
	fmt.Printf("  Database:       %s\n", orDash(s.Database))
	fmt.Printf("  HTTP:           %s\n", orDash(s.HTTPAddr))
	fmt.Println(strings.Repeat("=", 60))
}

func formatList(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ", ")
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
