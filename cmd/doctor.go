package cmd

import (
	"fmt"
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentsmithy/agentsmithy/internal/config"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check environment and configuration health",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor()
		},
	}
}

func runDoctor() {
	fmt.Println("agentsmithy doctor")
	fmt.Printf("  Version:  %s\n", Version)
	fmt.Printf("  OS:       %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go:       %s\n", runtime.Version())
	fmt.Println()

	cfgPath := resolveConfigPath()
	fmt.Printf("  Config:   %s", cfgPath)
	if _, err := os.Stat(cfgPath); err != nil {
		fmt.Println(" (NOT FOUND, using defaults + env)")
	} else {
		fmt.Println(" (OK)")
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Printf("  Config load error: %s\n", err)
		return
	}
	if problems := cfg.Validate(); len(problems) > 0 {
		for _, p := range problems {
			fmt.Printf("  Problem:  %s\n", p)
		}
	} else {
		fmt.Println("  Config:   valid")
	}

	snap := cfg.Snapshot()
	fmt.Println()
	fmt.Println("  Providers:")
	checkProvider("Anthropic", snap.Providers.Anthropic.APIKey)
	checkProvider("OpenAI", snap.Providers.OpenAI.APIKey)
	checkProvider("OpenRouter", snap.Providers.OpenRouter.APIKey)
	checkProvider("DeepSeek", snap.Providers.DeepSeek.APIKey)

	fmt.Println()
	fmt.Printf("  Project:  %s\n", cfg.ProjectRoot())
	fmt.Printf("  State:    %s", cfg.StateDir())
	if _, err := os.Stat(cfg.StateDir()); err != nil {
		fmt.Println(" (not initialized)")
	} else {
		fmt.Println(" (OK)")
	}

	fmt.Println()
	addr := fmt.Sprintf("http://%s:%d/health", snap.Server.Host, snap.Server.Port)
	fmt.Printf("  Server:   %s", addr)
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(addr)
	if err != nil {
		fmt.Println(" (not running)")
		return
	}
	resp.Body.Close()
	fmt.Printf(" (%s)\n", resp.Status)
}

func checkProvider(name, key string) {
	status := "not configured"
	if key != "" {
		status = "OK"
	}
	fmt.Printf("    %-12s %s\n", name+":", status)
}
