package banner

import (
	"fmt"

	"flock/pkg/config"
)

const banner = `
███████╗██╗      ██████╗  ██████╗██╗  ██╗
██╔════╝██║     ██╔═══██╗██╔════╝██║ ██╔╝
█████╗  ██║     ██║   ██║██║     █████╔╝
██╔══╝  ██║     ██║   ██║██║     ██╔═██╗
██║     ███████╗╚██████╔╝╚██████╗██║  ██╗
╚═╝     ╚══════╝ ╚═════╝  ╚═════╝╚═╝  ╚═╝
`

// Print writes the startup banner with the effective runtime settings so
// operators can verify what the binary is actually running with.
func Print(cfg *config.Config, version string) {
	fmt.Print(banner)
	fmt.Println("== Config =====================================================")
	fmt.Printf("Listen:      %s\n", cfg.Addr())
	fmt.Printf("DB Path:     %s\n", cfg.Storage.DBPath)
	if version != "" {
		fmt.Printf("Version:     %s\n", version)
	}
	if cfg.Server.PublicName != "" {
		fmt.Printf("Public name: %s\n", cfg.Server.PublicName)
	}
	fmt.Printf("Public URL:  %s\n", cfg.SelfURL())

	fmt.Println("\n== Checks =====================================================")
	if cfg.Federation.Enabled {
		if cfg.Server.PublicURL == "" {
			fmt.Println("- Federation: enabled (no public_url set; peers cannot dial back)")
		} else {
			fmt.Println("- Federation: enabled")
		}
	} else {
		fmt.Println("- Federation: disabled")
	}
	if cfg.Accounts.AllowSignups {
		fmt.Println("- Signups: open")
	} else {
		fmt.Println("- Signups: closed")
	}
	if cfg.Autosave.Cron != "" {
		fmt.Printf("- Autosave: cron=%s\n", cfg.Autosave.Cron)
	} else {
		fmt.Printf("- Autosave: every %ds\n", cfg.Autosave.IntervalSeconds)
	}

	fmt.Println("\n== Examples ===================================================")
	fmt.Printf("curl 'http://localhost:%d/flock'\n", cfg.Server.Port)
	fmt.Printf("curl -X POST 'http://localhost:%d/signup' -d '{\"email\":\"a@b.c\",\"password\":\"hunter22!\"}'\n", cfg.Server.Port)

	fmt.Println("\n== Logs =======================================================")
}
