package banner

import (
	"fmt"

	"querydesk/pkg/config"
)

const banner = `
 ██████╗ ██╗   ██╗███████╗██████╗ ██╗   ██╗██████╗ ███████╗███████╗██╗  ██╗
██╔═══██╗██║   ██║██╔════╝██╔══██╗╚██╗ ██╔╝██╔══██╗██╔════╝██╔════╝██║ ██╔╝
██║   ██║██║   ██║█████╗  ██████╔╝ ╚████╔╝ ██║  ██║█████╗  ███████╗█████╔╝
██║▄▄ ██║██║   ██║██╔══╝  ██╔══██╗  ╚██╔╝  ██║  ██║██╔══╝  ╚════██║██╔═██╗
╚██████╔╝╚██████╔╝███████╗██║  ██║   ██║   ██████╔╝███████╗███████║██║  ██╗
 ╚══▀▀═╝  ╚═════╝ ╚══════╝╚═╝  ╚═╝   ╚═╝   ╚═════╝ ╚══════╝╚══════╝╚═╝  ╚═╝
`

// PrintWithEff prints the startup banner using an EffectiveConfigResult
// so runtime info (addr, db path, config sources) is displayed centrally.
func PrintWithEff(eff config.EffectiveConfigResult, version string) {
	addr := eff.Addr
	if addr == "" && eff.Config != nil {
		addr = eff.Config.Addr()
	}
	dbPath := eff.DBPath
	if dbPath == "" && eff.Config != nil {
		dbPath = eff.Config.Server.DBPath
	}
	src := eff.Source
	if src == "" {
		src = "flags"
	}

	fmt.Print(banner)
	fmt.Println("== Config =====================================================")
	fmt.Printf("Listen:   %s\n", addr)
	fmt.Printf("DB Path:  %s\n", dbPath)
	if version != "" {
		fmt.Printf("Version:  %s\n", version)
	}
	fmt.Printf("Config:   %s\n", src)

	fmt.Println("\n== Endpoints ==================================================")
	fmt.Println("POST /v1/query-actions - Post a message or resolution action (JSON)")
	fmt.Println("GET  /v1/query-actions?queryId=<id>&type=actions|messages - List history")
	fmt.Println("GET  /v1/query-actions/updates?after=<ts> - Poll the update feed")
	fmt.Println("GET  /metrics | /readyz | /healthz | /docs/")

	fmt.Println("\n== Examples ===================================================")
	fmt.Printf("curl -X POST 'http://localhost%s/v1/query-actions' -d '{\"type\":\"message\",\"queryId\":\"uuid-query-42\",\"message\":\"hello\"}'\n", addr)
	fmt.Printf("curl 'http://localhost%s/v1/query-actions?queryId=42'\n", addr)

	if eff.Config != nil && eff.Config.Notify.RedisURL == "" {
		fmt.Println("\nNote: redis broadcast disabled (set QUERYDESK_REDIS_URL to enable)")
	}
	fmt.Println()
}
