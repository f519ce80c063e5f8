// Command dap-sessiond runs the headless session daemon: an MCP server
// over stdio backed by a dapsession.Registry, following the teacher's
// cmd/mcp-server entrypoint shape (actor system construction, registry
// registration, then Serve()).
package main

import (
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/lightningnetwork/lnd/actor"

	"github.com/wayfind-dbg/dap-session/dapsession"
	"github.com/wayfind-dbg/dap-session/internal/config"
	"github.com/wayfind-dbg/dap-session/internal/logging"
	"github.com/wayfind-dbg/dap-session/mcp"
)

func main() {
	cfg, err := config.Parse(os.Args[1:])
	if err != nil {
		log.Fatalf("parsing flags: %v", err)
	}

	logFile, err := logging.InitFileLogger(cfg.LogDir, "dap-sessiond")
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	defer logFile.Close()

	actorSystem := actor.NewActorSystem()
	defer actorSystem.Shutdown()

	registry := dapsession.NewRegistry(actorSystem, dapsession.Adapters{
		Attach: dapsession.AdapterConfig{
			Binary:   cfg.PythonAdapterBinary,
			PortBase: cfg.PythonAdapterPort,
			Args: func(port int, scriptPath string) []string {
				return []string{
					"-m", "debugpy",
					"--listen", fmt.Sprintf("127.0.0.1:%d", port),
					"--wait-for-client",
					scriptPath,
				}
			},
		},
		Launch: dapsession.AdapterConfig{
			Binary:   cfg.LLDBAdapterBinary,
			PortBase: cfg.LLDBAdapterPort,
			Args: func(port int, scriptPath string) []string {
				return []string{"--port", strconv.Itoa(port)}
			},
		},
	})
	registry.Register()

	server := mcp.NewMCPDebugServer(registry)

	log.Printf("dap-sessiond ready: client-id=%s", cfg.ClientID)
	if err := server.Serve(); err != nil {
		log.Fatalf("MCP server error: %v", err)
	}
}
