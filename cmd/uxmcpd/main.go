// Command uxmcpd is the UXMCP daemon: it loads configuration, wires every
// component the spec names, and serves the HTTP/SSE/MCP surface until
// terminated. Grounded on the teacher's cmd/hector/main.go kong CLI shape
// (Version/Serve/Validate subcommands, signal-driven shutdown), trimmed of
// hector's A2A/studio/zero-config surface since UXMCP has no equivalent.
package main

import (
	"fmt"
	"os"
	"runtime/debug"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"
)

// CLI is the root command set.
type CLI struct {
	Serve    ServeCmd    `cmd:"" help:"Start the UXMCP server."`
	Validate ValidateCmd `cmd:"" help:"Validate a configuration file."`
	Version  VersionCmd  `cmd:"" help:"Show version information."`

	Config string `short:"c" help:"Path to config file (defaults to $UXMCP_CONFIG)." type:"path"`
}

// VersionCmd prints the build version.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	version := "dev"
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "" && info.Main.Version != "(devel)" {
			version = info.Main.Version
		}
	}
	fmt.Printf("uxmcpd version %s\n", version)
	return nil
}

func main() {
	_ = godotenv.Load()

	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("uxmcpd"),
		kong.Description("UXMCP - generated-service and agent runtime"),
		kong.UsageOnError(),
	)

	err := ctx.Run(&cli)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
	ctx.FatalIfErrorf(err)
}

func configPath(cli *CLI) string {
	if cli.Config != "" {
		return cli.Config
	}
	return os.Getenv("UXMCP_CONFIG")
}
