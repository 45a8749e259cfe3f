package cli

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/zot/qrcanvas/internal/artifact"
	"github.com/zot/qrcanvas/internal/config"
	"github.com/zot/qrcanvas/internal/mcp"
	"github.com/zot/qrcanvas/internal/server"
	"github.com/zot/qrcanvas/internal/studio"
)

// stdout is where command output goes.
var stdout io.Writer = os.Stdout

func fail(format string, args ...interface{}) int {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	return 1
}

// open loads the config with extra flags and starts a studio over the configured store.
func open(name string, args []string, extra func(fs *flag.FlagSet)) (*config.Config, *studio.Service, []string, int) {
	cfg, rest, err := config.LoadWithFlags(name, args, extra)
	if err != nil {
		if err == flag.ErrHelp {
			return nil, nil, nil, 0
		}
		return nil, nil, nil, fail("failed to load config: %v", err)
	}
	svc, err := studio.Start(cfg)
	if err != nil {
		return nil, nil, nil, fail("%v", err)
	}
	return cfg, svc, rest, -1
}

func printJSON(v interface{}) {
	data, _ := json.MarshalIndent(v, "", "  ")
	fmt.Fprintln(stdout, string(data))
}

func runServe(args []string) int {
	cfg, svc, _, code := open("serve", args, nil)
	if code >= 0 {
		return code
	}

	srv := server.New(cfg, svc)
	url, err := srv.Start()
	if err != nil {
		svc.Close()
		return fail("%v", err)
	}
	cfg.Log(0, "Studio at %s (%s storage, quota %d bytes)", url, cfg.Storage.Type, cfg.Storage.QuotaBytes)

	if cfg.MCP.Enabled {
		// MCP on stdio alongside HTTP; EOF on stdin stops both
		err = mcp.NewServer(cfg, svc).ServeStdio()
	} else {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan
	}

	cfg.Log(0, "Shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if serr := srv.Shutdown(ctx); serr != nil {
		cfg.Log(0, "Shutdown: %v", serr)
	}
	if err != nil {
		return fail("MCP server error: %v", err)
	}
	return 0
}

func runMCP(args []string) int {
	cfg, svc, _, code := open("mcp", args, nil)
	if code >= 0 {
		return code
	}
	defer svc.Close()
	if err := mcp.NewServer(cfg, svc).ServeStdio(); err != nil {
		return fail("MCP server error: %v", err)
	}
	return 0
}

func runIntake(args []string) int {
	var name, category string
	cfg, svc, rest, code := open("intake", args, func(fs *flag.FlagSet) {
		fs.StringVar(&name, "name", "", "Artifact name")
		fs.StringVar(&category, "category", "", "image or document; detected when omitted")
	})
	if code >= 0 {
		return code
	}
	defer svc.Close()
	if len(rest) != 1 {
		return fail("intake needs exactly one file")
	}

	data, err := os.ReadFile(rest[0])
	if err != nil {
		return fail("%v", err)
	}
	ctx := context.Background()
	in, err := svc.Intake(ctx, studio.IntakeRequest{
		OwnerID:      cfg.MCP.Owner,
		Name:         name,
		Data:         data,
		MimeCategory: artifact.MimeCategory(category),
	})
	if err != nil {
		return fail("%v", err)
	}
	if in.Fallback {
		fmt.Fprintf(os.Stderr, "Warning: source could not be rendered, placeholder used")
		if in.PageCause != "" {
			fmt.Fprintf(os.Stderr, " (%s)", in.PageCause)
		}
		fmt.Fprintln(os.Stderr)
	}
	res, err := svc.SaveSession(ctx, in.Session)
	if err != nil {
		return fail("%v", err)
	}
	printJSON(map[string]interface{}{
		"id":   in.Artifact.ID,
		"name": in.Artifact.Name,
		"save": res,
	})
	return 0
}

func runLs(args []string) int {
	cfg, svc, _, code := open("ls", args, nil)
	if code >= 0 {
		return code
	}
	defer svc.Close()

	list, err := svc.LoadCollection(context.Background(), cfg.MCP.Owner)
	if err != nil {
		return fail("%v", err)
	}
	for _, a := range list {
		edit := "editable"
		if !a.Editable {
			edit = "preview only"
		}
		label := ""
		if a.TierLabel != "" {
			label = " [" + a.TierLabel + "]"
		}
		fmt.Fprintf(stdout, "%s  %s  %-8s %s%s  %s\n",
			a.ID, a.UpdatedAt.Local().Format("2006-01-02 15:04"), a.MimeCategory, a.Name, label, edit)
	}
	return 0
}

func runExport(args []string) int {
	var output string
	var multiplier float64
	cfg, svc, rest, code := open("export", args, func(fs *flag.FlagSet) {
		fs.StringVar(&output, "o", "", "Output PNG (default: ID.png)")
		fs.Float64Var(&multiplier, "multiplier", 1, "Output scale, up to 4")
	})
	if code >= 0 {
		return code
	}
	defer svc.Close()
	if len(rest) != 1 {
		return fail("export needs exactly one artifact id")
	}

	data, err := svc.Export(context.Background(), cfg.MCP.Owner, rest[0], multiplier)
	if err != nil {
		return fail("%v", err)
	}
	if output == "" {
		output = rest[0] + ".png"
	}
	if err := os.WriteFile(output, data, 0o644); err != nil {
		return fail("%v", err)
	}
	fmt.Fprintf(stdout, "Wrote %s (%d bytes)\n", output, len(data))
	return 0
}

func runRm(args []string) int {
	cfg, svc, rest, code := open("rm", args, nil)
	if code >= 0 {
		return code
	}
	defer svc.Close()
	if len(rest) == 0 {
		return fail("rm needs an artifact id")
	}
	for _, id := range rest {
		if err := svc.Delete(context.Background(), cfg.MCP.Owner, id); err != nil {
			return fail("%s: %v", id, err)
		}
		fmt.Fprintf(stdout, "Deleted %s\n", id)
	}
	return 0
}

func runUsage(args []string) int {
	cfg, svc, _, code := open("usage", args, nil)
	if code >= 0 {
		return code
	}
	defer svc.Close()

	usage, err := svc.Usage(context.Background(), cfg.MCP.Owner)
	if err != nil {
		return fail("%v", err)
	}
	printJSON(usage)
	return 0
}

func runOwners(args []string) int {
	_, svc, _, code := open("owners", args, nil)
	if code >= 0 {
		return code
	}
	defer svc.Close()

	owners, err := svc.Owners(context.Background())
	if err != nil {
		return fail("%v", err)
	}
	for _, o := range owners {
		fmt.Fprintln(stdout, o)
	}
	return 0
}
