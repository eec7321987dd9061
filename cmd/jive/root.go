package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jivedev/jive/internal/config"
	"github.com/jivedev/jive/internal/core"
	"github.com/jivedev/jive/internal/rpc"
)

var (
	cfgFile     string
	jsonOutput  bool
	verboseFlag bool
	actor       string
)

var rootCmd = &cobra.Command{
	Use:           "jive",
	Short:         "Agile work-item orchestration engine",
	Long:          "jive tracks hierarchical work items, plans execution across their\ndependencies and keeps on-disk task files in sync with the store.",
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default: .jivedev/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVar(&actor, "actor", "", "Actor name for the audit trail (default: $USER)")
}

func configPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	return filepath.Join(".jivedev", "config.yaml")
}

func loadConfig() (*config.Config, error) {
	return config.Load(configPath())
}

func newLogger() (*zap.Logger, error) {
	if verboseFlag {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	return cfg.Build()
}

// openCore builds the full engine for direct (daemonless) commands.
func openCore() (*core.Core, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger, err := newLogger()
	if err != nil {
		return nil, err
	}
	return openCoreWith(cfg, logger)
}

func openCoreWith(cfg *config.Config, logger *zap.Logger) (*core.Core, error) {
	return core.New(cfg, logger)
}

// callTool invokes a tool handler in-process, the same code path the
// daemon serves over the socket.
func callTool(c *core.Core, tool string, args interface{}) (*rpc.Response, error) {
	fn, ok := c.Handlers.Lookup(tool)
	if !ok {
		return nil, fmt.Errorf("unknown tool %q", tool)
	}
	var raw json.RawMessage
	if args != nil {
		data, err := json.Marshal(args)
		if err != nil {
			return nil, err
		}
		raw = data
	}
	return fn(context.Background(), raw), nil
}

// printResponse renders a tool response and returns an error for non-success
// statuses so the process exit code reflects the outcome.
func printResponse(resp *rpc.Response) error {
	if jsonOutput {
		data, err := json.MarshalIndent(resp, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		if resp.Status == rpc.StatusSuccess {
			return nil
		}
		return fmt.Errorf("%s", resp.Status)
	}

	for _, w := range resp.Warnings {
		fmt.Fprintf(os.Stderr, "warning: %s\n", w)
	}
	switch resp.Status {
	case rpc.StatusSuccess:
		if len(resp.Data) > 0 {
			var pretty map[string]interface{}
			if err := json.Unmarshal(resp.Data, &pretty); err == nil {
				out, _ := json.MarshalIndent(pretty, "", "  ")
				fmt.Println(string(out))
			} else {
				fmt.Println(string(resp.Data))
			}
		}
		return nil
	case rpc.StatusConflict:
		fmt.Fprintln(os.Stderr, "conflict: "+resp.Error.Message)
		if len(resp.Data) > 0 {
			fmt.Fprintln(os.Stderr, string(resp.Data))
		}
		return fmt.Errorf("conflict")
	default:
		if resp.Error != nil {
			fmt.Fprintf(os.Stderr, "error (%s): %s\n", resp.Error.Code, resp.Error.Message)
			for _, d := range resp.Error.Details {
				fmt.Fprintf(os.Stderr, "  - %s\n", d)
			}
			return fmt.Errorf("%s", resp.Error.Code)
		}
		return fmt.Errorf("%s", resp.Status)
	}
}

func defaultSocketPath() string {
	return filepath.Join(filepath.Dir(configPath()), "jive.sock")
}

func actorName() string {
	if actor != "" {
		return actor
	}
	return os.Getenv("USER")
}

// runTool routes a tool call to a running daemon when one is listening,
// otherwise it runs the call in-process. Execution sessions live in the
// daemon, so daemonless run/status/cancel only see their own process.
func runTool(tool string, args interface{}) error {
	if client, err := rpc.Dial(defaultSocketPath(), actorName(), 0); err == nil {
		defer client.Close()
		resp, err := client.Call(tool, args)
		if err != nil {
			return err
		}
		return printResponse(resp)
	}

	c, err := openCore()
	if err != nil {
		return err
	}
	defer c.Close()

	resp, err := callTool(c, tool, args)
	if err != nil {
		return err
	}
	return printResponse(resp)
}
