package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/aretw0/patchbay/internal/presentation/tui"
	"github.com/aretw0/patchbay/pkg/adapters/file"
	redisAdapter "github.com/aretw0/patchbay/pkg/adapters/redis"
	"github.com/aretw0/patchbay/pkg/domain"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the live topology",
	Long: `Prints the nodes and links of the live topology, read from a running server
(--url) or from the saved state. Output is rendered when stdout is a terminal
and plain markdown otherwise.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		url, _ := cmd.Flags().GetString("url")
		decl, err := readStatus(cmd.Context(), url)
		if err != nil {
			return err
		}

		md := tui.StatusMarkdown(decl, nil)
		out := cmd.OutOrStdout()
		if f, ok := out.(*os.File); !ok || !term.IsTerminal(int(f.Fd())) {
			fmt.Fprint(out, md)
			return nil
		}

		tui.PrintBanner(out)
		render, err := tui.NewRenderer("")
		if err != nil {
			return err
		}
		rendered, err := render(md)
		if err != nil {
			return err
		}
		fmt.Fprint(out, rendered)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().String("url", "", "Base URL of a running server, e.g. http://localhost:8080")
}

func readStatus(ctx context.Context, url string) (*domain.Declaration, error) {
	switch {
	case url != "":
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(url, "/")+"/state", nil)
		if err != nil {
			return nil, err
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("failed to reach server: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("server answered %s", resp.Status)
		}
		decl := domain.NewDeclaration()
		if err := json.NewDecoder(resp.Body).Decode(decl); err != nil {
			return nil, fmt.Errorf("invalid state: %w", err)
		}
		return decl, nil
	case cfg.Redis.Enabled():
		rs := redisAdapter.New(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, redisAdapter.WithPrefix(cfg.Redis.Prefix))
		defer rs.Client().Close()
		store, err := sealed(cfg, rs)
		if err != nil {
			return nil, err
		}
		return store.Load(ctx)
	default:
		store, err := sealed(cfg, file.New(cfg.State))
		if err != nil {
			return nil, err
		}
		return store.Load(ctx)
	}
}
