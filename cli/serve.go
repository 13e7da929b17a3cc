package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/litevault-dev/litevault/app/web"
	"github.com/litevault-dev/litevault/pkg/replicate"
	"github.com/litevault-dev/litevault/store/sqlite"
)

func NewServe() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the litevault web server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), port)
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 8080, "Port to listen on")
	return cmd
}

func runServe(ctx context.Context, port int) error {
	fmt.Println(Banner())

	fmt.Println(infoStyle.Render("Opening SQLite database..."))
	store, err := sqlite.New(GetDatabasePath())
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer store.Close()

	if err := store.Ensure(ctx); err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}
	fmt.Println(successStyle.Render("  Database ready"))

	grid, err := openGrid(ctx)
	if err != nil {
		return fmt.Errorf("failed to open object store: %w", err)
	}

	cfg := replicate.Config{PrivateDir: GetPrivateDir()}

	// When replication has been set up, start shipping changes to the
	// remote replica directory.
	var svc *replicate.Service
	if replicate.IsSetup(cfg) {
		rwCap, err := replicate.RWCap(cfg)
		if err != nil {
			return err
		}
		svc = replicate.NewService(
			store.Connection(),
			store,
			replicate.NewDirentryUploader(grid, rwCap),
			replicate.NewDirentryPruner(grid, rwCap),
			replicate.Options{},
		)
		if err := svc.Start(ctx); err != nil {
			return fmt.Errorf("failed to start replication: %w", err)
		}
		defer svc.Stop()
		fmt.Println(successStyle.Render("  Replication running"))
	} else {
		fmt.Println(subtitleStyle.Render("  Replication not set up (litevault replicate setup)"))
	}

	srv := web.NewServer(web.Deps{
		Store:     store,
		Grid:      grid,
		Config:    cfg,
		Recoverer: replicate.NewStatefulRecoverer(),
		Service:   svc,
	})

	httpServer := &http.Server{
		Addr:        fmt.Sprintf(":%d", port),
		Handler:     srv,
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		fmt.Println()
		fmt.Println(boxStyle.Render(fmt.Sprintf(`%s

%s %s

%s`,
			titleStyle.Render("litevault is running"),
			labelStyle.Render("API:"),
			urlStyle.Render(fmt.Sprintf("http://localhost:%d/api/voucher", port)),
			subtitleStyle.Render("Press Ctrl+C to stop"),
		)))
		fmt.Println()

		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case <-sigCh:
		fmt.Println(infoStyle.Render("\nShutting down..."))
	case <-ctx.Done():
		fmt.Println(infoStyle.Render("\nShutting down..."))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}
