// Command server runs the image search service and its admin commands.
//
// Usage:
//
//	server serve
//	server ingest --folder ./photos
//	server search --query "a cute cat" --top-k 5
//	server delete-image --id 42
//	server migrate
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/alecthomas/kong"

	"imagesearch/internal/app"
	"imagesearch/internal/config"
	"imagesearch/internal/logger"
	"imagesearch/internal/store"
)

type CLI struct {
	config.Config `embed:""`

	Serve       ServeCmd       `cmd:"" default:"1" help:"Start the HTTP server."`
	Ingest      IngestCmd      `cmd:"" help:"Ingest every image in a folder."`
	Search      SearchCmd      `cmd:"" help:"Search images by text."`
	DeleteImage DeleteImageCmd `cmd:"" name:"delete-image" help:"Delete an image, its feedback and its stored bytes."`
	Migrate     MigrateCmd     `cmd:"" help:"Create or update the PostgreSQL schema."`
}

const shutdownTimeout = 10 * time.Second

type ServeCmd struct{}

func (c *ServeCmd) Run(cli *CLI) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, &cli.Config)
	if err != nil {
		return err
	}
	defer a.Close()

	if cli.WarmModel {
		if err := a.Warm(ctx); err != nil {
			return fmt.Errorf("warm model: %w", err)
		}
	}

	srv := &http.Server{
		Addr:              cli.Addr,
		Handler:           a.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server starting", "addr", cli.Addr, "ranker", a.Searcher.RankerName(), "store", cli.Store)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

type IngestCmd struct {
	Folder string `required:"" type:"existingdir" help:"Folder with images to ingest."`
}

func (c *IngestCmd) Run(cli *CLI) error {
	ctx := context.Background()
	a, err := app.New(ctx, &cli.Config)
	if err != nil {
		return err
	}
	defer a.Close()

	added, err := a.Pipeline.IngestFolder(ctx, c.Folder)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tFILENAME\tURL")
	for _, img := range added {
		fmt.Fprintf(w, "%d\t%s\t%s\n", img.ID, img.Filename, img.URL)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Printf("%d new image(s)\n", len(added))
	return nil
}

type SearchCmd struct {
	Query string `required:"" help:"Text to search for."`
	TopK  int    `name:"top-k" default:"5" help:"Number of results."`
}

func (c *SearchCmd) Run(cli *CLI) error {
	ctx := context.Background()
	a, err := app.New(ctx, &cli.Config)
	if err != nil {
		return err
	}
	defer a.Close()

	matches, err := a.Searcher.Search(ctx, c.Query, c.TopK)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "RANK\tSCORE\tID\tFILENAME")
	for i, m := range matches {
		fmt.Fprintf(w, "%d\t%.4f\t%d\t%s\n", i+1, m.Score, m.Image.ID, m.Image.Filename)
	}
	return w.Flush()
}

type DeleteImageCmd struct {
	ID int64 `required:"" help:"Image id."`
}

func (c *DeleteImageCmd) Run(cli *CLI) error {
	ctx := context.Background()
	a, err := app.New(ctx, &cli.Config)
	if err != nil {
		return err
	}
	defer a.Close()

	img, err := a.Catalog.Delete(ctx, c.ID)
	if err != nil {
		return err
	}
	fmt.Printf("deleted image %d (%s)\n", img.ID, img.Filename)
	return nil
}

type MigrateCmd struct{}

func (c *MigrateCmd) Run(cli *CLI) error {
	if cli.Store != config.StorePostgres {
		return fmt.Errorf("migrate requires the postgres store, got %q", cli.Store)
	}
	ctx := context.Background()
	pg, err := store.NewPostgres(ctx, cli.DatabaseURL, cli.HNSWEfSearch)
	if err != nil {
		return err
	}
	defer pg.Close()

	if err := store.Migrate(ctx, pg.Pool()); err != nil {
		return err
	}
	slog.Info("schema up to date")
	return nil
}

func main() {
	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("server"),
		kong.Description("Text-to-image search over CLIP embeddings."),
		kong.UsageOnError(),
	)

	logger.Init(cli.LogLevel, cli.LogFormat)

	err := ctx.Run(&cli)
	ctx.FatalIfErrorf(err)
}
