package main

import (
	"log/slog"

	"github.com/openmined/bucketgallery/internal/gallery"
	"github.com/openmined/bucketgallery/internal/lazyload"
	"github.com/openmined/bucketgallery/internal/localhttp"
	"github.com/openmined/bucketgallery/internal/version"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func init() {
	rootCmd.AddCommand(newServeCmd())
}

func newServeCmd() *cobra.Command {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Keep the gallery in sync and serve it on the local http api",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			s, err := openSession(cmd, sessionOptions{logToFile: true})
			if err != nil {
				return err
			}
			defer s.Close()

			showHeader(cmd.OutOrStdout())
			slog.Info("gallery", "version", version.Version, "revision", version.Revision, "build", version.BuildDate)

			bridge := localhttp.NewBridge(s.cfg.HTTP.AllowedOrigins)

			var coord *gallery.Coordinator
			loaderOpts := s.cfg.LoaderOptions()
			loaderOpts.OnLoaded = func(h lazyload.Handle, url string, res *lazyload.LoadResult) {
				coord.OnImageLoaded(h, url, res)
			}
			scheduler := lazyload.NewScheduler(bridge, bridge, lazyload.NewHTTPLoader(), loaderOpts)
			coord = gallery.New(s.client, s.cache, scheduler, s.cfg.GalleryConfig())

			server, err := localhttp.New(s.cfg.ServerConfig(), coord, bridge)
			if err != nil {
				return err
			}

			eg, ctx := errgroup.WithContext(cmd.Context())
			eg.Go(func() error { return scheduler.Run(ctx) })
			eg.Go(func() error { return coord.Run(ctx) })
			eg.Go(func() error { return server.Start(ctx) })

			err = eg.Wait()
			if cerr := coord.Close(); cerr != nil {
				slog.Warn("gallery close", "error", cerr)
			}
			slog.Info("Bye!")
			return err
		},
	}

	serveCmd.Flags().StringP("http-addr", "a", localhttp.DefaultAddr, "address to bind the local http server")
	return serveCmd
}
