package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/openmined/bucketgallery/internal/config"
	"github.com/openmined/bucketgallery/internal/version"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:           "gallery",
	Short:         "Browse an S3 bucket as a lazily loaded image gallery",
	Version:       version.Detailed(),
	SilenceErrors: true,
}

func init() {
	addGlobalFlags(rootCmd)
}

func addGlobalFlags(cmd *cobra.Command) {
	pf := cmd.PersistentFlags()
	pf.SortFlags = false
	pf.StringP("config", "c", config.DefaultConfigPath, "gallery config file")
	pf.StringP("datadir", "d", config.DefaultDataDir, "gallery data directory")
	pf.StringP("bucket", "b", "", "bucket name")
	pf.String("region", "", "bucket region")
	pf.String("endpoint", "", "S3 compatible endpoint url")
	pf.String("prefix", "", "only show keys under this prefix")
	pf.String("public-url", "", "serve objects from this base url instead of presigning")
	pf.String("log-level", "info", "log level (debug, info, warn, error)")
}

func main() {
	// .env is optional
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintln(os.Stderr, red.Render("load .env:"), err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, red.Render("error:"), err)
		stop()
		os.Exit(1)
	}
}
