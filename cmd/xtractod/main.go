// Copyright (C) 2025 Cercina AI.
// See LICENSE for copying information.

// xtractod runs the real-estate listings pipeline: the scraping stages,
// the image processor and the HTTP control API, all in one process.
package main

import (
	"context"
	"errors"
	"os"

	"github.com/spf13/cobra"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"github.com/cercinaai/Xtracto-io/pipeline"
	"github.com/cercinaai/Xtracto-io/pipeline/fetcher"
	"github.com/cercinaai/Xtracto-io/pipeline/storedb"
	"github.com/cercinaai/Xtracto-io/pkg/cfgstruct"
	"github.com/cercinaai/Xtracto-io/pkg/process"
)

var (
	rootCmd = &cobra.Command{
		Use:   "xtractod",
		Short: "real-estate listings pipeline",
	}
	runCmd = &cobra.Command{
		Use:   "run",
		Short: "run the pipeline and its control API",
		RunE:  cmdRun,
	}

	runCfg pipeline.Config
)

// requiredEnv are the secrets the process refuses to start without.
var requiredEnv = []string{
	"MONGO_URI",
	"B2_BUCKET_NAME",
	"B2_ENDPOINT",
	"B2_ACCESS_KEY",
	"B2_SECRET_KEY",
}

func init() {
	rootCmd.AddCommand(runCmd)
	cfgstruct.Bind(runCmd.Flags(), &runCfg)
}

func main() {
	process.Exec(rootCmd)
}

func cmdRun(cmd *cobra.Command, args []string) error {
	ctx, cancel := process.Ctx(cmd)
	defer cancel()

	log, err := process.NewLogger(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	var missing []string
	for _, name := range requiredEnv {
		if os.Getenv(name) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return errs.New("missing required environment variables: %v", missing)
	}

	// secrets always come from the environment, never from flags
	runCfg.Blobstore.Bucket = os.Getenv("B2_BUCKET_NAME")
	runCfg.Blobstore.Endpoint = os.Getenv("B2_ENDPOINT")
	runCfg.Blobstore.AccessKey = os.Getenv("B2_ACCESS_KEY")
	runCfg.Blobstore.SecretKey = os.Getenv("B2_SECRET_KEY")

	db, err := storedb.Open(ctx, log.Named("storedb"), os.Getenv("MONGO_URI"))
	if err != nil {
		return err
	}
	defer func() { _ = db.Close(context.Background()) }()

	if err := db.EnsureIndexes(ctx); err != nil {
		return err
	}

	peer, err := pipeline.New(log, db, fetcher.NewClient(log.Named("fetcher"), runCfg.Fetcher), runCfg)
	if err != nil {
		return err
	}

	log.Info("pipeline starting", zap.String("console", runCfg.Console.Address))
	err = peer.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("pipeline stopped")
	return nil
}
