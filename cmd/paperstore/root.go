package main

import (
	"fmt"
	"log"

	raven "github.com/getsentry/raven-go"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/ndlib/paperstore/chunk"
	"github.com/ndlib/paperstore/server"
	"github.com/ndlib/paperstore/submission"
)

func newRootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:           "paperstore",
		Short:         "paperstore accepts and serves PDF paper submissions",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.Version = server.Version
	cmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a TOML config file")
	addStoreFlags(cmd.PersistentFlags())

	// load is shared by the subcommands. It is only valid inside RunE.
	load := func(c *cobra.Command) (*Config, error) {
		cfg, err := loadConfig(configPath)
		if err != nil {
			return nil, err
		}
		cfg.applyFlags(c.Flags())
		return cfg, nil
	}

	cmd.AddCommand(
		newServeCmd(load),
		newOrphansCmd(load),
		newStressCmd(),
		newVersionCmd(),
	)
	return cmd
}

type configLoader func(c *cobra.Command) (*Config, error)

// addStoreFlags are the flags needed to open the stores.
func addStoreFlags(fs *pflag.FlagSet) {
	fs.String("storage", "", "blob storage location (path, file:, s3://, minio://, or memory)")
	fs.String("codec", "none", "chunk encoding for new blobs (none or zstd)")
	fs.String("mysql", "", "MySQL dial string for submission records")
	fs.String("db", "", "path to the embedded record database, or memory")
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "paperstore %s\n", server.Version)
		},
	}
}

// openStores opens the blob and record stores named in cfg.
func openStores(cfg *Config) (*chunk.Store, *submission.Writer, error) {
	if cfg.SentryDSN != "" {
		if err := raven.SetDSN(cfg.SentryDSN); err != nil {
			log.Println("Sentry:", err)
		}
	}
	codec, err := chunk.ParseCodec(cfg.Codec)
	if err != nil {
		return nil, nil, err
	}
	s, err := parselocation(cfg.Storage)
	if err != nil {
		return nil, nil, err
	}
	log.Printf("Using blob storage %q", cfg.Storage)
	cs := chunk.New(s, chunk.Options{Codec: codec})
	log.Println("Loading blob index")
	if err := cs.Load(); err != nil {
		return nil, nil, err
	}

	var db submission.DB
	if cfg.MySQL != "" {
		log.Printf("Using MySQL")
		db, err = submission.NewMysqlDB(cfg.MySQL)
	} else {
		path := cfg.databasePath()
		log.Printf("Using internal database at %s", path)
		db, err = submission.NewQlDB(path)
	}
	if err != nil {
		return nil, nil, err
	}
	return cs, &submission.Writer{DB: db, Blobs: cs}, nil
}
