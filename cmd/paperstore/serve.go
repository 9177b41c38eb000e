package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/ndlib/paperstore/server"
)

func addServeFlags(fs *pflag.FlagSet) {
	fs.String("port", "5000", "port to listen on")
	fs.String("pprof", "", "port for the pprof server, if any")
	fs.String("tokens", "", "file of API keys for the admin routes")
	fs.Int("chunk-size", 0, "chunk size in bytes for new blobs (default 255 KiB)")
	fs.Int64("max-size", 0, "largest PDF accepted, in bytes (default 20 MiB)")
	fs.Int("max-uploads", 0, "uploads ingested at once (default 8)")
	fs.Duration("upload-timeout", 0, "time limit for one upload (default 10m)")
}

func newServeCmd(load configLoader) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the paperstore HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load(cmd)
			if err != nil {
				return err
			}
			chunks, records, err := openStores(cfg)
			if err != nil {
				return err
			}
			defer records.DB.Close()

			s := &server.RESTServer{
				PortNumber:           cfg.Port,
				PProfPort:            cfg.PProfPort,
				Chunks:               chunks,
				Records:              records,
				AllowedOrigins:       cfg.Origins,
				ChunkSize:            cfg.ChunkSize,
				MaxUploadSize:        cfg.MaxUploadSize,
				MaxConcurrentUploads: cfg.MaxUploads,
				UploadTimeout:        cfg.UploadTimeout.Duration,
			}
			if cfg.TokenFile != "" {
				log.Println("Using user token file", cfg.TokenFile)
				s.Validator, err = server.NewListDecoderFile(cfg.TokenFile)
				if err != nil {
					return err
				}
			}
			go signalHandler(s)
			return s.Run()
		},
	}
	addServeFlags(cmd.Flags())
	return cmd
}

// signalHandler stops the server on SIGINT or SIGTERM, letting in-flight
// requests finish.
func signalHandler(s *server.RESTServer) {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	sig := <-c
	log.Println("Received signal", sig)
	if err := s.Stop(); err != nil {
		log.Println(err)
	}
}
