package config

import (
	"flag"
	"fmt"

	"github.com/dmitrijs2005/gridstore/internal/flagx"
)

// parseFlags populates Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-s string     store backend (memory, postgres, badger)
//	-d string     PostgreSQL DSN
//	-p string     badger data directory
//	-r string     root credentials
//	-e string     root user email
//	-w string     root user password
//	-l string     log format (json, text, zap)
//	-b string     blob driver (s3, minio)
//	-H string     blob host
//	-P int        blob port
//	-u string     blob access key
//	-k string     blob secret key
//	-g string     blob region
//	-B string     blob bucket
//	-z int        upload chunk size in bytes
//	-R duration   presigned read URL lifetime
//	-W duration   presigned write URL lifetime
//
// Unknown flags are filtered out first with flagx.FilterArgs so -c and
// -config can share the command line.
func parseFlags(config *Config, args []string) error {
	args = flagx.FilterArgs(args, []string{
		"-s", "-d", "-p", "-r", "-e", "-w", "-l", "-b", "-H", "-P", "-u", "-k", "-g", "-B", "-z", "-R", "-W",
	})

	fs := flag.NewFlagSet("node", flag.ContinueOnError)

	fs.StringVar(&config.StoreBackend, "s", config.StoreBackend, "store backend")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.BadgerPath, "p", config.BadgerPath, "badger data directory")
	fs.StringVar(&config.RootCredentials, "r", config.RootCredentials, "root credentials")
	fs.StringVar(&config.RootEmail, "e", config.RootEmail, "root user email")
	fs.StringVar(&config.RootPassword, "w", config.RootPassword, "root user password")
	fs.StringVar(&config.LogFormat, "l", config.LogFormat, "log format")
	fs.StringVar(&config.BlobDriver, "b", config.BlobDriver, "blob driver")
	fs.StringVar(&config.BlobHost, "H", config.BlobHost, "blob host")
	fs.IntVar(&config.BlobPort, "P", config.BlobPort, "blob port")
	fs.StringVar(&config.BlobAccessKey, "u", config.BlobAccessKey, "blob access key")
	fs.StringVar(&config.BlobSecretKey, "k", config.BlobSecretKey, "blob secret key")
	fs.StringVar(&config.BlobRegion, "g", config.BlobRegion, "blob region")
	fs.StringVar(&config.BlobBucket, "B", config.BlobBucket, "blob bucket")
	fs.Int64Var(&config.BlobChunkSize, "z", config.BlobChunkSize, "upload chunk size in bytes")
	fs.DurationVar(&config.BlobReadURLTTL, "R", config.BlobReadURLTTL, "presigned read URL lifetime")
	fs.DurationVar(&config.BlobWriteURLTTL, "W", config.BlobWriteURLTTL, "presigned write URL lifetime")

	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("parse flags: %w", err)
	}
	return nil
}
