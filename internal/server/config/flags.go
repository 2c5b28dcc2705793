package config

import (
	"flag"
	"io"
	"time"

	"github.com/creat233/finderid/internal/flagx"
)

var knownFlags = []string{"-a", "-w", "-d", "-s", "-t", "-r", "-u", "-p", "-b", "-g", "-e", "-o", "-l"}

// parseFlags overlays c with command-line flags.
//
//	-a string   gRPC bind address (e.g. ":50051")
//	-w string   realtime/health HTTP bind address (e.g. ":8080")
//	-d string   PostgreSQL DSN
//	-s string   JWT HMAC secret key
//	-t int      access token validity, minutes
//	-r int      refresh token validity, minutes
//	-u string   S3 root user
//	-p string   S3 root password
//	-b string   S3 bucket name
//	-g string   S3 region
//	-e string   S3 base endpoint
//	-o string   public base URL of stored files
//	-l string   log level
//
// Unknown arguments (such as -c) are dropped by flagx.FilterArgs first.
func (c *Config) parseFlags(args []string) error {
	args = flagx.FilterArgs(args, knownFlags)

	fs := flag.NewFlagSet("server", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringVar(&c.EndpointAddrGRPC, "a", c.EndpointAddrGRPC, "address and port to run the data service")
	fs.StringVar(&c.RealtimeAddr, "w", c.RealtimeAddr, "address and port of the realtime endpoint")
	fs.StringVar(&c.DatabaseDSN, "d", c.DatabaseDSN, "database DSN")
	fs.StringVar(&c.SecretKey, "s", c.SecretKey, "secret key")

	accessMinutes := fs.Int("t", int(c.AccessTokenValidityDuration.Minutes()), "access token validity (in minutes)")
	refreshMinutes := fs.Int("r", int(c.RefreshTokenValidityDuration.Minutes()), "refresh token validity (in minutes)")

	fs.StringVar(&c.S3RootUser, "u", c.S3RootUser, "S3 root user")
	fs.StringVar(&c.S3RootPassword, "p", c.S3RootPassword, "S3 root password")
	fs.StringVar(&c.S3Bucket, "b", c.S3Bucket, "S3 bucket")
	fs.StringVar(&c.S3Region, "g", c.S3Region, "S3 region")
	fs.StringVar(&c.S3BaseEndpoint, "e", c.S3BaseEndpoint, "S3 base endpoint")
	fs.StringVar(&c.S3PublicURL, "o", c.S3PublicURL, "public base URL of stored files")
	fs.StringVar(&c.LogLevel, "l", c.LogLevel, "log level")

	if err := fs.Parse(args); err != nil {
		return err
	}

	c.AccessTokenValidityDuration = time.Duration(*accessMinutes) * time.Minute
	c.RefreshTokenValidityDuration = time.Duration(*refreshMinutes) * time.Minute
	return nil
}
