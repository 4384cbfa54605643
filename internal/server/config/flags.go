package config

import (
	"flag"
	"os"
	"time"

	"github.com/dmitrijs2005/authkeeper/internal/flagx"
)

// parseFlags populates Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string   HTTP bind address (e.g. ":8080")
//	-g string   gRPC bind address (e.g. ":50051")
//	-d string   PostgreSQL DSN
//	-R string   Redis address
//	-i string   identity backend: memory | postgres
//	-b string   refresh backend: memory | postgres | redis
//	-u string   YAML users file for the memory identity backend
//	-s string   JWT HMAC secret key
//	-I string   JWT issuer
//	-A string   JWT audience
//	-t int      access token validity, minutes
//	-r int      refresh token validity, days
//	-l string   log format: json | text | zap
//
// Only the flags above are picked out of os.Args with flagx.FilterArgs, so
// -c/-config and flags owned by other components do not collide.
func parseFlags(config *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-a", "-g", "-d", "-R", "-i", "-b", "-u", "-s", "-I", "-A", "-t", "-r", "-l"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.EndpointAddrHTTP, "a", config.EndpointAddrHTTP, "HTTP address and port to run server")
	fs.StringVar(&config.EndpointAddrGRPC, "g", config.EndpointAddrGRPC, "gRPC address and port to run server")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.RedisAddr, "R", config.RedisAddr, "redis address")
	fs.StringVar(&config.IdentityBackend, "i", config.IdentityBackend, "identity backend (memory, postgres)")
	fs.StringVar(&config.RefreshBackend, "b", config.RefreshBackend, "refresh token backend (memory, postgres, redis)")
	fs.StringVar(&config.UsersFile, "u", config.UsersFile, "YAML users file for the memory identity backend")
	fs.StringVar(&config.SecretKey, "s", config.SecretKey, "secret key")
	fs.StringVar(&config.Issuer, "I", config.Issuer, "token issuer")
	fs.StringVar(&config.Audience, "A", config.Audience, "token audience")
	fs.StringVar(&config.LogFormat, "l", config.LogFormat, "log format (json, text, zap)")

	accessTokenValidityDuration := fs.Int("t", int(config.AccessTokenValidityDuration.Minutes()), "access_token_validity_duration (in minutes)")
	refreshTokenValidityDuration := fs.Int("r", int(config.RefreshTokenValidityDuration.Hours()/24), "refresh_token_validity_duration (in days)")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	// durations are only overwritten when given, so finer values from JSON survive
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "t":
			config.AccessTokenValidityDuration = time.Duration(*accessTokenValidityDuration) * time.Minute
		case "r":
			config.RefreshTokenValidityDuration = time.Duration(*refreshTokenValidityDuration) * 24 * time.Hour
		}
	})
}
