package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	rxcouch "github.com/tangledfruit/rx-couch"
	"github.com/tangledfruit/rx-couch/internal/codec"
	"github.com/tangledfruit/rx-couch/pkg/logger"
	"github.com/tangledfruit/rx-couch/pkg/metrics"
)

const (
	urlKey             = "url"
	configKey          = "config"
	logLevelKey        = "log_level"
	longPollTimeoutKey = "long_poll_timeout"

	envPrefix  = "RXCOUCH"
	defaultURL = "http://localhost:5984"
)

// cli carries what every command needs. Each root command gets its own
// viper instance so tests do not leak settings into each other.
type cli struct {
	v       *viper.Viper
	codec   codec.Codec
	metrics *metrics.Metrics
}

func newRootCommand() *cobra.Command {
	c := &cli{
		v:     viper.New(),
		codec: codec.JSON{},
	}

	root := &cobra.Command{
		Use:           "rxcouch",
		Short:         "Inspect and follow CouchDB databases",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.loadConfigFile()
		},
	}

	flags := root.PersistentFlags()
	flags.String("url", rxcouch.GetEnvOrDefault("COUCHDB_URL", defaultURL), "CouchDB server base URL")
	flags.String("config", "", "config file (yaml, json or toml) with url, log_level and long_poll_timeout")
	flags.String("log-level", "warn", "log level written to stderr (debug, info, warn, error, disabled)")
	flags.Duration("long-poll-timeout", 0, "timeout sent with long-poll requests (0 leaves it to the server)")

	c.mustBind(urlKey, flags.Lookup("url"))
	c.mustBind(configKey, flags.Lookup("config"))
	c.mustBind(logLevelKey, flags.Lookup("log-level"))
	c.mustBind(longPollTimeoutKey, flags.Lookup("long-poll-timeout"))
	c.v.SetEnvPrefix(envPrefix)
	c.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	c.v.AutomaticEnv()

	root.AddCommand(
		c.newPingCommand(),
		c.newDatabasesCommand(),
		c.newCreateDatabaseCommand(),
		c.newDeleteDatabaseCommand(),
		c.newGetCommand(),
		c.newPutCommand(),
		c.newUpdateCommand("update", "Merge a JSON document into the stored one"),
		c.newUpdateCommand("replace", "Replace a stored document, keeping its revision"),
		c.newDeleteCommand(),
		c.newAllDocsCommand(),
		c.newChangesCommand(),
		c.newObserveCommand(),
		c.newReplicateCommand(),
		c.newRelayCommand(),
	)
	return root
}

func (c *cli) mustBind(key string, flag *pflag.Flag) {
	if flag == nil {
		panic(fmt.Sprintf("flag for key %s not found", key))
	}
	if err := c.v.BindPFlag(key, flag); err != nil {
		panic(err)
	}
}

func (c *cli) loadConfigFile() error {
	path := strings.TrimSpace(c.v.GetString(configKey))
	if path == "" {
		return nil
	}
	c.v.SetConfigFile(path)
	if err := c.v.ReadInConfig(); err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	return nil
}

func (c *cli) logger(cmd *cobra.Command) (logger.Logger, error) {
	level, err := zerolog.ParseLevel(strings.ToLower(c.v.GetString(logLevelKey)))
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}
	logData, err := logger.New().FromBuffer(cmd.ErrOrStderr()).WithLevel(level).Make()
	if err != nil {
		return nil, err
	}
	return logData, nil
}

// server builds the client from the resolved configuration.
func (c *cli) server(cmd *cobra.Command) (*rxcouch.Server, error) {
	log, err := c.logger(cmd)
	if err != nil {
		return nil, err
	}
	opts := []rxcouch.Option{
		rxcouch.WithLogger(log),
		rxcouch.WithCodec(c.codec),
	}
	if t := c.v.GetDuration(longPollTimeoutKey); t > 0 {
		opts = append(opts, rxcouch.WithLongPollTimeout(t))
	}
	if c.metrics != nil {
		opts = append(opts, rxcouch.WithMetrics(c.metrics))
	}
	return rxcouch.NewServer(c.v.GetString(urlKey), opts...)
}

func (c *cli) database(cmd *cobra.Command, name string) (*rxcouch.Database, error) {
	srv, err := c.server(cmd)
	if err != nil {
		return nil, err
	}
	return srv.DB(name)
}

// print writes v as one line of JSON.
func (c *cli) print(cmd *cobra.Command, v any) error {
	return c.codec.NewEncoder(cmd.OutOrStdout()).Encode(v)
}

// readDocument takes a document from an argument, or from stdin when the
// argument is "-".
func (c *cli) readDocument(cmd *cobra.Command, arg string) (map[string]any, error) {
	data := []byte(arg)
	if arg == "-" {
		var err error
		data, err = io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return nil, err
		}
	}
	var doc map[string]any
	if err := c.codec.Unmarshal(bytes.TrimSpace(data), &doc); err != nil {
		return nil, fmt.Errorf("document is not a JSON object: %w", err)
	}
	return doc, nil
}

// parseOptions turns repeated key=value flags into Options. Values that
// parse as JSON keep their JSON type; anything else stays a string.
func (c *cli) parseOptions(pairs []string) (rxcouch.Options, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	opts := make(rxcouch.Options, len(pairs))
	for _, pair := range pairs {
		key, raw, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("option %q is not key=value", pair)
		}
		var value any
		if err := c.codec.Unmarshal([]byte(raw), &value); err != nil {
			value = raw
		}
		opts[key] = value
	}
	return opts, nil
}

func addOptionFlag(cmd *cobra.Command) {
	cmd.Flags().StringArrayP("opt", "o", nil, "query option as key=value, repeatable; JSON values keep their type")
}

func (c *cli) optionFlag(cmd *cobra.Command) (rxcouch.Options, error) {
	pairs, err := cmd.Flags().GetStringArray("opt")
	if err != nil {
		return nil, err
	}
	return c.parseOptions(pairs)
}

// interrupted reports whether err only says the command was stopped.
func interrupted(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// drain prints every value of a stream until it ends or ctx is done.
func drain[T any](ctx context.Context, cmd *cobra.Command, c *cli, s *rxcouch.Stream[T]) error {
	defer s.Close()
	for {
		select {
		case v, ok := <-s.C():
			if !ok {
				if err := s.Err(); err != nil && !interrupted(err) {
					return err
				}
				return nil
			}
			if err := c.print(cmd, v); err != nil {
				return err
			}
		case <-ctx.Done():
			return nil
		}
	}
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
