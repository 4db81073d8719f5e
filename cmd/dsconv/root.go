package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// app holds the state shared by the commands of a single invocation.
type app struct {
	v       *viper.Viper
	cfgFile string
	logger  *slog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{v: viper.New(), logger: slog.New(slog.NewTextHandler(io.Discard, nil))}

	root := &cobra.Command{
		Use:   "dsconv",
		Short: "Convert annotated image datasets between COCO and YOLO",
		Long: "Convert annotated image datasets between the COCO and YOLO formats. Datasets are read" +
			" from directories or zip archives with train, valid and test splits, and written as zip" +
			" archives or directories. Datasets can also be exported as TFRecord files.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := a.initConfig(cmd.ErrOrStderr()); err != nil {
				return err
			}
			logger, err := newLogger(cmd.ErrOrStderr(), a.v.GetString("log.level"),
				a.v.GetString("log.format"))
			if err != nil {
				return err
			}
			a.logger = logger
			if f := a.v.ConfigFileUsed(); f != "" {
				a.logger.Debug("using config file", "path", f)
			}
			return nil
		},
	}

	root.PersistentFlags().StringVar(&a.cfgFile, "config", "",
		"config file (default is $HOME/.dsconv.yaml or ./config/dsconv.yaml)")
	root.PersistentFlags().String("log-level", "info", "Log `level`: debug|info|warn|error")
	root.PersistentFlags().String("log-format", "text", "Log `format`: text|json")
	_ = a.v.BindPFlag("log.level", root.PersistentFlags().Lookup("log-level"))
	_ = a.v.BindPFlag("log.format", root.PersistentFlags().Lookup("log-format"))

	root.AddCommand(a.newConvertCmd(), a.newInspectCmd(), a.newDimsCmd())
	return root
}

// initConfig reads the optional config file and enables DSCONV_ environment variables, e.g.
// DSCONV_LOG_LEVEL for log.level.
func (a *app) initConfig(stderr io.Writer) error {
	a.v.SetEnvPrefix("DSCONV")
	a.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	a.v.AutomaticEnv()

	if a.cfgFile != "" {
		a.v.SetConfigFile(a.cfgFile)
		if err := a.v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read the config file: %w", err)
		}
		return nil
	}

	a.v.SetConfigType("yaml")
	if home, err := os.UserHomeDir(); err == nil {
		a.v.AddConfigPath(home)
	}
	a.v.SetConfigName(".dsconv")
	err := a.v.ReadInConfig()

	// If not found, try ./config/dsconv.yaml.
	notFound := viper.ConfigFileNotFoundError{}
	if err != nil && errors.As(err, &notFound) {
		a.v.AddConfigPath("./config")
		a.v.SetConfigName("dsconv")
		err = a.v.ReadInConfig()
	}

	// The config file is optional.
	if err != nil && !errors.As(err, &notFound) {
		_, _ = fmt.Fprintln(stderr, "Ignoring config file:", err)
	}
	return nil
}

// newLogger returns a logger writing to w at the given level, as text or JSON records.
func newLogger(w io.Writer, level, format string) (*slog.Logger, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.TrimSpace(level))); err != nil {
		return nil, fmt.Errorf("invalid log level %q (expected debug|info|warn|error)", level)
	}
	opts := &slog.HandlerOptions{Level: l}

	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return nil, fmt.Errorf("invalid log format %q (expected text|json)", format)
}
