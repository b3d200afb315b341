// Command hubwatch connects to a hub, logs the messages of the configured
// client methods and stops the connection cleanly on SIGINT or SIGTERM.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/spf13/pflag"

	"gitlab.com/techviking/realtime"
	"gitlab.com/techviking/realtime/config"
	"gitlab.com/techviking/realtime/hubconn"
	"gitlab.com/techviking/realtime/logger"
)

const serviceName = "hubwatch"

type flags struct {
	configFile string
	envFile    string
	url        string
	logLevel   string
	subscribe  []string
	invoke     string
	invokeArgs []string
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags(args []string) (*flags, error) {
	f := &flags{}
	fs := pflag.NewFlagSet(serviceName, pflag.ContinueOnError)
	fs.StringVarP(&f.configFile, "config", "c", "", "path to config.yml")
	fs.StringVar(&f.envFile, "env-file", "", "path to a .env file")
	fs.StringVarP(&f.url, "url", "u", "", "hub url, overrides realtime.url")
	fs.StringVar(&f.logLevel, "hub-log-level", "", "connection log level (trace, debug, information, warning, error, critical, none)")
	fs.StringSliceVarP(&f.subscribe, "subscribe", "s", nil, "client methods to log, overrides realtime.subscribe")
	fs.StringVar(&f.invoke, "invoke", "", "hub method invoked once connected, overrides realtime.invoke_on_connect")
	fs.StringSliceVar(&f.invokeArgs, "invoke-arg", nil, "argument for --invoke; JSON values are sent as JSON")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return f, nil
}

func loadConfig(f *flags) (*config.Config, error) {
	var opts []config.LoaderOption
	if f.configFile != "" {
		opts = append(opts, config.WithConfigFile(f.configFile))
	}
	if f.envFile != "" {
		opts = append(opts, config.WithEnvFile(f.envFile))
	}
	cfg, err := config.Load(serviceName, opts...)
	if err != nil {
		return nil, err
	}

	if f.url != "" {
		cfg.Realtime.URL = f.url
	}
	if f.logLevel != "" {
		cfg.Realtime.LogLevel = f.logLevel
	}
	if len(f.subscribe) > 0 {
		cfg.Realtime.Subscribe = f.subscribe
	}
	if f.invoke != "" {
		cfg.Realtime.InvokeOnConnect = f.invoke
		cfg.Realtime.InvokeArgs = f.invokeArgs
	}
	return cfg, cfg.Validate()
}

func run(args []string) error {
	f, err := parseFlags(args)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(f)
	if err != nil {
		return err
	}

	base := logger.New(&cfg.Logging, cfg.Name)
	logger.SetGlobalLogger(base)
	log := base.WithComponent(serviceName)

	notifier := realtime.NewSignalNotifier()
	defer notifier.Close()

	done := make(chan struct{})
	var once sync.Once
	removeUnload := notifier.OnUnload(func() { once.Do(func() { close(done) }) })
	defer removeUnload()

	hubCfg := cfg.Realtime.HubConfig()
	hubCfg.Logger = base

	rt := cfg.Realtime
	configurator := realtime.NewConfigurator(func(b realtime.Builder, props realtime.Props) realtime.Builder {
		b = b.WithURL(props.ConnectionURL).ConfigureLogging(props.LogLevel.Resolve())
		if rt.Reconnect {
			b = b.WithAutomaticReconnect(rt.ReconnectDelays...)
		}
		return b
	})

	opts := []realtime.Option{realtime.WithLogger(base), realtime.WithStopTimeout(rt.StopTimeout)}
	provider := realtime.NewProvider(hubconn.Factory(hubCfg), realtime.Props{
		ConnectionURL: rt.URL,
		Configurator:  configurator,
		LogLevel:      rt.ConnectionLogLevel(),
		OnConnected: func(conn realtime.HubConnection) {
			log.Info("connected", logger.Fields(logger.FieldState, string(conn.State())))
		},
		OnError: func(err error) {
			log.Error("connection failed", logger.ErrorFields("start", err))
		},
		OnClose: func(err error) {
			log.Warn("connection closed", logger.ErrorFields("close", err))
		},
		OnReconnecting: func(err error) {
			log.Warn("reconnecting", logger.ErrorFields("reconnect", err))
		},
		OnReconnected: func(id string) {
			log.Info("reconnected", logger.Fields("connection_id", id))
		},
	}, opts...)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), rt.StopTimeout)
		defer cancel()
		if err := provider.Close(ctx); err != nil {
			log.Warn("closing provider", logger.ErrorFields("close", err))
		}
	}()

	if rt.URL == "" {
		log.Warn("no hub url configured, waiting for shutdown")
	}

	for _, method := range rt.Subscribe {
		sub := realtime.Subscribe(provider, method, messageLogger(log, method))
		defer sub.Close()
	}

	if rt.InvokeOnConnect != "" {
		inv := realtime.NewInvoke[json.RawMessage](provider, rt.InvokeOnConnect, invokeArgs(rt.InvokeArgs), opts...)
		defer inv.Close()
		stop := inv.Watch(resultLogger(log, rt.InvokeOnConnect))
		defer stop()
	}

	guard := realtime.CloseBeforeUnload(provider, notifier, opts...)
	defer guard.Close()

	<-done
	log.Info("shutting down")
	return nil
}

func messageLogger(log *logger.Logger, method string) *realtime.Handler {
	return realtime.NewHandler(func(args ...json.RawMessage) {
		log.Info("message", logger.Fields(logger.FieldMethod, method, "args", rawStrings(args)))
	})
}

func resultLogger(log *logger.Logger, method string) func(realtime.Result[json.RawMessage]) {
	return func(r realtime.Result[json.RawMessage]) {
		switch {
		case r.Loading:
			return
		case r.Error != nil:
			log.Warn("invoke failed", logger.Fields(logger.FieldMethod, method, logger.FieldError, r.Error.Error()))
		default:
			log.Info("invoke result", logger.Fields(logger.FieldMethod, method, "result", string(r.Data)))
		}
	}
}

// invokeArgs sends arguments that parse as JSON as raw JSON and everything
// else as strings.
func invokeArgs(args []string) []any {
	out := make([]any, 0, len(args))
	for _, a := range args {
		if json.Valid([]byte(a)) {
			out = append(out, json.RawMessage(a))
			continue
		}
		out = append(out, a)
	}
	return out
}

func rawStrings(args []json.RawMessage) []string {
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = string(a)
	}
	return out
}
