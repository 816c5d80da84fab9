package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"

	"amaterasu"
)

var (
	success = color.New(color.FgHiMagenta).Sprint("[+]")
	info    = color.New(color.FgHiMagenta).Sprint("[?]")
	fail    = color.New(color.FgRed).Sprint("[-]")
)

func main() {
	var configPath string

	root := &cobra.Command{
		Use:   "amaterasu",
		Short: "Connect a gateway session and echo its event stream",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), configPath)
		},
	}
	root.Flags().StringVarP(&configPath, "config", "c", "./data/config.json", "path to the JSON config file")

	if err := root.Execute(); err != nil {
		fmt.Printf("%s %v\n", fail, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	level := slog.LevelInfo
	if cfg.Verbose {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	rest := amaterasu.NewRestClient(cfg.Token, amaterasu.WithRestLogger(log))

	opts := []amaterasu.Option{
		amaterasu.WithLogger(log),
		amaterasu.WithIntents(cfg.Intents),
		amaterasu.WithRestClient(rest),
	}
	if cfg.GatewayURL != "" {
		opts = append(opts, amaterasu.WithGatewayURL(cfg.GatewayURL))
	}
	session := amaterasu.New(cfg.Token, opts...)

	session.On(amaterasu.EventReady, func(e *amaterasu.Event) {
		r, ok := e.Struct.(*amaterasu.Ready)
		if !ok {
			return
		}
		fmt.Printf("%s Ready as %s#%s across %d guilds\n",
			success, r.User.Username, r.User.Discriminator, len(r.Guilds))

		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := session.UpdateStatus(sctx, cfg.Status); err != nil {
			log.Warn("status update failed", "err", err)
		}
	})

	session.On(amaterasu.EventMessageCreate, func(e *amaterasu.Event) {
		var m amaterasu.Message
		if err := jsoniter.Unmarshal(e.RawData, &m); err != nil || m.Author == nil {
			return
		}
		fmt.Printf("%s [%s] %s: %s\n", info, m.ChannelID, m.Author.Username, m.Content)
	})

	session.On(amaterasu.EventDisconnect, func(e *amaterasu.Event) {
		d, ok := e.Struct.(*amaterasu.Disconnect)
		if !ok {
			return
		}
		if d.Reconnect {
			fmt.Printf("%s Connection lost, reconnecting...\n", info)
		} else {
			fmt.Printf("%s Connection closed: %s\n", fail, d.Reason)
		}
	})

	if err := session.Connect(ctx); err != nil {
		return err
	}

	// A config rewrite bounces the session so a changed status or
	// gateway URL is picked up. A changed token needs a process restart.
	bounced := make(chan struct{}, 1)
	w, err := watchConfig(configPath, func() {
		next, err := loadConfig(configPath)
		if err != nil {
			fmt.Printf("%s Ignoring broken config rewrite: %v\n", fail, err)
			return
		}
		if next.Token != cfg.Token {
			fmt.Printf("%s Token changed, restart to apply\n", info)
			return
		}
		cfg = next

		fmt.Printf("%s Config changed, bouncing session\n", info)
		select {
		case bounced <- struct{}{}:
		default:
		}
		dctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = session.Disconnect(dctx, "config reload")
		if err := session.Connect(context.Background()); err != nil {
			fmt.Printf("%s Reconnect after reload failed: %v\n", fail, err)
		}
	})
	if err != nil {
		log.Warn("config watch unavailable", "err", err)
	} else {
		defer w.Close()
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	for {
		waitErr := make(chan error, 1)
		go func() { waitErr <- session.Wait(context.Background()) }()

		select {
		case <-sig:
			fmt.Printf("\n%s Shutting down\n", info)
			dctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return session.Disconnect(dctx, "shutdown")
		case <-bounced:
			continue
		case err := <-waitErr:
			select {
			case <-bounced:
				continue
			default:
			}
			if err != nil {
				return fmt.Errorf("session ended: %w", err)
			}
			return nil
		}
	}
}
