package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/WhileEndless/go-pingback/pkg/client"
	"github.com/WhileEndless/go-pingback/pkg/config"
	"github.com/WhileEndless/go-pingback/pkg/constants"
	"github.com/WhileEndless/go-pingback/pkg/excerpt"
	"github.com/WhileEndless/go-pingback/pkg/pingback"
)

func sendCmd(fs *flag.FlagSet) func(context.Context, []string, env) error {
	configPath := fs.String("config", "", "config file (default ~/.config/pingback/config.toml)")
	all := fs.Bool("all", false, "fetch SOURCE and ping every link in it")

	return func(ctx context.Context, args []string, e env) error {
		cfg, err := config.Load(*configPath)
		if err != nil {
			return err
		}
		o, err := newOpener(cfg, e.logger, nil)
		if err != nil {
			return err
		}
		c := pingback.NewClient(o, e.logger)

		if *all {
			if len(args) != 1 {
				return usageErrorf("-all expects exactly one SOURCE")
			}
			return sendAll(ctx, c, o, args[0], e)
		}

		if len(args) != 2 {
			return usageErrorf("expected SOURCE and TARGET")
		}
		reply, err := c.Send(ctx, args[0], args[1])
		if err != nil {
			return describe(err)
		}
		fmt.Fprintln(e.stdout, reply)
		return nil
	}
}

func sendAll(ctx context.Context, c *pingback.Client, o *client.Opener, source string, e env) error {
	resp, err := o.Get(ctx, source)
	if err != nil {
		return fmt.Errorf("fetch source: %w", err)
	}
	defer resp.Close()
	if !resp.OK() {
		return fmt.Errorf("fetch source: %d %s", resp.StatusCode, resp.Status)
	}
	doc, err := excerpt.DecodeHTML(io.LimitReader(resp.Body, constants.MaxExcerptSource), resp.Header.Get("Content-Type"))
	if err != nil {
		return fmt.Errorf("read source: %w", err)
	}

	results := c.SendAll(ctx, source, doc)
	failed := 0
	for _, r := range results {
		var pe *pingback.Error
		switch {
		case r.Err == nil:
			fmt.Fprintf(e.stdout, "ok\t%s\n", r.Target)
		case errors.As(r.Err, &pe) && pe.IgnoreSilently():
			fmt.Fprintf(e.stdout, "skip\t%s\t%s\n", r.Target, pe.Message())
		default:
			failed++
			fmt.Fprintf(e.stdout, "fail\t%s\t%v\n", r.Target, describe(r.Err))
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d pingbacks failed", failed, len(results))
	}
	return nil
}

// describe turns a pingback error into the message shown to the user.
func describe(err error) error {
	var pe *pingback.Error
	if errors.As(err, &pe) {
		return fmt.Errorf("%s (fault %d)", pe.Message(), pe.Code)
	}
	return err
}

func newOpener(cfg config.Config, logger *zap.Logger, d client.Dispatcher) (*client.Opener, error) {
	return client.New(client.Options{
		Timeout:     cfg.Timeout,
		InsecureTLS: cfg.InsecureTLS,
		TLSProfile:  cfg.TLSProfile,
		BaseURL:     cfg.BlogURL,
		Dispatcher:  d,
		UserAgent:   cfg.UserAgent,
		Logger:      logger,
	})
}
