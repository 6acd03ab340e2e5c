package main

import (
	"context"
	"flag"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/WhileEndless/go-pingback/pkg/client"
)

func fetchCmd(fs *flag.FlagSet) func(context.Context, []string, env) error {
	timeout := fs.Duration("timeout", 0, "socket timeout (default 2s)")
	insecure := fs.Bool("insecure", false, "skip TLS certificate verification")
	head := fs.Bool("head", false, "print only the status line and headers")

	return func(ctx context.Context, args []string, e env) error {
		if len(args) != 1 {
			return usageErrorf("expected exactly one URL")
		}
		o, err := client.New(client.Options{
			Timeout:     *timeout,
			InsecureTLS: *insecure,
			Logger:      e.logger,
		})
		if err != nil {
			return err
		}

		resp, err := o.Get(ctx, args[0])
		if err != nil {
			return err
		}
		defer resp.Close()

		fmt.Fprintf(e.stdout, "%s %d %s\n", resp.Proto, resp.StatusCode, resp.Status)
		for _, f := range resp.Header.Fields() {
			fmt.Fprintf(e.stdout, "%s: %s\n", f.Name, f.Value)
		}
		fmt.Fprintln(e.stdout)
		e.logger.Debug("fetched",
			zap.String("url", resp.URL),
			zap.String("remote", resp.ConnectedAddr),
			zap.String("tls", resp.TLSVersion),
			zap.Stringer("timing", resp.Metrics))

		if *head {
			return nil
		}
		_, err = io.Copy(e.stdout, resp.Body)
		return err
	}
}
