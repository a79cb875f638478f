package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bytedance/sonic"
	"github.com/docopt/docopt-go"
	log "github.com/sirupsen/logrus"

	"github.com/Rebelein/Refu-Lager-Vserver-sub001/syncclient"
)

const LagerCtlVersion = "0.1.0"

const usage = `Lager control.

The default urls are:
    api_url: http://localhost:8080
    stream_url: derived from api_url, e.g. ws://localhost:8080/ws

The token defaults to $LAGER_TOKEN.

Usage:
    lagerctl collections [--api_url=<api_url>] [--token=<token>]
    lagerctl list <collection> [--api_url=<api_url>] [--token=<token>]
    lagerctl watch <collection> [--api_url=<api_url>] [--stream_url=<stream_url>]
        [--token=<token>]
        [--timeout=<timeout>]

Options:
    -h --help                  Show this screen.
    --version                  Show version.
    --api_url=<api_url>        Base url of the lager api [default: http://localhost:8080].
    --stream_url=<stream_url>  Socket url of the stream service.
    --token=<token>            Bearer token.
    --timeout=<timeout>        Stop watching after this duration, e.g. 30s.`

func main() {
	opts, err := docopt.ParseArgs(usage, os.Args[1:], LagerCtlVersion)
	if err != nil {
		panic(err)
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, opts, os.Stdout); err != nil {
		log.Fatal(err)
	}
}

func run(ctx context.Context, opts docopt.Opts, out io.Writer) error {
	client, err := newClient(opts)
	if err != nil {
		return err
	}
	defer client.Close()

	if collections_, _ := opts.Bool("collections"); collections_ {
		return collections(ctx, client, out)
	} else if list_, _ := opts.Bool("list"); list_ {
		collection, _ := opts.String("<collection>")
		return list(ctx, client, collection, out)
	} else if watch_, _ := opts.Bool("watch"); watch_ {
		collection, _ := opts.String("<collection>")
		if timeout, err := opts.String("--timeout"); err == nil && timeout != "" {
			d, err := time.ParseDuration(timeout)
			if err != nil {
				return fmt.Errorf("invalid timeout: %w", err)
			}
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, d)
			defer cancel()
		}
		return watch(ctx, client, collection, out)
	}
	return nil
}

func newClient(opts docopt.Opts) (*syncclient.Client, error) {
	apiURL, _ := opts.String("--api_url")
	token, err := opts.String("--token")
	if err != nil || token == "" {
		token = os.Getenv("LAGER_TOKEN")
	}
	clientOpts := []syncclient.Option{syncclient.WithToken(token)}
	if streamURL, err := opts.String("--stream_url"); err == nil && streamURL != "" {
		clientOpts = append(clientOpts, syncclient.WithStreamURL(streamURL))
	}
	return syncclient.New(apiURL, clientOpts...)
}

func collections(ctx context.Context, client *syncclient.Client, out io.Writer) error {
	infos, err := client.Collections(ctx)
	if err != nil {
		return err
	}
	for _, info := range infos {
		fmt.Fprintln(out, info.Name)
	}
	return nil
}

func list(ctx context.Context, client *syncclient.Client, collection string, out io.Writer) error {
	docs, err := client.List(ctx, collection)
	if err != nil {
		return err
	}
	return printJSON(out, docs)
}

// watch prints the collection every time it changes until ctx is done.
func watch(ctx context.Context, client *syncclient.Client, collection string, out io.Writer) error {
	if err := client.Connect(ctx); err != nil {
		log.WithError(err).Warn("stream unavailable, showing snapshot only")
	}
	sub, err := client.Subscribe(ctx, collection)
	if err != nil {
		return err
	}
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return nil
		case _, ok := <-sub.Updates():
			if !ok {
				return nil
			}
			st := sub.State()
			switch {
			case st.IsLoading:
				continue
			case st.Err != nil:
				log.WithError(st.Err).Warn("fetch failed")
			default:
				if err := printJSON(out, st.Data); err != nil {
					return err
				}
			}
		}
	}
}

func printJSON(out io.Writer, v any) error {
	data, err := sonic.ConfigStd.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, string(data))
	return err
}
