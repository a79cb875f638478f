// Command ws-load holds many stream-service sockets open and counts the
// change frames they receive.
package main

import (
	"context"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/Rebelein/Refu-Lager-Vserver-sub001/domain"
)

type config struct {
	StreamURL   string
	Channels    string
	Connections int
	Duration    time.Duration
	Token       string
}

type stats struct {
	attempts  uint64
	failures  uint64
	frames    uint64
	malformed uint64
}

func (s *stats) failureRate() float64 {
	attempts := atomic.LoadUint64(&s.attempts)
	if attempts == 0 {
		return 0
	}
	return float64(atomic.LoadUint64(&s.failures)) / float64(attempts)
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	i, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return def
	}
	return i
}

func configFromEnv() config {
	return config{
		StreamURL:   getenv("STREAM_URL", "ws://localhost:9000/ws"),
		Channels:    getenv("WS_CHANNELS", "articles,machines,orders"),
		Connections: getenvInt("WS_CONNECTIONS", 200),
		Duration:    time.Duration(getenvInt("DURATION_SEC", 120)) * time.Second,
		Token:       os.Getenv("TEST_BEARER"),
	}
}

func (c config) dialURL() (string, error) {
	u, err := url.Parse(c.StreamURL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	if c.Channels != "" {
		q.Set("channels", c.Channels)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func main() {
	if os.Getenv("DEBUG") == "true" {
		log.SetLevel(log.DebugLevel)
	}
	cfg := configFromEnv()
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Duration)
	defer cancel()

	st, err := run(ctx, cfg)
	if err != nil {
		log.Fatal(err)
	}
	log.WithFields(log.Fields{
		"connections":         cfg.Connections,
		"duration_sec":        int(cfg.Duration.Seconds()),
		"frames_received":     atomic.LoadUint64(&st.frames),
		"malformed_frames":    atomic.LoadUint64(&st.malformed),
		"connection_failures": atomic.LoadUint64(&st.failures),
	}).Info("load run finished")
	if atomic.LoadUint64(&st.frames) == 0 || st.failureRate() > 0.01 {
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config) (*stats, error) {
	target, err := cfg.dialURL()
	if err != nil {
		return nil, err
	}
	header := http.Header{}
	if cfg.Token != "" {
		header.Set("Authorization", "Bearer "+cfg.Token)
	}

	st := &stats{}
	var wg sync.WaitGroup
	wg.Add(cfg.Connections)
	for i := 0; i < cfg.Connections; i++ {
		go func() {
			defer wg.Done()
			hold(ctx, target, header, st)
		}()
	}
	wg.Wait()
	return st, nil
}

// hold keeps one socket open until ctx ends, redialing with backoff.
func hold(ctx context.Context, target string, header http.Header, st *stats) {
	backoff := time.Second
	wait := func() {
		atomic.AddUint64(&st.failures, 1)
		select {
		case <-ctx.Done():
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, 5*time.Second)
	}
	for ctx.Err() == nil {
		atomic.AddUint64(&st.attempts, 1)
		conn, resp, err := websocket.DefaultDialer.DialContext(ctx, target, header)
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.WithError(err).Debug("dial")
			wait()
			continue
		}
		backoff = time.Second

		stop := context.AfterFunc(ctx, func() { conn.Close() })
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				break
			}
			var f domain.Frame
			if err := sonic.Unmarshal(data, &f); err != nil || f.Event == "" {
				atomic.AddUint64(&st.malformed, 1)
				continue
			}
			atomic.AddUint64(&st.frames, 1)
		}
		stop()
		conn.Close()
		if ctx.Err() != nil {
			return
		}
		wait()
	}
}
