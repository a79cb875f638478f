// Command gen-token signs HS256 tokens accepted by the services when they run
// with AUTH0_TEST_MODE.
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"

	"github.com/Rebelein/Refu-Lager-Vserver-sub001/auth"
)

func main() {
	var (
		count  = flag.Int("count", 1, "number of tokens to generate")
		prefix = flag.String("prefix", "lager-user", "prefix for generated subjects when count > 1")
		start  = flag.Int("start", 1, "starting index for generated subjects when count > 1")
		ttl    = flag.Duration("ttl", time.Hour, "token lifetime")
		output = flag.String("output", "", "file to write generated tokens as a JSON array")
	)
	flag.Parse()

	secret := os.Getenv("TEST_JWT_SECRET")
	if secret == "" {
		secret = "testsecret"
	}
	subjects, err := subjectsFor(*count, *prefix, *start, flag.Args())
	if err != nil {
		log.Fatal(err)
	}
	tokens, err := generateTokens([]byte(secret), subjects, *ttl)
	if err != nil {
		log.Fatalf("generate token: %v", err)
	}
	if *output != "" {
		if err := writeTokens(*output, tokens); err != nil {
			log.Fatalf("write tokens: %v", err)
		}
	}
	fmt.Print(tokens[0])
}

func subjectsFor(count int, prefix string, start int, args []string) ([]string, error) {
	switch {
	case count < 1:
		return nil, fmt.Errorf("count must be at least 1")
	case start < 1:
		return nil, fmt.Errorf("start index must be at least 1")
	case len(args) > 0 && count > 1:
		return nil, fmt.Errorf("explicit subject cannot be combined with count > 1")
	case len(args) > 0:
		return []string{args[0]}, nil
	case count == 1:
		return []string{prefix}, nil
	}
	out := make([]string, count)
	for i := range out {
		out[i] = fmt.Sprintf("%s-%d", prefix, start+i)
	}
	return out, nil
}

func generateTokens(secret []byte, subjects []string, ttl time.Duration) ([]string, error) {
	tokens := make([]string, len(subjects))
	for i, sub := range subjects {
		tok, err := auth.TestToken(secret, sub, ttl)
		if err != nil {
			return nil, err
		}
		tokens[i] = tok
	}
	return tokens, nil
}

func writeTokens(path string, tokens []string) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	data, err := sonic.Marshal(tokens)
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o600)
}
