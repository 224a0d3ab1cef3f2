// Command tagrouterd runs the tagrouter server without the CLI wrapper. It is
// meant for service managers; `tagrouter serve` is equivalent.
package main

import (
	"context"
	"errors"
	"log"
	"os"
	"strings"

	"tagrouter/internal/config"
	"tagrouter/internal/daemonrun"
)

const configEnv = "TAGROUTER_CONFIG"

func main() {
	path := configPath(os.Args[1:], os.Getenv(configEnv))
	cfg, resolved, _, err := config.Load(path)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	err = daemonrun.Run(context.Background(), cfg, daemonrun.Options{ConfigPath: resolved})
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("tagrouterd: %v", err)
	}
}

// configPath takes the first argument, then the environment, then the
// default lookup.
func configPath(args []string, env string) string {
	if len(args) > 0 && strings.TrimSpace(args[0]) != "" {
		return strings.TrimSpace(args[0])
	}
	return strings.TrimSpace(env)
}
