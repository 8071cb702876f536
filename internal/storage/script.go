package storage

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/go-redis/redis/v8"

	"rate-limit-engine/internal/domain"
)

// luaScript carrega o script uma vez por conexão e executa via EVALSHA.
// Se o servidor perdeu o cache de scripts (restart, SCRIPT FLUSH) o script é
// recarregado e a chamada repetida uma única vez.
type luaScript struct {
	src string

	mu  sync.Mutex
	sha string
}

func newLuaScript(src string) *luaScript {
	return &luaScript{src: src}
}

func (s *luaScript) load(ctx context.Context, client redis.Cmdable, force bool) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sha != "" && !force {
		return s.sha, nil
	}

	sha, err := client.ScriptLoad(ctx, s.src).Result()
	if err != nil {
		return "", fmt.Errorf("failed to load script: %w", err)
	}
	s.sha = sha
	return sha, nil
}

// Run executa o script com no máximo uma recarga
func (s *luaScript) Run(ctx context.Context, client redis.Cmdable, keys []string, args ...interface{}) (interface{}, error) {
	sha, err := s.load(ctx, client, false)
	if err != nil {
		return nil, err
	}

	result, err := client.EvalSha(ctx, sha, keys, args...).Result()
	if err == nil || !isNoScript(err) {
		return result, err
	}

	sha, err = s.load(ctx, client, true)
	if err != nil {
		return nil, err
	}

	result, err = client.EvalSha(ctx, sha, keys, args...).Result()
	if err != nil && isNoScript(err) {
		return nil, fmt.Errorf("%w: %v", domain.ErrScriptNotFound, err)
	}
	return result, err
}

func isNoScript(err error) bool {
	return strings.HasPrefix(err.Error(), "NOSCRIPT")
}
