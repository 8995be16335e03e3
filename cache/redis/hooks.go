package redis

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// logHook surfaces connection and command failures on the store logger.
type logHook struct {
	logger zerolog.Logger
}

var _ redis.Hook = logHook{}

func (h logHook) DialHook(next redis.DialHook) redis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		conn, err := next(ctx, network, addr)
		if err != nil {
			h.logger.Error().Err(err).Str("addr", addr).Msg("redis dial failed")
			return nil, err
		}
		h.logger.Debug().Str("addr", addr).Msg("redis connection established")
		return conn, nil
	}
}

func (h logHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		err := next(ctx, cmd)
		if reportable(err) {
			h.logger.Warn().Err(err).Str("cmd", cmd.Name()).Msg("redis command failed")
		}
		return err
	}
}

func (h logHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		err := next(ctx, cmds)
		if reportable(err) {
			h.logger.Warn().Err(err).Int("cmds", len(cmds)).Msg("redis pipeline failed")
		}
		return err
	}
}

// reportable filters out replies that are part of normal operation: cache
// misses and the script cache fallback.
func reportable(err error) bool {
	if err == nil || errors.Is(err, redis.Nil) {
		return false
	}
	return !strings.HasPrefix(err.Error(), "NOSCRIPT")
}
