package redis

import (
	"context"
	"sync"

	"github.com/redis/rueidis"

	"github.com/kailas-cloud/credex/internal/db"
)

// scripts caches compiled Lua handles so EVALSHA is reused across calls.
var scripts sync.Map // script source -> *rueidis.Lua

func luaFor(script string) *rueidis.Lua {
	if l, ok := scripts.Load(script); ok {
		return l.(*rueidis.Lua)
	}
	l := rueidis.NewLuaScript(script)
	actual, _ := scripts.LoadOrStore(script, l)
	return actual.(*rueidis.Lua)
}

// EvalScript executes a Lua script atomically on the server. The script runs
// as a single uninterruptible step; rueidis handles EVALSHA with EVAL
// fallback on NOSCRIPT.
func (s *Store) EvalScript(ctx context.Context, script string, keys, args []string) ([]string, error) {
	res, err := luaFor(script).Exec(ctx, s.client, keys, args).AsStrSlice()
	if err != nil {
		return nil, &db.Error{Op: db.OpEval, Err: err}
	}
	return res, nil
}
