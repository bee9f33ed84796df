package databyte

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/databyte/databyte/mlog"
)

var cid atomic.Int64

func init() {
	cid.Store(time.Now().UnixMilli())
}

// Cid returns a new unique id to be used for commands and transactions in logging.
func Cid() int64 {
	return cid.Add(1)
}

// CidContext returns a context with a new cid, picked up by mlog.Log.WithContext.
func CidContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, mlog.CidKey, Cid())
}
