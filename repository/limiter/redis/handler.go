package redis

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/desain-gratis/order-notifier/repository/limiter"
	types "github.com/desain-gratis/order-notifier/types/http"
)

const keyPrefix = "order-notifier|limiter|"

var _ limiter.Repository = &defaultHandler{}

type defaultHandler struct {
	client redis.UniversalClient
}

func New(client redis.UniversalClient) *defaultHandler {
	return &defaultHandler{
		client: client,
	}
}

// TODO: move INCR + EXPIRE into a single Lua script so a crash between them cannot leave a key without TTL
func (d *defaultHandler) Hit(ctx context.Context, key string, window time.Duration) (counter int, err *types.CommonError) {
	combinedKey := keyPrefix + key

	res := d.client.Incr(ctx, combinedKey)
	if res.Err() != nil {
		return 0, &types.CommonError{
			Errors: []types.Error{
				{
					Code:    "FAILED_TO_INCREMENT",
					Message: res.Err().Error(),
				},
			},
		}
	}

	if res.Val() == 1 {
		exp := d.client.Expire(ctx, combinedKey, window)
		if exp.Err() != nil {
			return 0, &types.CommonError{
				Errors: []types.Error{
					{
						Code:    "FAILED_TO_EXPIRE",
						Message: exp.Err().Error(),
					},
				},
			}
		}
	}

	return int(res.Val()), nil
}
