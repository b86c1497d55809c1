package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"sterilization-gateway/internal/models"
)

// Provider delivers one notification to a contact point.
type Provider interface {
	Send(ctx context.Context, n models.Notification, cp models.ContactPoint) error
}

func configString(cp models.ContactPoint, key string) string {
	switch v := cp.Configuration[key].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

func configInt(cp models.ContactPoint, key string) (int64, error) {
	switch v := cp.Configuration[key].(type) {
	case float64:
		return int64(v), nil
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case json.Number:
		return v.Int64()
	case string:
		return strconv.ParseInt(v, 10, 64)
	case nil:
		return 0, fmt.Errorf("missing %s", key)
	default:
		return 0, fmt.Errorf("unexpected %s value %v", key, v)
	}
}
