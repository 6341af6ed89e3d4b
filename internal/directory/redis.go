package directory

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"vozconnect/pkg/constants"
	"vozconnect/pkg/errors"
)

// Repository resolves user ids to display names from the Redis-backed
// user directory maintained by the account service. This package only
// reads; writes happen at registration and profile-update time elsewhere.
type Repository struct {
	client *redis.Client
}

// NewRepository creates a directory Repository on an existing Redis client.
func NewRepository(client *redis.Client) *Repository {
	return &Repository{client: client}
}

func nameKey(userID string) string {
	return fmt.Sprintf("directory:name:%s", userID)
}

// DisplayName returns the display name registered for userID.
func (r *Repository) DisplayName(ctx context.Context, userID string) (string, error) {
	name, err := r.client.Get(ctx, nameKey(userID)).Result()
	if err != nil {
		if err == redis.Nil {
			return "", errors.UserNotFoundError()
		}
		return "", errors.Wrap(errors.ErrCodeInternal, "failed to look up display name", err)
	}
	return name, nil
}

// SetDisplayName registers or replaces the display name for userID.
// No expiration; the mapping lives as long as the account.
func (r *Repository) SetDisplayName(ctx context.Context, userID, name string) error {
	if name == "" {
		return errors.InvalidInputError("display name must not be empty")
	}
	if len(name) > constants.MaxDisplayNameLength {
		return errors.InvalidInputError(
			fmt.Sprintf("display name exceeds %d characters", constants.MaxDisplayNameLength))
	}
	if err := r.client.Set(ctx, nameKey(userID), name, 0).Err(); err != nil {
		return errors.Wrap(errors.ErrCodeInternal, "failed to set display name", err)
	}
	return nil
}

// DeleteDisplayName removes the mapping, used on account deletion.
func (r *Repository) DeleteDisplayName(ctx context.Context, userID string) error {
	if err := r.client.Del(ctx, nameKey(userID)).Err(); err != nil {
		return errors.Wrap(errors.ErrCodeInternal, "failed to delete display name", err)
	}
	return nil
}
