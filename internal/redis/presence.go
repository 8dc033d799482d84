package redis

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

// PresenceStatus represents a user's online status
type PresenceStatus struct {
	UserID   string    `json:"user_id"`
	IsOnline bool      `json:"is_online"`
	LastSeen time.Time `json:"last_seen"`
}

// PresenceStore tracks which users are currently connected. The stats cache
// intersects its online set against conversation membership for the cheap
// online-users snapshot.
type PresenceStore struct {
	client *goredis.Client
	ttl    time.Duration
}

const (
	presenceKeyPrefix = "presence:"
	presenceOnlineSet = "presence:online"
)

func NewPresenceStore(client *goredis.Client, ttl time.Duration) *PresenceStore {
	if ttl == 0 {
		ttl = 5 * time.Minute
	}
	return &PresenceStore{client: client, ttl: ttl}
}

// SetOnline marks a user as online
func (p *PresenceStore) SetOnline(ctx context.Context, userID uuid.UUID) error {
	now := time.Now()
	status := PresenceStatus{
		UserID:   userID.String(),
		IsOnline: true,
		LastSeen: now,
	}

	pipe := p.client.Pipeline()
	data, _ := json.Marshal(status)
	pipe.Set(ctx, presenceKeyPrefix+userID.String(), data, p.ttl)
	pipe.SAdd(ctx, presenceOnlineSet, userID.String())
	_, err := pipe.Exec(ctx)
	return err
}

// SetOffline marks a user as offline
func (p *PresenceStore) SetOffline(ctx context.Context, userID uuid.UUID) error {
	now := time.Now()
	status := PresenceStatus{
		UserID:   userID.String(),
		IsOnline: false,
		LastSeen: now,
	}

	pipe := p.client.Pipeline()
	data, _ := json.Marshal(status)
	// Keep offline status around for last-seen queries.
	pipe.Set(ctx, presenceKeyPrefix+userID.String(), data, 24*time.Hour)
	pipe.SRem(ctx, presenceOnlineSet, userID.String())
	_, err := pipe.Exec(ctx)
	return err
}

// Heartbeat refreshes the presence TTL to prevent timeout.
func (p *PresenceStore) Heartbeat(ctx context.Context, userID uuid.UUID) error {
	return p.client.Expire(ctx, presenceKeyPrefix+userID.String(), p.ttl).Err()
}

// IsOnline checks if a user is online
func (p *PresenceStore) IsOnline(ctx context.Context, userID uuid.UUID) (bool, error) {
	return p.client.SIsMember(ctx, presenceOnlineSet, userID.String()).Result()
}

// GetOnlineUsers returns all online user IDs
func (p *PresenceStore) GetOnlineUsers(ctx context.Context) ([]uuid.UUID, error) {
	members, err := p.client.SMembers(ctx, presenceOnlineSet).Result()
	if err != nil {
		return nil, err
	}
	ids := make([]uuid.UUID, 0, len(members))
	for _, m := range members {
		id, err := uuid.Parse(m)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// OnlineAmong intersects the online set against the given member ids. One
// SMIsMember round trip, no scan.
func (p *PresenceStore) OnlineAmong(ctx context.Context, memberIDs []uuid.UUID) ([]uuid.UUID, error) {
	if len(memberIDs) == 0 {
		return nil, nil
	}
	members := make([]interface{}, len(memberIDs))
	for i, id := range memberIDs {
		members[i] = id.String()
	}
	flags, err := p.client.SMIsMember(ctx, presenceOnlineSet, members...).Result()
	if err != nil {
		return nil, err
	}
	var online []uuid.UUID
	for i, ok := range flags {
		if ok {
			online = append(online, memberIDs[i])
		}
	}
	return online, nil
}
