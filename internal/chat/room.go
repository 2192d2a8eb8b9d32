package chat

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

type RoomKind string

const (
	RoomKindAd      RoomKind = "ad"
	RoomKindSupport RoomKind = "support"
)

// Room is a conversation. Its Key is derived from its participants, so the
// same pair always lands in the same room.
type Room struct {
	Key         string    `json:"key"`
	Kind        RoomKind  `json:"kind"`
	AdID        int64     `json:"ad_id,omitempty"`
	PublisherID int64     `json:"publisher_id"`
	ClientID    int64     `json:"client_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// JoinRequest names a room from the caller's point of view. ClientID is only
// meaningful for ad-chat and may be zero when the caller is the client.
type JoinRequest struct {
	Kind        RoomKind
	AdID        int64
	ClientID    int64
	PublisherID int64
}

const supportPrefix = "publisher_"

func AdRoomKey(adID, clientID int64) string {
	return fmt.Sprintf("ad_%d_client_%d", adID, clientID)
}

func SupportRoomKey(publisherID int64) string {
	return supportPrefix + strconv.FormatInt(publisherID, 10)
}

// ParseSupportRoom reads a support room name such as "publisher_456".
func ParseSupportRoom(name string) (JoinRequest, error) {
	raw, ok := strings.CutPrefix(name, supportPrefix)
	if !ok {
		return JoinRequest{}, fmt.Errorf("%w: room %q is not a support room", ErrInvalidInput, name)
	}
	id, err := parseID(raw)
	if err != nil {
		return JoinRequest{}, fmt.Errorf("%w: room %q: %v", ErrInvalidInput, name, err)
	}
	return JoinRequest{Kind: RoomKindSupport, PublisherID: id}, nil
}

// ParseRoomKey turns any room key back into the request that produced it.
func ParseRoomKey(key string) (JoinRequest, error) {
	if strings.HasPrefix(key, supportPrefix) {
		return ParseSupportRoom(key)
	}

	var adID, clientID int64
	n, err := fmt.Sscanf(key, "ad_%d_client_%d", &adID, &clientID)
	if err != nil || n != 2 || AdRoomKey(adID, clientID) != key || adID <= 0 || clientID <= 0 {
		return JoinRequest{}, fmt.Errorf("%w: unknown room %q", ErrInvalidInput, key)
	}
	return JoinRequest{Kind: RoomKindAd, AdID: adID, ClientID: clientID}, nil
}

func parseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, err
	}
	if id <= 0 {
		return 0, fmt.Errorf("id must be positive, got %d", id)
	}
	return id, nil
}
