package chat

import (
	"context"
	"errors"
	"fmt"
)

// AdDirectory answers "who published this ad". It returns ErrAdNotFound
// (or an error wrapping it) for unknown ads.
type AdDirectory interface {
	PublisherOf(ctx context.Context, adID int64) (int64, error)
}

// ErrAdNotFound lets directory adapters map their own not-found error.
var ErrAdNotFound = errors.New("ad not found")

type Authorizer struct {
	ads AdDirectory
}

func NewAuthorizer(ads AdDirectory) *Authorizer {
	return &Authorizer{ads: ads}
}

// Authorize resolves the room a caller asked for and checks that the caller is
// one of its two legitimate sides.
func (a *Authorizer) Authorize(ctx context.Context, who Identity, req JoinRequest) (Room, Participant, error) {
	switch req.Kind {
	case RoomKindAd:
		return a.authorizeAd(ctx, who, req)
	case RoomKindSupport:
		return authorizeSupport(who, req)
	default:
		return Room{}, Participant{}, fmt.Errorf("%w: unknown room kind %q", ErrInvalidInput, req.Kind)
	}
}

func (a *Authorizer) authorizeAd(ctx context.Context, who Identity, req JoinRequest) (Room, Participant, error) {
	if req.AdID <= 0 {
		return Room{}, Participant{}, fmt.Errorf("%w: ad id required", ErrInvalidInput)
	}

	publisherID, err := a.ads.PublisherOf(ctx, req.AdID)
	if err != nil {
		if errors.Is(err, ErrAdNotFound) {
			return Room{}, Participant{}, fmt.Errorf("%w: ad %d does not exist", ErrPermissionDenied, req.AdID)
		}
		return Room{}, Participant{}, fmt.Errorf("%w: ad directory: %v", ErrStorageUnavailable, err)
	}

	var clientID int64
	role := RoleClient
	switch {
	case who.ID == publisherID:
		// The owner has one room per interested client and must say which.
		if req.ClientID <= 0 || req.ClientID == publisherID {
			return Room{}, Participant{}, fmt.Errorf("%w: publisher must name a client", ErrPermissionDenied)
		}
		clientID = req.ClientID
		role = RolePublisher
	case req.ClientID == 0 || req.ClientID == who.ID:
		clientID = who.ID
	default:
		return Room{}, Participant{}, fmt.Errorf("%w: user %d cannot join room of client %d", ErrPermissionDenied, who.ID, req.ClientID)
	}

	room := Room{
		Key:         AdRoomKey(req.AdID, clientID),
		Kind:        RoomKindAd,
		AdID:        req.AdID,
		PublisherID: publisherID,
		ClientID:    clientID,
	}
	return room, Participant{ID: who.ID, Name: who.Name, Role: role}, nil
}

func authorizeSupport(who Identity, req JoinRequest) (Room, Participant, error) {
	if req.PublisherID <= 0 {
		return Room{}, Participant{}, fmt.Errorf("%w: publisher id required", ErrInvalidInput)
	}

	var role Role
	switch {
	case who.ID == req.PublisherID && who.Role == RolePublisher:
		role = RolePublisher
	case who.Role == RoleAdmin:
		role = RoleAdmin
	default:
		return Room{}, Participant{}, fmt.Errorf("%w: user %d cannot join support room of publisher %d", ErrPermissionDenied, who.ID, req.PublisherID)
	}

	room := Room{
		Key:         SupportRoomKey(req.PublisherID),
		Kind:        RoomKindSupport,
		PublisherID: req.PublisherID,
	}
	return room, Participant{ID: who.ID, Name: who.Name, Role: role}, nil
}
