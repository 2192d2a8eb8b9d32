package chat

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRoomKeys(t *testing.T) {
	req := require.New(t)
	req.Equal("ad_123_client_9", AdRoomKey(123, 9))
	req.Equal("publisher_456", SupportRoomKey(456))
}

func TestParseRoomKey(t *testing.T) {
	tests := []struct {
		key     string
		want    JoinRequest
		wantErr bool
	}{
		{key: "ad_123_client_9", want: JoinRequest{Kind: RoomKindAd, AdID: 123, ClientID: 9}},
		{key: "publisher_456", want: JoinRequest{Kind: RoomKindSupport, PublisherID: 456}},
		{key: "ad_123_client_9x", wantErr: true},
		{key: "ad_0_client_9", wantErr: true},
		{key: "ad_-1_client_9", wantErr: true},
		{key: "ad_123", wantErr: true},
		{key: "publisher_", wantErr: true},
		{key: "publisher_abc", wantErr: true},
		{key: "publisher_0", wantErr: true},
		{key: "general", wantErr: true},
		{key: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			req := require.New(t)
			got, err := ParseRoomKey(tt.key)
			if tt.wantErr {
				req.ErrorIs(err, ErrInvalidInput)
				return
			}
			req.NoError(err)
			req.Equal(tt.want, got)
		})
	}
}

func TestParseSupportRoom_RejectsAdRooms(t *testing.T) {
	_, err := ParseSupportRoom("ad_123_client_9")
	require.ErrorIs(t, err, ErrInvalidInput)
}
