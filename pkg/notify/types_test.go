package notify_test

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sanushilshad/vitis-sub000/pkg/notify"
)

func TestIdentity_Key(t *testing.T) {
	testCases := []struct {
		name     string
		identity notify.Identity
		want     notify.ConnectionKey
	}{
		{
			name:     "all fields present",
			identity: notify.Identity{UserID: "u1", TenantID: "t1", DeviceID: "d1"},
			want:     "u1#t1#d1",
		},
		{
			name:     "missing tenant",
			identity: notify.Identity{UserID: "u1", DeviceID: "d1"},
			want:     "u1#NA#d1",
		},
		{
			name:     "only user",
			identity: notify.Identity{UserID: "u1"},
			want:     "u1#NA#NA",
		},
		{
			name:     "empty tuple",
			identity: notify.Identity{},
			want:     "NA#NA#NA",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.identity.Key())
		})
	}
}

func TestIdentityFromHeaders(t *testing.T) {
	t.Run("extracts the full tuple", func(t *testing.T) {
		h := http.Header{}
		h.Set(notify.HeaderUserID, "u1")
		h.Set(notify.HeaderTenantID, "t1")
		h.Set(notify.HeaderDeviceID, "d1")

		id, err := notify.IdentityFromHeaders(h)
		require.NoError(t, err)
		assert.Equal(t, notify.Identity{UserID: "u1", TenantID: "t1", DeviceID: "d1"}, id)
	})

	t.Run("rejects a fully empty tuple", func(t *testing.T) {
		_, err := notify.IdentityFromHeaders(http.Header{})
		require.Error(t, err)
	})
}

func TestNewEnvelope(t *testing.T) {
	env := notify.NewEnvelope("u1#NA#d1", notify.ActionLeaveApproved, json.RawMessage(`{"msg":"hello"}`))

	assert.NotEmpty(t, env.ID)
	assert.Equal(t, notify.ConnectionKey("u1#NA#d1"), env.Key)
	assert.Equal(t, notify.ActionLeaveApproved, env.Action)
	assert.False(t, env.CreatedOn.IsZero())

	// IDs are unique per envelope.
	other := notify.NewEnvelope("u1#NA#d1", notify.ActionLeaveApproved, nil)
	assert.NotEqual(t, env.ID, other.ID)
}

func TestEnvelope_JSONRoundTrip(t *testing.T) {
	env := notify.NewEnvelope("u2#t2#NA", notify.ActionAnnouncement, json.RawMessage(`{"title":"maintenance"}`))

	data, err := json.Marshal(env)
	require.NoError(t, err)

	var decoded notify.Envelope
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, env.ID, decoded.ID)
	assert.Equal(t, env.Key, decoded.Key)
	assert.Equal(t, env.Action, decoded.Action)
	assert.JSONEq(t, string(env.Payload), string(decoded.Payload))
}

func TestParseUrgency(t *testing.T) {
	u, err := notify.ParseUrgency("immediate")
	require.NoError(t, err)
	assert.Equal(t, notify.Immediate, u)

	u, err = notify.ParseUrgency("deferred")
	require.NoError(t, err)
	assert.Equal(t, notify.Deferred, u)

	// Missing urgency falls back to the durable path.
	u, err = notify.ParseUrgency("")
	require.NoError(t, err)
	assert.Equal(t, notify.Deferred, u)

	_, err = notify.ParseUrgency("sometime")
	require.Error(t, err)
}
