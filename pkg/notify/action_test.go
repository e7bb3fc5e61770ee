package notify_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sanushilshad/vitis-sub000/pkg/notify"
)

func TestActionType_Serialization(t *testing.T) {
	t.Run("known actions round-trip", func(t *testing.T) {
		for _, action := range []notify.ActionType{
			notify.ActionLeaveRequested,
			notify.ActionLeaveApproved,
			notify.ActionLeaveRejected,
			notify.ActionAnnouncement,
			notify.ActionSystem,
		} {
			data, err := json.Marshal(action)
			require.NoError(t, err)

			var decoded notify.ActionType
			require.NoError(t, json.Unmarshal(data, &decoded))
			assert.Equal(t, action, decoded)
		}
	})

	t.Run("unknown tag is a decode error", func(t *testing.T) {
		var decoded notify.ActionType
		err := json.Unmarshal([]byte(`"leave.escalated"`), &decoded)
		require.Error(t, err)
	})

	t.Run("unknown value is a marshal error", func(t *testing.T) {
		_, err := json.Marshal(notify.ActionType(99))
		require.Error(t, err)
	})
}

func TestParseActionType(t *testing.T) {
	a, err := notify.ParseActionType("leave.requested")
	require.NoError(t, err)
	assert.Equal(t, notify.ActionLeaveRequested, a)
	assert.Equal(t, "leave.requested", a.String())

	_, err = notify.ParseActionType("")
	require.Error(t, err)
}
