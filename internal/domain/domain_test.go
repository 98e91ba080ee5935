package domain

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilterValidate(t *testing.T) {
	require.NoError(t, DefaultFilter().Validate())

	cases := []struct {
		name string
		f    Filter
		want error
	}{
		{"ok", Filter{Gender: GenderFemale, Age: AgeRange{20, 30}, MaxDistanceKm: 10}, nil},
		{"gender", Filter{Gender: "robot", Age: AgeRange{20, 30}, MaxDistanceKm: 10}, ErrInvalidGender},
		{"too young", Filter{Gender: GenderAny, Age: AgeRange{17, 30}, MaxDistanceKm: 10}, ErrInvalidAgeRange},
		{"inverted", Filter{Gender: GenderAny, Age: AgeRange{40, 30}, MaxDistanceKm: 10}, ErrInvalidAgeRange},
		{"too old", Filter{Gender: GenderAny, Age: AgeRange{20, 100}, MaxDistanceKm: 10}, ErrInvalidAgeRange},
		{"distance", Filter{Gender: GenderMale, Age: AgeRange{20, 30}, MaxDistanceKm: 0}, ErrInvalidDistance},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.f.Validate()
			if tc.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestNewPeer(t *testing.T) {
	p, err := NewPeer("42", "Anna")
	require.NoError(t, err)
	assert.Equal(t, UserID("42"), p.ID)

	_, err = NewPeer("", "Anna")
	assert.ErrorIs(t, err, ErrUserIDEmpty)
	_, err = NewPeer(UserID(strings.Repeat("x", MaxUserIDLen+1)), "Anna")
	assert.ErrorIs(t, err, ErrUserIDTooLong)
	_, err = NewPeer("42", "")
	assert.ErrorIs(t, err, ErrDisplayNameEmpty)
	_, err = NewPeer("42", strings.Repeat("a", MaxDisplayNameLen+1))
	assert.ErrorIs(t, err, ErrDisplayNameTooLong)
}

func TestWantsContinue(t *testing.T) {
	no := false
	assert.True(t, Event{Type: EventContinueCall}.WantsContinue())
	assert.False(t, Event{Type: EventContinueCall, Continue: &no}.WantsContinue())
}

func TestMemberGone(t *testing.T) {
	assert.False(t, NewMember("42", MemberJoined).Gone())
	assert.True(t, NewMember("42", MemberLeft).Gone())
	assert.True(t, NewMember("42", MemberRemoved).Gone())
}

func TestChannelNames(t *testing.T) {
	assert.Equal(t, ChannelName("user.7"), UserChannel("7"))
	assert.Equal(t, ChannelName("room.r1"), RoomChannel("r1"))
}
