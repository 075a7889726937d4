package wire

import (
	"strings"
	"testing"

	"github.com/ryandielhenn/zcs/pkg/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncode_WireForms(t *testing.T) {
	tests := []struct {
		name string
		msg  Message
		want string
	}{
		{"discovery", Discovery{}, "2#"},
		{"heartbeat", Heartbeat{ServiceName: "svc-a"}, "3#svc-a#"},
		{"notification", Notification{
			ServiceName: "svc-a",
			Attributes:  []Attribute{{"type", "printer"}, {"floor", "2"}},
		}, "1#svc-a#type;printer#floor;2#"},
		{"notification without attributes", Notification{ServiceName: "svc-a"}, "1#svc-a#"},
		{"advertisement", Advertisement{ServiceName: "svc-a", AdName: "paper", AdValue: "low"}, "4#svc-a#paper#low#"},
		{"pointer heartbeat", &Heartbeat{ServiceName: "svc-b"}, "3#svc-b#"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Encode(tt.msg)
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(got))
		})
	}
}

func TestRoundTrip(t *testing.T) {
	msgs := []Message{
		Discovery{},
		Heartbeat{ServiceName: "svc-a"},
		Notification{ServiceName: "svc-a", Attributes: []Attribute{{"type", "printer"}, {"empty", ""}}},
		Notification{ServiceName: strings.Repeat("n", MaxNameLen)},
		Advertisement{ServiceName: "svc-a", AdName: "temp", AdValue: "21.5"},
		Advertisement{ServiceName: "svc-a", AdName: "reset", AdValue: ""},
	}
	for _, m := range msgs {
		raw, err := Encode(m)
		require.NoError(t, err, "encode %#v", m)
		got, err := Decode(raw)
		require.NoError(t, err, "decode %q", raw)
		assert.Equal(t, m, got)
	}
}

func TestRoundTrip_FullAttributeSet(t *testing.T) {
	n := Notification{ServiceName: "svc-full"}
	for i := 0; i < MaxAttributes; i++ {
		n.Attributes = append(n.Attributes, Attribute{Name: "k" + string(rune('a'+i)), Value: "v"})
	}
	raw, err := Encode(n)
	require.NoError(t, err)
	got, err := Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, n, got)
}

func TestEncode_Rejects(t *testing.T) {
	tooMany := make([]Attribute, MaxAttributes+1)
	for i := range tooMany {
		tooMany[i] = Attribute{Name: "k", Value: "v"}
	}
	tests := []struct {
		name string
		msg  Message
	}{
		{"empty heartbeat name", Heartbeat{}},
		{"hash in name", Heartbeat{ServiceName: "a#b"}},
		{"semicolon in attribute value", Notification{ServiceName: "s", Attributes: []Attribute{{"k", "v;w"}}}},
		{"empty attribute name", Notification{ServiceName: "s", Attributes: []Attribute{{"", "v"}}}},
		{"too many attributes", Notification{ServiceName: "s", Attributes: tooMany}},
		{"empty ad name", Advertisement{ServiceName: "s", AdValue: "v"}},
		{"hash in ad value", Advertisement{ServiceName: "s", AdName: "a", AdValue: "1#2"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Encode(tt.msg)
			require.Error(t, err)
			assert.True(t, errs.IsInvalidArgument(err), "got %v", err)
		})
	}
}

func TestEncode_NilMessages(t *testing.T) {
	for _, m := range []Message{nil, (*Discovery)(nil), (*Heartbeat)(nil), (*Notification)(nil), (*Advertisement)(nil)} {
		raw, err := Encode(m)
		assert.Nil(t, raw)
		assert.True(t, errs.IsInvalidArgument(err), "%T: got %v", m, err)
	}
}

func TestDecode_Malformed(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"empty", ""},
		{"only padding", "\x00\x00"},
		{"non numeric tag", "x#svc#"},
		{"tag out of range low", "0#"},
		{"tag out of range high", "5#svc#"},
		{"heartbeat missing name", "3#"},
		{"heartbeat empty name", "3##"},
		{"heartbeat trailing field", "3#svc#extra#"},
		{"discovery trailing field", "2#svc#"},
		{"notification missing name", "1#"},
		{"pair without separator", "1#svc#novalue#"},
		{"pair with empty name", "1#svc#;v#"},
		{"advertisement missing value", "4#svc#ad#"},
		{"advertisement missing ad name", "4#svc##v#"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := Decode([]byte(tt.raw))
			require.Error(t, err)
			assert.Nil(t, m)
			assert.True(t, errs.IsMalformed(err), "got %v", err)
		})
	}
}

func TestDecode_TooManyAttributes(t *testing.T) {
	raw := "1#svc#" + strings.Repeat("k;v#", MaxAttributes+1)
	_, err := Decode([]byte(raw))
	require.Error(t, err)
	assert.True(t, errs.IsMalformed(err))
}

func TestDecode_SplitsPairOnFirstSeparator(t *testing.T) {
	m, err := Decode([]byte("1#svc#k;v;w#"))
	require.NoError(t, err)
	n, ok := m.(Notification)
	require.True(t, ok)
	assert.Equal(t, []Attribute{{Name: "k", Value: "v;w"}}, n.Attributes)
}

func TestDecode_IgnoresNULPadding(t *testing.T) {
	buf := make([]byte, 32)
	copy(buf, "3#svc-a#")
	m, err := Decode(buf)
	require.NoError(t, err)
	assert.Equal(t, Heartbeat{ServiceName: "svc-a"}, m)
}

func TestDecode_ToleratesMissingFinalSeparator(t *testing.T) {
	m, err := Decode([]byte("3#svc-a"))
	require.NoError(t, err)
	assert.Equal(t, Heartbeat{ServiceName: "svc-a"}, m)
}

func TestValidateName(t *testing.T) {
	assert.NoError(t, ValidateName("svc-a"))
	assert.NoError(t, ValidateName(strings.Repeat("a", MaxNameLen)))
	assert.True(t, errs.IsInvalidArgument(ValidateName("")))
	assert.True(t, errs.IsInvalidArgument(ValidateName(strings.Repeat("a", MaxNameLen+1))))
	assert.True(t, errs.IsInvalidArgument(ValidateName("a;b")))
}

func TestMsgType(t *testing.T) {
	assert.Equal(t, "notification", MsgNotification.String())
	assert.Equal(t, "advertisement", MsgAdvertisement.String())
	assert.Equal(t, "unknown", MsgType(9).String())
	assert.True(t, MsgHeartbeat.Valid())
	assert.False(t, MsgType(0).Valid())
	assert.Equal(t, 1, int(MsgNotification))
	assert.Equal(t, 4, int(MsgAdvertisement))
}
