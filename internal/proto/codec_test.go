package proto

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/senscord/multi-server/internal/sderr"
)

func roundTrip(t *testing.T, msg *Message) *Message {
	t.Helper()
	c := NewCodec()
	raw, err := c.Encode(msg)
	require.NoError(t, err)
	got, err := c.Decode(raw)
	require.NoError(t, err)
	return got
}

func TestOpenRequestRoundTrip(t *testing.T) {
	msg := &Message{
		Header: Header{ServerStreamID: 0, RequestID: 7, Type: TypeRequest, DataType: DataOpen},
		Payload: &OpenRequest{
			Key:       "image_stream.0",
			Arguments: map[string]string{"frame_rate": "30"},
		},
	}
	got := roundTrip(t, msg)
	require.Equal(t, msg.Header, got.Header)
	p := got.Payload.(*OpenRequest)
	require.Equal(t, "image_stream.0", p.Key)
	require.Equal(t, "30", p.Arguments["frame_rate"])
}

func TestOpenReplyRoundTrip(t *testing.T) {
	msg := NewReply(Header{ServerStreamID: 3, RequestID: 7}, DataOpen, &OpenReply{
		Status:          sderr.OKStatus(),
		PropertyKeyList: []string{"image_property", "frame_rate_property"},
	})
	got := roundTrip(t, msg)
	require.Equal(t, uint64(3), got.Header.ServerStreamID)
	p := got.Payload.(*OpenReply)
	require.True(t, p.Status.OK)
	require.Equal(t, []string{"image_property", "frame_rate_property"}, p.PropertyKeyList)
}

func TestFailingReplyRoundTrip(t *testing.T) {
	status := sderr.New(sderr.CauseNotFound, "stream %q not registered", "bogus").WithBlock("stream_adapter")
	msg := NewReply(Header{RequestID: 1}, DataOpen, &OpenReply{Status: status})
	got := roundTrip(t, msg)
	p := got.Payload.(*OpenReply)
	require.False(t, p.Status.OK)
	require.Equal(t, sderr.CauseNotFound, p.Status.Cause)
	require.Contains(t, p.Status.Message, "bogus")
	require.Equal(t, "stream_adapter", p.Status.Block)
}

func TestSendFrameRoundTrip(t *testing.T) {
	msg := &Message{
		Header: Header{ServerStreamID: 5, Type: TypeSendFrame, DataType: DataSendFrame},
		Payload: &SendFramePayload{
			Frames: []Frame{
				{
					SequenceNumber: 100,
					SentTime:       123456789,
					Channels: []Channel{
						{
							ChannelID:    0,
							RawDataType:  "image_raw",
							AllocatorKey: "shm://region-1",
							Raw:          RawDataInfo{Mode: DeliverAddressSizeOnly, Bytes: make([]byte, 20)},
							Timestamp:    123456789,
							Properties: []PropertySnapshot{
								{Key: "channel_info_property", Value: []byte{1, 2, 3}},
							},
							UpdatedKeys: []string{"channel_info_property"},
						},
					},
				},
			},
		},
	}
	got := roundTrip(t, msg)
	p := got.Payload.(*SendFramePayload)
	require.Len(t, p.Frames, 1)
	require.Equal(t, uint64(100), p.Frames[0].SequenceNumber)
	require.Len(t, p.Frames[0].Channels, 1)
	require.Equal(t, DeliverAddressSizeOnly, p.Frames[0].Channels[0].Raw.Mode)
	require.Equal(t, 20, len(p.Frames[0].Channels[0].Raw.Bytes))
}

func TestLockPropertyRoundTrip(t *testing.T) {
	msg := &Message{
		Header: Header{Type: TypeRequest, DataType: DataLockProperty},
		Payload: &LockPropertyRequest{
			Keys:        []string{"exposure_property", "gain_property"},
			TimeoutMsec: -1,
		},
	}
	got := roundTrip(t, msg)
	p := got.Payload.(*LockPropertyRequest)
	require.Equal(t, int32(-1), p.TimeoutMsec)
	require.Len(t, p.Keys, 2)
}

func TestDecodeTruncatedMessageErrors(t *testing.T) {
	c := NewCodec()
	_, err := c.Decode([]byte{1, 2, 3})
	require.Error(t, err)
}

func TestDecodeUnknownDataTypeErrors(t *testing.T) {
	c := NewCodec()
	raw, err := c.Encode(&Message{
		Header:  Header{Type: TypeRequest, DataType: DataGetVersion},
		Payload: &Empty{},
	})
	require.NoError(t, err)
	// Corrupt the data_type byte (offset 17) to an out-of-range value.
	raw[17] = 200
	_, err = c.Decode(raw)
	require.Error(t, err)
}
