package wire

import (
	"bytes"
	"testing"

	"github.com/razenet/razed/config"
	"github.com/stretchr/testify/require"
)

func fillBytes(n int, b byte) []byte {
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = b
	}
	return buf
}

func testSendBlock() *SendBlock {
	b := &SendBlock{WorkValue: 42}
	copy(b.PreviousHash[:], fillBytes(32, 0x01))
	copy(b.Destination[:], fillBytes(32, 0x02))
	copy(b.Balance[:], fillBytes(16, 0x03))
	copy(b.Sig[:], fillBytes(64, 0x04))
	return b
}

func TestBlockRoundTrip(t *testing.T) {
	cases := []Block{
		testSendBlock(),
		&ReceiveBlock{WorkValue: 7},
		&OpenBlock{WorkValue: 9},
		&ChangeBlock{WorkValue: 3},
	}

	for _, block := range cases {
		var buf bytes.Buffer
		require.NoError(t, block.Encode(&buf))

		decoded, err := DecodeBlock(block.Type(), &buf)
		require.NoError(t, err)

		var reencoded bytes.Buffer
		require.NoError(t, decoded.Encode(&reencoded))

		var original bytes.Buffer
		require.NoError(t, block.Encode(&original))

		require.Equal(t, original.Bytes(), reencoded.Bytes())
	}
}

func TestBlockSizes(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, testSendBlock().Encode(&buf))
	require.Equal(t, SendSize, buf.Len())

	buf.Reset()
	require.NoError(t, (&ReceiveBlock{}).Encode(&buf))
	require.Equal(t, ReceiveSize, buf.Len())

	buf.Reset()
	require.NoError(t, (&OpenBlock{}).Encode(&buf))
	require.Equal(t, OpenSize, buf.Len())

	buf.Reset()
	require.NoError(t, (&ChangeBlock{}).Encode(&buf))
	require.Equal(t, ChangeSize, buf.Len())
}

func TestVoteRoundTrip(t *testing.T) {
	vote := &Vote{Sequence: 99, BlockType: BlockTypeSend, Block: testSendBlock()}
	copy(vote.Account[:], fillBytes(32, 0xaa))
	copy(vote.Sig[:], fillBytes(64, 0xbb))

	var buf bytes.Buffer
	require.NoError(t, vote.Encode(&buf))

	decoded, err := DecodeVote(&buf)
	require.NoError(t, err)

	var reencoded bytes.Buffer
	require.NoError(t, decoded.Encode(&reencoded))

	var original bytes.Buffer
	require.NoError(t, vote.Encode(&original))

	require.Equal(t, original.Bytes(), reencoded.Bytes())
}

func TestMessageRoundTripPublish(t *testing.T) {
	msg := NewPublishMessage(config.NetworkTest, testSendBlock())

	data, err := MarshalMessage(msg)
	require.NoError(t, err)

	decoded, err := UnmarshalMessage(data)
	require.NoError(t, err)

	require.Equal(t, MessageTypePublish, decoded.Header.Type)
	require.Equal(t, config.NetworkTest, decoded.Header.Network)

	payload, ok := decoded.Payload.(*Publish)
	require.True(t, ok)
	require.Equal(t, BlockTypeSend, payload.Block.Type())
}

func TestMessageRoundTripKeepalive(t *testing.T) {
	peers := []Endpoint{
		NewEndpoint([]byte{192, 168, 1, 1}, 7075),
	}
	msg := NewKeepaliveMessage(config.NetworkLive, peers)

	data, err := MarshalMessage(msg)
	require.NoError(t, err)

	decoded, err := UnmarshalMessage(data)
	require.NoError(t, err)

	payload, ok := decoded.Payload.(*Keepalive)
	require.True(t, ok)
	require.Equal(t, peers[0], payload.Peers[0])
	require.True(t, payload.Peers[1].IsZero())
}

func TestHeaderRejectsBadMagic(t *testing.T) {
	data := []byte{0x00, 'C', 1, 1, 1, byte(MessageTypeKeepalive), 0, 0}
	_, err := DecodeMessage(bytes.NewReader(data))
	require.Error(t, err)
}
