package transport

import (
	"bytes"
	"io"
	"testing"

	"github.com/loomgraph/loom/pkg/types"
	"github.com/stretchr/testify/require"
)

func TestWriteReadFrameRoundTrip(t *testing.T) {
	packet := ControlPacket{Action: ActionAddNode, NodeID: "n1", NodeType: "pkg:type", X: 1.5, Y: -2}
	headerPart, err := JSONPart(packet)
	require.NoError(t, err)
	valuePart := StringPart("hello")

	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, headerPart, valuePart))

	parts, err := ReadFrame(&buf)
	require.NoError(t, err)
	require.Len(t, parts, 2)

	var decoded ControlPacket
	require.NoError(t, parts[0].AsJSON(&decoded))
	require.Equal(t, packet, decoded)

	s, err := parts[1].AsString()
	require.NoError(t, err)
	require.Equal(t, "hello", s)
}

func TestWriteFrameRequiresAtLeastOnePart(t *testing.T) {
	var buf bytes.Buffer
	err := WriteFrame(&buf)
	require.Error(t, err)
}

func TestReadFrameReturnsEOFOnEmptyStream(t *testing.T) {
	var buf bytes.Buffer
	_, err := ReadFrame(&buf)
	require.ErrorIs(t, err, io.EOF)
}

func TestReadFrameRejectsTruncatedPayload(t *testing.T) {
	headerPart, err := JSONPart(ControlPacket{Action: ActionPause})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, headerPart))

	full := buf.Bytes()
	truncated := bytes.NewReader(full[:len(full)-2])
	_, err = ReadFrame(truncated)
	require.Error(t, err)
}

func TestMultipleFramesOnOneStream(t *testing.T) {
	var buf bytes.Buffer

	p1, err := JSONPart(ControlPacket{Action: ActionPause})
	require.NoError(t, err)
	p2, err := JSONPart(ControlPacket{Action: ActionResume})
	require.NoError(t, err)

	require.NoError(t, WriteFrame(&buf, p1))
	require.NoError(t, WriteFrame(&buf, p2))

	first, err := ReadFrame(&buf)
	require.NoError(t, err)
	var firstPacket ControlPacket
	require.NoError(t, first[0].AsJSON(&firstPacket))
	require.Equal(t, ActionPause, firstPacket.Action)

	second, err := ReadFrame(&buf)
	require.NoError(t, err)
	var secondPacket ControlPacket
	require.NoError(t, second[0].AsJSON(&secondPacket))
	require.Equal(t, ActionResume, secondPacket.Action)
}

func TestClientIDWireRoundTrip(t *testing.T) {
	bare := ClientIDFrom(types.NewClientID("c1"))
	require.False(t, bare.Compound)
	require.Equal(t, "c1", bare.ToClientID().Primary)

	compound := ClientIDFrom(types.NewCompoundClientID("session", "viewer"))
	require.True(t, compound.Compound)
	restored := compound.ToClientID()
	require.Equal(t, "session", restored.Primary)
	require.Equal(t, "viewer", restored.Secondary)
	require.True(t, restored.IsCompound())
}
