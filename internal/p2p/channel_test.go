package p2p

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/stretchr/testify/require"
)

type channelInternal struct {
	In    chan Envelope
	Out   chan Envelope
	Error chan PeerError
}

func testChannel(size int) (*channelInternal, *Channel) {
	in := &channelInternal{
		In:    make(chan Envelope, size),
		Out:   make(chan Envelope, size),
		Error: make(chan PeerError, size),
	}
	return in, NewChannel("test", in.In, in.Out, in.Error)
}

func TestChannel(t *testing.T) {
	t.Cleanup(leaktest.Check(t))

	bctx, bcancel := context.WithCancel(context.Background())
	defer bcancel()

	testCases := []struct {
		Name string
		Case func(context.Context, *testing.T)
	}{
		{
			Name: "Send",
			Case: func(ctx context.Context, t *testing.T) {
				ins, ch := testChannel(1)
				require.NoError(t, ch.Send(ctx, Envelope{To: "0a", Message: []byte{0x01}}))

				res, ok := <-ins.Out
				require.True(t, ok)
				require.EqualValues(t, "0a", res.To)
				require.Equal(t, []byte{0x01}, res.Message)
			},
		},
		{
			Name: "SendError",
			Case: func(ctx context.Context, t *testing.T) {
				ins, ch := testChannel(1)
				require.NoError(t, ch.SendError(ctx, PeerError{NodeID: "0a", Err: errors.New("bad chunk")}))

				res, ok := <-ins.Error
				require.True(t, ok)
				require.EqualValues(t, "0a", res.NodeID)
				require.EqualValues(t, "bad chunk", res.Err.Error())
			},
		},
		{
			Name: "SendErrorIgnoresContextErrors",
			Case: func(ctx context.Context, t *testing.T) {
				ins, ch := testChannel(1)
				require.NoError(t, ch.SendError(ctx, PeerError{NodeID: "0a", Err: context.Canceled}))
				require.Empty(t, ins.Error)
			},
		},
		{
			Name: "SendWithCanceledContext",
			Case: func(ctx context.Context, t *testing.T) {
				_, ch := testChannel(0)
				cctx, ccancel := context.WithCancel(ctx)
				ccancel()
				require.Error(t, ch.Send(cctx, Envelope{To: "0a"}))
				require.Error(t, ch.SendError(cctx, PeerError{NodeID: "0a", Err: errors.New("x")}))
			},
		},
		{
			Name: "ReceiveEmptyIteratorBlocks",
			Case: func(ctx context.Context, t *testing.T) {
				_, ch := testChannel(1)
				iter := ch.Receive(ctx)
				require.NotNil(t, iter)
				out := make(chan bool)
				go func() {
					defer close(out)
					select {
					case <-ctx.Done():
					case out <- iter.Next(ctx):
					}
				}()
				select {
				case <-time.After(10 * time.Millisecond):
				case <-out:
					require.Fail(t, "iterator should not advance")
				}
				require.Nil(t, iter.Envelope())
			},
		},
		{
			Name: "ReceiveWithData",
			Case: func(ctx context.Context, t *testing.T) {
				ins, ch := testChannel(1)
				ins.In <- Envelope{From: "0b", Message: []byte{0x02}}
				iter := ch.Receive(ctx)
				require.True(t, iter.Next(ctx))

				res := iter.Envelope()
				require.EqualValues(t, "0b", res.From)
				require.Equal(t, res, iter.Envelope())
			},
		},
		{
			Name: "IteratorCanceledAfterFirstUseBecomesNil",
			Case: func(ctx context.Context, t *testing.T) {
				ins, ch := testChannel(1)

				ins.In <- Envelope{From: "0b"}
				iter := ch.Receive(ctx)
				require.True(t, iter.Next(ctx))
				require.NotNil(t, iter.Envelope())

				cctx, ccancel := context.WithCancel(ctx)
				ccancel()

				require.False(t, iter.Next(cctx))
				require.Nil(t, iter.Envelope())
			},
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.Name, func(t *testing.T) {
			t.Cleanup(leaktest.Check(t))

			ctx, cancel := context.WithCancel(bctx)
			defer cancel()

			tc.Case(ctx, t)
		})
	}
}

func TestNodeIDValidate(t *testing.T) {
	require.NoError(t, NodeID("00ff").Validate())
	require.Error(t, NodeID("").Validate())
	require.Error(t, NodeID("00FF").Validate())
	require.Error(t, NodeID("xyz").Validate())
}
