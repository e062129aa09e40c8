package fetchers

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/homiodev/addon-ipscanner/internal/pinger/mocks"
	"github.com/homiodev/addon-ipscanner/internal/scanning"
)

func alivePing(t *testing.T, addr string) *scanning.PingResult {
	t.Helper()
	sub := subjectFor(t, addr, testConfig())
	pr := scanning.NewPingResult(sub.Addr(), 3)
	pr.AddReply(10 * time.Millisecond)
	pr.AddReply(20 * time.Millisecond)
	pr.SetTTL(64)
	return pr
}

func TestPingFetcher(t *testing.T) {
	t.Run("alive host", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		mp := mocks.NewMockPinger(ctrl)
		mp.EXPECT().Ping(gomock.Any(), gomock.Any(), 3).Return(alivePing(t, "10.0.0.1"), nil)
		mp.EXPECT().Close().Return(nil)

		cfg := testConfig()
		f := NewPing(Deps{Config: cfg, Pinger: sharedOf(mp)})
		require.NoError(t, f.Init())

		sub := subjectFor(t, "10.0.0.1", cfg)
		assert.Equal(t, scanning.Milliseconds(15), f.Scan(context.Background(), sub))
		assert.Equal(t, scanning.ResultAlive, sub.ResultType())
		assert.False(t, sub.IsAborted())

		f.Cleanup()
	})

	t.Run("dead host aborts", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		mp := mocks.NewMockPinger(ctrl)
		cfg := testConfig()
		sub := subjectFor(t, "10.0.0.2", cfg)
		mp.EXPECT().Ping(gomock.Any(), sub, 3).Return(scanning.NewPingResult(sub.Addr(), 3), nil)
		mp.EXPECT().Close().Return(nil)

		f := NewPing(Deps{Config: cfg, Pinger: sharedOf(mp)})
		require.NoError(t, f.Init())
		defer f.Cleanup()

		assert.Nil(t, f.Scan(context.Background(), sub))
		assert.Equal(t, scanning.ResultDead, sub.ResultType())
		assert.True(t, sub.IsAborted())
	})

	t.Run("dead host kept when scanning dead hosts", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		mp := mocks.NewMockPinger(ctrl)
		cfg := testConfig()
		cfg.ScanDeadHosts = true
		sub := subjectFor(t, "10.0.0.3", cfg)
		mp.EXPECT().Ping(gomock.Any(), sub, 3).Return(scanning.NewPingResult(sub.Addr(), 3), nil)
		mp.EXPECT().Close().Return(nil)

		f := NewPing(Deps{Config: cfg, Pinger: sharedOf(mp)})
		require.NoError(t, f.Init())
		defer f.Cleanup()

		assert.Nil(t, f.Scan(context.Background(), sub))
		assert.False(t, sub.IsAborted())
	})

	t.Run("ping error counts as dead", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		mp := mocks.NewMockPinger(ctrl)
		mp.EXPECT().Ping(gomock.Any(), gomock.Any(), 3).Return(nil, errors.New("network down"))
		mp.EXPECT().Close().Return(nil)

		cfg := testConfig()
		f := NewPing(Deps{Config: cfg, Pinger: sharedOf(mp)})
		require.NoError(t, f.Init())
		defer f.Cleanup()

		sub := subjectFor(t, "10.0.0.4", cfg)
		assert.Nil(t, f.Scan(context.Background(), sub))
		pr, ok := sub.PingResult()
		require.True(t, ok)
		assert.Equal(t, 0, pr.PacketCount())
		assert.Equal(t, scanning.ResultDead, sub.ResultType())
	})
}

func TestPingFetchersShareOnePing(t *testing.T) {
	ctrl := gomock.NewController(t)
	mp := mocks.NewMockPinger(ctrl)
	mp.EXPECT().Ping(gomock.Any(), gomock.Any(), 3).Return(alivePing(t, "10.0.0.5"), nil).Times(1)
	mp.EXPECT().Close().Return(nil).Times(1)

	cfg := testConfig()
	shared := sharedOf(mp)
	d := Deps{Config: cfg, Pinger: shared}
	ping, ttl, loss := NewPing(d), NewPingTTL(d), NewPacketLoss(d)

	for _, f := range []scanning.Fetcher{ping, ttl, loss} {
		require.NoError(t, f.Init())
	}
	assert.Equal(t, 3, shared.Users())

	sub := subjectFor(t, "10.0.0.5", cfg)
	assert.Equal(t, scanning.Milliseconds(15), ping.Scan(context.Background(), sub))
	assert.Equal(t, 64, ttl.Scan(context.Background(), sub))
	assert.Equal(t, "1/3 (33%)", loss.Scan(context.Background(), sub))

	for _, f := range []scanning.Fetcher{ping, ttl, loss} {
		f.Cleanup()
	}
	assert.Equal(t, 0, shared.Users())
}

func TestPingTTLUnknown(t *testing.T) {
	cfg := testConfig()
	sub := subjectFor(t, "10.0.0.6", cfg)
	pr := scanning.NewPingResult(sub.Addr(), 2)
	pr.AddReply(time.Millisecond)
	sub.SetParameter(scanning.ParameterPingResult, pr)

	f := NewPingTTL(Deps{Config: cfg})
	assert.Nil(t, f.Scan(context.Background(), sub))
	assert.Equal(t, scanning.ResultAlive, sub.ResultType())
}

func TestPacketLossDeadHost(t *testing.T) {
	cfg := testConfig()
	sub := subjectFor(t, "10.0.0.7", cfg)
	sub.SetParameter(scanning.ParameterPingResult, scanning.NewPingResult(sub.Addr(), 4))

	f := NewPacketLoss(Deps{Config: cfg})
	assert.Equal(t, "4/4 (100%)", f.Scan(context.Background(), sub))
	assert.Equal(t, scanning.ResultDead, sub.ResultType())
	assert.False(t, sub.IsAborted())
}

func TestPingInitWithoutPinger(t *testing.T) {
	f := NewPing(Deps{Config: testConfig()})
	assert.Error(t, f.Init())
	f.Cleanup()
}
