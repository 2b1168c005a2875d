package player

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (f *fakeTransport) waitNowPlaying(t *testing.T) Song {
	t.Helper()

	select {
	case s := <-f.nowPlaying:
		return s
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for now playing")
		return Song{}
	}
}

// newConnectedState returns a running voice state with a fake sink attached.
func newConnectedState(t *testing.T, cfg Config) (*VoiceState, *fakeSink, *fakeTransport) {
	t.Helper()

	transport := newFakeTransport()
	sink := newFakeSink()

	v := newVoiceState(nullLogger(), cfg, "guild-1", transport, nil)
	t.Cleanup(func() { _ = v.Stop() })

	require.NoError(t, v.Attach(sink))

	return v, sink, transport
}

func mustEnqueue(t *testing.T, v *VoiceState, songs ...Song) {
	t.Helper()

	for _, s := range songs {
		_, err := v.Enqueue(s)
		require.NoError(t, err)
	}
}

func TestVoiceStatePlaysInOrder(t *testing.T) {
	v, sink, transport := newConnectedState(t, Config{})

	mustEnqueue(t, v, song("A", "u1"), song("B", "u1"), song("C", "u1"))

	for _, want := range []string{"A", "B", "C"} {
		assert.Equal(t, "ref-"+want, sink.waitPlay(t))
		assert.Equal(t, want, transport.waitNowPlaying(t).Title())

		cur, ok := v.Current()
		require.True(t, ok)
		assert.Equal(t, want, cur.Title())

		sink.finish(nil)
	}
}

func TestVoiceStateLoopReplaysCurrent(t *testing.T) {
	v, sink, transport := newConnectedState(t, Config{})

	mustEnqueue(t, v, song("A", "u1"), song("B", "u1"))

	assert.Equal(t, "ref-A", sink.waitPlay(t))
	transport.waitNowPlaying(t)

	require.True(t, v.ToggleLoop())

	for range 2 {
		sink.finish(nil)
		assert.Equal(t, "ref-A", sink.waitPlay(t))
		transport.waitNowPlaying(t)
	}

	cur, ok := v.Current()
	require.True(t, ok)
	assert.Equal(t, "A", cur.Title())
	assert.Equal(t, 1, v.Queue().Len())

	require.False(t, v.ToggleLoop())
	sink.finish(nil)
	assert.Equal(t, "ref-B", sink.waitPlay(t))
}

func TestVoiceStateToggleLoopDoesNotInterrupt(t *testing.T) {
	v, sink, transport := newConnectedState(t, Config{})

	mustEnqueue(t, v, song("A", "u1"))
	sink.waitPlay(t)
	transport.waitNowPlaying(t)

	v.ToggleLoop()

	assert.Equal(t, 0, sink.stopCount())
	assert.True(t, v.IsPlaying())
}

func TestVoiceStateSkipAdvancesWhileLooping(t *testing.T) {
	v, sink, transport := newConnectedState(t, Config{})

	mustEnqueue(t, v, song("A", "u1"), song("B", "u1"))
	sink.waitPlay(t)
	transport.waitNowPlaying(t)

	v.ToggleLoop()
	require.True(t, v.Skip())

	assert.Equal(t, "ref-B", sink.waitPlay(t))
	assert.Equal(t, 1, sink.stopCount())
}

func TestVoiceStateSkipWhenIdle(t *testing.T) {
	v, sink, _ := newConnectedState(t, Config{})

	assert.False(t, v.Skip())
	assert.False(t, v.Skip())
	assert.Equal(t, 0, sink.stopCount())
}

func TestVoiceStateRequesterSkipsImmediately(t *testing.T) {
	v, sink, transport := newConnectedState(t, Config{})

	mustEnqueue(t, v, song("A", "owner"), song("B", "owner"))
	sink.waitPlay(t)
	transport.waitNowPlaying(t)

	res, err := v.VoteSkip("owner")
	require.NoError(t, err)

	assert.True(t, res.Skipped)
	assert.Equal(t, "ref-B", sink.waitPlay(t))
}

func TestVoiceStateSkipVotes(t *testing.T) {
	v, sink, transport := newConnectedState(t, Config{})

	mustEnqueue(t, v, song("A", "owner"), song("B", "owner"))
	sink.waitPlay(t)
	transport.waitNowPlaying(t)

	res, err := v.VoteSkip("v1")
	require.NoError(t, err)
	assert.Equal(t, SkipResult{Votes: 1, Required: 3}, res)

	res, err = v.VoteSkip("v1")
	assert.ErrorIs(t, err, ErrAlreadyVoted)
	assert.Equal(t, 1, res.Votes)
	assert.Equal(t, 1, v.SkipVotes())

	res, err = v.VoteSkip("v2")
	require.NoError(t, err)
	assert.False(t, res.Skipped)
	assert.Equal(t, 2, res.Votes)

	res, err = v.VoteSkip("v3")
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Equal(t, 3, res.Votes)
	assert.Equal(t, 0, v.SkipVotes())

	assert.Equal(t, "ref-B", sink.waitPlay(t))
}

func TestVoiceStateSkipVotesResetOnNewSong(t *testing.T) {
	v, sink, transport := newConnectedState(t, Config{})

	mustEnqueue(t, v, song("A", "owner"), song("B", "owner"))
	sink.waitPlay(t)
	transport.waitNowPlaying(t)

	_, err := v.VoteSkip("v1")
	require.NoError(t, err)

	sink.finish(nil)
	sink.waitPlay(t)
	transport.waitNowPlaying(t)

	assert.Equal(t, 0, v.SkipVotes())

	res, err := v.VoteSkip("v1")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Votes)
}

func TestVoiceStateVoteWhileIdle(t *testing.T) {
	v, _, _ := newConnectedState(t, Config{})

	_, err := v.VoteSkip("v1")
	assert.ErrorIs(t, err, ErrNotPlaying)
	assert.Equal(t, 0, v.SkipVotes())
}

func TestVoiceStateBackendFailureContinues(t *testing.T) {
	v, sink, transport := newConnectedState(t, Config{})

	mustEnqueue(t, v, song("A", "u1"), song("B", "u1"))
	sink.waitPlay(t)
	transport.waitNowPlaying(t)

	boom := errors.New("stream reset")
	sink.finish(boom)

	fl := transport.waitFailure(t)
	assert.Equal(t, "A", fl.song.Title())
	assert.ErrorIs(t, fl.err, boom)

	assert.Equal(t, "ref-B", sink.waitPlay(t))
	assert.NotEqual(t, StateStopped, v.State())
}

func TestVoiceStateBackendFailureNotLooped(t *testing.T) {
	v, sink, transport := newConnectedState(t, Config{})

	mustEnqueue(t, v, song("A", "u1"), song("B", "u1"))
	sink.waitPlay(t)
	transport.waitNowPlaying(t)

	v.ToggleLoop()
	sink.finish(errors.New("decode error"))
	transport.waitFailure(t)

	assert.Equal(t, "ref-B", sink.waitPlay(t))
}

func TestVoiceStatePlayErrorContinues(t *testing.T) {
	v, sink, transport := newConnectedState(t, Config{})

	sink.mu.Lock()
	sink.playErr = errors.New("ffmpeg missing")
	sink.mu.Unlock()

	mustEnqueue(t, v, song("A", "u1"))

	fl := transport.waitFailure(t)
	assert.Equal(t, "A", fl.song.Title())

	sink.mu.Lock()
	sink.playErr = nil
	sink.mu.Unlock()

	mustEnqueue(t, v, song("B", "u1"))
	assert.Equal(t, "ref-B", sink.waitPlay(t))
}

func TestVoiceStateWithoutSinkReportsNotConnected(t *testing.T) {
	transport := newFakeTransport()
	v := newVoiceState(nullLogger(), Config{}, "guild-1", transport, nil)
	t.Cleanup(func() { _ = v.Stop() })

	mustEnqueue(t, v, song("A", "u1"))

	fl := transport.waitFailure(t)
	assert.ErrorIs(t, fl.err, ErrNotConnected)
	assert.False(t, v.IsPlaying())
}

func TestVoiceStateVolume(t *testing.T) {
	v, sink, transport := newConnectedState(t, Config{})

	assert.Equal(t, DefaultVolume, v.Volume())

	v.SetVolume(0.25)
	mustEnqueue(t, v, song("A", "u1"))
	sink.waitPlay(t)
	transport.waitNowPlaying(t)

	assert.Equal(t, 0.25, sink.lastVolume())

	v.SetVolume(0.8)
	assert.Equal(t, 0.8, sink.lastVolume())

	// Range checks belong to the caller.
	v.SetVolume(1.7)
	assert.Equal(t, 1.7, v.Volume())
}

func TestVoiceStateIdleTimeoutStopsOnce(t *testing.T) {
	transport := newFakeTransport()
	sink := newFakeSink()

	v := newVoiceState(nullLogger(), Config{IdleTimeout: 50 * time.Millisecond}, "guild-1", transport, nil)
	require.NoError(t, v.Attach(sink))

	select {
	case <-v.Done():
	case <-time.After(waitTimeout):
		t.Fatal("voice state did not stop after idle timeout")
	}

	assert.Equal(t, StateStopped, v.State())
	assert.Equal(t, 1, transport.leaveCount())
	assert.False(t, v.Connected())

	_, err := v.Enqueue(song("late", "u1"))
	assert.ErrorIs(t, err, ErrStopped)
	assert.Equal(t, 0, v.Queue().Len())

	require.NoError(t, v.Stop())
	assert.Equal(t, 1, transport.leaveCount())
}

func TestVoiceStateEnqueueAtIdleTimeoutIsPlayedOrRejected(t *testing.T) {
	for round := range 200 {
		transport := newFakeTransport()
		sink := newFakeSink()

		v := newVoiceState(nullLogger(), Config{IdleTimeout: time.Millisecond}, "guild-1", transport, nil)

		if err := v.Attach(sink); err != nil {
			require.ErrorIs(t, err, ErrStopped)
			require.NoError(t, v.Stop())

			continue
		}

		time.Sleep(time.Millisecond)

		if _, err := v.Enqueue(song("A", "u1")); err != nil {
			require.ErrorIs(t, err, ErrStopped, "round %d", round)
		} else {
			require.Equal(t, "ref-A", sink.waitPlay(t), "round %d", round)
		}

		require.NoError(t, v.Stop())
	}
}

func TestVoiceStateLoopIdleDoesNotTimeOutWhilePlaying(t *testing.T) {
	v, sink, transport := newConnectedState(t, Config{IdleTimeout: 30 * time.Millisecond})

	mustEnqueue(t, v, song("A", "u1"))
	sink.waitPlay(t)
	transport.waitNowPlaying(t)
	v.ToggleLoop()

	for range 3 {
		time.Sleep(40 * time.Millisecond)
		sink.finish(nil)
		assert.Equal(t, "ref-A", sink.waitPlay(t))
		transport.waitNowPlaying(t)
	}

	assert.NotEqual(t, StateStopped, v.State())
}

func TestVoiceStateStopUnblocksPlayback(t *testing.T) {
	v, sink, transport := newConnectedState(t, Config{})

	mustEnqueue(t, v, song("A", "u1"), song("B", "u1"))
	sink.waitPlay(t)
	transport.waitNowPlaying(t)

	stopped := make(chan error, 1)
	go func() { stopped <- v.Stop() }()

	select {
	case err := <-stopped:
		require.NoError(t, err)
	case <-time.After(waitTimeout):
		t.Fatal("stop did not return")
	}

	assert.Equal(t, StateStopped, v.State())
	assert.Equal(t, 0, v.Queue().Len())
	assert.Equal(t, 1, sink.stopCount())
	assert.Equal(t, 1, transport.leaveCount())

	_, err := v.Enqueue(song("C", "u1"))
	assert.ErrorIs(t, err, ErrStopped)
	assert.ErrorIs(t, v.Attach(newFakeSink()), ErrStopped)

	require.NoError(t, v.Stop())
	assert.Equal(t, 1, transport.leaveCount())
}

func TestVoiceStateStopWhileWaiting(t *testing.T) {
	v, _, transport := newConnectedState(t, Config{IdleTimeout: time.Hour})

	start := time.Now()
	require.NoError(t, v.Stop())

	assert.Less(t, time.Since(start), waitTimeout)
	assert.Equal(t, 1, transport.leaveCount())
}

func TestVoiceStateHaltKeepsRunning(t *testing.T) {
	v, sink, transport := newConnectedState(t, Config{})

	mustEnqueue(t, v, song("A", "u1"), song("B", "u1"))
	sink.waitPlay(t)
	transport.waitNowPlaying(t)

	require.True(t, v.Halt())
	assert.Equal(t, 0, v.Queue().Len())
	sink.assertNoPlay(t, 50*time.Millisecond)

	mustEnqueue(t, v, song("C", "u1"))
	assert.Equal(t, "ref-C", sink.waitPlay(t))
	assert.True(t, v.Connected())
}

func TestVoiceStatePauseResume(t *testing.T) {
	v, sink, transport := newConnectedState(t, Config{})

	assert.ErrorIs(t, v.Pause(), ErrNotPlaying)

	mustEnqueue(t, v, song("A", "u1"))
	sink.waitPlay(t)
	transport.waitNowPlaying(t)

	require.NoError(t, v.Pause())
	assert.True(t, sink.isPaused())

	require.NoError(t, v.Resume())
	assert.False(t, sink.isPaused())
}

func TestVoiceStateAttachTwice(t *testing.T) {
	v, _, _ := newConnectedState(t, Config{})

	assert.ErrorIs(t, v.Attach(newFakeSink()), ErrAlreadyConnected)
}
