package player

// Sink is the playback handle of a guild's voice connection.
type Sink interface {
	// Play starts streaming mediaRef. onComplete is called exactly once when
	// the stream ends, fails or is stopped; err is nil on a clean end.
	// A returned error means playback never started and onComplete will not fire.
	Play(mediaRef string, onComplete func(err error)) error
	// Stop ends the current stream, if any.
	Stop()
	// SetVolume sets the gain in [0,1], applied to the current stream immediately.
	SetVolume(volume float64)
	Pause()
	Resume()
}

// Transport is what a VoiceState needs from the chat side.
type Transport interface {
	// NowPlaying announces that song started playing in guildID.
	NowPlaying(guildID string, song Song)
	// PlaybackFailed reports a song that could not be played to the end.
	PlaybackFailed(guildID string, song Song, err error)
	// LeaveVoice disconnects and releases sink.
	LeaveVoice(guildID string, sink Sink) error
}
