package connectors

const (
	TopicConnStatus        = "conn.status"
	TopicBackendStatus     = "backend.status"
	TopicTelemetry         = "telemetry"
	TopicCommandResult     = "command.result"
	TopicPlaybackTelemetry = "playback.telemetry"
	TopicPlaybackState     = "playback.state"
	TopicPersistenceError  = "persistence.error"
	TopicRawFrameIn        = "raw.frame.in"
	TopicRawFrameOut       = "raw.frame.out"
)
