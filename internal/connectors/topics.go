package connectors

const (
	TopicConnStatus    = "conn.status"
	TopicCommandResult = "command.result"
	TopicRelayDrop     = "relay.drop"
)
