package conversation

type Speaker string

const (
	SpeakerA Speaker = "agent_a"
	SpeakerB Speaker = "agent_b"
)

// WhoseTurn derives the next model speaker from the length of the history
// leading up to the continuation point. Agent A opens the conversation.
//
// Turn order is positional: a user override written for the "wrong" agent
// shifts parity but is not rejected.
func WhoseTurn(historyLength int) Speaker {
	if historyLength%2 == 0 {
		return SpeakerA
	}
	return SpeakerB
}
