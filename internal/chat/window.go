package chat

import (
	"context"
	"fmt"
)

// DefaultWindow is the number of history messages presented to the model
// when the configuration does not say otherwise.
const DefaultWindow = 50

// windowSlack is how many extra messages LoadWindow fetches beyond the
// window so the trim can walk backward over tool results without a second
// store round-trip. A tool round is one assistant message plus one result
// per call, so this covers even unusually wide tool batches.
const windowSlack = 32

// LoadWindow reconstructs the context window for one turn: the most
// recent `window` messages of the conversation in chronological order,
// adjusted so that no assistant tool-call message is separated from its
// tool results. State is re-derived from the store on every call.
func LoadWindow(ctx context.Context, store Store, conversation *Conversation, window int) ([]*Message, error) {
	if window <= 0 {
		window = DefaultWindow
	}
	msgs, err := store.LoadMessages(ctx, conversation.ID, window+windowSlack)
	if err != nil {
		return nil, fmt.Errorf("loading history for %s: %w", conversation.ID, err)
	}
	return TrimWindow(msgs, window), nil
}

// TrimWindow cuts an ascending message slice down to the most recent
// `window` entries while keeping assistant tool-call messages together
// with their tool results.
//
// A window boundary that lands on a tool message would hand the model a
// result whose call it never saw, and the model's next reply comes back
// ill-formed. The boundary therefore extends backward until it reaches
// the assistant message that issued the calls. When the issuing message
// lies outside the fetched slice entirely, the orphaned results are
// dropped forward instead.
func TrimWindow(msgs []*Message, window int) []*Message {
	if window <= 0 || len(msgs) <= window {
		return skipOrphanResults(msgs)
	}
	start := len(msgs) - window
	for start > 0 && msgs[start].Role == RoleTool {
		start--
	}
	return skipOrphanResults(msgs[start:])
}

// skipOrphanResults drops leading tool messages that have no preceding
// assistant tool-call message in the slice.
func skipOrphanResults(msgs []*Message) []*Message {
	i := 0
	for i < len(msgs) && msgs[i].Role == RoleTool {
		i++
	}
	return msgs[i:]
}
