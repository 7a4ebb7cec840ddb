package events

import (
	"fmt"
	"io"
	"sync"

	"github.com/go-go-golems/conflict-sim/pkg/conversation"
	"github.com/rs/zerolog/log"
)

// Printer writes a human readable line per tree event. It can be registered
// as a conversation.EventSink or as a router handler through Handle.
type Printer struct {
	mu    sync.Mutex
	w     io.Writer
	names map[string]string
}

var _ conversation.EventSink = (*Printer)(nil)

func NewPrinter(w io.Writer) *Printer {
	return &Printer{
		w:     w,
		names: map[string]string{},
	}
}

// AddAgents makes the printer show agent names instead of ids.
func (p *Printer) AddAgents(agents ...conversation.AgentConfig) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, a := range agents {
		p.names[a.ID] = a.Name
	}
}

func (p *Printer) HandleTreeEvent(event conversation.TreeEvent) {
	if err := p.Handle(event); err != nil {
		log.Warn().Err(err).Msg("could not print tree event")
	}
}

func (p *Printer) Handle(event conversation.TreeEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var err error
	switch event.Type {
	case conversation.EventTreeCreated:
		_, err = fmt.Fprintf(p.w, "--- conversation %s started ---\n", event.TreeID)
	case conversation.EventNodeAdded:
		if event.Node == nil {
			return nil
		}
		m := event.Node.Message
		name, ok := p.names[m.AgentID]
		if !ok {
			name = m.AgentID
		}
		marker := ""
		if m.IsUserOverride {
			marker = " (user)"
		}
		_, err = fmt.Fprintf(p.w, "[%s] %s%s: %s\n", m.Mood, name, marker, m.Text)
	case conversation.EventBranchSwitched:
		_, err = fmt.Fprintf(p.w, "--- branch switched to %s ---\n", event.NodeID)
	case conversation.EventTreeDeleted:
		_, err = fmt.Fprintf(p.w, "--- conversation %s deleted ---\n", event.TreeID)
	}
	return err
}
