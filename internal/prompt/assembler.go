// Package prompt assembles the system prompt and chat history for an
// AI reply: persona, tenant instructions, blocked-topic guardrails and
// the retrieved knowledge sections, in a fixed order.
package prompt

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/replyflow/replyflow/internal/genai"
	"github.com/replyflow/replyflow/internal/knowledge"
	"github.com/replyflow/replyflow/internal/message"
	"github.com/replyflow/replyflow/internal/tenant"
)

// noKnowledgeNotice is included when retrieval returns nothing, so the
// model does not invent company facts.
const noKnowledgeNotice = "No company knowledge is loaded for this question. Answer only from the conversation itself and offer to connect the customer with a human for specifics."

// Searcher is the retrieval dependency.
type Searcher interface {
	Search(ctx context.Context, tenantID, query string, topK int) ([]knowledge.Fragment, error)
}

// Assembled is a ready-to-send completion request body.
type Assembled struct {
	System    string
	History   []genai.Message
	Fragments []knowledge.Fragment
}

// Assembler builds prompts from tenant settings, retrieval and history.
type Assembler struct {
	search Searcher
	logger *slog.Logger
}

func NewAssembler(log *slog.Logger, search Searcher) *Assembler {
	if log == nil {
		log = slog.Default()
	}
	return &Assembler{
		search: search,
		logger: log.With(slog.String("service", "prompt")),
	}
}

// Assemble builds the system prompt and history window for one reply.
// Retrieval failures degrade to the no-knowledge notice rather than
// failing the reply.
func (a *Assembler) Assemble(ctx context.Context, settings tenant.AISettings, history []message.Message, userText string) (Assembled, error) {
	userText = BoundText(userText, MaxMessageBytes)
	var fragments []knowledge.Fragment
	if a.search != nil {
		var err error
		fragments, err = a.search.Search(ctx, settings.TenantID, userText, knowledge.DefaultTopK)
		if err != nil {
			a.logger.Warn("knowledge retrieval failed, assembling without it",
				slog.String("tenant_id", settings.TenantID),
				slog.String("error", err.Error()),
			)
			fragments = nil
		}
	}

	return Assembled{
		System:    a.systemPrompt(settings, fragments),
		History:   historyWindow(history, settings.MaxHistoryMessages),
		Fragments: fragments,
	}, nil
}

func (a *Assembler) systemPrompt(settings tenant.AISettings, fragments []knowledge.Fragment) string {
	persona := settings.PersonaName
	if persona == "" {
		persona = tenant.DefaultPersonaName
	}

	var b strings.Builder
	fmt.Fprintf(&b, "You are %s, a customer service assistant replying over WhatsApp.\n", persona)
	b.WriteString("Keep replies short, friendly and in the customer's language. Never reveal that you are an automated system unless asked directly.\n")

	if len(settings.BlockedTopics) > 0 {
		b.WriteString("\nYou must not discuss the following topics. If the customer brings one up, politely say a human teammate will follow up:\n")
		for _, topic := range settings.BlockedTopics {
			fmt.Fprintf(&b, "- %s\n", topic)
		}
	}

	if instructions := strings.TrimSpace(settings.CustomInstructions); instructions != "" {
		b.WriteString("\nBusiness instructions:\n")
		b.WriteString(instructions)
		b.WriteString("\n")
	}

	b.WriteString("\nCompany knowledge:\n")
	if len(fragments) == 0 {
		b.WriteString(noKnowledgeNotice)
		b.WriteString("\n")
	} else {
		for _, f := range fragments {
			title := f.Title
			if title == "" {
				title = f.Category
			}
			fmt.Fprintf(&b, "### %s\n%s\n", title, f.Content)
		}
	}
	return b.String()
}

// historyWindow keeps the most recent limit messages, oldest first.
func historyWindow(history []message.Message, limit int) []genai.Message {
	if limit <= 0 {
		limit = tenant.DefaultMaxHistory
	}
	if len(history) > limit {
		history = history[len(history)-limit:]
	}
	out := make([]genai.Message, 0, len(history))
	for _, m := range history {
		role := "user"
		if m.SenderType == message.SenderAI || m.SenderType == message.SenderAgent {
			role = "assistant"
		}
		out = append(out, genai.Message{Role: role, Content: BoundText(m.Content, MaxMessageBytes)})
	}
	return out
}
