package orchestrator

import (
	"fmt"
	"strings"
)

// block is one labelled section of a stage input.
type block struct {
	label string
	body  string
}

func render(instruction string, blocks ...block) string {
	var b strings.Builder
	b.WriteString(instruction)
	for _, bl := range blocks {
		if strings.TrimSpace(bl.body) == "" {
			continue
		}
		fmt.Fprintf(&b, "\n\n### %s\n%s", bl.label, strings.TrimSpace(bl.body))
	}
	return b.String()
}

func ticketBlock(f TicketFields) block {
	return block{
		label: "Ticket",
		body:  fmt.Sprintf("Title: %s\nPriority: %s\nDescription:\n%s", f.Title, f.Priority, f.Description),
	}
}

func normalizeInput(text string) string {
	return render("Normalize this support request into a ticket with title, description and priority (P0-P4).",
		block{"Request", text})
}

func classifyInput(f TicketFields) string {
	return render("Classify this support ticket by incident type, urgency (P0-P4) and SLA risk.", ticketBlock(f))
}

func knowledgeInput(f TicketFields) string {
	return render("Retrieve documentation relevant to this support ticket.", ticketBlock(f))
}

func memoryInput(f TicketFields, contextID string) string {
	return render(fmt.Sprintf("Find similar past tickets for this issue. User ID: %s", contextID), ticketBlock(f))
}

func reasoningInput(f TicketFields, o *Outcome) string {
	return render("Correlate the facts below and identify the most likely cause and next steps.",
		ticketBlock(f),
		block{"Classification", o.output(StageClassify)},
		block{"Knowledge", o.output(StageKnowledge)},
		block{"Similar Tickets", o.output(StageMemory)},
	)
}

func synthesizeInput(f TicketFields, o *Outcome) string {
	return render("Write the reply to the customer for this support ticket.",
		ticketBlock(f),
		block{"Classification", o.output(StageClassify)},
		block{"Analysis", o.output(StageReasoning)},
		block{"Knowledge", o.output(StageKnowledge)},
	)
}

func storeResolutionInput(ticketID, contextID string, f TicketFields, o *Outcome, resolution string) string {
	return fmt.Sprintf("Store this ticket resolution for future reference:\nTicket ID: %s\nUser ID: %s\nOriginal Issue: %s\nClassification: %s\nResolution: %s",
		ticketID, contextID, f.Description, strings.TrimSpace(o.output(StageClassify)), resolution)
}
