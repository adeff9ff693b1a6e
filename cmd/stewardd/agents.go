package main

import "github.com/nevindra/steward"

// agentSpecs declares the registered agents. The first entry is the default
// routing target. withMemory gates the memory agent on a configured vector
// store.
func agentSpecs(withMemory bool) []steward.AgentSpec {
	specs := []steward.AgentSpec{
		{
			Name:        "food",
			Description: "Logs meals and snacks and answers questions about what the user ate.",
			Prompt: "You are the nutrition assistant. Log what the user eats and summarize their " +
				"intake with your tools. Estimate calories only when the user asks. When a " +
				"request is outside food logging, hand off with request_handoff.",
			Keywords: []string{"food", "ate", "eat", "meal", "breakfast", "lunch", "dinner", "snack", "calorie", "calories", "protein"},
		},
		{
			Name:        "task",
			Description: "Manages the user's to-do list: creating, updating, searching, and completing tasks.",
			Prompt: "You are the task assistant. Manage the user's to-do list with your tools. " +
				"Confirm every change you make, quoting the task title. When a request is " +
				"outside task management, hand off with request_handoff.",
			Keywords: []string{"task", "todo", "to do", "deadline", "due", "finish", "complete", "priority", "checklist"},
		},
		{
			Name:        "event",
			Description: "Manages the user's calendar: creating events and reporting what is coming up.",
			Prompt: "You are the calendar assistant. Create events and report upcoming ones with " +
				"your tools. Always include the event time in replies. When a request is " +
				"outside the calendar, hand off with request_handoff.",
			Keywords: []string{"event", "calendar", "meeting", "appointment", "schedule", "tomorrow", "weekend"},
		},
		{
			Name:        "reminder",
			Description: "Sets, lists, and cancels one-shot reminders.",
			Prompt: "You are the reminder assistant. Set and manage reminders with your tools. " +
				"Confirm the exact fire time of every reminder you create. When a request is " +
				"outside reminders, hand off with request_handoff.",
			Keywords: []string{"remind", "reminder", "reminders", "alert", "notify", "ping"},
		},
	}
	if withMemory {
		specs = append(specs, steward.AgentSpec{
			Name:        "memory",
			Description: "Remembers facts about the user and recalls them, including notes from the vault.",
			Prompt: "You are the memory assistant. Store durable facts with remember and answer " +
				"questions from stored facts and notes with recall. Cite which memory or note " +
				"a recalled answer came from. When a request is outside memory, hand off with " +
				"request_handoff.",
			Keywords: []string{"remember", "recall", "memory", "forget", "note", "notes", "vault"},
		})
	}
	return specs
}
