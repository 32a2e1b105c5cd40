package coordination

import (
	"fmt"
	"strings"

	"agentlink/internal/domain"
)

// argument is one labelled contribution shown to later participants.
type argument struct {
	label string
	text  string
}

func renderArguments(args []argument) string {
	var b strings.Builder
	for _, a := range args {
		fmt.Fprintf(&b, "### %s\n%s\n\n", a.label, strings.TrimSpace(a.text))
	}
	return strings.TrimSpace(b.String())
}

func openingForPrompt(topic string) string {
	return fmt.Sprintf(`Present your opening argument FOR the following proposition:
"%s"

Build a strong case with evidence and reasoning.
Be persuasive and anticipate counterarguments.
Answer in 2-3 paragraphs.`, topic)
}

func openingAgainstPrompt(topic string) string {
	return fmt.Sprintf(`Present your opening argument AGAINST the following proposition:
"%s"

Challenge the proposition with evidence and reasoning.
Be critical and identify potential weaknesses.
Answer in 2-3 paragraphs.`, topic)
}

func rebuttalPrompt(topic, side, opposing string) string {
	return fmt.Sprintf(`You are arguing %s the proposition:
"%s"

Your opponent argued:
%s

Review the opposing argument and present your rebuttal.
Address their points directly and reinforce your position.
Answer in 1-2 paragraphs.`, side, topic, strings.TrimSpace(opposing))
}

func verdictPrompt(topic string, args []argument) string {
	return fmt.Sprintf(`You have heard arguments on both sides of: "%s"

%s

Review all arguments and rebuttals carefully.
Evaluate the strength of evidence and reasoning.
Reach a fair, balanced conclusion.

Explain:
1. Key points from each side
2. Which arguments were most convincing
3. Your final verdict and why`, topic, renderArguments(args))
}

func consensusPrompt(task string) string {
	return fmt.Sprintf(`Answer the following question independently.
Reply with the answer only, as briefly as possible, with no explanation.

Question: %s`, task)
}

func planPrompt(task string, workers []domain.AgentRef) string {
	var roster strings.Builder
	for i, w := range workers {
		fmt.Fprintf(&roster, "%d. %s\n", i+1, w.Role)
	}
	return fmt.Sprintf(`Break down this question into tasks for your team:
"%s"

Your team, in order:
%s
Respond with ONLY a JSON object in this exact format, one subtask per team member in the order above:
{
    "subtasks": [
        {"worker": "role of the team member", "task": "what this member must do"}
    ]
}`, task, roster.String())
}

func workerPrompt(task, subtask, planContext string, prior []argument) string {
	var b strings.Builder
	fmt.Fprintf(&b, "The team is answering this question:\n%q\n\n", task)
	if planContext != "" {
		fmt.Fprintf(&b, "The manager's work plan:\n%s\n\n", strings.TrimSpace(planContext))
	}
	if len(prior) > 0 {
		fmt.Fprintf(&b, "Work completed so far:\n%s\n\n", renderArguments(prior))
	}
	fmt.Fprintf(&b, "Your assignment:\n%s", subtask)
	return b.String()
}

func synthesisPrompt(task, plan string, work []argument) string {
	return fmt.Sprintf(`Review the team's work and create the final answer to:
"%s"

Your work plan was:
%s

Team output:
%s

Ensure the question is fully answered, the information is accurate and the
structure is clear. Add any final synthesis needed.`, task, strings.TrimSpace(plan), renderArguments(work))
}
