package coordination

import (
	"context"
	"fmt"
)

// debate runs [proponent, opponent, judge]. Openings run concurrently, each
// rebuttal round runs its two rebuttals concurrently, rounds are sequential,
// and the judge speaks only after every argument is in. The verdict is the
// final output verbatim.
func (e *Engine) debate(ctx context.Context, st *runState, req Request) error {
	pro := roleOr(req.Participants[0], "advocate")
	con := roleOr(req.Participants[1], "opponent")
	judge := roleOr(req.Participants[2], "judge")

	outs, err := st.parallel(ctx, []call{
		{name: "opening_for", ref: pro, prompt: openingForPrompt(req.Task)},
		{name: "opening_against", ref: con, prompt: openingAgainstPrompt(req.Task)},
	})
	if err != nil {
		return err
	}
	lastFor, lastAgainst := outs[0], outs[1]
	args := []argument{
		{label: "Opening argument FOR", text: lastFor},
		{label: "Opening argument AGAINST", text: lastAgainst},
	}

	for round := 1; round <= req.Options.Rounds; round++ {
		outs, err := st.parallel(ctx, []call{
			{name: fmt.Sprintf("rebuttal_for_%d", round), ref: pro, prompt: rebuttalPrompt(req.Task, "FOR", lastAgainst)},
			{name: fmt.Sprintf("rebuttal_against_%d", round), ref: con, prompt: rebuttalPrompt(req.Task, "AGAINST", lastFor)},
		})
		if err != nil {
			return err
		}
		lastFor, lastAgainst = outs[0], outs[1]
		args = append(args,
			argument{label: fmt.Sprintf("Rebuttal FOR (round %d)", round), text: lastFor},
			argument{label: fmt.Sprintf("Rebuttal AGAINST (round %d)", round), text: lastAgainst},
		)
	}

	verdict, err := st.invoke(ctx, call{name: "verdict", ref: judge, prompt: verdictPrompt(req.Task, args)})
	if err != nil {
		return err
	}
	st.setFinal(verdict)
	return nil
}
