package commands

// NoOutput is recorded when an action asks for a reply but produced no text.
const NoOutput = "Action finished with no output."

// Result is what a command hands back to the turn loop. Reply reports
// whether the loop should feed Output back to the model and keep going; a
// result without Reply ends the loop.
type Result struct {
	Output string
	Reply  bool
}

// NoReply is the fire-and-forget result.
var NoReply = Result{}

// ReplyWith returns a result that continues the loop with out.
func ReplyWith(out string) Result {
	return Result{Output: out, Reply: true}
}

// HistoryText is the text recorded for a replying result.
func (r Result) HistoryText() string {
	if r.Output == "" {
		return NoOutput
	}
	return r.Output
}
