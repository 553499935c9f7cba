package processor

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

var (
	scriptSplitRe = regexp.MustCompile(`(?i)\b(?:and then|then|after that|next|finally)\b|[.;\n]+`)
	scriptSpaceRe = regexp.MustCompile(`\s+`)
)

// NewScriptedEngine returns a ProcessFunc that fakes a browser engine: the
// command text is chunked into steps and narrated as thought events ending in
// a final_result. Used in development and tests when no real engine is wired.
func NewScriptedEngine() ProcessFunc {
	return func(ctx context.Context, req Request, emit EmitFunc) error {
		chunks := splitCommandChunks(req.Command)
		if len(chunks) == 0 {
			chunks = []string{"Execute task"}
		}

		total := len(chunks)
		for i, chunk := range chunks {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := emit(Event{
				Kind: KindThought,
				Text: fmt.Sprintf("Step %d/%d: %s", i+1, total, chunk),
			}); err != nil {
				return err
			}
			if err := emit(Event{
				Kind: KindThought,
				Text: fmt.Sprintf("✅ Completed step %d: %s", i+1, chunk),
			}); err != nil {
				return err
			}
		}

		return emit(Event{
			Kind:   KindFinalResult,
			Result: fmt.Sprintf("Executed %d step(s).", total),
		})
	}
}

func splitCommandChunks(cmd string) []string {
	cmd = strings.TrimSpace(cmd)
	if cmd == "" {
		return nil
	}
	parts := scriptSplitRe.Split(cmd, -1)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(scriptSpaceRe.ReplaceAllString(p, " "))
		p = strings.Trim(p, " ,:-")
		if p == "" {
			continue
		}
		out = append(out, p)
		if len(out) >= 6 {
			break
		}
	}
	return out
}
