package distill

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"lifelog/internal/types"
)

// tokensPerChar approximates model tokenization at ~4 characters per
// token, matching the usual fallback when no tokenizer is at hand.
const tokensPerChar = 0.25

func estimateTokens(s string) int {
	n := int(float64(len(s)) * tokensPerChar)
	if n == 0 && len(s) > 0 {
		n = 1
	}
	return n
}

// extendDigest folds older messages into the rolling digest, preferring
// a model summary and falling back to the deterministic rule.
func (d *Distiller) extendDigest(ctx context.Context, msgs []types.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	for _, m := range msgs {
		d.originalChars += len(m.Content)
	}

	var text string
	if d.summarizer != nil {
		summary, err := d.modelSummary(ctx, msgs)
		if err == nil {
			text = summary
		} else {
			d.logger.Warn("model summarization failed, using local rule",
				zap.String("thread_id", d.threadID), zap.Error(err))
		}
	}
	if text == "" {
		var sb strings.Builder
		for _, m := range msgs {
			sb.WriteString(fmt.Sprintf("%s: %s\n", m.Role, localSummary(m.Content, d.cfg.MaxSummaryLen/4)))
		}
		text = truncate(sb.String(), d.cfg.MaxSummaryLen)
	}

	if d.digest == "" {
		d.digest = text
	} else {
		d.digest = d.digest + "\n" + text
	}
	// Keep the rolling digest itself bounded: re-truncate from the
	// front so the most recent folds survive.
	if len(d.digest) > d.cfg.MaxSummaryLen*4 {
		cut := len(d.digest) - d.cfg.MaxSummaryLen*4
		for cut < len(d.digest) && !utf8.RuneStart(d.digest[cut]) {
			cut++
		}
		d.digest = d.digest[cut:]
	}
	d.distilledChars += len(text)
	return nil
}

// modelSummary asks the summarizer model for a compact digest and
// forwards the estimated token spend to the usage callback.
func (d *Distiller) modelSummary(ctx context.Context, msgs []types.Message) (string, error) {
	var sb strings.Builder
	sb.WriteString("Summarize this conversation fragment in at most 80 words. ")
	sb.WriteString("Preserve exact identifiers, dates, counts, and whether operations succeeded or failed.\n\n")
	for _, m := range msgs {
		sb.WriteString(string(m.Role))
		sb.WriteString(": ")
		sb.WriteString(truncate(m.Content, 1200))
		sb.WriteString("\n")
	}

	prompt := sb.String()
	out, err := d.summarizer.Complete(ctx, prompt)
	if err != nil {
		return "", err
	}
	if d.onUsage != nil {
		d.onUsage(d.threadID, d.summarizer.Provider(), d.summarizer.Model(), types.UsageMetadata{
			InputTokens:  estimateTokens(prompt),
			OutputTokens: estimateTokens(out),
			TotalTokens:  estimateTokens(prompt) + estimateTokens(out),
		})
	}
	return truncate(strings.TrimSpace(out), d.cfg.MaxSummaryLen), nil
}

// summarize shrinks a single tool result, via the model when available,
// otherwise the deterministic rule.
func (d *Distiller) summarize(ctx context.Context, content string) string {
	if d.summarizer != nil {
		prompt := "Summarize this tool output in at most 60 words, keeping every identifier, count, and error/success marker verbatim:\n\n" + truncate(content, 2000)
		if out, err := d.summarizer.Complete(ctx, prompt); err == nil {
			if d.onUsage != nil {
				d.onUsage(d.threadID, d.summarizer.Provider(), d.summarizer.Model(), types.UsageMetadata{
					InputTokens:  estimateTokens(prompt),
					OutputTokens: estimateTokens(out),
					TotalTokens:  estimateTokens(prompt) + estimateTokens(out),
				})
			}
			return truncate(strings.TrimSpace(out), d.cfg.MaxSummaryLen)
		}
	}
	return localSummary(content, d.cfg.MaxSummaryLen)
}

var (
	uuidPattern  = regexp.MustCompile(`\b[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}\b`)
	fieldPattern = regexp.MustCompile(`"(\w+)"\s*:\s*("[^"]*"|[0-9.]+|true|false|null)`)
	countPattern = regexp.MustCompile(`\b(\d+)\s+(entries|entry|rows|results|items|records|matches)\b`)
)

// localSummary is the deterministic fallback: it extracts UUID-shaped
// identifiers, counts, named fields, and success/error markers before
// truncating, so identifiers needed for follow-up tool calls are never
// silently dropped even without a summarizer model.
func localSummary(content string, maxLen int) string {
	var parts []string

	lower := strings.ToLower(content)
	switch {
	case strings.Contains(lower, "error") || strings.Contains(lower, "failed") || strings.Contains(lower, "failure"):
		parts = append(parts, "status=error")
	case strings.Contains(lower, "success") || strings.Contains(lower, "\"ok\"") || strings.Contains(lower, "created") || strings.Contains(lower, "updated"):
		parts = append(parts, "status=success")
	}

	if ids := dedupe(uuidPattern.FindAllString(content, 8)); len(ids) > 0 {
		parts = append(parts, "ids="+strings.Join(ids, ","))
	}
	for _, m := range countPattern.FindAllStringSubmatch(content, 4) {
		parts = append(parts, m[1]+" "+m[2])
	}
	for _, m := range fieldPattern.FindAllStringSubmatch(content, 10) {
		parts = append(parts, m[1]+"="+strings.Trim(m[2], `"`))
	}

	head := strings.Join(parts, " | ")
	if head == "" {
		return truncate(content, maxLen)
	}
	remainder := maxLen - len(head) - 1
	if remainder > 40 {
		head = head + "\n" + truncate(content, remainder)
	}
	return truncate(head, maxLen)
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	var out []string
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	cut := max - 1
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "…"
}
