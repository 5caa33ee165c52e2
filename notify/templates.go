package notify

import "strings"

// template pairs the rendered title with a message body. Placeholders use
// {name} syntax; unmatched placeholders are left as literal tokens so a
// missing field never aborts a send.
type template struct {
	title    string
	body     string
	priority Priority
}

var templates = map[Type]template{
	TypeClaimSuccess: {
		title:    "Royalty claim completed",
		body:     "You claimed {claimed} tokens for chapter {chapterId}. Net payout after fees: {net} (ref {reference}).",
		priority: PriorityNormal,
	},
	TypeClaimFailed: {
		title:    "Royalty claim failed",
		body:     "Your claim for chapter {chapterId} did not complete: {reason}.",
		priority: PriorityHigh,
	},
	TypeLargePayment: {
		title:    "Large payment received",
		body:     "A payment of {amount} tokens arrived for chapter {chapterId}.",
		priority: PriorityHigh,
	},
	TypeDerivative: {
		title:    "Possible derivative detected",
		body:     "Content {derivativeId} is {similarity} similar to your work {subjectId}. Review it for licensing opportunities.",
		priority: PriorityNormal,
	},
	TypeQuality: {
		title:    "Quality milestone reached",
		body:     "Your work {subjectId} reached a quality score of {score}.",
		priority: PriorityLow,
	},
	TypeCollaboration: {
		title:    "Collaboration opportunity",
		body:     "Author {partner} has an audience affinity of {affinity} with yours. Consider reaching out.",
		priority: PriorityLow,
	},
	TypeTrend: {
		title:    "Your content is trending",
		body:     "Work {subjectId} is trending with momentum {momentum}.",
		priority: PriorityNormal,
	},
	TypeEngagement: {
		title:    "Engagement spike",
		body:     "Readers are flocking to {subjectId}: engagement velocity {velocity}.",
		priority: PriorityNormal,
	},
	TypeSystem: {
		title:    "System notice",
		body:     "{detail}",
		priority: PriorityHigh,
	},
}

// Render produces the title, message, and priority for a payload. Rendering
// is deterministic: the same payload always yields the same strings.
func Render(payload Payload) (title, message string, priority Priority) {
	tpl, ok := templates[payload.NotificationType()]
	if !ok {
		tpl = template{title: string(payload.NotificationType()), body: "{detail}", priority: PriorityNormal}
	}
	fields := payload.Fields()
	return tpl.title, substitute(tpl.body, fields), tpl.priority
}

// substitute replaces {name} tokens with field values, leaving unknown
// tokens intact.
func substitute(body string, fields map[string]string) string {
	if len(fields) == 0 {
		return body
	}
	var builder strings.Builder
	builder.Grow(len(body))
	for {
		open := strings.IndexByte(body, '{')
		if open < 0 {
			builder.WriteString(body)
			break
		}
		closing := strings.IndexByte(body[open:], '}')
		if closing < 0 {
			builder.WriteString(body)
			break
		}
		closing += open
		name := body[open+1 : closing]
		value, ok := fields[name]
		builder.WriteString(body[:open])
		if ok {
			builder.WriteString(value)
		} else {
			builder.WriteString(body[open : closing+1])
		}
		body = body[closing+1:]
	}
	return builder.String()
}
