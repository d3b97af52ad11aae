package actions

import (
	"regexp"
	"strings"

	"github.com/nhle/mailagent/internal/crossref"
)

// Intent is what the user asked the workflow to do.
type Intent int

const (
	IntentUnknown Intent = iota
	IntentCheck
	IntentGenerate
	IntentConfirm
	IntentCustom
	IntentModify
	IntentCancel
)

func (i Intent) String() string {
	switch i {
	case IntentCheck:
		return "check"
	case IntentGenerate:
		return "generate_reply"
	case IntentConfirm:
		return "confirm_reply"
	case IntentCustom:
		return "custom_reply"
	case IntentModify:
		return "modify_reply"
	case IntentCancel:
		return "cancel_reply"
	default:
		return "unknown"
	}
}

// View selects how a Check lists emails.
type View int

const (
	ViewList View = iota
	ViewIDs
	ViewFull
)

// Command is a parsed user message.
type Command struct {
	Intent Intent
	View   View

	// MailUUIDs, Ordinal and This describe which email the user means.
	MailUUIDs  []string
	Ordinal    crossref.Ordinal
	HasOrdinal bool
	This       bool

	// Body is the user-supplied text for custom and modified replies.
	Body string
}

var (
	confirmPattern = regexp.MustCompile(`(?i)\b(confirm|approve)\b|\bsend\s+(it|that|the\s+(reply|draft|response))\b|\bgo\s+ahead\b`)
	cancelPattern  = regexp.MustCompile(`(?i)\b(cancel|discard|scrap|delete|drop)\b.*\b(reply|draft|response)\b|\bnever\s?mind\b`)
	modifyPattern  = regexp.MustCompile(`(?is)\b(?:change|modify|edit|update|rewrite)\s+(?:the\s+|my\s+)?(?:reply|draft|response)\b.*?\bto\s+(?:say|read)\b\s*:?\s*(.+)$`)
	customPattern  = regexp.MustCompile(`(?is)\b(?:reply|respond|answer|write\s+back)\b.*?\b(?:saying|that\s+says|with\s+the\s+(?:message|text))\b\s*:?\s*(.+)$`)
	replyPattern   = regexp.MustCompile(`(?i)\b(reply|respond|answer|draft|write\s+back)\b`)
	checkPattern   = regexp.MustCompile(`(?i)\b(check|show|list|read|fetch|get|any|what)\b.*\b(e-?mails?|mails?|inbox|messages?)\b|\binbox\b|\bnew\s+(e-?mails?|mail|messages?)\b`)
	idsPattern     = regexp.MustCompile(`(?i)\b(ids?|uuids?|identifiers?)\b`)
	fullPattern    = regexp.MustCompile(`(?i)\b(full|entire|whole|complete|bodies|body|content)\b`)
	thisPattern    = regexp.MustCompile(`(?i)\bth(is|at)\s+(e-?mail|mail|message|one)\b`)
	yesPattern     = regexp.MustCompile(`(?i)^\s*(yes|yep|yeah|ok(ay)?|sure)\b`)
)

// ParseCommand reads the intent and its arguments from free text.
// Intents are tried from the most to the least specific.
func ParseCommand(text string) Command {
	var cmd Command
	refText := text

	switch {
	case confirmPattern.MatchString(text):
		cmd.Intent = IntentConfirm
	case cancelPattern.MatchString(text):
		cmd.Intent = IntentCancel
	case modifyPattern.MatchString(text):
		cmd.Intent = IntentModify
		cmd.Body, refText = splitBody(modifyPattern, text)
	case customPattern.MatchString(text):
		cmd.Intent = IntentCustom
		cmd.Body, refText = splitBody(customPattern, text)
	case replyPattern.MatchString(text):
		cmd.Intent = IntentGenerate
	case checkPattern.MatchString(text):
		cmd.Intent = IntentCheck
	}

	switch {
	case idsPattern.MatchString(text):
		cmd.View = ViewIDs
	case fullPattern.MatchString(text):
		cmd.View = ViewFull
	}

	cmd.MailUUIDs = crossref.ExtractMailUUIDs(refText)
	cmd.Ordinal, cmd.HasOrdinal = crossref.ExtractOrdinal(refText)
	cmd.This = thisPattern.MatchString(refText)
	return cmd
}

// HasTarget reports whether the command names an email.
func (c Command) HasTarget() bool {
	return len(c.MailUUIDs) > 0 || c.HasOrdinal || c.This
}

// splitBody returns the captured body and the text before it, so that
// digits or ids inside the body are not read as references.
func splitBody(re *regexp.Regexp, text string) (body, head string) {
	loc := re.FindStringSubmatchIndex(text)
	if loc == nil || loc[2] < 0 {
		return "", text
	}
	body = strings.TrimSpace(text[loc[2]:loc[3]])
	body = strings.Trim(body, `"'`)
	return strings.TrimSpace(body), text[:loc[2]]
}

func isAffirmative(text string) bool {
	return yesPattern.MatchString(text)
}
