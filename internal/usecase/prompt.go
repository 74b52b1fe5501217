package usecase

import (
	"fmt"
	"regexp"
	"strings"

	"ai-nwanne/internal/domain"
)

var hashtags = []string{"#AINwanne", "#NaijaCulture", "#AfricanAI"}

var proverbPattern = regexp.MustCompile(`Proverb:\s*["“](.+?)["”]`)

func welcomeText(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		name = "there"
	}
	return fmt.Sprintf("👋 Welcome %s! I am *AI Nwanne*, your smart assistant. Ask me anything.", name)
}

// replySystemPrompt is the fixed instruction placed before the history. When
// the reply is translated afterwards the model answers in English.
func replySystemPrompt(lang string, translated bool) string {
	target := strings.ToUpper(lang)
	if translated {
		target = "EN (the user writes " + strings.ToUpper(lang) + "; your answer is translated for them)"
	}
	return strings.Join([]string{
		"You are AI Nwanne, a smart, friendly and culturally aware assistant that replies clearly and helpfully.",
		"Make your responses:",
		"- Well-structured and professionally written",
		"- Easy to read, using short paragraphs and line breaks",
		"- Friendly and warm in tone (not robotic)",
		"- Include emojis where helpful (but not excessive)",
		"- Adapt your answer to the user's language: " + target,
	}, "\n")
}

func buildReplyMessages(lang string, translated bool, history []domain.ChatMessage) []domain.ChatMessage {
	messages := make([]domain.ChatMessage, 0, len(history)+1)
	messages = append(messages, domain.ChatMessage{Role: domain.RoleSystem, Content: replySystemPrompt(lang, translated)})
	return append(messages, history...)
}

func writerPrompt(e domain.WisdomEntry, usedTopics []string) string {
	return strings.Join([]string{
		"You are an African culture and heritage writer.",
		"",
		"Task:",
		"1. Rewrite or enrich this proverb for a daily social media post:",
		"Title: " + e.Title,
		"Summary: " + e.Summary,
		"Link: " + e.Link,
		"",
		"2. Produce a short explanation (1-2 sentences).",
		`3. Produce a structured commentary (use dashes "-" for bullets) with cultural insights, usage, or tips.`,
		"4. Avoid repeating proverbs used in the last 100 posts:",
		strings.Join(usedTopics, "\n"),
		"",
		"Constraints:",
		"- Max 80 words for the post.",
		"- Must be authentic, culturally accurate, emotionally engaging.",
		"- Include exactly 3 hashtags (must include #AINwanne).",
		"",
		"Output Format:",
		"---",
		`Proverb: "..."`,
		"Explanation: ...",
		"Commentary:",
		"- ...",
		"- ...",
		"- ...",
		"---",
	}, "\n")
}

// extractProverb returns the quoted proverb of a generated post, if any.
func extractProverb(content string) (string, bool) {
	m := proverbPattern.FindStringSubmatch(content)
	if m == nil {
		return "", false
	}
	p := strings.TrimSpace(m[1])
	return p, p != ""
}

// formatPost rebuilds a generated post from its Proverb, Explanation and
// dash commentary lines and appends the fixed hashtags. Fences and the
// model's own hashtags are dropped.
func formatPost(content string) string {
	var proverb, explanation string
	var commentary []string
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "Proverb:"):
			if proverb == "" {
				proverb = line
			}
		case strings.HasPrefix(line, "Explanation:"):
			if explanation == "" {
				explanation = line
			}
		case strings.HasPrefix(line, "-") && strings.Trim(line, "-") != "":
			commentary = append(commentary, line)
		}
	}
	parts := []string{proverb, explanation, ""}
	if len(commentary) > 0 {
		parts = append(parts, commentary...)
		parts = append(parts, "")
	}
	parts = append(parts, strings.Join(hashtags, " "))
	return strings.Join(parts, "\n")
}
