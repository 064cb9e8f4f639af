package oracle

import (
	"fmt"
	"strings"

	"github.com/SAP-F-2025/exam-session-service/internal/models"
)

const scoreResponseShape = `{"score": <number 0-100>, "comment": "<short rationale>", "rubric_scores": {"<evaluation area>": <number 0-5>}}`

func writeRubric(sb *strings.Builder, rubric []models.RubricItem) {
	if len(rubric) == 0 {
		return
	}
	sb.WriteString("RUBRIC (score each evaluation area from 0 to 5):\n")
	for _, r := range rubric {
		sb.WriteString(fmt.Sprintf("- %s: %s\n", r.EvaluationArea, r.DetailedCriteria))
	}
	sb.WriteString("\n")
}

func writeQuestion(sb *strings.Builder, q models.Question) {
	sb.WriteString("QUESTION: " + q.Prompt + "\n\n")
	if q.Context != "" {
		sb.WriteString("CONTEXT:\n" + q.Context + "\n\n")
	}
}

func writeTranscript(sb *strings.Builder, messages []*models.Message) {
	for _, m := range messages {
		who := "STUDENT"
		if m.Role == models.RoleAssistantMessage {
			who = "ASSISTANT"
		}
		sb.WriteString(who + ": " + m.Content + "\n")
	}
}

func buildScorePrompt(req ScoreRequest) string {
	var sb strings.Builder
	sb.WriteString("You are an exam grader.\n\n")
	writeQuestion(&sb, req.Question)
	writeRubric(&sb, req.Rubric)

	switch req.Stage {
	case models.StageChat:
		sb.WriteString("Evaluate the quality of the student's questions and reasoning in the clarification chat below. ")
		sb.WriteString("Do not grade the final answer.\n\nCHAT:\n")
		writeTranscript(&sb, req.Transcript)
	case models.StageAnswer:
		sb.WriteString("Evaluate the completeness, logic and accuracy of the student's final answer against the rubric.\n\n")
		sb.WriteString("ANSWER:\n" + req.Answer + "\n")
	case models.StageFeedback:
		sb.WriteString("The student received feedback on their answer and wrote a reply. ")
		sb.WriteString("Evaluate how well the reply addresses the feedback.\n\n")
		sb.WriteString("ANSWER:\n" + req.Answer + "\n\n")
		sb.WriteString("FEEDBACK:\n" + req.Feedback + "\n\n")
		sb.WriteString("REPLY:\n" + req.FeedbackReply + "\n")
	}

	sb.WriteString("\nRespond ONLY with a JSON object:\n")
	sb.WriteString(scoreResponseShape)
	sb.WriteString("\n")
	return sb.String()
}

func buildSummaryPrompt(req SummaryRequest) string {
	var sb strings.Builder
	sb.WriteString("You are reviewing a graded exam session")
	if req.ExamTitle != "" {
		sb.WriteString(" for \"" + req.ExamTitle + "\"")
	}
	sb.WriteString(".\n\n")

	for i, q := range req.Questions {
		sb.WriteString(fmt.Sprintf("QUESTION %d: %s\n", i+1, q.Prompt))
		if len(q.Transcript) > 0 {
			sb.WriteString("CHAT:\n")
			writeTranscript(&sb, q.Transcript)
		}
		sb.WriteString("ANSWER:\n" + q.Answer + "\n")
		if q.Score != nil {
			sb.WriteString(fmt.Sprintf("SCORE: %d/100\n", *q.Score))
		}
		if q.Comment != "" {
			sb.WriteString("GRADER COMMENT: " + q.Comment + "\n")
		}
		sb.WriteString("\n")
	}

	sb.WriteString("Summarize the student's overall performance. Key quotes must be copied verbatim from the student's own words.\n")
	sb.WriteString("Respond ONLY with a JSON object:\n")
	sb.WriteString(`{"sentiment": "positive|negative|neutral", "narrative": "<2-4 sentences>", "strengths": ["<at most 3>"], "weaknesses": ["<at most 3>"], "key_quotes": ["<quote 1>", "<quote 2>"]}`)
	sb.WriteString("\n")
	return sb.String()
}

func buildClarifyPrompt(req ClarifyRequest) string {
	var sb strings.Builder
	sb.WriteString("You are an exam assistant. Answer the student's clarification question about the exam question below. ")
	sb.WriteString("Clarify terms and scope, but never reveal or outline an answer.\n\n")
	if req.ExamTitle != "" {
		sb.WriteString("EXAM: " + req.ExamTitle + "\n")
	}
	writeQuestion(&sb, req.Question)
	return sb.String()
}
