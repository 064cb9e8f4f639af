package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/SAP-F-2025/exam-session-service/internal/events"
	"github.com/SAP-F-2025/exam-session-service/internal/models"
	"github.com/SAP-F-2025/exam-session-service/internal/validator"
)

func TestInitSession_DeviceBinding(t *testing.T) {
	env := newTestEnv(t)
	env.createExam(t, examFixture{duration: 60})

	onA := env.initSession(t, "EXAM01", studentID, strPtr("fp-a"))
	onB := env.initSession(t, "EXAM01", studentID, strPtr("fp-b"))
	if onA.Session.ID == onB.Session.ID {
		t.Fatalf("devices A and B share session %d", onA.Session.ID)
	}

	again := env.initSession(t, "EXAM01", studentID, strPtr("fp-a"))
	if again.Session.ID != onA.Session.ID {
		t.Errorf("device A resumed session %d, want %d", again.Session.ID, onA.Session.ID)
	}
	if again.State != models.SessionActive {
		t.Errorf("State = %s, want active", again.State)
	}
}

func TestInitSession_LegacySessionClaimedOnce(t *testing.T) {
	env := newTestEnv(t)
	env.createExam(t, examFixture{duration: 60})
	ctx := context.Background()

	legacy := env.initSession(t, "EXAM01", studentID, nil)
	if legacy.Session.DeviceFingerprint != nil {
		t.Fatalf("legacy session has fingerprint %q", *legacy.Session.DeviceFingerprint)
	}

	claimed := env.initSession(t, "EXAM01", studentID, strPtr("fp-c"))
	if claimed.Session.ID != legacy.Session.ID {
		t.Fatalf("device C got session %d, want legacy %d", claimed.Session.ID, legacy.Session.ID)
	}
	stored, err := env.repo.Session().GetByID(ctx, nil, legacy.Session.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if stored.DeviceFingerprint == nil || *stored.DeviceFingerprint != "fp-c" {
		t.Errorf("stored fingerprint = %v, want fp-c", stored.DeviceFingerprint)
	}

	other := env.initSession(t, "EXAM01", studentID, strPtr("fp-d"))
	if other.Session.ID == legacy.Session.ID {
		t.Errorf("device D reclaimed the session bound to C")
	}

	back := env.initSession(t, "EXAM01", studentID, strPtr("fp-c"))
	if back.Session.ID != legacy.Session.ID {
		t.Errorf("device C resumed %d, want %d", back.Session.ID, legacy.Session.ID)
	}
}

func TestInitSession_NullFingerprintAlwaysCreates(t *testing.T) {
	env := newTestEnv(t)
	env.createExam(t, examFixture{duration: 60})

	first := env.initSession(t, "EXAM01", studentID, nil)
	second := env.initSession(t, "EXAM01", studentID, strPtr("   "))
	if first.Session.ID == second.Session.ID {
		t.Errorf("fingerprint-less visits share session %d", first.Session.ID)
	}
}

func TestInitSession_CodeIsCaseInsensitive(t *testing.T) {
	env := newTestEnv(t)
	exam := env.createExam(t, examFixture{})

	view := env.initSession(t, "exam01", studentID, strPtr("fp"))
	if view.Exam.ID != exam.ID {
		t.Errorf("Exam.ID = %d, want %d", view.Exam.ID, exam.ID)
	}

	_, err := env.sessions.InitSession(context.Background(), &InitSessionRequest{ExamCode: "NOPE99"}, studentID)
	if !errors.Is(err, ErrExamNotFound) {
		t.Errorf("unknown code error = %v, want ErrExamNotFound", err)
	}

	_, err = env.sessions.InitSession(context.Background(), &InitSessionRequest{}, studentID)
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		t.Errorf("empty code error = %v, want ValidationErrors", err)
	}
}

func TestInitSession_ExpiryAutoSubmitsThenBlocksRetake(t *testing.T) {
	env := newTestEnv(t)
	env.createExam(t, examFixture{duration: 30})

	first := env.initSession(t, "EXAM01", studentID, strPtr("fp-a"))
	if got := intValue(first.RemainingSeconds); got != "1800" {
		t.Errorf("RemainingSeconds = %s, want 1800", got)
	}

	env.clock.Advance(31 * time.Minute)

	expired := env.initSession(t, "EXAM01", studentID, strPtr("fp-a"))
	if expired.Session.ID != first.Session.ID {
		t.Fatalf("expired visit got session %d, want %d", expired.Session.ID, first.Session.ID)
	}
	if !expired.AutoSubmitted || !expired.TimeExpired {
		t.Errorf("AutoSubmitted = %v, TimeExpired = %v, want both true", expired.AutoSubmitted, expired.TimeExpired)
	}
	if got := intValue(expired.RemainingSeconds); got != "0" {
		t.Errorf("RemainingSeconds = %s, want 0", got)
	}
	if expired.State != models.SessionExpiredAutoSubmitted {
		t.Errorf("State = %s, want %s", expired.State, models.SessionExpiredAutoSubmitted)
	}

	published := env.publisher.EventsOn(events.TopicSessionSubmitted)
	if len(published) != 1 {
		t.Fatalf("submitted events = %d, want 1", len(published))
	}
	if data := published[0].Data.(events.SessionSubmittedEvent); data.Reason != models.SubmitReasonTimeOut {
		t.Errorf("event reason = %s, want %s", data.Reason, models.SubmitReasonTimeOut)
	}

	blocked := env.initSession(t, "EXAM01", studentID, strPtr("fp-a"))
	if !blocked.IsRetakeBlocked || blocked.State != models.SessionRetakeBlocked {
		t.Errorf("retake view = %+v, want retake blocked", blocked)
	}
	if blocked.Session.ID != first.Session.ID {
		t.Errorf("retake view shows session %d, want %d", blocked.Session.ID, first.Session.ID)
	}

	// a different device is blocked too
	fromB := env.initSession(t, "EXAM01", studentID, strPtr("fp-b"))
	if !fromB.IsRetakeBlocked {
		t.Errorf("device B was not retake blocked")
	}
}

func TestInitSession_UnlimitedDurationNeverExpires(t *testing.T) {
	env := newTestEnv(t)
	env.createExam(t, examFixture{duration: 0})

	first := env.initSession(t, "EXAM01", studentID, strPtr("fp"))
	env.clock.Advance(48 * time.Hour)
	later := env.initSession(t, "EXAM01", studentID, strPtr("fp"))

	if later.RemainingSeconds != nil {
		t.Errorf("RemainingSeconds = %d, want nil", *later.RemainingSeconds)
	}
	if later.AutoSubmitted || later.Session.ID != first.Session.ID {
		t.Errorf("unlimited session was auto-submitted or replaced: %+v", later)
	}
	if n := len(env.publisher.EventsOn(events.TopicSessionSubmitted)); n != 0 {
		t.Errorf("submitted events = %d, want 0", n)
	}
}

func TestSaveDraft_History(t *testing.T) {
	env := newTestEnv(t)
	env.createExam(t, examFixture{duration: 60})
	ctx := context.Background()
	view := env.initSession(t, "EXAM01", studentID, strPtr("fp"))

	var saved *models.Submission
	for _, text := range []string{"abc", "abcd", "abcd"} {
		env.clock.Advance(time.Minute)
		var err error
		saved, err = env.sessions.SaveDraft(ctx, view.Session.ID, 0, &SaveDraftRequest{Answer: text}, studentID)
		if err != nil {
			t.Fatalf("SaveDraft(%q) error = %v", text, err)
		}
	}

	if saved.EditCount != 1 || len(saved.AnswerHistory) != 1 {
		t.Errorf("edit_count = %d, history = %d, want 1 and 1", saved.EditCount, len(saved.AnswerHistory))
	}

	rows, err := env.repo.Submission().ListBySession(ctx, nil, view.Session.ID)
	if err != nil {
		t.Fatalf("ListBySession() error = %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("stored rows = %d, want 1", len(rows))
	}
	if rows[0].Answer != "abcd" || rows[0].AnswerHistory[0].PriorText != "abc" {
		t.Errorf("stored submission = %q with history %+v", rows[0].Answer, rows[0].AnswerHistory)
	}
}

func TestSaveDraft_Rejections(t *testing.T) {
	env := newTestEnv(t)
	env.createExam(t, examFixture{duration: 30})
	ctx := context.Background()
	view := env.initSession(t, "EXAM01", studentID, strPtr("fp"))
	id := view.Session.ID

	_, err := env.sessions.SaveDraft(ctx, id, 5, &SaveDraftRequest{Answer: "x"}, studentID)
	if !errors.Is(err, ErrInvalidQuestionIndex) {
		t.Errorf("bad index error = %v, want ErrInvalidQuestionIndex", err)
	}

	_, err = env.sessions.SaveDraft(ctx, id, 0, &SaveDraftRequest{Answer: "x"}, "student-2")
	var perr *PermissionError
	if !errors.As(err, &perr) {
		t.Errorf("foreign student error = %v, want PermissionError", err)
	}

	_, err = env.sessions.SaveDraft(ctx, 999, 0, &SaveDraftRequest{Answer: "x"}, studentID)
	if !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("missing session error = %v, want ErrSessionNotFound", err)
	}

	env.clock.Advance(45 * time.Minute)
	_, err = env.sessions.SaveDraft(ctx, id, 0, &SaveDraftRequest{Answer: "late"}, studentID)
	if !errors.Is(err, ErrSessionTimeExpired) {
		t.Fatalf("late draft error = %v, want ErrSessionTimeExpired", err)
	}

	stored, err := env.repo.Session().GetByID(ctx, nil, id)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if stored.State() != models.SessionExpiredAutoSubmitted {
		t.Errorf("State() = %s, want %s", stored.State(), models.SessionExpiredAutoSubmitted)
	}

	_, err = env.sessions.SaveDraft(ctx, id, 0, &SaveDraftRequest{Answer: "later"}, studentID)
	if !errors.Is(err, ErrSessionAlreadySubmitted) {
		t.Errorf("draft after auto-submit error = %v, want ErrSessionAlreadySubmitted", err)
	}
}

func TestSubmit_StoresAnswersAndTranscript(t *testing.T) {
	env := newTestEnv(t)
	env.createExam(t, examFixture{duration: 60})
	ctx := context.Background()
	view := env.initSession(t, "EXAM01", studentID, strPtr("fp"))

	if _, err := env.sessions.SaveDraft(ctx, view.Session.ID, 1, &SaveDraftRequest{Answer: "draft"}, studentID); err != nil {
		t.Fatalf("SaveDraft() error = %v", err)
	}

	result := env.submit(t, view.Session.ID, studentID, &SubmitSessionRequest{
		Answers: []validator.SubmittedAnswerRequest{
			{QuestionIndex: 1, Answer: "final"},
			{QuestionIndex: 0, Answer: "first"},
		},
		Transcript: []validator.TranscriptMessageRequest{
			{QuestionIndex: 0, Role: models.RoleUserMessage, Content: "What counts as harm?"},
			{QuestionIndex: 0, Role: models.RoleAssistantMessage, Content: "Physical or moral harm."},
		},
	})

	if result.Session.State() != models.SessionSubmitted {
		t.Errorf("State() = %s, want submitted", result.Session.State())
	}
	if len(result.Submissions) != 2 || result.Submissions[0].QuestionIndex != 0 || result.Submissions[1].Answer != "final" {
		t.Errorf("Submissions = %+v", result.Submissions)
	}
	if result.Submissions[1].EditCount != 1 {
		t.Errorf("question 1 edit_count = %d, want 1", result.Submissions[1].EditCount)
	}

	messages, err := env.repo.Message().ListBySession(ctx, nil, view.Session.ID)
	if err != nil {
		t.Fatalf("ListBySession() error = %v", err)
	}
	if len(messages) != 2 || messages[0].Role != models.RoleUserMessage {
		t.Errorf("messages = %+v", messages)
	}

	if n := len(env.publisher.EventsOn(events.TopicSessionSubmitted)); n != 1 {
		t.Errorf("submitted events = %d, want 1", n)
	}
}

func TestSubmit_Twice(t *testing.T) {
	env := newTestEnv(t)
	env.createExam(t, examFixture{duration: 60})
	view := env.initSession(t, "EXAM01", studentID, strPtr("fp"))

	env.submit(t, view.Session.ID, studentID, nil)

	_, err := env.sessions.Submit(context.Background(), view.Session.ID, &SubmitSessionRequest{}, studentID)
	if !errors.Is(err, ErrSessionAlreadySubmitted) {
		t.Errorf("second Submit() error = %v, want ErrSessionAlreadySubmitted", err)
	}
}

func TestSubmit_AfterTimeLimitKeepsLastDraft(t *testing.T) {
	env := newTestEnv(t)
	env.createExam(t, examFixture{duration: 30})
	ctx := context.Background()
	view := env.initSession(t, "EXAM01", studentID, strPtr("fp"))

	if _, err := env.sessions.SaveDraft(ctx, view.Session.ID, 0, &SaveDraftRequest{Answer: "in time"}, studentID); err != nil {
		t.Fatalf("SaveDraft() error = %v", err)
	}

	env.clock.Advance(5 * time.Hour)
	_, err := env.sessions.Submit(ctx, view.Session.ID, &SubmitSessionRequest{
		Answers: []validator.SubmittedAnswerRequest{{QuestionIndex: 0, Answer: "rewritten 5h late"}},
		Transcript: []validator.TranscriptMessageRequest{
			{QuestionIndex: 0, Role: models.RoleUserMessage, Content: "late question"},
		},
	}, studentID)
	if !errors.Is(err, ErrSessionTimeExpired) {
		t.Fatalf("late Submit() error = %v, want ErrSessionTimeExpired", err)
	}

	stored, err := env.repo.Session().GetByID(ctx, nil, view.Session.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if stored.State() != models.SessionExpiredAutoSubmitted {
		t.Errorf("State() after late submit = %s, want %s", stored.State(), models.SessionExpiredAutoSubmitted)
	}

	rows, err := env.repo.Submission().ListBySession(ctx, nil, view.Session.ID)
	if err != nil {
		t.Fatalf("ListBySession() error = %v", err)
	}
	if len(rows) != 1 || rows[0].Answer != "in time" {
		t.Errorf("stored answers = %+v, want the draft saved in time", rows)
	}
	messages, err := env.repo.Message().ListBySession(ctx, nil, view.Session.ID)
	if err != nil {
		t.Fatalf("Message ListBySession() error = %v", err)
	}
	if len(messages) != 0 {
		t.Errorf("late transcript stored %d messages, want 0", len(messages))
	}

	if n := len(env.publisher.EventsOn(events.TopicSessionSubmitted)); n != 1 {
		t.Errorf("submitted events = %d, want 1", n)
	}
	if _, err := env.sessions.Submit(ctx, view.Session.ID, &SubmitSessionRequest{}, studentID); !errors.Is(err, ErrSessionAlreadySubmitted) {
		t.Errorf("Submit() after auto-submit error = %v, want ErrSessionAlreadySubmitted", err)
	}
}

func TestSubmit_TranscriptReplacesOnlyItsQuestions(t *testing.T) {
	env := newTestEnv(t)
	env.createExam(t, examFixture{duration: 60, maxClarifications: 3})
	ctx := context.Background()
	view := env.initSession(t, "EXAM01", studentID, strPtr("fp"))

	if _, err := env.sessions.AskClarification(ctx, view.Session.ID, &ClarificationRequest{QuestionIndex: 0, Question: "Which case?"}, studentID); err != nil {
		t.Fatalf("AskClarification() error = %v", err)
	}

	env.submit(t, view.Session.ID, studentID, &SubmitSessionRequest{
		Transcript: []validator.TranscriptMessageRequest{
			{QuestionIndex: 1, Role: models.RoleUserMessage, Content: "Is a list fine?"},
			{QuestionIndex: 1, Role: models.RoleAssistantMessage, Content: "Yes."},
		},
	})

	messages, err := env.repo.Message().ListBySession(ctx, nil, view.Session.ID)
	if err != nil {
		t.Fatalf("ListBySession() error = %v", err)
	}
	perQuestion := map[int]int{}
	for _, m := range messages {
		perQuestion[m.QuestionIndex]++
	}
	if perQuestion[0] != 2 || perQuestion[1] != 2 {
		t.Errorf("messages per question = %v, want 2 for q0 and 2 for q1", perQuestion)
	}
}

func TestSubmit_InvalidTranscriptIndex(t *testing.T) {
	env := newTestEnv(t)
	env.createExam(t, examFixture{duration: 60})
	view := env.initSession(t, "EXAM01", studentID, strPtr("fp"))

	_, err := env.sessions.Submit(context.Background(), view.Session.ID, &SubmitSessionRequest{
		Transcript: []validator.TranscriptMessageRequest{{QuestionIndex: 7, Role: models.RoleUserMessage, Content: "hi"}},
	}, studentID)
	if !errors.Is(err, ErrInvalidQuestionIndex) {
		t.Errorf("Submit() error = %v, want ErrInvalidQuestionIndex", err)
	}
}

func TestHeartbeat(t *testing.T) {
	env := newTestEnv(t)
	env.createExam(t, examFixture{duration: 30})
	ctx := context.Background()
	view := env.initSession(t, "EXAM01", studentID, strPtr("fp"))

	env.clock.Advance(10 * time.Minute)
	result, err := env.sessions.Heartbeat(ctx, view.Session.ID, studentID)
	if err != nil {
		t.Fatalf("Heartbeat() error = %v", err)
	}
	if got := intValue(result.RemainingSeconds); got != "1200" {
		t.Errorf("RemainingSeconds = %s, want 1200", got)
	}

	env.clock.Advance(30 * time.Minute)
	if _, err := env.sessions.Heartbeat(ctx, view.Session.ID, studentID); !errors.Is(err, ErrSessionTimeExpired) {
		t.Errorf("late Heartbeat() error = %v, want ErrSessionTimeExpired", err)
	}
}

func TestAskClarification_Limit(t *testing.T) {
	env := newTestEnv(t)
	env.createExam(t, examFixture{duration: 60, maxClarifications: 1})
	ctx := context.Background()
	view := env.initSession(t, "EXAM01", studentID, strPtr("fp"))

	result, err := env.sessions.AskClarification(ctx, view.Session.ID, &ClarificationRequest{QuestionIndex: 0, Question: "Which case?"}, studentID)
	if err != nil {
		t.Fatalf("AskClarification() error = %v", err)
	}
	if result.UsedClarifications != 1 || intValue(result.RemainingAllowed) != "0" {
		t.Errorf("used = %d, remaining = %s", result.UsedClarifications, intValue(result.RemainingAllowed))
	}
	if result.Answer.Content != env.assistant.reply || result.Answer.Role != models.RoleAssistantMessage {
		t.Errorf("Answer = %+v", result.Answer)
	}

	_, err = env.sessions.AskClarification(ctx, view.Session.ID, &ClarificationRequest{QuestionIndex: 0, Question: "And now?"}, studentID)
	var rule *BusinessRuleError
	if !errors.As(err, &rule) || rule.Rule != "max_clarifications" {
		t.Fatalf("second AskClarification() error = %v, want max_clarifications rule", err)
	}
	if env.assistant.calls != 1 {
		t.Errorf("assistant calls = %d, want 1", env.assistant.calls)
	}

	messages, err := env.repo.Message().ListBySession(ctx, nil, view.Session.ID)
	if err != nil {
		t.Fatalf("ListBySession() error = %v", err)
	}
	if len(messages) != 2 {
		t.Errorf("stored messages = %d, want 2", len(messages))
	}
}

func TestAskClarification_AssistantFailureStoresNothing(t *testing.T) {
	env := newTestEnv(t)
	env.createExam(t, examFixture{duration: 60, maxClarifications: 3})
	ctx := context.Background()
	view := env.initSession(t, "EXAM01", studentID, strPtr("fp"))

	env.assistant.err = errors.New("upstream unavailable")
	_, err := env.sessions.AskClarification(ctx, view.Session.ID, &ClarificationRequest{QuestionIndex: 1, Question: "?"}, studentID)
	if !errors.Is(err, ErrOracleFailure) {
		t.Fatalf("AskClarification() error = %v, want ErrOracleFailure", err)
	}

	messages, err := env.repo.Message().ListBySession(ctx, nil, view.Session.ID)
	if err != nil {
		t.Fatalf("ListBySession() error = %v", err)
	}
	stored, err := env.repo.Session().GetByID(ctx, nil, view.Session.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if len(messages) != 0 || stored.UsedClarifications != 0 {
		t.Errorf("messages = %d, used = %d, want nothing stored", len(messages), stored.UsedClarifications)
	}
}
