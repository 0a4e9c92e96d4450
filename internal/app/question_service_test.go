package app

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"questioner_bot/internal/domain/question"
)

func TestOpenQuestion(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()

	q, err := h.service.Open(ctx, 100, "Иванов Иван", "Как оформить возврат?", 100, 55)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if q.Token == "" || q.Status != question.StatusOpen || q.GroupID != testGroupID {
		t.Fatalf("unexpected question: %+v", q)
	}
	if h.questions.get(q.Token) == nil {
		t.Fatalf("question not stored")
	}
	if len(h.telegram.copied) != 1 || h.telegram.copied[0].TopicID != q.TopicID {
		t.Fatalf("question message not copied into topic: %+v", h.telegram.copied)
	}

	jobs := h.jobIDs(t)
	for _, id := range []string{"warning_" + q.Token, "close_" + q.Token, "attention_reminder_" + q.Token} {
		if _, ok := jobs[id]; !ok {
			t.Fatalf("missing job %s in %v", id, jobs)
		}
	}

	if _, err := h.service.Open(ctx, 100, "Иванов Иван", "ещё", 100, 56); !errors.Is(err, ErrActiveQuestionExists) {
		t.Fatalf("expected ErrActiveQuestionExists, got %v", err)
	}
}

func TestClaimStopsReminderAndStartsInactivity(t *testing.T) {
	t.Parallel()

	h := newHarness(t, openQuestion("Q1", 100, 7))
	ctx := context.Background()
	_ = h.timers.StartAttentionReminder(ctx, "Q1")

	h.clock.Set(t0.Add(2 * time.Minute))
	claimed, err := h.service.HandleDutyMessage(ctx, testGroupID, 7, 200, "Петров Петр", 900)
	if err != nil || !claimed {
		t.Fatalf("expected claim, got %v / %v", claimed, err)
	}
	q := h.questions.get("Q1")
	if q.Status != question.StatusInProgress || q.DutyUserID.Int64 != 200 {
		t.Fatalf("question not claimed: %+v", q)
	}

	jobs := h.jobIDs(t)
	if _, ok := jobs["attention_reminder_Q1"]; ok {
		t.Fatalf("attention reminder still scheduled after claim")
	}
	if !jobs["close_Q1"].Equal(t0.Add(22 * time.Minute)) {
		t.Fatalf("inactivity timer not started on claim: %v", jobs)
	}

	if _, err := h.service.HandleDutyMessage(ctx, testGroupID, 7, 201, "Сидоров", 901); !errors.Is(err, ErrNotQuestionOwner) {
		t.Fatalf("expected ErrNotQuestionOwner for another duty, got %v", err)
	}

	h.clock.Set(t0.Add(8 * time.Minute))
	claimed, err = h.service.HandleDutyMessage(ctx, testGroupID, 7, 200, "Петров Петр", 902)
	if err != nil || claimed {
		t.Fatalf("owner message should relay without claiming, got %v / %v", claimed, err)
	}
	if got := h.jobIDs(t)["close_Q1"]; !got.Equal(t0.Add(28 * time.Minute)) {
		t.Fatalf("owner message did not restart inactivity: %s", got.Sub(t0))
	}
}

func TestEmployeeMessageRestartsInactivity(t *testing.T) {
	t.Parallel()

	h := newHarness(t, claimedQuestion("Q1", 100, 7, 200))
	ctx := context.Background()
	_ = h.timers.StartInactivityTimer(ctx, "Q1")

	h.clock.Set(t0.Add(9 * time.Minute))
	if _, err := h.service.RelayFromEmployee(ctx, 100, 100, 77); err != nil {
		t.Fatalf("RelayFromEmployee failed: %v", err)
	}
	if got := h.jobIDs(t)["warning_Q1"]; !got.Equal(t0.Add(19 * time.Minute)) {
		t.Fatalf("warning not pushed back: %s", got.Sub(t0))
	}

	if _, err := h.service.RelayFromEmployee(ctx, 999, 999, 1); !errors.Is(err, ErrNoActiveQuestion) {
		t.Fatalf("expected ErrNoActiveQuestion, got %v", err)
	}
}

func TestCloseByDutyStopsTimers(t *testing.T) {
	t.Parallel()

	h := newHarness(t, claimedQuestion("Q1", 100, 7, 200))
	ctx := context.Background()
	_ = h.timers.StartInactivityTimer(ctx, "Q1")

	if _, err := h.service.CloseByDuty(ctx, testGroupID, 7, 201, "Чужой"); !errors.Is(err, ErrNotQuestionOwner) {
		t.Fatalf("expected ErrNotQuestionOwner, got %v", err)
	}
	if _, err := h.service.CloseByDuty(ctx, testGroupID, 7, 200, "Петров Петр"); err != nil {
		t.Fatalf("CloseByDuty failed: %v", err)
	}
	if q := h.questions.get("Q1"); q.Status != question.StatusClosed {
		t.Fatalf("question not closed: %+v", q)
	}
	if jobs := h.jobIDs(t); len(jobs) != 0 {
		t.Fatalf("timers left after close: %v", jobs)
	}
	if _, err := h.service.CloseByDuty(ctx, testGroupID, 7, 200, "Петров Петр"); !errors.Is(err, ErrQuestionClosed) {
		t.Fatalf("expected ErrQuestionClosed on second close, got %v", err)
	}

	// The close job would have fired here had it not been cancelled.
	h.advance(t, t0.Add(20*time.Minute))
	if len(h.telegram.closedTopics) != 1 {
		t.Fatalf("topic closed more than once: %v", h.telegram.closedTopics)
	}
}

func TestCloseByAdmin(t *testing.T) {
	t.Parallel()

	h := newHarness(t, claimedQuestion("Q1", 100, 7, 200))
	if _, err := h.service.CloseByDuty(context.Background(), testGroupID, 7, testAdminID, "Админ"); err != nil {
		t.Fatalf("admin close failed: %v", err)
	}
}

func TestCloseByEmployee(t *testing.T) {
	t.Parallel()

	h := newHarness(t, openQuestion("Q1", 100, 7))
	ctx := context.Background()
	_ = h.timers.StartAttentionReminder(ctx, "Q1")
	_ = h.timers.StartInactivityTimer(ctx, "Q1")

	if _, err := h.service.CloseByEmployee(ctx, 100); err != nil {
		t.Fatalf("CloseByEmployee failed: %v", err)
	}
	if jobs := h.jobIDs(t); len(jobs) != 0 {
		t.Fatalf("timers left after close: %v", jobs)
	}
}

func TestReleaseAndReopen(t *testing.T) {
	t.Parallel()

	h := newHarness(t, claimedQuestion("Q1", 100, 7, 200))
	ctx := context.Background()

	h.clock.Set(t0.Add(time.Minute))
	if _, err := h.service.Release(ctx, testGroupID, 7, 200, "Петров Петр"); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	q := h.questions.get("Q1")
	if q.Status != question.StatusOpen || q.IsClaimed() {
		t.Fatalf("question not released: %+v", q)
	}
	jobs := h.jobIDs(t)
	if !jobs["attention_reminder_Q1"].Equal(t0.Add(6 * time.Minute)) {
		t.Fatalf("attention reminder not started on release: %v", jobs)
	}
	if _, ok := jobs["close_Q1"]; !ok {
		t.Fatalf("inactivity timer not kept on release: %v", jobs)
	}
	if _, err := h.service.Release(ctx, testGroupID, 7, 200, "Петров Петр"); !errors.Is(err, ErrQuestionNotClaimed) {
		t.Fatalf("expected ErrQuestionNotClaimed, got %v", err)
	}

	if _, err := h.service.Reopen(ctx, testGroupID, 7, 200); !errors.Is(err, ErrQuestionNotClosed) {
		t.Fatalf("expected ErrQuestionNotClosed, got %v", err)
	}
	_, _ = h.service.HandleDutyMessage(ctx, testGroupID, 7, 201, "Сидоров", 1)
	_, _ = h.service.CloseByDuty(ctx, testGroupID, 7, 201, "Сидоров")

	h.clock.Set(t0.Add(30 * time.Minute))
	if _, err := h.service.Reopen(ctx, testGroupID, 7, 201); err != nil {
		t.Fatalf("Reopen failed: %v", err)
	}
	q = h.questions.get("Q1")
	if q.Status != question.StatusInProgress || q.DutyUserID.Int64 != 201 {
		t.Fatalf("question not back in progress: %+v", q)
	}
	if got := h.jobIDs(t)["close_Q1"]; !got.Equal(t0.Add(50 * time.Minute)) {
		t.Fatalf("inactivity timer not started on reopen: %s", got.Sub(t0))
	}
}

func TestReopenFailsWhenActiveLookupFails(t *testing.T) {
	t.Parallel()

	closed := claimedQuestion("Q1", 100, 7, 200)
	closed.Status = question.StatusClosed
	h := newHarness(t, closed)
	h.questions.activeErr = errors.New("connection reset")

	_, err := h.service.Reopen(context.Background(), testGroupID, 7, 200)
	if err == nil || errors.Is(err, ErrActiveQuestionExists) {
		t.Fatalf("expected the lookup error, got %v", err)
	}
	if q := h.questions.get("Q1"); q.Status != question.StatusClosed {
		t.Fatalf("question reopened despite failed lookup: %+v", q)
	}
	if jobs := h.jobIDs(t); len(jobs) != 0 {
		t.Fatalf("timers started despite failed lookup: %v", jobs)
	}
}

func TestCancelQuestion(t *testing.T) {
	t.Parallel()

	h := newHarness(t, openQuestion("Q1", 100, 7), claimedQuestion("Q2", 101, 8, 200))
	ctx := context.Background()
	_ = h.timers.StartAttentionReminder(ctx, "Q1")
	_ = h.timers.StartInactivityTimer(ctx, "Q1")

	if _, err := h.service.Cancel(ctx, 101); !errors.Is(err, ErrQuestionClaimed) {
		t.Fatalf("expected ErrQuestionClaimed, got %v", err)
	}
	if _, err := h.service.Cancel(ctx, 100); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	if h.questions.get("Q1") != nil {
		t.Fatalf("cancelled question still stored")
	}
	jobs := h.jobIDs(t)
	if len(jobs) != 1 || !jobs["remove_Q1"].Equal(t0.Add(30*time.Second)) {
		t.Fatalf("expected only remove_Q1, got %v", jobs)
	}

	h.advance(t, t0.Add(30*time.Second))
	if got := h.telegram.deletedTopics; len(got) != 1 || got[0] != 7 {
		t.Fatalf("cancelled topic not removed: %v", got)
	}
}

func TestSetActivity(t *testing.T) {
	t.Parallel()

	h := newHarness(t, claimedQuestion("Q1", 100, 7, 200))
	ctx := context.Background()
	_ = h.timers.StartInactivityTimer(ctx, "Q1")

	if _, err := h.service.SetActivity(ctx, testGroupID, 7, false); err != nil {
		t.Fatalf("SetActivity(false) failed: %v", err)
	}
	q := h.questions.get("Q1")
	if !q.ActivityStatusEnabled.Valid || q.ActivityStatusEnabled.Bool {
		t.Fatalf("override not stored: %+v", q.ActivityStatusEnabled)
	}
	jobs := h.jobIDs(t)
	if _, ok := jobs["close_Q1"]; ok {
		t.Fatalf("inactivity timer left after disabling: %v", jobs)
	}
	deletes := 0
	for id := range jobs {
		if len(id) > 7 && id[:7] == "delete_" {
			deletes++
		}
	}
	if deletes != 2 {
		t.Fatalf("expected notices to be scheduled for deletion, got %v", jobs)
	}

	// A restart after disabling must not bring the timers back.
	_ = h.timers.RestartInactivityTimer(ctx, "Q1")
	if _, ok := h.jobIDs(t)["close_Q1"]; ok {
		t.Fatalf("restart ignored disabled override")
	}

	if _, err := h.service.SetActivity(ctx, testGroupID, 7, true); err != nil {
		t.Fatalf("SetActivity(true) failed: %v", err)
	}
	if _, ok := h.jobIDs(t)["close_Q1"]; !ok {
		t.Fatalf("inactivity timer not started after enabling")
	}

	if _, err := h.service.SetActivity(ctx, testGroupID, 99, true); !errors.Is(err, ErrNotQuestionTopic) {
		t.Fatalf("expected ErrNotQuestionTopic, got %v", err)
	}
}

func TestRelayedMessagesArePaired(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()

	q, err := h.service.Open(ctx, 100, "Иванов Иван", "Как оформить возврат?", 100, 55)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if _, err := h.service.HandleDutyMessage(ctx, testGroupID, q.TopicID, 200, "Петров Петр", 900); err != nil {
		t.Fatalf("HandleDutyMessage failed: %v", err)
	}
	if _, err := h.service.RelayFromEmployee(ctx, 100, 100, 56); err != nil {
		t.Fatalf("RelayFromEmployee failed: %v", err)
	}

	pairs := h.pairs.all()
	copied := h.telegram.copied
	if len(pairs) != 3 || len(copied) != 3 {
		t.Fatalf("expected three pairs and copies, got %+v / %+v", pairs, copied)
	}
	first := pairs[0]
	if !first.FromEmployee || first.EmployeeMessageID != 55 || first.TopicMessageID != copied[0].MessageID ||
		first.Token != q.Token || first.TopicID != q.TopicID || !first.CreatedAt.Equal(t0) {
		t.Fatalf("unexpected pair for the question message: %+v", first)
	}
	answer := pairs[1]
	if answer.FromEmployee || answer.TopicMessageID != 900 || answer.EmployeeMessageID != copied[1].MessageID || answer.EmployeeChatID != 100 {
		t.Fatalf("unexpected pair for the duty answer: %+v", answer)
	}
	if follow := pairs[2]; !follow.FromEmployee || follow.EmployeeMessageID != 56 || follow.TopicMessageID != copied[2].MessageID {
		t.Fatalf("unexpected pair for the follow-up: %+v", follow)
	}
}

func TestMirrorEmployeeEdit(t *testing.T) {
	t.Parallel()

	h := newHarness(t, claimedQuestion("Q1", 100, 7, 200))
	ctx := context.Background()
	_ = h.pairs.AddPair(ctx, &question.MessagePair{
		Token: "Q1", EmployeeChatID: 100, EmployeeMessageID: 55,
		GroupID: testGroupID, TopicID: 7, TopicMessageID: 500, FromEmployee: true, CreatedAt: t0,
	})

	h.clock.Set(t0.Add(3 * time.Minute))
	if err := h.service.MirrorEdit(ctx, 100, 55, "Новый <текст>", false); err != nil {
		t.Fatalf("MirrorEdit failed: %v", err)
	}
	edits := h.telegram.editedTexts
	if len(edits) != 1 || edits[0].ChatID != testGroupID || edits[0].MessageID != 500 {
		t.Fatalf("topic copy not edited: %+v", edits)
	}
	if !strings.HasPrefix(edits[0].Text, "Новый &lt;текст&gt;") || !strings.Contains(edits[0].Text, "специалистом в 09:03 01.03.2025") {
		t.Fatalf("unexpected edited text: %q", edits[0].Text)
	}

	notice := h.telegram.sentTo(testGroupID)
	if len(notice) != 1 || notice[0].TopicID != 7 || notice[0].ReplyTo != 500 {
		t.Fatalf("expected a reply notice in the topic, got %+v", notice)
	}
	h.advance(t, t0.Add(3*time.Minute+30*time.Second))
	if got := h.telegram.deleted; len(got) != 1 || got[0] != notice[0].MessageID {
		t.Fatalf("topic notice not deleted after 30s: %v", got)
	}
}

func TestMirrorDutyEdit(t *testing.T) {
	t.Parallel()

	h := newHarness(t, claimedQuestion("Q1", 100, 7, 200))
	ctx := context.Background()
	_ = h.pairs.AddPair(ctx, &question.MessagePair{
		Token: "Q1", EmployeeChatID: 100, EmployeeMessageID: 60,
		GroupID: testGroupID, TopicID: 7, TopicMessageID: 900, CreatedAt: t0,
	})

	if err := h.service.MirrorEdit(ctx, testGroupID, 900, "Исправленная подпись", true); err != nil {
		t.Fatalf("MirrorEdit failed: %v", err)
	}
	edits := h.telegram.editedTexts
	if len(edits) != 1 || edits[0].ChatID != 100 || edits[0].MessageID != 60 ||
		!strings.HasPrefix(edits[0].Text, "caption:Исправленная подпись") || !strings.Contains(edits[0].Text, "дежурным") {
		t.Fatalf("employee copy not edited: %+v", edits)
	}
	if user := h.telegram.sentTo(100); len(user) != 1 || user[0].ReplyTo != 60 {
		t.Fatalf("expected a reply notice to the employee, got %+v", user)
	}
	if jobs := h.jobIDs(t); len(jobs) != 0 {
		t.Fatalf("employee notice should stay, got %v", jobs)
	}

	// The bot's copy is not the author's message.
	if err := h.service.MirrorEdit(ctx, 100, 60, "x", false); !errors.Is(err, ErrMessageNotPaired) {
		t.Fatalf("expected ErrMessageNotPaired for the copy, got %v", err)
	}
	if err := h.service.MirrorEdit(ctx, 100, 12345, "x", false); !errors.Is(err, ErrMessageNotPaired) {
		t.Fatalf("expected ErrMessageNotPaired for an unknown message, got %v", err)
	}
	if len(h.telegram.editedTexts) != 1 {
		t.Fatalf("unexpected extra edits: %+v", h.telegram.editedTexts)
	}
}

func TestMirrorEditRefusedForClosedQuestion(t *testing.T) {
	t.Parallel()

	closed := claimedQuestion("Q1", 100, 7, 200)
	closed.Status = question.StatusClosed
	h := newHarness(t, closed)
	ctx := context.Background()
	_ = h.pairs.AddPair(ctx, &question.MessagePair{
		Token: "Q1", EmployeeChatID: 100, EmployeeMessageID: 55,
		GroupID: testGroupID, TopicID: 7, TopicMessageID: 500, FromEmployee: true, CreatedAt: t0,
	})

	if err := h.service.MirrorEdit(ctx, 100, 55, "поздно", false); !errors.Is(err, ErrQuestionClosed) {
		t.Fatalf("expected ErrQuestionClosed, got %v", err)
	}
	if len(h.telegram.editedTexts) != 0 || h.telegram.sentCount() != 0 {
		t.Fatalf("closed question was touched: %+v", h.telegram.editedTexts)
	}
}

func TestRateByEmployee(t *testing.T) {
	t.Parallel()

	h := newHarness(t, claimedQuestion("Q1", 100, 7, 200))
	ctx := context.Background()

	if _, err := h.service.RateByEmployee(ctx, 999, true); !errors.Is(err, ErrNothingToRate) {
		t.Fatalf("expected ErrNothingToRate, got %v", err)
	}
	if _, err := h.service.RateByEmployee(ctx, 100, true); !errors.Is(err, ErrQuestionNotClosed) {
		t.Fatalf("expected ErrQuestionNotClosed, got %v", err)
	}

	if _, err := h.service.CloseByEmployee(ctx, 100); err != nil {
		t.Fatalf("CloseByEmployee failed: %v", err)
	}
	if topic := h.telegram.sentTo(testGroupID); len(topic) != 1 || !strings.Contains(topic[0].Text, "/rate good") {
		t.Fatalf("close notice in the topic has no rating hint: %+v", topic)
	}

	if _, err := h.service.RateByEmployee(ctx, 100, true); err != nil {
		t.Fatalf("RateByEmployee failed: %v", err)
	}
	if q := h.questions.get("Q1"); !q.QualityEmployee.Valid || !q.QualityEmployee.Bool || q.QualityDuty.Valid {
		t.Fatalf("employee rating not stored: %+v", q)
	}
	if _, err := h.service.RateByEmployee(ctx, 100, false); !errors.Is(err, ErrAlreadyRated) {
		t.Fatalf("expected ErrAlreadyRated, got %v", err)
	}
	if q := h.questions.get("Q1"); !q.QualityEmployee.Bool {
		t.Fatalf("second rating overwrote the first: %+v", q)
	}
}

func TestRateByDuty(t *testing.T) {
	t.Parallel()

	answered := claimedQuestion("Q1", 100, 7, 200)
	answered.Status = question.StatusClosed
	unclaimed := openQuestion("Q2", 101, 8)
	unclaimed.Status = question.StatusClosed
	h := newHarness(t, answered, unclaimed, claimedQuestion("Q3", 102, 9, 200))
	ctx := context.Background()

	if _, err := h.service.RateByDuty(ctx, testGroupID, 7, 201, true); !errors.Is(err, ErrNotQuestionOwner) {
		t.Fatalf("expected ErrNotQuestionOwner for another duty, got %v", err)
	}
	if _, err := h.service.RateByDuty(ctx, testGroupID, 8, 200, true); !errors.Is(err, ErrNotQuestionOwner) {
		t.Fatalf("expected ErrNotQuestionOwner for an unclaimed question, got %v", err)
	}
	if _, err := h.service.RateByDuty(ctx, testGroupID, 9, 200, true); !errors.Is(err, ErrQuestionNotClosed) {
		t.Fatalf("expected ErrQuestionNotClosed, got %v", err)
	}
	if _, err := h.service.RateByDuty(ctx, testGroupID, 99, 200, true); !errors.Is(err, ErrNotQuestionTopic) {
		t.Fatalf("expected ErrNotQuestionTopic, got %v", err)
	}

	if _, err := h.service.RateByDuty(ctx, testGroupID, 7, 200, false); err != nil {
		t.Fatalf("RateByDuty failed: %v", err)
	}
	if q := h.questions.get("Q1"); !q.QualityDuty.Valid || q.QualityDuty.Bool {
		t.Fatalf("duty rating not stored: %+v", q)
	}
	if _, err := h.service.RateByDuty(ctx, testGroupID, 7, 200, true); !errors.Is(err, ErrAlreadyRated) {
		t.Fatalf("expected ErrAlreadyRated, got %v", err)
	}
}
