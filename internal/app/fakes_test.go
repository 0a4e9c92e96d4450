package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"questioner_bot/internal/domain/question"
	"questioner_bot/internal/domain/settings"
	idb "questioner_bot/internal/infra/database"
	"questioner_bot/internal/infra/jobstore"
	"questioner_bot/internal/infra/logger"
	"questioner_bot/internal/infra/scheduler"

	"gopkg.in/telebot.v3"
)

var t0 = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

const testGroupID int64 = -1001234567890

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type fakeQuestionRepo struct {
	mu        sync.Mutex
	questions map[string]*question.Question
	activeErr error
}

func newFakeQuestionRepo(qs ...*question.Question) *fakeQuestionRepo {
	r := &fakeQuestionRepo{questions: make(map[string]*question.Question)}
	for _, q := range qs {
		r.put(q)
	}
	return r
}

func (r *fakeQuestionRepo) put(q *question.Question) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := *q
	r.questions[q.Token] = &c
}

func (r *fakeQuestionRepo) get(token string) *question.Question {
	r.mu.Lock()
	defer r.mu.Unlock()
	q, ok := r.questions[token]
	if !ok {
		return nil
	}
	c := *q
	return &c
}

func (r *fakeQuestionRepo) Create(_ context.Context, q *question.Question) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.questions[q.Token]; ok {
		return idb.ErrDuplicateToken
	}
	c := *q
	r.questions[q.Token] = &c
	return nil
}

func (r *fakeQuestionRepo) GetByToken(_ context.Context, token string) (*question.Question, error) {
	if q := r.get(token); q != nil {
		return q, nil
	}
	return nil, idb.ErrQuestionNotFound
}

func (r *fakeQuestionRepo) GetByTopic(_ context.Context, groupID int64, topicID int) (*question.Question, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, q := range r.questions {
		if q.GroupID == groupID && q.TopicID == topicID {
			c := *q
			return &c, nil
		}
	}
	return nil, idb.ErrQuestionNotFound
}

func (r *fakeQuestionRepo) GetActiveByEmployee(_ context.Context, employeeUserID int64) (*question.Question, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.activeErr != nil {
		return nil, r.activeErr
	}
	for _, q := range r.questions {
		if q.EmployeeUserID == employeeUserID && q.IsActive() {
			c := *q
			return &c, nil
		}
	}
	return nil, idb.ErrQuestionNotFound
}

func (r *fakeQuestionRepo) GetLatestByEmployee(_ context.Context, employeeUserID int64) (*question.Question, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var latest *question.Question
	for _, q := range r.questions {
		if q.EmployeeUserID == employeeUserID && (latest == nil || q.StartTime.After(latest.StartTime)) {
			latest = q
		}
	}
	if latest == nil {
		return nil, idb.ErrQuestionNotFound
	}
	c := *latest
	return &c, nil
}

func (r *fakeQuestionRepo) ListActiveByGroup(_ context.Context, groupID int64) ([]*question.Question, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*question.Question
	for _, q := range r.questions {
		if q.GroupID == groupID && q.IsActive() {
			c := *q
			out = append(out, &c)
		}
	}
	return out, nil
}

func (r *fakeQuestionRepo) update(token string, cond func(*question.Question) bool, apply func(*question.Question)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	q, ok := r.questions[token]
	if !ok || !cond(q) {
		return false
	}
	apply(q)
	return true
}

func (r *fakeQuestionRepo) Claim(_ context.Context, token string, dutyUserID int64, dutyName string) (bool, error) {
	return r.update(token, (*question.Question).AwaitsDuty, func(q *question.Question) {
		q.DutyUserID = sql.NullInt64{Int64: dutyUserID, Valid: true}
		q.DutyName = sql.NullString{String: dutyName, Valid: true}
		q.Status = question.StatusInProgress
	}), nil
}

func (r *fakeQuestionRepo) Release(_ context.Context, token string) (bool, error) {
	return r.update(token, func(q *question.Question) bool { return q.Status == question.StatusInProgress }, func(q *question.Question) {
		q.DutyUserID = sql.NullInt64{}
		q.DutyName = sql.NullString{}
		q.Status = question.StatusOpen
	}), nil
}

func (r *fakeQuestionRepo) Close(_ context.Context, token string, endTime time.Time) (bool, error) {
	return r.update(token, (*question.Question).IsActive, func(q *question.Question) {
		q.Status = question.StatusClosed
		q.EndTime = sql.NullTime{Time: endTime, Valid: true}
	}), nil
}

func (r *fakeQuestionRepo) Reopen(_ context.Context, token string) (bool, error) {
	return r.update(token, func(q *question.Question) bool { return q.Status == question.StatusClosed }, func(q *question.Question) {
		q.Status = question.StatusInProgress
		if !q.DutyUserID.Valid {
			q.Status = question.StatusOpen
		}
		q.EndTime = sql.NullTime{}
	}), nil
}

func (r *fakeQuestionRepo) SetActivityStatus(_ context.Context, token string, enabled sql.NullBool) error {
	if !r.update(token, func(*question.Question) bool { return true }, func(q *question.Question) { q.ActivityStatusEnabled = enabled }) {
		return idb.ErrQuestionNotFound
	}
	return nil
}

func (r *fakeQuestionRepo) SetQuality(_ context.Context, token string, rater question.Rater, good bool) (bool, error) {
	rating := sql.NullBool{Bool: good, Valid: true}
	return r.update(token, func(q *question.Question) bool { return q.Status == question.StatusClosed && !q.Rated(rater) }, func(q *question.Question) {
		if rater == question.RaterDuty {
			q.QualityDuty = rating
		} else {
			q.QualityEmployee = rating
		}
	}), nil
}

func (r *fakeQuestionRepo) ListStartedBefore(_ context.Context, cutoff time.Time) ([]*question.Question, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*question.Question
	for _, q := range r.questions {
		if q.StartTime.Before(cutoff) {
			c := *q
			out = append(out, &c)
		}
	}
	return out, nil
}

func (r *fakeQuestionRepo) Delete(_ context.Context, token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.questions[token]; !ok {
		return idb.ErrQuestionNotFound
	}
	delete(r.questions, token)
	return nil
}

type fakePairRepo struct {
	mu    sync.Mutex
	pairs []question.MessagePair
}

func (r *fakePairRepo) AddPair(_ context.Context, p *question.MessagePair) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p.ID = int64(len(r.pairs) + 1)
	r.pairs = append(r.pairs, *p)
	return nil
}

func (r *fakePairRepo) FindPair(_ context.Context, chatID int64, messageID int) (*question.MessagePair, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.pairs) - 1; i >= 0; i-- {
		p := r.pairs[i]
		if (p.EmployeeChatID == chatID && p.EmployeeMessageID == messageID) || (p.GroupID == chatID && p.TopicMessageID == messageID) {
			return &p, nil
		}
	}
	return nil, idb.ErrPairNotFound
}

func (r *fakePairRepo) DeleteCreatedBefore(_ context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.pairs[:0]
	for _, p := range r.pairs {
		if !p.CreatedAt.Before(cutoff) {
			kept = append(kept, p)
		}
	}
	n := int64(len(r.pairs) - len(kept))
	r.pairs = kept
	return n, nil
}

func (r *fakePairRepo) all() []question.MessagePair {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]question.MessagePair(nil), r.pairs...)
}

type fakeSettingsRepo struct {
	mu       sync.Mutex
	settings map[int64]*settings.GroupSettings
}

func newFakeSettingsRepo(gs ...*settings.GroupSettings) *fakeSettingsRepo {
	r := &fakeSettingsRepo{settings: make(map[int64]*settings.GroupSettings)}
	for _, s := range gs {
		c := *s
		r.settings[s.GroupID] = &c
	}
	return r
}

func (r *fakeSettingsRepo) GetByGroupID(_ context.Context, groupID int64) (*settings.GroupSettings, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.settings[groupID]
	if !ok {
		return nil, idb.ErrSettingsNotFound
	}
	c := *s
	return &c, nil
}

func (r *fakeSettingsRepo) Upsert(_ context.Context, s *settings.GroupSettings) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := *s
	r.settings[s.GroupID] = &c
	return nil
}

type sentMessage struct {
	ChatID    int64
	TopicID   int
	MessageID int
	Text      string
	ReplyTo   int
}

type fakeTelegram struct {
	mu            sync.Mutex
	nextID        int
	sent          []sentMessage
	copied        []sentMessage
	deleted       []int
	closedTopics  []int
	deletedTopics []int
	edits         []string
	editedTexts   []sentMessage
	failSend      bool
	failDelete    map[int]bool
}

func (f *fakeTelegram) id() int {
	f.nextID++
	return f.nextID
}

func (f *fakeTelegram) SendMessage(chatID int64, topicID int, text string, opts *telebot.SendOptions) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSend {
		return 0, errors.New("telegram: send failed")
	}
	m := sentMessage{ChatID: chatID, TopicID: topicID, Text: text, MessageID: f.id()}
	if opts != nil && opts.ReplyTo != nil {
		m.ReplyTo = opts.ReplyTo.ID
	}
	f.sent = append(f.sent, m)
	return m.MessageID, nil
}

func (f *fakeTelegram) CopyMessage(toChatID int64, toTopicID int, _ int64, _ int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m := sentMessage{ChatID: toChatID, TopicID: toTopicID, MessageID: f.id()}
	f.copied = append(f.copied, m)
	return m.MessageID, nil
}

func (f *fakeTelegram) EditMessageText(chatID int64, messageID int, text string, _ *telebot.SendOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.editedTexts = append(f.editedTexts, sentMessage{ChatID: chatID, MessageID: messageID, Text: text})
	return nil
}

func (f *fakeTelegram) EditMessageCaption(chatID int64, messageID int, caption string, _ *telebot.SendOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.editedTexts = append(f.editedTexts, sentMessage{ChatID: chatID, MessageID: messageID, Text: "caption:" + caption})
	return nil
}

func (f *fakeTelegram) DeleteMessage(_ int64, messageID int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failDelete[messageID] {
		return fmt.Errorf("telegram: message %d can't be deleted", messageID)
	}
	f.deleted = append(f.deleted, messageID)
	return nil
}

func (f *fakeTelegram) CreateTopic(_ int64, _ string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return 1000 + f.id(), nil
}

func (f *fakeTelegram) EditTopic(_ int64, topicID int, name, icon string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edits = append(f.edits, fmt.Sprintf("%d:%s:%s", topicID, name, icon))
	return nil
}

func (f *fakeTelegram) CloseTopic(_ int64, topicID int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closedTopics = append(f.closedTopics, topicID)
	return nil
}

func (f *fakeTelegram) ReopenTopic(int64, int) error { return nil }

func (f *fakeTelegram) DeleteTopic(_ int64, topicID int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletedTopics = append(f.deletedTopics, topicID)
	return nil
}

func (f *fakeTelegram) sentTo(chatID int64) []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []sentMessage
	for _, m := range f.sent {
		if m.ChatID == chatID {
			out = append(out, m)
		}
	}
	return out
}

func (f *fakeTelegram) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

// harness wires the real scheduler over a memory store with a controllable clock.
type harness struct {
	clock     *testClock
	store     *jobstore.MemoryStore
	scheduler *scheduler.Scheduler
	questions *fakeQuestionRepo
	pairs     *fakePairRepo
	settings  *fakeSettingsRepo
	telegram  *fakeTelegram
	timers    *TimerManager
	cleanup   *CleanupService
	service   *QuestionService
	settingsS *SettingsService
}

var testDefaults = settings.Defaults{ActivityStatus: true, ActivityWarnMinutes: 10, ActivityCloseMinutes: 20}

const testAdminID int64 = 42

func newHarness(t *testing.T, qs ...*question.Question) *harness {
	t.Helper()
	h := &harness{
		clock:     &testClock{now: t0},
		store:     jobstore.NewMemoryStore(),
		questions: newFakeQuestionRepo(qs...),
		pairs:     &fakePairRepo{},
		settings:  newFakeSettingsRepo(),
		telegram:  &fakeTelegram{},
	}
	h.scheduler = scheduler.NewScheduler(h.store, logger.Discard(), scheduler.Options{
		MisfireGrace: 5 * time.Minute,
		JobTimeout:   time.Second,
		Now:          h.clock.Now,
	})
	log := logger.Discard()
	h.timers = NewTimerManager(h.questions, h.settings, testDefaults, h.telegram, h.scheduler, log, 5*time.Minute, time.UTC)
	h.cleanup = NewCleanupService(h.questions, h.pairs, h.telegram, h.scheduler, log, 0, 0, 60)
	h.settingsS = NewSettingsService(h.settings, testDefaults, []int64{testAdminID}, h.timers)
	h.service = NewQuestionService(h.questions, h.pairs, h.settingsS, h.timers, h.cleanup, h.telegram, log, testGroupID)
	return h
}

// advance moves the clock to at and runs one sweep to completion.
func (h *harness) advance(t *testing.T, at time.Time) {
	t.Helper()
	h.clock.Set(at)
	if err := h.scheduler.RunPending(context.Background()); err != nil {
		t.Fatalf("RunPending failed: %v", err)
	}
	h.scheduler.Wait()
}

func (h *harness) jobIDs(t *testing.T) map[string]time.Time {
	t.Helper()
	jobs, err := h.store.List(context.Background())
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	out := make(map[string]time.Time, len(jobs))
	for _, j := range jobs {
		out[j.ID] = j.NextRunAt
	}
	return out
}

func openQuestion(token string, employeeID int64, topicID int) *question.Question {
	return &question.Question{
		Token:          token,
		Status:         question.StatusOpen,
		GroupID:        testGroupID,
		TopicID:        topicID,
		EmployeeUserID: employeeID,
		EmployeeName:   "Иванов Иван",
		QuestionText:   "Как оформить возврат?",
		StartTime:      t0,
	}
}

func claimedQuestion(token string, employeeID int64, topicID int, dutyID int64) *question.Question {
	q := openQuestion(token, employeeID, topicID)
	q.Status = question.StatusInProgress
	q.DutyUserID = sql.NullInt64{Int64: dutyID, Valid: true}
	q.DutyName = sql.NullString{String: "Петров Петр", Valid: true}
	return q
}
