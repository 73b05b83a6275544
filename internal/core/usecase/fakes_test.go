package usecase

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/kirillkom/docpipe/internal/core/domain"
	"github.com/kirillkom/docpipe/internal/core/ports"
)

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return testNow }

type memStore struct {
	mu         sync.Mutex
	docs       map[string]domain.Document
	dropWrites int
	updates    int
	updateErr  error
	createErr  error
	deleted    []string
	// honorCtx makes reads and writes fail once the caller's context is done.
	honorCtx bool
}

func newMemStore(docs ...domain.Document) *memStore {
	s := &memStore{docs: map[string]domain.Document{}}
	for _, doc := range docs {
		s.docs[doc.ID] = doc
	}
	return s
}

func (s *memStore) Create(_ context.Context, doc *domain.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return s.createErr
	}
	s.docs[doc.ID] = *doc
	return nil
}

func (s *memStore) GetByID(ctx context.Context, id string) (*domain.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.honorCtx && ctx.Err() != nil {
		return nil, ctx.Err()
	}
	doc, ok := s.docs[id]
	if !ok {
		return nil, domain.ErrDocumentNotFound
	}
	return &doc, nil
}

func (s *memStore) Update(ctx context.Context, id string, patch domain.DocumentPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates++
	if s.honorCtx && ctx.Err() != nil {
		return ctx.Err()
	}
	if s.updateErr != nil {
		return s.updateErr
	}
	doc, ok := s.docs[id]
	if !ok {
		return domain.ErrDocumentNotFound
	}
	if s.dropWrites > 0 {
		s.dropWrites--
		return nil
	}
	patch.Apply(&doc, testNow)
	s.docs[id] = doc
	return nil
}

func (s *memStore) List(_ context.Context, filter domain.DocumentFilter) ([]domain.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Document
	for _, doc := range s.docs {
		if filter.Matches(&doc) {
			out = append(out, doc)
		}
	}
	return out, nil
}

func (s *memStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.docs[id]; !ok {
		return domain.ErrDocumentNotFound
	}
	delete(s.docs, id)
	s.deleted = append(s.deleted, id)
	return nil
}

func (s *memStore) doc(id string) domain.Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.docs[id]
}

type storageFake struct {
	saved     map[string]string
	deleted   []string
	missing   bool
	deleteErr error
}

func (f *storageFake) Save(_ context.Context, key string, data io.Reader) error {
	raw, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	if f.saved == nil {
		f.saved = map[string]string{}
	}
	f.saved[key] = string(raw)
	return nil
}

func (f *storageFake) LocalPath(_ context.Context, key string) (string, func(), error) {
	if f.missing {
		return "", nil, domain.WrapError(domain.ErrFileNotFound, "locate object", errors.New(key))
	}
	return "/uploads/" + key, func() {}, nil
}

func (f *storageFake) Delete(_ context.Context, key string) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deleted = append(f.deleted, key)
	return nil
}

type extractResult struct {
	text string
	err  error
	// block waits for the context to end, like a hung OCR process.
	block bool
}

type extractorFake struct {
	results []extractResult
	calls   int
	paths   []string
}

func (f *extractorFake) Extract(ctx context.Context, path string) (string, error) {
	f.paths = append(f.paths, path)
	i := f.calls
	if i >= len(f.results) {
		i = len(f.results) - 1
	}
	f.calls++
	if f.results[i].block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return f.results[i].text, f.results[i].err
}

type extractorResolverFake struct {
	extractor ports.TextExtractor
}

func (r extractorResolverFake) Resolve(domain.FileKind) (ports.TextExtractor, error) {
	return r.extractor, nil
}

type llmClientFake struct {
	reply    string
	err      error
	requests []domain.GenerateRequest
}

func (f *llmClientFake) Generate(_ context.Context, req domain.GenerateRequest) (string, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

type localLLMFake struct {
	llmClientFake
	pingErr error
	pings   int
}

func (f *localLLMFake) Ping(context.Context) error {
	f.pings++
	return f.pingErr
}

type cloudLLMFake struct {
	llmClientFake
	configuredKey string
}

func (f *cloudLLMFake) CheckCredentials(credential string) error {
	if credential == "" && f.configuredKey == "" {
		return domain.WrapError(domain.ErrConfiguration, "check credentials", errors.New("api key is not configured"))
	}
	return nil
}

type llmResolverFake map[domain.Provider]ports.LLMClient

func (r llmResolverFake) Resolve(provider domain.Provider) (ports.LLMClient, error) {
	client, ok := r[provider]
	if !ok {
		return nil, domain.WrapError(domain.ErrConfiguration, "resolve provider", errors.New(string(provider)))
	}
	return client, nil
}

type promptFake struct{}

func (promptFake) Build(context, question, format, example string) string {
	return "ctx=" + context + "|q=" + question + "|f=" + format + "|e=" + example
}

type reconcilerFake struct {
	calls int
}

func (f *reconcilerFake) Reconcile(reply, _, _ string) string {
	f.calls++
	return "formatted:" + reply
}

type dispatcherFake struct {
	tasks []domain.StageTask
	err   error
}

func (f *dispatcherFake) Enqueue(_ context.Context, task domain.StageTask) error {
	if f.err != nil {
		return f.err
	}
	f.tasks = append(f.tasks, task)
	return nil
}

func (f *dispatcherFake) pop() (domain.StageTask, bool) {
	if len(f.tasks) == 0 {
		return domain.StageTask{}, false
	}
	task := f.tasks[0]
	f.tasks = f.tasks[1:]
	return task, true
}

type metricsFake struct {
	outcomes map[string]int
	retries  int
}

func (f *metricsFake) StageStarted(domain.Stage) {}

func (f *metricsFake) StageFinished(stage domain.Stage, outcome string, _ float64) {
	if f.outcomes == nil {
		f.outcomes = map[string]int{}
	}
	f.outcomes[string(stage)+":"+outcome]++
}

func (f *metricsFake) RetryScheduled(domain.Stage) { f.retries++ }
